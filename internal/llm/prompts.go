package llm

import _ "embed"

// DefaultPromptVersion is used when a request does not name one.
const DefaultPromptVersion = "places_v1"

var (
	//go:embed prompts/places_v1.txt
	promptPlacesV1 string
	//go:embed prompts/places_v2.txt
	promptPlacesV2 string
)

// PromptTemplate returns the prompt template text and whether the version was recognized.
func PromptTemplate(version string) (string, bool) {
	switch version {
	case "places_v2":
		return promptPlacesV2, true
	case "places_v1":
		return promptPlacesV1, true
	default:
		return promptPlacesV1, false
	}
}
