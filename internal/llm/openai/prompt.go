package openai

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"placelink-backend/internal/llm"
	"placelink-backend/internal/shared/telemetry"
)

// Message represents an OpenAI chat message.
type Message struct {
	Role    string
	Content string
}

const (
	systemPrompt        = "You are a place extraction engine. Respond with JSON only. Output must match the schema exactly."
	systemPromptFixJSON = "You are a JSON repair tool. Return only valid JSON that matches the schema exactly."
	maxPromptTextRunes  = 6000
)

// BuildPrompt creates the chat messages for a place extraction request.
func BuildPrompt(input llm.PlaceInput, model string) []Message {
	_, developer := resolvePromptTemplate(input.PromptVersion, input.Platform, model)
	return []Message{
		{Role: "system", Content: systemPrompt},
		{Role: "developer", Content: developer},
		{Role: "user", Content: buildUserPrompt(input)},
	}
}

func buildFixPrompt(input llm.PlaceInput, model string, raw []byte) []Message {
	_, developer := resolvePromptTemplate(input.PromptVersion, input.Platform, model)
	return []Message{
		{Role: "system", Content: systemPromptFixJSON},
		{Role: "developer", Content: developer},
		{Role: "user", Content: fmt.Sprintf("Fix this JSON to match the schema exactly. Output JSON only:\n%s", string(raw))},
	}
}

func resolvePromptTemplate(promptVersion, platform, model string) (string, string) {
	version := strings.TrimSpace(promptVersion)
	if version == "" {
		version = llm.DefaultPromptVersion
	}
	template, ok := llm.PromptTemplate(version)
	if !ok {
		telemetry.Warn("llm.prompt_version_unknown", map[string]any{"prompt_version": version})
		version = llm.DefaultPromptVersion
		template, _ = llm.PromptTemplate(version)
	}
	replacer := strings.NewReplacer(
		"{{PROMPT_VERSION}}", version,
		"{{MODEL}}", model,
		"{{PLATFORM}}", platform,
	)
	return version, replacer.Replace(template)
}

func buildUserPrompt(input llm.PlaceInput) string {
	var b strings.Builder
	writeField := func(label, value string) {
		value = strings.TrimSpace(value)
		if value == "" {
			value = "N/A"
		}
		fmt.Fprintf(&b, "%s:\n%s\n\n", label, value)
	}
	writeField("Source URL", input.SourceURL)
	writeField("Title", input.Title)
	writeField("Author", input.Author)
	writeField("Description", input.Description)
	writeField("Body", clip(input.Text, maxPromptTextRunes))
	return strings.TrimSpace(b.String())
}

func clip(s string, limit int) string {
	n := 0
	for i := range s {
		if n == limit {
			return s[:i]
		}
		n++
	}
	return s
}

func promptStringFromMessages(messages []Message) string {
	var b strings.Builder
	for i, m := range messages {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(m.Role)
		b.WriteString(": ")
		b.WriteString(m.Content)
	}
	return b.String()
}

func hashPromptString(prompt string) string {
	sum := sha256.Sum256([]byte(prompt))
	return hex.EncodeToString(sum[:])
}
