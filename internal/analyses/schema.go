package analyses

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"placelink-backend/internal/model"
)

type placesOutput struct {
	Places     []placeOutput `json:"places"`
	Confidence *float64      `json:"confidence"`
}

type placeOutput struct {
	Name        string             `json:"name"`
	Address     *string            `json:"address"`
	Category    *string            `json:"category"`
	Tags        []string           `json:"tags"`
	Confidence  *float64           `json:"confidence"`
	Coordinates *coordinatesOutput `json:"coordinates"`
}

type coordinatesOutput struct {
	Lat *float64 `json:"lat"`
	Lng *float64 `json:"lng"`
}

// SchemaError lists every violation found in a model response.
type SchemaError struct {
	Issues []string
}

func (e *SchemaError) Error() string {
	return "schema validation failed: " + strings.Join(e.Issues, "; ")
}

// parsePlaces decodes and validates raw model output. Candidates keep the model's order.
func parsePlaces(raw json.RawMessage) ([]model.PlaceCandidate, float64, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, 0, &SchemaError{Issues: []string{"empty response"}}
	}
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &probe); err != nil {
		return nil, 0, &SchemaError{Issues: []string{"response is not a JSON object"}}
	}
	if _, ok := probe["places"]; !ok {
		return nil, 0, &SchemaError{Issues: []string{"places: required"}}
	}

	var out placesOutput
	if err := json.Unmarshal(trimmed, &out); err != nil {
		return nil, 0, &SchemaError{Issues: []string{describeDecodeError(err)}}
	}
	if issues := out.validate(); len(issues) > 0 {
		return nil, 0, &SchemaError{Issues: issues}
	}

	candidates := make([]model.PlaceCandidate, 0, len(out.Places))
	best := 0.0
	for _, p := range out.Places {
		c := p.candidate()
		if c.Confidence > best {
			best = c.Confidence
		}
		candidates = append(candidates, c)
	}
	overall := best
	if out.Confidence != nil {
		overall = *out.Confidence
	}
	return candidates, overall, nil
}

func (o placesOutput) validate() []string {
	var issues []string
	if o.Confidence != nil && !inUnitRange(*o.Confidence) {
		issues = append(issues, fmt.Sprintf("confidence: %v outside [0,1]", *o.Confidence))
	}
	for i, p := range o.Places {
		prefix := fmt.Sprintf("places[%d]", i)
		if strings.TrimSpace(p.Name) == "" {
			issues = append(issues, prefix+".name: required")
		}
		switch {
		case p.Confidence == nil:
			issues = append(issues, prefix+".confidence: required")
		case !inUnitRange(*p.Confidence):
			issues = append(issues, fmt.Sprintf("%s.confidence: %v outside [0,1]", prefix, *p.Confidence))
		}
		if p.Coordinates != nil {
			issues = append(issues, p.Coordinates.validate(prefix+".coordinates")...)
		}
	}
	return issues
}

func (c coordinatesOutput) validate(prefix string) []string {
	var issues []string
	if c.Lat == nil || c.Lng == nil {
		return append(issues, prefix+": lat and lng are both required")
	}
	if *c.Lat < -90 || *c.Lat > 90 {
		issues = append(issues, fmt.Sprintf("%s.lat: %v outside [-90,90]", prefix, *c.Lat))
	}
	if *c.Lng < -180 || *c.Lng > 180 {
		issues = append(issues, fmt.Sprintf("%s.lng: %v outside [-180,180]", prefix, *c.Lng))
	}
	return issues
}

func (p placeOutput) candidate() model.PlaceCandidate {
	c := model.PlaceCandidate{
		Name:       strings.TrimSpace(p.Name),
		Address:    optionalString(p.Address),
		Category:   optionalString(p.Category),
		Tags:       normalizeTags(p.Tags),
		Confidence: *p.Confidence,
	}
	if p.Coordinates != nil {
		c.Coordinates = &model.Coordinates{Lat: *p.Coordinates.Lat, Lng: *p.Coordinates.Lng}
	}
	return c
}

func inUnitRange(v float64) bool {
	return v >= 0 && v <= 1
}

func optionalString(v *string) *string {
	if v == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*v)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func normalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		key := strings.ToLower(tag)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, tag)
	}
	return out
}

func describeDecodeError(err error) string {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		field := typeErr.Field
		if field == "" {
			field = "response"
		}
		return fmt.Sprintf("%s: expected %s, got %s", field, typeErr.Type, typeErr.Value)
	}
	return err.Error()
}
