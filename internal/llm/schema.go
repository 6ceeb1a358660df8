package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

// SchemaError reports model output that does not match the stage's expected
// schema. Callers treat it as the most conservative outcome for the stage,
// never as best-effort data.
type SchemaError struct {
	Field  string
	Reason string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("llm: schema violation on %q: %s", e.Field, e.Reason)
}

// DecodeStrict parses model output into dst. Models occasionally wrap JSON
// in a markdown fence even in JSON mode; that wrapper is stripped, but any
// other deviation is a SchemaError.
func DecodeStrict(raw string, dst any) error {
	raw = StripFence(raw)
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		// Unknown fields are tolerated on a second pass; models pad
		// responses and rejecting extra keys would fail good answers.
		if err2 := json.Unmarshal([]byte(raw), dst); err2 != nil {
			return &SchemaError{Field: "body", Reason: err2.Error()}
		}
	}
	return nil
}

// StripFence removes a surrounding ```json ... ``` fence if present.
func StripFence(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// ClampConfidence forces a confidence value into [0,1].
func ClampConfidence(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
