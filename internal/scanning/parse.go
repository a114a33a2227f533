package scanning

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// parseRecognitionJSON parses the JSON an LLM returns for transcribePrompt
func parseRecognitionJSON(text string) (*Recognition, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")

	// Find the JSON object boundaries - look for first { and last }
	startIdx := strings.Index(text, "{")
	if startIdx == -1 {
		return nil, fmt.Errorf("no JSON object found in response")
	}
	endIdx := strings.LastIndex(text, "}")
	if endIdx < startIdx {
		return nil, fmt.Errorf("invalid JSON object in response")
	}
	text = text[startIdx : endIdx+1]

	var raw struct {
		Text       *string  `json:"text"`
		Confidence *float64 `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return nil, fmt.Errorf("unmarshaling json: %w", err)
	}
	if raw.Text == nil {
		return nil, fmt.Errorf("response has no text field")
	}

	rec := &Recognition{Text: strings.TrimSpace(*raw.Text)}
	if raw.Confidence != nil && !math.IsNaN(*raw.Confidence) {
		rec.Confidence = math.Max(0, math.Min(100, *raw.Confidence))
	}
	return rec, nil
}
