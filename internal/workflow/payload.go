package workflow

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ExtractJSONBlock returns the contents of the first fenced ```json
// block in text. When no fenced block is present the trimmed input is
// returned as-is, so callers can feed raw-JSON responses straight
// through.
func ExtractJSONBlock(text string) string {
	const fence = "```json"
	lower := strings.ToLower(text)
	start := strings.Index(lower, fence)
	if start < 0 {
		// Some models emit a bare fence without the language tag.
		start = strings.Index(text, "```")
		if start < 0 {
			return strings.TrimSpace(text)
		}
		rest := text[start+3:]
		if end := strings.Index(rest, "```"); end >= 0 {
			return strings.TrimSpace(rest[:end])
		}
		return strings.TrimSpace(rest)
	}
	rest := text[start+len(fence):]
	if end := strings.Index(rest, "```"); end >= 0 {
		return strings.TrimSpace(rest[:end])
	}
	// Unterminated fence: take everything after it.
	return strings.TrimSpace(rest)
}

// DecodePayload parses a model response into v. It tries the first
// fenced JSON block, then the whole string. A parse failure is
// returned so the caller can substitute its documented default record;
// a failure never aborts the run.
func DecodePayload(text string, v any) error {
	block := ExtractJSONBlock(text)
	if block == "" {
		return fmt.Errorf("workflow: empty model response")
	}
	if err := json.Unmarshal([]byte(block), v); err == nil {
		return nil
	}
	trimmed := strings.TrimSpace(text)
	if err := json.Unmarshal([]byte(trimmed), v); err != nil {
		return fmt.Errorf("workflow: response is not valid JSON: %w", err)
	}
	return nil
}
