package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// ExtractJSON recovers a JSON object from free model text: markdown fences
// are stripped, the first balanced object is located, and as a last resort
// the text is handed to jsonrepair.
func ExtractJSON(text string) (json.RawMessage, error) {
	text = stripFences(text)
	if text == "" {
		return nil, fmt.Errorf("no content in model response")
	}
	if json.Valid([]byte(text)) {
		return json.RawMessage(text), nil
	}
	if obj := firstObject(text); obj != "" && json.Valid([]byte(obj)) {
		return json.RawMessage(obj), nil
	}

	candidate := text
	if i := strings.Index(candidate, "{"); i >= 0 {
		candidate = candidate[i:]
	}
	repaired, err := jsonrepair.JSONRepair(candidate)
	if err != nil {
		return nil, fmt.Errorf("no JSON found in model response: %w", err)
	}
	if !json.Valid([]byte(repaired)) {
		return nil, fmt.Errorf("no JSON found in model response")
	}
	return json.RawMessage(repaired), nil
}

// stripFences removes a surrounding ```json ... ``` block if present.
func stripFences(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		lines := strings.SplitN(text, "\n", 2)
		if len(lines) > 1 {
			text = lines[1]
		}
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
		text = strings.TrimSpace(text)
	}
	return text
}

// firstObject returns the first brace-balanced {...} span, honouring strings.
func firstObject(s string) string {
	start := strings.Index(s, "{")
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}
