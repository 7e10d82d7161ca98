package merge

import (
	"encoding/json"

	"github.com/kaptinlin/jsonrepair"
)

// extractBalanced scans text for the first opening brace or bracket and
// returns the balanced substring, tracking nesting depth while honoring
// quoted-string and escape state. ok is false when no balanced object or
// array is present.
func extractBalanced(text string) (string, bool) {
	start := -1
	var open, close byte
	for i := 0; i < len(text); i++ {
		if text[i] == '{' {
			start, open, close = i, '{', '}'
			break
		}
		if text[i] == '[' {
			start, open, close = i, '[', ']'
			break
		}
	}
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
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
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return text[start : i+1], true
			}
		}
	}
	return "", false
}

// parseStructured turns raw argument/result text into a structured map.
// The balanced substring is parsed as strict JSON first; malformed input
// gets one repair attempt before degrading to an empty structured value.
// This function never fails: degradation is the contract of the merge path.
func parseStructured(text string) map[string]any {
	candidate, ok := extractBalanced(text)
	if !ok {
		return map[string]any{}
	}

	if out, err := unmarshalObject(candidate); err == nil {
		return out
	}

	repaired, err := jsonrepair.JSONRepair(candidate)
	if err != nil {
		return map[string]any{}
	}
	if out, err := unmarshalObject(repaired); err == nil {
		return out
	}
	return map[string]any{}
}

func unmarshalObject(text string) (map[string]any, error) {
	var out map[string]any
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		// Arrays degrade to a single-key map so callers always get an object.
		var arr []any
		if arrErr := json.Unmarshal([]byte(text), &arr); arrErr == nil {
			return map[string]any{"items": arr}, nil
		}
		return nil, err
	}
	if out == nil {
		out = map[string]any{}
	}
	return out, nil
}
