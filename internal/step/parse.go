package step

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

var fencedBlock = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")

// ExtractJSON parses a model response into a structured payload. Models
// wrap JSON in prose, code fences or emit slightly broken syntax, so
// parsing is layered: direct parse, fenced block, outermost braces,
// syntax repair, and finally a raw-text wrapper so no response is ever
// lost.
func ExtractJSON(text string) map[string]any {
	trimmed := strings.TrimSpace(text)

	if parsed, ok := parseObject(trimmed); ok {
		return parsed
	}

	if match := fencedBlock.FindStringSubmatch(trimmed); match != nil {
		if parsed, ok := parseObject(match[1]); ok {
			return parsed
		}
	}

	if start, end := strings.Index(trimmed, "{"), strings.LastIndex(trimmed, "}"); start >= 0 && end > start {
		if parsed, ok := parseObject(trimmed[start : end+1]); ok {
			return parsed
		}
	}

	if repaired, err := jsonrepair.JSONRepair(trimmed); err == nil {
		if parsed, ok := parseObject(repaired); ok {
			return parsed
		}
	}

	return map[string]any{"raw_text": text}
}

func parseObject(text string) (map[string]any, bool) {
	var parsed map[string]any
	if err := json.Unmarshal([]byte(text), &parsed); err != nil || parsed == nil {
		return nil, false
	}
	return parsed, true
}
