package digest

import (
	"fmt"
	"regexp"
	"strings"
)

// codeBlockRe strips markdown code fences from LLM output.
var codeBlockRe = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?(.*?)\\n?```")

// extractJSON finds a JSON object or array in raw LLM text, tolerating
// markdown code fences and leading/trailing prose.
func extractJSON(raw string) (string, error) {
	if m := codeBlockRe.FindStringSubmatch(raw); len(m) > 1 {
		raw = m[1]
	}
	raw = strings.TrimSpace(raw)

	if strings.HasPrefix(raw, "{") || strings.HasPrefix(raw, "[") {
		return raw, nil
	}

	openObj, closeObj := strings.Index(raw, "{"), strings.LastIndex(raw, "}")
	openArr, closeArr := strings.Index(raw, "["), strings.LastIndex(raw, "]")

	switch {
	case openObj >= 0 && closeObj > openObj && (openArr < 0 || openObj < openArr):
		return raw[openObj : closeObj+1], nil
	case openArr >= 0 && closeArr > openArr:
		return raw[openArr : closeArr+1], nil
	default:
		return "", fmt.Errorf("digest: no JSON found in LLM response")
	}
}
