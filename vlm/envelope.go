package vlm

import (
	"encoding/json"
	"strings"
)

// StripJSONFence removes a surrounding Markdown code fence from model output.
// Handles ```json ... ``` and bare ``` ... ``` blocks; text without a fence
// is returned trimmed but otherwise unchanged.
func StripJSONFence(s string) string {
	t := strings.TrimSpace(s)
	if !strings.HasPrefix(t, "```") {
		return t
	}

	t = strings.TrimPrefix(t, "```")
	// drop the language tag on the opening fence line
	if idx := strings.IndexByte(t, '\n'); idx >= 0 {
		first := strings.TrimSpace(t[:idx])
		if first == "" || isFenceTag(first) {
			t = t[idx+1:]
		}
	}
	if idx := strings.LastIndex(t, "```"); idx >= 0 {
		t = t[:idx]
	}
	return strings.TrimSpace(t)
}

func isFenceTag(s string) bool {
	for _, r := range s {
		if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}

// ParseDocument attempts a best-effort parse of model output into a JSON
// object. Fences are stripped first. A nil map with ok=false means the text
// is not a JSON object; that is not an error for callers, the raw text then
// serves as the caption.
func ParseDocument(raw string) (map[string]any, bool) {
	t := StripJSONFence(raw)
	if t == "" || t[0] != '{' {
		return nil, false
	}
	var doc map[string]any
	if err := json.Unmarshal([]byte(t), &doc); err != nil {
		return nil, false
	}
	return doc, true
}

// CaptionFromDocument extracts the human-readable caption from a parsed
// document, preferring description over analysis.
func CaptionFromDocument(doc map[string]any, raw string) string {
	if doc != nil {
		if d, ok := doc["description"].(string); ok && d != "" {
			return d
		}
		if a, ok := doc["analysis"].(string); ok && a != "" {
			return a
		}
	}
	return strings.TrimSpace(raw)
}
