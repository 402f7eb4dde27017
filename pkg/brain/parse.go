package brain

import "strings"

// extractJSON pulls the first JSON object out of model output, tolerating
// code fences and surrounding prose.
func extractJSON(raw string) []byte {
	return extractDelimited(raw, '{', '}')
}

// extractJSONArray does the same for a top-level array.
func extractJSONArray(raw string) []byte {
	return extractDelimited(raw, '[', ']')
}

func extractDelimited(raw string, open, close byte) []byte {
	s := stripFences(raw)

	start := strings.IndexByte(s, open)
	if start < 0 {
		return []byte(s)
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if escaped {
			escaped = false
			continue
		}
		switch {
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case !inString && c == open:
			depth++
		case !inString && c == close:
			depth--
			if depth == 0 {
				return []byte(s[start : i+1])
			}
		}
	}
	return []byte(s[start:])
}

func stripFences(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
