package pipeline

import "encoding/json"

// FirstJSONArray returns the first balanced JSON array embedded in s.
// Models frequently wrap JSON output in prose ("Here is the list: [...]"),
// so the stage executors scan the raw response for a span instead of
// unmarshalling it directly. The second return value reports whether a
// valid array was found.
func FirstJSONArray(s string) (string, bool) {
	return firstJSONSpan(s, '[', ']')
}

// FirstJSONObject returns the first balanced JSON object embedded in s.
func FirstJSONObject(s string) (string, bool) {
	return firstJSONSpan(s, '{', '}')
}

func firstJSONSpan(s string, open, closing byte) (string, bool) {
	for start := 0; start < len(s); start++ {
		if s[start] != open {
			continue
		}
		end, ok := matchSpan(s, start, open, closing)
		if !ok {
			continue
		}
		span := s[start : end+1]
		if json.Valid([]byte(span)) {
			return span, true
		}
		// Balanced but invalid JSON, e.g. a prose aside in brackets
		// before the real payload. Try the next candidate.
	}
	return "", false
}

// matchSpan finds the index of the bracket closing the one at start,
// skipping brackets that appear inside JSON string literals.
func matchSpan(s string, start int, open, closing byte) (int, bool) {
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
		case open:
			depth++
		case closing:
			depth--
			if depth == 0 {
				return i, true
			}
		}
	}
	return 0, false
}
