package engine

import (
	"encoding/json"
	"strings"
)

// ParseStage records which rung of the parse ladder produced an object.
type ParseStage int

const (
	StageStrict ParseStage = iota
	StageExtracted
	StageFallback
)

func (s ParseStage) String() string {
	switch s {
	case StageStrict:
		return "strict"
	case StageExtracted:
		return "extracted"
	default:
		return "fallback"
	}
}

// ParseObject reads a JSON object out of model output. It tries a strict
// parse, then each balanced {...} span in the text in order, and finally
// returns fallback.
func ParseObject(text string, fallback map[string]any) (map[string]any, ParseStage) {
	clean := stripFences(text)
	var obj map[string]any
	if err := json.Unmarshal([]byte(clean), &obj); err == nil && obj != nil {
		return obj, StageStrict
	}
	for from := 0; from < len(clean); {
		start, end, ok := nextObjectSpan(clean, from)
		if !ok {
			break
		}
		obj = nil
		if err := json.Unmarshal([]byte(clean[start:end]), &obj); err == nil && obj != nil {
			return obj, StageExtracted
		}
		// Spans nested inside a broken one are still candidates.
		from = start + 1
	}
	return fallback, StageFallback
}

func stripFences(text string) string {
	clean := strings.TrimSpace(text)
	clean = strings.TrimPrefix(clean, "```json")
	clean = strings.TrimPrefix(clean, "```")
	clean = strings.TrimSuffix(clean, "```")
	return strings.TrimSpace(clean)
}

// nextObjectSpan returns the bounds of the first brace-balanced span that
// starts at or after from, ignoring braces inside JSON strings.
func nextObjectSpan(s string, from int) (start, end int, ok bool) {
	for {
		next := strings.IndexByte(s[from:], '{')
		if next < 0 {
			return 0, 0, false
		}
		start = from + next
		if end, ok := balancedEnd(s, start); ok {
			return start, end, true
		}
		from = start + 1
	}
}

func balancedEnd(s string, start int) (int, bool) {
	depth := 0
	inString, escaped := false, false
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
				return i + 1, true
			}
		}
	}
	return 0, false
}
