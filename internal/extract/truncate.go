package extract

import (
	"encoding/json"
	"strings"
)

// RepairTruncated closes JSON that was cut off mid-structure by the
// output token limit. It first tries the cheapest repair (parse up to
// the last "}"), then appends the minimal closing sequence derived from
// a string-aware scan, and finally cuts back to earlier value
// boundaries until a parseable document emerges. It never returns
// invalid JSON: if no variant parses, the error is *TruncationError.
func RepairTruncated(partial string) (string, error) {
	text := StripFences(strings.TrimSpace(partial))
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return "", &TruncationError{Preview: Preview(partial)}
	}
	text = text[start:]

	// Cheapest repair: generation may have stopped right after a
	// complete document, with only trailing junk lost.
	if idx := strings.LastIndexByte(text, '}'); idx >= 0 {
		candidate := text[:idx+1]
		if json.Valid([]byte(candidate)) {
			return candidate, nil
		}
	}

	cur := text
	for i := 0; i < 16; i++ {
		if closed, ok := closeDelimiters(cur); ok && json.Valid([]byte(closed)) {
			return closed, nil
		}
		next := cutLastSegment(cur)
		if next == cur || len(next) < 1 {
			break
		}
		cur = next
	}

	return "", &TruncationError{Preview: Preview(partial)}
}

// closeDelimiters appends the closing sequence for every unmatched
// delimiter, maintaining a stack of open delimiters so mixed {} and []
// nesting is closed in LIFO order. Returns false if the text closes a
// delimiter that was never opened.
func closeDelimiters(s string) (string, bool) {
	var stack []byte
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if escaped {
			escaped = false
			continue
		}
		if ch == '\\' && inString {
			escaped = true
			continue
		}
		if ch == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}
		switch ch {
		case '{':
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if len(stack) == 0 || stack[len(stack)-1] != ch {
				return "", false
			}
			stack = stack[:len(stack)-1]
		}
	}

	out := s
	if escaped {
		// dangling backslash from a severed escape sequence
		out = out[:len(out)-1]
	}
	if inString {
		out += `"`
	}
	out = strings.TrimRight(out, " \t\r\n")
	if strings.HasSuffix(out, ",") {
		out = strings.TrimRight(out[:len(out)-1], " \t\r\n")
	}
	if strings.HasSuffix(out, ":") {
		out += " null"
	}
	for i := len(stack) - 1; i >= 0; i-- {
		out += string(stack[i])
	}
	return out, true
}

// cutLastSegment drops the trailing partial value by cutting at the
// last comma or opening delimiter outside string literals.
func cutLastSegment(s string) string {
	boundary := -1
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if escaped {
			escaped = false
			continue
		}
		if ch == '\\' && inString {
			escaped = true
			continue
		}
		if ch == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}
		switch ch {
		case ',':
			boundary = i // cut the comma too
		case '{', '[':
			boundary = i + 1 // keep the opener
		}
	}
	if boundary < 0 || boundary >= len(s) {
		return s[:max(len(s)-1, 0)]
	}
	return s[:boundary]
}
