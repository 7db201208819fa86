// Package extract turns free-text model output into validated
// structured data. Model responses routinely arrive wrapped in markdown
// fences or prose, with smart quotes, trailing commas, single-quoted
// keys, raw newlines inside string values, or cut off mid-structure by
// the output token limit. This package locates the JSON payload,
// repairs the common malformations, and enforces a required-field set.
package extract

import (
	"encoding/json"
	"regexp"
	"sort"
	"strings"
)

// Result is a parsed, field-validated model output plus provenance.
type Result struct {
	Fields   map[string]any `json:"fields"`
	Repaired bool           `json:"repaired"`
	CacheHit bool           `json:"cacheHit"`
	Attempts int            `json:"attempts"`
}

// Extract parses raw model output and verifies every name in required
// is present as a top-level key. On failure it returns
// *MalformedOutputError or *IncompleteOutputError.
func Extract(raw string, required []string) (*Result, error) {
	text := normalizeQuotes(StripFences(strings.TrimSpace(raw)))

	candidate, ok := ScanObject(text)
	if !ok {
		candidate = strings.TrimSpace(text)
	}

	fields, repaired, err := parseWithRepair(candidate)
	if err != nil {
		return nil, err
	}

	var missing []string
	for _, name := range required {
		if _, ok := fields[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, &IncompleteOutputError{Missing: missing}
	}

	return &Result{Fields: fields, Repaired: repaired}, nil
}

// StripFences removes leading/trailing markdown code-fence markers and
// their language hints.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = s[3:]
	// drop the language hint on the opening fence line
	if idx := strings.IndexByte(s, '\n'); idx >= 0 && idx < 20 {
		s = s[idx+1:]
	}
	if end := strings.LastIndex(s, "```"); end >= 0 {
		s = s[:end]
	}
	return strings.TrimSpace(s)
}

var quoteNormalizer = strings.NewReplacer(
	"“", `"`, "”", `"`, "„", `"`,
	"‘", `'`, "’", `'`, "‚", `'`,
)

func normalizeQuotes(s string) string {
	return quoteNormalizer.Replace(s)
}

// ScanObject locates the first balanced {...} span in text. Depth is
// tracked only outside string literals, so a literal "}" inside a
// quoted value cannot close the span early.
func ScanObject(input string) (string, bool) {
	start := -1
	depth := 0
	inString := false
	escaped := false
	for i := 0; i < len(input); i++ {
		ch := input[i]
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
		if ch == '{' {
			if depth == 0 {
				start = i
			}
			depth++
			continue
		}
		if ch == '}' {
			if depth == 0 {
				continue
			}
			depth--
			if depth == 0 && start >= 0 {
				return input[start : i+1], true
			}
		}
	}
	return "", false
}

func parseWithRepair(candidate string) (map[string]any, bool, error) {
	var fields map[string]any
	if err := json.Unmarshal([]byte(candidate), &fields); err == nil {
		return fields, false, nil
	}

	repaired := Repair(candidate)
	if err := json.Unmarshal([]byte(repaired), &fields); err == nil {
		return fields, true, nil
	}

	return nil, false, &MalformedOutputError{
		RawPreview:      Preview(candidate),
		RepairedPreview: Preview(repaired),
	}
}

var (
	trailingCommaRe   = regexp.MustCompile(`,(\s*[}\]])`)
	singleQuoteKeyRe  = regexp.MustCompile(`'([A-Za-z0-9_\- ]+)'(\s*:)`)
	singleQuoteValRe  = regexp.MustCompile(`(:\s*)'([^']*)'`)
	badCodepointRe    = regexp.MustCompile("[\uFEFF\u200B\u200C\u200D\u2060]")
	nonBreakingSpace  = " "
)

// Repair applies heuristics for the malformations models emit most:
// trailing commas before closers, single-quoted keys and string values,
// raw control characters inside quoted strings, and a fixed set of
// invisible non-ASCII code points that break parsing.
func Repair(candidate string) string {
	s := trailingCommaRe.ReplaceAllString(candidate, "$1")
	s = singleQuoteKeyRe.ReplaceAllString(s, `"$1"$2`)
	s = singleQuoteValRe.ReplaceAllStringFunc(s, func(m string) string {
		sub := singleQuoteValRe.FindStringSubmatch(m)
		return sub[1] + `"` + strings.ReplaceAll(sub[2], `"`, `\"`) + `"`
	})
	s = escapeControlInStrings(s)
	s = badCodepointRe.ReplaceAllString(s, "")
	s = strings.ReplaceAll(s, nonBreakingSpace, " ")
	return s
}

// escapeControlInStrings escapes bare newline, carriage-return and tab
// characters appearing inside quoted string values.
func escapeControlInStrings(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if escaped {
			b.WriteByte(ch)
			escaped = false
			continue
		}
		if ch == '\\' && inString {
			b.WriteByte(ch)
			escaped = true
			continue
		}
		if ch == '"' {
			inString = !inString
			b.WriteByte(ch)
			continue
		}
		if inString {
			switch ch {
			case '\n':
				b.WriteString(`\n`)
				continue
			case '\r':
				b.WriteString(`\r`)
				continue
			case '\t':
				b.WriteString(`\t`)
				continue
			}
		}
		b.WriteByte(ch)
	}
	return b.String()
}
