// Package karma extracts reputation values from free-form flair text.
//
// Flair formats are not stable upstream: badges and icons get prepended, the
// score may carry a leading "+", or sit at the end after a label. Extraction
// therefore scans whitespace separated tokens instead of relying on position.
package karma

import (
	"strconv"
	"strings"
)

// DefaultLabel is used for users that have no flair yet.
const DefaultLabel = "Karma:"

// Extract returns the first token of text that reads as a non-negative
// integer, optionally prefixed by a single "+". The bool is false when no
// token qualifies; a zero score is reported as (0, true).
func Extract(text string) (int, bool) {
	return ParseFlair(text).Value()
}

// Flair is tokenised flair text with the position of its score, if any.
type Flair struct {
	tokens []string
	index  int
	value  int
}

// ParseFlair tokenises text and locates the first score token.
func ParseFlair(text string) Flair {
	f := Flair{tokens: strings.Fields(text), index: -1}
	for i, tok := range f.tokens {
		if v, ok := parseToken(tok); ok {
			f.index = i
			f.value = v
			break
		}
	}
	return f
}

// Value returns the embedded score.
func (f Flair) Value() (int, bool) {
	if f.index < 0 {
		return 0, false
	}
	return f.value, true
}

// Empty reports whether the flair has no tokens at all.
func (f Flair) Empty() bool {
	return len(f.tokens) == 0
}

// Label returns the flair text without its score token.
func (f Flair) Label() string {
	out := make([]string, 0, len(f.tokens))
	for i, tok := range f.tokens {
		if i != f.index {
			out = append(out, tok)
		}
	}
	return strings.Join(out, " ")
}

// Render writes score into the flair. The score token is replaced in place
// so every other token survives; flair without a score gets it appended.
func (f Flair) Render(score int) string {
	out := make([]string, 0, len(f.tokens)+1)
	out = append(out, f.tokens...)
	s := strconv.Itoa(score)
	if f.index < 0 {
		out = append(out, s)
	} else {
		out[f.index] = s
	}
	return strings.Join(out, " ")
}

func parseToken(tok string) (int, bool) {
	digits := strings.TrimPrefix(tok, "+")
	if digits == "" {
		return 0, false
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	v, err := strconv.Atoi(digits)
	if err != nil {
		return 0, false
	}
	return v, true
}
