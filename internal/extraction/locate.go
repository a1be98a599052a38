package extraction

import (
	"strings"

	"fieldscan/internal/domain"
	"fieldscan/internal/textsim"
)

// minPartialLen keeps one- and two-letter tokens from matching inside longer answers.
const minPartialLen = 3

// Locate finds the token that best carries an answer's text and returns its
// position. An exact (normalized) match wins; otherwise the first token that
// contains the answer or is contained by it is used.
func Locate(tokens []domain.OCRToken, answer string) (domain.OCRToken, bool) {
	want := textsim.Normalize(answer)
	if want == "" {
		return domain.OCRToken{}, false
	}
	partial := -1
	for i, t := range tokens {
		got := textsim.Normalize(t.Text)
		if got == "" {
			continue
		}
		if got == want {
			return t, true
		}
		if partial < 0 && (strings.Contains(got, want) || (len(got) >= minPartialLen && strings.Contains(want, got))) {
			partial = i
		}
	}
	if partial >= 0 {
		return tokens[partial], true
	}
	return domain.OCRToken{}, false
}
