// Package textsim holds the pure string utilities shared by the matcher and the detector.
package textsim

import (
	"strings"
	"unicode"

	"github.com/agext/levenshtein"
)

// maxSignatureLen bounds the vendor fingerprint taken from a document's text.
const maxSignatureLen = 64

// Normalize lowercases s and collapses every run of whitespace to a single space.
func Normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// Similarity scores two strings in [0, 1] after normalization; 1 means identical.
func Similarity(a, b string) float64 {
	na, nb := Normalize(a), Normalize(b)
	if na == "" && nb == "" {
		return 1
	}
	if na == "" || nb == "" {
		return 0
	}
	return levenshtein.Similarity(na, nb, nil)
}

// BestMatch returns the candidate most similar to s and its score.
// Ties keep the earliest candidate. An empty candidate list scores 0.
func BestMatch(s string, candidates []string) (string, float64) {
	best, bestScore := "", 0.0
	for _, c := range candidates {
		if score := Similarity(s, c); score > bestScore {
			best, bestScore = c, score
		}
	}
	return best, bestScore
}

// Identifier lowercases s and replaces every run of non-alphanumeric characters with one underscore.
func Identifier(s string) string {
	var b strings.Builder
	pendingSep := false
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if pendingSep && b.Len() > 0 {
				b.WriteByte('_')
			}
			pendingSep = false
			b.WriteRune(r)
			continue
		}
		pendingSep = true
	}
	return b.String()
}

// VendorSignature derives a vendor fingerprint from document text: the stable
// words of the first line that has any, normalized and truncated. Words
// carrying digits (invoice numbers, dates, amounts) or no letters at all are
// dropped so that documents from one vendor share a signature.
func VendorSignature(docText string) string {
	for _, line := range strings.Split(docText, "\n") {
		var words []string
		for _, w := range strings.Fields(strings.ToLower(line)) {
			w = strings.TrimFunc(w, func(r rune) bool { return !unicode.IsLetter(r) && !unicode.IsDigit(r) })
			if stableWord(w) {
				words = append(words, w)
			}
		}
		if len(words) == 0 {
			continue
		}
		sig := strings.Join(words, " ")
		if r := []rune(sig); len(r) > maxSignatureLen {
			sig = strings.TrimSpace(string(r[:maxSignatureLen]))
		}
		return sig
	}
	return ""
}

func stableWord(w string) bool {
	hasLetter := false
	for _, r := range w {
		if unicode.IsDigit(r) {
			return false
		}
		if unicode.IsLetter(r) {
			hasLetter = true
		}
	}
	return hasLetter
}

// SignatureMatches reports whether the document signature occurs inside the
// template's signature once both are normalized.
func SignatureMatches(docSignature, templateSignature string) bool {
	d, t := Normalize(docSignature), Normalize(templateSignature)
	if d == "" || t == "" {
		return false
	}
	return strings.Contains(t, d)
}
