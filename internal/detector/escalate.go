package detector

import (
	"context"
	"sort"
	"strings"

	"fieldscan/internal/domain"
	"fieldscan/internal/port"
	"fieldscan/internal/textsim"
)

// headerQuestions are asked in order, one per escalation call.
var headerQuestions = []string{
	"What are the column headers of the table? List them from left to right separated by |.",
	"List the names of all table columns from left to right, separated by |.",
}

// locateThreshold is the similarity a returned header needs to be pinned to a page token.
const locateThreshold = 0.7

// escalate asks the answer service for the table's header names, at most
// MaxEscalations times and stopping once headers cover the columns. It
// returns the new headers it could position and the number of calls made.
func (d *Detector) escalate(ctx context.Context, in Input, headers []Header, columns []Column, columnX, minY float64) ([]Header, int) {
	if d.answers == nil || d.cfg.MaxEscalations <= 0 {
		return nil, 0
	}

	pool := append([]Header(nil), headers...)
	var found []Header
	calls := 0
	for calls < d.cfg.MaxEscalations {
		q := headerQuestions[min(calls, len(headerQuestions)-1)]
		calls++
		answers, err := d.answers.Answer(ctx, port.AnswerRequest{Page: in.Page, Questions: []string{q}})
		if err != nil {
			d.logger.Warn("detector.escalate: answer service failed", "document_id", in.Page.DocumentID, "error", err)
			continue
		}
		if len(answers) == 0 {
			continue
		}
		placed := d.placeHeaders(splitHeaders(answers[0].Answer), pool, in.Tokens, columns, columnX, minY)
		pool = append(pool, placed...)
		found = append(found, placed...)
		if len(pool) >= len(columns) {
			break
		}
	}
	return found, calls
}

// splitHeaders splits a free-text header list on pipes, commas, semicolons and newlines.
func splitHeaders(answer string) []string {
	fields := strings.FieldsFunc(answer, func(r rune) bool {
		return r == '|' || r == ',' || r == '\n' || r == ';'
	})
	out := fields[:0]
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}

// placeHeaders gives returned header names a position. Names already in the
// pool are skipped. A name resembling a page token takes that token's box.
// When the list is complete, one name per detected column with or without the
// template column, the remaining names are laid out left to right over the
// column centers; otherwise they are dropped.
func (d *Detector) placeHeaders(names []string, pool []Header, tokens []domain.OCRToken, columns []Column, columnX, minY float64) []Header {
	xs := make([]float64, 0, len(columns)+1)
	for _, c := range columns {
		xs = append(xs, c.Center)
	}
	if len(names) == len(columns)+1 {
		xs = append(xs, columnX)
	}
	sort.Float64s(xs)
	complete := len(names) == len(xs)
	y := max(minY-d.scale(d.cfg.HeaderMargin)-1, 1)

	var placed []Header
	for i, n := range names {
		if known(n, pool) {
			continue
		}
		if tok, ok := bestToken(n, tokens); ok {
			placed = append(placed, Header{Text: n, BBox: tok.BBox, Synthetic: true})
			continue
		}
		if !complete {
			d.logger.Debug("detector.placeHeaders: dropping unplaced header", "name", n, "names", len(names), "columns", len(columns))
			continue
		}
		placed = append(placed, Header{Text: n, BBox: domain.NewBBox(xs[i]-1, y-1, xs[i]+1, y), Synthetic: true})
	}
	return placed
}

func known(name string, pool []Header) bool {
	for _, h := range pool {
		if textsim.Similarity(name, h.Text) >= locateThreshold {
			return true
		}
	}
	return false
}

func bestToken(name string, tokens []domain.OCRToken) (domain.OCRToken, bool) {
	var best domain.OCRToken
	bestScore := 0.0
	for _, t := range tokens {
		if s := textsim.Similarity(name, t.Text); s > bestScore {
			best, bestScore = t, s
		}
	}
	return best, bestScore >= locateThreshold
}
