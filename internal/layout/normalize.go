// Package layout converts token service output into the normalized coordinate space.
package layout

import (
	"math"
	"strings"

	"fieldscan/internal/domain"
)

// Normalize maps every token polygon of a page into an axis-aligned box in the
// 0-1000 space. When the page size is unknown it is estimated from the largest
// token coordinates. Blank tokens are dropped.
func Normalize(page *domain.RawPage, pageIndex int) []domain.OCRToken {
	if page == nil || len(page.Tokens) == 0 {
		return nil
	}
	width, height := page.Width, page.Height
	if width <= 0 || height <= 0 {
		width, height = estimateSize(page.Tokens)
	}
	if width <= 0 || height <= 0 {
		return nil
	}

	out := make([]domain.OCRToken, 0, len(page.Tokens))
	for _, t := range page.Tokens {
		text := strings.TrimSpace(t.Text)
		if text == "" {
			continue
		}
		minX, minY := math.Inf(1), math.Inf(1)
		maxX, maxY := math.Inf(-1), math.Inf(-1)
		for _, p := range t.Quad {
			minX, maxX = math.Min(minX, p.X), math.Max(maxX, p.X)
			minY, maxY = math.Min(minY, p.Y), math.Max(maxY, p.Y)
		}
		out = append(out, domain.OCRToken{
			Text: text,
			BBox: domain.NewBBox(
				minX/width*domain.CoordSpace,
				minY/height*domain.CoordSpace,
				maxX/width*domain.CoordSpace,
				maxY/height*domain.CoordSpace,
			),
			Confidence: clampUnit(t.Confidence),
			PageIndex:  pageIndex,
		})
	}
	return out
}

func estimateSize(tokens []domain.RawToken) (float64, float64) {
	var w, h float64
	for _, t := range tokens {
		for _, p := range t.Quad {
			w = math.Max(w, p.X)
			h = math.Max(h, p.Y)
		}
	}
	return w, h
}

func clampUnit(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}

// Text joins tokens into reading-order text: rows top to bottom, tokens left to
// right within a row. Tokens whose vertical centers differ by at most rowTol
// share a row.
func Text(tokens []domain.OCRToken, rowTol float64) string {
	rows := Rows(tokens, rowTol)
	lines := make([]string, 0, len(rows))
	for _, row := range rows {
		words := make([]string, len(row))
		for i, t := range row {
			words[i] = t.Text
		}
		lines = append(lines, strings.Join(words, " "))
	}
	return strings.Join(lines, "\n")
}
