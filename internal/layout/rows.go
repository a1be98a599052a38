package layout

import (
	"math"
	"sort"

	"fieldscan/internal/domain"
)

// Rows groups tokens into rows. A token joins a row only while the spread of
// vertical centers in that row stays within rowTol, so any two tokens sharing a
// row are within rowTol of each other. Rows are ordered top to bottom and
// tokens within a row left to right.
func Rows(tokens []domain.OCRToken, rowTol float64) [][]domain.OCRToken {
	sorted := make([]domain.OCRToken, len(tokens))
	copy(sorted, tokens)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].PageIndex != sorted[j].PageIndex {
			return sorted[i].PageIndex < sorted[j].PageIndex
		}
		return sorted[i].BBox.CenterY() < sorted[j].BBox.CenterY()
	})

	type bucket struct {
		page       int
		yMin, yMax float64
		tokens     []domain.OCRToken
	}
	var buckets []bucket
	for _, t := range sorted {
		cy := t.BBox.CenterY()
		if n := len(buckets); n > 0 {
			last := &buckets[n-1]
			lo, hi := math.Min(last.yMin, cy), math.Max(last.yMax, cy)
			if last.page == t.PageIndex && hi-lo <= rowTol {
				last.yMin, last.yMax = lo, hi
				last.tokens = append(last.tokens, t)
				continue
			}
		}
		buckets = append(buckets, bucket{page: t.PageIndex, yMin: cy, yMax: cy, tokens: []domain.OCRToken{t}})
	}

	rows := make([][]domain.OCRToken, len(buckets))
	for i, b := range buckets {
		sort.SliceStable(b.tokens, func(x, y int) bool { return b.tokens[x].BBox.X1 < b.tokens[y].BBox.X1 })
		rows[i] = b.tokens
	}
	return rows
}
