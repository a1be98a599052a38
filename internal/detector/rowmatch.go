package detector

import (
	"math"
	"sort"
	"strconv"

	"fieldscan/internal/domain"
)

// matchRows picks, for every template row and detected column, the unused
// token of that column closest to the row's vertical center within YTol.
func (d *Detector) matchRows(cells []domain.TemplateField, columns []Column) []domain.ExtractedField {
	rows := make([]float64, len(cells))
	for i, c := range cells {
		rows[i] = c.BBox.CenterY()
	}
	sort.Float64s(rows)

	yTol := d.scale(d.cfg.YTol)
	var out []domain.ExtractedField
	for _, col := range columns {
		used := make([]bool, len(col.Tokens))
		for r, y := range rows {
			best, bestDist := -1, math.Inf(1)
			for i, t := range col.Tokens {
				if used[i] {
					continue
				}
				if dist := math.Abs(t.BBox.CenterY() - y); dist <= yTol && dist < bestDist {
					best, bestDist = i, dist
				}
			}
			if best < 0 {
				continue
			}
			used[best] = true
			tok := col.Tokens[best]
			out = append(out, domain.ExtractedField{
				Label:      col.Name + "_" + strconv.Itoa(r+1),
				Value:      tok.Text,
				BBox:       tok.BBox,
				Confidence: tok.Confidence,
				PageIndex:  tok.PageIndex,
				Source:     domain.SourcePositionFallback,
			})
		}
	}
	return out
}
