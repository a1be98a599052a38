package detector

import (
	"math"

	"fieldscan/internal/cluster"
	"fieldscan/internal/domain"
)

// clusterColumns groups data tokens by horizontal center and drops the
// clusters that sit on the template's own column.
func (d *Detector) clusterColumns(tokens []domain.OCRToken, columnX float64) []Column {
	points := make([]cluster.Point, len(tokens))
	for i, t := range tokens {
		points[i] = cluster.Point{Pos: t.BBox.CenterX(), Item: i}
	}

	exclusion := d.scale(d.cfg.ExclusionRadius)
	var out []Column
	for _, c := range cluster.Group(points, d.scale(d.cfg.XTol)) {
		if math.Abs(c.Center-columnX) <= exclusion {
			continue
		}
		col := Column{Center: c.Center, Tokens: make([]domain.OCRToken, len(c.Items))}
		for i, idx := range c.Items {
			col.Tokens[i] = tokens[idx]
		}
		out = append(out, col)
	}
	return out
}
