package detector

import (
	"strings"

	"fieldscan/internal/domain"
	"fieldscan/internal/layout"
)

// separate splits tokens into header candidates, whose vertical center lies
// above the header line, and data candidates.
func (d *Detector) separate(tokens []domain.OCRToken, minY float64) (headers, data []domain.OCRToken) {
	line := minY - d.scale(d.cfg.HeaderMargin)
	top := line - d.scale(d.cfg.HeaderBand)
	for _, t := range tokens {
		cy := t.BBox.CenterY()
		switch {
		case cy < line && (d.cfg.HeaderBand <= 0 || cy >= top):
			headers = append(headers, t)
		case cy < line:
			// above the header band: neither header nor data
		default:
			data = append(data, t)
		}
	}
	return headers, data
}

// mergeHeaders collapses chains of horizontally adjacent tokens on the same row
// into single headers. Tokens on different rows never merge.
func (d *Detector) mergeHeaders(tokens []domain.OCRToken) []Header {
	gap := d.scale(d.cfg.MergeGap)
	var out []Header
	for _, row := range layout.Rows(tokens, d.scale(d.cfg.RowTol)) {
		var parts []string
		var box domain.BBox
		flush := func() {
			if len(parts) > 0 {
				out = append(out, Header{Text: strings.Join(parts, " "), BBox: box})
			}
			parts, box = nil, domain.BBox{}
		}
		for _, t := range row {
			if len(parts) > 0 && t.BBox.X1-box.X2 >= gap {
				flush()
			}
			parts = append(parts, strings.TrimSpace(t.Text))
			box = box.Union(t.BBox)
		}
		flush()
	}
	return out
}
