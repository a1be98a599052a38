package detector

import (
	"fmt"
	"math"
	"sort"
	"strconv"

	"fieldscan/internal/domain"
	"fieldscan/internal/textsim"
)

const (
	positionWeight = 0.6
	textWeight     = 0.4
)

// headerScore rates how well a header fits a column: mostly horizontal
// proximity, partly how close the header text is to a candidate field name.
func headerScore(col Column, h Header, candidates []string) float64 {
	dx := math.Abs(col.Center-h.BBox.CenterX()) / domain.CoordSpace
	_, sim := textsim.BestMatch(h.Text, candidates)
	return positionWeight*(1-math.Min(dx, 1)) + textWeight*sim
}

// assign pairs columns with headers one to one, best scores first. The result
// maps a column index to a header index; columns without a header scoring at
// least MinScore are absent.
func (d *Detector) assign(columns []Column, headers []Header, candidates []string) map[int]int {
	type pair struct {
		col, hdr int
		score    float64
	}
	var pairs []pair
	for ci, c := range columns {
		for hi, h := range headers {
			if s := headerScore(c, h, candidates); s >= d.cfg.MinScore {
				pairs = append(pairs, pair{col: ci, hdr: hi, score: s})
			}
		}
	}
	sort.SliceStable(pairs, func(i, j int) bool { return pairs[i].score > pairs[j].score })

	out := make(map[int]int, len(columns))
	usedHeader := make(map[int]bool, len(headers))
	for _, p := range pairs {
		if _, ok := out[p.col]; ok || usedHeader[p.hdr] {
			continue
		}
		out[p.col] = p.hdr
		usedHeader[p.hdr] = true
	}
	return out
}

// name gives every column a semantic name: the closest candidate field name
// when the header text is similar enough, the header text otherwise, and a
// position-derived name when no header was assigned. Names are unique.
func (d *Detector) name(columns []Column, assigned map[int]int, headers []Header, candidates []string) {
	seen := make(map[string]int, len(columns))
	for i := range columns {
		col := &columns[i]
		name := "column_" + strconv.Itoa(int(math.Round(col.Center)))
		if hi, ok := assigned[i]; ok {
			h := headers[hi]
			col.Header = &h
			name = h.Text
			if best, sim := textsim.BestMatch(h.Text, candidates); sim >= d.cfg.SemanticThreshold {
				name = best
			}
		}
		name = textsim.Identifier(name)
		if name == "" {
			name = "column_" + strconv.Itoa(int(math.Round(col.Center)))
		}
		if n := seen[name]; n > 0 {
			seen[name] = n + 1
			name = fmt.Sprintf("%s_%d", name, n+1)
		} else {
			seen[name] = 1
		}
		col.Name = name
	}
}
