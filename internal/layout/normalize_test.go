package layout_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fieldscan/internal/domain"
	"fieldscan/internal/layout"
)

func quad(x1, y1, x2, y2 float64) [4]domain.RawPoint {
	return [4]domain.RawPoint{{X: x1, Y: y1}, {X: x2, Y: y1}, {X: x2, Y: y2}, {X: x1, Y: y2}}
}

func TestNormalize_ScalesToCoordSpace(t *testing.T) {
	page := &domain.RawPage{
		Width:  2000,
		Height: 4000,
		Tokens: []domain.RawToken{
			{Text: " Invoice ", Quad: quad(200, 400, 600, 800), Confidence: 0.97},
			{Text: "   ", Quad: quad(0, 0, 10, 10), Confidence: 0.5},
		},
	}

	got := layout.Normalize(page, 2)

	require.Len(t, got, 1)
	assert.Equal(t, "Invoice", got[0].Text)
	assert.Equal(t, domain.BBox{X1: 100, Y1: 100, X2: 300, Y2: 200}, got[0].BBox)
	assert.Equal(t, 0.97, got[0].Confidence)
	assert.Equal(t, 2, got[0].PageIndex)
}

func TestNormalize_RotatedQuadBecomesAxisAligned(t *testing.T) {
	page := &domain.RawPage{
		Width:  1000,
		Height: 1000,
		Tokens: []domain.RawToken{{
			Text: "Total",
			Quad: [4]domain.RawPoint{{X: 510, Y: 100}, {X: 600, Y: 110}, {X: 590, Y: 150}, {X: 500, Y: 140}},
		}},
	}

	got := layout.Normalize(page, 0)

	require.Len(t, got, 1)
	assert.Equal(t, domain.BBox{X1: 500, Y1: 100, X2: 600, Y2: 150}, got[0].BBox)
	assert.True(t, got[0].BBox.Valid())
}

func TestNormalize_EstimatesUnknownSize(t *testing.T) {
	page := &domain.RawPage{Tokens: []domain.RawToken{
		{Text: "a", Quad: quad(0, 0, 50, 50), Confidence: 1.4},
		{Text: "b", Quad: quad(100, 150, 200, 300), Confidence: 0.9},
	}}

	got := layout.Normalize(page, 0)

	require.Len(t, got, 2)
	assert.Equal(t, domain.BBox{X1: 500, Y1: 500, X2: 1000, Y2: 1000}, got[1].BBox)
	assert.Equal(t, 1.0, got[0].Confidence)
}

func TestNormalize_Empty(t *testing.T) {
	assert.Nil(t, layout.Normalize(nil, 0))
	assert.Nil(t, layout.Normalize(&domain.RawPage{Width: 10, Height: 10}, 0))
}

func TestRowsAndText(t *testing.T) {
	tokens := []domain.OCRToken{
		{Text: "Globex", BBox: domain.BBox{X1: 300, Y1: 50, X2: 400, Y2: 60}},
		{Text: "ACME", BBox: domain.BBox{X1: 100, Y1: 52, X2: 200, Y2: 62}},
		{Text: "Invoice", BBox: domain.BBox{X1: 100, Y1: 100, X2: 200, Y2: 110}},
	}

	rows := layout.Rows(tokens, 10)
	require.Len(t, rows, 2)
	assert.Equal(t, "ACME", rows[0][0].Text)

	assert.Equal(t, "ACME Globex\nInvoice", layout.Text(tokens, 10))
}

func TestRows_SpreadNeverExceedsTolerance(t *testing.T) {
	tokens := []domain.OCRToken{
		{Text: "a", BBox: domain.BBox{X1: 0, Y1: 100, X2: 10, Y2: 110}},
		{Text: "b", BBox: domain.BBox{X1: 20, Y1: 108, X2: 30, Y2: 118}},
		{Text: "c", BBox: domain.BBox{X1: 40, Y1: 116, X2: 50, Y2: 126}},
	}

	rows := layout.Rows(tokens, 10)

	require.Len(t, rows, 2)
	assert.Len(t, rows[0], 2)
	assert.Equal(t, "c", rows[1][0].Text)
}
