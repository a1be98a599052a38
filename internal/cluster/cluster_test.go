package cluster_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fieldscan/internal/cluster"
)

func TestGroup_SeparatesDistantColumns(t *testing.T) {
	points := []cluster.Point{
		{Pos: 520, Item: 0},
		{Pos: 100, Item: 1},
		{Pos: 110, Item: 2},
		{Pos: 505, Item: 3},
		{Pos: 900, Item: 4},
	}

	got := cluster.Group(points, 60)

	require.Len(t, got, 3)
	assert.InDelta(t, 105, got[0].Center, 1e-9)
	assert.ElementsMatch(t, []int{1, 2}, got[0].Items)
	assert.InDelta(t, 512.5, got[1].Center, 1e-9)
	assert.ElementsMatch(t, []int{0, 3}, got[1].Items)
	assert.Equal(t, []int{4}, got[2].Items)
}

func TestGroup_OrderIndependent(t *testing.T) {
	a := []cluster.Point{{Pos: 10, Item: 0}, {Pos: 40, Item: 1}, {Pos: 300, Item: 2}}
	b := []cluster.Point{{Pos: 300, Item: 2}, {Pos: 40, Item: 1}, {Pos: 10, Item: 0}}

	assert.Equal(t, cluster.Group(a, 50), cluster.Group(b, 50))
}

func TestGroup_Empty(t *testing.T) {
	assert.Empty(t, cluster.Group(nil, 10))
}

func TestStdDevAndMean(t *testing.T) {
	assert.Equal(t, 0.0, cluster.StdDev([]float64{42}))
	assert.InDelta(t, 2.0, cluster.StdDev([]float64{2, 4, 4, 4, 5, 5, 7, 9}), 1e-9)
	assert.InDelta(t, 5.0, cluster.Mean([]float64{2, 4, 4, 4, 5, 5, 7, 9}), 1e-9)
	assert.Equal(t, 0.0, cluster.Mean(nil))
}
