// Package cluster implements one-dimensional proximity clustering over value types.
package cluster

import (
	"math"
	"sort"
)

// Point is a value placed on a line, carrying the index of the item it came from.
type Point struct {
	Pos  float64
	Item int
}

// Cluster is a group of points whose running mean is Center.
type Cluster struct {
	Center float64
	Items  []int
}

// Group clusters points along one axis. Points are visited in ascending
// position; each joins the nearest existing cluster whose center lies within
// tol, otherwise it starts a new cluster. The result is sorted by center.
func Group(points []Point, tol float64) []Cluster {
	sorted := make([]Point, len(points))
	copy(sorted, points)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Pos < sorted[j].Pos })

	var clusters []Cluster
	var sums []float64
	for _, p := range sorted {
		best, bestDist := -1, math.Inf(1)
		for i := range clusters {
			if d := math.Abs(clusters[i].Center - p.Pos); d <= tol && d < bestDist {
				best, bestDist = i, d
			}
		}
		if best < 0 {
			clusters = append(clusters, Cluster{Center: p.Pos, Items: []int{p.Item}})
			sums = append(sums, p.Pos)
			continue
		}
		clusters[best].Items = append(clusters[best].Items, p.Item)
		sums[best] += p.Pos
		clusters[best].Center = sums[best] / float64(len(clusters[best].Items))
	}

	sort.SliceStable(clusters, func(i, j int) bool { return clusters[i].Center < clusters[j].Center })
	return clusters
}

// StdDev is the population standard deviation of values; 0 for fewer than two values.
func StdDev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	var mean float64
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))
	var sq float64
	for _, v := range values {
		sq += (v - mean) * (v - mean)
	}
	return math.Sqrt(sq / float64(len(values)))
}

// Mean averages values; 0 for an empty slice.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
