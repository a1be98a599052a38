package domain

import (
	"encoding/json"
	"fmt"
	"math"
)

// CoordSpace is the side length of the normalized coordinate space shared by all documents.
const CoordSpace = 1000.0

// BBox is an axis-aligned rectangle in the normalized 0-1000 space.
// It serializes as [x1, y1, x2, y2].
type BBox struct {
	X1 float64
	Y1 float64
	X2 float64
	Y2 float64
}

// NewBBox builds a box from two corners in any order, clamped to the normalized space.
func NewBBox(x1, y1, x2, y2 float64) BBox {
	if x1 > x2 {
		x1, x2 = x2, x1
	}
	if y1 > y2 {
		y1, y2 = y2, y1
	}
	return BBox{X1: clamp(x1), Y1: clamp(y1), X2: clamp(x2), Y2: clamp(y2)}
}

func clamp(v float64) float64 {
	return math.Max(0, math.Min(CoordSpace, v))
}

// Valid reports whether the box is ordered and inside the normalized space.
func (b BBox) Valid() bool {
	if b.X1 > b.X2 || b.Y1 > b.Y2 {
		return false
	}
	for _, v := range []float64{b.X1, b.Y1, b.X2, b.Y2} {
		if math.IsNaN(v) || v < 0 || v > CoordSpace {
			return false
		}
	}
	return true
}

// IsZero reports whether the box carries no position.
func (b BBox) IsZero() bool {
	return b == BBox{}
}

func (b BBox) Width() float64  { return b.X2 - b.X1 }
func (b BBox) Height() float64 { return b.Y2 - b.Y1 }

func (b BBox) CenterX() float64 { return (b.X1 + b.X2) / 2 }
func (b BBox) CenterY() float64 { return (b.Y1 + b.Y2) / 2 }

// Union returns the smallest box containing both boxes. A zero box is the identity.
func (b BBox) Union(o BBox) BBox {
	if b.IsZero() {
		return o
	}
	if o.IsZero() {
		return b
	}
	return BBox{
		X1: math.Min(b.X1, o.X1),
		Y1: math.Min(b.Y1, o.Y1),
		X2: math.Max(b.X2, o.X2),
		Y2: math.Max(b.Y2, o.Y2),
	}
}

// CenterDistance is the Euclidean distance between the two box centers.
func (b BBox) CenterDistance(o BBox) float64 {
	return math.Hypot(b.CenterX()-o.CenterX(), b.CenterY()-o.CenterY())
}

func (b BBox) MarshalJSON() ([]byte, error) {
	return json.Marshal([4]float64{b.X1, b.Y1, b.X2, b.Y2})
}

func (b *BBox) UnmarshalJSON(data []byte) error {
	var arr []float64
	if err := json.Unmarshal(data, &arr); err != nil {
		return fmt.Errorf("decoding bbox: %w", err)
	}
	if len(arr) != 4 {
		return fmt.Errorf("bbox must have 4 coordinates, got %d: %w", len(arr), ErrInvalidBBox)
	}
	*b = BBox{X1: arr[0], Y1: arr[1], X2: arr[2], Y2: arr[3]}
	return nil
}
