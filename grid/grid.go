// Package grid lays a deterministic lattice of anchor points over metric bounds and derives
// fixed-size analysis cells from it, optionally interleaved over four quadrant buckets.
//
// Lattice layout with quadrant spacing (row index follows x, column index follows y):
//
//	col 1 | 1  3  1  3
//	col 0 | 0  2  0  2
//	      +-----------
//	        r0 r1 r2 r3
package grid

import (
	"errors"
	"fmt"
	"math"

	"github.com/go-spatial/geom"

	"github.com/pdok/utmtiler/mathhelp"
)

var (
	ErrInvalidBounds   = errors.New("invalid bounds")
	ErrInvalidStride   = errors.New("stride must be a positive finite number")
	ErrInvalidCellSize = errors.New("cell size must be a positive finite number")
)

// Quadrant is a bucket id in 0..3.
type Quadrant uint8

const NumQuadrants = 4

var quadrantPattern = [2][2]Quadrant{{0, 1}, {2, 3}}

// QuadrantOf returns the bucket of the anchor at (row, col) in the lattice.
func QuadrantOf(row, col int) Quadrant {
	return quadrantPattern[mathhelp.EuclidianMod(row, 2)][mathhelp.EuclidianMod(col, 2)]
}

// Partition holds items in fixed quadrant buckets. Without quadrant spacing only bucket 0 is used.
type Partition[T any] [NumQuadrants][]T

// All concatenates the buckets in quadrant order.
func (p Partition[T]) All() []T {
	all := make([]T, 0, p.Len())
	for _, bucket := range p {
		all = append(all, bucket...)
	}
	return all
}

func (p Partition[T]) Len() int {
	n := 0
	for _, bucket := range p {
		n += len(bucket)
	}
	return n
}

// Quadrants lists the non-empty buckets.
func (p Partition[T]) Quadrants() []Quadrant {
	var qs []Quadrant
	for q, bucket := range p {
		if len(bucket) > 0 {
			qs = append(qs, Quadrant(q))
		}
	}
	return qs
}

func (p Partition[T]) Bucket(q Quadrant) []T {
	return p[q]
}

// ValidateBounds rejects non-finite or empty bounds.
func ValidateBounds(b geom.Extent) error {
	for _, v := range b {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: %v is not finite", ErrInvalidBounds, b)
		}
	}
	if b.MinX() >= b.MaxX() || b.MinY() >= b.MaxY() {
		return fmt.Errorf("%w: %v is empty", ErrInvalidBounds, b)
	}
	return nil
}

func validatePositive(v float64, err error) error {
	if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
		return fmt.Errorf("%w: %v", err, v)
	}
	return nil
}

// AnchorPoints generates the anchor lattice for bounds. With extend the lattice range grows to
// the enclosing integer grid (floor min, ceil max), otherwise it shrinks to the enclosed one
// (ceil min, floor max). Anchors are min + i*stride for every i with min + i*stride < max,
// visiting x in the outer loop and y in the inner loop.
func AnchorPoints(bounds geom.Extent, stride float64, extend, quadSpace bool) (Partition[geom.Point], error) {
	var p Partition[geom.Point]
	if err := ValidateBounds(bounds); err != nil {
		return p, err
	}
	if err := validatePositive(stride, ErrInvalidStride); err != nil {
		return p, err
	}

	round := [2]func(float64) float64{math.Ceil, math.Floor}
	if extend {
		round = [2]func(float64) float64{math.Floor, math.Ceil}
	}
	xs := arange(round[0](bounds.MinX()), round[1](bounds.MaxX()), stride)
	ys := arange(round[0](bounds.MinY()), round[1](bounds.MaxY()), stride)

	for row, x := range xs {
		for col, y := range ys {
			q := Quadrant(0)
			if quadSpace {
				q = QuadrantOf(row, col)
			}
			p[q] = append(p[q], geom.Point{x, y})
		}
	}
	return p, nil
}

// arange is start + i*step for i in [0, ceil((stop-start)/step)).
func arange(start, stop, step float64) []float64 {
	n := int(math.Ceil((stop - start) / step))
	if n <= 0 {
		return nil
	}
	vals := make([]float64, n)
	for i := range vals {
		vals[i] = start + float64(i)*step
	}
	return vals
}

// Cells turns anchors into cellSize squares with the anchor as lower-left corner. A cell is kept
// only when its upper-right corner lies strictly below the bounds maximum on both axes.
func Cells(anchors Partition[geom.Point], cellSize float64, bounds geom.Extent) (Partition[geom.Extent], error) {
	var p Partition[geom.Extent]
	if err := validatePositive(cellSize, ErrInvalidCellSize); err != nil {
		return p, err
	}
	for q, bucket := range anchors {
		for _, a := range bucket {
			x, y := a.X(), a.Y()
			if x+cellSize < bounds.MaxX() && y+cellSize < bounds.MaxY() {
				p[q] = append(p[q], geom.Extent{x, y, x + cellSize, y + cellSize})
			}
		}
	}
	return p, nil
}

// AnalysisGrid is AnchorPoints without extension followed by Cells.
func AnalysisGrid(bounds geom.Extent, stride, cellSize float64, quadSpace bool) (Partition[geom.Extent], error) {
	anchors, err := AnchorPoints(bounds, stride, false, quadSpace)
	if err != nil {
		return Partition[geom.Extent]{}, err
	}
	return Cells(anchors, cellSize, bounds)
}

// ChipBounds is the square of sizePixels pixels of gsd metres with lower-left corner (llx, lly).
func ChipBounds(llx, lly, gsd float64, sizePixels int) geom.Extent {
	side := gsd * float64(sizePixels)
	return geom.Extent{llx, lly, llx + side, lly + side}
}
