// Package sindex is a static bounding box index for candidate searches. Boxes are bucketed in a
// uniform grid over their union; grid cells are keyed by their Morton code.
package sindex

import (
	"math"
	"sort"

	"github.com/go-spatial/geom"
)

// maxGridSide caps the grid to maxGridSide x maxGridSide cells.
const maxGridSide = 1 << 12

type Index struct {
	boxes        []geom.Extent
	extent       geom.Extent
	side         int
	cellW, cellH float64
	cells        map[Z][]int
}

// New indexes boxes by position. Boxes with NaN or inverted coordinates are never returned.
func New(boxes []geom.Extent) *Index {
	ix := &Index{boxes: boxes, cells: make(map[Z][]int)}
	first := true
	for _, b := range boxes {
		if !valid(b) {
			continue
		}
		if first {
			ix.extent, first = b, false
			continue
		}
		ix.extent = geom.Extent{
			math.Min(ix.extent[0], b[0]), math.Min(ix.extent[1], b[1]),
			math.Max(ix.extent[2], b[2]), math.Max(ix.extent[3], b[3]),
		}
	}
	if first {
		return ix
	}

	ix.side = int(math.Ceil(math.Sqrt(float64(len(boxes)))))
	ix.side = max(1, min(ix.side, maxGridSide))
	ix.cellW = cellSize(ix.extent.MaxX()-ix.extent.MinX(), ix.side)
	ix.cellH = cellSize(ix.extent.MaxY()-ix.extent.MinY(), ix.side)

	for id, b := range boxes {
		if !valid(b) {
			continue
		}
		c0, r0, c1, r1 := ix.cellRange(b)
		for c := c0; c <= c1; c++ {
			for r := r0; r <= r1; r++ {
				z := toZ(uint64(c), uint64(r))
				ix.cells[z] = append(ix.cells[z], id)
			}
		}
	}
	return ix
}

func cellSize(span float64, side int) float64 {
	if span <= 0 {
		return 1
	}
	return span / float64(side)
}

func valid(b geom.Extent) bool {
	for _, v := range b {
		if math.IsNaN(v) {
			return false
		}
	}
	return b[0] <= b[2] && b[1] <= b[3]
}

func (ix *Index) Len() int {
	return len(ix.boxes)
}

// Extent is the union of all valid boxes.
func (ix *Index) Extent() geom.Extent {
	return ix.extent
}

func (ix *Index) cellRange(b geom.Extent) (c0, r0, c1, r1 int) {
	return ix.axis(b.MinX(), ix.extent.MinX(), ix.cellW), ix.axis(b.MinY(), ix.extent.MinY(), ix.cellH),
		ix.axis(b.MaxX(), ix.extent.MinX(), ix.cellW), ix.axis(b.MaxY(), ix.extent.MinY(), ix.cellH)
}

func (ix *Index) axis(v, origin, size float64) int {
	i := int(math.Floor((v - origin) / size))
	return max(0, min(i, ix.side-1))
}

// Search returns the sorted ids of the boxes overlapping q, touching edges included.
func (ix *Index) Search(q geom.Extent) []int {
	if ix.side == 0 || !valid(q) || !overlaps(q, ix.extent) {
		return nil
	}
	c0, r0, c1, r1 := ix.cellRange(q)
	seen := make(map[int]struct{})
	var ids []int
	for c := c0; c <= c1; c++ {
		for r := r0; r <= r1; r++ {
			for _, id := range ix.cells[toZ(uint64(c), uint64(r))] {
				if _, ok := seen[id]; ok {
					continue
				}
				seen[id] = struct{}{}
				if overlaps(ix.boxes[id], q) {
					ids = append(ids, id)
				}
			}
		}
	}
	sort.Ints(ids)
	return ids
}

// Cells lists the occupied grid cells in Morton order with their column and row.
func (ix *Index) Cells() [][3]uint64 {
	zs := make([]Z, 0, len(ix.cells))
	for z := range ix.cells {
		zs = append(zs, z)
	}
	sort.Slice(zs, func(i, j int) bool { return zs[i] < zs[j] })
	cells := make([][3]uint64, len(zs))
	for i, z := range zs {
		c, r := fromZ(z)
		cells[i] = [3]uint64{z, c, r}
	}
	return cells
}

func overlaps(a, b geom.Extent) bool {
	return a.MinX() <= b.MaxX() && b.MinX() <= a.MaxX() && a.MinY() <= b.MaxY() && b.MinY() <= a.MaxY()
}
