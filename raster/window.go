package raster

import (
	"fmt"
	"math"

	"github.com/go-spatial/geom"
)

// Window is a fractional pixel rectangle.
type Window struct {
	ColOff, RowOff float64
	Width, Height  float64
}

// WindowFromBounds computes the pixel window covering bounds under transform.
func WindowFromBounds(b geom.Extent, transform Affine) (Window, error) {
	inv, err := transform.Invert()
	if err != nil {
		return Window{}, err
	}
	minCol, minRow := math.Inf(1), math.Inf(1)
	maxCol, maxRow := math.Inf(-1), math.Inf(-1)
	for _, c := range [4][2]float64{{b.MinX(), b.MaxY()}, {b.MaxX(), b.MaxY()}, {b.MinX(), b.MinY()}, {b.MaxX(), b.MinY()}} {
		col, row := inv.Apply(c[0], c[1])
		minCol, maxCol = math.Min(minCol, col), math.Max(maxCol, col)
		minRow, maxRow = math.Min(minRow, row), math.Max(maxRow, row)
	}
	return Window{ColOff: minCol, RowOff: minRow, Width: maxCol - minCol, Height: maxRow - minRow}, nil
}

func (w Window) String() string {
	return fmt.Sprintf("Window(col_off=%g, row_off=%g, width=%g, height=%g)", w.ColOff, w.RowOff, w.Width, w.Height)
}

// windowTolerance absorbs floating point noise from the bounds to pixel round trip.
const windowTolerance = 1e-6

// Within reports whether the window lies inside a width x height grid.
func (w Window) Within(width, height int) bool {
	return w.ColOff >= -windowTolerance && w.RowOff >= -windowTolerance &&
		w.ColOff+w.Width <= float64(width)+windowTolerance &&
		w.RowOff+w.Height <= float64(height)+windowTolerance
}

func (w Window) Empty() bool {
	return !(w.Width > 0) || !(w.Height > 0)
}
