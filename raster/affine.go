package raster

import (
	"fmt"
	"math"

	"github.com/go-spatial/geom"
)

// Affine maps pixel (col, row) to map (x, y):
//
//	x = A*col + B*row + C
//	y = D*col + E*row + F
type Affine [6]float64

var Identity = Affine{1, 0, 0, 0, 1, 0}

// FromBounds maps a width x height pixel grid linearly onto bounds, origin at the west/north corner.
func FromBounds(b geom.Extent, width, height int) Affine {
	return Affine{
		(b.MaxX() - b.MinX()) / float64(width), 0, b.MinX(),
		0, -(b.MaxY() - b.MinY()) / float64(height), b.MaxY(),
	}
}

// Apply maps a pixel coordinate to map space.
func (a Affine) Apply(col, row float64) (x, y float64) {
	return a[0]*col + a[1]*row + a[2], a[3]*col + a[4]*row + a[5]
}

func (a Affine) determinant() float64 {
	return a[0]*a[4] - a[1]*a[3]
}

// Invert returns the map-to-pixel transform.
func (a Affine) Invert() (Affine, error) {
	det := a.determinant()
	if det == 0 || math.IsNaN(det) {
		return Affine{}, fmt.Errorf("affine %v is not invertible", a)
	}
	ia, ib := a[4]/det, -a[1]/det
	id, ie := -a[3]/det, a[0]/det
	return Affine{
		ia, ib, -ia*a[2] - ib*a[5],
		id, ie, -id*a[2] - ie*a[5],
	}, nil
}

// Rectilinear reports whether the transform has no rotation or shear.
func (a Affine) Rectilinear() bool {
	return a[1] == 0 && a[3] == 0
}

// Resolution is the pixel size along x and y.
func (a Affine) Resolution() (float64, float64) {
	return math.Hypot(a[0], a[3]), math.Hypot(a[1], a[4])
}

// Bounds of a width x height grid under this transform.
func (a Affine) Bounds(width, height int) geom.Extent {
	e := geom.Extent{math.Inf(1), math.Inf(1), math.Inf(-1), math.Inf(-1)}
	for _, c := range [4][2]float64{{0, 0}, {float64(width), 0}, {0, float64(height)}, {float64(width), float64(height)}} {
		x, y := a.Apply(c[0], c[1])
		e[0], e[1] = math.Min(e[0], x), math.Min(e[1], y)
		e[2], e[3] = math.Max(e[2], x), math.Max(e[3], y)
	}
	return e
}
