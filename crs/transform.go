package crs

import (
	"fmt"
	"math"

	"github.com/go-spatial/geom"
	"github.com/go-spatial/proj"
)

// DefaultDensifyPts is the number of points inserted along each bounds edge by TransformBounds.
const DefaultDensifyPts = 21

// Transformer converts coordinates from one CRS to another by way of geographic WGS 84.
// It holds no mutable state and is safe for concurrent use.
type Transformer struct {
	src, dst CRS
	srcTM    *transverseMercator
	dstTM    *transverseMercator
}

func NewTransformer(src, dst CRS) (*Transformer, error) {
	t := &Transformer{src: src, dst: dst}
	var err error
	if t.srcTM, err = projectionFor(src); err != nil {
		return nil, err
	}
	if t.dstTM, err = projectionFor(dst); err != nil {
		return nil, err
	}
	return t, nil
}

func projectionFor(c CRS) (*transverseMercator, error) {
	if !c.supported() {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedCRS, c)
	}
	if zone, north, ok := c.UTMZone(); ok {
		return newUTMProjection(zone, north), nil
	}
	return nil, nil
}

func (t *Transformer) Source() CRS { return t.src }

func (t *Transformer) Target() CRS { return t.dst }

// Identity reports whether source and target are the same CRS.
func (t *Transformer) Identity() bool {
	return t.src == t.dst
}

// Transform converts a single point.
func (t *Transformer) Transform(pt [2]float64) ([2]float64, error) {
	pts := [][2]float64{pt}
	if err := t.TransformRing(pts); err != nil {
		return [2]float64{}, err
	}
	return pts[0], nil
}

// TransformRing converts the points in place.
func (t *Transformer) TransformRing(pts [][2]float64) error {
	if t.Identity() || len(pts) == 0 {
		return nil
	}
	if err := toLonLat(t.src, t.srcTM, pts); err != nil {
		return err
	}
	return fromLonLat(t.dst, t.dstTM, pts)
}

func toLonLat(c CRS, tm *transverseMercator, pts [][2]float64) error {
	switch {
	case tm != nil:
		for i, p := range pts {
			pts[i][0], pts[i][1] = tm.inverse(p[0], p[1])
		}
	case c.code == EPSGWebMercator:
		out, err := proj.Inverse(proj.EPSG3857, flatten(pts))
		if err != nil {
			return fmt.Errorf("inverse %s: %w", c, err)
		}
		unflatten(out, pts)
	}
	return nil
}

func fromLonLat(c CRS, tm *transverseMercator, pts [][2]float64) error {
	switch {
	case tm != nil:
		for i, p := range pts {
			pts[i][0], pts[i][1] = tm.forward(p[0], p[1])
		}
	case c.code == EPSGWebMercator:
		out, err := proj.Convert(proj.EPSG3857, flatten(pts))
		if err != nil {
			return fmt.Errorf("convert to %s: %w", c, err)
		}
		unflatten(out, pts)
	}
	return nil
}

func flatten(pts [][2]float64) []float64 {
	flat := make([]float64, 0, 2*len(pts))
	for _, p := range pts {
		flat = append(flat, p[0], p[1])
	}
	return flat
}

func unflatten(flat []float64, pts [][2]float64) {
	for i := range pts {
		pts[i] = [2]float64{flat[2*i], flat[2*i+1]}
	}
}

// TransformBounds transforms bounds by densifying every edge with densifyPts extra points,
// transforming the resulting ring and taking its envelope.
func TransformBounds(src, dst CRS, b geom.Extent, densifyPts int) (geom.Extent, error) {
	t, err := NewTransformer(src, dst)
	if err != nil {
		return geom.Extent{}, err
	}
	return t.TransformBounds(b, densifyPts)
}

func (t *Transformer) TransformBounds(b geom.Extent, densifyPts int) (geom.Extent, error) {
	if densifyPts < 0 {
		densifyPts = 0
	}
	ring := DensifyBounds(b, densifyPts)
	if err := t.TransformRing(ring); err != nil {
		return geom.Extent{}, err
	}
	out := geom.Extent{math.Inf(1), math.Inf(1), math.Inf(-1), math.Inf(-1)}
	for _, p := range ring {
		if math.IsNaN(p[0]) || math.IsNaN(p[1]) || math.IsInf(p[0], 0) || math.IsInf(p[1], 0) {
			continue
		}
		out[0] = math.Min(out[0], p[0])
		out[1] = math.Min(out[1], p[1])
		out[2] = math.Max(out[2], p[0])
		out[3] = math.Max(out[3], p[1])
	}
	if out[0] > out[2] || out[1] > out[3] {
		return geom.Extent{}, fmt.Errorf("%w: bounds %v have no finite image in %s", ErrInvalidCoordinates, b, t.dst)
	}
	return out, nil
}

// DensifyBounds returns the corners of b plus densifyPts evenly spaced points per edge,
// walking south, east, north, west.
func DensifyBounds(b geom.Extent, densifyPts int) [][2]float64 {
	corners := [5][2]float64{
		{b.MinX(), b.MinY()},
		{b.MaxX(), b.MinY()},
		{b.MaxX(), b.MaxY()},
		{b.MinX(), b.MaxY()},
		{b.MinX(), b.MinY()},
	}
	steps := densifyPts + 1
	ring := make([][2]float64, 0, 4*steps)
	for e := 0; e < 4; e++ {
		a, z := corners[e], corners[e+1]
		for i := 0; i < steps; i++ {
			f := float64(i) / float64(steps)
			ring = append(ring, [2]float64{a[0] + f*(z[0]-a[0]), a[1] + f*(z[1]-a[1])})
		}
	}
	return ring
}
