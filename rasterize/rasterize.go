// Package rasterize burns geometries into single band label masks on a pixel grid given by an
// affine transform.
//
// Polygons burn the pixels whose centre lies inside them (even-odd, holes respected), lines burn
// every pixel they pass through and points burn the pixel containing them. With AllTouched,
// polygons also burn every pixel they cover partially.
package rasterize

import (
	"image"
	"image/draw"
	"math"
	"sort"

	"github.com/go-spatial/geom"
	"golang.org/x/image/vector"

	"github.com/pdok/utmtiler/geomhelp"
	"github.com/pdok/utmtiler/mapslicehelp"
	"github.com/pdok/utmtiler/raster"
	vec "github.com/pdok/utmtiler/vector"
)

type options struct {
	allTouched bool
}

type Option func(*options)

// AllTouched burns every pixel a polygon covers, not only those with their centre inside.
func AllTouched() Option {
	return func(o *options) {
		o.allTouched = true
	}
}

// Rasterize burns geoms with value burn into a width x height mask. transform maps pixel to map
// coordinates, the same way as the tile the mask belongs to. Later geometries overwrite earlier
// ones; without geometries the mask is all zero.
func Rasterize(geoms []geom.Geometry, burn uint8, width, height int, transform raster.Affine, opts ...Option) (*image.Gray, error) {
	img := image.NewGray(image.Rect(0, 0, width, height))
	if len(geoms) == 0 || width <= 0 || height <= 0 {
		return img, nil
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	inv, err := transform.Invert()
	if err != nil {
		return nil, err
	}
	b := &burner{img: img, value: burn, inv: inv, allTouched: o.allTouched}
	for _, g := range geoms {
		b.geometry(g)
	}
	return img, nil
}

// Features rasterizes the geometries of a feature collection.
func Features(c *vec.Collection, burn uint8, width, height int, transform raster.Affine, opts ...Option) (*image.Gray, error) {
	geoms := make([]geom.Geometry, 0, c.Len())
	for _, f := range c.Features {
		if f.Geometry != nil {
			geoms = append(geoms, f.Geometry)
		}
	}
	return Rasterize(geoms, burn, width, height, transform, opts...)
}

type burner struct {
	img        *image.Gray
	value      uint8
	inv        raster.Affine
	allTouched bool
}

func (b *burner) set(col, row int) {
	if col < 0 || row < 0 || col >= b.img.Rect.Dx() || row >= b.img.Rect.Dy() {
		return
	}
	b.img.Pix[row*b.img.Stride+col] = b.value
}

func (b *burner) toPixels(pts [][2]float64) [][2]float64 {
	out := make([][2]float64, len(pts))
	for i, p := range pts {
		out[i][0], out[i][1] = b.inv.Apply(p[0], p[1])
	}
	return out
}

func (b *burner) geometry(g geom.Geometry) {
	switch g := g.(type) {
	case geom.Point:
		b.point(g)
	case geom.MultiPoint:
		for _, p := range g {
			b.point(p)
		}
	case geom.LineString:
		b.line(b.toPixels(g))
	case geom.MultiLineString:
		for _, l := range g {
			b.line(b.toPixels(l))
		}
	case geom.Polygon:
		b.polygon(g)
	case geom.MultiPolygon:
		for _, p := range g {
			b.polygon(p)
		}
	case geom.Collection:
		for _, m := range g {
			b.geometry(m)
		}
	}
}

func (b *burner) point(p [2]float64) {
	col, row := b.inv.Apply(p[0], p[1])
	b.set(int(math.Floor(col)), int(math.Floor(row)))
}

// line walks the pixels a polyline passes through (Amanatides-Woo).
func (b *burner) line(pts [][2]float64) {
	if len(pts) == 1 {
		b.set(int(math.Floor(pts[0][0])), int(math.Floor(pts[0][1])))
		return
	}
	frame := geom.Extent{0, 0, float64(b.img.Rect.Dx()), float64(b.img.Rect.Dy())}
	clipped := vec.ClipGeometry(geom.LineString(pts), frame)
	switch l := clipped.(type) {
	case geom.LineString:
		b.walk(l)
	case geom.MultiLineString:
		for _, part := range l {
			b.walk(part)
		}
	}
}

func (b *burner) walk(pts [][2]float64) {
	for i := 0; i+1 < len(pts); i++ {
		b.segment(pts[i], pts[i+1])
	}
}

func (b *burner) segment(p0, p1 [2]float64) {
	col, row := int(math.Floor(p0[0])), int(math.Floor(p0[1]))
	endCol, endRow := int(math.Floor(p1[0])), int(math.Floor(p1[1]))
	stepCol, tMaxX, tDeltaX := traversal(p0[0], p1[0])
	stepRow, tMaxY, tDeltaY := traversal(p0[1], p1[1])

	b.set(col, row)
	for n := abs(endCol-col) + abs(endRow-row); n > 0; n-- {
		if tMaxX < tMaxY {
			tMaxX += tDeltaX
			col += stepCol
		} else {
			tMaxY += tDeltaY
			row += stepRow
		}
		b.set(col, row)
	}
}

// traversal returns the step direction, the parameter of the first pixel boundary crossing and
// the parameter distance between crossings along one axis of segment v0 -> v1.
func traversal(v0, v1 float64) (step int, tMax, tDelta float64) {
	d := v1 - v0
	switch {
	case d > 0:
		return 1, (math.Floor(v0) + 1 - v0) / d, 1 / d
	case d < 0:
		return -1, (v0 - math.Floor(v0)) / -d, 1 / -d
	}
	return 0, math.Inf(1), math.Inf(1)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func (b *burner) polygon(p [][][2]float64) {
	if len(p) == 0 {
		return
	}
	rings := make([][][2]float64, len(p))
	for i, r := range p {
		rings[i] = b.toPixels(r)
	}
	if b.allTouched {
		b.coverage(rings)
	}
	b.scanlines(rings)
}

// scanlines burns the pixels whose centre lies inside the rings, even-odd.
func (b *burner) scanlines(rings [][][2]float64) {
	minY, maxY := math.Inf(1), math.Inf(-1)
	for _, r := range rings {
		for _, pt := range r {
			minY, maxY = math.Min(minY, pt[1]), math.Max(maxY, pt[1])
		}
	}
	height, width := b.img.Rect.Dy(), b.img.Rect.Dx()
	first := max(0, int(math.Ceil(minY-0.5)))
	last := min(height-1, int(math.Floor(maxY-0.5)))

	var xs []float64
	for row := first; row <= last; row++ {
		yc := float64(row) + 0.5
		xs = xs[:0]
		for _, r := range rings {
			n := len(r)
			for i := 0; i < n; i++ {
				a, c := r[i], r[(i+1)%n]
				if (a[1] > yc) == (c[1] > yc) {
					continue
				}
				xs = append(xs, a[0]+(yc-a[1])*(c[0]-a[0])/(c[1]-a[1]))
			}
		}
		sort.Float64s(xs)
		for i := 0; i+1 < len(xs); i += 2 {
			from := max(0, int(math.Ceil(xs[i]-0.5)))
			to := min(width-1, int(math.Ceil(xs[i+1]-0.5))-1)
			for col := from; col <= to; col++ {
				b.set(col, row)
			}
		}
	}
}

// coverage burns every pixel with non-zero area coverage. Outer ring and holes get opposite
// orientations so holes cancel out of the accumulated coverage.
func (b *burner) coverage(rings [][][2]float64) {
	width, height := b.img.Rect.Dx(), b.img.Rect.Dy()
	frame := geom.Extent{0, 0, float64(width), float64(height)}
	// a concave polygon may come back from the frame clip in several parts
	var parts geom.MultiPolygon
	switch clipped := vec.ClipGeometry(geom.Polygon(rings), frame).(type) {
	case geom.Polygon:
		parts = geom.MultiPolygon{clipped}
	case geom.MultiPolygon:
		parts = clipped
	default:
		return
	}
	z := vector.NewRasterizer(width, height)
	z.DrawOp = draw.Src
	for _, p := range parts {
		for i, r := range p {
			ccw := geomhelp.SignedShoelace(r) > 0
			if ccw != (i == 0) {
				r = mapslicehelp.ReverseClone(r)
			}
			z.MoveTo(float32(r[0][0]), float32(r[0][1]))
			for _, pt := range r[1:] {
				z.LineTo(float32(pt[0]), float32(pt[1]))
			}
			z.ClosePath()
		}
	}
	cover := image.NewAlpha(image.Rect(0, 0, width, height))
	z.Draw(cover, cover.Bounds(), image.Opaque, image.Point{})
	for row := 0; row < height; row++ {
		for col := 0; col < width; col++ {
			if cover.Pix[row*cover.Stride+col] > 0 {
				b.set(col, row)
			}
		}
	}
}
