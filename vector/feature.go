// Package vector holds label features, restricts them to analysis cells and records how much of
// each feature survived the clip.
package vector

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/go-spatial/geom"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/pdok/utmtiler/crs"
	"github.com/pdok/utmtiler/geomhelp"
	"github.com/pdok/utmtiler/sindex"
)

var ErrInvalidGeometryKind = errors.New("invalid geometry kind")

const wktLogLen = 80

// GeometryKind selects polygon or line clipping semantics.
type GeometryKind int

const (
	Polygon GeometryKind = iota + 1
	LineString
)

func ParseGeometryKind(s string) (GeometryKind, error) {
	switch {
	case strings.EqualFold(s, "Polygon"):
		return Polygon, nil
	case strings.EqualFold(s, "LineString"):
		return LineString, nil
	}
	return 0, fmt.Errorf("%w: %q, expected Polygon or LineString", ErrInvalidGeometryKind, s)
}

func (k GeometryKind) String() string {
	switch k {
	case Polygon:
		return "Polygon"
	case LineString:
		return "LineString"
	}
	return fmt.Sprintf("GeometryKind(%d)", int(k))
}

func (k GeometryKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *GeometryKind) UnmarshalText(text []byte) error {
	parsed, err := ParseGeometryKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

type Properties = orderedmap.OrderedMap[string, any]

func NewProperties() *Properties {
	return orderedmap.New[string, any]()
}

// Feature is a geometry with ordered properties. OrigArea, OrigLen, PartialDec and Truncated are
// filled by Clip; Measured marks OrigArea and OrigLen as computed.
type Feature struct {
	Geometry   geom.Geometry
	Properties *Properties

	OrigArea   float64
	OrigLen    float64
	PartialDec float64
	Truncated  bool
	Measured   bool
}

// Measure computes the unclipped area and length once.
func (f *Feature) Measure() {
	if f.Measured {
		return
	}
	f.OrigArea = geomhelp.Area(f.Geometry)
	f.OrigLen = geomhelp.Length(f.Geometry)
	f.Measured = true
}

// Collection is a set of features in one CRS. The spatial index is built on first use and
// shared afterwards; Features must not change once searched.
type Collection struct {
	CRS      crs.CRS
	Features []Feature

	indexOnce sync.Once
	index     *sindex.Index
}

func NewCollection(c crs.CRS, features []Feature) *Collection {
	return &Collection{CRS: c, Features: features}
}

func (c *Collection) Len() int {
	return len(c.Features)
}

// Measure computes the unclipped sizes of all features.
func (c *Collection) Measure() {
	for i := range c.Features {
		c.Features[i].Measure()
	}
}

// Bounds is the union of the feature extents. ok is false for a collection without geometries.
func (c *Collection) Bounds() (b geom.Extent, ok bool) {
	for _, f := range c.Features {
		fe, fok := extentOf(f.Geometry)
		if !fok {
			continue
		}
		if !ok {
			b, ok = fe, true
			continue
		}
		b = union(b, fe)
	}
	return b, ok
}

func union(a, b geom.Extent) geom.Extent {
	return geom.Extent{math.Min(a[0], b[0]), math.Min(a[1], b[1]), math.Max(a[2], b[2]), math.Max(a[3], b[3])}
}

// Index returns the bounding box index over the features.
func (c *Collection) Index() *sindex.Index {
	c.indexOnce.Do(func() {
		boxes := make([]geom.Extent, len(c.Features))
		for i, f := range c.Features {
			if e, ok := extentOf(f.Geometry); ok {
				boxes[i] = e
			} else {
				boxes[i] = geom.Extent{math.NaN(), math.NaN(), math.NaN(), math.NaN()}
			}
		}
		c.index = sindex.New(boxes)
	})
	return c.index
}

// Search returns the ids of features whose geometry intersects cell: bounding box candidates
// from the index, confirmed by an exact test.
func (c *Collection) Search(cell geom.Extent) []int {
	var ids []int
	for _, id := range c.Index().Search(cell) {
		if Intersects(c.Features[id].Geometry, cell) {
			ids = append(ids, id)
		}
	}
	return ids
}

// Reproject returns a copy of the collection in dst.
func (c *Collection) Reproject(dst crs.CRS) (*Collection, error) {
	if c.CRS == dst {
		return NewCollection(dst, append([]Feature(nil), c.Features...)), nil
	}
	t, err := crs.NewTransformer(c.CRS, dst)
	if err != nil {
		return nil, err
	}
	out := make([]Feature, len(c.Features))
	for i, f := range c.Features {
		g, err := transformGeometry(t, f.Geometry)
		if err != nil {
			return nil, fmt.Errorf("feature %d %s: %w", i, geomhelp.WktMustEncode(f.Geometry, wktLogLen), err)
		}
		out[i] = Feature{Geometry: g, Properties: f.Properties}
	}
	return NewCollection(dst, out), nil
}

func extentOf(g geom.Geometry) (geom.Extent, bool) {
	e := geom.Extent{math.Inf(1), math.Inf(1), math.Inf(-1), math.Inf(-1)}
	ok := false
	eachPoint(g, func(p [2]float64) {
		e = union(e, geom.Extent{p[0], p[1], p[0], p[1]})
		ok = true
	})
	return e, ok
}

// eachPoint visits every vertex of g.
func eachPoint(g geom.Geometry, fn func([2]float64)) {
	visit := func(pts [][2]float64) {
		for _, p := range pts {
			fn(p)
		}
	}
	switch g := g.(type) {
	case geom.Point:
		fn(g)
	case geom.MultiPoint:
		visit(g)
	case geom.LineString:
		visit(g)
	case geom.MultiLineString:
		for _, l := range g {
			visit(l)
		}
	case geom.Polygon:
		for _, r := range g {
			visit(r)
		}
	case geom.MultiPolygon:
		for _, p := range g {
			for _, r := range p {
				visit(r)
			}
		}
	case geom.Collection:
		for _, m := range g {
			eachPoint(m, fn)
		}
	}
}

func isEmpty(g geom.Geometry) bool {
	switch g := g.(type) {
	case geom.MultiPoint:
		return len(g) == 0
	case geom.LineString:
		return len(g) == 0
	case geom.MultiLineString:
		for _, l := range g {
			if len(l) > 0 {
				return false
			}
		}
		return true
	case geom.Polygon:
		return len(g) == 0 || len(g[0]) == 0
	case geom.MultiPolygon:
		for _, p := range g {
			if !isEmpty(geom.Polygon(p)) {
				return false
			}
		}
		return true
	case geom.Collection:
		for _, m := range g {
			if !isEmpty(m) {
				return false
			}
		}
		return true
	}
	return false
}

func transformGeometry(t *crs.Transformer, g geom.Geometry) (geom.Geometry, error) {
	ring := func(pts [][2]float64) ([][2]float64, error) {
		out := append([][2]float64(nil), pts...)
		return out, t.TransformRing(out)
	}
	switch g := g.(type) {
	case nil:
		return nil, nil
	case geom.Point:
		p, err := t.Transform([2]float64(g))
		return geom.Point(p), err
	case geom.MultiPoint:
		pts, err := ring(g)
		return geom.MultiPoint(pts), err
	case geom.LineString:
		pts, err := ring(g)
		return geom.LineString(pts), err
	case geom.MultiLineString:
		out := make(geom.MultiLineString, len(g))
		for i, l := range g {
			var err error
			if out[i], err = ring(l); err != nil {
				return nil, err
			}
		}
		return out, nil
	case geom.Polygon:
		out := make(geom.Polygon, len(g))
		for i, r := range g {
			var err error
			if out[i], err = ring(r); err != nil {
				return nil, err
			}
		}
		return out, nil
	case geom.MultiPolygon:
		out := make(geom.MultiPolygon, len(g))
		for i, p := range g {
			tp, err := transformGeometry(t, geom.Polygon(p))
			if err != nil {
				return nil, err
			}
			out[i] = tp.(geom.Polygon)
		}
		return out, nil
	case geom.Collection:
		out := make(geom.Collection, len(g))
		for i, m := range g {
			var err error
			if out[i], err = transformGeometry(t, m); err != nil {
				return nil, err
			}
		}
		return out, nil
	}
	return nil, fmt.Errorf("unsupported geometry type %T", g)
}
