package vector

import (
	"fmt"
	"sort"

	"github.com/go-spatial/geom"
	"github.com/go-spatial/geom/planar"

	"github.com/pdok/utmtiler/geomhelp"
	"github.com/pdok/utmtiler/mapslicehelp"
	"github.com/pdok/utmtiler/mathhelp"
)

// DefaultMinPartialFraction drops clipped polygons keeping 10% or less of their area.
const DefaultMinPartialFraction = 0.1

// VectorTile is Clip with DefaultMinPartialFraction.
func VectorTile(c *Collection, cell geom.Extent, kind GeometryKind) (*Collection, error) {
	return Clip(c, cell, kind, DefaultMinPartialFraction)
}

// Clip returns the features of c intersecting cell, clipped to cell.
//
// Polygons get PartialDec = clipped area / original area and are dropped when PartialDec is not
// above minPartial; Truncated is PartialDec != 1. Only the measure of the kind is kept: OrigLen
// is zero for polygons and OrigArea for lines. Lines are kept whenever something remains and
// always get PartialDec 1 and Truncated false. Geometries fully inside cell are not clipped.
func Clip(c *Collection, cell geom.Extent, kind GeometryKind, minPartial float64) (*Collection, error) {
	if kind != Polygon && kind != LineString {
		return nil, fmt.Errorf("%w: %v", ErrInvalidGeometryKind, kind)
	}
	out := NewCollection(c.CRS, nil)
	for _, id := range c.Search(cell) {
		f := c.Features[id]
		f.Measure()
		inside := contained(f.Geometry, cell)
		clipped := f.Geometry
		if !inside {
			clipped = ClipGeometry(f.Geometry, cell)
		}

		switch kind {
		case Polygon:
			f.OrigLen = 0
			f.PartialDec = geomhelp.Area(clipped) / f.OrigArea
			if !(f.PartialDec > minPartial) {
				continue
			}
			f.Truncated = f.PartialDec != 1
		case LineString:
			if clipped == nil || isEmpty(clipped) {
				continue
			}
			f.OrigArea = 0
			f.PartialDec = 1
			f.Truncated = false
		}
		f.Geometry = clipped
		out.Features = append(out.Features, f)
	}
	return out, nil
}

func contained(g geom.Geometry, cell geom.Extent) bool {
	e, ok := extentOf(g)
	return ok && e.MinX() >= cell.MinX() && e.MinY() >= cell.MinY() && e.MaxX() <= cell.MaxX() && e.MaxY() <= cell.MaxY()
}

func pointIn(p [2]float64, cell geom.Extent) bool {
	return mathhelp.BetweenInc(p[0], cell.MinX(), cell.MaxX()) && mathhelp.BetweenInc(p[1], cell.MinY(), cell.MaxY())
}

// Intersects is an exact intersection test of g against the closed cell rectangle.
func Intersects(g geom.Geometry, cell geom.Extent) bool {
	switch g := g.(type) {
	case geom.Point:
		return pointIn(g, cell)
	case geom.MultiPoint:
		for _, p := range g {
			if pointIn(p, cell) {
				return true
			}
		}
	case geom.LineString:
		return pathIntersects(g, false, cell)
	case geom.MultiLineString:
		for _, l := range g {
			if pathIntersects(l, false, cell) {
				return true
			}
		}
	case geom.Polygon:
		return polygonIntersects(g, cell)
	case geom.MultiPolygon:
		for _, p := range g {
			if polygonIntersects(p, cell) {
				return true
			}
		}
	case geom.Collection:
		for _, m := range g {
			if Intersects(m, cell) {
				return true
			}
		}
	}
	return false
}

func pathIntersects(pts [][2]float64, closed bool, cell geom.Extent) bool {
	for _, p := range pts {
		if pointIn(p, cell) {
			return true
		}
	}
	edges := cell.Edges(nil)
	n := len(pts)
	segments := n - 1
	if closed {
		segments = n
	}
	for i := 0; i < segments; i++ {
		seg := geom.Line{pts[i], pts[(i+1)%n]}
		for _, edge := range edges {
			if _, ok := planar.SegmentIntersect(seg, edge); ok {
				return true
			}
		}
	}
	return false
}

func polygonIntersects(p [][][2]float64, cell geom.Extent) bool {
	if len(p) == 0 {
		return false
	}
	if pathIntersects(p[0], true, cell) {
		return true
	}
	// no boundary of the outer ring reaches the cell: the cell is inside it or disjoint
	for _, hole := range p[1:] {
		if pathIntersects(hole, true, cell) {
			return true
		}
	}
	return geomhelp.PolygonContains(p, [2]float64{cell.MinX(), cell.MinY()})
}

// ClipGeometry intersects g with the cell rectangle. Parts without a remainder are dropped; nil
// means nothing is left.
func ClipGeometry(g geom.Geometry, cell geom.Extent) geom.Geometry {
	switch g := g.(type) {
	case geom.Point:
		if pointIn(g, cell) {
			return g
		}
	case geom.MultiPoint:
		var out geom.MultiPoint
		for _, p := range g {
			if pointIn(p, cell) {
				out = append(out, p)
			}
		}
		if len(out) > 0 {
			return out
		}
	case geom.LineString:
		return lineResult(clipLine(g, cell))
	case geom.MultiLineString:
		var parts [][][2]float64
		for _, l := range g {
			parts = append(parts, clipLine(l, cell)...)
		}
		if len(parts) > 0 {
			return geom.MultiLineString(parts)
		}
	case geom.Polygon:
		return polygonResult(clipPolygon(g, cell))
	case geom.MultiPolygon:
		var out geom.MultiPolygon
		for _, p := range g {
			out = append(out, clipPolygon(p, cell)...)
		}
		if len(out) > 0 {
			return out
		}
	case geom.Collection:
		var out geom.Collection
		for _, m := range g {
			if cm := ClipGeometry(m, cell); cm != nil {
				out = append(out, cm)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return nil
}

func lineResult(parts [][][2]float64) geom.Geometry {
	switch len(parts) {
	case 0:
		return nil
	case 1:
		return geom.LineString(parts[0])
	}
	return geom.MultiLineString(parts)
}

// clipPolygon clips p to the cell one cell side at a time. Shells are oriented counterclockwise
// and holes clockwise first, so every ring rebuilt along a cut is a shell. A concave polygon or one
// whose hole crosses the cell edge may fall apart into several parts; nil means nothing is left.
func clipPolygon(p [][][2]float64, cell geom.Extent) geom.MultiPolygon {
	var rings [][][2]float64
	for i, r := range p {
		if n := len(r); n > 1 && r[0] == r[n-1] {
			r = r[:n-1]
		}
		a := geomhelp.SignedShoelace(r)
		if len(r) < 3 || a == 0 {
			if i == 0 {
				return nil
			}
			continue
		}
		if (a > 0) != (i == 0) {
			r = mapslicehelp.ReverseClone(r)
		}
		rings = append(rings, r)
	}
	sides := [4]side{
		{axis: 0, at: cell.MinX(), keepAbove: true},
		{axis: 0, at: cell.MaxX()},
		{axis: 1, at: cell.MinY(), keepAbove: true},
		{axis: 1, at: cell.MaxY()},
	}
	for _, s := range sides {
		rings = s.cut(rings)
		if len(rings) == 0 {
			return nil
		}
	}
	return assemble(rings)
}

// side is one cell edge as a half-plane on coordinate axis.
type side struct {
	axis      int
	at        float64
	keepAbove bool
}

func (s side) in(p [2]float64) bool {
	if s.keepAbove {
		return p[s.axis] >= s.at
	}
	return p[s.axis] <= s.at
}

func (s side) on(p [2]float64) bool {
	return p[s.axis] == s.at
}

// intersect is only called for a strictly inside and a strictly outside point.
func (s side) intersect(a, b [2]float64) [2]float64 {
	o := 1 - s.axis
	t := (s.at - a[s.axis]) / (b[s.axis] - a[s.axis])
	var p [2]float64
	p[s.axis] = s.at
	p[o] = a[o] + t*(b[o]-a[o])
	return p
}

// cut keeps the part of rings inside s. Rings without an outside vertex are kept whole. The
// others are broken into chains running from an entry to an exit on the cut line, which are
// joined again along the line.
func (s side) cut(rings [][][2]float64) [][][2]float64 {
	var out, chains [][][2]float64
	for _, r := range rings {
		start := -1
		for i, p := range r {
			if !s.in(p) {
				start = i
				break
			}
		}
		if start < 0 {
			out = append(out, r)
			continue
		}
		n := len(r)
		var chain [][2]float64
		for k := 1; k <= n; k++ {
			prev, cur := r[(start+k-1)%n], r[(start+k)%n]
			prevIn, curIn := s.in(prev), s.in(cur)
			switch {
			case curIn && !prevIn:
				if s.on(cur) {
					chain = [][2]float64{cur}
				} else {
					chain = [][2]float64{s.intersect(prev, cur), cur}
				}
			case curIn:
				chain = append(chain, cur)
			case prevIn:
				if !s.on(prev) {
					chain = append(chain, s.intersect(prev, cur))
				}
				// a chain lying on the line only touches the kept side
				if !s.along(chain) {
					chains = append(chains, chain)
				}
				chain = nil
			}
		}
	}
	return append(out, s.join(chains)...)
}

func (s side) along(chain [][2]float64) bool {
	for _, p := range chain {
		if !s.on(p) {
			return false
		}
	}
	return true
}

// join links chains into rings. Sorted along the cut line, crossing points pair up into the
// stretches of line that are inside the polygon; each pair leads from one chain's exit to a
// chain's entry.
func (s side) join(chains [][][2]float64) [][][2]float64 {
	type crossing struct {
		pos   float64
		chain int
		exit  bool
	}
	o := 1 - s.axis
	crossings := make([]crossing, 0, 2*len(chains))
	for i, c := range chains {
		crossings = append(crossings,
			crossing{pos: c[0][o], chain: i},
			crossing{pos: c[len(c)-1][o], chain: i, exit: true})
	}
	sort.SliceStable(crossings, func(i, j int) bool { return crossings[i].pos < crossings[j].pos })

	next := make([]int, len(chains))
	for i := range next {
		next[i] = -1
	}
	for k := 0; k+1 < len(crossings); k += 2 {
		a, b := crossings[k], crossings[k+1]
		if a.exit == b.exit {
			continue
		}
		if b.exit {
			a, b = b, a
		}
		next[a.chain] = b.chain
	}

	var rings [][][2]float64
	seen := make([]bool, len(chains))
	for i := range chains {
		if seen[i] {
			continue
		}
		var ring [][2]float64
		for c := i; c >= 0 && !seen[c]; c = next[c] {
			seen[c] = true
			ring = append(ring, chains[c]...)
		}
		rings = append(rings, ring)
	}
	return rings
}

// assemble turns oriented rings into closed polygons. Holes go to the smallest shell containing
// them; rings collapsing below three vertices or to zero area are dropped.
func assemble(rings [][][2]float64) geom.MultiPolygon {
	var shells geom.MultiPolygon
	var holes [][][2]float64
	for _, r := range rings {
		r = dedupe(r)
		if len(r) < 3 {
			continue
		}
		switch a := geomhelp.SignedShoelace(r); {
		case a > 0:
			shells = append(shells, [][][2]float64{r})
		case a < 0:
			holes = append(holes, r)
		}
	}
	for _, h := range holes {
		best := -1
		for i, s := range shells {
			if !geomhelp.RingContains(s[0], h[0]) {
				continue
			}
			if best < 0 || geomhelp.Shoelace(s[0]) < geomhelp.Shoelace(shells[best][0]) {
				best = i
			}
		}
		if best >= 0 {
			shells[best] = append(shells[best], h)
		}
	}
	for _, s := range shells {
		for i := range s {
			s[i] = closeRing(s[i])
		}
	}
	return shells
}

func closeRing(ring [][2]float64) [][2]float64 {
	return append(ring, ring[0])
}

func polygonResult(parts geom.MultiPolygon) geom.Geometry {
	switch len(parts) {
	case 0:
		return nil
	case 1:
		return geom.Polygon(parts[0])
	}
	return parts
}

// dedupe removes consecutive duplicate vertices, wrapping around.
func dedupe(pts [][2]float64) [][2]float64 {
	var out [][2]float64
	for _, p := range pts {
		if len(out) == 0 || out[len(out)-1] != p {
			out = append(out, p)
		}
	}
	for len(out) > 1 && out[0] == out[len(out)-1] {
		out = out[:len(out)-1]
	}
	return out
}

// clipLine clips a polyline with Liang-Barsky, splitting it where it leaves the cell.
func clipLine(line [][2]float64, cell geom.Extent) [][][2]float64 {
	var parts [][][2]float64
	var cur [][2]float64
	flush := func() {
		if len(cur) >= 2 {
			parts = append(parts, cur)
		}
		cur = nil
	}
	for i := 0; i+1 < len(line); i++ {
		a, b, ok := clipSegment(line[i], line[i+1], cell)
		if !ok {
			flush()
			continue
		}
		if last := mapslicehelp.LastElement(cur); last != nil && *last != a {
			flush()
		}
		if len(cur) == 0 {
			cur = append(cur, a)
		}
		if *mapslicehelp.LastElement(cur) != b {
			cur = append(cur, b)
		}
		if b != line[i+1] {
			flush()
		}
	}
	flush()
	return parts
}

// clipSegment is Liang-Barsky on one segment. Endpoints moved onto the cell boundary get the exact
// boundary coordinate.
func clipSegment(a, b [2]float64, cell geom.Extent) ([2]float64, [2]float64, bool) {
	dx, dy := b[0]-a[0], b[1]-a[1]
	t0, t1 := 0.0, 1.0
	axis0, axis1 := -1, -1
	var at0, at1 float64
	for _, c := range [4]struct {
		p, q  float64
		axis  int
		value float64
	}{
		{-dx, a[0] - cell.MinX(), 0, cell.MinX()},
		{dx, cell.MaxX() - a[0], 0, cell.MaxX()},
		{-dy, a[1] - cell.MinY(), 1, cell.MinY()},
		{dy, cell.MaxY() - a[1], 1, cell.MaxY()},
	} {
		if c.p == 0 {
			if c.q < 0 {
				return a, b, false
			}
			continue
		}
		r := c.q / c.p
		switch {
		case c.p < 0 && r > t0:
			t0, axis0, at0 = r, c.axis, c.value
		case c.p > 0 && r < t1:
			t1, axis1, at1 = r, c.axis, c.value
		}
		if t0 > t1 {
			return a, b, false
		}
	}
	ca, cb := a, b
	if axis0 >= 0 {
		ca = [2]float64{a[0] + t0*dx, a[1] + t0*dy}
		ca[axis0] = at0
	}
	if axis1 >= 0 {
		cb = [2]float64{a[0] + t1*dx, a[1] + t1*dy}
		cb[axis1] = at1
	}
	return ca, cb, true
}
