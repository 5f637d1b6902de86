// Package geomhelp holds planar measures and predicates on go-spatial/geom types
// that the clipper and the rasterizer share.
package geomhelp

import (
	"math"

	"github.com/go-spatial/geom"
	"github.com/go-spatial/geom/encoding/wkt"
	"github.com/muesli/reflow/truncate"
)

// https://en.wikipedia.org/wiki/Shoelace_formula
func Shoelace(pts [][2]float64) float64 {
	return math.Abs(SignedShoelace(pts))
}

// SignedShoelace is positive for counterclockwise rings (y up).
// A closing point equal to the first point is allowed but not required.
func SignedShoelace(pts [][2]float64) float64 {
	sum := 0.
	if len(pts) == 0 {
		return 0.
	}

	p0 := pts[len(pts)-1]
	for _, p1 := range pts {
		sum += p0[0]*p1[1] - p1[0]*p0[1]
		p0 = p1
	}
	return sum / 2
}

// PolygonArea is the area of the outer ring minus the area of the holes.
func PolygonArea(p [][][2]float64) float64 {
	if len(p) == 0 {
		return 0.
	}
	interior := 0.
	for _, hole := range p[1:] {
		interior += Shoelace(hole)
	}
	return Shoelace(p[0]) - interior
}

// Area sums the area of all polygonal parts of g. Non-polygonal geometries have no area.
func Area(g geom.Geometry) float64 {
	switch g := g.(type) {
	case geom.Polygon:
		return PolygonArea(g)
	case *geom.Polygon:
		if g == nil {
			return 0.
		}
		return PolygonArea(*g)
	case geom.MultiPolygon:
		sum := 0.
		for _, p := range g {
			sum += PolygonArea(p)
		}
		return sum
	case geom.Collection:
		sum := 0.
		for _, member := range g {
			sum += Area(member)
		}
		return sum
	}
	return 0.
}

// LineLength is the euclidean length of a polyline.
func LineLength(pts [][2]float64) float64 {
	sum := 0.
	for i := 1; i < len(pts); i++ {
		sum += math.Hypot(pts[i][0]-pts[i-1][0], pts[i][1]-pts[i-1][1])
	}
	return sum
}

// Length sums the length of all lineal parts of g. Polygons contribute their perimeter.
func Length(g geom.Geometry) float64 {
	switch g := g.(type) {
	case geom.LineString:
		return LineLength(g)
	case geom.MultiLineString:
		sum := 0.
		for _, l := range g {
			sum += LineLength(l)
		}
		return sum
	case geom.Polygon:
		sum := 0.
		for _, ring := range g {
			sum += ringPerimeter(ring)
		}
		return sum
	case geom.MultiPolygon:
		sum := 0.
		for _, p := range g {
			sum += Length(geom.Polygon(p))
		}
		return sum
	case geom.Collection:
		sum := 0.
		for _, member := range g {
			sum += Length(member)
		}
		return sum
	}
	return 0.
}

func ringPerimeter(ring [][2]float64) float64 {
	n := len(ring)
	if n < 2 {
		return 0.
	}
	closing := 0.
	if ring[0] != ring[n-1] {
		closing = math.Hypot(ring[0][0]-ring[n-1][0], ring[0][1]-ring[n-1][1])
	}
	return LineLength(ring) + closing
}

// from paulmach/orb
// Original implementation: http://rosettacode.org/wiki/Ray-casting_algorithm#Go
//
//nolint:cyclop,nestif
func RayIntersect(pt, start, end [2]float64) (intersects, on bool) {
	if start[0] > end[0] {
		start, end = end, start
	}

	if pt[0] == start[0] {
		if pt[1] == start[1] {
			// pt == start
			return false, true
		} else if start[0] == end[0] {
			// vertical segment (start -> end)
			// return true if within the line, check to see if start or end is greater.
			if start[1] > end[1] && start[1] >= pt[1] && pt[1] >= end[1] {
				return false, true
			}

			if end[1] > start[1] && end[1] >= pt[1] && pt[1] >= start[1] {
				return false, true
			}
		}

		// Move the y coordinate to deal with degenerate case
		pt[0] = math.Nextafter(pt[0], math.Inf(1))
	} else if pt[0] == end[0] {
		if pt[1] == end[1] {
			// matching the end point
			return false, true
		}

		pt[0] = math.Nextafter(pt[0], math.Inf(1))
	}

	if pt[0] < start[0] || pt[0] > end[0] {
		return false, false
	}

	if start[1] > end[1] {
		if pt[1] > start[1] {
			return false, false
		} else if pt[1] < end[1] {
			return true, false
		}
	} else {
		if pt[1] > end[1] {
			return false, false
		} else if pt[1] < start[1] {
			return true, false
		}
	}

	rs := (pt[1] - start[1]) / (pt[0] - start[0])
	ds := (end[1] - start[1]) / (end[0] - start[0])

	if rs == ds {
		return false, true
	}

	return rs <= ds, false
}

// RingContains reports whether pt is inside or on the boundary of ring.
func RingContains(ring [][2]float64, pt [2]float64) bool {
	if len(ring) < 3 {
		return false
	}
	in, on := RayIntersect(pt, ring[0], ring[len(ring)-1])
	if on {
		return true
	}
	for i := 0; i < len(ring)-1; i++ {
		intersects, on := RayIntersect(pt, ring[i], ring[i+1])
		if on {
			return true
		}
		if intersects {
			in = !in
		}
	}
	return in
}

// PolygonContains reports whether pt is inside the outer ring and not strictly inside a hole.
func PolygonContains(p [][][2]float64, pt [2]float64) bool {
	if len(p) == 0 || !RingContains(p[0], pt) {
		return false
	}
	for _, hole := range p[1:] {
		if RingContains(hole, pt) && !onRing(hole, pt) {
			return false
		}
	}
	return true
}

func onRing(ring [][2]float64, pt [2]float64) bool {
	if len(ring) == 0 {
		return false
	}
	if _, on := RayIntersect(pt, ring[0], ring[len(ring)-1]); on {
		return true
	}
	for i := 0; i < len(ring)-1; i++ {
		if _, on := RayIntersect(pt, ring[i], ring[i+1]); on {
			return true
		}
	}
	return false
}

// WktMustEncode renders g as WKT, cut off at maxLen characters (0 = no limit).
// Meant for log lines.
func WktMustEncode(g geom.Geometry, maxLen uint) string {
	s := wkt.MustEncode(g)
	if maxLen == 0 {
		return s
	}
	return truncate.StringWithTail(s, maxLen, "...")
}
