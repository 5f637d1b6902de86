package geomhelp

import (
	"testing"

	"github.com/go-spatial/geom"
	"github.com/stretchr/testify/assert"
)

func TestShoelace(t *testing.T) {
	var tests = []struct {
		pts  [][2]float64
		area float64
	}{
		// Rectangle
		0: {pts: [][2]float64{{0, 0}, {0, 10}, {10, 10}, {10, 0}, {0, 0}}, area: float64(100)},
		// Triangle
		1: {pts: [][2]float64{{0, 0}, {5, 10}, {0, 10}, {0, 0}}, area: float64(25)},
		// Missing 'official closing point
		2: {pts: [][2]float64{{0, 0}, {0, 10}, {10, 10}, {10, 0}}, area: float64(100)},
		// Single point
		3: {pts: [][2]float64{{1234, 4321}}, area: float64(0.000000)},
		// No point
		4: {pts: nil, area: float64(0.000000)},
	}

	for k, test := range tests {
		area := Shoelace(test.pts)
		if area != test.area {
			t.Errorf("test: %d, expected: %f \ngot: %f", k, test.area, area)
		}
	}
}

func TestSignedShoelace(t *testing.T) {
	ccw := [][2]float64{{0, 0}, {10, 0}, {10, 10}, {0, 10}}
	cw := [][2]float64{{0, 0}, {0, 10}, {10, 10}, {10, 0}}
	assert.Equal(t, 100., SignedShoelace(ccw))
	assert.Equal(t, -100., SignedShoelace(cw))
}

func TestArea(t *testing.T) {
	tests := []struct {
		name string
		geom geom.Geometry
		area float64
	}{
		{name: "rectangle", geom: geom.Polygon{{{0, 0}, {0, 10}, {10, 10}, {10, 0}}}, area: 100},
		{name: "rectangle with hole", geom: geom.Polygon{{{0, 0}, {0, 10}, {10, 10}, {10, 0}, {0, 0}}, {{2, 2}, {2, 8}, {8, 8}, {8, 2}, {2, 2}}}, area: 64},
		{name: "rectangle with empty hole", geom: geom.Polygon{{{0, 0}, {0, 10}, {10, 10}, {10, 0}}, {}}, area: 100},
		{name: "multipolygon", geom: geom.MultiPolygon{{{{0, 0}, {0, 1}, {1, 1}, {1, 0}}}, {{{5, 5}, {5, 7}, {7, 7}, {7, 5}}}}, area: 5},
		{name: "linestring", geom: geom.LineString{{0, 0}, {10, 0}}, area: 0},
		{name: "nil", geom: nil, area: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.area, Area(tt.geom))
		})
	}
}

func TestLength(t *testing.T) {
	tests := []struct {
		name   string
		geom   geom.Geometry
		length float64
	}{
		{name: "linestring", geom: geom.LineString{{0, 0}, {3, 4}, {3, 10}}, length: 11},
		{name: "multilinestring", geom: geom.MultiLineString{{{0, 0}, {0, 2}}, {{5, 5}, {8, 5}}}, length: 5},
		{name: "open ring perimeter", geom: geom.Polygon{{{0, 0}, {0, 10}, {10, 10}, {10, 0}}}, length: 40},
		{name: "closed ring perimeter", geom: geom.Polygon{{{0, 0}, {0, 10}, {10, 10}, {10, 0}, {0, 0}}}, length: 40},
		{name: "point", geom: geom.Point{1, 1}, length: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.length, Length(tt.geom))
		})
	}
}

func TestPolygonContains(t *testing.T) {
	donut := [][][2]float64{
		{{0, 0}, {10, 0}, {10, 10}, {0, 10}},
		{{4, 4}, {4, 6}, {6, 6}, {6, 4}},
	}
	tests := []struct {
		name string
		pt   [2]float64
		want bool
	}{
		{name: "inside", pt: [2]float64{1, 1}, want: true},
		{name: "in hole", pt: [2]float64{5, 5}, want: false},
		{name: "on hole edge", pt: [2]float64{4, 5}, want: true},
		{name: "on outer edge", pt: [2]float64{0, 5}, want: true},
		{name: "outside", pt: [2]float64{11, 5}, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, PolygonContains(donut, tt.pt))
		})
	}
}

func TestWktMustEncode(t *testing.T) {
	p := geom.Point{1, 2}
	full := WktMustEncode(p, 0)
	assert.Contains(t, full, "POINT")
	assert.Equal(t, "POI...", WktMustEncode(p, 6))
}
