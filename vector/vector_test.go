package vector

import (
	"bytes"
	"math"
	"math/rand"
	"strings"
	"testing"

	"github.com/go-spatial/geom"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdok/utmtiler/crs"
	"github.com/pdok/utmtiler/geomhelp"
)

var square = geom.Polygon{{{0, 0}, {10, 0}, {10, 10}, {0, 10}, {0, 0}}}

func collectionOf(c crs.CRS, geoms ...geom.Geometry) *Collection {
	features := make([]Feature, len(geoms))
	for i, g := range geoms {
		props := NewProperties()
		props.Set("id", i)
		features[i] = Feature{Geometry: g, Properties: props}
	}
	return NewCollection(c, features)
}

func TestParseGeometryKind(t *testing.T) {
	tests := []struct {
		in      string
		want    GeometryKind
		wantErr bool
	}{
		{in: "Polygon", want: Polygon},
		{in: "polygon", want: Polygon},
		{in: "LINESTRING", want: LineString},
		{in: "Point", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseGeometryKind(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidGeometryKind)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			text, err := got.MarshalText()
			require.NoError(t, err)
			var back GeometryKind
			require.NoError(t, back.UnmarshalText(text))
			assert.Equal(t, got, back)
		})
	}
}

func TestIntersects(t *testing.T) {
	withHole := geom.Polygon{
		{{0, 0}, {10, 0}, {10, 10}, {0, 10}, {0, 0}},
		{{2, 2}, {8, 2}, {8, 8}, {2, 8}, {2, 2}},
	}
	tests := []struct {
		name string
		g    geom.Geometry
		cell geom.Extent
		want bool
	}{
		{name: "cell inside polygon", g: square, cell: geom.Extent{2, 2, 3, 3}, want: true},
		{name: "overlap", g: square, cell: geom.Extent{5, 5, 15, 15}, want: true},
		{name: "touching edge", g: square, cell: geom.Extent{10, 0, 20, 10}, want: true},
		{name: "disjoint", g: square, cell: geom.Extent{20, 20, 30, 30}, want: false},
		{name: "cell inside hole", g: withHole, cell: geom.Extent{4, 4, 5, 5}, want: false},
		{name: "cell across hole boundary", g: withHole, cell: geom.Extent{1, 4, 5, 5}, want: true},
		{name: "hole inside cell", g: withHole, cell: geom.Extent{1, 1, 9, 9}, want: true},
		{name: "line crossing without vertices", g: geom.LineString{{-5, 5}, {15, 5}}, cell: geom.Extent{0, 0, 10, 10}, want: true},
		{name: "line beside", g: geom.LineString{{-5, 20}, {15, 20}}, cell: geom.Extent{0, 0, 10, 10}, want: false},
		{name: "line in bbox only", g: geom.LineString{{-5, 4}, {4, -5}}, cell: geom.Extent{0, 0, 10, 10}, want: false},
		{name: "point on edge", g: geom.Point{10, 3}, cell: geom.Extent{0, 0, 10, 10}, want: true},
		{name: "multipolygon", g: geom.MultiPolygon{{{{20, 20}, {21, 20}, {21, 21}, {20, 20}}}, square}, cell: geom.Extent{1, 1, 2, 2}, want: true},
		{name: "nil", g: nil, cell: geom.Extent{0, 0, 10, 10}, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Intersects(tt.g, tt.cell))
		})
	}
}

var (
	uShape = geom.Polygon{{{0, 0}, {10, 0}, {10, 10}, {7, 10}, {7, 2}, {3, 2}, {3, 10}, {0, 10}}}
	// hole given counterclockwise, like the shell
	squareWithHole = geom.Polygon{
		{{0, 0}, {10, 0}, {10, 10}, {0, 10}, {0, 0}},
		{{4, 4}, {6, 4}, {6, 6}, {4, 6}, {4, 4}},
	}
)

func TestClipPolygons(t *testing.T) {
	tests := []struct {
		name          string
		g             geom.Geometry // square when nil
		cell          geom.Extent
		wantKept      bool
		wantPartial   float64
		wantTruncated bool
		wantArea      float64
		wantParts     int
	}{
		{name: "fully inside", cell: geom.Extent{-1, -1, 11, 11}, wantKept: true, wantPartial: 1, wantArea: 100},
		{name: "quarter", cell: geom.Extent{5, 5, 15, 15}, wantKept: true, wantPartial: 0.25, wantTruncated: true, wantArea: 25},
		{name: "half", cell: geom.Extent{-5, 5, 15, 15}, wantKept: true, wantPartial: 0.5, wantTruncated: true, wantArea: 50},
		{name: "sliver", cell: geom.Extent{9.5, 0, 20, 10}, wantKept: false},
		{name: "exactly the minimum", cell: geom.Extent{9, 0, 20, 10}, wantKept: false},
		{name: "touching edge only", cell: geom.Extent{10, 0, 20, 10}, wantKept: false},
		{name: "disjoint", cell: geom.Extent{20, 20, 30, 30}, wantKept: false},
		{
			name: "concave falls apart", g: uShape, cell: geom.Extent{-1, 5, 11, 11},
			wantKept: true, wantPartial: 30. / 68, wantTruncated: true, wantArea: 30, wantParts: 2,
		},
		{
			name: "concave kept whole below the notch", g: uShape, cell: geom.Extent{-1, -1, 11, 1},
			wantKept: true, wantPartial: 10. / 68, wantTruncated: true, wantArea: 10,
		},
		{
			name: "hole crossing the edge", g: squareWithHole, cell: geom.Extent{5, 0, 11, 11},
			wantKept: true, wantPartial: 0.5, wantTruncated: true, wantArea: 48,
		},
		{
			name: "hole outside the cell", g: squareWithHole, cell: geom.Extent{7, 0, 11, 11},
			wantKept: true, wantPartial: 30. / 96, wantTruncated: true, wantArea: 30,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := tt.g
			if g == nil {
				g = square
			}
			c := collectionOf(crs.MustParse("EPSG:32631"), g)
			got, err := Clip(c, tt.cell, Polygon, DefaultMinPartialFraction)
			require.NoError(t, err)
			assert.Equal(t, c.CRS, got.CRS)
			if !tt.wantKept {
				assert.Equal(t, 0, got.Len())
				return
			}
			require.Equal(t, 1, got.Len())
			f := got.Features[0]
			assert.Equal(t, geomhelp.Area(g), f.OrigArea)
			assert.Zero(t, f.OrigLen, "polygons carry no length")
			assert.InDelta(t, tt.wantPartial, f.PartialDec, 1e-12)
			assert.Equal(t, tt.wantTruncated, f.Truncated)
			assert.InDelta(t, tt.wantArea, geomhelp.Area(f.Geometry), 1e-9)
			wantParts := max(tt.wantParts, 1)
			assert.Equal(t, wantParts, partCount(f.Geometry))
			assert.Empty(t, repeatedEdges(f.Geometry), "parts must not be bridged")
			id, _ := f.Properties.Get("id")
			assert.Equal(t, 0, id)
		})
	}
	// source features are left alone
	c := collectionOf(crs.WGS84, square)
	_, err := Clip(c, geom.Extent{5, 5, 15, 15}, Polygon, 0)
	require.NoError(t, err)
	assert.Equal(t, geom.Geometry(square), c.Features[0].Geometry)
	assert.False(t, c.Features[0].Measured)
}

func partCount(g geom.Geometry) int {
	switch g := g.(type) {
	case geom.Polygon:
		return 1
	case geom.MultiPolygon:
		return len(g)
	}
	return 0
}

// repeatedEdges lists edges walked more than once, in either direction, by the rings of g.
func repeatedEdges(g geom.Geometry) []geom.Line {
	var rings [][][2]float64
	switch g := g.(type) {
	case geom.Polygon:
		rings = g
	case geom.MultiPolygon:
		for _, p := range g {
			rings = append(rings, p...)
		}
	}
	seen := make(map[geom.Line]bool)
	var repeated []geom.Line
	for _, r := range rings {
		for i := 0; i+1 < len(r); i++ {
			e := geom.Line{r[i], r[i+1]}
			if seen[e] || seen[geom.Line{e[1], e[0]}] {
				repeated = append(repeated, e)
			}
			seen[e] = true
		}
	}
	return repeated
}

func TestClipGeometryParts(t *testing.T) {
	tests := []struct {
		name string
		g    geom.Geometry
		cell geom.Extent
		want geom.Geometry
	}{
		{
			name: "concave polygon split in two",
			g:    uShape,
			cell: geom.Extent{-1, 5, 11, 11},
			want: geom.MultiPolygon{
				{{{10, 5}, {10, 10}, {7, 10}, {7, 5}, {10, 5}}},
				{{{3, 5}, {3, 10}, {0, 10}, {0, 5}, {3, 5}}},
			},
		},
		{
			name: "hole opened up into the shell",
			g:    squareWithHole,
			cell: geom.Extent{5, 0, 11, 11},
			want: geom.Polygon{{{5, 0}, {10, 0}, {10, 10}, {5, 10}, {5, 6}, {6, 6}, {6, 4}, {5, 4}, {5, 0}}},
		},
		{
			name: "hole stays a hole",
			g:    squareWithHole,
			cell: geom.Extent{3, -1, 11, 11},
			want: geom.Polygon{
				{{3, 0}, {10, 0}, {10, 10}, {3, 10}, {3, 0}},
				{{4, 6}, {6, 6}, {6, 4}, {4, 4}, {4, 6}},
			},
		},
		{
			name: "cell inside the hole",
			g:    squareWithHole,
			cell: geom.Extent{4.5, 4.5, 5.5, 5.5},
			want: nil,
		},
		{
			name: "cell inside the shell",
			g:    uShape,
			cell: geom.Extent{1, 1, 2, 2},
			want: geom.Polygon{{{1, 2}, {1, 1}, {2, 1}, {2, 2}, {1, 2}}},
		},
		{
			name: "multipolygon parts are flattened",
			g:    geom.MultiPolygon{uShape, {{{20, 20}, {21, 20}, {21, 21}, {20, 20}}}},
			cell: geom.Extent{-1, 5, 11, 11},
			want: geom.MultiPolygon{
				{{{10, 5}, {10, 10}, {7, 10}, {7, 5}, {10, 5}}},
				{{{3, 5}, {3, 10}, {0, 10}, {0, 5}, {3, 5}}},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClipGeometry(tt.g, tt.cell)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("ClipGeometry mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestClipIdempotent(t *testing.T) {
	cell := geom.Extent{5, 5, 15, 15}
	c := collectionOf(crs.WGS84, square, geom.Polygon{{{6, 6}, {7, 6}, {7, 7}, {6, 6}}})

	once, err := VectorTile(c, cell, Polygon)
	require.NoError(t, err)
	require.Equal(t, 2, once.Len())
	contained := once.Features[1]
	assert.Equal(t, 1., contained.PartialDec)
	assert.False(t, contained.Truncated)

	twice, err := VectorTile(once, cell, Polygon)
	require.NoError(t, err)
	if diff := cmp.Diff(once.Features, twice.Features, cmpopts.IgnoreFields(Feature{}, "Properties")); diff != "" {
		t.Errorf("second clip mismatch (-once +twice):\n%s", diff)
	}
}

func TestClipAreaMonotonic(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	var geoms []geom.Geometry
	for i := 0; i < 200; i++ {
		cx, cy := r.Float64()*1000, r.Float64()*1000
		var ring [][2]float64
		n := 3 + r.Intn(8)
		for k := 0; k < n; k++ {
			a := 2 * math.Pi * float64(k) / float64(n)
			rad := 10 + r.Float64()*40
			ring = append(ring, [2]float64{cx + rad*math.Cos(a), cy + rad*math.Sin(a)})
		}
		geoms = append(geoms, geom.Polygon{ring})
	}
	c := collectionOf(crs.WGS84, geoms...)
	c.Measure()

	for i := 0; i < 50; i++ {
		x, y := r.Float64()*1000, r.Float64()*1000
		cell := geom.Extent{x, y, x + 100, y + 100}
		got, err := VectorTile(c, cell, Polygon)
		require.NoError(t, err)
		for _, f := range got.Features {
			area := geomhelp.Area(f.Geometry)
			assert.LessOrEqual(t, area, f.OrigArea*(1+1e-12))
			assert.Greater(t, f.PartialDec, DefaultMinPartialFraction)
			assert.Equal(t, f.PartialDec != 1, f.Truncated)
			e, ok := extentOf(f.Geometry)
			require.True(t, ok)
			assert.True(t, e.MinX() >= cell.MinX()-1e-9 && e.MaxX() <= cell.MaxX()+1e-9, "x range %v", e)
			assert.True(t, e.MinY() >= cell.MinY()-1e-9 && e.MaxY() <= cell.MaxY()+1e-9, "y range %v", e)
		}
	}
}

func TestClipLines(t *testing.T) {
	cell := geom.Extent{0, 0, 10, 10}
	tests := []struct {
		name string
		g    geom.Geometry
		want geom.Geometry
	}{
		{
			name: "crossing",
			g:    geom.LineString{{-5, 5}, {15, 5}},
			want: geom.LineString{{0, 5}, {10, 5}},
		},
		{
			name: "inside",
			g:    geom.LineString{{1, 1}, {2, 2}, {3, 1}},
			want: geom.LineString{{1, 1}, {2, 2}, {3, 1}},
		},
		{
			name: "leaving and entering",
			g:    geom.LineString{{2, -5}, {2, 5}, {20, 5}, {20, 8}, {5, 8}, {5, 20}},
			want: geom.MultiLineString{{{2, 0}, {2, 5}, {10, 5}}, {{10, 8}, {5, 8}, {5, 10}}},
		},
		{
			name: "bounding box only",
			g:    geom.LineString{{-5, 4}, {4, -5}},
			want: nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := collectionOf(crs.WGS84, tt.g)
			got, err := Clip(c, cell, LineString, 0.99)
			require.NoError(t, err)
			if tt.want == nil {
				assert.Equal(t, 0, got.Len())
				return
			}
			require.Equal(t, 1, got.Len())
			f := got.Features[0]
			assert.Equal(t, tt.want, f.Geometry)
			// lines keep their full fraction whatever was cut off
			assert.Equal(t, 1., f.PartialDec)
			assert.False(t, f.Truncated)
			assert.Equal(t, geomhelp.Length(tt.g), f.OrigLen)
			assert.Zero(t, f.OrigArea)
		})
	}
}

func TestClipKindMismatchAndErrors(t *testing.T) {
	cell := geom.Extent{0, 0, 10, 10}
	lines := collectionOf(crs.WGS84, geom.LineString{{1, 1}, {2, 2}})

	got, err := Clip(lines, cell, Polygon, DefaultMinPartialFraction)
	require.NoError(t, err)
	assert.Equal(t, 0, got.Len(), "lines have no area to keep")

	polygons := collectionOf(crs.WGS84, square)
	got, err = Clip(polygons, geom.Extent{5, 5, 15, 15}, LineString, 0)
	require.NoError(t, err)
	require.Equal(t, 1, got.Len())
	assert.Equal(t, 40., got.Features[0].OrigLen)
	assert.Zero(t, got.Features[0].OrigArea, "lines carry no area")

	_, err = Clip(lines, cell, GeometryKind(0), 0)
	assert.ErrorIs(t, err, ErrInvalidGeometryKind)

	empty, err := VectorTile(NewCollection(crs.WGS84, nil), cell, LineString)
	require.NoError(t, err)
	assert.Equal(t, 0, empty.Len())
	assert.Equal(t, crs.WGS84, empty.CRS)
}

func TestBoundsAndSearch(t *testing.T) {
	c := collectionOf(crs.WGS84, square, nil, geom.LineString{{20, 20}, {30, 25}}, geom.Point{-3, 4})
	b, ok := c.Bounds()
	require.True(t, ok)
	assert.Equal(t, geom.Extent{-3, 0, 30, 25}, b)
	assert.Equal(t, []int{0}, c.Search(geom.Extent{1, 1, 2, 2}))
	assert.Equal(t, []int{0, 2}, c.Search(geom.Extent{5, 5, 25, 25}))

	_, ok = NewCollection(crs.WGS84, nil).Bounds()
	assert.False(t, ok)
}

func TestReproject(t *testing.T) {
	utm31, err := crs.UTM(31, true)
	require.NoError(t, err)
	ring := [][2]float64{{3, 50}, {3.01, 50}, {3.01, 50.01}, {3, 50.01}, {3, 50}}
	c := collectionOf(crs.WGS84, geom.Polygon{ring}, geom.Point{3, 50})

	got, err := c.Reproject(utm31)
	require.NoError(t, err)
	assert.Equal(t, utm31, got.CRS)
	require.Equal(t, 2, got.Len())

	tr, err := crs.NewTransformer(crs.WGS84, utm31)
	require.NoError(t, err)
	want, err := tr.Transform([2]float64{3, 50})
	require.NoError(t, err)
	assert.Equal(t, geom.Point(want), got.Features[1].Geometry)
	assert.InDelta(t, 500000., want[0], 1e-6)

	poly := got.Features[0].Geometry.(geom.Polygon)
	assert.Equal(t, geom.Point(want), geom.Point(poly[0][0]))
	// about 717m x 1112m
	assert.InDelta(t, 717*1112, geomhelp.Area(poly), 717*1112*0.01)
	assert.Equal(t, ring[0], c.Features[0].Geometry.(geom.Polygon)[0][0], "source left alone")

	same, err := got.Reproject(utm31)
	require.NoError(t, err)
	assert.Equal(t, got.Features, same.Features)

	_, err = c.Reproject(crs.CRS{})
	assert.ErrorIs(t, err, crs.ErrUnsupportedCRS)
}

const labelsGeoJSON = `{
  "type": "FeatureCollection",
  "crs": {"type": "name", "properties": {"name": "urn:ogc:def:crs:EPSG::32631"}},
  "features": [
    {"type": "Feature", "properties": {"name": "field", "class": 3},
     "geometry": {"type": "Polygon", "coordinates": [[[0,0],[10,0],[10,10],[0,10],[0,0]]]}},
    {"type": "Feature", "properties": {"name": "nothing"}, "geometry": null}
  ]
}`

func TestGeoJSON(t *testing.T) {
	c, err := ReadGeoJSON(strings.NewReader(labelsGeoJSON), crs.CRS{})
	require.NoError(t, err)
	assert.Equal(t, crs.MustParse("EPSG:32631"), c.CRS)
	require.Equal(t, 2, c.Len())
	assert.Nil(t, c.Features[1].Geometry)
	assert.InDelta(t, 100., geomhelp.Area(c.Features[0].Geometry), 1e-9)

	clipped, err := VectorTile(c, geom.Extent{5, 0, 15, 10}, Polygon)
	require.NoError(t, err)
	require.Equal(t, 1, clipped.Len())

	var buf bytes.Buffer
	require.NoError(t, WriteGeoJSON(&buf, clipped, true))
	back, err := ReadGeoJSON(&buf, crs.WGS84)
	require.NoError(t, err)
	assert.Equal(t, c.CRS, back.CRS)
	require.Equal(t, 1, back.Len())

	props := back.Features[0].Properties
	var keys []string
	for pair := props.Oldest(); pair != nil; pair = pair.Next() {
		keys = append(keys, pair.Key)
	}
	assert.Equal(t, []string{"name", "class", PropOrigArea, PropOrigLen, PropPartialDec, PropTruncated}, keys)
	partial, _ := props.Get(PropPartialDec)
	assert.Equal(t, 0.5, partial)
	truncated, _ := props.Get(PropTruncated)
	assert.Equal(t, 1., truncated)
	origLen, _ := props.Get(PropOrigLen)
	assert.Equal(t, 0., origLen)
	assert.InDelta(t, 50., geomhelp.Area(back.Features[0].Geometry), 1e-9)
}

func TestGeoJSONDefaults(t *testing.T) {
	noCRS := `{"type": "FeatureCollection", "features": [{"type": "Feature", "geometry": {"type": "Point", "coordinates": [5, 52]}}]}`
	c, err := ReadGeoJSON(strings.NewReader(noCRS), crs.CRS{})
	require.NoError(t, err)
	assert.Equal(t, crs.WGS84, c.CRS)
	require.Equal(t, 1, c.Len())
	assert.Equal(t, 0, c.Features[0].Properties.Len())
	assert.Equal(t, geom.Geometry(geom.Point{5, 52}), c.Features[0].Geometry)

	_, err = ReadGeoJSON(strings.NewReader(`{"type": "Feature"}`), crs.WGS84)
	assert.Error(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteGeoJSON(&buf, NewCollection(crs.WGS84, nil), true))
	assert.Contains(t, buf.String(), `"features":[]`)
}
