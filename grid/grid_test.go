package grid

import (
	"math"
	"testing"

	"github.com/go-spatial/geom"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var boulder = geom.Extent{658029, 4006947, 658529, 4007447}

func TestAnalysisGridScenario(t *testing.T) {
	cells, err := AnalysisGrid(boulder, 300, 400, false)
	require.NoError(t, err)
	want := Partition[geom.Extent]{0: {{658029, 4006947, 658429, 4007347}}}
	if diff := cmp.Diff(want, cells); diff != "" {
		t.Errorf("AnalysisGrid() mismatch (-want +got):\n%s", diff)
	}

	anchors, err := AnchorPoints(boulder, 300, false, false)
	require.NoError(t, err)
	bucket := anchors.Bucket(0)
	require.Len(t, bucket, 4)
	assert.Equal(t, bucket[0].X(), bucket[1].X())
	assert.Equal(t, 300.0, bucket[1].Y()-bucket[0].Y())
}

func TestAnchorPoints(t *testing.T) {
	tests := []struct {
		name      string
		bounds    geom.Extent
		stride    float64
		extend    bool
		quadSpace bool
		want      Partition[geom.Point]
		wantErr   error
	}{
		{
			name:   "shrinks to the enclosed integer grid",
			bounds: geom.Extent{0.5, 0.5, 2.5, 2.5},
			stride: 1,
			want:   Partition[geom.Point]{0: {{1, 1}}},
		},
		{
			name:   "extends to the enclosing integer grid",
			bounds: geom.Extent{0.5, 0.5, 2.5, 1.5},
			stride: 1,
			extend: true,
			want:   Partition[geom.Point]{0: {{0, 0}, {0, 1}, {1, 0}, {1, 1}, {2, 0}, {2, 1}}},
		},
		{
			name:   "x outer loop, y inner loop",
			bounds: geom.Extent{0, 0, 20, 30},
			stride: 10,
			want:   Partition[geom.Point]{0: {{0, 0}, {0, 10}, {0, 20}, {10, 0}, {10, 10}, {10, 20}}},
		},
		{
			name:      "quadrant spacing",
			bounds:    geom.Extent{0, 0, 20, 30},
			stride:    10,
			quadSpace: true,
			want: Partition[geom.Point]{
				0: {{0, 0}, {0, 20}},
				1: {{0, 10}},
				2: {{10, 0}, {10, 20}},
				3: {{10, 10}},
			},
		},
		{name: "empty bounds", bounds: geom.Extent{1, 0, 1, 5}, stride: 1, wantErr: ErrInvalidBounds},
		{name: "nan bounds", bounds: geom.Extent{0, 0, math.NaN(), 5}, stride: 1, wantErr: ErrInvalidBounds},
		{name: "zero stride", bounds: geom.Extent{0, 0, 5, 5}, stride: 0, wantErr: ErrInvalidStride},
		{name: "negative stride", bounds: geom.Extent{0, 0, 5, 5}, stride: -1, wantErr: ErrInvalidStride},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := AnchorPoints(tt.bounds, tt.stride, tt.extend, tt.quadSpace)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want.Len(), got.Len())
			if diff := cmp.Diff(tt.want.All(), got.All()); diff != "" {
				t.Errorf("AnchorPoints() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestCellsStrictRetention(t *testing.T) {
	bounds := geom.Extent{0, 0, 20, 20}
	anchors := Partition[geom.Point]{0: {{0, 0}, {10, 0}, {0, 10}, {5, 5}}}
	got, err := Cells(anchors, 10, bounds)
	require.NoError(t, err)
	// cells touching the maximum edge are dropped
	assert.Equal(t, []geom.Extent{{0, 0, 10, 10}, {5, 5, 15, 15}}, got.All())

	_, err = Cells(anchors, 0, bounds)
	assert.ErrorIs(t, err, ErrInvalidCellSize)
}

func TestAnalysisGridDeterminism(t *testing.T) {
	bounds := geom.Extent{431234.5, 5812345.25, 436000, 5817000}
	for _, quadSpace := range []bool{false, true} {
		a, err := AnalysisGrid(bounds, 256, 512, quadSpace)
		require.NoError(t, err)
		b, err := AnalysisGrid(bounds, 256, 512, quadSpace)
		require.NoError(t, err)
		if diff := cmp.Diff(a, b); diff != "" {
			t.Errorf("AnalysisGrid(quadSpace=%v) not deterministic:\n%s", quadSpace, diff)
		}
	}
}

func TestAnalysisGridCoverage(t *testing.T) {
	bounds := geom.Extent{431234.5, 5812345.25, 436000, 5817000}
	const cellSize = 512.0
	cells, err := AnalysisGrid(bounds, 300, cellSize, true)
	require.NoError(t, err)
	require.NotZero(t, cells.Len())
	for _, c := range cells.All() {
		assert.GreaterOrEqual(t, c.MinX(), bounds.MinX())
		assert.GreaterOrEqual(t, c.MinY(), bounds.MinY())
		assert.Less(t, c.MaxX(), bounds.MaxX())
		assert.Less(t, c.MaxY(), bounds.MaxY())
		assert.Equal(t, cellSize, c.MaxX()-c.MinX())
		assert.Equal(t, cellSize, c.MaxY()-c.MinY())
	}
}

func TestAnchorSpacing(t *testing.T) {
	bounds := geom.Extent{1000.2, 2000.7, 4000, 3500}
	const stride = 250.0
	anchors, err := AnchorPoints(bounds, stride, false, false)
	require.NoError(t, err)
	pts := anchors.Bucket(0)
	require.Greater(t, len(pts), 2)
	for i := 1; i < len(pts); i++ {
		prev, cur := pts[i-1], pts[i]
		if prev.X() == cur.X() {
			assert.Equal(t, stride, cur.Y()-prev.Y())
		} else {
			assert.Equal(t, stride, cur.X()-prev.X())
		}
	}
}

func TestQuadrantPartition(t *testing.T) {
	bounds := geom.Extent{0, 0, 5000, 3000}
	single, err := AnchorPoints(bounds, 200, false, false)
	require.NoError(t, err)
	quad, err := AnchorPoints(bounds, 200, false, true)
	require.NoError(t, err)

	assert.Equal(t, []Quadrant{0}, single.Quadrants())
	assert.Equal(t, []Quadrant{0, 1, 2, 3}, quad.Quadrants())

	seen := make(map[geom.Point]Quadrant)
	for _, q := range quad.Quadrants() {
		for _, p := range quad.Bucket(q) {
			prev, dup := seen[p]
			assert.False(t, dup, "anchor %v in both quadrant %d and %d", p, prev, q)
			seen[p] = q
		}
	}
	assert.Len(t, seen, single.Len())
	for _, p := range single.Bucket(0) {
		assert.Contains(t, seen, p)
	}

	singleCells, err := Cells(single, 400, bounds)
	require.NoError(t, err)
	quadCells, err := Cells(quad, 400, bounds)
	require.NoError(t, err)
	assert.ElementsMatch(t, singleCells.All(), quadCells.All())
}

func TestQuadrantOf(t *testing.T) {
	assert.Equal(t, Quadrant(0), QuadrantOf(0, 0))
	assert.Equal(t, Quadrant(1), QuadrantOf(0, 1))
	assert.Equal(t, Quadrant(2), QuadrantOf(1, 0))
	assert.Equal(t, Quadrant(3), QuadrantOf(1, 1))
	assert.Equal(t, Quadrant(3), QuadrantOf(5, 7))
}

func TestChipBounds(t *testing.T) {
	assert.Equal(t, geom.Extent{100, 200, 100 + 0.5*512, 200 + 0.5*512}, ChipBounds(100, 200, 0.5, 512))
}
