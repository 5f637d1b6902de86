package sindex

import (
	"math"
	"math/rand"
	"testing"

	"github.com/go-spatial/geom"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMorton(t *testing.T) {
	tests := []struct {
		col, row uint64
		want     Z
	}{
		{0, 0, 0},
		{1, 0, 1},
		{0, 1, 2},
		{1, 1, 3},
		{2, 0, 4},
		{3, 3, 15},
		{maxAxis, 0, 0x5555555555555555},
		{maxAxis, maxAxis, math.MaxUint64},
	}
	for _, tt := range tests {
		z := toZ(tt.col, tt.row)
		assert.Equal(t, tt.want, z)
		col, row := fromZ(z)
		assert.Equal(t, tt.col, col)
		assert.Equal(t, tt.row, row)
	}
}

func TestSearch(t *testing.T) {
	boxes := []geom.Extent{
		{0, 0, 10, 10},
		{20, 20, 30, 30},
		{5, 5, 25, 25},
		{100, 100, 101, 101},
		{10, 0, 10, 10}, // degenerate vertical line
	}
	ix := New(boxes)
	assert.Equal(t, 5, ix.Len())
	assert.Equal(t, geom.Extent{0, 0, 101, 101}, ix.Extent())

	tests := []struct {
		name  string
		query geom.Extent
		want  []int
	}{
		{name: "corner", query: geom.Extent{0, 0, 1, 1}, want: []int{0}},
		{name: "touching edge", query: geom.Extent{30, 30, 40, 40}, want: []int{1}},
		{name: "middle", query: geom.Extent{9, 9, 21, 21}, want: []int{0, 1, 2, 4}},
		{name: "far away", query: geom.Extent{200, 200, 300, 300}, want: nil},
		{name: "between", query: geom.Extent{40, 40, 90, 90}, want: nil},
		{name: "everything", query: geom.Extent{-1, -1, 1000, 1000}, want: []int{0, 1, 2, 3, 4}},
		{name: "inverted query", query: geom.Extent{10, 10, 0, 0}, want: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ix.Search(tt.query))
		})
	}
}

func TestSearchMatchesBruteForce(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	boxes := make([]geom.Extent, 500)
	for i := range boxes {
		x, y := r.Float64()*10000, r.Float64()*10000
		boxes[i] = geom.Extent{x, y, x + r.Float64()*300, y + r.Float64()*300}
	}
	ix := New(boxes)
	require.NotEmpty(t, ix.Cells())

	for i := 0; i < 200; i++ {
		x, y := r.Float64()*10000, r.Float64()*10000
		q := geom.Extent{x, y, x + 400, y + 400}
		var want []int
		for id, b := range boxes {
			if overlaps(b, q) {
				want = append(want, id)
			}
		}
		assert.Equal(t, want, ix.Search(q), "query %v", q)
	}
}

func TestEmptyAndInvalid(t *testing.T) {
	assert.Nil(t, New(nil).Search(geom.Extent{0, 0, 1, 1}))

	ix := New([]geom.Extent{{math.NaN(), 0, 1, 1}, {5, 5, 4, 4}})
	assert.Equal(t, 2, ix.Len())
	assert.Nil(t, ix.Search(geom.Extent{-10, -10, 10, 10}))

	single := New([]geom.Extent{{3, 3, 3, 3}})
	assert.Equal(t, []int{0}, single.Search(geom.Extent{0, 0, 3, 3}))
	assert.Nil(t, single.Search(geom.Extent{0, 0, 2.9, 2.9}))
}
