package tile

import (
	"context"
	"testing"

	"github.com/go-spatial/geom"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdok/utmtiler/crs"
	"github.com/pdok/utmtiler/grid"
	"github.com/pdok/utmtiler/raster"
)

var (
	utm13      = crs.MustParse("EPSG:32613")
	sourceArea = geom.Extent{600000, 4000000, 600100, 4000100}
)

// source is a 100x100 1 m raster with the given number of bands; band b holds 10*b everywhere.
func source(t *testing.T, bands int) *raster.MemDataset {
	t.Helper()
	arr := raster.NewArray(bands, 100, 100)
	for b := 0; b < bands; b++ {
		plane := arr.Band(b)
		for i := range plane {
			plane[i] = float64(10 * (b + 1))
		}
	}
	return raster.NewMemDataset(utm13, raster.FromBounds(sourceArea, 100, 100), arr)
}

func TestExtractShape(t *testing.T) {
	ds := source(t, 3)
	cell := geom.Extent{600010, 4000010, 600050, 4000050}
	tests := []struct {
		name      string
		indexes   []int
		size      int
		wantBands int
	}{
		{name: "all bands", indexes: nil, size: 16, wantBands: 3},
		{name: "single band", indexes: []int{2}, size: 16, wantBands: 1},
		{name: "band subset", indexes: []int{3, 1}, size: 8, wantBands: 2},
		{name: "upsampled", indexes: []int{1}, size: 80, wantBands: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Extract(ds, cell, tt.size, utm13, Options{Indexes: tt.indexes})
			require.NoError(t, err)
			assert.Equal(t, [3]int{tt.wantBands, tt.size, tt.size}, got.Pixels.Shape())
			assert.Len(t, got.Mask, tt.size*tt.size)
			assert.Equal(t, tt.size, got.Size())
			assert.Equal(t, raster.FromBounds(cell, tt.size, tt.size), got.Transform)
			assert.Equal(t, utm13, got.CRS)
			assert.Equal(t, tt.size*tt.size, got.Valid())
			assert.Len(t, got.Plane(0), tt.size)
			assert.Len(t, got.Plane(0)[0], tt.size)
		})
	}
}

func TestExtractBandValues(t *testing.T) {
	ds := source(t, 3)
	got, err := Extract(ds, geom.Extent{600010, 4000010, 600050, 4000050}, 8, utm13, Options{Indexes: []int{3, 1}})
	require.NoError(t, err)
	for _, v := range got.Pixels.Band(0) {
		assert.InDelta(t, 30, v, 1e-9)
	}
	for _, v := range got.Pixels.Band(1) {
		assert.InDelta(t, 10, v, 1e-9)
	}
}

func TestExtractConflictingMaskSpec(t *testing.T) {
	nodata := 0.0
	opts := Options{Nodata: &nodata, Alpha: 4}
	_, err := Extract(source(t, 4), sourceArea, 8, utm13, opts)
	assert.ErrorIs(t, err, ErrConflictingMaskSpec)
	_, err = ExtractSource(context.Background(), raster.FromDataset(source(t, 4)), sourceArea, 8, utm13, opts)
	assert.ErrorIs(t, err, ErrConflictingMaskSpec)
	_, err = Chip(context.Background(), raster.FromDataset(source(t, 4)), 600000, 4000000, 1, 8, utm13, opts)
	assert.ErrorIs(t, err, ErrConflictingMaskSpec)
}

func TestExtractErrors(t *testing.T) {
	ds := source(t, 1)
	tests := []struct {
		name    string
		cell    geom.Extent
		size    int
		dst     crs.CRS
		opts    Options
		wantErr error
	}{
		{name: "disjoint", cell: geom.Extent{700000, 4000000, 700100, 4000100}, size: 8, dst: utm13, wantErr: ErrTileOutsideBounds},
		{name: "disjoint to the south", cell: geom.Extent{600000, 3000000, 600100, 3000100}, size: 8, dst: crs.MustParse("EPSG:32614"), wantErr: ErrTileOutsideBounds},
		{name: "partially outside", cell: geom.Extent{599950, 4000000, 600050, 4000100}, size: 8, dst: utm13, wantErr: raster.ErrWindowOutOfRange},
		{name: "empty cell", cell: geom.Extent{600010, 4000010, 600010, 4000050}, size: 8, dst: utm13, wantErr: grid.ErrInvalidBounds},
		{name: "zero size", cell: sourceArea, size: 0, dst: utm13, wantErr: ErrInvalidSize},
		{name: "bad band", cell: sourceArea, size: 8, dst: utm13, opts: Options{Indexes: []int{2}}, wantErr: raster.ErrBandIndex},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Extract(ds, tt.cell, tt.size, tt.dst, tt.opts)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Nil(t, got)
		})
	}
}

func TestExtractMasks(t *testing.T) {
	// band 1 is 0 on the western half, band 2 is an alpha band opaque on the northern half
	arr := raster.NewArray(2, 100, 100)
	for row := 0; row < 100; row++ {
		for col := 0; col < 100; col++ {
			if col >= 50 {
				arr.Set(0, row, col, 7)
			}
			if row < 50 {
				arr.Set(1, row, col, 255)
			}
		}
	}
	ds := raster.NewMemDataset(utm13, raster.FromBounds(sourceArea, 100, 100), arr)
	nodata := 0.0

	tests := []struct {
		name  string
		opts  Options
		valid func(row, col int) bool
	}{
		{
			name:  "nodata",
			opts:  Options{Indexes: []int{1}, Nodata: &nodata, Resampling: raster.Nearest},
			valid: func(row, col int) bool { return col >= 5 },
		},
		{
			name:  "alpha",
			opts:  Options{Indexes: []int{1}, Alpha: 2, Resampling: raster.Nearest},
			valid: func(row, col int) bool { return row < 5 },
		},
		{
			name:  "internal mask",
			opts:  Options{Indexes: []int{1}, Resampling: raster.Nearest},
			valid: func(row, col int) bool { return true },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Extract(ds, sourceArea, 10, utm13, tt.opts)
			require.NoError(t, err)
			for row := 0; row < 10; row++ {
				for col := 0; col < 10; col++ {
					want := uint8(0)
					if tt.valid(row, col) {
						want = 255
					}
					assert.Equal(t, want, got.Mask[row*10+col], "row %d col %d", row, col)
				}
			}
		})
	}
}

func TestExtractReprojected(t *testing.T) {
	arr := raster.NewArray(1, 200, 200)
	for i := range arr.Data {
		arr.Data[i] = 99
	}
	ds := raster.NewMemDataset(crs.WGS84, raster.FromBounds(geom.Extent{-105.3, 39.9, -105.1, 40.1}, 200, 200), arr)

	tr, err := crs.NewTransformer(crs.WGS84, utm13)
	require.NoError(t, err)
	c, err := tr.Transform([2]float64{-105.2, 40})
	require.NoError(t, err)
	cell := geom.Extent{c[0], c[1], c[0] + 400, c[1] + 400}

	got, err := Extract(ds, cell, 32, utm13, Options{})
	require.NoError(t, err)
	assert.Equal(t, [3]int{1, 32, 32}, got.Pixels.Shape())
	assert.Equal(t, 32*32, got.Valid())
	for _, v := range got.Pixels.Data {
		assert.InDelta(t, 99, v, 1e-9)
	}

	chip, err := Chip(context.Background(), raster.FromDataset(ds), c[0], c[1], 12.5, 32, crs.CRS{}, Options{})
	require.NoError(t, err)
	assert.Equal(t, utm13, chip.CRS)
	assert.Equal(t, cell, chip.Bounds)
	assert.Equal(t, got.Pixels, chip.Pixels)
}

func TestExtractSource(t *testing.T) {
	ds := source(t, 2)
	got, err := ExtractSource(context.Background(), raster.FromDataset(ds), sourceArea, 4, crs.CRS{}, Options{Indexes: []int{2}})
	require.NoError(t, err)
	assert.Equal(t, utm13, got.CRS)
	assert.Equal(t, [3]int{1, 4, 4}, got.Pixels.Shape())
}
