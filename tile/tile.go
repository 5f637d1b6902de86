// Package tile extracts fixed-size, reprojected pixel tiles with a validity mask for a cell.
package tile

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/go-spatial/geom"

	"github.com/pdok/utmtiler/crs"
	"github.com/pdok/utmtiler/grid"
	"github.com/pdok/utmtiler/raster"
)

var (
	ErrConflictingMaskSpec = errors.New("cannot pass both nodata and alpha")
	ErrTileOutsideBounds   = errors.New("tile is outside image bounds")
	ErrInvalidSize         = errors.New("tile size must be positive")
)

// Options controls band selection and mask derivation. Nodata and Alpha are mutually exclusive;
// without either the mask is the resampled validity mask of the source.
type Options struct {
	// Indexes are 1-based band numbers, all bands when empty.
	Indexes []int
	Nodata  *float64
	// Alpha is the 1-based alpha band, 0 for none.
	Alpha      int
	Resampling raster.Resampling
}

// Validate checks the mask specification.
func (o Options) Validate() error {
	if o.Nodata != nil && o.Alpha != 0 {
		return ErrConflictingMaskSpec
	}
	if o.Alpha < 0 {
		return fmt.Errorf("%w: alpha %d", raster.ErrBandIndex, o.Alpha)
	}
	return nil
}

// Tile is one extracted tile. Pixels has shape (len(indexes), size, size) and Mask (size, size).
// Transform maps the size x size grid onto the requested cell, independent of Window.
type Tile struct {
	Pixels    raster.Array
	Mask      []uint8
	Window    raster.Window
	Transform raster.Affine
	CRS       crs.CRS
	Bounds    geom.Extent
}

func (t *Tile) Size() int {
	return t.Pixels.Width
}

// Plane returns the 0-based band as rows, the 2-D form of a single band request.
func (t *Tile) Plane(band int) [][]float64 {
	data := t.Pixels.Band(band)
	rows := make([][]float64, t.Pixels.Height)
	for r := range rows {
		rows[r] = data[r*t.Pixels.Width : (r+1)*t.Pixels.Width]
	}
	return rows
}

// Valid counts the valid pixels of the mask.
func (t *Tile) Valid() int {
	n := 0
	for _, m := range t.Mask {
		if m != 0 {
			n++
		}
	}
	return n
}

// Extract reads cell from src reprojected into dst as a size x size tile. A zero dst keeps the
// CRS of src.
func Extract(src raster.Dataset, cell geom.Extent, size int, dst crs.CRS, opts Options) (*Tile, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if err := grid.ValidateBounds(cell); err != nil {
		return nil, err
	}
	if size <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSize, size)
	}
	if dst.IsZero() {
		dst = src.CRS()
	}
	indexes := opts.Indexes
	if len(indexes) == 0 {
		indexes = make([]int, src.Count())
		for i := range indexes {
			indexes[i] = i + 1
		}
	}

	srcBounds, err := crs.TransformBounds(src.CRS(), dst, raster.Bounds(src), crs.DefaultDensifyPts)
	if err != nil {
		return nil, err
	}
	if !intersects(srcBounds, cell) {
		return nil, fmt.Errorf("%w: tile %v, image %v", ErrTileOutsideBounds, cell, srcBounds)
	}

	view, err := raster.NewWarpedView(src, dst, opts.Resampling, opts.Nodata)
	if err != nil {
		return nil, err
	}
	window, err := view.Window(cell)
	if err != nil {
		return nil, err
	}
	pixels, err := view.Read(window, indexes, size, size)
	if err != nil {
		return nil, fmt.Errorf("reading tile %v: %w", cell, err)
	}
	mask, err := readMask(view, window, pixels, size, opts)
	if err != nil {
		return nil, fmt.Errorf("reading mask of tile %v: %w", cell, err)
	}
	return &Tile{
		Pixels:    pixels,
		Mask:      mask,
		Window:    window,
		Transform: raster.FromBounds(cell, size, size),
		CRS:       dst,
		Bounds:    cell,
	}, nil
}

func readMask(view *raster.WarpedView, window raster.Window, pixels raster.Array, size int, opts Options) ([]uint8, error) {
	switch {
	case opts.Nodata != nil:
		mask := make([]uint8, size*size)
		for i := range mask {
			mask[i] = 255
			for b := 0; b < pixels.Bands; b++ {
				if pixels.Band(b)[i] == *opts.Nodata {
					mask[i] = 0
					break
				}
			}
		}
		return mask, nil
	case opts.Alpha != 0:
		alpha, err := view.Read(window, []int{opts.Alpha}, size, size)
		if err != nil {
			return nil, err
		}
		mask := make([]uint8, size*size)
		for i, v := range alpha.Data {
			mask[i] = uint8(math.Max(0, math.Min(255, math.Round(v))))
		}
		return mask, nil
	}
	return view.ReadMasks(window, size, size)
}

// intersects is a closed box test, touching edges count.
func intersects(a, b geom.Extent) bool {
	return a.MinX() <= b.MaxX() && b.MinX() <= a.MaxX() && a.MinY() <= b.MaxY() && b.MinY() <= a.MaxY()
}

// ExtractSource opens src, extracts one tile and releases src again.
func ExtractSource(ctx context.Context, src raster.Source, cell geom.Extent, size int, dst crs.CRS, opts Options) (*Tile, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	ds, release, err := src.Open(ctx)
	if err != nil {
		return nil, err
	}
	defer release()
	return Extract(ds, cell, size, dst, opts)
}

// Chip extracts the size x size tile of gsd metre pixels with lower-left corner (llx, lly). A zero
// dst resolves the UTM zone from the geographic bounds of src.
func Chip(ctx context.Context, src raster.Source, llx, lly, gsd float64, size int, dst crs.CRS, opts Options) (*Tile, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	ds, release, err := src.Open(ctx)
	if err != nil {
		return nil, err
	}
	defer release()
	if dst.IsZero() {
		if _, dst, err = raster.UTMBounds(ds, crs.CRS{}); err != nil {
			return nil, err
		}
	}
	return Extract(ds, grid.ChipBounds(llx, lly, gsd, size), size, dst, opts)
}
