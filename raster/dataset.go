// Package raster is the raster collaborator of the tiler: georeferenced datasets, their TIFF
// codec, and a reprojecting view that resamples a dataset into another CRS.
package raster

import (
	"errors"
	"fmt"

	"github.com/go-spatial/geom"

	"github.com/pdok/utmtiler/crs"
)

var (
	ErrWindowOutOfRange = errors.New("window outside of the raster")
	ErrBandIndex        = errors.New("band index out of range")
	ErrUnsupportedImage = errors.New("unsupported image")
)

// Dataset is a read-only georeferenced raster. Band indexes are 1-based.
type Dataset interface {
	CRS() crs.CRS
	Transform() Affine
	Width() int
	Height() int
	Count() int
	Nodata() (float64, bool)
	At(band, col, row int) float64
	// MaskAt is 0 for invalid and 255 for valid pixels.
	MaskAt(col, row int) uint8
}

// Bounds returns the extent of a dataset in its own CRS.
func Bounds(ds Dataset) geom.Extent {
	return ds.Transform().Bounds(ds.Width(), ds.Height())
}

// GeographicBounds returns the dataset bounds in WGS 84 longitude/latitude.
func GeographicBounds(ds Dataset) (geom.Extent, error) {
	return crs.TransformBounds(ds.CRS(), crs.WGS84, Bounds(ds), crs.DefaultDensifyPts)
}

// UTMBounds returns the dataset bounds in the given UTM CRS, or in the UTM zone of the
// dataset's centre when utm is the zero CRS.
func UTMBounds(ds Dataset, utm crs.CRS) (geom.Extent, crs.CRS, error) {
	if utm.IsZero() {
		wgs, err := GeographicBounds(ds)
		if err != nil {
			return geom.Extent{}, crs.CRS{}, err
		}
		if utm, err = crs.ResolveUTM(wgs[:]...); err != nil {
			return geom.Extent{}, crs.CRS{}, err
		}
	}
	b, err := crs.TransformBounds(ds.CRS(), utm, Bounds(ds), crs.DefaultDensifyPts)
	return b, utm, err
}

func checkBands(ds Dataset, indexes []int) error {
	for _, i := range indexes {
		if i < 1 || i > ds.Count() {
			return fmt.Errorf("%w: %d not in [1, %d]", ErrBandIndex, i, ds.Count())
		}
	}
	return nil
}

// MemDataset is an in-memory Dataset.
type MemDataset struct {
	crs       crs.CRS
	transform Affine
	pixels    Array
	nodata    *float64
	mask      []uint8
}

func NewMemDataset(c crs.CRS, transform Affine, pixels Array) *MemDataset {
	return &MemDataset{crs: c, transform: transform, pixels: pixels}
}

// SetNodata marks pixels whose bands all equal v as invalid.
func (m *MemDataset) SetNodata(v float64) *MemDataset {
	m.nodata = &v
	return m
}

// SetMask sets an explicit row-major validity mask.
func (m *MemDataset) SetMask(mask []uint8) *MemDataset {
	m.mask = mask
	return m
}

func (m *MemDataset) CRS() crs.CRS      { return m.crs }
func (m *MemDataset) Transform() Affine { return m.transform }
func (m *MemDataset) Width() int        { return m.pixels.Width }
func (m *MemDataset) Height() int       { return m.pixels.Height }
func (m *MemDataset) Count() int        { return m.pixels.Bands }
func (m *MemDataset) Pixels() Array     { return m.pixels }

func (m *MemDataset) Nodata() (float64, bool) {
	if m.nodata == nil {
		return 0, false
	}
	return *m.nodata, true
}

func (m *MemDataset) At(band, col, row int) float64 {
	return m.pixels.At(band-1, row, col)
}

func (m *MemDataset) MaskAt(col, row int) uint8 {
	if m.mask != nil && m.mask[row*m.pixels.Width+col] == 0 {
		return 0
	}
	if m.nodata != nil {
		for b := 0; b < m.pixels.Bands; b++ {
			if m.pixels.At(b, row, col) != *m.nodata {
				return 255
			}
		}
		return 0
	}
	return 255
}
