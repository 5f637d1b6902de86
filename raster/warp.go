package raster

import (
	"fmt"
	"math"

	"github.com/go-spatial/geom"

	"github.com/pdok/utmtiler/crs"
)

type Resampling int

const (
	Bilinear Resampling = iota
	Nearest
)

func (r Resampling) String() string {
	switch r {
	case Bilinear:
		return "bilinear"
	case Nearest:
		return "nearest"
	}
	return fmt.Sprintf("Resampling(%d)", int(r))
}

// WarpedView is a virtual reprojection of a Dataset into another CRS. Its pixel grid covers the
// densified transformed source bounds at the resolution of the source diagonal. Pixels outside
// the source coverage are invalid and read as the nodata value (0 without one).
//
// A WarpedView caches its last sampling plan and is not safe for concurrent use.
type WarpedView struct {
	src           Dataset
	crs           crs.CRS
	transform     Affine
	width, height int
	resampling    Resampling
	nodata        *float64

	toSrc  *crs.Transformer
	srcInv Affine

	plan *samplePlan
}

// NewWarpedView opens a view of src in dst. A nil nodata falls back to the nodata of src.
func NewWarpedView(src Dataset, dst crs.CRS, resampling Resampling, nodata *float64) (*WarpedView, error) {
	if dst.IsZero() {
		dst = src.CRS()
	}
	if src.Width() <= 0 || src.Height() <= 0 {
		return nil, fmt.Errorf("%w: empty raster %dx%d", ErrUnsupportedImage, src.Width(), src.Height())
	}
	srcInv, err := src.Transform().Invert()
	if err != nil {
		return nil, err
	}
	toSrc, err := crs.NewTransformer(dst, src.CRS())
	if err != nil {
		return nil, err
	}
	b, err := crs.TransformBounds(src.CRS(), dst, Bounds(src), crs.DefaultDensifyPts)
	if err != nil {
		return nil, err
	}
	dw, dh := b.MaxX()-b.MinX(), b.MaxY()-b.MinY()
	res := math.Hypot(dw, dh) / math.Hypot(float64(src.Width()), float64(src.Height()))
	if nodata == nil {
		if v, ok := src.Nodata(); ok {
			nodata = &v
		}
	}
	return &WarpedView{
		src:        src,
		crs:        dst,
		transform:  Affine{res, 0, b.MinX(), 0, -res, b.MaxY()},
		width:      max(1, int(math.Ceil(dw/res-windowTolerance))),
		height:     max(1, int(math.Ceil(dh/res-windowTolerance))),
		resampling: resampling,
		nodata:     nodata,
		toSrc:      toSrc,
		srcInv:     srcInv,
	}, nil
}

func (v *WarpedView) CRS() crs.CRS      { return v.crs }
func (v *WarpedView) Transform() Affine { return v.transform }
func (v *WarpedView) Width() int        { return v.width }
func (v *WarpedView) Height() int       { return v.height }
func (v *WarpedView) Count() int        { return v.src.Count() }

func (v *WarpedView) Bounds() geom.Extent {
	return v.transform.Bounds(v.width, v.height)
}

// Window returns the pixel window of bounds in the view grid.
func (v *WarpedView) Window(b geom.Extent) (Window, error) {
	return WindowFromBounds(b, v.transform)
}

// Read resamples the 1-based bands of a window to a width x height block.
func (v *WarpedView) Read(win Window, indexes []int, width, height int) (Array, error) {
	if err := checkBands(v.src, indexes); err != nil {
		return Array{}, err
	}
	plan, err := v.planFor(win, width, height)
	if err != nil {
		return Array{}, err
	}
	fill := 0.0
	if v.nodata != nil {
		fill = *v.nodata
	}
	out := NewArray(len(indexes), height, width)
	for b, band := range indexes {
		plane := out.Band(b)
		for i := range plane {
			plane[i] = v.sample(&plan.kernels[i], band, fill)
		}
	}
	return out, nil
}

// ReadMasks returns the resampled validity mask of a window.
func (v *WarpedView) ReadMasks(win Window, width, height int) ([]uint8, error) {
	plan, err := v.planFor(win, width, height)
	if err != nil {
		return nil, err
	}
	mask := make([]uint8, width*height)
	for i := range plan.kernels {
		if plan.kernels[i].n > 0 {
			mask[i] = 255
		}
	}
	return mask, nil
}

func (v *WarpedView) sample(k *kernel, band int, fill float64) float64 {
	var sum, weights float64
	for j := 0; j < k.n; j++ {
		val := v.src.At(band, k.cols[j], k.rows[j])
		if v.nodata != nil && val == *v.nodata {
			continue
		}
		sum += k.weights[j] * val
		weights += k.weights[j]
	}
	if weights == 0 {
		return fill
	}
	return sum / weights
}

// kernel holds the valid source pixels contributing to one output pixel.
type kernel struct {
	n       int
	cols    [4]int
	rows    [4]int
	weights [4]float64
}

type samplePlan struct {
	window        Window
	width, height int
	kernels       []kernel
}

func (v *WarpedView) planFor(win Window, width, height int) (*samplePlan, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: output shape %dx%d", ErrWindowOutOfRange, width, height)
	}
	if win.Empty() || !win.Within(v.width, v.height) {
		return nil, fmt.Errorf("%w: %s not within %dx%d", ErrWindowOutOfRange, win, v.width, v.height)
	}
	if p := v.plan; p != nil && p.window == win && p.width == width && p.height == height {
		return p, nil
	}

	pts := make([][2]float64, 0, width*height)
	sx, sy := win.Width/float64(width), win.Height/float64(height)
	for row := 0; row < height; row++ {
		for col := 0; col < width; col++ {
			x, y := v.transform.Apply(win.ColOff+(float64(col)+0.5)*sx, win.RowOff+(float64(row)+0.5)*sy)
			pts = append(pts, [2]float64{x, y})
		}
	}
	if err := v.toSrc.TransformRing(pts); err != nil {
		return nil, err
	}

	p := &samplePlan{window: win, width: width, height: height, kernels: make([]kernel, len(pts))}
	for i, pt := range pts {
		c, r := v.srcInv.Apply(pt[0], pt[1])
		v.buildKernel(&p.kernels[i], c, r)
	}
	v.plan = p
	return p, nil
}

func (v *WarpedView) buildKernel(k *kernel, c, r float64) {
	w, h := float64(v.src.Width()), float64(v.src.Height())
	if !(c >= 0 && r >= 0 && c < w && r < h) {
		return
	}
	if v.resampling == Nearest {
		v.addNeighbour(k, int(c), int(r), 1)
		return
	}
	fx, fy := c-0.5, r-0.5
	c0, r0 := math.Floor(fx), math.Floor(fy)
	tx, ty := fx-c0, fy-r0
	ic, ir := int(c0), int(r0)
	v.addNeighbour(k, ic, ir, (1-tx)*(1-ty))
	v.addNeighbour(k, ic+1, ir, tx*(1-ty))
	v.addNeighbour(k, ic, ir+1, (1-tx)*ty)
	v.addNeighbour(k, ic+1, ir+1, tx*ty)
}

func (v *WarpedView) addNeighbour(k *kernel, col, row int, weight float64) {
	if weight <= 0 || col < 0 || row < 0 || col >= v.src.Width() || row >= v.src.Height() {
		return
	}
	if v.src.MaskAt(col, row) == 0 || v.allNodata(col, row) {
		return
	}
	k.cols[k.n], k.rows[k.n], k.weights[k.n] = col, row, weight
	k.n++
}

func (v *WarpedView) allNodata(col, row int) bool {
	if v.nodata == nil {
		return false
	}
	for b := 1; b <= v.src.Count(); b++ {
		if v.src.At(b, col, row) != *v.nodata {
			return false
		}
	}
	return true
}
