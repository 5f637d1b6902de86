package raster

import (
	"bufio"
	"bytes"
	"fmt"
	"image"
	"image/color"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/image/tiff"

	"github.com/pdok/utmtiler/crs"
	"github.com/pdok/utmtiler/mathhelp"
)

// DecodeTIFF decodes a TIFF into pixel bands and a validity mask. Gray images give one band,
// images with unassociated alpha four (alpha last), anything else three RGB bands. The mask is
// derived from alpha and is nil for gray images.
func DecodeTIFF(r io.Reader) (Array, []uint8, error) {
	img, err := tiff.Decode(r)
	if err != nil {
		return Array{}, nil, fmt.Errorf("%w: %v", ErrUnsupportedImage, err)
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	switch src := img.(type) {
	case *image.Gray:
		arr := NewArray(1, h, w)
		for row := 0; row < h; row++ {
			for col := 0; col < w; col++ {
				arr.Set(0, row, col, float64(src.GrayAt(b.Min.X+col, b.Min.Y+row).Y))
			}
		}
		return arr, nil, nil
	case *image.Gray16:
		arr := NewArray(1, h, w)
		for row := 0; row < h; row++ {
			for col := 0; col < w; col++ {
				arr.Set(0, row, col, float64(src.Gray16At(b.Min.X+col, b.Min.Y+row).Y))
			}
		}
		return arr, nil, nil
	case *image.NRGBA, *image.NRGBA64:
		arr := NewArray(4, h, w)
		mask := make([]uint8, w*h)
		model := color.NRGBA64Model
		scale := 257.0
		if _, ok := src.(*image.NRGBA); ok {
			model, scale = color.NRGBAModel, 1
		}
		for row := 0; row < h; row++ {
			for col := 0; col < w; col++ {
				var px [4]float64
				switch c := model.Convert(img.At(b.Min.X+col, b.Min.Y+row)).(type) {
				case color.NRGBA:
					px = [4]float64{float64(c.R), float64(c.G), float64(c.B), float64(c.A)}
				case color.NRGBA64:
					px = [4]float64{float64(c.R), float64(c.G), float64(c.B), float64(c.A)}
				}
				for band, v := range px {
					arr.Set(band, row, col, v)
				}
				if px[3] > 0 {
					mask[row*w+col] = uint8(math.Round(px[3] / scale))
				}
			}
		}
		return arr, mask, nil
	}

	arr := NewArray(3, h, w)
	mask := make([]uint8, w*h)
	for row := 0; row < h; row++ {
		for col := 0; col < w; col++ {
			r, g, bl, a := img.At(b.Min.X+col, b.Min.Y+row).RGBA()
			arr.Set(0, row, col, float64(r>>8))
			arr.Set(1, row, col, float64(g>>8))
			arr.Set(2, row, col, float64(bl>>8))
			mask[row*w+col] = uint8(a >> 8)
		}
	}
	return arr, mask, nil
}

// EncodeTIFF encodes pixel bands as a deflate compressed TIFF. One band becomes Gray (Gray16 when
// a value exceeds 255), three bands RGB with the mask as associated alpha, four bands RGB with an
// unassociated alpha band.
func EncodeTIFF(w io.Writer, arr Array, mask []uint8) error {
	var img image.Image
	rect := image.Rect(0, 0, arr.Width, arr.Height)
	switch arr.Bands {
	case 1:
		plane := arr.Band(0)
		wide := false
		for _, v := range plane {
			if v > math.MaxUint8 {
				wide = true
				break
			}
		}
		if wide {
			g := image.NewGray16(rect)
			for i, v := range plane {
				g.SetGray16(i%arr.Width, i/arr.Width, color.Gray16{Y: uint16(clampRound(v, math.MaxUint16))})
			}
			img = g
		} else {
			g := image.NewGray(rect)
			for i, v := range plane {
				g.Pix[i] = uint8(clampRound(v, math.MaxUint8))
			}
			img = g
		}
	case 3:
		rgba := image.NewRGBA(rect)
		for row := 0; row < arr.Height; row++ {
			for col := 0; col < arr.Width; col++ {
				a := uint8(255)
				if mask != nil {
					a = mask[row*arr.Width+col]
				}
				rgba.SetRGBA(col, row, color.RGBA{
					R: premultiply(arr.At(0, row, col), a),
					G: premultiply(arr.At(1, row, col), a),
					B: premultiply(arr.At(2, row, col), a),
					A: a,
				})
			}
		}
		img = rgba
	case 4:
		n := image.NewNRGBA(rect)
		for row := 0; row < arr.Height; row++ {
			for col := 0; col < arr.Width; col++ {
				n.SetNRGBA(col, row, color.NRGBA{
					R: uint8(clampRound(arr.At(0, row, col), math.MaxUint8)),
					G: uint8(clampRound(arr.At(1, row, col), math.MaxUint8)),
					B: uint8(clampRound(arr.At(2, row, col), math.MaxUint8)),
					A: uint8(clampRound(arr.At(3, row, col), math.MaxUint8)),
				})
			}
		}
		img = n
	default:
		return fmt.Errorf("%w: cannot encode %d bands", ErrUnsupportedImage, arr.Bands)
	}
	return tiff.Encode(w, img, &tiff.Options{Compression: tiff.Deflate})
}

func premultiply(v float64, a uint8) uint8 {
	return uint8(clampRound(v, math.MaxUint8) * float64(a) / math.MaxUint8)
}

func clampRound(v, hi float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return mathhelp.Clamp(math.Round(v), 0, hi)
}

// WriteTIFF writes a georeferenced TIFF with .tfw and .prj sidecars.
func WriteTIFF(path string, arr Array, mask []uint8, transform Affine, c crs.CRS) error {
	var buf bytes.Buffer
	if err := EncodeTIFF(&buf, arr, mask); err != nil {
		return err
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return err
	}
	return writeSidecars(path, transform, c)
}

// WriteMaskTIFF writes a single band label image with sidecars.
func WriteMaskTIFF(path string, img *image.Gray, transform Affine, c crs.CRS) error {
	var buf bytes.Buffer
	if err := tiff.Encode(&buf, img, &tiff.Options{Compression: tiff.Deflate}); err != nil {
		return err
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return err
	}
	return writeSidecars(path, transform, c)
}

func writeSidecars(path string, transform Affine, c crs.CRS) error {
	if err := os.WriteFile(WorldFilePath(path), []byte(EncodeWorldFile(transform)), 0o644); err != nil {
		return err
	}
	if c.IsZero() {
		return nil
	}
	return os.WriteFile(PrjPath(path), []byte(c.WKT()), 0o644)
}

// WorldFilePath is the .tfw path of a .tif, otherwise the path with a .wld extension.
func WorldFilePath(path string) string {
	ext := filepath.Ext(path)
	base := strings.TrimSuffix(path, ext)
	switch strings.ToLower(ext) {
	case ".tif", ".tiff":
		return base + ".tfw"
	}
	return base + ".wld"
}

func PrjPath(path string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + ".prj"
}

// EncodeWorldFile renders the six world file lines, which reference pixel centres.
func EncodeWorldFile(a Affine) string {
	cx, cy := a.Apply(0.5, 0.5)
	var sb strings.Builder
	for _, v := range []float64{a[0], a[3], a[1], a[4], cx, cy} {
		sb.WriteString(strconv.FormatFloat(v, 'f', -1, 64))
		sb.WriteByte('\n')
	}
	return sb.String()
}

func DecodeWorldFile(r io.Reader) (Affine, error) {
	var vals []float64
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		v, err := strconv.ParseFloat(line, 64)
		if err != nil {
			return Affine{}, fmt.Errorf("world file: %w", err)
		}
		vals = append(vals, v)
	}
	if err := scanner.Err(); err != nil {
		return Affine{}, err
	}
	if len(vals) != 6 {
		return Affine{}, fmt.Errorf("world file: expected 6 values, got %d", len(vals))
	}
	a, d, b, e, cx, cy := vals[0], vals[1], vals[2], vals[3], vals[4], vals[5]
	return Affine{
		a, b, cx - 0.5*a - 0.5*b,
		d, e, cy - 0.5*d - 0.5*e,
	}, nil
}
