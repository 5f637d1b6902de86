package raster

// Array is a band-major (band, row, col) pixel block.
type Array struct {
	Bands, Height, Width int
	Data                 []float64
}

func NewArray(bands, height, width int) Array {
	return Array{Bands: bands, Height: height, Width: width, Data: make([]float64, bands*height*width)}
}

// Shape returns (bands, height, width).
func (a Array) Shape() [3]int {
	return [3]int{a.Bands, a.Height, a.Width}
}

func (a Array) index(band, row, col int) int {
	return (band*a.Height+row)*a.Width + col
}

// At takes a 0-based band.
func (a Array) At(band, row, col int) float64 {
	return a.Data[a.index(band, row, col)]
}

func (a Array) Set(band, row, col int, v float64) {
	a.Data[a.index(band, row, col)] = v
}

// Band returns the row-major plane of a 0-based band, sharing storage.
func (a Array) Band(band int) []float64 {
	n := a.Height * a.Width
	return a.Data[band*n : (band+1)*n]
}
