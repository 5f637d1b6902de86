package crs

import "math"

const (
	wgs84A = 6378137.0
	wgs84F = 1 / 298.257223563

	utmScale              = 0.9996
	utmFalseEasting       = 500000.0
	utmFalseNorthingSouth = 10000000.0
)

// transverseMercator is the ellipsoidal transverse Mercator projection on WGS 84, using
// Krüger's series to third order in the third flattening.
type transverseMercator struct {
	lon0   float64 // radians
	k0     float64
	fe, fn float64

	e     float64 // first eccentricity
	bigA  float64 // rectifying radius
	alpha [3]float64
	beta  [3]float64
	delta [3]float64
}

func newUTMProjection(zone int, north bool) *transverseMercator {
	fn := 0.0
	if !north {
		fn = utmFalseNorthingSouth
	}
	return newTransverseMercator(CentralMeridian(zone), utmScale, utmFalseEasting, fn)
}

func newTransverseMercator(lon0, k0, fe, fn float64) *transverseMercator {
	n := wgs84F / (2 - wgs84F)
	n2 := n * n
	n3 := n2 * n
	return &transverseMercator{
		lon0: lon0 * math.Pi / 180,
		k0:   k0,
		fe:   fe,
		fn:   fn,
		e:    2 * math.Sqrt(n) / (1 + n),
		bigA: wgs84A / (1 + n) * (1 + n2/4 + n2*n2/64),
		alpha: [3]float64{
			n/2 - 2*n2/3 + 5*n3/16,
			13*n2/48 - 3*n3/5,
			61 * n3 / 240,
		},
		beta: [3]float64{
			n/2 - 2*n2/3 + 37*n3/96,
			n2/48 + n3/15,
			17 * n3 / 480,
		},
		delta: [3]float64{
			2*n - 2*n2/3 - 2*n3,
			7*n2/3 - 8*n3/5,
			56 * n3 / 15,
		},
	}
}

// forward projects degrees to metres.
func (tm *transverseMercator) forward(lon, lat float64) (x, y float64) {
	phi := lat * math.Pi / 180
	dl := lon*math.Pi/180 - tm.lon0
	sinPhi := math.Sin(phi)
	t := math.Sinh(math.Atanh(sinPhi) - tm.e*math.Atanh(tm.e*sinPhi))
	xi := math.Atan2(t, math.Cos(dl))
	eta := math.Atanh(math.Sin(dl) / math.Sqrt(1+t*t))

	sx, sy := xi, eta
	for j := 1; j <= 3; j++ {
		a := tm.alpha[j-1]
		jf := float64(2 * j)
		sx += a * math.Sin(jf*xi) * math.Cosh(jf*eta)
		sy += a * math.Cos(jf*xi) * math.Sinh(jf*eta)
	}
	return tm.fe + tm.k0*tm.bigA*sy, tm.fn + tm.k0*tm.bigA*sx
}

// inverse unprojects metres to degrees.
func (tm *transverseMercator) inverse(x, y float64) (lon, lat float64) {
	xi := (y - tm.fn) / (tm.k0 * tm.bigA)
	eta := (x - tm.fe) / (tm.k0 * tm.bigA)

	xp, ep := xi, eta
	for j := 1; j <= 3; j++ {
		b := tm.beta[j-1]
		jf := float64(2 * j)
		xp -= b * math.Sin(jf*xi) * math.Cosh(jf*eta)
		ep -= b * math.Cos(jf*xi) * math.Sinh(jf*eta)
	}
	chi := math.Asin(math.Sin(xp) / math.Cosh(ep))
	phi := chi
	for j := 1; j <= 3; j++ {
		phi += tm.delta[j-1] * math.Sin(float64(2*j)*chi)
	}
	dl := math.Atan2(math.Sinh(ep), math.Cos(xp))
	return normalizeLon((tm.lon0 + dl) * 180 / math.Pi), phi * 180 / math.Pi
}

func normalizeLon(lon float64) float64 {
	for lon > 180 {
		lon -= 360
	}
	for lon < -180 {
		lon += 360
	}
	return lon
}
