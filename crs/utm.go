package crs

import (
	"fmt"
	"math"
)

// ResolveUTM picks the WGS 84 UTM zone for a location. It takes either a (lon, lat) pair or
// (minLon, minLat, maxLon, maxLat) bounds, in which case the mean of each pair is used. Every
// value is range checked, not just the mean. The equator counts as north.
func ResolveUTM(coords ...float64) (CRS, error) {
	var lon, lat float64
	switch len(coords) {
	case 2:
		lon, lat = coords[0], coords[1]
	case 4:
		lon, lat = (coords[0]+coords[2])/2, (coords[1]+coords[3])/2
	default:
		return CRS{}, fmt.Errorf("%w: expected 2 or 4 values, got %d", ErrInvalidCoordinates, len(coords))
	}
	for i, c := range coords {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return CRS{}, fmt.Errorf("%w: %v", ErrInvalidCoordinates, coords)
		}
		// even positions are longitudes, odd ones latitudes
		if i%2 == 0 && (c < -180 || c > 180) || i%2 == 1 && (c < -90 || c > 90) {
			return CRS{}, fmt.Errorf("%w: %v out of range", ErrInvalidCoordinates, coords)
		}
	}
	return UTM(UTMZoneNumber(lon), lat >= 0)
}

// UTMZoneNumber is floor(1 + (lon+180)/6), with lon 180 folded into zone 60.
func UTMZoneNumber(lon float64) int {
	zone := int(math.Floor(1 + (lon+180)/6))
	if zone > 60 {
		zone = 60
	}
	if zone < 1 {
		zone = 1
	}
	return zone
}
