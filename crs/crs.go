// Package crs describes the coordinate reference systems the tiler works with
// (geographic WGS 84, Web Mercator and the WGS 84 UTM zones), resolves the UTM zone for an area
// and transforms coordinates and bounds between them.
//
// A CRS is identified by its EPSG code. UTM zones use the 326zz (north) / 327zz (south) codes;
// the equivalent proj string and WKT are derived from the code, so one value serves consumers
// that need either form.
package crs

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

const (
	EPSGWGS84       = 4326
	EPSGWebMercator = 3857

	epsgUTMNorth = 32600
	epsgUTMSouth = 32700
)

var (
	ErrInvalidCoordinates = errors.New("invalid coordinates")
	ErrUnsupportedCRS     = errors.New("unsupported crs")
)

var (
	WGS84       = CRS{code: EPSGWGS84}
	WebMercator = CRS{code: EPSGWebMercator}
)

// CRS is an immutable coordinate reference system descriptor. The zero value means "unset".
type CRS struct {
	code int
}

// EPSG returns the CRS for a supported EPSG code.
func EPSG(code int) (CRS, error) {
	c := CRS{code: code}
	if !c.supported() {
		return CRS{}, fmt.Errorf("%w: EPSG:%d", ErrUnsupportedCRS, code)
	}
	return c, nil
}

// UTM returns the WGS 84 UTM zone CRS.
func UTM(zone int, north bool) (CRS, error) {
	if zone < 1 || zone > 60 {
		return CRS{}, fmt.Errorf("%w: utm zone %d", ErrUnsupportedCRS, zone)
	}
	if north {
		return CRS{code: epsgUTMNorth + zone}, nil
	}
	return CRS{code: epsgUTMSouth + zone}, nil
}

func (c CRS) supported() bool {
	if c.code == EPSGWGS84 || c.code == EPSGWebMercator {
		return true
	}
	_, _, ok := c.UTMZone()
	return ok
}

// Code is the EPSG code, 0 for the zero CRS.
func (c CRS) Code() int {
	return c.code
}

func (c CRS) IsZero() bool {
	return c.code == 0
}

func (c CRS) IsGeographic() bool {
	return c.code == EPSGWGS84
}

func (c CRS) IsUTM() bool {
	_, _, ok := c.UTMZone()
	return ok
}

// UTMZone returns the zone number and hemisphere of a UTM CRS.
func (c CRS) UTMZone() (zone int, north bool, ok bool) {
	switch {
	case c.code > epsgUTMNorth && c.code <= epsgUTMNorth+60:
		return c.code - epsgUTMNorth, true, true
	case c.code > epsgUTMSouth && c.code <= epsgUTMSouth+60:
		return c.code - epsgUTMSouth, false, true
	}
	return 0, false, false
}

// String returns the "EPSG:<code>" form.
func (c CRS) String() string {
	if c.IsZero() {
		return ""
	}
	return "EPSG:" + strconv.Itoa(c.code)
}

// URN returns the OGC URN form, as used in a GeoJSON named crs.
func (c CRS) URN() string {
	if c.IsZero() {
		return ""
	}
	return "urn:ogc:def:crs:EPSG::" + strconv.Itoa(c.code)
}

// Proj4 returns the proj string form.
func (c CRS) Proj4() string {
	if zone, north, ok := c.UTMZone(); ok {
		hemisphere := "+north"
		if !north {
			hemisphere = "+south"
		}
		return fmt.Sprintf("+proj=utm +zone=%d %s +ellps=WGS84 +datum=WGS84 +units=m +no_defs", zone, hemisphere)
	}
	switch c.code {
	case EPSGWGS84:
		return "+proj=longlat +datum=WGS84 +no_defs"
	case EPSGWebMercator:
		return "+proj=merc +a=6378137 +b=6378137 +lat_ts=0.0 +lon_0=0.0 +x_0=0.0 +y_0=0 +k=1.0 +units=m +nadgrids=@null +wktext +no_defs"
	}
	return ""
}

// CentralMeridian is the central meridian (degrees) of a UTM zone.
func CentralMeridian(zone int) float64 {
	return float64(zone-1)*6 - 180 + 3
}

const wktGeogCS = `GEOGCS["WGS 84",DATUM["WGS_1984",SPHEROID["WGS 84",6378137,298.257223563,AUTHORITY["EPSG","7030"]],AUTHORITY["EPSG","6326"]],PRIMEM["Greenwich",0,AUTHORITY["EPSG","8901"]],UNIT["degree",0.0174532925199433,AUTHORITY["EPSG","9122"]],AUTHORITY["EPSG","4326"]]`

// WKT returns the OGC WKT 1 form, as used in GeoPackage srs definitions and .prj files.
func (c CRS) WKT() string {
	if zone, north, ok := c.UTMZone(); ok {
		hemisphere, falseNorthing := "N", 0
		if !north {
			hemisphere, falseNorthing = "S", 10000000
		}
		return fmt.Sprintf(`PROJCS["WGS 84 / UTM zone %d%s",%s,PROJECTION["Transverse_Mercator"],`+
			`PARAMETER["latitude_of_origin",0],PARAMETER["central_meridian",%g],PARAMETER["scale_factor",0.9996],`+
			`PARAMETER["false_easting",500000],PARAMETER["false_northing",%d],UNIT["metre",1,AUTHORITY["EPSG","9001"]],`+
			`AXIS["Easting",EAST],AXIS["Northing",NORTH],AUTHORITY["EPSG","%d"]]`,
			zone, hemisphere, wktGeogCS, CentralMeridian(zone), falseNorthing, c.code)
	}
	switch c.code {
	case EPSGWGS84:
		return wktGeogCS
	case EPSGWebMercator:
		return `PROJCS["WGS 84 / Pseudo-Mercator",` + wktGeogCS + `,PROJECTION["Mercator_1SP"],` +
			`PARAMETER["central_meridian",0],PARAMETER["scale_factor",1],PARAMETER["false_easting",0],` +
			`PARAMETER["false_northing",0],UNIT["metre",1,AUTHORITY["EPSG","9001"]],AXIS["X",EAST],AXIS["Y",NORTH],` +
			`AUTHORITY["EPSG","3857"]]`
	}
	return ""
}

// Name is a human readable name.
func (c CRS) Name() string {
	if zone, north, ok := c.UTMZone(); ok {
		if north {
			return fmt.Sprintf("WGS 84 / UTM zone %dN", zone)
		}
		return fmt.Sprintf("WGS 84 / UTM zone %dS", zone)
	}
	switch c.code {
	case EPSGWGS84:
		return "WGS 84"
	case EPSGWebMercator:
		return "WGS 84 / Pseudo-Mercator"
	}
	return ""
}

func (c CRS) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *CRS) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*c = CRS{}
		return nil
	}
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

var (
	crsURIRegexURL = regexp.MustCompile("https?://.+/def/crs/(?P<authority>[^/]+)/[^/]+/(?P<code>[^/]+)$")
	crsURIRegexURN = regexp.MustCompile("^urn:ogc:def:crs:(?P<authority>[^:]+):[^:]*:(?P<code>[^:]+)$")
	wktAuthority   = regexp.MustCompile(`AUTHORITY\["EPSG",\s*"?(\d+)"?\]\s*\]\s*$`)
	projParam      = regexp.MustCompile(`\+(\w+)(?:=(\S+))?`)
)

// Parse accepts "EPSG:<code>", OGC CRS URIs and URNs, proj strings for longlat/merc/utm, and WKT
// whose outermost AUTHORITY is EPSG.
func Parse(s string) (CRS, error) {
	s = strings.TrimSpace(s)
	switch upper := strings.ToUpper(s); {
	case upper == "":
		return CRS{}, fmt.Errorf("%w: empty string", ErrUnsupportedCRS)
	case upper == "WGS84" || upper == "CRS84" || strings.HasSuffix(upper, "OGC/1.3/CRS84") || strings.HasSuffix(upper, "OGC:1.3:CRS84"):
		return WGS84, nil
	case strings.HasPrefix(upper, "EPSG:"):
		return parseCode(s[len("EPSG:"):])
	case strings.HasPrefix(s, "+"):
		return parseProj4(s)
	case strings.HasPrefix(upper, "PROJCS[") || strings.HasPrefix(upper, "GEOGCS["):
		m := wktAuthority.FindStringSubmatch(s)
		if m == nil {
			return CRS{}, fmt.Errorf("%w: wkt without EPSG authority", ErrUnsupportedCRS)
		}
		return parseCode(m[1])
	}
	uriParts := crsURIRegexURL.FindStringSubmatch(s)
	if uriParts == nil {
		uriParts = crsURIRegexURN.FindStringSubmatch(s)
	}
	if uriParts != nil {
		if !strings.EqualFold(uriParts[1], "EPSG") {
			return CRS{}, fmt.Errorf("%w: authority %q", ErrUnsupportedCRS, uriParts[1])
		}
		return parseCode(uriParts[2])
	}
	return CRS{}, fmt.Errorf("%w: %q", ErrUnsupportedCRS, s)
}

// MustParse is Parse for literals; it panics on error.
func MustParse(s string) CRS {
	c, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return c
}

func parseCode(s string) (CRS, error) {
	code, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return CRS{}, fmt.Errorf("%w: could not parse code %q: %v", ErrUnsupportedCRS, s, err)
	}
	return EPSG(code)
}

func parseProj4(s string) (CRS, error) {
	params := make(map[string]string)
	for _, m := range projParam.FindAllStringSubmatch(s, -1) {
		params[m[1]] = m[2]
	}
	switch params["proj"] {
	case "utm":
		if datum, ok := params["datum"]; ok && datum != "WGS84" {
			return CRS{}, fmt.Errorf("%w: datum %q", ErrUnsupportedCRS, datum)
		}
		zone, err := strconv.Atoi(params["zone"])
		if err != nil {
			return CRS{}, fmt.Errorf("%w: utm zone %q", ErrUnsupportedCRS, params["zone"])
		}
		_, south := params["south"]
		return UTM(zone, !south)
	case "longlat", "latlong":
		return WGS84, nil
	case "merc":
		if params["a"] == "6378137" && params["b"] == "6378137" {
			return WebMercator, nil
		}
	}
	return CRS{}, fmt.Errorf("%w: %q", ErrUnsupportedCRS, s)
}
