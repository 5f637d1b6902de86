package vector

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/go-spatial/geom/encoding/geojson"

	"github.com/pdok/utmtiler/crs"
	"github.com/pdok/utmtiler/mapslicehelp"
	"github.com/pdok/utmtiler/mathhelp"
)

const featureCollectionType = "FeatureCollection"

// property names written next to the source properties of clipped features
const (
	PropOrigArea   = "origarea"
	PropOrigLen    = "origlen"
	PropPartialDec = "partialDec"
	PropTruncated  = "truncated"
)

type geoJSONCollection struct {
	Type     string           `json:"type"`
	CRS      *geoJSONCRS      `json:"crs,omitempty"`
	Features []geoJSONFeature `json:"features"`
}

type geoJSONCRS struct {
	Type       string `json:"type"`
	Properties struct {
		Name string `json:"name"`
	} `json:"properties"`
}

type geoJSONFeature struct {
	Type       string          `json:"type"`
	Geometry   json.RawMessage `json:"geometry"`
	Properties *Properties     `json:"properties"`
}

// ReadGeoJSON decodes a FeatureCollection. A named crs member overrides def, which is used
// otherwise; GeoJSON without either is WGS84.
func ReadGeoJSON(r io.Reader, def crs.CRS) (*Collection, error) {
	var fc geoJSONCollection
	if err := json.NewDecoder(r).Decode(&fc); err != nil {
		return nil, fmt.Errorf("decoding geojson: %w", err)
	}
	if fc.Type != featureCollectionType {
		return nil, fmt.Errorf("expected a %s, got %q", featureCollectionType, fc.Type)
	}
	c := def
	if fc.CRS != nil && fc.CRS.Properties.Name != "" {
		parsed, err := crs.Parse(fc.CRS.Properties.Name)
		if err != nil {
			return nil, err
		}
		c = parsed
	}
	if c.IsZero() {
		c = crs.WGS84
	}

	features := make([]Feature, 0, len(fc.Features))
	for i, gf := range fc.Features {
		f := Feature{Properties: gf.Properties}
		if f.Properties == nil {
			f.Properties = NewProperties()
		}
		if len(gf.Geometry) > 0 && !bytes.Equal(bytes.TrimSpace(gf.Geometry), []byte("null")) {
			var g geojson.Geometry
			if err := json.Unmarshal(gf.Geometry, &g); err != nil {
				return nil, fmt.Errorf("feature %d: %w", i, err)
			}
			f.Geometry = g.Geometry
		}
		features = append(features, f)
	}
	return NewCollection(c, features), nil
}

// ReadGeoJSONFile is ReadGeoJSON on a file.
func ReadGeoJSONFile(path string, def crs.CRS) (*Collection, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadGeoJSON(f, def)
}

// WriteGeoJSON encodes c as a FeatureCollection with a named crs. With clipped set the
// measurements of each feature are added to its properties, truncated as 0 or 1.
func WriteGeoJSON(w io.Writer, c *Collection, clipped bool) error {
	fc := geoJSONCollection{Type: featureCollectionType, Features: make([]geoJSONFeature, 0, len(c.Features))}
	if !c.CRS.IsZero() {
		fc.CRS = &geoJSONCRS{Type: "name"}
		fc.CRS.Properties.Name = c.CRS.URN()
	}
	for i, f := range c.Features {
		gf := geoJSONFeature{Type: "Feature", Geometry: json.RawMessage("null"), Properties: NewProperties()}
		mapslicehelp.MergeOrdered(gf.Properties, f.Properties)
		if clipped {
			gf.Properties.Set(PropOrigArea, f.OrigArea)
			gf.Properties.Set(PropOrigLen, f.OrigLen)
			gf.Properties.Set(PropPartialDec, f.PartialDec)
			gf.Properties.Set(PropTruncated, mathhelp.Bool2int(f.Truncated))
		}
		if f.Geometry != nil {
			raw, err := json.Marshal(geojson.Geometry{Geometry: f.Geometry})
			if err != nil {
				return fmt.Errorf("feature %d: %w", i, err)
			}
			gf.Geometry = raw
		}
		fc.Features = append(fc.Features, gf)
	}
	enc := json.NewEncoder(w)
	return enc.Encode(fc)
}

// WriteGeoJSONFile is WriteGeoJSON to a new file.
func WriteGeoJSONFile(path string, c *Collection, clipped bool) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WriteGeoJSON(f, c, clipped); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
