// Package config holds the run configuration of the tiler: a JSON file with defaults for every
// value that may be left out.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/go-spatial/geom"
	"github.com/perimeterx/marshmallow"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/pdok/utmtiler/crs"
	"github.com/pdok/utmtiler/grid"
	"github.com/pdok/utmtiler/raster"
	"github.com/pdok/utmtiler/tile"
	"github.com/pdok/utmtiler/vector"
)

type Config struct {
	Grid   Grid   `json:"grid"`
	Tile   Tile   `json:"tile"`
	Labels Labels `json:"labels"`
	IO     IO     `json:"io"`
	Output Output `json:"output"`

	// Unknown lists the keys in the file that are not configuration, e.g. "grid.strides".
	Unknown []string `json:"-"`
}

type Grid struct {
	Stride    float64 `json:"stride" default:"400" validate:"gt=0"`
	CellSize  float64 `json:"cellSize" default:"400" validate:"gt=0"`
	Extend    bool    `json:"extend"`
	QuadSpace bool    `json:"quadSpace"`
	// Bounds (west, south, east, north) in BoundsCRS limit the grid, the source footprint otherwise.
	Bounds    []float64 `json:"bounds,omitempty" validate:"omitempty,len=4"`
	BoundsCRS string    `json:"boundsCrs" default:"EPSG:4326"`
}

type Tile struct {
	Size int `json:"size" default:"800" validate:"gt=0"`
	// Bands are 1-based, all bands when empty.
	Bands      []int    `json:"bands,omitempty" validate:"omitempty,dive,gte=1"`
	Nodata     *float64 `json:"nodata,omitempty"`
	Alpha      int      `json:"alpha" validate:"gte=0"`
	Resampling string   `json:"resampling" default:"bilinear" validate:"oneof=bilinear nearest"`
	// CRS of the tiles, the UTM zone of the source when empty.
	CRS string `json:"crs,omitempty"`
}

type Labels struct {
	GeometryKind       string  `json:"geometryKind" default:"Polygon" validate:"oneof=Polygon LineString"`
	MinPartialFraction float64 `json:"minPartialFraction" default:"0.1" validate:"gte=0,lt=1"`
	BurnValue          uint8   `json:"burnValue" default:"1" validate:"gte=1"`
	AllTouched         bool    `json:"allTouched"`
	// Layer is the GeoPackage table to read labels from, the first feature table when empty.
	Layer string `json:"layer,omitempty"`
}

type IO struct {
	// CABundle is a PEM file added to the system roots for remote sources.
	CABundle string `json:"caBundle,omitempty"`
	Timeout  string `json:"timeout" default:"1m"`
	// SourceCRS is assumed for rasters without a .prj sidecar.
	SourceCRS string `json:"sourceCrs,omitempty"`
}

type Output struct {
	Dir        string `json:"dir" default:"out" validate:"required"`
	Prefix     string `json:"prefix" default:"tile" validate:"required"`
	Workers    int    `json:"workers" default:"4" validate:"gte=1"`
	GeoPackage string `json:"geopackage,omitempty"`
	PageSize   int    `json:"pageSize" default:"1000" validate:"gte=1"`
	Overwrite  bool   `json:"overwrite"`
}

// Default returns a configuration with all defaults applied.
func Default() (*Config, error) {
	cfg := &Config{}
	if err := defaults.Set(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load reads and validates a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes and validates a configuration. Unknown keys are no error, they end up in Unknown.
func Parse(data []byte) (*Config, error) {
	cfg, err := Default()
	if err != nil {
		return nil, err
	}
	specials, err := marshmallow.Unmarshal(data, &Config{}, marshmallow.WithExcludeKnownFieldsFromMap(true))
	if err != nil {
		return nil, err
	}
	cfg.Unknown = maps.Keys(specials)

	// sections are decoded on top of their defaults, reporting their own unknown keys
	var sections map[string]json.RawMessage
	if err := json.Unmarshal(data, &sections); err != nil {
		return nil, err
	}
	for name, section := range map[string]any{
		"grid": &cfg.Grid, "tile": &cfg.Tile, "labels": &cfg.Labels, "io": &cfg.IO, "output": &cfg.Output,
	} {
		raw, ok := sections[name]
		if !ok {
			continue
		}
		unknown, err := marshmallow.Unmarshal(raw, section, marshmallow.WithExcludeKnownFieldsFromMap(true))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		for key := range unknown {
			cfg.Unknown = append(cfg.Unknown, name+"."+key)
		}
	}
	slices.Sort(cfg.Unknown)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the struct tags and the combinations of values the tags cannot express.
func (c *Config) Validate() error {
	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(c); err != nil {
		return err
	}
	if _, err := c.Tile.Options(); err != nil {
		return err
	}
	if _, err := c.Tile.TargetCRS(); err != nil {
		return fmt.Errorf("tile.crs: %w", err)
	}
	if _, _, _, err := c.Grid.Extent(); err != nil {
		return err
	}
	if _, err := c.IO.TimeoutDuration(); err != nil {
		return err
	}
	if _, err := c.IO.DefaultCRS(); err != nil {
		return fmt.Errorf("io.sourceCrs: %w", err)
	}
	return nil
}

// Extent returns the configured grid bounds and their CRS; ok is false when none are set.
func (g Grid) Extent() (b geom.Extent, c crs.CRS, ok bool, err error) {
	if len(g.Bounds) == 0 {
		return b, c, false, nil
	}
	copy(b[:], g.Bounds)
	if err := grid.ValidateBounds(b); err != nil {
		return b, c, false, fmt.Errorf("grid.bounds: %w", err)
	}
	if c, err = crs.Parse(g.BoundsCRS); err != nil {
		return b, c, false, fmt.Errorf("grid.boundsCrs: %w", err)
	}
	return b, c, true, nil
}

// Options converts the section to tile extraction options.
func (t Tile) Options() (tile.Options, error) {
	opts := tile.Options{Indexes: t.Bands, Nodata: t.Nodata, Alpha: t.Alpha}
	if t.Resampling == "nearest" {
		opts.Resampling = raster.Nearest
	}
	if err := opts.Validate(); err != nil {
		return opts, fmt.Errorf("tile: %w", err)
	}
	return opts, nil
}

// TargetCRS is the configured tile CRS, the zero CRS when it follows the source.
func (t Tile) TargetCRS() (crs.CRS, error) {
	if t.CRS == "" {
		return crs.CRS{}, nil
	}
	return crs.Parse(t.CRS)
}

func (l Labels) Kind() vector.GeometryKind {
	kind, err := vector.ParseGeometryKind(l.GeometryKind)
	if err != nil {
		return vector.Polygon
	}
	return kind
}

func (o IO) TimeoutDuration() (time.Duration, error) {
	d, err := time.ParseDuration(o.Timeout)
	if err != nil {
		return 0, fmt.Errorf("io.timeout: %w", err)
	}
	if d < 0 {
		return 0, errors.New("io.timeout: must not be negative")
	}
	return d, nil
}

func (o IO) DefaultCRS() (crs.CRS, error) {
	if o.SourceCRS == "" {
		return crs.CRS{}, nil
	}
	return crs.Parse(o.SourceCRS)
}

// Opener builds the raster opener for this section.
func (o IO) Opener() (*raster.Opener, error) {
	timeout, err := o.TimeoutDuration()
	if err != nil {
		return nil, err
	}
	defaultCRS, err := o.DefaultCRS()
	if err != nil {
		return nil, err
	}
	return raster.NewOpener(o.CABundle, timeout, defaultCRS)
}
