package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/carlmjohnson/versioninfo"
	"github.com/go-spatial/geom"
	"github.com/iancoleman/strcase"
	"github.com/urfave/cli/v2"

	"github.com/pdok/utmtiler/config"
	"github.com/pdok/utmtiler/crs"
	"github.com/pdok/utmtiler/gpkg"
	"github.com/pdok/utmtiler/grid"
	"github.com/pdok/utmtiler/processing"
	"github.com/pdok/utmtiler/raster"
	"github.com/pdok/utmtiler/vector"
)

const CONFIG string = `config`
const SOURCE string = `source`
const LABELS string = `labels`
const LABELSLAYER string = `labels-layer`
const OUTDIR string = `out`
const WORKERS string = `workers`
const GEOPACKAGE string = `geopackage`
const OVERWRITE string = `overwrite`
const LON string = `lon`
const LAT string = `lat`
const BOUNDS string = `bounds`
const STRIDE string = `stride`
const CELLSIZE string = `cell-size`
const QUADSPACE string = `quad-space`
const EXTEND string = `extend`

func envVars(name string) []string {
	return []string{strcase.ToScreamingSnake(name)}
}

func main() {
	err := newApp().Run(os.Args)
	if err != nil {
		log.Fatal(err)
	}
}

//nolint:funlen
func newApp() *cli.App {
	app := cli.NewApp()
	app.Name = "utmtiler"
	app.Usage = "Cut a raster and its labels into UTM tiles for training data"
	app.Version = versioninfo.Short()

	app.Commands = []*cli.Command{
		{
			Name:  "crs",
			Usage: "Print the UTM CRS for a location or lon/lat bounds",
			Flags: []cli.Flag{
				&cli.Float64Flag{Name: LON, Usage: "Longitude", EnvVars: envVars(LON)},
				&cli.Float64Flag{Name: LAT, Usage: "Latitude", EnvVars: envVars(LAT)},
				&cli.StringFlag{
					Name:    BOUNDS,
					Usage:   `JSON array [west,south,east,north] in degrees, used instead of --lon/--lat`,
					EnvVars: envVars(BOUNDS),
				},
			},
			Action: crsAction,
		},
		{
			Name:  "grid",
			Usage: "Print the analysis cells for bounds as JSON, one array per quadrant",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:     BOUNDS,
					Usage:    `JSON array [minx,miny,maxx,maxy] in metres`,
					Required: true,
					EnvVars:  envVars(BOUNDS),
				},
				&cli.Float64Flag{Name: STRIDE, Usage: "Distance between anchors", Value: 400, EnvVars: envVars(STRIDE)},
				&cli.Float64Flag{Name: CELLSIZE, Usage: "Side of a cell", Value: 400, EnvVars: envVars(CELLSIZE)},
				&cli.BoolFlag{Name: QUADSPACE, Usage: "Partition the cells into four quadrants", EnvVars: envVars(QUADSPACE)},
				&cli.BoolFlag{Name: EXTEND, Usage: "Extend the anchors one stride past the bounds", EnvVars: envVars(EXTEND)},
			},
			Action: gridAction,
		},
		{
			Name:  "generate",
			Usage: "Write image tiles, label masks and label GeoJSON for every cell",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:    CONFIG,
					Aliases: []string{"c"},
					Usage:   "JSON config file, defaults for everything when left out",
					EnvVars: envVars(CONFIG),
				},
				&cli.StringFlag{
					Name:     SOURCE,
					Aliases:  []string{"s"},
					Usage:    "Source GeoTIFF, path or http(s) URL",
					Required: true,
					EnvVars:  envVars(SOURCE),
				},
				&cli.StringFlag{
					Name:    LABELS,
					Aliases: []string{"l"},
					Usage:   "Label features, GeoJSON or GPKG",
					EnvVars: envVars(LABELS),
				},
				&cli.StringFlag{
					Name:    LABELSLAYER,
					Usage:   "Table in the labels GPKG, overrides labels.layer",
					EnvVars: envVars(LABELSLAYER),
				},
				&cli.StringFlag{
					Name:    OUTDIR,
					Aliases: []string{"o"},
					Usage:   "Output directory, overrides output.dir",
					EnvVars: envVars(OUTDIR),
				},
				&cli.IntFlag{
					Name:    WORKERS,
					Aliases: []string{"w"},
					Usage:   "Number of cells processed in parallel, overrides output.workers",
					EnvVars: envVars(WORKERS),
				},
				&cli.StringFlag{
					Name:    GEOPACKAGE,
					Usage:   "Also write all clipped labels to this GPKG, overrides output.geopackage",
					EnvVars: envVars(GEOPACKAGE),
				},
				&cli.BoolFlag{
					Name:    OVERWRITE,
					Usage:   "Overwrite the target GPKG if it exists",
					EnvVars: envVars(OVERWRITE),
				},
			},
			Action: generateAction,
		},
	}
	return app
}

func parseBounds(s string) (geom.Extent, error) {
	var values []float64
	if err := json.Unmarshal([]byte(s), &values); err != nil {
		return geom.Extent{}, fmt.Errorf("bounds %q: %w", s, err)
	}
	if len(values) != 4 {
		return geom.Extent{}, fmt.Errorf("%w: expected 4 values, got %d", grid.ErrInvalidBounds, len(values))
	}
	return geom.Extent{values[0], values[1], values[2], values[3]}, nil
}

func crsAction(c *cli.Context) error {
	var utm crs.CRS
	var err error
	if c.IsSet(BOUNDS) {
		b, err := parseBounds(c.String(BOUNDS))
		if err != nil {
			return err
		}
		utm, err = crs.ResolveUTM(b[:]...)
		if err != nil {
			return err
		}
	} else {
		if !c.IsSet(LON) || !c.IsSet(LAT) {
			return fmt.Errorf("either --%s or both --%s and --%s are required", BOUNDS, LON, LAT)
		}
		if utm, err = crs.ResolveUTM(c.Float64(LON), c.Float64(LAT)); err != nil {
			return err
		}
	}
	fmt.Fprintln(c.App.Writer, utm.String())
	fmt.Fprintln(c.App.Writer, utm.Proj4())
	return nil
}

func gridAction(c *cli.Context) error {
	bounds, err := parseBounds(c.String(BOUNDS))
	if err != nil {
		return err
	}
	anchors, err := grid.AnchorPoints(bounds, c.Float64(STRIDE), c.Bool(EXTEND), c.Bool(QUADSPACE))
	if err != nil {
		return err
	}
	cells, err := grid.Cells(anchors, c.Float64(CELLSIZE), bounds)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(cells)
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	var cfg *config.Config
	var err error
	if c.IsSet(CONFIG) {
		cfg, err = config.Load(c.String(CONFIG))
	} else {
		cfg, err = config.Default()
	}
	if err != nil {
		return nil, err
	}
	for _, key := range cfg.Unknown {
		log.Printf("warning: unknown config key %s", key)
	}
	if c.IsSet(LABELSLAYER) {
		cfg.Labels.Layer = c.String(LABELSLAYER)
	}
	if c.IsSet(OUTDIR) {
		cfg.Output.Dir = c.String(OUTDIR)
	}
	if c.IsSet(WORKERS) {
		cfg.Output.Workers = c.Int(WORKERS)
	}
	if c.IsSet(GEOPACKAGE) {
		cfg.Output.GeoPackage = c.String(GEOPACKAGE)
	}
	if c.IsSet(OVERWRITE) {
		cfg.Output.Overwrite = c.Bool(OVERWRITE)
	}
	return cfg, cfg.Validate()
}

// readLabels reads GeoJSON or GPKG labels and reprojects them into dst.
func readLabels(path, layer string, dst crs.CRS) (*vector.Collection, error) {
	var labels *vector.Collection
	var err error
	if strings.EqualFold(filepath.Ext(path), ".gpkg") {
		labels, err = gpkg.ReadFile(path, layer)
	} else {
		labels, err = vector.ReadGeoJSONFile(path, crs.CRS{})
	}
	if err != nil {
		return nil, fmt.Errorf("reading labels %s: %w", path, err)
	}
	return labels.Reproject(dst)
}

// analysisCells lays the grid over the configured bounds, the source footprint otherwise.
func analysisCells(cfg *config.Config, footprint geom.Extent, tileCRS crs.CRS) ([]processing.Cell, error) {
	bounds := footprint
	b, bcrs, ok, err := cfg.Grid.Extent()
	if err != nil {
		return nil, err
	}
	if ok {
		if bounds, err = crs.TransformBounds(bcrs, tileCRS, b, crs.DefaultDensifyPts); err != nil {
			return nil, err
		}
	}
	anchors, err := grid.AnchorPoints(bounds, cfg.Grid.Stride, cfg.Grid.Extend, cfg.Grid.QuadSpace)
	if err != nil {
		return nil, err
	}
	partition, err := grid.Cells(anchors, cfg.Grid.CellSize, bounds)
	if err != nil {
		return nil, err
	}
	return processing.Cells(partition), nil
}

//nolint:funlen
func generateAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	opener, err := cfg.IO.Opener()
	if err != nil {
		return err
	}
	ds, release, err := raster.FromPath(c.String(SOURCE), opener).Open(ctx)
	if err != nil {
		return fmt.Errorf("error opening source %s: %w", c.String(SOURCE), err)
	}
	defer release()

	tileCRS, err := cfg.Tile.TargetCRS()
	if err != nil {
		return err
	}
	footprint, tileCRS, err := raster.UTMBounds(ds, tileCRS)
	if err != nil {
		return err
	}
	log.Printf("source %dx%dx%d in %s, tiles in %s", ds.Count(), ds.Height(), ds.Width(), ds.CRS(), tileCRS)

	cells, err := analysisCells(cfg, footprint, tileCRS)
	if err != nil {
		return err
	}
	opts, err := cfg.Tile.Options()
	if err != nil {
		return err
	}
	job := processing.Job{
		Source:             raster.FromDataset(ds),
		CRS:                tileCRS,
		TileSize:           cfg.Tile.Size,
		TileOptions:        opts,
		GeometryKind:       cfg.Labels.Kind(),
		MinPartialFraction: cfg.Labels.MinPartialFraction,
		BurnValue:          cfg.Labels.BurnValue,
		AllTouched:         cfg.Labels.AllTouched,
	}
	if c.IsSet(LABELS) {
		if job.Labels, err = readLabels(c.String(LABELS), cfg.Labels.Layer, tileCRS); err != nil {
			return err
		}
		log.Printf("read %d labels", job.Labels.Len())
	}

	dirTarget, err := processing.NewDirTarget(cfg.Output.Dir, cfg.Output.Prefix)
	if err != nil {
		return err
	}
	targets := []processing.Target{dirTarget}
	if cfg.Output.GeoPackage != "" {
		var columns []gpkg.Column
		if job.Labels != nil {
			columns = gpkg.ColumnsFromProperties(job.Labels)
		}
		gpkgTarget, err := gpkg.NewTarget(cfg.Output.GeoPackage, tileCRS, columns, cfg.Output.PageSize, cfg.Output.Overwrite)
		if err != nil {
			return fmt.Errorf("error initialization the target GeoPackage: %w", err)
		}
		defer gpkgTarget.Close() // after Process has drained every target
		targets = append(targets, gpkgTarget)
	}

	log.Printf("=== start tiling %d cells, run %s ===", len(cells), dirTarget.RunID)
	summary, err := processing.Process(ctx, job, cells, cfg.Output.Workers, targets...)
	if err != nil {
		return err
	}
	log.Printf("mean partialDec: %.3f", summary.MeanPartialDec)
	log.Println("=== done tiling ===")
	return nil
}
