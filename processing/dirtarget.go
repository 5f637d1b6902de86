package processing

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-spatial/geom"
	"github.com/google/uuid"

	"github.com/pdok/utmtiler/raster"
	"github.com/pdok/utmtiler/vector"
)

const (
	AssetImage        = "geotiff_image"
	AssetLabelMask    = "label_mask"
	AssetLabelGeoJSON = "label_geojson"

	ManifestName = "manifest.json"
)

// Manifest lists what a DirTarget wrote.
type Manifest struct {
	RunID string          `json:"runId"`
	CRS   string          `json:"crs,omitempty"`
	Cells []ManifestEntry `json:"cells"`
}

type ManifestEntry struct {
	Seq      int               `json:"seq"`
	Quadrant int               `json:"quadrant"`
	Bounds   geom.Extent       `json:"bounds"`
	Features int               `json:"features"`
	Assets   map[string]string `json:"assets"`
}

// DirTarget writes every result as an image TIFF, a label TIFF and a label GeoJSON into Dir, and a
// manifest when the channel closes.
type DirTarget struct {
	Dir    string
	Prefix string
	RunID  string
}

func NewDirTarget(dir, prefix string) (*DirTarget, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &DirTarget{Dir: dir, Prefix: prefix, RunID: uuid.NewString()}, nil
}

// BaseName is the file name stem of a cell, named after its integer lower left corner.
func (d *DirTarget) BaseName(cell Cell) string {
	return fmt.Sprintf("%s_%d_%d", d.Prefix, int(cell.Bounds.MinX()), int(cell.Bounds.MinY()))
}

func (d *DirTarget) WriteResults(results <-chan Result) error {
	manifest := Manifest{RunID: d.RunID, Cells: []ManifestEntry{}}
	for r := range results {
		entry, err := d.writeResult(r)
		if err != nil {
			return err
		}
		if manifest.CRS == "" {
			manifest.CRS = r.Tile.CRS.String()
		}
		manifest.Cells = append(manifest.Cells, entry)
	}
	return d.writeManifest(manifest)
}

func (d *DirTarget) writeResult(r Result) (ManifestEntry, error) {
	base := d.BaseName(r.Cell)
	assets := map[string]string{
		AssetImage:        base + "_image.tif",
		AssetLabelMask:    base + "_label.tif",
		AssetLabelGeoJSON: base + "_label.geojson",
	}
	t := r.Tile
	if err := raster.WriteTIFF(d.path(assets[AssetImage]), t.Pixels, t.Mask, t.Transform, t.CRS); err != nil {
		return ManifestEntry{}, fmt.Errorf("writing image of cell %d: %w", r.Cell.Seq, err)
	}
	if err := raster.WriteMaskTIFF(d.path(assets[AssetLabelMask]), r.Mask, t.Transform, t.CRS); err != nil {
		return ManifestEntry{}, fmt.Errorf("writing label mask of cell %d: %w", r.Cell.Seq, err)
	}
	if err := d.writeLabels(d.path(assets[AssetLabelGeoJSON]), r.Labels); err != nil {
		return ManifestEntry{}, fmt.Errorf("writing labels of cell %d: %w", r.Cell.Seq, err)
	}
	return ManifestEntry{
		Seq:      r.Cell.Seq,
		Quadrant: int(r.Cell.Quadrant),
		Bounds:   r.Cell.Bounds,
		Features: r.Labels.Len(),
		Assets:   assets,
	}, nil
}

// writeLabels leaves an empty file for a cell without labels.
func (d *DirTarget) writeLabels(path string, labels *vector.Collection) error {
	if labels == nil || labels.Len() == 0 {
		return os.WriteFile(path, nil, 0o644)
	}
	return vector.WriteGeoJSONFile(path, labels, true)
}

func (d *DirTarget) writeManifest(m Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(d.path(ManifestName), data, 0o644)
}

func (d *DirTarget) path(name string) string {
	return filepath.Join(d.Dir, name)
}

// ReadManifest reads the manifest a DirTarget wrote to dir.
func ReadManifest(dir string) (Manifest, error) {
	var m Manifest
	data, err := os.ReadFile(filepath.Join(dir, ManifestName))
	if err != nil {
		return m, err
	}
	err = json.Unmarshal(data, &m)
	return m, err
}
