// Package gpkg reads label features from a GeoPackage and writes clipped labels to one.
package gpkg

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-spatial/geom"
	"github.com/go-spatial/geom/encoding/gpkg"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/pdok/utmtiler/crs"
	"github.com/pdok/utmtiler/mapslicehelp"
	"github.com/pdok/utmtiler/mathhelp"
	"github.com/pdok/utmtiler/processing"
	"github.com/pdok/utmtiler/vector"
)

const (
	LabelsTable    = "labels"
	geometryColumn = "geom"
)

var ErrNoTable = errors.New("no feature table")

type column struct {
	cid       int
	name      string
	ctype     string
	notnull   int
	dfltValue *string
	pk        int
}

// Table describes a feature table.
type Table struct {
	Name    string
	columns []column
	gcolumn string
	gtype   gpkg.GeometryType
	srs     gpkg.SpatialReferenceSystem
}

// Columns returns the names of the non geometry columns.
func (t Table) Columns() []string {
	var names []string
	for _, c := range t.columns {
		if c.name != t.gcolumn {
			names = append(names, c.name)
		}
	}
	return names
}

func (t Table) GeometryColumn() string {
	return t.gcolumn
}

// CRS resolves the srs of the table, by EPSG code when it has one, by its definition otherwise.
func (t Table) CRS() (crs.CRS, error) {
	if strings.EqualFold(t.srs.Organization, "EPSG") && t.srs.OrganizationCoordsysID > 0 {
		return crs.EPSG(t.srs.OrganizationCoordsysID)
	}
	return crs.Parse(t.srs.Definition)
}

// geometryTypeFromString returns the numeric value of a gometry string
func geometryTypeFromString(geometrytype string) gpkg.GeometryType {
	switch strings.ToUpper(geometrytype) {
	case "GEOMETRY":
		return gpkg.Geometry
	case "POINT":
		return gpkg.Point
	case "LINESTRING":
		return gpkg.Linestring
	case "POLYGON":
		return gpkg.Polygon
	case "MULTIPOINT":
		return gpkg.MultiPoint
	case "MULTILINESTRING":
		return gpkg.MultiLinestring
	case "MULTIPOLYGON":
		return gpkg.MultiPolygon
	case "GEOMETRYCOLLECTION":
		return gpkg.GeometryCollection
	default:
		return gpkg.Geometry
	}
}

// Source is a GeoPackage opened for reading labels.
type Source struct {
	handle *gpkg.Handle
}

// OpenSource opens an existing GeoPackage.
func OpenSource(file string) (*Source, error) {
	if _, err := os.Stat(file); err != nil {
		return nil, err
	}
	handle, err := gpkg.Open(file)
	if err != nil {
		return nil, fmt.Errorf("error opening GeoPackage: %w", err)
	}
	return &Source{handle: handle}, nil
}

func (source *Source) Close() error {
	return source.handle.Close()
}

// TableInfo lists the feature tables.
func (source *Source) TableInfo() ([]Table, error) {
	query := `SELECT table_name, column_name, geometry_type_name, srs_id FROM gpkg_geometry_columns;`
	rows, err := source.handle.Query(query)
	if err != nil {
		return nil, fmt.Errorf("error reading gpkg_geometry_columns: %w", err)
	}
	defer rows.Close()

	var tables []Table
	for rows.Next() {
		var t Table
		var gtype string
		var srsID int
		if err := rows.Scan(&t.Name, &t.gcolumn, &gtype, &srsID); err != nil {
			return nil, fmt.Errorf("error reading the source table information: %w", err)
		}
		t.gtype = geometryTypeFromString(gtype)
		if t.srs, err = getSpatialReferenceSystem(source.handle, srsID); err != nil {
			return nil, err
		}
		tables = append(tables, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range tables {
		if tables[i].columns, err = getTableColumns(source.handle, tables[i].Name); err != nil {
			return nil, err
		}
	}
	return tables, nil
}

// Table returns the feature table called name, the first one for an empty name.
func (source *Source) Table(name string) (Table, error) {
	tables, err := source.TableInfo()
	if err != nil {
		return Table{}, err
	}
	for _, t := range tables {
		if name == "" || t.Name == name {
			return t, nil
		}
	}
	if name == "" {
		return Table{}, ErrNoTable
	}
	return Table{}, fmt.Errorf("%w: %s", ErrNoTable, name)
}

// ReadCollection reads all features of t, the non geometry columns becoming ordered properties.
func (source *Source) ReadCollection(t Table) (*vector.Collection, error) {
	c, err := t.CRS()
	if err != nil {
		return nil, fmt.Errorf("table %s: %w", t.Name, err)
	}
	rows, err := source.handle.Query(t.selectSQL())
	if err != nil {
		return nil, fmt.Errorf("error reading table %s: %w", t.Name, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("error reading the columns: %w", err)
	}

	var features []vector.Feature
	for rows.Next() {
		vals := make([]any, len(cols))
		valPtrs := make([]any, len(cols))
		for i := 0; i < len(cols); i++ {
			valPtrs[i] = &vals[i]
		}
		if err = rows.Scan(valPtrs...); err != nil {
			return nil, fmt.Errorf("err reading row values: %w", err)
		}

		f := vector.Feature{Properties: vector.NewProperties()}
		for i, colName := range cols {
			if colName == t.gcolumn {
				if vals[i] == nil {
					continue
				}
				wkb, ok := vals[i].([]byte)
				if !ok {
					return nil, fmt.Errorf("unexpected type for geometry column %s: %T", colName, vals[i])
				}
				sb, err := gpkg.DecodeGeometry(wkb)
				if err != nil {
					return nil, fmt.Errorf("error decoding the geometry: %w", err)
				}
				f.Geometry = sb.Geometry
				continue
			}
			switch v := vals[i].(type) {
			case []uint8:
				f.Properties.Set(colName, string(v))
			case int64, float64, time.Time, string, nil:
				f.Properties.Set(colName, v)
			default:
				return nil, fmt.Errorf("unexpected type for sqlite column data: %v: %T", colName, v)
			}
		}
		features = append(features, f)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return vector.NewCollection(c, features), nil
}

// ReadFile reads the table called layer, or the first feature table, of a GeoPackage.
func ReadFile(file, layer string) (*vector.Collection, error) {
	source, err := OpenSource(file)
	if err != nil {
		return nil, err
	}
	defer source.Close()
	t, err := source.Table(layer)
	if err != nil {
		return nil, err
	}
	return source.ReadCollection(t)
}

// Column is a label property carried into the target table.
type Column struct {
	Name string
	Type string
}

// ColumnsFromProperties returns the property keys of c in first seen order, typed after their
// first non nil value.
func ColumnsFromProperties(c *vector.Collection) []Column {
	types := orderedmap.New[string, string]()
	for _, f := range c.Features {
		if f.Properties == nil {
			continue
		}
		for p := f.Properties.Oldest(); p != nil; p = p.Next() {
			if t, _ := types.Get(p.Key); t == "" {
				types.Set(p.Key, sqliteType(p.Value))
			}
		}
	}
	keys := mapslicehelp.OrderedMapKeys(types)
	columns := make([]Column, len(keys))
	for i, k := range keys {
		t, _ := types.Get(k)
		if t == "" {
			t = "TEXT"
		}
		columns[i] = Column{Name: k, Type: t}
	}
	return columns
}

func sqliteType(v any) string {
	switch v.(type) {
	case nil:
		return ""
	case float32, float64:
		return "REAL"
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, bool:
		return "INTEGER"
	case time.Time:
		return "DATETIME"
	default:
		return "TEXT"
	}
}

// Target writes the clipped labels of processing results into a single labels table.
type Target struct {
	Table      Table
	pagesize   int
	handle     *gpkg.Handle
	properties []string
	extent     *geom.Extent
}

var reservedColumns = mapslicehelp.AsKeys([]string{
	"fid", geometryColumn, "cell_x", "cell_y", "quadrant",
	"origarea", "origlen", "partialdec", "truncated",
})

// NewTarget creates file with an empty labels table in c. An existing file is replaced only with
// overwrite set. Property columns named like one of the fixed columns get a source_ prefix.
func NewTarget(file string, c crs.CRS, columns []Column, pagesize int, overwrite bool) (*Target, error) {
	if c.IsZero() {
		return nil, fmt.Errorf("%w: no crs for %s", crs.ErrUnsupportedCRS, file)
	}
	if _, err := os.Stat(file); err == nil {
		if !overwrite {
			return nil, fmt.Errorf("target GeoPackage %s already exists", file)
		}
		if err := os.Remove(file); err != nil {
			return nil, err
		}
	}
	handle, err := gpkg.Open(file)
	if err != nil {
		return nil, fmt.Errorf("error opening GeoPackage: %w", err)
	}

	t := Table{
		Name:    LabelsTable,
		gcolumn: geometryColumn,
		gtype:   gpkg.Geometry,
		srs: gpkg.SpatialReferenceSystem{
			Name:                   c.Name(),
			ID:                     c.Code(),
			Organization:           "EPSG",
			OrganizationCoordsysID: c.Code(),
			Definition:             c.WKT(),
			Description:            c.Name(),
		},
		columns: []column{
			{name: "fid", ctype: "INTEGER", notnull: 1, pk: 1},
			{name: geometryColumn, ctype: "GEOMETRY"},
		},
	}
	properties := make([]string, 0, len(columns))
	for _, col := range columns {
		name := col.Name
		if _, ok := reservedColumns[strings.ToLower(name)]; ok {
			name = "source_" + name
		}
		t.columns = append(t.columns, column{name: name, ctype: col.Type})
		properties = append(properties, col.Name)
	}
	t.columns = append(t.columns,
		column{name: "cell_x", ctype: "REAL"},
		column{name: "cell_y", ctype: "REAL"},
		column{name: "quadrant", ctype: "INTEGER"},
		column{name: "origarea", ctype: "REAL"},
		column{name: "origlen", ctype: "REAL"},
		column{name: "partialdec", ctype: "REAL"},
		column{name: "truncated", ctype: "INTEGER"},
	)

	if err := handle.UpdateSRS(t.srs); err != nil {
		handle.Close()
		return nil, err
	}
	if err := buildTable(handle, t); err != nil {
		handle.Close()
		return nil, err
	}
	return &Target{Table: t, pagesize: max(1, pagesize), handle: handle, properties: properties}, nil
}

func (target *Target) Close() error {
	return target.handle.Close()
}

type labelRow struct {
	values   []any
	geometry geom.Geometry
}

// WriteResults writes the labels of every result, pagesize rows per transaction.
func (target *Target) WriteResults(results <-chan processing.Result) error {
	var rows []labelRow
	for r := range results {
		if r.Labels == nil {
			continue
		}
		for _, f := range r.Labels.Features {
			if f.Geometry == nil {
				continue
			}
			rows = append(rows, target.row(r.Cell, f))
			if len(rows) == target.pagesize {
				if err := target.writeRows(rows); err != nil {
					return err
				}
				rows = nil
			}
		}
	}
	return target.writeRows(rows)
}

func (target *Target) row(cell processing.Cell, f vector.Feature) labelRow {
	values := mapslicehelp.OrderedMapValues(f.Properties, target.properties)
	for i, v := range values {
		values[i] = sqliteValue(v)
	}
	values = append(values,
		cell.Bounds.MinX(), cell.Bounds.MinY(), int(cell.Quadrant),
		f.OrigArea, f.OrigLen, f.PartialDec, mathhelp.Bool2int(f.Truncated))
	return labelRow{values: values, geometry: f.Geometry}
}

// sqliteValue maps a property value onto something the sqlite driver stores.
func sqliteValue(v any) any {
	switch v := v.(type) {
	case nil, string, float64, float32, int, int64, int32, time.Time, []byte:
		return v
	case bool:
		return mathhelp.Bool2int(v)
	case map[string]any, []any, *vector.Properties:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(b)
	default:
		return fmt.Sprint(v)
	}
}

func (target *Target) writeRows(rows []labelRow) error {
	if len(rows) == 0 {
		return nil
	}
	tx, err := target.handle.Begin()
	if err != nil {
		return fmt.Errorf("could not start a transaction: %w", err)
	}
	stmt, err := tx.Prepare(target.Table.insertSQL())
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("could not prepare a statement: %w", err)
	}

	for _, row := range rows {
		sb, err := gpkg.NewBinary(int32(target.Table.srs.ID), row.geometry)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("could not create a binary geometry: %w", err)
		}
		if _, err = stmt.Exec(append(row.values, sb)...); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("could not insert label: %w", err)
		}

		if target.extent == nil {
			if target.extent, err = geom.NewExtentFromGeometry(row.geometry); err != nil {
				target.extent = nil
			}
		} else {
			target.extent.AddGeometry(row.geometry)
		}
	}
	stmt.Close()
	if err := tx.Commit(); err != nil {
		return err
	}
	if target.extent == nil {
		return nil
	}
	return target.handle.UpdateGeometryExtent(target.Table.Name, target.extent)
}

// createSQL creates a CREATE statement on the given table and column information
func (t Table) createSQL() string {
	create := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS "%v"`, t.Name)
	var columnparts []string
	for _, column := range t.columns {
		columnpart := `"` + column.name + `" ` + column.ctype
		if column.notnull == 1 {
			columnpart = columnpart + ` NOT NULL`
		}
		if column.pk == 1 {
			columnpart = columnpart + ` PRIMARY KEY AUTOINCREMENT`
		}
		columnparts = append(columnparts, columnpart)
	}
	return create + `(` + strings.Join(columnparts, `, `) + `);`
}

// selectSQL build a SELECT statement based on the table and columns
func (t Table) selectSQL() string {
	var csql []string
	for _, c := range t.columns {
		csql = append(csql, `"`+c.name+`"`)
	}
	return `SELECT ` + strings.Join(csql, `,`) + ` FROM "` + t.Name + `";`
}

// insertSQL builds the INSERT statement, the geometry last and the primary key left to sqlite
func (t Table) insertSQL() string {
	var csql, vsql []string
	for _, c := range t.columns {
		if c.name != t.gcolumn && c.pk == 0 {
			csql = append(csql, `"`+c.name+`"`)
			vsql = append(vsql, `?`)
		}
	}
	csql = append(csql, `"`+t.gcolumn+`"`)
	vsql = append(vsql, `?`)
	return `INSERT INTO "` + t.Name + `"(` + strings.Join(csql, `,`) + `) VALUES(` + strings.Join(vsql, `,`) + `)`
}

// getSpatialReferenceSystem extracts this based on the given SRS id
func getSpatialReferenceSystem(h *gpkg.Handle, id int) (gpkg.SpatialReferenceSystem, error) {
	var srs gpkg.SpatialReferenceSystem
	query := `SELECT srs_name, srs_id, organization, organization_coordsys_id, definition, description FROM gpkg_spatial_ref_sys WHERE srs_id = ?;`

	var description *string
	err := h.QueryRow(query, id).Scan(&srs.Name, &srs.ID, &srs.Organization, &srs.OrganizationCoordsysID, &srs.Definition, &description)
	if err != nil {
		return srs, fmt.Errorf("error reading srs %d: %w", id, err)
	}
	if description != nil {
		srs.Description = *description
	}
	return srs, nil
}

// getTableColumns collects the column information of a given table
func getTableColumns(h *gpkg.Handle, table string) ([]column, error) {
	rows, err := h.Query(fmt.Sprintf(`PRAGMA table_info('%v');`, table))
	if err != nil {
		return nil, fmt.Errorf("error reading columns of %s: %w", table, err)
	}
	defer rows.Close()

	var columns []column
	for rows.Next() {
		var column column
		if err := rows.Scan(&column.cid, &column.name, &column.ctype, &column.notnull, &column.dfltValue, &column.pk); err != nil {
			return nil, fmt.Errorf("error getting the column information: %w", err)
		}
		columns = append(columns, column)
	}
	return columns, rows.Err()
}

// buildTable creates a given destination table with the necessary gpkg_ information
func buildTable(h *gpkg.Handle, t Table) error {
	if _, err := h.Exec(t.createSQL()); err != nil {
		return fmt.Errorf("error building table in target GeoPackage: %w", err)
	}
	err := h.AddGeometryTable(gpkg.TableDescription{
		Name:          t.Name,
		ShortName:     t.Name,
		Description:   t.Name,
		GeometryField: t.gcolumn,
		GeometryType:  t.gtype,
		SRS:           int32(t.srs.ID),
		Z:             gpkg.Prohibited,
		M:             gpkg.Prohibited,
	})
	if err != nil {
		return fmt.Errorf("error adding geometry table in target GeoPackage: %w", err)
	}
	return nil
}
