// Package gpkg reads GeoPackage files as datasets.
//
// A GeoPackage is a SQLite database carrying a registry of its feature tables
// in gpkg_contents and gpkg_geometry_columns. Open introspects that registry
// and exposes every feature table as a dataset.Layer; feature access is plain
// SQL against the table, ordered by its primary key.
package gpkg

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-spatial/geom/encoding/gpkg"
	"go.uber.org/zap"

	"github.com/enmeshed-analytics/gridwalk-core/pkg/dataset"
	"github.com/enmeshed-analytics/gridwalk-core/pkg/errors"
	"github.com/enmeshed-analytics/gridwalk-core/pkg/logger"
)

// layersSQL lists every registered feature table together with its geometry
// column. Ordering by table name keeps layer indices stable across opens.
const layersSQL = `SELECT table_name, column_name, geometry_type_name, srs_id FROM gpkg_geometry_columns ORDER BY table_name;`

// Dataset is a GeoPackage file opened for reading. It implements
// dataset.Dataset. A Dataset is not safe for concurrent use.
type Dataset struct {
	path   string
	handle *gpkg.Handle
	layers []*Layer
	logger *zap.Logger
}

var _ dataset.Dataset = (*Dataset)(nil)

// Open opens the GeoPackage at path and introspects its feature tables.
func Open(path string) (*Dataset, error) {
	// Stat first: the SQLite driver would otherwise create an empty
	// database file for a mistyped path.
	if _, err := os.Stat(path); err != nil {
		return nil, errors.Wrapf(err, errors.ErrorTypeFile, "GeoPackage %s is not readable", path)
	}

	handle, err := gpkg.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrorTypeFile, "failed to open GeoPackage %s", path)
	}

	ds := &Dataset{
		path:   path,
		handle: handle,
		logger: logger.Get().With(zap.String("dataset", path)),
	}

	if err := ds.introspect(); err != nil {
		handle.Close()
		return nil, err
	}

	ds.logger.Debug("opened GeoPackage", zap.Int("layers", len(ds.layers)))

	return ds, nil
}

// introspect loads the feature table registry and the per-table column
// metadata into layer handles.
func (ds *Dataset) introspect() error {
	rows, err := ds.handle.Query(layersSQL)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to read GeoPackage feature table registry")
	}
	defer rows.Close()

	type tableMeta struct {
		name       string
		geomColumn string
		geomType   string
		srsID      int
	}

	var tables []tableMeta
	for rows.Next() {
		var t tableMeta
		if err := rows.Scan(&t.name, &t.geomColumn, &t.geomType, &t.srsID); err != nil {
			return errors.Wrap(err, errors.ErrorTypeFile, "failed to scan GeoPackage feature table registry")
		}
		tables = append(tables, t)
	}
	if err := rows.Err(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to read GeoPackage feature table registry")
	}

	for _, t := range tables {
		layer := &Layer{
			ds:         ds,
			name:       t.name,
			geomColumn: t.geomColumn,
			geomType:   strings.ToUpper(t.geomType),
			srsID:      t.srsID,
		}
		if err := layer.loadColumns(); err != nil {
			return err
		}
		ds.layers = append(ds.layers, layer)
	}

	return nil
}

// LayerCount returns the number of feature tables.
func (ds *Dataset) LayerCount() int {
	return len(ds.layers)
}

// Layer returns the layer at the zero-based index.
func (ds *Dataset) Layer(index int) (dataset.Layer, error) {
	if index < 0 || index >= len(ds.layers) {
		return nil, errors.Newf(errors.ErrorTypeNotFound, "layer index %d out of range (dataset has %d layers)", index, len(ds.layers))
	}
	return ds.layers[index], nil
}

// LayerByName returns the named layer.
func (ds *Dataset) LayerByName(name string) (dataset.Layer, error) {
	for _, layer := range ds.layers {
		if layer.name == name {
			return layer, nil
		}
	}
	return nil, errors.Newf(errors.ErrorTypeNotFound, "layer %q not found in %s", name, ds.path)
}

// Close releases the underlying SQLite handle.
func (ds *Dataset) Close() error {
	ds.handle.Close()
	return nil
}

// column mirrors one row of PRAGMA table_info.
type column struct {
	cid       int
	name      string
	ctype     string
	notnull   int
	dfltValue *string
	pk        int
}

// Layer is one feature table of a GeoPackage. It implements dataset.Layer.
type Layer struct {
	ds         *Dataset
	name       string
	geomColumn string
	geomType   string
	srsID      int

	// pkColumn orders feature access; "rowid" when the table declares no
	// integer primary key.
	pkColumn string
	fields   []dataset.FieldDef
	// fieldColumns holds the SQL column name per field, index-aligned with
	// fields.
	fieldColumns []string
}

var _ dataset.Layer = (*Layer)(nil)

// loadColumns reads PRAGMA table_info for the layer's table and derives the
// attribute field definitions, excluding the primary key and the geometry
// column.
func (l *Layer) loadColumns() error {
	query := fmt.Sprintf(`PRAGMA table_info('%v');`, escapeLiteral(l.name))
	rows, err := l.ds.handle.Query(query)
	if err != nil {
		return errors.Wrapf(err, errors.ErrorTypeFile, "failed to read columns of table %q", l.name)
	}
	defer rows.Close()

	var columns []column
	for rows.Next() {
		var c column
		if err := rows.Scan(&c.cid, &c.name, &c.ctype, &c.notnull, &c.dfltValue, &c.pk); err != nil {
			return errors.Wrapf(err, errors.ErrorTypeFile, "failed to scan column of table %q", l.name)
		}
		columns = append(columns, c)
	}
	if err := rows.Err(); err != nil {
		return errors.Wrapf(err, errors.ErrorTypeFile, "failed to read columns of table %q", l.name)
	}

	l.pkColumn = "rowid"
	for _, c := range columns {
		if c.pk == 1 {
			l.pkColumn = c.name
			continue
		}
		if c.name == l.geomColumn {
			continue
		}

		kind, width := fieldTypeFromDeclared(c.ctype)
		l.fields = append(l.fields, dataset.FieldDef{
			Name:     c.name,
			Type:     kind,
			Width:    width,
			Nullable: c.notnull == 0,
		})
		l.fieldColumns = append(l.fieldColumns, c.name)
	}

	return nil
}

// Name returns the feature table name.
func (l *Layer) Name() string {
	return l.name
}

// FeatureCount returns the current number of rows in the feature table.
func (l *Layer) FeatureCount() (int64, error) {
	query := fmt.Sprintf(`SELECT count(*) FROM %v;`, quoteIdentifier(l.name))
	row := l.ds.handle.QueryRow(query)

	var count int64
	if err := row.Scan(&count); err != nil {
		return 0, errors.Wrapf(err, errors.ErrorTypeFile, "failed to count features of layer %q", l.name)
	}
	return count, nil
}

// GeometryType returns the registered geometry type name, for example "POINT".
func (l *Layer) GeometryType() (string, error) {
	return l.geomType, nil
}

// SRID returns the authority code of the layer's spatial reference system,
// 0 when the GeoPackage does not resolve one.
func (l *Layer) SRID() (int, error) {
	query := fmt.Sprintf(`SELECT organization_coordsys_id FROM gpkg_spatial_ref_sys WHERE srs_id = %v;`, l.srsID)
	row := l.ds.handle.QueryRow(query)

	var code int
	if err := row.Scan(&code); err != nil {
		// An unregistered srs_id is a data defect in the file, not a read
		// failure; report the reference as unknown.
		return 0, nil
	}
	return code, nil
}

// FieldDefs returns the attribute columns in declaration order.
func (l *Layer) FieldDefs() ([]dataset.FieldDef, error) {
	defs := make([]dataset.FieldDef, len(l.fields))
	copy(defs, l.fields)
	return defs, nil
}

// Feature returns the feature at the zero-based index in primary key order.
func (l *Layer) Feature(index int64) (dataset.Feature, error) {
	if index < 0 {
		return nil, dataset.ErrNoFeature
	}

	cols := make([]string, 0, len(l.fieldColumns)+1)
	for _, name := range l.fieldColumns {
		cols = append(cols, quoteIdentifier(name))
	}
	cols = append(cols, quoteIdentifier(l.geomColumn))

	query := fmt.Sprintf(`SELECT %v FROM %v ORDER BY %v LIMIT 1 OFFSET %v;`,
		strings.Join(cols, ", "), quoteIdentifier(l.name), quoteIdentifier(l.pkColumn), index)

	rows, err := l.ds.handle.Query(query)
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrorTypeFile, "failed to read feature %d of layer %q", index, l.name)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, errors.Wrapf(err, errors.ErrorTypeFile, "failed to read feature %d of layer %q", index, l.name)
		}
		return nil, dataset.ErrNoFeature
	}

	vals := make([]interface{}, len(cols))
	valPtrs := make([]interface{}, len(cols))
	for i := range vals {
		valPtrs[i] = &vals[i]
	}
	if err := rows.Scan(valPtrs...); err != nil {
		return nil, errors.Wrapf(err, errors.ErrorTypeFile, "failed to scan feature %d of layer %q", index, l.name)
	}

	f := &Feature{}
	for i, def := range l.fields {
		value, err := normalizeValue(vals[i], def.Type)
		if err != nil {
			return nil, errors.Wrapf(err, errors.ErrorTypeData, "field %q of feature %d in layer %q", def.Name, index, l.name)
		}
		f.values = append(f.values, value)
	}

	if blob, ok := vals[len(vals)-1].([]byte); ok && len(blob) > 0 {
		wkb, err := wkbPayload(blob)
		if err != nil {
			return nil, errors.Wrapf(err, errors.ErrorTypeData, "geometry of feature %d in layer %q", index, l.name)
		}
		f.wkb = wkb
	}

	return f, nil
}

// Feature is one row of a feature table. It implements dataset.Feature.
type Feature struct {
	wkb    []byte
	values []interface{}
}

var _ dataset.Feature = (*Feature)(nil)

// GeometryWKB returns the feature geometry as well-known binary, stripped of
// the GeoPackage binary header.
func (f *Feature) GeometryWKB() ([]byte, bool) {
	if f.wkb == nil {
		return nil, false
	}
	return f.wkb, true
}

// Field returns the attribute value at the zero-based field index.
func (f *Feature) Field(index int) (interface{}, error) {
	if index < 0 || index >= len(f.values) {
		return nil, errors.Newf(errors.ErrorTypeNotFound, "field index %d out of range (feature has %d fields)", index, len(f.values))
	}
	return f.values[index], nil
}

// normalizeValue coerces a SQLite scan value into the closed dynamic type set
// of dataset.Feature, guided by the declared field kind. SQLite reports at
// most int64, float64, string, []byte, time.Time and nil.
func normalizeValue(v interface{}, kind string) (interface{}, error) {
	if v == nil {
		return nil, nil
	}

	switch value := v.(type) {
	case int64:
		switch kind {
		case "Integer":
			return int32(value), nil
		case "Real":
			return float64(value), nil
		}
		return value, nil
	case float64:
		return value, nil
	case bool:
		// BOOLEAN columns are registered as Integer fields; flatten to 0/1.
		if value {
			return int32(1), nil
		}
		return int32(0), nil
	case string:
		return value, nil
	case time.Time:
		return value, nil
	case []byte:
		if kind == "Binary" {
			asBytes := make([]byte, len(value))
			copy(asBytes, value)
			return asBytes, nil
		}
		return string(value), nil
	default:
		return nil, errors.Newf(errors.ErrorTypeData, "unexpected SQLite value type %T", v)
	}
}

// fieldTypeFromDeclared maps a SQLite declared column type to a canonical
// field kind plus the declared width, if any. The mapping follows the
// GeoPackage type registry: INT and INTEGER are 64-bit there, the smaller
// MEDIUMINT, SMALLINT, TINYINT and BOOLEAN are 32-bit.
func fieldTypeFromDeclared(declared string) (string, int) {
	base := strings.ToUpper(strings.TrimSpace(declared))

	width := 0
	if start := strings.Index(base, "("); start >= 0 {
		if end := strings.Index(base, ")"); end > start {
			if n, err := strconv.Atoi(strings.TrimSpace(base[start+1 : end])); err == nil {
				width = n
			}
		}
		base = strings.TrimSpace(base[:start])
	}

	switch base {
	case "TEXT", "VARCHAR", "CHAR", "CLOB", "STRING":
		return "String", width
	case "BOOLEAN", "BOOL", "TINYINT", "SMALLINT", "MEDIUMINT":
		return "Integer", 0
	case "INT", "INTEGER", "BIGINT", "INT8":
		return "Integer64", 0
	case "FLOAT", "REAL", "DOUBLE", "DOUBLE PRECISION", "NUMERIC":
		return "Real", 0
	case "DATE":
		return "Date", 0
	case "DATETIME", "TIMESTAMP":
		return "DateTime", 0
	case "BLOB":
		return "Binary", 0
	default:
		return "String", width
	}
}

// quoteIdentifier wraps a SQLite identifier in double quotes, doubling any
// embedded quote characters.
func quoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// escapeLiteral doubles single quotes for interpolation into a SQLite string
// literal.
func escapeLiteral(s string) string {
	return strings.ReplaceAll(s, `'`, `''`)
}

// gpkgMagic starts every GeoPackage geometry blob.
var gpkgMagic = []byte{0x47, 0x50}

// envelope indicator values from the GeoPackage binary header flags, mapped
// to the number of float64 values each carries.
var envelopeSizes = map[byte]int{
	0: 0, // no envelope
	1: 4, // x, y
	2: 6, // x, y, z
	3: 6, // x, y, m
	4: 8, // x, y, z, m
}

// wkbPayload strips the GeoPackage binary header from a geometry blob and
// returns the raw WKB that follows it.
func wkbPayload(blob []byte) ([]byte, error) {
	if len(blob) < 8 {
		return nil, errors.Newf(errors.ErrorTypeData, "geometry blob too short: %d bytes", len(blob))
	}
	if blob[0] != gpkgMagic[0] || blob[1] != gpkgMagic[1] {
		return nil, errors.New(errors.ErrorTypeData, "geometry blob does not start with the GeoPackage magic")
	}

	flags := blob[3]
	envelope := (flags >> 1) & 0x07
	count, ok := envelopeSizes[envelope]
	if !ok {
		return nil, errors.Newf(errors.ErrorTypeData, "invalid envelope contents indicator %d", envelope)
	}

	headerSize := 8 + 8*count
	if len(blob) < headerSize {
		return nil, errors.Newf(errors.ErrorTypeData, "geometry blob shorter than its declared header: %d < %d", len(blob), headerSize)
	}

	return blob[headerSize:], nil
}
