package postgis

import (
	"encoding/hex"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/go-spatial/geom/encoding/wkb"
	"github.com/go-spatial/geom/encoding/wkt"
	"github.com/jackc/pgx/v5"

	"github.com/enmeshed-analytics/gridwalk-core/pkg/connector/core"
	"github.com/enmeshed-analytics/gridwalk-core/pkg/errors"
	"github.com/enmeshed-analytics/gridwalk-core/pkg/record"
)

// defaultSRID is assumed wherever a layer or record does not declare one.
const defaultSRID = 4326

// validateIdentifier rejects identifiers that cannot safely appear in
// generated SQL. This is deny-by-exclusion: empty strings, quote/escape
// characters, statement separators, and embedded DML keywords fail; anything
// else passes.
func validateIdentifier(identifier string) error {
	if identifier == "" {
		return errors.New(errors.ErrorTypeValidation, "identifier cannot be empty")
	}

	if strings.ContainsAny(identifier, ";'\"\\\x00\n\r") {
		return errors.Newf(errors.ErrorTypeValidation, "invalid identifier %q: contains unsafe characters", identifier)
	}

	upper := strings.ToUpper(identifier)
	for _, keyword := range []string{"DROP", "DELETE", "INSERT", "UPDATE"} {
		if strings.Contains(upper, keyword) {
			return errors.Newf(errors.ErrorTypeValidation, "invalid identifier %q: contains unsafe characters", identifier)
		}
	}

	return nil
}

// sanitizeIdentifier wraps an identifier in double quotes, doubling any
// embedded double quotes.
func sanitizeIdentifier(identifier string) string {
	return pgx.Identifier{identifier}.Sanitize()
}

// quoteIdentifier validates an identifier and returns its quoted form.
func quoteIdentifier(identifier string) (string, error) {
	if err := validateIdentifier(identifier); err != nil {
		return "", err
	}
	return sanitizeIdentifier(identifier), nil
}

// createTableSQL generates the CREATE TABLE statement for a layer: surrogate
// serial primary key, one column per mapped field, and a trailing typed
// geometry column.
func createTableSQL(namespace string, schema *core.LayerSchema) (string, error) {
	quotedNamespace, err := quoteIdentifier(namespace)
	if err != nil {
		return "", err
	}
	quotedTable, err := quoteIdentifier(schema.Name)
	if err != nil {
		return "", err
	}

	var sql strings.Builder
	sql.WriteString("CREATE TABLE " + quotedNamespace + "." + quotedTable + " (\n")
	sql.WriteString("    id SERIAL PRIMARY KEY,\n")

	for _, field := range schema.Fields {
		quotedName, err := quoteIdentifier(field.Name)
		if err != nil {
			return "", err
		}
		nullable := ""
		if !field.Nullable {
			nullable = " NOT NULL"
		}
		sql.WriteString("    " + quotedName + " " + field.Type + nullable + ",\n")
	}

	srid := schema.SRID
	if srid == 0 {
		srid = defaultSRID
	}
	sql.WriteString("    \"geometry\" geometry(" + string(schema.GeometryType) + ", " + strconv.Itoa(srid) + ")\n")
	sql.WriteString(");")

	return sql.String(), nil
}

// tileSQL generates the MVT synthesis query for a stored layer. The tile
// envelope is transformed into the layer's SRID so the intersection filter
// can use the geometry column's index. z, x, y and the tile layer name bind
// as $1..$4.
func tileSQL(src core.LayerSource) (string, error) {
	quotedNamespace, err := quoteIdentifier(src.Namespace)
	if err != nil {
		return "", err
	}
	quotedTable, err := quoteIdentifier(src.Name)
	if err != nil {
		return "", err
	}
	quotedGeomColumn, err := quoteIdentifier(src.GeometryColumn)
	if err != nil {
		return "", err
	}

	srid := src.SRID
	if srid == 0 {
		srid = defaultSRID
	}

	var sql strings.Builder
	sql.WriteString("WITH bounds AS (\n")
	sql.WriteString("    SELECT ST_Transform(ST_TileEnvelope($1, $2, $3), " + strconv.Itoa(srid) + ") AS geom\n")
	sql.WriteString("),\n")
	sql.WriteString("mvt_data AS (\n")
	sql.WriteString("    SELECT ST_AsMVTGeom(\n")
	sql.WriteString("        t." + quotedGeomColumn + ",\n")
	sql.WriteString("        bounds.geom,\n")
	sql.WriteString("        4096,\n")
	sql.WriteString("        256,\n")
	sql.WriteString("        true\n")
	sql.WriteString("    ) AS geom\n")
	sql.WriteString("    FROM " + quotedNamespace + "." + quotedTable + " t,\n")
	sql.WriteString("    bounds\n")
	sql.WriteString("    WHERE ST_Intersects(t." + quotedGeomColumn + ", bounds.geom)\n")
	sql.WriteString(")\n")
	sql.WriteString("SELECT ST_AsMVT(mvt_data.*, $4) AS mvt\nFROM mvt_data;")

	return sql.String(), nil
}

// InsertStatement builds the INSERT for one record. Null fields are omitted
// entirely; remaining columns are sorted by name so the statement text is
// deterministic. The geometry lands through a WKT conversion call carrying
// the record's SRID.
func InsertStatement(rec *record.Record, src core.LayerSource) (string, error) {
	quotedNamespace, err := quoteIdentifier(src.Namespace)
	if err != nil {
		return "", err
	}
	quotedTable, err := quoteIdentifier(src.Name)
	if err != nil {
		return "", err
	}

	geometryColumn := src.GeometryColumn
	if geometryColumn == "" {
		geometryColumn = "geometry"
	}
	quotedGeomColumn, err := quoteIdentifier(geometryColumn)
	if err != nil {
		return "", err
	}

	names := make([]string, 0, len(rec.Fields))
	for name, value := range rec.Fields {
		if value.IsNull() {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	columns := make([]string, 0, len(names)+1)
	values := make([]string, 0, len(names)+1)
	for _, name := range names {
		quotedName, err := quoteIdentifier(name)
		if err != nil {
			return "", err
		}
		formatted, err := formatFieldValue(rec.Fields[name])
		if err != nil {
			return "", err
		}
		columns = append(columns, quotedName)
		values = append(values, formatted)
	}

	geometryValue, err := geometrySQL(rec)
	if err != nil {
		return "", err
	}
	columns = append(columns, quotedGeomColumn)
	values = append(values, geometryValue)

	sql := "INSERT INTO " + quotedNamespace + "." + quotedTable +
		" (" + strings.Join(columns, ", ") + ") VALUES (" + strings.Join(values, ", ") + ");"
	return sql, nil
}

// formatFieldValue renders one field value as a SQL literal.
func formatFieldValue(value record.FieldValue) (string, error) {
	switch value.Kind {
	case record.KindText:
		return "'" + strings.ReplaceAll(value.Text, "'", "''") + "'", nil
	case record.KindInteger:
		return strconv.FormatInt(value.Int, 10), nil
	case record.KindReal:
		return formatReal(value.Real), nil
	case record.KindBoolean:
		if value.Bool {
			return "TRUE", nil
		}
		return "FALSE", nil
	case record.KindDate, record.KindDateTime:
		return "'" + strings.ReplaceAll(value.Text, "'", "''") + "'", nil
	case record.KindBinary:
		return "'\\x" + hex.EncodeToString(value.Bytes) + "'", nil
	case record.KindNull:
		return "NULL", nil
	default:
		return "", errors.Newf(errors.ErrorTypeData, "unhandled field value kind: %s", value.Kind)
	}
}

// formatReal renders a float literal. Non-finite values have no SQL literal
// form and degrade to NULL.
func formatReal(f float64) string {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return "NULL"
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// geometrySQL renders the record geometry as a WKT conversion call. The
// stored WKB is decoded and re-encoded as text because the insert travels as
// a single statement, not a parameterized write.
func geometrySQL(rec *record.Record) (string, error) {
	g, err := wkb.DecodeBytes(rec.GeometryWKB)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrorTypeConversion, "failed to decode record geometry")
	}

	var text strings.Builder
	if err := wkt.Encode(&text, g); err != nil {
		return "", errors.Wrap(err, errors.ErrorTypeConversion, "failed to encode geometry as WKT")
	}

	srid := rec.SRID
	if srid == 0 {
		srid = defaultSRID
	}

	return "ST_GeomFromText('" + text.String() + "', " + strconv.Itoa(srid) + ")", nil
}

// mapFieldType maps canonical source field kind names to PostGIS column
// types. Total by construction: unknown kinds fall back to TEXT.
func mapFieldType(sourceType string) string {
	switch sourceType {
	case "String":
		return "TEXT"
	case "Integer":
		return "INTEGER"
	case "Integer64":
		return "BIGINT"
	case "Real":
		return "DOUBLE PRECISION"
	case "Date":
		return "DATE"
	case "Time":
		return "TIME"
	case "DateTime":
		return "TIMESTAMP"
	case "Binary":
		return "BYTEA"
	case "StringList":
		return "TEXT[]"
	case "IntegerList":
		return "INTEGER[]"
	case "Integer64List":
		return "BIGINT[]"
	case "RealList":
		return "DOUBLE PRECISION[]"
	default:
		return "TEXT" // Default fallback
	}
}

// mapGeometryTypeName maps a PostGIS ST_GeometryType result to the closed
// geometry type set. Unrecognized names are a hard error carrying the name.
func mapGeometryTypeName(name string) (core.GeometryType, error) {
	switch strings.ToUpper(name) {
	case "ST_POINT":
		return core.GeometryTypePoint, nil
	case "ST_LINESTRING":
		return core.GeometryTypeLineString, nil
	case "ST_POLYGON":
		return core.GeometryTypePolygon, nil
	case "ST_MULTIPOINT":
		return core.GeometryTypeMultiPoint, nil
	case "ST_MULTILINESTRING":
		return core.GeometryTypeMultiLineString, nil
	case "ST_MULTIPOLYGON":
		return core.GeometryTypeMultiPolygon, nil
	case "ST_GEOMETRYCOLLECTION":
		return core.GeometryTypeGeometryCollection, nil
	default:
		return "", errors.Newf(errors.ErrorTypeMapping, "unsupported geometry type: %s", name)
	}
}
