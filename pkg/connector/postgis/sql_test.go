package postgis

import (
	"bytes"
	"encoding/binary"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/enmeshed-analytics/gridwalk-core/pkg/connector/core"
	"github.com/enmeshed-analytics/gridwalk-core/pkg/errors"
	"github.com/enmeshed-analytics/gridwalk-core/pkg/record"
)

func TestValidateIdentifier(t *testing.T) {
	accepted := []string{
		"layers",
		"my_table",
		"Layer123",
		"a-b",
		"café",
		"road segments",
		"9starts_with_digit",
	}
	for _, id := range accepted {
		t.Run("accepts "+id, func(t *testing.T) {
			assert.NoError(t, validateIdentifier(id))
		})
	}

	rejected := []string{
		"",
		"users;",
		"users; SELECT 1",
		"o'hara",
		`he"llo`,
		`back\slash`,
		"line\nbreak",
		"carriage\rreturn",
		"nul\x00byte",
		"drop_table",
		"Delete_me",
		"insert_here",
		"bulk_UPDATE",
		"updated_at",
	}
	for _, id := range rejected {
		t.Run("rejects "+strings.ReplaceAll(id, "\x00", "<nul>"), func(t *testing.T) {
			err := validateIdentifier(id)
			require.Error(t, err)
			assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
		})
	}
}

func TestSanitizeIdentifier(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"layers", `"layers"`},
		{`O'Hara"s`, `"O'Hara""s"`},
		{`a""b`, `"a""""b"`},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, sanitizeIdentifier(tt.input))
		})
	}
}

func TestQuoteIdentifier(t *testing.T) {
	got, err := quoteIdentifier("layers")
	require.NoError(t, err)
	assert.Equal(t, `"layers"`, got)

	// Validation runs before quoting, so quotable-but-dangerous names fail.
	_, err = quoteIdentifier(`O'Hara"s`)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
}

func TestCreateTableSQL(t *testing.T) {
	schema := &core.LayerSchema{
		Name:         "roads",
		GeometryType: core.GeometryTypeLineString,
		SRID:         4326,
		Fields: []core.FieldDefinition{
			{Name: "name", Type: "TEXT", Nullable: false},
			{Name: "lanes", Type: "INTEGER", Nullable: true},
		},
	}

	sql, err := createTableSQL("public", schema)
	require.NoError(t, err)

	assert.Contains(t, sql, `CREATE TABLE "public"."roads" (`)
	assert.Contains(t, sql, "id SERIAL PRIMARY KEY,")
	assert.Contains(t, sql, `"name" TEXT NOT NULL,`)
	assert.Contains(t, sql, `"lanes" INTEGER,`)
	assert.NotContains(t, sql, `"lanes" INTEGER NOT NULL`)
	assert.Contains(t, sql, `"geometry" geometry(LineString, 4326)`)
	assert.True(t, strings.HasSuffix(sql, ");"))
}

func TestCreateTableSQLDefaultSRID(t *testing.T) {
	schema := &core.LayerSchema{
		Name:         "points_of_interest",
		GeometryType: core.GeometryTypePoint,
	}

	sql, err := createTableSQL("public", schema)
	require.NoError(t, err)
	assert.Contains(t, sql, `geometry(Point, 4326)`)
}

func TestCreateTableSQLRejectsBadIdentifiers(t *testing.T) {
	tests := []struct {
		name      string
		namespace string
		schema    *core.LayerSchema
	}{
		{
			name:      "bad namespace",
			namespace: "public; DROP",
			schema:    &core.LayerSchema{Name: "roads", GeometryType: core.GeometryTypePoint},
		},
		{
			name:      "bad table",
			namespace: "public",
			schema:    &core.LayerSchema{Name: "roads'", GeometryType: core.GeometryTypePoint},
		},
		{
			name:      "bad column",
			namespace: "public",
			schema: &core.LayerSchema{
				Name:         "roads",
				GeometryType: core.GeometryTypePoint,
				Fields:       []core.FieldDefinition{{Name: "a;b", Type: "TEXT"}},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := createTableSQL(tt.namespace, tt.schema)
			require.Error(t, err)
			assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
		})
	}
}

func TestTileSQL(t *testing.T) {
	src := core.LayerSource{
		Namespace:      "public",
		Name:           "roads",
		GeometryColumn: "geom",
		SRID:           27700,
	}

	sql, err := tileSQL(src)
	require.NoError(t, err)

	assert.Contains(t, sql, "ST_Transform(ST_TileEnvelope($1, $2, $3), 27700)")
	assert.Contains(t, sql, "ST_AsMVTGeom(")
	assert.Contains(t, sql, `t."geom",`)
	assert.Contains(t, sql, "4096,")
	assert.Contains(t, sql, "256,")
	assert.Contains(t, sql, "true")
	assert.Contains(t, sql, `FROM "public"."roads" t,`)
	assert.Contains(t, sql, `WHERE ST_Intersects(t."geom", bounds.geom)`)
	assert.Contains(t, sql, "SELECT ST_AsMVT(mvt_data.*, $4) AS mvt")
}

func TestTileSQLDefaultSRID(t *testing.T) {
	src := core.LayerSource{Namespace: "public", Name: "roads", GeometryColumn: "geometry"}

	sql, err := tileSQL(src)
	require.NoError(t, err)
	assert.Contains(t, sql, "ST_TileEnvelope($1, $2, $3), 4326")
}

func TestTileSQLRejectsBadIdentifiers(t *testing.T) {
	src := core.LayerSource{Namespace: "public", Name: "roads; DROP TABLE roads", GeometryColumn: "geom"}

	_, err := tileSQL(src)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
}

// pointWKB builds a little-endian WKB point.
func pointWKB(t *testing.T, x, y float64) []byte {
	t.Helper()
	buf := new(bytes.Buffer)
	buf.WriteByte(1)
	require.NoError(t, binary.Write(buf, binary.LittleEndian, uint32(1)))
	require.NoError(t, binary.Write(buf, binary.LittleEndian, x))
	require.NoError(t, binary.Write(buf, binary.LittleEndian, y))
	return buf.Bytes()
}

func TestInsertStatement(t *testing.T) {
	rec := record.New(pointWKB(t, 1, 2), 27700)
	rec.Fields["name"] = record.Text("O'Hara Road")
	rec.Fields["lanes"] = record.Integer(2)
	rec.Fields["length_m"] = record.Real(12.5)
	rec.Fields["one_way"] = record.Boolean(true)
	rec.Fields["surveyed"] = record.Date("2024-05-01")
	rec.Fields["note"] = record.Null()

	src := core.LayerSource{Namespace: "public", Name: "roads", GeometryColumn: "geometry"}

	sql, err := InsertStatement(rec, src)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(sql, `INSERT INTO "public"."roads" (`))
	assert.Contains(t, sql, `"name"`)
	assert.Contains(t, sql, `'O''Hara Road'`)
	assert.Contains(t, sql, `"lanes"`)
	assert.Contains(t, sql, "2")
	assert.Contains(t, sql, "12.5")
	assert.Contains(t, sql, "TRUE")
	assert.Contains(t, sql, `'2024-05-01'`)
	assert.Contains(t, sql, "ST_GeomFromText('POINT")
	assert.Contains(t, sql, "', 27700)")

	// Null fields are omitted, not written as NULL.
	assert.NotContains(t, sql, `"note"`)
	assert.NotContains(t, sql, "NULL")
}

func TestInsertStatementDefaultSRIDAndColumn(t *testing.T) {
	rec := record.New(pointWKB(t, -0.1276, 51.5072), 0)
	src := core.LayerSource{Namespace: "public", Name: "cities"}

	sql, err := InsertStatement(rec, src)
	require.NoError(t, err)

	assert.Contains(t, sql, `"geometry"`)
	assert.Contains(t, sql, "', 4326)")
}

func TestInsertStatementDeterministicColumnOrder(t *testing.T) {
	rec := record.New(pointWKB(t, 1, 1), 4326)
	rec.Fields["b"] = record.Integer(2)
	rec.Fields["a"] = record.Integer(1)
	rec.Fields["c"] = record.Integer(3)

	src := core.LayerSource{Namespace: "public", Name: "t", GeometryColumn: "geometry"}

	first, err := InsertStatement(rec, src)
	require.NoError(t, err)
	second, err := InsertStatement(rec, src)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Contains(t, first, `("a", "b", "c", "geometry")`)
}

func TestInsertStatementBadGeometry(t *testing.T) {
	rec := record.New([]byte{0xFF, 0x01}, 4326)
	src := core.LayerSource{Namespace: "public", Name: "roads", GeometryColumn: "geometry"}

	_, err := InsertStatement(rec, src)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConversion))
}

func TestFormatFieldValue(t *testing.T) {
	tests := []struct {
		name  string
		value record.FieldValue
		want  string
	}{
		{"text", record.Text("plain"), "'plain'"},
		{"text escaped", record.Text("it's"), "'it''s'"},
		{"integer", record.Integer(-7), "-7"},
		{"real", record.Real(3.14), "3.14"},
		{"real integral", record.Real(3), "3"},
		{"real nan", record.Real(math.NaN()), "NULL"},
		{"real plus inf", record.Real(math.Inf(1)), "NULL"},
		{"real minus inf", record.Real(math.Inf(-1)), "NULL"},
		{"boolean true", record.Boolean(true), "TRUE"},
		{"boolean false", record.Boolean(false), "FALSE"},
		{"date", record.Date("2024-05-01"), "'2024-05-01'"},
		{"datetime", record.DateTime("2024-05-01T12:30:00"), "'2024-05-01T12:30:00'"},
		{"binary", record.Binary([]byte{0xde, 0xad}), `'\xdead'`},
		{"null", record.Null(), "NULL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := formatFieldValue(tt.value)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMapFieldType(t *testing.T) {
	tests := []struct {
		sourceType string
		want       string
	}{
		{"String", "TEXT"},
		{"Integer", "INTEGER"},
		{"Integer64", "BIGINT"},
		{"Real", "DOUBLE PRECISION"},
		{"Date", "DATE"},
		{"Time", "TIME"},
		{"DateTime", "TIMESTAMP"},
		{"Binary", "BYTEA"},
		{"StringList", "TEXT[]"},
		{"IntegerList", "INTEGER[]"},
		{"Integer64List", "BIGINT[]"},
		{"RealList", "DOUBLE PRECISION[]"},
		{"Bogus", "TEXT"},
		{"", "TEXT"},
	}

	for _, tt := range tests {
		t.Run(tt.sourceType, func(t *testing.T) {
			assert.Equal(t, tt.want, mapFieldType(tt.sourceType))
			// Pure and deterministic.
			assert.Equal(t, mapFieldType(tt.sourceType), mapFieldType(tt.sourceType))
		})
	}
}

func TestMapGeometryTypeName(t *testing.T) {
	tests := []struct {
		input   string
		want    core.GeometryType
		wantErr bool
	}{
		{"ST_POINT", core.GeometryTypePoint, false},
		{"st_point", core.GeometryTypePoint, false},
		{"ST_LINESTRING", core.GeometryTypeLineString, false},
		{"ST_POLYGON", core.GeometryTypePolygon, false},
		{"ST_MULTIPOINT", core.GeometryTypeMultiPoint, false},
		{"ST_MULTILINESTRING", core.GeometryTypeMultiLineString, false},
		{"ST_MULTIPOLYGON", core.GeometryTypeMultiPolygon, false},
		{"ST_GEOMETRYCOLLECTION", core.GeometryTypeGeometryCollection, false},
		{"ST_CIRCULARSTRING", "", true},
		{"POINT", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := mapGeometryTypeName(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.IsType(err, errors.ErrorTypeMapping))
				assert.Contains(t, err.Error(), tt.input)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
