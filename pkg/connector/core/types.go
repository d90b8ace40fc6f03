package core

import (
	"strings"

	"github.com/enmeshed-analytics/gridwalk-core/pkg/errors"
)

// GeometryType is the closed set of vector geometry types a connector can
// store and report.
type GeometryType string

const (
	GeometryTypePoint              GeometryType = "Point"
	GeometryTypeLineString         GeometryType = "LineString"
	GeometryTypePolygon            GeometryType = "Polygon"
	GeometryTypeMultiPoint         GeometryType = "MultiPoint"
	GeometryTypeMultiLineString    GeometryType = "MultiLineString"
	GeometryTypeMultiPolygon       GeometryType = "MultiPolygon"
	GeometryTypeGeometryCollection GeometryType = "GeometryCollection"
)

// ParseGeometryType normalizes a source geometry type name ("POINT",
// "MultiPolygon", ...) into the closed set. Unrecognized names are a hard
// mapping error carrying the offending name; guessing a geometry type would
// poison every row written under it.
func ParseGeometryType(name string) (GeometryType, error) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "POINT":
		return GeometryTypePoint, nil
	case "LINESTRING":
		return GeometryTypeLineString, nil
	case "POLYGON":
		return GeometryTypePolygon, nil
	case "MULTIPOINT":
		return GeometryTypeMultiPoint, nil
	case "MULTILINESTRING":
		return GeometryTypeMultiLineString, nil
	case "MULTIPOLYGON":
		return GeometryTypeMultiPolygon, nil
	case "GEOMETRYCOLLECTION":
		return GeometryTypeGeometryCollection, nil
	default:
		return "", errors.Newf(errors.ErrorTypeMapping, "unhandled geometry type: %s", name)
	}
}

// FieldDefinition describes one attribute column of a layer after backend
// type mapping. Type holds the backend's SQL type name verbatim. Width and
// Precision are 0 when the source does not declare them.
type FieldDefinition struct {
	Name      string `json:"name"`
	Type      string `json:"type"`
	Width     int    `json:"width,omitempty"`
	Precision int    `json:"precision,omitempty"`
	Nullable  bool   `json:"nullable"`
}

// LayerSchema is the backend-ready description of a vector layer: everything
// a connector needs to create storage for it.
type LayerSchema struct {
	Name         string            `json:"name"`
	GeometryType GeometryType      `json:"geometry_type"`
	SRID         int               `json:"srid,omitempty"`
	FeatureCount int64             `json:"feature_count"`
	Fields       []FieldDefinition `json:"fields"`
}

// LayerSource identifies a stored layer inside a backend namespace, with the
// geometry column and SRID tile queries need.
type LayerSource struct {
	Namespace      string `json:"namespace"`
	Name           string `json:"name"`
	GeometryColumn string `json:"geometry_column"`
	SRID           int    `json:"srid"`
}

// RasterInfo summarizes a stored raster source.
type RasterInfo struct {
	Width       int      `json:"width"`
	Height      int      `json:"height"`
	Bands       int      `json:"bands"`
	DataType    string   `json:"data_type"`
	NoDataValue *float64 `json:"no_data_value,omitempty"`
}
