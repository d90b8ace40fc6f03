// Package dataset defines the read contract over geospatial file datasets.
//
// Implementations wrap native readers (SQLite-backed GeoPackage in
// pkg/dataset/gpkg) and are assumed to block: callers drive them through a
// blocking-work boundary, never directly on a latency-sensitive goroutine.
package dataset

import "errors"

// ErrNoFeature marks a logically absent feature slot. Iteration treats it as
// skippable, not fatal.
var ErrNoFeature = errors.New("dataset: no feature at index")

// FieldDef describes one attribute column of a layer. Type is a canonical
// source kind name drawn from the closed set: String, Integer, Integer64,
// Real, Date, Time, DateTime, Binary, StringList, IntegerList,
// Integer64List, RealList. Width and Precision are 0 when the source does
// not declare them.
type FieldDef struct {
	Name      string
	Type      string
	Width     int
	Precision int
	Nullable  bool
}

// Dataset is an open geospatial file. Implementations are not safe for
// concurrent use; one goroutine drives a dataset at a time.
type Dataset interface {
	// LayerCount returns the number of vector layers.
	LayerCount() int

	// Layer returns the layer at the zero-based index.
	Layer(index int) (Layer, error)

	// LayerByName returns the named layer.
	LayerByName(name string) (Layer, error)

	// Close releases the underlying handle.
	Close() error
}

// Layer is one vector layer of a dataset. Layer handles are cheap views;
// they hold no iteration state of their own.
type Layer interface {
	// Name returns the layer name.
	Name() string

	// FeatureCount returns the current number of features.
	FeatureCount() (int64, error)

	// GeometryType returns the source's geometry type name (for example
	// "POINT"); normalization happens in the callers.
	GeometryType() (string, error)

	// SRID returns the authority code of the layer's spatial reference,
	// 0 when unknown.
	SRID() (int, error)

	// FieldDefs returns the attribute columns in declaration order,
	// geometry and surrogate-key columns excluded.
	FieldDefs() ([]FieldDef, error)

	// Feature returns the feature at the zero-based index, or ErrNoFeature
	// when the slot is logically absent.
	Feature(index int64) (Feature, error)
}

// Feature is one feature of a layer.
//
// Field returns the value at the field index. The dynamic type is drawn from
// a closed set: nil, string, int32, int64, float64, bool, time.Time, []byte,
// []string, []int32, []int64, []float64.
type Feature interface {
	// GeometryWKB returns the geometry as well-known binary and whether a
	// geometry is present at all.
	GeometryWKB() ([]byte, bool)

	// Field returns the attribute value at the zero-based field index.
	Field(index int) (interface{}, error)
}
