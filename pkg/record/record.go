// Package record defines the normalized feature record exchanged between
// dataset conversion and connector backends.
package record

import "fmt"

// Kind tags the variant held by a FieldValue.
type Kind uint8

const (
	// KindNull marks an explicitly absent value
	KindNull Kind = iota
	// KindText is a UTF-8 string
	KindText
	// KindInteger is a 64-bit signed integer
	KindInteger
	// KindReal is a 64-bit float
	KindReal
	// KindBoolean is a true/false value
	KindBoolean
	// KindDate is an ISO-8601 date string (2006-01-02)
	KindDate
	// KindDateTime is an ISO-8601 datetime string (2006-01-02T15:04:05)
	KindDateTime
	// KindBinary is a raw byte payload
	KindBinary
)

// String returns the kind name for diagnostics.
func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindText:
		return "text"
	case KindInteger:
		return "integer"
	case KindReal:
		return "real"
	case KindBoolean:
		return "boolean"
	case KindDate:
		return "date"
	case KindDateTime:
		return "datetime"
	case KindBinary:
		return "binary"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// FieldValue is one attribute value in a closed set of variants. Kind selects
// the variant; only the matching payload field is meaningful. Date and
// DateTime reuse Text for their ISO-8601 rendering.
type FieldValue struct {
	Kind  Kind
	Text  string
	Int   int64
	Real  float64
	Bool  bool
	Bytes []byte
}

// Null returns the explicit-null value.
func Null() FieldValue {
	return FieldValue{Kind: KindNull}
}

// Text returns a text value.
func Text(s string) FieldValue {
	return FieldValue{Kind: KindText, Text: s}
}

// Integer returns a 64-bit integer value.
func Integer(i int64) FieldValue {
	return FieldValue{Kind: KindInteger, Int: i}
}

// Real returns a 64-bit float value.
func Real(f float64) FieldValue {
	return FieldValue{Kind: KindReal, Real: f}
}

// Boolean returns a boolean value.
func Boolean(b bool) FieldValue {
	return FieldValue{Kind: KindBoolean, Bool: b}
}

// Date returns a date value from its ISO-8601 rendering.
func Date(s string) FieldValue {
	return FieldValue{Kind: KindDate, Text: s}
}

// DateTime returns a datetime value from its ISO-8601 rendering.
func DateTime(s string) FieldValue {
	return FieldValue{Kind: KindDateTime, Text: s}
}

// Binary returns a raw byte value.
func Binary(b []byte) FieldValue {
	return FieldValue{Kind: KindBinary, Bytes: b}
}

// IsNull reports whether the value is the explicit null.
func (v FieldValue) IsNull() bool {
	return v.Kind == KindNull
}

// Record is a normalized feature: geometry as well-known binary, the SRID it
// is expressed in (0 when the source did not declare one), and named
// attribute values. Records are only produced by conversion, which guarantees
// GeometryWKB is non-empty and well formed.
type Record struct {
	GeometryWKB []byte
	SRID        int
	Fields      map[string]FieldValue
}

// New returns a Record with an allocated field map.
func New(geometryWKB []byte, srid int) *Record {
	return &Record{
		GeometryWKB: geometryWKB,
		SRID:        srid,
		Fields:      make(map[string]FieldValue),
	}
}
