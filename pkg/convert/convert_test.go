package convert

import (
	"context"
	"encoding/binary"
	"io"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/enmeshed-analytics/gridwalk-core/pkg/dataset"
	"github.com/enmeshed-analytics/gridwalk-core/pkg/errors"
	"github.com/enmeshed-analytics/gridwalk-core/pkg/record"
)

// pointWKB builds a little-endian WKB point.
func pointWKB(t *testing.T, x, y float64) []byte {
	t.Helper()

	buf := make([]byte, 21)
	buf[0] = 0x01
	binary.LittleEndian.PutUint32(buf[1:5], 1)
	binary.LittleEndian.PutUint64(buf[5:13], math.Float64bits(x))
	binary.LittleEndian.PutUint64(buf[13:21], math.Float64bits(y))
	return buf
}

type fakeFeature struct {
	wkb    []byte
	values []interface{}
}

func (f *fakeFeature) GeometryWKB() ([]byte, bool) {
	if f.wkb == nil {
		return nil, false
	}
	return f.wkb, true
}

func (f *fakeFeature) Field(index int) (interface{}, error) {
	if index < 0 || index >= len(f.values) {
		return nil, errors.Newf(errors.ErrorTypeNotFound, "field index %d out of range", index)
	}
	return f.values[index], nil
}

type fakeLayer struct {
	name     string
	srid     int
	defs     []dataset.FieldDef
	count    int64
	features map[int64]*fakeFeature

	// featureHook runs at the top of every Feature call.
	featureHook func()
}

func (l *fakeLayer) Name() string                          { return l.name }
func (l *fakeLayer) FeatureCount() (int64, error)          { return l.count, nil }
func (l *fakeLayer) GeometryType() (string, error)         { return "POINT", nil }
func (l *fakeLayer) SRID() (int, error)                    { return l.srid, nil }
func (l *fakeLayer) FieldDefs() ([]dataset.FieldDef, error) { return l.defs, nil }

func (l *fakeLayer) Feature(index int64) (dataset.Feature, error) {
	if l.featureHook != nil {
		l.featureHook()
	}
	f, ok := l.features[index]
	if !ok {
		return nil, dataset.ErrNoFeature
	}
	return f, nil
}

type fakeDataset struct {
	layers []*fakeLayer
}

func (ds *fakeDataset) LayerCount() int { return len(ds.layers) }

func (ds *fakeDataset) Layer(index int) (dataset.Layer, error) {
	if index < 0 || index >= len(ds.layers) {
		return nil, errors.Newf(errors.ErrorTypeNotFound, "layer index %d out of range", index)
	}
	return ds.layers[index], nil
}

func (ds *fakeDataset) LayerByName(name string) (dataset.Layer, error) {
	for _, l := range ds.layers {
		if l.name == name {
			return l, nil
		}
	}
	return nil, errors.Newf(errors.ErrorTypeNotFound, "layer %q not found", name)
}

func (ds *fakeDataset) Close() error { return nil }

// newRoadsDataset builds a single-layer dataset with five feature slots of
// which slot 2 is absent, mimicking a compacted source.
func newRoadsDataset(t *testing.T) *fakeDataset {
	t.Helper()

	layer := &fakeLayer{
		name: "roads",
		srid: 4326,
		defs: []dataset.FieldDef{
			{Name: "name", Type: "String"},
			{Name: "lanes", Type: "Integer"},
		},
		count:    5,
		features: map[int64]*fakeFeature{},
	}
	for _, i := range []int64{0, 1, 3, 4} {
		layer.features[i] = &fakeFeature{
			wkb:    pointWKB(t, float64(i), float64(i)),
			values: []interface{}{"road-" + string(rune('a'+i)), int32(i)},
		}
	}
	return &fakeDataset{layers: []*fakeLayer{layer}}
}

func TestNewFeatureStream(t *testing.T) {
	ds := newRoadsDataset(t)

	stream, err := NewFeatureStream(context.Background(), ds, ByIndex(0))
	require.NoError(t, err)
	assert.Equal(t, "roads", stream.LayerName())
	assert.Equal(t, int64(5), stream.Total())

	byName, err := NewFeatureStream(context.Background(), ds, ByName("roads"))
	require.NoError(t, err)
	assert.Equal(t, int64(5), byName.Total())
}

func TestNewFeatureStreamUnknownLayer(t *testing.T) {
	ds := newRoadsDataset(t)

	_, err := NewFeatureStream(context.Background(), ds, ByName("rivers"))
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConversion))

	_, err = NewFeatureStream(context.Background(), ds, ByIndex(3))
	require.Error(t, err)
}

func TestNextSkipsAbsentSlots(t *testing.T) {
	ds := newRoadsDataset(t)
	stream, err := NewFeatureStream(context.Background(), ds, ByIndex(0))
	require.NoError(t, err)

	var names []string
	for {
		rec, err := stream.Next(context.Background())
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		names = append(names, rec.Fields["name"].Text)
	}

	// Slot 2 is absent: four records, in source index order, no gap error.
	assert.Equal(t, []string{"road-a", "road-b", "road-d", "road-e"}, names)

	// Exhaustion is sticky.
	_, err = stream.Next(context.Background())
	assert.Equal(t, io.EOF, err)
	_, err = stream.Next(context.Background())
	assert.Equal(t, io.EOF, err)
}

func TestNextRecordContents(t *testing.T) {
	ds := newRoadsDataset(t)
	stream, err := NewFeatureStream(context.Background(), ds, ByIndex(0))
	require.NoError(t, err)

	rec, err := stream.Next(context.Background())
	require.NoError(t, err)

	assert.Equal(t, pointWKB(t, 0, 0), rec.GeometryWKB)
	assert.Equal(t, 4326, rec.SRID)
	assert.Equal(t, record.Text("road-a"), rec.Fields["name"])
	assert.Equal(t, record.Integer(0), rec.Fields["lanes"])
}

func TestNextMissingGeometry(t *testing.T) {
	ds := newRoadsDataset(t)
	ds.layers[0].features[0].wkb = nil

	stream, err := NewFeatureStream(context.Background(), ds, ByIndex(0))
	require.NoError(t, err)

	_, err = stream.Next(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConversion))

	// The failure consumes only the offending feature.
	rec, err := stream.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "road-b", rec.Fields["name"].Text)
}

func TestNextInvalidWKB(t *testing.T) {
	ds := newRoadsDataset(t)
	ds.layers[0].features[0].wkb = []byte{0x01, 0x02}

	stream, err := NewFeatureStream(context.Background(), ds, ByIndex(0))
	require.NoError(t, err)

	_, err = stream.Next(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConversion))
}

func TestNextCancellation(t *testing.T) {
	ds := newRoadsDataset(t)
	stream, err := NewFeatureStream(context.Background(), ds, ByIndex(0))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	release := make(chan struct{})
	ds.layers[0].featureHook = func() {
		cancel()
		<-release
	}

	_, err = stream.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	close(release)

	// A cancelled step does not advance the stream.
	ds.layers[0].featureHook = nil
	rec, err := stream.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "road-a", rec.Fields["name"].Text)
}

func TestStreamChannelAdapter(t *testing.T) {
	ds := newRoadsDataset(t)
	ds.layers[0].features[1].wkb = nil // one conversion failure mid-stream

	stream, err := NewFeatureStream(context.Background(), ds, ByIndex(0))
	require.NoError(t, err)

	out := stream.Stream(context.Background())

	var names []string
	var streamErrs []error
	records, errs := out.Records, out.Errors
	for records != nil || errs != nil {
		select {
		case rec, ok := <-records:
			if !ok {
				records = nil
				continue
			}
			names = append(names, rec.Fields["name"].Text)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			streamErrs = append(streamErrs, err)
		}
	}

	assert.Equal(t, []string{"road-a", "road-d", "road-e"}, names)
	require.Len(t, streamErrs, 1)
	assert.True(t, errors.IsType(streamErrs[0], errors.ErrorTypeConversion))
}

func TestLayerSelectorString(t *testing.T) {
	assert.Equal(t, "#2", ByIndex(2).String())
	assert.Equal(t, "roads", ByName("roads").String())
}

func TestFieldValue(t *testing.T) {
	when := time.Date(2021, 3, 4, 13, 14, 15, 0, time.UTC)

	tests := []struct {
		name string
		in   interface{}
		kind string
		want record.FieldValue
	}{
		{"nil", nil, "String", record.Null()},
		{"string", "hello", "String", record.Text("hello")},
		{"string as date", "2021-03-04", "Date", record.Date("2021-03-04")},
		{"string as datetime", "2021-03-04T13:14:15", "DateTime", record.DateTime("2021-03-04T13:14:15")},
		{"int32", int32(7), "Integer", record.Integer(7)},
		{"int64", int64(1 << 40), "Integer64", record.Integer(1 << 40)},
		{"float64", 2.5, "Real", record.Real(2.5)},
		{"bool", true, "Integer", record.Boolean(true)},
		{"time as date", when, "Date", record.Date("2021-03-04")},
		{"time as datetime", when, "DateTime", record.DateTime("2021-03-04T13:14:15")},
		{"bytes", []byte{0x01}, "Binary", record.Binary([]byte{0x01})},
		{"string list", []string{"a", "b"}, "StringList", record.Text(`["a","b"]`)},
		{"integer list", []int32{1, 2}, "IntegerList", record.Text(`[1,2]`)},
		{"integer64 list", []int64{1, 2}, "Integer64List", record.Text(`[1,2]`)},
		{"real list", []float64{1.5, 2.5}, "RealList", record.Text(`[1.5,2.5]`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := fieldValue(tt.in, tt.kind)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	t.Run("unsupported type", func(t *testing.T) {
		_, err := fieldValue(struct{}{}, "String")
		require.Error(t, err)
		assert.True(t, errors.IsType(err, errors.ErrorTypeConversion))
	})
}
