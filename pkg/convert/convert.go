// Package convert streams features out of a file dataset as normalized
// records.
//
// A FeatureStream walks one layer in source index order. The layer handle is
// re-acquired from the dataset on every step rather than held across steps,
// and every native read runs on the blocking-work boundary, so callers can
// drive a stream from latency-sensitive goroutines.
package convert

import (
	"context"
	"io"
	"strconv"
	"time"

	"github.com/go-spatial/geom/encoding/wkb"
	gojson "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/enmeshed-analytics/gridwalk-core/internal/blocking"
	"github.com/enmeshed-analytics/gridwalk-core/pkg/dataset"
	"github.com/enmeshed-analytics/gridwalk-core/pkg/errors"
	"github.com/enmeshed-analytics/gridwalk-core/pkg/logger"
	"github.com/enmeshed-analytics/gridwalk-core/pkg/metrics"
	"github.com/enmeshed-analytics/gridwalk-core/pkg/record"
)

// streamBuffer is the record channel capacity of Stream.
const streamBuffer = 64

// LayerSelector picks one layer of a dataset, either by zero-based index or
// by name.
type LayerSelector struct {
	index  int
	name   string
	byName bool
}

// ByIndex selects the layer at the zero-based index.
func ByIndex(index int) LayerSelector {
	return LayerSelector{index: index}
}

// ByName selects the named layer.
func ByName(name string) LayerSelector {
	return LayerSelector{name: name, byName: true}
}

func (s LayerSelector) resolve(ds dataset.Dataset) (dataset.Layer, error) {
	if s.byName {
		return ds.LayerByName(s.name)
	}
	return ds.Layer(s.index)
}

// String describes the selection for logs and error messages.
func (s LayerSelector) String() string {
	if s.byName {
		return s.name
	}
	return "#" + strconv.Itoa(s.index)
}

// FeatureStream is a forward-only producer of normalized records from one
// layer of an open dataset. It owns the dataset for its lifetime; do not
// share one open dataset across streams. A stream is finite: once exhausted
// it stays exhausted, re-reading requires a fresh stream.
type FeatureStream struct {
	ds       dataset.Dataset
	selector LayerSelector

	layerName string
	total     int64
	index     int64
	logger    *zap.Logger
}

type layerMeta struct {
	name  string
	count int64
}

// NewFeatureStream binds a stream to one layer of the dataset. The layer is
// resolved once, on the blocking boundary, to capture its name and feature
// count; the resolution is released before returning.
func NewFeatureStream(ctx context.Context, ds dataset.Dataset, selector LayerSelector) (*FeatureStream, error) {
	meta, err := blocking.Do(ctx, func() (layerMeta, error) {
		layer, err := selector.resolve(ds)
		if err != nil {
			return layerMeta{}, err
		}
		count, err := layer.FeatureCount()
		if err != nil {
			return layerMeta{}, err
		}
		return layerMeta{name: layer.Name(), count: count}, nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrorTypeConversion, "failed to resolve layer %s", selector)
	}

	stream := &FeatureStream{
		ds:        ds,
		selector:  selector,
		layerName: meta.name,
		total:     meta.count,
		logger:    logger.Get().With(zap.String("layer", meta.name)),
	}

	stream.logger.Debug("opened feature stream", zap.Int64("features", meta.count))

	return stream, nil
}

// LayerName returns the resolved layer name.
func (s *FeatureStream) LayerName() string {
	return s.layerName
}

// Total returns the feature count captured at construction.
func (s *FeatureStream) Total() int64 {
	return s.total
}

// Next produces the next record, running the native reads on the blocking
// boundary. Logically absent feature slots are skipped within the same call.
// Exhaustion is reported as io.EOF. A conversion failure is returned as an
// error for that feature only; the stream stays usable and the next call
// moves on to the following feature.
func (s *FeatureStream) Next(ctx context.Context) (*record.Record, error) {
	for {
		if s.index >= s.total {
			return nil, io.EOF
		}

		index := s.index
		rec, err := blocking.Do(ctx, func() (*record.Record, error) {
			return s.step(index)
		})
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, err
			}
			s.index++
			if errors.Is(err, dataset.ErrNoFeature) {
				continue
			}
			metrics.RecordsConverted.WithLabelValues(s.layerName, "failure").Inc()
			return nil, errors.Wrapf(err, errors.ErrorTypeConversion, "feature %d of layer %s", index, s.selector)
		}

		s.index++
		metrics.RecordsConverted.WithLabelValues(s.layerName, "success").Inc()
		return rec, nil
	}
}

// step reads and converts the feature at index. It re-derives the layer from
// the dataset instead of reusing a layer handle from a previous step.
func (s *FeatureStream) step(index int64) (*record.Record, error) {
	layer, err := s.selector.resolve(s.ds)
	if err != nil {
		return nil, err
	}

	feature, err := layer.Feature(index)
	if err != nil {
		return nil, err
	}

	return convertFeature(layer, feature)
}

// Stream is the channel form of a feature stream. Records carries converted
// records; Errors carries per-feature conversion failures. Both close when
// the stream is exhausted or the context ends.
type Stream struct {
	Records <-chan *record.Record
	Errors  <-chan error
}

// Stream drains the remaining features into channels for pipeline
// consumption. The producer goroutine owns the FeatureStream from this point
// on.
func (s *FeatureStream) Stream(ctx context.Context) *Stream {
	recordChan := make(chan *record.Record, streamBuffer)
	errorChan := make(chan error, 1)

	go func() {
		defer close(recordChan)
		defer close(errorChan)

		for {
			rec, err := s.Next(ctx)
			if err == io.EOF {
				return
			}
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return
				}
				select {
				case errorChan <- err:
				case <-ctx.Done():
					return
				}
				continue
			}

			select {
			case recordChan <- rec:
			case <-ctx.Done():
				return
			}
		}
	}()

	return &Stream{Records: recordChan, Errors: errorChan}
}

// convertFeature builds a normalized record from one feature. The geometry
// must be present and well-formed WKB; fields are read by position and
// mapped onto the record field variants.
func convertFeature(layer dataset.Layer, f dataset.Feature) (*record.Record, error) {
	raw, ok := f.GeometryWKB()
	if !ok {
		return nil, errors.New(errors.ErrorTypeConversion, "feature has no geometry")
	}
	if _, err := wkb.DecodeBytes(raw); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConversion, "feature geometry is not valid WKB")
	}

	srid, err := layer.SRID()
	if err != nil {
		return nil, err
	}

	defs, err := layer.FieldDefs()
	if err != nil {
		return nil, err
	}

	rec := record.New(raw, srid)
	for i, def := range defs {
		value, err := f.Field(i)
		if err != nil {
			return nil, err
		}

		fv, err := fieldValue(value, def.Type)
		if err != nil {
			return nil, errors.Wrapf(err, errors.ErrorTypeConversion, "field %q", def.Name)
		}
		rec.Fields[def.Name] = fv
	}

	return rec, nil
}

// fieldValue maps one source value onto a record field variant. The declared
// kind disambiguates values whose dynamic type alone is not enough, such as
// dates versus timestamps. List values render as their JSON text form.
func fieldValue(v interface{}, kind string) (record.FieldValue, error) {
	switch value := v.(type) {
	case nil:
		return record.Null(), nil
	case string:
		switch kind {
		case "Date":
			return record.Date(value), nil
		case "DateTime":
			return record.DateTime(value), nil
		}
		return record.Text(value), nil
	case int32:
		return record.Integer(int64(value)), nil
	case int64:
		return record.Integer(value), nil
	case float64:
		return record.Real(value), nil
	case bool:
		return record.Boolean(value), nil
	case time.Time:
		if kind == "Date" {
			return record.Date(value.Format("2006-01-02")), nil
		}
		return record.DateTime(value.Format("2006-01-02T15:04:05")), nil
	case []byte:
		return record.Binary(value), nil
	case []string, []int32, []int64, []float64:
		rendered, err := gojson.Marshal(value)
		if err != nil {
			return record.FieldValue{}, errors.Wrap(err, errors.ErrorTypeConversion, "failed to render list value")
		}
		return record.Text(string(rendered)), nil
	default:
		return record.FieldValue{}, errors.Newf(errors.ErrorTypeConversion, "unsupported field value type %T", v)
	}
}
