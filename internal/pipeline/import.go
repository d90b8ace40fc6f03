// Package pipeline runs the import data flow end to end: extract the layer
// schema, create the backend table, then stream converted records off the
// dataset and insert them through parallel workers.
//
// The pipeline aborts on the first error, conversion errors included. A
// partial import leaves the backend table in place; the catalog row (when a
// store is attached) records the failure so callers can clean up or retry.
package pipeline

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/enmeshed-analytics/gridwalk-core/pkg/catalog"
	"github.com/enmeshed-analytics/gridwalk-core/pkg/connector/core"
	"github.com/enmeshed-analytics/gridwalk-core/pkg/convert"
	"github.com/enmeshed-analytics/gridwalk-core/pkg/dataset"
	"github.com/enmeshed-analytics/gridwalk-core/pkg/logger"
	"github.com/enmeshed-analytics/gridwalk-core/pkg/metrics"
	"github.com/enmeshed-analytics/gridwalk-core/pkg/record"
	"github.com/enmeshed-analytics/gridwalk-core/pkg/schema"
)

const (
	defaultNamespace = "public"
	defaultWorkers   = 4

	// statusWriteTimeout bounds the detached catalog write that records the
	// final layer status. Detached because the import context may already be
	// cancelled when the failure is recorded.
	statusWriteTimeout = 5 * time.Second
)

// Inserter writes one converted record into a backend layer. The PostGIS
// connector satisfies it.
type Inserter interface {
	InsertRecord(ctx context.Context, rec *record.Record, src core.LayerSource) error
}

// Config controls one import run.
type Config struct {
	// Layer selects the dataset layer to import. The zero value selects
	// the first layer.
	Layer convert.LayerSelector

	// Namespace is the target backend namespace. Defaults to "public".
	Namespace string

	// TableName overrides the target table name. Defaults to the dataset
	// layer's name.
	TableName string

	// Workers is the number of parallel insert workers.
	Workers int

	// Connector names the backend in logs and metrics.
	Connector string

	// Catalog, when set, receives the layer row and its status
	// transitions. LayerID identifies the row; a fresh id is generated
	// when left zero.
	Catalog *catalog.Store
	LayerID uuid.UUID
}

// Import streams one dataset layer into a vector backend.
type Import struct {
	dataset  dataset.Dataset
	conn     core.Vector
	inserter Inserter
	config   *Config

	inserted atomic.Int64
	logger   *zap.Logger
}

// Result summarizes a completed import.
type Result struct {
	LayerID         uuid.UUID         `json:"layer_id,omitempty"`
	LayerName       string            `json:"layer_name"`
	Namespace       string            `json:"namespace"`
	TableName       string            `json:"table_name"`
	GeometryType    core.GeometryType `json:"geometry_type"`
	SRID            int               `json:"srid"`
	FeatureCount    int64             `json:"feature_count"`
	RecordsInserted int64             `json:"records_inserted"`
	Duration        time.Duration     `json:"duration"`
}

// NewImport builds an import over the given dataset and backend. The inserter
// is usually the same connector the vector view wraps; it is a separate
// parameter because record insertion sits outside the capability interfaces.
func NewImport(ds dataset.Dataset, conn core.Vector, inserter Inserter, config *Config) *Import {
	if config == nil {
		config = &Config{}
	}
	if config.Namespace == "" {
		config.Namespace = defaultNamespace
	}
	if config.Workers <= 0 {
		config.Workers = defaultWorkers
	}
	if config.Connector == "" {
		config.Connector = "unknown"
	}

	return &Import{
		dataset:  ds,
		conn:     conn,
		inserter: inserter,
		config:   config,
		logger: logger.Get().With(
			zap.String("component", "import"),
			zap.String("connector", config.Connector)),
	}
}

// Run executes the import and blocks until the layer is fully written or the
// first error aborts it.
func (im *Import) Run(ctx context.Context) (*Result, error) {
	start := time.Now()

	stream, err := convert.NewFeatureStream(ctx, im.dataset, im.config.Layer)
	if err != nil {
		return nil, err
	}

	table := im.config.TableName
	if table == "" {
		table = stream.LayerName()
	}

	im.logger.Info("starting import",
		zap.String("layer", stream.LayerName()),
		zap.String("namespace", im.config.Namespace),
		zap.String("table", table),
		zap.Int64("features", stream.Total()),
		zap.Int("workers", im.config.Workers))

	layerSchema, err := schema.ExtractLayer(ctx, im.dataset, stream.LayerName(), im.conn)
	if err != nil {
		return nil, err
	}
	layerSchema.Name = table

	row, err := im.trackLayer(ctx, stream.LayerName(), table, layerSchema)
	if err != nil {
		return nil, err
	}

	if err := im.prepare(ctx, layerSchema); err != nil {
		im.finishLayer(row, catalog.StatusError)
		return nil, err
	}

	src := core.LayerSource{
		Namespace:      im.config.Namespace,
		Name:           table,
		GeometryColumn: "geometry",
		SRID:           layerSchema.SRID,
	}

	if err := im.insertAll(ctx, stream, src); err != nil {
		im.finishLayer(row, catalog.StatusError)
		return nil, err
	}

	duration := time.Since(start)
	metrics.ImportDuration.WithLabelValues(im.config.Connector).Observe(duration.Seconds())

	im.finishLayer(row, catalog.StatusReady)

	result := &Result{
		LayerName:       stream.LayerName(),
		Namespace:       im.config.Namespace,
		TableName:       table,
		GeometryType:    layerSchema.GeometryType,
		SRID:            layerSchema.SRID,
		FeatureCount:    stream.Total(),
		RecordsInserted: im.inserted.Load(),
		Duration:        duration,
	}
	if row != nil {
		result.LayerID = row.ID
	}

	im.logger.Info("import completed",
		zap.Int64("records", result.RecordsInserted),
		zap.Duration("duration", duration))

	return result, nil
}

// prepare ensures the target namespace exists and creates the layer table.
func (im *Import) prepare(ctx context.Context, layerSchema *core.LayerSchema) error {
	if err := im.conn.CreateNamespace(ctx, im.config.Namespace); err != nil {
		return err
	}
	return im.conn.CreateLayer(ctx, layerSchema)
}

// insertAll drains the feature stream through parallel insert workers. The
// first failure cancels the group; the stream shuts itself down when its
// context is cancelled.
func (im *Import) insertAll(ctx context.Context, stream *convert.FeatureStream, src core.LayerSource) error {
	g, ctx := errgroup.WithContext(ctx)
	records := stream.Stream(ctx)

	for i := 0; i < im.config.Workers; i++ {
		g.Go(func() error {
			for rec := range records.Records {
				if err := im.inserter.InsertRecord(ctx, rec, src); err != nil {
					return err
				}
				im.inserted.Add(1)
			}
			return nil
		})
	}

	g.Go(func() error {
		for err := range records.Errors {
			if err != nil {
				return err
			}
		}
		return nil
	})

	return g.Wait()
}

// trackLayer registers the processing catalog row. Returns nil without error
// when no catalog store is attached.
func (im *Import) trackLayer(ctx context.Context, layerName, table string, layerSchema *core.LayerSchema) (*catalog.Layer, error) {
	if im.config.Catalog == nil {
		return nil, nil
	}

	id := im.config.LayerID
	if id == uuid.Nil {
		id = uuid.New()
	}

	row := &catalog.Layer{
		ID:           id,
		Name:         layerName,
		Namespace:    im.config.Namespace,
		TableName:    table,
		GeometryType: layerSchema.GeometryType,
		SRID:         layerSchema.SRID,
		FeatureCount: layerSchema.FeatureCount,
		Status:       catalog.StatusProcessing,
	}
	if err := im.config.Catalog.Save(ctx, row); err != nil {
		return nil, err
	}
	return row, nil
}

// finishLayer records the final layer status on the attached catalog row.
func (im *Import) finishLayer(row *catalog.Layer, status catalog.Status) {
	if im.config.Catalog == nil || row == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), statusWriteTimeout)
	defer cancel()

	if err := im.config.Catalog.SetStatus(ctx, row.ID, status); err != nil {
		im.logger.Warn("failed to record layer status",
			zap.String("layer", row.Name),
			zap.String("status", string(status)),
			zap.Error(err))
	}
}
