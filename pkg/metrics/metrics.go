// Package metrics provides Prometheus metrics for gridwalk-core.
//
// The metrics package provides:
//   - Prometheus-compatible metrics collection
//   - Pre-defined metrics for the tile and import paths
//   - Thread-safe metric recording
//   - Automatic metric registration
//
// # Basic Usage
//
//	// Record a served tile
//	metrics.TilesServed.WithLabelValues("postgis", "roads", "success").Inc()
//
//	// Track tile synthesis latency
//	timer := metrics.NewTimer("tile_query")
//	data, err := conn.Tile(ctx, src, name, z, x, y)
//	metrics.TileDuration.WithLabelValues("postgis", "roads").Observe(timer.Stop().Seconds())
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TilesServed tracks the total number of tile requests answered.
	// Labels: connector, layer, status (success/failure)
	TilesServed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gridwalk_tiles_served_total",
			Help: "Total number of vector tiles served",
		},
		[]string{"connector", "layer", "status"},
	)

	// TileDuration tracks the distribution of tile synthesis latencies.
	// Labels: connector, layer
	TileDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gridwalk_tile_duration_seconds",
			Help:    "Tile synthesis latency in seconds",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"connector", "layer"},
	)

	// TileBytes tracks the distribution of tile payload sizes.
	// Labels: connector, layer
	TileBytes = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gridwalk_tile_bytes",
			Help:    "Tile payload size in bytes",
			Buckets: prometheus.ExponentialBuckets(256, 4, 8),
		},
		[]string{"connector", "layer"},
	)

	// RecordsConverted tracks features converted to normalized records.
	// Labels: layer, status (success/failure)
	RecordsConverted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gridwalk_records_converted_total",
			Help: "Total number of source features converted to records",
		},
		[]string{"layer", "status"},
	)

	// RecordsInserted tracks records written to a connector backend.
	// Labels: connector, layer, status (success/failure)
	RecordsInserted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gridwalk_records_inserted_total",
			Help: "Total number of records inserted into a backend",
		},
		[]string{"connector", "layer", "status"},
	)

	// LayersCreated tracks layer tables created in a backend.
	// Labels: connector, status (success/failure)
	LayersCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gridwalk_layers_created_total",
			Help: "Total number of layer tables created",
		},
		[]string{"connector", "status"},
	)

	// ImportDuration tracks end-to-end import pipeline runtime.
	// Labels: connector
	ImportDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gridwalk_import_duration_seconds",
			Help:    "Import pipeline runtime in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		},
		[]string{"connector"},
	)
)

// Timer provides a simple timing mechanism for measuring operation durations.
// It captures the start time on creation and calculates elapsed time on stop.
type Timer struct {
	start time.Time
	name  string
}

// NewTimer creates a new timer and starts timing immediately.
// The name parameter is for identification in logs or metrics.
func NewTimer(name string) *Timer {
	return &Timer{
		start: time.Now(),
		name:  name,
	}
}

// Stop returns the elapsed time since the timer was created.
func (t *Timer) Stop() time.Duration {
	return time.Since(t.start)
}

// Name returns the identifier the timer was created with.
func (t *Timer) Name() string {
	return t.name
}
