// Package core defines the capability interfaces connectors implement and
// the tagged union callers hold them through.
//
// A connector backend implements Base plus whichever capability interfaces
// it supports (Vector, Raster, or both via Hybrid). Callers never see the
// concrete backend; they hold a Connector union and narrow it through the
// capability-checked As* views.
package core

import (
	"context"

	"github.com/google/uuid"
)

// Base is the capability every connector supports: lifecycle plus layer and
// source management. Operations are not retried internally; errors propagate
// to the caller.
type Base interface {
	// Connect verifies the backend is reachable. For pooled backends this
	// is a cheap liveness round trip, not resource acquisition.
	Connect(ctx context.Context) error

	// Disconnect releases per-connection state. Pooled backends may keep
	// their pool alive; see the implementation's documentation.
	Disconnect(ctx context.Context) error

	// CreateLayer creates backend storage for the described layer.
	CreateLayer(ctx context.Context, schema *LayerSchema) error

	// ListSources returns the names of stored sources in the connector's
	// configured namespace.
	ListSources(ctx context.Context) ([]string, error)
}

// Vector is the capability of connectors that store vector layers and can
// synthesize vector tiles from them.
type Vector interface {
	Base

	// GeometryType introspects the stored geometry type of a source.
	GeometryType(ctx context.Context, sourceID uuid.UUID) (GeometryType, error)

	// CreateNamespace ensures the named namespace exists. Idempotent.
	CreateNamespace(ctx context.Context, name string) error

	// Tile synthesizes the Mapbox vector tile at z/x/y for a stored layer.
	// An empty tile is a successful result with an empty payload.
	Tile(ctx context.Context, src LayerSource, layerName string, z, x, y uint32) ([]byte, error)

	// MapFieldType maps a canonical source field kind name to the backend's
	// SQL type name. Total: unknown kinds map to the backend's text type.
	MapFieldType(sourceType string) string
}

// Raster is the capability of connectors that store raster sources.
type Raster interface {
	Base

	// RasterInfo introspects a stored raster source.
	RasterInfo(ctx context.Context, sourceID uuid.UUID) (*RasterInfo, error)

	// RasterTile renders the raster tile at z/x/y for a stored source.
	RasterTile(ctx context.Context, sourceID uuid.UUID, z, x, y uint32) ([]byte, error)
}

// Hybrid is the capability of connectors that support both vector and raster
// storage.
type Hybrid interface {
	Vector
	Raster
}

// TestConnection is the connector self-test: connect then disconnect,
// failing if either fails.
func TestConnection(ctx context.Context, c Base) error {
	if err := c.Connect(ctx); err != nil {
		return err
	}
	return c.Disconnect(ctx)
}
