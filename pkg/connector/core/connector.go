package core

import "context"

// Kind tags which capability set a Connector carries.
type Kind string

const (
	// KindVector marks a vector-only connector
	KindVector Kind = "vector"
	// KindRaster marks a raster-only connector
	KindRaster Kind = "raster"
	// KindHybrid marks a connector supporting both capabilities
	KindHybrid Kind = "hybrid"
)

// Connector is the tagged union callers hold connectors through. It owns
// exactly one backend; callers narrow to a capability view with AsVector,
// AsRaster, or AsHybrid and never reach the concrete type. A hybrid backend
// is visible through both the vector and raster views.
type Connector struct {
	kind   Kind
	vector Vector
	raster Raster
	hybrid Hybrid
}

// NewVector wraps a vector-only backend.
func NewVector(v Vector) *Connector {
	return &Connector{kind: KindVector, vector: v}
}

// NewRaster wraps a raster-only backend.
func NewRaster(r Raster) *Connector {
	return &Connector{kind: KindRaster, raster: r}
}

// NewHybrid wraps a backend supporting both capabilities.
func NewHybrid(h Hybrid) *Connector {
	return &Connector{kind: KindHybrid, hybrid: h}
}

// Kind returns the capability tag.
func (c *Connector) Kind() Kind {
	return c.kind
}

// IsVector reports whether the connector supports the vector capability.
func (c *Connector) IsVector() bool {
	return c.kind == KindVector || c.kind == KindHybrid
}

// IsRaster reports whether the connector supports the raster capability.
func (c *Connector) IsRaster() bool {
	return c.kind == KindRaster || c.kind == KindHybrid
}

// IsHybrid reports whether the connector supports both capabilities.
func (c *Connector) IsHybrid() bool {
	return c.kind == KindHybrid
}

// AsVector returns the vector view of the connector. Hybrid connectors are
// visible through this view.
func (c *Connector) AsVector() (Vector, bool) {
	switch c.kind {
	case KindVector:
		return c.vector, true
	case KindHybrid:
		return c.hybrid, true
	default:
		return nil, false
	}
}

// AsRaster returns the raster view of the connector. Hybrid connectors are
// visible through this view.
func (c *Connector) AsRaster() (Raster, bool) {
	switch c.kind {
	case KindRaster:
		return c.raster, true
	case KindHybrid:
		return c.hybrid, true
	default:
		return nil, false
	}
}

// AsHybrid returns the hybrid view of the connector.
func (c *Connector) AsHybrid() (Hybrid, bool) {
	if c.kind == KindHybrid {
		return c.hybrid, true
	}
	return nil, false
}

// base returns the backend through its Base capability.
func (c *Connector) base() Base {
	switch c.kind {
	case KindVector:
		return c.vector
	case KindRaster:
		return c.raster
	default:
		return c.hybrid
	}
}

// Connect delegates to the backend's Connect.
func (c *Connector) Connect(ctx context.Context) error {
	return c.base().Connect(ctx)
}

// Disconnect delegates to the backend's Disconnect.
func (c *Connector) Disconnect(ctx context.Context) error {
	return c.base().Disconnect(ctx)
}

// CreateLayer delegates to the backend's CreateLayer.
func (c *Connector) CreateLayer(ctx context.Context, schema *LayerSchema) error {
	return c.base().CreateLayer(ctx, schema)
}

// ListSources delegates to the backend's ListSources.
func (c *Connector) ListSources(ctx context.Context) ([]string, error) {
	return c.base().ListSources(ctx)
}

// TestConnection runs the self-test against the backend.
func (c *Connector) TestConnection(ctx context.Context) error {
	return TestConnection(ctx, c.base())
}
