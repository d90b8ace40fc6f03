// Package connector groups the storage connector layer: capability
// interfaces, the connector registry, and backend implementations.
//
// # Architecture Overview
//
// The connector tree is organised into sub-packages:
//
//   - core: Defines the capability interfaces (Vector, Raster, Hybrid)
//     and the Connector union that tags which capabilities a backend
//     carries. Callers narrow a Connector to the capability they need
//     with the comma-ok As* views; a hybrid backend is visible through
//     both the vector and raster views.
//
//   - registry: Implements a factory pattern for named connector
//     construction. Backends self-register during initialization, so
//     importing a backend package for side effects is enough to make it
//     available by name.
//
//   - postgis: The PostGIS backend. Implements Vector on a pgx
//     connection pool: namespace and table management, schema-driven
//     table creation, record inserts, and Mapbox Vector Tiles via
//     ST_AsMVT.
//
// # Core Concepts
//
// Capability narrowing: backends differ in what they can do, and the
// union makes that explicit. A caller that only needs vector storage
// writes:
//
//	conn, err := registry.Create(ctx, "postgis", cfg)
//	if err != nil {
//		return err
//	}
//	vec, ok := conn.AsVector()
//	if !ok {
//		return errors.Newf(errors.ErrorTypeCapability, "connector %q has no vector capability", name)
//	}
//	if err := vec.Connect(ctx); err != nil {
//		return err
//	}
//
// Backend-neutral records: connectors consume record.Record values
// (WKB geometry plus typed fields) produced by the convert package, so
// a backend never depends on any dataset format.
//
// Field type mapping: each vector backend maps the abstract field types
// of a dataset layer to its own column types through MapFieldType. The
// schema package uses this to produce a backend-ready layer schema.
//
// # Adding a Backend
//
// A new backend implements the capability interfaces it supports, wraps
// itself in a core.Connector, and registers a factory:
//
//	func init() {
//		registry.Register("duckdb", func(ctx context.Context, cfg *config.Config) (*core.Connector, error) {
//			c, err := New(ctx, cfg)
//			if err != nil {
//				return nil, err
//			}
//			return core.NewVector(c), nil
//		})
//	}
//
// Backends should return structured errors from the errors package and
// handle context cancellation on every blocking call.
package connector
