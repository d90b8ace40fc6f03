// Package gridwalk provides the core import layer for geospatial data:
// pluggable storage connectors, streaming feature conversion, and schema
// extraction for vector datasets.
//
// Gridwalk reads features from file-based datasets (GeoPackage today),
// converts them into backend-neutral records, and loads them into a
// spatial storage backend through a capability-based connector interface.
// PostGIS is the reference backend.
//
// # Architecture
//
// The layer is organised around three ideas:
//
// 1. Capability interfaces: a backend implements the capabilities it
// supports (vector storage with tile synthesis, raster storage) rather
// than one monolithic interface. Callers hold a Connector union and
// narrow it to the capability they need with comma-ok As* views.
//
// 2. Backend-neutral records: datasets are converted feature by feature
// into records carrying WKB geometry plus typed fields, so connectors
// never see format-specific types.
//
// 3. Streaming conversion: features flow through channels with bounded
// memory, and the import pipeline fans them out to parallel insert
// workers. The first error aborts the run.
//
// # Quick Start
//
// Import a GeoPackage layer into PostGIS:
//
//	import (
//	    "context"
//	    "github.com/enmeshed-analytics/gridwalk-core/internal/pipeline"
//	    "github.com/enmeshed-analytics/gridwalk-core/pkg/config"
//	    "github.com/enmeshed-analytics/gridwalk-core/pkg/connector/registry"
//	    "github.com/enmeshed-analytics/gridwalk-core/pkg/dataset/gpkg"
//	    _ "github.com/enmeshed-analytics/gridwalk-core/pkg/connector/postgis"
//	)
//
//	cfg := config.Default()
//	conn, _ := registry.Create(ctx, "postgis", cfg)
//	vec, _ := conn.AsVector()
//	_ = vec.Connect(ctx)
//
//	ds, _ := gpkg.Open("parks.gpkg")
//	defer ds.Close()
//
//	imp := pipeline.NewImport(ds, vec, vec.(pipeline.Inserter), &pipeline.Config{
//	    TableName: "city_parks",
//	})
//	result, err := imp.Run(ctx)
//
// # Key Packages
//
//	pkg/connector/core     - Capability interfaces and the Connector union
//	pkg/connector/registry - Named connector factories
//	pkg/connector/postgis  - PostGIS vector + tile backend
//	pkg/dataset            - Read-side dataset abstraction
//	pkg/dataset/gpkg       - GeoPackage dataset reader
//	pkg/convert            - Streaming feature-to-record conversion
//	pkg/record             - Backend-neutral record and field values
//	pkg/schema             - Layer schema extraction
//	pkg/catalog            - Imported-layer catalog with status tracking
//	internal/pipeline      - End-to-end import pipeline
//	pkg/config             - YAML configuration with env substitution
//	pkg/errors             - Structured error handling
//	pkg/logger             - Structured logging
//	pkg/metrics            - Prometheus metrics
//
// # Connectors
//
// A connector advertises its capabilities through the core.Connector
// union. The PostGIS connector implements the Vector capability:
// namespace and table management, schema-driven table creation, record
// inserts, source listing, and Mapbox Vector Tile synthesis via
// ST_AsMVT. Raster backends plug in through the Raster capability.
//
// New backends register a factory in an init function:
//
//	registry.Register("postgis", func(ctx context.Context, cfg *config.Config) (*core.Connector, error) {
//	    ...
//	})
//
// # Configuration
//
// Configuration is a YAML file with ${VAR_NAME} environment substitution:
//
//	log:
//	  level: info
//	postgres:
//	  host: ${POSTGRES_HOST}
//	  user: ${POSTGRES_USER}
//	  password: ${POSTGRES_PASSWORD}
//	  database: gridwalk
//	pipeline:
//	  workers: 4
//
// # Development
//
// The gridwalk CLI exercises the whole layer:
//
//	gridwalk describe parks.gpkg --layer parks
//	gridwalk import parks.gpkg --layer parks --table city_parks
//	gridwalk tile 12 2048 1362 --table city_parks --out tile.mvt
//	gridwalk layers
package gridwalk
