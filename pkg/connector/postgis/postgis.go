// Package postgis implements the vector connector capability over a PostGIS
// database.
//
// The connector is built around a pgx connection pool created eagerly at
// construction: if the pool cannot be established the connector does not
// exist. Connect is a liveness round trip, and Disconnect deliberately keeps
// the pool alive so repeated connector use amortizes connection setup.
package postgis

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/enmeshed-analytics/gridwalk-core/pkg/config"
	"github.com/enmeshed-analytics/gridwalk-core/pkg/connector/core"
	"github.com/enmeshed-analytics/gridwalk-core/pkg/errors"
	"github.com/enmeshed-analytics/gridwalk-core/pkg/logger"
	"github.com/enmeshed-analytics/gridwalk-core/pkg/metrics"
	"github.com/enmeshed-analytics/gridwalk-core/pkg/record"
)

// Name is the connector's registry name.
const Name = "postgis"

// querier is the slice of pgxpool.Pool the connector needs. Tests substitute
// a fake; production always uses the pool.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Connector stores vector layers in PostGIS and synthesizes MVT tiles from
// them. The namespace (schema) is fixed at construction and never mutated.
type Connector struct {
	db     querier
	pool   *pgxpool.Pool
	schema string
	logger *zap.Logger
}

var _ core.Vector = (*Connector)(nil)

// New builds the connection pool and returns the connector. Pool
// construction failure is fatal: there is no degraded half-connected state.
func New(ctx context.Context, cfg config.PostgresConfig) (*Connector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.ConnString())
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to parse connection string")
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to create connection pool")
	}

	return &Connector{
		db:     pool,
		pool:   pool,
		schema: cfg.Schema,
		logger: logger.Get().With(zap.String("connector", Name)),
	}, nil
}

// Pool exposes the underlying pool for collaborators that share the
// connector's database, such as the layer catalog.
func (c *Connector) Pool() *pgxpool.Pool {
	return c.pool
}

// Schema returns the namespace the connector operates in.
func (c *Connector) Schema() string {
	return c.schema
}

// Connect verifies the pool can reach the database.
func (c *Connector) Connect(ctx context.Context) error {
	c.logger.Debug("testing connection to PostGIS database")

	if _, err := c.db.Exec(ctx, "SELECT 1"); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "failed to execute test query")
	}

	c.logger.Debug("connection test successful")
	return nil
}

// Disconnect is deliberately a no-op: the pool remains active so future
// operations reuse its connections.
func (c *Connector) Disconnect(ctx context.Context) error {
	c.logger.Debug("disconnect called, but pool remains active for potential future use")
	return nil
}

// CreateLayer creates the layer's table in the connector's namespace.
func (c *Connector) CreateLayer(ctx context.Context, schema *core.LayerSchema) error {
	c.logger.Debug("creating layer in PostGIS database", zap.String("layer", schema.Name))

	sql, err := createTableSQL(c.schema, schema)
	if err != nil {
		metrics.LayersCreated.WithLabelValues(Name, "failure").Inc()
		return err
	}
	c.logger.Debug("executing SQL", zap.String("sql", sql))

	if _, err := c.db.Exec(ctx, sql); err != nil {
		metrics.LayersCreated.WithLabelValues(Name, "failure").Inc()
		return errors.Wrapf(err, errors.ErrorTypeQuery, "failed to create layer %q", schema.Name)
	}

	metrics.LayersCreated.WithLabelValues(Name, "success").Inc()
	c.logger.Debug("successfully created layer", zap.String("layer", schema.Name))
	return nil
}

// ListSources returns the table names in the connector's namespace.
func (c *Connector) ListSources(ctx context.Context) ([]string, error) {
	const query = `SELECT table_name
FROM information_schema.tables
WHERE table_schema = $1`

	rows, err := c.db.Query(ctx, query, c.schema)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeQuery, "failed to execute query to list sources")
	}
	defer rows.Close()

	var sources []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeQuery, "failed to scan source name")
		}
		sources = append(sources, name)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeQuery, "failed to read source rows")
	}

	return sources, nil
}

// CreateNamespace ensures the named schema exists.
func (c *Connector) CreateNamespace(ctx context.Context, name string) error {
	quoted, err := quoteIdentifier(name)
	if err != nil {
		return err
	}

	if _, err := c.db.Exec(ctx, "CREATE SCHEMA IF NOT EXISTS "+quoted); err != nil {
		return errors.Wrap(err, errors.ErrorTypeQuery, "failed to execute query to create namespace")
	}
	return nil
}

// Tile synthesizes the MVT tile at z/x/y for a stored layer. An empty tile
// is a successful empty payload, not an error.
func (c *Connector) Tile(ctx context.Context, src core.LayerSource, layerName string, z, x, y uint32) ([]byte, error) {
	query, err := tileSQL(src)
	if err != nil {
		metrics.TilesServed.WithLabelValues(Name, layerName, "failure").Inc()
		return nil, err
	}

	timer := metrics.NewTimer("tile_query")
	var mvt []byte
	err = c.db.QueryRow(ctx, query, int32(z), int32(x), int32(y), layerName).Scan(&mvt)
	metrics.TileDuration.WithLabelValues(Name, layerName).Observe(timer.Stop().Seconds())
	if err != nil {
		metrics.TilesServed.WithLabelValues(Name, layerName, "failure").Inc()
		return nil, errors.Wrap(err, errors.ErrorTypeQuery, "failed to execute tile query")
	}

	metrics.TilesServed.WithLabelValues(Name, layerName, "success").Inc()
	metrics.TileBytes.WithLabelValues(Name, layerName).Observe(float64(len(mvt)))
	c.logger.Debug("MVT data size", zap.Int("bytes", len(mvt)))
	return mvt, nil
}

// GeometryType introspects the stored geometry type of a source table. The
// geometry column is discovered from a fixed candidate list, then a single
// stored geometry is sampled.
func (c *Connector) GeometryType(ctx context.Context, sourceID uuid.UUID) (core.GeometryType, error) {
	const checkColumnQuery = `SELECT column_name
FROM information_schema.columns
WHERE table_name = $1 AND table_schema = $2
AND column_name IN ('geom', 'geometry', 'geoms', 'wkb_geometry')`

	var geomColumn string
	if err := c.db.QueryRow(ctx, checkColumnQuery, sourceID.String(), c.schema).Scan(&geomColumn); err != nil {
		return "", errors.Wrapf(err, errors.ErrorTypeQuery, "failed to find geometry column for source %s", sourceID)
	}

	quotedSchema, err := quoteIdentifier(c.schema)
	if err != nil {
		return "", err
	}
	quotedTable, err := quoteIdentifier(sourceID.String())
	if err != nil {
		return "", err
	}
	quotedGeomColumn, err := quoteIdentifier(geomColumn)
	if err != nil {
		return "", err
	}

	query := "SELECT DISTINCT ST_GeometryType(" + quotedGeomColumn + ")\nFROM " +
		quotedSchema + "." + quotedTable + "\nLIMIT 1"

	var geomType string
	if err := c.db.QueryRow(ctx, query).Scan(&geomType); err != nil {
		return "", errors.Wrapf(err, errors.ErrorTypeQuery, "failed to read geometry type for source %s", sourceID)
	}

	return mapGeometryTypeName(geomType)
}

// MapFieldType maps a canonical source field kind to a PostGIS column type.
func (c *Connector) MapFieldType(sourceType string) string {
	return mapFieldType(sourceType)
}

// InsertRecord writes one record into a stored layer.
func (c *Connector) InsertRecord(ctx context.Context, rec *record.Record, src core.LayerSource) error {
	sql, err := InsertStatement(rec, src)
	if err != nil {
		metrics.RecordsInserted.WithLabelValues(Name, src.Name, "failure").Inc()
		return err
	}

	if _, err := c.db.Exec(ctx, sql); err != nil {
		metrics.RecordsInserted.WithLabelValues(Name, src.Name, "failure").Inc()
		return errors.Wrapf(err, errors.ErrorTypeQuery, "failed to insert record into %q", src.Name)
	}

	metrics.RecordsInserted.WithLabelValues(Name, src.Name, "success").Inc()
	return nil
}
