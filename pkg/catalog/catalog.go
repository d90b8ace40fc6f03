// Package catalog persists metadata about imported layers.
//
// The catalog lives in the same PostGIS database the layers are imported
// into, in a single bookkeeping table. Import pipelines drive a layer's
// status through uploading, processing and finally ready or failed; readers
// list and fetch layer rows to find what is servable.
package catalog

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/enmeshed-analytics/gridwalk-core/pkg/connector/core"
	"github.com/enmeshed-analytics/gridwalk-core/pkg/errors"
	"github.com/enmeshed-analytics/gridwalk-core/pkg/logger"
)

// Status is the lifecycle state of a cataloged layer.
type Status string

const (
	StatusUploading  Status = "uploading"
	StatusProcessing Status = "processing"
	StatusReady      Status = "ready"
	StatusError      Status = "error"
	StatusCancelled  Status = "cancelled"
	StatusFailed     Status = "failed"
)

// ParseStatus validates a status string read from storage or user input.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusUploading, StatusProcessing, StatusReady, StatusError, StatusCancelled, StatusFailed:
		return Status(s), nil
	default:
		return "", errors.Newf(errors.ErrorTypeValidation, "unknown layer status %q", s)
	}
}

// Layer is one catalog row describing an imported layer.
type Layer struct {
	ID           uuid.UUID         `json:"id"`
	Name         string            `json:"name"`
	Namespace    string            `json:"namespace"`
	TableName    string            `json:"table_name"`
	GeometryType core.GeometryType `json:"geometry_type"`
	SRID         int               `json:"srid"`
	FeatureCount int64             `json:"feature_count"`
	Status       Status            `json:"status"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// querier is the slice of pgxpool.Pool the store needs. Tests substitute a
// fake; production always uses the pool.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store reads and writes catalog rows.
type Store struct {
	db     querier
	logger *zap.Logger
}

// NewStore wraps a database handle, normally the connector's pool.
func NewStore(db querier) *Store {
	return &Store{
		db:     db,
		logger: logger.Get().With(zap.String("component", "catalog")),
	}
}

const initSQL = `CREATE TABLE IF NOT EXISTS gridwalk_layers (
    id UUID PRIMARY KEY,
    name TEXT NOT NULL,
    namespace TEXT NOT NULL,
    table_name TEXT NOT NULL,
    geometry_type TEXT NOT NULL,
    srid INTEGER NOT NULL,
    feature_count BIGINT NOT NULL,
    status TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL
)`

// Init creates the catalog table if it does not exist. Idempotent.
func (s *Store) Init(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, initSQL); err != nil {
		return errors.Wrap(err, errors.ErrorTypeQuery, "failed to create catalog table")
	}
	return nil
}

const saveSQL = `INSERT INTO gridwalk_layers
    (id, name, namespace, table_name, geometry_type, srid, feature_count, status, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (id) DO UPDATE SET
    name = EXCLUDED.name,
    namespace = EXCLUDED.namespace,
    table_name = EXCLUDED.table_name,
    geometry_type = EXCLUDED.geometry_type,
    srid = EXCLUDED.srid,
    feature_count = EXCLUDED.feature_count,
    status = EXCLUDED.status,
    updated_at = EXCLUDED.updated_at`

// Save inserts or updates the layer row. CreatedAt is set on first save and
// never changes afterwards; UpdatedAt always moves.
func (s *Store) Save(ctx context.Context, layer *Layer) error {
	if layer.ID == uuid.Nil {
		return errors.New(errors.ErrorTypeValidation, "layer id must be set")
	}
	if _, err := ParseStatus(string(layer.Status)); err != nil {
		return err
	}

	now := time.Now().UTC()
	if layer.CreatedAt.IsZero() {
		layer.CreatedAt = now
	}
	layer.UpdatedAt = now

	_, err := s.db.Exec(ctx, saveSQL,
		layer.ID, layer.Name, layer.Namespace, layer.TableName,
		string(layer.GeometryType), layer.SRID, layer.FeatureCount,
		string(layer.Status), layer.CreatedAt, layer.UpdatedAt)
	if err != nil {
		return errors.Wrapf(err, errors.ErrorTypeQuery, "failed to save layer %s", layer.ID)
	}

	s.logger.Debug("saved layer",
		zap.String("layer", layer.Name),
		zap.String("status", string(layer.Status)))

	return nil
}

const getSQL = `SELECT id, name, namespace, table_name, geometry_type, srid, feature_count, status, created_at, updated_at
FROM gridwalk_layers WHERE id = $1`

// Get fetches one layer row by id.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*Layer, error) {
	row := s.db.QueryRow(ctx, getSQL, id)

	layer, err := scanLayer(row.Scan)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errors.Newf(errors.ErrorTypeNotFound, "layer %s not found", id)
		}
		return nil, errors.Wrapf(err, errors.ErrorTypeQuery, "failed to get layer %s", id)
	}
	return layer, nil
}

const listSQL = `SELECT id, name, namespace, table_name, geometry_type, srid, feature_count, status, created_at, updated_at
FROM gridwalk_layers ORDER BY created_at DESC, id LIMIT $1 OFFSET $2`

// List returns layer rows newest first.
func (s *Store) List(ctx context.Context, limit, offset uint64) ([]*Layer, error) {
	rows, err := s.db.Query(ctx, listSQL, limit, offset)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeQuery, "failed to list layers")
	}
	defer rows.Close()

	var layers []*Layer
	for rows.Next() {
		layer, err := scanLayer(rows.Scan)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeQuery, "failed to scan layer row")
		}
		layers = append(layers, layer)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeQuery, "failed to list layers")
	}

	return layers, nil
}

const setStatusSQL = `UPDATE gridwalk_layers SET status = $2, updated_at = $3 WHERE id = $1`

// SetStatus moves a layer to the given lifecycle state.
func (s *Store) SetStatus(ctx context.Context, id uuid.UUID, status Status) error {
	if _, err := ParseStatus(string(status)); err != nil {
		return err
	}

	tag, err := s.db.Exec(ctx, setStatusSQL, id, string(status), time.Now().UTC())
	if err != nil {
		return errors.Wrapf(err, errors.ErrorTypeQuery, "failed to update status of layer %s", id)
	}
	if tag.RowsAffected() == 0 {
		return errors.Newf(errors.ErrorTypeNotFound, "layer %s not found", id)
	}

	s.logger.Debug("layer status changed",
		zap.String("layer", id.String()),
		zap.String("status", string(status)))

	return nil
}

// scanLayer reads one catalog row through the given scan function.
func scanLayer(scan func(dest ...any) error) (*Layer, error) {
	var layer Layer
	var geometryType, status string

	err := scan(&layer.ID, &layer.Name, &layer.Namespace, &layer.TableName,
		&geometryType, &layer.SRID, &layer.FeatureCount, &status,
		&layer.CreatedAt, &layer.UpdatedAt)
	if err != nil {
		return nil, err
	}

	layer.GeometryType = core.GeometryType(geometryType)
	layer.Status = Status(status)
	return &layer, nil
}
