package catalog

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/enmeshed-analytics/gridwalk-core/pkg/connector/core"
	"github.com/enmeshed-analytics/gridwalk-core/pkg/errors"
	"github.com/enmeshed-analytics/gridwalk-core/pkg/testutil"
)

func newTestStore(db querier) *Store {
	return &Store{db: db, logger: zap.NewNop()}
}

func TestParseStatus(t *testing.T) {
	for _, s := range []string{"uploading", "processing", "ready", "error", "cancelled", "failed"} {
		t.Run(s, func(t *testing.T) {
			status, err := ParseStatus(s)
			require.NoError(t, err)
			assert.Equal(t, Status(s), status)
		})
	}

	t.Run("unknown", func(t *testing.T) {
		_, err := ParseStatus("launched")
		require.Error(t, err)
		assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
	})
}

func TestInit(t *testing.T) {
	f := &testutil.FakeQuerier{}
	store := newTestStore(f)

	require.NoError(t, store.Init(context.Background()))
	require.Len(t, f.ExecSQL, 1)
	assert.Contains(t, f.ExecSQL[0], "CREATE TABLE IF NOT EXISTS gridwalk_layers")
}

func TestSave(t *testing.T) {
	f := &testutil.FakeQuerier{}
	store := newTestStore(f)

	layer := &Layer{
		ID:           uuid.New(),
		Name:         "roads",
		Namespace:    "public",
		TableName:    "roads",
		GeometryType: core.GeometryTypeLineString,
		SRID:         4326,
		FeatureCount: 42,
		Status:       StatusProcessing,
	}

	require.NoError(t, store.Save(context.Background(), layer))

	assert.False(t, layer.CreatedAt.IsZero(), "first save stamps CreatedAt")
	assert.Equal(t, layer.CreatedAt, layer.UpdatedAt)

	require.Len(t, f.ExecSQL, 1)
	assert.Contains(t, f.ExecSQL[0], "ON CONFLICT (id) DO UPDATE")
	require.Len(t, f.ExecArgs[0], 10)
	assert.Equal(t, layer.ID, f.ExecArgs[0][0])
	assert.Equal(t, "LineString", f.ExecArgs[0][4])
	assert.Equal(t, "processing", f.ExecArgs[0][7])

	// A later save keeps CreatedAt and moves UpdatedAt.
	created := layer.CreatedAt
	time.Sleep(time.Millisecond)
	layer.Status = StatusReady
	require.NoError(t, store.Save(context.Background(), layer))
	assert.Equal(t, created, layer.CreatedAt)
	assert.True(t, layer.UpdatedAt.After(created))
}

func TestSaveValidation(t *testing.T) {
	store := newTestStore(&testutil.FakeQuerier{})

	err := store.Save(context.Background(), &Layer{Status: StatusReady})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))

	err = store.Save(context.Background(), &Layer{ID: uuid.New(), Status: Status("launched")})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
}

func TestSaveQueryFailure(t *testing.T) {
	f := &testutil.FakeQuerier{ExecErr: errors.New(errors.ErrorTypeInternal, "down")}
	store := newTestStore(f)

	err := store.Save(context.Background(), &Layer{ID: uuid.New(), Status: StatusReady})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeQuery))
}

func TestGet(t *testing.T) {
	id := uuid.New()
	created := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	f := &testutil.FakeQuerier{RowQueue: []testutil.FakeRow{{ScanFunc: func(dest ...any) error {
		*(dest[0].(*uuid.UUID)) = id
		*(dest[1].(*string)) = "roads"
		*(dest[2].(*string)) = "public"
		*(dest[3].(*string)) = "roads"
		*(dest[4].(*string)) = "LineString"
		*(dest[5].(*int)) = 4326
		*(dest[6].(*int64)) = 42
		*(dest[7].(*string)) = "ready"
		*(dest[8].(*time.Time)) = created
		*(dest[9].(*time.Time)) = created
		return nil
	}}}}
	store := newTestStore(f)

	layer, err := store.Get(context.Background(), id)
	require.NoError(t, err)

	assert.Equal(t, id, layer.ID)
	assert.Equal(t, "roads", layer.Name)
	assert.Equal(t, core.GeometryTypeLineString, layer.GeometryType)
	assert.Equal(t, StatusReady, layer.Status)
	assert.Equal(t, int64(42), layer.FeatureCount)

	require.Len(t, f.RowArgs, 1)
	assert.Equal(t, []any{id}, f.RowArgs[0])
}

func TestGetNotFound(t *testing.T) {
	store := newTestStore(&testutil.FakeQuerier{})

	_, err := store.Get(context.Background(), uuid.New())
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))
}

func TestList(t *testing.T) {
	id1, id2 := uuid.New(), uuid.New()
	now := time.Now().UTC()

	f := &testutil.FakeQuerier{QueryRows: &testutil.FakeRows{Rows: [][]any{
		{id1, "roads", "public", "roads", "LineString", 4326, int64(42), "ready", now, now},
		{id2, "pois", "public", "pois", "Point", 4326, int64(7), "processing", now, now},
	}}}
	store := newTestStore(f)

	layers, err := store.List(context.Background(), 10, 0)
	require.NoError(t, err)
	require.Len(t, layers, 2)

	assert.Equal(t, id1, layers[0].ID)
	assert.Equal(t, StatusReady, layers[0].Status)
	assert.Equal(t, id2, layers[1].ID)
	assert.Equal(t, core.GeometryTypePoint, layers[1].GeometryType)

	require.Len(t, f.QueryArgs, 1)
	assert.Equal(t, []any{uint64(10), uint64(0)}, f.QueryArgs[0])
	assert.Contains(t, f.QuerySQL[0], "ORDER BY created_at DESC")
}

func TestListQueryFailure(t *testing.T) {
	f := &testutil.FakeQuerier{QueryErr: errors.New(errors.ErrorTypeInternal, "down")}
	store := newTestStore(f)

	_, err := store.List(context.Background(), 10, 0)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeQuery))
}

func TestSetStatus(t *testing.T) {
	id := uuid.New()
	f := &testutil.FakeQuerier{ExecTag: pgconn.NewCommandTag("UPDATE 1")}
	store := newTestStore(f)

	require.NoError(t, store.SetStatus(context.Background(), id, StatusReady))

	require.Len(t, f.ExecArgs, 1)
	require.Len(t, f.ExecArgs[0], 3)
	assert.Equal(t, id, f.ExecArgs[0][0])
	assert.Equal(t, "ready", f.ExecArgs[0][1])
}

func TestSetStatusNotFound(t *testing.T) {
	f := &testutil.FakeQuerier{ExecTag: pgconn.NewCommandTag("UPDATE 0")}
	store := newTestStore(f)

	err := store.SetStatus(context.Background(), uuid.New(), StatusReady)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))
}

func TestSetStatusInvalid(t *testing.T) {
	store := newTestStore(&testutil.FakeQuerier{})

	err := store.SetStatus(context.Background(), uuid.New(), Status("launched"))
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
}
