package entity

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/gray-logic-cybro/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-cybro/internal/infrastructure/database"
	_ "github.com/nerrad567/gray-logic-cybro/migrations"
)

// testDB opens a migrated database in a temporary directory.
func testDB(t *testing.T) *database.DB {
	t.Helper()
	ctx := context.Background()

	db, err := database.Open(ctx, config.DatabaseConfig{
		Path:        filepath.Join(t.TempDir(), "cybro.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.Migrate(ctx)
	require.NoError(t, err)
	return db
}

func testRecord(id string) *Record {
	return &Record{
		ID:         id,
		Platform:   PlatformSensor,
		Name:       id,
		NAD:        1000,
		DeviceID:   "c1000.",
		DeviceName: "c1000 diagnostics",
		Unit:       UnitMilliseconds,
		Category:   CategoryDiagnostic,
		VarType:    "int",
		Factor:     1.0,
	}
}

func TestSQLiteRepository_UpsertAndGet(t *testing.T) {
	ctx := context.Background()
	repo := NewSQLiteRepository(testDB(t).DB)

	rec := testRecord("c1000.scan_time")
	require.NoError(t, repo.Upsert(ctx, rec))

	got, err := repo.GetByID(ctx, "c1000.scan_time")
	require.NoError(t, err)
	assert.Equal(t, PlatformSensor, got.Platform)
	assert.Equal(t, 1000, got.NAD)
	assert.Equal(t, "c1000.", got.DeviceID)
	assert.Equal(t, UnitMilliseconds, got.Unit)
	assert.Equal(t, CategoryDiagnostic, got.Category)
	assert.Equal(t, "int", got.VarType)
	assert.Nil(t, got.State)
	assert.Nil(t, got.StateUpdatedAt)
	assert.False(t, got.CreatedAt.IsZero())
}

func TestSQLiteRepository_UpsertKeepsStateAndCreatedAt(t *testing.T) {
	ctx := context.Background()
	repo := NewSQLiteRepository(testDB(t).DB)

	rec := testRecord("c1000.scan_time")
	require.NoError(t, repo.Upsert(ctx, rec))
	created := rec.CreatedAt

	st := State{Available: true, Value: 12, Attributes: map[string]any{AttrDescription: "scan"}}
	require.NoError(t, repo.UpdateState(ctx, rec.ID, st, time.Now()))

	update := testRecord("c1000.scan_time")
	update.Unit = UnitMinutes
	require.NoError(t, repo.Upsert(ctx, update))

	got, err := repo.GetByID(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, UnitMinutes, got.Unit)
	assert.Equal(t, created.Unix(), got.CreatedAt.Unix())
	require.NotNil(t, got.State)
	assert.True(t, got.State.Available)
	assert.EqualValues(t, 12, got.State.Value)
	require.NotNil(t, got.StateUpdatedAt)
}

func TestSQLiteRepository_UpsertValidation(t *testing.T) {
	ctx := context.Background()
	repo := NewSQLiteRepository(testDB(t).DB)

	noID := testRecord("")
	badPlatform := testRecord("c1000.a")
	badPlatform.Platform = "switch"
	badType := testRecord("c1000.b")
	badType.VarType = "long"

	for _, rec := range []*Record{nil, noID, badPlatform, badType} {
		err := repo.Upsert(ctx, rec)
		assert.True(t, errors.Is(err, ErrInvalidEntity), "got %v", err)
	}
}

func TestSQLiteRepository_GetByIDNotFound(t *testing.T) {
	repo := NewSQLiteRepository(testDB(t).DB)
	_, err := repo.GetByID(context.Background(), "c1000.missing")
	assert.ErrorIs(t, err, ErrEntityNotFound)
}

func TestSQLiteRepository_ListOrdered(t *testing.T) {
	ctx := context.Background()
	repo := NewSQLiteRepository(testDB(t).DB)

	for _, id := range []string{"c1000.scan_time_max", "c1000.cybro_uptime", "c1000.scan_time"} {
		require.NoError(t, repo.Upsert(ctx, testRecord(id)))
	}

	records, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "c1000.cybro_uptime", records[0].ID)
	assert.Equal(t, "c1000.scan_time", records[1].ID)
	assert.Equal(t, "c1000.scan_time_max", records[2].ID)
}

func TestSQLiteRepository_DeleteRemovesHistory(t *testing.T) {
	ctx := context.Background()
	repo := NewSQLiteRepository(testDB(t).DB)

	rec := testRecord("c1000.scan_time")
	require.NoError(t, repo.Upsert(ctx, rec))
	require.NoError(t, repo.RecordHistory(ctx, rec.ID, State{Available: true, Value: 1}))

	require.NoError(t, repo.Delete(ctx, rec.ID))

	_, err := repo.GetByID(ctx, rec.ID)
	assert.ErrorIs(t, err, ErrEntityNotFound)

	history, err := repo.GetHistory(ctx, rec.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, history)

	assert.ErrorIs(t, repo.Delete(ctx, rec.ID), ErrEntityNotFound)
}

func TestSQLiteRepository_UpdateStateNotFound(t *testing.T) {
	repo := NewSQLiteRepository(testDB(t).DB)
	err := repo.UpdateState(context.Background(), "c1000.missing", State{}, time.Now())
	assert.ErrorIs(t, err, ErrEntityNotFound)
}

func TestSQLiteRepository_HistoryNewestFirstAndLimited(t *testing.T) {
	ctx := context.Background()
	repo := NewSQLiteRepository(testDB(t).DB)

	rec := testRecord("c1000.scan_time")
	require.NoError(t, repo.Upsert(ctx, rec))
	for i := 1; i <= 5; i++ {
		require.NoError(t, repo.RecordHistory(ctx, rec.ID, State{Available: true, Value: i}))
	}

	history, err := repo.GetHistory(ctx, rec.ID, 3)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.EqualValues(t, 5, history[0].State.Value)
	assert.EqualValues(t, 4, history[1].State.Value)
	assert.EqualValues(t, 3, history[2].State.Value)
	assert.Equal(t, rec.ID, history[0].EntityID)

	_, err = repo.GetHistory(ctx, "", 3)
	assert.ErrorIs(t, err, ErrInvalidEntity)
}

func TestSQLiteRepository_PurgeOlderThan(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)
	repo := NewSQLiteRepository(db.DB)

	rec := testRecord("c1000.scan_time")
	require.NoError(t, repo.Upsert(ctx, rec))
	require.NoError(t, repo.RecordHistory(ctx, rec.ID, State{Available: true, Value: 1}))

	old := time.Now().UTC().Add(-48 * time.Hour).Format(time.RFC3339)
	_, err := db.ExecContext(ctx,
		"INSERT INTO entity_state_history (entity_id, state, created_at) VALUES (?, ?, ?)",
		rec.ID, `{"available":true,"value":0}`, old)
	require.NoError(t, err)

	n, err := repo.PurgeOlderThan(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	history, err := repo.GetHistory(ctx, rec.ID, 0)
	require.NoError(t, err)
	assert.Len(t, history, 1)

	_, err = repo.PurgeOlderThan(ctx, 0)
	assert.Error(t, err)
}
