package audit

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/gray-logic-cybro/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-cybro/internal/infrastructure/database"
	_ "github.com/nerrad567/gray-logic-cybro/migrations"
)

func testRepo(t *testing.T) *SQLiteRepository {
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
	return NewSQLiteRepository(db.DB)
}

func TestCreate_GeneratesIDAndTimestamp(t *testing.T) {
	repo := testRepo(t)
	e := &Entry{Action: ActionRefresh, Source: SourceAPI, Subject: "operator"}

	require.NoError(t, repo.Create(context.Background(), e))

	assert.Regexp(t, `^aud-[0-9a-f]{8}$`, e.ID)
	assert.False(t, e.CreatedAt.IsZero())
}

func TestCreate_RequiresAction(t *testing.T) {
	repo := testRepo(t)
	assert.Error(t, repo.Create(context.Background(), &Entry{Source: SourceAPI}))
}

func TestList_RoundTripAndOrder(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	require.NoError(t, repo.Create(ctx, &Entry{Action: ActionStartup, Source: SourceSystem, CreatedAt: base}))
	require.NoError(t, repo.Create(ctx, &Entry{
		Action:    ActionRefresh,
		Source:    SourceAPI,
		Subject:   "operator",
		Target:    "c1000",
		Details:   map[string]any{"success": true},
		CreatedAt: base.Add(500 * time.Millisecond),
	}))
	require.NoError(t, repo.Create(ctx, &Entry{Action: ActionWSTicket, Source: SourceAPI, CreatedAt: base.Add(2 * time.Second)}))

	res, err := repo.List(ctx, Filter{})
	require.NoError(t, err)

	assert.Equal(t, 3, res.Total)
	assert.Equal(t, defaultListLimit, res.Limit)
	require.Len(t, res.Entries, 3)
	assert.Equal(t, ActionWSTicket, res.Entries[0].Action)
	assert.Equal(t, ActionRefresh, res.Entries[1].Action)
	assert.Equal(t, ActionStartup, res.Entries[2].Action)

	refresh := res.Entries[1]
	assert.Equal(t, "operator", refresh.Subject)
	assert.Equal(t, "c1000", refresh.Target)
	assert.Equal(t, map[string]any{"success": true}, refresh.Details)
	assert.True(t, refresh.CreatedAt.Equal(base.Add(500*time.Millisecond)))

	assert.Empty(t, res.Entries[2].Subject)
	assert.Nil(t, res.Entries[2].Details)
}

func TestList_Filters(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	for i, action := range []string{ActionStartup, ActionRefresh, ActionRefresh, ActionShutdown} {
		source := SourceAPI
		if action != ActionRefresh {
			source = SourceSystem
		}
		require.NoError(t, repo.Create(ctx, &Entry{
			Action:    action,
			Source:    source,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	tests := []struct {
		name   string
		filter Filter
		want   int
		total  int
	}{
		{"by action", Filter{Action: ActionRefresh}, 2, 2},
		{"by source", Filter{Source: SourceSystem}, 2, 2},
		{"since", Filter{Since: base.Add(2 * time.Minute)}, 2, 2},
		{"page", Filter{Limit: 1, Offset: 1}, 1, 4},
		{"limit clamped", Filter{Limit: 1000}, 4, 4},
		{"no match", Filter{Action: ActionWSTicket}, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := repo.List(ctx, tt.filter)
			require.NoError(t, err)
			assert.Len(t, res.Entries, tt.want)
			assert.Equal(t, tt.total, res.Total)
			assert.NotNil(t, res.Entries)
		})
	}

	res, err := repo.List(ctx, Filter{Limit: 1000})
	require.NoError(t, err)
	assert.Equal(t, maxListLimit, res.Limit)
}

func TestPurgeOlderThan(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, repo.Create(ctx, &Entry{Action: ActionStartup, Source: SourceSystem, CreatedAt: now.Add(-48 * time.Hour)}))
	require.NoError(t, repo.Create(ctx, &Entry{Action: ActionRefresh, Source: SourceAPI, CreatedAt: now}))

	n, err := repo.PurgeOlderThan(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	res, err := repo.List(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, res.Entries, 1)
	assert.Equal(t, ActionRefresh, res.Entries[0].Action)

	_, err = repo.PurgeOlderThan(ctx, 0)
	assert.Error(t, err)
}

// memRepo is an in-memory Repository.
type memRepo struct {
	mu      sync.Mutex
	entries []Entry
	fail    bool
}

func (m *memRepo) Create(_ context.Context, e *Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("disk full")
	}
	m.entries = append(m.entries, *e)
	return nil
}

func (m *memRepo) List(context.Context, Filter) (*ListResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return &ListResult{Entries: append([]Entry(nil), m.entries...), Total: len(m.entries)}, nil
}

func (m *memRepo) PurgeOlderThan(context.Context, time.Duration) (int64, error) { return 0, nil }

func (m *memRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func TestRecorder_DrainsOnShutdown(t *testing.T) {
	repo := &memRepo{}
	rec := NewRecorder(repo, 10)

	rec.Record(Entry{Action: ActionStartup, Source: SourceSystem})
	rec.Record(Entry{Action: ActionRefresh, Source: SourceAPI})
	rec.Record(Entry{Action: ActionShutdown, Source: SourceSystem})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// Run returns after writing everything already queued.
	rec.Run(ctx)

	assert.Equal(t, 3, repo.count())
	assert.Zero(t, rec.Dropped())

	res, err := rec.List(context.Background(), Filter{})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Total)
}

func TestRecorder_WritesWhileRunning(t *testing.T) {
	repo := &memRepo{}
	rec := NewRecorder(repo, 0)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		rec.Run(ctx)
		close(done)
	}()

	rec.Record(Entry{Action: ActionRefresh, Source: SourceAPI})
	assert.Eventually(t, func() bool { return repo.count() == 1 }, 2*time.Second, 5*time.Millisecond)

	cancel()
	<-done
}

func TestRecorder_DropsWhenFull(t *testing.T) {
	rec := NewRecorder(&memRepo{}, 1)

	rec.Record(Entry{Action: ActionRefresh})
	rec.Record(Entry{Action: ActionRefresh})
	rec.Record(Entry{Action: ActionRefresh})

	assert.Equal(t, uint64(2), rec.Dropped())
}

func TestRecorder_WriteFailureIsLogged(t *testing.T) {
	repo := &memRepo{fail: true}
	rec := NewRecorder(repo, 1)
	logger := &captureLogger{}
	rec.SetLogger(logger)

	rec.Record(Entry{Action: ActionRefresh})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rec.Run(ctx)

	assert.Equal(t, []string{"audit log write failed"}, logger.msgs)
}

type captureLogger struct {
	msgs []string
}

func (l *captureLogger) Warn(string, ...any)        {}
func (l *captureLogger) Error(msg string, _ ...any) { l.msgs = append(l.msgs, msg) }
