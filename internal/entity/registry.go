package entity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Logger defines the logging interface used by the Registry.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Registry keeps the persisted entity records of one PLC in memory.
// It wraps a Repository and adds a cache for fast reads.
//
// The cache is populated on startup via RefreshCache() and kept in sync
// by Sync and RecordState.
//
// All public methods are thread-safe.
type Registry struct {
	repo    Repository
	nad     int
	cache   map[string]*Record
	cacheMu sync.RWMutex
	logger  Logger
}

// NewRegistry creates a registry for the PLC at nad.
func NewRegistry(repo Repository, nad int) *Registry {
	return &Registry{
		repo:   repo,
		nad:    nad,
		cache:  make(map[string]*Record),
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// RefreshCache reloads this PLC's records from the repository.
func (r *Registry) RefreshCache(ctx context.Context) error {
	records, err := r.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loading entities: %w", err)
	}

	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()

	r.cache = make(map[string]*Record, len(records))
	for i := range records {
		if records[i].NAD != r.nad {
			continue
		}
		r.cache[records[i].ID] = records[i].DeepCopy()
	}

	r.logger.Info("entity cache refreshed", "count", len(r.cache))
	return nil
}

// Sync makes the registry match the given entity set: every entity is
// upserted and records of this PLC that are no longer exposed are removed.
//
// Returns:
//   - added: number of entities that were not registered before
//   - removed: number of stale records deleted
//   - error: first persistence failure
func (r *Registry) Sync(ctx context.Context, entities []Entity) (added, removed int, err error) {
	wanted := make(map[string]struct{}, len(entities))

	for _, e := range entities {
		rec := RecordFor(r.nad, e)
		wanted[rec.ID] = struct{}{}

		r.cacheMu.RLock()
		existing, known := r.cache[rec.ID]
		r.cacheMu.RUnlock()

		if known {
			rec.CreatedAt = existing.CreatedAt
			if existing.State != nil {
				st := existing.State.DeepCopy()
				rec.State = &st
			}
			rec.StateUpdatedAt = existing.StateUpdatedAt
		} else {
			added++
		}

		if err := r.repo.Upsert(ctx, rec); err != nil {
			return added, removed, fmt.Errorf("registering %s: %w", rec.ID, err)
		}

		r.cacheMu.Lock()
		r.cache[rec.ID] = rec.DeepCopy()
		r.cacheMu.Unlock()
	}

	r.cacheMu.RLock()
	var stale []string
	for id := range r.cache {
		if _, ok := wanted[id]; !ok {
			stale = append(stale, id)
		}
	}
	r.cacheMu.RUnlock()

	for _, id := range stale {
		if err := r.repo.Delete(ctx, id); err != nil {
			return added, removed, fmt.Errorf("removing %s: %w", id, err)
		}
		r.cacheMu.Lock()
		delete(r.cache, id)
		r.cacheMu.Unlock()
		removed++
	}

	r.logger.Info("entity registry synced",
		"entities", len(entities),
		"added", added,
		"removed", removed,
	)
	return added, removed, nil
}

// RecordState stores the state of an entity when it differs from the last
// recorded one, appending a history entry.
//
// Returns:
//   - bool: true if the state changed and was recorded
//   - error: ErrEntityNotFound for unregistered ids, or a persistence error
func (r *Registry) RecordState(ctx context.Context, id string, state State) (bool, error) {
	r.cacheMu.RLock()
	cached, ok := r.cache[id]
	var previous *State
	if ok && cached.State != nil {
		st := cached.State.DeepCopy()
		previous = &st
	}
	r.cacheMu.RUnlock()

	if !ok {
		return false, ErrEntityNotFound
	}
	if previous != nil && statesEqual(*previous, state) {
		return false, nil
	}

	now := time.Now().UTC()
	if err := r.repo.UpdateState(ctx, id, state, now); err != nil {
		return false, err
	}
	if err := r.repo.RecordHistory(ctx, id, state); err != nil {
		return false, err
	}

	r.cacheMu.Lock()
	if cached, ok := r.cache[id]; ok {
		updated := cached.DeepCopy()
		st := state.DeepCopy()
		updated.State = &st
		updated.StateUpdatedAt = &now
		r.cache[id] = updated
	}
	r.cacheMu.Unlock()

	r.logger.Debug("entity state recorded", "id", id)
	return true, nil
}

// statesEqual compares states by their JSON encoding, so values restored
// from the database (float64) compare equal to freshly coerced ones (int).
func statesEqual(a, b State) bool {
	ja, errA := json.Marshal(a)
	jb, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(ja, jb)
}

// GetEntity returns a copy of a registered record.
func (r *Registry) GetEntity(ctx context.Context, id string) (*Record, error) {
	r.cacheMu.RLock()
	cached, ok := r.cache[id]
	r.cacheMu.RUnlock()

	if ok {
		return cached.DeepCopy(), nil
	}

	rec, err := r.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.NAD != r.nad {
		return nil, ErrEntityNotFound
	}
	return rec, nil
}

// ListEntities returns copies of all registered records, ordered by id.
func (r *Registry) ListEntities() []Record {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	records := make([]Record, 0, len(r.cache))
	for _, rec := range r.cache {
		records = append(records, *rec.DeepCopy())
	}
	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })
	return records
}

// GetHistory returns recent state changes of an entity, newest first.
func (r *Registry) GetHistory(ctx context.Context, id string, limit int) ([]HistoryEntry, error) {
	r.cacheMu.RLock()
	_, ok := r.cache[id]
	r.cacheMu.RUnlock()
	if !ok {
		return nil, ErrEntityNotFound
	}
	return r.repo.GetHistory(ctx, id, limit)
}

// PurgeHistory deletes history entries older than olderThan.
func (r *Registry) PurgeHistory(ctx context.Context, olderThan time.Duration) (int64, error) {
	n, err := r.repo.PurgeOlderThan(ctx, olderThan)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		r.logger.Info("entity history purged", "rows", n, "older_than", olderThan.String())
	}
	return n, nil
}

// Count returns the number of registered entities.
func (r *Registry) Count() int {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()
	return len(r.cache)
}

// Stats returns registry statistics for monitoring.
type Stats struct {
	TotalEntities int                 `json:"total_entities"`
	ByPlatform    map[Platform]int    `json:"by_platform"`
	ByDevice      map[string]int      `json:"by_device"`
	ByDeviceClass map[DeviceClass]int `json:"by_device_class"`
	Unavailable   int                 `json:"unavailable"`
}

// GetStats returns current registry statistics.
func (r *Registry) GetStats() Stats {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	stats := Stats{
		TotalEntities: len(r.cache),
		ByPlatform:    make(map[Platform]int),
		ByDevice:      make(map[string]int),
		ByDeviceClass: make(map[DeviceClass]int),
	}
	for _, rec := range r.cache {
		stats.ByPlatform[rec.Platform]++
		stats.ByDevice[rec.DeviceID]++
		if rec.DeviceClass != "" {
			stats.ByDeviceClass[rec.DeviceClass]++
		}
		if rec.State == nil || !rec.State.Available {
			stats.Unavailable++
		}
	}
	return stats
}
