package entity

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

// Repository defines the interface for entity persistence operations.
// This abstraction allows for different implementations (SQLite, mock, etc.)
// and enables unit testing without database dependencies.
type Repository interface {
	// GetByID retrieves an entity record by unique id.
	// Returns ErrEntityNotFound if the entity does not exist.
	GetByID(ctx context.Context, id string) (*Record, error)

	// List retrieves all entity records ordered by id.
	List(ctx context.Context) ([]Record, error)

	// Upsert inserts a record or updates its metadata, preserving created_at
	// and the last recorded state.
	Upsert(ctx context.Context, rec *Record) error

	// Delete removes a record by id.
	// Returns ErrEntityNotFound if the entity does not exist.
	Delete(ctx context.Context, id string) error

	// UpdateState stores the last state of an entity.
	UpdateState(ctx context.Context, id string, state State, at time.Time) error

	// RecordHistory appends a state change to the entity history.
	RecordHistory(ctx context.Context, id string, state State) error

	// GetHistory returns recent history, newest first (default 50, max 200).
	GetHistory(ctx context.Context, id string, limit int) ([]HistoryEntry, error)

	// PurgeOlderThan deletes history entries older than the given age.
	PurgeOlderThan(ctx context.Context, olderThan time.Duration) (int64, error)
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
// The db parameter should be an open SQLite connection with migrations applied.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const selectColumns = `
		SELECT id, platform, name, nad, device_id, device_name, unit,
			device_class, state_class, category, var_type, factor,
			state, state_updated_at, created_at, updated_at
		FROM entities`

// GetByID retrieves an entity record by unique id.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Record, error) {
	row := r.db.QueryRowContext(ctx, selectColumns+` WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrEntityNotFound
		}
		return nil, fmt.Errorf("querying entity by id: %w", err)
	}
	return rec, nil
}

// List retrieves all entity records ordered by id.
func (r *SQLiteRepository) List(ctx context.Context) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx, selectColumns+` ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("querying entities: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning entity: %w", err)
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating entities: %w", err)
	}
	return records, nil
}

// Upsert inserts a record or refreshes its metadata.
func (r *SQLiteRepository) Upsert(ctx context.Context, rec *Record) error {
	if rec == nil || rec.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidEntity)
	}
	if rec.Platform != PlatformSensor && rec.Platform != PlatformBinarySensor {
		return fmt.Errorf("%w: unknown platform %q", ErrInvalidEntity, rec.Platform)
	}
	if _, ok := ParseVarType(rec.VarType); !ok {
		return fmt.Errorf("%w: unknown var type %q", ErrInvalidEntity, rec.VarType)
	}

	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now

	query := `
		INSERT INTO entities (
			id, platform, name, nad, device_id, device_name, unit,
			device_class, state_class, category, var_type, factor,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			platform = excluded.platform,
			name = excluded.name,
			nad = excluded.nad,
			device_id = excluded.device_id,
			device_name = excluded.device_name,
			unit = excluded.unit,
			device_class = excluded.device_class,
			state_class = excluded.state_class,
			category = excluded.category,
			var_type = excluded.var_type,
			factor = excluded.factor,
			updated_at = excluded.updated_at`

	_, err := r.db.ExecContext(ctx, query,
		rec.ID,
		string(rec.Platform),
		rec.Name,
		rec.NAD,
		rec.DeviceID,
		rec.DeviceName,
		rec.Unit,
		string(rec.DeviceClass),
		string(rec.StateClass),
		string(rec.Category),
		rec.VarType,
		rec.Factor,
		rec.CreatedAt.Format(time.RFC3339),
		rec.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("upserting entity: %w", err)
	}
	return nil
}

// Delete removes a record by id. History rows are removed with it.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, "DELETE FROM entity_state_history WHERE entity_id = ?", id); err != nil {
		return fmt.Errorf("deleting entity history: %w", err)
	}

	result, err := r.db.ExecContext(ctx, "DELETE FROM entities WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting entity: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rows == 0 {
		return ErrEntityNotFound
	}
	return nil
}

// UpdateState stores the last state of an entity.
func (r *SQLiteRepository) UpdateState(ctx context.Context, id string, state State, at time.Time) error {
	stateJSON, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshalling state: %w", err)
	}

	result, err := r.db.ExecContext(ctx,
		"UPDATE entities SET state = ?, state_updated_at = ? WHERE id = ?",
		string(stateJSON),
		at.UTC().Format(time.RFC3339),
		id,
	)
	if err != nil {
		return fmt.Errorf("updating entity state: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rows == 0 {
		return ErrEntityNotFound
	}
	return nil
}

// RecordHistory appends a state change to the entity history.
func (r *SQLiteRepository) RecordHistory(ctx context.Context, id string, state State) error {
	if id == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidEntity)
	}

	stateJSON, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshalling state: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		"INSERT INTO entity_state_history (entity_id, state, created_at) VALUES (?, ?, ?)",
		id,
		string(stateJSON),
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting state history: %w", err)
	}
	return nil
}

// GetHistory returns recent history entries for an entity, newest first.
func (r *SQLiteRepository) GetHistory(ctx context.Context, id string, limit int) ([]HistoryEntry, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: id is required", ErrInvalidEntity)
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, entity_id, state, created_at
		 FROM entity_state_history
		 WHERE entity_id = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT ?`,
		id,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying state history: %w", err)
	}
	defer rows.Close()

	entries := make([]HistoryEntry, 0, limit)
	for rows.Next() {
		var entry HistoryEntry
		var stateJSON, createdAt string

		if err := rows.Scan(&entry.ID, &entry.EntityID, &stateJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning state history: %w", err)
		}
		if err := json.Unmarshal([]byte(stateJSON), &entry.State); err != nil {
			return nil, fmt.Errorf("unmarshalling state: %w", err)
		}
		if entry.CreatedAt, err = parseTimestamp(createdAt); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating state history: %w", err)
	}
	return entries, nil
}

// PurgeOlderThan deletes history entries older than the given age.
func (r *SQLiteRepository) PurgeOlderThan(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("olderThan must be positive")
	}

	cutoff := time.Now().UTC().Add(-olderThan).Format(time.RFC3339)
	result, err := r.db.ExecContext(ctx,
		"DELETE FROM entity_state_history WHERE created_at < ?",
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("deleting state history: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return rows, nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var (
		rec                                         Record
		platform, deviceClass, stateClass, category string
		stateJSON, stateUpdatedAt                   sql.NullString
		createdAt, updatedAt                        string
	)

	err := row.Scan(
		&rec.ID, &platform, &rec.Name, &rec.NAD, &rec.DeviceID, &rec.DeviceName, &rec.Unit,
		&deviceClass, &stateClass, &category, &rec.VarType, &rec.Factor,
		&stateJSON, &stateUpdatedAt, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	rec.Platform = Platform(platform)
	rec.DeviceClass = DeviceClass(deviceClass)
	rec.StateClass = StateClass(stateClass)
	rec.Category = Category(category)

	if stateJSON.Valid && stateJSON.String != "" {
		var st State
		if err := json.Unmarshal([]byte(stateJSON.String), &st); err != nil {
			return nil, fmt.Errorf("unmarshalling state: %w", err)
		}
		rec.State = &st
	}
	if stateUpdatedAt.Valid {
		t, err := parseTimestamp(stateUpdatedAt.String)
		if err != nil {
			return nil, err
		}
		rec.StateUpdatedAt = &t
	}
	if rec.CreatedAt, err = parseTimestamp(createdAt); err != nil {
		return nil, err
	}
	if rec.UpdatedAt, err = parseTimestamp(updatedAt); err != nil {
		return nil, err
	}
	return &rec, nil
}

// parseTimestamp parses a timestamp stored in SQLite.
func parseTimestamp(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("timestamp is empty")
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", value, err)
	}
	return t, nil
}
