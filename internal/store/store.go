// Package store persists small local records (manual timetable overrides,
// allergy selections, cached school majors) in SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"todaywhat/internal/model"
)

// ErrInvalidOverride rejects overrides outside weekday 1..7 or period < 1.
var ErrInvalidOverride = errors.New("store: invalid override")

// LocalStore is the SQLite-backed record store.
type LocalStore struct {
	db *sql.DB
	mu sync.RWMutex
}

// Open initializes the database at path, creating parent directories.
// Use ":memory:" for a throwaway store.
func Open(path string) (*LocalStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("store: create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}
	// A single connection keeps ":memory:" databases alive and serializes
	// writers the way SQLite wants anyway.
	db.SetMaxOpenConns(1)

	s := &LocalStore{db: db}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *LocalStore) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS timetable_overrides (
		id TEXT PRIMARY KEY,
		weekday INTEGER NOT NULL,
		period INTEGER NOT NULL,
		content TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(weekday, period)
	);
	CREATE INDEX IF NOT EXISTS idx_overrides_weekday ON timetable_overrides(weekday);

	CREATE TABLE IF NOT EXISTS allergies (
		allergy INTEGER PRIMARY KEY
	);

	CREATE TABLE IF NOT EXISTS school_majors (
		position INTEGER PRIMARY KEY,
		major TEXT NOT NULL
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("store: create schema: %w", err)
	}
	return nil
}

// Close releases the database.
func (s *LocalStore) Close() error {
	return s.db.Close()
}

// ReadOverrides returns every manual override ordered by weekday, period.
func (s *LocalStore) ReadOverrides(ctx context.Context) ([]model.ManualOverride, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, weekday, period, content FROM timetable_overrides ORDER BY weekday, period`)
	if err != nil {
		return nil, fmt.Errorf("store: read overrides: %w", err)
	}
	defer rows.Close()

	out := make([]model.ManualOverride, 0)
	for rows.Next() {
		var o model.ManualOverride
		if err := rows.Scan(&o.ID, &o.Weekday, &o.Period, &o.Content); err != nil {
			return nil, fmt.Errorf("store: scan override: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// OverridesForWeekday returns the overrides of one weekday (1=Sunday..7)
// as timetable rows sorted by ascending period.
func (s *LocalStore) OverridesForWeekday(ctx context.Context, weekday int) ([]model.TimeTable, error) {
	all, err := s.ReadOverrides(ctx)
	if err != nil {
		return nil, err
	}
	return model.OverridesForWeekday(all, weekday), nil
}

// ReplaceOverrides swaps the whole override table in one transaction.
// Missing ids are generated; a later duplicate (weekday, period) wins and
// the returned list matches what was stored.
func (s *LocalStore) ReplaceOverrides(ctx context.Context, overrides []model.ManualOverride) ([]model.ManualOverride, error) {
	saved, err := normalizeOverrides(overrides)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("store: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM timetable_overrides`); err != nil {
		return nil, fmt.Errorf("store: clear overrides: %w", err)
	}

	for _, o := range saved {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO timetable_overrides (id, weekday, period, content) VALUES (?, ?, ?, ?)`,
			o.ID, o.Weekday, o.Period, o.Content)
		if err != nil {
			return nil, fmt.Errorf("store: insert override: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("store: commit overrides: %w", err)
	}
	return saved, nil
}

// normalizeOverrides validates the slots, fills in ids and collapses
// duplicate slots onto the first position with the last content.
func normalizeOverrides(overrides []model.ManualOverride) ([]model.ManualOverride, error) {
	type slot struct{ weekday, period int }

	out := make([]model.ManualOverride, 0, len(overrides))
	bySlot := make(map[slot]int, len(overrides))
	for _, o := range overrides {
		if o.Weekday < 1 || o.Weekday > 7 || o.Period < 1 {
			return nil, fmt.Errorf("%w: weekday=%d period=%d", ErrInvalidOverride, o.Weekday, o.Period)
		}
		if o.ID == "" {
			o.ID = uuid.NewString()
		}
		k := slot{o.Weekday, o.Period}
		if i, ok := bySlot[k]; ok {
			out[i] = o
			continue
		}
		bySlot[k] = len(out)
		out = append(out, o)
	}

	ids := make(map[string]struct{}, len(out))
	for _, o := range out {
		if _, dup := ids[o.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate id %q", ErrInvalidOverride, o.ID)
		}
		ids[o.ID] = struct{}{}
	}
	return out, nil
}

// ReadAllergies returns the selected allergens in ascending order.
func (s *LocalStore) ReadAllergies(ctx context.Context) ([]model.Allergy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT allergy FROM allergies ORDER BY allergy`)
	if err != nil {
		return nil, fmt.Errorf("store: read allergies: %w", err)
	}
	defer rows.Close()

	out := make([]model.Allergy, 0)
	for rows.Next() {
		var a int
		if err := rows.Scan(&a); err != nil {
			return nil, fmt.Errorf("store: scan allergy: %w", err)
		}
		if al := model.Allergy(a); al.Valid() {
			out = append(out, al)
		}
	}
	return out, rows.Err()
}

// SaveAllergies replaces the selected allergens; unknown numbers are dropped.
func (s *LocalStore) SaveAllergies(ctx context.Context, allergies []model.Allergy) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM allergies`); err != nil {
		return fmt.Errorf("store: clear allergies: %w", err)
	}
	for _, a := range allergies {
		if !a.Valid() {
			continue
		}
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO allergies (allergy) VALUES (?)`, int(a)); err != nil {
			return fmt.Errorf("store: insert allergy: %w", err)
		}
	}
	return tx.Commit()
}

// ReplaceMajors caches the major list of the selected school, in order.
func (s *LocalStore) ReplaceMajors(ctx context.Context, majors []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM school_majors`); err != nil {
		return fmt.Errorf("store: clear majors: %w", err)
	}
	for i, m := range majors {
		if _, err := tx.ExecContext(ctx, `INSERT INTO school_majors (position, major) VALUES (?, ?)`, i, m); err != nil {
			return fmt.Errorf("store: insert major: %w", err)
		}
	}
	return tx.Commit()
}

// ReadMajors returns the cached major list.
func (s *LocalStore) ReadMajors(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT major FROM school_majors ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("store: read majors: %w", err)
	}
	defer rows.Close()

	out := make([]string, 0)
	for rows.Next() {
		var m string
		if err := rows.Scan(&m); err != nil {
			return nil, fmt.Errorf("store: scan major: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
