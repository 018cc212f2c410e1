// Package store manages the SQLite database holding reminder records: one
// row per schedulable reminder instance, foreign-keyed to its remote source.
//
// Only this package may open or query the database. All other packages
// receive a [*Store] and call its methods. The record id doubles as the alarm
// key, so a record must exist before its wake-up can be armed.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/lembremed/lembremed/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS reminder_records (
    id             INTEGER PRIMARY KEY AUTOINCREMENT,
    source_id      TEXT    NOT NULL,
    source_kind    TEXT    NOT NULL,
    slot           TEXT    NOT NULL,
    label          TEXT    NOT NULL DEFAULT '',
    recipient      TEXT    NOT NULL DEFAULT '',
    note           TEXT    NOT NULL DEFAULT '',
    dose_quantity  REAL    NOT NULL DEFAULT 0,
    hour           INTEGER NOT NULL DEFAULT 0,
    minute         INTEGER NOT NULL DEFAULT 0,
    interval_hours INTEGER NOT NULL DEFAULT 0,
    next_trigger   TEXT    NOT NULL DEFAULT '',
    active         INTEGER NOT NULL DEFAULT 1
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_source_slot ON reminder_records (source_id, slot, hour, minute);
CREATE INDEX        IF NOT EXISTS idx_source_id   ON reminder_records (source_id);
CREATE INDEX        IF NOT EXISTS idx_active      ON reminder_records (active);
`

// Record is a single locally persisted reminder instance.
type Record struct {
	ID         int64
	SourceID   string
	SourceKind model.SourceKind
	Slot       model.Slot

	// Denormalized display fields so a wake-up can render without the
	// remote store.
	Label     string
	Recipient string
	Note      string

	// DoseQuantity is the stock decrement applied by a "taken" action.
	DoseQuantity float64

	// Hour and Minute are the wall-clock components of daily slots; interval
	// slots carry IntervalHours instead.
	Hour          int
	Minute        int
	IntervalHours int

	// NextTrigger is the absolute next fire instant.
	NextTrigger time.Time

	Active bool
}

// Store is the SQLite-backed reminder record repository.
type Store struct {
	db *sql.DB
}

// DefaultDBPath returns the default path for the record database:
// ~/.local/share/lembremed/records.db
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".local", "share", "lembremed", "records.db"), nil
}

// Open opens (or creates) the SQLite database at path, applies the schema,
// and configures WAL mode for better concurrent read performance.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("opening database %q: %w", path, err)
	}

	// Single writer to avoid SQLITE_BUSY under WAL.
	db.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate applies the schema DDL idempotently (CREATE IF NOT EXISTS).
func migrate(db *sql.DB) error {
	_, err := db.Exec(schema)
	return err
}

const recordColumns = `id, source_id, source_kind, slot, label, recipient, note,
       dose_quantity, hour, minute, interval_hours, next_trigger, active`

// Insert persists a new record and fills in its generated id.
func (s *Store) Insert(ctx context.Context, rec *Record) error {
	const q = `
		INSERT INTO reminder_records
		    (source_id, source_kind, slot, label, recipient, note,
		     dose_quantity, hour, minute, interval_hours, next_trigger, active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	res, err := s.db.ExecContext(ctx, q,
		rec.SourceID,
		string(rec.SourceKind),
		string(rec.Slot),
		rec.Label,
		rec.Recipient,
		rec.Note,
		rec.DoseQuantity,
		rec.Hour,
		rec.Minute,
		rec.IntervalHours,
		formatTime(rec.NextTrigger),
		boolToInt(rec.Active),
	)
	if err != nil {
		return fmt.Errorf("inserting record for source %q slot %q: %w", rec.SourceID, rec.Slot, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading inserted record id: %w", err)
	}
	rec.ID = id
	return nil
}

// GetByID returns the record with the given id, or (nil, nil) if no such
// record exists.
func (s *Store) GetByID(ctx context.Context, id int64) (*Record, error) {
	q := `SELECT ` + recordColumns + ` FROM reminder_records WHERE id = ?`
	row := s.db.QueryRowContext(ctx, q, id)
	return scanRecord(row)
}

// GetBySourceID returns all records referencing the given source id.
func (s *Store) GetBySourceID(ctx context.Context, sourceID string) ([]*Record, error) {
	q := `SELECT ` + recordColumns + ` FROM reminder_records WHERE source_id = ?`
	return s.queryRecords(ctx, q, sourceID)
}

// AllActive returns every active record, ordered by next trigger. Used by the
// startup re-arm pass and the maintenance sweep.
func (s *Store) AllActive(ctx context.Context) ([]*Record, error) {
	q := `SELECT ` + recordColumns + ` FROM reminder_records WHERE active = 1 ORDER BY next_trigger`
	return s.queryRecords(ctx, q)
}

// TrackedSourceIDs returns the distinct source ids of the given kind that
// have at least one record, for remote-deletion detection.
func (s *Store) TrackedSourceIDs(ctx context.Context, kind model.SourceKind) ([]string, error) {
	const q = `SELECT DISTINCT source_id FROM reminder_records WHERE source_kind = ?`
	rows, err := s.db.QueryContext(ctx, q, string(kind))
	if err != nil {
		return nil, fmt.Errorf("querying tracked %s ids: %w", kind, err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning source id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Update overwrites the mutable fields of an existing record.
func (s *Store) Update(ctx context.Context, rec *Record) error {
	const q = `
		UPDATE reminder_records SET
		    label = ?, recipient = ?, note = ?, dose_quantity = ?,
		    hour = ?, minute = ?, interval_hours = ?, next_trigger = ?, active = ?
		WHERE id = ?`

	if _, err := s.db.ExecContext(ctx, q,
		rec.Label,
		rec.Recipient,
		rec.Note,
		rec.DoseQuantity,
		rec.Hour,
		rec.Minute,
		rec.IntervalHours,
		formatTime(rec.NextTrigger),
		boolToInt(rec.Active),
		rec.ID,
	); err != nil {
		return fmt.Errorf("updating record id=%d: %w", rec.ID, err)
	}
	return nil
}

// Delete removes the record with the given id.
func (s *Store) Delete(ctx context.Context, id int64) error {
	const q = `DELETE FROM reminder_records WHERE id = ?`
	if _, err := s.db.ExecContext(ctx, q, id); err != nil {
		return fmt.Errorf("deleting record id=%d: %w", id, err)
	}
	return nil
}

// DeleteBySourceID removes every record referencing the given source id.
// Callers must cancel the records' wake-ups first.
func (s *Store) DeleteBySourceID(ctx context.Context, sourceID string) error {
	const q = `DELETE FROM reminder_records WHERE source_id = ?`
	if _, err := s.db.ExecContext(ctx, q, sourceID); err != nil {
		return fmt.Errorf("deleting records for source %q: %w", sourceID, err)
	}
	return nil
}

// IsEmpty reports whether the reminder_records table has no rows.
func (s *Store) IsEmpty(ctx context.Context) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM reminder_records`).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("checking if store is empty: %w", err)
	}
	return count == 0, nil
}

// --- helpers -----------------------------------------------------------------

func (s *Store) queryRecords(ctx context.Context, q string, args ...any) ([]*Record, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("querying records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var recs []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// scanner matches both *sql.Row and *sql.Rows so scanRecord can be reused.
type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (*Record, error) {
	var rec Record
	var kind, slot, trigger string
	var active int

	err := s.Scan(
		&rec.ID,
		&rec.SourceID,
		&kind,
		&slot,
		&rec.Label,
		&rec.Recipient,
		&rec.Note,
		&rec.DoseQuantity,
		&rec.Hour,
		&rec.Minute,
		&rec.IntervalHours,
		&trigger,
		&active,
	)
	if err == sql.ErrNoRows {
		return nil, nil //nolint:nilnil // intentional: "not found" sentinel
	}
	if err != nil {
		return nil, fmt.Errorf("scanning record row: %w", err)
	}

	rec.SourceKind = model.SourceKind(kind)
	rec.Slot = model.Slot(slot)
	rec.NextTrigger, _ = parseTime(trigger)
	rec.Active = active != 0

	return &rec, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
