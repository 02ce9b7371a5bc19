// Package sqlite provides SQLite-based persistent storage for generation tasks.
// Uses WAL mode for concurrent reads and crash-safe writes.
package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver (no CGO required)

	"github.com/tutu-network/pregen/internal/domain"
)

// DB wraps a SQLite connection with WAL mode and migrations.
// It implements domain.TaskStore.
type DB struct {
	db *sql.DB
}

var _ domain.TaskStore = (*DB)(nil)

// Open creates or opens the SQLite database at dir/state.db.
// Enables WAL mode, foreign keys, and 5-second busy timeout.
func Open(dir string) (*DB, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	dbPath := filepath.Join(dir, "state.db")
	dsn := dbPath + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	// Connection pool settings for SQLite
	db.SetMaxOpenConns(1) // SQLite is single-writer
	db.SetMaxIdleConns(1)

	d := &DB{db: db}
	if err := d.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return d, nil
}

// Close cleanly shuts down the database.
func (d *DB) Close() error {
	return d.db.Close()
}

// Ping checks database connectivity.
func (d *DB) Ping() error {
	return d.db.Ping()
}

// migrate runs idempotent schema migrations.
func (d *DB) migrate() error {
	migrations := []string{
		// One row per world. radius_z is NULL for symmetric shapes.
		`CREATE TABLE IF NOT EXISTS generation_tasks (
			world           TEXT PRIMARY KEY,
			shape           TEXT NOT NULL,
			center_x        INTEGER NOT NULL,
			center_z        INTEGER NOT NULL,
			radius_x        INTEGER NOT NULL,
			radius_z        INTEGER,
			pattern         TEXT NOT NULL,
			cells_completed INTEGER NOT NULL DEFAULT 0,
			total_active_ms INTEGER NOT NULL DEFAULT 0,
			cancelled       BOOLEAN NOT NULL DEFAULT 0,
			paused          BOOLEAN NOT NULL DEFAULT 0,
			completed       BOOLEAN NOT NULL DEFAULT 0,
			run_id          TEXT NOT NULL DEFAULT '',
			updated_at      INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_resumable ON generation_tasks(cancelled, completed)`,

		`CREATE TABLE IF NOT EXISTS node_info (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
	}

	for _, m := range migrations {
		if _, err := d.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}
	return nil
}

// ─── Task Repository ────────────────────────────────────────────────────────

const taskColumns = `world, shape, center_x, center_z, radius_x, radius_z, pattern,
	cells_completed, total_active_ms, cancelled, paused, completed, run_id, updated_at`

// Save inserts or replaces the record for rec.World. The upsert runs in a
// transaction so a crash leaves either the old row or the new one.
func (d *DB) Save(rec domain.TaskRecord) error {
	if rec.World == "" {
		return domain.ErrEmptyWorld
	}
	updated := rec.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}

	tx, err := d.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO generation_tasks (`+taskColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(world) DO UPDATE SET
			shape=excluded.shape,
			center_x=excluded.center_x,
			center_z=excluded.center_z,
			radius_x=excluded.radius_x,
			radius_z=excluded.radius_z,
			pattern=excluded.pattern,
			cells_completed=excluded.cells_completed,
			total_active_ms=excluded.total_active_ms,
			cancelled=excluded.cancelled,
			paused=excluded.paused,
			completed=excluded.completed,
			run_id=excluded.run_id,
			updated_at=excluded.updated_at`,
		rec.World, rec.ShapeKind, rec.CenterX, rec.CenterZ, rec.RadiusX,
		nullableInt(rec.RadiusZ), rec.Pattern,
		rec.CellsCompleted, rec.TotalActiveMs,
		rec.Cancelled, rec.Paused, rec.Completed,
		rec.RunID, updated.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("save task %s: %w", rec.World, err)
	}
	return tx.Commit()
}

// Load retrieves the record for one world.
func (d *DB) Load(world string) (domain.TaskRecord, error) {
	row := d.db.QueryRow(`SELECT `+taskColumns+` FROM generation_tasks WHERE world = ?`, world)
	rec, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.TaskRecord{}, fmt.Errorf("%w: %s", domain.ErrRecordNotFound, world)
	}
	return rec, err
}

// LoadAll returns every resumable record ordered by world. Rows that cannot
// be turned back into a task are logged and skipped.
func (d *DB) LoadAll() ([]domain.TaskRecord, error) {
	all, err := d.query(`SELECT ` + taskColumns + ` FROM generation_tasks
		WHERE cancelled = 0 AND completed = 0 ORDER BY world`)
	if err != nil {
		return nil, err
	}
	var out []domain.TaskRecord
	for _, rec := range all {
		if err := rec.Validate(); err != nil {
			log.Printf("[store] WARNING: skipping record for %q: %v", rec.World, err)
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// List returns every record, terminal ones included, ordered by world.
func (d *DB) List() ([]domain.TaskRecord, error) {
	return d.query(`SELECT ` + taskColumns + ` FROM generation_tasks ORDER BY world`)
}

// Delete removes the record for a world.
func (d *DB) Delete(world string) error {
	result, err := d.db.Exec(`DELETE FROM generation_tasks WHERE world = ?`, world)
	if err != nil {
		return err
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("%w: %s", domain.ErrRecordNotFound, world)
	}
	return nil
}

func (d *DB) query(q string, args ...any) ([]domain.TaskRecord, error) {
	rows, err := d.db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []domain.TaskRecord
	for rows.Next() {
		rec, err := scanTask(rows)
		if err != nil {
			// One unreadable row must not hide the other worlds.
			log.Printf("[store] WARNING: skipping unreadable record for %q: %v", rec.World, err)
			continue
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// ─── Node Info ──────────────────────────────────────────────────────────────

// SetNodeInfo stores a key-value pair in node_info.
func (d *DB) SetNodeInfo(key, value string) error {
	_, err := d.db.Exec(
		`INSERT INTO node_info (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value=excluded.value`,
		key, value,
	)
	return err
}

// GetNodeInfo retrieves a value from node_info.
func (d *DB) GetNodeInfo(key string) (string, error) {
	var value string
	err := d.db.QueryRow(`SELECT value FROM node_info WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

// ─── Helpers ────────────────────────────────────────────────────────────────

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// scanTask decodes one row. On error the returned record carries whatever
// columns were decoded before the failing one, the world id included.
func scanTask(s scanner) (domain.TaskRecord, error) {
	var rec domain.TaskRecord
	var radiusZ sql.NullInt64
	var updatedAt int64

	err := s.Scan(&rec.World, &rec.ShapeKind, &rec.CenterX, &rec.CenterZ,
		&rec.RadiusX, &radiusZ, &rec.Pattern,
		&rec.CellsCompleted, &rec.TotalActiveMs,
		&rec.Cancelled, &rec.Paused, &rec.Completed,
		&rec.RunID, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.TaskRecord{}, err
	}
	if err != nil {
		return domain.TaskRecord{World: rec.World}, fmt.Errorf("%w: %v", domain.ErrMalformedRecord, err)
	}
	if radiusZ.Valid {
		rz := int(radiusZ.Int64)
		rec.RadiusZ = &rz
	}
	rec.UpdatedAt = time.UnixMilli(updatedAt)
	return rec, nil
}

func nullableInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}
