// Package tracker records training runs: one sqlite database per runs
// directory holding run metadata and scalar metrics, plus a per-run
// folder for plots and checkpoints. The store is the backing for both
// the CLI verbs and the dashboard server.
package tracker

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const currentSchemaVersion = 1

// Store wraps the runs database. SQLite handles its own locking and
// WAL mode lets the dashboard read while training writes.
type Store struct {
	conn *sql.DB
	dir  string
}

// Open creates or opens the runs directory and its database.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create runs dir: %w", err)
	}

	path := filepath.Join(dir, "runs.db")
	conn, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &Store{conn: conn, dir: dir}
	if err := s.init(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("initialize database: %w", err)
	}
	return s, nil
}

// Dir returns the runs directory.
func (s *Store) Dir() string {
	return s.dir
}

// Close flushes the WAL and closes the connection.
func (s *Store) Close() error {
	_, _ = s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE);")
	return s.conn.Close()
}

func (s *Store) init() error {
	schema := `
	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		group_name TEXT NOT NULL DEFAULT '',
		config TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		finished_at INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS metrics (
		run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		iteration INTEGER NOT NULL,
		value REAL NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_metrics_run ON metrics(run_id, name, iteration);

	CREATE TABLE IF NOT EXISTS images (
		run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		iteration INTEGER NOT NULL,
		path TEXT NOT NULL
	);
	`
	if _, err := s.conn.Exec(schema); err != nil {
		return err
	}

	var version int
	err := s.conn.QueryRow("SELECT version FROM schema_version").Scan(&version)
	if err == sql.ErrNoRows {
		_, err = s.conn.Exec("INSERT INTO schema_version (version) VALUES (?)", currentSchemaVersion)
	}
	return err
}

// RunSummary is one row of the runs table.
type RunSummary struct {
	ID        string
	Group     string
	Config    string
	CreatedAt time.Time
	Finished  bool
}

// Runs lists all runs, newest first.
func (s *Store) Runs() ([]RunSummary, error) {
	rows, err := s.conn.Query(`
		SELECT id, group_name, config, created_at, finished_at
		FROM runs ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var r RunSummary
		var created, finished int64
		if err := rows.Scan(&r.ID, &r.Group, &r.Config, &created, &finished); err != nil {
			return nil, err
		}
		r.CreatedAt = time.Unix(created, 0)
		r.Finished = finished != 0
		out = append(out, r)
	}
	return out, rows.Err()
}

// Run fetches one run by id.
func (s *Store) Run(id string) (RunSummary, error) {
	var r RunSummary
	var created, finished int64
	err := s.conn.QueryRow(`
		SELECT id, group_name, config, created_at, finished_at
		FROM runs WHERE id = ?`, id).Scan(&r.ID, &r.Group, &r.Config, &created, &finished)
	if err != nil {
		return RunSummary{}, err
	}
	r.CreatedAt = time.Unix(created, 0)
	r.Finished = finished != 0
	return r, nil
}

// Point is one recorded metric value.
type Point struct {
	Iteration int
	Value     float64
}

// Metrics returns the recorded points of one metric, ordered by
// iteration.
func (s *Store) Metrics(runID, name string) ([]Point, error) {
	rows, err := s.conn.Query(`
		SELECT iteration, value FROM metrics
		WHERE run_id = ? AND name = ? ORDER BY iteration`, runID, name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Point
	for rows.Next() {
		var p Point
		if err := rows.Scan(&p.Iteration, &p.Value); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// MetricNames lists the distinct metrics recorded for a run.
func (s *Store) MetricNames(runID string) ([]string, error) {
	rows, err := s.conn.Query(`
		SELECT DISTINCT name FROM metrics WHERE run_id = ? ORDER BY name`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

// Images lists the recorded plots of a run.
func (s *Store) Images(runID string) ([]ImageRecord, error) {
	rows, err := s.conn.Query(`
		SELECT name, iteration, path FROM images
		WHERE run_id = ? ORDER BY iteration, name`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ImageRecord
	for rows.Next() {
		var r ImageRecord
		if err := rows.Scan(&r.Name, &r.Iteration, &r.Path); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ImageRecord is one stored plot reference.
type ImageRecord struct {
	Name      string
	Iteration int
	Path      string
}

// RunDir returns the artifact directory of a run.
func (s *Store) RunDir(id string) string {
	return filepath.Join(s.dir, id)
}
