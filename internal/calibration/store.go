package calibration

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// ErrRunNotFound is returned when a run ID is not in the store.
var ErrRunNotFound = errors.New("calibration run not found")

// migration is one schema step. Steps are applied in order and recorded in
// schema_migrations.
type migration struct {
	Version     int
	Description string
	Up          string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "Calibration runs and per-profile results",
		Up: `
CREATE TABLE IF NOT EXISTS runs (
    id              TEXT PRIMARY KEY,
    fingerprint     TEXT NOT NULL,
    started_at      INTEGER NOT NULL,
    finished_at     INTEGER NOT NULL,
    config_json     TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
CREATE INDEX IF NOT EXISTS idx_runs_fingerprint ON runs(fingerprint);

CREATE TABLE IF NOT EXISTS coefficient_results (
    run_id          TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    coefficient     REAL NOT NULL,
    margin          REAL NOT NULL,
    comparable      INTEGER NOT NULL,
    PRIMARY KEY (run_id, coefficient)
);

CREATE TABLE IF NOT EXISTS profile_results (
    run_id          TEXT NOT NULL,
    coefficient     REAL NOT NULL,
    ordinal         INTEGER NOT NULL,
    profile         TEXT NOT NULL,
    human           INTEGER NOT NULL,
    trials          INTEGER NOT NULL,
    mean_score      REAL NOT NULL,
    stddev          REAL NOT NULL,
    min_score       REAL NOT NULL,
    max_score       REAL NOT NULL,
    confident_rate  REAL NOT NULL,
    mean_genuine    REAL NOT NULL,
    PRIMARY KEY (run_id, coefficient, ordinal),
    FOREIGN KEY (run_id, coefficient) REFERENCES coefficient_results(run_id, coefficient) ON DELETE CASCADE
);
`,
	},
}

// Store persists calibration reports in SQLite.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path and applies pending
// migrations.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version     INTEGER PRIMARY KEY,
			applied_at  INTEGER NOT NULL,
			description TEXT
		)`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	var current int
	if err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&current); err != nil {
		return fmt.Errorf("get current version: %w", err)
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.Version, err)
		}
		if _, err := tx.Exec(m.Up); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration %d (%s): %w", m.Version, m.Description, err)
		}
		if _, err := tx.Exec(
			"INSERT INTO schema_migrations (version, applied_at, description) VALUES (?, ?, ?)",
			m.Version, time.Now().UnixNano(), m.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}
	return nil
}

// SchemaVersion returns the highest applied migration.
func (s *Store) SchemaVersion() (int, error) {
	var v int
	err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&v)
	return v, err
}

// Save stores a report and all of its results in one transaction.
func (s *Store) Save(ctx context.Context, r *Report) error {
	cfg, err := json.Marshal(r.Config)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO runs (id, fingerprint, started_at, finished_at, config_json)
		VALUES (?, ?, ?, ?, ?)`,
		r.RunID, r.Fingerprint, r.StartedAt.UnixNano(), r.FinishedAt.UnixNano(), string(cfg),
	); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	coefStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO coefficient_results (run_id, coefficient, margin, comparable)
		VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare statement: %w", err)
	}
	defer coefStmt.Close()

	profStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO profile_results (run_id, coefficient, ordinal, profile, human, trials,
			mean_score, stddev, min_score, max_score, confident_rate, mean_genuine)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare statement: %w", err)
	}
	defer profStmt.Close()

	for _, cr := range r.Results {
		if _, err := coefStmt.ExecContext(ctx, r.RunID, cr.Coefficient, cr.Margin, cr.Comparable); err != nil {
			return fmt.Errorf("insert coefficient result: %w", err)
		}
		for i, p := range cr.Profiles {
			if _, err := profStmt.ExecContext(ctx, r.RunID, cr.Coefficient, i, p.Profile, p.Human, p.Trials,
				p.MeanScore, p.StdDev, p.MinScore, p.MaxScore, p.ConfidentRate, p.MeanGenuine,
			); err != nil {
				return fmt.Errorf("insert profile result: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// RunSummary is a row of ListRuns.
type RunSummary struct {
	RunID           string
	Fingerprint     string
	StartedAt       time.Time
	FinishedAt      time.Time
	BestCoefficient float64
	BestMargin      float64
	HasBest         bool
}

// ListRuns returns up to limit runs, newest first. limit <= 0 means all.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.fingerprint, r.started_at, r.finished_at,
			(SELECT c.coefficient FROM coefficient_results c
				WHERE c.run_id = r.id AND c.comparable = 1
				ORDER BY c.margin DESC, c.coefficient ASC LIMIT 1),
			(SELECT MAX(c.margin) FROM coefficient_results c
				WHERE c.run_id = r.id AND c.comparable = 1)
		FROM runs r
		ORDER BY r.started_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var rs RunSummary
		var started, finished int64
		var best, width sql.NullFloat64
		if err := rows.Scan(&rs.RunID, &rs.Fingerprint, &started, &finished, &best, &width); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		rs.StartedAt = time.Unix(0, started).UTC()
		rs.FinishedAt = time.Unix(0, finished).UTC()
		if best.Valid && width.Valid {
			rs.BestCoefficient, rs.BestMargin, rs.HasBest = best.Float64, width.Float64, true
		}
		out = append(out, rs)
	}
	return out, rows.Err()
}

// Load reads a stored report. Scoring settings other than those recorded in
// the config JSON are not persisted.
func (s *Store) Load(ctx context.Context, runID string) (*Report, error) {
	var r Report
	var started, finished int64
	var cfg string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, fingerprint, started_at, finished_at, config_json
		FROM runs WHERE id = ?`, runID,
	).Scan(&r.RunID, &r.Fingerprint, &started, &finished, &cfg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	r.StartedAt = time.Unix(0, started).UTC()
	r.FinishedAt = time.Unix(0, finished).UTC()
	if err := json.Unmarshal([]byte(cfg), &r.Config); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT c.coefficient, c.margin, c.comparable,
			p.profile, p.human, p.trials, p.mean_score, p.stddev,
			p.min_score, p.max_score, p.confident_rate, p.mean_genuine
		FROM coefficient_results c
		JOIN profile_results p ON p.run_id = c.run_id AND p.coefficient = c.coefficient
		WHERE c.run_id = ?
		ORDER BY c.coefficient, p.ordinal`, runID)
	if err != nil {
		return nil, fmt.Errorf("get results: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var k, m float64
		var comparable bool
		var p ProfileResult
		if err := rows.Scan(&k, &m, &comparable,
			&p.Profile, &p.Human, &p.Trials, &p.MeanScore, &p.StdDev,
			&p.MinScore, &p.MaxScore, &p.ConfidentRate, &p.MeanGenuine,
		); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		n := len(r.Results)
		if n == 0 || r.Results[n-1].Coefficient != k {
			r.Results = append(r.Results, CoefficientResult{Coefficient: k, Margin: m, Comparable: comparable})
			n++
		}
		r.Results[n-1].Profiles = append(r.Results[n-1].Profiles, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &r, nil
}

// Delete removes a run and its results.
func (s *Store) Delete(ctx context.Context, runID string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM runs WHERE id = ?", runID)
	if err != nil {
		return fmt.Errorf("delete run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete run: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return nil
}
