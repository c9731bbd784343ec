// Package store records prediction batches in SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	_ "github.com/mattn/go-sqlite3"

	"github.com/hickeroar/sentibayes/bayes"
)

// timeLayout has a fixed width so created_at sorts lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// ErrRunNotFound is returned when a run id is unknown.
var ErrRunNotFound = errors.New("run not found")

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	source     TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL,
	count      INTEGER NOT NULL,
	accuracy   REAL
);
CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at);

CREATE TABLE IF NOT EXISTS predictions (
	run_id    TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	position  INTEGER NOT NULL,
	text      TEXT NOT NULL,
	label_id  INTEGER NOT NULL,
	sentiment TEXT NOT NULL,
	PRIMARY KEY (run_id, position)
);
`

// Run is one recorded prediction batch.
type Run struct {
	ID        string    `json:"id"`
	Source    string    `json:"source"`
	CreatedAt time.Time `json:"created_at"`
	Count     int       `json:"count"`
	// Accuracy is set for evaluation runs.
	Accuracy *float64 `json:"accuracy,omitempty"`
}

// Store is a SQLite-backed prediction history.
type Store struct {
	db    *sql.DB
	clock clockwork.Clock
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the clock used to stamp runs.
func WithClock(c clockwork.Clock) Option {
	return func(s *Store) { s.clock = c }
}

// Open opens (creating if needed) the database at path and applies the schema.
func Open(path string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	// SQLite allows a single writer, and ":memory:" is per connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	s := &Store{db: db, clock: clockwork.NewRealClock()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveRun records predictions as a new run. accuracy may be nil.
func (s *Store) SaveRun(ctx context.Context, source string, predictions []bayes.Prediction, accuracy *float64) (Run, error) {
	run := Run{
		ID:        uuid.NewString(),
		Source:    source,
		CreatedAt: s.clock.Now().UTC(),
		Count:     len(predictions),
		Accuracy:  accuracy,
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Run{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO runs (id, source, created_at, count, accuracy) VALUES (?, ?, ?, ?, ?)`,
		run.ID, run.Source, run.CreatedAt.Format(timeLayout), run.Count, run.Accuracy,
	); err != nil {
		return Run{}, fmt.Errorf("insert run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO predictions (run_id, position, text, label_id, sentiment) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return Run{}, fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for i, p := range predictions {
		if _, err := stmt.ExecContext(ctx, run.ID, i, p.Text, int(p.Label), p.Sentiment); err != nil {
			return Run{}, fmt.Errorf("insert prediction %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return Run{}, fmt.Errorf("commit: %w", err)
	}
	return run, nil
}

// Runs returns up to limit runs, newest first.
func (s *Store) Runs(ctx context.Context, limit int) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, source, created_at, count, accuracy FROM runs ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Run returns a single run by id.
func (s *Store) Run(ctx context.Context, id string) (Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, source, created_at, count, accuracy FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return run, err
}

// Predictions returns the rows of a run in their original order.
func (s *Store) Predictions(ctx context.Context, runID string) ([]bayes.Prediction, error) {
	if _, err := s.Run(ctx, runID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT text, label_id, sentiment FROM predictions WHERE run_id = ? ORDER BY position`, runID)
	if err != nil {
		return nil, fmt.Errorf("query predictions: %w", err)
	}
	defer rows.Close()

	var predictions []bayes.Prediction
	for rows.Next() {
		var p bayes.Prediction
		var label int
		if err := rows.Scan(&p.Text, &label, &p.Sentiment); err != nil {
			return nil, fmt.Errorf("scan prediction: %w", err)
		}
		p.Label = bayes.Label(label)
		predictions = append(predictions, p)
	}
	return predictions, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (Run, error) {
	var run Run
	var created string
	var accuracy sql.NullFloat64
	if err := row.Scan(&run.ID, &run.Source, &created, &run.Count, &accuracy); err != nil {
		return Run{}, err
	}

	t, err := time.Parse(timeLayout, created)
	if err != nil {
		return Run{}, fmt.Errorf("parse created_at %q: %w", created, err)
	}
	run.CreatedAt = t
	if accuracy.Valid {
		run.Accuracy = &accuracy.Float64
	}
	return run, nil
}
