// Package results keeps a history of evaluation runs in SQLite.
package results

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"slicecorrect/pkg/evaluation"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id          TEXT PRIMARY KEY,
	started_at      TEXT NOT NULL,
	finished_at     TEXT NOT NULL,
	alpha           REAL NOT NULL,
	seed            TEXT NOT NULL,
	budgets_json    TEXT NOT NULL,
	strategies_json TEXT NOT NULL,
	excluded_json   TEXT NOT NULL,
	missing_json    TEXT,
	failed_json     TEXT NOT NULL,
	num_patients    INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS patient_scores (
	run_id     TEXT NOT NULL,
	patient_id TEXT NOT NULL,
	strategy   TEXT NOT NULL,
	budget     REAL NOT NULL,
	dice       REAL NOT NULL,
	PRIMARY KEY (run_id, patient_id, strategy, budget),
	FOREIGN KEY (run_id) REFERENCES runs(run_id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS aggregates (
	run_id   TEXT NOT NULL,
	strategy TEXT NOT NULL,
	budget   REAL NOT NULL,
	mean     REAL NOT NULL,
	std      REAL NOT NULL,
	count    INTEGER NOT NULL,
	PRIMARY KEY (run_id, strategy, budget),
	FOREIGN KEY (run_id) REFERENCES runs(run_id) ON DELETE CASCADE
);
`

// timeLayout is fixed width so started_at sorts lexicographically
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// ErrRunNotFound is returned when no run matches the requested id
var ErrRunNotFound = errors.New("run not found")

// RunSummary is one row of the run history
type RunSummary struct {
	RunID       string
	StartedAt   time.Time
	FinishedAt  time.Time
	Alpha       float64
	NumPatients int
	NumFailed   int
}

// Store persists evaluation runs
type Store struct {
	db *sql.DB
}

// NewStore opens a SQLite database and runs migrations
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma fk: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveRun stores a finished run. A run without an id is assigned a new UUID.
func (s *Store) SaveRun(ctx context.Context, r *evaluation.Results) error {
	if r.RunID == "" {
		r.RunID = uuid.NewString()
	}

	budgets, err := json.Marshal(r.Budgets)
	if err != nil {
		return fmt.Errorf("marshal budgets: %w", err)
	}
	strategies, err := json.Marshal(r.Strategies)
	if err != nil {
		return fmt.Errorf("marshal strategies: %w", err)
	}
	excluded, err := json.Marshal(r.Excluded)
	if err != nil {
		return fmt.Errorf("marshal excluded: %w", err)
	}
	missing, err := json.Marshal(r.Missing)
	if err != nil {
		return fmt.Errorf("marshal missing: %w", err)
	}
	failed, err := json.Marshal(r.Failed)
	if err != nil {
		return fmt.Errorf("marshal failed: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs (run_id, started_at, finished_at, alpha, seed, budgets_json,
		 strategies_json, excluded_json, missing_json, failed_json, num_patients)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RunID, r.StartedAt.UTC().Format(timeLayout), r.FinishedAt.UTC().Format(timeLayout),
		r.Alpha, fmt.Sprintf("%d", r.Seed), string(budgets), string(strategies),
		string(excluded), string(missing), string(failed), len(r.PerPatient),
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	for patientID, scores := range r.PerPatient {
		for strategy, byBudget := range scores {
			for budget, dice := range byBudget {
				if _, err := tx.ExecContext(ctx,
					`INSERT INTO patient_scores (run_id, patient_id, strategy, budget, dice) VALUES (?, ?, ?, ?, ?)`,
					r.RunID, patientID, strategy, float64(budget), dice,
				); err != nil {
					return fmt.Errorf("insert score: %w", err)
				}
			}
		}
	}

	for strategy, byBudget := range r.Aggregate {
		for budget, st := range byBudget {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO aggregates (run_id, strategy, budget, mean, std, count) VALUES (?, ?, ?, ?, ?, ?)`,
				r.RunID, strategy, float64(budget), st.Mean, st.Std, st.Count,
			); err != nil {
				return fmt.Errorf("insert aggregate: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// LoadRun rebuilds the results of one run
func (s *Store) LoadRun(ctx context.Context, runID string) (*evaluation.Results, error) {
	var (
		r                                     evaluation.Results
		started, finished, seed               string
		budgets, strategies, excluded, failed string
		missing                               sql.NullString
		numPatients                           int
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT run_id, started_at, finished_at, alpha, seed, budgets_json, strategies_json,
		 excluded_json, missing_json, failed_json, num_patients FROM runs WHERE run_id = ?`, runID,
	).Scan(&r.RunID, &started, &finished, &r.Alpha, &seed, &budgets, &strategies,
		&excluded, &missing, &failed, &numPatients)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("query run: %w", err)
	}

	if r.StartedAt, err = time.Parse(time.RFC3339Nano, started); err != nil {
		return nil, fmt.Errorf("parse started_at: %w", err)
	}
	if r.FinishedAt, err = time.Parse(time.RFC3339Nano, finished); err != nil {
		return nil, fmt.Errorf("parse finished_at: %w", err)
	}
	if _, err := fmt.Sscanf(seed, "%d", &r.Seed); err != nil {
		return nil, fmt.Errorf("parse seed: %w", err)
	}
	for _, field := range []struct {
		raw string
		dst interface{}
	}{
		{budgets, &r.Budgets},
		{strategies, &r.Strategies},
		{excluded, &r.Excluded},
		{failed, &r.Failed},
	} {
		if err := json.Unmarshal([]byte(field.raw), field.dst); err != nil {
			return nil, fmt.Errorf("unmarshal run field: %w", err)
		}
	}
	if missing.Valid && missing.String != "" {
		if err := json.Unmarshal([]byte(missing.String), &r.Missing); err != nil {
			return nil, fmt.Errorf("unmarshal missing: %w", err)
		}
	}

	r.PerPatient = make(map[string]evaluation.PatientScores, numPatients)
	rows, err := s.db.QueryContext(ctx,
		`SELECT patient_id, strategy, budget, dice FROM patient_scores WHERE run_id = ?`, runID)
	if err != nil {
		return nil, fmt.Errorf("query scores: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var patientID, strategy string
		var budget, dice float64
		if err := rows.Scan(&patientID, &strategy, &budget, &dice); err != nil {
			return nil, fmt.Errorf("scan score: %w", err)
		}
		scores, ok := r.PerPatient[patientID]
		if !ok {
			scores = evaluation.PatientScores{}
			r.PerPatient[patientID] = scores
		}
		if scores[strategy] == nil {
			scores[strategy] = make(map[evaluation.Fraction]float64)
		}
		scores[strategy][evaluation.Fraction(budget)] = dice
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate scores: %w", err)
	}

	r.Aggregate = make(map[string]map[evaluation.Fraction]evaluation.Stat)
	aggRows, err := s.db.QueryContext(ctx,
		`SELECT strategy, budget, mean, std, count FROM aggregates WHERE run_id = ?`, runID)
	if err != nil {
		return nil, fmt.Errorf("query aggregates: %w", err)
	}
	defer aggRows.Close()
	for aggRows.Next() {
		var strategy string
		var budget float64
		var st evaluation.Stat
		if err := aggRows.Scan(&strategy, &budget, &st.Mean, &st.Std, &st.Count); err != nil {
			return nil, fmt.Errorf("scan aggregate: %w", err)
		}
		if r.Aggregate[strategy] == nil {
			r.Aggregate[strategy] = make(map[evaluation.Fraction]evaluation.Stat)
		}
		r.Aggregate[strategy][evaluation.Fraction(budget)] = st
	}
	if err := aggRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate aggregates: %w", err)
	}

	return &r, nil
}

// ListRuns returns the most recent runs first, at most limit rows (0 for all)
func (s *Store) ListRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	query := `SELECT run_id, started_at, finished_at, alpha, num_patients, failed_json
		FROM runs ORDER BY started_at DESC, run_id`
	args := []interface{}{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var rs RunSummary
		var started, finished, failed string
		if err := rows.Scan(&rs.RunID, &started, &finished, &rs.Alpha, &rs.NumPatients, &failed); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		var err error
		if rs.StartedAt, err = time.Parse(time.RFC3339Nano, started); err != nil {
			return nil, fmt.Errorf("parse started_at of run %s: %w", rs.RunID, err)
		}
		if rs.FinishedAt, err = time.Parse(time.RFC3339Nano, finished); err != nil {
			return nil, fmt.Errorf("parse finished_at of run %s: %w", rs.RunID, err)
		}
		var failures []evaluation.Failure
		if err := json.Unmarshal([]byte(failed), &failures); err != nil {
			return nil, fmt.Errorf("unmarshal failures of run %s: %w", rs.RunID, err)
		}
		rs.NumFailed = len(failures)
		out = append(out, rs)
	}
	return out, rows.Err()
}

// LatestRun loads the most recently started run
func (s *Store) LatestRun(ctx context.Context) (*evaluation.Results, error) {
	runs, err := s.ListRuns(ctx, 1)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, ErrRunNotFound
	}
	return s.LoadRun(ctx, runs[0].RunID)
}
