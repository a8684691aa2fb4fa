package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/lib/pq"
)

// PostgresStore keeps records in the runs table (see migrations/).
type PostgresStore struct {
	DB *sql.DB
}

// NewPostgresStore opens and pings the database. Run Migrate first.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	return &PostgresStore{DB: db}, nil
}

const upsertRun = `
INSERT INTO runs (id, objective, status, failure_kind, error, answer, iterations, plan, history, created_at, finished_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
ON CONFLICT (id) DO UPDATE SET
  objective = EXCLUDED.objective,
  status = EXCLUDED.status,
  failure_kind = EXCLUDED.failure_kind,
  error = EXCLUDED.error,
  answer = EXCLUDED.answer,
  iterations = EXCLUDED.iterations,
  plan = EXCLUDED.plan,
  history = EXCLUDED.history,
  finished_at = EXCLUDED.finished_at;
`

const selectRuns = `
SELECT id, objective, status, failure_kind, error, answer, iterations, plan, history, created_at, finished_at
FROM runs
`

func (s *PostgresStore) Save(ctx context.Context, rec RunRecord) error {
	if err := validate(rec); err != nil {
		return err
	}
	plan := []byte(rec.Plan)
	if len(plan) == 0 {
		plan = []byte(`{"steps":[]}`)
	}
	history, err := json.Marshal(rec.History)
	if err != nil {
		return fmt.Errorf("marshal history: %w", err)
	}
	if rec.History == nil {
		history = []byte(`[]`)
	}
	var finished sql.NullTime
	if rec.FinishedAt != nil {
		finished = sql.NullTime{Time: *rec.FinishedAt, Valid: true}
	}
	_, err = s.DB.ExecContext(ctx, upsertRun,
		rec.ID, rec.Objective, string(rec.Status), rec.FailureKind, rec.Error, rec.Answer,
		rec.Iterations, plan, history, rec.CreatedAt, finished)
	if err != nil {
		return fmt.Errorf("upsert run %s: %w", rec.ID, err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (RunRecord, error) {
	row := s.DB.QueryRowContext(ctx, selectRuns+"WHERE id = $1", id)
	rec, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return RunRecord{}, ErrNotFound
	}
	if err != nil {
		return RunRecord{}, fmt.Errorf("get run %s: %w", id, err)
	}
	return rec, nil
}

func (s *PostgresStore) List(ctx context.Context, limit int) ([]RunRecord, error) {
	rows, err := s.DB.QueryContext(ctx, selectRuns+"ORDER BY created_at DESC LIMIT $1", normalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()
	var out []RunRecord
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Close() error { return s.DB.Close() }

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(sc scanner) (RunRecord, error) {
	var (
		rec      RunRecord
		status   string
		plan     []byte
		history  []byte
		finished sql.NullTime
	)
	if err := sc.Scan(&rec.ID, &rec.Objective, &status, &rec.FailureKind, &rec.Error, &rec.Answer,
		&rec.Iterations, &plan, &history, &rec.CreatedAt, &finished); err != nil {
		return RunRecord{}, err
	}
	rec.Status = Status(status)
	if len(plan) > 0 {
		rec.Plan = json.RawMessage(plan)
	}
	if len(history) > 0 {
		if err := json.Unmarshal(history, &rec.History); err != nil {
			return RunRecord{}, fmt.Errorf("decode history: %w", err)
		}
	}
	if finished.Valid {
		t := finished.Time
		rec.FinishedAt = &t
	}
	return rec, nil
}
