// Package store persists run records.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mohammad-safakhou/urska/config"
	"github.com/mohammad-safakhou/urska/internal/agent/core"
)

// ErrNotFound is returned by Get for an unknown run id.
var ErrNotFound = errors.New("run not found")

// Status is the lifecycle state of a run.
type Status string

const (
	StatusQueued  Status = "queued"
	StatusRunning Status = "running"
	StatusDone    Status = "done"
	StatusFailed  Status = "failed"
)

// Terminal reports whether no further transition is expected.
func (s Status) Terminal() bool { return s == StatusDone || s == StatusFailed }

// RunRecord is the persisted view of one run.
type RunRecord struct {
	ID          string          `json:"id"`
	Objective   string          `json:"objective"`
	Status      Status          `json:"status"`
	FailureKind string          `json:"failure_kind,omitempty"`
	Error       string          `json:"error,omitempty"`
	Answer      string          `json:"answer,omitempty"`
	Iterations  int             `json:"iterations"`
	Plan        json.RawMessage `json:"plan,omitempty"`
	History     []core.PastStep `json:"history"`
	CreatedAt   time.Time       `json:"created_at"`
	FinishedAt  *time.Time      `json:"finished_at,omitempty"`
}

// RunStore saves and loads run records. Save is an upsert keyed by ID.
type RunStore interface {
	Save(ctx context.Context, rec RunRecord) error
	Get(ctx context.Context, id string) (RunRecord, error)
	// List returns the newest records first.
	List(ctx context.Context, limit int) ([]RunRecord, error)
	Close() error
}

const defaultListLimit = 50

func normalizeLimit(limit int) int {
	if limit <= 0 || limit > 500 {
		return defaultListLimit
	}
	return limit
}

func validate(rec RunRecord) error {
	if rec.ID == "" {
		return fmt.Errorf("run record: id is required")
	}
	if rec.Status == "" {
		return fmt.Errorf("run record %s: status is required", rec.ID)
	}
	return nil
}

// Open builds the store selected by cfg.Backend.
func Open(ctx context.Context, cfg config.StorageConfig) (RunStore, error) {
	switch cfg.Backend {
	case "", config.BackendMemory:
		return NewMemoryStore(), nil
	case config.BackendRedis:
		return NewRedisStore(ctx, cfg.Redis)
	case config.BackendPostgres:
		return NewPostgresStore(ctx, cfg.Postgres.DSN())
	default:
		return nil, fmt.Errorf("unsupported storage backend: %s", cfg.Backend)
	}
}
