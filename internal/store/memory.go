package store

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore keeps records in process. Records are copied on the way in and
// out.
type MemoryStore struct {
	mu   sync.RWMutex
	runs map[string]RunRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{runs: make(map[string]RunRecord)}
}

func (m *MemoryStore) Save(_ context.Context, rec RunRecord) error {
	if err := validate(rec); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[rec.ID] = clone(rec)
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (RunRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.runs[id]
	if !ok {
		return RunRecord{}, ErrNotFound
	}
	return clone(rec), nil
}

func (m *MemoryStore) List(_ context.Context, limit int) ([]RunRecord, error) {
	limit = normalizeLimit(limit)
	m.mu.RLock()
	out := make([]RunRecord, 0, len(m.runs))
	for _, rec := range m.runs {
		out = append(out, clone(rec))
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) Close() error { return nil }

func clone(rec RunRecord) RunRecord {
	out := rec
	out.Plan = append([]byte(nil), rec.Plan...)
	out.History = append(out.History[:0:0], rec.History...)
	if rec.FinishedAt != nil {
		t := *rec.FinishedAt
		out.FinishedAt = &t
	}
	return out
}
