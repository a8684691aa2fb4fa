package store

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var runColumns = []string{"id", "objective", "status", "failure_kind", "error", "answer", "iterations", "plan", "history", "created_at", "finished_at"}

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return &PostgresStore{DB: db}, mock
}

func TestPostgresSaveUpserts(t *testing.T) {
	st, mock := newMockStore(t)
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rec := sampleRecord("run-1", created)

	mock.ExpectExec(regexp.QuoteMeta(upsertRun)).
		WithArgs(rec.ID, rec.Objective, "done", "", "", rec.Answer, 1,
			[]byte(`{"steps":[]}`), []byte(`[{"instruction":"call tool T with Y","observation":"result R"}]`),
			created, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, st.Save(context.Background(), rec))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSaveDefaultsEmptyPlanAndHistory(t *testing.T) {
	st, mock := newMockStore(t)
	created := time.Now()
	rec := RunRecord{ID: "run-2", Objective: "X?", Status: StatusQueued, CreatedAt: created}

	mock.ExpectExec(regexp.QuoteMeta(upsertRun)).
		WithArgs("run-2", "X?", "queued", "", "", "", 0, []byte(`{"steps":[]}`), []byte(`[]`), created, sql.NullTime{}).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, st.Save(context.Background(), rec))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGet(t *testing.T) {
	st, mock := newMockStore(t)
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	finished := created.Add(time.Second)

	mock.ExpectQuery(regexp.QuoteMeta(selectRuns + "WHERE id = $1")).
		WithArgs("run-1").
		WillReturnRows(sqlmock.NewRows(runColumns).AddRow(
			"run-1", "X?", "done", "", "", "Answer based on R", 1,
			[]byte(`{"steps":[]}`), []byte(`[{"instruction":"call tool T with Y","observation":"result R"}]`),
			created, finished))

	got, err := st.Get(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, sampleRecord("run-1", created), got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetNotFound(t *testing.T) {
	st, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta(selectRuns + "WHERE id = $1")).
		WithArgs("nope").
		WillReturnRows(sqlmock.NewRows(runColumns))

	_, err := st.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgresList(t *testing.T) {
	st, mock := newMockStore(t)
	now := time.Now().UTC()
	mock.ExpectQuery(regexp.QuoteMeta(selectRuns + "ORDER BY created_at DESC LIMIT $1")).
		WithArgs(defaultListLimit).
		WillReturnRows(sqlmock.NewRows(runColumns).
			AddRow("b", "Y?", "failed", "PlanFormatError", "bad plan", "", 0, []byte(`{"steps":[]}`), []byte(`[]`), now, now).
			AddRow("a", "X?", "running", "", "", "", 0, []byte(`{"steps":[]}`), []byte(`[]`), now.Add(-time.Minute), nil))

	list, err := st.List(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, StatusFailed, list[0].Status)
	assert.Equal(t, "PlanFormatError", list[0].FailureKind)
	assert.Nil(t, list[1].FinishedAt)
	assert.Empty(t, list[1].History)
	require.NoError(t, mock.ExpectationsWereMet())
}
