package store

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mpetrunic88/webrover/api/schemas"
)

func newMockStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return newWithDB(mock, zap.NewNop()), mock
}

func sampleResult() *schemas.WorkflowResult {
	return &schemas.WorkflowResult{
		ID:        "wf-123",
		Kind:      schemas.WorkflowNavigateExtract,
		URL:       "https://example.com/",
		Success:   true,
		StartedAt: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
		Duration:  1500 * time.Millisecond,
	}
}

func TestSaveWorkflowResult(t *testing.T) {
	s, mock := newMockStore(t)
	result := sampleResult()

	mock.ExpectExec("INSERT INTO workflow_results").
		WithArgs(result.ID, "session-1", "navigate_and_extract", result.URL, true,
			result.StartedAt, int64(1500), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.SaveWorkflowResult(context.Background(), "session-1", result))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveWorkflowResultError(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO workflow_results").
		WillReturnError(assert.AnError)

	err := s.SaveWorkflowResult(context.Background(), "session-1", sampleResult())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to save workflow result")
}

func TestSaveHistory(t *testing.T) {
	s, mock := newMockStore(t)
	ts := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	entries := []schemas.HistoryEntry{
		{
			Action: schemas.Action{Type: schemas.ActionNavigate, Timestamp: ts},
			Result: schemas.ActionResult{Success: true},
		},
		{
			Action: schemas.Action{Type: schemas.ActionClick, Timestamp: ts},
			Result: schemas.ActionResult{Success: false, Error: "no such element"},
		},
	}

	mock.ExpectExec("INSERT INTO action_history").
		WithArgs("session-1", 0, "navigate", true, ts, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO action_history").
		WithArgs("session-1", 1, "click", false, ts, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.SaveHistory(context.Background(), "session-1", entries))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWorkflowResults(t *testing.T) {
	s, mock := newMockStore(t)
	payload := `{"id":"wf-123","workflow":"navigate_and_extract","success":true,"started_at":"2024-06-01T12:00:00Z","duration":1500000000}`

	mock.ExpectQuery("SELECT payload FROM workflow_results").
		WithArgs("session-1").
		WillReturnRows(pgxmock.NewRows([]string{"payload"}).AddRow([]byte(payload)))

	results, err := s.WorkflowResults(context.Background(), "session-1")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "wf-123", results[0].ID)
	assert.Equal(t, schemas.WorkflowNavigateExtract, results[0].Kind)
	assert.True(t, results[0].Success)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWorkflowResultsQueryError(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("SELECT payload FROM workflow_results").
		WithArgs("session-1").
		WillReturnError(assert.AnError)

	_, err := s.WorkflowResults(context.Background(), "session-1")
	require.Error(t, err)
}
