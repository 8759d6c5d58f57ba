package store

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/inbox-sync/internal/model"
)

var stageRecordCols = []string{
	"id", "job_id", "account_id", "thread_id", "subject", "current_stage",
	"imported", "imported_at", "preprocessed", "preprocessed_at",
	"body_cleaned", "body_cleaned_at", "chunked", "chunked_at",
	"summarized", "summarized_at",
	"attempts", "next_retry_at", "claimed_at", "last_error", "raw_payload",
	"participants", "chunks", "summary", "message_count", "created_at", "updated_at",
}

func stageRecordRows(id string, stage model.Stage) *pgxmock.Rows {
	now := time.Now()
	return pgxmock.NewRows(stageRecordCols).AddRow(
		id, "job-1", "acc-1", "thr-1", "Renewal question", stage,
		false, nil, false, nil, false, nil, false, nil, false, nil,
		0, nil, nil, nil, []byte(`{"id":"thr-1"}`), nil, nil, nil, 0, now, now)
}

func TestPostgres_UpsertStageRecord_New(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(`INSERT INTO stage_records`).
		WithArgs(pgxmock.AnyArg(), "job-1", "acc-1", "thr-1", "Renewal question", []byte(`{}`)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	r := &model.StageRecord{
		JobID:      "job-1",
		AccountID:  "acc-1",
		ThreadID:   "thr-1",
		Subject:    "Renewal question",
		RawPayload: []byte(`{}`),
	}
	created, err := s.UpsertStageRecord(context.Background(), r)
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEmpty(t, r.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_UpsertStageRecord_ExistingRefreshesPayload(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(`INSERT INTO stage_records`).
		WithArgs(pgxmock.AnyArg(), "job-2", "acc-1", "thr-1", "Re: Renewal question", []byte(`{"v":2}`)).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	mock.ExpectExec(`SET subject = \$3, raw_payload = \$4`).
		WithArgs("acc-1", "thr-1", "Re: Renewal question", []byte(`{"v":2}`)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	r := &model.StageRecord{
		JobID:      "job-2",
		AccountID:  "acc-1",
		ThreadID:   "thr-1",
		Subject:    "Re: Renewal question",
		RawPayload: []byte(`{"v":2}`),
	}
	created, err := s.UpsertStageRecord(context.Background(), r)
	require.NoError(t, err)
	assert.False(t, created)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_ClaimNextStageRecord_ScopedToJob(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`WHERE job_id = \$1`).
		WithArgs("job-1").
		WillReturnRows(stageRecordRows("sr-1", model.StagePending))

	r, err := s.ClaimNextStageRecord(context.Background(), "job-1")
	require.NoError(t, err)
	require.NotNil(t, r)
	assert.Equal(t, "sr-1", r.ID)
	assert.Equal(t, []byte(`{"id":"thr-1"}`), r.RawPayload)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_ClaimNextStageRecord_Empty(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT id FROM stage_records`).
		WillReturnError(pgx.ErrNoRows)

	r, err := s.ClaimNextStageRecord(context.Background(), "")
	require.NoError(t, err)
	assert.Nil(t, r)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_MarkImported_GuardedByFlag(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(`SET imported = TRUE`).
		WithArgs("sr-1", pgxmock.AnyArg(), 5).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	// Second application matches no rows and stays silent.
	mock.ExpectExec(`SET imported = TRUE`).
		WithArgs("sr-1", pgxmock.AnyArg(), 5).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	parts := []model.Participant{{Email: "amy@acme.com"}}
	ctx := context.Background()
	require.NoError(t, s.MarkImported(ctx, "sr-1", parts, 5))
	require.NoError(t, s.MarkImported(ctx, "sr-1", parts, 5))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_MarkSummarized_WritesSummaryAndCompletes(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(`SET summarized = TRUE, summarized_at = now\(\), current_stage = 'completed'`).
		WithArgs("sr-1", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	summary := &model.ThreadSummary{ProblemStatement: "Customer asked about renewal pricing."}
	require.NoError(t, s.MarkSummarized(context.Background(), "sr-1", summary))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_FailStageRecord(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(`SET current_stage = 'failed'`).
		WithArgs("sr-1", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	detail := model.NewErrorDetail(model.ErrorClassPermanent, "stage.import", "bad payload")
	require.NoError(t, s.FailStageRecord(context.Background(), "sr-1", detail))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_RequeueFailedStageRecords_KeepsFlags(t *testing.T) {
	s, mock := newMockStore(t)

	// The reset must not mention stage flags; completed work survives.
	mock.ExpectExec(`SET current_stage = 'pending', attempts = 0`).
		WithArgs("job-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 2))

	n, err := s.RequeueFailedStageRecords(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_NonTerminalStageCount(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`NOT summarized AND current_stage <> 'failed'`).
		WithArgs("job-1").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(3))

	n, err := s.NonTerminalStageCount(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
