package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/inbox-sync/internal/model"
)

const taskColumns = `id, stage_record_id, job_id, status, needs_map_reduce, attempts, next_retry_at, claimed_at, last_error, created_at, updated_at`

const claimSummarizationTaskSQL = `
	UPDATE summarization_tasks
	SET status = 'processing', claimed_at = now(), updated_at = now()
	WHERE id = (
		SELECT id FROM summarization_tasks
		WHERE status = 'pending'
		  AND (next_retry_at IS NULL OR next_retry_at <= now())
		ORDER BY created_at
		LIMIT 1
		FOR UPDATE SKIP LOCKED
	)
	RETURNING ` + taskColumns

func scanTask(row pgx.Row) (*model.SummarizationTask, error) {
	var (
		t        model.SummarizationTask
		errBytes []byte
	)
	err := row.Scan(&t.ID, &t.StageRecordID, &t.JobID, &t.Status, &t.NeedsMapReduce,
		&t.Attempts, &t.NextRetryAt, &t.ClaimedAt, &errBytes, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if t.LastError, err = unmarshalDetail(errBytes); err != nil {
		return nil, err
	}
	return &t, nil
}

// CreateSummarizationTask enqueues a conversation for summarization. The
// partial unique index on live tasks absorbs races between checkers: only
// one caller gets true, everyone else conflicts into a no-op.
func (s *Postgres) CreateSummarizationTask(ctx context.Context, recordID, jobID string, needsMapReduce bool) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO summarization_tasks (id, stage_record_id, job_id, status, needs_map_reduce)
		VALUES ($1, $2, $3, 'pending', $4)
		ON CONFLICT (stage_record_id) WHERE status IN ('pending', 'processing') DO NOTHING`,
		uuid.NewString(), recordID, jobID, needsMapReduce)
	if err != nil {
		return false, eris.Wrap(err, "store: create summarization task")
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Postgres) ClaimNextSummarizationTask(ctx context.Context) (*model.SummarizationTask, error) {
	t, err := scanTask(s.pool.QueryRow(ctx, claimSummarizationTaskSQL))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "store: claim summarization task")
	}
	return t, nil
}

func (s *Postgres) CompleteSummarizationTask(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE summarization_tasks
		SET status = 'completed', claimed_at = NULL, last_error = NULL, updated_at = now()
		WHERE id = $1`, id)
	if err != nil {
		return eris.Wrap(err, "store: complete summarization task")
	}
	return nil
}

// RetrySummarizationTask returns the task to pending with a retry horizon.
// It stays the record's live task, so no duplicate can be enqueued while it
// waits.
func (s *Postgres) RetrySummarizationTask(ctx context.Context, id string, attempts int, nextRetryAt time.Time, detail *model.ErrorDetail) error {
	errBytes, err := marshalJSONB(detail)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		UPDATE summarization_tasks
		SET status = 'pending', attempts = $2, next_retry_at = $3, claimed_at = NULL,
		    last_error = $4, updated_at = now()
		WHERE id = $1`, id, attempts, nextRetryAt, errBytes)
	if err != nil {
		return eris.Wrap(err, "store: retry summarization task")
	}
	return nil
}

func (s *Postgres) FailSummarizationTask(ctx context.Context, id string, detail *model.ErrorDetail) error {
	errBytes, err := marshalJSONB(detail)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		UPDATE summarization_tasks
		SET status = 'failed', claimed_at = NULL, last_error = $2, updated_at = now()
		WHERE id = $1`, id, errBytes)
	if err != nil {
		return eris.Wrap(err, "store: fail summarization task")
	}
	return nil
}

func (s *Postgres) LiveSummarizationTaskCount(ctx context.Context, jobID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `
		SELECT count(*) FROM summarization_tasks
		WHERE job_id = $1 AND status IN ('pending', 'processing')`, jobID).Scan(&n)
	if err != nil {
		return 0, eris.Wrap(err, "store: live summarization task count")
	}
	return n, nil
}

func (s *Postgres) SummarizationBacklog(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `
		SELECT count(*) FROM summarization_tasks WHERE status = 'pending'`).Scan(&n)
	if err != nil {
		return 0, eris.Wrap(err, "store: summarization backlog")
	}
	return n, nil
}

func (s *Postgres) RequeueStuckSummarizationTasks(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)
	tag, err := s.pool.Exec(ctx, `
		UPDATE summarization_tasks
		SET status = 'pending', claimed_at = NULL, updated_at = now()
		WHERE status = 'processing' AND claimed_at < $1`, cutoff)
	if err != nil {
		return 0, eris.Wrap(err, "store: requeue stuck summarization tasks")
	}
	return tag.RowsAffected(), nil
}
