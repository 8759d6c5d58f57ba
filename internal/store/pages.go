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

const pageColumns = `id, job_id, page_number, idempotency_key, page_token, status, attempts, next_retry_at, claimed_at, last_error, created_at, updated_at`

// claimPageTaskSQL claims the oldest runnable page task. SKIP LOCKED keeps
// concurrent workers from blocking on each other's claims.
const claimPageTaskSQL = `
	UPDATE page_tasks
	SET status = 'processing', claimed_at = now(), updated_at = now()
	WHERE id = (
		SELECT id FROM page_tasks
		WHERE status IN ('pending', 'retrying')
		  AND (next_retry_at IS NULL OR next_retry_at <= now())
		ORDER BY created_at
		LIMIT 1
		FOR UPDATE SKIP LOCKED
	)
	RETURNING ` + pageColumns

func scanPageTask(row pgx.Row) (*model.PageTask, error) {
	var (
		p        model.PageTask
		errBytes []byte
	)
	err := row.Scan(&p.ID, &p.JobID, &p.PageNumber, &p.IdempotencyKey, &p.PageToken,
		&p.Status, &p.Attempts, &p.NextRetryAt, &p.ClaimedAt, &errBytes,
		&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if p.LastError, err = unmarshalDetail(errBytes); err != nil {
		return nil, err
	}
	return &p, nil
}

// CreatePageTask inserts a page task. The idempotency key makes duplicate
// enqueues of the same page a no-op; returns true only when the row is new.
func (s *Postgres) CreatePageTask(ctx context.Context, jobID string, pageNumber int, pageToken string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO page_tasks (id, job_id, page_number, idempotency_key, page_token, status)
		VALUES ($1, $2, $3, $4, $5, 'pending')
		ON CONFLICT (idempotency_key) DO NOTHING`,
		uuid.NewString(), jobID, pageNumber, model.PageIdempotencyKey(jobID, pageNumber), pageToken)
	if err != nil {
		return false, eris.Wrap(err, "store: create page task")
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Postgres) ClaimNextPageTask(ctx context.Context) (*model.PageTask, error) {
	p, err := scanPageTask(s.pool.QueryRow(ctx, claimPageTaskSQL))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "store: claim page task")
	}
	return p, nil
}

func (s *Postgres) CompletePageTask(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE page_tasks
		SET status = 'completed', claimed_at = NULL, last_error = NULL, updated_at = now()
		WHERE id = $1`, id)
	if err != nil {
		return eris.Wrap(err, "store: complete page task")
	}
	return nil
}

func (s *Postgres) RetryPageTask(ctx context.Context, id string, attempts int, nextRetryAt time.Time, detail *model.ErrorDetail) error {
	errBytes, err := marshalJSONB(detail)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		UPDATE page_tasks
		SET status = 'retrying', attempts = $2, next_retry_at = $3, claimed_at = NULL,
		    last_error = $4, updated_at = now()
		WHERE id = $1`, id, attempts, nextRetryAt, errBytes)
	if err != nil {
		return eris.Wrap(err, "store: retry page task")
	}
	return nil
}

func (s *Postgres) FailPageTask(ctx context.Context, id string, attempts int, detail *model.ErrorDetail) error {
	errBytes, err := marshalJSONB(detail)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		UPDATE page_tasks
		SET status = 'failed', attempts = $2, claimed_at = NULL, last_error = $3, updated_at = now()
		WHERE id = $1`, id, attempts, errBytes)
	if err != nil {
		return eris.Wrap(err, "store: fail page task")
	}
	return nil
}

func (s *Postgres) ListPageTasks(ctx context.Context, jobID string) ([]*model.PageTask, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+pageColumns+` FROM page_tasks WHERE job_id = $1 ORDER BY page_number`, jobID)
	if err != nil {
		return nil, eris.Wrap(err, "store: list page tasks")
	}
	defer rows.Close()

	var tasks []*model.PageTask
	for rows.Next() {
		p, err := scanPageTask(rows)
		if err != nil {
			return nil, eris.Wrap(err, "store: scan page task")
		}
		tasks = append(tasks, p)
	}
	return tasks, rows.Err()
}

func (s *Postgres) PageCounts(ctx context.Context, jobID string) (map[model.PageStatus]int, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT status, count(*) FROM page_tasks WHERE job_id = $1 GROUP BY status`, jobID)
	if err != nil {
		return nil, eris.Wrap(err, "store: page counts")
	}
	defer rows.Close()

	counts := map[model.PageStatus]int{}
	for rows.Next() {
		var (
			status model.PageStatus
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, eris.Wrap(err, "store: scan page count")
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// RequeueFailedPageTasks resets a job's failed page tasks for another
// attempt: fresh attempt budget, error cleared, back to pending.
func (s *Postgres) RequeueFailedPageTasks(ctx context.Context, jobID string) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE page_tasks
		SET status = 'pending', attempts = 0, next_retry_at = NULL,
		    claimed_at = NULL, last_error = NULL, updated_at = now()
		WHERE job_id = $1 AND status = 'failed'`, jobID)
	if err != nil {
		return 0, eris.Wrap(err, "store: requeue failed page tasks")
	}
	return tag.RowsAffected(), nil
}

// RequeueStuckPageTasks returns to the queue any task claimed longer than
// olderThan ago without reaching a terminal status.
func (s *Postgres) RequeueStuckPageTasks(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)
	tag, err := s.pool.Exec(ctx, `
		UPDATE page_tasks
		SET status = 'retrying', claimed_at = NULL, updated_at = now()
		WHERE status = 'processing' AND claimed_at < $1`, cutoff)
	if err != nil {
		return 0, eris.Wrap(err, "store: requeue stuck page tasks")
	}
	return tag.RowsAffected(), nil
}
