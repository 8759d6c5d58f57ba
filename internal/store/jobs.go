package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/inbox-sync/internal/model"
)

const jobColumns = `id, account_id, sync_type, status, pages_total, pages_done, threads_total, threads_done, sync_from, last_error, started_at, completed_at, created_at, updated_at`

func scanJob(row pgx.Row) (*model.SyncJob, error) {
	var (
		j        model.SyncJob
		errBytes []byte
	)
	err := row.Scan(&j.ID, &j.AccountID, &j.SyncType, &j.Status,
		&j.PagesTotal, &j.PagesDone, &j.ThreadsTotal, &j.ThreadsDone,
		&j.SyncFrom, &errBytes, &j.StartedAt, &j.CompletedAt,
		&j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if j.LastError, err = unmarshalDetail(errBytes); err != nil {
		return nil, err
	}
	return &j, nil
}

func (s *Postgres) CreateJob(ctx context.Context, accountID string, syncType model.SyncType, syncFrom *time.Time) (*model.SyncJob, error) {
	id := uuid.NewString()
	row := s.pool.QueryRow(ctx, `
		INSERT INTO sync_jobs (id, account_id, sync_type, status, sync_from)
		VALUES ($1, $2, $3, 'pending', $4)
		RETURNING `+jobColumns,
		id, accountID, syncType, syncFrom)
	j, err := scanJob(row)
	if err != nil {
		return nil, eris.Wrap(err, "store: create job")
	}
	return j, nil
}

func (s *Postgres) GetJob(ctx context.Context, id string) (*model.SyncJob, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM sync_jobs WHERE id = $1`, id)
	j, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "store: get job")
	}
	return j, nil
}

func (s *Postgres) ListJobs(ctx context.Context, f JobFilter) ([]*model.SyncJob, error) {
	query := `SELECT ` + jobColumns + ` FROM sync_jobs WHERE 1=1`
	args := []any{}
	if f.AccountID != "" {
		args = append(args, f.AccountID)
		query += fmt.Sprintf(" AND account_id = $%d", len(args))
	}
	if f.Status != "" {
		args = append(args, f.Status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if !f.CreatedAfter.IsZero() {
		args = append(args, f.CreatedAfter)
		query += fmt.Sprintf(" AND created_at >= $%d", len(args))
	}
	query += " ORDER BY created_at DESC"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "store: list jobs")
	}
	defer rows.Close()

	var jobs []*model.SyncJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, eris.Wrap(err, "store: scan job")
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func (s *Postgres) RunningJobs(ctx context.Context) ([]*model.SyncJob, error) {
	return s.ListJobs(ctx, JobFilter{Status: model.JobStatusRunning})
}

func (s *Postgres) StartJob(ctx context.Context, id string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE sync_jobs
		SET status = 'running', started_at = now(), updated_at = now()
		WHERE id = $1 AND status = 'pending'`, id)
	if err != nil {
		return false, eris.Wrap(err, "store: start job")
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Postgres) SetJobSyncFrom(ctx context.Context, id string, from time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE sync_jobs SET sync_from = $2, updated_at = now() WHERE id = $1`, id, from)
	if err != nil {
		return eris.Wrap(err, "store: set job sync_from")
	}
	return nil
}

// SetPagesTotal raises the discovered page count. GREATEST keeps a
// retried earlier page from shrinking a total a later page already set.
func (s *Postgres) SetPagesTotal(ctx context.Context, id string, n int) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE sync_jobs SET pages_total = GREATEST(pages_total, $2), updated_at = now() WHERE id = $1`, id, n)
	if err != nil {
		return eris.Wrap(err, "store: set pages total")
	}
	return nil
}

func (s *Postgres) IncrementPagesDone(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE sync_jobs SET pages_done = pages_done + 1, updated_at = now() WHERE id = $1`, id)
	if err != nil {
		return eris.Wrap(err, "store: increment pages done")
	}
	return nil
}

func (s *Postgres) AddThreadsTotal(ctx context.Context, id string, n int) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE sync_jobs SET threads_total = threads_total + $2, updated_at = now() WHERE id = $1`, id, n)
	if err != nil {
		return eris.Wrap(err, "store: add threads total")
	}
	return nil
}

func (s *Postgres) IncrementThreadsDone(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE sync_jobs SET threads_done = threads_done + 1, updated_at = now() WHERE id = $1`, id)
	if err != nil {
		return eris.Wrap(err, "store: increment threads done")
	}
	return nil
}

func (s *Postgres) CompleteJob(ctx context.Context, id string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE sync_jobs
		SET status = 'completed', completed_at = now(), updated_at = now()
		WHERE id = $1 AND status = 'running'`, id)
	if err != nil {
		return false, eris.Wrap(err, "store: complete job")
	}
	return tag.RowsAffected() > 0, nil
}

// RestartJob moves a failed job back to running so the checker resumes
// closing it out once its requeued children finish. Returns false when
// the job is not failed.
func (s *Postgres) RestartJob(ctx context.Context, id string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE sync_jobs
		SET status = 'running', completed_at = NULL, last_error = NULL, updated_at = now()
		WHERE id = $1 AND status = 'failed'`, id)
	if err != nil {
		return false, eris.Wrap(err, "store: restart job")
	}
	return tag.RowsAffected() > 0, nil
}

// CountJobsByStatus tallies jobs created since the cutoff, grouped by
// status.
func (s *Postgres) CountJobsByStatus(ctx context.Context, since time.Time) (map[model.JobStatus]int, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT status, count(*) FROM sync_jobs WHERE created_at >= $1 GROUP BY status`, since)
	if err != nil {
		return nil, eris.Wrap(err, "store: count jobs by status")
	}
	defer rows.Close()

	counts := map[model.JobStatus]int{}
	for rows.Next() {
		var (
			status model.JobStatus
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, eris.Wrap(err, "store: scan job count")
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

func (s *Postgres) FailJob(ctx context.Context, id string, detail *model.ErrorDetail) (bool, error) {
	errBytes, err := marshalJSONB(detail)
	if err != nil {
		return false, err
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE sync_jobs
		SET status = 'failed', last_error = $2, completed_at = now(), updated_at = now()
		WHERE id = $1 AND status IN ('pending', 'running')`, id, errBytes)
	if err != nil {
		return false, eris.Wrap(err, "store: fail job")
	}
	return tag.RowsAffected() > 0, nil
}
