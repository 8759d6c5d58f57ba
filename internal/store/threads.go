package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/inbox-sync/internal/model"
)

const stageColumns = `id, job_id, account_id, thread_id, subject, current_stage,
	imported, imported_at, preprocessed, preprocessed_at, body_cleaned, body_cleaned_at,
	chunked, chunked_at, summarized, summarized_at,
	attempts, next_retry_at, claimed_at, last_error, raw_payload, participants, chunks, summary,
	message_count, created_at, updated_at`

// claimStageRecordAnySQL claims the oldest record with pre-summarization
// work left, across all jobs.
const claimStageRecordAnySQL = `
	UPDATE stage_records
	SET claimed_at = now(), updated_at = now()
	WHERE id = (
		SELECT id FROM stage_records
		WHERE NOT chunked
		  AND current_stage <> 'failed'
		  AND claimed_at IS NULL
		  AND (next_retry_at IS NULL OR next_retry_at <= now())
		ORDER BY created_at
		LIMIT 1
		FOR UPDATE SKIP LOCKED
	)
	RETURNING ` + stageColumns

func scanStageRecord(row pgx.Row) (*model.StageRecord, error) {
	var (
		r            model.StageRecord
		errBytes     []byte
		partBytes    []byte
		chunkBytes   []byte
		summaryBytes []byte
	)
	err := row.Scan(&r.ID, &r.JobID, &r.AccountID, &r.ThreadID, &r.Subject, &r.CurrentStage,
		&r.Imported, &r.ImportedAt, &r.Preprocessed, &r.PreprocessedAt,
		&r.BodyCleaned, &r.BodyCleanedAt, &r.Chunked, &r.ChunkedAt,
		&r.Summarized, &r.SummarizedAt,
		&r.Attempts, &r.NextRetryAt, &r.ClaimedAt, &errBytes, &r.RawPayload,
		&partBytes, &chunkBytes, &summaryBytes,
		&r.MessageCount, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if r.LastError, err = unmarshalDetail(errBytes); err != nil {
		return nil, err
	}
	if r.Participants, err = unmarshalParticipants(partBytes); err != nil {
		return nil, err
	}
	if len(chunkBytes) > 0 {
		if err := json.Unmarshal(chunkBytes, &r.Chunks); err != nil {
			return nil, eris.Wrap(err, "store: unmarshal chunks")
		}
	}
	if len(summaryBytes) > 0 {
		r.Summary = &model.ThreadSummary{}
		if err := json.Unmarshal(summaryBytes, r.Summary); err != nil {
			return nil, eris.Wrap(err, "store: unmarshal summary")
		}
	}
	return &r, nil
}

// UpsertStageRecord inserts the record for (account, thread) or, when the
// thread is already tracked, refreshes its subject and raw payload. The
// refresh is skipped once the record is imported so a re-fetched page cannot
// clobber payload a worker already consumed. Stage flags are never written
// here. Returns true when a new row was created.
func (s *Postgres) UpsertStageRecord(ctx context.Context, r *model.StageRecord) (bool, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO stage_records (id, job_id, account_id, thread_id, subject, current_stage, raw_payload)
		VALUES ($1, $2, $3, $4, $5, 'pending', $6)
		ON CONFLICT (account_id, thread_id) DO NOTHING`,
		r.ID, r.JobID, r.AccountID, r.ThreadID, r.Subject, r.RawPayload)
	if err != nil {
		return false, eris.Wrap(err, "store: insert stage record")
	}
	if tag.RowsAffected() > 0 {
		return true, nil
	}

	_, err = s.pool.Exec(ctx, `
		UPDATE stage_records
		SET subject = $3, raw_payload = $4, updated_at = now()
		WHERE account_id = $1 AND thread_id = $2 AND NOT imported`,
		r.AccountID, r.ThreadID, r.Subject, r.RawPayload)
	if err != nil {
		return false, eris.Wrap(err, "store: refresh stage record")
	}
	return false, nil
}

func (s *Postgres) GetStageRecord(ctx context.Context, id string) (*model.StageRecord, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+stageColumns+` FROM stage_records WHERE id = $1`, id)
	r, err := scanStageRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "store: get stage record")
	}
	return r, nil
}

func (s *Postgres) GetStageRecordByThread(ctx context.Context, accountID, threadID string) (*model.StageRecord, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+stageColumns+` FROM stage_records WHERE account_id = $1 AND thread_id = $2`,
		accountID, threadID)
	r, err := scanStageRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "store: get stage record by thread")
	}
	return r, nil
}

func (s *Postgres) ListStageRecords(ctx context.Context, f StageFilter) ([]*model.StageRecord, error) {
	query := `SELECT ` + stageColumns + ` FROM stage_records WHERE 1=1`
	args := []any{}
	if f.JobID != "" {
		args = append(args, f.JobID)
		query += fmt.Sprintf(" AND job_id = $%d", len(args))
	}
	if f.AccountID != "" {
		args = append(args, f.AccountID)
		query += fmt.Sprintf(" AND account_id = $%d", len(args))
	}
	if f.Stage != "" {
		args = append(args, f.Stage)
		query += fmt.Sprintf(" AND current_stage = $%d", len(args))
	}
	query += " ORDER BY created_at"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "store: list stage records")
	}
	defer rows.Close()

	var records []*model.StageRecord
	for rows.Next() {
		r, err := scanStageRecord(rows)
		if err != nil {
			return nil, eris.Wrap(err, "store: scan stage record")
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

func (s *Postgres) ClaimNextStageRecord(ctx context.Context, jobID string) (*model.StageRecord, error) {
	query := claimStageRecordAnySQL
	args := []any{}
	if jobID != "" {
		query = `
	UPDATE stage_records
	SET claimed_at = now(), updated_at = now()
	WHERE id = (
		SELECT id FROM stage_records
		WHERE job_id = $1
		  AND NOT chunked
		  AND current_stage <> 'failed'
		  AND claimed_at IS NULL
		  AND (next_retry_at IS NULL OR next_retry_at <= now())
		ORDER BY created_at
		LIMIT 1
		FOR UPDATE SKIP LOCKED
	)
	RETURNING ` + stageColumns
		args = append(args, jobID)
	}

	r, err := scanStageRecord(s.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "store: claim stage record")
	}
	return r, nil
}

func (s *Postgres) ReleaseStageRecord(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE stage_records SET claimed_at = NULL, updated_at = now() WHERE id = $1`, id)
	if err != nil {
		return eris.Wrap(err, "store: release stage record")
	}
	return nil
}

// MarkImported records import completion. The NOT imported guard makes a
// duplicate application a no-op, so the flag never regresses.
func (s *Postgres) MarkImported(ctx context.Context, id string, participants []model.Participant, messageCount int) error {
	partBytes, err := marshalJSONB(participants)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		UPDATE stage_records
		SET imported = TRUE, imported_at = now(), current_stage = 'resolving',
		    participants = $2, message_count = $3,
		    attempts = 0, next_retry_at = NULL, last_error = NULL, updated_at = now()
		WHERE id = $1 AND NOT imported`, id, partBytes, messageCount)
	if err != nil {
		return eris.Wrap(err, "store: mark imported")
	}
	return nil
}

func (s *Postgres) MarkPreprocessed(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE stage_records
		SET preprocessed = TRUE, preprocessed_at = now(), current_stage = 'cleaning',
		    attempts = 0, next_retry_at = NULL, last_error = NULL, updated_at = now()
		WHERE id = $1 AND NOT preprocessed`, id)
	if err != nil {
		return eris.Wrap(err, "store: mark preprocessed")
	}
	return nil
}

func (s *Postgres) MarkBodyCleaned(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE stage_records
		SET body_cleaned = TRUE, body_cleaned_at = now(), current_stage = 'chunking',
		    attempts = 0, next_retry_at = NULL, last_error = NULL, updated_at = now()
		WHERE id = $1 AND NOT body_cleaned`, id)
	if err != nil {
		return eris.Wrap(err, "store: mark body cleaned")
	}
	return nil
}

func (s *Postgres) MarkChunked(ctx context.Context, id string, chunks []string) error {
	chunkBytes, err := marshalJSONB(chunks)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		UPDATE stage_records
		SET chunked = TRUE, chunked_at = now(), current_stage = 'summarizing', chunks = $2,
		    attempts = 0, next_retry_at = NULL, last_error = NULL, updated_at = now()
		WHERE id = $1 AND NOT chunked`, id, chunkBytes)
	if err != nil {
		return eris.Wrap(err, "store: mark chunked")
	}
	return nil
}

func (s *Postgres) MarkSummarized(ctx context.Context, id string, summary *model.ThreadSummary) error {
	summaryBytes, err := marshalJSONB(summary)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		UPDATE stage_records
		SET summarized = TRUE, summarized_at = now(), current_stage = 'completed', summary = $2,
		    attempts = 0, next_retry_at = NULL, last_error = NULL, claimed_at = NULL, updated_at = now()
		WHERE id = $1 AND NOT summarized`, id, summaryBytes)
	if err != nil {
		return eris.Wrap(err, "store: mark summarized")
	}
	return nil
}

func (s *Postgres) RetryStageRecord(ctx context.Context, id string, attempts int, nextRetryAt time.Time, detail *model.ErrorDetail) error {
	errBytes, err := marshalJSONB(detail)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		UPDATE stage_records
		SET attempts = $2, next_retry_at = $3, claimed_at = NULL, last_error = $4, updated_at = now()
		WHERE id = $1`, id, attempts, nextRetryAt, errBytes)
	if err != nil {
		return eris.Wrap(err, "store: retry stage record")
	}
	return nil
}

func (s *Postgres) FailStageRecord(ctx context.Context, id string, detail *model.ErrorDetail) error {
	errBytes, err := marshalJSONB(detail)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		UPDATE stage_records
		SET current_stage = 'failed', claimed_at = NULL, last_error = $2, updated_at = now()
		WHERE id = $1`, id, errBytes)
	if err != nil {
		return eris.Wrap(err, "store: fail stage record")
	}
	return nil
}

// RequeueFailedStageRecords resets failed records so workers pick them up
// from their first incomplete stage. Completed stage flags are kept, which
// is what makes the resumed run skip work already done.
func (s *Postgres) RequeueFailedStageRecords(ctx context.Context, jobID string) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE stage_records
		SET current_stage = 'pending', attempts = 0, next_retry_at = NULL,
		    claimed_at = NULL, last_error = NULL, updated_at = now()
		WHERE job_id = $1 AND current_stage = 'failed'`, jobID)
	if err != nil {
		return 0, eris.Wrap(err, "store: requeue failed stage records")
	}
	return tag.RowsAffected(), nil
}

func (s *Postgres) RequeueStuckStageRecords(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)
	tag, err := s.pool.Exec(ctx, `
		UPDATE stage_records
		SET claimed_at = NULL, updated_at = now()
		WHERE claimed_at IS NOT NULL AND claimed_at < $1`, cutoff)
	if err != nil {
		return 0, eris.Wrap(err, "store: requeue stuck stage records")
	}
	return tag.RowsAffected(), nil
}

// NonTerminalStageCount counts records still owed pipeline work. Zero is one
// of the three completion conditions for a job.
func (s *Postgres) NonTerminalStageCount(ctx context.Context, jobID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `
		SELECT count(*) FROM stage_records
		WHERE job_id = $1 AND NOT summarized AND current_stage <> 'failed'`, jobID).Scan(&n)
	if err != nil {
		return 0, eris.Wrap(err, "store: non-terminal stage count")
	}
	return n, nil
}

func (s *Postgres) FailedStageCount(ctx context.Context, jobID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `
		SELECT count(*) FROM stage_records
		WHERE job_id = $1 AND current_stage = 'failed'`, jobID).Scan(&n)
	if err != nil {
		return 0, eris.Wrap(err, "store: failed stage count")
	}
	return n, nil
}

func (s *Postgres) SummarizedStageCount(ctx context.Context, jobID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `
		SELECT count(*) FROM stage_records
		WHERE job_id = $1 AND summarized`, jobID).Scan(&n)
	if err != nil {
		return 0, eris.Wrap(err, "store: summarized stage count")
	}
	return n, nil
}

// CountStageRecordsByStage tallies records created since the cutoff, grouped
// by the stage they currently sit in.
func (s *Postgres) CountStageRecordsByStage(ctx context.Context, since time.Time) (map[model.Stage]int, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT current_stage, count(*) FROM stage_records WHERE created_at >= $1 GROUP BY current_stage`, since)
	if err != nil {
		return nil, eris.Wrap(err, "store: count stage records by stage")
	}
	defer rows.Close()

	counts := map[model.Stage]int{}
	for rows.Next() {
		var (
			stage model.Stage
			n     int
		)
		if err := rows.Scan(&stage, &n); err != nil {
			return nil, eris.Wrap(err, "store: scan stage count")
		}
		counts[stage] = n
	}
	return counts, rows.Err()
}
