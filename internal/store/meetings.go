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

const meetingColumns = `id, account_id, event_id, calendar_id, title, meeting_url,
	starts_at, ends_at, organizer, participants, status, bot_id,
	retry_count, last_error, next_retry_at, last_rescheduled_at, created_at, updated_at`

// nextSchedulableMeetingSQL picks a claim candidate. The claim itself is the
// conditional update in ClaimMeetingForScheduling; this read carries no lock.
const nextSchedulableMeetingSQL = `
	SELECT id, account_id, event_id, calendar_id, title, meeting_url,
	starts_at, ends_at, organizer, participants, status, bot_id,
	retry_count, last_error, next_retry_at, last_rescheduled_at, created_at, updated_at
	FROM meetings
	WHERE status IN ('new', 'rescheduling')
	  AND starts_at > now()
	  AND (next_retry_at IS NULL OR next_retry_at <= now())
	ORDER BY starts_at
	LIMIT 1`

func scanMeeting(row pgx.Row) (*model.Meeting, error) {
	var (
		m         model.Meeting
		partBytes []byte
		errBytes  []byte
	)
	err := row.Scan(&m.ID, &m.AccountID, &m.EventID, &m.CalendarID, &m.Title, &m.MeetingURL,
		&m.StartsAt, &m.EndsAt, &m.Organizer, &partBytes, &m.Status, &m.BotID,
		&m.RetryCount, &errBytes, &m.NextRetryAt, &m.LastRescheduledAt,
		&m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if m.Participants, err = unmarshalParticipants(partBytes); err != nil {
		return nil, err
	}
	if m.LastError, err = unmarshalDetail(errBytes); err != nil {
		return nil, err
	}
	return &m, nil
}

// CreateMeeting inserts the meeting unless (account, event) already exists.
// The caller re-reads the winner on conflict; there is no pre-check.
func (s *Postgres) CreateMeeting(ctx context.Context, m *model.Meeting) (bool, error) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.Status == "" {
		m.Status = model.MeetingStatusNew
	}
	partBytes, err := marshalJSONB(m.Participants)
	if err != nil {
		return false, err
	}
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO meetings (id, account_id, event_id, calendar_id, title, meeting_url,
			starts_at, ends_at, organizer, participants, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (account_id, event_id) DO NOTHING`,
		m.ID, m.AccountID, m.EventID, m.CalendarID, m.Title, m.MeetingURL,
		m.StartsAt, m.EndsAt, m.Organizer, partBytes, m.Status)
	if err != nil {
		return false, eris.Wrap(err, "store: create meeting")
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Postgres) GetMeeting(ctx context.Context, id string) (*model.Meeting, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+meetingColumns+` FROM meetings WHERE id = $1`, id)
	m, err := scanMeeting(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "store: get meeting")
	}
	return m, nil
}

func (s *Postgres) GetMeetingByEvent(ctx context.Context, accountID, eventID string) (*model.Meeting, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+meetingColumns+` FROM meetings WHERE account_id = $1 AND event_id = $2`,
		accountID, eventID)
	m, err := scanMeeting(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "store: get meeting by event")
	}
	return m, nil
}

func (s *Postgres) ListMeetings(ctx context.Context, f MeetingFilter) ([]*model.Meeting, error) {
	query := `SELECT ` + meetingColumns + ` FROM meetings WHERE 1=1`
	args := []any{}
	if f.AccountID != "" {
		args = append(args, f.AccountID)
		query += fmt.Sprintf(" AND account_id = $%d", len(args))
	}
	if f.Status != "" {
		args = append(args, f.Status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	query += " ORDER BY starts_at"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "store: list meetings")
	}
	defer rows.Close()

	var meetings []*model.Meeting
	for rows.Next() {
		m, err := scanMeeting(rows)
		if err != nil {
			return nil, eris.Wrap(err, "store: scan meeting")
		}
		meetings = append(meetings, m)
	}
	return meetings, rows.Err()
}

// UpdateMeetingDetails refreshes event fields from the calendar without
// touching status, bot, or retry state.
func (s *Postgres) UpdateMeetingDetails(ctx context.Context, m *model.Meeting) error {
	partBytes, err := marshalJSONB(m.Participants)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		UPDATE meetings
		SET calendar_id = $2, title = $3, meeting_url = $4, starts_at = $5, ends_at = $6,
		    organizer = $7, participants = $8, updated_at = now()
		WHERE id = $1`,
		m.ID, m.CalendarID, m.Title, m.MeetingURL, m.StartsAt, m.EndsAt,
		m.Organizer, partBytes)
	if err != nil {
		return eris.Wrap(err, "store: update meeting details")
	}
	return nil
}

func (s *Postgres) SetMeetingStatus(ctx context.Context, id string, status model.MeetingStatus) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE meetings SET status = $2, updated_at = now() WHERE id = $1`, id, status)
	if err != nil {
		return eris.Wrap(err, "store: set meeting status")
	}
	return nil
}

// ClaimMeetingForScheduling transitions a schedulable meeting to
// scheduling_in_progress. The affected row count is the only mutual
// exclusion between dispatchers: exactly one caller sees true.
func (s *Postgres) ClaimMeetingForScheduling(ctx context.Context, id string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE meetings
		SET status = 'scheduling_in_progress', updated_at = now()
		WHERE id = $1 AND status IN ('new', 'rescheduling')`, id)
	if err != nil {
		return false, eris.Wrap(err, "store: claim meeting")
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Postgres) NextSchedulableMeeting(ctx context.Context) (*model.Meeting, error) {
	m, err := scanMeeting(s.pool.QueryRow(ctx, nextSchedulableMeetingSQL))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "store: next schedulable meeting")
	}
	return m, nil
}

// MarkRecordingScheduled records a successful bot dispatch and resets the
// retry budget for any future reschedule cycle. The write is conditional
// on the claim still being held; false means a recovery sweep or a
// cancellation moved the meeting while the dispatch ran.
func (s *Postgres) MarkRecordingScheduled(ctx context.Context, id, botID string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE meetings
		SET status = 'recording_scheduled', bot_id = $2,
		    retry_count = 0, last_error = NULL, next_retry_at = NULL, updated_at = now()
		WHERE id = $1 AND status = 'scheduling_in_progress'`, id, botID)
	if err != nil {
		return false, eris.Wrap(err, "store: mark recording scheduled")
	}
	return tag.RowsAffected() > 0, nil
}

// ReleaseMeeting moves a claimed meeting back out of scheduling_in_progress
// after a dispatch attempt, recording the outcome status and retry state.
func (s *Postgres) ReleaseMeeting(ctx context.Context, id string, status model.MeetingStatus, retryCount int, nextRetryAt *time.Time, detail *model.ErrorDetail) error {
	errBytes, err := marshalJSONB(detail)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		UPDATE meetings
		SET status = $2, retry_count = $3, next_retry_at = $4, last_error = $5, updated_at = now()
		WHERE id = $1`, id, status, retryCount, nextRetryAt, errBytes)
	if err != nil {
		return eris.Wrap(err, "store: release meeting")
	}
	return nil
}

// MarkRescheduling moves recording_scheduled -> rescheduling. Returns false
// when the meeting is no longer in recording_scheduled, in which case the
// caller must not touch the bot.
func (s *Postgres) MarkRescheduling(ctx context.Context, id string, at time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE meetings
		SET status = 'rescheduling', last_rescheduled_at = $2, updated_at = now()
		WHERE id = $1 AND status = 'recording_scheduled'`, id, at)
	if err != nil {
		return false, eris.Wrap(err, "store: mark rescheduling")
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Postgres) ClearMeetingBot(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE meetings SET bot_id = '', updated_at = now() WHERE id = $1`, id)
	if err != nil {
		return eris.Wrap(err, "store: clear meeting bot")
	}
	return nil
}

// ListStuckMeetings finds meetings parked in a transient status longer than
// olderThan, for the recovery sweeps.
func (s *Postgres) ListStuckMeetings(ctx context.Context, status model.MeetingStatus, olderThan time.Duration) ([]*model.Meeting, error) {
	cutoff := time.Now().Add(-olderThan)
	rows, err := s.pool.Query(ctx, `
		SELECT `+meetingColumns+` FROM meetings WHERE status = $1 AND updated_at < $2`,
		status, cutoff)
	if err != nil {
		return nil, eris.Wrap(err, "store: list stuck meetings")
	}
	defer rows.Close()

	var meetings []*model.Meeting
	for rows.Next() {
		m, err := scanMeeting(rows)
		if err != nil {
			return nil, eris.Wrap(err, "store: scan stuck meeting")
		}
		meetings = append(meetings, m)
	}
	return meetings, rows.Err()
}

// ResetMeetingStatus moves a meeting between statuses only when it still
// holds the expected one, so a recovery sweep cannot clobber a live worker.
func (s *Postgres) ResetMeetingStatus(ctx context.Context, id string, from, to model.MeetingStatus) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE meetings SET status = $3, updated_at = now() WHERE id = $1 AND status = $2`,
		id, from, to)
	if err != nil {
		return false, eris.Wrap(err, "store: reset meeting status")
	}
	return tag.RowsAffected() > 0, nil
}

// CreateTranscriptionJob records the downstream job exactly once per
// (meeting, bot) pair.
func (s *Postgres) CreateTranscriptionJob(ctx context.Context, meetingID, botID string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO transcription_jobs (id, meeting_id, bot_id, status)
		VALUES ($1, $2, $3, 'pending')
		ON CONFLICT (meeting_id, bot_id) DO NOTHING`,
		uuid.NewString(), meetingID, botID)
	if err != nil {
		return false, eris.Wrap(err, "store: create transcription job")
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Postgres) CountMeetingsByStatus(ctx context.Context) (map[model.MeetingStatus]int, error) {
	rows, err := s.pool.Query(ctx, `SELECT status, count(*) FROM meetings GROUP BY status`)
	if err != nil {
		return nil, eris.Wrap(err, "store: count meetings by status")
	}
	defer rows.Close()

	counts := map[model.MeetingStatus]int{}
	for rows.Next() {
		var (
			status model.MeetingStatus
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, eris.Wrap(err, "store: scan meeting count")
		}
		counts[status] = n
	}
	return counts, rows.Err()
}
