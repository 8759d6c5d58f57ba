package meetings

import (
	"context"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/inbox-sync/internal/model"
	"github.com/sells-group/inbox-sync/internal/resilience"
	"github.com/sells-group/inbox-sync/pkg/recall"
)

// dispatchStore is the slice of the store the dispatcher needs.
type dispatchStore interface {
	NextSchedulableMeeting(ctx context.Context) (*model.Meeting, error)
	ClaimMeetingForScheduling(ctx context.Context, id string) (bool, error)
	MarkRecordingScheduled(ctx context.Context, id, botID string) (bool, error)
	ReleaseMeeting(ctx context.Context, id string, status model.MeetingStatus, retryCount int, nextRetryAt *time.Time, detail *model.ErrorDetail) error
	ClearMeetingBot(ctx context.Context, id string) error
	CreateTranscriptionJob(ctx context.Context, meetingID, botID string) (bool, error)
}

// Dispatcher schedules recording bots for claimed meetings. The claim
// CAS is the only mutual exclusion: N concurrent dispatchers produce one
// CreateBot call per meeting.
type Dispatcher struct {
	store  dispatchStore
	bots   recall.Client
	cfg    Config
	policy resilience.BackoffPolicy
	log    *zap.Logger
}

// NewDispatcher creates a meeting bot dispatcher.
func NewDispatcher(st dispatchStore, bots recall.Client, cfg Config, policy resilience.BackoffPolicy) *Dispatcher {
	return &Dispatcher{
		store:  st,
		bots:   bots,
		cfg:    cfg.withDefaults(),
		policy: policy,
		log:    zap.L().With(zap.String("component", "meeting-dispatcher")),
	}
}

// RunOnce claims and dispatches one schedulable meeting. Returns false
// when nothing is eligible. A lost claim still counts as work observed.
func (d *Dispatcher) RunOnce(ctx context.Context) (bool, error) {
	m, err := d.store.NextSchedulableMeeting(ctx)
	if err != nil {
		return false, eris.Wrap(err, "meetings: next schedulable")
	}
	if m == nil {
		return false, nil
	}

	won, err := d.store.ClaimMeetingForScheduling(ctx, m.ID)
	if err != nil {
		return false, eris.Wrap(err, "meetings: claim meeting")
	}
	if !won {
		return true, nil
	}
	return true, d.dispatch(ctx, m)
}

// dispatch runs one bot scheduling attempt for a claimed meeting. m holds
// the row as read before the claim; only this worker mutates it now.
func (d *Dispatcher) dispatch(ctx context.Context, m *model.Meeting) error {
	if m.Status == model.MeetingStatusRescheduling && m.BotID != "" {
		if err := d.bots.DeleteBot(ctx, m.BotID); err != nil {
			return d.releaseFailed(ctx, m, err, "delete_bot", model.MeetingStatusRescheduling)
		}
		if err := d.store.ClearMeetingBot(ctx, m.ID); err != nil {
			return eris.Wrap(err, "meetings: clear replaced bot")
		}
		d.log.Info("replaced bot deleted",
			zap.String("meeting_id", m.ID),
			zap.String("bot_id", m.BotID),
		)
		m.BotID = ""
	}

	if !validMeetingURL(m.MeetingURL) {
		detail := model.NewErrorDetail(model.ErrorClassValidation, "dispatch", "meeting has no usable join url")
		if err := d.store.ReleaseMeeting(ctx, m.ID, model.MeetingStatusMissingURL, m.RetryCount, nil, detail); err != nil {
			return eris.Wrap(err, "meetings: park missing url")
		}
		d.log.Warn("meeting has no usable join url",
			zap.String("meeting_id", m.ID),
			zap.String("url", m.MeetingURL),
		)
		return nil
	}

	joinAt := m.StartsAt.Add(-d.cfg.JoinOffset)
	bot, err := d.bots.CreateBot(ctx, recall.CreateBotRequest{
		MeetingURL: m.MeetingURL,
		BotName:    d.cfg.BotName,
		JoinAt:     &joinAt,
	})
	if err != nil {
		return d.releaseFailed(ctx, m, err, "create_bot", model.MeetingStatusNew)
	}

	won, err := d.store.MarkRecordingScheduled(ctx, m.ID, bot.ID)
	if err != nil {
		return eris.Wrap(err, "meetings: mark recording scheduled")
	}
	if !won {
		// A recovery sweep or a cancellation took the meeting while the
		// bot was being created. Whoever owns the row now schedules its
		// own bot, so withdraw this one.
		if derr := d.bots.DeleteBot(ctx, bot.ID); derr != nil {
			d.log.Warn("withdraw superseded bot failed",
				zap.String("meeting_id", m.ID),
				zap.String("bot_id", bot.ID),
				zap.Error(derr),
			)
		}
		d.log.Warn("dispatch superseded, bot withdrawn",
			zap.String("meeting_id", m.ID),
			zap.String("bot_id", bot.ID),
		)
		return nil
	}
	created, err := d.store.CreateTranscriptionJob(ctx, m.ID, bot.ID)
	if err != nil {
		return eris.Wrap(err, "meetings: create transcription job")
	}

	d.log.Info("recording scheduled",
		zap.String("meeting_id", m.ID),
		zap.String("bot_id", bot.ID),
		zap.Time("join_at", joinAt),
		zap.Bool("transcription_job_created", created),
	)
	return nil
}

// releaseFailed writes the planned outcome of a failed attempt back onto
// the meeting. retryTo is where a retryable meeting returns to.
func (d *Dispatcher) releaseFailed(ctx context.Context, m *model.Meeting, cause error, operation string, retryTo model.MeetingStatus) error {
	retries := m.RetryCount + 1
	plan := d.policy.Plan(cause, operation, retries)

	if !plan.Retry || retries >= d.cfg.MaxRetries {
		if err := d.store.ReleaseMeeting(ctx, m.ID, model.MeetingStatusError, retries, nil, plan.Detail); err != nil {
			return eris.Wrap(err, "meetings: release to error")
		}
		d.log.Error("meeting dispatch failed permanently",
			zap.String("meeting_id", m.ID),
			zap.String("operation", operation),
			zap.Int("retries", retries),
			zap.Error(cause),
		)
		return nil
	}

	if err := d.store.ReleaseMeeting(ctx, m.ID, retryTo, retries, &plan.NextRetryAt, plan.Detail); err != nil {
		return eris.Wrap(err, "meetings: release for retry")
	}
	d.log.Warn("meeting dispatch failed, retry scheduled",
		zap.String("meeting_id", m.ID),
		zap.String("operation", operation),
		zap.Int("retries", retries),
		zap.Time("next_retry_at", plan.NextRetryAt),
		zap.Error(cause),
	)
	return nil
}

func validMeetingURL(raw string) bool {
	if raw == "" {
		return false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
