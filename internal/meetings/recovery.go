package meetings

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/inbox-sync/internal/model"
	"github.com/sells-group/inbox-sync/pkg/recall"
)

// recoveryStore is the slice of the store the recoverer needs.
type recoveryStore interface {
	ListStuckMeetings(ctx context.Context, status model.MeetingStatus, olderThan time.Duration) ([]*model.Meeting, error)
	ResetMeetingStatus(ctx context.Context, id string, from, to model.MeetingStatus) (bool, error)
	ClearMeetingBot(ctx context.Context, id string) error
}

// Recoverer unsticks meetings abandoned mid-transition by a crashed or
// wedged dispatcher. Resets are conditional on the stuck status so a
// worker that woke back up is never clobbered.
type Recoverer struct {
	store recoveryStore
	bots  recall.Client
	cfg   Config
	log   *zap.Logger
}

// NewRecoverer creates a stuck-meeting recoverer.
func NewRecoverer(st recoveryStore, bots recall.Client, cfg Config) *Recoverer {
	return &Recoverer{
		store: st,
		bots:  bots,
		cfg:   cfg.withDefaults(),
		log:   zap.L().With(zap.String("component", "meeting-recovery")),
	}
}

// RunOnce sweeps both stuck statuses and returns how many meetings were
// reset. Per-meeting failures are logged and skipped so one bad row
// cannot wedge the sweep.
func (r *Recoverer) RunOnce(ctx context.Context) (int, error) {
	reset, err := r.sweepScheduling(ctx)
	if err != nil {
		return reset, err
	}
	n, err := r.sweepRescheduling(ctx)
	return reset + n, err
}

func (r *Recoverer) sweepScheduling(ctx context.Context) (int, error) {
	stuck, err := r.store.ListStuckMeetings(ctx, model.MeetingStatusSchedulingInProgress, r.cfg.StuckScheduling)
	if err != nil {
		return 0, eris.Wrap(err, "meetings: list stuck scheduling")
	}

	reset := 0
	now := time.Now().UTC()
	for _, m := range stuck {
		target := model.TargetStatus(m.MeetingURL, m.StartsAt, now)
		moved, err := r.store.ResetMeetingStatus(ctx, m.ID, model.MeetingStatusSchedulingInProgress, target)
		if err != nil {
			r.log.Warn("reset stuck dispatch failed",
				zap.String("meeting_id", m.ID),
				zap.Error(err),
			)
			continue
		}
		if moved {
			r.log.Warn("stuck dispatch reset",
				zap.String("meeting_id", m.ID),
				zap.String("to", string(target)),
				zap.Time("starts_at", m.StartsAt),
			)
			reset++
		}
	}
	return reset, nil
}

func (r *Recoverer) sweepRescheduling(ctx context.Context) (int, error) {
	stuck, err := r.store.ListStuckMeetings(ctx, model.MeetingStatusRescheduling, r.cfg.StuckRescheduling)
	if err != nil {
		return 0, eris.Wrap(err, "meetings: list stuck rescheduling")
	}

	reset := 0
	now := time.Now().UTC()
	for _, m := range stuck {
		if m.BotID != "" {
			if err := r.bots.DeleteBot(ctx, m.BotID); err != nil {
				r.log.Warn("delete orphan bot failed",
					zap.String("meeting_id", m.ID),
					zap.String("bot_id", m.BotID),
					zap.Error(err),
				)
			} else if err := r.store.ClearMeetingBot(ctx, m.ID); err != nil {
				r.log.Warn("clear orphan bot failed",
					zap.String("meeting_id", m.ID),
					zap.Error(err),
				)
				continue
			}
		}

		target := model.TargetStatus(m.MeetingURL, m.StartsAt, now)
		moved, err := r.store.ResetMeetingStatus(ctx, m.ID, model.MeetingStatusRescheduling, target)
		if err != nil {
			r.log.Warn("reset stuck reschedule failed",
				zap.String("meeting_id", m.ID),
				zap.Error(err),
			)
			continue
		}
		if moved {
			r.log.Warn("stuck reschedule reset",
				zap.String("meeting_id", m.ID),
				zap.String("to", string(target)),
			)
			reset++
		}
	}
	return reset, nil
}
