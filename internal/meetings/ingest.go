// Package meetings tracks calendar events and drives the recording bot
// state machine. The ingestor folds calendar changes into meeting rows,
// the dispatcher schedules bots for upcoming meetings, and the recoverer
// unsticks rows abandoned mid-transition.
package meetings

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/inbox-sync/internal/model"
	"github.com/sells-group/inbox-sync/pkg/nylas"
	"github.com/sells-group/inbox-sync/pkg/recall"
)

// Config holds the dispatcher state machine knobs.
type Config struct {
	// JoinOffset is how far before the start time the bot joins.
	JoinOffset time.Duration
	// Debounce suppresses repeated reschedules of one meeting.
	Debounce time.Duration
	// StuckScheduling is the recovery window for scheduling_in_progress.
	StuckScheduling time.Duration
	// StuckRescheduling is the recovery window for rescheduling.
	StuckRescheduling time.Duration
	// MaxRetries caps dispatch attempts before the meeting goes to error.
	MaxRetries int
	// BotName is the display name the bot joins with.
	BotName string
}

// DefaultConfig returns the standard dispatcher knobs.
func DefaultConfig() Config {
	return Config{
		JoinOffset:        2 * time.Minute,
		Debounce:          5 * time.Minute,
		StuckScheduling:   15 * time.Minute,
		StuckRescheduling: 10 * time.Minute,
		MaxRetries:        3,
		BotName:           "Notetaker",
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.JoinOffset <= 0 {
		c.JoinOffset = def.JoinOffset
	}
	if c.Debounce <= 0 {
		c.Debounce = def.Debounce
	}
	if c.StuckScheduling <= 0 {
		c.StuckScheduling = def.StuckScheduling
	}
	if c.StuckRescheduling <= 0 {
		c.StuckRescheduling = def.StuckRescheduling
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = def.MaxRetries
	}
	if c.BotName == "" {
		c.BotName = def.BotName
	}
	return c
}

// ingestStore is the slice of the store the ingestor needs.
type ingestStore interface {
	CreateMeeting(ctx context.Context, m *model.Meeting) (bool, error)
	GetMeetingByEvent(ctx context.Context, accountID, eventID string) (*model.Meeting, error)
	UpdateMeetingDetails(ctx context.Context, m *model.Meeting) error
	SetMeetingStatus(ctx context.Context, id string, status model.MeetingStatus) error
	MarkRescheduling(ctx context.Context, id string, at time.Time) (bool, error)
	ClearMeetingBot(ctx context.Context, id string) error
}

// Ingestor folds calendar event changes into meeting rows.
type Ingestor struct {
	store ingestStore
	bots  recall.Client
	cfg   Config
	log   *zap.Logger
	now   func() time.Time
}

// NewIngestor creates a calendar ingestor.
func NewIngestor(st ingestStore, bots recall.Client, cfg Config) *Ingestor {
	return &Ingestor{
		store: st,
		bots:  bots,
		cfg:   cfg.withDefaults(),
		log:   zap.L().With(zap.String("component", "meeting-ingest")),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// HandleEventChange applies one calendar event notification. Malformed
// events are logged and dropped; a repeated notification for the same
// state is a no-op.
func (in *Ingestor) HandleEventChange(ctx context.Context, accountID string, ev *nylas.Event) error {
	if ev == nil || ev.ID == "" || ev.When.StartTime == 0 {
		in.log.Warn("dropping malformed calendar event",
			zap.String("account_id", accountID),
		)
		return nil
	}

	if ev.Status == "cancelled" {
		return in.handleCancelled(ctx, accountID, ev)
	}

	now := in.now()
	m := meetingFromEvent(accountID, ev)
	m.Status = model.TargetStatus(m.MeetingURL, m.StartsAt, now)

	created, err := in.store.CreateMeeting(ctx, m)
	if err != nil {
		return eris.Wrap(err, "meetings: create meeting")
	}
	if created {
		in.log.Info("meeting tracked",
			zap.String("meeting_id", m.ID),
			zap.String("event_id", ev.ID),
			zap.String("status", string(m.Status)),
			zap.Time("starts_at", m.StartsAt),
		)
		return nil
	}

	existing, err := in.store.GetMeetingByEvent(ctx, accountID, ev.ID)
	if err != nil {
		return eris.Wrap(err, "meetings: reread meeting")
	}
	if existing == nil {
		return eris.Errorf("meetings: event %s conflicted but has no row", ev.ID)
	}
	return in.applyChange(ctx, existing, m, now)
}

// applyChange updates an existing meeting from fresh event fields and
// decides whether the change warrants redoing the bot.
func (in *Ingestor) applyChange(ctx context.Context, existing, fresh *model.Meeting, now time.Time) error {
	reschedulable := fresh.MeetingURL != existing.MeetingURL ||
		!fresh.StartsAt.Equal(existing.StartsAt) ||
		fresh.Title != existing.Title

	fresh.ID = existing.ID
	if err := in.store.UpdateMeetingDetails(ctx, fresh); err != nil {
		return eris.Wrap(err, "meetings: update details")
	}
	if !reschedulable {
		return nil
	}

	if existing.Status == model.MeetingStatusRecordingScheduled {
		if existing.LastRescheduledAt != nil && now.Sub(*existing.LastRescheduledAt) < in.cfg.Debounce {
			in.log.Info("reschedule debounced",
				zap.String("meeting_id", existing.ID),
				zap.Time("last_rescheduled_at", *existing.LastRescheduledAt),
			)
			return nil
		}
		moved, err := in.store.MarkRescheduling(ctx, existing.ID, now)
		if err != nil {
			return eris.Wrap(err, "meetings: mark rescheduling")
		}
		if moved {
			in.log.Info("meeting rescheduling",
				zap.String("meeting_id", existing.ID),
				zap.Time("starts_at", fresh.StartsAt),
			)
		}
		return nil
	}

	// Meetings mid-dispatch or already errored keep their status; the
	// dispatcher and recovery sweeps own those transitions.
	switch existing.Status {
	case model.MeetingStatusNew, model.MeetingStatusMissingURL, model.MeetingStatusPassedEvent:
		target := model.TargetStatus(fresh.MeetingURL, fresh.StartsAt, now)
		if target != existing.Status {
			if err := in.store.SetMeetingStatus(ctx, existing.ID, target); err != nil {
				return eris.Wrap(err, "meetings: retarget status")
			}
			in.log.Info("meeting retargeted",
				zap.String("meeting_id", existing.ID),
				zap.String("from", string(existing.Status)),
				zap.String("to", string(target)),
			)
		}
	}
	return nil
}

// handleCancelled cancels any scheduled bot and parks the meeting.
func (in *Ingestor) handleCancelled(ctx context.Context, accountID string, ev *nylas.Event) error {
	existing, err := in.store.GetMeetingByEvent(ctx, accountID, ev.ID)
	if err != nil {
		return eris.Wrap(err, "meetings: load cancelled meeting")
	}
	if existing == nil {
		return nil
	}

	if existing.BotID != "" {
		if err := in.bots.DeleteBot(ctx, existing.BotID); err != nil {
			in.log.Warn("cancel bot failed",
				zap.String("meeting_id", existing.ID),
				zap.String("bot_id", existing.BotID),
				zap.Error(err),
			)
		} else if err := in.store.ClearMeetingBot(ctx, existing.ID); err != nil {
			return eris.Wrap(err, "meetings: clear cancelled bot")
		}
	}

	if err := in.store.SetMeetingStatus(ctx, existing.ID, model.MeetingStatusPassedEvent); err != nil {
		return eris.Wrap(err, "meetings: park cancelled meeting")
	}
	in.log.Info("meeting cancelled",
		zap.String("meeting_id", existing.ID),
		zap.String("event_id", ev.ID),
	)
	return nil
}

func meetingFromEvent(accountID string, ev *nylas.Event) *model.Meeting {
	m := &model.Meeting{
		AccountID:  accountID,
		EventID:    ev.ID,
		CalendarID: ev.CalendarID,
		Title:      ev.Title,
		MeetingURL: ev.MeetingURL(),
		StartsAt:   time.Unix(ev.When.StartTime, 0).UTC(),
		Organizer:  ev.Organizer.Email,
	}
	if ev.When.EndTime > 0 {
		ends := time.Unix(ev.When.EndTime, 0).UTC()
		m.EndsAt = &ends
	}
	for _, p := range ev.Participants {
		if p.Email == "" {
			continue
		}
		m.Participants = append(m.Participants, model.Participant{Email: p.Email, Name: p.Name})
	}
	return m
}
