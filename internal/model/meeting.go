package model

import "time"

// MeetingStatus is the dispatcher state machine. Transitions into
// scheduling_in_progress happen only through the conditional-update claim.
type MeetingStatus string

const (
	MeetingStatusNew                  MeetingStatus = "new"
	MeetingStatusMissingURL           MeetingStatus = "missing_url"
	MeetingStatusPassedEvent          MeetingStatus = "passed_event"
	MeetingStatusSchedulingInProgress MeetingStatus = "scheduling_in_progress"
	MeetingStatusRescheduling         MeetingStatus = "rescheduling"
	MeetingStatusRecordingScheduled   MeetingStatus = "recording_scheduled"
	MeetingStatusError                MeetingStatus = "error"
)

// Schedulable reports whether the dispatcher may claim a meeting in this
// status.
func (s MeetingStatus) Schedulable() bool {
	return s == MeetingStatusNew || s == MeetingStatusRescheduling
}

// Meeting is one calendar event tracked for bot recording.
type Meeting struct {
	ID                string        `json:"id"`
	AccountID         string        `json:"account_id"`
	EventID           string        `json:"event_id"`
	CalendarID        string        `json:"calendar_id,omitempty"`
	Title             string        `json:"title"`
	MeetingURL        string        `json:"meeting_url,omitempty"`
	StartsAt          time.Time     `json:"starts_at"`
	EndsAt            *time.Time    `json:"ends_at,omitempty"`
	Organizer         string        `json:"organizer,omitempty"`
	Participants      []Participant `json:"participants,omitempty"`
	Status            MeetingStatus `json:"status"`
	BotID             string        `json:"bot_id,omitempty"`
	RetryCount        int           `json:"retry_count"`
	LastError         *ErrorDetail  `json:"last_error,omitempty"`
	NextRetryAt       *time.Time    `json:"next_retry_at,omitempty"`
	LastRescheduledAt *time.Time    `json:"last_rescheduled_at,omitempty"`
	CreatedAt         time.Time     `json:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at"`
}

// TargetStatus computes the schedulable status implied by the meeting's
// current URL and start time: no URL wins over timing, past events are
// never dispatched, everything else is ready.
func TargetStatus(meetingURL string, startsAt time.Time, now time.Time) MeetingStatus {
	if meetingURL == "" {
		return MeetingStatusMissingURL
	}
	if !startsAt.After(now) {
		return MeetingStatusPassedEvent
	}
	return MeetingStatusNew
}

// TranscriptionJob is created exactly once per successfully scheduled
// bot. Downstream transcription is handled outside this system.
type TranscriptionJob struct {
	ID        string    `json:"id"`
	MeetingID string    `json:"meeting_id"`
	BotID     string    `json:"bot_id"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
