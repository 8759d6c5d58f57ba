package nylas

// EmailName is one address on a thread, message, or event.
type EmailName struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

// Thread is one conversation as returned by GET /v3/grants/{grant}/threads.
type Thread struct {
	ID                        string      `json:"id"`
	GrantID                   string      `json:"grant_id"`
	Subject                   string      `json:"subject"`
	Snippet                   string      `json:"snippet,omitempty"`
	Participants              []EmailName `json:"participants,omitempty"`
	MessageIDs                []string    `json:"message_ids,omitempty"`
	Unread                    bool        `json:"unread"`
	LatestMessageReceivedDate int64       `json:"latest_message_received_date"`
}

// Message is one email as returned by GET /v3/grants/{grant}/messages.
type Message struct {
	ID       string      `json:"id"`
	GrantID  string      `json:"grant_id"`
	ThreadID string      `json:"thread_id"`
	Subject  string      `json:"subject"`
	From     []EmailName `json:"from,omitempty"`
	To       []EmailName `json:"to,omitempty"`
	CC       []EmailName `json:"cc,omitempty"`
	ReplyTo  []EmailName `json:"reply_to,omitempty"`
	Date     int64       `json:"date"`
	Snippet  string      `json:"snippet,omitempty"`
	Body     string      `json:"body,omitempty"`
}

// EventWhen carries event timing as unix seconds.
type EventWhen struct {
	StartTime int64 `json:"start_time"`
	EndTime   int64 `json:"end_time"`
}

// ConferencingDetails holds the join link for an event.
type ConferencingDetails struct {
	URL string `json:"url,omitempty"`
}

// Conferencing describes the meeting provider attached to an event.
type Conferencing struct {
	Provider string              `json:"provider,omitempty"`
	Details  ConferencingDetails `json:"details,omitempty"`
}

// EventParticipant is one attendee on a calendar event.
type EventParticipant struct {
	Email  string `json:"email"`
	Name   string `json:"name,omitempty"`
	Status string `json:"status,omitempty"`
}

// Event is a calendar event as returned by GET /v3/grants/{grant}/events.
type Event struct {
	ID           string             `json:"id"`
	GrantID      string             `json:"grant_id"`
	CalendarID   string             `json:"calendar_id"`
	Title        string             `json:"title"`
	Description  string             `json:"description,omitempty"`
	When         EventWhen          `json:"when"`
	Conferencing *Conferencing      `json:"conferencing,omitempty"`
	Participants []EventParticipant `json:"participants,omitempty"`
	Organizer    EmailName          `json:"organizer,omitempty"`
	Status       string             `json:"status,omitempty"`
}

// MeetingURL returns the conferencing join link, or "".
func (e *Event) MeetingURL() string {
	if e.Conferencing == nil {
		return ""
	}
	return e.Conferencing.Details.URL
}

// Webhook trigger types for calendar notifications.
const (
	TriggerEventCreated = "event.created"
	TriggerEventUpdated = "event.updated"
	TriggerEventDeleted = "event.deleted"
)

// WebhookPayload is the notification envelope Nylas posts to webhook
// endpoints. Data.Object carries the changed resource; for calendar
// triggers it is the full event.
type WebhookPayload struct {
	Type string      `json:"type"`
	ID   string      `json:"id"`
	Time int64       `json:"time"`
	Data WebhookData `json:"data"`
}

// WebhookData wraps the changed object inside a webhook payload.
type WebhookData struct {
	ApplicationID string `json:"application_id,omitempty"`
	Object        Event  `json:"object"`
}

// threadsResponse is the standard Nylas list envelope for threads.
type threadsResponse struct {
	RequestID  string   `json:"request_id"`
	Data       []Thread `json:"data"`
	NextCursor string   `json:"next_cursor,omitempty"`
}

type messagesResponse struct {
	RequestID  string    `json:"request_id"`
	Data       []Message `json:"data"`
	NextCursor string    `json:"next_cursor,omitempty"`
}

type eventResponse struct {
	RequestID string `json:"request_id"`
	Data      Event  `json:"data"`
}
