package meetings

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/inbox-sync/internal/model"
	"github.com/sells-group/inbox-sync/pkg/nylas"
)

// mockStore covers the slices of the store the ingestor, dispatcher, and
// recoverer consume.
type mockStore struct {
	mock.Mock
}

func (m *mockStore) CreateMeeting(ctx context.Context, mtg *model.Meeting) (bool, error) {
	args := m.Called(ctx, mtg)
	return args.Bool(0), args.Error(1)
}

func (m *mockStore) GetMeetingByEvent(ctx context.Context, accountID, eventID string) (*model.Meeting, error) {
	args := m.Called(ctx, accountID, eventID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Meeting), args.Error(1)
}

func (m *mockStore) UpdateMeetingDetails(ctx context.Context, mtg *model.Meeting) error {
	return m.Called(ctx, mtg).Error(0)
}

func (m *mockStore) SetMeetingStatus(ctx context.Context, id string, status model.MeetingStatus) error {
	return m.Called(ctx, id, status).Error(0)
}

func (m *mockStore) MarkRescheduling(ctx context.Context, id string, at time.Time) (bool, error) {
	args := m.Called(ctx, id, at)
	return args.Bool(0), args.Error(1)
}

func (m *mockStore) ClearMeetingBot(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockStore) NextSchedulableMeeting(ctx context.Context) (*model.Meeting, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Meeting), args.Error(1)
}

func (m *mockStore) ClaimMeetingForScheduling(ctx context.Context, id string) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

func (m *mockStore) MarkRecordingScheduled(ctx context.Context, id, botID string) (bool, error) {
	args := m.Called(ctx, id, botID)
	return args.Bool(0), args.Error(1)
}

func (m *mockStore) ReleaseMeeting(ctx context.Context, id string, status model.MeetingStatus, retryCount int, nextRetryAt *time.Time, detail *model.ErrorDetail) error {
	return m.Called(ctx, id, status, retryCount, nextRetryAt, detail).Error(0)
}

func (m *mockStore) CreateTranscriptionJob(ctx context.Context, meetingID, botID string) (bool, error) {
	args := m.Called(ctx, meetingID, botID)
	return args.Bool(0), args.Error(1)
}

func (m *mockStore) ListStuckMeetings(ctx context.Context, status model.MeetingStatus, olderThan time.Duration) ([]*model.Meeting, error) {
	args := m.Called(ctx, status, olderThan)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.Meeting), args.Error(1)
}

func (m *mockStore) ResetMeetingStatus(ctx context.Context, id string, from, to model.MeetingStatus) (bool, error) {
	args := m.Called(ctx, id, from, to)
	return args.Bool(0), args.Error(1)
}

// testStartTime is one hour out so target computation lands on "new".
// Fixed once so event and meeting fixtures agree to the second.
var testStartTime = time.Now().UTC().Add(time.Hour).Truncate(time.Second)

func testStart() time.Time {
	return testStartTime
}

func testEvent() *nylas.Event {
	return &nylas.Event{
		ID:         "evt-1",
		GrantID:    "grant-1",
		CalendarID: "cal-1",
		Title:      "Quarterly review",
		When: nylas.EventWhen{
			StartTime: testStart().Unix(),
			EndTime:   testStart().Add(30 * time.Minute).Unix(),
		},
		Conferencing: &nylas.Conferencing{
			Provider: "Zoom Meeting",
			Details:  nylas.ConferencingDetails{URL: "https://zoom.us/j/123"},
		},
		Participants: []nylas.EventParticipant{
			{Email: "alice@acme.com", Name: "Alice Hart"},
			{Email: "bob@sellsgroup.com"},
		},
		Organizer: nylas.EmailName{Email: "bob@sellsgroup.com"},
		Status:    "confirmed",
	}
}

func testMeeting(status model.MeetingStatus) *model.Meeting {
	return &model.Meeting{
		ID:         "mtg-1",
		AccountID:  "acct-1",
		EventID:    "evt-1",
		CalendarID: "cal-1",
		Title:      "Quarterly review",
		MeetingURL: "https://zoom.us/j/123",
		StartsAt:   testStart(),
		Organizer:  "bob@sellsgroup.com",
		Status:     status,
	}
}
