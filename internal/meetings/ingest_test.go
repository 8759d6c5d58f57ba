package meetings

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/inbox-sync/internal/model"
	"github.com/sells-group/inbox-sync/pkg/nylas"
	recallmocks "github.com/sells-group/inbox-sync/pkg/recall/mocks"
)

func TestIngest_DropsMalformedEvent(t *testing.T) {
	st := &mockStore{}
	in := NewIngestor(st, recallmocks.NewMockClient(t), DefaultConfig())

	require.NoError(t, in.HandleEventChange(context.Background(), "acct-1", nil))
	require.NoError(t, in.HandleEventChange(context.Background(), "acct-1", &nylas.Event{}))
	require.NoError(t, in.HandleEventChange(context.Background(), "acct-1", &nylas.Event{ID: "evt-1"}))

	st.AssertNotCalled(t, "CreateMeeting", mock.Anything, mock.Anything)
}

func TestIngest_CreatesNewMeeting(t *testing.T) {
	st := &mockStore{}
	st.On("CreateMeeting", mock.Anything, mock.MatchedBy(func(m *model.Meeting) bool {
		return m.AccountID == "acct-1" &&
			m.EventID == "evt-1" &&
			m.MeetingURL == "https://zoom.us/j/123" &&
			m.Status == model.MeetingStatusNew &&
			m.StartsAt.Equal(testStart()) &&
			len(m.Participants) == 2
	})).Return(true, nil)

	in := NewIngestor(st, recallmocks.NewMockClient(t), DefaultConfig())
	err := in.HandleEventChange(context.Background(), "acct-1", testEvent())

	require.NoError(t, err)
	st.AssertExpectations(t)
	st.AssertNotCalled(t, "GetMeetingByEvent", mock.Anything, mock.Anything, mock.Anything)
}

func TestIngest_EventWithoutURLTargetsMissingURL(t *testing.T) {
	ev := testEvent()
	ev.Conferencing = nil

	st := &mockStore{}
	st.On("CreateMeeting", mock.Anything, mock.MatchedBy(func(m *model.Meeting) bool {
		return m.Status == model.MeetingStatusMissingURL && m.MeetingURL == ""
	})).Return(true, nil)

	in := NewIngestor(st, recallmocks.NewMockClient(t), DefaultConfig())
	require.NoError(t, in.HandleEventChange(context.Background(), "acct-1", ev))
	st.AssertExpectations(t)
}

func TestIngest_PastEventTargetsPassedEvent(t *testing.T) {
	ev := testEvent()
	ev.When.StartTime = time.Now().UTC().Add(-time.Hour).Unix()

	st := &mockStore{}
	st.On("CreateMeeting", mock.Anything, mock.MatchedBy(func(m *model.Meeting) bool {
		return m.Status == model.MeetingStatusPassedEvent
	})).Return(true, nil)

	in := NewIngestor(st, recallmocks.NewMockClient(t), DefaultConfig())
	require.NoError(t, in.HandleEventChange(context.Background(), "acct-1", ev))
	st.AssertExpectations(t)
}

func TestIngest_ChangeBeforeScheduleJustUpdates(t *testing.T) {
	ev := testEvent()
	ev.Title = "Quarterly review (moved rooms)"

	existing := testMeeting(model.MeetingStatusNew)

	st := &mockStore{}
	st.On("CreateMeeting", mock.Anything, mock.Anything).Return(false, nil)
	st.On("GetMeetingByEvent", mock.Anything, "acct-1", "evt-1").Return(existing, nil)
	st.On("UpdateMeetingDetails", mock.Anything, mock.MatchedBy(func(m *model.Meeting) bool {
		return m.ID == "mtg-1" && m.Title == "Quarterly review (moved rooms)"
	})).Return(nil)

	in := NewIngestor(st, recallmocks.NewMockClient(t), DefaultConfig())
	require.NoError(t, in.HandleEventChange(context.Background(), "acct-1", ev))

	st.AssertExpectations(t)
	st.AssertNotCalled(t, "MarkRescheduling", mock.Anything, mock.Anything, mock.Anything)
	st.AssertNotCalled(t, "SetMeetingStatus", mock.Anything, mock.Anything, mock.Anything)
}

func TestIngest_RetargetsWhenURLAppears(t *testing.T) {
	existing := testMeeting(model.MeetingStatusMissingURL)
	existing.MeetingURL = ""

	st := &mockStore{}
	st.On("CreateMeeting", mock.Anything, mock.Anything).Return(false, nil)
	st.On("GetMeetingByEvent", mock.Anything, "acct-1", "evt-1").Return(existing, nil)
	st.On("UpdateMeetingDetails", mock.Anything, mock.Anything).Return(nil)
	st.On("SetMeetingStatus", mock.Anything, "mtg-1", model.MeetingStatusNew).Return(nil)

	in := NewIngestor(st, recallmocks.NewMockClient(t), DefaultConfig())
	require.NoError(t, in.HandleEventChange(context.Background(), "acct-1", testEvent()))
	st.AssertExpectations(t)
}

func TestIngest_ReschedulesOnTimeChange(t *testing.T) {
	ev := testEvent()
	ev.When.StartTime = testStart().Add(time.Hour).Unix()

	existing := testMeeting(model.MeetingStatusRecordingScheduled)
	existing.BotID = "bot-1"

	st := &mockStore{}
	st.On("CreateMeeting", mock.Anything, mock.Anything).Return(false, nil)
	st.On("GetMeetingByEvent", mock.Anything, "acct-1", "evt-1").Return(existing, nil)
	st.On("UpdateMeetingDetails", mock.Anything, mock.MatchedBy(func(m *model.Meeting) bool {
		return m.StartsAt.Equal(testStart().Add(time.Hour))
	})).Return(nil)
	st.On("MarkRescheduling", mock.Anything, "mtg-1", mock.AnythingOfType("time.Time")).Return(true, nil)

	in := NewIngestor(st, recallmocks.NewMockClient(t), DefaultConfig())
	require.NoError(t, in.HandleEventChange(context.Background(), "acct-1", ev))
	st.AssertExpectations(t)
}

func TestIngest_DebouncesRepeatedReschedule(t *testing.T) {
	ev := testEvent()
	ev.When.StartTime = testStart().Add(time.Hour).Unix()

	recent := time.Now().UTC().Add(-2 * time.Minute)
	existing := testMeeting(model.MeetingStatusRecordingScheduled)
	existing.BotID = "bot-1"
	existing.LastRescheduledAt = &recent

	st := &mockStore{}
	st.On("CreateMeeting", mock.Anything, mock.Anything).Return(false, nil)
	st.On("GetMeetingByEvent", mock.Anything, "acct-1", "evt-1").Return(existing, nil)
	st.On("UpdateMeetingDetails", mock.Anything, mock.Anything).Return(nil)

	in := NewIngestor(st, recallmocks.NewMockClient(t), DefaultConfig())
	require.NoError(t, in.HandleEventChange(context.Background(), "acct-1", ev))

	st.AssertExpectations(t)
	st.AssertNotCalled(t, "MarkRescheduling", mock.Anything, mock.Anything, mock.Anything)
}

func TestIngest_RescheduleOutsideDebounceWindow(t *testing.T) {
	ev := testEvent()
	ev.When.StartTime = testStart().Add(time.Hour).Unix()

	old := time.Now().UTC().Add(-10 * time.Minute)
	existing := testMeeting(model.MeetingStatusRecordingScheduled)
	existing.BotID = "bot-1"
	existing.LastRescheduledAt = &old

	st := &mockStore{}
	st.On("CreateMeeting", mock.Anything, mock.Anything).Return(false, nil)
	st.On("GetMeetingByEvent", mock.Anything, "acct-1", "evt-1").Return(existing, nil)
	st.On("UpdateMeetingDetails", mock.Anything, mock.Anything).Return(nil)
	st.On("MarkRescheduling", mock.Anything, "mtg-1", mock.AnythingOfType("time.Time")).Return(true, nil)

	in := NewIngestor(st, recallmocks.NewMockClient(t), DefaultConfig())
	require.NoError(t, in.HandleEventChange(context.Background(), "acct-1", ev))
	st.AssertExpectations(t)
}

func TestIngest_CancelledDeletesBotAndParks(t *testing.T) {
	ev := testEvent()
	ev.Status = "cancelled"

	existing := testMeeting(model.MeetingStatusRecordingScheduled)
	existing.BotID = "bot-9"

	st := &mockStore{}
	st.On("GetMeetingByEvent", mock.Anything, "acct-1", "evt-1").Return(existing, nil)
	st.On("ClearMeetingBot", mock.Anything, "mtg-1").Return(nil)
	st.On("SetMeetingStatus", mock.Anything, "mtg-1", model.MeetingStatusPassedEvent).Return(nil)

	bots := recallmocks.NewMockClient(t)
	bots.On("DeleteBot", mock.Anything, "bot-9").Return(nil).Once()

	in := NewIngestor(st, bots, DefaultConfig())
	require.NoError(t, in.HandleEventChange(context.Background(), "acct-1", ev))

	st.AssertExpectations(t)
	st.AssertNotCalled(t, "CreateMeeting", mock.Anything, mock.Anything)
}

func TestIngest_CancelledUnknownEventIgnored(t *testing.T) {
	ev := testEvent()
	ev.Status = "cancelled"

	st := &mockStore{}
	st.On("GetMeetingByEvent", mock.Anything, "acct-1", "evt-1").Return(nil, nil)

	in := NewIngestor(st, recallmocks.NewMockClient(t), DefaultConfig())
	require.NoError(t, in.HandleEventChange(context.Background(), "acct-1", ev))

	st.AssertExpectations(t)
	st.AssertNotCalled(t, "SetMeetingStatus", mock.Anything, mock.Anything, mock.Anything)
}

func TestIngest_CancelBotFailureStillParks(t *testing.T) {
	ev := testEvent()
	ev.Status = "cancelled"

	existing := testMeeting(model.MeetingStatusRecordingScheduled)
	existing.BotID = "bot-9"

	st := &mockStore{}
	st.On("GetMeetingByEvent", mock.Anything, "acct-1", "evt-1").Return(existing, nil)
	st.On("SetMeetingStatus", mock.Anything, "mtg-1", model.MeetingStatusPassedEvent).Return(nil)

	bots := recallmocks.NewMockClient(t)
	bots.On("DeleteBot", mock.Anything, "bot-9").Return(errors.New("recall: status 500")).Once()

	in := NewIngestor(st, bots, DefaultConfig())
	require.NoError(t, in.HandleEventChange(context.Background(), "acct-1", ev))

	st.AssertExpectations(t)
	st.AssertNotCalled(t, "ClearMeetingBot", mock.Anything, mock.Anything)
}

func TestIngest_ConflictWithoutRowErrors(t *testing.T) {
	st := &mockStore{}
	st.On("CreateMeeting", mock.Anything, mock.Anything).Return(false, nil)
	st.On("GetMeetingByEvent", mock.Anything, "acct-1", "evt-1").Return(nil, nil)

	in := NewIngestor(st, recallmocks.NewMockClient(t), DefaultConfig())
	err := in.HandleEventChange(context.Background(), "acct-1", testEvent())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "evt-1")
}
