package pipeline

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/inbox-sync/internal/entity"
	"github.com/sells-group/inbox-sync/internal/model"
	"github.com/sells-group/inbox-sync/internal/store"
	"github.com/sells-group/inbox-sync/pkg/nylas"
)

// mockStore covers the slices of the store the fetcher, processor, and
// checker consume.
type mockStore struct {
	mock.Mock
}

func (m *mockStore) GetAccount(ctx context.Context, id string) (*model.Account, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Account), args.Error(1)
}

func (m *mockStore) GetJob(ctx context.Context, id string) (*model.SyncJob, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.SyncJob), args.Error(1)
}

func (m *mockStore) ListJobs(ctx context.Context, f store.JobFilter) ([]*model.SyncJob, error) {
	args := m.Called(ctx, f)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.SyncJob), args.Error(1)
}

func (m *mockStore) RunningJobs(ctx context.Context) ([]*model.SyncJob, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.SyncJob), args.Error(1)
}

func (m *mockStore) StartJob(ctx context.Context, id string) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

func (m *mockStore) SetJobSyncFrom(ctx context.Context, id string, from time.Time) error {
	return m.Called(ctx, id, from).Error(0)
}

func (m *mockStore) SetPagesTotal(ctx context.Context, id string, n int) error {
	return m.Called(ctx, id, n).Error(0)
}

func (m *mockStore) IncrementPagesDone(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockStore) AddThreadsTotal(ctx context.Context, id string, n int) error {
	return m.Called(ctx, id, n).Error(0)
}

func (m *mockStore) CompleteJob(ctx context.Context, id string) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

func (m *mockStore) FailJob(ctx context.Context, id string, detail *model.ErrorDetail) (bool, error) {
	args := m.Called(ctx, id, detail)
	return args.Bool(0), args.Error(1)
}

func (m *mockStore) AdvanceWatermark(ctx context.Context, accountID string, to time.Time) error {
	return m.Called(ctx, accountID, to).Error(0)
}

func (m *mockStore) CreatePageTask(ctx context.Context, jobID string, pageNumber int, pageToken string) (bool, error) {
	args := m.Called(ctx, jobID, pageNumber, pageToken)
	return args.Bool(0), args.Error(1)
}

func (m *mockStore) ClaimNextPageTask(ctx context.Context) (*model.PageTask, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.PageTask), args.Error(1)
}

func (m *mockStore) CompletePageTask(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockStore) RetryPageTask(ctx context.Context, id string, attempts int, nextRetryAt time.Time, detail *model.ErrorDetail) error {
	return m.Called(ctx, id, attempts, nextRetryAt, detail).Error(0)
}

func (m *mockStore) FailPageTask(ctx context.Context, id string, attempts int, detail *model.ErrorDetail) error {
	return m.Called(ctx, id, attempts, detail).Error(0)
}

func (m *mockStore) PageCounts(ctx context.Context, jobID string) (map[model.PageStatus]int, error) {
	args := m.Called(ctx, jobID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[model.PageStatus]int), args.Error(1)
}

func (m *mockStore) RequeueStuckPageTasks(ctx context.Context, olderThan time.Duration) (int64, error) {
	args := m.Called(ctx, olderThan)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockStore) UpsertStageRecord(ctx context.Context, rec *model.StageRecord) (bool, error) {
	args := m.Called(ctx, rec)
	return args.Bool(0), args.Error(1)
}

func (m *mockStore) ClaimNextStageRecord(ctx context.Context, jobID string) (*model.StageRecord, error) {
	args := m.Called(ctx, jobID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.StageRecord), args.Error(1)
}

func (m *mockStore) ReleaseStageRecord(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockStore) MarkImported(ctx context.Context, id string, participants []model.Participant, messageCount int) error {
	return m.Called(ctx, id, participants, messageCount).Error(0)
}

func (m *mockStore) MarkPreprocessed(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockStore) MarkBodyCleaned(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockStore) MarkChunked(ctx context.Context, id string, chunks []string) error {
	return m.Called(ctx, id, chunks).Error(0)
}

func (m *mockStore) RetryStageRecord(ctx context.Context, id string, attempts int, nextRetryAt time.Time, detail *model.ErrorDetail) error {
	return m.Called(ctx, id, attempts, nextRetryAt, detail).Error(0)
}

func (m *mockStore) FailStageRecord(ctx context.Context, id string, detail *model.ErrorDetail) error {
	return m.Called(ctx, id, detail).Error(0)
}

func (m *mockStore) NonTerminalStageCount(ctx context.Context, jobID string) (int, error) {
	args := m.Called(ctx, jobID)
	return args.Int(0), args.Error(1)
}

func (m *mockStore) FailedStageCount(ctx context.Context, jobID string) (int, error) {
	args := m.Called(ctx, jobID)
	return args.Int(0), args.Error(1)
}

func (m *mockStore) SummarizedStageCount(ctx context.Context, jobID string) (int, error) {
	args := m.Called(ctx, jobID)
	return args.Int(0), args.Error(1)
}

func (m *mockStore) RequeueStuckStageRecords(ctx context.Context, olderThan time.Duration) (int64, error) {
	args := m.Called(ctx, olderThan)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockStore) UpsertMessages(ctx context.Context, msgs []*model.Message) (int64, error) {
	args := m.Called(ctx, msgs)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockStore) ListMessagesByRecord(ctx context.Context, recordID string) ([]*model.Message, error) {
	args := m.Called(ctx, recordID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.Message), args.Error(1)
}

func (m *mockStore) SetCleanBody(ctx context.Context, id, cleanBody string) error {
	return m.Called(ctx, id, cleanBody).Error(0)
}

func (m *mockStore) LinkMessageCustomer(ctx context.Context, recordID, fromEmail, customerID string) error {
	return m.Called(ctx, recordID, fromEmail, customerID).Error(0)
}

func (m *mockStore) CreateSummarizationTask(ctx context.Context, recordID, jobID string, needsMapReduce bool) (bool, error) {
	args := m.Called(ctx, recordID, jobID, needsMapReduce)
	return args.Bool(0), args.Error(1)
}

func (m *mockStore) LiveSummarizationTaskCount(ctx context.Context, jobID string) (int, error) {
	args := m.Called(ctx, jobID)
	return args.Int(0), args.Error(1)
}

func (m *mockStore) RequeueStuckSummarizationTasks(ctx context.Context, olderThan time.Duration) (int64, error) {
	args := m.Called(ctx, olderThan)
	return args.Get(0).(int64), args.Error(1)
}

type mockResolver struct {
	mock.Mock
}

func (m *mockResolver) Resolve(ctx context.Context, accountID, accountEmail string, participants []model.Participant) (*entity.Result, error) {
	args := m.Called(ctx, accountID, accountEmail, participants)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entity.Result), args.Error(1)
}

// mockNylas covers the provider surface the pipeline touches.
type mockNylas struct {
	mock.Mock
}

func (m *mockNylas) ListThreads(ctx context.Context, grantID string, q nylas.ThreadQuery) (*nylas.ThreadPage, error) {
	args := m.Called(ctx, grantID, q)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*nylas.ThreadPage), args.Error(1)
}

func (m *mockNylas) ListMessages(ctx context.Context, grantID, threadID string) ([]nylas.Message, error) {
	args := m.Called(ctx, grantID, threadID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]nylas.Message), args.Error(1)
}

func (m *mockNylas) GetEvent(ctx context.Context, grantID, calendarID, eventID string) (*nylas.Event, error) {
	args := m.Called(ctx, grantID, calendarID, eventID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*nylas.Event), args.Error(1)
}

func testAccount() *model.Account {
	return &model.Account{
		ID:      "acct-1",
		Email:   "support@sellsgroup.com",
		GrantID: "grant-1",
	}
}

func testJob(status model.JobStatus) *model.SyncJob {
	started := time.Date(2026, 8, 20, 9, 0, 0, 0, time.UTC)
	return &model.SyncJob{
		ID:        "job-1",
		AccountID: "acct-1",
		SyncType:  model.SyncTypeIncremental,
		Status:    status,
		StartedAt: &started,
	}
}

func testThread(id, subject string) nylas.Thread {
	return nylas.Thread{
		ID:      id,
		GrantID: "grant-1",
		Subject: subject,
		Participants: []nylas.EmailName{
			{Email: "alice@acme.com", Name: "Alice Hart"},
			{Email: "support@sellsgroup.com"},
		},
	}
}

func testRecord(t *testing.T) *model.StageRecord {
	t.Helper()
	raw, err := json.Marshal(testThread("thr-1", "Billing issue"))
	require.NoError(t, err)
	return &model.StageRecord{
		ID:         "rec-1",
		JobID:      "job-1",
		AccountID:  "acct-1",
		ThreadID:   "thr-1",
		Subject:    "Billing issue",
		RawPayload: raw,
	}
}
