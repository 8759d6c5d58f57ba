// Package store persists sync state in Postgres. All coordination between
// concurrent workers happens through this package: claims are conditional
// updates checked by affected row count, batch claims use FOR UPDATE SKIP
// LOCKED, and entity uniqueness is enforced by database constraints rather
// than application locks.
package store

import (
	"context"
	"time"

	"github.com/sells-group/inbox-sync/internal/model"
)

// AccountStore manages mailbox accounts and their sync watermarks.
type AccountStore interface {
	CreateAccount(ctx context.Context, a *model.Account) error
	GetAccount(ctx context.Context, id string) (*model.Account, error)
	GetAccountByEmail(ctx context.Context, email string) (*model.Account, error)
	GetAccountByGrant(ctx context.Context, grantID string) (*model.Account, error)
	ListAccounts(ctx context.Context) ([]*model.Account, error)
	// AdvanceWatermark moves last_synced_at forward, never backward.
	AdvanceWatermark(ctx context.Context, accountID string, to time.Time) error
}

// JobFilter narrows ListJobs.
type JobFilter struct {
	AccountID    string
	Status       model.JobStatus
	CreatedAfter time.Time
	Limit        int
}

// JobStore manages sync job lifecycle and counters.
type JobStore interface {
	CreateJob(ctx context.Context, accountID string, syncType model.SyncType, syncFrom *time.Time) (*model.SyncJob, error)
	GetJob(ctx context.Context, id string) (*model.SyncJob, error)
	ListJobs(ctx context.Context, f JobFilter) ([]*model.SyncJob, error)
	RunningJobs(ctx context.Context) ([]*model.SyncJob, error)
	// StartJob transitions pending -> running. Returns false if the job was
	// not pending, which means another worker got there first.
	StartJob(ctx context.Context, id string) (bool, error)
	SetJobSyncFrom(ctx context.Context, id string, from time.Time) error
	SetPagesTotal(ctx context.Context, id string, n int) error
	IncrementPagesDone(ctx context.Context, id string) error
	AddThreadsTotal(ctx context.Context, id string, n int) error
	IncrementThreadsDone(ctx context.Context, id string) error
	// CompleteJob transitions running -> completed. The affected row count is
	// the only guard against double completion.
	CompleteJob(ctx context.Context, id string) (bool, error)
	FailJob(ctx context.Context, id string, detail *model.ErrorDetail) (bool, error)
	// RestartJob transitions failed -> running for a retry pass.
	RestartJob(ctx context.Context, id string) (bool, error)
}

// PageStore manages page fetch tasks.
type PageStore interface {
	// CreatePageTask inserts a task keyed by its idempotency key. Returns
	// false when a task for the same job and page already exists.
	CreatePageTask(ctx context.Context, jobID string, pageNumber int, pageToken string) (bool, error)
	// ClaimNextPageTask atomically claims the oldest runnable task, or
	// returns nil when none is available.
	ClaimNextPageTask(ctx context.Context) (*model.PageTask, error)
	CompletePageTask(ctx context.Context, id string) error
	RetryPageTask(ctx context.Context, id string, attempts int, nextRetryAt time.Time, detail *model.ErrorDetail) error
	FailPageTask(ctx context.Context, id string, attempts int, detail *model.ErrorDetail) error
	ListPageTasks(ctx context.Context, jobID string) ([]*model.PageTask, error)
	PageCounts(ctx context.Context, jobID string) (map[model.PageStatus]int, error)
	// RequeueFailedPageTasks resets a job's failed pages to pending with a
	// fresh attempt budget.
	RequeueFailedPageTasks(ctx context.Context, jobID string) (int64, error)
	// RequeueStuckPageTasks releases tasks claimed longer than olderThan ago,
	// covering workers that died mid-page.
	RequeueStuckPageTasks(ctx context.Context, olderThan time.Duration) (int64, error)
}

// StageFilter narrows ListStageRecords.
type StageFilter struct {
	JobID     string
	AccountID string
	Stage     model.Stage
	Limit     int
}

// StageStore manages per-thread stage records. Stage booleans only ever go
// from false to true; the Mark methods are no-ops on re-application.
type StageStore interface {
	// UpsertStageRecord inserts a record for the thread or, when one already
	// exists, refreshes its subject and raw payload without touching stage
	// progress. Returns true when a new record was created.
	UpsertStageRecord(ctx context.Context, r *model.StageRecord) (bool, error)
	GetStageRecord(ctx context.Context, id string) (*model.StageRecord, error)
	GetStageRecordByThread(ctx context.Context, accountID, threadID string) (*model.StageRecord, error)
	ListStageRecords(ctx context.Context, f StageFilter) ([]*model.StageRecord, error)
	// ClaimNextStageRecord claims the oldest record with pre-summarization
	// work remaining. Pass jobID "" to claim across all jobs.
	ClaimNextStageRecord(ctx context.Context, jobID string) (*model.StageRecord, error)
	ReleaseStageRecord(ctx context.Context, id string) error
	MarkImported(ctx context.Context, id string, participants []model.Participant, messageCount int) error
	MarkPreprocessed(ctx context.Context, id string) error
	MarkBodyCleaned(ctx context.Context, id string) error
	MarkChunked(ctx context.Context, id string, chunks []string) error
	MarkSummarized(ctx context.Context, id string, summary *model.ThreadSummary) error
	RetryStageRecord(ctx context.Context, id string, attempts int, nextRetryAt time.Time, detail *model.ErrorDetail) error
	FailStageRecord(ctx context.Context, id string, detail *model.ErrorDetail) error
	// RequeueFailedStageRecords resets failed records in a job so the
	// pipeline picks them up again from their first incomplete stage.
	RequeueFailedStageRecords(ctx context.Context, jobID string) (int64, error)
	RequeueStuckStageRecords(ctx context.Context, olderThan time.Duration) (int64, error)
	NonTerminalStageCount(ctx context.Context, jobID string) (int, error)
	FailedStageCount(ctx context.Context, jobID string) (int, error)
	SummarizedStageCount(ctx context.Context, jobID string) (int, error)
}

// TaskStore manages summarization tasks. A partial unique index on
// stage_record_id over live statuses guarantees at most one live task per
// record no matter how many checkers run.
type TaskStore interface {
	CreateSummarizationTask(ctx context.Context, recordID, jobID string, needsMapReduce bool) (bool, error)
	ClaimNextSummarizationTask(ctx context.Context) (*model.SummarizationTask, error)
	CompleteSummarizationTask(ctx context.Context, id string) error
	RetrySummarizationTask(ctx context.Context, id string, attempts int, nextRetryAt time.Time, detail *model.ErrorDetail) error
	FailSummarizationTask(ctx context.Context, id string, detail *model.ErrorDetail) error
	LiveSummarizationTaskCount(ctx context.Context, jobID string) (int, error)
	SummarizationBacklog(ctx context.Context) (int, error)
	RequeueStuckSummarizationTasks(ctx context.Context, olderThan time.Duration) (int64, error)
}

// MeetingFilter narrows ListMeetings.
type MeetingFilter struct {
	AccountID string
	Status    model.MeetingStatus
	Limit     int
}

// MeetingStore manages calendar meetings and recording bots.
type MeetingStore interface {
	// CreateMeeting inserts the meeting unless one exists for the same
	// account and event. Returns false on conflict so the caller can re-read
	// the winner and continue down the update path.
	CreateMeeting(ctx context.Context, m *model.Meeting) (bool, error)
	GetMeeting(ctx context.Context, id string) (*model.Meeting, error)
	GetMeetingByEvent(ctx context.Context, accountID, eventID string) (*model.Meeting, error)
	ListMeetings(ctx context.Context, f MeetingFilter) ([]*model.Meeting, error)
	// UpdateMeetingDetails refreshes event fields without touching scheduling
	// state.
	UpdateMeetingDetails(ctx context.Context, m *model.Meeting) error
	SetMeetingStatus(ctx context.Context, id string, status model.MeetingStatus) error
	// ClaimMeetingForScheduling is the dispatcher's mutual exclusion: it
	// succeeds only when the meeting is still schedulable.
	ClaimMeetingForScheduling(ctx context.Context, id string) (bool, error)
	NextSchedulableMeeting(ctx context.Context) (*model.Meeting, error)
	// MarkRecordingScheduled completes a dispatch, conditional on the
	// claim still being held. False means the claim was superseded and
	// the caller must withdraw its bot.
	MarkRecordingScheduled(ctx context.Context, id, botID string) (bool, error)
	ReleaseMeeting(ctx context.Context, id string, status model.MeetingStatus, retryCount int, nextRetryAt *time.Time, detail *model.ErrorDetail) error
	// MarkRescheduling transitions recording_scheduled -> rescheduling.
	// Returns false when the meeting left recording_scheduled in the
	// meantime.
	MarkRescheduling(ctx context.Context, id string, at time.Time) (bool, error)
	ClearMeetingBot(ctx context.Context, id string) error
	ListStuckMeetings(ctx context.Context, status model.MeetingStatus, olderThan time.Duration) ([]*model.Meeting, error)
	// ResetMeetingStatus moves a meeting from one status to another only if
	// it still holds the expected status.
	ResetMeetingStatus(ctx context.Context, id string, from, to model.MeetingStatus) (bool, error)
	CreateTranscriptionJob(ctx context.Context, meetingID, botID string) (bool, error)
	CountMeetingsByStatus(ctx context.Context) (map[model.MeetingStatus]int, error)
}

// EntityStore manages resolved companies and customers. Uniqueness on
// (owner_id, domain) and (company_id, email) is the concurrency control:
// losers of an insert race re-read the winner.
type EntityStore interface {
	GetCompanyByDomain(ctx context.Context, ownerID, domain string) (*model.Company, error)
	ListCompaniesByDomains(ctx context.Context, ownerID string, domains []string) ([]*model.Company, error)
	InsertCompany(ctx context.Context, c *model.Company) (bool, error)
	GetCustomerByEmail(ctx context.Context, companyID, email string) (*model.Customer, error)
	ListCustomersByEmails(ctx context.Context, emails []string) ([]*model.Customer, error)
	InsertCustomer(ctx context.Context, c *model.Customer) (bool, error)
	ListCompanies(ctx context.Context, limit int) ([]*model.Company, error)
	ListCustomersByCompany(ctx context.Context, companyID string) ([]*model.Customer, error)
}

// MessageStore manages imported messages.
type MessageStore interface {
	UpsertMessages(ctx context.Context, msgs []*model.Message) (int64, error)
	ListMessagesByRecord(ctx context.Context, recordID string) ([]*model.Message, error)
	SetCleanBody(ctx context.Context, id, cleanBody string) error
	// LinkMessageCustomer stamps the resolved customer on every message the
	// sender wrote within a thread.
	LinkMessageCustomer(ctx context.Context, recordID, fromEmail, customerID string) error
}

// UsageStore records LLM spend for cost monitoring.
type UsageStore interface {
	RecordLLMUsage(ctx context.Context, operation, model string, inputTokens, outputTokens int64, costUSD float64) error
	SumLLMCost(ctx context.Context, since time.Time) (float64, error)
}

// Store is the full persistence surface. Components should depend on the
// narrow interface they use; Store exists for wiring and tests.
type Store interface {
	AccountStore
	JobStore
	PageStore
	StageStore
	TaskStore
	MeetingStore
	EntityStore
	MessageStore
	UsageStore

	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close()
}
