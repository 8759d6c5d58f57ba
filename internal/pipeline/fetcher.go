// Package pipeline drives a conversation from provider listing to
// summarization-ready chunks. The fetcher walks provider pagination and
// plants stage records; the processor runs the per-conversation stages;
// the checker closes out jobs and advances the account watermark.
package pipeline

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/inbox-sync/internal/model"
	"github.com/sells-group/inbox-sync/internal/resilience"
	"github.com/sells-group/inbox-sync/internal/store"
	"github.com/sells-group/inbox-sync/pkg/nylas"
)

// FetcherConfig bounds the listing window.
type FetcherConfig struct {
	// DefaultLookback is used for accounts that have never synced.
	DefaultLookback time.Duration
	// WatermarkBuffer is subtracted from the account watermark so a sync
	// that raced late-arriving mail re-covers the boundary.
	WatermarkBuffer time.Duration
	PageSize        int
	// Retry covers provider calls made while a page claim is held. The
	// zero value selects DefaultRetryConfig.
	Retry resilience.RetryConfig
}

// DefaultFetcherConfig returns the standard 90-day window with a 24h
// re-cover buffer.
func DefaultFetcherConfig() FetcherConfig {
	return FetcherConfig{
		DefaultLookback: 90 * 24 * time.Hour,
		WatermarkBuffer: 24 * time.Hour,
		PageSize:        50,
	}
}

// fetcherStore is the slice of the store the fetcher needs.
type fetcherStore interface {
	GetAccount(ctx context.Context, id string) (*model.Account, error)
	GetJob(ctx context.Context, id string) (*model.SyncJob, error)
	ListJobs(ctx context.Context, f store.JobFilter) ([]*model.SyncJob, error)
	StartJob(ctx context.Context, id string) (bool, error)
	SetJobSyncFrom(ctx context.Context, id string, syncFrom time.Time) error
	SetPagesTotal(ctx context.Context, id string, n int) error
	IncrementPagesDone(ctx context.Context, id string) error
	AddThreadsTotal(ctx context.Context, id string, n int) error
	FailJob(ctx context.Context, id string, detail *model.ErrorDetail) (bool, error)

	CreatePageTask(ctx context.Context, jobID string, pageNumber int, pageToken string) (bool, error)
	ClaimNextPageTask(ctx context.Context) (*model.PageTask, error)
	CompletePageTask(ctx context.Context, id string) error
	RetryPageTask(ctx context.Context, id string, attempts int, nextRetryAt time.Time, detail *model.ErrorDetail) error
	FailPageTask(ctx context.Context, id string, attempts int, detail *model.ErrorDetail) error

	UpsertStageRecord(ctx context.Context, rec *model.StageRecord) (bool, error)
}

// Fetcher turns pending jobs into page tasks and processes claimed pages
// into stage records. Safe for concurrent use; every worker runs the
// same loop against the shared store.
type Fetcher struct {
	store  fetcherStore
	nylas  nylas.Client
	cfg    FetcherConfig
	policy resilience.BackoffPolicy
	retry  resilience.RetryConfig
	log    *zap.Logger
}

// NewFetcher creates a page fetcher.
func NewFetcher(st fetcherStore, client nylas.Client, cfg FetcherConfig, policy resilience.BackoffPolicy) *Fetcher {
	retry := cfg.Retry
	if cfg.PageSize <= 0 {
		cfg = DefaultFetcherConfig()
	}
	if retry.MaxAttempts == 0 {
		retry = resilience.DefaultRetryConfig()
	}
	retry.OnRetry = resilience.RetryLogger("nylas", "list_threads")
	return &Fetcher{
		store:  st,
		nylas:  client,
		cfg:    cfg,
		policy: policy,
		retry:  retry,
		log:    zap.L().With(zap.String("component", "fetcher")),
	}
}

// StartPendingJobs transitions pending jobs to running, resolves each
// job's listing bound, and plants page 1. The StartJob CAS makes this
// safe to call from every worker; losers skip the job.
func (f *Fetcher) StartPendingJobs(ctx context.Context) (int, error) {
	jobs, err := f.store.ListJobs(ctx, store.JobFilter{Status: model.JobStatusPending})
	if err != nil {
		return 0, eris.Wrap(err, "fetcher: list pending jobs")
	}

	started := 0
	for _, job := range jobs {
		won, err := f.store.StartJob(ctx, job.ID)
		if err != nil {
			return started, eris.Wrap(err, "fetcher: start job")
		}
		if !won {
			continue
		}

		syncFrom, err := f.resolveSyncFrom(ctx, job)
		if err != nil {
			return started, err
		}
		if err := f.store.SetJobSyncFrom(ctx, job.ID, syncFrom); err != nil {
			return started, eris.Wrap(err, "fetcher: set sync from")
		}
		if _, err := f.store.CreatePageTask(ctx, job.ID, 1, ""); err != nil {
			return started, eris.Wrap(err, "fetcher: plant first page")
		}

		f.log.Info("job started",
			zap.String("job_id", job.ID),
			zap.String("sync_type", string(job.SyncType)),
			zap.Time("sync_from", syncFrom),
		)
		started++
	}
	return started, nil
}

// resolveSyncFrom computes the job's listing bound: watermark minus
// buffer when the account has synced before, otherwise the default
// lookback. An incremental job on a never-synced account falls back to
// the full lookback.
func (f *Fetcher) resolveSyncFrom(ctx context.Context, job *model.SyncJob) (time.Time, error) {
	if job.SyncFrom != nil {
		return *job.SyncFrom, nil
	}

	account, err := f.store.GetAccount(ctx, job.AccountID)
	if err != nil {
		return time.Time{}, eris.Wrap(err, "fetcher: get account")
	}
	if account == nil {
		return time.Time{}, eris.Errorf("fetcher: account %s not found", job.AccountID)
	}

	if job.SyncType == model.SyncTypeIncremental && account.LastSyncedAt != nil {
		return account.LastSyncedAt.Add(-f.cfg.WatermarkBuffer), nil
	}
	return time.Now().UTC().Add(-f.cfg.DefaultLookback), nil
}

// RunOnce claims and processes one page task. Returns false when no task
// was eligible.
func (f *Fetcher) RunOnce(ctx context.Context) (bool, error) {
	task, err := f.store.ClaimNextPageTask(ctx)
	if err != nil {
		return false, eris.Wrap(err, "fetcher: claim page task")
	}
	if task == nil {
		return false, nil
	}
	return true, f.processTask(ctx, task)
}

func (f *Fetcher) processTask(ctx context.Context, task *model.PageTask) error {
	log := f.log.With(zap.String("job_id", task.JobID), zap.Int("page", task.PageNumber))

	job, err := f.store.GetJob(ctx, task.JobID)
	if err != nil {
		return f.releaseFailed(ctx, task, eris.Wrap(err, "fetcher: get job"))
	}
	if job == nil {
		return f.releaseFailed(ctx, task, eris.Errorf("fetcher: job %s not found", task.JobID))
	}

	account, err := f.store.GetAccount(ctx, job.AccountID)
	if err != nil {
		return f.releaseFailed(ctx, task, eris.Wrap(err, "fetcher: get account"))
	}
	if account == nil {
		return f.releaseFailed(ctx, task, eris.Errorf("fetcher: account %s not found", job.AccountID))
	}

	syncFrom, err := f.resolveSyncFrom(ctx, job)
	if err != nil {
		return f.releaseFailed(ctx, task, err)
	}

	page, err := resilience.DoVal(ctx, f.retry, func(ctx context.Context) (*nylas.ThreadPage, error) {
		return f.nylas.ListThreads(ctx, account.GrantID, nylas.ThreadQuery{
			LatestMessageAfter: syncFrom,
			Limit:              f.cfg.PageSize,
			PageToken:          task.PageToken,
		})
	})
	if err != nil {
		if resilience.IsAuth(err) {
			return f.failAuth(ctx, task, job, err)
		}
		return f.releaseFailed(ctx, task, err)
	}

	created := 0
	for _, thread := range page.Threads {
		raw, err := json.Marshal(thread)
		if err != nil {
			return f.releaseFailed(ctx, task, eris.Wrap(err, "fetcher: marshal thread"))
		}
		isNew, err := f.store.UpsertStageRecord(ctx, &model.StageRecord{
			JobID:      task.JobID,
			AccountID:  job.AccountID,
			ThreadID:   thread.ID,
			Subject:    thread.Subject,
			RawPayload: raw,
		})
		if err != nil {
			return f.releaseFailed(ctx, task, eris.Wrap(err, "fetcher: upsert stage record"))
		}
		if isNew {
			created++
		}
	}
	if created > 0 {
		if err := f.store.AddThreadsTotal(ctx, task.JobID, created); err != nil {
			return f.releaseFailed(ctx, task, eris.Wrap(err, "fetcher: add threads total"))
		}
	}

	// Plant the next page before completing this one; a crash between the
	// two re-runs this page, and both writes are idempotent.
	pagesTotal := task.PageNumber
	if page.NextCursor != "" {
		pagesTotal = task.PageNumber + 1
		if _, err := f.store.CreatePageTask(ctx, task.JobID, task.PageNumber+1, page.NextCursor); err != nil {
			return f.releaseFailed(ctx, task, eris.Wrap(err, "fetcher: plant next page"))
		}
	}
	if err := f.store.SetPagesTotal(ctx, task.JobID, pagesTotal); err != nil {
		return f.releaseFailed(ctx, task, eris.Wrap(err, "fetcher: set pages total"))
	}
	if err := f.store.IncrementPagesDone(ctx, task.JobID); err != nil {
		return f.releaseFailed(ctx, task, eris.Wrap(err, "fetcher: increment pages done"))
	}
	if err := f.store.CompletePageTask(ctx, task.ID); err != nil {
		return eris.Wrap(err, "fetcher: complete page task")
	}

	log.Info("page fetched",
		zap.Int("threads", len(page.Threads)),
		zap.Int("new_records", created),
		zap.Bool("has_next", page.NextCursor != ""),
	)
	return nil
}

// failAuth terminates both the page and its job. Credential failures
// affect every remaining page equally, so retrying any of them is noise.
func (f *Fetcher) failAuth(ctx context.Context, task *model.PageTask, job *model.SyncJob, cause error) error {
	detail := model.NewErrorDetail(model.ErrorClassAuth, "page_fetch", resilience.NormalizeMessage(cause)).
		WithContext("page", model.PageIdempotencyKey(task.JobID, task.PageNumber))

	if err := f.store.FailPageTask(ctx, task.ID, task.Attempts+1, detail); err != nil {
		return eris.Wrap(err, "fetcher: fail page task")
	}
	if _, err := f.store.FailJob(ctx, job.ID, detail); err != nil {
		return eris.Wrap(err, "fetcher: fail job")
	}
	f.log.Error("page fetch auth failure, job failed",
		zap.String("job_id", job.ID),
		zap.Error(cause),
	)
	return nil
}

// releaseFailed persists the retry plan for a failed attempt. The claim
// is released by the status transition; the error itself is absorbed
// into the task row rather than bubbling to the worker loop.
func (f *Fetcher) releaseFailed(ctx context.Context, task *model.PageTask, cause error) error {
	attempts := task.Attempts + 1
	plan := f.policy.Plan(cause, "page_fetch", attempts)

	if plan.Retry {
		if err := f.store.RetryPageTask(ctx, task.ID, attempts, plan.NextRetryAt, plan.Detail); err != nil {
			return eris.Wrap(err, "fetcher: retry page task")
		}
		f.log.Warn("page fetch failed, retry scheduled",
			zap.String("job_id", task.JobID),
			zap.Int("page", task.PageNumber),
			zap.Int("attempts", attempts),
			zap.Time("next_retry_at", plan.NextRetryAt),
			zap.Error(cause),
		)
		return nil
	}

	if err := f.store.FailPageTask(ctx, task.ID, attempts, plan.Detail); err != nil {
		return eris.Wrap(err, "fetcher: fail page task")
	}
	f.log.Error("page fetch failed permanently",
		zap.String("job_id", task.JobID),
		zap.Int("page", task.PageNumber),
		zap.Int("attempts", attempts),
		zap.Error(cause),
	)
	return nil
}
