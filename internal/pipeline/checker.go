package pipeline

import (
	"context"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/sells-group/inbox-sync/internal/model"
)

// checkerStore is the slice of the store the completion checker needs.
type checkerStore interface {
	RunningJobs(ctx context.Context) ([]*model.SyncJob, error)
	CompleteJob(ctx context.Context, id string) (bool, error)
	FailJob(ctx context.Context, id string, detail *model.ErrorDetail) (bool, error)
	AdvanceWatermark(ctx context.Context, accountID string, to time.Time) error

	PageCounts(ctx context.Context, jobID string) (map[model.PageStatus]int, error)
	RequeueStuckPageTasks(ctx context.Context, olderThan time.Duration) (int64, error)

	NonTerminalStageCount(ctx context.Context, jobID string) (int, error)
	FailedStageCount(ctx context.Context, jobID string) (int, error)
	SummarizedStageCount(ctx context.Context, jobID string) (int, error)
	RequeueStuckStageRecords(ctx context.Context, olderThan time.Duration) (int64, error)

	LiveSummarizationTaskCount(ctx context.Context, jobID string) (int, error)
	RequeueStuckSummarizationTasks(ctx context.Context, olderThan time.Duration) (int64, error)
}

// Checker closes out running jobs once their children are all terminal,
// and sweeps work stuck under stale claims back into rotation. Job
// completion is decided by scanning child rows; the job's own counters
// are advisory and never consulted.
type Checker struct {
	store      checkerStore
	stuckAfter time.Duration
	printer    *message.Printer
	log        *zap.Logger
}

// NewChecker creates a completion checker. stuckAfter bounds how long a
// claim may sit before the sweep treats its worker as dead; zero or
// negative selects 15 minutes.
func NewChecker(st checkerStore, stuckAfter time.Duration) *Checker {
	if stuckAfter <= 0 {
		stuckAfter = 15 * time.Minute
	}
	return &Checker{
		store:      st,
		stuckAfter: stuckAfter,
		printer:    message.NewPrinter(language.English),
		log:        zap.L().With(zap.String("component", "checker")),
	}
}

// RunOnce sweeps stuck work, then closes out every running job whose
// children have all reached a terminal state. Returns how many jobs
// were closed.
func (c *Checker) RunOnce(ctx context.Context) (int, error) {
	c.sweepStuck(ctx)

	jobs, err := c.store.RunningJobs(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "checker: list running jobs")
	}

	closed := 0
	for _, job := range jobs {
		done, err := c.checkJob(ctx, job)
		if err != nil {
			return closed, err
		}
		if done {
			closed++
		}
	}
	return closed, nil
}

// sweepStuck releases claims older than the threshold. Failures here are
// logged and skipped; the next pass retries.
func (c *Checker) sweepStuck(ctx context.Context) {
	if n, err := c.store.RequeueStuckPageTasks(ctx, c.stuckAfter); err != nil {
		c.log.Error("requeue stuck page tasks", zap.Error(err))
	} else if n > 0 {
		c.log.Warn("requeued stuck page tasks", zap.Int64("count", n))
	}

	if n, err := c.store.RequeueStuckStageRecords(ctx, c.stuckAfter); err != nil {
		c.log.Error("requeue stuck stage records", zap.Error(err))
	} else if n > 0 {
		c.log.Warn("requeued stuck stage records", zap.Int64("count", n))
	}

	if n, err := c.store.RequeueStuckSummarizationTasks(ctx, c.stuckAfter); err != nil {
		c.log.Error("requeue stuck summarization tasks", zap.Error(err))
	} else if n > 0 {
		c.log.Warn("requeued stuck summarization tasks", zap.Int64("count", n))
	}
}

// checkJob closes one job if every child is terminal. The watermark
// advances only on a clean run; a job that completed around failures
// leaves it alone so the next sync re-covers the same window.
func (c *Checker) checkJob(ctx context.Context, job *model.SyncJob) (bool, error) {
	pages, err := c.store.PageCounts(ctx, job.ID)
	if err != nil {
		return false, eris.Wrap(err, "checker: page counts")
	}
	if pages[model.PageStatusPending] > 0 ||
		pages[model.PageStatusProcessing] > 0 ||
		pages[model.PageStatusRetrying] > 0 {
		return false, nil
	}
	// A running job with no page rows at all has not planted page 1 yet.
	if pages[model.PageStatusCompleted]+pages[model.PageStatusFailed] == 0 {
		return false, nil
	}

	nonTerminal, err := c.store.NonTerminalStageCount(ctx, job.ID)
	if err != nil {
		return false, eris.Wrap(err, "checker: non-terminal stage count")
	}
	if nonTerminal > 0 {
		return false, nil
	}

	live, err := c.store.LiveSummarizationTaskCount(ctx, job.ID)
	if err != nil {
		return false, eris.Wrap(err, "checker: live summarization task count")
	}
	if live > 0 {
		return false, nil
	}

	failedRecords, err := c.store.FailedStageCount(ctx, job.ID)
	if err != nil {
		return false, eris.Wrap(err, "checker: failed stage count")
	}
	summarized, err := c.store.SummarizedStageCount(ctx, job.ID)
	if err != nil {
		return false, eris.Wrap(err, "checker: summarized stage count")
	}

	allPagesFailed := pages[model.PageStatusCompleted] == 0 && pages[model.PageStatusFailed] > 0
	allRecordsFailed := summarized == 0 && failedRecords > 0
	if allPagesFailed || allRecordsFailed {
		detail := model.NewErrorDetail(model.ErrorClassPermanent, "completion_check", "every child failed").
			WithContext("failed_pages", strconv.Itoa(pages[model.PageStatusFailed])).
			WithContext("failed_records", strconv.Itoa(failedRecords))
		won, err := c.store.FailJob(ctx, job.ID, detail)
		if err != nil {
			return false, eris.Wrap(err, "checker: fail job")
		}
		if won {
			c.log.Error("job failed, every child failed",
				zap.String("job_id", job.ID),
				zap.Int("failed_pages", pages[model.PageStatusFailed]),
				zap.Int("failed_records", failedRecords),
			)
		}
		return won, nil
	}

	won, err := c.store.CompleteJob(ctx, job.ID)
	if err != nil {
		return false, eris.Wrap(err, "checker: complete job")
	}
	if !won {
		return false, nil
	}

	clean := pages[model.PageStatusFailed] == 0 && failedRecords == 0
	if clean && job.StartedAt != nil {
		if err := c.store.AdvanceWatermark(ctx, job.AccountID, *job.StartedAt); err != nil {
			return true, eris.Wrap(err, "checker: advance watermark")
		}
	}

	c.log.Info("job completed",
		zap.String("job_id", job.ID),
		zap.String("tally", c.printer.Sprintf("%d conversations summarized, %d failed", summarized, failedRecords)),
		zap.Bool("watermark_advanced", clean && job.StartedAt != nil),
	)
	return true, nil
}
