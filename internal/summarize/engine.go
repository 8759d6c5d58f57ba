// Package summarize turns chunked conversations into structured
// summaries. Single-chunk conversations go out in one structured call;
// long ones fan out a map phase over the chunks and reduce the digests
// into the same JSON shape. One claimed task is one attempt: HTTP-level
// retries stay inside the claim, cross-claim retries go through the
// shared backoff planner.
package summarize

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/inbox-sync/internal/model"
	"github.com/sells-group/inbox-sync/internal/resilience"
	"github.com/sells-group/inbox-sync/pkg/anthropic"
)

// notReadyDelay spaces out reclaims of a task whose record has not been
// marked chunked yet.
const notReadyDelay = time.Minute

// engineStore is the slice of the store the summarize engine needs.
type engineStore interface {
	ClaimNextSummarizationTask(ctx context.Context) (*model.SummarizationTask, error)
	CompleteSummarizationTask(ctx context.Context, id string) error
	RetrySummarizationTask(ctx context.Context, id string, attempts int, nextRetryAt time.Time, detail *model.ErrorDetail) error
	FailSummarizationTask(ctx context.Context, id string, detail *model.ErrorDetail) error

	GetStageRecord(ctx context.Context, id string) (*model.StageRecord, error)
	MarkSummarized(ctx context.Context, id string, summary *model.ThreadSummary) error
	FailStageRecord(ctx context.Context, id string, detail *model.ErrorDetail) error

	IncrementThreadsDone(ctx context.Context, id string) error
	RecordLLMUsage(ctx context.Context, operation, model string, inputTokens, outputTokens int64, costUSD float64) error
}

// Config sizes the engine's model calls.
type Config struct {
	// Model is the Anthropic model id used for every call.
	Model string
	// MaxTokens bounds each response.
	MaxTokens int64
	// MapConcurrency bounds parallel chunk calls on the map path.
	MapConcurrency int
	// Retry covers model calls made while a task claim is held. The
	// zero value selects DefaultRetryConfig.
	Retry resilience.RetryConfig
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		Model:          "claude-sonnet-4-5-20250929",
		MaxTokens:      4096,
		MapConcurrency: 4,
	}
}

// Engine drives summarization tasks to a terminal state.
type Engine struct {
	store  engineStore
	llm    anthropic.Client
	cfg    Config
	policy resilience.BackoffPolicy
	retry  resilience.RetryConfig
	log    *zap.Logger
}

// NewEngine creates a summarize engine. Zero config fields take the
// defaults.
func NewEngine(st engineStore, llm anthropic.Client, cfg Config, policy resilience.BackoffPolicy) *Engine {
	def := DefaultConfig()
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = def.MaxTokens
	}
	if cfg.MapConcurrency <= 0 {
		cfg.MapConcurrency = def.MapConcurrency
	}

	retry := cfg.Retry
	if retry.MaxAttempts == 0 {
		retry = resilience.DefaultRetryConfig()
	}
	retry.OnRetry = resilience.RetryLogger("anthropic", "create_message")

	return &Engine{
		store:  st,
		llm:    llm,
		cfg:    cfg,
		policy: policy,
		retry:  retry,
		log:    zap.L().With(zap.String("component", "summarizer")),
	}
}

// RunOnce claims and processes one summarization task. Returns false
// when nothing is eligible.
func (e *Engine) RunOnce(ctx context.Context) (bool, error) {
	task, err := e.store.ClaimNextSummarizationTask(ctx)
	if err != nil {
		return false, eris.Wrap(err, "summarize: claim task")
	}
	if task == nil {
		return false, nil
	}
	return true, e.run(ctx, task)
}

func (e *Engine) run(ctx context.Context, task *model.SummarizationTask) error {
	rec, err := e.store.GetStageRecord(ctx, task.StageRecordID)
	if err != nil {
		return e.releaseFailed(ctx, task, nil, err, "load_record")
	}
	if rec == nil {
		detail := model.NewErrorDetail(model.ErrorClassValidation, "load_record", "stage record missing")
		return e.failTask(ctx, task, detail)
	}

	// Stale and early claims converge here instead of summarizing.
	switch {
	case rec.Summarized:
		if err := e.store.CompleteSummarizationTask(ctx, task.ID); err != nil {
			return eris.Wrap(err, "summarize: complete stale task")
		}
		e.log.Info("stale task completed, summary already persisted",
			zap.String("task_id", task.ID),
			zap.String("record_id", rec.ID),
		)
		return nil
	case rec.CurrentStage == model.StageFailed:
		detail := model.NewErrorDetail(model.ErrorClassPermanent, "load_record", "stage record already failed")
		return e.failTask(ctx, task, detail)
	case !rec.Chunked:
		// The task row lands before the chunked flag does. Attempts are
		// left alone; the task is waiting on the processor, not failing.
		detail := model.NewErrorDetail(model.ErrorClassTransient, "load_record", "record not chunked yet")
		if err := e.store.RetrySummarizationTask(ctx, task.ID, task.Attempts, time.Now().UTC().Add(notReadyDelay), detail); err != nil {
			return eris.Wrap(err, "summarize: defer task")
		}
		return nil
	case len(rec.Chunks) == 0:
		detail := model.NewErrorDetail(model.ErrorClassValidation, "summarize", "empty transcript")
		return e.failBoth(ctx, task, rec, detail)
	}

	// The chunk list decides the path; needs_map_reduce is routing
	// advice recorded at chunk time.
	var summary *model.ThreadSummary
	if len(rec.Chunks) > 1 {
		summary, err = e.mapReduce(ctx, rec)
	} else {
		summary, err = e.summarizeWhole(ctx, rec)
	}
	if err != nil {
		return e.releaseFailed(ctx, task, rec, err, "summarize")
	}

	if err := e.store.MarkSummarized(ctx, rec.ID, summary); err != nil {
		return eris.Wrap(err, "summarize: mark summarized")
	}
	if err := e.store.IncrementThreadsDone(ctx, task.JobID); err != nil {
		return eris.Wrap(err, "summarize: bump threads done")
	}
	if err := e.store.CompleteSummarizationTask(ctx, task.ID); err != nil {
		return eris.Wrap(err, "summarize: complete task")
	}

	e.log.Info("conversation summarized",
		zap.String("record_id", rec.ID),
		zap.String("thread_id", rec.ThreadID),
		zap.Int("chunks", len(rec.Chunks)),
		zap.String("resolution", string(summary.ResolutionStatus)),
	)
	return nil
}

// summarizeWhole is the short path: the whole transcript fit one chunk.
func (e *Engine) summarizeWhole(ctx context.Context, rec *model.StageRecord) (*model.ThreadSummary, error) {
	system := anthropic.BuildCachedSystemBlocks(summarySystemText)
	return e.structuredCall(ctx, "summarize", system, fmt.Sprintf(summaryPrompt, rec.Chunks[0]))
}

// mapReduce digests each chunk in parallel, then reduces the digests
// into the final summary. A failed chunk is dropped from the reduce
// input; the attempt fails only when every chunk failed.
func (e *Engine) mapReduce(ctx context.Context, rec *model.StageRecord) (*model.ThreadSummary, error) {
	system := anthropic.BuildCachedSystemBlocks(mapSystemText)

	partials := make([]string, len(rec.Chunks))
	errs := make([]error, len(rec.Chunks))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.MapConcurrency)
	for i, chunk := range rec.Chunks {
		g.Go(func() error {
			prompt := fmt.Sprintf(mapPrompt, i+1, len(rec.Chunks), chunk)
			text, err := e.complete(gCtx, "summarize_map", system, []anthropic.Message{{Role: "user", Content: prompt}})
			if err != nil {
				errs[i] = err
				e.log.Warn("chunk digest failed",
					zap.String("record_id", rec.ID),
					zap.Int("chunk", i),
					zap.Error(err),
				)
				return nil // Dropped chunks degrade the summary, not the attempt.
			}
			partials[i] = text
			return nil
		})
	}
	_ = g.Wait()

	kept := make([]string, 0, len(partials))
	for _, p := range partials {
		if strings.TrimSpace(p) != "" {
			kept = append(kept, p)
		}
	}
	if len(kept) == 0 {
		for _, err := range errs {
			if err != nil {
				return nil, err
			}
		}
		return nil, eris.New("summarize: every chunk digest failed")
	}
	if len(kept) < len(rec.Chunks) {
		e.log.Warn("summarizing with partial coverage",
			zap.String("record_id", rec.ID),
			zap.Int("chunks", len(rec.Chunks)),
			zap.Int("digested", len(kept)),
		)
	}

	reduceSystem := anthropic.BuildCachedSystemBlocks(summarySystemText)
	prompt := fmt.Sprintf(reducePrompt, strings.Join(kept, "\n\n---\n\n"))
	return e.structuredCall(ctx, "summarize_reduce", reduceSystem, prompt)
}

// structuredCall runs one JSON-returning call with a single corrective
// reprompt on a malformed response.
func (e *Engine) structuredCall(ctx context.Context, phase string, system []anthropic.SystemBlock, prompt string) (*model.ThreadSummary, error) {
	msgs := []anthropic.Message{{Role: "user", Content: prompt}}
	text, err := e.complete(ctx, phase, system, msgs)
	if err != nil {
		return nil, err
	}

	summary, perr := parseSummary(text)
	if perr == nil {
		return summary, nil
	}

	e.log.Warn("malformed summary response, reprompting",
		zap.String("phase", phase),
		zap.Error(perr),
	)
	msgs = append(msgs,
		anthropic.Message{Role: "assistant", Content: text},
		anthropic.Message{Role: "user", Content: repromptText},
	)
	text, err = e.complete(ctx, phase+"_reprompt", system, msgs)
	if err != nil {
		return nil, err
	}
	summary, perr = parseSummary(text)
	if perr != nil {
		// Structured output is nondeterministic; a fresh attempt may parse.
		return nil, resilience.NewTransientError(perr, 0)
	}
	return summary, nil
}

// complete issues one model call with in-process retries and records
// the spend before returning the response text.
func (e *Engine) complete(ctx context.Context, phase string, system []anthropic.SystemBlock, msgs []anthropic.Message) (string, error) {
	resp, err := resilience.DoVal(ctx, e.retry, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		return e.llm.CreateMessage(ctx, anthropic.MessageRequest{
			Model:     e.cfg.Model,
			MaxTokens: e.cfg.MaxTokens,
			System:    system,
			Messages:  msgs,
		})
	})
	if err != nil {
		return "", err
	}

	resp.Usage.LogCost(e.cfg.Model, phase)
	cost := resp.Usage.EstimateCost(e.cfg.Model)
	if err := e.store.RecordLLMUsage(ctx, phase, e.cfg.Model, resp.Usage.InputTokens, resp.Usage.OutputTokens, cost); err != nil {
		e.log.Warn("record llm usage", zap.Error(err))
	}
	return resp.Text(), nil
}

// releaseFailed plans the next move for a failed attempt. rec may be
// nil when the record could not be loaded.
func (e *Engine) releaseFailed(ctx context.Context, task *model.SummarizationTask, rec *model.StageRecord, cause error, operation string) error {
	attempts := task.Attempts + 1
	plan := e.policy.Plan(cause, operation, attempts)

	if plan.Retry {
		if err := e.store.RetrySummarizationTask(ctx, task.ID, attempts, plan.NextRetryAt, plan.Detail); err != nil {
			return eris.Wrap(err, "summarize: schedule retry")
		}
		e.log.Warn("summarization failed, retry scheduled",
			zap.String("task_id", task.ID),
			zap.String("record_id", task.StageRecordID),
			zap.Int("attempts", attempts),
			zap.Time("next_retry_at", plan.NextRetryAt),
			zap.Error(cause),
		)
		return nil
	}

	if rec != nil {
		return e.failBoth(ctx, task, rec, plan.Detail)
	}
	return e.failTask(ctx, task, plan.Detail)
}

// failBoth fails the record first. A crash after only the task write
// would leave a chunked, unfailed record that nothing re-claims.
func (e *Engine) failBoth(ctx context.Context, task *model.SummarizationTask, rec *model.StageRecord, detail *model.ErrorDetail) error {
	if err := e.store.FailStageRecord(ctx, rec.ID, detail); err != nil {
		return eris.Wrap(err, "summarize: fail record")
	}
	return e.failTask(ctx, task, detail)
}

func (e *Engine) failTask(ctx context.Context, task *model.SummarizationTask, detail *model.ErrorDetail) error {
	if err := e.store.FailSummarizationTask(ctx, task.ID, detail); err != nil {
		return eris.Wrap(err, "summarize: fail task")
	}
	e.log.Error("summarization failed permanently",
		zap.String("task_id", task.ID),
		zap.String("record_id", task.StageRecordID),
		zap.String("reason", detail.Message),
	)
	return nil
}
