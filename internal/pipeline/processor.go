package pipeline

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/inbox-sync/internal/entity"
	"github.com/sells-group/inbox-sync/internal/model"
	"github.com/sells-group/inbox-sync/internal/resilience"
	"github.com/sells-group/inbox-sync/pkg/nylas"
)

// processorStore is the slice of the store the stage processor needs.
type processorStore interface {
	GetAccount(ctx context.Context, id string) (*model.Account, error)

	ClaimNextStageRecord(ctx context.Context, jobID string) (*model.StageRecord, error)
	ReleaseStageRecord(ctx context.Context, id string) error
	MarkImported(ctx context.Context, id string, participants []model.Participant, messageCount int) error
	MarkPreprocessed(ctx context.Context, id string) error
	MarkBodyCleaned(ctx context.Context, id string) error
	MarkChunked(ctx context.Context, id string, chunks []string) error
	RetryStageRecord(ctx context.Context, id string, attempts int, nextRetryAt time.Time, detail *model.ErrorDetail) error
	FailStageRecord(ctx context.Context, id string, detail *model.ErrorDetail) error

	UpsertMessages(ctx context.Context, msgs []*model.Message) (int64, error)
	ListMessagesByRecord(ctx context.Context, recordID string) ([]*model.Message, error)
	SetCleanBody(ctx context.Context, id, cleanBody string) error
	LinkMessageCustomer(ctx context.Context, recordID, fromEmail, customerID string) error

	CreateSummarizationTask(ctx context.Context, recordID, jobID string, needsMapReduce bool) (bool, error)
}

// participantResolver matches entity.Resolver.
type participantResolver interface {
	Resolve(ctx context.Context, accountID, accountEmail string, participants []model.Participant) (*entity.Result, error)
}

// Processor runs the per-conversation stages: import message bodies,
// resolve participants to companies and customers, clean quoted noise
// out of bodies, and chunk the transcript for summarization. A claimed
// record resumes from its first incomplete stage, so a retried record
// never repeats work an earlier attempt finished.
type Processor struct {
	store    processorStore
	nylas    nylas.Client
	resolver participantResolver
	cleaner  *Cleaner
	limit    int
	policy   resilience.BackoffPolicy
	retry    resilience.RetryConfig
	log      *zap.Logger
}

// ProcessorConfig tunes the stage processor.
type ProcessorConfig struct {
	// ChunkTokenLimit is the per-chunk token budget; zero or negative
	// selects the default.
	ChunkTokenLimit int
	// Retry covers provider calls made while a record claim is held. The
	// zero value selects DefaultRetryConfig.
	Retry resilience.RetryConfig
}

// NewProcessor creates a stage processor.
func NewProcessor(st processorStore, client nylas.Client, res participantResolver, cleaner *Cleaner, cfg ProcessorConfig, policy resilience.BackoffPolicy) *Processor {
	if cfg.ChunkTokenLimit <= 0 {
		cfg.ChunkTokenLimit = DefaultChunkTokenLimit
	}
	if cleaner == nil {
		cleaner = defaultCleaner()
	}
	retry := cfg.Retry
	if retry.MaxAttempts == 0 {
		retry = resilience.DefaultRetryConfig()
	}
	retry.OnRetry = resilience.RetryLogger("nylas", "list_messages")
	return &Processor{
		store:    st,
		nylas:    client,
		resolver: res,
		cleaner:  cleaner,
		limit:    cfg.ChunkTokenLimit,
		policy:   policy,
		retry:    retry,
		log:      zap.L().With(zap.String("component", "processor")),
	}
}

// RunOnce claims and processes one stage record. jobID narrows the claim
// to a single job; "" claims across all jobs. Returns false when no
// record was eligible.
func (p *Processor) RunOnce(ctx context.Context, jobID string) (bool, error) {
	rec, err := p.store.ClaimNextStageRecord(ctx, jobID)
	if err != nil {
		return false, eris.Wrap(err, "processor: claim stage record")
	}
	if rec == nil {
		return false, nil
	}
	return true, p.process(ctx, rec)
}

// process runs every incomplete stage in order. A stage failure stops
// the pass; the record resumes at the failed stage on its next claim.
func (p *Processor) process(ctx context.Context, rec *model.StageRecord) error {
	account, err := p.store.GetAccount(ctx, rec.AccountID)
	if err != nil {
		return p.releaseFailed(ctx, rec, "load_account", eris.Wrap(err, "processor: get account"))
	}
	if account == nil {
		return p.releaseFailed(ctx, rec, "load_account", eris.Errorf("processor: account %s not found", rec.AccountID))
	}

	if !rec.Imported {
		if err := p.stageImport(ctx, rec, account); err != nil {
			return p.releaseFailed(ctx, rec, "import", err)
		}
	}
	if !rec.Preprocessed {
		if err := p.stageResolve(ctx, rec, account); err != nil {
			return p.releaseFailed(ctx, rec, "resolve", err)
		}
	}
	if !rec.BodyCleaned {
		if err := p.stageClean(ctx, rec); err != nil {
			return p.releaseFailed(ctx, rec, "clean", err)
		}
	}
	if !rec.Chunked {
		if err := p.stageChunk(ctx, rec); err != nil {
			return p.releaseFailed(ctx, rec, "chunk", err)
		}
	}

	if err := p.store.ReleaseStageRecord(ctx, rec.ID); err != nil {
		return eris.Wrap(err, "processor: release stage record")
	}
	p.log.Info("record processed",
		zap.String("record_id", rec.ID),
		zap.String("thread_id", rec.ThreadID),
		zap.Int("messages", rec.MessageCount),
		zap.Int("chunks", len(rec.Chunks)),
	)
	return nil
}

// releaseFailed persists the retry plan for a failed stage attempt. The
// claim is released by the status write; the error itself is absorbed
// into the record row rather than bubbling to the worker loop.
func (p *Processor) releaseFailed(ctx context.Context, rec *model.StageRecord, operation string, cause error) error {
	attempts := rec.Attempts + 1
	plan := p.policy.Plan(cause, operation, attempts)

	if plan.Retry {
		if err := p.store.RetryStageRecord(ctx, rec.ID, attempts, plan.NextRetryAt, plan.Detail); err != nil {
			return eris.Wrap(err, "processor: retry stage record")
		}
		p.log.Warn("stage failed, retry scheduled",
			zap.String("record_id", rec.ID),
			zap.String("operation", operation),
			zap.Int("attempts", attempts),
			zap.Time("next_retry_at", plan.NextRetryAt),
			zap.Error(cause),
		)
		return nil
	}

	if err := p.store.FailStageRecord(ctx, rec.ID, plan.Detail); err != nil {
		return eris.Wrap(err, "processor: fail stage record")
	}
	p.log.Error("stage failed permanently",
		zap.String("record_id", rec.ID),
		zap.String("operation", operation),
		zap.Int("attempts", attempts),
		zap.Error(cause),
	)
	return nil
}
