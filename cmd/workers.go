package main

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/inbox-sync/internal/entity"
	"github.com/sells-group/inbox-sync/internal/meetings"
	"github.com/sells-group/inbox-sync/internal/pipeline"
	"github.com/sells-group/inbox-sync/internal/summarize"
)

// maxDrainPerRequest bounds one API-triggered drain pass.
const maxDrainPerRequest = 32

// drainStep claims and processes at most one unit of work, reporting
// whether a unit was observed.
type drainStep func(ctx context.Context) (bool, error)

// runnerSet groups the claim loops by queue.
type runnerSet struct {
	Pages     drainStep
	Stages    drainStep
	Summaries drainStep
	Meetings  drainStep
}

// step returns the claim loop for a queue name.
func (rs *runnerSet) step(name string) (drainStep, bool) {
	switch name {
	case "pages":
		return rs.Pages, true
	case "stages":
		return rs.Stages, true
	case "summaries":
		return rs.Summaries, true
	case "meetings":
		return rs.Meetings, true
	}
	return nil, false
}

// workerSet is the background machinery for one process: the four claim
// loops plus the maintenance sweeps that start jobs, close them out, and
// unstick abandoned claims.
type workerSet struct {
	Runners   *runnerSet
	fetcher   *pipeline.Fetcher
	checker   *pipeline.Checker
	recoverer *meetings.Recoverer
}

// buildWorkers wires the pipeline onto one env.
func buildWorkers(env *appEnv) (*workerSet, error) {
	rules := pipeline.DefaultCleanRules()
	if path := cfg.Pipeline.CleanRulesPath; path != "" {
		loaded, err := pipeline.LoadCleanRules(path)
		if err != nil {
			return nil, err
		}
		rules = loaded
	}
	cleaner, err := pipeline.NewCleaner(rules)
	if err != nil {
		return nil, err
	}

	fetcher := pipeline.NewFetcher(env.Store, env.Nylas, pipeline.FetcherConfig{
		DefaultLookback: time.Duration(cfg.Sync.DefaultLookbackDays) * 24 * time.Hour,
		WatermarkBuffer: time.Duration(cfg.Sync.WatermarkBufferHours) * time.Hour,
		PageSize:        cfg.Sync.PageSize,
		Retry:           env.Retry,
	}, env.Policy)

	resolver := entity.NewResolver(env.Store, nil)
	processor := pipeline.NewProcessor(env.Store, env.Nylas, resolver, cleaner, pipeline.ProcessorConfig{
		ChunkTokenLimit: cfg.Pipeline.ChunkTokenLimit,
		Retry:           env.Retry,
	}, env.Policy)

	engine := summarize.NewEngine(env.Store, env.LLM, summarize.Config{
		Model:          cfg.Anthropic.Model,
		MaxTokens:      int64(cfg.Anthropic.MaxTokens),
		MapConcurrency: cfg.Summarize.MapConcurrency,
		Retry:          env.Retry,
	}, env.Policy)

	dispatcher := meetings.NewDispatcher(env.Store, env.Recall, meetingsConfig(), env.Policy)

	return &workerSet{
		Runners: &runnerSet{
			Pages: fetcher.RunOnce,
			Stages: func(ctx context.Context) (bool, error) {
				return processor.RunOnce(ctx, "")
			},
			Summaries: engine.RunOnce,
			Meetings:  dispatcher.RunOnce,
		},
		fetcher:   fetcher,
		checker:   pipeline.NewChecker(env.Store, 0),
		recoverer: meetings.NewRecoverer(env.Store, env.Recall, meetingsConfig()),
	}, nil
}

// meetingsConfig converts the config block into dispatcher knobs.
func meetingsConfig() meetings.Config {
	return meetings.Config{
		JoinOffset:        time.Duration(cfg.Meetings.JoinOffsetMins) * time.Minute,
		Debounce:          time.Duration(cfg.Meetings.DebounceMins) * time.Minute,
		StuckScheduling:   time.Duration(cfg.Meetings.StuckSchedulingMins) * time.Minute,
		StuckRescheduling: time.Duration(cfg.Meetings.StuckReschedulingMins) * time.Minute,
		MaxRetries:        cfg.Meetings.MaxRetries,
		BotName:           cfg.Recall.BotName,
	}
}

// Maintain runs one sweep of the job-level bookkeeping: promote pending
// jobs, close or fail finished ones, requeue stuck claims, unstick
// abandoned meetings. Failures are logged and retried on the next tick.
func (ws *workerSet) Maintain(ctx context.Context) {
	log := zap.L().With(zap.String("component", "maintenance"))
	if _, err := ws.fetcher.StartPendingJobs(ctx); err != nil {
		log.Warn("start pending jobs", zap.Error(err))
	}
	if _, err := ws.checker.RunOnce(ctx); err != nil {
		log.Warn("job checker", zap.Error(err))
	}
	if _, err := ws.recoverer.RunOnce(ctx); err != nil {
		log.Warn("meeting recovery", zap.Error(err))
	}
}

// Run drives the worker pools and the maintenance ticker until ctx is
// cancelled.
func (ws *workerSet) Run(ctx context.Context) error {
	poll := time.Duration(cfg.Worker.PollIntervalSecs) * time.Second
	g, gctx := errgroup.WithContext(ctx)

	pools := []struct {
		name string
		n    int
		step drainStep
	}{
		{"pages", cfg.Worker.PageWorkers, ws.Runners.Pages},
		{"stages", cfg.Worker.StageWorkers, ws.Runners.Stages},
		{"summaries", cfg.Worker.SummaryWorkers, ws.Runners.Summaries},
		{"meetings", cfg.Worker.MeetingWorkers, ws.Runners.Meetings},
	}
	for _, pool := range pools {
		for i := 0; i < pool.n; i++ {
			name, step := pool.name, pool.step
			g.Go(func() error {
				workerLoop(gctx, name, step, poll)
				return nil
			})
		}
	}

	g.Go(func() error {
		ticker := time.NewTicker(time.Duration(cfg.Worker.CheckerSecs) * time.Second)
		defer ticker.Stop()
		ws.Maintain(gctx)
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				ws.Maintain(gctx)
			}
		}
	})

	zap.L().Info("workers started",
		zap.Int("page_workers", cfg.Worker.PageWorkers),
		zap.Int("stage_workers", cfg.Worker.StageWorkers),
		zap.Int("summary_workers", cfg.Worker.SummaryWorkers),
		zap.Int("meeting_workers", cfg.Worker.MeetingWorkers),
	)
	return g.Wait()
}

// workerLoop drives one claim loop until ctx ends. A processed unit
// re-polls immediately; an idle or failed pass waits out the poll
// interval.
func workerLoop(ctx context.Context, name string, step drainStep, idle time.Duration) {
	log := zap.L().With(zap.String("worker", name))
	for {
		if ctx.Err() != nil {
			return
		}
		worked, err := step(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error("work unit failed", zap.Error(err))
		} else if worked {
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(idle):
		}
	}
}

// drainResult summarizes one bounded drain pass.
type drainResult struct {
	Claimed   int `json:"claimed"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// drain runs step until the queue is idle, an error ends the pass, or
// max units have been claimed. max <= 0 means unbounded.
func drain(ctx context.Context, step drainStep, max int) drainResult {
	var res drainResult
	for max <= 0 || res.Claimed < max {
		worked, err := step(ctx)
		if err != nil {
			if worked {
				res.Claimed++
			}
			res.Failed++
			zap.L().Warn("drain step failed", zap.Error(err))
			break
		}
		if !worked {
			break
		}
		res.Claimed++
		res.Succeeded++
	}
	return res
}

// drainAll runs pipeline passes until a full round claims nothing, then
// a final maintenance sweep closes finished jobs out.
func drainAll(ctx context.Context, ws *workerSet) error {
	for {
		ws.Maintain(ctx)
		claimed := drain(ctx, ws.Runners.Pages, 0).Claimed +
			drain(ctx, ws.Runners.Stages, 0).Claimed +
			drain(ctx, ws.Runners.Summaries, 0).Claimed +
			drain(ctx, ws.Runners.Meetings, 0).Claimed
		if claimed == 0 {
			ws.Maintain(ctx)
			return ctx.Err()
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}
