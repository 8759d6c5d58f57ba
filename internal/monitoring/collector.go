// Package monitoring periodically snapshots pipeline health and pushes
// webhook alerts when thresholds are breached.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/inbox-sync/internal/model"
)

// MetricsSnapshot holds a point-in-time view of system health.
type MetricsSnapshot struct {
	// Sync job metrics (within lookback window).
	JobsTotal     int     `json:"jobs_total"`
	JobsRunning   int     `json:"jobs_running"`
	JobsCompleted int     `json:"jobs_completed"`
	JobsFailed    int     `json:"jobs_failed"`
	JobFailRate   float64 `json:"job_fail_rate"`

	// Stage record metrics (within lookback window).
	RecordsTotal   int     `json:"records_total"`
	RecordsDone    int     `json:"records_done"`
	RecordsFailed  int     `json:"records_failed"`
	RecordFailRate float64 `json:"record_fail_rate"`

	// Queued summarization tasks, regardless of age.
	SummarizationBacklog int `json:"summarization_backlog"`

	// Meeting bot state, regardless of age.
	MeetingsByStatus map[model.MeetingStatus]int `json:"meetings_by_status"`
	MeetingsInError  int                         `json:"meetings_in_error"`

	// LLM spend within the window.
	LLMCostUSD float64 `json:"llm_cost_usd"`

	// Metadata.
	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

type collectorStore interface {
	CountJobsByStatus(ctx context.Context, since time.Time) (map[model.JobStatus]int, error)
	CountStageRecordsByStage(ctx context.Context, since time.Time) (map[model.Stage]int, error)
	SummarizationBacklog(ctx context.Context) (int, error)
	CountMeetingsByStatus(ctx context.Context) (map[model.MeetingStatus]int, error)
	SumLLMCost(ctx context.Context, since time.Time) (float64, error)
}

// Collector gathers metrics from the store.
type Collector struct {
	store collectorStore
}

// NewCollector creates a new metrics collector.
func NewCollector(st collectorStore) *Collector {
	return &Collector{store: st}
}

// Collect gathers a snapshot of system metrics over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   time.Now().UTC(),
	}
	cutoff := snap.CollectedAt.Add(-time.Duration(lookbackHours) * time.Hour)

	jobs, err := c.store.CountJobsByStatus(ctx, cutoff)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: count jobs")
	}
	for _, n := range jobs {
		snap.JobsTotal += n
	}
	snap.JobsRunning = jobs[model.JobStatusRunning]
	snap.JobsCompleted = jobs[model.JobStatusCompleted]
	snap.JobsFailed = jobs[model.JobStatusFailed]
	if finished := snap.JobsCompleted + snap.JobsFailed; finished > 0 {
		snap.JobFailRate = float64(snap.JobsFailed) / float64(finished)
	}

	records, err := c.store.CountStageRecordsByStage(ctx, cutoff)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: count stage records")
	}
	for _, n := range records {
		snap.RecordsTotal += n
	}
	snap.RecordsDone = records[model.StageCompleted]
	snap.RecordsFailed = records[model.StageFailed]
	if finished := snap.RecordsDone + snap.RecordsFailed; finished > 0 {
		snap.RecordFailRate = float64(snap.RecordsFailed) / float64(finished)
	}

	backlog, err := c.store.SummarizationBacklog(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: summarization backlog")
	}
	snap.SummarizationBacklog = backlog

	meetings, err := c.store.CountMeetingsByStatus(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: count meetings")
	}
	snap.MeetingsByStatus = meetings
	snap.MeetingsInError = meetings[model.MeetingStatusError]

	cost, err := c.store.SumLLMCost(ctx, cutoff)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: sum llm cost")
	}
	snap.LLMCostUSD = cost

	return snap, nil
}
