package summarize

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/inbox-sync/internal/model"
	"github.com/sells-group/inbox-sync/pkg/anthropic"
)

// mockStore covers the slice of the store the engine consumes.
type mockStore struct {
	mock.Mock
}

func (m *mockStore) ClaimNextSummarizationTask(ctx context.Context) (*model.SummarizationTask, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.SummarizationTask), args.Error(1)
}

func (m *mockStore) CompleteSummarizationTask(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockStore) RetrySummarizationTask(ctx context.Context, id string, attempts int, nextRetryAt time.Time, detail *model.ErrorDetail) error {
	return m.Called(ctx, id, attempts, nextRetryAt, detail).Error(0)
}

func (m *mockStore) FailSummarizationTask(ctx context.Context, id string, detail *model.ErrorDetail) error {
	return m.Called(ctx, id, detail).Error(0)
}

func (m *mockStore) GetStageRecord(ctx context.Context, id string) (*model.StageRecord, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.StageRecord), args.Error(1)
}

func (m *mockStore) MarkSummarized(ctx context.Context, id string, summary *model.ThreadSummary) error {
	return m.Called(ctx, id, summary).Error(0)
}

func (m *mockStore) FailStageRecord(ctx context.Context, id string, detail *model.ErrorDetail) error {
	return m.Called(ctx, id, detail).Error(0)
}

func (m *mockStore) IncrementThreadsDone(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockStore) RecordLLMUsage(ctx context.Context, operation, model string, inputTokens, outputTokens int64, costUSD float64) error {
	return m.Called(ctx, operation, model, inputTokens, outputTokens, costUSD).Error(0)
}

func testTask() *model.SummarizationTask {
	return &model.SummarizationTask{
		ID:            "task-1",
		StageRecordID: "rec-1",
		JobID:         "job-1",
		Status:        model.TaskStatusProcessing,
	}
}

func testRecord(chunks ...string) *model.StageRecord {
	return &model.StageRecord{
		ID:           "rec-1",
		JobID:        "job-1",
		AccountID:    "acct-1",
		ThreadID:     "thr-1",
		Subject:      "Billing issue",
		CurrentStage: model.StageSummarizing,
		StageFlags: model.StageFlags{
			Imported:     true,
			Preprocessed: true,
			BodyCleaned:  true,
			Chunked:      true,
		},
		Chunks: chunks,
	}
}

func llmResponse(text string) *anthropic.MessageResponse {
	return &anthropic.MessageResponse{
		ID:    "msg-1",
		Model: "claude-sonnet-4-5-20250929",
		Content: []anthropic.ContentBlock{
			{Type: "text", Text: text},
		},
		StopReason: "end_turn",
		Usage: anthropic.TokenUsage{
			InputTokens:  1200,
			OutputTokens: 300,
		},
	}
}

const validSummaryJSON = `{
  "problem_statement": "Customer was double charged for the March invoice.",
  "participants": ["alice@acme.com", "support@sellsgroup.com"],
  "key_events": [
    {"timestamp": "2026-03-02T10:15:00Z", "description": "Customer reported a duplicate charge."},
    {"timestamp": "2026-03-03T09:00:00Z", "description": "Refund issued."}
  ],
  "resolution_status": "resolved",
  "sentiment": {"category": "positive", "score": 0.6},
  "action_items": [
    {"text": "Confirm the refund posted", "owner": "support@sellsgroup.com", "due_date": "2026-03-10"}
  ],
  "feature_requests": [],
  "follow_up_required": false
}`
