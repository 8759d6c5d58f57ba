package model

import "time"

// Stage is the advisory display state of a conversation. The stage
// booleans on StageRecord are authoritative; Stage is derived from them
// for the dashboard and never read for correctness decisions.
type Stage string

const (
	StagePending     Stage = "pending"
	StageImporting   Stage = "importing"
	StageResolving   Stage = "resolving"
	StageCleaning    Stage = "cleaning"
	StageChunking    Stage = "chunking"
	StageSummarizing Stage = "summarizing"
	StageCompleted   Stage = "completed"
	StageFailed      Stage = "failed"
)

// Valid reports whether s is a known stage value.
func (s Stage) Valid() bool {
	switch s {
	case StagePending, StageImporting, StageResolving, StageCleaning,
		StageChunking, StageSummarizing, StageCompleted, StageFailed:
		return true
	}
	return false
}

// StageFlags are the authoritative per-stage completion markers. Each
// boolean is monotonic: once true it never flips back, and re-running a
// completed stage is a no-op.
type StageFlags struct {
	Imported       bool       `json:"imported"`
	ImportedAt     *time.Time `json:"imported_at,omitempty"`
	Preprocessed   bool       `json:"preprocessed"`
	PreprocessedAt *time.Time `json:"preprocessed_at,omitempty"`
	BodyCleaned    bool       `json:"body_cleaned"`
	BodyCleanedAt  *time.Time `json:"body_cleaned_at,omitempty"`
	Chunked        bool       `json:"chunked"`
	ChunkedAt      *time.Time `json:"chunked_at,omitempty"`
	Summarized     bool       `json:"summarized"`
	SummarizedAt   *time.Time `json:"summarized_at,omitempty"`
}

// DeriveStage computes the advisory stage from the authoritative flags.
// A failed record keeps StageFailed regardless of flags.
func DeriveStage(f StageFlags, failed bool) Stage {
	switch {
	case failed:
		return StageFailed
	case f.Summarized:
		return StageCompleted
	case f.Chunked:
		return StageSummarizing
	case f.BodyCleaned:
		return StageChunking
	case f.Preprocessed:
		return StageCleaning
	case f.Imported:
		return StageResolving
	default:
		return StagePending
	}
}

// StageRecord is the per-conversation pipeline row. One exists per
// provider thread per account; page fetches upsert it and stage workers
// advance it.
type StageRecord struct {
	ID           string `json:"id"`
	JobID        string `json:"job_id"`
	AccountID    string `json:"account_id"`
	ThreadID     string `json:"thread_id"`
	Subject      string `json:"subject"`
	CurrentStage Stage  `json:"current_stage"`
	StageFlags
	Attempts     int            `json:"attempts"`
	NextRetryAt  *time.Time     `json:"next_retry_at,omitempty"`
	ClaimedAt    *time.Time     `json:"claimed_at,omitempty"`
	LastError    *ErrorDetail   `json:"last_error,omitempty"`
	RawPayload   []byte         `json:"-"`
	Participants []Participant  `json:"participants,omitempty"`
	Chunks       []string       `json:"chunks,omitempty"`
	Summary      *ThreadSummary `json:"summary,omitempty"`
	MessageCount int            `json:"message_count"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// Terminal reports whether the record needs no further pipeline work.
func (r *StageRecord) Terminal() bool {
	return r.Summarized || r.CurrentStage == StageFailed
}

// TaskStatus represents the lifecycle state of a summarization task.
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
)

// Live reports whether the task still occupies the one-per-conversation slot.
func (s TaskStatus) Live() bool {
	return s == TaskStatusPending || s == TaskStatusProcessing
}

// SummarizationTask queues one conversation for the summarize worker. At
// most one live task exists per conversation, enforced by a partial
// unique index rather than by pre-checks.
type SummarizationTask struct {
	ID             string       `json:"id"`
	StageRecordID  string       `json:"stage_record_id"`
	JobID          string       `json:"job_id"`
	Status         TaskStatus   `json:"status"`
	NeedsMapReduce bool         `json:"needs_map_reduce"`
	Attempts       int          `json:"attempts"`
	NextRetryAt    *time.Time   `json:"next_retry_at,omitempty"`
	ClaimedAt      *time.Time   `json:"claimed_at,omitempty"`
	LastError      *ErrorDetail `json:"last_error,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}
