// Package model defines the persisted types shared across the sync
// pipeline, the summarization engine, and the meeting dispatcher.
package model

import (
	"fmt"
	"time"
)

// SyncType distinguishes a first full backfill from a watermark-bounded pull.
type SyncType string

const (
	SyncTypeInitial     SyncType = "initial"
	SyncTypeIncremental SyncType = "incremental"
)

// JobStatus represents the lifecycle state of a sync job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// Terminal reports whether the job will not change state again.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Account holds a provider credential grant and the sync watermark for
// one mailbox owner.
type Account struct {
	ID           string     `json:"id"`
	Email        string     `json:"email"`
	GrantID      string     `json:"grant_id"`
	AccessToken  string     `json:"-"`
	CalendarID   string     `json:"calendar_id,omitempty"`
	LastSyncedAt *time.Time `json:"last_synced_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// SyncJob tracks one ingestion pass over an account's mailbox. Its
// counters are advisory progress for the dashboard; completion is decided
// by scanning child rows, never by comparing counters.
type SyncJob struct {
	ID           string       `json:"id"`
	AccountID    string       `json:"account_id"`
	SyncType     SyncType     `json:"sync_type"`
	Status       JobStatus    `json:"status"`
	PagesTotal   int          `json:"pages_total"`
	PagesDone    int          `json:"pages_done"`
	ThreadsTotal int          `json:"threads_total"`
	ThreadsDone  int          `json:"threads_done"`
	SyncFrom     *time.Time   `json:"sync_from,omitempty"`
	LastError    *ErrorDetail `json:"last_error,omitempty"`
	StartedAt    *time.Time   `json:"started_at,omitempty"`
	CompletedAt  *time.Time   `json:"completed_at,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// PageStatus represents the lifecycle state of a page task.
type PageStatus string

const (
	PageStatusPending    PageStatus = "pending"
	PageStatusProcessing PageStatus = "processing"
	PageStatusCompleted  PageStatus = "completed"
	PageStatusFailed     PageStatus = "failed"
	PageStatusRetrying   PageStatus = "retrying"
)

// Terminal reports whether the page task will not be picked up again.
func (s PageStatus) Terminal() bool {
	return s == PageStatusCompleted || s == PageStatusFailed
}

// PageTask is one unit of provider pagination. The idempotency key makes
// planting the same page twice a silent no-op.
type PageTask struct {
	ID             string       `json:"id"`
	JobID          string       `json:"job_id"`
	PageNumber     int          `json:"page_number"`
	IdempotencyKey string       `json:"idempotency_key"`
	PageToken      string       `json:"page_token"`
	Status         PageStatus   `json:"status"`
	Attempts       int          `json:"attempts"`
	NextRetryAt    *time.Time   `json:"next_retry_at,omitempty"`
	ClaimedAt      *time.Time   `json:"claimed_at,omitempty"`
	LastError      *ErrorDetail `json:"last_error,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

// PageIdempotencyKey builds the unique key for page n of a job.
func PageIdempotencyKey(jobID string, pageNumber int) string {
	return fmt.Sprintf("%s-page-%d", jobID, pageNumber)
}
