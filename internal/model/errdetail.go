package model

import "time"

// ErrorClass is the taxonomy bucket recorded with every persisted
// failure. The values appear in last_error JSON consumed by the
// dashboard.
type ErrorClass string

const (
	// ErrorClassAuth marks credential failures. Terminal: the unit and
	// its parent job fail without retry.
	ErrorClassAuth ErrorClass = "auth"
	// ErrorClassInfra marks infrastructure-level transient failures
	// (pool exhaustion, dial timeouts). Retried on a longer backoff.
	ErrorClassInfra ErrorClass = "infra"
	// ErrorClassTransient marks ordinary retryable failures.
	ErrorClassTransient ErrorClass = "transient"
	// ErrorClassValidation marks malformed input. The unit is marked
	// processed without effect and never retried.
	ErrorClassValidation ErrorClass = "validation"
	// ErrorClassPermanent marks everything else. No retry.
	ErrorClassPermanent ErrorClass = "permanent"
)

// ErrorDetail is the structured failure object persisted as last_error
// on jobs, pages, stage records, summarization tasks, and meetings.
type ErrorDetail struct {
	Type      ErrorClass        `json:"type"`
	Message   string            `json:"message"`
	Operation string            `json:"operation"`
	Context   map[string]string `json:"context,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// NewErrorDetail builds a detail for one failing operation.
func NewErrorDetail(class ErrorClass, operation, message string) *ErrorDetail {
	return &ErrorDetail{
		Type:      class,
		Message:   message,
		Operation: operation,
		Timestamp: time.Now().UTC(),
	}
}

// WithContext attaches an id to the detail and returns it for chaining.
func (d *ErrorDetail) WithContext(key, value string) *ErrorDetail {
	if d.Context == nil {
		d.Context = make(map[string]string, 2)
	}
	d.Context[key] = value
	return d
}
