package resilience

import (
	"strings"
	"time"

	"github.com/sells-group/inbox-sync/internal/model"
)

// Classify buckets err into the persisted error taxonomy. Credential and
// validation failures are definitive regardless of any transient wrapper
// further down the chain; infra is checked before the generic transient
// class so it gets the longer schedule.
func Classify(err error) model.ErrorClass {
	switch {
	case err == nil:
		return ""
	case IsAuth(err):
		return model.ErrorClassAuth
	case IsValidation(err):
		return model.ErrorClassValidation
	case IsInfra(err):
		return model.ErrorClassInfra
	case IsTransient(err):
		return model.ErrorClassTransient
	default:
		return model.ErrorClassPermanent
	}
}

// BackoffPolicy plans persisted retries for failed work units. Every
// queue consumer (pages, stages, summarization tasks, meetings) shares
// one instance so all units back off the same way.
type BackoffPolicy struct {
	MaxAttempts   int
	TransientBase time.Duration
	TransientCap  time.Duration
	InfraBase     time.Duration
	InfraCap      time.Duration
}

// DefaultBackoffPolicy returns the standard schedule: three attempts,
// 1m doubling capped at 30m, infra failures 5m doubling capped at 2h.
func DefaultBackoffPolicy() BackoffPolicy {
	return BackoffPolicy{
		MaxAttempts:   3,
		TransientBase: time.Minute,
		TransientCap:  30 * time.Minute,
		InfraBase:     5 * time.Minute,
		InfraCap:      2 * time.Hour,
	}
}

// Plan is the persisted verdict for one failed attempt. Callers write
// Retry/NextRetryAt/Detail to the owning row rather than computing
// delays themselves.
type Plan struct {
	Retry       bool
	NextRetryAt time.Time
	Detail      *model.ErrorDetail
}

// Plan classifies err after the attempt-th try (1-based) of operation.
// Non-retryable classes and exhausted attempts return Retry false; the
// caller decides terminal handling per class (auth fails the parent,
// validation marks processed-without-effect).
func (p BackoffPolicy) Plan(err error, operation string, attempt int) Plan {
	if attempt < 1 {
		attempt = 1
	}

	class := Classify(err)
	detail := model.NewErrorDetail(class, operation, NormalizeMessage(err))

	retryable := class == model.ErrorClassInfra || class == model.ErrorClassTransient
	if !retryable || attempt >= p.MaxAttempts {
		return Plan{Retry: false, Detail: detail}
	}

	base, limit := p.TransientBase, p.TransientCap
	if class == model.ErrorClassInfra {
		base, limit = p.InfraBase, p.InfraCap
	}

	delay := base
	for i := 1; i < attempt && delay < limit; i++ {
		delay *= 2
	}
	if delay > limit {
		delay = limit
	}
	if hint, ok := RetryAfterHint(err); ok && hint > delay {
		delay = hint
	}

	return Plan{
		Retry:       true,
		NextRetryAt: time.Now().UTC().Add(delay),
		Detail:      detail,
	}
}

// NormalizeMessage flattens an error chain into a single bounded line
// suitable for a last_error column.
func NormalizeMessage(err error) string {
	if err == nil {
		return ""
	}
	msg := strings.Join(strings.Fields(err.Error()), " ")
	if len(msg) > 500 {
		msg = msg[:497] + "..."
	}
	return msg
}
