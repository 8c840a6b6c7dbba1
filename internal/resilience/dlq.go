package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/sells-group/outreach-cli/internal/model"
)

// Error types recorded on a RetryEntry.
const (
	ErrorTransient = "transient"
	ErrorPermanent = "permanent"
)

// RetryEntry is a company whose processing failed after it was recorded as
// seen. Discovery skips seen companies, so the entry is the only way it is
// offered again.
type RetryEntry struct {
	Profile      model.CompanyProfile `json:"profile"`
	Error        string               `json:"error"`
	ErrorType    string               `json:"error_type"` // "transient" or "permanent"
	FailedPhase  string               `json:"failed_phase,omitempty"`
	RetryCount   int                  `json:"retry_count"`
	MaxRetries   int                  `json:"max_retries"`
	NextRetryAt  time.Time            `json:"next_retry_at"`
	CreatedAt    time.Time            `json:"created_at"`
	LastFailedAt time.Time            `json:"last_failed_at"`
}

// Name is the company name the entry is keyed by.
func (e *RetryEntry) Name() string {
	return e.Profile.Name
}

// CanRetry returns true if this entry hasn't exceeded its max retry count.
func (e *RetryEntry) CanRetry() bool {
	return e.RetryCount < e.MaxRetries
}

// ClassifyError categorizes an error as "transient" or "permanent". An open
// breaker and an interrupted run are transient.
func ClassifyError(err error) string {
	if IsTransient(err) ||
		errors.Is(err, ErrCircuitOpen) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) {
		return ErrorTransient
	}
	return ErrorPermanent
}
