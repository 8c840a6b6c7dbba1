package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/rotisserie/eris"

	"github.com/sells-group/outreach-cli/internal/model"
)

func TestRetryEntry_CanRetry(t *testing.T) {
	tests := []struct {
		name       string
		retryCount int
		maxRetries int
		want       bool
	}{
		{"below max", 0, 3, true},
		{"at max", 3, 3, false},
		{"above max", 5, 3, false},
		{"one below max", 2, 3, true},
		{"retries disabled", 0, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := RetryEntry{
				RetryCount: tt.retryCount,
				MaxRetries: tt.maxRetries,
			}
			if got := e.CanRetry(); got != tt.want {
				t.Errorf("CanRetry() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"transient error", NewTransientError(errors.New("451"), 451), ErrorTransient},
		{"permanent error", errors.New("invalid input"), ErrorPermanent},
		{"connection reset", errors.New("connection reset by peer"), ErrorTransient},
		{"open breaker", eris.Wrap(ErrCircuitOpen, "contact: resolve"), ErrorTransient},
		{"cancelled run", eris.Wrap(context.Canceled, "contact: search"), ErrorTransient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyError(tt.err); got != tt.want {
				t.Errorf("ClassifyError() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRetryEntry_Name(t *testing.T) {
	e := RetryEntry{
		Profile: model.CompanyProfile{CompanySummary: model.CompanySummary{Name: "Acme"}, Website: "acme.com"},
	}
	if e.Name() != "Acme" {
		t.Errorf("expected company name, got %q", e.Name())
	}
}
