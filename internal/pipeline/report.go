package pipeline

import (
	"time"

	"github.com/google/uuid"

	"github.com/sells-group/outreach-cli/internal/discovery"
)

// Status is how one company's processing ended.
type Status string

const (
	StatusSent       Status = "sent"
	StatusNoWebsite  Status = "no_website"
	StatusNoContact  Status = "no_contact"
	StatusDryRun     Status = "dry_run"
	StatusSendFailed Status = "send_failed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
	// StatusDeferred means the contact directory breaker was open, so the
	// company was left untouched for a later run.
	StatusDeferred Status = "deferred"
)

// Result is the outcome for a single company.
type Result struct {
	Company     string `json:"company"`
	Status      Status `json:"status"`
	Website     string `json:"website,omitempty"`
	ContactName string `json:"contact_name,omitempty"`
	Recipient   string `json:"recipient,omitempty"`
	// Outcome and Strategy describe the contact lookup.
	Outcome   string `json:"lookup_outcome,omitempty"`
	Strategy  string `json:"email_strategy,omitempty"`
	Retry     bool   `json:"retry,omitempty"`
	Enriched  bool   `json:"enriched"`
	Persisted bool   `json:"persisted"`
	Err       string `json:"error,omitempty"`
}

// Report summarizes a run.
type Report struct {
	RunID      uuid.UUID       `json:"run_id"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
	DryRun     bool            `json:"dry_run"`
	Discovery  discovery.Stats `json:"discovery"`

	Attempted int `json:"attempted"`
	Enriched  int `json:"enriched"`
	Sent      int `json:"sent"`
	Persisted int `json:"persisted"`
	Skipped   int `json:"skipped"`
	Deferred  int `json:"deferred"`
	Retried   int `json:"retried"`
	Failed    int `json:"failed"`

	Results []Result `json:"results"`
}

func (r *Report) add(res Result) {
	r.Attempted++
	if res.Retry {
		r.Retried++
	}
	if res.Enriched {
		r.Enriched++
	}
	switch res.Status {
	case StatusSent:
		r.Sent++
	case StatusNoWebsite, StatusNoContact, StatusDryRun:
		r.Skipped++
	case StatusDeferred:
		r.Deferred++
	default:
		r.Failed++
	}
	if res.Persisted {
		r.Persisted++
	}
	r.Results = append(r.Results, res)
}
