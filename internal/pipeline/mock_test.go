package pipeline

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/outreach-cli/internal/contact"
	"github.com/sells-group/outreach-cli/internal/discovery"
	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/resilience"
)

// --- Collector Mock ---

type mockCollector struct {
	mock.Mock
}

func (m *mockCollector) Collect(ctx context.Context) ([]model.CompanySummary, discovery.Stats, error) {
	args := m.Called(ctx)
	var out []model.CompanySummary
	if v := args.Get(0); v != nil {
		out = v.([]model.CompanySummary)
	}
	return out, args.Get(1).(discovery.Stats), args.Error(2)
}

// --- Profile Mock ---

type mockProfiles struct {
	mock.Mock
}

func (m *mockProfiles) Resolve(ctx context.Context, s model.CompanySummary) (model.CompanyProfile, error) {
	args := m.Called(ctx, s)
	return args.Get(0).(model.CompanyProfile), args.Error(1)
}

// --- Contact Mock ---

type mockContacts struct {
	mock.Mock
	state resilience.CircuitState
}

func (m *mockContacts) Resolve(ctx context.Context, domain string) (contact.Lookup, error) {
	args := m.Called(ctx, domain)
	return args.Get(0).(contact.Lookup), args.Error(1)
}

func (m *mockContacts) BreakerState() resilience.CircuitState {
	return m.state
}

// --- Dispatcher Mock ---

type mockDispatcher struct {
	mock.Mock
}

func (m *mockDispatcher) Send(ctx context.Context, c model.Contact, p model.CompanyProfile) (string, bool) {
	args := m.Called(ctx, c, p)
	return args.String(0), args.Bool(1)
}

// --- Ledger Mock ---

type mockLedger struct {
	mock.Mock
}

func (m *mockLedger) InsertIfAbsent(ctx context.Context, rec model.Record) bool {
	args := m.Called(ctx, rec)
	return args.Bool(0)
}

// --- Retry Queue Mock ---

type mockRetries struct {
	mock.Mock
}

func (m *mockRetries) Due(ctx context.Context) []resilience.RetryEntry {
	args := m.Called(ctx)
	entries, _ := args.Get(0).([]resilience.RetryEntry)
	return entries
}

func (m *mockRetries) Fail(ctx context.Context, p model.CompanyProfile, phase string, err error) {
	m.Called(ctx, p, phase, err)
}

func (m *mockRetries) Done(ctx context.Context, name string) {
	m.Called(ctx, name)
}
