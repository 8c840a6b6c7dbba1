package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/resilience"
)

type mockStore struct {
	mock.Mock
}

func (m *mockStore) Exists(ctx context.Context, table model.Table, name string) (bool, error) {
	args := m.Called(ctx, table, name)
	return args.Bool(0), args.Error(1)
}

func (m *mockStore) InsertSeen(ctx context.Context, rec model.SeenRecord) (bool, error) {
	args := m.Called(ctx, rec)
	return args.Bool(0), args.Error(1)
}

func (m *mockStore) InsertSent(ctx context.Context, rec model.SentRecord) (bool, error) {
	args := m.Called(ctx, rec)
	return args.Bool(0), args.Error(1)
}

func (m *mockStore) GetSeen(ctx context.Context, name string) (*model.SeenRecord, error) {
	return nil, nil
}

func (m *mockStore) GetSent(ctx context.Context, name string) (*model.SentRecord, error) {
	return nil, nil
}

func (m *mockStore) Count(ctx context.Context, table model.Table) (int, error) { return 0, nil }
func (m *mockStore) Migrate(ctx context.Context) error                         { return nil }
func (m *mockStore) Close() error                                              { return nil }

func (m *mockStore) UpsertRetry(ctx context.Context, e resilience.RetryEntry) error {
	return m.Called(ctx, e).Error(0)
}

func (m *mockStore) GetRetry(ctx context.Context, name string) (*resilience.RetryEntry, error) {
	args := m.Called(ctx, name)
	e, _ := args.Get(0).(*resilience.RetryEntry)
	return e, args.Error(1)
}

func (m *mockStore) DueRetries(ctx context.Context, now time.Time, limit int) ([]resilience.RetryEntry, error) {
	args := m.Called(ctx, now, limit)
	entries, _ := args.Get(0).([]resilience.RetryEntry)
	return entries, args.Error(1)
}

func (m *mockStore) RemoveRetry(ctx context.Context, name string) error {
	return m.Called(ctx, name).Error(0)
}

func fixedClock(t time.Time) LedgerOption {
	return func(l *Ledger) { l.now = func() time.Time { return t } }
}

func TestLedger_ExistsErrorReadsAsAbsent(t *testing.T) {
	ms := &mockStore{}
	ms.On("Exists", mock.Anything, model.TableSeen, "Acme").Return(false, errors.New("disk I/O error"))

	l := NewLedger(ms)
	assert.False(t, l.Exists(context.Background(), model.TableSeen, "Acme"))
	ms.AssertExpectations(t)
}

func TestLedger_Exists(t *testing.T) {
	ms := &mockStore{}
	ms.On("Exists", mock.Anything, model.TableSent, "Acme").Return(true, nil)

	l := NewLedger(ms)
	assert.True(t, l.Exists(context.Background(), model.TableSent, "Acme"))
}

func TestLedger_InsertErrorReadsAsNotInserted(t *testing.T) {
	ms := &mockStore{}
	ms.On("InsertSent", mock.Anything, mock.AnythingOfType("model.SentRecord")).Return(false, errors.New("database is locked"))

	l := NewLedger(ms)
	rec := model.NewSentRecord(acmeProfile(), model.Contact{Email: "jane@acme.com"}, "jane@acme.com", "Brian", testDay)
	assert.False(t, l.InsertIfAbsent(context.Background(), rec))
	ms.AssertExpectations(t)
}

func TestLedger_InsertIfAbsent_SQLite(t *testing.T) {
	l := NewLedger(newTestSQLiteStore(t))
	ctx := context.Background()
	rec := model.NewSeenRecord(acmeProfile(), testDay)

	require.True(t, l.InsertIfAbsent(ctx, rec))
	assert.False(t, l.InsertIfAbsent(ctx, rec))
	assert.True(t, l.Exists(ctx, model.TableSeen, "Acme"))
}

func TestLedger_FailQueuesNewEntry(t *testing.T) {
	ms := &mockStore{}
	ms.On("GetRetry", mock.Anything, "Acme").Return(nil, nil)
	ms.On("UpsertRetry", mock.Anything, mock.MatchedBy(func(e resilience.RetryEntry) bool {
		return e.Name() == "Acme" &&
			e.Profile.Website == "acme.com" &&
			e.FailedPhase == "send" &&
			e.ErrorType == resilience.ErrorPermanent &&
			e.RetryCount == 0 &&
			e.MaxRetries == 3 &&
			e.CreatedAt.Equal(testDay) &&
			e.NextRetryAt.Equal(testDay.Add(time.Hour))
	})).Return(nil)

	l := NewLedger(ms, fixedClock(testDay))
	l.Fail(context.Background(), acmeProfile(), "send", errors.New("send failed"))
	ms.AssertExpectations(t)
}

func TestLedger_FailIncrementsAndBacksOff(t *testing.T) {
	created := testDay.Add(-48 * time.Hour)
	ms := &mockStore{}
	ms.On("GetRetry", mock.Anything, "Acme").Return(&resilience.RetryEntry{
		Profile:    acmeProfile(),
		RetryCount: 1,
		MaxRetries: 3,
		CreatedAt:  created,
	}, nil)
	ms.On("UpsertRetry", mock.Anything, mock.MatchedBy(func(e resilience.RetryEntry) bool {
		return e.RetryCount == 2 &&
			e.ErrorType == resilience.ErrorTransient &&
			e.CreatedAt.Equal(created) &&
			e.LastFailedAt.Equal(testDay) &&
			e.NextRetryAt.Equal(testDay.Add(4*time.Hour))
	})).Return(nil)

	l := NewLedger(ms, fixedClock(testDay))
	l.Fail(context.Background(), acmeProfile(), "contact", resilience.ErrCircuitOpen)
	ms.AssertExpectations(t)
}

func TestLedger_FailReadErrorStartsOver(t *testing.T) {
	ms := &mockStore{}
	ms.On("GetRetry", mock.Anything, "Acme").Return(nil, errors.New("database is locked"))
	ms.On("UpsertRetry", mock.Anything, mock.MatchedBy(func(e resilience.RetryEntry) bool {
		return e.RetryCount == 0
	})).Return(errors.New("database is locked"))

	l := NewLedger(ms, fixedClock(testDay))
	assert.NotPanics(t, func() {
		l.Fail(context.Background(), acmeProfile(), "contact", errors.New("boom"))
	})
	ms.AssertExpectations(t)
}

func TestLedger_DueErrorYieldsNothing(t *testing.T) {
	ms := &mockStore{}
	ms.On("DueRetries", mock.Anything, testDay, 5).Return(nil, errors.New("no such table"))

	policy := DefaultRetryPolicy()
	policy.Limit = 5
	l := NewLedger(ms, WithRetryPolicy(policy), fixedClock(testDay))
	assert.Empty(t, l.Due(context.Background()))
	ms.AssertExpectations(t)
}

func TestLedger_DoneLogsRemoveError(t *testing.T) {
	ms := &mockStore{}
	ms.On("RemoveRetry", mock.Anything, "Acme").Return(errors.New("database is locked"))

	l := NewLedger(ms)
	assert.NotPanics(t, func() { l.Done(context.Background(), "Acme") })
	ms.AssertExpectations(t)
}

func TestRetryPolicy_DelayCapped(t *testing.T) {
	p := RetryPolicy{Backoff: time.Hour, MaxBackoff: 3 * time.Hour}
	assert.Equal(t, time.Hour, p.delay(0))
	assert.Equal(t, 2*time.Hour, p.delay(1))
	assert.Equal(t, 3*time.Hour, p.delay(2))
	assert.Equal(t, 3*time.Hour, p.delay(10))
	assert.Zero(t, RetryPolicy{}.delay(3))
}

func TestLedger_RetryLifecycle_SQLite(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	policy := RetryPolicy{MaxRetries: 2, Backoff: time.Hour, MaxBackoff: time.Hour, Limit: 10}

	l := NewLedger(st, WithRetryPolicy(policy), fixedClock(testDay))
	l.Fail(ctx, acmeProfile(), "send", errors.New("send failed"))
	assert.Empty(t, l.Due(ctx), "not due before the backoff elapses")

	later := NewLedger(st, WithRetryPolicy(policy), fixedClock(testDay.Add(2*time.Hour)))
	due := later.Due(ctx)
	require.Len(t, due, 1)
	assert.Equal(t, acmeProfile(), due[0].Profile)
	assert.Equal(t, "send", due[0].FailedPhase)

	// Two more failures exhaust the entry; it stays queued but is never due.
	later.Fail(ctx, acmeProfile(), "send", errors.New("send failed"))
	much := NewLedger(st, WithRetryPolicy(policy), fixedClock(testDay.Add(10*time.Hour)))
	require.Len(t, much.Due(ctx), 1)
	much.Fail(ctx, acmeProfile(), "send", errors.New("send failed"))
	assert.Empty(t, NewLedger(st, WithRetryPolicy(policy), fixedClock(testDay.Add(48*time.Hour))).Due(ctx))

	n, err := st.Count(ctx, model.TableRetry)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	much.Done(ctx, "Acme")
	n, err = st.Count(ctx, model.TableRetry)
	require.NoError(t, err)
	assert.Zero(t, n)
}
