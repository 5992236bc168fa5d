package ledger

import (
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/installments/pkg/metrics"
	"github.com/mcclellann/installments/pkg/models"
	"github.com/mcclellann/installments/pkg/notify"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockStore is a simple in-memory implementation of the Storage interface for testing.
// It stores copies, so callers never share state with it, and enforces the
// optimistic version check like the SQL store does.
type MockStore struct {
	mu        sync.Mutex
	plans     map[uuid.UUID]*models.Plan
	records   []*models.PaymentRecord
	conflicts int // UpdatePlan calls that fail as if another writer won
}

func NewMockStore() *MockStore {
	return &MockStore{plans: make(map[uuid.UUID]*models.Plan)}
}

func (m *MockStore) CreatePlan(p *models.Plan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.plans[p.ID] = p.Clone()
	return nil
}

func (m *MockStore) GetPlan(id uuid.UUID) (*models.Plan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.plans[id]
	if !ok {
		return nil, models.ErrPlanNotFound
	}
	return p.Clone(), nil
}

func (m *MockStore) UpdatePlan(p *models.Plan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.plans[p.ID]
	if !ok {
		return models.ErrPlanNotFound
	}
	if m.conflicts > 0 {
		m.conflicts--
		stored.Version++
		return fmt.Errorf("%w: stored version is %d", models.ErrVersionConflict, stored.Version)
	}
	if stored.Version != p.Version {
		return models.ErrVersionConflict
	}
	p.Version++
	m.plans[p.ID] = p.Clone()
	return nil
}

func (m *MockStore) GetAllPlans() ([]*models.Plan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	plans := []*models.Plan{}
	for _, p := range m.plans {
		plans = append(plans, p.Clone())
	}
	return plans, nil
}

func (m *MockStore) GetPlansByStatus(statuses ...models.PlanStatus) ([]*models.Plan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	plans := []*models.Plan{}
	for _, p := range m.plans {
		for _, status := range statuses {
			if p.Status == status {
				plans = append(plans, p.Clone())
				break
			}
		}
	}
	return plans, nil
}

func (m *MockStore) CreatePaymentRecord(r *models.PaymentRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, r)
	return nil
}

func (m *MockStore) GetPaymentRecordsForPlan(planID uuid.UUID) ([]*models.PaymentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	records := []*models.PaymentRecord{}
	for _, r := range m.records {
		if r.PlanID == planID {
			records = append(records, r)
		}
	}
	return records, nil
}

func (m *MockStore) Close() error {
	return nil
}

type recordingNotifier struct {
	mu      sync.Mutex
	notices []notify.OverdueNotice
}

func (r *recordingNotifier) NotifyOverdue(n notify.OverdueNotice) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, n)
	return nil
}

var clock = time.Date(2025, 1, 10, 9, 30, 0, 0, time.UTC)

func newTestLedger(t *testing.T, s *MockStore, opts ...Option) *Ledger {
	t.Helper()
	opts = append([]Option{
		WithClock(func() time.Time { return clock }),
		WithMetrics(metrics.New(prometheus.NewRegistry())),
	}, opts...)
	return NewLedger(s, opts...)
}

func priceRequest() CreatePlanRequest {
	return CreatePlanRequest{
		Definition: models.PlanDefinition{
			Principal:          1_000_000,
			AnnualInterestRate: decimal.NewFromInt(30),
			TotalInstallments:  12,
			AmortizationType:   models.AmortizationPrice,
			StartDate:          time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC),
		},
		Description:  "Laptop",
		ContactEmail: "buyer@example.com",
	}
}

func TestCreatePlan(t *testing.T) {
	store := NewMockStore()
	l := newTestLedger(t, store)

	p, err := l.CreatePlan(priceRequest())
	require.NoError(t, err)

	assert.Equal(t, "Laptop", p.Description)
	assert.Equal(t, clock, p.CreatedAt)
	assert.Len(t, p.Schedule, 12)

	stored, err := l.GetPlan(p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.ID, stored.ID)
	assert.Equal(t, models.Cents(1_000_000), stored.OutstandingBalance)

	all, err := l.GetAllPlans()
	require.NoError(t, err)
	assert.Len(t, all, 1)

	t.Run("invalid definition is not stored", func(t *testing.T) {
		req := priceRequest()
		req.Definition.TotalInstallments = 0
		_, err := l.CreatePlan(req)
		assert.ErrorIs(t, err, models.ErrInvalidParameter)

		all, err := l.GetAllPlans()
		require.NoError(t, err)
		assert.Len(t, all, 1)
	})

	t.Run("unknown plan", func(t *testing.T) {
		_, err := l.GetPlan(uuid.New())
		assert.ErrorIs(t, err, models.ErrPlanNotFound)
	})
}

func TestApplyPayment(t *testing.T) {
	store := NewMockStore()
	l := newTestLedger(t, store)
	p, err := l.CreatePlan(priceRequest())
	require.NoError(t, err)
	paidAt := time.Date(2025, 2, 14, 12, 0, 0, 0, time.UTC)

	updated, entry, err := l.ApplyPayment(p.ID, 1, 97_487, paidAt)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPaid, entry.State.Status)
	assert.Equal(t, 1, updated.PaidInstallments)
	assert.Equal(t, p.Schedule[0].ProjectedBalanceAfter, updated.OutstandingBalance)
	assert.Equal(t, clock, updated.UpdatedAt)
	require.NotNil(t, entry.State.PaidAt)
	assert.Equal(t, paidAt, *entry.State.PaidAt)

	records, err := l.GetPaymentRecords(p.ID)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.True(t, records[0].Settled)
	assert.Equal(t, models.Cents(97_487), records[0].Amount)
	assert.Equal(t, clock, records[0].RecordedAt)

	t.Run("partial payment keeps the entry open", func(t *testing.T) {
		_, entry, err := l.ApplyPayment(p.ID, 2, 50_000, paidAt)
		require.NoError(t, err)
		assert.Equal(t, models.PaymentStatusPending, entry.State.Status)
		assert.Equal(t, models.Cents(50_000), entry.State.PaidAmount)

		records, err := l.GetPaymentRecords(p.ID)
		require.NoError(t, err)
		require.Len(t, records, 2)
		assert.False(t, records[1].Settled)
	})

	t.Run("paying a settled installment again", func(t *testing.T) {
		_, _, err := l.ApplyPayment(p.ID, 1, 97_487, paidAt)
		assert.ErrorIs(t, err, models.ErrInvalidStateTransition)
	})

	t.Run("unknown plan", func(t *testing.T) {
		_, _, err := l.ApplyPayment(uuid.New(), 1, 100, paidAt)
		assert.ErrorIs(t, err, models.ErrPlanNotFound)

		_, err = l.GetPaymentRecords(uuid.New())
		assert.ErrorIs(t, err, models.ErrPlanNotFound)
	})
}

func TestApplyPayment_OverpaymentLeavesPlanUnchanged(t *testing.T) {
	store := NewMockStore()
	logger, hook := test.NewNullLogger()
	l := newTestLedger(t, store, WithLogger(logger))
	p, err := l.CreatePlan(priceRequest())
	require.NoError(t, err)

	_, _, err = l.ApplyPayment(p.ID, 1, 97_488, clock)
	assert.ErrorIs(t, err, models.ErrOverpayment)

	after, err := l.GetPlan(p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.Version, after.Version)
	assert.Equal(t, p.OutstandingBalance, after.OutstandingBalance)
	assert.Equal(t, models.PaymentStatusPending, after.Schedule[0].State.Status)
	assert.Equal(t, models.Cents(0), after.Schedule[0].State.PaidAmount)

	records, err := l.GetPaymentRecords(p.ID)
	require.NoError(t, err)
	assert.Empty(t, records)

	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
	assert.Equal(t, "Overpayment rejected", hook.LastEntry().Message)
}

func TestApplyPayment_Concurrent(t *testing.T) {
	store := NewMockStore()
	l := newTestLedger(t, store)
	p, err := l.CreatePlan(priceRequest())
	require.NoError(t, err)

	t.Run("different installments all land", func(t *testing.T) {
		var wg sync.WaitGroup
		errs := make(chan error, len(p.Schedule))
		for _, e := range p.Schedule {
			wg.Add(1)
			go func(e models.ScheduledPayment) {
				defer wg.Done()
				_, _, err := l.ApplyPayment(p.ID, e.InstallmentNumber, e.PaymentAmount, clock)
				errs <- err
			}(e)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			assert.NoError(t, err)
		}

		final, err := l.GetPlan(p.ID)
		require.NoError(t, err)
		assert.Equal(t, models.PlanStatusPaidOff, final.Status)
		assert.Equal(t, 12, final.PaidInstallments)
		assert.Equal(t, models.Cents(0), final.OutstandingBalance)
		assert.Equal(t, len(p.Schedule), final.Version-p.Version)
	})

	t.Run("same installment settles once", func(t *testing.T) {
		q, err := l.CreatePlan(priceRequest())
		require.NoError(t, err)

		var wg sync.WaitGroup
		var mu sync.Mutex
		succeeded, rejected := 0, 0
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, _, err := l.ApplyPayment(q.ID, 1, q.Schedule[0].PaymentAmount, clock)
				mu.Lock()
				defer mu.Unlock()
				if err == nil {
					succeeded++
				} else {
					assert.ErrorIs(t, err, models.ErrInvalidStateTransition)
					rejected++
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, succeeded)
		assert.Equal(t, 9, rejected)

		records, err := l.GetPaymentRecords(q.ID)
		require.NoError(t, err)
		assert.Len(t, records, 1)
	})
}

func TestVersionConflictRetry(t *testing.T) {
	store := NewMockStore()
	l := newTestLedger(t, store)
	p, err := l.CreatePlan(priceRequest())
	require.NoError(t, err)

	store.conflicts = 2
	updated, _, err := l.ApplyPayment(p.ID, 1, 97_487, clock)
	require.NoError(t, err)
	assert.Equal(t, 1, updated.PaidInstallments)

	store.conflicts = maxWriteAttempts
	_, _, err = l.ApplyPayment(p.ID, 2, 97_487, clock)
	assert.ErrorIs(t, err, models.ErrVersionConflict)

	after, err := l.GetPlan(p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPending, after.Schedule[1].State.Status)
}

func TestCancelAndDefault(t *testing.T) {
	store := NewMockStore()
	l := newTestLedger(t, store)

	p, err := l.CreatePlan(priceRequest())
	require.NoError(t, err)
	_, _, err = l.ApplyPayment(p.ID, 1, 97_487, clock)
	require.NoError(t, err)

	cancelled, err := l.CancelPlan(p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PlanStatusCancelled, cancelled.Status)
	assert.Equal(t, models.PaymentStatusPaid, cancelled.Schedule[0].State.Status)
	assert.Equal(t, models.PaymentStatusCancelled, cancelled.Schedule[1].State.Status)

	again, err := l.CancelPlan(p.ID)
	require.NoError(t, err)
	assert.Equal(t, cancelled.Version, again.Version)

	_, err = l.MarkDefaulted(p.ID)
	assert.ErrorIs(t, err, models.ErrInvalidStateTransition)

	q, err := l.CreatePlan(priceRequest())
	require.NoError(t, err)
	defaulted, err := l.MarkDefaulted(q.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PlanStatusDefaulted, defaulted.Status)

	_, err = l.CancelPlan(q.ID)
	assert.ErrorIs(t, err, models.ErrInvalidStateTransition)

	summary, err := l.GetPlanSummary(q.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PlanStatusDefaulted, summary.Status)
	assert.Equal(t, 12, summary.PendingCount)
}

func TestSweepOverdue(t *testing.T) {
	store := NewMockStore()
	notifier := &recordingNotifier{}
	l := newTestLedger(t, store, WithNotifier(notifier))

	p, err := l.CreatePlan(priceRequest())
	require.NoError(t, err)
	cancelled, err := l.CreatePlan(priceRequest())
	require.NoError(t, err)
	_, err = l.CancelPlan(cancelled.ID)
	require.NoError(t, err)

	_, _, err = l.ApplyPayment(p.ID, 1, 97_487, clock)
	require.NoError(t, err)

	// Installments fall due on Feb 15, Mar 15 and Apr 15; the first is paid.
	asOf := time.Date(2025, 4, 16, 0, 0, 0, 0, time.UTC)
	marked, err := l.SweepOverdue(asOf)
	require.NoError(t, err)
	assert.Equal(t, 2, marked)

	after, err := l.GetPlan(p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPaid, after.Schedule[0].State.Status)
	assert.Equal(t, models.PaymentStatusOverdue, after.Schedule[1].State.Status)
	assert.Equal(t, models.PaymentStatusOverdue, after.Schedule[2].State.Status)
	assert.Equal(t, models.PaymentStatusPending, after.Schedule[3].State.Status)

	require.Len(t, notifier.notices, 2)
	numbers := []int{notifier.notices[0].Payment.InstallmentNumber, notifier.notices[1].Payment.InstallmentNumber}
	sort.Ints(numbers)
	assert.Equal(t, []int{2, 3}, numbers)
	assert.Equal(t, "buyer@example.com", notifier.notices[0].ContactEmail)

	t.Run("second sweep is a no-op", func(t *testing.T) {
		marked, err := l.SweepOverdue(asOf)
		require.NoError(t, err)
		assert.Equal(t, 0, marked)
		assert.Len(t, notifier.notices, 2)
	})

	t.Run("overdue installments can still be paid", func(t *testing.T) {
		_, entry, err := l.ApplyPayment(p.ID, 2, after.Schedule[1].PaymentAmount, asOf)
		require.NoError(t, err)
		assert.Equal(t, models.PaymentStatusPaid, entry.State.Status)
	})

	t.Run("defaulted plan is swept", func(t *testing.T) {
		d, err := l.CreatePlan(priceRequest())
		require.NoError(t, err)
		_, err = l.MarkDefaulted(d.ID)
		require.NoError(t, err)

		marked, err := l.SweepOverdue(asOf)
		require.NoError(t, err)
		assert.Equal(t, 3, marked)
		assert.Len(t, notifier.notices, 5)

		after, err := l.GetPlan(d.ID)
		require.NoError(t, err)
		assert.Equal(t, models.PlanStatusDefaulted, after.Status)
		assert.Equal(t, models.PaymentStatusOverdue, after.Schedule[2].State.Status)
		assert.Equal(t, models.PaymentStatusPending, after.Schedule[3].State.Status)
	})

	t.Run("cancelled plan untouched", func(t *testing.T) {
		c, err := l.GetPlan(cancelled.ID)
		require.NoError(t, err)
		for _, e := range c.Schedule {
			assert.Equal(t, models.PaymentStatusCancelled, e.State.Status)
		}
	})
}

func TestPlanLocksReleased(t *testing.T) {
	locks := newPlanLocks()
	id := uuid.New()

	unlock := locks.lock(id)
	assert.Len(t, locks.locks, 1)
	unlock()
	assert.Empty(t, locks.locks)
}
