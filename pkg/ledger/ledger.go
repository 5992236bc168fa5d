package ledger

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/installments/pkg/metrics"
	"github.com/mcclellann/installments/pkg/models"
	"github.com/mcclellann/installments/pkg/notify"
	"github.com/mcclellann/installments/pkg/plan"
	"github.com/mcclellann/installments/pkg/store"
	"github.com/sirupsen/logrus"
)

// maxWriteAttempts bounds the re-read/retry loop on optimistic version
// conflicts with writers in other processes.
const maxWriteAttempts = 5

// Ledger handles the business logic for installment plans. It is the single
// writer for each plan: mutations of one plan are serialized by a per-plan
// lock, and the storage version check catches writers outside this process.
type Ledger struct {
	storage  store.Storage
	log      *logrus.Logger
	metrics  *metrics.Collectors
	notifier notify.Notifier
	locks    *planLocks
	now      func() time.Time
}

// Option configures a Ledger.
type Option func(*Ledger)

func WithLogger(log *logrus.Logger) Option { return func(l *Ledger) { l.log = log } }

func WithMetrics(m *metrics.Collectors) Option { return func(l *Ledger) { l.metrics = m } }

func WithNotifier(n notify.Notifier) Option { return func(l *Ledger) { l.notifier = n } }

// WithClock overrides time.Now, mainly for tests.
func WithClock(now func() time.Time) Option { return func(l *Ledger) { l.now = now } }

// NewLedger creates a new Ledger with a given Storage implementation.
func NewLedger(s store.Storage, opts ...Option) *Ledger {
	l := &Ledger{
		storage:  s,
		notifier: notify.Nop{},
		locks:    newPlanLocks(),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.log == nil {
		l.log = logrus.New()
		l.log.SetOutput(io.Discard)
	}
	return l
}

// CreatePlanRequest carries a definition plus the caller's labels.
type CreatePlanRequest struct {
	Definition   models.PlanDefinition
	Description  string
	ContactEmail string
}

// CreatePlan generates the schedule and stores the new plan.
func (l *Ledger) CreatePlan(req CreatePlanRequest) (*models.Plan, error) {
	started := time.Now()
	p, err := plan.Create(req.Definition, l.now())
	if err != nil {
		return nil, err
	}
	l.metrics.PlanCreated(p.Definition.AmortizationType, time.Since(started))
	p.Description = req.Description
	p.ContactEmail = req.ContactEmail

	if err := l.storage.CreatePlan(p); err != nil {
		return nil, fmt.Errorf("failed to store plan: %w", err)
	}

	l.log.WithFields(logrus.Fields{
		"plan_id":      p.ID,
		"type":         p.Definition.AmortizationType,
		"principal":    p.Definition.Principal,
		"installments": p.Definition.TotalInstallments,
	}).Info("Plan created")
	return p, nil
}

// GetPlan retrieves a plan by its ID.
func (l *Ledger) GetPlan(id uuid.UUID) (*models.Plan, error) {
	return l.storage.GetPlan(id)
}

// GetAllPlans retrieves all plans.
func (l *Ledger) GetAllPlans() ([]*models.Plan, error) {
	return l.storage.GetAllPlans()
}

// GetPlanSummary totals a plan's schedule by payment state.
func (l *Ledger) GetPlanSummary(id uuid.UUID) (models.PlanSummary, error) {
	p, err := l.storage.GetPlan(id)
	if err != nil {
		return models.PlanSummary{}, err
	}
	return plan.Summarize(p), nil
}

// GetPaymentRecords returns the payment audit trail of a plan.
func (l *Ledger) GetPaymentRecords(id uuid.UUID) ([]*models.PaymentRecord, error) {
	if _, err := l.storage.GetPlan(id); err != nil {
		return nil, err
	}
	return l.storage.GetPaymentRecordsForPlan(id)
}

// ApplyPayment records a payment against one installment of a plan.
func (l *Ledger) ApplyPayment(id uuid.UUID, installment int, amount models.Cents, paidAt time.Time) (*models.Plan, models.ScheduledPayment, error) {
	var entry models.ScheduledPayment
	now := l.now()
	p, err := l.mutate(id, func(p *models.Plan) (bool, error) {
		var err error
		entry, err = plan.ApplyPayment(p, installment, amount, paidAt, now)
		return err == nil, err
	})

	fields := logrus.Fields{"plan_id": id, "installment": installment, "amount_cents": amount}
	if err != nil {
		if errors.Is(err, models.ErrOverpayment) {
			l.metrics.Payment(metrics.OutcomeOverpayment)
			l.log.WithFields(fields).Warn("Overpayment rejected")
		} else {
			l.metrics.Payment(metrics.OutcomeRejected)
			l.log.WithFields(fields).WithError(err).Info("Payment rejected")
		}
		return nil, models.ScheduledPayment{}, err
	}

	settled := entry.State.Status == models.PaymentStatusPaid
	record := &models.PaymentRecord{
		ID:                uuid.New(),
		PlanID:            id,
		InstallmentNumber: installment,
		Amount:            amount,
		Settled:           settled,
		PaidAt:            paidAt,
		RecordedAt:        now,
	}
	if err := l.storage.CreatePaymentRecord(record); err != nil {
		// The plan state is already committed; the audit gap is logged
		// rather than failing a payment that took effect.
		l.log.WithFields(fields).WithError(err).Error("Failed to store payment record")
	}

	if settled {
		l.metrics.Payment(metrics.OutcomeSettled)
		l.log.WithFields(fields).WithField("outstanding", p.OutstandingBalance).Info("Installment paid")
	} else {
		l.metrics.Payment(metrics.OutcomePartial)
		l.log.WithFields(fields).WithField("due_cents", entry.PaymentAmount).Info("Partial payment recorded")
	}
	if p.Status == models.PlanStatusPaidOff {
		l.metrics.PlanTransition(p.Status)
		l.log.WithField("plan_id", id).Info("Plan paid off")
	}
	return p, entry, nil
}

// CancelPlan cancels an active plan. Cancelling twice is a no-op.
func (l *Ledger) CancelPlan(id uuid.UUID) (*models.Plan, error) {
	now := l.now()
	var changed bool
	p, err := l.mutate(id, func(p *models.Plan) (bool, error) {
		var err error
		changed, err = plan.Cancel(p, now)
		return changed, err
	})
	if err != nil {
		return nil, err
	}
	if changed {
		l.metrics.PlanTransition(models.PlanStatusCancelled)
		l.log.WithField("plan_id", id).Info("Plan cancelled")
	}
	return p, nil
}

// MarkDefaulted records the caller's decision that a plan has defaulted.
func (l *Ledger) MarkDefaulted(id uuid.UUID) (*models.Plan, error) {
	now := l.now()
	var changed bool
	p, err := l.mutate(id, func(p *models.Plan) (bool, error) {
		var err error
		changed, err = plan.MarkDefaulted(p, now)
		return changed, err
	})
	if err != nil {
		return nil, err
	}
	if changed {
		l.metrics.PlanTransition(models.PlanStatusDefaulted)
		l.log.WithFields(logrus.Fields{"plan_id": id, "outstanding": p.OutstandingBalance}).Warn("Plan marked as defaulted")
	}
	return p, nil
}

// SweepOverdue marks every pending entry that fell due before asOf as
// OVERDUE and notifies about each one. Active and defaulted plans are swept;
// cancelled and paid-off plans have no pending entries. It returns how many
// entries changed. A failure on one plan is logged and does not stop the
// sweep of the others.
func (l *Ledger) SweepOverdue(asOf time.Time) (int, error) {
	plans, err := l.storage.GetPlansByStatus(plan.SweepableStatuses...)
	if err != nil {
		return 0, fmt.Errorf("failed to load plans to sweep: %w", err)
	}

	total := 0
	for _, candidate := range plans {
		var marked []models.ScheduledPayment
		p, err := l.mutate(candidate.ID, func(p *models.Plan) (bool, error) {
			marked = plan.SweepPlan(p, asOf)
			return len(marked) > 0, nil
		})
		if err != nil {
			l.log.WithField("plan_id", candidate.ID).WithError(err).Error("Overdue sweep failed for plan")
			continue
		}
		total += len(marked)
		for _, entry := range marked {
			l.log.WithFields(logrus.Fields{
				"plan_id":     p.ID,
				"installment": entry.InstallmentNumber,
				"due_date":    entry.DueDate.Format("2006-01-02"),
			}).Info("Installment overdue")
			notice := notify.OverdueNotice{PlanID: p.ID, Description: p.Description, ContactEmail: p.ContactEmail, Payment: entry}
			if err := l.notifier.NotifyOverdue(notice); err != nil {
				l.log.WithField("plan_id", p.ID).WithError(err).Warn("Overdue notification failed")
			}
		}
	}

	l.metrics.OverdueMarked(total)
	l.log.WithFields(logrus.Fields{"as_of": asOf.Format(time.RFC3339), "marked": total, "plans": len(plans)}).Info("Overdue sweep complete")
	return total, nil
}

// mutate runs fn on a fresh copy of the plan while holding the plan's lock
// and saves the result when fn reports a change. A version conflict means a
// writer outside this process got there first: the plan is re-read and fn
// applied again.
func (l *Ledger) mutate(id uuid.UUID, fn func(p *models.Plan) (bool, error)) (*models.Plan, error) {
	unlock := l.locks.lock(id)
	defer unlock()

	for attempt := 1; ; attempt++ {
		p, err := l.storage.GetPlan(id)
		if err != nil {
			return nil, err
		}
		changed, err := fn(p)
		if err != nil || !changed {
			return p, err
		}
		err = l.storage.UpdatePlan(p)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, models.ErrVersionConflict) || attempt == maxWriteAttempts {
			return nil, fmt.Errorf("failed to save plan %s: %w", id, err)
		}
		l.log.WithFields(logrus.Fields{"plan_id": id, "attempt": attempt}).Debug("Version conflict, retrying")
	}
}
