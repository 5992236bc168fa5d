package plan

import (
	"fmt"
	"time"

	"github.com/mcclellann/installments/pkg/models"
	"github.com/mcclellann/installments/pkg/schedule"
)

// ApplyPayment records amount against installment n of an ACTIVE plan.
//
// An amount equal to the installment settles it (PAID). A smaller amount is
// kept in PaidAmount for audit and leaves the entry open. A larger amount is
// rejected with ErrOverpayment; the engine never caps. When the last open
// entry is settled the plan becomes PAID_OFF. paidAt is when the money
// moved and may be in the past; now stamps the modification.
func ApplyPayment(p *models.Plan, n int, amount models.Cents, paidAt, now time.Time) (models.ScheduledPayment, error) {
	if p.Status != models.PlanStatusActive {
		return models.ScheduledPayment{}, fmt.Errorf("%w: cannot pay into a %s plan", models.ErrInvalidStateTransition, p.Status)
	}
	entry, err := p.Installment(n)
	if err != nil {
		return models.ScheduledPayment{}, err
	}
	if amount <= 0 {
		return models.ScheduledPayment{}, fmt.Errorf("%w: payment amount must be positive, got %d", models.ErrInvalidParameter, amount)
	}
	if !isOpen(entry.State.Status) {
		return models.ScheduledPayment{}, fmt.Errorf("%w: installment %d is %s", models.ErrInvalidStateTransition, n, entry.State.Status)
	}
	if amount > entry.PaymentAmount {
		return models.ScheduledPayment{}, fmt.Errorf("%w: paid %s, installment %d is %s",
			models.ErrOverpayment, amount, n, entry.PaymentAmount)
	}

	entry.State.PaidAmount = amount
	if amount == entry.PaymentAmount {
		at := paidAt
		entry.State.Status = models.PaymentStatusPaid
		entry.State.PaidAt = &at
	}
	p.UpdatedAt = now

	RecomputeAggregates(p)
	if p.PaidInstallments == len(p.Schedule) {
		p.Status = models.PlanStatusPaidOff
	}
	return *entry, nil
}

// SweepPlan marks every PENDING entry whose due date is before asOf's
// calendar day as OVERDUE, returning the entries it changed. Entries of a
// DEFAULTED plan still fall overdue; CANCELLED and PAID_OFF plans have no
// PENDING entries left. PAID and CANCELLED entries are never touched, so a
// payment that lands concurrently always keeps its PAID outcome.
func SweepPlan(p *models.Plan, asOf time.Time) []models.ScheduledPayment {
	if !Sweepable(p.Status) {
		return nil
	}
	today := schedule.DateOf(asOf)
	var marked []models.ScheduledPayment
	for i := range p.Schedule {
		e := &p.Schedule[i]
		if e.State.Status == models.PaymentStatusPending && e.DueDate.Before(today) {
			e.State.Status = models.PaymentStatusOverdue
			marked = append(marked, *e)
		}
	}
	if len(marked) > 0 {
		p.UpdatedAt = asOf
	}
	return marked
}

// Sweepable reports whether plans in status s can still have entries fall
// overdue.
func Sweepable(s models.PlanStatus) bool {
	return s == models.PlanStatusActive || s == models.PlanStatusDefaulted
}

// SweepableStatuses lists every status Sweepable accepts.
var SweepableStatuses = []models.PlanStatus{models.PlanStatusActive, models.PlanStatusDefaulted}

// SweepOverdue runs SweepPlan over plans and returns how many entries became
// OVERDUE. Running it again with the same or a later asOf only picks up
// entries that have fallen due since.
func SweepOverdue(plans []*models.Plan, asOf time.Time) int {
	count := 0
	for _, p := range plans {
		count += len(SweepPlan(p, asOf))
	}
	return count
}
