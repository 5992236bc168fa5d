// Package plan applies lifecycle and payment events to a Plan.
//
// Every function validates first and mutates second: when an error is
// returned the plan is untouched. The functions are not safe for concurrent
// use on the same Plan; callers serialize writers per plan (see pkg/ledger).
package plan

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/installments/pkg/models"
	"github.com/mcclellann/installments/pkg/schedule"
)

// Create generates the schedule for def and wraps it in a new ACTIVE plan.
func Create(def models.PlanDefinition, now time.Time) (*models.Plan, error) {
	entries, err := schedule.Generate(def)
	if err != nil {
		return nil, err
	}
	def.StartDate = schedule.DateOf(def.StartDate)
	p := &models.Plan{
		ID:                 uuid.New(),
		Definition:         def,
		OutstandingBalance: def.Principal,
		Status:             models.PlanStatusActive,
		Schedule:           entries,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	return p, nil
}

// Cancel moves an ACTIVE plan to CANCELLED and cancels every entry that is
// still open. Cancelling a cancelled plan is a no-op. It reports whether the
// plan changed.
func Cancel(p *models.Plan, now time.Time) (bool, error) {
	switch p.Status {
	case models.PlanStatusCancelled:
		return false, nil
	case models.PlanStatusActive:
	default:
		return false, fmt.Errorf("%w: cannot cancel a %s plan", models.ErrInvalidStateTransition, p.Status)
	}

	for i := range p.Schedule {
		if isOpen(p.Schedule[i].State.Status) {
			p.Schedule[i].State.Status = models.PaymentStatusCancelled
		}
	}
	p.Status = models.PlanStatusCancelled
	p.UpdatedAt = now
	RecomputeAggregates(p)
	return true, nil
}

// MarkDefaulted records the caller's decision that an ACTIVE plan has
// defaulted. The engine never reaches this state on its own. Entries keep
// their state for audit; repeating the call is a no-op.
func MarkDefaulted(p *models.Plan, now time.Time) (bool, error) {
	switch p.Status {
	case models.PlanStatusDefaulted:
		return false, nil
	case models.PlanStatusActive:
	default:
		return false, fmt.Errorf("%w: cannot default a %s plan", models.ErrInvalidStateTransition, p.Status)
	}
	p.Status = models.PlanStatusDefaulted
	p.UpdatedAt = now
	return true, nil
}

// RecomputeAggregates derives the outstanding balance and paid count from
// the entries' states alone; no running totals are kept anywhere else.
func RecomputeAggregates(p *models.Plan) {
	var paidPrincipal models.Cents
	paid := 0
	for _, e := range p.Schedule {
		if e.State.Status == models.PaymentStatusPaid {
			paidPrincipal += e.PrincipalComponent
			paid++
		}
	}
	p.OutstandingBalance = p.Definition.Principal - paidPrincipal
	p.PaidInstallments = paid
}

func isOpen(s models.PaymentStatus) bool {
	return s == models.PaymentStatusPending || s == models.PaymentStatusOverdue
}
