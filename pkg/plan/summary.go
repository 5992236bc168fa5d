package plan

import "github.com/mcclellann/installments/pkg/models"

// Summarize totals a plan's schedule by payment state.
func Summarize(p *models.Plan) models.PlanSummary {
	s := models.PlanSummary{
		PlanID:             p.ID,
		Status:             p.Status,
		Principal:          p.Definition.Principal,
		OutstandingBalance: p.OutstandingBalance,
	}
	for i, e := range p.Schedule {
		s.TotalScheduled += e.PaymentAmount
		s.TotalInterest += e.InterestComponent
		switch e.State.Status {
		case models.PaymentStatusPaid:
			s.PaidCount++
			s.PaidAmount += e.State.PaidAmount
		case models.PaymentStatusPending:
			s.PendingCount++
			s.PendingAmount += e.PaymentAmount
		case models.PaymentStatusOverdue:
			s.OverdueCount++
			s.OverdueAmount += e.PaymentAmount
		case models.PaymentStatusCancelled:
			s.CancelledCount++
		}
		if s.NextDue == nil && isOpen(e.State.Status) {
			next := p.Schedule[i]
			s.NextDue = &next
		}
	}
	return s
}
