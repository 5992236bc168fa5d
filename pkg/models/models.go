package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Cents is an amount in the minor unit of the single currency the engine works in.
type Cents int64

// Decimal returns the amount in major units (e.g. 1050 -> 10.50).
func (c Cents) Decimal() decimal.Decimal {
	return decimal.New(int64(c), -2)
}

func (c Cents) String() string {
	return c.Decimal().StringFixed(2)
}

type AmortizationType string

const (
	AmortizationPrice    AmortizationType = "PRICE"
	AmortizationSAC      AmortizationType = "SAC"
	AmortizationAmerican AmortizationType = "AMERICAN"
	AmortizationFlat     AmortizationType = "FLAT"
)

// Valid reports whether t is one of the supported amortization systems.
func (t AmortizationType) Valid() bool {
	switch t {
	case AmortizationPrice, AmortizationSAC, AmortizationAmerican, AmortizationFlat:
		return true
	}
	return false
}

type PlanStatus string

const (
	PlanStatusActive    PlanStatus = "ACTIVE"
	PlanStatusPaidOff   PlanStatus = "PAID_OFF"
	PlanStatusCancelled PlanStatus = "CANCELLED"
	PlanStatusDefaulted PlanStatus = "DEFAULTED"
)

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "PENDING"
	PaymentStatusPaid      PaymentStatus = "PAID"
	PaymentStatusOverdue   PaymentStatus = "OVERDUE"
	PaymentStatusCancelled PaymentStatus = "CANCELLED"
)

// PlanDefinition is the immutable input a schedule is generated from.
type PlanDefinition struct {
	Principal          Cents            `json:"principal"`
	AnnualInterestRate decimal.Decimal  `json:"annual_interest_rate"` // percent, e.g. 9.5
	TotalInstallments  int              `json:"total_installments"`
	AmortizationType   AmortizationType `json:"amortization_type"`
	StartDate          time.Time        `json:"start_date"`
	// StatementRef is an opaque caller reference (e.g. a card statement key).
	// It is copied onto every generated entry and never interpreted.
	StatementRef string `json:"statement_ref,omitempty"`
}

// PaymentState is the only mutable facet of a ScheduledPayment.
type PaymentState struct {
	Status     PaymentStatus `json:"status"`
	PaidAmount Cents         `json:"paid_amount"`
	PaidAt     *time.Time    `json:"paid_at,omitempty"`
}

// ScheduledPayment is one dated installment. Everything except State is fixed
// at generation time.
type ScheduledPayment struct {
	InstallmentNumber     int          `json:"installment_number"`
	DueDate               time.Time    `json:"due_date"`
	PaymentAmount         Cents        `json:"payment_amount"`
	PrincipalComponent    Cents        `json:"principal_component"`
	InterestComponent     Cents        `json:"interest_component"`
	ProjectedBalanceAfter Cents        `json:"projected_balance_after"`
	StatementRef          string       `json:"statement_ref,omitempty"`
	State                 PaymentState `json:"state"`
}

// Plan is a loan or installment purchase together with its schedule.
type Plan struct {
	ID                 uuid.UUID          `json:"id"`
	Definition         PlanDefinition     `json:"definition"`
	OutstandingBalance Cents              `json:"outstanding_balance"`
	PaidInstallments   int                `json:"paid_installments"`
	Status             PlanStatus         `json:"status"`
	Schedule           []ScheduledPayment `json:"schedule"`
	Description        string             `json:"description,omitempty"`
	ContactEmail       string             `json:"contact_email,omitempty"` // Used for overdue notices
	Version            int                `json:"version"`                 // Optimistic concurrency counter
	CreatedAt          time.Time          `json:"created_at"`
	UpdatedAt          time.Time          `json:"updated_at"`
}

// Installment returns a pointer into the schedule for installment n (1-based).
func (p *Plan) Installment(n int) (*ScheduledPayment, error) {
	if n < 1 || n > len(p.Schedule) {
		return nil, fmt.Errorf("%w: installment %d (plan has %d)", ErrInstallmentNotFound, n, len(p.Schedule))
	}
	return &p.Schedule[n-1], nil
}

// Clone returns a deep copy so callers can mutate it without sharing state.
func (p *Plan) Clone() *Plan {
	out := *p
	out.Schedule = make([]ScheduledPayment, len(p.Schedule))
	copy(out.Schedule, p.Schedule)
	for i := range out.Schedule {
		if at := out.Schedule[i].State.PaidAt; at != nil {
			t := *at
			out.Schedule[i].State.PaidAt = &t
		}
	}
	return &out
}

// PaymentRecord is an append-only audit entry for every accepted payment,
// full or partial.
type PaymentRecord struct {
	ID                uuid.UUID `json:"id"`
	PlanID            uuid.UUID `json:"plan_id"`
	InstallmentNumber int       `json:"installment_number"`
	Amount            Cents     `json:"amount"`
	Settled           bool      `json:"settled"`
	PaidAt            time.Time `json:"paid_at"`
	RecordedAt        time.Time `json:"recorded_at"`
}

// PlanSummary aggregates a plan's schedule for dashboards.
type PlanSummary struct {
	PlanID             uuid.UUID         `json:"plan_id"`
	Status             PlanStatus        `json:"status"`
	Principal          Cents             `json:"principal"`
	TotalScheduled     Cents             `json:"total_scheduled"`
	TotalInterest      Cents             `json:"total_interest"`
	OutstandingBalance Cents             `json:"outstanding_balance"`
	PaidCount          int               `json:"paid_count"`
	PaidAmount         Cents             `json:"paid_amount"`
	PendingCount       int               `json:"pending_count"`
	PendingAmount      Cents             `json:"pending_amount"`
	OverdueCount       int               `json:"overdue_count"`
	OverdueAmount      Cents             `json:"overdue_amount"`
	CancelledCount     int               `json:"cancelled_count"`
	NextDue            *ScheduledPayment `json:"next_due,omitempty"`
}
