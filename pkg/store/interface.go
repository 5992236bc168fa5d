package store

import (
	"github.com/google/uuid"
	"github.com/mcclellann/installments/pkg/models"
)

// Storage defines the interface for database operations related to plans,
// their schedules and the payment audit trail.
type Storage interface {
	// CreatePlan stores a plan together with its full schedule.
	CreatePlan(plan *models.Plan) error
	GetPlan(id uuid.UUID) (*models.Plan, error)
	// UpdatePlan saves the plan aggregates and the payment state of every
	// entry. It fails with models.ErrVersionConflict unless plan.Version
	// matches the stored version, and increments plan.Version on success.
	UpdatePlan(plan *models.Plan) error
	GetAllPlans() ([]*models.Plan, error)
	// GetPlansByStatus returns the plans whose status is one of statuses.
	GetPlansByStatus(statuses ...models.PlanStatus) ([]*models.Plan, error)

	CreatePaymentRecord(record *models.PaymentRecord) error
	GetPaymentRecordsForPlan(planID uuid.UUID) ([]*models.PaymentRecord, error)

	Close() error
}
