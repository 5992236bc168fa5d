package models

import "errors"

var (
	// ErrInvalidParameter rejects bad principal, rate, installment count or
	// payment input before anything is created or changed.
	ErrInvalidParameter = errors.New("invalid parameter")
	// ErrOverpayment is returned when a payment exceeds the installment due.
	ErrOverpayment = errors.New("payment exceeds installment amount")
	// ErrInvalidStateTransition covers operations not allowed from the
	// current plan or installment status.
	ErrInvalidStateTransition = errors.New("invalid state transition")

	ErrPlanNotFound        = errors.New("plan not found")
	ErrInstallmentNotFound = errors.New("installment not found")
	// ErrVersionConflict means another writer saved the plan first.
	ErrVersionConflict = errors.New("plan version conflict")
)
