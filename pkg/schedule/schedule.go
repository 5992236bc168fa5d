// Package schedule turns a PlanDefinition into its ordered list of scheduled
// payments. Generation is pure: it never touches a Plan or storage, so it is
// safe to call concurrently for any number of plans.
package schedule

import (
	"fmt"

	"github.com/mcclellann/installments/pkg/models"
	"github.com/mcclellann/installments/pkg/money"
	"github.com/shopspring/decimal"
)

// MaxInstallments bounds the term of a plan (100 years of monthly payments).
const MaxInstallments = 1200

// MaxPrincipal and MaxAnnualRate keep every amount and total of a schedule
// well inside int64 cents.
const MaxPrincipal models.Cents = 100_000_000_000_000

var MaxAnnualRate = decimal.NewFromInt(10_000)

// period is one computed row before dates and state are attached.
type period struct {
	amount    models.Cents
	principal models.Cents
	interest  models.Cents
	balance   models.Cents
}

// Validate checks a definition without generating anything.
func Validate(def models.PlanDefinition) error {
	if def.Principal <= 0 {
		return fmt.Errorf("%w: principal must be positive, got %d", models.ErrInvalidParameter, def.Principal)
	}
	if def.Principal > MaxPrincipal {
		return fmt.Errorf("%w: principal %d cents exceeds the maximum of %d", models.ErrInvalidParameter, def.Principal, MaxPrincipal)
	}
	if def.TotalInstallments < 1 || def.TotalInstallments > MaxInstallments {
		return fmt.Errorf("%w: total installments must be between 1 and %d, got %d",
			models.ErrInvalidParameter, MaxInstallments, def.TotalInstallments)
	}
	if def.AnnualInterestRate.IsNegative() {
		return fmt.Errorf("%w: annual interest rate %s is negative", models.ErrInvalidParameter, def.AnnualInterestRate)
	}
	if def.AnnualInterestRate.GreaterThan(MaxAnnualRate) {
		return fmt.Errorf("%w: annual interest rate %s exceeds the maximum of %s%%", models.ErrInvalidParameter, def.AnnualInterestRate, MaxAnnualRate)
	}
	if !def.AmortizationType.Valid() {
		return fmt.Errorf("%w: unknown amortization type %q", models.ErrInvalidParameter, def.AmortizationType)
	}
	if def.AmortizationType == models.AmortizationFlat && !def.AnnualInterestRate.IsZero() {
		return fmt.Errorf("%w: flat installments carry no interest, got rate %s", models.ErrInvalidParameter, def.AnnualInterestRate)
	}
	if def.StartDate.IsZero() {
		return fmt.Errorf("%w: start date is required", models.ErrInvalidParameter)
	}
	return nil
}

// Generate builds the schedule for def. Installment k is due k months after
// the start date; every entry starts PENDING.
func Generate(def models.PlanDefinition) ([]models.ScheduledPayment, error) {
	if err := Validate(def); err != nil {
		return nil, err
	}
	rate, err := money.MonthlyRate(def.AnnualInterestRate)
	if err != nil {
		return nil, err
	}

	var periods []period
	switch def.AmortizationType {
	case models.AmortizationPrice:
		periods, err = price(def.Principal, rate, def.TotalInstallments)
	case models.AmortizationSAC:
		periods, err = sac(def.Principal, rate, def.TotalInstallments)
	case models.AmortizationAmerican:
		periods, err = american(def.Principal, rate, def.TotalInstallments)
	case models.AmortizationFlat:
		periods, err = flat(def.Principal, def.TotalInstallments)
	}
	if err != nil {
		return nil, err
	}
	for i, p := range periods {
		if p.amount <= 0 {
			return nil, fmt.Errorf("%w: installment %d would be %d cents; principal too small for %d installments",
				models.ErrInvalidParameter, i+1, p.amount, def.TotalInstallments)
		}
	}
	mustBalance(def.Principal, periods)

	start := DateOf(def.StartDate)
	out := make([]models.ScheduledPayment, len(periods))
	for i, p := range periods {
		out[i] = models.ScheduledPayment{
			InstallmentNumber:     i + 1,
			DueDate:               AddMonths(start, i+1),
			PaymentAmount:         p.amount,
			PrincipalComponent:    p.principal,
			InterestComponent:     p.interest,
			ProjectedBalanceAfter: p.balance,
			StatementRef:          def.StatementRef,
			State:                 models.PaymentState{Status: models.PaymentStatusPending},
		}
	}
	return out, nil
}

// price walks the balance with a constant installment. The last installment
// repays whatever balance is left, so its amount may differ from the others
// by the accumulated rounding.
func price(principal models.Cents, rate decimal.Decimal, n int) ([]period, error) {
	installment, err := money.PriceInstallment(principal, rate, n)
	if err != nil {
		return nil, err
	}
	out := make([]period, 0, n)
	balance := principal
	for k := 1; k <= n; k++ {
		interest := money.Interest(balance, rate)
		amortization := installment - interest
		amount := installment
		if k == n {
			amortization = balance
			amount = amortization + interest
		} else if amortization < 0 || amortization >= balance {
			return nil, fmt.Errorf("%w: principal %d too small to amortize over %d installments",
				models.ErrInvalidParameter, principal, n)
		}
		balance -= amortization
		out = append(out, period{amount: amount, principal: amortization, interest: interest, balance: balance})
	}
	return out, nil
}

// sac amortizes a constant share of principal each period; interest is
// charged on the balance before the period.
func sac(principal models.Cents, rate decimal.Decimal, n int) ([]period, error) {
	regular, last, err := money.ConstantAmortization(principal, n)
	if err != nil {
		return nil, err
	}
	out := make([]period, 0, n)
	balance := principal
	for k := 1; k <= n; k++ {
		amortization := regular
		if k == n {
			amortization = last
		}
		interest := money.Interest(balance, rate)
		balance -= amortization
		out = append(out, period{amount: amortization + interest, principal: amortization, interest: interest, balance: balance})
	}
	return out, nil
}

// american charges interest only and repays the whole principal with the
// last installment.
func american(principal models.Cents, rate decimal.Decimal, n int) ([]period, error) {
	interest, err := money.AmericanPeriodicInterest(principal, rate)
	if err != nil {
		return nil, err
	}
	out := make([]period, 0, n)
	for k := 1; k < n; k++ {
		out = append(out, period{amount: interest, interest: interest, balance: principal})
	}
	out = append(out, period{amount: principal + interest, principal: principal, interest: interest})
	return out, nil
}

func flat(total models.Cents, n int) ([]period, error) {
	regular, last, err := money.FlatSplit(total, n)
	if err != nil {
		return nil, err
	}
	if last <= 0 {
		return nil, fmt.Errorf("%w: %d cents cannot be split into %d installments", models.ErrInvalidParameter, total, n)
	}
	out := make([]period, 0, n)
	balance := total
	for k := 1; k <= n; k++ {
		amount := regular
		if k == n {
			amount = last
		}
		balance -= amount
		out = append(out, period{amount: amount, principal: amount, balance: balance})
	}
	return out, nil
}

// mustBalance panics when the remainder correction failed to land the
// schedule on exactly the principal. That can only be a bug in this package.
func mustBalance(principal models.Cents, periods []period) {
	var sum models.Cents
	for _, p := range periods {
		sum += p.principal
		if p.amount != p.principal+p.interest {
			panic(fmt.Sprintf("schedule: installment amount %d != principal %d + interest %d", p.amount, p.principal, p.interest))
		}
	}
	if sum != principal {
		panic(fmt.Sprintf("schedule: principal components sum to %d, want %d", sum, principal))
	}
	if last := periods[len(periods)-1].balance; last != 0 {
		panic(fmt.Sprintf("schedule: final projected balance is %d, want 0", last))
	}
}
