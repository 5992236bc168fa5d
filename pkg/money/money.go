// Package money holds the fixed-point arithmetic behind every schedule:
// rate derivation, the Price coefficient and the per-period splits of the
// SAC and American systems. Amounts are integer cents; rates are decimals
// carried with ratePrecision digits until the final rounding to a cent.
package money

import (
	"fmt"

	"github.com/mcclellann/installments/pkg/models"
	"github.com/shopspring/decimal"
)

// ratePrecision is the number of decimal places kept in intermediate
// products before rounding to whole cents.
const ratePrecision = 20

var (
	one         = decimal.NewFromInt(1)
	percentYear = decimal.NewFromInt(12 * 100)
)

// MonthlyRate converts an annual percentage rate into the periodic rate
// compounded monthly: annual / 12 / 100.
func MonthlyRate(annualRatePercent decimal.Decimal) (decimal.Decimal, error) {
	if annualRatePercent.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: annual rate %s is negative", models.ErrInvalidParameter, annualRatePercent)
	}
	if annualRatePercent.IsZero() {
		return decimal.Zero, nil
	}
	return annualRatePercent.DivRound(percentYear, ratePrecision), nil
}

// RoundCents rounds a decimal amount of cents to the nearest cent, half up.
func RoundCents(d decimal.Decimal) models.Cents {
	return models.Cents(d.Round(0).IntPart())
}

// Interest is the interest accrued on balance over one period.
func Interest(balance models.Cents, monthlyRate decimal.Decimal) models.Cents {
	if monthlyRate.IsZero() {
		return 0
	}
	return RoundCents(decimal.NewFromInt(int64(balance)).Mul(monthlyRate))
}

// PriceInstallment is the constant installment of the French (Price) system:
//
//	P * r * (1+r)^n / ((1+r)^n - 1)
//
// With a zero rate it degrades to P / n by integer division; the caller
// absorbs the remainder in the final installment.
func PriceInstallment(principal models.Cents, monthlyRate decimal.Decimal, n int) (models.Cents, error) {
	if err := validate(principal, monthlyRate, n); err != nil {
		return 0, err
	}
	if monthlyRate.IsZero() {
		return principal / models.Cents(n), nil
	}

	factor := compound(monthlyRate, n)
	numerator := decimal.NewFromInt(int64(principal)).Mul(monthlyRate).Mul(factor)
	denominator := factor.Sub(one)
	return RoundCents(numerator.DivRound(denominator, ratePrecision)), nil
}

// SACFirstInstallment is the first (largest) installment of the constant
// amortization system: P / n plus one period of interest on P.
func SACFirstInstallment(principal models.Cents, monthlyRate decimal.Decimal, n int) (models.Cents, error) {
	if err := validate(principal, monthlyRate, n); err != nil {
		return 0, err
	}
	amortization, _, _ := ConstantAmortization(principal, n)
	return amortization + Interest(principal, monthlyRate), nil
}

// AmericanPeriodicInterest is the interest-only installment paid every period
// of the American system except the last, which also repays the principal.
func AmericanPeriodicInterest(principal models.Cents, monthlyRate decimal.Decimal) (models.Cents, error) {
	if err := validate(principal, monthlyRate, 1); err != nil {
		return 0, err
	}
	return Interest(principal, monthlyRate), nil
}

// ConstantAmortization splits principal into n-1 equal parts by integer
// division; the last part absorbs the remainder.
func ConstantAmortization(principal models.Cents, n int) (regular, last models.Cents, err error) {
	if err := validate(principal, decimal.Zero, n); err != nil {
		return 0, 0, err
	}
	regular = principal / models.Cents(n)
	last = principal - regular*models.Cents(n-1)
	return regular, last, nil
}

// FlatSplit splits total into n-1 parts of round(total/n); the last part
// absorbs the rounding remainder so the parts add up to total exactly.
func FlatSplit(total models.Cents, n int) (regular, last models.Cents, err error) {
	if err := validate(total, decimal.Zero, n); err != nil {
		return 0, 0, err
	}
	regular = RoundCents(decimal.NewFromInt(int64(total)).DivRound(decimal.NewFromInt(int64(n)), ratePrecision))
	last = total - regular*models.Cents(n-1)
	return regular, last, nil
}

// compound returns (1+r)^n by repeated squaring, truncating every product
// to ratePrecision places so the digit count stays bounded for long terms.
func compound(r decimal.Decimal, n int) decimal.Decimal {
	base := one.Add(r)
	result := one
	for n > 0 {
		if n&1 == 1 {
			result = result.Mul(base).Truncate(ratePrecision)
		}
		n >>= 1
		if n > 0 {
			base = base.Mul(base).Truncate(ratePrecision)
		}
	}
	return result
}

func validate(principal models.Cents, monthlyRate decimal.Decimal, n int) error {
	if principal <= 0 {
		return fmt.Errorf("%w: principal must be positive, got %d", models.ErrInvalidParameter, principal)
	}
	if n <= 0 {
		return fmt.Errorf("%w: installment count must be positive, got %d", models.ErrInvalidParameter, n)
	}
	if monthlyRate.IsNegative() {
		return fmt.Errorf("%w: rate %s is negative", models.ErrInvalidParameter, monthlyRate)
	}
	return nil
}
