// Package simulator previews schedules without creating plans and compares
// the interest-bearing amortization systems side by side.
package simulator

import (
	"fmt"
	"sort"
	"time"

	"github.com/mcclellann/installments/pkg/models"
	"github.com/mcclellann/installments/pkg/schedule"
	"github.com/shopspring/decimal"
)

// Simulate returns exactly the schedule plan creation would build for def.
func Simulate(def models.PlanDefinition) ([]models.ScheduledPayment, error) {
	return schedule.Generate(def)
}

// Outcome totals one amortization system over the whole term.
type Outcome struct {
	Type             models.AmortizationType `json:"type"`
	TotalPaid        models.Cents            `json:"total_paid"`
	TotalInterest    models.Cents            `json:"total_interest"`
	FirstInstallment models.Cents            `json:"first_installment"`
	LastInstallment  models.Cents            `json:"last_installment"`
}

// Comparison is the head-to-head result of Compare.
type Comparison struct {
	Price    Outcome `json:"price"`
	SAC      Outcome `json:"sac"`
	American Outcome `json:"american"`
	// Ranking orders the systems by total interest, cheapest first.
	Ranking               []models.AmortizationType `json:"ranking"`
	LowestTotalInterest   models.AmortizationType   `json:"lowest_total_interest"`
	MostStableInstallment models.AmortizationType   `json:"most_stable_installment"`
	DefersPrincipal       models.AmortizationType   `json:"defers_principal"`
	Notes                 []string                  `json:"notes"`
}

// comparisonStart anchors the schedules Compare builds; due dates do not
// influence any amount.
var comparisonStart = time.Date(2000, time.January, 1, 0, 0, 0, 0, time.UTC)

// Compare simulates PRICE, SAC and AMERICAN for the same loan.
func Compare(principal models.Cents, annualRate decimal.Decimal, n int) (Comparison, error) {
	if !annualRate.IsPositive() {
		return Comparison{}, fmt.Errorf("%w: comparison needs a positive interest rate, got %s",
			models.ErrInvalidParameter, annualRate)
	}

	outcomes := make(map[models.AmortizationType]Outcome, 3)
	for _, typ := range []models.AmortizationType{models.AmortizationPrice, models.AmortizationSAC, models.AmortizationAmerican} {
		entries, err := Simulate(models.PlanDefinition{
			Principal:          principal,
			AnnualInterestRate: annualRate,
			TotalInstallments:  n,
			AmortizationType:   typ,
			StartDate:          comparisonStart,
		})
		if err != nil {
			return Comparison{}, fmt.Errorf("simulate %s: %w", typ, err)
		}
		outcomes[typ] = summarize(typ, entries)
	}

	c := Comparison{
		Price:                 outcomes[models.AmortizationPrice],
		SAC:                   outcomes[models.AmortizationSAC],
		American:              outcomes[models.AmortizationAmerican],
		MostStableInstallment: models.AmortizationPrice,
		DefersPrincipal:       models.AmortizationAmerican,
	}
	ranked := []Outcome{c.SAC, c.Price, c.American}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].TotalInterest < ranked[j].TotalInterest })
	for _, o := range ranked {
		c.Ranking = append(c.Ranking, o.Type)
	}
	c.LowestTotalInterest = c.Ranking[0]

	c.Notes = []string{
		fmt.Sprintf("%s pays the least interest (%s): the balance declines fastest, so less interest accrues early on.",
			c.LowestTotalInterest, outcomes[c.LowestTotalInterest].TotalInterest),
		fmt.Sprintf("PRICE keeps a constant installment of %s.", c.Price.FirstInstallment),
		fmt.Sprintf("AMERICAN defers all principal to the final installment of %s.", c.American.LastInstallment),
	}
	return c, nil
}

func summarize(typ models.AmortizationType, entries []models.ScheduledPayment) Outcome {
	o := Outcome{
		Type:             typ,
		FirstInstallment: entries[0].PaymentAmount,
		LastInstallment:  entries[len(entries)-1].PaymentAmount,
	}
	for _, e := range entries {
		o.TotalPaid += e.PaymentAmount
		o.TotalInterest += e.InterestComponent
	}
	return o
}
