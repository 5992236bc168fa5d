package simulator

import (
	"testing"
	"time"

	"github.com/mcclellann/installments/pkg/models"
	"github.com/mcclellann/installments/pkg/plan"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimulate_MatchesCreatedPlan(t *testing.T) {
	types := []models.AmortizationType{
		models.AmortizationPrice, models.AmortizationSAC, models.AmortizationAmerican,
	}
	for _, typ := range types {
		t.Run(string(typ), func(t *testing.T) {
			def := models.PlanDefinition{
				Principal:          2_500_000,
				AnnualInterestRate: decimal.RequireFromString("14.9"),
				TotalInstallments:  24,
				AmortizationType:   typ,
				StartDate:          time.Date(2025, 8, 31, 0, 0, 0, 0, time.UTC),
				StatementRef:       "stmt-9",
			}
			preview, err := Simulate(def)
			require.NoError(t, err)

			p, err := plan.Create(def, time.Now())
			require.NoError(t, err)
			assert.Equal(t, preview, p.Schedule)
		})
	}

	t.Run("flat", func(t *testing.T) {
		def := models.PlanDefinition{
			Principal:         59_990,
			TotalInstallments: 10,
			AmortizationType:  models.AmortizationFlat,
			StartDate:         time.Date(2025, 3, 5, 0, 0, 0, 0, time.UTC),
		}
		preview, err := Simulate(def)
		require.NoError(t, err)
		p, err := plan.Create(def, time.Now())
		require.NoError(t, err)
		assert.Equal(t, preview, p.Schedule)
	})
}

func TestCompare(t *testing.T) {
	c, err := Compare(1_000_000, decimal.NewFromInt(30), 12)
	require.NoError(t, err)

	assert.Equal(t, models.Cents(169_847), c.Price.TotalInterest)
	assert.Equal(t, models.Cents(1_169_847), c.Price.TotalPaid)
	assert.Equal(t, models.Cents(97_487), c.Price.FirstInstallment)

	assert.Equal(t, models.Cents(162_500), c.SAC.TotalInterest)
	assert.Equal(t, models.Cents(108_333), c.SAC.FirstInstallment)

	assert.Equal(t, models.Cents(300_000), c.American.TotalInterest)
	assert.Equal(t, models.Cents(25_000), c.American.FirstInstallment)
	assert.Equal(t, models.Cents(1_025_000), c.American.LastInstallment)

	assert.Equal(t, []models.AmortizationType{
		models.AmortizationSAC, models.AmortizationPrice, models.AmortizationAmerican,
	}, c.Ranking)
	assert.Equal(t, models.AmortizationSAC, c.LowestTotalInterest)
	assert.Equal(t, models.AmortizationPrice, c.MostStableInstallment)
	assert.Equal(t, models.AmortizationAmerican, c.DefersPrincipal)
	assert.Len(t, c.Notes, 3)

	t.Run("needs interest", func(t *testing.T) {
		_, err := Compare(1_000_000, decimal.Zero, 12)
		assert.ErrorIs(t, err, models.ErrInvalidParameter)
	})

	t.Run("propagates invalid input", func(t *testing.T) {
		_, err := Compare(0, decimal.NewFromInt(30), 12)
		assert.ErrorIs(t, err, models.ErrInvalidParameter)
	})
}
