// Package metrics exposes Prometheus collectors for engine events. A nil
// *Collectors is valid and records nothing.
package metrics

import (
	"time"

	"github.com/mcclellann/installments/pkg/models"
	"github.com/prometheus/client_golang/prometheus"
)

// Payment outcomes used as the "outcome" label.
const (
	OutcomeSettled     = "settled"
	OutcomePartial     = "partial"
	OutcomeOverpayment = "overpayment"
	OutcomeRejected    = "rejected"
)

type Collectors struct {
	plansCreated       *prometheus.CounterVec
	planTransitions    *prometheus.CounterVec
	paymentsApplied    *prometheus.CounterVec
	overdueMarked      prometheus.Counter
	scheduleGeneration prometheus.Histogram
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Collectors {
	c := &Collectors{
		plansCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "installments",
			Name:      "plans_created_total",
			Help:      "Plans created, by amortization type.",
		}, []string{"type"}),
		planTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "installments",
			Name:      "plan_transitions_total",
			Help:      "Plan status transitions, by target status.",
		}, []string{"status"}),
		paymentsApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "installments",
			Name:      "payments_total",
			Help:      "Payment attempts, by outcome.",
		}, []string{"outcome"}),
		overdueMarked: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "installments",
			Name:      "overdue_marked_total",
			Help:      "Scheduled payments moved to OVERDUE by sweeps.",
		}),
		scheduleGeneration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "installments",
			Name:      "schedule_generation_seconds",
			Help:      "Time spent generating schedules.",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 8),
		}),
	}
	reg.MustRegister(c.plansCreated, c.planTransitions, c.paymentsApplied, c.overdueMarked, c.scheduleGeneration)
	return c
}

func (c *Collectors) PlanCreated(typ models.AmortizationType, took time.Duration) {
	if c == nil {
		return
	}
	c.plansCreated.WithLabelValues(string(typ)).Inc()
	c.scheduleGeneration.Observe(took.Seconds())
}

func (c *Collectors) PlanTransition(status models.PlanStatus) {
	if c == nil {
		return
	}
	c.planTransitions.WithLabelValues(string(status)).Inc()
}

func (c *Collectors) Payment(outcome string) {
	if c == nil {
		return
	}
	c.paymentsApplied.WithLabelValues(outcome).Inc()
}

func (c *Collectors) OverdueMarked(n int) {
	if c == nil || n == 0 {
		return
	}
	c.overdueMarked.Add(float64(n))
}
