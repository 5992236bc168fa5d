package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/mcclellann/installments/pkg/ledger"
	"github.com/mcclellann/installments/pkg/models"
	"github.com/mcclellann/installments/pkg/simulator"
	"github.com/mcclellann/installments/pkg/store"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const dateLayout = "2006-01-02"

// Server holds the ledger instance.
type Server struct {
	ledger  *ledger.Ledger
	storage store.Storage // Keep a reference to the storage to close it
	log     *logrus.Logger
	now     func() time.Time
}

func NewServer(s store.Storage, log *logrus.Logger, opts ...ledger.Option) *Server {
	return &Server{
		ledger:  ledger.NewLedger(s, append([]ledger.Option{ledger.WithLogger(log)}, opts...)...),
		storage: s,
		log:     log,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// routes registers every plan, simulation and sweep endpoint on r.
func (s *Server) routes(r *mux.Router) {
	r.HandleFunc("/plans", s.listPlansHandler).Methods("GET")
	r.HandleFunc("/plans", s.createPlanHandler).Methods("POST")
	r.HandleFunc("/plans/{id}", s.getPlanHandler).Methods("GET")
	r.HandleFunc("/plans/{id}/summary", s.planSummaryHandler).Methods("GET")
	r.HandleFunc("/plans/{id}/payments", s.listPaymentsHandler).Methods("GET")
	r.HandleFunc("/plans/{id}/payments", s.applyPaymentHandler).Methods("POST")
	r.HandleFunc("/plans/{id}/cancel", s.cancelPlanHandler).Methods("POST")
	r.HandleFunc("/plans/{id}/default", s.defaultPlanHandler).Methods("POST")
	r.HandleFunc("/simulations", s.simulateHandler).Methods("POST")
	r.HandleFunc("/comparisons", s.compareHandler).Methods("POST")
	r.HandleFunc("/sweeps", s.sweepHandler).Methods("POST")
}

type definitionRequest struct {
	Principal          models.Cents            `json:"principal"`
	AnnualInterestRate decimal.Decimal         `json:"annual_interest_rate"`
	TotalInstallments  int                     `json:"total_installments"`
	AmortizationType   models.AmortizationType `json:"amortization_type"`
	StartDate          string                  `json:"start_date"`
	StatementRef       string                  `json:"statement_ref"`
}

func (d definitionRequest) definition() (models.PlanDefinition, error) {
	start, err := time.Parse(dateLayout, d.StartDate)
	if err != nil {
		return models.PlanDefinition{}, fmt.Errorf("%w: start_date must be YYYY-MM-DD", models.ErrInvalidParameter)
	}
	return models.PlanDefinition{
		Principal:          d.Principal,
		AnnualInterestRate: d.AnnualInterestRate,
		TotalInstallments:  d.TotalInstallments,
		AmortizationType:   d.AmortizationType,
		StartDate:          start,
		StatementRef:       d.StatementRef,
	}, nil
}

func (s *Server) createPlanHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		definitionRequest
		Description  string `json:"description"`
		ContactEmail string `json:"contact_email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	def, err := req.definition()
	if err != nil {
		s.writeError(w, err)
		return
	}

	p, err := s.ledger.CreatePlan(ledger.CreatePlanRequest{
		Definition:   def,
		Description:  req.Description,
		ContactEmail: req.ContactEmail,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) getPlanHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := planID(w, r)
	if !ok {
		return
	}
	p, err := s.ledger.GetPlan(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) listPlansHandler(w http.ResponseWriter, r *http.Request) {
	plans, err := s.ledger.GetAllPlans()
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, plans)
}

func (s *Server) planSummaryHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := planID(w, r)
	if !ok {
		return
	}
	summary, err := s.ledger.GetPlanSummary(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) listPaymentsHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := planID(w, r)
	if !ok {
		return
	}
	records, err := s.ledger.GetPaymentRecords(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) applyPaymentHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := planID(w, r)
	if !ok {
		return
	}

	var req struct {
		InstallmentNumber int          `json:"installment_number"`
		Amount            models.Cents `json:"amount"`
		PaidAt            *time.Time   `json:"paid_at"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	paidAt := s.now()
	if req.PaidAt != nil {
		paidAt = req.PaidAt.UTC()
	}

	p, entry, err := s.ledger.ApplyPayment(id, req.InstallmentNumber, req.Amount, paidAt)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, struct {
		Plan    *models.Plan            `json:"plan"`
		Payment models.ScheduledPayment `json:"payment"`
	}{p, entry})
}

func (s *Server) cancelPlanHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := planID(w, r)
	if !ok {
		return
	}
	p, err := s.ledger.CancelPlan(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) defaultPlanHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := planID(w, r)
	if !ok {
		return
	}
	p, err := s.ledger.MarkDefaulted(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) simulateHandler(w http.ResponseWriter, r *http.Request) {
	var req definitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	def, err := req.definition()
	if err != nil {
		s.writeError(w, err)
		return
	}
	entries, err := simulator.Simulate(def)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) compareHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Principal          models.Cents    `json:"principal"`
		AnnualInterestRate decimal.Decimal `json:"annual_interest_rate"`
		TotalInstallments  int             `json:"total_installments"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	cmp, err := simulator.Compare(req.Principal, req.AnnualInterestRate, req.TotalInstallments)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cmp)
}

func (s *Server) sweepHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AsOf string `json:"as_of"`
	}
	// The body is optional; an empty one sweeps as of now.
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	asOf := s.now()
	if req.AsOf != "" {
		var err error
		if asOf, err = time.Parse(dateLayout, req.AsOf); err != nil {
			s.writeError(w, fmt.Errorf("%w: as_of must be YYYY-MM-DD", models.ErrInvalidParameter))
			return
		}
	}

	marked, err := s.ledger.SweepOverdue(asOf)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"marked": marked})
}

func planID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "Invalid plan ID", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

// writeError maps engine errors onto HTTP status codes.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, models.ErrInvalidParameter):
		status = http.StatusBadRequest
	case errors.Is(err, models.ErrOverpayment):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, models.ErrPlanNotFound), errors.Is(err, models.ErrInstallmentNotFound):
		status = http.StatusNotFound
	case errors.Is(err, models.ErrInvalidStateTransition), errors.Is(err, models.ErrVersionConflict):
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		s.log.WithError(err).Error("Request failed")
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
