package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/installments/pkg/models"
	"github.com/sirupsen/logrus"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// SQLStore manages the database connection and operations. Queries are
// written with '?' placeholders and rebound for PostgreSQL.
type SQLStore struct {
	db     *sql.DB
	driver string
}

// NewSQLiteStore creates a new SQLite-backed store and initializes the database.
func NewSQLiteStore(dataSourceName string) (*SQLStore, error) {
	return Open(DriverSQLite, dataSourceName)
}

// Open connects to the given driver ("sqlite3" or "postgres") and makes sure
// the schema exists.
func Open(driver, dataSourceName string) (*SQLStore, error) {
	if driver != DriverSQLite && driver != DriverPostgres {
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
	db, err := sql.Open(driver, dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("could not open database: %w", err)
	}

	if driver == DriverSQLite {
		// Manually enable foreign keys and WAL mode
		if _, err := db.Exec("PRAGMA foreign_keys = ON;"); err != nil {
			return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
		}
		if _, err := db.Exec("PRAGMA journal_mode = WAL;"); err != nil {
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}
		// One writer at a time; concurrent writers would hit SQLITE_BUSY.
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("could not connect to database: %w", err)
	}

	s := &SQLStore{db: db, driver: driver}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("could not initialize schema: %w", err)
	}
	logrus.WithField("driver", driver).Info("Database connection established and schema initialized")
	return s, nil
}

// initSchema creates the tables if they don't already exist. Amounts are
// integer cents; the annual rate is TEXT so no precision is lost.
func (s *SQLStore) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS plans (
			id TEXT PRIMARY KEY,
			principal BIGINT NOT NULL,
			annual_interest_rate TEXT NOT NULL,
			total_installments INTEGER NOT NULL,
			amortization_type TEXT NOT NULL,
			start_date TIMESTAMP NOT NULL,
			statement_ref TEXT NOT NULL DEFAULT '',
			outstanding_balance BIGINT NOT NULL,
			paid_installments INTEGER NOT NULL,
			status TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			contact_email TEXT NOT NULL DEFAULT '',
			version INTEGER NOT NULL,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS scheduled_payments (
			plan_id TEXT NOT NULL REFERENCES plans(id),
			installment_number INTEGER NOT NULL,
			due_date TIMESTAMP NOT NULL,
			payment_amount BIGINT NOT NULL,
			principal_component BIGINT NOT NULL,
			interest_component BIGINT NOT NULL,
			projected_balance_after BIGINT NOT NULL,
			statement_ref TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			paid_amount BIGINT NOT NULL DEFAULT 0,
			paid_at TIMESTAMP,
			PRIMARY KEY (plan_id, installment_number)
		)`,
		`CREATE TABLE IF NOT EXISTS payment_records (
			id TEXT PRIMARY KEY,
			plan_id TEXT NOT NULL REFERENCES plans(id),
			installment_number INTEGER NOT NULL,
			amount BIGINT NOT NULL,
			settled BOOLEAN NOT NULL,
			paid_at TIMESTAMP NOT NULL,
			recorded_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_plans_status ON plans(status)`,
		`CREATE INDEX IF NOT EXISTS idx_payment_records_plan ON payment_records(plan_id)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// rebind rewrites '?' placeholders as $1, $2, ... for PostgreSQL.
func (s *SQLStore) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

// CreatePlan inserts a plan and its schedule within a transaction.
func (s *SQLStore) CreatePlan(plan *models.Plan) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	def := plan.Definition
	_, err = tx.Exec(s.rebind(
		`INSERT INTO plans (id, principal, annual_interest_rate, total_installments, amortization_type, start_date, statement_ref, outstanding_balance, paid_installments, status, description, contact_email, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		plan.ID.String(), def.Principal, def.AnnualInterestRate.String(), def.TotalInstallments, string(def.AmortizationType), def.StartDate.UTC(), def.StatementRef,
		plan.OutstandingBalance, plan.PaidInstallments, string(plan.Status), plan.Description, plan.ContactEmail, plan.Version, plan.CreatedAt.UTC(), plan.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to create plan: %w", err)
	}

	for _, e := range plan.Schedule {
		_, err = tx.Exec(s.rebind(
			`INSERT INTO scheduled_payments (plan_id, installment_number, due_date, payment_amount, principal_component, interest_component, projected_balance_after, statement_ref, status, paid_amount, paid_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
			plan.ID.String(), e.InstallmentNumber, e.DueDate.UTC(), e.PaymentAmount, e.PrincipalComponent, e.InterestComponent, e.ProjectedBalanceAfter, e.StatementRef,
			string(e.State.Status), e.State.PaidAmount, nullTime(e.State.PaidAt),
		)
		if err != nil {
			return fmt.Errorf("failed to create installment %d: %w", e.InstallmentNumber, err)
		}
	}
	return tx.Commit()
}

const planColumns = `id, principal, annual_interest_rate, total_installments, amortization_type, start_date, statement_ref, outstanding_balance, paid_installments, status, description, contact_email, version, created_at, updated_at`

// GetPlan retrieves a plan and its schedule by ID.
func (s *SQLStore) GetPlan(id uuid.UUID) (*models.Plan, error) {
	rows, err := s.db.Query(s.rebind(`SELECT `+planColumns+` FROM plans WHERE id = ?`), id.String())
	if err != nil {
		return nil, fmt.Errorf("failed to get plan: %w", err)
	}
	plans, err := s.scanPlans(rows)
	if err != nil {
		return nil, err
	}
	if len(plans) == 0 {
		return nil, models.ErrPlanNotFound
	}
	return plans[0], nil
}

// UpdatePlan saves the aggregates and payment states of a plan. Only the
// state columns of scheduled_payments are ever written after creation.
func (s *SQLStore) UpdatePlan(plan *models.Plan) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.Exec(s.rebind(
		`UPDATE plans SET outstanding_balance = ?, paid_installments = ?, status = ?, version = ?, updated_at = ? WHERE id = ? AND version = ?`),
		plan.OutstandingBalance, plan.PaidInstallments, string(plan.Status), plan.Version+1, plan.UpdatedAt.UTC(), plan.ID.String(), plan.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update plan: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return s.missingOrStale(tx, plan.ID)
	}

	if err := s.updateStates(tx, plan); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit plan update: %w", err)
	}
	plan.Version++
	return nil
}

func (s *SQLStore) updateStates(tx execer, plan *models.Plan) error {
	for _, e := range plan.Schedule {
		_, err := tx.Exec(s.rebind(
			`UPDATE scheduled_payments SET status = ?, paid_amount = ?, paid_at = ? WHERE plan_id = ? AND installment_number = ?`),
			string(e.State.Status), e.State.PaidAmount, nullTime(e.State.PaidAt), plan.ID.String(), e.InstallmentNumber,
		)
		if err != nil {
			return fmt.Errorf("failed to update installment %d: %w", e.InstallmentNumber, err)
		}
	}
	return nil
}

func (s *SQLStore) missingOrStale(tx *sql.Tx, id uuid.UUID) error {
	var version int
	err := tx.QueryRow(s.rebind(`SELECT version FROM plans WHERE id = ?`), id.String()).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return models.ErrPlanNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to read plan version: %w", err)
	}
	return fmt.Errorf("%w: stored version is %d", models.ErrVersionConflict, version)
}

// GetAllPlans retrieves all plans.
func (s *SQLStore) GetAllPlans() ([]*models.Plan, error) {
	rows, err := s.db.Query(`SELECT ` + planColumns + ` FROM plans ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to get all plans: %w", err)
	}
	return s.scanPlans(rows)
}

// GetPlansByStatus retrieves the plans in any of the given statuses.
func (s *SQLStore) GetPlansByStatus(statuses ...models.PlanStatus) ([]*models.Plan, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	args := make([]any, len(statuses))
	for i, status := range statuses {
		args[i] = string(status)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(statuses)), ", ")
	rows, err := s.db.Query(s.rebind(`SELECT `+planColumns+` FROM plans WHERE status IN (`+placeholders+`) ORDER BY created_at ASC`), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get plans by status: %w", err)
	}
	return s.scanPlans(rows)
}

// scanPlans reads plan rows, closes them, then loads each plan's schedule.
func (s *SQLStore) scanPlans(rows *sql.Rows) ([]*models.Plan, error) {
	var plans []*models.Plan
	for rows.Next() {
		var plan models.Plan
		var idStr, rate, typ, status string
		if err := rows.Scan(&idStr, &plan.Definition.Principal, &rate, &plan.Definition.TotalInstallments, &typ,
			&plan.Definition.StartDate, &plan.Definition.StatementRef, &plan.OutstandingBalance, &plan.PaidInstallments,
			&status, &plan.Description, &plan.ContactEmail, &plan.Version, &plan.CreatedAt, &plan.UpdatedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan plan row: %w", err)
		}
		id, err := uuid.Parse(idStr)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("invalid plan id %q: %w", idStr, err)
		}
		plan.ID = id
		if err := plan.Definition.AnnualInterestRate.Scan(rate); err != nil {
			rows.Close()
			return nil, fmt.Errorf("invalid rate for plan %s: %w", idStr, err)
		}
		plan.Definition.AmortizationType = models.AmortizationType(typ)
		plan.Status = models.PlanStatus(status)
		plans = append(plans, &plan)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("error during rows iteration: %w", err)
	}
	rows.Close()

	for _, plan := range plans {
		schedule, err := s.getSchedule(plan.ID)
		if err != nil {
			return nil, err
		}
		plan.Schedule = schedule
	}
	return plans, nil
}

func (s *SQLStore) getSchedule(planID uuid.UUID) ([]models.ScheduledPayment, error) {
	rows, err := s.db.Query(s.rebind(
		`SELECT installment_number, due_date, payment_amount, principal_component, interest_component, projected_balance_after, statement_ref, status, paid_amount, paid_at
		FROM scheduled_payments WHERE plan_id = ? ORDER BY installment_number ASC`), planID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to get schedule for plan %s: %w", planID, err)
	}
	defer rows.Close()

	var entries []models.ScheduledPayment
	for rows.Next() {
		var e models.ScheduledPayment
		var status string
		var paidAt sql.NullTime
		if err := rows.Scan(&e.InstallmentNumber, &e.DueDate, &e.PaymentAmount, &e.PrincipalComponent, &e.InterestComponent,
			&e.ProjectedBalanceAfter, &e.StatementRef, &status, &e.State.PaidAmount, &paidAt); err != nil {
			return nil, fmt.Errorf("failed to scan installment row: %w", err)
		}
		e.State.Status = models.PaymentStatus(status)
		if paidAt.Valid {
			t := paidAt.Time
			e.State.PaidAt = &t
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration for schedule: %w", err)
	}
	return entries, nil
}

// CreatePaymentRecord appends an entry to the payment audit trail.
func (s *SQLStore) CreatePaymentRecord(record *models.PaymentRecord) error {
	_, err := s.db.Exec(s.rebind(
		`INSERT INTO payment_records (id, plan_id, installment_number, amount, settled, paid_at, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`),
		record.ID.String(), record.PlanID.String(), record.InstallmentNumber, record.Amount, record.Settled, record.PaidAt.UTC(), record.RecordedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to create payment record: %w", err)
	}
	return nil
}

// GetPaymentRecordsForPlan retrieves the audit trail of a plan, oldest first.
func (s *SQLStore) GetPaymentRecordsForPlan(planID uuid.UUID) ([]*models.PaymentRecord, error) {
	rows, err := s.db.Query(s.rebind(
		`SELECT id, plan_id, installment_number, amount, settled, paid_at, recorded_at FROM payment_records WHERE plan_id = ? ORDER BY recorded_at ASC`),
		planID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to get payment records for plan %s: %w", planID, err)
	}
	defer rows.Close()

	var records []*models.PaymentRecord
	for rows.Next() {
		var record models.PaymentRecord
		var idStr, planIDStr string
		if err := rows.Scan(&idStr, &planIDStr, &record.InstallmentNumber, &record.Amount, &record.Settled, &record.PaidAt, &record.RecordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan payment record row: %w", err)
		}
		record.ID = uuid.MustParse(idStr)
		record.PlanID = uuid.MustParse(planIDStr)
		records = append(records, &record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration for payment records: %w", err)
	}
	return records, nil
}

// Close closes the database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
