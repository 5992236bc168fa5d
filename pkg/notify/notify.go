// Package notify delivers overdue notices for scheduled payments.
package notify

import (
	"fmt"
	"net/smtp"

	"github.com/google/uuid"
	"github.com/jordan-wright/email"
	"github.com/mcclellann/installments/pkg/config"
	"github.com/mcclellann/installments/pkg/models"
	"github.com/sirupsen/logrus"
)

// OverdueNotice describes one entry that a sweep has just marked OVERDUE.
type OverdueNotice struct {
	PlanID       uuid.UUID
	Description  string
	ContactEmail string
	Payment      models.ScheduledPayment
}

// Notifier receives OVERDUE transitions.
type Notifier interface {
	NotifyOverdue(notice OverdueNotice) error
}

// Nop discards every notice.
type Nop struct{}

func (Nop) NotifyOverdue(OverdueNotice) error { return nil }

// EmailSender sends overdue notices via SMTP.
type EmailSender struct {
	cfg    config.SMTPConfig
	logger *logrus.Logger
	send   func(e *email.Email) error
}

// NewEmailSender creates a new email sender
func NewEmailSender(cfg config.SMTPConfig, logger *logrus.Logger) *EmailSender {
	s := &EmailSender{cfg: cfg, logger: logger}
	s.send = func(e *email.Email) error {
		addr := fmt.Sprintf("%s:%s", cfg.Host, cfg.Port)
		auth := smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
		return e.Send(addr, auth)
	}
	return s
}

// NotifyOverdue e-mails the plan contact. Plans without a contact address
// are skipped.
func (s *EmailSender) NotifyOverdue(notice OverdueNotice) error {
	if notice.ContactEmail == "" {
		return nil
	}
	e := buildOverdueEmail(s.cfg.SenderEmail, notice)
	if err := s.send(e); err != nil {
		s.logger.WithError(err).WithField("plan_id", notice.PlanID).Errorf("Failed to send overdue notice to %s", notice.ContactEmail)
		return fmt.Errorf("failed to send email: %w", err)
	}
	s.logger.WithField("plan_id", notice.PlanID).Infof("Email sent to %s: %s", notice.ContactEmail, e.Subject)
	return nil
}

func buildOverdueEmail(from string, notice OverdueNotice) *email.Email {
	p := notice.Payment
	label := notice.Description
	if label == "" {
		label = notice.PlanID.String()
	}

	e := email.NewEmail()
	e.From = from
	e.To = []string{notice.ContactEmail}
	e.Subject = fmt.Sprintf("Installment %d of %s is overdue", p.InstallmentNumber, label)
	body := fmt.Sprintf("Hello,\n\nInstallment %d of %s (%s) was due on %s and has not been settled.\n",
		p.InstallmentNumber, label, p.PaymentAmount, p.DueDate.Format("2006-01-02"))
	if p.State.PaidAmount > 0 {
		body += fmt.Sprintf("A partial payment of %s has been recorded; %s is still due.\n",
			p.State.PaidAmount, p.PaymentAmount-p.State.PaidAmount)
	}
	body += "\nFamily finance tracker"
	e.Text = []byte(body)
	return e
}
