package alerts

import (
	"context"
	"fmt"
	"time"

	"convopilot_backend/platform/config"
	"convopilot_backend/platform/logger"

	gomail "github.com/wneessen/go-mail"
)

// Mailer delivers critical alerts to the operator mailbox over SMTP.
// Returns nil from NewMailer when alert mail is disabled; a nil Mailer is
// a no-op.
type Mailer struct {
	host     string
	port     int
	username string
	password string
	from     string
	to       string
	log      *logger.Logger
}

// NewMailer creates the SMTP alert notifier.
func NewMailer(cfg config.AlertMailConfig, log *logger.Logger) *Mailer {
	if !cfg.GetAlertMailEnabled() || cfg.GetSMTPHost() == "" {
		return nil
	}
	return &Mailer{
		host:     cfg.GetSMTPHost(),
		port:     cfg.GetSMTPPort(),
		username: cfg.GetSMTPUser(),
		password: cfg.GetSMTPPassword(),
		from:     cfg.GetAlertMailFrom(),
		to:       cfg.GetAlertMailTo(),
		log:      log,
	}
}

// Notify emails one alert. Mail failures are logged, never propagated:
// alerting must not take the caller down with it.
func (m *Mailer) Notify(ctx context.Context, alert Alert) {
	if m == nil {
		return
	}

	msg := gomail.NewMsg()
	if err := msg.From(m.from); err != nil {
		m.log.Error("alert mail from invalid", "error", err)
		return
	}
	if err := msg.To(m.to); err != nil {
		m.log.Error("alert mail recipient invalid", "error", err)
		return
	}
	msg.Subject(fmt.Sprintf("[%s] %s: %s", alert.Severity, alert.Source, alert.Message))

	body := fmt.Sprintf("Severity: %s\nSource: %s\nMessage: %s\nAt: %s\n",
		alert.Severity, alert.Source, alert.Message, alert.CreatedAt.Format(time.RFC3339))
	if alert.TenantID != nil {
		body += "Tenant: " + alert.TenantID.String() + "\n"
	}
	if alert.Detail != nil {
		body += "\n" + *alert.Detail + "\n"
	}
	msg.SetBodyString(gomail.TypeTextPlain, body)

	client, err := gomail.NewClient(m.host,
		gomail.WithPort(m.port),
		gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
		gomail.WithUsername(m.username),
		gomail.WithPassword(m.password),
		gomail.WithTLSPortPolicy(gomail.TLSOpportunistic),
		gomail.WithTimeout(15*time.Second),
	)
	if err != nil {
		m.log.Error("alert mail client failed", "error", err)
		return
	}

	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		m.log.Error("alert mail send failed", "error", err)
	}
}
