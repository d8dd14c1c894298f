package mail

import (
	"errors"
	"fmt"
	"html"
	"log/slog"
	"time"

	"github.com/faithconnect/member-service/shared/monitoring"
	"gopkg.in/gomail.v2"
)

// ErrDisabled is returned when no SMTP host is configured
var ErrDisabled = errors.New("mail delivery is not configured")

// Config holds the SMTP settings
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	// AppName appears in subjects and greetings
	AppName string
}

// Sender delivers composed messages. *gomail.Dialer satisfies it.
type Sender interface {
	DialAndSend(m ...*gomail.Message) error
}

// MailService composes and sends account emails
type MailService struct {
	sender Sender
	from   string
	app    string
}

// NewMailService creates a mail service. With an empty host it returns a
// disabled service whose sends fail with ErrDisabled.
func NewMailService(cfg Config) *MailService {
	app := cfg.AppName
	if app == "" {
		app = "FaithConnect"
	}
	from := cfg.From
	if from == "" {
		from = cfg.Username
	}

	if cfg.Host == "" {
		slog.Info("Mail service disabled", "reason", "SMTP host not configured")
		return &MailService{from: from, app: app}
	}
	return &MailService{
		sender: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		from:   from,
		app:    app,
	}
}

// NewMailServiceWithSender is used by tests to capture outgoing mail
func NewMailServiceWithSender(sender Sender, from, app string) *MailService {
	if app == "" {
		app = "FaithConnect"
	}
	return &MailService{sender: sender, from: from, app: app}
}

// Enabled reports whether mail can be sent
func (m *MailService) Enabled() bool {
	return m.sender != nil
}

// SendPasswordReset mails a password reset link
func (m *MailService) SendPasswordReset(to, name, resetLink string) error {
	subject := fmt.Sprintf("Reset your %s password", m.app)
	body := fmt.Sprintf(`
		<div style="font-family: Arial, sans-serif; max-width: 600px; margin: auto; padding: 20px;">
			<h2>%s password reset</h2>
			<p>Hello %s,</p>
			<p>We received a request to reset your password. The link below is valid for a limited time.</p>
			<p style="text-align: center;"><a href="%s">Reset password</a></p>
			<p>If you did not ask for this, you can ignore this email.</p>
		</div>
	`, html.EscapeString(m.app), html.EscapeString(greetingName(name)), html.EscapeString(resetLink))
	return m.send(to, subject, body, "password_reset")
}

// SendWelcome mails the first sign-in link of a newly created member login
func (m *MailService) SendWelcome(to, name, signInLink string) error {
	subject := fmt.Sprintf("Your %s account is ready", m.app)
	body := fmt.Sprintf(`
		<div style="font-family: Arial, sans-serif; max-width: 600px; margin: auto; padding: 20px;">
			<h2>Welcome to %s</h2>
			<p>Hello %s,</p>
			<p>An account has been created for you. Use the link below to sign in and set your password.</p>
			<p style="text-align: center;"><a href="%s">Sign in</a></p>
		</div>
	`, html.EscapeString(m.app), html.EscapeString(greetingName(name)), html.EscapeString(signInLink))
	return m.send(to, subject, body, "welcome")
}

func (m *MailService) send(to, subject, body, kind string) error {
	if m.sender == nil {
		return ErrDisabled
	}

	message := gomail.NewMessage()
	message.SetHeader("From", m.from)
	message.SetHeader("To", to)
	message.SetHeader("Subject", subject)
	message.SetBody("text/html", body)

	start := time.Now()
	err := m.sender.DialAndSend(message)
	monitoring.RecordExternalCall("smtp", kind, time.Since(start), err)
	if err != nil {
		return fmt.Errorf("failed to send %s mail: %w", kind, err)
	}
	return nil
}

func greetingName(name string) string {
	if name == "" {
		return "there"
	}
	return name
}
