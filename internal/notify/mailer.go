// Package notify delivers project-change emails over SMTP. Delivery is best
// effort by contract: a failed or misconfigured send is logged and counted,
// and never affects the operation that triggered it. When notifications are
// disabled or no SMTP host is configured the mailer is a silent no-op, so it
// is always safe to wire regardless of deployment environment.
package notify

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"
	"strings"
	"time"

	"github.com/docverctl/docverctl/internal/config"
	"github.com/docverctl/docverctl/internal/safego"
	"github.com/docverctl/docverctl/internal/telemetry"
)

// ChangeEvent describes a committed workspace change worth telling people about.
type ChangeEvent struct {
	ProjectName string
	RepoOwner   string
	RepoName    string
	Action      string // human-readable: "edited", "deleted", "moved", ...
	Path        string
	ActorLogin  string
	CommitSHA   string
	Message     string
	OccurredAt  time.Time
}

// Mailer sends change notifications via SMTP.
type Mailer struct {
	cfg *config.NotificationsConfig

	// sendFn delivers a composed message; swapped out in tests.
	sendFn func(cfg *config.SMTPConfig, to []string, msg []byte) error
}

// NewMailer creates a mailer over the notifications config.
func NewMailer(cfg *config.NotificationsConfig) *Mailer {
	return &Mailer{cfg: cfg, sendFn: sendSMTP}
}

// Enabled reports whether the mailer will actually deliver anything.
func (m *Mailer) Enabled() bool {
	return m.cfg != nil && m.cfg.Enabled && m.cfg.SMTP.Host != ""
}

// NotifyChange delivers the event to the recipients on a detached goroutine.
// It returns immediately; the caller's response never waits on SMTP.
func (m *Mailer) NotifyChange(recipients []string, event ChangeEvent) {
	if !m.Enabled() || len(recipients) == 0 {
		return
	}
	safego.Go(func() { m.deliver(recipients, event) })
}

// deliver composes and sends one message addressed to all recipients.
func (m *Mailer) deliver(recipients []string, event ChangeEvent) {
	msg := composeMessage(&m.cfg.SMTP, recipients, event)

	if err := m.sendFn(&m.cfg.SMTP, recipients, msg); err != nil {
		telemetry.NotificationEmailsTotal.WithLabelValues("failed").Inc()
		slog.Warn("notify: failed to send change email",
			"project", event.ProjectName,
			"action", event.Action,
			"recipients", len(recipients),
			"error", err)
		return
	}

	telemetry.NotificationEmailsTotal.WithLabelValues("sent").Inc()
	slog.Debug("notify: change email sent",
		"project", event.ProjectName,
		"action", event.Action,
		"recipients", len(recipients))
}

// composeMessage builds a plain-text RFC 5322 message.
func composeMessage(smtpCfg *config.SMTPConfig, recipients []string, event ChangeEvent) []byte {
	when := event.OccurredAt
	if when.IsZero() {
		when = time.Now()
	}

	subject := fmt.Sprintf("[%s] %s %s %s",
		event.ProjectName, event.ActorLogin, event.Action, event.Path)

	lines := []string{
		fmt.Sprintf("%s %s %s in %s/%s.", event.ActorLogin, event.Action, event.Path, event.RepoOwner, event.RepoName),
		"",
		fmt.Sprintf("Commit message: %s", event.Message),
	}
	if event.CommitSHA != "" {
		lines = append(lines, fmt.Sprintf("Commit: %s", event.CommitSHA))
	}
	lines = append(lines,
		fmt.Sprintf("When: %s", when.UTC().Format(time.RFC1123)),
		"",
		"You are receiving this because you are on the notification list for this project.",
	)
	body := strings.Join(lines, "\r\n")

	headers := fmt.Sprintf(
		"From: %s\r\nTo: %s\r\nSubject: %s\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n",
		smtpCfg.From, strings.Join(recipients, ", "), subject,
	)
	return []byte(headers + body + "\r\n")
}

// sendSMTP delivers a message, picking implicit TLS or STARTTLS/plain based
// on config.
func sendSMTP(smtpCfg *config.SMTPConfig, to []string, msg []byte) error {
	addr := fmt.Sprintf("%s:%d", smtpCfg.Host, smtpCfg.Port)

	var auth smtp.Auth
	if smtpCfg.Username != "" {
		auth = smtp.PlainAuth("", smtpCfg.Username, smtpCfg.Password, smtpCfg.Host)
	}

	if smtpCfg.UseTLS {
		return sendMailTLS(addr, smtpCfg.Host, auth, smtpCfg.From, to, msg)
	}
	return smtp.SendMail(addr, auth, smtpCfg.From, to, msg)
}

// sendMailTLS connects via implicit TLS (port 465 / SMTPS) and sends a message.
// For port 587 STARTTLS, smtp.SendMail handles the upgrade automatically; when
// the implicit TLS dial fails we fall back to that path so UseTLS=true always
// means an encrypted connection either way.
func sendMailTLS(addr, host string, auth smtp.Auth, from string, to []string, msg []byte) error {
	tlsConfig := &tls.Config{
		ServerName: host,
		MinVersion: tls.VersionTLS12,
	}

	conn, err := tls.Dial("tcp", addr, tlsConfig)
	if err != nil {
		// Fall back to STARTTLS via the standard smtp.SendMail path (port 587 pattern)
		return smtp.SendMail(addr, auth, from, to, msg)
	}
	defer conn.Close()

	hostname, _, _ := net.SplitHostPort(addr)
	c, err := smtp.NewClient(conn, hostname)
	if err != nil {
		return fmt.Errorf("smtp new client: %w", err)
	}
	defer c.Quit() //nolint:errcheck

	if auth != nil {
		if err := c.Auth(auth); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}
	if err := c.Mail(from); err != nil {
		return fmt.Errorf("smtp MAIL FROM: %w", err)
	}
	for _, rcpt := range to {
		if err := c.Rcpt(rcpt); err != nil {
			return fmt.Errorf("smtp RCPT TO %s: %w", rcpt, err)
		}
	}
	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("smtp DATA: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("smtp write: %w", err)
	}
	return w.Close()
}
