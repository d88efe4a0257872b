// Package jobs holds background work that runs alongside the HTTP server.
//
// QRExpiryNotifier emails students whose gate QR code expires within the
// warning window, reminding them to request a renewal. Reminder state lives
// in qr_codes.expiry_notified_at, so each code is mailed once even across
// restarts. The job is a no-op when notifications are disabled or no SMTP
// host is configured.
package jobs

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"
	"strings"
	"sync"
	"time"

	"github.com/campusgate/gatepass/internal/config"
	"github.com/campusgate/gatepass/internal/db/models"
	"github.com/campusgate/gatepass/internal/telemetry"
)

// ReminderStore finds codes nearing expiry and records sent reminders.
// *repositories.QRCodeRepository satisfies it.
type ReminderStore interface {
	ListExpiringQRCodes(ctx context.Context, now, before time.Time) ([]models.QRCodeReminder, error)
	MarkQRCodeNotified(ctx context.Context, id int64, at time.Time) error
}

// Mailer delivers one message to one recipient.
type Mailer func(to string, msg []byte) error

// QRExpiryNotifier periodically reminds students to renew expiring codes.
type QRExpiryNotifier struct {
	store    ReminderStore
	cfg      *config.NotificationsConfig
	interval time.Duration
	send     Mailer
	now      func() time.Time
	stopChan chan struct{}
	stopOnce sync.Once
}

// NewQRExpiryNotifier creates a notifier that mails through cfg.SMTP.
func NewQRExpiryNotifier(store ReminderStore, cfg *config.NotificationsConfig) *QRExpiryNotifier {
	hours := cfg.QRExpiryCheckIntervalHours
	if hours <= 0 {
		hours = 24
	}
	n := &QRExpiryNotifier{
		store:    store,
		cfg:      cfg,
		interval: time.Duration(hours) * time.Hour,
		now:      time.Now,
		stopChan: make(chan struct{}),
	}
	n.send = n.sendSMTP
	return n
}

// Start runs a check immediately and then on every interval until ctx is
// cancelled or Stop is called.
func (n *QRExpiryNotifier) Start(ctx context.Context) {
	if !n.cfg.Enabled {
		slog.Info("qr expiry notifier disabled", "reason", "notifications.enabled=false")
		return
	}
	if n.cfg.SMTP.Host == "" {
		slog.Info("qr expiry notifier disabled", "reason", "notifications.smtp.host not set")
		return
	}

	ticker := time.NewTicker(n.interval)
	defer ticker.Stop()

	slog.Info("qr expiry notifier started", "interval", n.interval, "warning_days", n.warningDays())
	n.runCheck(ctx)

	for {
		select {
		case <-ticker.C:
			n.runCheck(ctx)
		case <-n.stopChan:
			slog.Info("qr expiry notifier stopped")
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop signals the loop to exit. Safe to call more than once.
func (n *QRExpiryNotifier) Stop() {
	n.stopOnce.Do(func() { close(n.stopChan) })
}

func (n *QRExpiryNotifier) warningDays() int {
	if n.cfg.QRExpiryWarningDays <= 0 {
		return 14
	}
	return n.cfg.QRExpiryWarningDays
}

// runCheck mails every pending reminder and returns how many were delivered.
func (n *QRExpiryNotifier) runCheck(ctx context.Context) int {
	now := n.now()
	reminders, err := n.store.ListExpiringQRCodes(ctx, now, now.AddDate(0, 0, n.warningDays()))
	if err != nil {
		slog.Error("qr expiry notifier: query failed", "error", err)
		return 0
	}
	if len(reminders) == 0 {
		return 0
	}
	slog.Info("qr expiry notifier: codes approaching expiry", "count", len(reminders))

	sent := 0
	for _, r := range reminders {
		if r.StudentEmail == "" {
			continue
		}
		if err := n.send(r.StudentEmail, n.compose(r, now)); err != nil {
			slog.Warn("qr expiry notifier: send failed", "qr_code_id", r.QRCodeID, "error", err)
			continue
		}
		telemetry.QRExpiryRemindersSentTotal.Inc()
		sent++
		if err := n.store.MarkQRCodeNotified(ctx, r.QRCodeID, now); err != nil {
			slog.Error("qr expiry notifier: mark notified failed", "qr_code_id", r.QRCodeID, "error", err)
		}
	}
	return sent
}

func (n *QRExpiryNotifier) compose(r models.QRCodeReminder, now time.Time) []byte {
	daysLeft := max(int(r.ExpiresAt.Sub(now).Hours()/24)+1, 0)
	device := strings.TrimSpace(r.Brand + " " + r.Model)

	subject := fmt.Sprintf("Your gate pass for %s expires in %d day(s)", device, daysLeft)
	body := strings.Join([]string{
		fmt.Sprintf("Hello %s,", r.StudentName),
		"",
		fmt.Sprintf("The gate QR code for your %s expires on %s.", device, r.ExpiresAt.UTC().Format("January 2, 2006")),
		"",
		"Open your device in the gate pass portal and choose Renew QR before that date.",
		"Expired codes are refused at every campus gate.",
		"",
		"Campus Security Office",
	}, "\r\n")

	headers := fmt.Sprintf(
		"From: %s\r\nTo: %s\r\nSubject: %s\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n",
		n.cfg.SMTP.From, r.StudentEmail, subject,
	)
	return []byte(headers + body + "\r\n")
}

func (n *QRExpiryNotifier) sendSMTP(to string, msg []byte) error {
	smtpCfg := &n.cfg.SMTP
	addr := net.JoinHostPort(smtpCfg.Host, fmt.Sprint(smtpCfg.Port))
	var auth smtp.Auth
	if smtpCfg.Username != "" {
		auth = smtp.PlainAuth("", smtpCfg.Username, smtpCfg.Password, smtpCfg.Host)
	}
	if smtpCfg.UseTLS {
		return sendMailTLS(addr, smtpCfg.Host, auth, smtpCfg.From, to, msg)
	}
	return smtp.SendMail(addr, auth, smtpCfg.From, []string{to}, msg)
}

// sendMailTLS dials implicit TLS (465) and falls back to STARTTLS through
// smtp.SendMail when the TLS dial fails.
func sendMailTLS(addr, host string, auth smtp.Auth, from, to string, msg []byte) error {
	conn, err := tls.Dial("tcp", addr, &tls.Config{ServerName: host, MinVersion: tls.VersionTLS12})
	if err != nil {
		return smtp.SendMail(addr, auth, from, []string{to}, msg)
	}
	defer conn.Close()

	c, err := smtp.NewClient(conn, host)
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
	if err := c.Rcpt(to); err != nil {
		return fmt.Errorf("smtp RCPT TO %s: %w", to, err)
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
