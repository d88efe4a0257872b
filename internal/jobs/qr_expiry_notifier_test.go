package jobs

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/campusgate/gatepass/internal/config"
	"github.com/campusgate/gatepass/internal/db/models"
	"github.com/campusgate/gatepass/internal/db/repositories"
	"github.com/campusgate/gatepass/internal/telemetry"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

var fixedNow = time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)

func newNotifierConfig(enabled bool, smtpHost string) *config.NotificationsConfig {
	return &config.NotificationsConfig{
		Enabled: enabled,
		SMTP: config.SMTPConfig{
			Host: smtpHost,
			Port: 25,
			From: "security@campus.edu",
		},
		QRExpiryWarningDays:        14,
		QRExpiryCheckIntervalHours: 24,
	}
}

var reminderCols = []string{"qr_code_id", "device_id", "expires_at", "brand", "model", "student_name", "student_email"}

func newRepoNotifier(t *testing.T) (*QRExpiryNotifier, sqlmock.Sqlmock, *[]string) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	repo := repositories.NewQRCodeRepository(sqlx.NewDb(db, "postgres"))
	n := NewQRExpiryNotifier(repo, newNotifierConfig(true, "smtp.campus.edu"))
	n.now = func() time.Time { return fixedNow }

	var sentTo []string
	n.send = func(to string, _ []byte) error {
		if strings.HasPrefix(to, "bounce") {
			return errors.New("mailbox unavailable")
		}
		sentTo = append(sentTo, to)
		return nil
	}
	return n, mock, &sentTo
}

// ---------------------------------------------------------------------------
// Construction
// ---------------------------------------------------------------------------

func TestNewQRExpiryNotifier_Interval(t *testing.T) {
	tests := []struct {
		hours int
		want  time.Duration
	}{
		{0, 24 * time.Hour},
		{-5, 24 * time.Hour},
		{6, 6 * time.Hour},
	}
	for _, tt := range tests {
		cfg := newNotifierConfig(true, "smtp.campus.edu")
		cfg.QRExpiryCheckIntervalHours = tt.hours
		if got := NewQRExpiryNotifier(nil, cfg).interval; got != tt.want {
			t.Errorf("hours=%d: interval = %v, want %v", tt.hours, got, tt.want)
		}
	}
}

func TestWarningDays_Default(t *testing.T) {
	cfg := newNotifierConfig(true, "smtp.campus.edu")
	cfg.QRExpiryWarningDays = 0
	if got := NewQRExpiryNotifier(nil, cfg).warningDays(); got != 14 {
		t.Errorf("warningDays() = %d, want 14", got)
	}
}

// ---------------------------------------------------------------------------
// Start / Stop
// ---------------------------------------------------------------------------

func TestStart_ReturnsWhenDisabled(t *testing.T) {
	for name, cfg := range map[string]*config.NotificationsConfig{
		"disabled":   newNotifierConfig(false, "smtp.campus.edu"),
		"blank host": newNotifierConfig(true, ""),
	} {
		t.Run(name, func(t *testing.T) {
			n := NewQRExpiryNotifier(nil, cfg)
			done := make(chan struct{})
			go func() {
				n.Start(context.Background())
				close(done)
			}()
			select {
			case <-done:
			case <-time.After(2 * time.Second):
				t.Error("Start did not return")
			}
		})
	}
}

func TestStop_Twice(t *testing.T) {
	n := NewQRExpiryNotifier(nil, newNotifierConfig(true, "smtp.campus.edu"))
	n.Stop()
	n.Stop()
}

func TestStart_StopsOnSignal(t *testing.T) {
	n, mock, _ := newRepoNotifier(t)
	mock.ExpectQuery("FROM qr_codes").WillReturnRows(sqlmock.NewRows(reminderCols))

	done := make(chan struct{})
	go func() {
		n.Start(context.Background())
		close(done)
	}()
	time.Sleep(50 * time.Millisecond)
	n.Stop()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after Stop")
	}
}

// ---------------------------------------------------------------------------
// runCheck
// ---------------------------------------------------------------------------

func TestRunCheck_SendsAndMarks(t *testing.T) {
	n, mock, sentTo := newRepoNotifier(t)
	expires := fixedNow.AddDate(0, 0, 5)

	mock.ExpectQuery("FROM qr_codes").
		WithArgs(fixedNow, fixedNow.AddDate(0, 0, 14)).
		WillReturnRows(sqlmock.NewRows(reminderCols).
			AddRow(int64(1), int64(10), expires, "Lenovo", "ThinkPad", "Ana Cruz", "ana@campus.edu").
			AddRow(int64(2), int64(11), expires, "Apple", "iPad", "Ben Ong", "bounce@campus.edu").
			AddRow(int64(3), int64(12), expires, "Dell", "XPS", "No Mail", ""))
	mock.ExpectExec("UPDATE qr_codes SET expiry_notified_at").
		WithArgs(int64(1), fixedNow).
		WillReturnResult(sqlmock.NewResult(0, 1))

	before := testutil.ToFloat64(telemetry.QRExpiryRemindersSentTotal)
	if got := n.runCheck(context.Background()); got != 1 {
		t.Errorf("runCheck() = %d, want 1", got)
	}
	if len(*sentTo) != 1 || (*sentTo)[0] != "ana@campus.edu" {
		t.Errorf("sent to %v, want [ana@campus.edu]", *sentTo)
	}
	if delta := testutil.ToFloat64(telemetry.QRExpiryRemindersSentTotal) - before; delta != 1 {
		t.Errorf("reminder counter delta = %v, want 1", delta)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestRunCheck_QueryError(t *testing.T) {
	n, mock, sentTo := newRepoNotifier(t)
	mock.ExpectQuery("FROM qr_codes").WillReturnError(errors.New("connection reset"))

	if got := n.runCheck(context.Background()); got != 0 {
		t.Errorf("runCheck() = %d, want 0", got)
	}
	if len(*sentTo) != 0 {
		t.Errorf("sent %v after query error", *sentTo)
	}
}

func TestRunCheck_MarkErrorStillCountsDelivery(t *testing.T) {
	n, mock, _ := newRepoNotifier(t)
	mock.ExpectQuery("FROM qr_codes").
		WillReturnRows(sqlmock.NewRows(reminderCols).
			AddRow(int64(1), int64(10), fixedNow.AddDate(0, 0, 3), "Lenovo", "ThinkPad", "Ana Cruz", "ana@campus.edu"))
	mock.ExpectExec("UPDATE qr_codes").WillReturnError(errors.New("deadlock"))

	if got := n.runCheck(context.Background()); got != 1 {
		t.Errorf("runCheck() = %d, want 1", got)
	}
}

// ---------------------------------------------------------------------------
// Message composition and SMTP
// ---------------------------------------------------------------------------

func TestCompose(t *testing.T) {
	n := NewQRExpiryNotifier(nil, newNotifierConfig(true, "smtp.campus.edu"))
	msg := string(n.compose(testReminder(fixedNow.AddDate(0, 0, 6)), fixedNow))

	for _, want := range []string{
		"From: security@campus.edu\r\n",
		"To: ana@campus.edu\r\n",
		"Subject: Your gate pass for Lenovo ThinkPad expires in 7 day(s)",
		"Hello Ana Cruz,",
		"October 24, 2026",
	} {
		if !strings.Contains(msg, want) {
			t.Errorf("message missing %q:\n%s", want, msg)
		}
	}
}

func TestCompose_PastExpiryClampsToZero(t *testing.T) {
	n := NewQRExpiryNotifier(nil, newNotifierConfig(true, "smtp.campus.edu"))
	msg := string(n.compose(testReminder(fixedNow.Add(-72*time.Hour)), fixedNow))
	if !strings.Contains(msg, "expires in 0 day(s)") {
		t.Errorf("subject not clamped:\n%s", msg)
	}
}

func TestSendSMTP_Unreachable(t *testing.T) {
	for _, useTLS := range []bool{false, true} {
		cfg := newNotifierConfig(true, "127.0.0.1")
		cfg.SMTP.Port = 1
		cfg.SMTP.UseTLS = useTLS
		cfg.SMTP.Username = "mailer"
		n := NewQRExpiryNotifier(nil, cfg)
		if err := n.sendSMTP("ana@campus.edu", []byte("x")); err == nil {
			t.Errorf("useTLS=%v: expected a dial error", useTLS)
		}
	}
}

func testReminder(expires time.Time) models.QRCodeReminder {
	return models.QRCodeReminder{
		QRCodeID: 1, DeviceID: 10, ExpiresAt: expires,
		Brand: "Lenovo", Model: "ThinkPad", StudentName: "Ana Cruz", StudentEmail: "ana@campus.edu",
	}
}
