// qr_code_repository.go implements QRCodeRepository. At most one code per
// device is active at a time; the partial unique index idx_qr_codes_one_active
// enforces that, so callers deactivate before they activate.
package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/campusgate/gatepass/internal/db/models"
)

const qrCodeColumns = `id, device_id, qr_code_hash, generated_at, expires_at, is_active, expiry_notified_at, created_at`

// QRCodeRepository handles QR code persistence
type QRCodeRepository struct {
	db DBTX
}

// NewQRCodeRepository creates a new QR code repository
func NewQRCodeRepository(db DBTX) *QRCodeRepository {
	return &QRCodeRepository{db: db}
}

// CreateQRCode inserts a code and fills in ID and CreatedAt
func (r *QRCodeRepository) CreateQRCode(ctx context.Context, q *models.QRCode) error {
	query := `
		INSERT INTO qr_codes (device_id, qr_code_hash, generated_at, expires_at, is_active)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`

	row := r.db.QueryRowxContext(ctx, query, q.DeviceID, q.Hash, q.GeneratedAt, q.ExpiresAt, q.IsActive)
	if err := row.Scan(&q.ID, &q.CreatedAt); err != nil {
		return fmt.Errorf("failed to create qr code: %w", err)
	}
	return nil
}

func (r *QRCodeRepository) getQRCode(ctx context.Context, query string, args ...interface{}) (*models.QRCode, error) {
	var q models.QRCode
	err := r.db.GetContext(ctx, &q, query, args...)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &q, nil
}

// FindQRCodeByHash looks a code up by its exact stored hash
func (r *QRCodeRepository) FindQRCodeByHash(ctx context.Context, hash string) (*models.QRCode, error) {
	return r.getQRCode(ctx, `SELECT `+qrCodeColumns+` FROM qr_codes WHERE qr_code_hash = $1`, hash)
}

// LatestQRCode returns the most recently generated code for a device, active or not
func (r *QRCodeRepository) LatestQRCode(ctx context.Context, deviceID int64) (*models.QRCode, error) {
	return r.getQRCode(ctx, `SELECT `+qrCodeColumns+` FROM qr_codes WHERE device_id = $1
		ORDER BY generated_at DESC, id DESC LIMIT 1`, deviceID)
}

// ActiveQRCode returns the device's active code, if any
func (r *QRCodeRepository) ActiveQRCode(ctx context.Context, deviceID int64) (*models.QRCode, error) {
	return r.getQRCode(ctx, `SELECT `+qrCodeColumns+` FROM qr_codes WHERE device_id = $1 AND is_active`, deviceID)
}

// ActivateQRCode sets a single code active
func (r *QRCodeRepository) ActivateQRCode(ctx context.Context, id int64) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE qr_codes SET is_active = TRUE WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to activate qr code: %w", err)
	}
	return nil
}

// DeactivateQRCode clears the active flag on a single code
func (r *QRCodeRepository) DeactivateQRCode(ctx context.Context, id int64) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE qr_codes SET is_active = FALSE WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to deactivate qr code: %w", err)
	}
	return nil
}

// DeactivateDeviceQRCodes clears the active flag on every code of a device
func (r *QRCodeRepository) DeactivateDeviceQRCodes(ctx context.Context, deviceID int64) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE qr_codes SET is_active = FALSE WHERE device_id = $1 AND is_active`, deviceID); err != nil {
		return fmt.Errorf("failed to deactivate qr codes: %w", err)
	}
	return nil
}

// DeleteDeviceQRCodes removes every code of a device and returns the removed hashes
func (r *QRCodeRepository) DeleteDeviceQRCodes(ctx context.Context, deviceID int64) ([]string, error) {
	hashes := make([]string, 0)
	if err := r.db.SelectContext(ctx, &hashes,
		`DELETE FROM qr_codes WHERE device_id = $1 RETURNING qr_code_hash`, deviceID); err != nil {
		return nil, fmt.Errorf("failed to delete qr codes: %w", err)
	}
	return hashes, nil
}

// ListExpiringQRCodes returns active codes of live active devices that expire
// before the cutoff and have not been reminded about yet.
func (r *QRCodeRepository) ListExpiringQRCodes(ctx context.Context, now, before time.Time) ([]models.QRCodeReminder, error) {
	query := `
		SELECT q.id AS qr_code_id, q.device_id, q.expires_at, d.brand, d.model,
		       s.name AS student_name, s.email AS student_email
		FROM qr_codes q
		JOIN devices d ON d.id = q.device_id
		JOIN students s ON s.id = d.student_id
		WHERE q.is_active
		  AND q.expiry_notified_at IS NULL
		  AND q.expires_at > $1
		  AND q.expires_at <= $2
		  AND d.deleted_at IS NULL
		  AND d.registration_status = 'active'
		ORDER BY q.expires_at ASC`

	reminders := make([]models.QRCodeReminder, 0)
	if err := r.db.SelectContext(ctx, &reminders, query, now, before); err != nil {
		return nil, fmt.Errorf("failed to list expiring qr codes: %w", err)
	}
	return reminders, nil
}

// MarkQRCodeNotified records that an expiry reminder went out
func (r *QRCodeRepository) MarkQRCodeNotified(ctx context.Context, id int64, at time.Time) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE qr_codes SET expiry_notified_at = $2 WHERE id = $1`, id, at); err != nil {
		return fmt.Errorf("failed to mark qr code notified: %w", err)
	}
	return nil
}
