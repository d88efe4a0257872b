// device_repository.go implements DeviceRepository. Soft-deleted rows are only
// visible through FindDeviceIncludingDeleted; every other query filters them out.
package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/campusgate/gatepass/internal/db/models"
)

const deviceColumns = `d.id, d.student_id, d.brand, d.model, d.serial_number, d.registration_status,
	d.approved_by, d.approved_at, d.original_values, d.last_action, d.deleted_at,
	d.created_at, d.updated_at`

// DeviceRepository handles device persistence
type DeviceRepository struct {
	db DBTX
}

// NewDeviceRepository creates a new device repository
func NewDeviceRepository(db DBTX) *DeviceRepository {
	return &DeviceRepository{db: db}
}

// DeviceFilter narrows ListDevices
type DeviceFilter struct {
	StudentID        *int64
	Status           *models.RegistrationStatus
	PendingChanges   bool
	RenewalRequested bool
}

// DeviceStatusCounts summarises non-deleted devices for the admin dashboard
type DeviceStatusCounts struct {
	Pending         int `db:"pending" json:"pending"`
	Active          int `db:"active" json:"active"`
	Rejected        int `db:"rejected" json:"rejected"`
	PendingChanges  int `db:"pending_changes" json:"pending_changes"`
	RenewalRequests int `db:"renewal_requests" json:"renewal_requests"`
}

// CreateDevice inserts a device and fills in its generated fields
func (r *DeviceRepository) CreateDevice(ctx context.Context, d *models.Device) error {
	query := `
		INSERT INTO devices (student_id, brand, model, serial_number, registration_status, last_action)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at`

	row := r.db.QueryRowxContext(ctx, query,
		d.StudentID, d.Brand, d.Model, d.SerialNumber, d.RegistrationStatus, d.LastAction)
	if err := row.Scan(&d.ID, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return fmt.Errorf("failed to create device: %w", err)
	}
	return nil
}

func (r *DeviceRepository) getDevice(ctx context.Context, query string, args ...interface{}) (*models.Device, error) {
	var d models.Device
	err := r.db.GetContext(ctx, &d, query, args...)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// FindActiveDevice returns a non-deleted device by ID
func (r *DeviceRepository) FindActiveDevice(ctx context.Context, id int64) (*models.Device, error) {
	return r.getDevice(ctx, `SELECT `+deviceColumns+` FROM devices d WHERE d.id = $1 AND d.deleted_at IS NULL`, id)
}

// FindDeviceIncludingDeleted returns a device by ID whether or not it is soft-deleted
func (r *DeviceRepository) FindDeviceIncludingDeleted(ctx context.Context, id int64) (*models.Device, error) {
	return r.getDevice(ctx, `SELECT `+deviceColumns+` FROM devices d WHERE d.id = $1`, id)
}

// LockActiveDevice returns a non-deleted device and holds a row lock on it
// until the surrounding transaction ends.
func (r *DeviceRepository) LockActiveDevice(ctx context.Context, id int64) (*models.Device, error) {
	return r.getDevice(ctx, `SELECT `+deviceColumns+` FROM devices d WHERE d.id = $1 AND d.deleted_at IS NULL FOR UPDATE`, id)
}

// SerialInUse reports whether another live pending or active device already
// carries serial. Case-sensitive exact match.
func (r *DeviceRepository) SerialInUse(ctx context.Context, serial string, excludeID int64) (bool, error) {
	var exists bool
	query := `
		SELECT EXISTS (
			SELECT 1 FROM devices
			WHERE serial_number = $1
			  AND deleted_at IS NULL
			  AND registration_status IN ('active', 'pending')
			  AND id <> $2
		)`
	if err := r.db.GetContext(ctx, &exists, query, serial, excludeID); err != nil {
		return false, fmt.Errorf("failed to check serial number: %w", err)
	}
	return exists, nil
}

// UpdateDevice writes every mutable column of d
func (r *DeviceRepository) UpdateDevice(ctx context.Context, d *models.Device) error {
	d.UpdatedAt = time.Now()
	query := `
		UPDATE devices SET
			brand = $2,
			model = $3,
			serial_number = $4,
			registration_status = $5,
			approved_by = $6,
			approved_at = $7,
			original_values = $8,
			last_action = $9,
			updated_at = $10
		WHERE id = $1 AND deleted_at IS NULL`

	res, err := r.db.ExecContext(ctx, query,
		d.ID, d.Brand, d.Model, d.SerialNumber, d.RegistrationStatus,
		d.ApprovedBy, d.ApprovedAt, d.OriginalValues, d.LastAction, d.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update device: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("device %d not found", d.ID)
	}
	return nil
}

// SoftDeleteDevice marks a device deleted and records the final last_action
func (r *DeviceRepository) SoftDeleteDevice(ctx context.Context, id int64, at time.Time) error {
	query := `UPDATE devices SET deleted_at = $2, last_action = $3, updated_at = $2 WHERE id = $1 AND deleted_at IS NULL`
	if _, err := r.db.ExecContext(ctx, query, id, at, models.ActionDeleted); err != nil {
		return fmt.Errorf("failed to delete device: %w", err)
	}
	return nil
}

// ListDevices returns live devices joined with their owner, newest first
func (r *DeviceRepository) ListDevices(ctx context.Context, filter DeviceFilter, limit, offset int) ([]models.DeviceWithOwner, int, error) {
	where := ` WHERE d.deleted_at IS NULL`
	args := make([]interface{}, 0, 4)

	if filter.StudentID != nil {
		args = append(args, *filter.StudentID)
		where += fmt.Sprintf(` AND d.student_id = $%d`, len(args))
	}
	if filter.Status != nil {
		args = append(args, *filter.Status)
		where += fmt.Sprintf(` AND d.registration_status = $%d`, len(args))
	}
	if filter.PendingChanges {
		where += ` AND d.registration_status = 'pending' AND d.approved_at IS NOT NULL`
	}
	if filter.RenewalRequested {
		where += ` AND d.last_action = 'renewal_requested'`
	}

	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM devices d`+where, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to count devices: %w", err)
	}

	query := `SELECT ` + deviceColumns + `, s.name AS student_name, s.student_number, s.course AS student_course
		FROM devices d
		LEFT JOIN students s ON s.id = d.student_id` + where +
		fmt.Sprintf(` ORDER BY d.created_at DESC, d.id DESC LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	devices := make([]models.DeviceWithOwner, 0)
	if err := r.db.SelectContext(ctx, &devices, query, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to list devices: %w", err)
	}
	return devices, total, nil
}

// CountDevicesByStatus aggregates live devices per status
func (r *DeviceRepository) CountDevicesByStatus(ctx context.Context) (*DeviceStatusCounts, error) {
	var counts DeviceStatusCounts
	query := `
		SELECT
			COUNT(*) FILTER (WHERE registration_status = 'pending') AS pending,
			COUNT(*) FILTER (WHERE registration_status = 'active') AS active,
			COUNT(*) FILTER (WHERE registration_status = 'rejected') AS rejected,
			COUNT(*) FILTER (WHERE registration_status = 'pending' AND approved_at IS NOT NULL) AS pending_changes,
			COUNT(*) FILTER (WHERE last_action = 'renewal_requested') AS renewal_requests
		FROM devices
		WHERE deleted_at IS NULL`
	if err := r.db.GetContext(ctx, &counts, query); err != nil {
		return nil, fmt.Errorf("failed to count devices: %w", err)
	}
	return &counts, nil
}
