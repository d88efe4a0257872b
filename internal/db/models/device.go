// Package models defines the database model types for gatepass.
// Each type corresponds to a database table and uses struct tags for both JSON serialization and sqlx row scanning.
// Models are plain data plus small state predicates; transitions live in the services layer.
package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// RegistrationStatus is the approval state of a device registration
type RegistrationStatus string

const (
	StatusPending  RegistrationStatus = "pending"
	StatusActive   RegistrationStatus = "active"
	StatusRejected RegistrationStatus = "rejected"
)

// Valid reports whether s is one of the known registration states.
func (s RegistrationStatus) Valid() bool {
	switch s {
	case StatusPending, StatusActive, StatusRejected:
		return true
	}
	return false
}

// LastAction tags the most recent transition applied to a device.
// ActionNone is stored as the empty string.
type LastAction string

const (
	ActionNone             LastAction = ""
	ActionApproved         LastAction = "approved"
	ActionRejected         LastAction = "rejected"
	ActionReverted         LastAction = "reverted"
	ActionChangesApproved  LastAction = "changes_approved"
	ActionRenewalRequested LastAction = "renewal_requested"
	ActionRenewed          LastAction = "renewed"
	ActionDeleted          LastAction = "deleted"
)

// EditSnapshot holds the descriptive fields of an active device as they were
// before a student edit, so an admin rejection can restore them.
type EditSnapshot struct {
	Brand        string  `json:"brand"`
	Model        string  `json:"model"`
	SerialNumber *string `json:"serial_number"`
}

// Value implements driver.Valuer. The snapshot is stored as JSONB and sent as
// text, since lib/pq encodes []byte parameters as bytea.
func (s EditSnapshot) Value() (driver.Value, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner
func (s *EditSnapshot) Scan(src interface{}) error {
	var data []byte
	switch v := src.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into EditSnapshot", src)
	}
	return json.Unmarshal(data, s)
}

// Device is one registered laptop owned by a student
type Device struct {
	ID                 int64              `db:"id" json:"id"`
	StudentID          int64              `db:"student_id" json:"student_id"`
	Brand              string             `db:"brand" json:"brand"`
	Model              string             `db:"model" json:"model"`
	SerialNumber       *string            `db:"serial_number" json:"serial_number"`
	RegistrationStatus RegistrationStatus `db:"registration_status" json:"registration_status"`
	ApprovedBy         *int64             `db:"approved_by" json:"approved_by"`
	ApprovedAt         *time.Time         `db:"approved_at" json:"approved_at"`
	OriginalValues     *EditSnapshot      `db:"original_values" json:"original_values,omitempty"`
	LastAction         LastAction         `db:"last_action" json:"last_action"`
	DeletedAt          *time.Time         `db:"deleted_at" json:"deleted_at,omitempty"`
	CreatedAt          time.Time          `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time          `db:"updated_at" json:"updated_at"`
}

// IsDeleted reports whether the device has been soft-deleted
func (d *Device) IsDeleted() bool {
	return d.DeletedAt != nil
}

// HasPendingChanges reports whether a previously approved device is waiting for
// an admin to review an edit.
func (d *Device) HasPendingChanges() bool {
	return d.RegistrationStatus == StatusPending && d.ApprovedAt != nil
}

// Snapshot captures the current descriptive fields.
func (d *Device) Snapshot() EditSnapshot {
	s := EditSnapshot{Brand: d.Brand, Model: d.Model}
	if d.SerialNumber != nil {
		serial := *d.SerialNumber
		s.SerialNumber = &serial
	}
	return s
}

// Restore writes a snapshot back onto the device fields.
func (d *Device) Restore(s EditSnapshot) {
	d.Brand = s.Brand
	d.Model = s.Model
	d.SerialNumber = s.SerialNumber
}

// NormalizeSerial maps an empty or blank serial number to nil so that
// uniqueness checks and storage treat "no serial" consistently.
func NormalizeSerial(serial *string) *string {
	if serial == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*serial)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

// DeviceWithOwner is a device joined with its owner's display fields for listings
type DeviceWithOwner struct {
	Device
	StudentName   *string `db:"student_name" json:"student_name"`
	StudentNumber *string `db:"student_number" json:"student_number"`
	StudentCourse *string `db:"student_course" json:"student_course"`
}
