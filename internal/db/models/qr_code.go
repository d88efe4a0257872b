// Package models - qr_code.go defines the QRCode model: a rotating gate credential
// bound to one device and presented as a 64-character hex hash.
package models

import "time"

// QRCode is a gate credential issued for a device
type QRCode struct {
	ID               int64      `db:"id" json:"id"`
	DeviceID         int64      `db:"device_id" json:"device_id"`
	Hash             string     `db:"qr_code_hash" json:"qr_code_hash"`
	GeneratedAt      time.Time  `db:"generated_at" json:"generated_at"`
	ExpiresAt        time.Time  `db:"expires_at" json:"expires_at"`
	IsActive         bool       `db:"is_active" json:"is_active"`
	ExpiryNotifiedAt *time.Time `db:"expiry_notified_at" json:"-"`
	CreatedAt        time.Time  `db:"created_at" json:"created_at"`
}

// IsExpired reports whether the validity window has passed at now
func (q *QRCode) IsExpired(now time.Time) bool {
	return !q.ExpiresAt.After(now)
}

// QRCodeReminder is an active code nearing expiry joined with the owner's contact details
type QRCodeReminder struct {
	QRCodeID     int64     `db:"qr_code_id"`
	DeviceID     int64     `db:"device_id"`
	ExpiresAt    time.Time `db:"expires_at"`
	Brand        string    `db:"brand"`
	Model        string    `db:"model"`
	StudentName  string    `db:"student_name"`
	StudentEmail string    `db:"student_email"`
}
