// Package models - entry_log.go defines the append-only record of a guard's
// accept or deny decision at a gate.
package models

import "time"

// EntryStatus is the outcome recorded for a guard decision
type EntryStatus string

const (
	EntrySuccess EntryStatus = "success"
	EntryFailed  EntryStatus = "failed"
)

// EntryLog is one guard decision. Rows are never updated or deleted.
//
// QRCodeHash and DeviceID are copied from the scanned code at decision time so
// the row stays attributable after the code itself is removed with its device.
type EntryLog struct {
	ID              int64       `db:"id" json:"id"`
	QRCodeID        *int64      `db:"qr_code_id" json:"qr_code_id"`
	QRCodeHash      string      `db:"qr_code_hash" json:"qr_code_hash"`
	DeviceID        *int64      `db:"device_id" json:"device_id"`
	GateID          int64       `db:"gate_id" json:"gate_id"`
	SecurityGuardID int64       `db:"security_guard_id" json:"security_guard_id"`
	ScanTimestamp   time.Time   `db:"scan_timestamp" json:"scan_timestamp"`
	Status          EntryStatus `db:"status" json:"status"`
}

// EntryScan is an entry log row joined with its display fields. Any join may be
// missing when the referenced record was removed.
type EntryScan struct {
	ID            int64       `db:"id"`
	ScanTimestamp time.Time   `db:"scan_timestamp"`
	Status        EntryStatus `db:"status"`
	GateName      *string     `db:"gate_name"`
	GuardName     *string     `db:"guard_name"`
	GuardCode     *string     `db:"guard_code"`
	StudentName   *string     `db:"student_name"`
	StudentNumber *string     `db:"student_number"`
	DeviceBrand   *string     `db:"device_brand"`
	DeviceModel   *string     `db:"device_model"`
}

// EntryCounts is the aggregate used for gate statistics
type EntryCounts struct {
	Total    int `db:"total"`
	Success  int `db:"success"`
	LastHour int `db:"last_hour"`
}
