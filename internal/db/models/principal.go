// Package models - principal.go defines the three account tables that can
// authenticate against the API: students, admins, and security guards.
package models

import "time"

// Student owns devices
type Student struct {
	ID            int64     `db:"id" json:"id"`
	StudentNumber string    `db:"student_number" json:"student_number"`
	Name          string    `db:"name" json:"name"`
	Course        string    `db:"course" json:"course"`
	Email         string    `db:"email" json:"email"`
	PasswordHash  string    `db:"password_hash" json:"-"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}

// Admin approves registrations and renewals
type Admin struct {
	ID           int64     `db:"id" json:"id"`
	Name         string    `db:"name" json:"name"`
	Email        string    `db:"email" json:"email"`
	PasswordHash string    `db:"password_hash" json:"-"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// SecurityGuard records gate decisions.
// PasswordHash is nil for guards auto-provisioned from an external identity.
type SecurityGuard struct {
	ID           int64     `db:"id" json:"id"`
	GuardCode    string    `db:"guard_code" json:"guard_id"`
	Name         string    `db:"name" json:"name"`
	Email        string    `db:"email" json:"email"`
	PasswordHash *string   `db:"password_hash" json:"-"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}
