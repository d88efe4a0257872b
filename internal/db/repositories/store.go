// Package repositories implements the sqlx-backed data access layer.
//
// Every repository is built over DBTX so the same code runs against the pool
// or inside a transaction. Store bundles the repositories that take part in
// device transitions and gate scans; WithTx hands a transaction-bound Store to
// a callback.
package repositories

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// DBTX is satisfied by both *sqlx.DB and *sqlx.Tx
type DBTX interface {
	sqlx.ExtContext
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
}

// Store groups the repositories used together in one unit of work. Method
// names are unique across the embedded repositories so all of them are promoted.
type Store struct {
	*DeviceRepository
	*QRCodeRepository
	*GateRepository
	*EntryLogRepository
	*StudentRepository
	*GuardRepository
}

// NewStore binds every repository to db
func NewStore(db DBTX) *Store {
	return &Store{
		DeviceRepository:   NewDeviceRepository(db),
		QRCodeRepository:   NewQRCodeRepository(db),
		GateRepository:     NewGateRepository(db),
		EntryLogRepository: NewEntryLogRepository(db),
		StudentRepository:  NewStudentRepository(db),
		GuardRepository:    NewGuardRepository(db),
	}
}

// WithTx runs fn inside a transaction. The transaction commits when fn
// returns nil and rolls back otherwise.
func WithTx(ctx context.Context, db *sqlx.DB, fn func(*Store) error) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() // nolint:errcheck

	if err := fn(NewStore(tx)); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
