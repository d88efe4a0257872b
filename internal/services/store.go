package services

import (
	"context"
	"time"

	"github.com/campusgate/gatepass/internal/db/models"
	"github.com/campusgate/gatepass/internal/db/repositories"
	"github.com/jmoiron/sqlx"
)

// Store is the persistence surface used by the registry and the gate engine.
// *repositories.Store satisfies it, both on the pool and inside a transaction.
type Store interface {
	CreateDevice(ctx context.Context, d *models.Device) error
	FindActiveDevice(ctx context.Context, id int64) (*models.Device, error)
	FindDeviceIncludingDeleted(ctx context.Context, id int64) (*models.Device, error)
	LockActiveDevice(ctx context.Context, id int64) (*models.Device, error)
	SerialInUse(ctx context.Context, serial string, excludeID int64) (bool, error)
	UpdateDevice(ctx context.Context, d *models.Device) error
	SoftDeleteDevice(ctx context.Context, id int64, at time.Time) error
	ListDevices(ctx context.Context, filter repositories.DeviceFilter, limit, offset int) ([]models.DeviceWithOwner, int, error)
	CountDevicesByStatus(ctx context.Context) (*repositories.DeviceStatusCounts, error)

	CreateQRCode(ctx context.Context, q *models.QRCode) error
	FindQRCodeByHash(ctx context.Context, hash string) (*models.QRCode, error)
	LatestQRCode(ctx context.Context, deviceID int64) (*models.QRCode, error)
	ActiveQRCode(ctx context.Context, deviceID int64) (*models.QRCode, error)
	ActivateQRCode(ctx context.Context, id int64) error
	DeactivateQRCode(ctx context.Context, id int64) error
	DeactivateDeviceQRCodes(ctx context.Context, deviceID int64) error
	DeleteDeviceQRCodes(ctx context.Context, deviceID int64) ([]string, error)

	FindOrCreateGate(ctx context.Context, name string) (*models.Gate, error)
	ListGates(ctx context.Context) ([]models.Gate, error)

	CreateEntryLog(ctx context.Context, e *models.EntryLog) error
	CountEntries(ctx context.Context, filter repositories.EntryFilter, hourFrom time.Time) (*models.EntryCounts, error)
	ListRecentEntries(ctx context.Context, filter repositories.EntryFilter, limit int) ([]models.EntryScan, error)

	GetStudentByID(ctx context.Context, id int64) (*models.Student, error)
	GetGuardByID(ctx context.Context, id int64) (*models.SecurityGuard, error)
	GetGuardByEmail(ctx context.Context, email string) (*models.SecurityGuard, error)
	CreateGuard(ctx context.Context, g *models.SecurityGuard) error
	NextGuardCode(ctx context.Context) (string, error)
}

// DataStore is a Store that can also open a transaction. fn receives a Store
// bound to the transaction; returning an error rolls it back.
type DataStore interface {
	Store
	InTx(ctx context.Context, fn func(Store) error) error
}

// AccountStore reads and writes the three principal tables
type AccountStore interface {
	GetStudentByID(ctx context.Context, id int64) (*models.Student, error)
	GetStudentByEmail(ctx context.Context, email string) (*models.Student, error)
	GetStudentByNumber(ctx context.Context, number string) (*models.Student, error)
	CreateStudent(ctx context.Context, s *models.Student) error

	GetAdminByID(ctx context.Context, id int64) (*models.Admin, error)
	GetAdminByEmail(ctx context.Context, email string) (*models.Admin, error)
	CreateAdmin(ctx context.Context, a *models.Admin) error

	GetGuardByID(ctx context.Context, id int64) (*models.SecurityGuard, error)
	GetGuardByEmail(ctx context.Context, email string) (*models.SecurityGuard, error)
	CreateGuard(ctx context.Context, g *models.SecurityGuard) error
	ListGuards(ctx context.Context) ([]models.SecurityGuard, error)
	NextGuardCode(ctx context.Context) (string, error)
}

// SQLStore is the PostgreSQL DataStore and AccountStore
type SQLStore struct {
	*repositories.Store
	*repositories.AdminRepository
	db *sqlx.DB
}

// NewSQLStore binds the repositories to db
func NewSQLStore(db *sqlx.DB) *SQLStore {
	return &SQLStore{
		Store:           repositories.NewStore(db),
		AdminRepository: repositories.NewAdminRepository(db),
		db:              db,
	}
}

// InTx runs fn in a database transaction
func (s *SQLStore) InTx(ctx context.Context, fn func(Store) error) error {
	return repositories.WithTx(ctx, s.db, func(tx *repositories.Store) error {
		return fn(tx)
	})
}
