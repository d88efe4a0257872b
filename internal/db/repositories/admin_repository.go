package repositories

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/campusgate/gatepass/internal/db/models"
)

// AdminRepository handles administrator accounts
type AdminRepository struct {
	db DBTX
}

// NewAdminRepository creates a new admin repository
func NewAdminRepository(db DBTX) *AdminRepository {
	return &AdminRepository{db: db}
}

// CreateAdmin inserts an administrator
func (r *AdminRepository) CreateAdmin(ctx context.Context, a *models.Admin) error {
	row := r.db.QueryRowxContext(ctx,
		`INSERT INTO admins (name, email, password_hash) VALUES ($1, $2, $3) RETURNING id, created_at`,
		a.Name, a.Email, a.PasswordHash)
	if err := row.Scan(&a.ID, &a.CreatedAt); err != nil {
		return fmt.Errorf("failed to create admin: %w", err)
	}
	return nil
}

func (r *AdminRepository) getAdmin(ctx context.Context, query string, arg interface{}) (*models.Admin, error) {
	var a models.Admin
	err := r.db.GetContext(ctx, &a, query, arg)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// GetAdminByID returns nil when the admin does not exist
func (r *AdminRepository) GetAdminByID(ctx context.Context, id int64) (*models.Admin, error) {
	return r.getAdmin(ctx, `SELECT id, name, email, password_hash, created_at FROM admins WHERE id = $1`, id)
}

// GetAdminByEmail matches case-insensitively
func (r *AdminRepository) GetAdminByEmail(ctx context.Context, email string) (*models.Admin, error) {
	return r.getAdmin(ctx, `SELECT id, name, email, password_hash, created_at FROM admins WHERE LOWER(email) = LOWER($1)`, email)
}
