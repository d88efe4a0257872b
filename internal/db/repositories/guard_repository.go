package repositories

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/campusgate/gatepass/internal/db/models"
)

const guardColumns = `id, guard_code, name, email, password_hash, created_at`

// GuardRepository handles security guard persistence
type GuardRepository struct {
	db DBTX
}

// NewGuardRepository creates a new guard repository
func NewGuardRepository(db DBTX) *GuardRepository {
	return &GuardRepository{db: db}
}

// CreateGuard inserts a guard and fills in ID and CreatedAt
func (r *GuardRepository) CreateGuard(ctx context.Context, g *models.SecurityGuard) error {
	query := `
		INSERT INTO security_guards (guard_code, name, email, password_hash)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`

	row := r.db.QueryRowxContext(ctx, query, g.GuardCode, g.Name, g.Email, g.PasswordHash)
	if err := row.Scan(&g.ID, &g.CreatedAt); err != nil {
		return fmt.Errorf("failed to create security guard: %w", err)
	}
	return nil
}

func (r *GuardRepository) getGuard(ctx context.Context, query string, arg interface{}) (*models.SecurityGuard, error) {
	var g models.SecurityGuard
	err := r.db.GetContext(ctx, &g, query, arg)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &g, nil
}

// GetGuardByID returns nil when the guard does not exist
func (r *GuardRepository) GetGuardByID(ctx context.Context, id int64) (*models.SecurityGuard, error) {
	return r.getGuard(ctx, `SELECT `+guardColumns+` FROM security_guards WHERE id = $1`, id)
}

// GetGuardByEmail matches case-insensitively
func (r *GuardRepository) GetGuardByEmail(ctx context.Context, email string) (*models.SecurityGuard, error) {
	return r.getGuard(ctx, `SELECT `+guardColumns+` FROM security_guards WHERE LOWER(email) = LOWER($1)`, email)
}

// ListGuards returns every guard ordered by code
func (r *GuardRepository) ListGuards(ctx context.Context) ([]models.SecurityGuard, error) {
	guards := make([]models.SecurityGuard, 0)
	if err := r.db.SelectContext(ctx, &guards, `SELECT `+guardColumns+` FROM security_guards ORDER BY guard_code`); err != nil {
		return nil, fmt.Errorf("failed to list security guards: %w", err)
	}
	return guards, nil
}

// NextGuardCode proposes the next sequential badge code, e.g. SG-0007
func (r *GuardRepository) NextGuardCode(ctx context.Context) (string, error) {
	var next int64
	if err := r.db.GetContext(ctx, &next, `SELECT COALESCE(MAX(id), 0) + 1 FROM security_guards`); err != nil {
		return "", fmt.Errorf("failed to compute guard code: %w", err)
	}
	return fmt.Sprintf("SG-%04d", next), nil
}
