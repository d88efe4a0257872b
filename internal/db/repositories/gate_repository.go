package repositories

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/campusgate/gatepass/internal/db/models"
)

// GateRepository handles gate persistence. Gates are created on first use by name.
type GateRepository struct {
	db DBTX
}

// NewGateRepository creates a new gate repository
func NewGateRepository(db DBTX) *GateRepository {
	return &GateRepository{db: db}
}

// FindOrCreateGate returns the gate with the given name, inserting it if absent
func (r *GateRepository) FindOrCreateGate(ctx context.Context, name string) (*models.Gate, error) {
	query := `
		INSERT INTO gates (name) VALUES ($1)
		ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
		RETURNING id, name, created_at`

	var g models.Gate
	if err := r.db.GetContext(ctx, &g, query, name); err != nil {
		return nil, fmt.Errorf("failed to resolve gate %q: %w", name, err)
	}
	return &g, nil
}

// GetGateByName returns nil when no gate has that name
func (r *GateRepository) GetGateByName(ctx context.Context, name string) (*models.Gate, error) {
	var g models.Gate
	err := r.db.GetContext(ctx, &g, `SELECT id, name, created_at FROM gates WHERE name = $1`, name)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &g, nil
}

// ListGates returns all gates ordered by name
func (r *GateRepository) ListGates(ctx context.Context) ([]models.Gate, error) {
	gates := make([]models.Gate, 0)
	if err := r.db.SelectContext(ctx, &gates, `SELECT id, name, created_at FROM gates ORDER BY name`); err != nil {
		return nil, fmt.Errorf("failed to list gates: %w", err)
	}
	return gates, nil
}
