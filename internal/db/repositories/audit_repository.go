// audit_repository.go implements AuditRepository, writing and reading audit
// trail entries with optional filters on principal, action, resource, and date.
package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/campusgate/gatepass/internal/db/models"
	"github.com/google/uuid"
)

// AuditRepository handles audit log database operations
type AuditRepository struct {
	db *sql.DB
}

// NewAuditRepository creates a new AuditRepository
func NewAuditRepository(db *sql.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// AuditFilters contains filters for querying audit logs
type AuditFilters struct {
	PrincipalKind *string
	PrincipalID   *int64
	Action        *string
	ResourceType  *string
	StartDate     *time.Time
	EndDate       *time.Time
}

const auditColumns = `id, principal_kind, principal_id, action, resource_type, resource_id, metadata, ip_address, created_at`

// CreateAuditLog creates a new audit log entry
func (r *AuditRepository) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	log.ID = uuid.New().String()
	log.CreatedAt = time.Now()

	// jsonb takes text; lib/pq would send []byte as bytea
	var metadata *string
	if log.Metadata != nil {
		raw, err := json.Marshal(log.Metadata)
		if err != nil {
			return err
		}
		s := string(raw)
		metadata = &s
	}

	query := `
		INSERT INTO audit_logs (` + auditColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := r.db.ExecContext(ctx, query,
		log.ID,
		log.PrincipalKind,
		log.PrincipalID,
		log.Action,
		log.ResourceType,
		log.ResourceID,
		metadata,
		log.IPAddress,
		log.CreatedAt,
	)
	return err
}

// ListAuditLogs retrieves audit logs with optional filters and pagination
func (r *AuditRepository) ListAuditLogs(ctx context.Context, filters AuditFilters, limit, offset int) ([]*models.AuditLog, int, error) {
	where := ` WHERE 1=1`
	args := make([]interface{}, 0)

	add := func(column, op string, v interface{}) {
		args = append(args, v)
		where += fmt.Sprintf(` AND %s %s $%d`, column, op, len(args))
	}
	if filters.PrincipalKind != nil {
		add("principal_kind", "=", *filters.PrincipalKind)
	}
	if filters.PrincipalID != nil {
		add("principal_id", "=", *filters.PrincipalID)
	}
	if filters.Action != nil {
		add("action", "=", *filters.Action)
	}
	if filters.ResourceType != nil {
		add("resource_type", "=", *filters.ResourceType)
	}
	if filters.StartDate != nil {
		add("created_at", ">=", *filters.StartDate)
	}
	if filters.EndDate != nil {
		add("created_at", "<=", *filters.EndDate)
	}

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_logs`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + auditColumns + ` FROM audit_logs` + where +
		fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	logs := make([]*models.AuditLog, 0)
	for rows.Next() {
		log, err := scanAuditLog(rows)
		if err != nil {
			return nil, 0, err
		}
		logs = append(logs, log)
	}

	return logs, total, rows.Err()
}

// GetAuditLog retrieves a single audit log entry by ID
func (r *AuditRepository) GetAuditLog(ctx context.Context, logID string) (*models.AuditLog, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+auditColumns+` FROM audit_logs WHERE id = $1`, logID)
	log, err := scanAuditLog(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return log, err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAuditLog(row rowScanner) (*models.AuditLog, error) {
	log := &models.AuditLog{}
	var metadataJSON []byte

	err := row.Scan(
		&log.ID,
		&log.PrincipalKind,
		&log.PrincipalID,
		&log.Action,
		&log.ResourceType,
		&log.ResourceID,
		&metadataJSON,
		&log.IPAddress,
		&log.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if metadataJSON != nil {
		if err := json.Unmarshal(metadataJSON, &log.Metadata); err != nil {
			return nil, err
		}
	}
	return log, nil
}
