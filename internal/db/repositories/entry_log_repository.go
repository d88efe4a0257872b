// entry_log_repository.go implements EntryLogRepository over the append-only
// entry_logs table. There is no update or delete path.
package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/campusgate/gatepass/internal/db/models"
)

// EntryLogRepository handles entry log persistence
type EntryLogRepository struct {
	db DBTX
}

// NewEntryLogRepository creates a new entry log repository
func NewEntryLogRepository(db DBTX) *EntryLogRepository {
	return &EntryLogRepository{db: db}
}

// EntryFilter narrows entry counts and listings. Zero values are ignored.
type EntryFilter struct {
	GateName string
	GuardID  *int64
	From     *time.Time // inclusive
	To       *time.Time // exclusive
}

func (f EntryFilter) where() (string, []interface{}) {
	clause := ` WHERE 1=1`
	args := make([]interface{}, 0, 4)
	if f.GateName != "" {
		args = append(args, f.GateName)
		clause += fmt.Sprintf(` AND g.name = $%d`, len(args))
	}
	if f.GuardID != nil {
		args = append(args, *f.GuardID)
		clause += fmt.Sprintf(` AND e.security_guard_id = $%d`, len(args))
	}
	if f.From != nil {
		args = append(args, *f.From)
		clause += fmt.Sprintf(` AND e.scan_timestamp >= $%d`, len(args))
	}
	if f.To != nil {
		args = append(args, *f.To)
		clause += fmt.Sprintf(` AND e.scan_timestamp < $%d`, len(args))
	}
	return clause, args
}

// CreateEntryLog appends a decision and fills in its ID
func (r *EntryLogRepository) CreateEntryLog(ctx context.Context, e *models.EntryLog) error {
	query := `
		INSERT INTO entry_logs (qr_code_id, qr_code_hash, device_id, gate_id, security_guard_id, scan_timestamp, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`

	row := r.db.QueryRowxContext(ctx, query,
		e.QRCodeID, e.QRCodeHash, e.DeviceID, e.GateID, e.SecurityGuardID, e.ScanTimestamp, e.Status)
	if err := row.Scan(&e.ID); err != nil {
		return fmt.Errorf("failed to create entry log: %w", err)
	}
	return nil
}

// CountEntries aggregates the filtered rows. LastHour counts rows at or after hourFrom.
func (r *EntryLogRepository) CountEntries(ctx context.Context, filter EntryFilter, hourFrom time.Time) (*models.EntryCounts, error) {
	where, args := filter.where()
	args = append(args, hourFrom)
	query := fmt.Sprintf(`
		SELECT
			COUNT(*) AS total,
			COUNT(*) FILTER (WHERE e.status = 'success') AS success,
			COUNT(*) FILTER (WHERE e.scan_timestamp >= $%d) AS last_hour
		FROM entry_logs e
		JOIN gates g ON g.id = e.gate_id`, len(args)) + where

	var counts models.EntryCounts
	if err := r.db.GetContext(ctx, &counts, query, args...); err != nil {
		return nil, fmt.Errorf("failed to count entries: %w", err)
	}
	return &counts, nil
}

// ListRecentEntries returns the newest filtered rows with display joins.
// Joins are outer so rows survive removal of the referenced records.
func (r *EntryLogRepository) ListRecentEntries(ctx context.Context, filter EntryFilter, limit int) ([]models.EntryScan, error) {
	where, args := filter.where()
	args = append(args, limit)
	query := `
		SELECT e.id, e.scan_timestamp, e.status,
		       g.name AS gate_name,
		       sg.name AS guard_name, sg.guard_code,
		       s.name AS student_name, s.student_number,
		       d.brand AS device_brand, d.model AS device_model
		FROM entry_logs e
		JOIN gates g ON g.id = e.gate_id
		LEFT JOIN security_guards sg ON sg.id = e.security_guard_id
		LEFT JOIN devices d ON d.id = e.device_id
		LEFT JOIN students s ON s.id = d.student_id` + where +
		fmt.Sprintf(` ORDER BY e.scan_timestamp DESC, e.id DESC LIMIT $%d`, len(args))

	scans := make([]models.EntryScan, 0)
	if err := r.db.SelectContext(ctx, &scans, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list entries: %w", err)
	}
	return scans, nil
}
