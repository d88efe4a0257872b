package services

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/campusgate/gatepass/internal/auth"
	"github.com/campusgate/gatepass/internal/db/models"
	"github.com/campusgate/gatepass/internal/db/repositories"
)

// Display placeholders for joins whose row has since been removed
const (
	unknownLabel = "Unknown"
	naLabel      = "N/A"
)

// GateStats summarises one calendar day at a gate
type GateStats struct {
	Gate          string `json:"gate,omitempty"`
	Date          string `json:"date"`
	ScansToday    int    `json:"scans_today"`
	SuccessRate   int    `json:"success_rate"`
	LastHourCount int    `json:"last_hour_count"`
}

// RecentScan is one entry log row prepared for display
type RecentScan struct {
	ID            int64              `json:"id"`
	ScanTimestamp time.Time          `json:"scan_timestamp"`
	Status        models.EntryStatus `json:"status"`
	GateName      string             `json:"gate_name"`
	GuardName     string             `json:"guard_name"`
	GuardID       string             `json:"guard_id"`
	StudentName   string             `json:"student_name"`
	StudentNumber string             `json:"student_id"`
	Device        string             `json:"device"`
}

// EntryStats answers entry log queries
type EntryStats struct {
	store        Store
	loc          *time.Location
	defaultLimit int
	maxLimit     int
	now          func() time.Time
}

// NewEntryStats computes day windows in loc and bounds RecentScans limits
func NewEntryStats(store Store, loc *time.Location, defaultLimit, maxLimit int) *EntryStats {
	if loc == nil {
		loc = time.UTC
	}
	if defaultLimit <= 0 {
		defaultLimit = 50
	}
	if maxLimit < defaultLimit {
		maxLimit = defaultLimit
	}
	return &EntryStats{store: store, loc: loc, defaultLimit: defaultLimit, maxLimit: maxLimit, now: time.Now}
}

// ScanScope narrows stats and listings. Gate "" means every gate.
type ScanScope struct {
	Gate    string
	GuardID *int64
}

func (e *EntryStats) authorize(actor auth.Principal) error {
	if !actor.Is(auth.KindSecurityGuard, auth.KindAdmin) {
		return forbidden("Unauthorized.")
	}
	return nil
}

// dayWindow returns [start, end) of the calendar day containing t in the configured zone
func (e *EntryStats) dayWindow(t time.Time) (time.Time, time.Time) {
	local := t.In(e.loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, e.loc)
	return start, start.AddDate(0, 0, 1)
}

// StatsForGate counts decisions on the day containing day
func (e *EntryStats) StatsForGate(ctx context.Context, actor auth.Principal, scope ScanScope, day time.Time) (*GateStats, error) {
	if err := e.authorize(actor); err != nil {
		return nil, err
	}
	from, to := e.dayWindow(day)
	filter := repositories.EntryFilter{
		GateName: strings.TrimSpace(scope.Gate),
		GuardID:  scope.GuardID,
		From:     &from,
		To:       &to,
	}

	counts, err := e.store.CountEntries(ctx, filter, e.now().Add(-time.Hour))
	if err != nil {
		return nil, err
	}
	return &GateStats{
		Gate:          filter.GateName,
		Date:          from.Format("2006-01-02"),
		ScansToday:    counts.Total,
		SuccessRate:   successRate(counts.Success, counts.Total),
		LastHourCount: counts.LastHour,
	}, nil
}

// StatsForToday is StatsForGate for the current day
func (e *EntryStats) StatsForToday(ctx context.Context, actor auth.Principal, scope ScanScope) (*GateStats, error) {
	return e.StatsForGate(ctx, actor, scope, e.now())
}

func successRate(success, total int) int {
	if total == 0 {
		return 0
	}
	return int(math.Round(float64(success) * 100 / float64(total)))
}

// RecentScans returns the newest decisions, newest first. limit <= 0 means the
// configured default; larger values are capped.
func (e *EntryStats) RecentScans(ctx context.Context, actor auth.Principal, scope ScanScope, limit int) ([]RecentScan, error) {
	if err := e.authorize(actor); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = e.defaultLimit
	}
	if limit > e.maxLimit {
		limit = e.maxLimit
	}

	rows, err := e.store.ListRecentEntries(ctx, repositories.EntryFilter{
		GateName: strings.TrimSpace(scope.Gate),
		GuardID:  scope.GuardID,
	}, limit)
	if err != nil {
		return nil, err
	}

	scans := make([]RecentScan, 0, len(rows))
	for _, row := range rows {
		scans = append(scans, toRecentScan(row))
	}
	return scans, nil
}

func toRecentScan(row models.EntryScan) RecentScan {
	device := unknownLabel
	if row.DeviceBrand != nil || row.DeviceModel != nil {
		device = strings.TrimSpace(orEmpty(row.DeviceBrand) + " " + orEmpty(row.DeviceModel))
	}
	return RecentScan{
		ID:            row.ID,
		ScanTimestamp: row.ScanTimestamp,
		Status:        row.Status,
		GateName:      orDefault(row.GateName, unknownLabel),
		GuardName:     orDefault(row.GuardName, unknownLabel),
		GuardID:       orDefault(row.GuardCode, naLabel),
		StudentName:   orDefault(row.StudentName, unknownLabel),
		StudentNumber: orDefault(row.StudentNumber, naLabel),
		Device:        device,
	}
}

func orEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func orDefault(s *string, fallback string) string {
	if s == nil || strings.TrimSpace(*s) == "" {
		return fallback
	}
	return *s
}
