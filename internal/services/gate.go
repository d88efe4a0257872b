package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/campusgate/gatepass/internal/auth"
	"github.com/campusgate/gatepass/internal/db/models"
	"github.com/campusgate/gatepass/internal/lock"
	"github.com/campusgate/gatepass/internal/qr"
	"github.com/campusgate/gatepass/internal/telemetry"
)

// ScanOutcome is the result of the validity chain for one scanned code
type ScanOutcome string

const (
	OutcomeValid          ScanOutcome = "valid"
	OutcomeMalformed      ScanOutcome = "malformed"
	OutcomeNotFound       ScanOutcome = "not_found"
	OutcomeExpired        ScanOutcome = "expired"
	OutcomeInactive       ScanOutcome = "inactive"
	OutcomeDeviceMissing  ScanOutcome = "device_missing"
	OutcomeDeviceDeleted  ScanOutcome = "device_deleted"
	OutcomeStudentMissing ScanOutcome = "student_missing"
)

var outcomeMessages = map[ScanOutcome]string{
	OutcomeValid:          "QR code is valid.",
	OutcomeNotFound:       "QR code not registered.",
	OutcomeExpired:        "QR code has expired. Please renew your QR code.",
	OutcomeInactive:       "QR code is inactive. The device may have been deactivated.",
	OutcomeDeviceMissing:  "Device not found.",
	OutcomeDeviceDeleted:  "Device has been deleted.",
	OutcomeStudentMissing: "Student not found.",
}

// integrityGap reports whether the outcome points at inconsistent stored data
func (o ScanOutcome) integrityGap() bool {
	return o == OutcomeDeviceMissing || o == OutcomeDeviceDeleted || o == OutcomeStudentMissing
}

// Decision is a guard's verdict on a valid code
type Decision string

const (
	DecisionAccept Decision = "accept"
	DecisionDeny   Decision = "deny"
)

func (d Decision) status() models.EntryStatus {
	if d == DecisionAccept {
		return models.EntrySuccess
	}
	return models.EntryFailed
}

// StudentSnapshot is what the guard sees about the code's owner
type StudentSnapshot struct {
	Name          string `json:"name"`
	StudentNumber string `json:"student_id"`
	Course        string `json:"course"`
}

// DeviceSnapshot is what the guard sees about the device
type DeviceSnapshot struct {
	ID    int64  `json:"id"`
	Brand string `json:"brand"`
	Model string `json:"model"`
}

// ScanResult is the outcome of a preview or the validity part of a decision
type ScanResult struct {
	Outcome ScanOutcome      `json:"outcome"`
	Message string           `json:"message"`
	Student *StudentSnapshot `json:"student_data,omitempty"`
	Device  *DeviceSnapshot  `json:"device,omitempty"`
}

// Valid reports whether the code passed every check
func (r *ScanResult) Valid() bool {
	return r.Outcome == OutcomeValid
}

func invalidScan(o ScanOutcome) *ScanResult {
	return &ScanResult{Outcome: o, Message: outcomeMessages[o]}
}

// DecisionResult is a recorded decision
type DecisionResult struct {
	ScanResult
	Decision Decision `json:"decision"`
	EntryID  int64    `json:"entry_id,omitempty"`
	Gate     string   `json:"gate,omitempty"`
}

// GateValidator runs the scan checks and records guard decisions
type GateValidator struct {
	store         DataStore
	locker        lock.Locker
	lockTTL       time.Duration
	autoProvision bool
	now           func() time.Time
}

// GateOptions configures a GateValidator
type GateOptions struct {
	// Locker serializes decisions on the same code; nil or a zero TTL disables it
	Locker          lock.Locker
	DecisionLockTTL time.Duration
	// AutoProvisionGuards creates a guard record for an authenticated guard
	// principal that has none
	AutoProvisionGuards bool
}

// NewGateValidator creates the validation engine
func NewGateValidator(store DataStore, opts GateOptions) *GateValidator {
	return &GateValidator{
		store:         store,
		locker:        opts.Locker,
		lockTTL:       opts.DecisionLockTTL,
		autoProvision: opts.AutoProvisionGuards,
		now:           time.Now,
	}
}

// parse normalises the payload; malformed input never reaches the database
func parse(raw string) (string, *ScanResult) {
	hash, err := qr.ParseScanPayload(raw)
	if err != nil {
		telemetry.GateScansTotal.WithLabelValues(string(OutcomeMalformed)).Inc()
		return "", &ScanResult{Outcome: OutcomeMalformed, Message: err.Error()}
	}
	return qr.Canonical(hash), nil
}

// check runs the validity chain. Precedence is fixed: unknown, expired,
// inactive, then the integrity gaps, each of which deactivates the code.
func (g *GateValidator) check(ctx context.Context, s Store, hash string) (*ScanResult, *models.QRCode, error) {
	code, err := s.FindQRCodeByHash(ctx, hash)
	if err != nil {
		return nil, nil, err
	}
	if code == nil {
		return invalidScan(OutcomeNotFound), nil, nil
	}
	if code.IsExpired(g.now()) {
		return invalidScan(OutcomeExpired), code, nil
	}
	if !code.IsActive {
		return invalidScan(OutcomeInactive), code, nil
	}

	device, err := s.FindDeviceIncludingDeleted(ctx, code.DeviceID)
	if err != nil {
		return nil, nil, err
	}
	var student *models.Student
	outcome := OutcomeValid
	switch {
	case device == nil:
		outcome = OutcomeDeviceMissing
	case device.IsDeleted():
		outcome = OutcomeDeviceDeleted
	default:
		if student, err = s.GetStudentByID(ctx, device.StudentID); err != nil {
			return nil, nil, err
		}
		if student == nil {
			outcome = OutcomeStudentMissing
		}
	}

	if outcome.integrityGap() {
		slog.Warn("qr code points at inconsistent data, deactivating",
			"qr_code_id", code.ID, "device_id", code.DeviceID, "outcome", outcome)
		if err := s.DeactivateQRCode(ctx, code.ID); err != nil {
			return nil, nil, err
		}
		code.IsActive = false
		return invalidScan(outcome), code, nil
	}

	return &ScanResult{
		Outcome: OutcomeValid,
		Message: outcomeMessages[OutcomeValid],
		Student: &StudentSnapshot{Name: student.Name, StudentNumber: student.StudentNumber, Course: student.Course},
		Device:  &DeviceSnapshot{ID: device.ID, Brand: device.Brand, Model: device.Model},
	}, code, nil
}

// Preview checks a scanned payload without recording anything in the entry log
func (g *GateValidator) Preview(ctx context.Context, actor auth.Principal, raw string) (*ScanResult, error) {
	if err := requireKind(actor, auth.KindSecurityGuard, "Unauthorized. Security guard access required."); err != nil {
		return nil, err
	}
	hash, bad := parse(raw)
	if bad != nil {
		return bad, nil
	}

	var res *ScanResult
	err := g.store.InTx(ctx, func(s Store) error {
		var err error
		res, _, err = g.check(ctx, s, hash)
		return err
	})
	if err != nil {
		return nil, err
	}
	telemetry.GateScansTotal.WithLabelValues(string(res.Outcome)).Inc()
	return res, nil
}

// Decide re-runs the checks and, only for a valid code, writes exactly one
// entry log row for the guard's decision. A failed log write is returned as an
// error and rolls the decision back.
func (g *GateValidator) Decide(ctx context.Context, actor auth.Principal, raw, gateName string, decision Decision) (*DecisionResult, error) {
	if err := requireKind(actor, auth.KindSecurityGuard, "Unauthorized. Security guard access required."); err != nil {
		return nil, err
	}
	if decision != DecisionAccept && decision != DecisionDeny {
		return nil, invalidField("decision", "Decision must be accept or deny.")
	}
	gateName = strings.TrimSpace(gateName)
	if gateName == "" {
		return nil, invalidField("gate_name", "The gate name field is required.")
	}
	if len(gateName) > maxDeviceFieldLength {
		return nil, invalidField("gate_name", "The gate name may not be greater than 255 characters.")
	}

	hash, bad := parse(raw)
	if bad != nil {
		return &DecisionResult{ScanResult: *bad, Decision: decision}, nil
	}

	locked, err := g.acquire(ctx, hash)
	if err != nil {
		return nil, err
	}

	var res *DecisionResult
	err = g.store.InTx(ctx, func(s Store) error {
		scan, code, err := g.check(ctx, s, hash)
		if err != nil {
			return err
		}
		res = &DecisionResult{ScanResult: *scan, Decision: decision}
		if !scan.Valid() {
			return nil
		}

		gate, err := s.FindOrCreateGate(ctx, gateName)
		if err != nil {
			return err
		}
		guard, err := g.resolveGuard(ctx, s, actor)
		if err != nil {
			return err
		}

		entry := &models.EntryLog{
			QRCodeID:        &code.ID,
			QRCodeHash:      code.Hash,
			DeviceID:        &code.DeviceID,
			GateID:          gate.ID,
			SecurityGuardID: guard.ID,
			ScanTimestamp:   g.now(),
			Status:          decision.status(),
		}
		if err := s.CreateEntryLog(ctx, entry); err != nil {
			return fmt.Errorf("failed to record %s decision: %w", decision, err)
		}
		res.EntryID = entry.ID
		res.Gate = gate.Name
		return nil
	})

	// a recorded decision keeps the lock until it expires
	if locked && (err != nil || !res.Valid()) {
		g.release(hash)
	}
	if err != nil {
		return nil, err
	}

	telemetry.GateScansTotal.WithLabelValues(string(res.Outcome)).Inc()
	if res.Valid() {
		telemetry.GateDecisionsTotal.WithLabelValues(string(decision)).Inc()
		slog.Info("gate decision recorded", "decision", decision, "gate", res.Gate,
			"guard_id", actor.ID, "entry_id", res.EntryID)
	}
	return res, nil
}

// acquire takes the decision lock for hash. A lock backend failure is logged
// and the decision proceeds unlocked.
func (g *GateValidator) acquire(ctx context.Context, hash string) (bool, error) {
	if g.locker == nil || g.lockTTL <= 0 {
		return false, nil
	}
	ok, err := g.locker.Acquire(ctx, lock.DecisionKey(hash), g.lockTTL)
	if err != nil {
		slog.Warn("decision lock unavailable, continuing without it", "error", err)
		return false, nil
	}
	if !ok {
		telemetry.GateDecisionConflictsTotal.Inc()
		return false, conflict("A decision for this QR code was just recorded. Please scan again.")
	}
	return true, nil
}

func (g *GateValidator) release(hash string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := g.locker.Release(ctx, lock.DecisionKey(hash)); err != nil {
		slog.Warn("failed to release decision lock", "error", err)
	}
}

// resolveGuard maps the authenticated guard principal to its record
func (g *GateValidator) resolveGuard(ctx context.Context, s Store, actor auth.Principal) (*models.SecurityGuard, error) {
	guard, err := s.GetGuardByID(ctx, actor.ID)
	if err != nil || guard != nil {
		return guard, err
	}
	if actor.Email != "" {
		if guard, err = s.GetGuardByEmail(ctx, actor.Email); err != nil || guard != nil {
			return guard, err
		}
	}
	if !g.autoProvision || actor.Email == "" {
		return nil, forbidden("Unauthorized. Security guard account not found.")
	}

	code, err := s.NextGuardCode(ctx)
	if err != nil {
		return nil, err
	}
	name := actor.Name
	if name == "" {
		name = actor.Email
	}
	guard = &models.SecurityGuard{GuardCode: code, Name: name, Email: actor.Email}
	if err := s.CreateGuard(ctx, guard); err != nil {
		return nil, err
	}
	slog.Warn("auto-provisioned security guard record", "guard_id", guard.ID, "guard_code", code, "email", actor.Email)
	return guard, nil
}
