package services

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/campusgate/gatepass/internal/auth"
	"github.com/campusgate/gatepass/internal/db/models"
	"github.com/campusgate/gatepass/internal/db/repositories"
	"github.com/campusgate/gatepass/internal/telemetry"
)

const maxDeviceFieldLength = 255

// DeviceInput carries the student-editable device fields
type DeviceInput struct {
	Brand        string  `json:"brand"`
	Model        string  `json:"model"`
	SerialNumber *string `json:"serial_number"`
}

func (in *DeviceInput) normalize() error {
	in.Brand = strings.TrimSpace(in.Brand)
	in.Model = strings.TrimSpace(in.Model)
	in.SerialNumber = models.NormalizeSerial(in.SerialNumber)

	switch {
	case in.Brand == "":
		return invalidField("brand", "The brand field is required.")
	case len(in.Brand) > maxDeviceFieldLength:
		return invalidField("brand", "The brand may not be greater than 255 characters.")
	case in.Model == "":
		return invalidField("model", "The model field is required.")
	case len(in.Model) > maxDeviceFieldLength:
		return invalidField("model", "The model may not be greater than 255 characters.")
	case in.SerialNumber != nil && len(*in.SerialNumber) > maxDeviceFieldLength:
		return invalidField("serial_number", "The serial number may not be greater than 255 characters.")
	}
	return nil
}

// DeviceResult is a device after a transition, with the code it now holds
type DeviceResult struct {
	Device *models.Device `json:"device"`
	QRCode *models.QRCode `json:"qr_code,omitempty"`
}

// BadgePurger drops cached badge images for removed codes
type BadgePurger interface {
	Purge(ctx context.Context, hashes []string)
}

// DeviceRegistry owns every device state transition. It is the only writer of
// registration_status, original_values, and last_action.
type DeviceRegistry struct {
	store  DataStore
	issuer issuer
	badges BadgePurger
	now    func() time.Time
}

// NewDeviceRegistry creates a registry issuing codes valid for validityMonths.
// badges may be nil.
func NewDeviceRegistry(store DataStore, validityMonths int, badges BadgePurger) *DeviceRegistry {
	if validityMonths < 1 {
		validityMonths = 1
	}
	return &DeviceRegistry{
		store:  store,
		issuer: issuer{validityMonths: validityMonths},
		badges: badges,
		now:    time.Now,
	}
}

func requireKind(actor auth.Principal, kind auth.Kind, msg string) error {
	if actor.Kind != kind {
		return forbidden(msg)
	}
	return nil
}

func transition(name string, d *models.Device) {
	telemetry.DeviceTransitionsTotal.WithLabelValues(name).Inc()
	slog.Info("device transition", "transition", name, "device_id", d.ID, "status", d.RegistrationStatus)
}

// checkSerial rejects a serial already held by another live pending or active device
func (r *DeviceRegistry) checkSerial(ctx context.Context, s Store, serial *string, selfID int64) error {
	if serial == nil {
		return nil
	}
	inUse, err := s.SerialInUse(ctx, *serial, selfID)
	if err != nil {
		return err
	}
	if inUse {
		return invalidField("serial_number", "This serial number is already registered to another device.")
	}
	return nil
}

// loadOwned locks a live device and checks the actor owns it
func loadOwned(ctx context.Context, s Store, actor auth.Principal, id int64) (*models.Device, error) {
	if err := requireKind(actor, auth.KindStudent, "Only the owning student can change this device."); err != nil {
		return nil, err
	}
	d, err := s.LockActiveDevice(ctx, id)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, notFound("Device not found.")
	}
	if d.StudentID != actor.ID {
		return nil, forbidden("Unauthorized. This device does not belong to you.")
	}
	return d, nil
}

// loadForAdmin locks a live device for an admin transition
func loadForAdmin(ctx context.Context, s Store, actor auth.Principal, id int64) (*models.Device, error) {
	if err := requireKind(actor, auth.KindAdmin, "Unauthorized. Admin access required."); err != nil {
		return nil, err
	}
	d, err := s.LockActiveDevice(ctx, id)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, notFound("Device not found.")
	}
	return d, nil
}

func uniqueViolation(err error) error {
	if repositories.IsUniqueViolation(err) {
		return invalidField("serial_number", "This serial number is already registered to another device.")
	}
	return err
}

// Create registers a new device in pending state for the calling student
func (r *DeviceRegistry) Create(ctx context.Context, actor auth.Principal, in DeviceInput) (*models.Device, error) {
	if err := requireKind(actor, auth.KindStudent, "Only students can register devices."); err != nil {
		return nil, err
	}
	if err := in.normalize(); err != nil {
		return nil, err
	}

	d := &models.Device{
		StudentID:          actor.ID,
		Brand:              in.Brand,
		Model:              in.Model,
		SerialNumber:       in.SerialNumber,
		RegistrationStatus: models.StatusPending,
		LastAction:         models.ActionNone,
	}
	err := r.store.InTx(ctx, func(s Store) error {
		if err := r.checkSerial(ctx, s, d.SerialNumber, 0); err != nil {
			return err
		}
		return s.CreateDevice(ctx, d)
	})
	if err != nil {
		return nil, uniqueViolation(err)
	}
	transition("created", d)
	return d, nil
}

// Approve activates a pending device. A first registration gets a new code; an
// approved edit reuses the latest code when it has not expired.
func (r *DeviceRegistry) Approve(ctx context.Context, actor auth.Principal, id int64) (*DeviceResult, error) {
	var res DeviceResult
	var name string
	err := r.store.InTx(ctx, func(s Store) error {
		d, err := loadForAdmin(ctx, s, actor, id)
		if err != nil {
			return err
		}
		if d.RegistrationStatus != models.StatusPending {
			return precondition("Device is not pending approval.")
		}

		now := r.now()
		editApproval := d.OriginalValues != nil
		d.RegistrationStatus = models.StatusActive
		d.ApprovedBy = &actor.ID
		d.ApprovedAt = &now
		d.OriginalValues = nil
		if editApproval {
			d.LastAction = models.ActionChangesApproved
			name = "changes_approved"
		} else {
			d.LastAction = models.ActionApproved
			name = "approved"
		}
		if err := s.UpdateDevice(ctx, d); err != nil {
			return err
		}

		var code *models.QRCode
		if editApproval {
			latest, err := s.LatestQRCode(ctx, d.ID)
			if err != nil {
				return err
			}
			if latest != nil && !latest.IsExpired(now) {
				if err := reactivate(ctx, s, latest); err != nil {
					return err
				}
				code = latest
			} else if code, err = r.issuer.issue(ctx, s, d.ID, now, issueReissue); err != nil {
				return err
			}
		} else if code, err = r.issuer.issue(ctx, s, d.ID, now, issueInitial); err != nil {
			return err
		}

		res = DeviceResult{Device: d, QRCode: code}
		return nil
	})
	if err != nil {
		return nil, err
	}
	transition(name, res.Device)
	return &res, nil
}

// Reject refuses a first registration, or rolls an edited device back to its
// snapshot and returns it to active with its latest code.
func (r *DeviceRegistry) Reject(ctx context.Context, actor auth.Principal, id int64) (*DeviceResult, error) {
	var res DeviceResult
	var name string
	err := r.store.InTx(ctx, func(s Store) error {
		d, err := loadForAdmin(ctx, s, actor, id)
		if err != nil {
			return err
		}
		if d.RegistrationStatus != models.StatusPending {
			return precondition("Device is not pending approval.")
		}

		if d.OriginalValues == nil {
			now := r.now()
			d.RegistrationStatus = models.StatusRejected
			d.ApprovedBy = &actor.ID
			d.ApprovedAt = &now
			d.LastAction = models.ActionRejected
			name = "rejected"
			res = DeviceResult{Device: d}
			return s.UpdateDevice(ctx, d)
		}

		snapshot := *d.OriginalValues
		if snapshot.SerialNumber != nil {
			inUse, err := s.SerialInUse(ctx, *snapshot.SerialNumber, d.ID)
			if err != nil {
				return err
			}
			if inUse {
				return conflict("Cannot revert: the original serial number is now registered to another device.")
			}
		}
		d.Restore(snapshot)
		d.RegistrationStatus = models.StatusActive
		d.ApprovedBy = &actor.ID
		d.OriginalValues = nil
		d.LastAction = models.ActionReverted
		name = "reverted"
		if err := s.UpdateDevice(ctx, d); err != nil {
			return err
		}

		latest, err := s.LatestQRCode(ctx, d.ID)
		if err != nil {
			return err
		}
		if latest != nil {
			if err := reactivate(ctx, s, latest); err != nil {
				return err
			}
		}
		res = DeviceResult{Device: d, QRCode: latest}
		return nil
	})
	if err != nil {
		return nil, uniqueViolation(err)
	}
	transition(name, res.Device)
	return &res, nil
}

// Edit changes a device's fields. Editing an active device snapshots its current
// fields, sends it back for approval, and deactivates its codes. A pending
// device is edited in place.
func (r *DeviceRegistry) Edit(ctx context.Context, actor auth.Principal, id int64, in DeviceInput) (*models.Device, error) {
	if err := in.normalize(); err != nil {
		return nil, err
	}

	var device *models.Device
	err := r.store.InTx(ctx, func(s Store) error {
		d, err := loadOwned(ctx, s, actor, id)
		if err != nil {
			return err
		}
		if d.RegistrationStatus != models.StatusActive && d.RegistrationStatus != models.StatusPending {
			return precondition("Only active or pending devices can be edited.")
		}
		if err := r.checkSerial(ctx, s, in.SerialNumber, d.ID); err != nil {
			return err
		}

		if d.RegistrationStatus == models.StatusActive {
			snapshot := d.Snapshot()
			d.OriginalValues = &snapshot
			d.LastAction = models.ActionNone
			d.RegistrationStatus = models.StatusPending
			d.ApprovedBy = nil
			if err := s.DeactivateDeviceQRCodes(ctx, d.ID); err != nil {
				return err
			}
		}
		d.Brand = in.Brand
		d.Model = in.Model
		d.SerialNumber = in.SerialNumber
		device = d
		return s.UpdateDevice(ctx, d)
	})
	if err != nil {
		return nil, uniqueViolation(err)
	}
	transition("edited", device)
	return device, nil
}

// Delete soft-deletes an active device and removes all of its codes
func (r *DeviceRegistry) Delete(ctx context.Context, actor auth.Principal, id int64) error {
	var hashes []string
	err := r.store.InTx(ctx, func(s Store) error {
		d, err := loadOwned(ctx, s, actor, id)
		if err != nil {
			return err
		}
		if d.RegistrationStatus != models.StatusActive {
			return precondition("Only active devices can be deleted.")
		}

		if hashes, err = s.DeleteDeviceQRCodes(ctx, d.ID); err != nil {
			return err
		}
		return s.SoftDeleteDevice(ctx, d.ID, r.now())
	})
	if err != nil {
		return err
	}

	telemetry.DeviceTransitionsTotal.WithLabelValues("deleted").Inc()
	slog.Info("device transition", "transition", "deleted", "device_id", id, "qr_codes_removed", len(hashes))
	if r.badges != nil && len(hashes) > 0 {
		r.badges.Purge(ctx, hashes)
	}
	return nil
}

// RequestRenewal flags an active device whose latest code has expired
func (r *DeviceRegistry) RequestRenewal(ctx context.Context, actor auth.Principal, id int64) (*models.Device, error) {
	var device *models.Device
	err := r.store.InTx(ctx, func(s Store) error {
		d, err := loadOwned(ctx, s, actor, id)
		if err != nil {
			return err
		}
		if d.RegistrationStatus != models.StatusActive {
			return precondition("Only active devices can request a QR code renewal.")
		}
		if d.LastAction == models.ActionRenewalRequested {
			return precondition("A renewal request is already pending for this device.")
		}

		latest, err := s.LatestQRCode(ctx, d.ID)
		if err != nil {
			return err
		}
		if latest == nil {
			return precondition("This device has no QR code to renew.")
		}
		if !latest.IsExpired(r.now()) {
			return precondition("QR code has not expired yet.")
		}

		d.LastAction = models.ActionRenewalRequested
		device = d
		return s.UpdateDevice(ctx, d)
	})
	if err != nil {
		return nil, err
	}
	transition("renewal_requested", device)
	return device, nil
}

// ApproveRenewal replaces the device's code with a newly minted one
func (r *DeviceRegistry) ApproveRenewal(ctx context.Context, actor auth.Principal, id int64) (*DeviceResult, error) {
	var res DeviceResult
	err := r.store.InTx(ctx, func(s Store) error {
		d, err := loadForAdmin(ctx, s, actor, id)
		if err != nil {
			return err
		}
		if d.LastAction != models.ActionRenewalRequested {
			return precondition("No renewal request is pending for this device.")
		}

		now := r.now()
		code, err := r.issuer.issue(ctx, s, d.ID, now, issueRenewal)
		if err != nil {
			return err
		}
		d.LastAction = models.ActionRenewed
		d.ApprovedBy = &actor.ID
		d.ApprovedAt = &now
		if err := s.UpdateDevice(ctx, d); err != nil {
			return err
		}
		res = DeviceResult{Device: d, QRCode: code}
		return nil
	})
	if err != nil {
		return nil, err
	}
	transition("renewed", res.Device)
	return &res, nil
}

// RejectRenewal clears a pending renewal request without touching codes
func (r *DeviceRegistry) RejectRenewal(ctx context.Context, actor auth.Principal, id int64) (*models.Device, error) {
	var device *models.Device
	err := r.store.InTx(ctx, func(s Store) error {
		d, err := loadForAdmin(ctx, s, actor, id)
		if err != nil {
			return err
		}
		if d.LastAction != models.ActionRenewalRequested {
			return precondition("No renewal request is pending for this device.")
		}
		d.LastAction = models.ActionNone
		device = d
		return s.UpdateDevice(ctx, d)
	})
	if err != nil {
		return nil, err
	}
	transition("renewal_rejected", device)
	return device, nil
}

// DeviceQuery filters List
type DeviceQuery struct {
	Status           *models.RegistrationStatus
	PendingChanges   bool
	RenewalRequested bool
	Limit            int
	Offset           int
}

// List returns live devices. Students only ever see their own.
func (r *DeviceRegistry) List(ctx context.Context, actor auth.Principal, q DeviceQuery) ([]models.DeviceWithOwner, int, error) {
	filter := repositories.DeviceFilter{
		Status:           q.Status,
		PendingChanges:   q.PendingChanges,
		RenewalRequested: q.RenewalRequested,
	}
	switch actor.Kind {
	case auth.KindStudent:
		id := actor.ID
		filter.StudentID = &id
	case auth.KindAdmin:
	default:
		return nil, 0, forbidden("Unauthorized.")
	}
	if q.Limit <= 0 || q.Limit > 100 {
		q.Limit = 20
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	return r.store.ListDevices(ctx, filter, q.Limit, q.Offset)
}

// DeviceDetails is a device with its owner and latest code
type DeviceDetails struct {
	Device            *models.Device  `json:"device"`
	Owner             *models.Student `json:"owner,omitempty"`
	QRCode            *models.QRCode  `json:"qr_code,omitempty"`
	HasPendingChanges bool            `json:"has_pending_changes"`
}

func (r *DeviceRegistry) loadVisible(ctx context.Context, actor auth.Principal, id int64) (*models.Device, error) {
	if !actor.Is(auth.KindStudent, auth.KindAdmin) {
		return nil, forbidden("Unauthorized.")
	}
	d, err := r.store.FindActiveDevice(ctx, id)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, notFound("Device not found.")
	}
	if actor.Kind == auth.KindStudent && d.StudentID != actor.ID {
		return nil, forbidden("Unauthorized. This device does not belong to you.")
	}
	return d, nil
}

// Get returns a live device visible to the actor
func (r *DeviceRegistry) Get(ctx context.Context, actor auth.Principal, id int64) (*DeviceDetails, error) {
	d, err := r.loadVisible(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	owner, err := r.store.GetStudentByID(ctx, d.StudentID)
	if err != nil {
		return nil, err
	}
	code, err := r.store.LatestQRCode(ctx, d.ID)
	if err != nil {
		return nil, err
	}
	return &DeviceDetails{Device: d, Owner: owner, QRCode: code, HasPendingChanges: d.HasPendingChanges()}, nil
}

// CurrentQRCode returns the device's latest code, active or not
func (r *DeviceRegistry) CurrentQRCode(ctx context.Context, actor auth.Principal, id int64) (*models.QRCode, error) {
	d, err := r.loadVisible(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	code, err := r.store.LatestQRCode(ctx, d.ID)
	if err != nil {
		return nil, err
	}
	if code == nil {
		return nil, notFound("No QR code has been issued for this device.")
	}
	return code, nil
}

// DeviceStats summarises the registry for the admin dashboard
func (r *DeviceRegistry) DeviceStats(ctx context.Context, actor auth.Principal) (*repositories.DeviceStatusCounts, error) {
	if err := requireKind(actor, auth.KindAdmin, "Unauthorized. Admin access required."); err != nil {
		return nil, err
	}
	return r.store.CountDevicesByStatus(ctx)
}
