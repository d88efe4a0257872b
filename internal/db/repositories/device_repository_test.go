package repositories

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/campusgate/gatepass/internal/db/models"
)

// ---------------------------------------------------------------------------
// Column definitions
// ---------------------------------------------------------------------------

var deviceCols = []string{
	"id", "student_id", "brand", "model", "serial_number", "registration_status",
	"approved_by", "approved_at", "original_values", "last_action", "deleted_at",
	"created_at", "updated_at",
}

var deviceOwnerCols = append(append([]string{}, deviceCols...), "student_name", "student_number", "student_course")

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func newDeviceRepo(t *testing.T) (*DeviceRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock := newMockDB(t)
	return NewDeviceRepository(db), mock
}

func sampleDeviceRow() *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows(deviceCols).
		AddRow(int64(1), int64(10), "Dell", "XPS 13", "SN-1", "active",
			int64(2), now, nil, "approved", nil, now, now)
}

// ---------------------------------------------------------------------------
// CreateDevice
// ---------------------------------------------------------------------------

func TestCreateDevice_Success(t *testing.T) {
	repo, mock := newDeviceRepo(t)
	now := time.Now()
	mock.ExpectQuery("INSERT INTO devices").
		WithArgs(int64(10), "Dell", "XPS 13", nil, models.StatusPending, models.ActionNone).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(int64(5), now, now))

	d := &models.Device{StudentID: 10, Brand: "Dell", Model: "XPS 13", RegistrationStatus: models.StatusPending}
	if err := repo.CreateDevice(context.Background(), d); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.ID != 5 {
		t.Errorf("ID = %d, want 5", d.ID)
	}
}

func TestCreateDevice_DBError(t *testing.T) {
	repo, mock := newDeviceRepo(t)
	mock.ExpectQuery("INSERT INTO devices").WillReturnError(errDB)

	if err := repo.CreateDevice(context.Background(), &models.Device{}); err == nil {
		t.Error("expected error, got nil")
	}
}

// ---------------------------------------------------------------------------
// Find variants
// ---------------------------------------------------------------------------

func TestFindActiveDevice_Found(t *testing.T) {
	repo, mock := newDeviceRepo(t)
	mock.ExpectQuery("SELECT.*FROM devices d WHERE d.id = .* AND d.deleted_at IS NULL").
		WithArgs(int64(1)).
		WillReturnRows(sampleDeviceRow())

	d, err := repo.FindActiveDevice(context.Background(), 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d == nil || d.Brand != "Dell" || d.RegistrationStatus != models.StatusActive {
		t.Errorf("unexpected device: %+v", d)
	}
	if d.SerialNumber == nil || *d.SerialNumber != "SN-1" {
		t.Errorf("SerialNumber = %v, want SN-1", d.SerialNumber)
	}
	if d.OriginalValues != nil {
		t.Errorf("OriginalValues = %+v, want nil", d.OriginalValues)
	}
}

func TestFindActiveDevice_NotFound(t *testing.T) {
	repo, mock := newDeviceRepo(t)
	mock.ExpectQuery("SELECT.*FROM devices").WillReturnRows(sqlmock.NewRows(deviceCols))

	d, err := repo.FindActiveDevice(context.Background(), 99)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d != nil {
		t.Errorf("expected nil, got %+v", d)
	}
}

func TestFindDeviceIncludingDeleted_ReturnsDeletedRow(t *testing.T) {
	repo, mock := newDeviceRepo(t)
	now := time.Now()
	rows := sqlmock.NewRows(deviceCols).
		AddRow(int64(3), int64(10), "HP", "Spectre", nil, "active",
			nil, nil, nil, "deleted", now, now, now)
	mock.ExpectQuery("SELECT.*FROM devices d WHERE d.id = \\$1$").
		WithArgs(int64(3)).
		WillReturnRows(rows)

	d, err := repo.FindDeviceIncludingDeleted(context.Background(), 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d == nil || !d.IsDeleted() {
		t.Errorf("expected deleted device, got %+v", d)
	}
}

func TestLockActiveDevice_UsesRowLock(t *testing.T) {
	repo, mock := newDeviceRepo(t)
	mock.ExpectQuery("SELECT.*FROM devices.*FOR UPDATE").
		WithArgs(int64(1)).
		WillReturnRows(sampleDeviceRow())

	if _, err := repo.LockActiveDevice(context.Background(), 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestFindActiveDevice_ScansSnapshot(t *testing.T) {
	repo, mock := newDeviceRepo(t)
	now := time.Now()
	rows := sqlmock.NewRows(deviceCols).
		AddRow(int64(1), int64(10), "Dell", "XPS 15", nil, "pending",
			int64(2), now, []byte(`{"brand":"Dell","model":"XPS 13","serial_number":"SN-1"}`),
			"", nil, now, now)
	mock.ExpectQuery("SELECT.*FROM devices").WillReturnRows(rows)

	d, err := repo.FindActiveDevice(context.Background(), 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.OriginalValues == nil || d.OriginalValues.Model != "XPS 13" {
		t.Fatalf("OriginalValues = %+v, want model XPS 13", d.OriginalValues)
	}
	if !d.HasPendingChanges() {
		t.Error("HasPendingChanges() = false, want true")
	}
}

// ---------------------------------------------------------------------------
// SerialInUse
// ---------------------------------------------------------------------------

func TestSerialInUse(t *testing.T) {
	tests := []struct {
		name   string
		exists bool
	}{
		{"taken", true},
		{"free", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, mock := newDeviceRepo(t)
			mock.ExpectQuery("SELECT EXISTS").
				WithArgs("SN-1", int64(4)).
				WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(tt.exists))

			got, err := repo.SerialInUse(context.Background(), "SN-1", 4)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.exists {
				t.Errorf("SerialInUse() = %v, want %v", got, tt.exists)
			}
		})
	}
}

func TestSerialInUse_DBError(t *testing.T) {
	repo, mock := newDeviceRepo(t)
	mock.ExpectQuery("SELECT EXISTS").WillReturnError(errDB)

	if _, err := repo.SerialInUse(context.Background(), "SN-1", 0); err == nil {
		t.Error("expected error, got nil")
	}
}

// ---------------------------------------------------------------------------
// UpdateDevice / SoftDeleteDevice
// ---------------------------------------------------------------------------

func TestUpdateDevice_Success(t *testing.T) {
	repo, mock := newDeviceRepo(t)
	mock.ExpectExec("UPDATE devices SET").
		WillReturnResult(sqlmock.NewResult(0, 1))

	d := &models.Device{ID: 1, Brand: "Dell", Model: "XPS", RegistrationStatus: models.StatusActive,
		OriginalValues: &models.EditSnapshot{Brand: "Dell", Model: "Old"}}
	if err := repo.UpdateDevice(context.Background(), d); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.UpdatedAt.IsZero() {
		t.Error("UpdatedAt not set")
	}
}

func TestUpdateDevice_NoRows(t *testing.T) {
	repo, mock := newDeviceRepo(t)
	mock.ExpectExec("UPDATE devices SET").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := repo.UpdateDevice(context.Background(), &models.Device{ID: 1}); err == nil {
		t.Error("expected error for missing device, got nil")
	}
}

func TestSoftDeleteDevice(t *testing.T) {
	repo, mock := newDeviceRepo(t)
	at := time.Now()
	mock.ExpectExec("UPDATE devices SET deleted_at").
		WithArgs(int64(1), at, models.ActionDeleted).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.SoftDeleteDevice(context.Background(), 1, at); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// ---------------------------------------------------------------------------
// ListDevices / CountDevicesByStatus
// ---------------------------------------------------------------------------

func TestListDevices_WithFilters(t *testing.T) {
	repo, mock := newDeviceRepo(t)
	status := models.StatusPending
	now := time.Now()

	mock.ExpectQuery("SELECT COUNT.*FROM devices d WHERE d.deleted_at IS NULL AND d.student_id = \\$1 AND d.registration_status = \\$2").
		WithArgs(int64(10), status).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery("SELECT.*FROM devices d.*LEFT JOIN students.*LIMIT \\$3 OFFSET \\$4").
		WithArgs(int64(10), status, 20, 0).
		WillReturnRows(sqlmock.NewRows(deviceOwnerCols).
			AddRow(int64(1), int64(10), "Dell", "XPS", nil, "pending",
				nil, nil, nil, "", nil, now, now, "Ana Cruz", "2024-0001", "BSCS"))

	devices, total, err := repo.ListDevices(context.Background(),
		DeviceFilter{StudentID: int64Ptr(10), Status: &status}, 20, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 1 || len(devices) != 1 {
		t.Fatalf("total=%d len=%d, want 1/1", total, len(devices))
	}
	if devices[0].StudentName == nil || *devices[0].StudentName != "Ana Cruz" {
		t.Errorf("StudentName = %v, want Ana Cruz", devices[0].StudentName)
	}
}

func TestListDevices_CountError(t *testing.T) {
	repo, mock := newDeviceRepo(t)
	mock.ExpectQuery("SELECT COUNT").WillReturnError(errDB)

	if _, _, err := repo.ListDevices(context.Background(), DeviceFilter{}, 10, 0); err == nil {
		t.Error("expected error, got nil")
	}
}

func TestCountDevicesByStatus(t *testing.T) {
	repo, mock := newDeviceRepo(t)
	mock.ExpectQuery("SELECT.*COUNT.*FILTER.*FROM devices").
		WillReturnRows(sqlmock.NewRows([]string{"pending", "active", "rejected", "pending_changes", "renewal_requests"}).
			AddRow(3, 7, 1, 2, 1))

	c, err := repo.CountDevicesByStatus(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Pending != 3 || c.Active != 7 || c.Rejected != 1 || c.PendingChanges != 2 || c.RenewalRequests != 1 {
		t.Errorf("unexpected counts: %+v", c)
	}
}
