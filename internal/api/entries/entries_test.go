package entries

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campusgate/gatepass/internal/auth"
	"github.com/campusgate/gatepass/internal/middleware"
	"github.com/campusgate/gatepass/internal/services"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var guard = auth.Principal{Kind: auth.KindSecurityGuard, ID: 5, Name: "Gil Santos"}

var validScan = services.ScanResult{
	Outcome: services.OutcomeValid,
	Message: "QR code is valid.",
	Student: &services.StudentSnapshot{Name: "Ana Cruz", StudentNumber: "2021-0001", Course: "BSCS"},
	Device:  &services.DeviceSnapshot{ID: 9, Brand: "Lenovo", Model: "ThinkPad T14"},
}

// fakeGate returns canned results and remembers the last call.
type fakeGate struct {
	scan     *services.ScanResult
	err      error
	raw      string
	gateName string
	decision services.Decision
}

func (f *fakeGate) Preview(_ context.Context, _ auth.Principal, raw string) (*services.ScanResult, error) {
	f.raw = raw
	return f.scan, f.err
}

func (f *fakeGate) Decide(_ context.Context, _ auth.Principal, raw, gateName string, d services.Decision) (*services.DecisionResult, error) {
	f.raw, f.gateName, f.decision = raw, gateName, d
	if f.err != nil {
		return nil, f.err
	}
	res := &services.DecisionResult{ScanResult: *f.scan, Decision: d}
	if f.scan.Valid() {
		res.EntryID = 77
		res.Gate = gateName
	}
	return res, nil
}

type fakeStats struct {
	scope services.ScanScope
	limit int
	err   error
}

func (f *fakeStats) StatsForToday(_ context.Context, _ auth.Principal, s services.ScanScope) (*services.GateStats, error) {
	f.scope = s
	if f.err != nil {
		return nil, f.err
	}
	return &services.GateStats{Gate: s.Gate, Date: "2026-03-02", ScansToday: 3, SuccessRate: 67, LastHourCount: 2}, nil
}

func (f *fakeStats) RecentScans(_ context.Context, _ auth.Principal, s services.ScanScope, limit int) ([]services.RecentScan, error) {
	f.scope, f.limit = s, limit
	if f.err != nil {
		return nil, f.err
	}
	return []services.RecentScan{{ID: 2, GateName: "Main Gate"}, {ID: 1, GateName: "Main Gate"}}, nil
}

func newRouter(gate Gate, stats Stats, principal *auth.Principal) *gin.Engine {
	h := NewHandler(gate, stats)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		if principal != nil {
			c.Set(middleware.PrincipalKey, *principal)
		}
	})
	r.POST("/entries/read-qr", h.ReadQR)
	r.POST("/entries/validate-qr", h.ValidateQR)
	r.POST("/entries/deny-qr", h.DenyQR)
	r.GET("/entries", h.Recent)
	r.GET("/entries/stats", h.Stats)
	return r
}

func do(r *gin.Engine, method, path string, body interface{}) (*httptest.ResponseRecorder, map[string]interface{}) {
	var buf bytes.Buffer
	if s, ok := body.(string); ok {
		buf.WriteString(s)
	} else if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	var out map[string]interface{}
	_ = json.Unmarshal(w.Body.Bytes(), &out)
	return w, out
}

// ---------------------------------------------------------------------------
// read-qr
// ---------------------------------------------------------------------------

func TestReadQR_Valid(t *testing.T) {
	gate := &fakeGate{scan: &validScan}
	w, body := do(newRouter(gate, &fakeStats{}, &guard), http.MethodPost, "/entries/read-qr", gin.H{"qr_hash": " abc "})

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["valid"])
	assert.Equal(t, " abc ", gate.raw, "payload is passed through untouched")
	student := body["student_data"].(map[string]interface{})
	assert.Equal(t, "2021-0001", student["student_id"])
	assert.Equal(t, "ThinkPad T14", body["device"].(map[string]interface{})["model"])
}

func TestReadQR_OutcomeStatuses(t *testing.T) {
	tests := []struct {
		outcome services.ScanOutcome
		want    int
	}{
		{services.OutcomeNotFound, http.StatusNotFound},
		{services.OutcomeMalformed, http.StatusUnprocessableEntity},
		{services.OutcomeExpired, http.StatusBadRequest},
		{services.OutcomeInactive, http.StatusBadRequest},
		{services.OutcomeDeviceDeleted, http.StatusBadRequest},
		{services.OutcomeStudentMissing, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(string(tt.outcome), func(t *testing.T) {
			gate := &fakeGate{scan: &services.ScanResult{Outcome: tt.outcome, Message: "nope"}}
			w, body := do(newRouter(gate, &fakeStats{}, &guard), http.MethodPost, "/entries/read-qr", gin.H{"qr_hash": "x"})
			assert.Equal(t, tt.want, w.Code)
			assert.Equal(t, false, body["valid"])
			assert.Equal(t, "nope", body["message"])
			assert.NotContains(t, body, "student_data")
		})
	}
}

func TestReadQR_Errors(t *testing.T) {
	forbidden := &services.RuleError{Kind: services.KindForbidden, Message: "Unauthorized. Security guard access required."}

	w, body := do(newRouter(&fakeGate{err: forbidden}, &fakeStats{}, &guard), http.MethodPost, "/entries/read-qr", gin.H{"qr_hash": "x"})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, false, body["valid"])

	w, _ = do(newRouter(&fakeGate{scan: &validScan}, &fakeStats{}, &guard), http.MethodPost, "/entries/read-qr", "{not json")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = do(newRouter(&fakeGate{scan: &validScan}, &fakeStats{}, nil), http.MethodPost, "/entries/read-qr", gin.H{"qr_hash": "x"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

// ---------------------------------------------------------------------------
// validate-qr / deny-qr
// ---------------------------------------------------------------------------

func TestValidateQR_RecordsAccept(t *testing.T) {
	gate := &fakeGate{scan: &validScan}
	w, body := do(newRouter(gate, &fakeStats{}, &guard), http.MethodPost, "/entries/validate-qr",
		gin.H{"qr_hash": "abc", "gate_name": "Main Gate"})

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, services.DecisionAccept, gate.decision)
	assert.Equal(t, "Main Gate", gate.gateName)
	assert.Equal(t, "success", body["status"])
	assert.Equal(t, true, body["valid"])
	assert.EqualValues(t, 77, body["entry_id"])
	assert.Contains(t, body, "student_data")
}

func TestValidateQR_InvalidWritesNothing(t *testing.T) {
	gate := &fakeGate{scan: &services.ScanResult{Outcome: services.OutcomeExpired, Message: "QR code has expired. Please renew your QR code."}}
	w, body := do(newRouter(gate, &fakeStats{}, &guard), http.MethodPost, "/entries/validate-qr",
		gin.H{"qr_hash": "abc", "gate_name": "Main Gate"})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "error", body["status"])
	assert.Equal(t, false, body["valid"])
	assert.NotContains(t, body, "entry_id")
}

func TestValidateQR_Conflict(t *testing.T) {
	busy := &services.RuleError{Kind: services.KindConflict, Message: "A decision for this QR code was just recorded. Please scan again."}
	w, body := do(newRouter(&fakeGate{err: busy}, &fakeStats{}, &guard), http.MethodPost, "/entries/validate-qr",
		gin.H{"qr_hash": "abc", "gate_name": "Main Gate"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, false, body["valid"])
}

func TestValidateQR_LogWriteFailureIs500(t *testing.T) {
	w, _ := do(newRouter(&fakeGate{err: errors.New("insert entry_logs: disk full")}, &fakeStats{}, &guard),
		http.MethodPost, "/entries/validate-qr", gin.H{"qr_hash": "abc", "gate_name": "Main Gate"})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestDenyQR(t *testing.T) {
	gate := &fakeGate{scan: &validScan}
	w, body := do(newRouter(gate, &fakeStats{}, &guard), http.MethodPost, "/entries/deny-qr",
		gin.H{"qr_hash": "abc", "gate_name": "North Gate"})

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, services.DecisionDeny, gate.decision)
	assert.Equal(t, true, body["success"])
	assert.NotContains(t, body, "student_data")

	gate = &fakeGate{scan: &services.ScanResult{Outcome: services.OutcomeNotFound, Message: "QR code not registered."}}
	w, body = do(newRouter(gate, &fakeStats{}, &guard), http.MethodPost, "/entries/deny-qr",
		gin.H{"qr_hash": "abc", "gate_name": "North Gate"})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, false, body["success"])

	missingGate := &services.RuleError{Kind: services.KindValidation, Field: "gate_name", Message: "The gate name field is required."}
	w, body = do(newRouter(&fakeGate{err: missingGate}, &fakeStats{}, &guard), http.MethodPost, "/entries/deny-qr", gin.H{"qr_hash": "abc"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, body["errors"], "gate_name")
}

// ---------------------------------------------------------------------------
// entries / stats
// ---------------------------------------------------------------------------

func TestRecent(t *testing.T) {
	stats := &fakeStats{}
	w, body := do(newRouter(&fakeGate{}, stats, &guard), http.MethodGet, "/entries?gate=Main%20Gate&limit=10&mine=true", nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Main Gate", stats.scope.Gate)
	assert.Equal(t, 10, stats.limit)
	require.NotNil(t, stats.scope.GuardID)
	assert.EqualValues(t, guard.ID, *stats.scope.GuardID)
	assert.EqualValues(t, 2, body["count"])
}

func TestRecent_AdminGuardFilter(t *testing.T) {
	stats := &fakeStats{}
	admin := auth.Principal{Kind: auth.KindAdmin, ID: 1}
	do(newRouter(&fakeGate{}, stats, &admin), http.MethodGet, "/entries?guard_id=12&mine=true", nil)

	require.NotNil(t, stats.scope.GuardID)
	assert.EqualValues(t, 12, *stats.scope.GuardID, "mine only applies to guards")
	assert.Equal(t, 0, stats.limit, "absent limit uses the service default")
}

func TestStats(t *testing.T) {
	stats := &fakeStats{}
	w, body := do(newRouter(&fakeGate{}, stats, &guard), http.MethodGet, "/entries/stats?gate=Main%20Gate", nil)

	require.Equal(t, http.StatusOK, w.Code)
	got := body["stats"].(map[string]interface{})
	assert.EqualValues(t, 3, got["scans_today"])
	assert.EqualValues(t, 67, got["success_rate"])
	assert.Nil(t, stats.scope.GuardID)

	stats.err = &services.RuleError{Kind: services.KindForbidden, Message: "Unauthorized."}
	w, _ = do(newRouter(&fakeGate{}, stats, &guard), http.MethodGet, "/entries/stats", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}
