package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/campusgate/gatepass/internal/api/account"
	"github.com/campusgate/gatepass/internal/api/admin"
	"github.com/campusgate/gatepass/internal/api/devices"
	"github.com/campusgate/gatepass/internal/api/entries"
	"github.com/campusgate/gatepass/internal/auth"
	"github.com/campusgate/gatepass/internal/config"
	"github.com/campusgate/gatepass/internal/middleware"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Setenv("GATEPASS_JWT_SECRET", "router-test-secret-0123456789abcdef0123456789")
	os.Exit(m.Run())
}

// ---------------------------------------------------------------------------
// minimal storage.Storage mock for readiness tests
// ---------------------------------------------------------------------------

type readinessMockStorage struct{ existsErr error }

func (m *readinessMockStorage) Upload(context.Context, string, io.Reader, int64) error { return nil }
func (m *readinessMockStorage) Download(context.Context, string) (io.ReadCloser, error) {
	return nil, nil
}
func (m *readinessMockStorage) Delete(context.Context, string) error { return nil }
func (m *readinessMockStorage) Exists(context.Context, string) (bool, error) {
	return false, m.existsErr
}

func newHealthDB(t *testing.T, pingOK bool) *sql.DB {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if pingOK {
		mock.ExpectPing()
	} else {
		mock.ExpectPing().WillReturnError(sql.ErrConnDone)
	}
	return db
}

func get(r http.Handler, path string) (*httptest.ResponseRecorder, map[string]interface{}) {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	var body map[string]interface{}
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	return w, body
}

// ---------------------------------------------------------------------------
// healthCheckHandler
// ---------------------------------------------------------------------------

func TestHealthCheckHandler(t *testing.T) {
	tests := []struct {
		name   string
		pingOK bool
		code   int
		status string
	}{
		{"healthy", true, http.StatusOK, "healthy"},
		{"unhealthy", false, http.StatusServiceUnavailable, "unhealthy"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := gin.New()
			r.GET("/health", healthCheckHandler(newHealthDB(t, tt.pingOK)))

			w, body := get(r, "/health")
			if w.Code != tt.code {
				t.Errorf("status = %d, want %d", w.Code, tt.code)
			}
			if body["status"] != tt.status {
				t.Errorf("status = %v, want %s", body["status"], tt.status)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// readinessHandler
// ---------------------------------------------------------------------------

func TestReadinessHandler_Ready(t *testing.T) {
	r := gin.New()
	r.GET("/ready", readinessHandler(newHealthDB(t, true), nil, &readinessMockStorage{}))

	w, body := get(r, "/ready")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	checks := body["checks"].(map[string]interface{})
	if checks["database"] != "healthy" || checks["storage"] != "healthy" {
		t.Errorf("checks = %v", checks)
	}
	if _, ok := checks["redis"]; ok {
		t.Error("redis checked although not configured")
	}
}

func TestReadinessHandler_DBDown(t *testing.T) {
	r := gin.New()
	r.GET("/ready", readinessHandler(newHealthDB(t, false), nil, &readinessMockStorage{}))

	w, body := get(r, "/ready")
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
	if body["error"] != "database not ready" {
		t.Errorf("error = %v", body["error"])
	}
}

func TestReadinessHandler_StorageDown(t *testing.T) {
	r := gin.New()
	r.GET("/ready", readinessHandler(newHealthDB(t, true), nil, &readinessMockStorage{existsErr: errors.New("403")}))

	w, body := get(r, "/ready")
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
	if body["error"] != "storage backend not ready" {
		t.Errorf("error = %v", body["error"])
	}
}

func TestReadinessHandler_RedisDown(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 200 * time.Millisecond, MaxRetries: -1})
	t.Cleanup(func() { rdb.Close() })

	r := gin.New()
	r.GET("/ready", readinessHandler(newHealthDB(t, true), rdb, &readinessMockStorage{}))

	w, body := get(r, "/ready")
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
	if body["error"] != "redis not ready" {
		t.Errorf("error = %v", body["error"])
	}
}

func TestVersionHandler(t *testing.T) {
	r := gin.New()
	r.GET("/version", versionHandler())

	_, body := get(r, "/version")
	if body["version"] != Version || body["api_version"] != "v1" {
		t.Errorf("body = %v", body)
	}
}

// ---------------------------------------------------------------------------
// CORSMiddleware
// ---------------------------------------------------------------------------

func corsConfig(origins ...string) *config.Config {
	cfg := &config.Config{}
	cfg.Security.CORS.AllowedOrigins = origins
	return cfg
}

func TestCORSMiddleware(t *testing.T) {
	tests := []struct {
		name       string
		origins    []string
		origin     string
		wantHeader string
	}{
		{"wildcard", []string{"*"}, "https://portal.campus.edu", "https://portal.campus.edu"},
		{"exact", []string{"https://portal.campus.edu"}, "https://portal.campus.edu", "https://portal.campus.edu"},
		{"not allowed", []string{"https://portal.campus.edu"}, "https://evil.example", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := gin.New()
			r.Use(CORSMiddleware(corsConfig(tt.origins...)))
			r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

			req := httptest.NewRequest(http.MethodGet, "/x", nil)
			req.Header.Set("Origin", tt.origin)
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			if got := w.Header().Get("Access-Control-Allow-Origin"); got != tt.wantHeader {
				t.Errorf("Allow-Origin = %q, want %q", got, tt.wantHeader)
			}
		})
	}
}

func TestCORSMiddleware_Preflight(t *testing.T) {
	r := gin.New()
	r.Use(CORSMiddleware(corsConfig("*")))
	r.POST("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodOptions, "/x", nil))
	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", w.Code)
	}
	if !strings.Contains(w.Header().Get("Access-Control-Allow-Methods"), "POST") {
		t.Errorf("Allow-Methods = %q", w.Header().Get("Access-Control-Allow-Methods"))
	}
}

// ---------------------------------------------------------------------------
// RegisterRoutes: principal gating. Handlers are built over nil services;
// every request here is rejected before a handler runs.
// ---------------------------------------------------------------------------

func newAPI(t *testing.T, rateLimited bool) *gin.Engine {
	t.Helper()
	cfg := &config.Config{}
	cfg.Security.RateLimiting.Enabled = rateLimited

	limiters, mem := NewLimiters(cfg, nil)
	t.Cleanup(func() {
		for _, l := range mem {
			l.Stop()
		}
	})

	h := Handlers{
		Account: account.NewHandler(nil),
		Devices: devices.NewHandler(nil, nil),
		Entries: entries.NewHandler(nil, nil),
		Stats:   admin.NewStatsHandler(nil, nil),
		Guards:  admin.NewGuardsHandler(nil),
		Audit:   admin.NewAuditHandler(nil),
	}
	r := gin.New()
	RegisterRoutes(r.Group("/api/v1"), cfg, h, limiters, nil)
	return r
}

func bearer(t *testing.T, kind auth.Kind) string {
	t.Helper()
	tok, err := auth.GenerateJWT(auth.Principal{Kind: kind, ID: 3, Name: "Tester"}, time.Hour)
	if err != nil {
		t.Fatalf("GenerateJWT: %v", err)
	}
	return "Bearer " + tok
}

func TestRegisterRoutes_PrincipalGating(t *testing.T) {
	r := newAPI(t, false)

	tests := []struct {
		name   string
		method string
		path   string
		kind   auth.Kind
		want   int
	}{
		{"devices needs a token", http.MethodGet, "/api/v1/devices", "", http.StatusUnauthorized},
		{"guards cannot list devices", http.MethodGet, "/api/v1/devices", auth.KindSecurityGuard, http.StatusForbidden},
		{"admins cannot register devices", http.MethodPost, "/api/v1/devices", auth.KindAdmin, http.StatusForbidden},
		{"students cannot approve", http.MethodPost, "/api/v1/devices/4/approve", auth.KindStudent, http.StatusForbidden},
		{"students cannot scan", http.MethodPost, "/api/v1/entries/read-qr", auth.KindStudent, http.StatusForbidden},
		{"admins cannot record decisions", http.MethodPost, "/api/v1/entries/validate-qr", auth.KindAdmin, http.StatusForbidden},
		{"students cannot see entries", http.MethodGet, "/api/v1/entries", auth.KindStudent, http.StatusForbidden},
		{"guards cannot open admin", http.MethodGet, "/api/v1/admin/stats", auth.KindSecurityGuard, http.StatusForbidden},
		{"admin needs a token", http.MethodGet, "/api/v1/admin/audit-logs", "", http.StatusUnauthorized},
		{"me needs a token", http.MethodGet, "/api/v1/auth/me", "", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.kind != "" {
				req.Header.Set("Authorization", bearer(t, tt.kind))
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d (%s)", w.Code, tt.want, w.Body.String())
			}
		})
	}
}

func TestRegisterRoutes_LoginRateLimited(t *testing.T) {
	r := newAPI(t, true)
	burst := middleware.AuthRateLimitConfig().BurstSize

	var last int
	for i := 0; i <= burst; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader("{")))
		last = w.Code
		if i < burst && w.Code == http.StatusTooManyRequests {
			t.Fatalf("request %d throttled inside the burst", i+1)
		}
	}
	if last != http.StatusTooManyRequests {
		t.Errorf("request past burst = %d, want 429", last)
	}
}

func TestNewLimiters_Memory(t *testing.T) {
	cfg := &config.Config{}
	cfg.Security.RateLimiting.RequestsPerMinute = 300
	cfg.Security.RateLimiting.Burst = 60

	l, mem := NewLimiters(cfg, nil)
	defer func() {
		for _, m := range mem {
			m.Stop()
		}
	}()
	if len(mem) != 3 {
		t.Fatalf("memory limiters = %d, want 3", len(mem))
	}
	if l.General.Limit() != 300 {
		t.Errorf("general limit = %d, want 300", l.General.Limit())
	}
	if l.Auth.Limit() != middleware.AuthRateLimitConfig().RequestsPerMinute {
		t.Errorf("auth limit = %d", l.Auth.Limit())
	}
}

func TestNewLimiters_Redis(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"})
	t.Cleanup(func() { rdb.Close() })

	l, mem := NewLimiters(&config.Config{}, rdb)
	if mem != nil {
		t.Errorf("memory limiters = %v, want none with redis", mem)
	}
	if _, ok := l.Scan.(*middleware.RedisLimiter); !ok {
		t.Errorf("scan limiter = %T, want *RedisLimiter", l.Scan)
	}
}

func TestBackgroundServices_Shutdown(t *testing.T) {
	l := middleware.NewMemoryLimiter(middleware.DefaultRateLimitConfig())
	bg := &BackgroundServices{rateLimiters: []*middleware.MemoryLimiter{l}}
	bg.Shutdown()
	bg.Shutdown()
}
