// Package api wires together all HTTP routes for the gate pass backend.
//
// Route grouping:
//   - /auth/login and /auth/register are public and carry the strict auth rate limit.
//   - /entries scanning routes are for security guards and carry the scan limit,
//     which tolerates the bursts a gate sees at class change.
//   - Everything else under /api/v1 requires a bearer token, is gated on the
//     principal kind, and is audited.
//
// Route-level kind checks only keep obviously wrong callers out of a group; the
// services re-check ownership and role for every operation.
package api

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"github.com/campusgate/gatepass/internal/api/account"
	"github.com/campusgate/gatepass/internal/api/admin"
	"github.com/campusgate/gatepass/internal/api/devices"
	"github.com/campusgate/gatepass/internal/api/entries"
	"github.com/campusgate/gatepass/internal/auth"
	"github.com/campusgate/gatepass/internal/config"
	"github.com/campusgate/gatepass/internal/db/repositories"
	"github.com/campusgate/gatepass/internal/jobs"
	"github.com/campusgate/gatepass/internal/lock"
	"github.com/campusgate/gatepass/internal/middleware"
	"github.com/campusgate/gatepass/internal/safego"
	"github.com/campusgate/gatepass/internal/services"
	"github.com/campusgate/gatepass/internal/storage"

	// Import storage backends to register them
	_ "github.com/campusgate/gatepass/internal/storage/azure"
	_ "github.com/campusgate/gatepass/internal/storage/gcs"
	_ "github.com/campusgate/gatepass/internal/storage/local"
	_ "github.com/campusgate/gatepass/internal/storage/s3"
)

// Version is reported by GET /version. Overridden at build time with -ldflags.
var Version = "0.1.0"

// BackgroundServices holds background jobs and resources that must be stopped
// during graceful shutdown. The caller (cmd/server) calls Shutdown after the
// HTTP server has drained.
type BackgroundServices struct {
	expiryNotifier *jobs.QRExpiryNotifier
	rateLimiters   []*middleware.MemoryLimiter
}

// Shutdown stops all background goroutines.
func (bg *BackgroundServices) Shutdown() {
	slog.Info("stopping background services")
	if bg.expiryNotifier != nil {
		bg.expiryNotifier.Stop()
	}
	for _, rl := range bg.rateLimiters {
		rl.Stop()
	}
	slog.Info("all background services stopped")
}

// Handlers are the request handlers mounted under /api/v1.
type Handlers struct {
	Account *account.Handler
	Devices *devices.Handler
	Entries *entries.Handler
	Stats   *admin.StatsHandler
	Guards  *admin.GuardsHandler
	Audit   *admin.AuditHandler
}

// Limiters are the per-group rate limiters.
type Limiters struct {
	Auth    middleware.Limiter
	Scan    middleware.Limiter
	General middleware.Limiter
}

// NewLimiters builds shared redis limiters when rdb is non-nil and in-process
// token buckets otherwise. The in-process limiters are returned separately so
// their cleanup goroutines can be stopped.
func NewLimiters(cfg *config.Config, rdb *redis.Client) (Limiters, []*middleware.MemoryLimiter) {
	general := middleware.DefaultRateLimitConfig()
	if cfg.Security.RateLimiting.RequestsPerMinute > 0 {
		general.RequestsPerMinute = cfg.Security.RateLimiting.RequestsPerMinute
	}
	if cfg.Security.RateLimiting.Burst > 0 {
		general.BurstSize = cfg.Security.RateLimiting.Burst
	}
	authCfg, scanCfg := middleware.AuthRateLimitConfig(), middleware.ScanRateLimitConfig()

	if rdb != nil {
		return Limiters{
			Auth:    middleware.NewRedisLimiter(rdb, "auth", authCfg),
			Scan:    middleware.NewRedisLimiter(rdb, "scan", scanCfg),
			General: middleware.NewRedisLimiter(rdb, "api", general),
		}, nil
	}
	a, s, g := middleware.NewMemoryLimiter(authCfg), middleware.NewMemoryLimiter(scanCfg), middleware.NewMemoryLimiter(general)
	return Limiters{Auth: a, Scan: s, General: g}, []*middleware.MemoryLimiter{a, s, g}
}

// NewRouter builds the services on top of db, rdb and the configured badge
// storage, and returns the configured engine. rdb may be nil.
func NewRouter(cfg *config.Config, db *sql.DB, rdb *redis.Client) (*gin.Engine, *BackgroundServices, error) {
	storageBackend, err := storage.NewStorage(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize storage backend: %w", err)
	}
	slog.Info("initialized storage backend", "backend", cfg.Storage.DefaultBackend)

	sqlxDB := sqlx.NewDb(db, "postgres")
	store := services.NewSQLStore(sqlxDB)
	auditRepo := repositories.NewAuditRepository(db)

	var locker lock.Locker = lock.NewMemoryLocker()
	if rdb != nil {
		locker = lock.NewRedisLocker(rdb)
	}

	badges := services.NewBadgeArchive(storageBackend, 0)
	registry := services.NewDeviceRegistry(store, cfg.Gate.QRValidityMonths, badges)
	gate := services.NewGateValidator(store, services.GateOptions{
		Locker:              locker,
		DecisionLockTTL:     cfg.Gate.DecisionLockTTL,
		AutoProvisionGuards: cfg.Gate.AutoProvisionGuards,
	})
	stats := services.NewEntryStats(store, cfg.Gate.Location(),
		cfg.Gate.RecentScansDefaultLimit, cfg.Gate.RecentScansMaxLimit)
	accounts := services.NewAccounts(store, cfg.Auth.JWTExpiry, cfg.Auth.AllowStudentSignup)

	h := Handlers{
		Account: account.NewHandler(accounts),
		Devices: devices.NewHandler(registry, badges),
		Entries: entries.NewHandler(gate, stats),
		Stats:   admin.NewStatsHandler(registry, stats),
		Guards:  admin.NewGuardsHandler(accounts),
		Audit:   admin.NewAuditHandler(auditRepo),
	}

	limiters, memoryLimiters := NewLimiters(cfg, rdb)

	var recorder middleware.AuditRecorder
	if cfg.Audit.Enabled {
		recorder = auditRepo
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.MetricsMiddleware())
	router.Use(LoggerMiddleware(cfg))
	router.Use(CORSMiddleware(cfg))
	router.Use(middleware.SecurityHeadersMiddleware(middleware.APISecurityHeadersConfig(cfg.Security.TLS.Enabled)))

	router.GET("/health", healthCheckHandler(db))
	router.GET("/ready", readinessHandler(db, rdb, storageBackend))
	router.GET("/version", versionHandler())

	RegisterRoutes(router.Group("/api/v1"), cfg, h, limiters, recorder)

	notifier := jobs.NewQRExpiryNotifier(store.QRCodeRepository, &cfg.Notifications)
	safego.Go("qr-expiry-notifier", func() { notifier.Start(context.Background()) })

	return router, &BackgroundServices{expiryNotifier: notifier, rateLimiters: memoryLimiters}, nil
}

// RegisterRoutes mounts the API on v1.
func RegisterRoutes(v1 *gin.RouterGroup, cfg *config.Config, h Handlers, l Limiters, recorder middleware.AuditRecorder) {
	limit := func(lim middleware.Limiter) gin.HandlerFunc {
		if !cfg.Security.RateLimiting.Enabled || lim == nil {
			return func(c *gin.Context) { c.Next() }
		}
		return middleware.RateLimitMiddleware(lim)
	}
	audit := middleware.AuditMiddleware(recorder, &cfg.Audit)

	authGroup := v1.Group("/auth")
	{
		authGroup.POST("/login", limit(l.Auth), h.Account.Login)
		authGroup.POST("/register", limit(l.Auth), h.Account.Register)
		authGroup.GET("/me", limit(l.General), middleware.AuthMiddleware(), middleware.RequirePrincipal(), h.Account.Me)
	}

	deviceGroup := v1.Group("/devices")
	deviceGroup.Use(limit(l.General), middleware.AuthMiddleware())
	deviceGroup.Use(middleware.RequirePrincipal(auth.KindStudent, auth.KindAdmin), audit)
	{
		student := middleware.RequirePrincipal(auth.KindStudent)
		adminOnly := middleware.RequirePrincipal(auth.KindAdmin)

		deviceGroup.POST("", student, h.Devices.Create)
		deviceGroup.GET("", h.Devices.List)
		deviceGroup.GET("/:id", h.Devices.Get)
		deviceGroup.PUT("/:id", student, h.Devices.Update)
		deviceGroup.DELETE("/:id", student, h.Devices.Delete)
		deviceGroup.POST("/:id/renew-qr", student, h.Devices.RenewQR)
		deviceGroup.GET("/:id/qr", h.Devices.QRCode)
		deviceGroup.GET("/:id/qr.png", h.Devices.QRCodePNG)

		deviceGroup.POST("/:id/approve", adminOnly, h.Devices.Approve)
		deviceGroup.POST("/:id/reject", adminOnly, h.Devices.Reject)
		deviceGroup.POST("/:id/approve-renewal", adminOnly, h.Devices.ApproveRenewal)
		deviceGroup.POST("/:id/reject-renewal", adminOnly, h.Devices.RejectRenewal)
	}

	entryGroup := v1.Group("/entries")
	entryGroup.Use(middleware.AuthMiddleware())
	{
		guard := middleware.RequirePrincipal(auth.KindSecurityGuard)
		scan := limit(l.Scan)

		entryGroup.POST("/read-qr", scan, guard, audit, h.Entries.ReadQR)
		entryGroup.POST("/validate-qr", scan, guard, audit, h.Entries.ValidateQR)
		entryGroup.POST("/deny-qr", scan, guard, audit, h.Entries.DenyQR)
		entryGroup.GET("", limit(l.General), middleware.RequirePrincipal(auth.KindSecurityGuard, auth.KindAdmin), audit, h.Entries.Recent)
		entryGroup.GET("/stats", limit(l.General), middleware.RequirePrincipal(auth.KindSecurityGuard, auth.KindAdmin), audit, h.Entries.Stats)
	}

	adminGroup := v1.Group("/admin")
	adminGroup.Use(limit(l.General), middleware.AuthMiddleware(), middleware.RequirePrincipal(auth.KindAdmin), audit)
	{
		adminGroup.GET("/stats", h.Stats.GetDashboardStats)
		adminGroup.GET("/guards", h.Guards.List)
		adminGroup.POST("/guards", h.Guards.Create)
		adminGroup.GET("/audit-logs", h.Audit.List)
		adminGroup.GET("/audit-logs/:id", h.Audit.Get)
	}
}

// healthCheckHandler is the liveness probe: the process is up and can reach
// its database.
func healthCheckHandler(db *sql.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
				"error":  "database connection failed",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status": "healthy",
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// readinessHandler also probes redis (when configured) and the badge storage
// backend, so a readiness gate fails when scans or badge downloads would error.
func readinessHandler(db *sql.DB, rdb *redis.Client, storageBackend storage.Storage) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		checks := gin.H{}

		notReady := func(name, msg string) {
			checks[name] = "unhealthy"
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"ready":  false,
				"checks": checks,
				"error":  msg,
			})
		}

		if err := db.PingContext(ctx); err != nil {
			notReady("database", "database not ready")
			return
		}
		checks["database"] = "healthy"

		if rdb != nil {
			if err := rdb.Ping(ctx).Err(); err != nil {
				notReady("redis", "redis not ready")
				return
			}
			checks["redis"] = "healthy"
		}

		// A known-absent path exercises credentials and connectivity without writing.
		if _, err := storageBackend.Exists(ctx, ".readiness-probe"); err != nil {
			notReady("storage", "storage backend not ready")
			return
		}
		checks["storage"] = "healthy"

		c.JSON(http.StatusOK, gin.H{
			"ready":  true,
			"checks": checks,
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

func versionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":     Version,
			"api_version": "v1",
		})
	}
}

// LoggerMiddleware logs one structured record per request. slog emits JSON or
// text depending on the handler installed by telemetry.SetupLogger.
func LoggerMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		level := slog.LevelInfo
		switch status := c.Writer.Status(); {
		case status >= 500:
			level = slog.LevelError
		case status >= 400:
			level = slog.LevelWarn
		}

		requestID, _ := c.Get(middleware.RequestIDKey)
		slog.LogAttrs(
			c.Request.Context(),
			level,
			"http request",
			slog.String("method", c.Request.Method),
			slog.String("path", path),
			slog.String("query", query),
			slog.Int("status", c.Writer.Status()),
			slog.Int("size", c.Writer.Size()),
			slog.Duration("latency", time.Since(start)),
			slog.String("ip", c.ClientIP()),
			slog.String("request_id", fmt.Sprintf("%v", requestID)),
			slog.String("user_agent", c.Request.UserAgent()),
		)
	}
}

// CORSMiddleware answers preflight requests and echoes allowed origins.
func CORSMiddleware(cfg *config.Config) gin.HandlerFunc {
	methods := strings.Join(cfg.Security.CORS.AllowedMethods, ", ")
	if methods == "" {
		methods = "GET, POST, PUT, DELETE, OPTIONS"
	}

	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		allowed := false
		for _, allowedOrigin := range cfg.Security.CORS.AllowedOrigins {
			if allowedOrigin == "*" || allowedOrigin == origin {
				allowed = true
				break
			}
		}

		if allowed {
			if origin == "" {
				c.Header("Access-Control-Allow-Origin", "*")
			} else {
				c.Header("Access-Control-Allow-Origin", origin)
				c.Header("Vary", "Origin")
			}
			c.Header("Access-Control-Allow-Credentials", "true")
			c.Header("Access-Control-Allow-Methods", methods)
			c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-Request-ID")
			c.Header("Access-Control-Max-Age", "3600")
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
