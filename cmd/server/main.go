package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/DukeRupert/lectgen/internal"
	"github.com/DukeRupert/lectgen/internal/accountstore"
	"github.com/DukeRupert/lectgen/internal/audit"
	"github.com/DukeRupert/lectgen/internal/domain"
	"github.com/DukeRupert/lectgen/internal/export"
	"github.com/DukeRupert/lectgen/internal/handler"
	"github.com/DukeRupert/lectgen/internal/metrics"
	"github.com/DukeRupert/lectgen/internal/middleware"
	"github.com/DukeRupert/lectgen/internal/scheduler"
	"github.com/DukeRupert/lectgen/internal/service"
	"github.com/DukeRupert/lectgen/internal/storage"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/cors"
)

// backend bundles the persistence chosen by STORE_BACKEND.
type backend struct {
	accounts accountstore.Store
	actions  accountstore.ActionLog
	checks   map[string]handler.HealthCheck
	close    func() error
}

func openBackend(ctx context.Context, cfg *internal.Config, logger *slog.Logger) (*backend, error) {
	switch cfg.StoreBackend {
	case "postgres":
		db, err := sql.Open("pgx", cfg.DatabaseUrl)
		if err != nil {
			return nil, fmt.Errorf("database connection failed: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("database ping failed: %w", err)
		}
		if err := internal.RunMigrations(ctx, db, logger); err != nil {
			db.Close()
			return nil, fmt.Errorf("migration failed: %w", err)
		}
		logger.Info("Database ready")
		return &backend{
			accounts: accountstore.NewPostgresStore(db),
			actions:  accountstore.NewPostgresActionLog(db),
			checks:   map[string]handler.HealthCheck{"postgres": db.PingContext},
			close:    db.Close,
		}, nil

	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			rdb.Close()
			return nil, fmt.Errorf("redis ping failed: %w", err)
		}
		logger.Info("Redis ready", "addr", cfg.RedisAddr)
		return &backend{
			accounts: accountstore.NewRedisStore(rdb, ""),
			actions:  accountstore.NewRedisActionLog(rdb, ""),
			checks: map[string]handler.HealthCheck{
				"redis": func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
			},
			close: rdb.Close,
		}, nil

	default:
		logger.Warn("Using in-memory account store; state is lost on restart")
		return &backend{
			accounts: accountstore.NewMemoryStore(),
			actions:  accountstore.NewMemoryActionLog(),
			close:    func() error { return nil },
		}, nil
	}
}

func run() error {
	ctx := context.Background()

	// Load configuration
	cfg, err := internal.NewConfig()
	if err != nil {
		return fmt.Errorf("config initialization failed: %w", err)
	}

	logger := internal.NewLogger(os.Stdout, cfg.Env, cfg.LogLevel)

	be, err := openBackend(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer be.close()

	auditOut, closeAudit, err := internal.OpenAuditLog(cfg.AuditLogPath)
	if err != nil {
		return fmt.Errorf("audit log: %w", err)
	}
	defer closeAudit()

	// ==========================================================================
	// Services
	// ==========================================================================

	policies, err := domain.NewPolicyTable(cfg.FreeMonthlyQuota)
	if err != nil {
		return fmt.Errorf("policy table: %w", err)
	}

	quotaService, err := service.NewQuotaService(be.accounts, audit.NewZerologSink(auditOut), service.QuotaConfig{
		Policies:        policies,
		ConflictRetries: cfg.QuotaConflictRetries,
		OpTimeout:       cfg.QuotaOpTimeout,
	}, logger)
	if err != nil {
		return fmt.Errorf("quota service: %w", err)
	}
	actionService := service.NewActionService(be.actions, be.accounts, logger)

	exportStore, err := storage.New(storage.Config{
		Provider: cfg.ExportProvider,
		Local: storage.LocalConfig{
			BasePath: cfg.LocalStoragePath,
			BaseURL:  cfg.LocalStorageURL,
		},
		R2: storage.R2Config{
			AccountID:       cfg.R2AccountID,
			AccessKeyID:     cfg.R2AccessKeyID,
			SecretAccessKey: cfg.R2SecretAccessKey,
			BucketName:      cfg.R2BucketName,
			PublicURL:       cfg.R2PublicURL,
		},
	}, logger)
	if err != nil {
		return fmt.Errorf("export storage: %w", err)
	}
	exporter := export.NewExporter(actionService, exportStore, logger)

	// ==========================================================================
	// Scheduled jobs
	// ==========================================================================

	var sched *scheduler.Scheduler
	if cfg.SchedulerEnabled {
		sched, err = scheduler.New(scheduler.DefaultConfig(), logger)
		if err != nil {
			return fmt.Errorf("scheduler: %w", err)
		}
		if err := sched.Register(cfg.CycleSweepSchedule, scheduler.NewCycleSweepJob(quotaService, scheduler.DefaultSweepBatch)); err != nil {
			return fmt.Errorf("schedule cycle sweep: %w", err)
		}
		if err := sched.Register(cfg.ExportSchedule, scheduler.NewUsageExportJob(exporter)); err != nil {
			return fmt.Errorf("schedule usage export: %w", err)
		}
		sched.Start()
	}

	// ==========================================================================
	// Middleware
	// ==========================================================================

	isSecure := !cfg.IsDevelopment()
	identity := middleware.NewIdentityMiddleware(logger)
	requireAccount := identity.RequireAccount
	requireAdmin := identity.RequireAdmin

	limiterCtx, stopLimiter := context.WithCancel(ctx)
	defer stopLimiter()
	requireConsume := requireAccount
	if cfg.ConsumeRateLimit > 0 {
		limiter := middleware.NewRateLimiter(cfg.ConsumeRateLimit, cfg.ConsumeRateWindow)
		go limiter.Run(limiterCtx)
		requireConsume = middleware.Stack(requireAccount, middleware.NewRateLimitMiddleware(limiter, logger).Limit)
	}

	// ==========================================================================
	// Router
	// ==========================================================================

	mux := http.NewServeMux()
	validate := handler.NewValidator()

	handler.NewHealthHandler(be.checks, logger).RegisterRoutes(mux)

	handler.NewQuotaHandler(quotaService, logger).RegisterRoutes(mux, requireAccount, requireConsume)

	handler.NewActionHandler(actionService, validate, logger).RegisterRoutes(mux, requireAccount)
	handler.NewAdminHandler(quotaService, exporter, validate, logger).RegisterRoutes(mux, requireAdmin)

	if cfg.ExportProvider == storage.ProviderLocal {
		files := http.StripPrefix("/files/", http.FileServer(http.Dir(cfg.LocalStoragePath)))
		mux.Handle("GET /files/", requireAdmin(files))
	}

	metricsAuth := middleware.NewBasicAuth("metrics", cfg.MetricsUsername, cfg.MetricsPassword)
	if !metricsAuth.Enabled() {
		logger.Warn("Metrics endpoint is unprotected; set METRICS_USERNAME and METRICS_PASSWORD")
	}
	mux.Handle("GET /metrics", metricsAuth.Handler(promhttp.Handler()))

	corsHandler := cors.New(cors.Options{
		AllowedOrigins: cfg.CORSAllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut},
		AllowedHeaders: []string{
			"Content-Type",
			middleware.HeaderAccountID,
			middleware.HeaderAccountRole,
			middleware.HeaderAccountTier,
		},
		ExposedHeaders: []string{"Retry-After"},
		MaxAge:         300,
	})

	app := middleware.Stack(
		corsHandler.Handler,
		middleware.NewSecurityHeadersMiddleware(isSecure).Handler,
		metrics.Middleware,
		middleware.NewRequestLoggingMiddleware(logger).Handler,
		identity.WithIdentity,
		middleware.RecordAccount,
	)(mux)

	// ==========================================================================
	// Start server
	// ==========================================================================

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           app,
		ReadHeaderTimeout: 10 * time.Second,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("Server started",
			"address", server.Addr,
			"env", cfg.Env,
			"store", cfg.StoreBackend,
			"free_monthly_quota", cfg.FreeMonthlyQuota,
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-sigChan:
		logger.Info("Shutdown signal received, initiating graceful shutdown...")
	case err := <-serverErr:
		logger.Error("Server failed", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", "error", err)
	}
	if sched != nil {
		sched.Stop()
	}

	logger.Info("Graceful shutdown complete")
	return nil
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}
