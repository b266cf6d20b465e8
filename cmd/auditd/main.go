package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/jmerrifield20/auditnotary/internal/anchor"
	"github.com/jmerrifield20/auditnotary/internal/archive"
	"github.com/jmerrifield20/auditnotary/internal/audit/handler"
	"github.com/jmerrifield20/auditnotary/internal/audit/repository"
	"github.com/jmerrifield20/auditnotary/internal/audit/service"
	"github.com/jmerrifield20/auditnotary/internal/config"
	"github.com/jmerrifield20/auditnotary/internal/health"
	"github.com/jmerrifield20/auditnotary/internal/journal"
	"github.com/jmerrifield20/auditnotary/internal/notary"
	"github.com/jmerrifield20/auditnotary/internal/tracing"
	"github.com/jmerrifield20/auditnotary/internal/webhooks"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync() //nolint:errcheck

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	if err := run(logger, quit); err != nil {
		logger.Fatal("auditd exited with error", zap.Error(err))
	}
}

// run wires and serves auditd until a signal arrives on quit.
func run(logger *zap.Logger, quit <-chan os.Signal) error {
	// ── Configuration ────────────────────────────────────────────────────────
	cfg, err := config.Load(logger)
	if err != nil {
		return err
	}
	ctx := context.Background()

	// ── Tracing ──────────────────────────────────────────────────────────────
	shutdownTracing, err := tracing.Setup(ctx, "auditnotary", cfg.TracingEndpoint)
	if err != nil {
		return fmt.Errorf("tracing setup: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			logger.Warn("tracing shutdown", zap.Error(err))
		}
	}()

	// ── Storage ──────────────────────────────────────────────────────────────
	var (
		repo   repository.Repository
		jrnl   journal.Journal
		probes []health.Probe
		db     *pgxpool.Pool
	)
	switch cfg.DatabaseDriver {
	case "memory":
		logger.Warn("using in-memory storage; audits are lost on restart")
		repo = repository.NewMemoryRepository()
		jrnl = journal.NewMemory()
	default:
		db, err = pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("connect to postgres: %w", err)
		}
		defer db.Close()

		if err := db.Ping(ctx); err != nil {
			return fmt.Errorf("ping postgres: %w", err)
		}
		logger.Info("connected to postgres")
		repo = repository.NewAuditRepository(db)
		jrnl = journal.NewPostgres(db, logger)
		probes = append(probes, health.PingProbe("database", db))
	}

	// ── Notarization journal ─────────────────────────────────────────────────
	if err := jrnl.Verify(ctx); err != nil {
		logger.Warn("notary journal integrity check FAILED", zap.Error(err))
	} else {
		n, _ := jrnl.Len(ctx)
		root, _ := jrnl.Root(ctx)
		logger.Info("notary journal verified",
			zap.Int("entries", n),
			zap.String("root", root),
		)
	}

	// ── Ledger anchoring ─────────────────────────────────────────────────────
	anchorClient := anchor.NewClient(cfg.LedgerRPCURL, loadSigner(cfg.LedgerSecretKey, logger), cfg.Ledger, logger)
	probes = append(probes, health.PingProbe("ledger_rpc", anchorClient))
	if anchorClient.Available() {
		logger.Info("ledger anchoring enabled",
			zap.String("rpc_url", cfg.LedgerRPCURL),
			zap.String("signer", anchorClient.Identity()),
		)
	}

	// ── Content archive ──────────────────────────────────────────────────────
	uploader, closeUploader, err := newUploader(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeUploader()
	if b, ok := uploader.(*archive.BundlerUploader); ok {
		probes = append(probes,
			health.PingProbe("archive", b),
			health.HTTPProbe("archive_gateway", cfg.Bundler.GatewayURL, &http.Client{Timeout: 10 * time.Second}),
		)
	}
	logger.Info("content archive ready", zap.String("backend", uploader.Backend()))

	// ── Services ─────────────────────────────────────────────────────────────
	orch := notary.NewOrchestrator(repo, uploader, anchorClient, cfg.AppID, logger)
	orch.SetJournal(jrnl)
	orch.SetMetricsRecorder(handler.RecordCompletion)

	notifier := webhooks.NewNotifier(cfg.WebhookURLs, cfg.WebhookSecret, logger)
	notifier.SetMetricsRecorder(handler.RecordWebhookDelivery)
	if len(cfg.WebhookURLs) > 0 {
		orch.SetNotifier(notifier)
		logger.Info("completion webhooks enabled", zap.Int("subscribers", len(cfg.WebhookURLs)))
	}
	svc := service.NewAuditService(repo, orch, logger)

	checker := health.New(probes, health.Config{CheckInterval: cfg.HealthInterval}, logger)
	checker.SetMetricsRecord(handler.RecordHealthCheck)

	auditHandler := handler.NewAuditHandler(svc, logger)
	journalHandler := handler.NewJournalHandler(jrnl, logger)
	statusHandler := handler.NewStatusHandler(anchorClient, uploader, cfg.AppID)
	statusHandler.SetHealthChecker(checker)

	// ── HTTP Router ───────────────────────────────────────────────────────────
	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())

	// CORS
	corsOrigins := cfg.CORSOrigins
	router.Use(cors.New(cors.Config{
		AllowOrigins:     corsOrigins,
		AllowMethods:     []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "Accept"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: !containsWildcard(corsOrigins),
		MaxAge:           12 * time.Hour,
	}))

	// Security headers
	router.Use(func(c *gin.Context) {
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Next()
	})

	// Request body size limit (4 MB; checklists carry observations)
	router.Use(func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, 4<<20)
		c.Next()
	})

	if cfg.RateLimitRPS > 0 {
		burst := int(cfg.RateLimitRPS * 2)
		if burst < 1 {
			burst = 1
		}
		router.Use(handler.RateLimiter(cfg.RateLimitRPS, burst))
	}

	router.Use(handler.PrometheusMiddleware())
	router.Use(requestLogger(logger))

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", handler.MetricsHandler())

	v1 := router.Group("/api/v1")
	auditHandler.Register(v1)
	journalHandler.Register(v1)
	statusHandler.Register(v1)

	// ── Background: dependency probes ─────────────────────────────────────────
	healthQuit := make(chan os.Signal, 1)
	go checker.Start(healthQuit)

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("auditd HTTP listening", zap.Int("port", cfg.Port))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP listen error", zap.Error(err))
		}
	}()

	// ── Graceful shutdown ──────────────────────────────────────────────────────
	sig := <-quit
	healthQuit <- sig
	logger.Info("shutting down auditd...")

	// In-flight completions may be waiting on ledger confirmation.
	sctx, cancel := context.WithTimeout(context.Background(), cfg.Ledger.ConfirmTimeout+15*time.Second)
	defer cancel()

	if err := httpSrv.Shutdown(sctx); err != nil {
		logger.Error("HTTP shutdown error", zap.Error(err))
	}
	notifier.Wait()

	logger.Info("auditd stopped")
	return nil
}

// loadSigner returns nil when the secret is missing or malformed. A nil
// signer leaves anchoring disabled instead of failing startup.
func loadSigner(secret string, logger *zap.Logger) *anchor.Signer {
	if strings.TrimSpace(secret) == "" {
		logger.Warn("ledger.secret_key not set; completed audits will be hash-only")
		return nil
	}
	signer, err := anchor.LoadSigner(secret)
	if err != nil {
		logger.Warn("ledger.secret_key invalid; completed audits will be hash-only", zap.Error(err))
		return nil
	}
	return signer
}

// newUploader builds the configured archive backend. The returned close
// function is never nil.
func newUploader(ctx context.Context, cfg *config.Config, logger *zap.Logger) (archive.Uploader, func(), error) {
	noop := func() {}
	switch cfg.ArchiveBackend {
	case config.BackendS3:
		u, err := archive.NewS3Uploader(cfg.S3, logger)
		if err != nil {
			return nil, noop, fmt.Errorf("s3 archive: %w", err)
		}
		return u, noop, nil
	case config.BackendGCS:
		u, err := archive.NewGCSUploader(ctx, cfg.GCS, logger)
		if err != nil {
			return nil, noop, fmt.Errorf("gcs archive: %w", err)
		}
		return u, func() {
			if err := u.Close(); err != nil {
				logger.Warn("gcs client close", zap.Error(err))
			}
		}, nil
	case config.BackendNone:
		logger.Warn("archive.backend is none; completed audits will not be published")
		return archive.NewDisabled(logger), noop, nil
	default:
		return archive.NewBundlerUploader(cfg.Bundler, logger), noop, nil
	}
}

// containsWildcard returns true if origins includes "*".
func containsWildcard(origins []string) bool {
	for _, o := range origins {
		if strings.TrimSpace(o) == "*" {
			return true
		}
	}
	return false
}

// requestLogger returns a Gin middleware that logs each request with zap.
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}
