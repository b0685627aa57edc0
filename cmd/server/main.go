package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/repohawk/scanner/internal/app"
	"github.com/repohawk/scanner/internal/app/scanpipeline"
	"github.com/repohawk/scanner/internal/app/triage"
	"github.com/repohawk/scanner/internal/config"
	"github.com/repohawk/scanner/internal/infra/analyzers"
	"github.com/repohawk/scanner/internal/infra/depscan"
	"github.com/repohawk/scanner/internal/infra/gitrepo"
	"github.com/repohawk/scanner/internal/infra/http"
	"github.com/repohawk/scanner/internal/infra/jobs"
	"github.com/repohawk/scanner/internal/infra/llm"
	"github.com/repohawk/scanner/internal/infra/postgres"
	"github.com/repohawk/scanner/internal/infra/redis"
	"github.com/repohawk/scanner/pkg/crypto"
	"github.com/repohawk/scanner/pkg/domain/suppression"
	"github.com/repohawk/scanner/pkg/logger"
)

var migrate = flag.Bool("migrate", false, "Apply pending database migrations before serving")

func main() {
	flag.Parse()
	os.Exit(run())
}

func run() int {
	ctx := context.Background()

	// ==========================================================================
	// Configuration & Logger
	// ==========================================================================
	cfg, err := config.Load()
	if err != nil {
		log := logger.NewDefault()
		log.Error("failed to load configuration", "error", err)
		return 1
	}

	log := initLogger(cfg)
	log.Info("starting application", "app", cfg.App.Name, "env", cfg.App.Env)

	// ==========================================================================
	// Infrastructure
	// ==========================================================================
	db, err := postgres.New(&cfg.Database)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		return 1
	}
	defer closeWithLog(db, "database", log)
	log.Info("database connected")

	if *migrate {
		if err := db.Migrate(ctx); err != nil {
			log.Error("failed to apply migrations", "error", err)
			return 1
		}
		log.Info("migrations applied")
	}

	redisClient, err := redis.New(&cfg.Redis, log)
	if err != nil {
		log.Error("failed to connect to redis", "error", err)
		return 1
	}
	defer closeWithLog(redisClient, "redis", log)
	log.Info("redis connected")

	enc, err := initEncryptor(cfg, log)
	if err != nil {
		log.Error("failed to initialize credential encryption", "error", err)
		return 1
	}

	// ==========================================================================
	// Repositories
	// ==========================================================================
	scanRepo := postgres.NewScanRepository(db)
	findingRepo := postgres.NewFindingRepository(db)
	ruleRepo := postgres.NewIgnoredRuleRepository(db)
	credRepo := postgres.NewCredentialRepository(db)
	log.Info("repositories initialized")

	// ==========================================================================
	// Scan Pipeline
	// ==========================================================================
	tokens, err := gitrepo.NewTokenSource(&cfg.GitHub, credRepo, enc, log)
	if err != nil {
		log.Error("failed to initialize github token source", "error", err)
		return 1
	}
	acquirer := gitrepo.NewAcquirer(tokens, cfg.GitHub.APIBaseURL, cfg.Scanner.WorkDir, log)

	runners := []analyzers.Runner{
		analyzers.NewSemgrepRunner(&cfg.Scanner, log),
		analyzers.NewAstGrepRunner(&cfg.Scanner, log),
	}

	osvClient := depscan.NewOSVClient(&cfg.OSV, log)
	depScanner := depscan.NewService(osvClient, log)

	providers := llm.NewFactory(&cfg.Triage, credRepo, enc, log)
	engine := triage.NewEngine(&cfg.Triage, log)

	suppressionSvc := suppression.NewService(ruleRepo)

	pipeline := scanpipeline.NewService(
		scanRepo,
		findingRepo,
		suppressionSvc,
		acquirer,
		runners,
		depScanner,
		providers,
		engine,
		log,
	)
	log.Info("scan pipeline initialized")

	// ==========================================================================
	// Job Queue
	// ==========================================================================
	jobClient := jobs.NewClient(&cfg.Redis, &cfg.Worker, log)
	defer closeWithLog(jobClient, "job client", log)

	worker := jobs.NewWorker(&cfg.Redis, &cfg.Worker, pipeline, log)
	if err := worker.Start(); err != nil {
		log.Error("failed to start scan worker", "error", err)
		return 1
	}
	log.Info("scan worker started", "concurrency", cfg.Worker.Concurrency)

	// ==========================================================================
	// Services & Recovery
	// ==========================================================================
	scanService := app.NewScanService(scanRepo, jobClient, log)

	sweeper := app.NewRecoverySweeper(scanRepo, cfg.Worker.StuckScanCutoff, 5*time.Minute, log)
	if err := sweeper.Start(ctx); err != nil {
		log.Error("failed to start recovery sweeper", "error", err)
		return 1
	}
	log.Info("recovery sweeper started", "cutoff", cfg.Worker.StuckScanCutoff)

	// ==========================================================================
	// HTTP Server
	// ==========================================================================
	server := http.NewServer(&cfg.Server, http.Handlers{
		Scans:        http.NewScanHandler(scanService, findingRepo, log),
		IgnoredRules: http.NewIgnoredRuleHandler(suppressionSvc, log),
		Webhooks:     http.NewWebhookHandler(scanService, cfg.GitHub.WebhookSecret, log),
		Health: http.NewHealthHandler(map[string]http.HealthChecker{
			"postgres": db,
			"redis":    redisClient,
		}),
	}, log)

	go func() {
		if err := server.Start(); err != nil {
			log.Error("server error", "error", err)
		}
	}()
	log.Info("application started", "http_addr", cfg.Server.Addr())

	// ==========================================================================
	// Graceful Shutdown
	// ==========================================================================
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	// Stop accepting jobs first so in-flight scans finish or requeue.
	worker.Stop()
	log.Info("scan worker stopped")

	sweeper.Stop()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", "error", err)
		return 1
	}

	log.Info("application stopped")
	return 0
}

// =============================================================================
// Helper Functions
// =============================================================================

func initLogger(cfg *config.Config) *logger.Logger {
	if cfg.App.Debug {
		return logger.NewDevelopment()
	}
	// SamplingThreshold is validated to be non-negative in config validation
	//nolint:gosec // G115: safe conversion, value validated non-negative in config.Validate()
	threshold := uint64(cfg.Log.SamplingThreshold)
	return logger.New(logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Sampling: logger.SamplingConfig{
			Enabled:   cfg.Log.SamplingEnabled,
			Tick:      time.Second,
			Threshold: threshold,
			Rate:      cfg.Log.SamplingRate,
			ErrorRate: cfg.Log.ErrorSamplingRate,
		},
	})
}

func initEncryptor(cfg *config.Config, log *logger.Logger) (crypto.Encryptor, error) {
	switch {
	case cfg.Encryption.KeyHex != "":
		cipher, err := crypto.NewCipherFromHex(cfg.Encryption.KeyHex)
		if err != nil {
			return nil, err
		}
		return cipher, nil
	case cfg.Encryption.Passphrase != "":
		cipher, err := crypto.NewCipherFromPassphrase(cfg.Encryption.Passphrase, cfg.Encryption.Salt)
		if err != nil {
			return nil, err
		}
		return cipher, nil
	default:
		// Config validation rejects this in production.
		log.Warn("no encryption key configured, stored credentials will not be encrypted")
		return crypto.NewNoOpEncryptor(), nil
	}
}

type closer interface {
	Close() error
}

func closeWithLog(c closer, name string, log *logger.Logger) {
	if err := c.Close(); err != nil {
		log.Error("failed to close "+name, "error", err)
	}
}
