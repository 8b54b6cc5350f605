package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"github.com/relayforge-ai/relayforge-engine/pkg/audit"
	"github.com/relayforge-ai/relayforge-engine/pkg/auth"
	"github.com/relayforge-ai/relayforge-engine/pkg/broker"
	"github.com/relayforge-ai/relayforge-engine/pkg/catalog"
	"github.com/relayforge-ai/relayforge-engine/pkg/config"
	"github.com/relayforge-ai/relayforge-engine/pkg/credcache"
	"github.com/relayforge-ai/relayforge-engine/pkg/crypto"
	"github.com/relayforge-ai/relayforge-engine/pkg/database"
	"github.com/relayforge-ai/relayforge-engine/pkg/handlers"
	"github.com/relayforge-ai/relayforge-engine/pkg/logging"
	"github.com/relayforge-ai/relayforge-engine/pkg/middleware"
	"github.com/relayforge-ai/relayforge-engine/pkg/probe"
	"github.com/relayforge-ai/relayforge-engine/pkg/repositories"
	"github.com/relayforge-ai/relayforge-engine/pkg/security"
	"github.com/relayforge-ai/relayforge-engine/pkg/vault"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.Env)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Configuration loaded",
		zap.String("environment", cfg.Env),
		zap.String("version", cfg.Version),
		zap.Bool("auth_verification", cfg.Auth.EnableVerification),
		zap.String("database", cfg.Database.Host),
		zap.String("redis", cfg.Redis.Host))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Credential cipher. Local and test runs without a master key get an
	// ephemeral one; stored blobs then die with the process.
	var cipher *crypto.CredentialCipher
	if cfg.CredentialsMasterKey == "" {
		logger.Warn("CREDENTIALS_MASTER_KEY not set, using an ephemeral key; stored credentials will not survive a restart")
		cipher, err = crypto.NewEphemeralCredentialCipher()
	} else {
		cipher, err = crypto.NewCredentialCipher(cfg.CredentialsMasterKey)
	}
	if err != nil {
		logger.Fatal("Failed to initialize credential cipher", zap.Error(err))
	}

	// Migrations run over database/sql; the pgx pool serves the repositories.
	migrationDB, err := sql.Open("pgx", cfg.Database.ConnectionString())
	if err != nil {
		logger.Fatal("Failed to open migration connection", zap.Error(err))
	}
	if err := database.RunMigrations(migrationDB, cfg.Database.MigrationsPath, logger); err != nil {
		logger.Fatal("Failed to run migrations", zap.Error(err))
	}
	_ = migrationDB.Close()

	db, err := database.NewConnection(ctx, &database.Config{
		URL:            cfg.Database.ConnectionString(),
		MaxConnections: cfg.Database.MaxConnections,
	})
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	// Rate limit records go to Redis when configured, memory otherwise.
	var limits security.RateLimitStore
	redisClient, err := database.NewRedisClient(ctx, &cfg.Redis)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	if redisClient != nil {
		limits = security.NewRedisRateLimitStore(redisClient)
		defer func() { _ = redisClient.Close() }()
	} else {
		limits = security.NewMemoryRateLimitStore()
	}

	connectionRepo := repositories.NewConnectionRepository(db)
	linkRepo := repositories.NewAgentConnectionRepository(db)
	logRepo := repositories.NewConnectionLogRepository(db)
	securityRepo := repositories.NewSecurityRepository(db)

	recorder := audit.NewRecorder(logRepo, logger)
	monitor := security.NewMonitor(security.Thresholds{
		FailedTests:        cfg.Security.FailedTestThreshold,
		FailedTestWindow:   time.Hour,
		MassCreation:       cfg.Security.MassCreationThreshold,
		MassCreationWindow: time.Minute,
		CreationBlock:      cfg.Security.CreationBlock(),
		RevokedUsage:       cfg.Security.RevokedUsageThreshold,
	}, securityRepo, limits, security.NewLogNotifier(logger), logger)
	monitor.StartSweeper(ctx, 10*time.Minute)

	cache := credcache.New(cfg.Vault.CacheTTL())
	cache.StartSweeper(ctx, time.Minute, logger)

	prober := probe.NewRegistry(cfg.Vault.ProbeTimeout(), logger)

	vaultService := vault.NewConnectionService(
		catalog.New(), cipher, connectionRepo, linkRepo,
		prober, cache, monitor, recorder, logger)
	monitor.SetSuspender(vaultService)

	taskBroker := broker.New(vaultService, broker.DefaultIntegrations(), cfg.Vault.InvokeTimeout(), logger)

	// Retention sweep for audit rows.
	go func() {
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				cutoff := time.Now().AddDate(0, 0, -cfg.Vault.LogRetentionDays)
				if _, err := recorder.PruneOlderThan(ctx, cutoff); err != nil {
					logger.Warn("Audit retention sweep failed", zap.Error(err))
				}
			}
		}
	}()

	jwksClient, err := auth.NewJWKSClient(&auth.JWKSConfig{
		EnableVerification: cfg.Auth.EnableVerification,
		JWKSEndpoints:      cfg.Auth.JWKSEndpoints,
	})
	if err != nil {
		logger.Fatal("Failed to create JWKS client", zap.Error(err))
	}
	authMiddleware := auth.NewMiddleware(jwksClient, logger)

	mux := http.NewServeMux()
	handlers.NewHealthHandler(cfg, logger).RegisterRoutes(mux)
	handlers.NewCatalogHandler(catalog.New(), logger).RegisterRoutes(mux, authMiddleware.RequireAuth)
	handlers.NewConnectionHandler(vaultService, logRepo, logger).RegisterRoutes(mux, authMiddleware.RequireAuth)
	handlers.NewAgentHandler(vaultService, taskBroker, logger).RegisterRoutes(mux, authMiddleware.RequireAuth)
	handlers.NewAlertHandler(securityRepo, logger).RegisterRoutes(mux, authMiddleware.RequireAuth)

	server := &http.Server{
		Addr:              cfg.BindAddr + ":" + cfg.Port,
		Handler:           middleware.RequestLogger(logger)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Starting relayforge-engine",
			zap.String("addr", server.Addr),
			zap.String("version", cfg.Version))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Graceful shutdown failed", zap.Error(err))
	}
}
