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

	"github.com/skein-ai/skein-engine/pkg/config"
	"github.com/skein-ai/skein-engine/pkg/database"
	"github.com/skein-ai/skein-engine/pkg/handlers"
	"github.com/skein-ai/skein-engine/pkg/logging"
	"github.com/skein-ai/skein-engine/pkg/mcp"
	"github.com/skein-ai/skein-engine/pkg/mcp/tools"
	"github.com/skein-ai/skein-engine/pkg/repositories"
	"github.com/skein-ai/skein-engine/pkg/services"
	"github.com/skein-ai/skein-engine/pkg/services/workqueue"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := newLogger(cfg.Env)
	defer logger.Sync() //nolint:errcheck

	logger.Info("Configuration loaded",
		zap.String("environment", cfg.Env),
		zap.String("database", logging.SanitizeConnectionString(cfg.Database.ConnectionString())),
		zap.Int("sweep_interval_minutes", cfg.Maintenance.SweepIntervalMinutes))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Migrations run over database/sql; the pool below is pgx-native.
	migrationDB, err := sql.Open("pgx", cfg.Database.URL())
	if err != nil {
		logger.Fatal("Failed to open migration connection", zap.String("error", logging.SanitizeError(err)))
	}
	if err := database.RunMigrations(migrationDB, cfg.Database.MigrationsPath, logger); err != nil {
		logger.Fatal("Failed to run migrations", zap.String("error", logging.SanitizeError(err)))
	}
	_ = migrationDB.Close()

	db, err := database.NewConnection(ctx, &database.Config{
		URL:            cfg.Database.URL(),
		MaxConnections: cfg.Database.MaxConnections,
	})
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.String("error", logging.SanitizeError(err)))
	}
	defer db.Close()

	// Repositories.
	proposalRepo := repositories.NewMaintenanceProposalRepository()
	driftRepo := repositories.NewDriftReportRepository()
	actionRepo := repositories.NewActionRepository()
	compositeRepo := repositories.NewCompositeToolRepository()
	agenticRepo := repositories.NewAgenticToolRepository()
	configRepo := repositories.NewMaintenanceConfigRepository()
	targetRepo := repositories.NewMaintenanceTargetRepository(db)

	// Background work queue for re-scrape submissions.
	queue := workqueue.New(logger, workqueue.WithStrategy(workqueue.NewThrottledNetworkStrategy(4)))
	defer queue.Cancel()

	var submitter services.ScrapeSubmitter
	if cfg.Maintenance.ScraperURL != "" {
		submitter = services.NewHTTPScrapeSubmitter(cfg.Maintenance.ScraperURL)
	} else {
		submitter = services.NewLogScrapeSubmitter(logger)
	}
	rescrape := services.NewQueueRescrapeTrigger(queue, submitter, logger)

	// Services.
	scopes := database.NewTenantScopeProvider(db)
	generator := services.NewSchemaDescriptionGenerator(actionRepo)
	resolver := services.NewAffectedToolResolver(services.AffectedToolResolverDeps{
		CompositeTools: compositeRepo,
		AgenticTools:   agenticRepo,
		Logger:         logger,
	})
	cascade := services.NewDescriptionCascade(services.DescriptionCascadeDeps{
		Proposals:      proposalRepo,
		Actions:        actionRepo,
		CompositeTools: compositeRepo,
		AgenticTools:   agenticRepo,
		Generator:      generator,
		Logger:         logger,
	})
	lifecycle := services.NewProposalLifecycleManager(services.ProposalLifecycleDeps{
		Proposals:    proposalRepo,
		DriftReports: driftRepo,
		Actions:      actionRepo,
		Configs:      configRepo,
		Resolver:     resolver,
		Cascade:      cascade,
		Tx:           database.NewTxManager(),
		Scopes:       scopes,
		Rescrape:     rescrape,
		Logger:       logger,
		ListLimit:    cfg.Maintenance.ProposalListLimit,
	})

	// Periodic maintenance job.
	maintenanceJob := services.NewMaintenanceJob(services.MaintenanceJobDeps{
		Targets:   targetRepo,
		Scopes:    scopes,
		Lifecycle: lifecycle,
		Logger:    logger,
	})
	scheduler := services.NewScheduler(
		time.Duration(cfg.Maintenance.SweepIntervalMinutes)*time.Minute,
		map[services.JobKind]services.JobHandler{
			services.JobKindMaintenance: maintenanceJob.Run,
		},
		logger,
	)
	scheduler.Start()
	defer scheduler.Stop()

	// HTTP surface.
	mux := http.NewServeMux()

	healthHandler := handlers.NewHealthHandler(cfg, db, logger)
	healthHandler.RegisterRoutes(mux)

	tenantMiddleware := handlers.NewTenantMiddleware(db, logger)
	maintenanceHandler := handlers.NewMaintenanceHandler(lifecycle, cascade, logger)
	maintenanceHandler.RegisterRoutes(mux, tenantMiddleware)

	// MCP surface.
	mcpServer := mcp.NewServer(cfg.Version, logger)
	tools.RegisterHealthTool(mcpServer.MCP(), cfg.Version, db)
	tools.RegisterMaintenanceTools(mcpServer.MCP(), &tools.MaintenanceToolDeps{
		Scopes:    scopes,
		Proposals: lifecycle,
		Decisions: cascade,
		Logger:    logger,
	})
	mux.Handle("/mcp", mcpServer.NewStreamableHTTPServer())

	server := &http.Server{
		Addr:              cfg.BindAddr + ":" + cfg.Port,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Starting skein-engine",
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
		logger.Warn("Server shutdown failed", zap.Error(err))
	}
}

func newLogger(env string) *zap.Logger {
	var logger *zap.Logger
	var err error
	if env == "local" {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	return logger
}
