package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/yegors/co-utm/internal/api"
	"github.com/yegors/co-utm/internal/commands"
	"github.com/yegors/co-utm/internal/config"
	"github.com/yegors/co-utm/internal/conflict"
	"github.com/yegors/co-utm/internal/dashboard"
	"github.com/yegors/co-utm/internal/metrics"
	"github.com/yegors/co-utm/internal/redis"
	"github.com/yegors/co-utm/internal/registry"
	"github.com/yegors/co-utm/internal/simulation"
	"github.com/yegors/co-utm/internal/storage/sqlite"
	"github.com/yegors/co-utm/internal/subscriptions"
	"github.com/yegors/co-utm/internal/telemetry"
	"github.com/yegors/co-utm/internal/websocket"
	"github.com/yegors/co-utm/pkg/logger"
)

var (
	// Version is injected at build time
	Version = "dev"
)

func main() {
	// Parse command line flags
	configPath := pflag.StringP("config", "c", "", "Path to configuration file (optional - will search in configs/ and root directory)")
	simulate := pflag.Bool("simulate", false, "Enable the development drone simulator regardless of configuration")
	pflag.Parse()

	// Load configuration with fallback logic
	cfg, err := config.LoadWithFallback(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}
	if *simulate {
		cfg.Simulation.Enabled = true
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	// Create logger
	log, err := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting Co-UTM server",
		logger.String("version", Version),
		logger.String("config_path", *configPath),
	)

	if err := run(cfg, log); err != nil {
		log.Error("Server stopped with error", logger.Error(err))
		os.Exit(1)
	}
	log.Info("Server fully stopped")
}

func run(cfg *config.Config, log *logger.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.NewRegistry()

	// Real-time fan-out
	router := subscriptions.NewRouter(subscriptions.Config{
		QueueSize:  cfg.Subscriptions.QueueSize,
		DropPolicy: subscriptions.DropPolicy(cfg.Subscriptions.DropPolicy),
	}, m, log)
	defer router.Close()

	// Audit persistence
	db, err := sqlite.Open(cfg.Storage.SQLitePath, log)
	if err != nil {
		return fmt.Errorf("open sqlite storage: %w", err)
	}
	defer db.Close()
	log.Info("Using SQLite storage", logger.String("path", cfg.Storage.SQLitePath))

	audit := sqlite.NewAuditWriter(db, cfg.Storage.AuditQueueSize, m, log)
	audit.Start()
	defer audit.Stop()

	zones := conflict.NewZoneSet(db)
	stored, err := db.LoadZones(ctx)
	if err != nil {
		return fmt.Errorf("load airspace zones: %w", err)
	}
	zones.Load(stored)
	log.Info("Loaded airspace zones", logger.Int("count", len(stored)))

	// Core state
	store := registry.NewStore(log, registry.WithPublisher(router))

	tracker := commands.NewTracker(commands.Config{
		IssueRatePerSecond: cfg.Commands.IssueRatePerSecond,
		IssueBurst:         cfg.Commands.IssueBurst,
	}, store, log,
		commands.WithPublisher(router),
		commands.WithAudit(audit),
		commands.WithMetrics(m),
	)

	telemetryOpts := []telemetry.Option{
		telemetry.WithPublisher(router),
		telemetry.WithMetrics(m),
	}
	if cfg.Redis.Enabled {
		client, err := redis.NewClient(ctx, cfg.Redis)
		if err != nil {
			// Live location mirror is optional; keep serving without it
			log.Warn("Redis unavailable, drone location mirror disabled",
				logger.String("addr", cfg.Redis.Addr),
				logger.Error(err))
		} else {
			defer client.Close()
			telemetryOpts = append(telemetryOpts, telemetry.WithMirror(redis.NewDroneLocationCache(client, cfg.Redis.LocationTTLSeconds)))
			log.Info("Mirroring drone locations to Redis", logger.String("addr", cfg.Redis.Addr))
		}
	}
	ingest := telemetry.NewService(telemetry.Config{
		HistorySize:              cfg.Telemetry.HistorySize,
		SignalLostTimeout:        cfg.SignalLostTimeout(),
		MagneticHeading:          cfg.Telemetry.MagneticHeading,
		UnknownFlightLogInterval: time.Duration(cfg.Telemetry.UnknownFlightLogIntervalSecs) * time.Second,
	}, store, log, telemetryOpts...)

	detector := conflict.NewDetector(conflict.Config{
		Interval:              cfg.ConflictInterval(),
		HorizontalSeparationM: cfg.Conflicts.HorizontalSeparationM,
		VerticalSeparationM:   cfg.Conflicts.VerticalSeparationM,
		ZoneBufferM:           cfg.Conflicts.ZoneBufferM,
		ResolvedRetention:     cfg.Conflicts.ResolvedRetention,
	}, store, zones, log,
		conflict.WithPublisher(router),
		conflict.WithAudit(audit),
		conflict.WithMetrics(m),
	)

	agg := dashboard.NewAggregator(store, detector, tracker, router, log)
	wsServer := websocket.NewServer(router, websocket.DashboardFunc(func() any { return agg.Snapshot() }), log)

	var simulationService *simulation.Service
	if cfg.Simulation.Enabled {
		simulationService = simulation.NewService(simulation.Config{
			Tick:      cfg.SimulationTick(),
			MaxDrones: cfg.Simulation.MaxDrones,
		}, store, ingest, log)
	}

	// Background loops
	if err := ingest.Start(ctx); err != nil {
		return fmt.Errorf("start telemetry service: %w", err)
	}
	defer ingest.Stop()

	if err := detector.Start(ctx); err != nil {
		return fmt.Errorf("start conflict detector: %w", err)
	}
	defer detector.Stop()

	if simulationService != nil {
		if err := simulationService.Start(ctx); err != nil {
			return fmt.Errorf("start simulation: %w", err)
		}
		defer simulationService.Stop()
	}

	// Create API router
	apiRouter := api.NewRouter(api.Services{
		Registry:   store,
		Commands:   tracker,
		Telemetry:  ingest,
		Conflicts:  detector,
		Zones:      zones,
		Dashboard:  agg,
		WebSocket:  wsServer,
		Simulation: simulationService,
		Metrics:    m,
	}, cfg, log)

	readTimeout, writeTimeout, idleTimeout := apiRouter.ServerTimeouts()
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      apiRouter.Routes(),
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("Starting HTTP server", logger.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down server...")

		wsServer.Shutdown()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error("HTTP server shutdown error", logger.String("addr", server.Addr), logger.Error(err))
			return err
		}
		log.Info("HTTP server shutdown complete", logger.String("addr", server.Addr))
		return nil
	})

	return g.Wait()
}
