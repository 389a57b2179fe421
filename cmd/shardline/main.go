package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rickgao/shardline/internal/api"
	"github.com/rickgao/shardline/internal/config"
	"github.com/rickgao/shardline/internal/connection"
	"github.com/rickgao/shardline/internal/database"
	"github.com/rickgao/shardline/internal/event"
	"github.com/rickgao/shardline/internal/metrics"
	"github.com/rickgao/shardline/internal/orchestrator"
	"github.com/rickgao/shardline/internal/poller"
	"github.com/rickgao/shardline/internal/report"
	"github.com/rickgao/shardline/internal/router"
	"github.com/rickgao/shardline/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/shardline.example.yaml", "path to config file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	// Load configuration
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		slog.Error("failed to load config", "config", *configPath, "error", err)
		os.Exit(1)
	}

	// Set up structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.Logging.SlogLevel(),
	})).With("instance", cfg.Instance.ID)
	slog.SetDefault(logger)

	logger.Info("starting shardline",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	if err := run(cfg, logger); err != nil {
		logger.Error("shardline exited with error", "error", err)
		os.Exit(1)
	}

	logger.Info("shardline stopped")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			logger.Info("received shutdown signal", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	reg := metrics.NewRegistry()
	m := metrics.New(reg)

	// Create API client
	apiClient := api.NewClient(
		cfg.API.RestURL,
		cfg.API.Token,
		api.WithLogger(logger),
		api.WithTimeout(cfg.API.Timeout),
		api.WithRetries(cfg.API.MaxRetries, time.Second),
		api.WithUserAgent(version.UserAgent()),
	)

	// Handlers and the failure journal outlive ctx until in-flight
	// dispatches are drained.
	dispatchCtx, dispatchCancel := context.WithCancel(context.Background())
	defer dispatchCancel()

	// Error reporting
	var reporter event.Reporter = report.NewLog(logger)
	var journal *report.Journal
	if cfg.Dispatch.Journal {
		logger.Info("connecting to database",
			"host", cfg.Database.Postgres.Host,
			"port", cfg.Database.Postgres.Port,
			"database", cfg.Database.Postgres.Name,
		)

		pool, err := database.Connect(ctx, cfg.Database.Postgres, cfg.Instance.ID)
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		defer pool.Close()

		journal = report.NewJournal(report.JournalConfig{
			BatchSize:     cfg.Dispatch.JournalBatchSize,
			FlushInterval: cfg.Dispatch.JournalFlushInterval,
		}, pool, logger)
		if err := journal.EnsureSchema(ctx); err != nil {
			return err
		}
		if err := journal.Start(dispatchCtx); err != nil {
			return fmt.Errorf("start journal: %w", err)
		}
		reporter = report.Multi(reporter, journal)
	}

	// Shards
	compression := connection.Compression{}
	if cfg.Gateway.Compress {
		compression = connection.ZlibStream
	}

	clientCfg := connection.ClientConfig{
		Token:            cfg.API.Token,
		Intents:          cfg.Gateway.Intents,
		LargeThreshold:   cfg.Gateway.LargeThreshold,
		Compression:      compression,
		HandshakeTimeout: cfg.Gateway.HandshakeTimeout,
		WriteTimeout:     cfg.Gateway.WriteTimeout,
		WriteRate:        cfg.Gateway.WriteRate,
		WriteBurst:       cfg.Gateway.WriteBurst,
	}

	orch := orchestrator.New(orchestrator.Config{
		Shards:             cfg.Shards.Options(),
		GatewayVersion:     cfg.Gateway.Version,
		Compression:        compression,
		ReconnectBaseDelay: cfg.Shards.ReconnectBaseDelay,
		ReconnectMaxDelay:  cfg.Shards.ReconnectMaxDelay,
		MessageBuffer:      cfg.Shards.MessageBuffer,
	}, apiClient, orchestrator.ClientFactory(clientCfg, logger), logger, m)

	// Handlers and dispatch
	guilds := newGuildTracker()
	b := event.NewBuilder()
	registerHandlers(b, guilds, logger)

	dispatcher := event.NewDispatcher(dispatchCtx, b.Build(), event.DispatcherConfig{
		Client:   orch,
		Reporter: reporter,
		Logger:   logger,
		Metrics:  m,
	})

	rt := router.NewRouter(router.RouterConfig{DropUnknown: cfg.Dispatch.DropUnknown}, orch.Messages(), dispatcher, logger)
	if err := rt.Start(ctx); err != nil {
		return fmt.Errorf("start router: %w", err)
	}

	quota := poller.New(poller.Config{
		Interval: cfg.API.QuotaPollInterval,
		Timeout:  cfg.API.Timeout,
		LowWater: cfg.API.QuotaLowWater,
	}, apiClient, m, logger)

	// Start health server early so we can monitor startup progress
	healthServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Metrics.Port),
		Handler:           createHealthHandler(orch, guilds, quota, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), cfg.Metrics.Path),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("starting health server", "port", cfg.Metrics.Port)
		if err := healthServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Error("health server error", "error", err)
		}
	}()

	presence := &connection.Presence{Status: cfg.Gateway.Presence.Status}
	if cfg.Gateway.Presence.Activity != "" {
		presence.Activities = []connection.Activity{{Name: cfg.Gateway.Presence.Activity}}
	}

	startErr := orch.Start(ctx, presence)
	if startErr != nil {
		logger.Error("failed to start shards", "error", startErr)
	} else {
		if err := quota.Start(ctx); err != nil {
			logger.Warn("failed to start quota poller", "error", err)
		}
		logger.Info("shardline running",
			"shards", orch.Stats().LocalShards,
			"health_url", fmt.Sprintf("http://localhost:%d/health", cfg.Metrics.Port),
		)

		// Wait for shutdown
		<-ctx.Done()
	}

	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Dispatch.ShutdownTimeout)
	defer shutdownCancel()

	svc := services{
		dispatcher:      dispatcher,
		router:          rt,
		releaseDispatch: dispatchCancel,
		shards:          orch,
		quota:           quota,
		health:          healthServer,
	}
	if journal != nil {
		svc.journal = journal
	}
	shutdown(shutdownCtx, logger, shutdownSteps(svc))

	return startErr
}
