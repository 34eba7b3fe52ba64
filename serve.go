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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"llm_fanout/backend"
	"llm_fanout/cache"
	"llm_fanout/database"
	"llm_fanout/generation"
	"llm_fanout/handlers"
	"llm_fanout/metrics"
	"llm_fanout/orchestrator"
	"llm_fanout/registry"
)

const shutdownTimeout = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the fan-out server",
	Long:  `Discovers the Ollama models, then serves the /ws session endpoint and the HTTP API.`,
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().IntP("port", "p", 0, "Port to listen on (overrides the configuration)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if port, _ := cmd.Flags().GetInt("port"); port > 0 {
		cfg.Server.Port = port
	}
	logger := newLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Run log
	logger.Info("initializing database", "path", cfg.Database.Path)
	db, err := database.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.Close()
	go db.RunCleanup(ctx, time.Duration(cfg.Database.CleanupInterval)*time.Minute, cfg.Database.MaxRuns, logger)

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(promRegistry)

	// Model registry
	ollama := backend.NewOllamaBackend(cfg.Backend.Endpoint, logger)
	regOpts := []registry.Option{
		registry.WithLogger(logger),
		registry.WithDiscoveryTimeout(cfg.DiscoveryTimeout()),
		registry.WithObserver(m),
	}
	if cfg.Cache.RedisAddr != "" {
		rc := cache.New(cfg.Cache.RedisAddr, cfg.Cache.RedisPassword, cfg.Cache.RedisDB,
			cache.WithTTL(time.Duration(cfg.Cache.TTL)*time.Second),
			cache.WithPrefix(cfg.Cache.Prefix),
		)
		defer rc.Close()
		if err := rc.Ping(ctx); err != nil {
			logger.Warn("redis model cache unreachable", "addr", cfg.Cache.RedisAddr, "error", err)
		}
		regOpts = append(regOpts, registry.WithCache(rc))
	}
	reg := registry.New(ollama, regOpts...)
	snapshot := reg.Init(ctx)
	logger.Info("models loaded", "endpoint", ollama.Endpoint(), "count", len(snapshot))

	// Fan-out
	client := generation.NewClient(ollama,
		generation.WithChunkEvery(cfg.Orchestrator.ChunkEvery),
		generation.WithMaxChars(cfg.Orchestrator.MaxResponseChars),
		generation.WithLogger(logger),
	)
	orch := orchestrator.New(reg, client,
		orchestrator.WithBatchSize(cfg.Orchestrator.BatchSize),
		orchestrator.WithCallTimeout(cfg.CallTimeout()),
		orchestrator.WithObserver(m),
		orchestrator.WithLogger(logger),
	)

	settings := handlers.DefaultSummarySettings()
	settings.Timeout = cfg.SummaryTimeout()
	settings.NumPredict = cfg.Summary.NumPredict
	settings.Temperature = cfg.Summary.Temperature

	router := handlers.NewRouter(handlers.Routes{
		Session: handlers.NewSessionHandler(orch,
			handlers.WithRecorder(db),
			handlers.WithSessionObserver(m),
			handlers.WithAllowedOrigins(cfg.Server.AllowedOrigins),
			handlers.WithMessageLogging(cfg.Server.LogMessages),
			handlers.WithSessionLogger(logger),
		),
		Models:    handlers.NewModelsHandler(reg, logger),
		Summary:   handlers.NewSummaryHandler(ollama, reg, settings, cfg.Server.LogMessages, logger),
		Runs:      handlers.NewRunsHandler(db, logger),
		Metrics:   m.Handler(),
		StaticDir: cfg.Server.StaticDir,
	}, handlers.RouterConfig{
		Logger:         logger,
		Verbose:        cfg.Server.Verbose,
		EnableCORS:     cfg.Server.EnableCORS,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Observer:       m,
	})

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("starting server", "addr", srv.Addr, "backend", ollama.Endpoint(), "database", cfg.Database.Path)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error: %w", err)

	case <-ctx.Done():
		logger.Info("shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("graceful shutdown did not complete", "timeout", shutdownTimeout, "error", err)
			if err := srv.Close(); err != nil {
				logger.Error("error closing server", "error", err)
			}
		}
		logger.Info("server stopped")
		return nil
	}
}
