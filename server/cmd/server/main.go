// Package main implements storm-server, the coordinator process: target
// distribution, agent registry, result aggregation, alerting, and the
// HTTP API that agents and the read-only dashboard consume.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/stormmon/storm/server/internal/agentregistry"
	"github.com/stormmon/storm/server/internal/aggregator"
	"github.com/stormmon/storm/server/internal/alert"
	"github.com/stormmon/storm/server/internal/api"
	"github.com/stormmon/storm/server/internal/cache"
	"github.com/stormmon/storm/server/internal/housekeeping"
	"github.com/stormmon/storm/server/internal/targetstore"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

type config struct {
	httpAddr      string
	apiKey        string
	dataDir       string
	logLevel      string
	webhookURL    string
	webhookSecret string
	livenessSweep time.Duration
	cacheSweep    time.Duration
	cacheTTL      time.Duration
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := &config{}

	root := &cobra.Command{
		Use:   "storm-server",
		Short: "Storm coordinator — distributed uptime and latency monitoring",
		Long: `Storm server is the central coordinator of the Storm monitoring system.
It distributes monitoring targets to probing agents, collects their check
results, fuses multi-agent consensus, and exposes an HTTP API for the
dashboard and operator tooling.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cfg)
		},
	}

	root.AddCommand(newVersionCmd())

	root.PersistentFlags().StringVar(&cfg.httpAddr, "http-addr", listenAddrFromEnv("SERVER_PORT", ":3000"), "HTTP API listen address")
	root.PersistentFlags().StringVar(&cfg.apiKey, "api-key", envOrDefault("API_KEY", ""), "Shared-secret API key required on protected endpoints (required)")
	root.PersistentFlags().StringVar(&cfg.dataDir, "data-dir", envOrDefault("STORM_DATA_DIR", "./data"), "Directory for targets.json/agents.json/results.json")
	root.PersistentFlags().StringVar(&cfg.logLevel, "log-level", envOrDefault("STORM_LOG_LEVEL", "info"), "Log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&cfg.webhookURL, "webhook-url", envOrDefault("DISCORD_WEBHOOK", ""), "Outbound webhook URL for alerts (optional)")
	root.PersistentFlags().StringVar(&cfg.webhookSecret, "webhook-secret", envOrDefault("STORM_WEBHOOK_SECRET", ""), "HMAC signing secret for alert webhook deliveries (optional)")
	root.PersistentFlags().DurationVar(&cfg.livenessSweep, "liveness-sweep-interval", 30*time.Second, "Agent liveness sweep interval")
	root.PersistentFlags().DurationVar(&cfg.cacheSweep, "cache-sweep-interval", 30*time.Second, "Read-cache expired-entry sweep interval")
	root.PersistentFlags().DurationVar(&cfg.cacheTTL, "cache-ttl", 10*time.Second, "Read-cache entry TTL for latency/uptime/target-status queries")

	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("storm-server %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

func run(ctx context.Context, cfg *config) error {
	logger, err := buildLogger(cfg.logLevel)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	if cfg.apiKey == "" {
		return fmt.Errorf("api key is required — set --api-key or API_KEY")
	}

	logger.Info("starting storm coordinator",
		zap.String("version", version),
		zap.String("http_addr", cfg.httpAddr),
		zap.String("data_dir", cfg.dataDir),
		zap.String("log_level", cfg.logLevel),
	)

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := os.MkdirAll(filepath.Join(cfg.dataDir, "config"), 0o755); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(cfg.dataDir, "db"), 0o755); err != nil {
		return fmt.Errorf("failed to create db dir: %w", err)
	}

	// --- Targets ---
	targets, err := targetstore.New(filepath.Join(cfg.dataDir, "config", "targets.json"), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize target store: %w", err)
	}
	defer targets.Close() //nolint:errcheck

	// --- Agents ---
	agents, err := agentregistry.New(filepath.Join(cfg.dataDir, "db", "agents.json"), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize agent registry: %w", err)
	}

	// --- Read cache ---
	readCache := cache.New(cfg.cacheTTL)

	// --- Alert sink ---
	alertSink := alert.New(cfg.webhookURL, cfg.webhookSecret, logger)

	// --- Aggregator ---
	agg, err := aggregator.New(filepath.Join(cfg.dataDir, "db", "results.json"), alertSink, readCache, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize aggregator: %w", err)
	}

	// --- Housekeeping (liveness sweep + cache sweep) ---
	housekeep, err := housekeeping.New(cfg.livenessSweep, cfg.cacheSweep, agents, readCache, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize housekeeping: %w", err)
	}
	housekeep.Start()
	defer func() {
		if err := housekeep.Stop(); err != nil {
			logger.Warn("housekeeping shutdown error", zap.Error(err))
		}
	}()

	// --- HTTP server ---
	router := api.NewRouter(api.RouterConfig{
		APIKey:     cfg.apiKey,
		Agents:     agents,
		Targets:    targets,
		Aggregator: agg,
		Cache:      readCache,
		Logger:     logger,
		StartedAt:  time.Now(),
	})

	httpSrv := &http.Server{
		Addr:         cfg.httpAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("http server listening", zap.String("addr", cfg.httpAddr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			cancel()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down storm coordinator")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server graceful shutdown error", zap.Error(err))
	}

	logger.Info("storm coordinator stopped")
	return nil
}

func buildLogger(level string) (*zap.Logger, error) {
	var cfg zap.Config

	switch level {
	case "debug":
		cfg = zap.NewDevelopmentConfig()
	default:
		cfg = zap.NewProductionConfig()
	}

	switch level {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info":
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	return cfg.Build()
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

// listenAddrFromEnv reads key as a bare port number (spec §6: SERVER_PORT
// defaults to 3000) and returns it as a ":<port>" listen address, or
// passes the value through unchanged if it already looks like an address.
func listenAddrFromEnv(key, defaultAddr string) string {
	v := os.Getenv(key)
	if v == "" {
		return defaultAddr
	}
	for _, r := range v {
		if r < '0' || r > '9' {
			return v
		}
	}
	return ":" + v
}
