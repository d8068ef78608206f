// Package main is the entry point for the storm-agent binary. It wires the
// HTTP client, local state, and per-target prober together and runs three
// concurrent loops: a fixed heartbeat, a fixed target-update poll, and the
// prober's own per-target schedule — until SIGINT/SIGTERM, then shuts down
// gracefully.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/stormmon/storm/agent/internal/client"
	"github.com/stormmon/storm/agent/internal/prober"
	"github.com/stormmon/storm/agent/internal/state"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const (
	heartbeatInterval    = 30 * time.Second
	targetsPollInterval  = 120 * time.Second
	defaultAgentLocation = "Unknown"
)

type config struct {
	serverURL string
	apiKey    string
	agentName string
	agentLoc  string
	stateDir  string
	logLevel  string
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
		Use:   "storm-agent",
		Short: "Storm agent — distributed uptime probe",
		Long: `Storm agent registers with a Storm coordinator, polls for its
target list, and periodically checks each target over HTTP or ICMP,
reporting results back to the coordinator.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cfg)
		},
	}

	root.AddCommand(newVersionCmd())

	hostname, _ := os.Hostname()
	root.PersistentFlags().StringVar(&cfg.serverURL, "server-url", envOrDefault("SERVER_URL", ""), "Storm coordinator base URL, e.g. http://coordinator:3000")
	root.PersistentFlags().StringVar(&cfg.apiKey, "api-key", envOrDefault("API_KEY", ""), "Shared API key (must match the coordinator's API_KEY)")
	root.PersistentFlags().StringVar(&cfg.agentName, "agent-name", envOrDefault("AGENT_NAME", hostname), "Name this agent registers under")
	root.PersistentFlags().StringVar(&cfg.agentLoc, "agent-location", envOrDefault("AGENT_LOCATION", defaultAgentLocation), "Free-text location label")
	root.PersistentFlags().StringVar(&cfg.stateDir, "state-dir", envOrDefault("STORM_STATE_DIR", defaultStateDir()), "Directory for agent-state.json")
	root.PersistentFlags().StringVar(&cfg.logLevel, "log-level", envOrDefault("STORM_LOG_LEVEL", "info"), "Log level (debug, info, warn, error)")

	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("storm-agent %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

func run(ctx context.Context, cfg *config) error {
	logger, err := buildLogger(cfg.logLevel)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	if cfg.serverURL == "" {
		return fmt.Errorf("server-url (SERVER_URL) is required")
	}
	if cfg.apiKey == "" {
		return fmt.Errorf("api-key (API_KEY) is required")
	}

	logger.Info("starting storm agent",
		zap.String("version", version),
		zap.String("server_url", cfg.serverURL),
		zap.String("name", cfg.agentName),
	)

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	st, err := state.Load(cfg.stateDir)
	if err != nil {
		logger.Warn("failed to load persisted state, starting fresh", zap.Error(err))
	}

	c := client.New(cfg.serverURL, cfg.apiKey, logger)
	if st.AgentID != "" && st.Name == cfg.agentName {
		c.SetAgentID(st.AgentID)
		logger.Info("reusing persisted agent id", zap.String("agent_id", st.AgentID))
	} else {
		id, err := c.Register(ctx, cfg.agentName, cfg.agentLoc)
		if err != nil {
			return fmt.Errorf("register with coordinator: %w", err)
		}
		st.AgentID = id
		st.Name = cfg.agentName
		st.Location = cfg.agentLoc
		if err := state.Save(cfg.stateDir, st); err != nil {
			logger.Warn("failed to persist state after register", zap.Error(err))
		}
		logger.Info("registered with coordinator", zap.String("agent_id", id))
	}

	prb, err := prober.New(cfg.agentName, c, logger)
	if err != nil {
		return fmt.Errorf("build prober: %w", err)
	}
	prb.Start()
	defer prb.Stop() //nolint:errcheck

	resp, err := c.FetchTargets(ctx)
	if err != nil {
		logger.Warn("initial target fetch failed, will retry on the poll loop", zap.Error(err))
		// Drop any persisted version so the first poll reports updates.
		st.LastTargets = time.Time{}
	} else {
		if err := prb.Schedule(resp.Targets); err != nil {
			logger.Warn("failed scheduling initial targets", zap.Error(err))
		}
		st.LastTargets = time.UnixMilli(resp.LastUpdated).UTC()
		_ = state.Save(cfg.stateDir, st)
	}

	go heartbeatLoop(ctx, c, logger)
	go targetsPollLoop(ctx, c, prb, &st, cfg.stateDir, logger)

	<-ctx.Done()
	logger.Info("storm agent stopped")
	return nil
}

// heartbeatLoop refreshes liveness with the coordinator on a fixed cadence.
func heartbeatLoop(ctx context.Context, c *client.Client, logger *zap.Logger) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.Heartbeat(ctx); err != nil {
				logger.Warn("heartbeat failed", zap.Error(err))
			}
		}
	}
}

// targetsPollLoop checks for a changed target set on a fixed cadence and,
// when one is found, reschedules the prober with the fresh list.
func targetsPollLoop(ctx context.Context, c *client.Client, prb *prober.Manager, st *state.State, stateDir string, logger *zap.Logger) {
	ticker := time.NewTicker(targetsPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			hasUpdates, lastUpdated, err := c.CheckUpdates(ctx, st.LastTargets.UnixMilli())
			if err != nil {
				logger.Warn("check-updates failed", zap.Error(err))
				continue
			}
			if !hasUpdates {
				continue
			}
			resp, err := c.FetchTargets(ctx)
			if err != nil {
				logger.Warn("failed refetching targets after hasUpdates", zap.Error(err))
				continue
			}
			if err := prb.Schedule(resp.Targets); err != nil {
				logger.Warn("failed rescheduling targets", zap.Error(err))
				continue
			}
			st.LastTargets = time.UnixMilli(lastUpdated).UTC()
			if err := state.Save(stateDir, *st); err != nil {
				logger.Warn("failed persisting state after reschedule", zap.Error(err))
			}
			logger.Info("targets updated", zap.Int("count", len(resp.Targets)))
		}
	}
}

// defaultStateDir returns the platform-appropriate default state directory.
func defaultStateDir() string {
	if dir, err := os.UserHomeDir(); err == nil {
		return dir + "/.storm-agent"
	}
	return ".storm-agent"
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
