// Package main is the entry point for the paf CLI.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/relaymesh/paf/internal/configstore"
	"github.com/relaymesh/paf/internal/forwarder"
	"github.com/relaymesh/paf/internal/freeze"
	"github.com/relaymesh/paf/internal/gateway"
	"github.com/relaymesh/paf/internal/health"
	"github.com/relaymesh/paf/internal/profile"
	"github.com/relaymesh/paf/internal/security"
	"github.com/relaymesh/paf/internal/selector"
	"github.com/relaymesh/paf/internal/telemetry"
)

// Set by goreleaser ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "paf",
		Short:         "A multi-tenant reverse proxy fronting Anthropic- and OpenAI-compatible upstreams",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(versionCmd(), startCmd(), configCmd())
	return root
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Printf("paf %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

func startCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the proxy with all three listeners",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfgPath, _ := cmd.Flags().GetString("config")
			if cfgPath == "" {
				cfgPath = defaultSystemConfigPath()
			}
			return run(cfgPath)
		},
	}
	cmd.Flags().StringP("config", "c", "", "Path to the system config file (default: $PAF_DATA_DIR/system.yaml)")
	return cmd
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "check <path>",
		Short: "Validate the system config file at path",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			system, err := configstore.LoadSystemConfig(args[0])
			if err != nil {
				return err
			}
			store, err := configstore.New(system.DataDir, nil)
			if err != nil {
				return err
			}
			if err := store.LoadAll(); err != nil {
				return err
			}
			fmt.Printf("Configuration OK (web=%d anthropic=%d openai=%d data_dir=%s)\n",
				system.WebPort, system.AnthropicPort, system.OpenAIPort, system.DataDir)
			return nil
		},
	})
	return cmd
}

// run wires the explicit construction graph: Config Store, Health Tracker,
// Selector, Freeze Manager, Forwarder, and finally the Listener Set, each
// built and passed to the next rather than discovered through a registry.
func run(cfgPath string) error {
	system, err := configstore.LoadSystemConfig(cfgPath)
	if err != nil {
		return fmt.Errorf("fatal: %w", err)
	}

	credStore := security.NewCredentialStore()
	redactor := security.NewRedactor()
	for _, p := range security.DefaultPatterns() {
		redactor.AddPattern(p)
	}
	redactor.SyncCredentials(credStore)

	baseHandler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLevel(system.LogLevel)})
	logger := slog.New(security.NewRedactingHandler(baseHandler, redactor))

	store, err := configstore.New(system.DataDir, logger)
	if err != nil {
		return fmt.Errorf("fatal: opening config store at %s: %w", system.DataDir, err)
	}
	if err := store.LoadAll(); err != nil {
		return fmt.Errorf("fatal: loading config store: %w", err)
	}
	seedRedactorFromStore(redactor, credStore, store)

	tracker := health.New()
	sel := selector.New()
	metrics := telemetry.NewMetrics()
	tp := telemetry.NewTracerProvider()
	logs := forwarder.NewRingBufferLogger(1000)

	auditLogger := security.NewAuditLogger(security.AuditLoggerConfig{
		Writer:   os.Stderr,
		Redactor: redactor,
	})
	rateLimiter := security.NewRateLimiter(security.RateLimitConfig{})

	freezeMgr := freeze.New(store, tracker, logger)
	fwd := forwarder.New(store, tracker, sel, freezeMgr, logs, metrics, logger)
	fwd.Redactor = redactor
	freezeMgr.SetProber(fwd)
	freezeMgr.SetAuditLogger(auditLogger)

	if err := freezeMgr.Start(); err != nil {
		return fmt.Errorf("fatal: starting freeze manager: %w", err)
	}

	gw := gateway.New(
		gateway.Config{Host: "0.0.0.0"},
		system,
		store,
		sel,
		freezeMgr,
		fwd,
		logs,
		metrics,
		logger,
		auditLogger,
		rateLimiter,
	)

	if err := gw.Start(); err != nil {
		return fmt.Errorf("fatal: starting listeners: %w", err)
	}

	logger.Info("paf started", "web_port", system.WebPort, "anthropic_port", system.AnthropicPort, "openai_port", system.OpenAIPort)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := gw.Stop(shutdownCtx); err != nil {
		logger.Error("error during listener shutdown", "error", err)
	}
	if err := freezeMgr.Stop(shutdownCtx); err != nil {
		logger.Error("error during freeze manager shutdown", "error", err)
	}
	if err := telemetry.Shutdown(shutdownCtx, tp); err != nil {
		logger.Error("error during tracer shutdown", "error", err)
	}
	return nil
}

// seedRedactorFromStore registers every configured credential with the
// redactor and credential store so that endpoint secrets never reach logs,
// regardless of which family or profile they belong to.
func seedRedactorFromStore(redactor *security.Redactor, credStore *security.CredentialStore, store *configstore.Store) {
	for _, family := range profile.Families() {
		state, err := store.Snapshot(family)
		if err != nil {
			continue
		}
		for _, e := range state.Endpoints {
			if e.AuthToken != "" {
				credStore.Set(e.Name+":auth_token", e.AuthToken)
				redactor.AddLiteral(e.AuthToken)
			}
			if e.APIKey != "" {
				credStore.Set(e.Name+":api_key", e.APIKey)
				redactor.AddLiteral(e.APIKey)
			}
		}
	}
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func defaultSystemConfigPath() string {
	return filepath.Join(configstore.DefaultDataDir(), "system.yaml")
}
