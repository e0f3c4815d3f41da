// Package main provides the authz CLI: layered fuzzy access decisions,
// Q-learning training on the access simulator, fixture replay and trace
// inspection.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/adaptive-authz/internal/config"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

// #region main

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "authz",
		Short: "Adaptive access-control decisions with fuzzy risk and Q-learning",
		Long: `authz scores access attempts with two fuzzy rule bases (authorization
and anomaly), maps the combined risk to Low/Medium/High, and trains a
Q-learning policy against a simulated access environment.

Settings come from a YAML file (--config or AUTHZ_CONFIG), a .env file and
AUTHZ_* environment variables; command flags win over all of them.`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().String("config", "", "YAML config file (default: $AUTHZ_CONFIG)")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("authz v%s (%s)\n", version, commit)
		},
	})

	rootCmd.AddCommand(newDecideCmd())
	rootCmd.AddCommand(newObserveCmd())
	rootCmd.AddCommand(newTrainCmd())
	rootCmd.AddCommand(newReplayCmd())
	rootCmd.AddCommand(newInspectCmd())
	rootCmd.AddCommand(newPolicyCmd())

	return rootCmd
}

// #endregion main

// #region setup

// loadConfig resolves the configuration for cmd and installs the slog
// handler it selects as the default logger.
func loadConfig(cmd *cobra.Command) (config.Config, *slog.Logger, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Resolve(path)
	if err != nil {
		return config.Config{}, nil, err
	}

	// --db is shared by most subcommands and overrides every other source.
	if f := cmd.Flags().Lookup("db"); f != nil && f.Changed {
		cfg.Storage.DBPath = f.Value.String()
	}

	logger := newLogger(cfg.LogFormat)
	slog.SetDefault(logger)
	return cfg, logger, nil
}

func newLogger(format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if os.Getenv("AUTHZ_DEBUG") != "" {
		opts.Level = slog.LevelDebug
	}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// #endregion setup

// #region helpers

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// #endregion helpers
