package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/MikeSquared-Agency/Steward/internal/config"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "steward",
	Short: "Learns from owner corrections and graduates agent autonomy",
	Long: `steward records how property owners correct their AI agent, turns repeated
corrections into rules, and tracks when a category has earned more autonomy.

Examples:
  steward serve --config steward.yaml
  steward migrate`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error: "+err.Error())
		os.Exit(1)
	}
}

// setup loads config and installs the process logger.
func setup() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	opts := &slog.HandlerOptions{Level: cfg.Logging.SlogLevel()}
	var handler slog.Handler
	if cfg.Logging.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return cfg, logger, nil
}
