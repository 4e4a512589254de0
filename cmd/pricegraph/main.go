package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/aluiziolira/go-price-graph/config"
	"github.com/spf13/cobra"
)

func main() {
	if err := config.LoadDotEnv(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	cfg := config.DefaultConfig()
	if err := cfg.ApplyEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid environment: %v\n", err)
		os.Exit(1)
	}

	if err := newRootCmd(cfg).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(cfg *config.Config) *cobra.Command {
	root := &cobra.Command{
		Use:          "pricegraph",
		Short:        "Track catalog prices over time",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg.OutputFormat = strings.ToLower(cfg.OutputFormat)

			logger, level := newLogger(cfg.Verbose)
			slog.SetDefault(logger)
			slog.SetLogLoggerLevel(level.Level())

			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			return nil
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&cfg.CatalogURL, "catalog-url", cfg.CatalogURL, "Catalog listing URL")
	flags.IntVar(&cfg.Parallelism, "parallel", cfg.Parallelism, "Number of concurrent catalog requests")
	flags.DurationVar(&cfg.Delay, "delay", cfg.Delay, "Delay between catalog requests")
	flags.DurationVar(&cfg.RandomDelay, "random-delay", cfg.RandomDelay, "Random jitter added to delay")
	flags.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "Catalog request timeout")
	flags.StringVar(&cfg.StoreDriver, "store", cfg.StoreDriver, "Store driver: sqlite or postgres")
	flags.StringVar(&cfg.StoreDSN, "dsn", cfg.StoreDSN, "Store path (sqlite) or connection string (postgres)")
	flags.StringVar(&cfg.RedisAddr, "redis-addr", cfg.RedisAddr, "Redis address for the task queue")
	flags.StringVar(&cfg.PublicURL, "public-url", cfg.PublicURL, "Base URL page tasks are delivered to")
	flags.IntVar(&cfg.MaxRetries, "max-retries", cfg.MaxRetries, "Maximum redeliveries per task")
	flags.BoolVarP(&cfg.Verbose, "verbose", "v", cfg.Verbose, "Enable verbose logging")

	root.AddCommand(
		newServeCmd(cfg),
		newSweepCmd(cfg),
		newWorkerCmd(cfg),
		newExportCmd(cfg),
	)
	return root
}

func newLogger(verbose bool) (*slog.Logger, *slog.LevelVar) {
	level := &slog.LevelVar{}
	if verbose {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if isTerminal(os.Stdout) {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler), level
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
