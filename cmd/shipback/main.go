// Package main is the entrypoint for the shipback CLI.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/shipback/shipback/internal/config"
	"github.com/shipback/shipback/internal/history"
	"github.com/shipback/shipback/internal/runner"
)

// Build-time variables set via ldflags.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath string
		verbose    bool
	)

	rootCmd := &cobra.Command{
		Use:   "shipback",
		Short: "shipback - off-site file server backup into a git repository",
		Long: `shipback walks a remote FTP or SFTP file server, packages the selected
tree into a zip archive, and publishes the archive to a git repository,
keeping only the newest archive.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path (default ~/.shipback/config.yml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(
		newVersionCmd(),
		newRunCmd(&configPath, &verbose),
		newStartCmd(&configPath, &verbose),
		newHistoryCmd(&configPath, &verbose),
	)

	return rootCmd
}

func newLogger(verbose bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(level).
		With().Timestamp().Logger()
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.LoadDefault()
	}
	return config.Load(path)
}

// openHistory opens the run-history store in the config directory. History
// is best-effort: a store that cannot be opened disables recording but never
// blocks a backup.
func openHistory(logger zerolog.Logger) *history.Store {
	dir, err := config.DefaultConfigDir()
	if err != nil {
		logger.Warn().Err(err).Msg("run history disabled")
		return nil
	}
	store, err := history.Open(dir, logger)
	if err != nil {
		logger.Warn().Err(err).Msg("run history disabled")
		return nil
	}
	return store
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("shipback %s\n", Version)
			fmt.Printf("  Commit:     %s\n", Commit)
			fmt.Printf("  Built:      %s\n", BuildDate)
			fmt.Printf("  Go version: %s\n", runtime.Version())
			fmt.Printf("  OS/Arch:    %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}
}

func newRunCmd(configPath *string, verbose *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Perform one backup run",
		Long: `Perform a single backup run to completion: collect the remote tree,
build the archive, and publish it. Exits non-zero on any fatal failure.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger(*verbose)

			cfg, err := loadConfig(*configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}

			store := openHistory(logger)
			if store != nil {
				defer store.Close()
			}

			return runner.New(cfg, store, logger).Run(context.Background())
		},
	}
}

func newStartCmd(configPath *string, verbose *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Run backups on the configured cron schedule",
		Long: `Start shipback as a long-running daemon that performs a backup run on
the schedule.cron expression from the config file. A tick that fires while a
previous run is still in progress is skipped.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger(*verbose)

			cfg, err := loadConfig(*configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}
			if cfg.Schedule.Cron == "" {
				return errors.New("schedule.cron is required for daemon mode")
			}

			store := openHistory(logger)
			if store != nil {
				defer store.Close()
			}

			return runDaemon(cfg, store, logger)
		},
	}
}

func runDaemon(cfg *config.Config, store *history.Store, logger zerolog.Logger) error {
	r := runner.New(cfg, store, logger)

	var running atomic.Bool

	scheduler := cron.New()
	_, err := scheduler.AddFunc(cfg.Schedule.Cron, func() {
		if !running.CompareAndSwap(false, true) {
			logger.Warn().Msg("previous backup run still in progress, skipping this tick")
			return
		}
		defer running.Store(false)

		if err := r.Run(context.Background()); err != nil {
			logger.Error().Err(err).Msg("scheduled backup run failed")
		}
	})
	if err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", cfg.Schedule.Cron, err)
	}

	scheduler.Start()
	defer scheduler.Stop()

	logger.Info().Str("cron", cfg.Schedule.Cron).Msg("daemon running, press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan

	logger.Info().Str("signal", sig.String()).Msg("shutting down")
	return nil
}

func newHistoryCmd(configPath *string, verbose *bool) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent backup runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger(*verbose)

			dir, err := config.DefaultConfigDir()
			if err != nil {
				return err
			}
			store, err := history.Open(dir, logger)
			if err != nil {
				return fmt.Errorf("open history: %w", err)
			}
			defer store.Close()

			runs, err := store.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Println("No backup runs recorded yet.")
				return nil
			}

			for _, run := range runs {
				line := fmt.Sprintf("%s  %-7s  %s", run.StartedAt.Local().Format(time.RFC3339), run.Status, run.Archive)
				if run.Status == history.StatusSuccess {
					line += fmt.Sprintf("  (%d files, %d dirs, %d bytes)", run.Files, run.Dirs, run.Bytes)
				} else if run.Error != "" {
					line += "  " + run.Error
				}
				fmt.Println(line)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of runs to list")
	return cmd
}
