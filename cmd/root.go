package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/companionrt/internal/config"
	"github.com/nextlevelbuilder/companionrt/internal/worker"
)

// Version is set at build time via -ldflags "-X github.com/nextlevelbuilder/companionrt/cmd.Version=v1.0.0"
var Version = "dev"

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "companionrt",
	Short: "companionrt — persona-driven companion agent runtime",
	Long:  "companionrt dispatches persona agent turns from an outbox of chat events, runs them through a provider-agnostic tool-calling loop, and writes responses back to the same message store.",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: config.json5 or $COMPANIONRT_CONFIG)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(workerCmd())
	rootCmd.AddCommand(migrateCmd())
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("companionrt %s\n", Version)
		},
	}
}

func workerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run the dispatch + agent-loop worker process",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := newLogger()

			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if !cfg.IsManagedMode() {
				return fmt.Errorf("COMPANIONRT_POSTGRES_DSN environment variable is not set")
			}
			if !cfg.HasAnyProvider() {
				log.Warn("no LLM provider API key configured, personas will fail to respond")
			}

			w, err := worker.New(cfg, log.With("component", "worker"))
			if err != nil {
				return fmt.Errorf("build worker: %w", err)
			}
			defer w.Close()

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				sig := <-sigCh
				log.Info("shutting down", "signal", sig.String())
				cancel()
			}()

			log.Info("worker starting")
			if err := w.Run(ctx); err != nil {
				return fmt.Errorf("worker run: %w", err)
			}
			log.Info("worker stopped")
			return nil
		},
	}
}

func resolveConfigPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	if v := os.Getenv("COMPANIONRT_CONFIG"); v != "" {
		return v
	}
	return "config.json5"
}

// Execute runs the root cobra command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
