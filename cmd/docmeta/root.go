package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"docmeta/internal/config"
	"docmeta/internal/logger"
)

// version is set at build time via -ldflags.
var version = "dev"

var rootFlags struct {
	logLevel string
}

// cfg is loaded once before any subcommand runs.
var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "docmeta",
	Short: "Extract, validate and score document metadata",
	Long: "docmeta pulls documents from object storage, has a remote AI service\n" +
		"categorize them and extract metadata, validates the values against\n" +
		"configurable rules and writes the results back.",
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		c, err := config.Load()
		if err != nil {
			return err
		}
		level := c.Log.Level
		if rootFlags.logLevel != "" {
			level = rootFlags.logLevel
		}
		if err := logger.Init(level, c.Log.Format); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}
		cfg = c
		return nil
	},
	PersistentPostRun: func(*cobra.Command, []string) {
		_ = logger.Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&rootFlags.logLevel, "log-level", "", "Override DOCMETA_LOG_LEVEL (debug, info, warn, error)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(rulesCmd)
	rootCmd.Version = version
}

func main() {
	if err := runCLI(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// runCLI runs the CLI until it finishes or an interrupt arrives. An
// interrupt cancels the command context, which ends retry backoffs early and
// stops a run before its next chunk.
func runCLI() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}
