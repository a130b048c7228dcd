// Command invoicectl is the operator CLI for the invoice pipeline: it runs
// single steps against the configured backends, applies the Postgres schema
// and talks to Gemini directly.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/Lllllllleong/invoiceflow/internal/config"
	"github.com/spf13/cobra"
)

var (
	configPath string
	verbose    bool
	timeout    time.Duration
	userID     string

	cfg config.Config
)

var rootCmd = &cobra.Command{
	Use:   "invoicectl",
	Short: "Operate the invoice pipeline from the command line",
	Long: `invoicectl runs pipeline steps against the configured store, storage
bucket and Gemini backend. Settings come from the same environment variables
the functions use, optionally preceded by a TOML file given with --config.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		level := cfg.SlogLevel()
		if verbose {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("CONFIG_FILE"), "TOML config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 5*time.Minute, "Operation timeout")

	rootCmd.AddCommand(modelsCmd, chatCmd, analyzeTextCmd)
	rootCmd.AddCommand(scanCmd, scanProjectCmd, statusCmd, transitionsCmd, sweepCmd)
	rootCmd.AddCommand(migrateCmd)

	for _, c := range []*cobra.Command{scanCmd, scanProjectCmd, statusCmd} {
		c.Flags().StringVarP(&userID, "user", "u", "", "Owner of the invoice images (required)")
		_ = c.MarkFlagRequired("user")
	}
	statusCmd.Flags().StringVarP(&statusMessage, "message", "m", "", "Error message stored with the new status")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// commandContext bounds a command by --timeout.
func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), timeout)
}
