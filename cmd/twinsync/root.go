package main

import (
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/steveyegge/twinsync/internal/config"
	"github.com/steveyegge/twinsync/internal/logging"
	"github.com/steveyegge/twinsync/internal/ui"
)

var (
	configPath string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "twinsync",
	Short: "Two-way sync between a local directory and a remote replica",
	Long: `twinsync watches a local directory and a remote changes feed, reconciles
the notifications of each side into additions, deletions, updates and moves,
and records the result in a local metadata store.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		ui.Setup(os.Stdout)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default: ~/.twinsync/config.toml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log reconciliation decisions")

	rootCmd.AddGroup(
		&cobra.Group{ID: "sync", Title: "Sync Commands:"},
		&cobra.Group{ID: "setup", Title: "Setup Commands:"},
	)
}

// loadConfig loads the configuration selected by --config.
func loadConfig() (*config.Config, error) {
	return config.Load(configPath)
}

// newLogger returns the logger of component as configured by cfg.
func newLogger(cfg *config.Config, component string) *log.Logger {
	return logging.New(component, logging.Options{
		File:       cfg.LogFile,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
	})
}
