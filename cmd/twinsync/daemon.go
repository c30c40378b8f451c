package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/steveyegge/twinsync/internal/config"
	"github.com/steveyegge/twinsync/internal/daemon"
	"github.com/steveyegge/twinsync/internal/dashboard"
	"github.com/steveyegge/twinsync/internal/metadata"
	"github.com/steveyegge/twinsync/internal/reconcile"
	"github.com/steveyegge/twinsync/internal/remote"
	"github.com/steveyegge/twinsync/internal/ui"
	"github.com/steveyegge/twinsync/internal/watcher"
)

var daemonCmd = &cobra.Command{
	Use:     "daemon",
	GroupID: "sync",
	Short:   "Run the sync daemon (foreground)",
	Long: `Run the sync daemon in the foreground.

The daemon will:
  1. Scan the sync directory for changes made while it was stopped
  2. Watch the sync directory, batching notifications until it goes quiet
  3. Poll the remote changes feed
  4. Reconcile each batch and record the result in the metadata store
  5. Broadcast progress on the dashboard WebSocket (ws://127.0.0.1:<port>/ws)

Stop it with Ctrl+C; changes still being observed are saved and picked up
on the next start.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if port, _ := cmd.Flags().GetInt("port"); cmd.Flags().Changed("port") {
			cfg.DashboardPort = port
		}
		if err := os.MkdirAll(cfg.SyncDir, 0755); err != nil {
			return fmt.Errorf("failed to create sync directory: %w", err)
		}

		store, err := metadata.Open(cfg.DBPath)
		if err != nil {
			return err
		}
		defer store.Close()

		fw, err := watcher.NewFileWatcher(cfg.SyncDir, store, &watcher.Config{
			Ignore: cfg.Ignore,
			Logger: newLogger(cfg, "watcher"),
		})
		if err != nil {
			return err
		}

		poller := remote.NewPoller(openFeed(cfg), store, &remote.PollerConfig{
			Interval: cfg.PollInterval,
			Logger:   newLogger(cfg, "remote"),
		})

		dcfg := &daemon.Config{
			DebounceInterval: cfg.DebounceInterval,
			StateDir:         cfg.DataDir,
			Logger:           newLogger(cfg, "daemon"),
		}
		if verbose {
			dcfg.TraceLogger = newLogger(cfg, "reconcile")
		}

		if cfg.DashboardPort > 0 {
			server := dashboard.NewServer(&dashboard.Config{
				Host:   "127.0.0.1",
				Port:   cfg.DashboardPort,
				Logger: newLogger(cfg, "dashboard"),
			})
			if err := server.Start(); err != nil {
				return fmt.Errorf("failed to start dashboard: %w", err)
			}
			defer server.Stop()

			handler := dashboard.NewHandler(server, dcfg.Logger)
			dcfg.OnApplied = handler.OnChangeApplied
			dcfg.OnRunComplete = handler.OnRunComplete
		} else {
			dcfg.OnRunComplete = printRun
		}

		d, err := daemon.NewWithConfig(store, fw, poller, dcfg)
		if err != nil {
			return err
		}

		fmt.Printf("%s Starting twinsync daemon...\n", ui.RenderAccent("⇄"))
		fmt.Printf("   Sync dir: %s\n", cfg.SyncDir)
		fmt.Printf("   Remote:   %s\n", cfg.RemoteFeed)
		fmt.Printf("   Store:    %s\n", cfg.DBPath)
		if cfg.DashboardPort > 0 {
			fmt.Printf("   Dashboard: ws://127.0.0.1:%d/ws\n", cfg.DashboardPort)
		}
		fmt.Printf("\nPress Ctrl+C to stop\n\n")

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		if err := d.Start(ctx); err != nil {
			return fmt.Errorf("daemon stopped with error: %w", err)
		}
		return nil
	},
}

// openFeed picks the feed implementation for the configured remote.
func openFeed(cfg *config.Config) remote.Feed {
	if cfg.RemoteIsWebSocket() {
		return remote.NewWebSocketFeed(cfg.RemoteFeed)
	}
	return remote.NewFileFeed(cfg.RemoteFeed)
}

func printRun(side reconcile.Side, events, changes, failed int, pending []reconcile.Change, duration time.Duration) {
	mark := ui.RenderPass("✓")
	if failed > 0 {
		mark = ui.RenderFail("✗")
	}
	fmt.Printf("%s %s: %d events → %d changes (%d failed, %d pending) in %v\n",
		mark, side, events, changes, failed, len(pending), duration.Round(time.Millisecond))
}

func init() {
	daemonCmd.Flags().IntP("port", "p", 0, "dashboard port (overrides config, 0 disables)")
	rootCmd.AddCommand(daemonCmd)
}
