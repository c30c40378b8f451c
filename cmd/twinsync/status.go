package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/steveyegge/twinsync/internal/config"
	"github.com/steveyegge/twinsync/internal/metadata"
	"github.com/steveyegge/twinsync/internal/reconcile"
	"github.com/steveyegge/twinsync/internal/ui"
)

// pendingCounts reads the pending changes the daemon saved on its last
// shutdown.
func pendingCounts(cfg *config.Config) (local, remote int, err error) {
	data, err := os.ReadFile(filepath.Join(cfg.DataDir, "pending.json"))
	if errors.Is(err, os.ErrNotExist) {
		return 0, 0, nil
	}
	if err != nil {
		return 0, 0, err
	}
	var state struct {
		Local  []reconcile.Change `json:"local"`
		Remote []reconcile.Change `json:"remote"`
	}
	if err := json.Unmarshal(data, &state); err != nil {
		return 0, 0, fmt.Errorf("failed to parse pending changes: %w", err)
	}
	return len(state.Local), len(state.Remote), nil
}

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "sync",
	Short:   "Show sync status",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		fmt.Println(ui.RenderHeader("twinsync status"))
		fmt.Printf("  Sync dir:  %s\n", cfg.SyncDir)
		fmt.Printf("  Remote:    %s\n", cfg.RemoteFeed)
		fmt.Printf("  Store:     %s\n", cfg.DBPath)

		if _, err := os.Stat(cfg.DBPath); errors.Is(err, os.ErrNotExist) {
			fmt.Printf("\n%s No metadata store yet; run 'twinsync daemon' to start syncing\n", ui.RenderWarn("!"))
			return nil
		}
		store, err := metadata.Open(cfg.DBPath)
		if err != nil {
			return err
		}
		defer store.Close()

		n, err := store.Count()
		if err != nil {
			return err
		}
		fmt.Printf("  Records:   %d\n", n)
		if holder := store.LockHolder(); holder != "" {
			fmt.Printf("  Lock:      held by %s\n", ui.RenderAccent(holder))
		}

		local, remote, err := pendingCounts(cfg)
		if err != nil {
			fmt.Printf("  Pending:   %s\n", ui.RenderFail(err.Error()))
			return nil
		}
		if local+remote == 0 {
			fmt.Printf("  Pending:   %s\n", ui.RenderPass("none"))
		} else {
			fmt.Printf("  Pending:   %s\n", ui.RenderWarn(fmt.Sprintf("%d local, %d remote", local, remote)))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
