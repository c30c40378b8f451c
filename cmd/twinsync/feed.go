package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/steveyegge/twinsync/internal/remote"
	"github.com/steveyegge/twinsync/internal/ui"
)

var feedCmd = &cobra.Command{
	Use:     "feed",
	GroupID: "sync",
	Short:   "Work with remote changes feeds",
}

var feedServeCmd = &cobra.Command{
	Use:   "serve <feed.jsonl>",
	Short: "Serve a JSON-lines feed file over WebSocket",
	Long: `Serve a JSON-lines changes feed over WebSocket so that a daemon can use
it as its remote with remote_feed = "ws://<addr>/changes".`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")

		mux := http.NewServeMux()
		mux.Handle("/changes", remote.NewFeedHandler(remote.NewFileFeed(args[0]), nil))
		server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		errCh := make(chan error, 1)
		go func() { errCh <- server.ListenAndServe() }()

		fmt.Printf("%s Serving %s on ws://%s/changes\n", ui.RenderAccent("⇄"), args[0], addr)

		select {
		case err := <-errCh:
			return fmt.Errorf("feed server failed: %w", err)
		case <-ctx.Done():
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("feed server shutdown: %w", err)
		}
		return nil
	},
}

func init() {
	feedServeCmd.Flags().String("addr", "127.0.0.1:7421", "listen address")
	feedCmd.AddCommand(feedServeCmd)
	rootCmd.AddCommand(feedCmd)
}
