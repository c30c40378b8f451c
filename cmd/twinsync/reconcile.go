package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/steveyegge/twinsync/internal/apply"
	"github.com/steveyegge/twinsync/internal/metadata"
	"github.com/steveyegge/twinsync/internal/reconcile"
	"github.com/steveyegge/twinsync/internal/ui"
)

// capture is a recorded batch: the notifications of one side plus the
// changes that were pending when it arrived.
type capture struct {
	Side    string             `yaml:"side"`
	Pending []reconcile.Change `yaml:"pending,omitempty"`
	Events  []reconcile.Event  `yaml:"events"`
}

func parseSide(s string) (reconcile.Side, error) {
	switch s {
	case "", "local":
		return reconcile.SideLocal, nil
	case "remote":
		return reconcile.SideRemote, nil
	}
	return 0, fmt.Errorf("unknown side %q (want local or remote)", s)
}

func readCapture(path string) (*capture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read capture: %w", err)
	}
	var c capture
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse capture %s: %w", path, err)
	}
	return &c, nil
}

// replay runs a capture through the reconciler.
func replay(c *capture, trace *log.Logger) (reconcile.Side, reconcile.Result, error) {
	side, err := parseSide(c.Side)
	if err != nil {
		return 0, reconcile.Result{}, err
	}
	res, err := reconcile.Analyse(side, c.Events, c.Pending, reconcile.Options{Logger: trace})
	return side, res, err
}

func printResult(w io.Writer, res reconcile.Result) {
	fmt.Fprintf(w, "%s (%d)\n", ui.RenderHeader("Changes"), len(res.Changes))
	for i, c := range res.Changes {
		fmt.Fprintf(w, "  %3d. %s\n", i+1, ui.RenderChange(c))
	}
	if len(res.Pending) > 0 {
		fmt.Fprintf(w, "\n%s (%d)\n", ui.RenderHeader("Pending"), len(res.Pending))
		for _, c := range res.Pending {
			fmt.Fprintf(w, "       %s\n", ui.RenderWarn(c.String()))
		}
	}
}

var reconcileCmd = &cobra.Command{
	Use:     "reconcile <capture.yaml>",
	GroupID: "sync",
	Short:   "Reconcile a recorded batch of notifications",
	Long: `Run a recorded batch through the reconciler and print the resulting
changes in application order.

A capture is a YAML document:

  side: local
  events:
    - {kind: unlink, path: a.txt, identity: "12"}
    - {kind: add, path: b.txt, identity: "12", attrs: {size: 3, checksum: x}}

With --apply the changes are also written to the metadata store.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := readCapture(args[0])
		if err != nil {
			return err
		}

		var trace *log.Logger
		if verbose {
			trace = log.New(os.Stderr, "[reconcile] ", 0)
		}
		side, res, err := replay(c, trace)
		if err != nil {
			return err
		}

		if asYAML, _ := cmd.Flags().GetBool("yaml"); asYAML {
			out, err := yaml.Marshal(res)
			if err != nil {
				return fmt.Errorf("failed to encode result: %w", err)
			}
			_, err = os.Stdout.Write(out)
			return err
		}
		printResult(os.Stdout, res)

		if doApply, _ := cmd.Flags().GetBool("apply"); !doApply {
			return nil
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, err := metadata.Open(cfg.DBPath)
		if err != nil {
			return err
		}
		defer store.Close()

		applier := apply.NewWithConfig(store, apply.NewStoreTarget(store), apply.Config{
			Logger: newLogger(cfg, "apply"),
		})
		if err := applier.Apply(context.Background(), side, res.Changes); err != nil {
			return err
		}
		fmt.Printf("\n%s Applied %d changes to %s\n", ui.RenderPass("✓"), len(res.Changes), cfg.DBPath)
		return nil
	},
}

func init() {
	reconcileCmd.Flags().Bool("yaml", false, "print the result as YAML")
	reconcileCmd.Flags().Bool("apply", false, "apply the changes to the metadata store")
	rootCmd.AddCommand(reconcileCmd)
}
