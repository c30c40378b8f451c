// Package daemon provides the sync daemon that reconciles local and remote
// changes into the metadata store.
//
// The daemon:
// 1. Scans the sync directory for changes made while it was not running
// 2. Watches the sync directory and debounces its notifications into batches
// 3. Polls the remote changes feed
// 4. Reconciles every batch and applies the result under the store lock
// 5. Handles graceful shutdown, saving changes still pending
//
// The local and remote sides run on their own schedules. Each has its own
// reconciler, so pending changes never cross sides; the store lock taken
// by the applier serializes the two.
package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/steveyegge/twinsync/internal/apply"
	"github.com/steveyegge/twinsync/internal/metadata"
	"github.com/steveyegge/twinsync/internal/reconcile"
	"github.com/steveyegge/twinsync/internal/remote"
	"github.com/steveyegge/twinsync/internal/watcher"
)

// Config holds configuration for the daemon.
type Config struct {
	// DebounceInterval is how long the local side waits for the
	// filesystem to go quiet before reconciling
	DebounceInterval time.Duration

	// StateDir, if set, is where pending changes are saved on shutdown
	// and restored from on start
	StateDir string

	// SkipInitialScan disables the scan of the sync directory on start
	SkipInitialScan bool

	// Target receives the applied changes. Defaults to a StoreTarget on
	// the daemon's store.
	Target apply.Target

	// OnApplied is called after every applied change
	OnApplied func(side reconcile.Side, c reconcile.Change, err error)

	// OnRunComplete is called after every run that had events
	OnRunComplete func(side reconcile.Side, events, changes, failed int, pending []reconcile.Change, duration time.Duration)

	// Logger for daemon activity
	Logger *log.Logger

	// TraceLogger, if set, receives the reconciler's decision traces
	TraceLogger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DebounceInterval: 200 * time.Millisecond,
		Logger:           log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// Daemon orchestrates both notification producers and the applier.
type Daemon struct {
	store   *metadata.Store
	watcher *watcher.FileWatcher
	poller  *remote.Poller
	config  *Config

	local   *reconcile.Reconciler
	remote  *reconcile.Reconciler
	applier *apply.Applier
	buffer  *watcher.Buffer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	stopOnce sync.Once
	stopErr  error
}

// New creates a new Daemon instance.
//
// The daemon requires:
//   - store: the metadata store
//   - fw: the local watcher, or nil to run the remote side only
//   - poller: the remote feed poller, or nil to run the local side only
//
// Use Start() to begin watching and syncing.
func New(store *metadata.Store, fw *watcher.FileWatcher, poller *remote.Poller) (*Daemon, error) {
	return NewWithConfig(store, fw, poller, DefaultConfig())
}

// NewWithConfig creates a daemon with custom configuration.
func NewWithConfig(store *metadata.Store, fw *watcher.FileWatcher, poller *remote.Poller, config *Config) (*Daemon, error) {
	if store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = DefaultConfig().Logger
	}
	if config.DebounceInterval <= 0 {
		config.DebounceInterval = DefaultConfig().DebounceInterval
	}

	target := config.Target
	if target == nil {
		target = apply.NewStoreTarget(store)
	}
	applier := apply.NewWithConfig(store, target, apply.Config{
		Logger:    config.Logger,
		OnApplied: config.OnApplied,
	})

	opts := reconcile.Options{Logger: config.TraceLogger}
	ctx, cancel := context.WithCancel(context.Background())

	return &Daemon{
		store:   store,
		watcher: fw,
		poller:  poller,
		config:  config,
		local:   reconcile.NewReconciler(reconcile.SideLocal, opts),
		remote:  reconcile.NewReconciler(reconcile.SideRemote, opts),
		applier: applier,
		buffer:  watcher.NewBuffer(config.DebounceInterval),
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// Start begins the daemon's operation.
//
// This blocks until ctx is cancelled or an error occurs.
func (d *Daemon) Start(ctx context.Context) error {
	d.config.Logger.Println("Starting daemon")

	if err := d.restorePending(); err != nil {
		d.config.Logger.Printf("Warning: %v", err)
	}

	if d.watcher != nil {
		if !d.config.SkipInitialScan {
			if err := d.initialScan(ctx); err != nil {
				return fmt.Errorf("initial scan failed: %w", err)
			}
		}
		if err := d.watcher.Start(); err != nil {
			return fmt.Errorf("failed to start watcher: %w", err)
		}

		d.wg.Add(2)
		go d.watchLocal()
		go d.watchErrors()
	}

	if d.poller != nil {
		d.wg.Add(1)
		go d.watchRemote()
	}

	select {
	case <-ctx.Done():
		d.config.Logger.Println("Shutdown signal received")
		return d.Stop()
	case <-d.ctx.Done():
		return nil
	}
}

// Stop gracefully shuts down the daemon.
func (d *Daemon) Stop() error {
	d.stopOnce.Do(func() {
		d.config.Logger.Println("Stopping daemon")

		d.cancel()

		if d.watcher != nil {
			if err := d.watcher.Stop(); err != nil {
				d.config.Logger.Printf("Error closing watcher: %v", err)
			}
		}

		d.wg.Wait()

		d.stopErr = d.savePending()
		d.config.Logger.Println("Daemon stopped")
	})
	return d.stopErr
}

// RunLocal reconciles and applies one batch of local events.
func (d *Daemon) RunLocal(ctx context.Context, events []reconcile.Event) error {
	return d.run(ctx, d.local, events)
}

// RunRemote reconciles and applies one batch of remote events.
func (d *Daemon) RunRemote(ctx context.Context, events []reconcile.Event) error {
	return d.run(ctx, d.remote, events)
}

// Pending returns the changes each side deferred to its next run.
func (d *Daemon) Pending() (localPending, remotePending []reconcile.Change) {
	return d.local.Pending(), d.remote.Pending()
}

func (d *Daemon) run(ctx context.Context, rec *reconcile.Reconciler, events []reconcile.Event) error {
	side := rec.Side()
	start := time.Now()

	changes, err := rec.Run(events)
	if err != nil {
		d.config.Logger.Printf("Error reconciling %s batch of %d events: %v", side, len(events), err)
		return err
	}

	err = d.applier.Apply(ctx, side, changes)
	failed := apply.Failed(err)
	if err != nil && len(failed) == 0 {
		// Nothing was applied; keep the batch for the next run.
		rec.Restore(append(changes, rec.Pending()...))
		return err
	}

	pending := rec.Pending()
	if d.config.OnRunComplete != nil && (len(events) > 0 || len(changes) > 0) {
		d.config.OnRunComplete(side, len(events), len(changes), len(failed), pending, time.Since(start))
	}
	return err
}

func (d *Daemon) initialScan(ctx context.Context) error {
	events, err := d.watcher.Scan(ctx)
	if err != nil {
		return err
	}
	d.config.Logger.Printf("Initial scan: %d events", len(events))
	if len(events) == 0 {
		return nil
	}
	if err := d.RunLocal(ctx, events); err != nil && len(apply.Failed(err)) == 0 {
		return err
	}
	return nil
}

// watchLocal debounces watcher events and runs the local side.
func (d *Daemon) watchLocal() {
	defer d.wg.Done()

	d.buffer.Run(d.ctx, d.watcher.Events(), func(events []reconcile.Event) {
		if err := d.RunLocal(d.ctx, events); err != nil {
			d.config.Logger.Printf("Error applying local batch: %v", err)
		}
	})
}

func (d *Daemon) watchErrors() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return
		case err, ok := <-d.watcher.Errors():
			if !ok {
				return
			}
			d.config.Logger.Printf("Watcher error: %v", err)
		}
	}
}

// watchRemote polls the changes feed and runs the remote side.
func (d *Daemon) watchRemote() {
	defer d.wg.Done()

	err := d.poller.Watch(d.ctx, func(events []reconcile.Event) error {
		err := d.RunRemote(d.ctx, events)
		switch {
		case err == nil:
			return nil
		case len(apply.Failed(err)) > 0, reconcile.IsFatal(err):
			// Already reported. Retrying the same page cannot succeed.
			return nil
		}
		return err
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		d.config.Logger.Printf("Remote poller stopped: %v", err)
	}
}

// pendingState is what survives a restart: the deferred changes of each
// side and the position in the remote changes feed.
type pendingState struct {
	Local     []reconcile.Change `json:"local,omitempty"`
	Remote    []reconcile.Change `json:"remote,omitempty"`
	RemoteSeq string             `json:"remote_seq,omitempty"`
}

func (d *Daemon) statePath() string {
	return filepath.Join(d.config.StateDir, "pending.json")
}

func (d *Daemon) savePending() error {
	if d.config.StateDir == "" {
		return nil
	}
	localPending, remotePending := d.Pending()
	state := pendingState{Local: localPending, Remote: remotePending}
	if d.poller != nil {
		state.RemoteSeq = d.poller.Since()
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal pending changes: %w", err)
	}
	if err := os.MkdirAll(d.config.StateDir, 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}
	if err := os.WriteFile(d.statePath(), data, 0644); err != nil {
		return fmt.Errorf("failed to save pending changes: %w", err)
	}
	return nil
}

func (d *Daemon) restorePending() error {
	if d.config.StateDir == "" {
		return nil
	}
	data, err := os.ReadFile(d.statePath())
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read pending changes: %w", err)
	}
	var state pendingState
	if err := json.Unmarshal(data, &state); err != nil {
		return fmt.Errorf("failed to parse pending changes: %w", err)
	}
	d.local.Restore(state.Local)
	d.remote.Restore(state.Remote)
	if d.poller != nil && state.RemoteSeq != "" {
		d.poller.Advance(state.RemoteSeq)
	}
	d.config.Logger.Printf("Restored %d local and %d remote pending changes", len(state.Local), len(state.Remote))
	return nil
}
