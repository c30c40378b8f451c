// Package apply writes reconciled changes to the metadata store.
//
// An Applier takes the store lock, then hands each change of a sorted batch
// to a Target, one at a time and in order. A change that fails is recorded
// and the rest of the batch is still attempted; all failures are returned
// together once the batch is done.
package apply

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/hashicorp/go-multierror"

	"github.com/steveyegge/twinsync/internal/reconcile"
)

// Target receives one call per change. Implementations must be idempotent:
// a batch that partially failed may be applied again.
type Target interface {
	AddFile(ctx context.Context, side reconcile.Side, c reconcile.Change) error
	PutFolder(ctx context.Context, side reconcile.Side, c reconcile.Change) error
	UpdateFile(ctx context.Context, side reconcile.Side, c reconcile.Change) error
	MoveFile(ctx context.Context, side reconcile.Side, c reconcile.Change) error
	MoveFolder(ctx context.Context, side reconcile.Side, c reconcile.Change) error
	TrashFile(ctx context.Context, side reconcile.Side, c reconcile.Change) error
	TrashFolder(ctx context.Context, side reconcile.Side, c reconcile.Change) error
}

// Store is the part of the metadata store the applier needs.
type Store interface {
	Lock(ctx context.Context, owner string) (func(), error)
	GetContext(ctx context.Context, path string) (*reconcile.Snapshot, error)
}

// Config holds applier configuration.
type Config struct {
	// Logger for apply events. If nil, uses default logger.
	Logger *log.Logger

	// OnApplied, if set, is called after every change with its outcome.
	OnApplied func(side reconcile.Side, c reconcile.Change, err error)
}

// DefaultConfig returns the default applier configuration.
func DefaultConfig() Config {
	return Config{
		Logger: log.New(os.Stderr, "[apply] ", log.LstdFlags),
	}
}

// Applier applies sorted batches of changes.
type Applier struct {
	store  Store
	target Target
	config Config
	logger *log.Logger
}

// New creates an applier with the default configuration.
func New(store Store, target Target) *Applier {
	return NewWithConfig(store, target, DefaultConfig())
}

// NewWithConfig creates an applier with a custom configuration.
func NewWithConfig(store Store, target Target, config Config) *Applier {
	logger := config.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Applier{
		store:  store,
		target: target,
		config: config,
		logger: logger,
	}
}

// Apply applies changes in order while holding the store lock.
//
// ctx only bounds the wait for the lock. The returned error, if any, is a
// *multierror.Error of *ApplyError values; use Failed to inspect them.
// Changes not listed there have taken effect.
func (a *Applier) Apply(ctx context.Context, side reconcile.Side, changes []reconcile.Change) error {
	release, err := a.store.Lock(ctx, side.String())
	if err != nil {
		return fmt.Errorf("failed to lock metadata store: %w", err)
	}
	defer release()

	var result *multierror.Error
	for _, c := range changes {
		err := a.applyOne(ctx, side, c)
		if a.config.OnApplied != nil {
			a.config.OnApplied(side, c, err)
		}
		if err != nil {
			a.logger.Printf("WARNING: %s %s failed: %v", side, c, err)
			result = multierror.Append(result, &ApplyError{Change: c, Err: err})
		}
	}

	if result != nil {
		a.logger.Printf("%s batch applied: %d changes, %d failed", side, len(changes), len(result.Errors))
	} else {
		a.logger.Printf("%s batch applied: %d changes", side, len(changes))
	}
	return result.ErrorOrNil()
}

func (a *Applier) applyOne(ctx context.Context, side reconcile.Side, c reconcile.Change) error {
	switch c.Kind {
	case reconcile.KindIgnored:
		a.logger.Printf("Ignoring %s: %s", c.Path, c.Reason)
		return nil

	case reconcile.KindDescendant:
		// Replayed with their ancestor move.
		return nil

	case reconcile.KindAddition:
		if c.DocType == reconcile.Dir {
			return a.target.PutFolder(ctx, side, c)
		}
		return a.target.AddFile(ctx, side, c)

	case reconcile.KindUpdate:
		return a.target.UpdateFile(ctx, side, c)

	case reconcile.KindDeletion, reconcile.KindTrashing:
		if c.DocType == reconcile.Dir {
			return a.target.TrashFolder(ctx, side, c)
		}
		return a.target.TrashFile(ctx, side, c)

	case reconcile.KindMove:
		return a.applyMove(ctx, side, c)
	}
	return fmt.Errorf("unexpected change kind %s", c.Kind)
}

func (a *Applier) applyMove(ctx context.Context, side reconcile.Side, c reconcile.Change) error {
	if c.NeedRefetch {
		fresh, err := a.store.GetContext(ctx, c.SourcePath())
		if err != nil {
			return &RefetchError{Path: c.SourcePath(), Err: err}
		}
		c = c.Clone()
		c.Source = fresh
		c.NeedRefetch = false
	}

	var err error
	if c.DocType == reconcile.Dir {
		err = a.target.MoveFolder(ctx, side, c)
	} else {
		err = a.target.MoveFile(ctx, side, c)
	}
	if err != nil {
		return err
	}
	if c.Overwrite != nil {
		a.logger.Printf("%s replaced %s", c, c.Overwrite.Path)
	}

	if c.Update != nil {
		if err := a.target.UpdateFile(ctx, side, updateOf(c.Identity, c.Update)); err != nil {
			return fmt.Errorf("failed to replay update after move: %w", err)
		}
	}
	return a.replayDescendants(ctx, side, c.Descendants)
}

// replayDescendants applies the content updates that arrived in the same
// batch as the move of an ancestor directory.
func (a *Applier) replayDescendants(ctx context.Context, side reconcile.Side, descendants []reconcile.Change) error {
	for _, d := range descendants {
		if d.Update != nil {
			if err := a.target.UpdateFile(ctx, side, updateOf(d.Identity, d.Update)); err != nil {
				return fmt.Errorf("failed to replay update of %s: %w", d.Path, err)
			}
		}
		if err := a.replayDescendants(ctx, side, d.Descendants); err != nil {
			return err
		}
	}
	return nil
}

func updateOf(id reconcile.Identity, u *reconcile.Update) reconcile.Change {
	attrs := u.Attrs
	return reconcile.Change{
		Kind:     reconcile.KindUpdate,
		DocType:  reconcile.File,
		Path:     u.Path,
		Identity: id,
		Attrs:    &attrs,
	}
}
