package apply

import (
	"context"
	"fmt"

	"github.com/steveyegge/twinsync/internal/metadata"
	"github.com/steveyegge/twinsync/internal/reconcile"
)

// Records is the part of the metadata store StoreTarget writes to.
type Records interface {
	GetContext(ctx context.Context, path string) (*reconcile.Snapshot, error)
	PutContext(ctx context.Context, snap *reconcile.Snapshot) error
	DeleteContext(ctx context.Context, path string) error
	MoveTreeContext(ctx context.Context, from, to string) error
}

// StoreTarget is a Target that records every change in the metadata store.
// It is what a side uses to acknowledge changes it observed itself.
type StoreTarget struct {
	records Records
}

// NewStoreTarget creates a StoreTarget writing to records.
func NewStoreTarget(records Records) *StoreTarget {
	return &StoreTarget{records: records}
}

// AddFile implements Target.
func (t *StoreTarget) AddFile(ctx context.Context, side reconcile.Side, c reconcile.Change) error {
	return t.upsert(ctx, side, c)
}

// PutFolder implements Target.
func (t *StoreTarget) PutFolder(ctx context.Context, side reconcile.Side, c reconcile.Change) error {
	return t.upsert(ctx, side, c)
}

// UpdateFile implements Target.
func (t *StoreTarget) UpdateFile(ctx context.Context, side reconcile.Side, c reconcile.Change) error {
	return t.upsert(ctx, side, c)
}

// MoveFile implements Target.
func (t *StoreTarget) MoveFile(ctx context.Context, side reconcile.Side, c reconcile.Change) error {
	return t.move(ctx, side, c)
}

// MoveFolder implements Target.
func (t *StoreTarget) MoveFolder(ctx context.Context, side reconcile.Side, c reconcile.Change) error {
	return t.move(ctx, side, c)
}

// TrashFile implements Target.
func (t *StoreTarget) TrashFile(ctx context.Context, side reconcile.Side, c reconcile.Change) error {
	return t.remove(ctx, c)
}

// TrashFolder implements Target.
func (t *StoreTarget) TrashFolder(ctx context.Context, side reconcile.Side, c reconcile.Change) error {
	return t.remove(ctx, c)
}

func (t *StoreTarget) move(ctx context.Context, side reconcile.Side, c reconcile.Change) error {
	if c.Source == nil {
		return fmt.Errorf("move to %s has no source", c.Path)
	}
	if err := t.records.MoveTreeContext(ctx, c.Source.Path, c.Path); err != nil {
		return err
	}
	return t.upsert(ctx, side, c)
}

func (t *StoreTarget) remove(ctx context.Context, c reconcile.Change) error {
	path := c.Path
	if c.Kind == reconcile.KindTrashing && c.Source != nil {
		path = c.Source.Path
	}
	return t.records.DeleteContext(ctx, path)
}

// upsert merges what c knows about the object into the record at c.Path,
// keeping the identity the other side registered.
func (t *StoreTarget) upsert(ctx context.Context, side reconcile.Side, c reconcile.Change) error {
	snap, err := t.records.GetContext(ctx, c.Path)
	switch {
	case metadata.IsNotFound(err):
		snap = &reconcile.Snapshot{Path: c.Path}
	case err != nil:
		return err
	}

	snap.DocType = c.DocType
	if c.Identity.Known() {
		if side == reconcile.SideRemote {
			snap.RemoteID = string(c.Identity)
		} else {
			snap.LocalID = string(c.Identity)
		}
	}
	if c.Attrs != nil {
		snap.Size = c.Attrs.Size
		snap.Checksum = c.Attrs.Checksum
		if c.Attrs.RemoteRev != "" {
			snap.RemoteRev = c.Attrs.RemoteRev
		}
	}
	snap.Trashed = false
	return t.records.PutContext(ctx, snap)
}
