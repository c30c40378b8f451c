package remote

import (
	"context"
	"fmt"

	"github.com/steveyegge/twinsync/internal/metadata"
	"github.com/steveyegge/twinsync/internal/reconcile"
)

// Lookup finds the metadata store record of a remote document.
type Lookup interface {
	GetByRemoteIDContext(ctx context.Context, id string) (*reconcile.Snapshot, error)
}

// Events converts a page of the changes feed into reconcile events.
//
// Only the last revision of each document in docs is considered. The
// record the store holds for the document decides what the revision means:
//
//	no record, live doc          add / addDir
//	no record, trashed/deleted   nothing
//	record, deleted              unlink at the recorded path
//	record, trashed              trashed unlink at the trash path
//	record at another path       add carrying the record (a move)
//	record at the same path      change if the content differs
func Events(ctx context.Context, lookup Lookup, docs []Doc) ([]reconcile.Event, error) {
	var events []reconcile.Event
	for _, doc := range latest(docs) {
		was, err := lookupWas(ctx, lookup, doc.ID)
		if err != nil {
			return nil, err
		}
		if e, ok := eventOf(doc, was); ok {
			events = append(events, e)
		}
	}
	return events, nil
}

func lookupWas(ctx context.Context, lookup Lookup, id string) (*reconcile.Snapshot, error) {
	if lookup == nil {
		return nil, nil
	}
	was, err := lookup.GetByRemoteIDContext(ctx, id)
	if metadata.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up remote doc %s: %w", id, err)
	}
	return was, nil
}

func eventOf(doc Doc, was *reconcile.Snapshot) (reconcile.Event, bool) {
	id := reconcile.Identity(doc.ID)
	dir := doc.DocType == reconcile.Dir

	switch {
	case was == nil && (doc.Deleted || doc.Trashed):
		return reconcile.Event{}, false

	case was == nil:
		return reconcile.Event{Kind: addKind(dir), Path: doc.Path, Identity: id, Attrs: doc.attrs()}, true

	case doc.Deleted:
		return reconcile.Event{Kind: unlinkKind(was.DocType == reconcile.Dir), Path: was.Path, Identity: id, Previous: was}, true

	case doc.Trashed:
		return reconcile.Event{Kind: unlinkKind(dir), Path: doc.Path, Identity: id, Previous: was, Trashed: true}, true

	case was.Path != doc.Path:
		return reconcile.Event{Kind: addKind(dir), Path: doc.Path, Identity: id, Attrs: doc.attrs(), Previous: was}, true

	case dir:
		return reconcile.Event{}, false

	case was.Checksum == doc.Checksum && was.Size == doc.Size:
		return reconcile.Event{}, false
	}
	return reconcile.Event{Kind: reconcile.EventChange, Path: doc.Path, Identity: id, Attrs: doc.attrs(), Previous: was}, true
}

func addKind(dir bool) reconcile.EventKind {
	if dir {
		return reconcile.EventAddDir
	}
	return reconcile.EventAdd
}

func unlinkKind(dir bool) reconcile.EventKind {
	if dir {
		return reconcile.EventUnlinkDir
	}
	return reconcile.EventUnlink
}

// latest keeps the last revision of every document, in the order those
// last revisions appear.
func latest(docs []Doc) []Doc {
	last := make(map[string]int, len(docs))
	for i, d := range docs {
		last[d.ID] = i
	}
	out := make([]Doc, 0, len(last))
	for i, d := range docs {
		if last[d.ID] == i {
			out = append(out, d)
		}
	}
	return out
}
