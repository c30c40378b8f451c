package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"

	"github.com/steveyegge/twinsync/internal/reconcile"
)

// Scan compares the tree under root with the metadata store and returns
// the events that bring the store up to date with what happened while
// nothing was watching.
//
// An entry whose inode is recorded at another path is reported as an add
// carrying that record, which the reconciler turns into a move. Records
// whose path is gone and whose inode was not seen elsewhere are reported
// as unlinks, deepest first. Entries whose record is current produce
// nothing.
func (fw *FileWatcher) Scan(ctx context.Context) ([]reconcile.Event, error) {
	var events []reconcile.Event
	seenPaths := make(map[string]bool)
	seenIDs := make(map[string]bool)

	err := filepath.WalkDir(fw.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, ok := fw.relative(path)
		if !ok || rel == "" {
			return nil
		}
		if fw.ignored(rel) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		e, ok := fw.observe(rel, reconcile.EventAdd)
		if !ok {
			return nil
		}
		seenPaths[rel] = true
		if e.Identity.Known() {
			seenIDs[string(e.Identity)] = true
		}
		if e, ok := fw.reconcileEntry(ctx, e); ok {
			events = append(events, e)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", fw.root, err)
	}

	if fw.lookup == nil {
		return events, nil
	}
	records, err := fw.lookup.ListContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list metadata records: %w", err)
	}
	var gone []reconcile.Event
	for _, rec := range records {
		if seenPaths[rec.Path] || fw.ignored(rec.Path) {
			continue
		}
		if rec.LocalID == "" || seenIDs[rec.LocalID] {
			continue
		}
		kind := reconcile.EventUnlink
		if rec.DocType == reconcile.Dir {
			kind = reconcile.EventUnlinkDir
		}
		gone = append(gone, reconcile.Event{
			Kind:     kind,
			Path:     rec.Path,
			Identity: reconcile.Identity(rec.LocalID),
			Previous: rec,
		})
	}
	sort.SliceStable(gone, func(i, j int) bool { return gone[i].Path > gone[j].Path })

	fw.config.Logger.Printf("Scan of %s: %d changed, %d gone", fw.root, len(events), len(gone))
	return append(events, gone...), nil
}

// reconcileEntry decides what an entry found by the scan means given the
// store. It returns false for entries that are already up to date.
func (fw *FileWatcher) reconcileEntry(ctx context.Context, e reconcile.Event) (reconcile.Event, bool) {
	if fw.lookup == nil {
		return e, true
	}

	if rec, err := fw.lookup.GetContext(ctx, e.Path); err == nil && rec.LocalID == string(e.Identity) {
		if e.Kind == reconcile.EventAddDir || e.Attrs == nil {
			return e, false
		}
		if rec.Size == e.Attrs.Size && rec.Checksum == e.Attrs.Checksum {
			return e, false
		}
		e.Kind = reconcile.EventChange
		e.Previous = rec
		return e, true
	}

	if e.Identity.Known() {
		if rec, err := fw.lookup.GetByLocalIDContext(ctx, string(e.Identity)); err == nil {
			e.Previous = rec
		}
	}
	return e, true
}
