package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/steveyegge/twinsync/internal/reconcile"
)

func writeFile(t *testing.T, path, content string) string {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("failed to create dir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}
	id, err := fileID(path)
	if err != nil {
		t.Fatalf("fileID() failed: %v", err)
	}
	return id
}

func TestScan_DetectsOfflineChanges(t *testing.T) {
	root := t.TempDir()
	store := setupStore(t)

	idA := writeFile(t, filepath.Join(root, "a"), "same")
	sumA, _, _ := checksum(filepath.Join(root, "a"))
	idB := writeFile(t, filepath.Join(root, "b"), "edited")
	writeFile(t, filepath.Join(root, "c"), "new")
	idMoved := writeFile(t, filepath.Join(root, "moved"), "kept")
	writeFile(t, filepath.Join(root, "junk.tmp"), "ignored")

	if err := store.BulkPut([]*reconcile.Snapshot{
		{Path: "a", DocType: reconcile.File, LocalID: idA, Size: 4, Checksum: sumA},
		{Path: "b", DocType: reconcile.File, LocalID: idB, Size: 3, Checksum: "stale"},
		{Path: "old", DocType: reconcile.File, LocalID: idMoved, Size: 4},
		{Path: "deleted", DocType: reconcile.File, LocalID: "999999999"},
	}); err != nil {
		t.Fatalf("BulkPut() failed: %v", err)
	}

	fw, err := NewFileWatcher(root, store, testConfig())
	if err != nil {
		t.Fatalf("NewFileWatcher() failed: %v", err)
	}
	defer fw.Stop()

	events, err := fw.Scan(context.Background())
	if err != nil {
		t.Fatalf("Scan() failed: %v", err)
	}

	want := []struct {
		kind reconcile.EventKind
		path string
	}{
		{reconcile.EventChange, "b"},
		{reconcile.EventAdd, "c"},
		{reconcile.EventAdd, "moved"},
		{reconcile.EventUnlink, "deleted"},
	}
	if len(events) != len(want) {
		t.Fatalf("Scan() = %v, want %d events", events, len(want))
	}
	for i, w := range want {
		if events[i].Kind != w.kind || events[i].Path != w.path {
			t.Errorf("event %d = %s, want %s(%s)", i, events[i], w.kind, w.path)
		}
	}
	if prev := events[2].Previous; prev == nil || prev.Path != "old" {
		t.Errorf("moved previous = %+v, want the record at old", prev)
	}

	res, err := reconcile.Analyse(reconcile.SideLocal, events, nil, reconcile.Options{})
	if err != nil {
		t.Fatalf("Analyse() failed: %v", err)
	}
	var move *reconcile.Change
	for i := range res.Changes {
		if res.Changes[i].Kind == reconcile.KindMove {
			move = &res.Changes[i]
		}
	}
	if move == nil || move.SourcePath() != "old" || move.Path != "moved" {
		t.Errorf("changes = %v, want a move from old to moved", res.Changes)
	}
}

func TestScan_OfflineDirMoveWithRewrite(t *testing.T) {
	root := t.TempDir()
	store := setupStore(t)

	idF := writeFile(t, filepath.Join(root, "dst", "f"), "rewritten")
	idDir, err := fileID(filepath.Join(root, "dst"))
	if err != nil {
		t.Fatalf("fileID() failed: %v", err)
	}
	if err := store.BulkPut([]*reconcile.Snapshot{
		{Path: "src", DocType: reconcile.Dir, LocalID: idDir},
		{Path: "src/f", DocType: reconcile.File, LocalID: idF, Size: 4, Checksum: "before"},
	}); err != nil {
		t.Fatalf("BulkPut() failed: %v", err)
	}

	fw, err := NewFileWatcher(root, store, testConfig())
	if err != nil {
		t.Fatalf("NewFileWatcher() failed: %v", err)
	}
	defer fw.Stop()

	events, err := fw.Scan(context.Background())
	if err != nil {
		t.Fatalf("Scan() failed: %v", err)
	}
	res, err := reconcile.Analyse(reconcile.SideLocal, events, nil, reconcile.Options{})
	if err != nil {
		t.Fatalf("Analyse() failed: %v", err)
	}

	if len(res.Changes) != 2 {
		t.Fatalf("changes = %v, want the directory move and an update", res.Changes)
	}
	if m := res.Changes[0]; !m.IsDirMove() || m.SourcePath() != "src" || m.Path != "dst" {
		t.Errorf("changes[0] = %s, want a move from src to dst", m)
	}
	u := res.Changes[1]
	if u.Kind != reconcile.KindUpdate || u.Path != "dst/f" {
		t.Fatalf("changes[1] = %s, want an update of dst/f", u)
	}
	if u.Attrs == nil || u.Attrs.Size != int64(len("rewritten")) {
		t.Errorf("update attrs = %+v, want the rewritten size", u.Attrs)
	}
}

func TestScan_WithoutStore(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "d", "f"), "x")

	fw, err := NewFileWatcher(root, nil, testConfig())
	if err != nil {
		t.Fatalf("NewFileWatcher() failed: %v", err)
	}
	defer fw.Stop()

	events, err := fw.Scan(context.Background())
	if err != nil {
		t.Fatalf("Scan() failed: %v", err)
	}
	if len(events) != 2 || events[0].Kind != reconcile.EventAddDir || events[1].Path != "d/f" {
		t.Errorf("Scan() = %v, want addDir(d) then add(d/f)", events)
	}
}
