package watcher

import (
	"io"
	"log"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/steveyegge/twinsync/internal/metadata"
	"github.com/steveyegge/twinsync/internal/reconcile"
)

func testConfig() *Config {
	return &Config{
		Ignore: []string{"*.tmp"},
		Logger: log.New(io.Discard, "", 0),
	}
}

func setupStore(t *testing.T) *metadata.Store {
	t.Helper()
	s, err := metadata.Open(filepath.Join(t.TempDir(), "metadata.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func startWatcher(t *testing.T, root string, lookup Lookup) *FileWatcher {
	t.Helper()
	fw, err := NewFileWatcher(root, lookup, testConfig())
	if err != nil {
		t.Fatalf("NewFileWatcher() failed: %v", err)
	}
	if err := fw.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	t.Cleanup(func() { _ = fw.Stop() })
	return fw
}

// waitForEvent returns the first event matching match.
func waitForEvent(t *testing.T, fw *FileWatcher, match func(reconcile.Event) bool) reconcile.Event {
	t.Helper()
	timeout := time.After(3 * time.Second)
	for {
		select {
		case e := <-fw.Events():
			if match(e) {
				return e
			}
		case err := <-fw.Errors():
			t.Fatalf("watcher error: %v", err)
		case <-timeout:
			t.Fatal("timed out waiting for event")
		}
	}
}

// moveIn writes a file outside root and renames it in, so that it shows
// up with its final content in a single Create.
func moveIn(t *testing.T, root, rel, content string) string {
	t.Helper()
	staging := filepath.Join(t.TempDir(), "staged")
	if err := os.WriteFile(staging, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}
	dst := filepath.Join(root, rel)
	if err := os.Rename(staging, dst); err != nil {
		t.Fatalf("failed to move file in: %v", err)
	}
	return dst
}

func TestNewFileWatcher(t *testing.T) {
	if _, err := NewFileWatcher("", nil, nil); err == nil {
		t.Error("NewFileWatcher() with empty root should fail")
	}

	fw, err := NewFileWatcher(t.TempDir(), nil, testConfig())
	if err != nil {
		t.Fatalf("NewFileWatcher() failed: %v", err)
	}
	defer fw.Stop()

	if fw.IsRunning() {
		t.Error("Newly created watcher should not be running")
	}
}

func TestFileWatcher_StartStop(t *testing.T) {
	fw, err := NewFileWatcher(t.TempDir(), nil, testConfig())
	if err != nil {
		t.Fatalf("NewFileWatcher() failed: %v", err)
	}

	if err := fw.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	if !fw.IsRunning() {
		t.Error("Watcher should be running after Start()")
	}
	if err := fw.Start(); err == nil {
		t.Error("Second Start() should fail when watcher is already running")
	}

	if err := fw.Stop(); err != nil {
		t.Fatalf("Stop() failed: %v", err)
	}
	if fw.IsRunning() {
		t.Error("Watcher should not be running after Stop()")
	}
}

func TestFileWatcher_FileCreated(t *testing.T) {
	root := t.TempDir()
	fw := startWatcher(t, root, nil)

	path := moveIn(t, root, "notes.txt", "hello")
	want, _, err := checksum(path)
	if err != nil {
		t.Fatalf("checksum() failed: %v", err)
	}
	id, _ := fileID(path)

	e := waitForEvent(t, fw, func(e reconcile.Event) bool { return e.Path == "notes.txt" })
	if e.Kind != reconcile.EventAdd {
		t.Errorf("Kind = %s, want add", e.Kind)
	}
	if string(e.Identity) != id {
		t.Errorf("Identity = %q, want inode %q", e.Identity, id)
	}
	if e.Attrs == nil || e.Attrs.Checksum != want || e.Attrs.Size != 5 {
		t.Errorf("Attrs = %+v, want size 5 checksum %s", e.Attrs, want)
	}
}

func TestFileWatcher_DirectoryCreatedWithContent(t *testing.T) {
	root := t.TempDir()
	fw := startWatcher(t, root, nil)

	staging := filepath.Join(t.TempDir(), "pkg")
	if err := os.MkdirAll(filepath.Join(staging, "sub"), 0755); err != nil {
		t.Fatalf("failed to create dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(staging, "sub", "f"), []byte("x"), 0644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}
	if err := os.Rename(staging, filepath.Join(root, "pkg")); err != nil {
		t.Fatalf("failed to move dir in: %v", err)
	}

	seen := map[string]reconcile.EventKind{}
	for len(seen) < 3 {
		e := waitForEvent(t, fw, func(reconcile.Event) bool { return true })
		seen[e.Path] = e.Kind
	}
	if seen["pkg"] != reconcile.EventAddDir || seen["pkg/sub"] != reconcile.EventAddDir || seen["pkg/sub/f"] != reconcile.EventAdd {
		t.Errorf("events = %v", seen)
	}

	// The new directory is watched.
	moveIn(t, root, "pkg/sub/g", "y")
	waitForEvent(t, fw, func(e reconcile.Event) bool { return e.Path == "pkg/sub/g" })
}

func TestFileWatcher_RemovedUsesStoreIdentity(t *testing.T) {
	root := t.TempDir()
	store := setupStore(t)
	path := filepath.Join(root, "gone.txt")
	if err := os.WriteFile(path, []byte("bye"), 0644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}
	if err := store.Put(&reconcile.Snapshot{Path: "gone.txt", DocType: reconcile.File, LocalID: "42"}); err != nil {
		t.Fatalf("Put() failed: %v", err)
	}

	fw := startWatcher(t, root, store)
	if err := os.Remove(path); err != nil {
		t.Fatalf("failed to remove file: %v", err)
	}

	e := waitForEvent(t, fw, func(e reconcile.Event) bool { return e.Path == "gone.txt" })
	if e.Kind != reconcile.EventUnlink {
		t.Errorf("Kind = %s, want unlink", e.Kind)
	}
	if e.Identity != "42" || e.Previous == nil || e.Previous.LocalID != "42" {
		t.Errorf("event = %+v, want identity and previous record from the store", e)
	}
}

func TestFileWatcher_DirectoryRemoved(t *testing.T) {
	root := t.TempDir()
	if err := os.Mkdir(filepath.Join(root, "d"), 0755); err != nil {
		t.Fatalf("failed to create dir: %v", err)
	}
	fw := startWatcher(t, root, nil)

	if err := os.Remove(filepath.Join(root, "d")); err != nil {
		t.Fatalf("failed to remove dir: %v", err)
	}
	e := waitForEvent(t, fw, func(e reconcile.Event) bool { return e.Path == "d" })
	if e.Kind != reconcile.EventUnlinkDir {
		t.Errorf("Kind = %s, want unlinkDir", e.Kind)
	}
}

func TestFileWatcher_Ignored(t *testing.T) {
	root := t.TempDir()
	fw := startWatcher(t, root, nil)

	moveIn(t, root, "scratch.tmp", "x")
	moveIn(t, root, "kept.txt", "y")

	e := waitForEvent(t, fw, func(reconcile.Event) bool { return true })
	if e.Path != "kept.txt" {
		t.Errorf("first event for %s, want kept.txt", e.Path)
	}
}

func TestConvertEvent(t *testing.T) {
	root := t.TempDir()
	fw, err := NewFileWatcher(root, nil, testConfig())
	if err != nil {
		t.Fatalf("NewFileWatcher() failed: %v", err)
	}
	defer fw.Stop()

	if err := os.WriteFile(filepath.Join(root, "f"), []byte("x"), 0644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}

	tests := []struct {
		name  string
		event fsnotify.Event
		want  []reconcile.EventKind
	}{
		{"chmod ignored", fsnotify.Event{Name: filepath.Join(root, "f"), Op: fsnotify.Chmod}, nil},
		{"write", fsnotify.Event{Name: filepath.Join(root, "f"), Op: fsnotify.Write}, []reconcile.EventKind{reconcile.EventChange}},
		{"create", fsnotify.Event{Name: filepath.Join(root, "f"), Op: fsnotify.Create}, []reconcile.EventKind{reconcile.EventAdd}},
		{"rename", fsnotify.Event{Name: filepath.Join(root, "old"), Op: fsnotify.Rename}, []reconcile.EventKind{reconcile.EventUnlink}},
		{"create vanished", fsnotify.Event{Name: filepath.Join(root, "missing"), Op: fsnotify.Create}, nil},
		{"outside root", fsnotify.Event{Name: filepath.Join(filepath.Dir(root), "x"), Op: fsnotify.Create}, nil},
		{"ignored", fsnotify.Event{Name: filepath.Join(root, "a.tmp"), Op: fsnotify.Remove}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := fw.convertEvent(tt.event)
			if len(got) != len(tt.want) {
				t.Fatalf("convertEvent() = %v, want kinds %v", got, tt.want)
			}
			for i := range got {
				if got[i].Kind != tt.want[i] {
					t.Errorf("event %d kind = %s, want %s", i, got[i].Kind, tt.want[i])
				}
			}
		})
	}
}
