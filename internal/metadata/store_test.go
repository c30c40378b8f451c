package metadata

import (
	"path/filepath"
	"testing"

	"github.com/steveyegge/twinsync/internal/reconcile"
)

// openTestStore opens a store in a temporary directory.
func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "metadata.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func file(path, localID string) *reconcile.Snapshot {
	return &reconcile.Snapshot{Path: path, DocType: reconcile.File, LocalID: localID, Size: 10, Checksum: "sum-" + path}
}

func dir(path, localID string) *reconcile.Snapshot {
	return &reconcile.Snapshot{Path: path, DocType: reconcile.Dir, LocalID: localID}
}

func TestOpen_CreatesSchema(t *testing.T) {
	s := openTestStore(t)

	var count int
	err := s.conn.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='documents'`).Scan(&count)
	if err != nil {
		t.Fatalf("failed to query schema: %v", err)
	}
	if count != 1 {
		t.Errorf("documents table missing")
	}

	if err := s.InitSchema(); err != nil {
		t.Errorf("second InitSchema() failed: %v", err)
	}
}

func TestPutGet_RoundTrip(t *testing.T) {
	s := openTestStore(t)

	want := &reconcile.Snapshot{
		Path:      "docs/a.txt",
		DocType:   reconcile.File,
		LocalID:   "42",
		RemoteID:  "r-42",
		RemoteRev: "3-abc",
		Size:      128,
		Checksum:  "d41d8cd9",
	}
	if err := s.Put(want); err != nil {
		t.Fatalf("Put() failed: %v", err)
	}

	got, err := s.Get("docs/a.txt")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if *got != *want {
		t.Errorf("Get() = %+v, want %+v", got, want)
	}

	byLocal, err := s.GetByLocalID("42")
	if err != nil {
		t.Fatalf("GetByLocalID() failed: %v", err)
	}
	if byLocal.Path != "docs/a.txt" {
		t.Errorf("GetByLocalID() path = %q", byLocal.Path)
	}

	byRemote, err := s.GetByRemoteID("r-42")
	if err != nil {
		t.Fatalf("GetByRemoteID() failed: %v", err)
	}
	if byRemote.RemoteRev != "3-abc" {
		t.Errorf("GetByRemoteID() rev = %q", byRemote.RemoteRev)
	}
}

func TestPut_Upsert(t *testing.T) {
	s := openTestStore(t)

	if err := s.Put(file("a", "1")); err != nil {
		t.Fatalf("Put() failed: %v", err)
	}
	updated := file("a", "1")
	updated.Size = 99
	if err := s.Put(updated); err != nil {
		t.Fatalf("Put() failed: %v", err)
	}

	got, err := s.Get("a")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if got.Size != 99 {
		t.Errorf("Size = %d, want 99", got.Size)
	}
	if n, _ := s.Count(); n != 1 {
		t.Errorf("Count() = %d, want 1", n)
	}
}

func TestGet_NotFound(t *testing.T) {
	s := openTestStore(t)

	tests := []struct {
		name string
		get  func() error
	}{
		{"path", func() error { _, err := s.Get("missing"); return err }},
		{"local id", func() error { _, err := s.GetByLocalID("7"); return err }},
		{"empty local id", func() error { _, err := s.GetByLocalID(""); return err }},
		{"remote id", func() error { _, err := s.GetByRemoteID("r"); return err }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.get()
			if !IsNotFound(err) {
				t.Errorf("error = %v, want ErrNotFound", err)
			}
		})
	}
}

func TestBulkPut(t *testing.T) {
	s := openTestStore(t)

	snaps := []*reconcile.Snapshot{dir("d", "1"), file("d/a", "2"), file("d/b", "3")}
	if err := s.BulkPut(snaps); err != nil {
		t.Fatalf("BulkPut() failed: %v", err)
	}

	all, err := s.List()
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("List() returned %d records, want 3", len(all))
	}
	if all[0].Path != "d" || all[0].DocType != reconcile.Dir {
		t.Errorf("first record = %+v", all[0])
	}
}

func TestBulkPut_RollsBackOnError(t *testing.T) {
	s := openTestStore(t)

	err := s.BulkPut([]*reconcile.Snapshot{file("ok", "1"), {Path: ""}})
	if err == nil {
		t.Fatal("BulkPut() with an invalid record succeeded")
	}
	if n, _ := s.Count(); n != 0 {
		t.Errorf("Count() = %d after rollback, want 0", n)
	}
}

func TestDelete_Subtree(t *testing.T) {
	s := openTestStore(t)
	if err := s.BulkPut([]*reconcile.Snapshot{dir("d", "1"), file("d/a", "2"), file("d2", "3")}); err != nil {
		t.Fatalf("BulkPut() failed: %v", err)
	}

	if err := s.Delete("d"); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}
	if err := s.Delete("never-existed"); err != nil {
		t.Errorf("Delete() of missing path failed: %v", err)
	}

	all, _ := s.List()
	if len(all) != 1 || all[0].Path != "d2" {
		t.Errorf("remaining records = %+v, want only d2", all)
	}
}

func TestMoveTree(t *testing.T) {
	s := openTestStore(t)
	if err := s.BulkPut([]*reconcile.Snapshot{
		dir("src", "1"),
		file("src/a", "2"),
		dir("src/sub", "3"),
		file("src/sub/b", "4"),
		file("srcfile", "5"),
		file("dst", "6"),
	}); err != nil {
		t.Fatalf("BulkPut() failed: %v", err)
	}

	if err := s.MoveTree("src", "dst"); err != nil {
		t.Fatalf("MoveTree() failed: %v", err)
	}

	all, _ := s.List()
	var paths []string
	for _, snap := range all {
		paths = append(paths, snap.Path)
	}
	want := []string{"dst", "dst/a", "dst/sub", "dst/sub/b", "srcfile"}
	if len(paths) != len(want) {
		t.Fatalf("paths = %v, want %v", paths, want)
	}
	for i := range want {
		if paths[i] != want[i] {
			t.Errorf("paths[%d] = %q, want %q", i, paths[i], want[i])
		}
	}

	got, err := s.GetByLocalID("4")
	if err != nil {
		t.Fatalf("GetByLocalID() failed: %v", err)
	}
	if got.Path != "dst/sub/b" {
		t.Errorf("moved child path = %q", got.Path)
	}
}

func TestMoveTree_MissingSource(t *testing.T) {
	s := openTestStore(t)
	if err := s.MoveTree("nope", "dst"); !IsNotFound(err) {
		t.Errorf("MoveTree() error = %v, want ErrNotFound", err)
	}
}
