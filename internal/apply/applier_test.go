package apply

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/steveyegge/twinsync/internal/metadata"
	"github.com/steveyegge/twinsync/internal/reconcile"
)

// recordingTarget logs every call and fails the paths listed in failOn.
type recordingTarget struct {
	calls  []string
	failOn map[string]bool
	store  *metadata.Store
	holder []string
}

func (r *recordingTarget) record(op string, c reconcile.Change) error {
	entry := op + " " + c.Path
	if c.Source != nil && (op == "MoveFile" || op == "MoveFolder") {
		entry = fmt.Sprintf("%s %s->%s", op, c.Source.Path, c.Path)
	}
	r.calls = append(r.calls, entry)
	if r.store != nil {
		r.holder = append(r.holder, r.store.LockHolder())
	}
	if r.failOn[c.Path] {
		return errors.New("boom")
	}
	return nil
}

func (r *recordingTarget) AddFile(_ context.Context, _ reconcile.Side, c reconcile.Change) error {
	return r.record("AddFile", c)
}
func (r *recordingTarget) PutFolder(_ context.Context, _ reconcile.Side, c reconcile.Change) error {
	return r.record("PutFolder", c)
}
func (r *recordingTarget) UpdateFile(_ context.Context, _ reconcile.Side, c reconcile.Change) error {
	return r.record("UpdateFile", c)
}
func (r *recordingTarget) MoveFile(_ context.Context, _ reconcile.Side, c reconcile.Change) error {
	return r.record("MoveFile", c)
}
func (r *recordingTarget) MoveFolder(_ context.Context, _ reconcile.Side, c reconcile.Change) error {
	return r.record("MoveFolder", c)
}
func (r *recordingTarget) TrashFile(_ context.Context, _ reconcile.Side, c reconcile.Change) error {
	return r.record("TrashFile", c)
}
func (r *recordingTarget) TrashFolder(_ context.Context, _ reconcile.Side, c reconcile.Change) error {
	return r.record("TrashFolder", c)
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

func testConfig() Config {
	return Config{}
}

func TestApply_DispatchesInOrder(t *testing.T) {
	store := setupStore(t)
	target := &recordingTarget{store: store}
	a := NewWithConfig(store, target, testConfig())

	changes := []reconcile.Change{
		{Kind: reconcile.KindAddition, DocType: reconcile.Dir, Path: "d"},
		{Kind: reconcile.KindAddition, DocType: reconcile.File, Path: "d/f"},
		{Kind: reconcile.KindUpdate, DocType: reconcile.File, Path: "u"},
		{Kind: reconcile.KindMove, DocType: reconcile.File, Path: "b", Source: &reconcile.Snapshot{Path: "a"}},
		{Kind: reconcile.KindIgnored, Path: "i", Reason: "identical renaming loopback"},
		{Kind: reconcile.KindDeletion, DocType: reconcile.File, Path: "x/y"},
		{Kind: reconcile.KindTrashing, DocType: reconcile.Dir, Path: "x", Source: &reconcile.Snapshot{Path: "x"}},
	}
	if err := a.Apply(context.Background(), reconcile.SideLocal, changes); err != nil {
		t.Fatalf("Apply() failed: %v", err)
	}

	want := []string{
		"PutFolder d",
		"AddFile d/f",
		"UpdateFile u",
		"MoveFile a->b",
		"TrashFile x/y",
		"TrashFolder x",
	}
	if strings.Join(target.calls, "|") != strings.Join(want, "|") {
		t.Errorf("calls = %v, want %v", target.calls, want)
	}
	for i, h := range target.holder {
		if h != "local" {
			t.Errorf("call %d made while lock held by %q", i, h)
		}
	}
	if store.LockHolder() != "" {
		t.Errorf("lock still held by %q", store.LockHolder())
	}
}

func TestApply_AggregatesFailures(t *testing.T) {
	store := setupStore(t)
	target := &recordingTarget{failOn: map[string]bool{"bad1": true, "bad2": true}}
	a := NewWithConfig(store, target, testConfig())

	changes := []reconcile.Change{
		{Kind: reconcile.KindAddition, Path: "ok1"},
		{Kind: reconcile.KindAddition, Path: "bad1"},
		{Kind: reconcile.KindAddition, Path: "ok2"},
		{Kind: reconcile.KindUpdate, Path: "bad2"},
	}
	err := a.Apply(context.Background(), reconcile.SideRemote, changes)
	if err == nil {
		t.Fatal("Apply() succeeded despite failures")
	}
	if len(target.calls) != 4 {
		t.Errorf("attempted %d changes, want all 4", len(target.calls))
	}

	failed := Failed(err)
	if len(failed) != 2 {
		t.Fatalf("Failed() returned %d errors, want 2", len(failed))
	}
	if failed[0].Change.Path != "bad1" || failed[1].Change.Path != "bad2" {
		t.Errorf("failed = %v, %v", failed[0].Change, failed[1].Change)
	}

	// The lock was released despite the failures.
	release, err := store.Lock(context.Background(), "check")
	if err != nil {
		t.Fatalf("Lock() after failed batch: %v", err)
	}
	release()
}

func TestApply_RefetchesSource(t *testing.T) {
	store := setupStore(t)
	if err := store.Put(&reconcile.Snapshot{Path: "dst/sub", DocType: reconcile.File, LocalID: "7", Size: 3}); err != nil {
		t.Fatalf("Put() failed: %v", err)
	}

	var seen *reconcile.Snapshot
	target := &captureTarget{onMove: func(c reconcile.Change) { seen = c.Source }}
	a := NewWithConfig(store, target, testConfig())

	err := a.Apply(context.Background(), reconcile.SideLocal, []reconcile.Change{{
		Kind:        reconcile.KindMove,
		DocType:     reconcile.File,
		Path:        "dst/other",
		Source:      &reconcile.Snapshot{Path: "dst/sub"},
		NeedRefetch: true,
	}})
	if err != nil {
		t.Fatalf("Apply() failed: %v", err)
	}
	if seen == nil || seen.LocalID != "7" || seen.Size != 3 {
		t.Errorf("move source = %+v, want the stored record", seen)
	}
}

func TestApply_RefetchFailureScopedToChange(t *testing.T) {
	store := setupStore(t)
	target := &recordingTarget{}
	a := NewWithConfig(store, target, testConfig())

	err := a.Apply(context.Background(), reconcile.SideLocal, []reconcile.Change{
		{Kind: reconcile.KindMove, Path: "b", Source: &reconcile.Snapshot{Path: "missing"}, NeedRefetch: true},
		{Kind: reconcile.KindAddition, Path: "c"},
	})
	if !errors.Is(err, ErrRefetch) {
		t.Fatalf("Apply() error = %v, want ErrRefetch", err)
	}
	if !metadata.IsNotFound(err) {
		t.Errorf("Apply() error = %v, want wrapped ErrNotFound", err)
	}
	if len(target.calls) != 1 || target.calls[0] != "AddFile c" {
		t.Errorf("calls = %v, want only the addition", target.calls)
	}
	if len(Failed(err)) != 1 {
		t.Errorf("Failed() = %v", Failed(err))
	}
}

func TestApply_ReplaysUpdates(t *testing.T) {
	store := setupStore(t)
	target := &recordingTarget{}
	a := NewWithConfig(store, target, testConfig())

	move := reconcile.Change{
		Kind:    reconcile.KindMove,
		DocType: reconcile.Dir,
		Path:    "dst",
		Source:  &reconcile.Snapshot{Path: "src"},
		Descendants: []reconcile.Change{{
			Kind:         reconcile.KindDescendant,
			Path:         "dst/x",
			AncestorPath: "dst",
			Source:       &reconcile.Snapshot{Path: "src/x"},
			Descendants: []reconcile.Change{{
				Kind:         reconcile.KindDescendant,
				Path:         "dst/x/f",
				AncestorPath: "dst/x",
				Source:       &reconcile.Snapshot{Path: "src/x/f"},
				Update:       &reconcile.Update{Path: "dst/x/f", Attrs: reconcile.Attrs{Size: 5}},
			}},
		}},
	}
	file := reconcile.Change{
		Kind:   reconcile.KindMove,
		Path:   "g2",
		Source: &reconcile.Snapshot{Path: "g"},
		Update: &reconcile.Update{Path: "g2", Attrs: reconcile.Attrs{Size: 1}},
	}
	if err := a.Apply(context.Background(), reconcile.SideRemote, []reconcile.Change{move, file}); err != nil {
		t.Fatalf("Apply() failed: %v", err)
	}

	want := "MoveFolder src->dst|UpdateFile dst/x/f|MoveFile g->g2|UpdateFile g2"
	if got := strings.Join(target.calls, "|"); got != want {
		t.Errorf("calls = %s, want %s", got, want)
	}
}

func TestApply_OnApplied(t *testing.T) {
	store := setupStore(t)
	target := &recordingTarget{failOn: map[string]bool{"bad": true}}
	var outcomes []string
	a := NewWithConfig(store, target, Config{
		OnApplied: func(side reconcile.Side, c reconcile.Change, err error) {
			outcomes = append(outcomes, fmt.Sprintf("%s %s %v", side, c.Path, err != nil))
		},
	})

	_ = a.Apply(context.Background(), reconcile.SideLocal, []reconcile.Change{
		{Kind: reconcile.KindAddition, Path: "good"},
		{Kind: reconcile.KindAddition, Path: "bad"},
	})

	want := "local good false|local bad true"
	if got := strings.Join(outcomes, "|"); got != want {
		t.Errorf("outcomes = %s, want %s", got, want)
	}
}

func TestApply_LockTimeout(t *testing.T) {
	store := setupStore(t)
	release, err := store.Lock(context.Background(), "other")
	if err != nil {
		t.Fatalf("Lock() failed: %v", err)
	}
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	target := &recordingTarget{}
	err = NewWithConfig(store, target, testConfig()).Apply(ctx, reconcile.SideLocal, []reconcile.Change{
		{Kind: reconcile.KindAddition, Path: "a"},
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Apply() error = %v, want deadline exceeded", err)
	}
	if len(target.calls) != 0 {
		t.Errorf("changes applied without the lock: %v", target.calls)
	}
}

// captureTarget hands moves to a callback and accepts everything else.
type captureTarget struct {
	recordingTarget
	onMove func(reconcile.Change)
}

func (c *captureTarget) MoveFile(_ context.Context, _ reconcile.Side, ch reconcile.Change) error {
	c.onMove(ch)
	return nil
}
