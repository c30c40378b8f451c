// Package watcher is the local notification producer.
//
// A FileWatcher watches the sync directory recursively with fsnotify and
// turns filesystem notifications into reconcile events: paths relative to
// the sync root, the inode number as identity, content checksums, and the
// metadata store record of the object when one exists. Events are batched
// by a Buffer before they reach the reconciler.
package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/steveyegge/twinsync/internal/metadata"
	"github.com/steveyegge/twinsync/internal/reconcile"
)

// Lookup is the read side of the metadata store used to attach previous
// records to events.
type Lookup interface {
	GetContext(ctx context.Context, path string) (*reconcile.Snapshot, error)
	GetByLocalIDContext(ctx context.Context, id string) (*reconcile.Snapshot, error)
	ListContext(ctx context.Context) ([]*reconcile.Snapshot, error)
}

// Config holds watcher configuration.
type Config struct {
	// Ignore lists glob patterns matched against each path element.
	Ignore []string

	// Logger for watcher activity
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Ignore: []string{".twinsync", "*.tmp", "*.swp", "~*"},
		Logger: log.New(os.Stderr, "[watcher] ", log.LstdFlags),
	}
}

// FileWatcher watches a directory tree for changes.
type FileWatcher struct {
	root    string
	lookup  Lookup
	config  *Config
	watcher *fsnotify.Watcher
	events  chan reconcile.Event
	errors  chan error
	done    chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool

	dirsMu sync.Mutex
	dirs   map[string]bool // relative paths of watched directories
}

// NewFileWatcher creates a watcher for root. lookup may be nil, in which
// case events carry no previous record and removals carry no identity.
// The watcher must be started with Start() before it will emit events.
func NewFileWatcher(root string, lookup Lookup, config *Config) (*FileWatcher, error) {
	if root == "" {
		return nil, fmt.Errorf("root cannot be empty")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute root path: %w", err)
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = DefaultConfig().Logger
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &FileWatcher{
		root:    abs,
		lookup:  lookup,
		config:  config,
		watcher: watcher,
		events:  make(chan reconcile.Event, 256),
		errors:  make(chan error, 10),
		done:    make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
		dirs:    make(map[string]bool),
	}, nil
}

// Root returns the absolute path of the watched directory.
func (fw *FileWatcher) Root() string { return fw.root }

// Start begins watching the tree under root.
func (fw *FileWatcher) Start() error {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	if fw.running {
		return fmt.Errorf("watcher already running")
	}

	if err := fw.watchTree(""); err != nil {
		return fmt.Errorf("failed to watch %s: %w", fw.root, err)
	}

	fw.running = true
	fw.wg.Add(1)
	go fw.processEvents()

	fw.config.Logger.Printf("Watching: %s", fw.root)
	return nil
}

// Stop stops watching for file system events and cleans up resources.
// It blocks until the event processing goroutine has exited.
func (fw *FileWatcher) Stop() error {
	fw.mu.Lock()
	if !fw.running {
		fw.mu.Unlock()
		fw.cancel()
		return fw.watcher.Close()
	}
	fw.running = false
	fw.mu.Unlock()

	close(fw.done)
	fw.cancel()

	if err := fw.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}

	fw.wg.Wait()

	close(fw.events)
	close(fw.errors)
	return nil
}

// Events returns the channel that emits reconcile events.
// This channel is closed when the watcher is stopped.
func (fw *FileWatcher) Events() <-chan reconcile.Event {
	return fw.events
}

// Errors returns the channel that emits error notifications.
// This channel is closed when the watcher is stopped.
func (fw *FileWatcher) Errors() <-chan error {
	return fw.errors
}

// IsRunning returns true if the watcher is currently running.
func (fw *FileWatcher) IsRunning() bool {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	return fw.running
}

func (fw *FileWatcher) processEvents() {
	defer fw.wg.Done()

	for {
		select {
		case <-fw.done:
			return

		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			for _, e := range fw.convertEvent(event) {
				select {
				case fw.events <- e:
				case <-fw.done:
					return
				}
			}

		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			select {
			case fw.errors <- err:
			case <-fw.done:
				return
			}
		}
	}
}

// convertEvent converts an fsnotify event to zero or more reconcile events.
// A created directory yields an event for everything already inside it,
// since those entries appeared before the directory was watched.
func (fw *FileWatcher) convertEvent(event fsnotify.Event) []reconcile.Event {
	rel, ok := fw.relative(event.Name)
	if !ok || fw.ignored(rel) {
		return nil
	}

	switch {
	case event.Has(fsnotify.Create):
		return fw.created(rel)
	case event.Has(fsnotify.Write):
		if e, ok := fw.observe(rel, reconcile.EventChange); ok {
			return []reconcile.Event{e}
		}
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		// The new name of a rename arrives as its own Create.
		return []reconcile.Event{fw.removed(rel)}
	}
	// Chmod carries nothing the reconciler tracks.
	return nil
}

func (fw *FileWatcher) created(rel string) []reconcile.Event {
	e, ok := fw.observe(rel, reconcile.EventAdd)
	if !ok {
		// Gone already; its Remove follows.
		return nil
	}
	if e.Kind != reconcile.EventAddDir {
		return []reconcile.Event{e}
	}

	if err := fw.watchTree(rel); err != nil {
		fw.config.Logger.Printf("Warning: failed to watch %s: %v", rel, err)
	}
	events := []reconcile.Event{e}
	_ = filepath.WalkDir(fw.abs(rel), func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		child, ok := fw.relative(path)
		if !ok || child == rel {
			return nil
		}
		if fw.ignored(child) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if ce, ok := fw.observe(child, reconcile.EventAdd); ok {
			events = append(events, ce)
		}
		return nil
	})
	return events
}

func (fw *FileWatcher) removed(rel string) reconcile.Event {
	e := reconcile.Event{Kind: reconcile.EventUnlink, Path: rel}
	if fw.forgetTree(rel) {
		e.Kind = reconcile.EventUnlinkDir
	}

	prev := fw.previousAt(rel)
	if prev != nil {
		e.Previous = prev
		e.Identity = reconcile.Identity(prev.LocalID)
		if prev.DocType == reconcile.Dir {
			e.Kind = reconcile.EventUnlinkDir
		}
	}
	return e
}

// observe stats rel and builds an event of the given kind for it. An add
// of a directory becomes addDir; a change of a directory is dropped. It
// returns false when rel no longer exists.
func (fw *FileWatcher) observe(rel string, kind reconcile.EventKind) (reconcile.Event, bool) {
	abs := fw.abs(rel)
	info, err := os.Lstat(abs)
	if err != nil {
		return reconcile.Event{}, false
	}

	id, err := fileID(abs)
	if err != nil {
		fw.config.Logger.Printf("Warning: no identity for %s: %v", rel, err)
	}
	e := reconcile.Event{Kind: kind, Path: rel, Identity: reconcile.Identity(id)}

	if info.IsDir() {
		switch kind {
		case reconcile.EventAdd:
			e.Kind = reconcile.EventAddDir
		case reconcile.EventChange:
			return reconcile.Event{}, false
		}
		return e, true
	}

	attrs, complete, err := readAttrs(abs, info)
	if err != nil {
		// Vanished or unreadable halfway through.
		e.Incomplete = true
		return e, true
	}
	e.Attrs = attrs
	e.Incomplete = !complete

	if kind == reconcile.EventChange {
		e.Previous = fw.previousAt(rel)
	}
	return e, true
}

func (fw *FileWatcher) previousAt(rel string) *reconcile.Snapshot {
	if fw.lookup == nil {
		return nil
	}
	snap, err := fw.lookup.GetContext(fw.ctx, rel)
	if err != nil {
		if !metadata.IsNotFound(err) {
			fw.config.Logger.Printf("Warning: failed to look up %s: %v", rel, err)
		}
		return nil
	}
	return snap
}

// watchTree adds a watch for rel and every directory below it.
func (fw *FileWatcher) watchTree(rel string) error {
	return filepath.WalkDir(fw.abs(rel), func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		child, _ := fw.relative(path)
		if child != "" && fw.ignored(child) {
			return filepath.SkipDir
		}
		if err := fw.watcher.Add(path); err != nil {
			return fmt.Errorf("failed to watch directory %s: %w", path, err)
		}
		fw.dirsMu.Lock()
		fw.dirs[child] = true
		fw.dirsMu.Unlock()
		return nil
	})
}

// forgetTree drops the watches at and below rel and reports whether rel
// itself was a watched directory.
func (fw *FileWatcher) forgetTree(rel string) bool {
	fw.dirsMu.Lock()
	defer fw.dirsMu.Unlock()

	wasDir := fw.dirs[rel]
	for dir := range fw.dirs {
		if dir == rel || strings.HasPrefix(dir, rel+"/") {
			delete(fw.dirs, dir)
			// The watch is already gone when the directory was deleted.
			_ = fw.watcher.Remove(fw.abs(dir))
		}
	}
	return wasDir
}

// relative converts an absolute path to the slash separated path relative
// to the root. The root itself is "".
func (fw *FileWatcher) relative(path string) (string, bool) {
	rel, err := filepath.Rel(fw.root, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	if rel == "." {
		return "", true
	}
	return filepath.ToSlash(rel), true
}

func (fw *FileWatcher) abs(rel string) string {
	return filepath.Join(fw.root, filepath.FromSlash(rel))
}

// ignored reports whether any element of rel matches an ignore pattern.
func (fw *FileWatcher) ignored(rel string) bool {
	if rel == "" {
		return false
	}
	for _, elem := range strings.Split(rel, "/") {
		for _, pattern := range fw.config.Ignore {
			if ok, _ := filepath.Match(pattern, elem); ok {
				return true
			}
		}
	}
	return false
}
