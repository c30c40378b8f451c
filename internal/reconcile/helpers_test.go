package reconcile

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func attrs(size int64) *Attrs {
	return &Attrs{
		Size:     size,
		ModTime:  time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		Checksum: fmt.Sprintf("md5-%d", size),
	}
}

func add(id, path string, a *Attrs) Event {
	return Event{Kind: EventAdd, Path: path, Identity: Identity(id), Attrs: a}
}

func addDir(id, path string) Event {
	return Event{Kind: EventAddDir, Path: path, Identity: Identity(id)}
}

func change(id, path string, a *Attrs) Event {
	return Event{Kind: EventChange, Path: path, Identity: Identity(id), Attrs: a}
}

func unlink(id, path string) Event {
	return Event{Kind: EventUnlink, Path: path, Identity: Identity(id)}
}

func unlinkDir(id, path string) Event {
	return Event{Kind: EventUnlinkDir, Path: path, Identity: Identity(id)}
}

func fileMove(src, dst string) Change {
	return Change{
		Kind:    KindMove,
		DocType: File,
		Path:    dst,
		Attrs:   attrs(1),
		Source:  &Snapshot{Path: src, DocType: File},
	}
}

func dirMove(src, dst string) Change {
	return Change{
		Kind:    KindMove,
		DocType: Dir,
		Path:    dst,
		Source:  &Snapshot{Path: src, DocType: Dir},
	}
}

func assertNoNoopMoves(t *testing.T, changes []Change) {
	t.Helper()
	for _, c := range changes {
		if c.Kind == KindMove {
			assert.NotEqual(t, c.Path, c.SourcePath(), "no-op move %s", c)
		}
		assertNoNoopMoves(t, c.Descendants)
	}
}
