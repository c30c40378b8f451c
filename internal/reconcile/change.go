// Package reconcile turns batches of raw, identity-tagged file notifications
// into an ordered list of higher-level changes (additions, deletions, updates
// and moves) ready to be applied to the metadata store.
package reconcile

import (
	"fmt"
	"strings"
	"time"
)

// Side identifies which replica produced a batch of notifications.
type Side int

const (
	// SideLocal is the local filesystem watcher.
	SideLocal Side = iota
	// SideRemote is the remote changes feed poller.
	SideRemote
)

// String returns a human-readable representation of the side.
func (s Side) String() string {
	switch s {
	case SideLocal:
		return "local"
	case SideRemote:
		return "remote"
	default:
		return "unknown"
	}
}

// DocType distinguishes files from directories.
type DocType int

const (
	// File is a regular file.
	File DocType = iota
	// Dir is a directory.
	Dir
)

// String returns a human-readable representation of the doc type.
func (d DocType) String() string {
	switch d {
	case File:
		return "file"
	case Dir:
		return "folder"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (d DocType) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *DocType) UnmarshalText(b []byte) error {
	switch string(b) {
	case "file":
		*d = File
	case "folder", "dir":
		*d = Dir
	default:
		return fmt.Errorf("unknown doc type %q", b)
	}
	return nil
}

// Kind is the tag of the Change union.
type Kind int

const (
	// KindAddition is a new file or directory.
	KindAddition Kind = iota
	// KindDeletion is a file or directory that disappeared.
	KindDeletion
	// KindUpdate is a content change of a file.
	KindUpdate
	// KindMove pairs a source snapshot with a new destination path.
	KindMove
	// KindIgnored is a change that must not be applied.
	KindIgnored
	// KindTrashing is a remote document moved to the remote trash.
	KindTrashing
	// KindDescendant is a move subsumed by an ancestor directory move (remote only).
	KindDescendant
)

// String returns a human-readable representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindAddition:
		return "Addition"
	case KindDeletion:
		return "Deletion"
	case KindUpdate:
		return "Update"
	case KindMove:
		return "Move"
	case KindIgnored:
		return "Ignored"
	case KindTrashing:
		return "Trashing"
	case KindDescendant:
		return "DescendantChange"
	default:
		return "Unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(b []byte) error {
	for c := KindAddition; c <= KindDescendant; c++ {
		if c.String() == string(b) {
			*k = c
			return nil
		}
	}
	return fmt.Errorf("unknown change kind %q", b)
}

// Identity is an opaque per-batch correlation key: a local inode number or a
// remote document id. The zero value means "no identity".
type Identity string

// Known reports whether the identity is set.
func (id Identity) Known() bool { return id != "" }

// Attrs are the observed attributes of a file or directory.
type Attrs struct {
	Size       int64     `json:"size" yaml:"size"`
	ModTime    time.Time `json:"mtime" yaml:"mtime"`
	Checksum   string    `json:"checksum,omitempty" yaml:"checksum,omitempty"`
	Executable bool      `json:"executable,omitempty" yaml:"executable,omitempty"`
	RemoteRev  string    `json:"remote_rev,omitempty" yaml:"remote_rev,omitempty"`
}

// Snapshot is the metadata store record of an object as last known.
type Snapshot struct {
	Path      string  `json:"path" yaml:"path"`
	DocType   DocType `json:"doc_type" yaml:"doc_type"`
	LocalID   string  `json:"local_id,omitempty" yaml:"local_id,omitempty"`
	RemoteID  string  `json:"remote_id,omitempty" yaml:"remote_id,omitempty"`
	RemoteRev string  `json:"remote_rev,omitempty" yaml:"remote_rev,omitempty"`
	Size      int64   `json:"size,omitempty" yaml:"size,omitempty"`
	Checksum  string  `json:"checksum,omitempty" yaml:"checksum,omitempty"`
	Trashed   bool    `json:"trashed,omitempty" yaml:"trashed,omitempty"`
}

// Update is a content change observed in the same batch as a move of the
// same object.
type Update struct {
	Path  string `json:"path" yaml:"path"`
	Attrs Attrs  `json:"attrs" yaml:"attrs"`
}

// Change is one reconciled change. Kind selects which fields are meaningful:
//
//	Addition:   DocType, Path, Identity, Attrs, Incomplete
//	Deletion:   DocType, Path, Identity, Source (previous record)
//	Update:     Path, Identity, Attrs, Incomplete (DocType is always File)
//	Move:       DocType, Path, Identity, Attrs, Source, NeedRefetch, Incomplete, Update, Overwrite
//	Ignored:    Path, Reason
//	Trashing:   DocType, Path, Identity, Source
//	Descendant: DocType, Path, Identity, Attrs, Source, AncestorPath, Update, Descendants
//
// Source, Attrs, Update and Overwrite are never shared between two changes;
// functions in this package copy them before rewriting.
type Change struct {
	Kind     Kind      `json:"kind" yaml:"kind"`
	DocType  DocType   `json:"doc_type" yaml:"doc_type"`
	Path     string    `json:"path" yaml:"path"`
	Identity Identity  `json:"identity,omitempty" yaml:"identity,omitempty"`
	Attrs    *Attrs    `json:"attrs,omitempty" yaml:"attrs,omitempty"`
	Source   *Snapshot `json:"source,omitempty" yaml:"source,omitempty"`

	NeedRefetch bool      `json:"need_refetch,omitempty" yaml:"need_refetch,omitempty"`
	Incomplete  bool      `json:"incomplete,omitempty" yaml:"incomplete,omitempty"`
	Update      *Update   `json:"update,omitempty" yaml:"update,omitempty"`
	Overwrite   *Snapshot `json:"overwrite,omitempty" yaml:"overwrite,omitempty"`
	Reason      string    `json:"reason,omitempty" yaml:"reason,omitempty"`

	// Directory moves on the remote side collect their carried-along
	// descendants here.
	AncestorPath string   `json:"ancestor_path,omitempty" yaml:"ancestor_path,omitempty"`
	Descendants  []Change `json:"descendants,omitempty" yaml:"descendants,omitempty"`
}

// SourcePath returns the path the change moved or deleted from, or "".
func (c Change) SourcePath() string {
	if c.Source == nil {
		return ""
	}
	return c.Source.Path
}

// IsMove reports whether the change is a move.
func (c Change) IsMove() bool { return c.Kind == KindMove }

// IsDirMove reports whether the change is a directory move.
func (c Change) IsDirMove() bool { return c.Kind == KindMove && c.DocType == Dir }

// Clone returns a deep copy of the change.
func (c Change) Clone() Change {
	out := c
	if c.Attrs != nil {
		a := *c.Attrs
		out.Attrs = &a
	}
	if c.Source != nil {
		s := *c.Source
		out.Source = &s
	}
	if c.Update != nil {
		u := *c.Update
		out.Update = &u
	}
	if c.Overwrite != nil {
		o := *c.Overwrite
		out.Overwrite = &o
	}
	if c.Descendants != nil {
		out.Descendants = make([]Change, len(c.Descendants))
		for i, d := range c.Descendants {
			out.Descendants[i] = d.Clone()
		}
	}
	return out
}

// String renders the change for logs, e.g. "(Move: a --> b)".
func (c Change) String() string {
	var b strings.Builder
	b.WriteString("(")
	if c.DocType == Dir && c.Kind != KindIgnored {
		b.WriteString("Dir")
	}
	b.WriteString(c.Kind.String())
	b.WriteString(": ")
	switch c.Kind {
	case KindMove, KindDescendant:
		fmt.Fprintf(&b, "%s --> %s", c.SourcePath(), c.Path)
	default:
		b.WriteString(c.Path)
	}
	if c.Incomplete {
		b.WriteString(" [incomplete]")
	}
	if c.NeedRefetch {
		b.WriteString(" [refetch]")
	}
	b.WriteString(")")
	return b.String()
}

// creates returns the path a change brings into existence.
func creates(c Change) (string, bool) {
	switch c.Kind {
	case KindAddition, KindMove:
		return c.Path, true
	}
	return "", false
}

// deletes returns the path a change frees.
func deletes(c Change) (string, bool) {
	switch c.Kind {
	case KindDeletion:
		return c.Path, true
	case KindMove, KindTrashing:
		if c.Source != nil {
			return c.Source.Path, true
		}
	}
	return "", false
}

// requires returns the path whose parent must exist before the change is
// applied. It is the created path for additions and moves, and the path of
// an update.
func requires(c Change) (string, bool) {
	switch c.Kind {
	case KindAddition, KindMove, KindUpdate:
		return c.Path, true
	}
	return "", false
}
