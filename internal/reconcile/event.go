package reconcile

import "fmt"

// EventKind is the kind of a raw notification.
type EventKind int

const (
	// EventAdd is a file that appeared.
	EventAdd EventKind = iota
	// EventAddDir is a directory that appeared.
	EventAddDir
	// EventChange is a file whose content changed.
	EventChange
	// EventUnlink is a file that disappeared.
	EventUnlink
	// EventUnlinkDir is a directory that disappeared.
	EventUnlinkDir
)

var eventKindNames = map[EventKind]string{
	EventAdd:       "add",
	EventAddDir:    "addDir",
	EventChange:    "change",
	EventUnlink:    "unlink",
	EventUnlinkDir: "unlinkDir",
}

// String returns the event kind name as emitted by watchers.
func (k EventKind) String() string {
	if name, ok := eventKindNames[k]; ok {
		return name
	}
	return "unknown"
}

// ParseEventKind parses an event kind name.
func ParseEventKind(s string) (EventKind, error) {
	for k, name := range eventKindNames {
		if name == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown event kind %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (k EventKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *EventKind) UnmarshalText(b []byte) error {
	parsed, err := ParseEventKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Event is a raw notification as delivered by a producer.
type Event struct {
	Kind     EventKind `json:"kind" yaml:"kind"`
	Path     string    `json:"path" yaml:"path"`
	Identity Identity  `json:"identity,omitempty" yaml:"identity,omitempty"`
	Attrs    *Attrs    `json:"attrs,omitempty" yaml:"attrs,omitempty"`

	// Previous is the metadata store record the producer found for the
	// object, if any.
	Previous *Snapshot `json:"previous,omitempty" yaml:"previous,omitempty"`

	// Incomplete marks an observation still in flight, e.g. a file being
	// written while it was hashed.
	Incomplete bool `json:"incomplete,omitempty" yaml:"incomplete,omitempty"`

	// Trashed marks a remote unlink that moved the document to the trash
	// instead of deleting it.
	Trashed bool `json:"trashed,omitempty" yaml:"trashed,omitempty"`
}

func (e Event) docType() DocType {
	switch e.Kind {
	case EventAddDir, EventUnlinkDir:
		return Dir
	}
	return File
}

// unresolved reports whether the event describes an object not fully observed.
func (e Event) unresolved() bool {
	if e.Incomplete {
		return true
	}
	return e.Kind == EventAdd && e.Attrs == nil
}

func (e Event) String() string {
	if e.Identity.Known() {
		return fmt.Sprintf("%s(%s, id=%s)", e.Kind, e.Path, e.Identity)
	}
	return fmt.Sprintf("%s(%s)", e.Kind, e.Path)
}
