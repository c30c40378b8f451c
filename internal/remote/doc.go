// Package remote is the remote notification producer.
//
// The remote replica publishes a changes feed: an ordered stream of
// document revisions, each carrying the full current state of one
// document. A Poller reads the feed from the last processed sequence,
// looks every document up in the metadata store by its remote id and turns
// the difference into reconcile events.
package remote

import (
	"time"

	"github.com/steveyegge/twinsync/internal/reconcile"
)

// Doc is one entry of the changes feed.
type Doc struct {
	// Seq orders the feed; a consumer resumes after the last Seq it saw.
	Seq int64 `json:"seq"`

	ID  string `json:"_id"`
	Rev string `json:"_rev"`

	Path       string            `json:"path"`
	DocType    reconcile.DocType `json:"docType"`
	Size       int64             `json:"size,omitempty"`
	Checksum   string            `json:"md5sum,omitempty"`
	UpdatedAt  time.Time         `json:"updated_at,omitempty"`
	Executable bool              `json:"executable,omitempty"`

	// Trashed documents were moved to the remote trash; Path is their
	// location inside it.
	Trashed bool `json:"trashed,omitempty"`

	// Deleted documents are gone for good.
	Deleted bool `json:"_deleted,omitempty"`
}

func (d Doc) attrs() *reconcile.Attrs {
	if d.DocType == reconcile.Dir {
		return nil
	}
	return &reconcile.Attrs{
		Size:       d.Size,
		ModTime:    d.UpdatedAt,
		Checksum:   d.Checksum,
		Executable: d.Executable,
		RemoteRev:  d.Rev,
	}
}
