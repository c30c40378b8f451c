package reconcile

// eventClass groups raw event kinds by what they can do to a prior change.
type eventClass int

const (
	classAdd eventClass = iota
	classChange
	classUnlink
	numEventClasses
)

func classify(k EventKind) eventClass {
	switch k {
	case EventAdd, EventAddDir:
		return classAdd
	case EventChange:
		return classChange
	default:
		return classUnlink
	}
}

// priorClass is the state of the change already tracking the event's identity.
type priorClass int

const (
	// priorNone: the event has an identity nobody tracks yet.
	priorNone priorClass = iota
	// priorAnonymous: the event carries no identity at all.
	priorAnonymous
	priorAddition
	priorDeletion
	priorUpdate
	priorPendingMove
	priorMove
	priorIgnored
	numPriorClasses
)

func priorOf(c Change) priorClass {
	switch c.Kind {
	case KindAddition:
		return priorAddition
	case KindDeletion, KindTrashing:
		return priorDeletion
	case KindUpdate:
		return priorUpdate
	case KindMove:
		if c.Incomplete {
			return priorPendingMove
		}
		return priorMove
	default:
		return priorIgnored
	}
}

// action is what the correlator does for one (event, prior) pair.
type action int

const (
	actInvalid action = iota
	actViolation
	actDrop
	actNewAddition
	actReplaceAddition
	actMoveFromDeletion
	actMoveFromUpdate
	actCompleteMove
	actUpdateByPath
	actRefreshAddition
	actMergeUpdate
	actAttachUpdate
	actOverwriteMove
	actNewDeletion
	actMoveFromAddition
	actDeletionFromUpdate
	actResolveByPath
)

// transitions is the complete correlation table. Every cell must be set;
// actInvalid is never a legal outcome.
var transitions = [numEventClasses][numPriorClasses]action{
	classAdd: {
		priorNone:        actNewAddition,
		priorAnonymous:   actNewAddition,
		priorAddition:    actReplaceAddition,
		priorDeletion:    actMoveFromDeletion,
		priorUpdate:      actMoveFromUpdate,
		priorPendingMove: actCompleteMove,
		priorMove:        actViolation,
		priorIgnored:     actNewAddition,
	},
	classChange: {
		priorNone:        actUpdateByPath,
		priorAnonymous:   actUpdateByPath,
		priorAddition:    actRefreshAddition,
		priorDeletion:    actOverwriteMove,
		priorUpdate:      actMergeUpdate,
		priorPendingMove: actAttachUpdate,
		priorMove:        actAttachUpdate,
		priorIgnored:     actUpdateByPath,
	},
	classUnlink: {
		priorNone:        actNewDeletion,
		priorAnonymous:   actResolveByPath,
		priorAddition:    actMoveFromAddition,
		priorDeletion:    actDrop,
		priorUpdate:      actDeletionFromUpdate,
		priorPendingMove: actViolation,
		priorMove:        actViolation,
		priorIgnored:     actNewDeletion,
	},
}

// Correlate turns a batch of raw events into changes.
//
// pending changes from the previous run are indexed first, as they are.
// Events are then folded in order. The output is Index.Changes: changes
// without an identity first, then the others in insertion order, so
// identified pending changes lead them.
func Correlate(events []Event, pending []Change, opts Options) ([]Change, error) {
	ix := NewIndex()
	for _, c := range pending {
		if _, err := ix.Put(c.Clone()); err != nil {
			return nil, err
		}
	}

	cr := &correlator{ix: ix, opts: opts}
	for _, e := range events {
		if err := cr.fold(e); err != nil {
			return nil, err
		}
	}
	return ix.Changes(), nil
}

type correlator struct {
	ix   *Index
	opts Options
}

func (cr *correlator) fold(e Event) error {
	e = fixDocType(e)

	slot := -1
	prior := priorAnonymous
	if e.Identity.Known() {
		prior = priorNone
		if s, ok := cr.ix.ByIdentity(e.Identity); ok {
			slot = s
			prior = priorOf(cr.ix.At(s))
		}
	}

	act := transitions[classify(e.Kind)][prior]
	switch act {
	case actViolation:
		return &InvariantError{Event: e, Prior: cr.ix.At(slot), Message: "event for an identity already resolved into a move"}
	case actDrop:
		cr.opts.debugf("%s: dropped", e)
		return nil
	case actNewAddition:
		return cr.set(slot, addition(e, e.Previous))
	case actReplaceAddition:
		return cr.replaceAddition(e, slot)
	case actMoveFromDeletion:
		return cr.moveFromDeletion(e, slot)
	case actMoveFromUpdate:
		return cr.moveFromUpdate(e, slot)
	case actCompleteMove:
		return cr.completeMove(e, slot)
	case actUpdateByPath:
		return cr.updateByPath(e, slot)
	case actRefreshAddition:
		return cr.refreshAddition(e, slot)
	case actMergeUpdate:
		return cr.mergeUpdate(e, slot)
	case actAttachUpdate:
		return cr.attachUpdate(e, slot)
	case actOverwriteMove:
		return cr.overwriteMove(e, slot)
	case actNewDeletion:
		return cr.set(slot, deletion(e, e.Previous))
	case actMoveFromAddition:
		return cr.moveFromAddition(e, slot)
	case actDeletionFromUpdate:
		return cr.deletionFromUpdate(e, slot)
	case actResolveByPath:
		return cr.resolveByPath(e)
	}
	return &InvariantError{Event: e, Message: "no transition defined"}
}

// set stores c in slot, or in a new slot when slot is negative.
func (cr *correlator) set(slot int, c Change) error {
	if slot < 0 {
		_, err := cr.ix.Put(c)
		return err
	}
	cr.opts.debugf("%s -> %s", cr.ix.At(slot), c)
	return cr.ix.Replace(slot, c)
}

func (cr *correlator) replaceAddition(e Event, slot int) error {
	prior := cr.ix.At(slot)
	src := e.Previous
	if src == nil {
		src = prior.Source
	}
	return cr.set(slot, addition(e, src))
}

func (cr *correlator) moveFromDeletion(e Event, slot int) error {
	prior := cr.ix.At(slot)
	src, refetch := sourceOf(prior.Source, prior.Path, prior.DocType)
	if src.Path == e.Path {
		// Deleted and re-added at the same place.
		c := addition(e, nil)
		if !refetch {
			c.Source = src
		}
		return cr.set(slot, c)
	}
	c := Change{
		Kind:        KindMove,
		DocType:     e.docType(),
		Path:        e.Path,
		Identity:    e.Identity,
		Attrs:       cloneAttrs(e.Attrs),
		Source:      src,
		NeedRefetch: refetch,
		Incomplete:  e.unresolved(),
	}
	return cr.set(slot, c)
}

func (cr *correlator) moveFromUpdate(e Event, slot int) error {
	prior := cr.ix.At(slot)
	src, refetch := sourceOf(prior.Source, prior.Path, File)
	if src.Path == e.Path {
		if e.Kind == EventChange {
			return cr.set(slot, update(e, src))
		}
		return cr.set(slot, addition(e, src))
	}
	c := Change{
		Kind:        KindMove,
		DocType:     File,
		Path:        e.Path,
		Identity:    e.Identity,
		Attrs:       cloneAttrs(e.Attrs),
		Source:      src,
		NeedRefetch: refetch,
		Incomplete:  e.unresolved() || (e.Kind == EventChange && e.Attrs == nil),
	}
	attrs := e.Attrs
	if attrs == nil {
		attrs = prior.Attrs
	}
	if attrs != nil {
		c.Update = &Update{Path: e.Path, Attrs: *attrs}
	}
	return cr.set(slot, c)
}

func (cr *correlator) completeMove(e Event, slot int) error {
	prior := cr.ix.At(slot)
	if e.Path == prior.SourcePath() {
		// The object came back where it started.
		if prior.DocType == Dir {
			return cr.set(slot, Change{
				Kind:     KindIgnored,
				DocType:  Dir,
				Path:     e.Path,
				Identity: e.Identity,
				Reason:   "identical renaming loopback",
			})
		}
		return cr.set(slot, update(e, prior.Source))
	}
	c := prior.Clone()
	c.Path = e.Path
	if e.Attrs != nil {
		c.Attrs = cloneAttrs(e.Attrs)
	}
	c.Incomplete = e.unresolved()
	return cr.set(slot, c)
}

func (cr *correlator) updateByPath(e Event, slot int) error {
	if slot < 0 {
		if s, ok := cr.ix.ByPath(e.Path); ok && sameObject(e.Identity, cr.ix.At(s).Identity) {
			switch p := cr.ix.At(s); p.Kind {
			case KindAddition:
				return cr.refreshAddition(e, s)
			case KindUpdate:
				return cr.mergeUpdate(e, s)
			case KindMove:
				if p.Path == e.Path {
					return cr.attachUpdate(e, s)
				}
			}
		}
	}
	return cr.set(slot, update(e, e.Previous))
}

func (cr *correlator) refreshAddition(e Event, slot int) error {
	c := cr.ix.At(slot).Clone()
	if e.Identity.Known() {
		c.Identity = e.Identity
	}
	if e.Attrs != nil {
		c.Attrs = cloneAttrs(e.Attrs)
	}
	c.Incomplete = e.Incomplete || (c.DocType == File && c.Attrs == nil)
	return cr.set(slot, c)
}

func (cr *correlator) mergeUpdate(e Event, slot int) error {
	prior := cr.ix.At(slot)
	if prior.Path != e.Path {
		return cr.moveFromUpdate(e, slot)
	}
	c := prior.Clone()
	if e.Identity.Known() {
		c.Identity = e.Identity
	}
	if e.Attrs != nil {
		c.Attrs = cloneAttrs(e.Attrs)
	}
	c.Incomplete = e.Incomplete || c.Attrs == nil
	return cr.set(slot, c)
}

func (cr *correlator) attachUpdate(e Event, slot int) error {
	c := cr.ix.At(slot).Clone()
	if e.Attrs == nil {
		c.Incomplete = true
		return cr.set(slot, c)
	}
	c.Update = &Update{Path: c.Path, Attrs: *e.Attrs}
	c.Attrs = cloneAttrs(e.Attrs)
	c.Incomplete = e.Incomplete || (c.Incomplete && e.Path != c.Path)
	return cr.set(slot, c)
}

// overwriteMove handles a change event reusing the identity of a deleted
// object: the object was renamed over an existing file.
func (cr *correlator) overwriteMove(e Event, slot int) error {
	prior := cr.ix.At(slot)
	src, refetch := sourceOf(prior.Source, prior.Path, File)
	if src.Path == e.Path {
		return cr.set(slot, update(e, src))
	}
	c := Change{
		Kind:        KindMove,
		DocType:     File,
		Path:        e.Path,
		Identity:    e.Identity,
		Attrs:       cloneAttrs(e.Attrs),
		Source:      src,
		NeedRefetch: refetch,
		Incomplete:  e.Incomplete || e.Attrs == nil,
	}
	if e.Previous != nil && e.Previous.Path == e.Path {
		c.Overwrite = cloneSnapshot(e.Previous)
	}
	return cr.set(slot, c)
}

func (cr *correlator) moveFromAddition(e Event, slot int) error {
	prior := cr.ix.At(slot)
	if e.Path == prior.Path {
		// Created and removed within the batch.
		if prev := firstSnapshot(e.Previous, prior.Source); prev != nil {
			return cr.set(slot, deletion(e, prev))
		}
		cr.opts.debugf("%s: cancels %s", e, prior)
		return cr.set(slot, addedThenDeleted(prior))
	}
	src, refetch := sourceOf(e.Previous, e.Path, prior.DocType)
	c := Change{
		Kind:        KindMove,
		DocType:     prior.DocType,
		Path:        prior.Path,
		Identity:    prior.Identity,
		Attrs:       cloneAttrs(prior.Attrs),
		Source:      src,
		NeedRefetch: refetch,
		Incomplete:  prior.Incomplete,
	}
	return cr.set(slot, c)
}

func (cr *correlator) deletionFromUpdate(e Event, slot int) error {
	prior := cr.ix.At(slot)
	return cr.set(slot, deletion(e, firstSnapshot(e.Previous, prior.Source)))
}

// resolveByPath handles an unlink carrying no identity.
func (cr *correlator) resolveByPath(e Event) error {
	s, ok := cr.ix.ByPath(e.Path)
	if !ok {
		if e.Previous != nil {
			return cr.set(-1, deletion(e, e.Previous))
		}
		cr.opts.debugf("%s: unknown path, dropped", e)
		return nil
	}

	p := cr.ix.At(s)
	switch {
	case p.Kind == KindMove && p.Path == e.Path && unresolvedMove(p):
		// The moved object vanished before it was fully observed.
		c := Change{
			Kind:     KindDeletion,
			DocType:  p.DocType,
			Path:     p.SourcePath(),
			Identity: p.Identity,
			Source:   cloneSnapshot(p.Source),
		}
		return cr.set(s, c)
	case p.Kind == KindAddition && p.Path == e.Path:
		if p.Source != nil {
			return cr.set(s, deletion(e, p.Source))
		}
		cr.opts.debugf("%s: cancels %s", e, p)
		return cr.set(s, addedThenDeleted(p))
	}
	cr.opts.debugf("%s: duplicate of %s, dropped", e, p)
	return nil
}

// addition builds the change for an add event. An add whose store record
// lives elsewhere under the same identity is a move that happened while
// nobody was watching.
func addition(e Event, prev *Snapshot) Change {
	if prev != nil && prev.Path != e.Path && e.Identity.Known() {
		c := Change{
			Kind:       KindMove,
			DocType:    e.docType(),
			Path:       e.Path,
			Identity:   e.Identity,
			Attrs:      cloneAttrs(e.Attrs),
			Source:     cloneSnapshot(prev),
			Incomplete: e.unresolved(),
		}
		if c.DocType == File && e.Attrs != nil && contentDiffers(prev, e.Attrs) {
			c.Update = &Update{Path: e.Path, Attrs: *e.Attrs}
		}
		return c
	}
	return Change{
		Kind:       KindAddition,
		DocType:    e.docType(),
		Path:       e.Path,
		Identity:   e.Identity,
		Attrs:      cloneAttrs(e.Attrs),
		Source:     cloneSnapshot(prev),
		Incomplete: e.unresolved(),
	}
}

// contentDiffers reports whether a file's attributes no longer match its
// store record. A record without a checksum never differs.
func contentDiffers(prev *Snapshot, a *Attrs) bool {
	if prev == nil || prev.Checksum == "" {
		return false
	}
	return prev.Checksum != a.Checksum || prev.Size != a.Size
}

// addedThenDeleted is what remains of an addition whose object was removed
// in the same batch.
func addedThenDeleted(prior Change) Change {
	return Change{
		Kind:     KindIgnored,
		DocType:  prior.DocType,
		Path:     prior.Path,
		Identity: prior.Identity,
		Attrs:    cloneAttrs(prior.Attrs),
		Reason:   "added then deleted",
	}
}

func update(e Event, prev *Snapshot) Change {
	return Change{
		Kind:       KindUpdate,
		DocType:    File,
		Path:       e.Path,
		Identity:   e.Identity,
		Attrs:      cloneAttrs(e.Attrs),
		Source:     cloneSnapshot(prev),
		Incomplete: e.Incomplete || e.Attrs == nil,
	}
}

func deletion(e Event, prev *Snapshot) Change {
	c := Change{
		Kind:     KindDeletion,
		DocType:  e.docType(),
		Path:     e.Path,
		Identity: e.Identity,
		Source:   cloneSnapshot(prev),
	}
	if e.Trashed {
		c.Kind = KindTrashing
		if c.Source == nil {
			c.Source = &Snapshot{Path: e.Path, DocType: c.DocType}
		}
	}
	return c
}

// fixDocType trusts the store record over the watcher when an unlink was
// reported with the wrong doc type.
func fixDocType(e Event) Event {
	if e.Previous == nil {
		return e
	}
	switch {
	case e.Kind == EventUnlinkDir && e.Previous.DocType == File:
		e.Kind = EventUnlink
	case e.Kind == EventUnlink && e.Previous.DocType == Dir:
		e.Kind = EventUnlinkDir
	}
	return e
}

// sourceOf returns a private copy of prev, or a bare snapshot at path that
// has to be refetched from the store before use.
func sourceOf(prev *Snapshot, path string, dt DocType) (*Snapshot, bool) {
	if prev != nil {
		return cloneSnapshot(prev), false
	}
	return &Snapshot{Path: path, DocType: dt}, true
}

func unresolvedMove(c Change) bool {
	return c.Incomplete || (c.DocType == File && c.Attrs == nil)
}

func sameObject(a, b Identity) bool {
	return !a.Known() || !b.Known() || a == b
}

func firstSnapshot(snaps ...*Snapshot) *Snapshot {
	for _, s := range snaps {
		if s != nil {
			return s
		}
	}
	return nil
}

func cloneAttrs(a *Attrs) *Attrs {
	if a == nil {
		return nil
	}
	out := *a
	return &out
}

func cloneSnapshot(s *Snapshot) *Snapshot {
	if s == nil {
		return nil
	}
	out := *s
	return &out
}
