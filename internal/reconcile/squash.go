package reconcile

import (
	"fmt"
	"sort"
)

// Squash merges the moves of a local batch that were only reported because
// an ancestor directory moved.
//
// Moves come first in the result, ascending by destination path; other
// changes keep their relative order after them. For every directory move A,
// each following move B whose source and destination both lie below A's is
// either dropped (B moved along with A) or has its source rebased onto A's
// destination and flagged NeedRefetch (B was moved again inside A). A
// dropped file move whose content changed on the way is replaced by an
// Update at its destination, appended after every other change.
func Squash(changes []Change, opts Options) []Change {
	out := groupMoves(changes)
	removed := make([]bool, len(out))
	var updates []Change

	for i := range out {
		if removed[i] || !out[i].IsDirMove() {
			continue
		}
		for j := i + 1; j < len(out) && out[j].IsMove(); j++ {
			if removed[j] || !isDescendantMove(out[i], out[j]) {
				continue
			}
			b := out[j]
			out[i].Incomplete = out[i].Incomplete || b.Incomplete

			if carriedAlong(out[i], b) {
				opts.debugf("%s: carried along by %s", b, out[i])
				if u, ok := carriedUpdate(b); ok {
					opts.debugf("%s: keeps content change %s", b, u)
					updates = append(updates, u)
				}
				removed[j] = true
				continue
			}
			out[j] = rebaseSource(out[i], b)
			opts.debugf("%s: moved inside %s", out[j], out[i])
		}
	}
	return append(compact(out, removed), updates...)
}

// carriedUpdate returns the Update left by a carried-along file move whose
// content changed. A move whose source must be refetched has nothing to
// compare against and leaves none.
func carriedUpdate(b Change) (Change, bool) {
	if b.DocType != File {
		return Change{}, false
	}
	var a Attrs
	switch {
	case b.Update != nil:
		a = b.Update.Attrs
	case !b.NeedRefetch && b.Attrs != nil && contentDiffers(b.Source, b.Attrs):
		a = *b.Attrs
	default:
		return Change{}, false
	}
	src := cloneSnapshot(b.Source)
	src.Path = b.Path
	return Change{
		Kind:       KindUpdate,
		DocType:    File,
		Path:       b.Path,
		Identity:   b.Identity,
		Attrs:      &a,
		Source:     src,
		Incomplete: b.Incomplete,
	}, true
}

// groupMoves returns copies of the changes with every move first, sorted by
// destination path. The sort is stable.
func groupMoves(changes []Change) []Change {
	moves := make([]Change, 0, len(changes))
	var others []Change
	for _, c := range changes {
		if c.IsMove() {
			moves = append(moves, c.Clone())
		} else {
			others = append(others, c.Clone())
		}
	}
	sort.SliceStable(moves, func(i, j int) bool {
		return moves[i].Path < moves[j].Path
	})
	return append(moves, others...)
}

// isDescendantMove reports whether b moved from inside a's source to inside
// a's destination.
func isDescendantMove(a, b Change) bool {
	if a.Source == nil || b.Source == nil {
		return false
	}
	return isStrictDescendant(a.Path, b.Path) && isStrictDescendant(a.Source.Path, b.Source.Path)
}

// carriedAlong reports whether b kept its position relative to a.
func carriedAlong(a, b Change) bool {
	return b.Path[len(a.Path):] == b.Source.Path[len(a.Source.Path):]
}

// rebaseSource returns a copy of b whose source reflects a having been
// applied already.
func rebaseSource(a, b Change) Change {
	out := b.Clone()
	out.Source.Path = rebase(b.Source.Path, a.Source.Path, a.Path)
	out.NeedRefetch = true
	return out
}

func compact(changes []Change, removed []bool) []Change {
	out := changes[:0]
	for i, c := range changes {
		if !removed[i] {
			out = append(out, c)
		}
	}
	return out
}

// SquashRemote is Squash for remote batches.
//
// Carried-along moves are not dropped: they become Descendant changes nested
// under the nearest enclosing directory move, so same-batch content updates
// can be replayed once the ancestor moved. A Trashing of a move's
// destination is turned into Ignored and recorded as the move's Overwrite.
func SquashRemote(changes []Change, opts Options) []Change {
	out := groupMoves(changes)
	removed := make([]bool, len(out))

	for i := range out {
		if removed[i] || !out[i].IsDirMove() {
			continue
		}
		for j := i + 1; j < len(out) && out[j].IsMove(); j++ {
			if removed[j] || !isDescendantMove(out[i], out[j]) {
				continue
			}
			b := out[j]
			out[i].Incomplete = out[i].Incomplete || b.Incomplete

			if carriedAlong(out[i], b) {
				nest(&out[i], b)
				opts.debugf("%s: nested under %s", b, out[i])
				removed[j] = true
				continue
			}
			out[j] = rebaseSource(out[i], b)
			opts.debugf("%s: moved inside %s", out[j], out[i])
		}
	}
	out = compact(out, removed)
	markOverwrites(out, opts)
	return out
}

// nest attaches b below the deepest descendant of a that contains it.
func nest(a *Change, b Change) {
	parent := a
	for {
		next := -1
		for k := range parent.Descendants {
			if isStrictDescendant(parent.Descendants[k].Path, b.Path) {
				next = k
				break
			}
		}
		if next < 0 {
			break
		}
		parent = &parent.Descendants[next]
	}
	d := b.Clone()
	d.Kind = KindDescendant
	d.AncestorPath = parent.Path
	parent.Descendants = append(parent.Descendants, d)
}

func markOverwrites(changes []Change, opts Options) {
	dest := make(map[string]int)
	for i, c := range changes {
		if c.IsMove() {
			dest[c.Path] = i
		}
	}
	for k, t := range changes {
		if t.Kind != KindTrashing {
			continue
		}
		i, ok := dest[t.SourcePath()]
		if !ok || changes[i].DocType != t.DocType {
			continue
		}
		m := &changes[i]
		m.Overwrite = cloneSnapshot(t.Source)
		changes[k] = Change{
			Kind:     KindIgnored,
			DocType:  t.DocType,
			Path:     t.SourcePath(),
			Identity: t.Identity,
			Reason:   fmt.Sprintf("%s overwritten by %s", t.SourcePath(), m.SourcePath()),
		}
		opts.debugf("%s: overwritten by %s", t, m)
	}
}
