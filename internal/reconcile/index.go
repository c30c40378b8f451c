package reconcile

import "fmt"

// Index tracks the changes of one reconciliation run.
//
// Changes live in an arena and are addressed by their slot number. byIdentity
// and byPath hold slot numbers, never the changes themselves, so evolving a
// change is a single slot write. Slot order is insertion order.
type Index struct {
	arena []Change
	live  []bool

	byIdentity      map[Identity]int
	byPath          map[string]int
	withoutIdentity []int
}

// NewIndex returns an empty index.
func NewIndex() *Index {
	return &Index{
		byIdentity: make(map[Identity]int),
		byPath:     make(map[string]int),
	}
}

// Put stores c in a new slot and returns the slot number.
//
// byPath always points to the new slot afterwards. byIdentity is only
// updated when c has an identity; an identity already owned by another live
// slot is an invariant violation.
func (ix *Index) Put(c Change) (int, error) {
	if c.Identity.Known() {
		if prev, ok := ix.byIdentity[c.Identity]; ok {
			return -1, fmt.Errorf("%w: identity %s already tracked by %s", ErrInvariantViolation, c.Identity, ix.arena[prev])
		}
	}

	slot := len(ix.arena)
	ix.arena = append(ix.arena, c)
	ix.live = append(ix.live, true)

	ix.byPath[c.Path] = slot
	if c.Identity.Known() {
		ix.byIdentity[c.Identity] = slot
	} else {
		ix.withoutIdentity = append(ix.withoutIdentity, slot)
	}
	return slot, nil
}

// Replace overwrites the change in slot with c, keeping its position.
func (ix *Index) Replace(slot int, c Change) error {
	if !ix.valid(slot) {
		return fmt.Errorf("replace: no live change in slot %d", slot)
	}
	old := ix.arena[slot]

	if c.Identity.Known() {
		if owner, ok := ix.byIdentity[c.Identity]; ok && owner != slot {
			return fmt.Errorf("%w: identity %s already tracked by %s", ErrInvariantViolation, c.Identity, ix.arena[owner])
		}
	}

	if old.Path != c.Path && ix.byPath[old.Path] == slot {
		delete(ix.byPath, old.Path)
	}
	ix.byPath[c.Path] = slot

	if old.Identity != c.Identity {
		if old.Identity.Known() && ix.byIdentity[old.Identity] == slot {
			delete(ix.byIdentity, old.Identity)
		}
		switch {
		case c.Identity.Known() && !old.Identity.Known():
			// The change acquired an identity.
			ix.dropWithoutIdentity(slot)
			ix.byIdentity[c.Identity] = slot
		case c.Identity.Known():
			ix.byIdentity[c.Identity] = slot
		default:
			ix.withoutIdentity = append(ix.withoutIdentity, slot)
		}
	}

	ix.arena[slot] = c
	return nil
}

// Remove drops the change in slot.
func (ix *Index) Remove(slot int) {
	if !ix.valid(slot) {
		return
	}
	c := ix.arena[slot]
	ix.live[slot] = false
	if ix.byPath[c.Path] == slot {
		delete(ix.byPath, c.Path)
	}
	if c.Identity.Known() {
		if ix.byIdentity[c.Identity] == slot {
			delete(ix.byIdentity, c.Identity)
		}
	} else {
		ix.dropWithoutIdentity(slot)
	}
}

// ByIdentity returns the slot of the change tracking id.
func (ix *Index) ByIdentity(id Identity) (int, bool) {
	if !id.Known() {
		return -1, false
	}
	slot, ok := ix.byIdentity[id]
	return slot, ok && ix.valid(slot)
}

// ByPath returns the slot of the last change stored at path.
func (ix *Index) ByPath(path string) (int, bool) {
	slot, ok := ix.byPath[path]
	return slot, ok && ix.valid(slot)
}

// At returns the change in slot.
func (ix *Index) At(slot int) Change {
	return ix.arena[slot]
}

// Len returns the number of live changes.
func (ix *Index) Len() int {
	n := 0
	for _, ok := range ix.live {
		if ok {
			n++
		}
	}
	return n
}

// WithoutIdentity returns the slots of live changes that never acquired an
// identity, in insertion order.
func (ix *Index) WithoutIdentity() []int {
	out := make([]int, len(ix.withoutIdentity))
	copy(out, ix.withoutIdentity)
	return out
}

// Changes returns copies of the live changes. Changes without an identity
// come first, in the order WithoutIdentity lists them, followed by the
// others in insertion order.
func (ix *Index) Changes() []Change {
	out := make([]Change, 0, len(ix.arena))
	for _, slot := range ix.WithoutIdentity() {
		out = append(out, ix.arena[slot].Clone())
	}
	for slot, c := range ix.arena {
		if ix.live[slot] && c.Identity.Known() {
			out = append(out, c.Clone())
		}
	}
	return out
}

func (ix *Index) valid(slot int) bool {
	return slot >= 0 && slot < len(ix.arena) && ix.live[slot]
}

func (ix *Index) dropWithoutIdentity(slot int) {
	for i, s := range ix.withoutIdentity {
		if s == slot {
			ix.withoutIdentity = append(ix.withoutIdentity[:i], ix.withoutIdentity[i+1:]...)
			return
		}
	}
}
