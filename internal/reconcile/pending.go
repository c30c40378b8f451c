package reconcile

// SplitPending separates the changes still being observed from the ones
// ready to apply. Both slices keep the input order; pending changes are
// returned untouched so they can be fed back to the next run as they are.
//
// A change waiting on a pending directory move is held back with it: an
// Update below the move's destination, or a change whose source was rebased
// below it.
func SplitPending(changes []Change) (ready, pending []Change) {
	held := make([]bool, len(changes))
	var waitOn []string
	for i, c := range changes {
		if c.Incomplete {
			held[i] = true
			if c.IsDirMove() {
				waitOn = append(waitOn, c.Path)
			}
		}
	}
	for grew := len(waitOn) > 0; grew; {
		grew = false
		for i, c := range changes {
			if held[i] || !waitsOn(c, waitOn) {
				continue
			}
			held[i] = true
			if c.IsDirMove() {
				waitOn = append(waitOn, c.Path)
				grew = true
			}
		}
	}

	ready = make([]Change, 0, len(changes))
	for i, c := range changes {
		if held[i] {
			pending = append(pending, c)
			continue
		}
		ready = append(ready, c)
	}
	return ready, pending
}

func waitsOn(c Change, dirs []string) bool {
	var p string
	switch {
	case c.NeedRefetch && c.Source != nil:
		p = c.Source.Path
	case c.Kind == KindUpdate:
		p = c.Path
	default:
		return false
	}
	for _, d := range dirs {
		if isStrictDescendant(d, p) {
			return true
		}
	}
	return false
}
