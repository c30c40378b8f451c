package reconcile

import (
	"cmp"
	"container/heap"
	"strings"
)

// Compare orders two changes for application. It returns a negative number
// when a must be applied before b and a positive one when b goes first.
//
// Structural rules come first, each checked in both directions: a change
// creating an ancestor of what the other deletes, creates or touches goes
// first, a deletion goes before the deletion of its ancestor, and freeing a
// path goes before creating it again. Otherwise changes creating a path
// come first, ascending on it, then changes only deleting one, descending,
// then the rest. Remaining ties are broken on the change content, so only
// identical changes compare equal.
//
// Compare is antisymmetric but, being pairwise, cannot be transitive over
// every set of changes. Sort therefore applies the structural rules as a
// dependency graph and only uses Compare to pick among the changes whose
// dependencies are satisfied, where no structural rule can apply.
func Compare(a, b Change) int {
	ca, hasCA := creates(a)
	cb, hasCB := creates(b)
	da, hasDA := deletes(a)
	db, hasDB := deletes(b)
	ra, hasRA := requires(a)
	rb, hasRB := requires(b)

	levels := [][2]bool{
		{hasCA && hasDB && isStrictDescendant(ca, db), hasCB && hasDA && isStrictDescendant(cb, da)},
		{hasCA && hasCB && isStrictDescendant(ca, cb), hasCB && hasCA && isStrictDescendant(cb, ca)},
		{hasDA && hasDB && isStrictDescendant(db, da), hasDA && hasDB && isStrictDescendant(da, db)},
		{hasCA && hasRB && isStrictDescendant(ca, rb), hasCB && hasRA && isStrictDescendant(cb, ra)},
		{hasDA && hasCB && da == cb, hasDB && hasCA && db == ca},
	}
	for _, l := range levels {
		switch {
		case l[0] && !l[1]:
			return -1
		case l[1] && !l[0]:
			return 1
		}
	}

	return keyOf(a, 0).compare(keyOf(b, 0))
}

// Sort returns the changes in application order.
//
// The order is a topological sort of the dependencies between changes:
//
//   - a change creating P goes before any change deleting below P
//   - a change creating P goes before any change creating or updating below P
//   - a deletion below P goes before the change deleting P
//   - a change freeing P goes before a change creating P
//
// Among the changes whose dependencies are satisfied, creations are taken
// first in ascending path order, then deletions in descending path order,
// then the rest. Dependency cycles, which only contradictory batches
// produce, are broken the same way. The result depends only on the set of
// changes, not on their input order.
func Sort(changes []Change) []Change {
	n := len(changes)
	keys := make([]sortKey, n)
	for i, c := range changes {
		keys[i] = keyOf(c, i)
	}
	succ, indegree := dependencies(changes)

	h := &readyHeap{changes: changes}
	for i := 0; i < n; i++ {
		if indegree[i] == 0 {
			h.items = append(h.items, i)
		}
	}
	heap.Init(h)

	done := make([]bool, n)
	out := make([]Change, 0, n)
	for len(out) < n {
		if h.Len() == 0 {
			heap.Push(h, breakCycle(keys, done))
		}
		i := heap.Pop(h).(int)
		if done[i] {
			continue
		}
		done[i] = true
		out = append(out, changes[i].Clone())
		for _, j := range succ[i] {
			if done[j] {
				continue
			}
			indegree[j]--
			if indegree[j] == 0 {
				heap.Push(h, j)
			}
		}
	}
	return out
}

// dependencies builds the "goes before" graph. Edges are found by walking
// the ancestors of each path, never by comparing every pair.
func dependencies(changes []Change) (succ [][]int, indegree []int) {
	n := len(changes)
	succ = make([][]int, n)
	indegree = make([]int, n)
	edge := func(from, to int) {
		if from == to {
			return
		}
		succ[from] = append(succ[from], to)
		indegree[to]++
	}

	createdAt := make(map[string][]int)
	deletedAt := make(map[string][]int)
	for i, c := range changes {
		if p, ok := creates(c); ok {
			createdAt[p] = append(createdAt[p], i)
		}
		if p, ok := deletes(c); ok {
			deletedAt[p] = append(deletedAt[p], i)
		}
	}

	for v, c := range changes {
		if d, ok := deletes(c); ok {
			ancestors(d, func(p string) {
				for _, u := range createdAt[p] {
					edge(u, v)
				}
				for _, w := range deletedAt[p] {
					edge(v, w)
				}
			})
		}
		if r, ok := requires(c); ok {
			ancestors(r, func(p string) {
				for _, u := range createdAt[p] {
					edge(u, v)
				}
			})
		}
		if p, ok := creates(c); ok {
			for _, u := range deletedAt[p] {
				edge(u, v)
			}
		}
	}
	return succ, indegree
}

// breakCycle picks the smallest change not yet emitted.
func breakCycle(keys []sortKey, done []bool) int {
	best := -1
	for i := range keys {
		if done[i] {
			continue
		}
		if best < 0 || keys[i].compare(keys[best]) < 0 {
			best = i
		}
	}
	return best
}

// sortKey is the content of a change that ties are broken on.
type sortKey struct {
	rank     int // 0 creates a path, 1 only deletes one, 2 neither
	primary  string
	kind     Kind
	docType  DocType
	path     string
	source   string
	identity Identity
	reason   string
	index    int
}

func keyOf(c Change, index int) sortKey {
	k := sortKey{
		rank:     2,
		primary:  c.Path,
		kind:     c.Kind,
		docType:  c.DocType,
		path:     c.Path,
		source:   c.SourcePath(),
		identity: c.Identity,
		reason:   c.Reason,
		index:    index,
	}
	if p, ok := creates(c); ok {
		k.rank, k.primary = 0, p
	} else if p, ok := deletes(c); ok {
		k.rank, k.primary = 1, p
	}
	return k
}

func (k sortKey) compare(o sortKey) int {
	if k.rank != o.rank {
		return cmp.Compare(k.rank, o.rank)
	}
	if k.primary != o.primary {
		if k.rank == 1 {
			return strings.Compare(o.primary, k.primary)
		}
		return strings.Compare(k.primary, o.primary)
	}
	if k.kind != o.kind {
		return cmp.Compare(k.kind, o.kind)
	}
	if k.docType != o.docType {
		return cmp.Compare(k.docType, o.docType)
	}
	if c := strings.Compare(k.path, o.path); c != 0 {
		return c
	}
	if c := strings.Compare(k.source, o.source); c != 0 {
		return c
	}
	if c := strings.Compare(string(k.identity), string(o.identity)); c != 0 {
		return c
	}
	if c := strings.Compare(k.reason, o.reason); c != 0 {
		return c
	}
	return cmp.Compare(k.index, o.index)
}

// readyHeap is a min-heap of the indices of changes whose dependencies are
// satisfied, ordered by Compare. Identical changes keep their input order.
type readyHeap struct {
	changes []Change
	items   []int
}

func (h *readyHeap) Len() int { return len(h.items) }

func (h *readyHeap) Less(i, j int) bool {
	a, b := h.items[i], h.items[j]
	if c := Compare(h.changes[a], h.changes[b]); c != 0 {
		return c < 0
	}
	return a < b
}

func (h *readyHeap) Swap(i, j int) { h.items[i], h.items[j] = h.items[j], h.items[i] }

func (h *readyHeap) Push(x any) { h.items = append(h.items, x.(int)) }

func (h *readyHeap) Pop() any {
	old := h.items
	n := len(old)
	x := old[n-1]
	h.items = old[:n-1]
	return x
}
