package reconcile

import "strings"

// Paths handled by this package are slash separated and relative to the
// synchronized directory.
const sep = "/"

// isStrictDescendant reports whether child lies strictly below parent.
func isStrictDescendant(parent, child string) bool {
	if parent == "" || child == "" || parent == child {
		return false
	}
	return strings.HasPrefix(child, parent+sep)
}

// ancestors calls fn for every strict ancestor of p, nearest first.
func ancestors(p string, fn func(string)) {
	for i := len(p) - 1; i > 0; i-- {
		if p[i] == '/' {
			fn(p[:i])
		}
	}
}

// rebase replaces the from prefix of p by to. p must equal from or lie below it.
func rebase(p, from, to string) string {
	if p == from {
		return to
	}
	return to + p[len(from):]
}
