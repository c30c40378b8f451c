//go:build !unix

package watcher

// fileID has no stable file identity to offer on this platform. Events
// are emitted without identity and correlated by path.
func fileID(string) (string, error) {
	return "", nil
}
