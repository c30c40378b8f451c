//go:build unix

package watcher

import (
	"strconv"

	"golang.org/x/sys/unix"
)

// fileID returns the inode number of path. Symlinks are not followed.
func fileID(path string) (string, error) {
	var st unix.Stat_t
	if err := unix.Lstat(path, &st); err != nil {
		return "", err
	}
	return strconv.FormatUint(uint64(st.Ino), 10), nil
}
