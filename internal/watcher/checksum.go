package watcher

import (
	"crypto/md5"
	"encoding/base64"
	"fmt"
	"io"
	"os"

	"github.com/steveyegge/twinsync/internal/reconcile"
)

// checksum returns the base64 encoded MD5 of the file content and the
// number of bytes read.
func checksum(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	h := md5.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", n, fmt.Errorf("failed to hash %s: %w", path, err)
	}
	return base64.StdEncoding.EncodeToString(h.Sum(nil)), n, nil
}

// readAttrs hashes the file at path and reports whether it stayed still
// while being read. A file whose size or mtime moved under the hash is
// still being written and its attributes are not trustworthy yet.
func readAttrs(path string, before os.FileInfo) (*reconcile.Attrs, bool, error) {
	sum, n, err := checksum(path)
	if err != nil {
		return nil, false, err
	}
	after, err := os.Lstat(path)
	if err != nil {
		return nil, false, fmt.Errorf("failed to stat %s: %w", path, err)
	}

	complete := n == before.Size() &&
		after.Size() == before.Size() &&
		after.ModTime().Equal(before.ModTime())

	return &reconcile.Attrs{
		Size:       after.Size(),
		ModTime:    after.ModTime(),
		Checksum:   sum,
		Executable: after.Mode()&0o111 != 0,
	}, complete, nil
}
