package installer

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

const lockFileName = ".packsmith-lock"

// acquireLock takes the per-root run guard. Only one sync may own a pack
// root at a time; the state file contract depends on it.
func acquireLock(root string) (release func(), err error) {
	path := filepath.Join(root, lockFileName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil, fmt.Errorf("another sync is already running for this pack (stale? remove %s)", path)
		}
		return nil, fmt.Errorf("acquiring run lock: %w", err)
	}
	fmt.Fprintln(f, strconv.Itoa(os.Getpid()))
	f.Close()
	return func() { os.Remove(path) }, nil
}
