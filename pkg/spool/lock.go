package spool

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// withFileLock opens path (creating it if necessary), takes an exclusive
// advisory flock for the duration of fn, and closes the file on return.
// The lock is always acquired and released within this call; it never
// crosses an RPC boundary.
func withFileLock(path string, fn func(f *os.File) error) error {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("spool: open %s: %w", path, err)
	}
	defer f.Close()

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
		return fmt.Errorf("spool: flock %s: %w", path, err)
	}
	defer unix.Flock(int(f.Fd()), unix.LOCK_UN)

	return fn(f)
}
