//go:build darwin || linux

package container

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// lockExclusive takes a non-blocking advisory exclusive lock on fd so two
// runs never write into the same container path at once (spec.md §4.4: a
// Finalising run owns its output file exclusively until Finalize commits
// the trailer). Mirrors the xattr_unix.go build-tag split: a real syscall
// path guarded to darwin/linux, with a same-signature fallback elsewhere.
func lockExclusive(fd int) error {
	if err := unix.Flock(fd, unix.LOCK_EX|unix.LOCK_NB); err != nil {
		return fmt.Errorf("container: lock output: %w", err)
	}
	return nil
}

func unlock(fd int) error {
	return unix.Flock(fd, unix.LOCK_UN)
}
