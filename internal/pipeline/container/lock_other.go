//go:build !darwin && !linux

package container

// lockExclusive is a no-op on platforms without flock; concurrent writers
// to the same path are only prevented on darwin/linux (see lock_unix.go).
func lockExclusive(fd int) error { return nil }

func unlock(fd int) error { return nil }
