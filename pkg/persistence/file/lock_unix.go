//go:build unix

package file

import (
	"fmt"
	"os"
	"syscall"
)

// lockFile takes an exclusive flock on path and returns its release.
func lockFile(path string) (func(), error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0600) // #nosec G304 -- path is built from the store root
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file: %w", err)
	}

	fd := int(f.Fd()) // #nosec G115 -- descriptors fit in int

	err = syscall.Flock(fd, syscall.LOCK_EX)
	if err != nil {
		_ = f.Close()

		return nil, fmt.Errorf("failed to lock %s: %w", path, err)
	}

	return func() {
		_ = syscall.Flock(fd, syscall.LOCK_UN)
		_ = f.Close()
	}, nil
}
