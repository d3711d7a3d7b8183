//go:build unix

package ipc

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// socketPathLimit leaves room for the terminating NUL in sun_path.
const socketPathLimit = len(unix.RawSockaddrUnix{}.Path) - 1

func validateSocketPath(path string) error {
	if len(path) > socketPathLimit {
		return fmt.Errorf("control socket path exceeds %d bytes: %s", socketPathLimit, path)
	}
	return nil
}
