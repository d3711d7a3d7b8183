//go:build !(linux || darwin || freebsd || netbsd || openbsd || dragonfly)

package pty

import (
	"errors"
	"syscall"
)

var errUnsupported = errors.New("pty: not supported on this platform")

// SpawnPtyWithOptions is unavailable on platforms without POSIX PTYs.
func SpawnPtyWithOptions(opts Options) (*Session, error) {
	return nil, errUnsupported
}

func (s *Session) Read(p []byte) (int, error)      { return 0, errUnsupported }
func (s *Session) Write(p []byte) (int, error)     { return 0, errUnsupported }
func (s *Session) Resize(cols, rows int) error     { return errUnsupported }
func (s *Session) Signal(sig syscall.Signal) error { return errUnsupported }
func (s *Session) Close() error                    { return nil }
