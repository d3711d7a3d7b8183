// Package pty runs a shell inside a pseudo-terminal and exposes the master
// side as a non-blocking byte stream.
//
// A PTY (pseudo-terminal) is a pair of virtual devices: a "master" (ptmx) and
// a "slave" (pts). The shell runs attached to the slave (thinking it's a
// real terminal), while we read/write the master to relay its output and
// send input.
//
// SpawnPty is the only way to create a Session. Everything above this
// package depends on the Session contract: Read never blocks for longer than
// the poll interval, Write forwards input, Close tears the PTY and child
// down in order.
package pty

import (
	"errors"
	"os"
	"os/exec"
	"sync"
	"time"
)

// ErrWouldBlock is returned by Read when no output arrived within the poll
// interval. It is not a failure; the caller should retry.
var ErrWouldBlock = errors.New("pty: no data available")

// ErrExitedEarly is returned by SpawnPty when the child died during the
// startup grace period.
var ErrExitedEarly = errors.New("pty: child exited during startup")

// DefaultShells is searched in order when no shell is configured.
var DefaultShells = []string{"/bin/bash", "/usr/bin/bash", "/bin/sh", "/usr/bin/sh"}

// Defaults for Options.
const (
	DefaultPollInterval = 10 * time.Millisecond
	DefaultStartupGrace = 200 * time.Millisecond
	DefaultKillGrace    = 2 * time.Second
	DefaultRows         = 24
	DefaultCols         = 80
)

// Options configures SpawnPtyWithOptions. Zero values select defaults.
type Options struct {
	// Command is the program to exec in the child.
	Command string

	// Args are the command arguments.
	Args []string

	// Env is the child environment. Nil means the parent environment with
	// DISPLAY removed, TERM=xterm and an empty SSH_ASKPASS.
	Env []string

	// Dir is the child's working directory. Empty means the parent's.
	Dir string

	// Rows and Cols set the initial window size.
	Rows int
	Cols int

	// KeepLineDiscipline leaves ECHO and ICANON enabled. By default both are
	// cleared so the remote terminal emulator is the single source of echo.
	KeepLineDiscipline bool

	// PollInterval bounds how long one Read waits for output.
	PollInterval time.Duration

	// StartupGrace is how long SpawnPty waits before checking the child is
	// still alive. Negative disables the check.
	StartupGrace time.Duration

	// KillGrace is how long Close waits after SIGTERM before SIGKILL.
	KillGrace time.Duration
}

func (o *Options) applyDefaults() {
	if o.Rows <= 0 {
		o.Rows = DefaultRows
	}
	if o.Cols <= 0 {
		o.Cols = DefaultCols
	}
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.StartupGrace == 0 {
		o.StartupGrace = DefaultStartupGrace
	}
	if o.KillGrace <= 0 {
		o.KillGrace = DefaultKillGrace
	}
	if o.Env == nil {
		o.Env = ShellEnv(os.Environ())
	}
}

// Session owns one PTY master and one child process.
type Session struct {
	// Command is the program running on the slave side.
	Command string

	// CreatedAt is when the child was started.
	CreatedAt time.Time

	opts Options

	// master is a duplicate of the PTY master in non-blocking mode, so the
	// runtime poller can honour read deadlines on it.
	master *os.File
	cmd    *exec.Cmd

	// exited is closed once cmd.Wait has reaped the child.
	exited  chan struct{}
	waitErr error

	mu     sync.Mutex
	closed bool

	closeOnce sync.Once
	closeErr  error
}

// SpawnPty starts command with args on a fresh PTY using default options.
func SpawnPty(command string, args ...string) (*Session, error) {
	return SpawnPtyWithOptions(Options{Command: command, Args: args})
}

// Pid returns the child's process ID.
func (s *Session) Pid() int {
	if s.cmd == nil || s.cmd.Process == nil {
		return 0
	}
	return s.cmd.Process.Pid
}

// Exited returns a channel that is closed once the child has been reaped.
func (s *Session) Exited() <-chan struct{} {
	return s.exited
}

// Alive reports whether the child has not been reaped yet.
func (s *Session) Alive() bool {
	select {
	case <-s.exited:
		return false
	default:
		return true
	}
}

// ExitError returns the cmd.Wait result once the child has exited.
func (s *Session) ExitError() error {
	select {
	case <-s.exited:
		return s.waitErr
	default:
		return nil
	}
}

// IsClosed reports whether Close has been called.
func (s *Session) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) wait() {
	s.waitErr = s.cmd.Wait()
	close(s.exited)
}

// DiscoverShell returns the first candidate that exists and is executable.
// Candidates default to DefaultShells.
func DiscoverShell(candidates ...string) (string, bool) {
	if len(candidates) == 0 {
		candidates = DefaultShells
	}
	for _, c := range candidates {
		info, err := os.Stat(c)
		if err != nil || info.IsDir() {
			continue
		}
		if info.Mode().Perm()&0111 != 0 {
			return c, true
		}
	}
	return "", false
}

// ShellEnv derives the child environment from base: DISPLAY is dropped so
// GUI helpers do not pop up on the served desktop, TERM is forced to xterm
// and SSH_ASKPASS is emptied so ssh prompts stay in the terminal.
func ShellEnv(base []string) []string {
	out := make([]string, 0, len(base)+2)
	for _, kv := range base {
		switch {
		case hasKey(kv, "DISPLAY"), hasKey(kv, "TERM"), hasKey(kv, "SSH_ASKPASS"):
			continue
		}
		out = append(out, kv)
	}
	return append(out, "TERM=xterm", "SSH_ASKPASS=")
}

func hasKey(kv, key string) bool {
	return len(kv) > len(key) && kv[len(key)] == '=' && kv[:len(key)] == key
}
