//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly

package pty

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/creack/pty"
	"golang.org/x/sys/unix"
)

// SpawnPtyWithOptions allocates a PTY pair, execs opts.Command on the slave
// as a new session with the slave as controlling terminal, and returns once
// the child has survived the startup grace period.
func SpawnPtyWithOptions(opts Options) (*Session, error) {
	if opts.Command == "" {
		return nil, fmt.Errorf("pty: empty command")
	}
	opts.applyDefaults()

	ptmx, tty, err := pty.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open PTY: %w", err)
	}

	if err := pty.Setsize(tty, &pty.Winsize{Rows: uint16(opts.Rows), Cols: uint16(opts.Cols)}); err != nil {
		ptmx.Close()
		tty.Close()
		return nil, fmt.Errorf("failed to set PTY size: %w", err)
	}

	if !opts.KeepLineDiscipline {
		if err := disableEchoAndCanon(int(tty.Fd())); err != nil {
			ptmx.Close()
			tty.Close()
			return nil, fmt.Errorf("failed to configure terminal attributes: %w", err)
		}
	}

	master, err := nonblockingDup(ptmx)
	// The duplicate is the only master descriptor we keep.
	ptmx.Close()
	if err != nil {
		tty.Close()
		return nil, err
	}

	cmd := exec.Command(opts.Command, opts.Args...)
	cmd.Stdin = tty
	cmd.Stdout = tty
	cmd.Stderr = tty
	cmd.Env = opts.Env
	cmd.Dir = opts.Dir
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setsid:  true,
		Setctty: true,
		Ctty:    0, // fd 0 in child = slave PTY
	}

	if err := cmd.Start(); err != nil {
		tty.Close()
		master.Close()
		return nil, fmt.Errorf("failed to start %s: %w", opts.Command, err)
	}
	// Close slave in parent; the child has its own copy via fd 0/1/2.
	tty.Close()

	s := &Session{
		Command:   opts.Command,
		CreatedAt: time.Now(),
		opts:      opts,
		master:    master,
		cmd:       cmd,
		exited:    make(chan struct{}),
	}
	go s.wait()

	if opts.StartupGrace > 0 {
		select {
		case <-s.exited:
			master.Close()
			return nil, fmt.Errorf("%w: %v", ErrExitedEarly, s.waitErr)
		case <-time.After(opts.StartupGrace):
		}
	}

	return s, nil
}

// nonblockingDup duplicates f's descriptor, puts the copy in non-blocking
// mode and hands it to os.NewFile, which registers it with the runtime
// poller so SetReadDeadline works.
func nonblockingDup(f *os.File) (*os.File, error) {
	rc, err := f.SyscallConn()
	if err != nil {
		return nil, fmt.Errorf("failed to access PTY descriptor: %w", err)
	}

	var fd int
	var dupErr error
	if err := rc.Control(func(raw uintptr) {
		fd, dupErr = unix.Dup(int(raw))
	}); err != nil {
		return nil, fmt.Errorf("failed to access PTY descriptor: %w", err)
	}
	if dupErr != nil {
		return nil, fmt.Errorf("failed to dup PTY master: %w", dupErr)
	}

	unix.CloseOnExec(fd)
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("failed to set PTY master non-blocking: %w", err)
	}
	return os.NewFile(uintptr(fd), "/dev/ptmx"), nil
}

// Read reads whatever output is available, waiting at most the poll
// interval. It returns ErrWouldBlock when nothing arrived, io.EOF once the
// PTY is closed or the child side hung up, and any other error unchanged.
func (s *Session) Read(p []byte) (int, error) {
	if s.IsClosed() {
		return 0, io.EOF
	}

	if err := s.master.SetReadDeadline(time.Now().Add(s.opts.PollInterval)); err != nil {
		if errors.Is(err, os.ErrClosed) {
			return 0, io.EOF
		}
		return 0, err
	}

	n, err := s.master.Read(p)
	switch {
	case err == nil:
		return n, nil
	case errors.Is(err, os.ErrDeadlineExceeded):
		return n, ErrWouldBlock
	case errors.Is(err, os.ErrClosed), errors.Is(err, io.EOF):
		return n, io.EOF
	case errors.Is(err, syscall.EIO):
		// Linux reports a hung-up slave as EIO on the master.
		return n, io.EOF
	default:
		return n, err
	}
}

// Write sends input to the PTY (and thus to the running shell).
func (s *Session) Write(p []byte) (int, error) {
	if s.IsClosed() {
		return 0, fmt.Errorf("session not running")
	}
	return s.master.Write(p)
}

// Resize changes the terminal dimensions of the PTY.
func (s *Session) Resize(cols, rows int) error {
	if cols <= 0 || rows <= 0 {
		return fmt.Errorf("invalid dimensions: cols=%d, rows=%d", cols, rows)
	}
	if s.IsClosed() {
		return fmt.Errorf("session not running")
	}

	rc, err := s.master.SyscallConn()
	if err != nil {
		return fmt.Errorf("resize failed: %w", err)
	}
	var ioctlErr error
	if err := rc.Control(func(fd uintptr) {
		ioctlErr = unix.IoctlSetWinsize(int(fd), unix.TIOCSWINSZ, &unix.Winsize{
			Row: uint16(rows),
			Col: uint16(cols),
		})
	}); err != nil {
		return fmt.Errorf("resize failed: %w", err)
	}
	if ioctlErr != nil {
		return fmt.Errorf("resize failed: %w", ioctlErr)
	}
	return nil
}

// Signal delivers sig to the child's process group. The child is a session
// leader, so its group contains the shell and its foreground jobs.
func (s *Session) Signal(sig syscall.Signal) error {
	pid := s.Pid()
	if pid == 0 || !s.Alive() {
		return nil
	}
	if err := unix.Kill(-pid, sig); err != nil {
		if errors.Is(err, unix.ESRCH) {
			return nil
		}
		// Fall back to the process itself if the group is gone.
		return s.cmd.Process.Signal(sig)
	}
	return nil
}

// Close tears the session down: the master is closed first, which unblocks
// any reader and hangs up the slave; the child then gets SIGTERM, and
// SIGKILL if it is still alive after the kill grace. Close returns once the
// child has been reaped. It is safe to call more than once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()

		if err := s.master.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
			s.closeErr = err
		}

		if s.Alive() {
			_ = s.Signal(syscall.SIGTERM)
			select {
			case <-s.exited:
			case <-time.After(s.opts.KillGrace):
				_ = s.Signal(syscall.SIGKILL)
				<-s.exited
			}
		}
	})
	return s.closeErr
}
