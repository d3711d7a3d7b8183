package keepawake

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	apperrors "github.com/desksrv/host/internal/errors"
)

// CommandAdapter holds an inhibitor by running a command for as long as
// the inhibitor is wanted.
type CommandAdapter struct {
	Name string
	Args []string

	execCmd func(name string, args ...string) *exec.Cmd
}

// Acquire starts the command.
func (a *CommandAdapter) Acquire(ctx context.Context) (Handle, error) {
	execCmd := a.execCmd
	if execCmd == nil {
		execCmd = exec.Command
	}

	cmd := execCmd(a.Name, a.Args...)
	if err := cmd.Start(); err != nil {
		var ex *exec.Error
		if errors.As(err, &ex) || errors.Is(err, exec.ErrNotFound) || errors.Is(err, os.ErrNotExist) {
			return nil, apperrors.Wrap(apperrors.CodeKeepAwakeUnsupported, a.Name+" is unavailable", err)
		}
		return nil, apperrors.Wrap(apperrors.CodeKeepAwakeAcquireFailed, "failed to start "+a.Name, err)
	}

	h := &procHandle{name: a.Name, cmd: cmd, done: make(chan struct{})}
	go h.wait()
	return h, nil
}

type procHandle struct {
	name string
	cmd  *exec.Cmd

	mu       sync.Mutex
	done     chan struct{}
	err      error
	released bool
	once     sync.Once
}

func (h *procHandle) wait() {
	err := h.cmd.Wait()

	h.mu.Lock()
	if h.released {
		err = nil
	}
	h.err = err
	h.mu.Unlock()

	close(h.done)
}

func (h *procHandle) Done() <-chan struct{} { return h.done }

func (h *procHandle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// Release sends SIGTERM and kills the process if ctx ends first.
func (h *procHandle) Release(ctx context.Context) error {
	if h.cmd == nil || h.cmd.Process == nil {
		return nil
	}

	h.once.Do(func() {
		h.mu.Lock()
		h.released = true
		h.mu.Unlock()
		_ = h.cmd.Process.Signal(syscall.SIGTERM)
	})

	select {
	case <-ctx.Done():
		_ = h.cmd.Process.Kill()
		select {
		case <-h.done:
		case <-time.After(200 * time.Millisecond):
		}
		return fmt.Errorf("release timed out waiting for %s to exit: %w", h.name, ctx.Err())
	case <-h.done:
		return nil
	}
}
