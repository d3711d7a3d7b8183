package keepawake

import (
	"context"
	"os/exec"
	"testing"
	"time"

	apperrors "github.com/desksrv/host/internal/errors"
)

func TestCommandAdapterAcquireAndRelease(t *testing.T) {
	a := &CommandAdapter{Name: "sleep", Args: []string{"30"}}

	h, err := a.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	select {
	case <-h.Done():
		t.Fatal("inhibitor exited immediately")
	default:
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.Release(ctx); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if err := h.Err(); err != nil {
		t.Errorf("Err after Release = %v, want nil", err)
	}
}

func TestCommandAdapterMissingBinary(t *testing.T) {
	a := &CommandAdapter{Name: "/nonexistent-binary-for-keepawake-test"}

	_, err := a.Acquire(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if got := apperrors.GetCode(err); got != apperrors.CodeKeepAwakeUnsupported {
		t.Fatalf("code = %s, want %s", got, apperrors.CodeKeepAwakeUnsupported)
	}
}

func TestCommandAdapterExitReported(t *testing.T) {
	a := &CommandAdapter{Name: "false"}

	h, err := a.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	select {
	case <-h.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("process did not exit")
	}
	if h.Err() == nil {
		t.Error("expected exit error from false")
	}
}

func TestReleaseTimeoutKills(t *testing.T) {
	// sh ignores SIGTERM here, so only the kill ends it.
	a := &CommandAdapter{
		Name: "sh",
		execCmd: func(name string, args ...string) *exec.Cmd {
			return exec.Command("sh", "-c", "trap '' TERM; sleep 10")
		},
	}
	h, err := a.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := h.Release(ctx); err == nil {
		t.Fatal("expected timeout error")
	}

	select {
	case <-h.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("process survived the kill")
	}
}
