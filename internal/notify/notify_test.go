package notify

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// fakeCommand writes a script that records its arguments, one per line.
func fakeCommand(t *testing.T, exitCode int) (cmd, argsFile string) {
	t.Helper()
	dir := t.TempDir()
	argsFile = filepath.Join(dir, "args")
	cmd = filepath.Join(dir, "fake-notify")
	script := "#!/bin/sh\nfor a in \"$@\"; do printf '%s\\n' \"$a\" >> " + argsFile + "; done\nexit " +
		string(rune('0'+exitCode)) + "\n"
	if err := os.WriteFile(cmd, []byte(script), 0755); err != nil {
		t.Fatal(err)
	}
	return cmd, argsFile
}

func TestNotifyRunsCommand(t *testing.T) {
	cmd, argsFile := fakeCommand(t, 0)
	n := New(cmd)
	if !n.Available() {
		t.Fatal("fake command not available")
	}

	if err := n.Notify("  -rf build done  "); err != nil {
		t.Fatalf("Notify: %v", err)
	}

	data, err := os.ReadFile(argsFile)
	if err != nil {
		t.Fatalf("command not run: %v", err)
	}
	args := strings.Split(strings.TrimSpace(string(data)), "\n")
	want := []string{"--app-name=desksrv", "desksrv", "--", "-rf build done"}
	if strings.Join(args, "|") != strings.Join(want, "|") {
		t.Errorf("args = %q, want %q", args, want)
	}
}

func TestNotifyFallsBack(t *testing.T) {
	n := New(filepath.Join(t.TempDir(), "missing"))
	if n.Available() {
		t.Fatal("missing command reported available")
	}
	if err := n.Notify("hello"); err != nil {
		t.Errorf("Notify without helper: %v", err)
	}

	cmd, _ := fakeCommand(t, 3)
	if err := New(cmd).Notify("hello"); err != nil {
		t.Errorf("Notify with failing helper: %v", err)
	}
}

func TestNotifyTruncates(t *testing.T) {
	cmd, argsFile := fakeCommand(t, 0)
	New(cmd).Notify(strings.Repeat("x", 5000))

	data, _ := os.ReadFile(argsFile)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if got := len(lines[len(lines)-1]); got != maxMessageLen {
		t.Errorf("message length = %d, want %d", got, maxMessageLen)
	}
}

func TestDefaultCommand(t *testing.T) {
	if New("").command != DefaultCommand {
		t.Error("empty command did not default")
	}
}
