package ipc

import (
	"encoding/json"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestControlSocketServer_StartStop(t *testing.T) {
	path := tempSocketPath(t)
	server := NewControlSocketServer(path, okHandler(), nil)

	if err := server.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat() error: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("socket permissions = %o, want 0600", info.Mode().Perm())
	}
	dirInfo, err := os.Stat(filepath.Dir(path))
	if err != nil {
		t.Fatalf("Stat(dir) error: %v", err)
	}
	if dirInfo.Mode().Perm() != 0700 {
		t.Errorf("directory permissions = %o, want 0700", dirInfo.Mode().Perm())
	}

	if err := server.Stop(); err != nil {
		t.Fatalf("Stop() error: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("socket path should be removed, stat error: %v", err)
	}
	if err := server.Stop(); err != nil {
		t.Fatalf("second Stop() error: %v", err)
	}
}

func TestControlSocketServer_StaleSocketCleanup(t *testing.T) {
	path := tempSocketPath(t)

	listener, err := net.Listen("unix", path)
	if err != nil {
		t.Fatalf("Listen() error: %v", err)
	}
	// Keep the file behind when closing.
	listener.(*net.UnixListener).SetUnlinkOnClose(false)
	if err := listener.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected stale socket file, got stat error: %v", err)
	}

	server := NewControlSocketServer(path, okHandler(), nil)
	if err := server.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer server.Stop()

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat() error: %v", err)
	}
	if info.Mode()&os.ModeSocket == 0 {
		t.Fatalf("socket path is not a socket")
	}
}

func TestControlSocketServer_AlreadyRunning(t *testing.T) {
	path := tempSocketPath(t)

	listener, err := net.Listen("unix", path)
	if err != nil {
		t.Fatalf("Listen() error: %v", err)
	}
	defer listener.Close()

	server := NewControlSocketServer(path, okHandler(), nil)
	if err := server.Start(); err == nil {
		_ = server.Stop()
		t.Fatal("Start() expected error for already running socket")
	} else if !strings.Contains(err.Error(), "already in use") {
		t.Fatalf("Start() error = %v, want already in use", err)
	}

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("socket should remain, stat error: %v", err)
	}
}

func TestControlSocketServer_NotASocket(t *testing.T) {
	path := tempSocketPath(t)
	if err := os.WriteFile(path, []byte("x"), 0600); err != nil {
		t.Fatal(err)
	}
	server := NewControlSocketServer(path, okHandler(), nil)
	if err := server.Start(); err == nil || !strings.Contains(err.Error(), "not a socket") {
		server.Stop()
		t.Fatalf("Start() error = %v, want not a socket", err)
	}
}

func TestControlSocketServer_PathTooLong(t *testing.T) {
	path := "/tmp/" + strings.Repeat("x", socketPathLimit) + ".sock"
	server := NewControlSocketServer(path, okHandler(), nil)
	if err := server.Start(); err == nil || !strings.Contains(err.Error(), "exceeds") {
		server.Stop()
		t.Fatalf("Start() error = %v, want length error", err)
	}
}

func TestControlSocketServer_RequestFlow(t *testing.T) {
	path := tempSocketPath(t)
	server := NewControlSocketServer(path, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/status" {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(map[string]int{"viewers": 2})
	}), nil)

	if err := server.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer server.Stop()

	client := NewClient(path, 2*time.Second)
	resp, err := client.Get("http://desksrv/status")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("status = %d, body = %s", resp.StatusCode, string(body))
	}
	var got map[string]int
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil || got["viewers"] != 2 {
		t.Fatalf("body = %v, %v", got, err)
	}
}

func tempSocketPath(t *testing.T) string {
	t.Helper()
	// t.TempDir paths can exceed the sun_path limit.
	baseDir, err := os.MkdirTemp("/tmp", "desksrv-ipc-")
	if err != nil {
		baseDir = t.TempDir()
	}
	t.Cleanup(func() {
		_ = os.RemoveAll(baseDir)
	})
	return filepath.Join(baseDir, "control.sock")
}
