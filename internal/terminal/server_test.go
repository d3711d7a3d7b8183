package terminal

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/desksrv/host/internal/audit"
	"github.com/desksrv/host/internal/pty"
	"github.com/desksrv/host/internal/registry"
)

func newTestServer(t *testing.T, opts Options) (*Server, *httptest.Server) {
	t.Helper()
	if opts.Shell == "" {
		opts.Shell = "/bin/sh"
	}
	if opts.Registry == nil {
		opts.Registry = registry.New()
	}
	s := NewServer(opts)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		s.Stop()
		ts.Close()
	})
	return s, ts
}

func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readText(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	mt, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if mt != websocket.TextMessage {
		t.Fatalf("message type = %d, want text (%q)", mt, data)
	}
	return string(data)
}

// readOutputUntil collects binary output until want appears.
func readOutputUntil(t *testing.T, conn *websocket.Conn, want string) string {
	t.Helper()
	var out strings.Builder
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("waiting for %q: %v (got %q)", want, err, out.String())
		}
		if mt == websocket.BinaryMessage {
			out.Write(data)
		}
		if strings.Contains(out.String(), want) {
			return out.String()
		}
	}
}

// waitClosed reads until the server closes the connection and returns the
// text messages seen on the way.
func waitClosed(t *testing.T, conn *websocket.Conn) []string {
	t.Helper()
	var texts []string
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			var ne interface{ Timeout() bool }
			if errors.As(err, &ne) && ne.Timeout() {
				t.Fatal("connection was not closed")
			}
			return texts
		}
		if mt == websocket.TextMessage {
			texts = append(texts, string(data))
		}
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func processGone(pid int) bool {
	return errors.Is(syscall.Kill(pid, 0), syscall.ESRCH)
}

// TestWelcomeAndOutput verifies the greeting and command output relay.
func TestWelcomeAndOutput(t *testing.T) {
	s, ts := newTestServer(t, Options{})
	conn := dial(t, ts)

	if got := readText(t, conn); got != WelcomeMessage {
		t.Errorf("welcome = %q", got)
	}
	if err := conn.WriteMessage(websocket.TextMessage, []byte("echo bridge-$((6*7))")); err != nil {
		t.Fatal(err)
	}
	readOutputUntil(t, conn, "bridge-42")

	if n := s.reg.TerminalCount(); n != 1 {
		t.Errorf("TerminalCount = %d, want 1", n)
	}
}

// TestExitClosesSession verifies "exit" ends the shell and the connection.
func TestExitClosesSession(t *testing.T) {
	s, ts := newTestServer(t, Options{})
	conn := dial(t, ts)
	readText(t, conn)

	waitFor(t, "registration", func() bool { return s.reg.TerminalCount() == 1 })
	pid := s.reg.Terminals()[0].PID

	conn.WriteMessage(websocket.TextMessage, []byte("  EXIT \n"))

	texts := waitClosed(t, conn)
	found := false
	for _, m := range texts {
		if m == ExitMessage {
			found = true
		}
	}
	if !found {
		t.Errorf("texts = %q, want %q", texts, ExitMessage)
	}

	waitFor(t, "session removal", func() bool { return s.reg.TerminalCount() == 0 })
	waitFor(t, "child reaped", func() bool { return processGone(pid) })
}

// TestDisconnectTearsDown verifies a dropped client kills its shell.
func TestDisconnectTearsDown(t *testing.T) {
	s, ts := newTestServer(t, Options{})
	conn := dial(t, ts)
	readText(t, conn)

	waitFor(t, "registration", func() bool { return s.reg.TerminalCount() == 1 })
	pid := s.reg.Terminals()[0].PID

	conn.Close()

	waitFor(t, "session removal", func() bool { return s.reg.TerminalCount() == 0 })
	waitFor(t, "child reaped", func() bool { return processGone(pid) })
}

// TestShellExitClosesConnection verifies the client is hung up when the
// shell ends by itself.
func TestShellExitClosesConnection(t *testing.T) {
	s, ts := newTestServer(t, Options{})
	conn := dial(t, ts)
	readText(t, conn)

	// "exit" is intercepted, so end the shell another way.
	conn.WriteMessage(websocket.TextMessage, []byte("kill -9 $$"))
	waitClosed(t, conn)
	waitFor(t, "session removal", func() bool { return s.reg.TerminalCount() == 0 })
}

// TestSpawnFailure verifies one explanatory message and a close.
func TestSpawnFailure(t *testing.T) {
	s, ts := newTestServer(t, Options{Shell: "/nonexistent/shell"})
	conn := dial(t, ts)

	texts := waitClosed(t, conn)
	if len(texts) != 1 || !strings.Contains(texts[0], "/nonexistent/shell") {
		t.Errorf("texts = %q", texts)
	}
	if n := s.reg.TerminalCount(); n != 0 {
		t.Errorf("TerminalCount = %d after failed spawn", n)
	}
}

// TestSessionLimit verifies connections over the registry limit are refused.
func TestSessionLimit(t *testing.T) {
	s, ts := newTestServer(t, Options{Registry: registry.NewWithLimit(1)})

	first := dial(t, ts)
	readText(t, first)
	waitFor(t, "registration", func() bool { return s.reg.TerminalCount() == 1 })

	second := dial(t, ts)
	texts := waitClosed(t, second)
	if len(texts) != 1 || !strings.Contains(texts[0], "too many") {
		t.Errorf("second connection texts = %q", texts)
	}

	// The first session is unaffected.
	first.WriteMessage(websocket.TextMessage, []byte("echo still-here"))
	readOutputUntil(t, first, "still-here")
}

// TestStopClosesAllSessions verifies Stop reaps every shell.
func TestStopClosesAllSessions(t *testing.T) {
	s, ts := newTestServer(t, Options{})

	var conns []*websocket.Conn
	for i := 0; i < 3; i++ {
		c := dial(t, ts)
		readText(t, c)
		conns = append(conns, c)
	}
	waitFor(t, "registration", func() bool { return s.reg.TerminalCount() == 3 })

	var pids []int
	for _, info := range s.reg.Terminals() {
		pids = append(pids, info.PID)
	}

	if err := s.Stop(); err != nil {
		t.Errorf("Stop: %v", err)
	}
	for _, c := range conns {
		waitClosed(t, c)
	}
	for _, pid := range pids {
		if !processGone(pid) {
			t.Errorf("pid %d still running after Stop", pid)
		}
	}
}

// TestInputRateLimited verifies messages beyond the burst are dropped.
func TestInputRateLimited(t *testing.T) {
	_, ts := newTestServer(t, Options{InputRate: 0.5, InputBurst: 1})
	conn := dial(t, ts)
	readText(t, conn)

	conn.WriteMessage(websocket.TextMessage, []byte("echo first-line"))
	conn.WriteMessage(websocket.TextMessage, []byte("echo second-line"))
	out := readOutputUntil(t, conn, "first-line")

	conn.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		out += string(data)
	}
	if strings.Contains(out, "second-line") {
		t.Errorf("rate limited message reached the shell: %q", out)
	}
}

type fakePTY struct {
	mu      sync.Mutex
	written []string
	closed  chan struct{}
	once    sync.Once
}

func (f *fakePTY) Read(p []byte) (int, error) {
	select {
	case <-f.closed:
		return 0, io.EOF
	case <-time.After(10 * time.Millisecond):
		return 0, pty.ErrWouldBlock
	}
}

func (f *fakePTY) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.written = append(f.written, string(p))
	return len(p), nil
}

func (f *fakePTY) Signal(syscall.Signal) error { return nil }
func (f *fakePTY) Pid() int                    { return 4242 }

func (f *fakePTY) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func (f *fakePTY) lines() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.written...)
}

// TestInputGetsNewline verifies each message is written as one line and
// sessions are audited.
func TestInputGetsNewline(t *testing.T) {
	fake := &fakePTY{closed: make(chan struct{})}
	rec := audit.NewRecorder(8)
	s, ts := newTestServer(t, Options{
		Audit: rec,
		Spawn: func(command, dir string) (PTY, error) { return fake, nil },
	})
	conn := dial(t, ts)
	readText(t, conn)

	conn.WriteMessage(websocket.TextMessage, []byte("ls -l"))
	conn.WriteMessage(websocket.BinaryMessage, []byte("pwd"))

	waitFor(t, "writes", func() bool { return len(fake.lines()) == 2 })
	if got := fake.lines(); got[0] != "ls -l\n" || got[1] != "pwd\n" {
		t.Errorf("written = %q", got)
	}

	conn.Close()
	waitFor(t, "session removal", func() bool { return s.reg.TerminalCount() == 0 })

	var kinds []string
	for len(kinds) < 2 {
		select {
		case e := <-rec.Events():
			kinds = append(kinds, e.Kind)
		case <-time.After(3 * time.Second):
			t.Fatalf("audit kinds = %v", kinds)
		}
	}
	if kinds[0] != audit.KindTerminalStart || kinds[1] != audit.KindTerminalEnd {
		t.Errorf("audit kinds = %v", kinds)
	}
}
