package service

import (
	"bufio"
	"io"
	"net"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/desksrv/host/internal/audit"
	"github.com/desksrv/host/internal/config"
	"github.com/desksrv/host/internal/display"
	"github.com/desksrv/host/internal/keepawake"
	"github.com/desksrv/host/internal/storage"
	"github.com/desksrv/host/internal/terminal"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{
		Port:        9000,
		AdvertiseIP: "10.0.0.5",
		RootDir:     dir,
		Shell:       "/bin/sh",
		AuditDB:     filepath.Join(dir, "audit.db"),
		PIDFile:     filepath.Join(dir, "desksrv.pid"),
		LogFile:     filepath.Join(dir, "desksrv.log"),
	}
	cfg.ApplyDefaults()
	cfg.ControlSocket = ""
	return cfg
}

func loopbackOptions(cfg *config.Config) Options {
	return Options{
		Config:       cfg,
		Display:      display.NewSynthetic(64, 48),
		GatewayAddr:  "127.0.0.1:0",
		TerminalAddr: "127.0.0.1:0",
		ScreenAddr:   "127.0.0.1:0",
	}
}

func startService(t *testing.T, opts Options) *Service {
	t.Helper()
	s, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { s.Stop() })
	return s
}

func httpGet(t *testing.T, addr net.Addr, path string) (*http.Response, string) {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr.String(), 2*time.Second)
	if err != nil {
		t.Fatalf("dial gateway: %v", err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(5 * time.Second))
	if _, err := io.WriteString(conn, "GET "+path+" HTTP/1.1\r\nHost: test\r\n\r\n"); err != nil {
		t.Fatalf("write: %v", err)
	}
	resp, err := http.ReadResponse(bufio.NewReader(conn), nil)
	if err != nil {
		t.Fatalf("ReadResponse: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	return resp, string(body)
}

func dialWS(t *testing.T, addr net.Addr) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws://"+addr.String()+"/", nil)
	if err != nil {
		t.Fatalf("Dial %s: %v", addr, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
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

// TestStartServesAllThree checks each listener answers its protocol.
func TestStartServesAllThree(t *testing.T) {
	s := startService(t, loopbackOptions(testConfig(t)))

	resp, _ := httpGet(t, s.Gateway.Addr(), "/")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("gateway GET / = %d, want 200", resp.StatusCode)
	}

	term := dialWS(t, s.Terminal.Addr())
	term.SetReadDeadline(time.Now().Add(3 * time.Second))
	mt, data, err := term.ReadMessage()
	if err != nil {
		t.Fatalf("terminal read: %v", err)
	}
	if mt != websocket.TextMessage || string(data) != terminal.WelcomeMessage {
		t.Errorf("terminal first message = %d %q", mt, data)
	}

	view := dialWS(t, s.Screen.Addr())
	view.SetReadDeadline(time.Now().Add(3 * time.Second))
	if mt, _, err := view.ReadMessage(); err != nil || mt != websocket.TextMessage {
		t.Fatalf("screen meta = %d, %v", mt, err)
	}
	if mt, _, err := view.ReadMessage(); err != nil || mt != websocket.BinaryMessage {
		t.Fatalf("screen frame = %d, %v", mt, err)
	}

	reg := s.Registry()
	waitFor(t, "both sessions registered", func() bool {
		return reg.ViewerCount() == 1 && reg.TerminalCount() == 1
	})
}

// TestPagesAdvertiseSiblingPorts verifies {{WS_HOST}} points at P+1 and P+2.
func TestPagesAdvertiseSiblingPorts(t *testing.T) {
	s := startService(t, loopbackOptions(testConfig(t)))

	_, body := httpGet(t, s.Gateway.Addr(), "/js/bash.js")
	if !strings.Contains(body, "ws://10.0.0.5:9001") {
		t.Errorf("bash.js does not reference terminal port: %q", body)
	}
	_, body = httpGet(t, s.Gateway.Addr(), "/js/screen_ctrl.js")
	if !strings.Contains(body, "ws://10.0.0.5:9002") {
		t.Errorf("screen_ctrl.js does not reference screen port: %q", body)
	}
}

// TestBindFailureStopsStarted occupies the screen port and expects the
// gateway and terminal listeners to be released again.
func TestBindFailureStopsStarted(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer busy.Close()

	opts := loopbackOptions(testConfig(t))
	opts.ScreenAddr = busy.Addr().String()
	s, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Stop()

	err = s.Start()
	if err == nil {
		t.Fatal("Start succeeded with the screen port taken")
	}
	if !strings.HasPrefix(err.Error(), "screen:") {
		t.Errorf("error = %v, want screen bind failure", err)
	}

	for name, addr := range map[string]net.Addr{"gateway": s.Gateway.Addr(), "terminal": s.Terminal.Addr()} {
		if addr == nil {
			t.Fatalf("%s never started", name)
		}
		conn, err := net.DialTimeout("tcp", addr.String(), time.Second)
		if err == nil {
			conn.Close()
			t.Errorf("%s still accepting on %s", name, addr)
		}
	}
}

func TestStopIsIdempotent(t *testing.T) {
	s := startService(t, loopbackOptions(testConfig(t)))
	addr := s.Gateway.Addr().String()
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
	if conn, err := net.DialTimeout("tcp", addr, time.Second); err == nil {
		conn.Close()
		t.Error("gateway still accepting after Stop")
	}
	if err := s.Start(); err == nil {
		t.Error("Start after Stop succeeded")
	}
}

// TestAuditPersisted verifies events reach the SQLite audit log.
func TestAuditPersisted(t *testing.T) {
	cfg := testConfig(t)
	store, err := storage.NewSQLiteStore(cfg.AuditDB)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	defer store.Close()

	opts := loopbackOptions(cfg)
	opts.Store = store
	s := startService(t, opts)

	dialWS(t, s.Screen.Addr())
	waitFor(t, "viewer connect audited", func() bool {
		entries, err := store.ListAudit(storage.AuditFilter{Kind: audit.KindViewerConnect})
		return err == nil && len(entries) == 1
	})
}

func TestAuditAdapterPrunes(t *testing.T) {
	store, err := storage.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	defer store.Close()

	a := NewAuditStoreAdapter(store, 2)
	for _, detail := range []string{"a", "b", "c"} {
		if err := audit.Record(a, audit.Event{Kind: audit.KindNotify, Detail: detail}); err != nil {
			t.Fatalf("WriteAudit: %v", err)
		}
	}
	entries, err := store.ListAudit(storage.AuditFilter{})
	if err != nil {
		t.Fatalf("ListAudit: %v", err)
	}
	if len(entries) != 2 || entries[0].Detail != "c" || entries[1].Detail != "b" {
		t.Errorf("entries = %+v, want c then b", entries)
	}

	if err := a.WriteAudit(audit.Event{}); err == nil {
		t.Error("WriteAudit accepted an event without a kind")
	}
}

func TestListenAddrs(t *testing.T) {
	g, term, scr := ListenAddrs("0.0.0.0", 8080)
	if g != "0.0.0.0:8080" || term != "0.0.0.0:8081" || scr != "0.0.0.0:8082" {
		t.Errorf("ListenAddrs = %s %s %s", g, term, scr)
	}
	g, _, _ = ListenAddrs("::1", 8080)
	if g != "[::1]:8080" {
		t.Errorf("IPv6 gateway addr = %s", g)
	}
}

func TestNewRequiresConfig(t *testing.T) {
	if _, err := New(Options{}); err == nil {
		t.Error("New without config succeeded")
	}
}

func TestNewOpensSyntheticDisplay(t *testing.T) {
	cfg := testConfig(t)
	cfg.Display = "synthetic:32x16"
	opts := loopbackOptions(cfg)
	opts.Display = nil
	s, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Stop()
	if w, h := s.disp.Size(); w != 32 || h != 16 {
		t.Errorf("display size = %dx%d, want 32x16", w, h)
	}
}

// TestUnreachableDisplayKeepsServing verifies a display that cannot be
// opened disables only the screen features.
func TestUnreachableDisplayKeepsServing(t *testing.T) {
	cfg := testConfig(t)
	cfg.Display = "127.0.0.1:97"
	opts := loopbackOptions(cfg)
	opts.Display = nil
	s := startService(t, opts)

	if _, ok := s.disp.(*display.Lazy); !ok {
		t.Fatalf("display = %T, want *display.Lazy", s.disp)
	}

	if resp, _ := httpGet(t, s.Gateway.Addr(), "/"); resp.StatusCode != http.StatusOK {
		t.Errorf("gateway GET / = %d, want 200", resp.StatusCode)
	}
	if resp, _ := httpGet(t, s.Gateway.Addr(), "/$$screen"); resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("gateway GET /$$screen = %d, want 500", resp.StatusCode)
	}

	term := dialWS(t, s.Terminal.Addr())
	term.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, data, err := term.ReadMessage()
	if err != nil {
		t.Fatalf("terminal read: %v", err)
	}
	if string(data) != terminal.WelcomeMessage {
		t.Errorf("terminal first message = %q", data)
	}
}

func TestKeepAwakeFollowsViewers(t *testing.T) {
	cfg := testConfig(t)
	cfg.KeepAwake = true
	opts := loopbackOptions(cfg)
	opts.KeepAwake = &keepawake.CommandAdapter{Name: "sleep", Args: []string{"30"}}
	s := startService(t, opts)

	if st := s.Status().KeepAwake; st == nil || st.State != keepawake.StateOff {
		t.Fatalf("idle keep-awake = %+v", st)
	}

	view := dialWS(t, s.Screen.Addr())
	waitFor(t, "inhibitor held", func() bool { return s.Status().KeepAwake.State == keepawake.StateOn })

	view.Close()
	waitFor(t, "inhibitor released", func() bool { return s.Status().KeepAwake.State == keepawake.StateOff })
}

func TestKeepAwakeDisabledByDefault(t *testing.T) {
	s := startService(t, loopbackOptions(testConfig(t)))
	if st := s.Status().KeepAwake; st != nil {
		t.Errorf("KeepAwake = %+v, want nil", st)
	}
}
