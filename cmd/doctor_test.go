package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/desksrv/host/internal/auth"
	"github.com/desksrv/host/internal/display"
	"github.com/desksrv/host/internal/keepawake"
)

// runDoctorWithArgs is a test helper that invokes runDoctor and captures output.
func runDoctorWithArgs(args []string) (exitCode int, stdout, stderr string) {
	var outBuf, errBuf bytes.Buffer
	code := runDoctor(args, &outBuf, &errBuf)
	return code, outBuf.String(), errBuf.String()
}

type stubOpts struct {
	displayErr error
	busyAddr   string
	missing    map[string]bool
}

// stubDoctor overrides the function-variable seams with deterministic stubs.
func stubDoctor(t *testing.T, opts stubOpts) {
	t.Helper()

	origOpen := doctorOpenDisplay
	origListen := doctorListen
	origLook := doctorLookPath
	t.Cleanup(func() {
		doctorOpenDisplay = origOpen
		doctorListen = origListen
		doctorLookPath = origLook
	})

	doctorOpenDisplay = func(spec string) (display.Display, error) {
		if opts.displayErr != nil {
			return nil, opts.displayErr
		}
		return display.NewSynthetic(640, 480), nil
	}
	doctorListen = func(network, addr string) (net.Listener, error) {
		if addr == opts.busyAddr {
			return nil, errors.New("address already in use")
		}
		return net.Listen("tcp", "127.0.0.1:0")
	}
	doctorLookPath = func(file string) (string, error) {
		if opts.missing[file] {
			return "", errors.New("not found")
		}
		return "/usr/bin/" + filepath.Base(file), nil
	}
}

// doctorConfig writes a config file pointing everything into a temp dir.
func doctorConfig(t *testing.T, extra string) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	path := filepath.Join(dir, "config.toml")
	content := "port = 8080\n" +
		"root_dir = " + quote(dir) + "\n" +
		"audit_db = " + quote(filepath.Join(dir, "audit.db")) + "\n" +
		"shell = \"/bin/sh\"\n" + extra
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func quote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func checkByID(t *testing.T, result DoctorResult, id string) DoctorCheck {
	t.Helper()
	for _, c := range result.Checks {
		if c.ID == id {
			return c
		}
	}
	t.Fatalf("check %s missing", id)
	return DoctorCheck{}
}

func decodeDoctor(t *testing.T, out string) DoctorResult {
	t.Helper()
	var result DoctorResult
	if err := json.Unmarshal([]byte(out), &result); err != nil {
		t.Fatalf("invalid JSON %q: %v", out, err)
	}
	return result
}

func TestDoctorAllGood(t *testing.T) {
	stubDoctor(t, stubOpts{})
	path := doctorConfig(t, "")

	code, out, stderr := runDoctorWithArgs([]string{"--config", path, "--json"})
	if code != 0 {
		t.Fatalf("exit code %d, stderr %q, out %q", code, stderr, out)
	}
	result := decodeDoctor(t, out)
	if result.Version != "1" || len(result.Checks) != 8 {
		t.Fatalf("result = %+v", result)
	}

	wantOrder := []string{checkIDDisplay, checkIDShell, checkIDPorts, checkIDRoot, checkIDAudit, checkIDNotify, checkIDPreview, checkIDAwake}
	for i, id := range wantOrder {
		if result.Checks[i].ID != id {
			t.Errorf("check %d = %s, want %s", i, result.Checks[i].ID, id)
		}
	}
	if c := checkByID(t, result, checkIDPreview); c.Status != statusWarn {
		t.Errorf("preview without hash = %s, want warn", c.Status)
	}
	if result.Summary.Pass != 7 || result.Summary.Warn != 1 || result.Summary.Fail != 0 {
		t.Errorf("summary = %+v", result.Summary)
	}
}

func TestDoctorDisplayFailure(t *testing.T) {
	stubDoctor(t, stubOpts{displayErr: errors.New("no X server")})
	path := doctorConfig(t, "")

	code, out, _ := runDoctorWithArgs([]string{"--config", path, "--json"})
	if code != 1 {
		t.Errorf("exit code %d, want 1", code)
	}
	c := checkByID(t, decodeDoctor(t, out), checkIDDisplay)
	if c.Status != statusFail || !strings.Contains(c.Message, "no X server") {
		t.Errorf("display check = %+v", c)
	}
}

func TestDoctorBusyPort(t *testing.T) {
	stubDoctor(t, stubOpts{busyAddr: "0.0.0.0:8081"})
	path := doctorConfig(t, "")

	code, out, _ := runDoctorWithArgs([]string{"--config", path, "--json"})
	if code != 1 {
		t.Errorf("exit code %d, want 1", code)
	}
	c := checkByID(t, decodeDoctor(t, out), checkIDPorts)
	if c.Status != statusFail || !strings.Contains(c.Message, "0.0.0.0:8081") {
		t.Errorf("ports check = %+v", c)
	}
}

func TestDoctorPortFlagOverridesConfig(t *testing.T) {
	stubDoctor(t, stubOpts{busyAddr: "0.0.0.0:8081"})
	path := doctorConfig(t, "")

	code, _, _ := runDoctorWithArgs([]string{"--config", path, "--port", "9100", "--json"})
	if code != 0 {
		t.Errorf("exit code %d, want 0 with ports moved", code)
	}
}

func TestDoctorMissingShellAndNotify(t *testing.T) {
	stubDoctor(t, stubOpts{missing: map[string]bool{"/bin/sh": true, "notify-send": true}})
	path := doctorConfig(t, "")

	code, out, _ := runDoctorWithArgs([]string{"--config", path, "--json"})
	if code != 1 {
		t.Errorf("exit code %d, want 1", code)
	}
	result := decodeDoctor(t, out)
	if c := checkByID(t, result, checkIDShell); c.Status != statusFail {
		t.Errorf("shell check = %+v", c)
	}
	if c := checkByID(t, result, checkIDNotify); c.Status != statusWarn {
		t.Errorf("notify check = %+v", c)
	}
}

func TestDoctorPreviewKey(t *testing.T) {
	hash, err := auth.HashKey("sesame")
	if err != nil {
		t.Fatal(err)
	}
	if c := evalPreviewKey(hash); c.Status != statusPass {
		t.Errorf("valid hash = %+v", c)
	}
	if c := evalPreviewKey("plaintext"); c.Status != statusFail {
		t.Errorf("invalid hash = %+v", c)
	}
}

func TestDoctorKeepAwake(t *testing.T) {
	stubDoctor(t, stubOpts{})
	if c := evalKeepAwake(false); c.Status != statusPass {
		t.Errorf("disabled = %+v", c)
	}

	stubDoctor(t, stubOpts{missing: map[string]bool{keepawake.Command: true}})
	if c := evalKeepAwake(true); c.Status != statusWarn {
		t.Errorf("enabled without inhibitor = %+v", c)
	}
}

func TestDoctorRootUnreadable(t *testing.T) {
	c := evalRoot(filepath.Join(t.TempDir(), "missing"))
	if c.Status != statusFail {
		t.Errorf("missing root = %+v", c)
	}
}

func TestDoctorHumanOutput(t *testing.T) {
	stubDoctor(t, stubOpts{})
	path := doctorConfig(t, "")

	code, out, _ := runDoctorWithArgs([]string{"--config", path})
	if code != 0 {
		t.Fatalf("exit code %d", code)
	}
	if !strings.Contains(out, "[PASS] display.reachable") {
		t.Errorf("missing display line: %q", out)
	}
	if !strings.Contains(out, "[WARN] preview.key") || !strings.Contains(out, "-> Run `desksrv hash-key") {
		t.Errorf("missing preview warning: %q", out)
	}
	if !strings.Contains(out, "Summary: 6 passed, 1 warnings, 0 failures") {
		t.Errorf("missing summary: %q", out)
	}
}

func TestDoctorMissingConfig(t *testing.T) {
	code, _, stderr := runDoctorWithArgs([]string{"--config", filepath.Join(t.TempDir(), "nope.toml")})
	if code != 1 || !strings.Contains(stderr, "config file not found") {
		t.Errorf("exit %d, stderr %q", code, stderr)
	}
}
