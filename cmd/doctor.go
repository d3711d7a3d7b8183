// Package main provides CLI commands for desksrv.
// This file implements the `desksrv doctor` diagnostic command.
//
// The doctor command runs a sequence of preflight checks against the local
// environment and reports actionable remediation guidance for any issues.
// It supports both human-readable (default) and machine-readable (--json) output.
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"strings"

	"github.com/desksrv/host/internal/auth"
	"github.com/desksrv/host/internal/config"
	"github.com/desksrv/host/internal/display"
	"github.com/desksrv/host/internal/keepawake"
	"github.com/desksrv/host/internal/notify"
	"github.com/desksrv/host/internal/pty"
	"github.com/desksrv/host/internal/service"
	"github.com/desksrv/host/internal/storage"
)

// DoctorResult is the top-level JSON output for `desksrv doctor --json`.
type DoctorResult struct {
	// Version is the doctor output schema version. Always "1".
	Version string `json:"version"`

	// Checks is the ordered list of diagnostic checks that were evaluated.
	Checks []DoctorCheck `json:"checks"`

	// Summary contains aggregate pass/warn/fail counts derived from Checks.
	Summary DoctorSummary `json:"summary"`
}

// DoctorCheck is one diagnostic check in the doctor output.
type DoctorCheck struct {
	// ID is a stable, machine-readable identifier for the check (e.g., "display.reachable").
	ID string `json:"id"`

	// Status is the check result: "pass", "warn", or "fail".
	Status string `json:"status"`

	// Message is a human-readable summary of what was found.
	Message string `json:"message"`

	// NextAction is a concrete remediation step the operator should take.
	NextAction string `json:"next_action"`
}

// DoctorSummary holds aggregate counts of check outcomes.
type DoctorSummary struct {
	Pass int `json:"pass"`
	Warn int `json:"warn"`
	Fail int `json:"fail"`
}

// Stable check IDs used by the doctor command.
const (
	checkIDDisplay = "display.reachable"
	checkIDShell   = "shell.discovered"
	checkIDPorts   = "ports.free"
	checkIDRoot    = "root.readable"
	checkIDAudit   = "audit.store"
	checkIDNotify  = "notify.available"
	checkIDPreview = "preview.key"
	checkIDAwake   = "keepawake.available"
)

// Stable status values for doctor checks.
const (
	statusPass = "pass"
	statusWarn = "warn"
	statusFail = "fail"
)

// Function-variable seams for testability.
var (
	doctorOpenDisplay = display.Open
	doctorListen      = net.Listen
	doctorLookPath    = exec.LookPath
)

// runDoctor implements the `desksrv doctor` CLI command.
// Returns 0 when no checks fail, 1 when any check fails or an internal error occurs.
func runDoctor(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("doctor", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var jsonMode bool
	var configPath string
	var port int
	var displaySpec string

	fs.BoolVar(&jsonMode, "json", false, "Emit machine-readable JSON to stdout")
	fs.StringVar(&configPath, "config", "", "Path to config file (default: ~/.desksrv/config.toml)")
	fs.IntVar(&port, "port", 0, "Base port override")
	fs.StringVar(&displaySpec, "display", "", "Display override")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: desksrv doctor [options]\n\nCheck that the host can start here.\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if port != 0 {
		cfg.Port = port
	}
	if displaySpec != "" {
		cfg.Display = displaySpec
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	result := runDoctorChecks(cfg)

	if jsonMode {
		if err := renderDoctorJSON(stdout, result); err != nil {
			fmt.Fprintf(stderr, "Error: failed to encode JSON: %v\n", err)
			return 1
		}
	} else {
		renderDoctorHuman(stdout, result)
	}

	if result.Summary.Fail > 0 {
		return 1
	}
	return 0
}

// runDoctorChecks evaluates every check in a fixed order.
func runDoctorChecks(cfg *config.Config) DoctorResult {
	checks := []DoctorCheck{
		evalDisplay(cfg.Display),
		evalShell(cfg.Shell),
		evalPorts(cfg.BindIP, cfg.Port),
		evalRoot(cfg.RootDir),
		evalAuditStore(cfg.AuditDB),
		evalNotify(),
		evalPreviewKey(cfg.PreviewKeyHash),
		evalKeepAwake(cfg.KeepAwake),
	}

	summary := DoctorSummary{}
	for _, c := range checks {
		switch c.Status {
		case statusPass:
			summary.Pass++
		case statusWarn:
			summary.Warn++
		case statusFail:
			summary.Fail++
		}
	}
	return DoctorResult{Version: "1", Checks: checks, Summary: summary}
}

func evalDisplay(spec string) DoctorCheck {
	check := DoctorCheck{ID: checkIDDisplay}

	name := spec
	if name == "" {
		name = "$DISPLAY=" + os.Getenv("DISPLAY")
	}
	d, err := doctorOpenDisplay(spec)
	if err != nil {
		check.Status = statusFail
		check.Message = fmt.Sprintf("Cannot open display %s: %v", name, err)
		check.NextAction = "Run inside an X session, set DISPLAY, or pass `--display :N`."
		return check
	}
	w, h := d.Size()
	d.Close()

	check.Status = statusPass
	check.Message = fmt.Sprintf("Display %s is %dx%d.", name, w, h)
	check.NextAction = "No action required."
	return check
}

func evalShell(shell string) DoctorCheck {
	check := DoctorCheck{ID: checkIDShell}

	if shell != "" {
		if _, err := doctorLookPath(shell); err != nil {
			check.Status = statusFail
			check.Message = fmt.Sprintf("Configured shell %s is not executable: %v", shell, err)
			check.NextAction = "Fix `shell` in config.toml or pass `--shell`."
			return check
		}
		check.Status = statusPass
		check.Message = fmt.Sprintf("Using configured shell %s.", shell)
		check.NextAction = "No action required."
		return check
	}

	found, ok := pty.DiscoverShell()
	if !ok {
		check.Status = statusFail
		check.Message = fmt.Sprintf("No shell found among %s.", strings.Join(pty.DefaultShells, ", "))
		check.NextAction = "Install bash or set `shell` in config.toml."
		return check
	}
	check.Status = statusPass
	check.Message = fmt.Sprintf("Discovered shell %s.", found)
	check.NextAction = "No action required."
	return check
}

// evalPorts tries to bind P, P+1 and P+2.
func evalPorts(bindIP string, port int) DoctorCheck {
	check := DoctorCheck{ID: checkIDPorts}

	g, t, s := service.ListenAddrs(bindIP, port)
	var busy []string
	for _, addr := range []string{g, t, s} {
		ln, err := doctorListen("tcp", addr)
		if err != nil {
			busy = append(busy, addr)
			continue
		}
		ln.Close()
	}

	if len(busy) > 0 {
		check.Status = statusFail
		check.Message = fmt.Sprintf("Cannot bind %s.", strings.Join(busy, ", "))
		check.NextAction = "Stop whatever holds the port (perhaps a running desksrv) or choose another `--port`."
		return check
	}
	check.Status = statusPass
	check.Message = fmt.Sprintf("Ports %d-%d are free on %s.", port, port+2, bindIP)
	check.NextAction = "No action required."
	return check
}

func evalRoot(root string) DoctorCheck {
	check := DoctorCheck{ID: checkIDRoot}

	if _, err := os.ReadDir(root); err != nil {
		check.Status = statusFail
		check.Message = fmt.Sprintf("Cannot list root directory %s: %v", root, err)
		check.NextAction = "Point `root_dir` or `--root` at a readable directory."
		return check
	}
	check.Status = statusPass
	check.Message = fmt.Sprintf("Serving %s.", root)
	check.NextAction = "No action required."
	return check
}

func evalAuditStore(path string) DoctorCheck {
	check := DoctorCheck{ID: checkIDAudit}

	store, err := storage.NewSQLiteStore(path)
	if err != nil {
		check.Status = statusWarn
		check.Message = fmt.Sprintf("Audit store unavailable at %s: %v", path, err)
		check.NextAction = "Fix permissions on the directory or set `audit_db`; events will only be logged."
		return check
	}
	defer store.Close()

	version, err := store.SchemaVersion()
	if err != nil {
		check.Status = statusWarn
		check.Message = fmt.Sprintf("Audit store schema unreadable: %v", err)
		check.NextAction = "Move the database aside and let desksrv recreate it."
		return check
	}
	check.Status = statusPass
	check.Message = fmt.Sprintf("Audit store %s (schema v%d).", path, version)
	check.NextAction = "No action required."
	return check
}

func evalNotify() DoctorCheck {
	check := DoctorCheck{ID: checkIDNotify}

	if _, err := doctorLookPath(notify.DefaultCommand); err != nil {
		check.Status = statusWarn
		check.Message = fmt.Sprintf("%s not found; notifications will only be logged.", notify.DefaultCommand)
		check.NextAction = "Install libnotify (notify-send) for desktop notifications."
		return check
	}
	check.Status = statusPass
	check.Message = fmt.Sprintf("%s is available.", notify.DefaultCommand)
	check.NextAction = "No action required."
	return check
}

func evalPreviewKey(hash string) DoctorCheck {
	check := DoctorCheck{ID: checkIDPreview}

	if hash == "" {
		check.Status = statusWarn
		check.Message = "File preview is disabled (no preview_key_hash)."
		check.NextAction = "Run `desksrv hash-key <key>` and set `preview_key_hash` to enable preview."
		return check
	}
	if !auth.NewKeyVerifier(hash).Enabled() {
		check.Status = statusFail
		check.Message = "preview_key_hash is not a bcrypt hash."
		check.NextAction = "Regenerate it with `desksrv hash-key <key>`."
		return check
	}
	check.Status = statusPass
	check.Message = "File preview is enabled."
	check.NextAction = "No action required."
	return check
}

func evalKeepAwake(enabled bool) DoctorCheck {
	check := DoctorCheck{ID: checkIDAwake}

	if !enabled {
		check.Status = statusPass
		check.Message = "Keep-awake is off."
		check.NextAction = "No action required."
		return check
	}
	if keepawake.Command == "" {
		check.Status = statusWarn
		check.Message = "Keep-awake is not supported on this platform."
		check.NextAction = "Set `keep_awake = false` or disable the screensaver yourself."
		return check
	}
	if _, err := doctorLookPath(keepawake.Command); err != nil {
		check.Status = statusWarn
		check.Message = fmt.Sprintf("%s not found; the screen may blank while viewers watch.", keepawake.Command)
		check.NextAction = "Install systemd or set `keep_awake = false`."
		return check
	}
	check.Status = statusPass
	check.Message = fmt.Sprintf("Keep-awake uses %s.", keepawake.Command)
	check.NextAction = "No action required."
	return check
}

// renderDoctorJSON writes the doctor result as JSON to stdout.
// Only valid JSON is written to stdout; no extra lines.
func renderDoctorJSON(w io.Writer, result DoctorResult) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

// renderDoctorHuman writes the doctor result in human-readable format.
func renderDoctorHuman(w io.Writer, result DoctorResult) {
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "desksrv doctor")
	fmt.Fprintln(w, "==============")
	fmt.Fprintln(w, "")

	for _, c := range result.Checks {
		fmt.Fprintf(w, "  %s %s: %s\n", statusIcon(c.Status), c.ID, c.Message)
		if c.Status != statusPass {
			fmt.Fprintf(w, "    -> %s\n", c.NextAction)
		}
	}

	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "Summary: %d passed, %d warnings, %d failures\n",
		result.Summary.Pass, result.Summary.Warn, result.Summary.Fail)
	fmt.Fprintln(w, "")
}

// statusIcon returns a text marker for the check status.
func statusIcon(status string) string {
	switch status {
	case statusPass:
		return "[PASS]"
	case statusWarn:
		return "[WARN]"
	case statusFail:
		return "[FAIL]"
	default:
		return "[????]"
	}
}
