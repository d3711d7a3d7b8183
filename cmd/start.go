package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/desksrv/host/internal/config"
	"github.com/desksrv/host/internal/gateway"
	"github.com/desksrv/host/internal/mdns"
	"github.com/desksrv/host/internal/service"
)

// daemonEnvVar marks the re-executed daemon child.
const daemonEnvVar = "DESKSRV_DAEMON_CHILD"

// waitForShutdown blocks until the process should stop. Tests replace it.
var waitForShutdown = func(svc *service.Service) os.Signal {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigCh)
	return <-sigCh
}

// startFlags holds values parsed from the command line before merging.
type startFlags struct {
	ConfigPath string
	config.Config
}

// runStart implements "desksrv start".
func runStart(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("start", flag.ContinueOnError)
	fs.SetOutput(stderr)

	cli := &startFlags{}
	fs.StringVar(&cli.ConfigPath, "config", "", "Path to config file (default: ~/.desksrv/config.toml)")
	fs.IntVar(&cli.Port, "port", 0, "Base port P: HTTP on P, terminal on P+1, screen on P+2 (default: 8080)")
	fs.StringVar(&cli.BindIP, "bind", "", "Interface address to listen on (default: 0.0.0.0)")
	fs.StringVar(&cli.AdvertiseIP, "advertise", "", "Address put in page WebSocket URLs (default: first LAN IPv4)")
	fs.StringVar(&cli.RootDir, "root", "", "Directory served by the file browser (default: home directory)")
	fs.StringVar(&cli.AssetsDir, "assets", "", "Directory overriding the embedded web assets")
	fs.StringVar(&cli.Shell, "shell", "", "Shell for terminal sessions (default: first of /bin/bash, /bin/sh)")
	fs.StringVar(&cli.Display, "display", "", "Display to capture: empty for $DISPLAY, \":1\", or \"synthetic:WxH\"")
	fs.StringVar(&cli.AuditDB, "audit-db", "", "Path to the audit database (default: ~/.desksrv/audit.db)")
	fs.BoolVar(&cli.Daemon, "daemon", false, "Run host in background as daemon")
	fs.StringVar(&cli.PIDFile, "pid-file", "", "PID file path (default: ~/.desksrv/desksrv.pid)")
	fs.StringVar(&cli.LogFile, "log-file", "", "Log file path (default: ~/.desksrv/desksrv.log)")
	fs.BoolVar(&cli.MdnsEnabled, "mdns", false, "Enable mDNS/Bonjour discovery (LAN-visible)")
	fs.BoolVar(&cli.QR, "qr", false, "Print the gateway URL as a QR code")
	fs.BoolVar(&cli.KeepAwake, "keep-awake", false, "Inhibit screen blanking while viewers are connected")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: desksrv start [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}

	// Track which flags were explicitly set on the command line.
	explicitFlags := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		explicitFlags[f.Name] = true
	})

	if cli.ConfigPath == "" {
		if path, created, err := ensureDefaultConfig(); err != nil {
			fmt.Fprintf(stderr, "Warning: %v\n", err)
		} else if created {
			fmt.Fprintf(stdout, "Created config: %s\n", path)
		}
	}

	fileCfg, err := config.Load(cli.ConfigPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	cfg := mergeConfig(&cli.Config, fileCfg, explicitFlags)
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	// Go has no fork(), so daemon mode re-execs this binary with
	// daemonEnvVar set and the parent exits once the child survives startup.
	var logFile *os.File
	if cfg.Daemon && os.Getenv(daemonEnvVar) == "" {
		return startDaemon(args, cfg.LogFile, stdout, stderr)
	}
	if cfg.Daemon {
		logFile, err = os.OpenFile(cfg.LogFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			fmt.Fprintf(stderr, "Error: failed to open log file: %v\n", err)
			return 1
		}
		defer logFile.Close()
		stdout = logFile
		stderr = logFile
	}

	if err := checkPIDLock(cfg.PIDFile); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	svc, err := service.New(service.Options{Config: cfg})
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if err := svc.Start(); err != nil {
		svc.Stop()
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	if err := writePIDFile(cfg.PIDFile); err != nil {
		fmt.Fprintf(stderr, "Warning: failed to write PID file: %v\n", err)
	} else {
		fmt.Fprintf(stdout, "PID file: %s\n", cfg.PIDFile)
	}

	host := gateway.AdvertisedHost(cfg.AdvertiseIP, cfg.BindIP)
	gatewayURL := "http://" + hostPort(host, cfg.Port)
	printBanner(stdout, cfg, host, svc.Gateway.Root())
	if sock := svc.ControlSocket(); sock != "" {
		fmt.Fprintf(stdout, "Control socket: %s\n", sock)
	}
	if cfg.QR {
		DisplayQRCode(stdout, gatewayURL)
	}

	var mdnsAdvertiser *mdns.Advertiser
	if cfg.MdnsEnabled {
		mdnsAdvertiser = mdns.NewAdvertiser(mdns.Config{
			Port:         cfg.Port,
			TerminalPort: cfg.Port + 1,
			ScreenPort:   cfg.Port + 2,
		})
		if err := mdnsAdvertiser.Start(); err != nil {
			fmt.Fprintf(stderr, "Warning: failed to start mDNS discovery: %v\n", err)
		} else {
			fmt.Fprintln(stdout, "mDNS discovery: ENABLED (visible on LAN)")
		}
	}

	sig := waitForShutdown(svc)
	fmt.Fprintf(stdout, "\nReceived signal %v, stopping...\n", sig)

	// Cleanup in reverse order of creation
	if mdnsAdvertiser != nil {
		mdnsAdvertiser.Stop()
	}
	if err := svc.Stop(); err != nil {
		fmt.Fprintf(stderr, "Warning: %v\n", err)
	}
	removePIDFile(cfg.PIDFile, stderr)
	return 0
}

// mergeConfig applies file values wherever the command line left a field
// unset. Booleans from the file apply only when the flag was not given.
func mergeConfig(cli, file *config.Config, explicitFlags map[string]bool) *config.Config {
	cfg := *file

	if cli.Port != 0 {
		cfg.Port = cli.Port
	}
	for _, f := range []struct {
		dst *string
		val string
	}{
		{&cfg.BindIP, cli.BindIP},
		{&cfg.AdvertiseIP, cli.AdvertiseIP},
		{&cfg.RootDir, cli.RootDir},
		{&cfg.AssetsDir, cli.AssetsDir},
		{&cfg.Shell, cli.Shell},
		{&cfg.Display, cli.Display},
		{&cfg.AuditDB, cli.AuditDB},
		{&cfg.PIDFile, cli.PIDFile},
		{&cfg.LogFile, cli.LogFile},
	} {
		if f.val != "" {
			*f.dst = f.val
		}
	}

	if explicitFlags["daemon"] {
		cfg.Daemon = cli.Daemon
	}
	if explicitFlags["mdns"] {
		cfg.MdnsEnabled = cli.MdnsEnabled
	}
	if explicitFlags["qr"] {
		cfg.QR = cli.QR
	}
	if explicitFlags["keep-awake"] {
		cfg.KeepAwake = cli.KeepAwake
	}
	return &cfg
}

// ensureDefaultConfig writes ~/.desksrv/config.toml on first start.
func ensureDefaultConfig() (string, bool, error) {
	path, err := config.DefaultConfigPath()
	if err != nil {
		return "", false, err
	}
	if _, err := os.Stat(path); err == nil {
		return path, false, nil
	}
	root, err := os.UserHomeDir()
	if err != nil {
		root = "/"
	}
	if err := config.WriteDefault(path, root); err != nil {
		return "", false, err
	}
	return path, true, nil
}

// startDaemon re-execs "desksrv start" in the background and waits briefly
// to see whether the child survives startup.
func startDaemon(args []string, logFilePath string, stdout, stderr io.Writer) int {
	if err := os.MkdirAll(filepath.Dir(logFilePath), 0755); err != nil {
		fmt.Fprintf(stderr, "Error: failed to create log directory: %v\n", err)
		return 1
	}

	logFileHandle, err := os.OpenFile(logFilePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		fmt.Fprintf(stderr, "Error: failed to open log file: %v\n", err)
		return 1
	}
	defer logFileHandle.Close()

	exe, err := os.Executable()
	if err != nil {
		fmt.Fprintf(stderr, "Error: failed to get executable path: %v\n", err)
		return 1
	}

	cmd := exec.Command(exe, append([]string{"start"}, args...)...)
	cmd.Stdout = logFileHandle
	cmd.Stderr = logFileHandle
	cmd.Stdin = nil
	cmd.Env = append(os.Environ(), daemonEnvVar+"=1")

	if err := cmd.Start(); err != nil {
		fmt.Fprintf(stderr, "Error: failed to start daemon: %v\n", err)
		return 1
	}

	childPid := cmd.Process.Pid
	childDone := make(chan error, 1)
	go func() {
		childDone <- cmd.Wait()
	}()

	select {
	case err := <-childDone:
		if err != nil {
			fmt.Fprintf(stderr, "Error: daemon failed to start (exit: %v, check log: %s)\n", err, logFilePath)
		} else {
			fmt.Fprintf(stderr, "Error: daemon exited unexpectedly (check log: %s)\n", logFilePath)
		}
		return 1
	case <-time.After(2 * time.Second):
		fmt.Fprintf(stdout, "Daemon started (pid %d). Logging to: %s\n", childPid, logFilePath)
		return 0
	}
}

// checkPIDLock refuses to start while the PID file names a live process.
// A stale file is removed.
func checkPIDLock(path string) error {
	pid, err := readPIDFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		// Unreadable or garbage; treat as stale.
		os.Remove(path)
		return nil
	}
	if pid == os.Getpid() || !processAlive(pid) {
		os.Remove(path)
		return nil
	}
	return fmt.Errorf("already running (pid %d, see %s)", pid, path)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("invalid PID file %s", path)
	}
	return pid, nil
}

func processAlive(pid int) bool {
	err := syscall.Kill(pid, 0)
	return err == nil || errors.Is(err, syscall.EPERM)
}

// writePIDFile writes the current process ID to the specified file.
// Creates the parent directory if it doesn't exist.
func writePIDFile(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create PID file directory: %w", err)
	}

	pid := fmt.Sprintf("%d\n", os.Getpid())
	if err := os.WriteFile(path, []byte(pid), 0644); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}
	return nil
}

// removePIDFile removes the PID file if it exists.
// Errors are logged but not returned (cleanup should not fail the shutdown).
func removePIDFile(path string, stderr io.Writer) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(stderr, "Warning: failed to remove PID file: %v\n", err)
	}
}

func hostPort(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}

func printBanner(w io.Writer, cfg *config.Config, host, root string) {
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "===========================================")
	fmt.Fprintln(w, "  desksrv")
	fmt.Fprintln(w, "===========================================")
	fmt.Fprintf(w, "  Listening: %s (ports %d-%d)\n", cfg.BindIP, cfg.Port, cfg.Port+2)
	fmt.Fprintf(w, "  Browser:   http://%s/\n", hostPort(host, cfg.Port))
	fmt.Fprintf(w, "  Screen:    http://%s%s\n", hostPort(host, cfg.Port), gateway.PathScreenCtrl)
	fmt.Fprintf(w, "  Terminal:  http://%s%s\n", hostPort(host, cfg.Port), gateway.PathXterm)
	fmt.Fprintf(w, "  Files:     %s\n", root)
	fmt.Fprintln(w, "===========================================")
	fmt.Fprintln(w, "")
}
