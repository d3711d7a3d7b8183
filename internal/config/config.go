// Package config provides TOML configuration file loading and parsing for the host.
// The configuration file lives at ~/.desksrv/config.toml by default, but can be
// overridden with the --config flag. CLI flags always take precedence over file values.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the host configuration file structure.
// Field names use Go camelCase internally but map to snake_case in TOML files
// via struct tags.
type Config struct {
	// Port is the base HTTP port P. The terminal WebSocket listens on P+1
	// and the screen WebSocket on P+2.
	// Default: 8080
	Port int `toml:"port"`

	// BindIP is the interface address all three listeners bind to.
	// Default: 0.0.0.0
	BindIP string `toml:"bind_ip"`

	// AdvertiseIP is the address substituted into {{WS_HOST}} placeholders.
	// If empty, the first non-loopback IPv4 address is used.
	AdvertiseIP string `toml:"advertise_ip"`

	// RootDir is the filesystem root served by the file/directory handler.
	// Uploads land in RootDir/upload.
	// Default: the user's home directory, falling back to "/".
	RootDir string `toml:"root_dir"`

	// AssetsDir overrides the embedded web assets (js/css/img/fonts and
	// the HTML templates). Empty means use the embedded copy.
	AssetsDir string `toml:"assets_dir"`

	// Shell is the shell binary for terminal sessions.
	// If empty, the first existing entry of /bin/bash, /usr/bin/bash,
	// /bin/sh, /usr/bin/sh is used.
	Shell string `toml:"shell"`

	// Display selects the capture/input backend: "" uses the X server in
	// $DISPLAY, ":1" or "host:0" names one, "synthetic" or "synthetic:WxH"
	// uses an in-memory framebuffer.
	Display string `toml:"display"`

	// CaptureIntervalMs is the screen capture tick in milliseconds.
	// Default: 15
	CaptureIntervalMs int `toml:"capture_interval_ms"`

	// DiffThreshold is the per-pixel |dR|+|dG|+|dB| change threshold
	// assigned to new viewers.
	// Default: 10
	DiffThreshold int `toml:"diff_threshold"`

	// JPEGQuality is the quality used for viewer diff frames and /$$screen.
	// Default: 85
	JPEGQuality int `toml:"jpeg_quality"`

	// RTCIntervalMs is the MJPEG push interval in milliseconds.
	// Default: 40
	RTCIntervalMs int `toml:"rtc_interval_ms"`

	// RTCMaxWidth downscales MJPEG frames wider than this many pixels.
	// Zero disables scaling.
	RTCMaxWidth int `toml:"rtc_max_width"`

	// PreviewKeyHash is a bcrypt hash of the X-Preview-Key accepted by the
	// file preview mode. Generate one with 'desksrv hash-key'.
	// Empty disables preview mode.
	PreviewKeyHash string `toml:"preview_key_hash"`

	// AuditDB is the path to the SQLite audit database.
	// Default: ~/.desksrv/audit.db
	AuditDB string `toml:"audit_db"`

	// InputRate is the sustained number of remote input events accepted per
	// second per connection (viewer events and terminal writes).
	// Default: 200
	InputRate int `toml:"input_rate"`

	// InputBurst is the token bucket burst for InputRate.
	// Default: 50
	InputBurst int `toml:"input_burst"`

	// MdnsEnabled enables mDNS/Bonjour service advertisement of the gateway.
	// Default: false
	MdnsEnabled bool `toml:"mdns_enabled"`

	// KeepAwake holds an idle inhibitor (systemd-inhibit) while at least
	// one screen viewer is connected.
	// Default: false
	KeepAwake bool `toml:"keep_awake"`

	// QR prints the gateway URL as a QR code during startup.
	// Default: false
	QR bool `toml:"qr"`

	// Daemon runs the host as a background daemon.
	// Default: false
	Daemon bool `toml:"daemon"`

	// PIDFile is the single-instance lock and daemon PID file.
	// Default: ~/.desksrv/desksrv.pid
	PIDFile string `toml:"pid_file"`

	// LogFile is the path for daemon log output.
	// Default: ~/.desksrv/desksrv.log
	LogFile string `toml:"log_file"`

	// ControlSocket is the Unix socket answering 'desksrv status' and
	// 'desksrv kill'.
	// Default: ~/.desksrv/control.sock
	ControlSocket string `toml:"control_socket"`
}

// Dir returns the per-user state directory ~/.desksrv.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".desksrv"), nil
}

// DefaultConfigPath returns the default config file location: ~/.desksrv/config.toml.
// Returns an error only if the user's home directory cannot be determined.
func DefaultConfigPath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// WriteDefault creates a config file with LAN defaults at the given path.
//
// Behavior:
//   - If the file already exists, returns without error (does not overwrite).
//   - Creates the parent directory if it doesn't exist.
//   - Returns an error if the file cannot be written.
func WriteDefault(path string, rootDir string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	content := fmt.Sprintf(`# desksrv configuration
# Created by 'desksrv start'

# HTTP gateway port; terminal uses port+1, screen uses port+2
port = %d

# Listen on all interfaces for LAN access
bind_ip = %q

# Directory served by the file browser (uploads go to <root_dir>/upload)
root_dir = %q

# Screen streaming
capture_interval_ms = %d
diff_threshold = %d
jpeg_quality = %d
`, DefaultPort, DefaultBindIP, rootDir, DefaultCaptureIntervalMs, DefaultDiffThreshold, DefaultJPEGQuality)

	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Load reads a TOML config file from the given path and returns a Config.
//
// Behavior:
//   - If path is empty, attempts to load from the default location (~/.desksrv/config.toml).
//     Returns an empty Config without error if the default file doesn't exist.
//   - If path is specified, returns an error if the file doesn't exist.
//   - Returns an error if the file exists but cannot be parsed.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return cfg, nil
		}
		if _, err := os.Stat(defaultPath); os.IsNotExist(err) {
			return cfg, nil
		}
		path = defaultPath
	} else {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", path, err)
	}

	return cfg, nil
}

// Validate rejects values that cannot work even after defaults are applied.
// Zero values are allowed everywhere since they mean "use the default".
func (c *Config) Validate() error {
	if c.Port < 0 || c.Port > 65533 {
		return fmt.Errorf("port %d out of range (need room for port+2)", c.Port)
	}
	if c.JPEGQuality < 0 || c.JPEGQuality > 100 {
		return fmt.Errorf("jpeg_quality %d out of range 1-100", c.JPEGQuality)
	}
	if c.DiffThreshold < 0 {
		return fmt.Errorf("diff_threshold must not be negative")
	}
	if c.CaptureIntervalMs < 0 || c.RTCIntervalMs < 0 {
		return fmt.Errorf("intervals must not be negative")
	}
	if c.RTCMaxWidth < 0 {
		return fmt.Errorf("rtc_max_width must not be negative")
	}
	return nil
}

// ApplyDefaults fills every zero-valued field with its default.
// RootDir falls back to the home directory and then to "/".
func (c *Config) ApplyDefaults() {
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.BindIP == "" {
		c.BindIP = DefaultBindIP
	}
	if c.RootDir == "" {
		if home, err := os.UserHomeDir(); err == nil && home != "" {
			c.RootDir = home
		} else {
			c.RootDir = "/"
		}
	}
	if c.CaptureIntervalMs == 0 {
		c.CaptureIntervalMs = DefaultCaptureIntervalMs
	}
	if c.DiffThreshold == 0 {
		c.DiffThreshold = DefaultDiffThreshold
	}
	if c.JPEGQuality == 0 {
		c.JPEGQuality = DefaultJPEGQuality
	}
	if c.RTCIntervalMs == 0 {
		c.RTCIntervalMs = DefaultRTCIntervalMs
	}
	if c.InputRate == 0 {
		c.InputRate = DefaultInputRate
	}
	if c.InputBurst == 0 {
		c.InputBurst = DefaultInputBurst
	}
	if dir, err := Dir(); err == nil {
		if c.AuditDB == "" {
			c.AuditDB = filepath.Join(dir, "audit.db")
		}
		if c.PIDFile == "" {
			c.PIDFile = filepath.Join(dir, "desksrv.pid")
		}
		if c.LogFile == "" {
			c.LogFile = filepath.Join(dir, "desksrv.log")
		}
		if c.ControlSocket == "" {
			c.ControlSocket = filepath.Join(dir, "control.sock")
		}
	}
}
