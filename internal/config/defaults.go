package config

// DefaultPort is the base HTTP port. Terminal and screen WebSockets use
// the next two ports.
const DefaultPort = 8080

// DefaultBindIP listens on all interfaces.
const DefaultBindIP = "0.0.0.0"

// DefaultCaptureIntervalMs targets roughly 60Hz screen capture.
const DefaultCaptureIntervalMs = 15

// DefaultDiffThreshold is the per-pixel channel sum that counts as a change.
const DefaultDiffThreshold = 10

// DefaultJPEGQuality is used for viewer frames and the one-shot screenshot.
const DefaultJPEGQuality = 85

// DefaultRTCIntervalMs is the MJPEG push interval (about 25Hz).
const DefaultRTCIntervalMs = 40

// DefaultRTCJPEGQuality is used for MJPEG push frames.
const DefaultRTCJPEGQuality = 80

// DefaultInputRate and DefaultInputBurst bound remote input per connection.
const (
	DefaultInputRate  = 200
	DefaultInputBurst = 50
)
