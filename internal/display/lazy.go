package display

import (
	"image"
	"sync"
	"time"

	apperrors "github.com/desksrv/host/internal/errors"
)

// RetryInterval is the minimum gap between attempts to reopen a display
// that failed to open.
const RetryInterval = 5 * time.Second

// Size reported while no backend is open.
const (
	unavailableWidth  = 1280
	unavailableHeight = 720
)

// Lazy stands in for a display that could not be opened. Every capture or
// injection retries Open at most once per RetryInterval; until one succeeds
// they fail with screen.display_missing.
type Lazy struct {
	spec  string
	open  func(string) (Display, error)
	retry time.Duration
	now   func() time.Time

	mu      sync.Mutex
	d       Display
	lastTry time.Time
	lastErr error
	closed  bool
}

// NewLazy returns a Lazy display for spec whose first open failed with cause.
func NewLazy(spec string, cause error) *Lazy {
	return &Lazy{
		spec:    spec,
		open:    Open,
		retry:   RetryInterval,
		now:     time.Now,
		lastTry: time.Now(),
		lastErr: cause,
	}
}

// backend returns the open display, trying to open it if the retry
// interval has passed.
func (l *Lazy) backend() (Display, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.d != nil {
		return l.d, nil
	}
	if l.closed {
		return nil, apperrors.New(apperrors.CodeScreenDisplayMissing, "display closed")
	}
	if now := l.now(); now.Sub(l.lastTry) >= l.retry {
		l.lastTry = now
		d, err := l.open(l.spec)
		if err == nil {
			l.d = d
			return d, nil
		}
		l.lastErr = err
	}
	return nil, apperrors.Wrap(apperrors.CodeScreenDisplayMissing, "display unavailable", l.lastErr)
}

// Available reports whether a backend is open.
func (l *Lazy) Available() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.d != nil
}

// Size returns the backend size, or 1280x720 while none is open.
func (l *Lazy) Size() (int, int) {
	l.mu.Lock()
	d := l.d
	l.mu.Unlock()
	if d == nil {
		return unavailableWidth, unavailableHeight
	}
	return d.Size()
}

func (l *Lazy) CaptureFrame() (*image.RGBA, error) {
	d, err := l.backend()
	if err != nil {
		return nil, err
	}
	return d.CaptureFrame()
}

func (l *Lazy) InjectMouse(x, y int, buttons ButtonMask) error {
	d, err := l.backend()
	if err != nil {
		return err
	}
	return d.InjectMouse(x, y, buttons)
}

func (l *Lazy) InjectKey(sym Keysym, mods Modifiers) error {
	d, err := l.backend()
	if err != nil {
		return err
	}
	return d.InjectKey(sym, mods)
}

// Close closes the backend if one was opened and stops further retries.
func (l *Lazy) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	if l.d == nil {
		return nil
	}
	err := l.d.Close()
	l.d = nil
	return err
}
