package display

import (
	"image"
	"image/color"
	"image/draw"
	"sync"
)

// EventKind identifies a recorded synthetic input event.
type EventKind string

const (
	EventMouse EventKind = "mouse"
	EventKey   EventKind = "key"
)

// Event is one call recorded by the synthetic backend.
type Event struct {
	Kind    EventKind
	X, Y    int
	Buttons ButtonMask
	Keysym  Keysym
	Mods    Modifiers
}

// Synthetic is an in-memory display. Captures return copies of its
// framebuffer, and injected input is recorded instead of replayed.
type Synthetic struct {
	mu         sync.Mutex
	frame      *image.RGBA
	events     []Event
	captures   int
	captureErr error
	injectErr  error
	closed     bool
}

// NewSynthetic creates a w x h framebuffer painted with a neutral gradient.
func NewSynthetic(w, h int) *Synthetic {
	frame := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			frame.SetRGBA(x, y, color.RGBA{
				R: uint8(40 + 80*x/w),
				G: uint8(40 + 80*y/h),
				B: 96,
				A: 255,
			})
		}
	}
	return &Synthetic{frame: frame}
}

// Size returns the framebuffer size.
func (s *Synthetic) Size() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.frame.Bounds()
	return b.Dx(), b.Dy()
}

// CaptureFrame returns a copy of the framebuffer.
func (s *Synthetic) CaptureFrame() (*image.RGBA, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.captures++
	if s.captureErr != nil {
		return nil, s.captureErr
	}
	out := image.NewRGBA(s.frame.Bounds())
	copy(out.Pix, s.frame.Pix)
	return out, nil
}

// InjectMouse records a mouse event.
func (s *Synthetic) InjectMouse(x, y int, buttons ButtonMask) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.injectErr != nil {
		return s.injectErr
	}
	s.events = append(s.events, Event{Kind: EventMouse, X: x, Y: y, Buttons: buttons})
	return nil
}

// InjectKey records a key event.
func (s *Synthetic) InjectKey(sym Keysym, mods Modifiers) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.injectErr != nil {
		return s.injectErr
	}
	s.events = append(s.events, Event{Kind: EventKey, Keysym: sym, Mods: mods})
	return nil
}

// Close marks the display closed.
func (s *Synthetic) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Fill paints r with c.
func (s *Synthetic) Fill(r image.Rectangle, c color.RGBA) {
	s.mu.Lock()
	defer s.mu.Unlock()
	draw.Draw(s.frame, r, &image.Uniform{C: c}, image.Point{}, draw.Src)
}

// SetCaptureError makes subsequent captures fail with err (nil clears it).
func (s *Synthetic) SetCaptureError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.captureErr = err
}

// SetInjectError makes subsequent injections fail with err (nil clears it).
func (s *Synthetic) SetInjectError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.injectErr = err
}

// Events returns a copy of the recorded events.
func (s *Synthetic) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

// Captures returns how many times CaptureFrame was called.
func (s *Synthetic) Captures() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.captures
}
