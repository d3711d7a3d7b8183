// Package display is the boundary to the local display server: full-screen
// capture and synthetic mouse/keyboard input.
//
// Two backends exist. X11 talks to the X server over the wire protocol
// (XTEST for input). Synthetic keeps an in-memory framebuffer and records
// injected events; it backs tests and hosts without a display. Lazy wraps
// a spec that failed to open and keeps retrying it.
package display

import (
	"fmt"
	"image"
	"strconv"
	"strings"
)

// ButtonMask is the set of pointer buttons held down. Bit n-1 is X button n,
// so the wheel directions are buttons 4-7 and are "held" only for the
// duration of one press/release pair.
type ButtonMask uint8

// Pointer buttons in X numbering order.
const (
	ButtonLeft ButtonMask = 1 << iota
	ButtonMiddle
	ButtonRight
	WheelUp
	WheelDown
	WheelLeft
	WheelRight
)

// Modifiers are held around an injected key.
type Modifiers struct {
	Ctrl  bool
	Shift bool
	Alt   bool
	Meta  bool
}

// Keysyms returns the modifier keysyms to press, in press order.
func (m Modifiers) Keysyms() []Keysym {
	var out []Keysym
	if m.Ctrl {
		out = append(out, KeyControlL)
	}
	if m.Shift {
		out = append(out, KeyShiftL)
	}
	if m.Alt {
		out = append(out, KeyAltL)
	}
	if m.Meta {
		out = append(out, KeySuperL)
	}
	return out
}

// Display captures the screen and replays remote input on it.
type Display interface {
	// Size returns the screen size in pixels.
	Size() (width, height int)

	// CaptureFrame grabs the whole screen. The caller owns the result.
	CaptureFrame() (*image.RGBA, error)

	// InjectMouse moves the pointer to (x, y) in screen pixels and then
	// presses or releases every button whose bit differs from the
	// previously injected mask.
	InjectMouse(x, y int, buttons ButtonMask) error

	// InjectKey presses the modifiers, taps sym, and releases the
	// modifiers in reverse order.
	InjectKey(sym Keysym, mods Modifiers) error

	// Close releases the display connection.
	Close() error
}

// Open selects a backend from a display spec:
//
//	""                   X11 using $DISPLAY
//	":1", "host:0.0"     X11 on that display
//	"synthetic"          in-memory 1280x720 framebuffer
//	"synthetic:WxH"      in-memory framebuffer of the given size
func Open(spec string) (Display, error) {
	if spec == "synthetic" || strings.HasPrefix(spec, "synthetic:") {
		w, h := 1280, 720
		if rest, ok := strings.CutPrefix(spec, "synthetic:"); ok {
			var err error
			w, h, err = parseSize(rest)
			if err != nil {
				return nil, err
			}
		}
		return NewSynthetic(w, h), nil
	}
	d, err := OpenX11(spec)
	if err != nil {
		return nil, err
	}
	return d, nil
}

func parseSize(s string) (int, int, error) {
	ws, hs, ok := strings.Cut(strings.ToLower(s), "x")
	if !ok {
		return 0, 0, fmt.Errorf("invalid display size %q (want WxH)", s)
	}
	w, err := strconv.Atoi(ws)
	if err != nil || w <= 0 {
		return 0, 0, fmt.Errorf("invalid display width %q", ws)
	}
	h, err := strconv.Atoi(hs)
	if err != nil || h <= 0 {
		return 0, 0, fmt.Errorf("invalid display height %q", hs)
	}
	return w, h, nil
}

// changedButtons lists X button numbers whose state differs between prev
// and next, with the new state for each, lowest button first.
func changedButtons(prev, next ButtonMask) (buttons []byte, pressed []bool) {
	diff := prev ^ next
	for i := 0; i < 7; i++ {
		bit := ButtonMask(1 << i)
		if diff&bit == 0 {
			continue
		}
		buttons = append(buttons, byte(i+1))
		pressed = append(pressed, next&bit != 0)
	}
	return buttons, pressed
}
