package screen

import (
	"log"
	"strings"

	"github.com/desksrv/host/internal/display"
	"github.com/desksrv/host/internal/registry"
)

// maxWheelSteps caps one wheel message.
const maxWheelSteps = 50

var wheelButtons = map[string]display.ButtonMask{
	"up":    display.WheelUp,
	"down":  display.WheelDown,
	"left":  display.WheelLeft,
	"right": display.WheelRight,
}

// applyInput updates v from ev and replays it on the display. Runs on the
// loop goroutine. Injection failures are logged and otherwise ignored.
func (s *Server) applyInput(v *registry.ViewerSession, ev InputEvent) {
	switch e := ev.(type) {
	case MouseMove:
		if e.Width > 0 {
			v.RemoteW = e.Width
		}
		if e.Height > 0 {
			v.RemoteH = e.Height
		}
		v.MouseX, v.MouseY = e.X, e.Y
		x, y := s.localPoint(v)
		s.inject(v, "mouse_move", s.disp.InjectMouse(x, y, buttonMask(v.Buttons)))

	case MouseClick:
		switch e.Button {
		case "left":
			v.Buttons.Left = e.Pressed
		case "right":
			v.Buttons.Right = e.Pressed
		case "middle":
			v.Buttons.Middle = e.Pressed
		}
		x, y := s.localPoint(v)
		s.inject(v, "mouse_click", s.disp.InjectMouse(x, y, buttonMask(v.Buttons)))

	case MouseWheel:
		bit := wheelButtons[e.Direction]
		steps := e.Steps
		if steps < 1 {
			steps = 1
		}
		if steps > maxWheelSteps {
			steps = maxWheelSteps
		}
		x, y := s.localPoint(v)
		held := buttonMask(v.Buttons)
		for i := 0; i < steps; i++ {
			if err := s.disp.InjectMouse(x, y, held|bit); err != nil {
				s.inject(v, "mouse_wheel", err)
				return
			}
			if err := s.disp.InjectMouse(x, y, held); err != nil {
				s.inject(v, "mouse_wheel", err)
				return
			}
		}

	case KeyEvent:
		if e.Modifiers {
			v.Modifiers = registry.ModifierState{Ctrl: e.Ctrl, Shift: e.Shift, Alt: e.Alt, Meta: e.Meta}
		}
		name := strings.ToLower(e.Key)
		if display.IsModifierName(name) {
			trackModifier(&v.Modifiers, name, e.Pressed)
			return
		}
		if !e.Pressed {
			return
		}
		sym := display.KeysymFor(e.Key, e.RawKey, v.Modifiers.Shift)
		if sym == display.NoSymbol {
			log.Printf("screen: viewer %s: no keysym for key %q (raw %q)", v.ID, e.Key, e.RawKey)
			return
		}
		mods := display.Modifiers{
			Ctrl:  v.Modifiers.Ctrl,
			Shift: v.Modifiers.Shift,
			Alt:   v.Modifiers.Alt,
			Meta:  v.Modifiers.Meta,
		}
		s.inject(v, "keyboard", s.disp.InjectKey(sym, mods))
	}
}

func (s *Server) inject(v *registry.ViewerSession, what string, err error) {
	if err != nil {
		log.Printf("screen: viewer %s: %s injection failed: %v", v.ID, what, err)
	}
}

// localPoint rescales the viewer's pointer to local screen pixels.
func (s *Server) localPoint(v *registry.ViewerSession) (int, int) {
	w, h := s.disp.Size()
	p := cursorPoint(v, w, h)
	return p.X, p.Y
}

func buttonMask(b registry.ButtonState) display.ButtonMask {
	var m display.ButtonMask
	if b.Left {
		m |= display.ButtonLeft
	}
	if b.Middle {
		m |= display.ButtonMiddle
	}
	if b.Right {
		m |= display.ButtonRight
	}
	return m
}

// trackModifier records a bare modifier key transition for messages that
// arrive without a modifiers object.
func trackModifier(m *registry.ModifierState, name string, pressed bool) {
	switch {
	case strings.HasPrefix(name, "ctrl"), strings.HasPrefix(name, "control"):
		m.Ctrl = pressed
	case strings.HasPrefix(name, "shift"):
		m.Shift = pressed
	case strings.HasPrefix(name, "alt"):
		m.Alt = pressed
	case strings.HasPrefix(name, "meta"), name == "win":
		m.Meta = pressed
	}
}
