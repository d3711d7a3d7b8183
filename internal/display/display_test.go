package display

import (
	"errors"
	"image"
	"image/color"
	"testing"
)

// TestOpenSynthetic verifies the synthetic spec forms.
func TestOpenSynthetic(t *testing.T) {
	d, err := Open("synthetic")
	if err != nil {
		t.Fatalf("Open(synthetic): %v", err)
	}
	if w, h := d.Size(); w != 1280 || h != 720 {
		t.Errorf("Size() = %dx%d, want 1280x720", w, h)
	}

	d, err = Open("synthetic:320x200")
	if err != nil {
		t.Fatalf("Open(synthetic:320x200): %v", err)
	}
	if w, h := d.Size(); w != 320 || h != 200 {
		t.Errorf("Size() = %dx%d, want 320x200", w, h)
	}

	for _, bad := range []string{"synthetic:", "synthetic:10", "synthetic:0x10", "synthetic:axb"} {
		if _, err := Open(bad); err == nil {
			t.Errorf("Open(%q) should fail", bad)
		}
	}
}

// TestSyntheticCaptureIsCopy verifies captures are independent of later fills.
func TestSyntheticCaptureIsCopy(t *testing.T) {
	s := NewSynthetic(64, 48)

	first, err := s.CaptureFrame()
	if err != nil {
		t.Fatal(err)
	}
	s.Fill(image.Rect(0, 0, 10, 10), color.RGBA{R: 255, A: 255})

	second, err := s.CaptureFrame()
	if err != nil {
		t.Fatal(err)
	}
	if first.RGBAAt(5, 5) == second.RGBAAt(5, 5) {
		t.Error("first capture changed after Fill")
	}
	if got := second.RGBAAt(5, 5); got != (color.RGBA{R: 255, A: 255}) {
		t.Errorf("filled pixel = %v", got)
	}
	if s.Captures() != 2 {
		t.Errorf("Captures() = %d, want 2", s.Captures())
	}
}

// TestSyntheticErrors verifies injected failures surface.
func TestSyntheticErrors(t *testing.T) {
	s := NewSynthetic(8, 8)
	boom := errors.New("boom")

	s.SetCaptureError(boom)
	if _, err := s.CaptureFrame(); !errors.Is(err, boom) {
		t.Errorf("CaptureFrame error = %v", err)
	}
	s.SetCaptureError(nil)
	if _, err := s.CaptureFrame(); err != nil {
		t.Errorf("CaptureFrame after clear: %v", err)
	}

	s.SetInjectError(boom)
	if err := s.InjectMouse(1, 1, 0); !errors.Is(err, boom) {
		t.Errorf("InjectMouse error = %v", err)
	}
	if err := s.InjectKey('a', Modifiers{}); !errors.Is(err, boom) {
		t.Errorf("InjectKey error = %v", err)
	}
	if len(s.Events()) != 0 {
		t.Errorf("failed injections were recorded: %v", s.Events())
	}
}

// TestSyntheticRecordsEvents verifies injected input is recorded in order.
func TestSyntheticRecordsEvents(t *testing.T) {
	s := NewSynthetic(8, 8)
	s.InjectMouse(3, 4, ButtonLeft)
	s.InjectKey('x', Modifiers{Ctrl: true})

	events := s.Events()
	if len(events) != 2 {
		t.Fatalf("recorded %d events, want 2", len(events))
	}
	if e := events[0]; e.Kind != EventMouse || e.X != 3 || e.Y != 4 || e.Buttons != ButtonLeft {
		t.Errorf("mouse event = %+v", e)
	}
	if e := events[1]; e.Kind != EventKey || e.Keysym != 'x' || !e.Mods.Ctrl {
		t.Errorf("key event = %+v", e)
	}
}

// TestChangedButtons verifies transitions are reported lowest button first.
func TestChangedButtons(t *testing.T) {
	buttons, pressed := changedButtons(0, ButtonLeft|ButtonRight)
	if len(buttons) != 2 || buttons[0] != 1 || buttons[1] != 3 || !pressed[0] || !pressed[1] {
		t.Errorf("press left+right = %v %v", buttons, pressed)
	}

	buttons, pressed = changedButtons(ButtonLeft|ButtonRight, ButtonRight|WheelDown)
	if len(buttons) != 2 || buttons[0] != 1 || pressed[0] || buttons[1] != 5 || !pressed[1] {
		t.Errorf("release left, press wheel = %v %v", buttons, pressed)
	}

	if buttons, _ := changedButtons(ButtonMiddle, ButtonMiddle); len(buttons) != 0 {
		t.Errorf("no change reported %v", buttons)
	}
}

// TestModifierKeysymOrder verifies modifiers are pressed Ctrl, Shift, Alt, Meta.
func TestModifierKeysymOrder(t *testing.T) {
	got := Modifiers{Ctrl: true, Shift: true, Alt: true, Meta: true}.Keysyms()
	want := []Keysym{KeyControlL, KeyShiftL, KeyAltL, KeySuperL}
	if len(got) != len(want) {
		t.Fatalf("Keysyms() = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Keysyms()[%d] = %#x, want %#x", i, got[i], want[i])
		}
	}
	if len((Modifiers{}).Keysyms()) != 0 {
		t.Error("empty modifiers produced keysyms")
	}
}

func TestKeysymFor(t *testing.T) {
	tests := []struct {
		key, raw string
		shift    bool
		want     Keysym
	}{
		{"a", "a", false, 'a'},
		{"A", "A", false, 'a'},
		{"enter", "Enter", false, KeyReturn},
		{"Enter", "", false, KeyReturn},
		{"arrowleft", "ArrowLeft", false, 0xff51},
		{"f5", "F5", false, 0xffc2},
		{"1", "!", true, '!'},
		{"1", "1", false, '1'},
		{"minus", "_", true, '_'},
		{"minus", "-", false, '-'},
		{"slash", "?", true, '?'},
		{"unknownname", "é", false, 0xe9},
		{"unknownname", "€", false, 0x01000000 + 0x20ac},
		{"unknownname", "", false, NoSymbol},
		{"", "", false, NoSymbol},
	}
	for _, tt := range tests {
		if got := KeysymFor(tt.key, tt.raw, tt.shift); got != tt.want {
			t.Errorf("KeysymFor(%q, %q, %v) = %#x, want %#x", tt.key, tt.raw, tt.shift, got, tt.want)
		}
	}
}

func TestIsModifierName(t *testing.T) {
	for _, name := range []string{"ctrl", "Control", "SHIFT", "alt", "meta", "win"} {
		if !IsModifierName(name) {
			t.Errorf("IsModifierName(%q) = false", name)
		}
	}
	for _, name := range []string{"a", "enter", "capslock", ""} {
		if IsModifierName(name) {
			t.Errorf("IsModifierName(%q) = true", name)
		}
	}
}

func TestRuneKeysym(t *testing.T) {
	if RuneKeysym('\n') != NoSymbol {
		t.Error("control character mapped")
	}
	if RuneKeysym('~') != '~' {
		t.Error("ASCII not identity")
	}
	if RuneKeysym(0x7f) != 0x0100007f {
		t.Errorf("DEL = %#x", RuneKeysym(0x7f))
	}
	if RuneKeysym('ü') != 0xfc {
		t.Error("Latin-1 not identity")
	}
}
