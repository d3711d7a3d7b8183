package screen

import (
	"encoding/json"
	"fmt"
	"strings"

	apperrors "github.com/desksrv/host/internal/errors"
)

// Inbound message types sent by the viewer page.
const (
	TypeMouseMove  = "mouse_move"
	TypeMouseClick = "mouse_click"
	TypeMouseWheel = "mouse_wheel"
	TypeKeyboard   = "keyboard"
)

// TypeFrameMeta tags the text message that precedes every JPEG payload.
const TypeFrameMeta = "screen_frame_meta"

// FrameMeta describes the binary JPEG message that follows it. Width and
// Height are the full screen size; the Diff fields place the encoded region
// inside it.
type FrameMeta struct {
	Type   string `json:"type"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	DiffX  int    `json:"diff_x"`
	DiffY  int    `json:"diff_y"`
	DiffW  int    `json:"diff_w"`
	DiffH  int    `json:"diff_h"`
	IsFull bool   `json:"is_full"`
	Size   int    `json:"size"`
}

// InputEvent is one decoded viewer input message: MouseMove, MouseClick,
// MouseWheel or KeyEvent.
type InputEvent interface {
	inputType() string
}

// MouseMove reports the pointer in the viewer's coordinate space together
// with the viewer's own screen size. Sizes <= 0 mean "unchanged".
type MouseMove struct {
	X, Y          int
	Width, Height int
}

// MouseClick is a button press or release at the last known position.
type MouseClick struct {
	Button  string // left, right or middle
	Pressed bool
}

// MouseWheel scrolls Steps notches in Direction (up, down, left, right)
// at the pointer position of the last MouseMove. Coordinates sent with the
// wheel message are ignored.
type MouseWheel struct {
	Direction string
	Steps     int
}

// KeyEvent is a key press or release.
type KeyEvent struct {
	Pressed   bool
	Key       string
	RawKey    string
	Ctrl      bool
	Shift     bool
	Alt       bool
	Meta      bool
	Modifiers bool // the message carried a modifiers object
}

func (MouseMove) inputType() string  { return TypeMouseMove }
func (MouseClick) inputType() string { return TypeMouseClick }
func (MouseWheel) inputType() string { return TypeMouseWheel }
func (KeyEvent) inputType() string   { return TypeKeyboard }

// wireInput is the union of every inbound field. Numbers are decoded as
// floats since browsers may send fractional pointer coordinates.
type wireInput struct {
	Type         string   `json:"type"`
	X            *float64 `json:"x"`
	Y            *float64 `json:"y"`
	ScreenWidth  float64  `json:"screen_width"`
	ScreenHeight float64  `json:"screen_height"`
	Button       string   `json:"button"`
	Action       string   `json:"action"`
	Direction    string   `json:"direction"`
	Steps        float64  `json:"steps"`
	Key          string   `json:"key"`
	RawKey       string   `json:"rawKey"`
	Modifiers    *struct {
		Ctrl  bool `json:"ctrl"`
		Shift bool `json:"shift"`
		Alt   bool `json:"alt"`
		Meta  bool `json:"meta"`
	} `json:"modifiers"`
}

// DecodeInput parses one inbound text message. Malformed JSON, an unknown
// type or a missing required field yields a screen.invalid_message error.
func DecodeInput(data []byte) (InputEvent, error) {
	var w wireInput
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeScreenInvalidMessage, "malformed JSON", err)
	}

	switch w.Type {
	case TypeMouseMove:
		if w.X == nil || w.Y == nil {
			return nil, apperrors.InvalidMessage("mouse_move requires x and y")
		}
		return MouseMove{
			X:      int(*w.X),
			Y:      int(*w.Y),
			Width:  int(w.ScreenWidth),
			Height: int(w.ScreenHeight),
		}, nil

	case TypeMouseClick:
		button := strings.ToLower(w.Button)
		switch button {
		case "left", "right", "middle":
		default:
			return nil, apperrors.InvalidMessage(fmt.Sprintf("unknown mouse button %q", w.Button))
		}
		pressed, err := parseAction(w.Action)
		if err != nil {
			return nil, err
		}
		return MouseClick{Button: button, Pressed: pressed}, nil

	case TypeMouseWheel:
		dir := strings.ToLower(w.Direction)
		if _, ok := wheelButtons[dir]; !ok {
			return nil, apperrors.InvalidMessage(fmt.Sprintf("unknown wheel direction %q", w.Direction))
		}
		return MouseWheel{Direction: dir, Steps: int(w.Steps)}, nil

	case TypeKeyboard:
		if w.Key == "" && w.RawKey == "" {
			return nil, apperrors.InvalidMessage("keyboard requires key")
		}
		pressed, err := parseAction(w.Action)
		if err != nil {
			return nil, err
		}
		ev := KeyEvent{Pressed: pressed, Key: w.Key, RawKey: w.RawKey}
		if w.Modifiers != nil {
			ev.Modifiers = true
			ev.Ctrl = w.Modifiers.Ctrl
			ev.Shift = w.Modifiers.Shift
			ev.Alt = w.Modifiers.Alt
			ev.Meta = w.Modifiers.Meta
		}
		return ev, nil

	case "":
		return nil, apperrors.InvalidMessage("missing type")
	default:
		return nil, apperrors.InvalidMessage(fmt.Sprintf("unknown message type %q", w.Type))
	}
}

func parseAction(action string) (bool, error) {
	switch strings.ToLower(action) {
	case "press", "down":
		return true, nil
	case "release", "up":
		return false, nil
	}
	return false, apperrors.InvalidMessage(fmt.Sprintf("unknown action %q", action))
}
