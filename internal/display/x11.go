package display

import (
	"fmt"
	"image"
	"sync"

	"github.com/jezek/xgb"
	"github.com/jezek/xgb/xproto"
	"github.com/jezek/xgb/xtest"

	apperrors "github.com/desksrv/host/internal/errors"
)

// X11 captures the root window and injects input through XTEST.
type X11 struct {
	mu   sync.Mutex
	conn *xgb.Conn
	root xproto.Window

	width  int
	height int

	minKeycode        xproto.Keycode
	keysymsPerKeycode int
	keysyms           []xproto.Keysym

	buttons ButtonMask
}

// OpenX11 connects to the named X display ("" uses $DISPLAY), checks that
// the root window is a 32 bits-per-pixel TrueColor visual and loads the
// keyboard mapping.
func OpenX11(name string) (*X11, error) {
	conn, err := xgb.NewConnDisplay(name)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeScreenDisplayMissing, "cannot connect to X display", err)
	}

	if err := xtest.Init(conn); err != nil {
		conn.Close()
		return nil, apperrors.Wrap(apperrors.CodeScreenDisplayMissing, "X server lacks the XTEST extension", err)
	}

	setup := xproto.Setup(conn)
	screen := setup.DefaultScreen(conn)

	bpp := 0
	for _, f := range setup.PixmapFormats {
		if f.Depth == screen.RootDepth {
			bpp = int(f.BitsPerPixel)
		}
	}
	if bpp != 32 {
		conn.Close()
		return nil, apperrors.New(apperrors.CodeScreenDisplayMissing,
			fmt.Sprintf("unsupported root pixmap format: depth %d, %d bpp", screen.RootDepth, bpp))
	}

	d := &X11{
		conn:       conn,
		root:       screen.Root,
		width:      int(screen.WidthInPixels),
		height:     int(screen.HeightInPixels),
		minKeycode: setup.MinKeycode,
	}

	count := byte(setup.MaxKeycode - setup.MinKeycode + 1)
	km, err := xproto.GetKeyboardMapping(conn, setup.MinKeycode, count).Reply()
	if err != nil {
		conn.Close()
		return nil, apperrors.Wrap(apperrors.CodeScreenDisplayMissing, "failed to read keyboard mapping", err)
	}
	d.keysymsPerKeycode = int(km.KeysymsPerKeycode)
	d.keysyms = km.Keysyms

	return d, nil
}

// Size returns the root window size.
func (d *X11) Size() (int, int) {
	return d.width, d.height
}

// CaptureFrame reads the root window as a ZPixmap. Pixels arrive as
// little-endian BGRX and are swizzled into RGBA.
func (d *X11) CaptureFrame() (*image.RGBA, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	reply, err := xproto.GetImage(d.conn, xproto.ImageFormatZPixmap, xproto.Drawable(d.root),
		0, 0, uint16(d.width), uint16(d.height), 0xffffffff).Reply()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeScreenCaptureFailed, "GetImage failed", err)
	}

	img := image.NewRGBA(image.Rect(0, 0, d.width, d.height))
	if len(reply.Data) < len(img.Pix) {
		return nil, apperrors.New(apperrors.CodeScreenCaptureFailed,
			fmt.Sprintf("short image reply: %d bytes for %dx%d", len(reply.Data), d.width, d.height))
	}
	src, dst := reply.Data, img.Pix
	for i := 0; i < len(dst); i += 4 {
		dst[i] = src[i+2]
		dst[i+1] = src[i+1]
		dst[i+2] = src[i]
		dst[i+3] = 0xff
	}
	return img, nil
}

// InjectMouse warps the pointer and replays button transitions.
func (d *X11) InjectMouse(x, y int, buttons ButtonMask) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	x = clamp(x, 0, d.width-1)
	y = clamp(y, 0, d.height-1)

	if err := d.fake(xproto.MotionNotify, 0, int16(x), int16(y)); err != nil {
		return apperrors.Wrap(apperrors.CodeScreenInjectFailed, "pointer motion failed", err)
	}

	nums, pressed := changedButtons(d.buttons, buttons)
	for i, n := range nums {
		typ := byte(xproto.ButtonRelease)
		if pressed[i] {
			typ = xproto.ButtonPress
		}
		if err := d.fake(typ, n, 0, 0); err != nil {
			return apperrors.Wrap(apperrors.CodeScreenInjectFailed, fmt.Sprintf("button %d failed", n), err)
		}
	}
	d.buttons = buttons
	return nil
}

// InjectKey taps sym with mods held. A keysym that only exists on the
// shifted level of its keycode gets Shift added automatically.
func (d *X11) InjectKey(sym Keysym, mods Modifiers) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	code, shifted, ok := d.keycodeFor(sym)
	if !ok {
		return apperrors.New(apperrors.CodeScreenInjectFailed, fmt.Sprintf("no keycode for keysym 0x%x", uint32(sym)))
	}
	if shifted {
		mods.Shift = true
	}

	var held []xproto.Keycode
	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			_ = d.fake(xproto.KeyRelease, byte(held[i]), 0, 0)
		}
	}

	for _, m := range mods.Keysyms() {
		mc, _, ok := d.keycodeFor(m)
		if !ok {
			continue
		}
		if err := d.fake(xproto.KeyPress, byte(mc), 0, 0); err != nil {
			release()
			return apperrors.Wrap(apperrors.CodeScreenInjectFailed, "modifier press failed", err)
		}
		held = append(held, mc)
	}
	defer release()

	if err := d.fake(xproto.KeyPress, byte(code), 0, 0); err != nil {
		return apperrors.Wrap(apperrors.CodeScreenInjectFailed, "key press failed", err)
	}
	if err := d.fake(xproto.KeyRelease, byte(code), 0, 0); err != nil {
		return apperrors.Wrap(apperrors.CodeScreenInjectFailed, "key release failed", err)
	}
	return nil
}

// Close closes the X connection.
func (d *X11) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.conn.Close()
	return nil
}

// fake sends one XTEST event and waits for the server to accept it.
func (d *X11) fake(typ, detail byte, x, y int16) error {
	return xtest.FakeInputChecked(d.conn, typ, detail, 0, d.root, x, y, 0).Check()
}

// keycodeFor scans the keyboard mapping for sym. shifted reports that sym
// sits on the second level of the keycode.
func (d *X11) keycodeFor(sym Keysym) (xproto.Keycode, bool, bool) {
	per := d.keysymsPerKeycode
	if per == 0 {
		return 0, false, false
	}
	for col := 0; col < per && col < 2; col++ {
		for i := 0; i*per+col < len(d.keysyms); i++ {
			if uint32(d.keysyms[i*per+col]) == uint32(sym) {
				return d.minKeycode + xproto.Keycode(i), col == 1, true
			}
		}
	}
	return 0, false, false
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
