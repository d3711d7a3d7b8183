package display

import (
	"strings"
	"unicode/utf8"
)

// Keysym is an X11 keysym value.
type Keysym uint32

// NoSymbol is returned for keys without a mapping.
const NoSymbol Keysym = 0

// Modifier and named keysyms used outside the table.
const (
	KeyShiftL   Keysym = 0xffe1
	KeyControlL Keysym = 0xffe3
	KeyAltL     Keysym = 0xffe9
	KeySuperL   Keysym = 0xffeb
	KeyReturn   Keysym = 0xff0d
)

// namedKeys maps the normalized key names sent by the viewer page.
var namedKeys = map[string]Keysym{
	"space":      0x0020,
	"enter":      KeyReturn,
	"tab":        0xff09,
	"backspace":  0xff08,
	"delete":     0xffff,
	"insert":     0xff63,
	"esc":        0xff1b,
	"escape":     0xff1b,
	"arrowup":    0xff52,
	"arrowdown":  0xff54,
	"arrowleft":  0xff51,
	"arrowright": 0xff53,
	"home":       0xff50,
	"end":        0xff57,
	"pageup":     0xff55,
	"pagedown":   0xff56,
	"capslock":   0xffe5,
	"shift":      KeyShiftL,
	"ctrl":       KeyControlL,
	"alt":        KeyAltL,
	"meta":       KeySuperL,
	"win":        KeySuperL,

	"printscreen": 0xff61,

	"f1": 0xffbe, "f2": 0xffbf, "f3": 0xffc0, "f4": 0xffc1,
	"f5": 0xffc2, "f6": 0xffc3, "f7": 0xffc4, "f8": 0xffc5,
	"f9": 0xffc6, "f10": 0xffc7, "f11": 0xffc8, "f12": 0xffc9,

	"minus":        '-',
	"equal":        '=',
	"bracketleft":  '[',
	"bracketright": ']',
	"backslash":    '\\',
	"semicolon":    ';',
	"apostrophe":   '\'',
	"comma":        ',',
	"period":       '.',
	"slash":        '/',
	"grave":        '`',

	"exclam":      '!',
	"at":          '@',
	"numbersign":  '#',
	"dollar":      '$',
	"percent":     '%',
	"asciicircum": '^',
	"ampersand":   '&',
	"asterisk":    '*',
	"parenleft":   '(',
	"parenright":  ')',
	"underscore":  '_',
	"plus":        '+',
	"braceleft":   '{',
	"braceright":  '}',
	"bar":         '|',
	"colon":       ':',
	"quotedbl":    '"',
	"less":        '<',
	"greater":     '>',
	"question":    '?',
	"asciitilde":  '~',
}

// shiftedNames gives the symbol produced by each base key with Shift held
// on a US layout.
var shiftedNames = map[string]string{
	"1": "exclam", "2": "at", "3": "numbersign", "4": "dollar", "5": "percent",
	"6": "asciicircum", "7": "ampersand", "8": "asterisk", "9": "parenleft", "0": "parenright",
	"minus":        "underscore",
	"equal":        "plus",
	"bracketleft":  "braceleft",
	"bracketright": "braceright",
	"backslash":    "bar",
	"semicolon":    "colon",
	"apostrophe":   "quotedbl",
	"comma":        "less",
	"period":       "greater",
	"slash":        "question",
	"grave":        "asciitilde",
}

// IsModifierName reports whether name is one of the modifier key names
// whose press or release only updates modifier state.
func IsModifierName(name string) bool {
	switch strings.ToLower(name) {
	case "ctrl", "control", "shift", "alt", "meta", "win",
		"controlleft", "controlright", "shiftleft", "shiftright",
		"altleft", "altright", "metaleft", "metaright", "altgraph":
		return true
	}
	return false
}

// KeysymFor resolves a viewer key event to a keysym.
//
// key is the normalized name ("a", "enter", "1", "minus"); with shift held a
// base key resolves to its shifted symbol. When key is unknown and rawKey is
// a single character, the character's keysym is used.
func KeysymFor(key, rawKey string, shift bool) Keysym {
	name := strings.ToLower(key)

	if shift {
		if shifted, ok := shiftedNames[name]; ok {
			return namedKeys[shifted]
		}
	}
	if sym, ok := namedKeys[name]; ok {
		return sym
	}
	if utf8.RuneCountInString(name) == 1 {
		r, _ := utf8.DecodeRuneInString(name)
		return RuneKeysym(r)
	}
	if utf8.RuneCountInString(rawKey) == 1 {
		r, _ := utf8.DecodeRuneInString(rawKey)
		return RuneKeysym(r)
	}
	return NoSymbol
}

// RuneKeysym maps a character to its keysym. Latin-1 keysyms equal the code
// point; everything else uses the 0x01000000 Unicode range.
func RuneKeysym(r rune) Keysym {
	switch {
	case r < 0x20 || r == utf8.RuneError:
		return NoSymbol
	case r <= 0x7e, r >= 0xa0 && r <= 0xff:
		return Keysym(r)
	default:
		return Keysym(0x01000000 + uint32(r))
	}
}
