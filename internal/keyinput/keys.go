// Package keyinput encodes keystrokes for the two keyboard protocols a
// terminal emulator may have negotiated: legacy xterm byte sequences and
// the CSI-u ("Kitty-style") protocol, and frames pasted text as bracketed
// paste so the inner shell can distinguish typed input from a paste.
package keyinput

import "fmt"

// Encoding selects which keyboard protocol Encode targets.
type Encoding int

const (
	// Legacy emits the traditional xterm escape sequences (\x1b[A, \x7f, …).
	Legacy Encoding = iota
	// CSIu emits the CSI u protocol (\x1b[<keycode>;<modifiers>u), which
	// disambiguates keys legacy sequences cannot represent (e.g. Ctrl+Tab).
	CSIu
)

// Special identifies a non-printable key.
type Special int

const (
	None Special = iota
	Up
	Down
	Left
	Right
	Home
	End
	PageUp
	PageDown
	Delete
	Backspace
	Enter
	Tab
	Escape
	F1
	F2
	F3
	F4
)

// Key describes one keystroke: either a printable rune or a Special key,
// plus modifier state.
type Key struct {
	Rune    rune
	Special Special
	Ctrl    bool
	Alt     bool
	Shift   bool
}

// legacySpecial maps a Special key to its xterm escape sequence. Arrow and
// navigation keys use CSI; Enter/Tab/Escape use their C0 byte and
// Backspace sends DEL (0x7f).
var legacySpecial = map[Special]string{
	Up:        "\x1b[A",
	Down:      "\x1b[B",
	Right:     "\x1b[C",
	Left:      "\x1b[D",
	Home:      "\x1b[H",
	End:       "\x1b[F",
	PageUp:    "\x1b[5~",
	PageDown:  "\x1b[6~",
	Delete:    "\x1b[3~",
	Backspace: "\x7f",
	Enter:     "\r",
	Tab:       "\t",
	Escape:    "\x1b",
	F1:        "\x1bOP",
	F2:        "\x1bOQ",
	F3:        "\x1bOR",
	F4:        "\x1bOS",
}

// csiUKeycode maps a Special key to its CSI-u functional keycode, per the
// Kitty keyboard protocol's base layout table.
var csiUKeycode = map[Special]int{
	Enter:     13,
	Tab:       9,
	Escape:    27,
	Backspace: 127,
	Delete:    127,
}

// Encode renders key as the byte sequence to write to the PTY master,
// choosing legacy or CSI-u framing per enc.
func Encode(key Key, enc Encoding) []byte {
	if enc == CSIu {
		if b, ok := encodeCSIu(key); ok {
			return b
		}
	}
	return encodeLegacy(key)
}

func encodeLegacy(key Key) []byte {
	if key.Special != None {
		seq, ok := legacySpecial[key.Special]
		if !ok {
			return nil
		}
		if key.Alt {
			return append([]byte{0x1b}, []byte(seq)...)
		}
		return []byte(seq)
	}

	if key.Ctrl && key.Rune != 0 {
		b := ctrlByte(key.Rune)
		if key.Alt {
			return []byte{0x1b, b}
		}
		return []byte{b}
	}

	r := key.Rune
	if key.Shift && r >= 'a' && r <= 'z' {
		r = r - 'a' + 'A'
	}
	out := []byte(string(r))
	if key.Alt {
		return append([]byte{0x1b}, out...)
	}
	return out
}

// ctrlByte computes the control byte for a Ctrl+letter combination (the
// standard ASCII trick: letter & 0x1f).
func ctrlByte(r rune) byte {
	upper := r
	if upper >= 'a' && upper <= 'z' {
		upper = upper - 'a' + 'A'
	}
	return byte(upper) & 0x1f
}

// modifierCode computes the CSI-u modifier parameter: 1 + (shift=1, alt=2,
// ctrl=4) summed, per the protocol's bitmask-plus-one convention.
func modifierCode(key Key) int {
	m := 1
	if key.Shift {
		m += 1
	}
	if key.Alt {
		m += 2
	}
	if key.Ctrl {
		m += 4
	}
	return m
}

func encodeCSIu(key Key) ([]byte, bool) {
	mod := modifierCode(key)

	var code int
	switch {
	case key.Special != None:
		c, ok := csiUKeycode[key.Special]
		if !ok {
			return nil, false
		}
		code = c
	case key.Rune != 0:
		code = int(key.Rune)
	default:
		return nil, false
	}

	if mod == 1 {
		return []byte(fmt.Sprintf("\x1b[%du", code)), true
	}
	return []byte(fmt.Sprintf("\x1b[%d;%du", code, mod)), true
}

// EnableCSIu returns the escape sequence that pushes CSI-u progressive
// enhancement flags value 1, requesting disambiguated escape codes only.
func EnableCSIu() []byte { return []byte("\x1b[>1u") }

// DisableCSIu returns the escape sequence that pops the CSI-u flag stack,
// restoring legacy keyboard encoding.
func DisableCSIu() []byte { return []byte("\x1b[<u") }

const (
	pasteStart = "\x1b[200~"
	pasteEnd   = "\x1b[201~"
)

// WrapPaste frames data as a bracketed paste so the shell's readline/zle
// layer treats it as one paste rather than as typed keystrokes (avoiding
// per-character history expansion or auto-indent).
func WrapPaste(data []byte) []byte {
	out := make([]byte, 0, len(pasteStart)+len(data)+len(pasteEnd))
	out = append(out, pasteStart...)
	out = append(out, data...)
	out = append(out, pasteEnd...)
	return out
}
