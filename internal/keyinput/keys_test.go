package keyinput

import "testing"

func TestEncodeLegacyPrintable(t *testing.T) {
	got := Encode(Key{Rune: 'a'}, Legacy)
	if string(got) != "a" {
		t.Fatalf("Encode() = %q, want %q", got, "a")
	}
}

func TestEncodeLegacyCtrlLetter(t *testing.T) {
	got := Encode(Key{Rune: 'c', Ctrl: true}, Legacy)
	if len(got) != 1 || got[0] != 0x03 {
		t.Fatalf("Encode(Ctrl+c) = %v, want [0x03]", got)
	}
}

func TestEncodeLegacyArrow(t *testing.T) {
	got := Encode(Key{Special: Up}, Legacy)
	if string(got) != "\x1b[A" {
		t.Fatalf("Encode(Up) = %q, want %q", got, "\x1b[A")
	}
}

func TestEncodeCSIuPlain(t *testing.T) {
	got := Encode(Key{Rune: 'a'}, CSIu)
	if string(got) != "\x1b[97u" {
		t.Fatalf("Encode(a, CSIu) = %q, want %q", got, "\x1b[97u")
	}
}

func TestEncodeCSIuWithModifiers(t *testing.T) {
	got := Encode(Key{Rune: 'a', Ctrl: true}, CSIu)
	if string(got) != "\x1b[97;5u" {
		t.Fatalf("Encode(Ctrl+a, CSIu) = %q, want %q", got, "\x1b[97;5u")
	}
}

func TestWrapPaste(t *testing.T) {
	got := WrapPaste([]byte("hi"))
	want := "\x1b[200~hi\x1b[201~"
	if string(got) != want {
		t.Fatalf("WrapPaste() = %q, want %q", got, want)
	}
}
