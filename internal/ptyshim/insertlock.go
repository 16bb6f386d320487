package ptyshim

import (
	"sync"
	"time"
)

// InsertTTL is how long an insertion lock holds before it self-expires,
// even if the expected buffer never matches. Bounds how long a stuck
// prediction can block forwarding the real edit buffer.
const InsertTTL = 16 * time.Millisecond

// InsertionLock guards edit-buffer reporting while the shim is in the
// middle of programmatically inserting text into the shell's line editor
// (e.g. autocomplete acceptance). While locked, the shim suppresses
// edit-buffer updates to the chat runtime because the buffer is in a
// transient, not-yet-settled state; the lock releases either when PTY
// output echoes back the expected inserted text, or after InsertTTL,
// whichever comes first.
//
// This replaces what upstream tracked as package-level mutable globals
// (an insertion flag, a lock timestamp, and an expected-buffer string) with
// state threaded explicitly through one Session — there is no
// package-level mutable state here.
type InsertionLock struct {
	mu       sync.Mutex
	locked   bool
	lockedAt time.Time
	expected []byte
	seen     []byte
}

// Engage locks buffer reporting and records the text the shim expects the
// shell to echo back.
func (l *InsertionLock) Engage(expected []byte, now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.locked = true
	l.lockedAt = now
	l.expected = append([]byte{}, expected...)
	l.seen = l.seen[:0]
}

// Locked reports whether the lock currently suppresses buffer reporting.
func (l *InsertionLock) Locked() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.locked
}

// Observe feeds newly read PTY output bytes to the lock so it can detect
// the expected echo. Returns true if the lock released as a result.
func (l *InsertionLock) Observe(chunk []byte, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.locked {
		return false
	}

	if now.Sub(l.lockedAt) >= InsertTTL {
		l.release()
		return true
	}

	l.seen = append(l.seen, chunk...)
	if len(l.seen) >= len(l.expected) && matchesTail(l.seen, l.expected) {
		l.release()
		return true
	}
	return false
}

// ExpireIfStale releases the lock if InsertTTL has elapsed since Engage,
// independent of any PTY output. Called from the shim's periodic tick.
func (l *InsertionLock) ExpireIfStale(now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.locked && now.Sub(l.lockedAt) >= InsertTTL {
		l.release()
		return true
	}
	return false
}

func (l *InsertionLock) release() {
	l.locked = false
	l.expected = nil
	l.seen = nil
}

// matchesTail reports whether want appears as a contiguous run within have
// (the echoed bytes may be preceded by other output, e.g. a redraw).
func matchesTail(have, want []byte) bool {
	if len(want) == 0 {
		return true
	}
	if len(have) < len(want) {
		return false
	}
	for start := 0; start <= len(have)-len(want); start++ {
		match := true
		for i := range want {
			if have[start+i] != want[i] {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}
