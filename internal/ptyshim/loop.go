package ptyshim

import (
	"context"
	"time"

	"github.com/qtermio/qterm/internal/keyinput"
	"github.com/qtermio/qterm/internal/localipc"
	"github.com/qtermio/qterm/internal/term"
	"github.com/qtermio/qterm/pkg/wire"
)

// ControlEventKind identifies an out-of-band control event fed into the
// main loop (distinct from shell stdin/stdout traffic).
type ControlEventKind int

const (
	ControlResize ControlEventKind = iota
	ControlShutdown
)

// ControlEvent carries a control-plane signal such as a terminal resize.
type ControlEvent struct {
	Kind ControlEventKind
	Rows uint16
	Cols uint16
}

// LoopIO bundles the raw stdin/stdout byte channels the main loop reads
// from and writes to. A caller feeds these from its own stdin-reading and
// PTY-reading goroutines; Run never opens file descriptors itself, which
// keeps it testable without a real terminal attached.
type LoopIO struct {
	Stdin       <-chan []byte // bytes typed by the user, to forward to the shell
	PTYOutput   <-chan []byte // bytes read from the shell, to forward to stdout
	StdoutWrite func([]byte) (int, error)
	Control     <-chan ControlEvent
}

// Run drives the session's main loop: a six-way select over control
// events, user stdin, shell (PTY) output, remote IPC, local IPC, and a
// 16ms tick used to expire a stale insertion lock. Shell-state events from
// the emulator are handled as soon as Feed returns them; none are delayed
// to a later tick. It returns when ctx is canceled, the session's
// Done channel closes, or the PTY output channel closes (the shell
// exited).
func Run(ctx context.Context, sess *Session, io LoopIO, localConn, remoteConn *localipc.Conn) error {
	ticker := time.NewTicker(InsertTTL)
	defer ticker.Stop()

	var lastBuffer wire.EditBuffer

	var localCh, remoteCh <-chan wire.Envelope
	if localConn != nil {
		localCh = localConn.Incoming()
	}
	if remoteConn != nil {
		remoteCh = remoteConn.Incoming()
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-sess.Done():
			return nil

		case ev, ok := <-io.Control:
			if !ok {
				io.Control = nil
				continue
			}
			switch ev.Kind {
			case ControlResize:
				sess.Resize(ev.Rows, ev.Cols)
			case ControlShutdown:
				return nil
			}

		case b, ok := <-io.Stdin:
			if !ok {
				io.Stdin = nil
				continue
			}
			sess.Write(b)

		case b, ok := <-io.PTYOutput:
			if !ok {
				return nil
			}
			now := time.Now()
			sess.insertLock.Observe(b, now)
			events := sess.emulator.Feed(b)
			handleShellEvents(sess, events)
			if io.StdoutWrite != nil {
				io.StdoutWrite(b)
			}
			maybeSendEditBuffer(sess, localConn, remoteConn, &lastBuffer, now)

		case env, ok := <-remoteCh:
			if !ok {
				remoteCh = nil
				continue
			}
			handleEnvelope(sess, env)

		case env, ok := <-localCh:
			if !ok {
				localCh = nil
				continue
			}
			handleEnvelope(sess, env)

		case now := <-ticker.C:
			if sess.insertLock.ExpireIfStale(now) {
				maybeSendEditBuffer(sess, localConn, remoteConn, &lastBuffer, now)
			}
		}
	}
}

func handleShellEvents(sess *Session, events []term.ShellEvent) {
	for _, ev := range events {
		switch ev.Kind {
		case term.MarkerPromptStart:
			sess.shellEnabled = true
			sess.preexecing = false
		case term.MarkerPromptEnd:
			sess.preexecing = false
		case term.MarkerPreexecStart:
			sess.preexecing = true
		case term.MarkerPreexecEnd:
			sess.preexecing = false
		}
	}
}

// canSendEditBuffer mirrors the upstream shim's gate on edit-buffer
// reporting: only once shell integration has announced itself, never
// while a command is executing, and never while an insertion is pending
// confirmation.
func canSendEditBuffer(sess *Session) bool {
	if !sess.shellEnabled {
		return false
	}
	if sess.preexecing {
		return false
	}
	if sess.insertLock.Locked() {
		return false
	}
	return true
}

func maybeSendEditBuffer(sess *Session, localConn, remoteConn *localipc.Conn, last *wire.EditBuffer, now time.Time) {
	if !canSendEditBuffer(sess) {
		return
	}

	buf := wire.EditBuffer{
		Text:   sess.emulator.CurrentLine(),
		Cursor: sess.emulator.CursorColumn(),
		Context: wire.ShellContext{
			InPrompt:   sess.shellEnabled,
			Preexecing: sess.preexecing,
		},
	}
	if buf == *last {
		return
	}
	*last = buf

	env, err := wire.NewEnvelope(wire.MsgEditBufferUpdate, buf)
	if err != nil {
		sess.logger.Warn("failed to encode edit buffer", "error", err)
		return
	}
	if localConn != nil {
		if err := localConn.Send(env); err != nil {
			sess.logger.Debug("local ipc send failed", "error", err)
		}
	}
	if remoteConn != nil {
		if err := remoteConn.Send(env); err != nil {
			sess.logger.Debug("remote ipc send failed", "error", err)
		}
	}
}

func handleEnvelope(sess *Session, env wire.Envelope) {
	switch env.Type {
	case wire.MsgInsertText:
		var payload wire.InsertTextPayload
		if err := decodePayload(env, &payload); err != nil {
			return
		}
		sess.insertLock.Engage([]byte(payload.Text), time.Now())
		sess.Write(keyinput.WrapPaste([]byte(payload.Text)))
	case wire.MsgSetKeyboardMode:
		var payload wire.SetKeyboardModePayload
		if err := decodePayload(env, &payload); err != nil {
			return
		}
		if payload.Mode == wire.KeyboardCSIu {
			sess.SetEncoding(keyinput.CSIu)
		} else {
			sess.SetEncoding(keyinput.Legacy)
		}
	case wire.MsgPing:
		// Liveness only; no action needed beyond having drained the frame.
	}
}
