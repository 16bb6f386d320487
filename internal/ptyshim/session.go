// Package ptyshim intercepts a shell's pseudoterminal, reconstructing its
// screen state well enough to expose the shell's current edit buffer to a
// cooperating chat runtime, without rendering or otherwise altering what
// the user sees in their terminal.
package ptyshim

import (
	"log/slog"
	"os"
	"sync"

	"github.com/creack/pty"

	"github.com/qtermio/qterm/internal/keyinput"
	"github.com/qtermio/qterm/internal/term"
)

// Session owns one PTY-wrapped shell process and the state needed to
// recover its edit buffer: the emulator tracking cursor/line text, the
// insertion lock guarding programmatic inserts, and the negotiated
// keyboard encoding. All of it is threaded through this struct rather than
// held in package-level variables, so multiple sessions (or tests) never
// share state.
type Session struct {
	ptyFile *os.File
	cmd     *os.Process

	rows, cols uint16

	emulator   *term.Emulator
	insertLock *InsertionLock

	encodingMu sync.RWMutex
	encoding   keyinput.Encoding

	shellEnabled bool
	preexecing   bool

	logger *slog.Logger

	done   chan struct{}
	doneWg sync.WaitGroup
}

// New creates a Session with the given terminal dimensions.
func New(rows, cols uint16, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		rows:       rows,
		cols:       cols,
		emulator:   term.NewEmulator(int(rows), int(cols)),
		insertLock: &InsertionLock{},
		encoding:   keyinput.Legacy,
		logger:     logger,
		done:       make(chan struct{}),
	}
}

// Spawn starts the inner shell inside a fresh PTY with this session's
// current dimensions.
func (s *Session) Spawn(opts ShellCommandOptions) error {
	cmd := BuildShellCommand(opts)

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: s.rows, Cols: s.cols})
	if err != nil {
		return err
	}

	s.ptyFile = ptmx
	s.cmd = cmd.Process
	s.logger.Info("spawned shell", "shell", cmd.Path, "pid", cmd.Process.Pid)
	return nil
}

// Write sends bytes to the shell (the PTY master's input side).
func (s *Session) Write(p []byte) (int, error) {
	if s.ptyFile == nil {
		return 0, nil
	}
	return s.ptyFile.Write(p)
}

// ReadOutput reads raw shell output from the PTY master.
func (s *Session) ReadOutput(p []byte) (int, error) {
	if s.ptyFile == nil {
		return 0, os.ErrClosed
	}
	return s.ptyFile.Read(p)
}

// Resize updates both the PTY's kernel-level window size and the
// emulator's grid so reconstructed line text stays consistent with what
// the shell itself believes its terminal dimensions are.
func (s *Session) Resize(rows, cols uint16) error {
	s.rows, s.cols = rows, cols
	s.emulator.Resize(int(rows), int(cols))
	if s.ptyFile == nil {
		return nil
	}
	return pty.Setsize(s.ptyFile, &pty.Winsize{Rows: rows, Cols: cols})
}

// SetEncoding switches between legacy and CSI-u keyboard encoding for
// subsequent Write calls built via keyinput.Encode, and announces the
// switch to the shell via the corresponding escape sequence.
func (s *Session) SetEncoding(enc keyinput.Encoding) error {
	s.encodingMu.Lock()
	s.encoding = enc
	s.encodingMu.Unlock()

	if enc == keyinput.CSIu {
		_, err := s.Write(keyinput.EnableCSIu())
		return err
	}
	_, err := s.Write(keyinput.DisableCSIu())
	return err
}

// Encoding returns the currently negotiated keyboard encoding.
func (s *Session) Encoding() keyinput.Encoding {
	s.encodingMu.RLock()
	defer s.encodingMu.RUnlock()
	return s.encoding
}

// Emulator exposes the session's terminal state tracker.
func (s *Session) Emulator() *term.Emulator { return s.emulator }

// InsertLock exposes the session's insertion lock.
func (s *Session) InsertLock() *InsertionLock { return s.insertLock }

// Kill terminates the shell process and waits for any reader goroutines
// registered against s.done to exit.
func (s *Session) Kill() error {
	close(s.done)
	if s.cmd != nil {
		if err := s.cmd.Kill(); err != nil {
			s.logger.Warn("failed to kill shell process", "error", err)
		}
		s.cmd.Wait()
	}
	if s.ptyFile != nil {
		s.ptyFile.Close()
	}
	s.doneWg.Wait()
	return nil
}

// Done returns the channel closed when the session is shutting down, for
// reader goroutines to select on alongside blocking I/O.
func (s *Session) Done() <-chan struct{} { return s.done }
