// Package main is the entry point for the PTY-intercepting shim binary.
//
// qterm-shim wraps a user's interactive shell inside a pseudoterminal,
// reconstructing enough of its screen state to expose the shell's current
// edit buffer to a cooperating chat runtime over a local IPC socket,
// without ever altering what the user sees on their real terminal.
//
// Grounded on the teacher's cmd/nexus/main.go for the cobra root-command
// and build-metadata idiom (buildRootCmd separated from main for
// testability, ldflags-populated version/commit/date), scaled down to this
// binary's single responsibility — the teacher's own command tree has no
// PTY-wrapping subcommand to generalize from.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/qtermio/qterm/internal/localipc"
	"github.com/qtermio/qterm/internal/ptyshim"
)

// Build information, populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("qterm-shim exited with error", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	var execString string

	root := &cobra.Command{
		Use:   "qterm-shim [ -- <cmd> [args...] ]",
		Short: "Wrap the current shell in a PTY and expose its edit buffer",
		Long: `qterm-shim launches (or re-execs) a shell inside a pseudoterminal it
controls, reconstructing the shell's prompt/edit-buffer state from raw PTY
bytes and publishing it over a local IPC socket for a cooperating chat
runtime to consume.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := shellOptionsFromEnv()
			if execString != "" {
				opts.ExecutionString = execString
			}
			if len(args) > 0 {
				opts.Shell = args[0]
				opts.ExtraArgs = args[1:]
			}
			return runShim(cmd.Context(), opts)
		},
	}
	root.Flags().StringVar(&execString, "exec", "", "one-shot command string to run instead of an interactive shell")
	return root
}

// shellOptionsFromEnv reads the shim's documented environment-variable
// contract (Q_SHELL, Q_IS_LOGIN_SHELL, Q_EXECUTION_STRING,
// Q_SHELL_EXTRA_ARGS) and translates it into ptyshim.ShellCommandOptions.
// Q_START_TEXT is not read. These are passed explicitly rather than
// relying on ptyshim.BuildShellCommand's own QTERM_*-prefixed fallback
// env vars, which exist for a nested shim instance to discover its
// parent's choices, not for the outermost shim's own CLI contract.
func shellOptionsFromEnv() ptyshim.ShellCommandOptions {
	opts := ptyshim.ShellCommandOptions{
		Shell:           os.Getenv("Q_SHELL"),
		LoginShell:      os.Getenv("Q_IS_LOGIN_SHELL") == "1",
		ExecutionString: os.Getenv("Q_EXECUTION_STRING"),
	}
	if opts.Shell == "" {
		opts.Shell = os.Getenv("SHELL")
	}
	if raw := os.Getenv("Q_SHELL_EXTRA_ARGS"); raw != "" {
		opts.ExtraArgs = strings.Fields(raw)
	}
	return opts
}

func runShim(ctx context.Context, opts ptyshim.ShellCommandOptions) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	rows, cols := uint16(24), uint16(80)
	if w, h, err := term.GetSize(int(os.Stdout.Fd())); err == nil {
		rows, cols = uint16(h), uint16(w)
	}

	sess := ptyshim.New(rows, cols, slog.Default())
	if err := sess.Spawn(opts); err != nil {
		return fmt.Errorf("spawn shell: %w", err)
	}

	sessionID := uuid.NewString()
	os.Setenv("QTERM_SESSION_ID", sessionID)

	stdinFd := int(os.Stdin.Fd())
	var restore func()
	if term.IsTerminal(stdinFd) {
		prevState, err := term.MakeRaw(stdinFd)
		if err == nil {
			restore = func() { term.Restore(stdinFd, prevState) }
			defer restore()
		}
	}

	stdinCh := make(chan []byte)
	ptyOutCh := make(chan []byte)
	controlCh := make(chan ptyshim.ControlEvent, 1)

	go pumpReader(sess.Done(), os.Stdin, stdinCh)
	go pumpSessionOutput(sess, ptyOutCh)
	go watchResize(ctx, controlCh)

	var localConn *localipc.Conn
	localSocketPath := fmt.Sprintf("/tmp/qterm-%s.sock", sessionID)
	listener, listenErr := localipc.Listen(localSocketPath, slog.Default())
	if listenErr != nil {
		slog.Warn("failed to open local IPC socket, continuing without it", "error", listenErr)
	} else {
		defer listener.Close()
		defer os.Remove(localSocketPath)
		localConn = acceptFirstLocalConn(ctx, listener)
	}

	loopIO := ptyshim.LoopIO{
		Stdin:       stdinCh,
		PTYOutput:   ptyOutCh,
		StdoutWrite: os.Stdout.Write,
		Control:     controlCh,
	}

	runErr := ptyshim.Run(ctx, sess, loopIO, localConn, nil)
	sess.Kill()
	return runErr
}

// acceptFirstLocalConn waits briefly for a single cooperating chat runtime
// to attach to the shim's local IPC socket. ptyshim.Run takes one static
// local connection for the loop's lifetime (see loop.go), so only a client
// that attaches during this short window participates; one arriving later
// finds the socket already claimed and must wait for the next shim run.
func acceptFirstLocalConn(ctx context.Context, listener net.Listener) *localipc.Conn {
	type result struct {
		nc  net.Conn
		err error
	}
	connCh := make(chan result, 1)
	go func() {
		nc, err := listener.Accept()
		connCh <- result{nc, err}
	}()

	timer := time.NewTimer(2 * time.Second)
	defer timer.Stop()

	select {
	case r := <-connCh:
		if r.err != nil {
			return nil
		}
		return localipc.Accept(r.nc, slog.Default())
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return nil
	}
}

func pumpReader(done <-chan struct{}, r interface{ Read([]byte) (int, error) }, out chan<- []byte) {
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			select {
			case out <- chunk:
			case <-done:
				return
			}
		}
		if err != nil {
			close(out)
			return
		}
	}
}

func pumpSessionOutput(sess *ptyshim.Session, out chan<- []byte) {
	buf := make([]byte, 4096)
	for {
		n, err := sess.ReadOutput(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			select {
			case out <- chunk:
			case <-sess.Done():
				return
			}
		}
		if err != nil {
			close(out)
			return
		}
	}
}

func watchResize(ctx context.Context, out chan<- ptyshim.ControlEvent) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGWINCH)
	defer signal.Stop(sigCh)
	for {
		select {
		case <-ctx.Done():
			return
		case <-sigCh:
			w, h, err := term.GetSize(int(os.Stdout.Fd()))
			if err != nil {
				continue
			}
			select {
			case out <- ptyshim.ControlEvent{Kind: ptyshim.ControlResize, Rows: uint16(h), Cols: uint16(w)}:
			case <-ctx.Done():
				return
			}
		}
	}
}
