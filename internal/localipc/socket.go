// Package localipc implements the Unix-domain-socket transport the PTY
// shim and the chat runtime use to exchange edit-buffer updates and
// control messages, independent of the remote/cloud connection either
// process may also hold.
package localipc

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"

	"github.com/qtermio/qterm/pkg/wire"
)

// Conn wraps one end of the local IPC socket with line-framed JSON
// encode/decode and a background read loop feeding a channel, the same
// shape as the MCP stdio transport's readLoop/Events split.
type Conn struct {
	nc     net.Conn
	logger *slog.Logger

	incoming chan wire.Envelope
	done     chan struct{}
	wg       sync.WaitGroup

	writeMu sync.Mutex
}

func wrap(nc net.Conn, logger *slog.Logger) *Conn {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Conn{
		nc:       nc,
		logger:   logger.With("component", "localipc"),
		incoming: make(chan wire.Envelope, 64),
		done:     make(chan struct{}),
	}
	c.wg.Add(1)
	go c.readLoop()
	return c
}

// Listen starts a Unix socket server at path, removing any stale socket
// file left behind by a prior crashed shim.
func Listen(path string, logger *slog.Logger) (net.Listener, error) {
	_ = os.Remove(path)
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", path, err)
	}
	return ln, nil
}

// Accept wraps an accepted connection as a Conn.
func Accept(nc net.Conn, logger *slog.Logger) *Conn { return wrap(nc, logger) }

// Dial connects to a shim's Unix socket as a client.
func Dial(path string, logger *slog.Logger) (*Conn, error) {
	nc, err := net.Dial("unix", path)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", path, err)
	}
	return wrap(nc, logger), nil
}

// Send writes one envelope, newline-terminated.
func (c *Conn) Send(env wire.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err = c.nc.Write(append(data, '\n'))
	return err
}

// Incoming returns the channel of envelopes read from the peer.
func (c *Conn) Incoming() <-chan wire.Envelope { return c.incoming }

// Close shuts down the connection and waits for the read loop to exit.
func (c *Conn) Close() error {
	close(c.done)
	err := c.nc.Close()
	c.wg.Wait()
	return err
}

func (c *Conn) readLoop() {
	defer c.wg.Done()
	defer close(c.incoming)

	scanner := bufio.NewScanner(c.nc)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for scanner.Scan() {
		select {
		case <-c.done:
			return
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var env wire.Envelope
		if err := json.Unmarshal(line, &env); err != nil {
			c.logger.Warn("malformed local ipc frame", "error", err)
			continue
		}

		select {
		case c.incoming <- env:
		case <-c.done:
			return
		}
	}
	if err := scanner.Err(); err != nil {
		select {
		case <-c.done:
		default:
			c.logger.Debug("local ipc read loop ended", "error", err)
		}
	}
}
