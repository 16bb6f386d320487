package mcpclient

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Config holds every configured MCP server.
type Config struct {
	Enabled bool            `yaml:"enabled"`
	Servers []*ServerConfig `yaml:"servers"`
}

// Manager owns the set of connected MCP clients for a chat session and
// aggregates their tools into one namespace.
type Manager struct {
	config  *Config
	logger  *slog.Logger
	clients map[string]*Client
	mu      sync.RWMutex
}

// NewManager creates a Manager for the given configuration.
func NewManager(cfg *Config, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		config:  cfg,
		logger:  logger.With("component", "mcpclient"),
		clients: make(map[string]*Client),
	}
}

// Start connects to every configured server, logging but not failing on
// individual connection errors so one bad server doesn't block the rest.
func (m *Manager) Start(ctx context.Context) error {
	if m.config == nil || !m.config.Enabled {
		m.logger.Debug("mcp disabled")
		return nil
	}
	for _, serverCfg := range m.config.Servers {
		if err := serverCfg.Validate(); err != nil {
			m.logger.Error("invalid mcp server config", "server", serverCfg.ID, "error", err)
			continue
		}
		if err := m.Connect(ctx, serverCfg.ID); err != nil {
			m.logger.Error("failed to connect to mcp server", "server", serverCfg.ID, "error", err)
		}
	}
	return nil
}

// Stop closes every connected client, killing its subprocess.
func (m *Manager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, client := range m.clients {
		if err := client.Close(); err != nil {
			m.logger.Error("failed to close mcp client", "server", id, "error", err)
		}
		delete(m.clients, id)
	}
	return nil
}

// Connect starts and connects the named server if it isn't already.
func (m *Manager) Connect(ctx context.Context, serverID string) error {
	var serverCfg *ServerConfig
	for _, cfg := range m.config.Servers {
		if cfg.ID == serverID {
			serverCfg = cfg
			break
		}
	}
	if serverCfg == nil {
		return fmt.Errorf("server %q not found in config", serverID)
	}

	m.mu.RLock()
	_, exists := m.clients[serverID]
	m.mu.RUnlock()
	if exists {
		return nil
	}

	client := New(serverCfg, m.logger)
	if err := client.Connect(ctx); err != nil {
		return err
	}

	m.mu.Lock()
	m.clients[serverID] = client
	m.mu.Unlock()

	m.logger.Info("connected to mcp server", "server", serverID, "name", client.ServerInfo().Name)
	return nil
}

// Disconnect closes and forgets the named server's client.
func (m *Manager) Disconnect(serverID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	client, ok := m.clients[serverID]
	if !ok {
		return nil
	}
	delete(m.clients, serverID)
	return client.Close()
}

// Client returns the connected client for serverID, if any.
func (m *Manager) Client(serverID string) (*Client, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.clients[serverID]
	return c, ok
}

// AllTools returns every tool exposed by every connected server, each
// paired with the server ID that owns it so callers can route tools/call.
func (m *Manager) AllTools() map[string][]*Tool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string][]*Tool, len(m.clients))
	for id, client := range m.clients {
		out[id] = client.Tools()
	}
	return out
}
