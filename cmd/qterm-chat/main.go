// Package main is the entry point for the conversational chat runtime: it
// wires conversation history, tool validation/execution, context
// assembly, an MCP client manager, and the read-eval loop into a runnable
// terminal program.
//
// Grounded on the teacher's cmd/nexus/main.go for the cobra root-command
// and build-metadata idiom, and on internal/config's strict-decode,
// env-expanding YAML loading convention (config.go's Load), scaled down
// to this binary's configuration surface.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/qtermio/qterm/internal/contextmgr"
	"github.com/qtermio/qterm/internal/conversation"
	"github.com/qtermio/qterm/internal/mcpclient"
	"github.com/qtermio/qterm/internal/obs"
	"github.com/qtermio/qterm/internal/orchestrator"
	"github.com/qtermio/qterm/internal/toolexec"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	var (
		configPath  string
		profileName string
	)

	root := &cobra.Command{
		Use:          "qterm-chat",
		Short:        "Interactive conversational agent runtime",
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd.Context(), configPath, profileName)
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", defaultConfigPath(), "path to chat runtime config file")
	root.PersistentFlags().StringVar(&profileName, "profile", "", "context profile to start in (default: last active)")
	return root
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "chat.yaml"
	}
	return filepath.Join(home, ".qterm", "chat.yaml")
}

// Config is the chat runtime's on-disk configuration, loaded with the same
// strict-decode-plus-env-expansion convention as the teacher's
// internal/config.Load.
type Config struct {
	Anthropic AnthropicConfig  `yaml:"anthropic"`
	MCP       mcpclient.Config `yaml:"mcp"`
	Tools     ToolsConfig      `yaml:"tools"`
	LogLevel  string           `yaml:"log_level"`
}

type AnthropicConfig struct {
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url"`
}

type ToolsConfig struct {
	WorkspaceRoot string `yaml:"workspace_root"`
}

func loadConfig(path string) (*Config, error) {
	cfg := &Config{
		Anthropic: AnthropicConfig{Model: "claude-sonnet-4-5-20250929", BaseURL: "https://api.anthropic.com"},
		LogLevel:  "info",
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			applyEnvOverrides(cfg)
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))
	decoder := yaml.NewDecoder(strings.NewReader(expanded))
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		cfg.Anthropic.APIKey = key
	}
	if lvl := os.Getenv("Q_LOG_LEVEL"); lvl != "" {
		cfg.LogLevel = lvl
	}
	if cfg.Tools.WorkspaceRoot == "" {
		if wd, err := os.Getwd(); err == nil {
			cfg.Tools.WorkspaceRoot = wd
		}
	}
}

func runChat(ctx context.Context, configPath, profileOverride string) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := obs.NewLogger(obs.LogConfig{
		Level:  cfg.LogLevel,
		Format: "json",
		Output: os.Stderr,
	})

	registry := toolexec.NewRegistry()
	if err := registry.Register(toolexec.NewFileWriteTool(cfg.Tools.WorkspaceRoot)); err != nil {
		return fmt.Errorf("register file_write tool: %w", err)
	}

	mcpMgr := mcpclient.NewManager(&cfg.MCP, slog.Default())
	if err := mcpMgr.Start(ctx); err != nil {
		logger.Warn(ctx, "mcp manager start reported an error", "error", err)
	}
	defer mcpMgr.Stop()

	profileName := profileOverride
	if profileName == "" {
		if active, err := contextmgr.ReadActiveProfile(); err == nil && active != "" {
			profileName = active
		} else {
			profileName = contextmgr.DefaultProfile
		}
	}
	ctxMgr, err := contextmgr.Load(profileName)
	if err != nil {
		return fmt.Errorf("load context profile %q: %w", profileName, err)
	}

	executor := toolexec.New(registry, toolexec.DefaultConfig(), logger)
	conv := conversation.New()
	model := newAnthropicModelClient(cfg.Anthropic, logger).WithRegistry(registry)
	termIO := newTerminalIO(os.Stdin, os.Stdout)

	orch := orchestrator.New(conv, registry, executor, ctxMgr, model, termIO)

	err = orch.Run(ctx)
	if err != nil && !errors.Is(err, orchestrator.ErrQuit) {
		return err
	}
	return nil
}

// terminalIO implements orchestrator.IO over the process's stdin/stdout.
type terminalIO struct {
	in  *bufio.Reader
	out *bufio.Writer
}

func newTerminalIO(in *os.File, out *os.File) *terminalIO {
	return &terminalIO{in: bufio.NewReader(in), out: bufio.NewWriter(out)}
}

func (t *terminalIO) ReadLine(ctx context.Context) (string, error) {
	t.out.WriteString("> ")
	t.out.Flush()

	line, err := t.in.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (t *terminalIO) Write(s string) {
	t.out.WriteString(s)
	t.out.Flush()
}

func (t *terminalIO) Confirm(ctx context.Context, prompt string) (bool, error) {
	t.out.WriteString(prompt + " [y/N] ")
	t.out.Flush()

	line, err := t.in.ReadString('\n')
	if err != nil {
		return false, err
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes", nil
}
