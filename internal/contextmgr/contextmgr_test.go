package contextmgr

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIsGlob(t *testing.T) {
	cases := map[string]bool{
		"foo.txt":    false,
		"*.go":       true,
		"file?.txt":  true,
		"[abc].txt":  true,
		"plain/path": false,
	}
	for rule, want := range cases {
		require.Equal(t, want, isGlob(rule), "isGlob(%q)", rule)
	}
}

func TestResolveRuleDirectoryNonRecursive(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "nested")
	require.NoError(t, os.Mkdir(sub, 0o755))
	for _, name := range []string{"a.txt", "b.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644))
	}
	require.NoError(t, os.WriteFile(filepath.Join(sub, "c.txt"), []byte("x"), 0o644))

	got, err := ResolveRule(dir, true)
	require.NoError(t, err)
	sort.Strings(got)
	require.Lenf(t, got, 2, "expected 2 regular files directly in dir, got %v", got)
}

func TestResolveRuleGlobZeroMatchesErrorsWithoutForce(t *testing.T) {
	dir := t.TempDir()
	_, err := ResolveRule(filepath.Join(dir, "*.nonexistent"), false)
	require.Error(t, err, "expected error for zero-match glob without force")

	out, err := ResolveRule(filepath.Join(dir, "*.nonexistent"), true)
	require.NoError(t, err)
	require.Empty(t, out)
}

func TestApplyBudgetDropsLargestFirst(t *testing.T) {
	files := []ContextFile{
		{Path: "small", Content: "12345"},
		{Path: "big", Content: "1234567890"},
		{Path: "medium", Content: "1234567"},
	}
	kept, dropped := ApplyBudget(files, 15)

	require.Lenf(t, dropped, 1, "expected exactly one dropped file, got %+v", dropped)
	require.Equal(t, "big", dropped[0].Path)

	total := 0
	for _, f := range kept {
		total += len(f.Content)
	}
	require.LessOrEqualf(t, total, 15, "kept files exceed budget: %d bytes", total)
}

func TestApplyBudgetNoopWhenUnderBudget(t *testing.T) {
	files := []ContextFile{{Path: "a", Content: "hi"}}
	kept, dropped := ApplyBudget(files, 1000)
	require.Len(t, kept, 1)
	require.Empty(t, dropped)
}

func TestGetContextFilesDedupesAndSorts(t *testing.T) {
	dir := t.TempDir()
	fileA := filepath.Join(dir, "a.txt")
	fileB := filepath.Join(dir, "b.txt")
	for _, p := range []string{fileA, fileB} {
		require.NoError(t, os.WriteFile(p, []byte("content-"+filepath.Base(p)), 0o644))
	}

	m := &Manager{
		Profile:       "default",
		GlobalConfig:  Config{Paths: []string{fileA}, Hooks: map[string]HookConfig{}},
		ProfileConfig: Config{Paths: []string{fileA, fileB}, Hooks: map[string]HookConfig{}},
		hooks:         NewHookExecutor(),
	}

	files, err := m.GetContextFiles()
	require.NoError(t, err)
	require.Lenf(t, files, 2, "expected deduped 2 files, got %+v", files)
	require.Equal(t, fileA, files[0].Path)
	require.Equal(t, fileB, files[1].Path)
}

func TestSwitchProfileClearsHookCache(t *testing.T) {
	m := &Manager{
		Profile: "alpha",
		hooks:   NewHookExecutor(),
	}
	m.hooks.runner = func(ctx context.Context, command string) (string, error) {
		return "ran:" + command, nil
	}

	hooks := map[string]HookConfig{
		"greet": {Trigger: TriggerConversationStart, Command: "echo hi"},
	}
	results := m.hooks.Run("alpha", hooks, TriggerConversationStart)
	require.Len(t, results, 1)
	require.Equal(t, "ran:echo hi", results[0].Output)

	callCount := 0
	m.hooks.runner = func(ctx context.Context, command string) (string, error) {
		callCount++
		return "ran-again:" + command, nil
	}
	cachedResults := m.hooks.Run("alpha", hooks, TriggerConversationStart)
	require.Zerof(t, callCount, "expected cache hit, runner invoked %d times", callCount)
	require.Equal(t, "ran:echo hi", cachedResults[0].Output)

	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)
	require.NoError(t, m.SwitchProfile("beta"))

	freshResults := m.hooks.Run("alpha", hooks, TriggerConversationStart)
	require.NotZero(t, callCount, "expected hook cache to be cleared after profile switch, but runner was not invoked")
	require.Equal(t, "ran-again:echo hi", freshResults[0].Output)
}

func TestHookRunSkipsDisabledHooks(t *testing.T) {
	m := &Manager{Profile: "default", hooks: NewHookExecutor()}
	called := false
	m.hooks.runner = func(ctx context.Context, command string) (string, error) {
		called = true
		return "", nil
	}
	hooks := map[string]HookConfig{
		"disabled_one": {Trigger: TriggerPerPrompt, Command: "echo x", Disabled: true},
	}
	m.ProfileConfig.Hooks = hooks
	m.RunPerPromptHooks()
	require.False(t, called, "disabled hook should not have run")
}

func TestAddPathsRejectsZeroMatchGlobWithoutForce(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	m := &Manager{
		GlobalConfig:  emptyConfig(),
		ProfileConfig: emptyConfig(),
		Profile:       "default",
		hooks:         NewHookExecutor(),
	}
	err := m.AddPaths([]string{filepath.Join(dir, "*.missing")}, false, false)
	require.Error(t, err, "expected AddPaths to reject a zero-match glob without --force")
}
