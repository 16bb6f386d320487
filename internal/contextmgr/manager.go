package contextmgr

import (
	"fmt"
	"os"
	"sort"
	"strings"
)

// ContextFile is one resolved (path, content) pair contributed to the
// merged context.
type ContextFile struct {
	Path    string
	Content string
}

// Manager owns the global config, the active profile's config, and the
// hook executor's cache. It is not safe for concurrent use without
// external synchronization, matching the teacher's own single-owner
// profile/config types.
type Manager struct {
	Profile       string
	GlobalConfig  Config
	ProfileConfig Config

	hooks *HookExecutor
}

// Load reads the global config and the named profile's config from disk,
// creating an empty in-memory config for either if its file doesn't exist.
func Load(profile string) (*Manager, error) {
	global, err := loadConfig(GlobalConfigPath())
	if err != nil {
		return nil, err
	}
	prof, err := loadConfig(ProfileConfigPath(profile))
	if err != nil {
		return nil, err
	}
	return &Manager{
		Profile:       profile,
		GlobalConfig:  global,
		ProfileConfig: prof,
		hooks:         NewHookExecutor(),
	}, nil
}

// SaveGlobal persists the global config.
func (m *Manager) SaveGlobal() error {
	return saveConfig(GlobalConfigPath(), m.GlobalConfig)
}

// SaveProfile persists the active profile's config.
func (m *Manager) SaveProfile() error {
	return saveConfig(ProfileConfigPath(m.Profile), m.ProfileConfig)
}

// AddPaths appends path rules to the global or profile config and
// validates that, unless force is set, every rule resolves to at least
// one file.
func (m *Manager) AddPaths(rules []string, global, force bool) error {
	for _, rule := range rules {
		if _, err := ResolveRule(rule, force); err != nil {
			return fmt.Errorf("add %q: %w", rule, err)
		}
	}
	if global {
		m.GlobalConfig.Paths = append(m.GlobalConfig.Paths, rules...)
		return m.SaveGlobal()
	}
	m.ProfileConfig.Paths = append(m.ProfileConfig.Paths, rules...)
	return m.SaveProfile()
}

// RemovePaths removes path rules (by exact rule text) from the global or
// profile config.
func (m *Manager) RemovePaths(rules []string, global bool) error {
	remove := make(map[string]struct{}, len(rules))
	for _, r := range rules {
		remove[r] = struct{}{}
	}
	filter := func(existing []string) []string {
		var kept []string
		for _, e := range existing {
			if _, drop := remove[e]; !drop {
				kept = append(kept, e)
			}
		}
		return kept
	}
	if global {
		m.GlobalConfig.Paths = filter(m.GlobalConfig.Paths)
		return m.SaveGlobal()
	}
	m.ProfileConfig.Paths = filter(m.ProfileConfig.Paths)
	return m.SaveProfile()
}

// ClearPaths empties the global or profile path rule list.
func (m *Manager) ClearPaths(global bool) error {
	if global {
		m.GlobalConfig.Paths = nil
		return m.SaveGlobal()
	}
	m.ProfileConfig.Paths = nil
	return m.SaveProfile()
}

// SwitchProfile loads a different profile's config and clears the hook
// cache, since hook outputs from the old profile's hooks must not leak
// into the new profile's cache keyspace — grounded directly on
// original_source's switch_profile calling hook_executor.profile_cache.clear().
func (m *Manager) SwitchProfile(name string) error {
	cfg, err := loadConfig(ProfileConfigPath(name))
	if err != nil {
		return err
	}
	m.Profile = name
	m.ProfileConfig = cfg
	m.hooks.ClearCache()
	return WriteActiveProfile(name)
}

// GetContextFiles resolves every path rule from both configs (global
// rules first, then profile rules), collapses duplicate file paths, sorts
// lexicographically, and reads each file's content.
func (m *Manager) GetContextFiles() ([]ContextFile, error) {
	allRules := append(append([]string{}, m.GlobalConfig.Paths...), m.ProfileConfig.Paths...)

	seen := make(map[string]struct{})
	var resolved []string
	for _, rule := range allRules {
		matches, err := ResolveRule(rule, true)
		if err != nil {
			continue
		}
		for _, match := range matches {
			if _, ok := seen[match]; ok {
				continue
			}
			seen[match] = struct{}{}
			resolved = append(resolved, match)
		}
	}
	sort.Strings(resolved)

	files := make([]ContextFile, 0, len(resolved))
	for _, path := range resolved {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		files = append(files, ContextFile{Path: path, Content: string(data)})
	}
	return files, nil
}

// ApplyBudget truncates files to fit byteBudget, dropping the largest
// entries first until the remainder fits. It returns the kept files and
// the dropped ones (for a /context show --expand-style diagnostic).
func ApplyBudget(files []ContextFile, byteBudget int) (kept, dropped []ContextFile) {
	total := 0
	for _, f := range files {
		total += len(f.Content)
	}
	if total <= byteBudget {
		return files, nil
	}

	order := make([]int, len(files))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool {
		return len(files[order[a]].Content) > len(files[order[b]].Content)
	})

	drop := make(map[int]struct{})
	for _, idx := range order {
		if total <= byteBudget {
			break
		}
		drop[idx] = struct{}{}
		total -= len(files[idx].Content)
	}

	for i, f := range files {
		if _, isDropped := drop[i]; isDropped {
			dropped = append(dropped, f)
		} else {
			kept = append(kept, f)
		}
	}
	return kept, dropped
}

// ActiveHooks returns the merged hook table: global hooks first, then
// profile hooks (profile hooks with the same name shadow global ones),
// skipping disabled entries.
func (m *Manager) ActiveHooks() map[string]HookConfig {
	merged := make(map[string]HookConfig, len(m.GlobalConfig.Hooks)+len(m.ProfileConfig.Hooks))
	for name, h := range m.GlobalConfig.Hooks {
		merged[name] = h
	}
	for name, h := range m.ProfileConfig.Hooks {
		merged[name] = h
	}
	enabled := make(map[string]HookConfig, len(merged))
	for name, h := range merged {
		if !h.Disabled {
			enabled[name] = h
		}
	}
	return enabled
}

// RunConversationStartHooks runs every enabled conversation_start hook
// concurrently and returns one HookResult per hook; the caller attaches
// their output as permanent prelude blocks.
func (m *Manager) RunConversationStartHooks() []HookResult {
	return m.hooks.Run(m.Profile, m.ActiveHooks(), TriggerConversationStart)
}

// RunPerPromptHooks runs every enabled per_prompt hook concurrently,
// returning transient output attached only to the triggering message.
func (m *Manager) RunPerPromptHooks() []HookResult {
	return m.hooks.Run(m.Profile, m.ActiveHooks(), TriggerPerPrompt)
}

// AddHook adds or replaces a hook entry in the global or profile config.
func (m *Manager) AddHook(name string, hook HookConfig, global bool) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("hook name is required")
	}
	if global {
		m.GlobalConfig.Hooks[name] = hook
		return m.SaveGlobal()
	}
	m.ProfileConfig.Hooks[name] = hook
	return m.SaveProfile()
}
