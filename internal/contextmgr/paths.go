package contextmgr

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// isGlob reports whether a path rule contains a glob metacharacter, per
// spec.md's "a path containing *, ?, or [ is treated as a glob" rule.
func isGlob(rule string) bool {
	return strings.ContainsAny(rule, "*?[")
}

// expandHome expands a leading ~ to the user's home directory.
func expandHome(rule string) (string, error) {
	if rule != "~" && !strings.HasPrefix(rule, "~/") {
		return rule, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	if rule == "~" {
		return home, nil
	}
	return filepath.Join(home, rule[2:]), nil
}

// ResolveRule expands one path rule into the concrete, existing regular
// file paths it denotes: a bare file path denotes itself, a directory
// denotes every regular file directly inside it (non-recursive), and a
// glob denotes every match. force controls whether a glob matching zero
// files is an error (add) or silently skipped (display).
func ResolveRule(rule string, force bool) ([]string, error) {
	expanded, err := expandHome(rule)
	if err != nil {
		return nil, err
	}
	if !filepath.IsAbs(expanded) {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("resolve working directory: %w", err)
		}
		expanded = filepath.Join(cwd, expanded)
	}

	if isGlob(expanded) {
		matches, err := filepath.Glob(expanded)
		if err != nil {
			return nil, fmt.Errorf("invalid glob %q: %w", rule, err)
		}
		if len(matches) == 0 && !force {
			return nil, fmt.Errorf("glob %q matched no files", rule)
		}
		var files []string
		for _, m := range matches {
			files = append(files, expandDirectoryOrFile(m)...)
		}
		return files, nil
	}

	return expandDirectoryOrFile(expanded), nil
}

// expandDirectoryOrFile returns path itself if it's a regular file, or
// every regular file directly inside it (non-recursive) if it's a
// directory. A path that doesn't exist or isn't a regular file/directory
// resolves to nothing.
func expandDirectoryOrFile(path string) []string {
	info, err := os.Stat(path)
	if err != nil {
		return nil
	}
	if !info.IsDir() {
		if info.Mode().IsRegular() {
			return []string{path}
		}
		return nil
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil
	}
	var files []string
	for _, entry := range entries {
		if entry.Type().IsRegular() {
			files = append(files, filepath.Join(path, entry.Name()))
		}
	}
	return files
}

// ResolveDisplay resolves every rule for display purposes: zero-match
// globs are silently skipped rather than erroring.
func ResolveDisplay(rules []string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, rule := range rules {
		matches, err := ResolveRule(rule, true)
		if err != nil {
			continue
		}
		for _, m := range matches {
			if _, ok := seen[m]; ok {
				continue
			}
			seen[m] = struct{}{}
			out = append(out, m)
		}
	}
	sort.Strings(out)
	return out
}
