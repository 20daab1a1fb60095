package config

import (
	"os"
	"path/filepath"
	"strings"
)

// ResolveWorkspaceRoot returns the absolute directory the built-in tools
// operate in. Preference order:
//  1. Explicit root configured via tools.workspace_root
//  2. Current working directory if no override is provided
func ResolveWorkspaceRoot(cfg *Config) string {
	if cfg != nil {
		root := strings.TrimSpace(cfg.Tools.WorkspaceRoot)
		root = expandHomeDir(root)
		if root != "" {
			if abs, err := filepath.Abs(root); err == nil {
				return abs
			}
			return root
		}
	}
	if cwd, err := os.Getwd(); err == nil {
		return cwd
	}
	return "."
}

func expandHomeDir(path string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return ""
	}
	if path == "~" {
		if home, err := os.UserHomeDir(); err == nil && strings.TrimSpace(home) != "" {
			return home
		}
		return path
	}
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil && strings.TrimSpace(home) != "" {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
