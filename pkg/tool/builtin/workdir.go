// Package builtin provides the tools stagehand ships with: workspace
// file access, git inspection, page fetching, and spreadsheet reading.
// The tools return failed Results for bad arguments instead of Go
// errors so failures always reach the model as text.
package builtin

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// workDirAware confines a tool's filesystem access to a workspace
// root. With no root set, paths resolve against the process working
// directory and are unconfined.
type workDirAware struct {
	workDir string
}

// SetWorkDir sets the workspace root. The registry broadcasts it to
// every tool that embeds workDirAware.
func (w *workDirAware) SetWorkDir(dir string) {
	w.workDir = dir
}

// resolvePath turns a tool argument into an absolute path, rejecting
// anything that escapes the workspace root, including escapes through
// symlinks that exist inside it.
func (w *workDirAware) resolvePath(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("path is required")
	}
	if w.workDir == "" {
		return filepath.Abs(path)
	}

	root, err := filepath.Abs(w.workDir)
	if err != nil {
		return "", err
	}
	full := path
	if !filepath.IsAbs(full) {
		full = filepath.Join(root, full)
	}
	full = filepath.Clean(full)
	if !isWithinDir(full, root) {
		return "", fmt.Errorf("path %s escapes the workspace", path)
	}

	resolved, err := resolveExisting(full)
	if err != nil {
		return "", err
	}
	rootResolved, err := resolveExisting(root)
	if err != nil {
		return "", err
	}
	if !isWithinDir(resolved, rootResolved) {
		return "", fmt.Errorf("path %s escapes the workspace via a symlink", path)
	}
	return full, nil
}

// resolveExisting evaluates symlinks over the longest existing prefix
// of path so that paths about to be created still resolve.
func resolveExisting(path string) (string, error) {
	remainder := ""
	current := path
	for {
		resolved, err := filepath.EvalSymlinks(current)
		if err == nil {
			return filepath.Join(resolved, remainder), nil
		}
		if !os.IsNotExist(err) {
			return "", err
		}
		parent := filepath.Dir(current)
		if parent == current {
			return path, nil
		}
		remainder = filepath.Join(filepath.Base(current), remainder)
		current = parent
	}
}

func isWithinDir(path, dir string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	if rel == "." {
		return true
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// stringArg reads a string argument by key.
func stringArg(args map[string]any, key string) (string, bool) {
	v, ok := args[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// parseInt reads an integer argument that may arrive as a JSON number
// (float64), a Go int, or a numeric string.
func parseInt(v any, fallback int) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	case string:
		if parsed, err := strconv.Atoi(strings.TrimSpace(n)); err == nil {
			return parsed
		}
	}
	return fallback
}
