package builtin

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/stagehand-dev/stagehand/pkg/tool"
)

// DefaultMaxReadBytes caps how much file or page content a single tool
// call returns to the model.
const DefaultMaxReadBytes = 1 << 20

const diffPreviewLines = 80

// ReadFile reads a workspace file, optionally a line range of it.
type ReadFile struct {
	workDirAware
	maxBytes int64
}

// NewReadFile builds the read_file tool. maxBytes <= 0 selects the
// default cap.
func NewReadFile(maxBytes int64) *ReadFile {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxReadBytes
	}
	return &ReadFile{maxBytes: maxBytes}
}

func (t *ReadFile) Name() string { return "read_file" }

func (t *ReadFile) Description() string {
	return "Read a file from the workspace. Args: path (string, required), offset (first line, 1-based, optional), limit (line count, optional)."
}

func (t *ReadFile) Execute(args map[string]any) tool.Result {
	path, ok := stringArg(args, "path")
	if !ok {
		return tool.Errorf("read_file: path argument is required")
	}
	full, err := t.resolvePath(path)
	if err != nil {
		return tool.Errorf("read_file: %v", err)
	}

	info, err := os.Stat(full)
	if err != nil {
		return tool.Errorf("read_file: %v", err)
	}
	if info.IsDir() {
		return tool.Errorf("read_file: %s is a directory", path)
	}
	if info.Size() > t.maxBytes {
		return tool.Errorf("read_file: %s is %d bytes, over the %d byte limit; read it with offset and limit", path, info.Size(), t.maxBytes)
	}

	data, err := os.ReadFile(full)
	if err != nil {
		return tool.Errorf("read_file: %v", err)
	}

	offset := parseInt(args["offset"], 0)
	limit := parseInt(args["limit"], 0)
	if offset <= 0 && limit <= 0 {
		return tool.Ok(string(data))
	}

	lines := strings.Split(string(data), "\n")
	start := 0
	if offset > 0 {
		start = offset - 1
	}
	if start >= len(lines) {
		return tool.Errorf("read_file: offset %d is past the end of %s (%d lines)", offset, path, len(lines))
	}
	end := len(lines)
	if limit > 0 && start+limit < end {
		end = start + limit
	}
	return tool.Ok(strings.Join(lines[start:end], "\n"))
}

// WriteFile writes a workspace file and reports the change as a
// unified diff against the previous contents.
type WriteFile struct {
	workDirAware
}

// NewWriteFile builds the write_file tool.
func NewWriteFile() *WriteFile {
	return &WriteFile{}
}

func (t *WriteFile) Name() string { return "write_file" }

func (t *WriteFile) Description() string {
	return "Write content to a workspace file, creating parent directories as needed. Args: path (string, required), content (string, required)."
}

func (t *WriteFile) Execute(args map[string]any) tool.Result {
	path, ok := stringArg(args, "path")
	if !ok {
		return tool.Errorf("write_file: path argument is required")
	}
	content, ok := stringArg(args, "content")
	if !ok {
		return tool.Errorf("write_file: content argument is required")
	}
	full, err := t.resolvePath(path)
	if err != nil {
		return tool.Errorf("write_file: %v", err)
	}
	if info, err := os.Stat(full); err == nil && info.IsDir() {
		return tool.Errorf("write_file: %s is a directory", path)
	}

	previous := ""
	existed := false
	if data, err := os.ReadFile(full); err == nil {
		previous = string(data)
		existed = true
	}

	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return tool.Errorf("write_file: %v", err)
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		return tool.Errorf("write_file: %v", err)
	}

	verb := "Created"
	if existed {
		verb = "Updated"
	}
	summary := fmt.Sprintf("%s %s (%d bytes)", verb, path, len(content))

	diff, err := tool.UnifiedDiff(path, previous, content)
	if err == nil && diff != "" {
		added, removed := tool.DiffStats(diff)
		summary = fmt.Sprintf("%s, +%d/-%d lines\n%s", summary, added, removed, tool.TruncateDiff(diff, diffPreviewLines))
	}
	return tool.Ok(summary)
}

// PreviewDiff renders the unified diff write_file would produce for
// path without writing anything. The approval gate shows it before the
// user decides.
func (t *WriteFile) PreviewDiff(args map[string]any) (string, error) {
	path, ok := stringArg(args, "path")
	if !ok {
		return "", fmt.Errorf("path argument is required")
	}
	content, ok := stringArg(args, "content")
	if !ok {
		return "", fmt.Errorf("content argument is required")
	}
	full, err := t.resolvePath(path)
	if err != nil {
		return "", err
	}
	previous := ""
	if data, err := os.ReadFile(full); err == nil {
		previous = string(data)
	}
	return tool.UnifiedDiff(path, previous, content)
}

// ListDir lists a workspace directory one entry per line, directories
// suffixed with a slash.
type ListDir struct {
	workDirAware
}

// NewListDir builds the list_dir tool.
func NewListDir() *ListDir {
	return &ListDir{}
}

func (t *ListDir) Name() string { return "list_dir" }

func (t *ListDir) Description() string {
	return "List a workspace directory. Args: path (string, optional, defaults to the workspace root)."
}

func (t *ListDir) Execute(args map[string]any) tool.Result {
	path, _ := stringArg(args, "path")
	if path == "" {
		path = "."
	}
	full, err := t.resolvePath(path)
	if err != nil {
		return tool.Errorf("list_dir: %v", err)
	}

	entries, err := os.ReadDir(full)
	if err != nil {
		return tool.Errorf("list_dir: %v", err)
	}
	if len(entries) == 0 {
		return tool.Ok(fmt.Sprintf("%s is empty", path))
	}

	var b strings.Builder
	for _, entry := range entries {
		if entry.IsDir() {
			fmt.Fprintf(&b, "%s/\n", entry.Name())
			continue
		}
		line := entry.Name()
		if info, err := entry.Info(); err == nil {
			line = fmt.Sprintf("%s (%d bytes)", entry.Name(), info.Size())
		}
		b.WriteString(line + "\n")
	}
	return tool.Ok(strings.TrimRight(b.String(), "\n"))
}
