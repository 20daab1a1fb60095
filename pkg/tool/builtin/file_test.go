package builtin

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestReadFile(t *testing.T) {
	rf := NewReadFile(0)

	t.Run("metadata", func(t *testing.T) {
		if rf.Name() != "read_file" {
			t.Errorf("Name() = %q, want %q", rf.Name(), "read_file")
		}
		if rf.Description() == "" {
			t.Error("Description() returned empty string")
		}
	})

	t.Run("read existing file", func(t *testing.T) {
		tmpDir := t.TempDir()
		testFile := filepath.Join(tmpDir, "test.txt")
		content := "hello world\nline 2\n"
		if err := os.WriteFile(testFile, []byte(content), 0o644); err != nil {
			t.Fatalf("failed to create test file: %v", err)
		}

		res := rf.Execute(map[string]any{"path": testFile})
		if !res.Success {
			t.Fatalf("expected success, got: %s", res.Output)
		}
		if res.Output != content {
			t.Errorf("content mismatch: got %q, want %q", res.Output, content)
		}
	})

	t.Run("missing path argument", func(t *testing.T) {
		res := rf.Execute(map[string]any{})
		if res.Success {
			t.Fatal("expected failure without path")
		}
		if !strings.Contains(res.Output, "path argument is required") {
			t.Errorf("unexpected output: %s", res.Output)
		}
	})

	t.Run("missing file", func(t *testing.T) {
		res := rf.Execute(map[string]any{"path": filepath.Join(t.TempDir(), "nope.txt")})
		if res.Success {
			t.Fatal("expected failure for missing file")
		}
	})

	t.Run("directory rejected", func(t *testing.T) {
		res := rf.Execute(map[string]any{"path": t.TempDir()})
		if res.Success {
			t.Fatal("expected failure for directory")
		}
		if !strings.Contains(res.Output, "is a directory") {
			t.Errorf("unexpected output: %s", res.Output)
		}
	})

	t.Run("size limit enforced", func(t *testing.T) {
		tmpDir := t.TempDir()
		testFile := filepath.Join(tmpDir, "big.txt")
		if err := os.WriteFile(testFile, []byte("too-big"), 0o644); err != nil {
			t.Fatalf("failed to create test file: %v", err)
		}

		limited := NewReadFile(3)
		res := limited.Execute(map[string]any{"path": testFile})
		if res.Success {
			t.Fatal("expected failure for oversized file")
		}
		if !strings.Contains(res.Output, "byte limit") {
			t.Errorf("unexpected output: %s", res.Output)
		}
	})

	t.Run("offset and limit select lines", func(t *testing.T) {
		tmpDir := t.TempDir()
		testFile := filepath.Join(tmpDir, "lines.txt")
		if err := os.WriteFile(testFile, []byte("one\ntwo\nthree\nfour\n"), 0o644); err != nil {
			t.Fatalf("failed to create test file: %v", err)
		}

		// JSON numbers decode as float64
		res := rf.Execute(map[string]any{"path": testFile, "offset": float64(2), "limit": float64(2)})
		if !res.Success {
			t.Fatalf("expected success, got: %s", res.Output)
		}
		if res.Output != "two\nthree" {
			t.Errorf("output = %q, want %q", res.Output, "two\nthree")
		}
	})

	t.Run("offset past end", func(t *testing.T) {
		tmpDir := t.TempDir()
		testFile := filepath.Join(tmpDir, "short.txt")
		if err := os.WriteFile(testFile, []byte("only\n"), 0o644); err != nil {
			t.Fatalf("failed to create test file: %v", err)
		}

		res := rf.Execute(map[string]any{"path": testFile, "offset": 99})
		if res.Success {
			t.Fatal("expected failure for offset past end")
		}
	})
}

func TestWriteFile(t *testing.T) {
	wf := NewWriteFile()

	t.Run("metadata", func(t *testing.T) {
		if wf.Name() != "write_file" {
			t.Errorf("Name() = %q, want %q", wf.Name(), "write_file")
		}
		if wf.Description() == "" {
			t.Error("Description() returned empty string")
		}
	})

	t.Run("write new file creates parents", func(t *testing.T) {
		tmpDir := t.TempDir()
		testFile := filepath.Join(tmpDir, "nested", "dir", "new.txt")

		res := wf.Execute(map[string]any{"path": testFile, "content": "new file content"})
		if !res.Success {
			t.Fatalf("expected success, got: %s", res.Output)
		}
		if !strings.Contains(res.Output, "Created") {
			t.Errorf("expected Created summary, got: %s", res.Output)
		}

		data, err := os.ReadFile(testFile)
		if err != nil {
			t.Fatalf("failed to read back: %v", err)
		}
		if string(data) != "new file content" {
			t.Errorf("content = %q, want %q", data, "new file content")
		}
	})

	t.Run("overwrite reports diff", func(t *testing.T) {
		tmpDir := t.TempDir()
		testFile := filepath.Join(tmpDir, "existing.txt")
		if err := os.WriteFile(testFile, []byte("old line\nkeep\n"), 0o644); err != nil {
			t.Fatalf("failed to create test file: %v", err)
		}

		res := wf.Execute(map[string]any{"path": testFile, "content": "new line\nkeep\n"})
		if !res.Success {
			t.Fatalf("expected success, got: %s", res.Output)
		}
		if !strings.Contains(res.Output, "Updated") {
			t.Errorf("expected Updated summary, got: %s", res.Output)
		}
		if !strings.Contains(res.Output, "-old line") || !strings.Contains(res.Output, "+new line") {
			t.Errorf("expected unified diff in output, got: %s", res.Output)
		}
	})

	t.Run("missing content argument", func(t *testing.T) {
		res := wf.Execute(map[string]any{"path": filepath.Join(t.TempDir(), "x.txt")})
		if res.Success {
			t.Fatal("expected failure without content")
		}
	})

	t.Run("directory target rejected", func(t *testing.T) {
		res := wf.Execute(map[string]any{"path": t.TempDir(), "content": "x"})
		if res.Success {
			t.Fatal("expected failure for directory target")
		}
	})
}

func TestWriteFile_PreviewDiff(t *testing.T) {
	wf := NewWriteFile()
	tmpDir := t.TempDir()
	testFile := filepath.Join(tmpDir, "preview.txt")
	if err := os.WriteFile(testFile, []byte("before\n"), 0o644); err != nil {
		t.Fatalf("failed to create test file: %v", err)
	}

	diff, err := wf.PreviewDiff(map[string]any{"path": testFile, "content": "after\n"})
	if err != nil {
		t.Fatalf("PreviewDiff() error = %v", err)
	}
	if !strings.Contains(diff, "-before") || !strings.Contains(diff, "+after") {
		t.Errorf("unexpected diff:\n%s", diff)
	}

	// Preview must not touch the file
	data, err := os.ReadFile(testFile)
	if err != nil {
		t.Fatalf("failed to read back: %v", err)
	}
	if string(data) != "before\n" {
		t.Errorf("preview modified the file: %q", data)
	}
}

func TestListDir(t *testing.T) {
	ld := NewListDir()

	t.Run("metadata", func(t *testing.T) {
		if ld.Name() != "list_dir" {
			t.Errorf("Name() = %q, want %q", ld.Name(), "list_dir")
		}
	})

	t.Run("lists entries", func(t *testing.T) {
		tmpDir := t.TempDir()
		if err := os.MkdirAll(filepath.Join(tmpDir, "sub"), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(filepath.Join(tmpDir, "a.txt"), []byte("aaa"), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}

		res := ld.Execute(map[string]any{"path": tmpDir})
		if !res.Success {
			t.Fatalf("expected success, got: %s", res.Output)
		}
		if !strings.Contains(res.Output, "sub/") {
			t.Errorf("expected directory with slash, got: %s", res.Output)
		}
		if !strings.Contains(res.Output, "a.txt (3 bytes)") {
			t.Errorf("expected file with size, got: %s", res.Output)
		}
	})

	t.Run("empty directory", func(t *testing.T) {
		res := ld.Execute(map[string]any{"path": t.TempDir()})
		if !res.Success {
			t.Fatalf("expected success, got: %s", res.Output)
		}
		if !strings.Contains(res.Output, "is empty") {
			t.Errorf("unexpected output: %s", res.Output)
		}
	})

	t.Run("missing directory", func(t *testing.T) {
		res := ld.Execute(map[string]any{"path": filepath.Join(t.TempDir(), "gone")})
		if res.Success {
			t.Fatal("expected failure for missing directory")
		}
	})
}
