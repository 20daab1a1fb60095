package paths

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLogsBaseDirDefaultsToRelativePath(t *testing.T) {
	t.Setenv(EnvLogDir, "")
	if got := LogsBaseDir(); got != filepath.Join(".stagehand", "logs") {
		t.Fatalf("unexpected base logs dir: %q", got)
	}
}

func TestLogsBaseDirExpandsHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv(EnvLogDir, "~/stagehand/logs")
	want := filepath.Join(home, "stagehand", "logs")
	if got := LogsBaseDir(); got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestLogsBaseDirSupportsBareHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv(EnvLogDir, "~")
	if got := LogsBaseDir(); got != home {
		t.Fatalf("expected %q, got %q", home, got)
	}
}

func TestLogsBaseDirForWorkdirAnchorsRelative(t *testing.T) {
	t.Setenv(EnvLogDir, "relative/logs")
	workdir := t.TempDir()
	want := filepath.Join(workdir, "relative", "logs")
	if got := LogsBaseDirForWorkdir(workdir); got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestLogsBaseDirForWorkdirDoesNotAnchorAbsolute(t *testing.T) {
	workdir := t.TempDir()
	abs := filepath.Join(os.TempDir(), "stagehand-logs")
	t.Setenv(EnvLogDir, abs)
	if got := LogsBaseDirForWorkdir(workdir); got != abs {
		t.Fatalf("expected %q, got %q", abs, got)
	}
}
