package paths

import (
	"os"
	"path/filepath"
	"strings"
)

const EnvLogDir = "STAGEHAND_LOG_DIR"

func LogsBaseDir() string {
	if dir := strings.TrimSpace(os.Getenv(EnvLogDir)); dir != "" {
		return filepath.Clean(expandHomePath(dir))
	}
	return filepath.Join(".stagehand", "logs")
}

func expandHomePath(path string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return ""
	}
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil || strings.TrimSpace(home) == "" {
			return path
		}
		if path == "~" {
			return home
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~/"))
	}
	return path
}

func LogsBaseDirForWorkdir(workdir string) string {
	base := LogsBaseDir()
	if filepath.IsAbs(base) || strings.TrimSpace(workdir) == "" {
		return base
	}
	return filepath.Join(workdir, base)
}

func LogsDir(identifier string) string {
	base := LogsBaseDir()
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return base
	}
	return filepath.Join(base, identifier)
}
