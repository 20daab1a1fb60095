package paths

import (
	"os"
	"path/filepath"
	"strings"
)

const (
	EnvDataDir      = "STAGEHAND_DATA_DIR"
	EnvSettingsPath = "STAGEHAND_SETTINGS"
)

// DataDir returns the root directory for persisted state. Defaults to
// ~/.stagehand, falling back to a relative .stagehand when no home
// directory is available.
func DataDir() string {
	if dir := strings.TrimSpace(os.Getenv(EnvDataDir)); dir != "" {
		return filepath.Clean(expandHomePath(dir))
	}
	home, err := os.UserHomeDir()
	if err != nil || strings.TrimSpace(home) == "" {
		return ".stagehand"
	}
	return filepath.Join(home, ".stagehand")
}

// ConversationsDir returns the directory holding saved conversation files.
func ConversationsDir() string {
	return filepath.Join(DataDir(), "conversations")
}

// SettingsPath returns the location of settings.json.
func SettingsPath() string {
	if p := strings.TrimSpace(os.Getenv(EnvSettingsPath)); p != "" {
		return filepath.Clean(expandHomePath(p))
	}
	return filepath.Join(DataDir(), "settings.json")
}

// SearchIndexPath returns the location of the conversation search database.
func SearchIndexPath() string {
	return filepath.Join(DataDir(), "index.db")
}
