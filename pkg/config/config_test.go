package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stagehand-dev/stagehand/pkg/config"
)

func TestDefaultConfig(t *testing.T) {
	cfg := config.DefaultConfig()

	if cfg.Defaults.Model == "" || cfg.Defaults.Agent == "" {
		t.Fatalf("default model and agent should be populated: %+v", cfg.Defaults)
	}
	if cfg.Backend.BaseURL != "" || cfg.Backend.APIKey != "" {
		t.Fatalf("backend URL and key must not have defaults: %+v", cfg.Backend)
	}
	if cfg.Backend.TimeoutSeconds <= 0 {
		t.Fatalf("unexpected backend timeout: %d", cfg.Backend.TimeoutSeconds)
	}
	if cfg.Relay.Bind != config.DefaultRelayBind {
		t.Fatalf("unexpected relay bind: %s", cfg.Relay.Bind)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestLoadHierarchy(t *testing.T) {
	home := t.TempDir()
	project := t.TempDir()

	t.Setenv("HOME", home)

	userCfgDir := filepath.Join(home, ".stagehand")
	if err := os.MkdirAll(userCfgDir, 0o755); err != nil {
		t.Fatalf("mkdir user config: %v", err)
	}
	userCfg := `
backend:
  base_url: https://user.example.com
  api_key: user-key
defaults:
  model: user/model
`
	if err := os.WriteFile(filepath.Join(userCfgDir, "config.yaml"), []byte(userCfg), 0o644); err != nil {
		t.Fatalf("write user config: %v", err)
	}

	projectCfgDir := filepath.Join(project, ".stagehand")
	if err := os.MkdirAll(projectCfgDir, 0o755); err != nil {
		t.Fatalf("mkdir project config: %v", err)
	}
	projectCfg := `
defaults:
  model: project/model
logging:
  reasoning_log: false
`
	if err := os.WriteFile(filepath.Join(projectCfgDir, "config.yaml"), []byte(projectCfg), 0o644); err != nil {
		t.Fatalf("write project config: %v", err)
	}

	oldWD, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	t.Cleanup(func() {
		_ = os.Chdir(oldWD)
	})
	if err := os.Chdir(project); err != nil {
		t.Fatalf("chdir project: %v", err)
	}

	t.Setenv("STAGEHAND_AGENT", "env-agent")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("config.Load returned error: %v", err)
	}

	if cfg.Backend.BaseURL != "https://user.example.com" {
		t.Fatalf("expected user backend URL, got %s", cfg.Backend.BaseURL)
	}
	if cfg.Defaults.Model != "project/model" {
		t.Fatalf("expected project model override, got %s", cfg.Defaults.Model)
	}
	if cfg.Defaults.Agent != "env-agent" {
		t.Fatalf("expected env agent override, got %s", cfg.Defaults.Agent)
	}
	if cfg.Logging.ReasoningLog {
		t.Fatalf("expected project config to disable reasoning log")
	}
}

func TestInvalidLogLevelFailsValidation(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	oldWD, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	t.Cleanup(func() {
		_ = os.Chdir(oldWD)
	})
	project := t.TempDir()
	if err := os.Chdir(project); err != nil {
		t.Fatalf("chdir project: %v", err)
	}

	t.Setenv("STAGEHAND_LOG_LEVEL", "chatty")

	if _, err := config.Load(); err == nil {
		t.Fatalf("expected config.Load to fail for invalid log level")
	}
}

func TestValidateBackendURL(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Backend.BaseURL = "not a url"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected validation to fail for malformed backend URL")
	}

	cfg = config.DefaultConfig()
	cfg.Backend.BaseURL = "ftp://example.com"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected validation to fail for non-http scheme")
	}

	cfg = config.DefaultConfig()
	cfg.Backend.BaseURL = "http://localhost:8000"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected http URL to validate, got %v", err)
	}
}

func TestRelayRemoteBindRequiresToken(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Relay.Enabled = true
	cfg.Relay.Bind = "0.0.0.0:7411"
	cfg.Relay.RequireToken = false
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected validation error for remote relay without token")
	}

	cfg.Relay.RequireToken = true
	cfg.Relay.Token = strings.Repeat("a", config.MinTokenLength)
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected remote relay with require_token to validate, got %v", err)
	}

	cfg = config.DefaultConfig()
	cfg.Relay.Enabled = true
	cfg.Relay.RequireToken = true
	cfg.Relay.Token = "short"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected validation error for short relay token")
	}

	cfg = config.DefaultConfig()
	cfg.Relay.Enabled = true
	cfg.Relay.Bind = "127.0.0.1:7411"
	cfg.Relay.RequireToken = false
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected loopback relay without token to validate, got %v", err)
	}
}

func TestEnvOverrideRelayEnabled(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Relay.Enabled = true

	t.Setenv("STAGEHAND_RELAY_ENABLED", "0")
	config.ApplyEnvOverridesForTest(cfg)
	if cfg.Relay.Enabled {
		t.Fatalf("expected STAGEHAND_RELAY_ENABLED=0 to disable the relay")
	}

	t.Setenv("STAGEHAND_RELAY_ENABLED", "1")
	config.ApplyEnvOverridesForTest(cfg)
	if !cfg.Relay.Enabled {
		t.Fatalf("expected STAGEHAND_RELAY_ENABLED=1 to enable the relay")
	}
}

func TestEnvOverrideBackend(t *testing.T) {
	t.Setenv("STAGEHAND_BACKEND_URL", "http://env.example.com")
	t.Setenv("STAGEHAND_API_KEY", "env-key")
	t.Setenv("STAGEHAND_TIMEOUT_SECONDS", "42")

	cfg := config.DefaultConfig()
	config.ApplyEnvOverridesForTest(cfg)

	if cfg.Backend.BaseURL != "http://env.example.com" {
		t.Fatalf("backend URL env not applied: %+v", cfg.Backend)
	}
	if cfg.Backend.APIKey != "env-key" {
		t.Fatalf("api key env not applied: %+v", cfg.Backend)
	}
	if cfg.Backend.TimeoutSeconds != 42 {
		t.Fatalf("timeout env not applied: %+v", cfg.Backend)
	}
}

func TestLoadReadsConfigEnvForAPIKey(t *testing.T) {
	home := t.TempDir()
	project := t.TempDir()

	t.Setenv("HOME", home)
	t.Setenv("STAGEHAND_API_KEY", "")

	configDir := filepath.Join(home, ".stagehand")
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		t.Fatalf("mkdir config dir: %v", err)
	}
	configEnv := "export STAGEHAND_API_KEY=\"env-file-key\"\n"
	if err := os.WriteFile(filepath.Join(configDir, "config.env"), []byte(configEnv), 0o600); err != nil {
		t.Fatalf("write config.env: %v", err)
	}

	oldWD, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	t.Cleanup(func() {
		_ = os.Chdir(oldWD)
	})
	if err := os.Chdir(project); err != nil {
		t.Fatalf("chdir project: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("config.Load returned error: %v", err)
	}

	if cfg.Backend.APIKey != "env-file-key" {
		t.Fatalf("expected api key from config.env, got %q", cfg.Backend.APIKey)
	}
}

func TestResolveWorkspaceRoot(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	cfg := config.DefaultConfig()
	cfg.Tools.WorkspaceRoot = "~/projects/demo"
	root := config.ResolveWorkspaceRoot(cfg)
	if root != filepath.Join(home, "projects", "demo") {
		t.Fatalf("expected ~ expansion in workspace root, got %s", root)
	}

	cfg.Tools.WorkspaceRoot = ""
	cwd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if got := config.ResolveWorkspaceRoot(cfg); got != cwd {
		t.Fatalf("expected cwd fallback, got %s", got)
	}
}
