package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// loadAndMerge loads a YAML file and merges it into the config.
func loadAndMerge(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var override Config
	if err := yaml.Unmarshal(data, &override); err != nil {
		return fmt.Errorf("parsing YAML: %w", err)
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parsing YAML: %w", err)
	}

	mergeConfigs(cfg, &override, raw)
	return nil
}

// mergeConfigs merges override into base. String and numeric fields override
// when non-zero; bool fields override only when the key is present in the raw
// document, so `enabled: false` wins over a true default.
func mergeConfigs(base, override *Config, raw map[string]any) {
	if override == nil {
		return
	}

	if override.Backend.BaseURL != "" {
		base.Backend.BaseURL = override.Backend.BaseURL
	}
	if override.Backend.APIKey != "" {
		base.Backend.APIKey = override.Backend.APIKey
	}
	if override.Backend.TimeoutSeconds != 0 {
		base.Backend.TimeoutSeconds = override.Backend.TimeoutSeconds
	}
	if override.Backend.RequestsPerSecond != 0 {
		base.Backend.RequestsPerSecond = override.Backend.RequestsPerSecond
	}
	if override.Backend.RequestBurst != 0 {
		base.Backend.RequestBurst = override.Backend.RequestBurst
	}

	if override.Defaults.Model != "" {
		base.Defaults.Model = override.Defaults.Model
	}
	if override.Defaults.Agent != "" {
		base.Defaults.Agent = override.Defaults.Agent
	}

	if override.Storage.DataDir != "" {
		base.Storage.DataDir = override.Storage.DataDir
	}
	if boolFieldSet(raw, "storage", "search_index") {
		base.Storage.SearchIndex = override.Storage.SearchIndex
	}

	if boolFieldSet(raw, "relay", "enabled") {
		base.Relay.Enabled = override.Relay.Enabled
	}
	if override.Relay.Bind != "" {
		base.Relay.Bind = override.Relay.Bind
	}
	if boolFieldSet(raw, "relay", "require_token") {
		base.Relay.RequireToken = override.Relay.RequireToken
	}
	if override.Relay.Token != "" {
		base.Relay.Token = override.Relay.Token
	}

	if boolFieldSet(raw, "bus", "nats", "enabled") {
		base.Bus.NATS.Enabled = override.Bus.NATS.Enabled
	}
	if override.Bus.NATS.URL != "" {
		base.Bus.NATS.URL = override.Bus.NATS.URL
	}
	if override.Bus.NATS.Username != "" {
		base.Bus.NATS.Username = override.Bus.NATS.Username
	}
	if override.Bus.NATS.Password != "" {
		base.Bus.NATS.Password = override.Bus.NATS.Password
	}
	if override.Bus.NATS.Token != "" {
		base.Bus.NATS.Token = override.Bus.NATS.Token
	}
	if override.Bus.NATS.ConnectTimeout != 0 {
		base.Bus.NATS.ConnectTimeout = override.Bus.NATS.ConnectTimeout
	}

	if override.Logging.Dir != "" {
		base.Logging.Dir = override.Logging.Dir
	}
	if override.Logging.Level != "" {
		base.Logging.Level = override.Logging.Level
	}
	if boolFieldSet(raw, "logging", "network_logs") {
		base.Logging.NetworkLogs = override.Logging.NetworkLogs
	}
	if boolFieldSet(raw, "logging", "reasoning_log") {
		base.Logging.ReasoningLog = override.Logging.ReasoningLog
	}

	if boolFieldSet(raw, "tracing", "enabled") {
		base.Tracing.Enabled = override.Tracing.Enabled
	}

	if override.Tools.WorkspaceRoot != "" {
		base.Tools.WorkspaceRoot = override.Tools.WorkspaceRoot
	}
	if override.Tools.FetchTimeoutSeconds != 0 {
		base.Tools.FetchTimeoutSeconds = override.Tools.FetchTimeoutSeconds
	}
	if override.Tools.MaxReadBytes != 0 {
		base.Tools.MaxReadBytes = override.Tools.MaxReadBytes
	}
}

// boolFieldSet reports whether the given key path appears in the raw YAML
// document. Needed because a false bool is indistinguishable from an unset
// one after unmarshaling into the typed struct.
func boolFieldSet(raw map[string]any, path ...string) bool {
	if len(path) == 0 || raw == nil {
		return false
	}
	current := any(raw)
	for _, key := range path {
		m, ok := current.(map[string]any)
		if !ok {
			return false
		}
		val, ok := m[key]
		if !ok {
			return false
		}
		current = val
	}
	return true
}
