package config

import "testing"

func TestMergeConfigsPreservesBooleanDefaults(t *testing.T) {
	base := DefaultConfig()
	override := &Config{
		Defaults: DefaultsConfig{
			Model: "custom-model",
		},
	}
	raw := map[string]any{
		"defaults": map[string]any{
			"model": "custom-model",
		},
	}

	mergeConfigs(base, override, raw)

	if !base.Storage.SearchIndex {
		t.Fatalf("search index flag should remain true when not overridden")
	}
	if !base.Logging.ReasoningLog {
		t.Fatalf("reasoning log flag should remain true when not overridden")
	}
	if base.Defaults.Model != "custom-model" {
		t.Fatalf("expected default model to be overridden")
	}
}

func TestMergeConfigsRespectsBooleanOverrides(t *testing.T) {
	base := DefaultConfig()
	override := &Config{}
	override.Storage.SearchIndex = false
	raw := map[string]any{
		"storage": map[string]any{
			"search_index": false,
		},
	}

	mergeConfigs(base, override, raw)

	if base.Storage.SearchIndex {
		t.Fatalf("expected search index flag to update when override is explicit")
	}
}

func TestMergeConfigsRespectsRelayOverrides(t *testing.T) {
	base := DefaultConfig()
	if base.Relay.Enabled {
		t.Fatalf("expected relay to be disabled by default")
	}

	override := &Config{}
	override.Relay.Enabled = true
	override.Relay.Bind = "127.0.0.1:9000"
	raw := map[string]any{
		"relay": map[string]any{
			"enabled": true,
			"bind":    "127.0.0.1:9000",
		},
	}

	mergeConfigs(base, override, raw)

	if !base.Relay.Enabled {
		t.Fatalf("expected relay.enabled to update when override is explicit")
	}
	if base.Relay.Bind != "127.0.0.1:9000" {
		t.Fatalf("expected relay.bind to be overridden")
	}
}

func TestMergeConfigsRespectsNATSOverrides(t *testing.T) {
	base := DefaultConfig()

	override := &Config{}
	override.Bus.NATS.Enabled = true
	override.Bus.NATS.URL = "nats://example.com:4222"
	override.Bus.NATS.ConnectTimeout = 9
	raw := map[string]any{
		"bus": map[string]any{
			"nats": map[string]any{
				"enabled":         true,
				"url":             "nats://example.com:4222",
				"connect_timeout": 9,
			},
		},
	}

	mergeConfigs(base, override, raw)

	if !base.Bus.NATS.Enabled {
		t.Fatalf("expected bus.nats.enabled to update when override is explicit")
	}
	if base.Bus.NATS.URL != "nats://example.com:4222" {
		t.Fatalf("expected bus.nats.url to be overridden")
	}
	if base.Bus.NATS.ConnectTimeout != 9 {
		t.Fatalf("expected bus.nats.connect_timeout to be overridden")
	}
}

func TestBoolFieldSet(t *testing.T) {
	raw := map[string]any{
		"relay": map[string]any{
			"enabled": false,
		},
	}

	if !boolFieldSet(raw, "relay", "enabled") {
		t.Fatalf("expected relay.enabled to be detected as set")
	}
	if boolFieldSet(raw, "relay", "require_token") {
		t.Fatalf("expected relay.require_token to be detected as unset")
	}
	if boolFieldSet(raw, "storage", "search_index") {
		t.Fatalf("expected missing section to be detected as unset")
	}
	if boolFieldSet(nil, "relay", "enabled") {
		t.Fatalf("expected nil raw map to be detected as unset")
	}
}
