package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	defaultModel = "claude-sonnet-4-5"
	defaultAgent = "assistant"

	// MinTokenLength is the minimum recommended length for relay authentication tokens
	MinTokenLength = 32
)

// Default configuration values exported for documentation and validation
const (
	DefaultModel          = defaultModel
	DefaultAgent          = defaultAgent
	DefaultTimeoutSeconds = 300
	DefaultRelayBind      = "127.0.0.1:7411"
	DefaultNATSURL        = "nats://127.0.0.1:4222"
	DefaultLogLevel       = "info"
	DefaultFetchTimeout   = 30
	DefaultMaxReadBytes   = 1 << 20
)

// Config represents the complete stagehand configuration
type Config struct {
	Backend  BackendConfig  `yaml:"backend"`
	Defaults DefaultsConfig `yaml:"defaults"`
	Storage  StorageConfig  `yaml:"storage"`
	Relay    RelayConfig    `yaml:"relay"`
	Bus      BusConfig      `yaml:"bus"`
	Logging  LoggingConfig  `yaml:"logging"`
	Tracing  TracingConfig  `yaml:"tracing"`
	Tools    ToolsConfig    `yaml:"tools"`
}

// BackendConfig describes the agent backend the client talks to
type BackendConfig struct {
	BaseURL           string  `yaml:"base_url"`
	APIKey            string  `yaml:"api_key"`
	TimeoutSeconds    int     `yaml:"timeout_seconds"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	RequestBurst      int     `yaml:"request_burst"`
}

// Timeout returns the backend request timeout as a duration
func (b BackendConfig) Timeout() time.Duration {
	if b.TimeoutSeconds <= 0 {
		return DefaultTimeoutSeconds * time.Second
	}
	return time.Duration(b.TimeoutSeconds) * time.Second
}

// DefaultsConfig holds the model and agent used when a turn does not name one
type DefaultsConfig struct {
	Model string `yaml:"model"`
	Agent string `yaml:"agent"`
}

// StorageConfig controls where conversations live on disk
type StorageConfig struct {
	DataDir     string `yaml:"data_dir"`
	SearchIndex bool   `yaml:"search_index"`
}

// RelayConfig controls the local HTTP relay server
type RelayConfig struct {
	Enabled      bool   `yaml:"enabled"`
	Bind         string `yaml:"bind"`
	RequireToken bool   `yaml:"require_token"`
	Token        string `yaml:"token"`
}

// BusConfig selects the message bus backing the event stream
type BusConfig struct {
	NATS NATSConfig `yaml:"nats"`
}

// NATSConfig configures the optional NATS mirror of the in-process bus
type NATSConfig struct {
	Enabled        bool   `yaml:"enabled"`
	URL            string `yaml:"url"`
	Username       string `yaml:"username"`
	Password       string `yaml:"password"`
	Token          string `yaml:"token"`
	ConnectTimeout int    `yaml:"connect_timeout"` // seconds
}

// ConnectTimeoutDuration returns the NATS dial timeout as a duration
func (n NATSConfig) ConnectTimeoutDuration() time.Duration {
	if n.ConnectTimeout <= 0 {
		return 5 * time.Second
	}
	return time.Duration(n.ConnectTimeout) * time.Second
}

// LoggingConfig controls the JSONL run logs
type LoggingConfig struct {
	Dir          string `yaml:"dir"`
	Level        string `yaml:"level"`
	NetworkLogs  bool   `yaml:"network_logs"`
	ReasoningLog bool   `yaml:"reasoning_log"`
}

// TracingConfig toggles the OpenTelemetry stdout tracer
type TracingConfig struct {
	Enabled bool `yaml:"enabled"`
}

// ToolsConfig bounds the built-in tools
type ToolsConfig struct {
	WorkspaceRoot       string `yaml:"workspace_root"`
	FetchTimeoutSeconds int    `yaml:"fetch_timeout_seconds"`
	MaxReadBytes        int64  `yaml:"max_read_bytes"`
}

// FetchTimeout returns the page-fetch timeout as a duration
func (t ToolsConfig) FetchTimeout() time.Duration {
	if t.FetchTimeoutSeconds <= 0 {
		return DefaultFetchTimeout * time.Second
	}
	return time.Duration(t.FetchTimeoutSeconds) * time.Second
}

// DefaultConfig returns the built-in defaults. The backend URL and API key
// have no default; the client refuses to issue requests until both are set.
func DefaultConfig() *Config {
	return &Config{
		Backend: BackendConfig{
			TimeoutSeconds:    DefaultTimeoutSeconds,
			RequestsPerSecond: 1,
			RequestBurst:      10,
		},
		Defaults: DefaultsConfig{
			Model: DefaultModel,
			Agent: DefaultAgent,
		},
		Storage: StorageConfig{
			SearchIndex: true,
		},
		Relay: RelayConfig{
			Bind: DefaultRelayBind,
		},
		Bus: BusConfig{
			NATS: NATSConfig{
				URL:            DefaultNATSURL,
				ConnectTimeout: 5,
			},
		},
		Logging: LoggingConfig{
			Level:        DefaultLogLevel,
			ReasoningLog: true,
		},
		Tools: ToolsConfig{
			FetchTimeoutSeconds: DefaultFetchTimeout,
			MaxReadBytes:        DefaultMaxReadBytes,
		},
	}
}

// Load loads configuration from default locations with proper precedence
func Load() (*Config, error) {
	// Start with defaults
	cfg := DefaultConfig()

	configEnv := loadConfigEnvVars()

	// Load user config (~/.stagehand/config.yaml)
	home, err := os.UserHomeDir()
	if err != nil {
		// Fall back to HOME env var if UserHomeDir fails
		home = os.Getenv("HOME")
	}
	if home != "" {
		userConfigPath := filepath.Join(home, ".stagehand", "config.yaml")
		if err := loadAndMerge(cfg, userConfigPath); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("loading user config: %w", err)
		}
	}

	// Load project config (./.stagehand/config.yaml)
	projectConfigPath := filepath.Join(".", ".stagehand", "config.yaml")
	if err := loadAndMerge(cfg, projectConfigPath); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("loading project config: %w", err)
	}

	// Apply environment variable overrides
	applyEnvOverrides(cfg, configEnv)

	// Validate
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// LoadFromPath loads configuration from a specific file path
func LoadFromPath(path string) (*Config, error) {
	cfg := DefaultConfig()

	configEnv := loadConfigEnvVars()

	// Load from the specified path
	if err := loadAndMerge(cfg, path); err != nil {
		return nil, fmt.Errorf("loading config from %s: %w", path, err)
	}

	// Apply environment variable overrides
	applyEnvOverrides(cfg, configEnv)

	// Validate
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// ApplyEnvOverridesForTest exposes env override logic for tests without file I/O.
func ApplyEnvOverridesForTest(cfg *Config) {
	applyEnvOverrides(cfg, nil)
}

// applyEnvOverrides applies environment variable overrides
func applyEnvOverrides(cfg *Config, configEnv map[string]string) {
	if v := os.Getenv("STAGEHAND_BACKEND_URL"); v != "" {
		cfg.Backend.BaseURL = v
	}
	if v := os.Getenv("STAGEHAND_API_KEY"); v != "" {
		cfg.Backend.APIKey = v
	} else if cfg.Backend.APIKey == "" {
		if v := configEnv["STAGEHAND_API_KEY"]; v != "" {
			cfg.Backend.APIKey = v
		}
	}
	if v := os.Getenv("STAGEHAND_TIMEOUT_SECONDS"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			cfg.Backend.TimeoutSeconds = secs
		}
	}

	if v := os.Getenv("STAGEHAND_MODEL"); v != "" {
		cfg.Defaults.Model = v
	}
	if v := os.Getenv("STAGEHAND_AGENT"); v != "" {
		cfg.Defaults.Agent = v
	}

	if v := os.Getenv("STAGEHAND_DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}

	if v, ok := envBool("STAGEHAND_RELAY_ENABLED"); ok {
		cfg.Relay.Enabled = v
	}
	if v := os.Getenv("STAGEHAND_RELAY_BIND"); v != "" {
		cfg.Relay.Bind = v
		cfg.Relay.Enabled = true
	}
	if v := os.Getenv("STAGEHAND_RELAY_TOKEN"); v != "" {
		cfg.Relay.Token = v
		cfg.Relay.RequireToken = true
	}

	if v, ok := envBool("STAGEHAND_NATS_ENABLED"); ok {
		cfg.Bus.NATS.Enabled = v
	}
	if v := os.Getenv("STAGEHAND_NATS_URL"); v != "" {
		cfg.Bus.NATS.URL = v
		cfg.Bus.NATS.Enabled = true
	}

	if v := os.Getenv("STAGEHAND_LOG_DIR"); v != "" {
		cfg.Logging.Dir = v
	}
	if v := os.Getenv("STAGEHAND_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v, ok := envBool("STAGEHAND_NETWORK_LOGS"); ok {
		cfg.Logging.NetworkLogs = v
	} else if v, ok := envBool("STAGEHAND_DISABLE_NETWORK_LOGS"); ok && v {
		cfg.Logging.NetworkLogs = false
	}

	if v, ok := envBool("STAGEHAND_TRACE"); ok {
		cfg.Tracing.Enabled = v
	}

	if v := os.Getenv("STAGEHAND_WORKSPACE_ROOT"); v != "" {
		cfg.Tools.WorkspaceRoot = v
	}
}

func envBool(key string) (bool, bool) {
	val := os.Getenv(key)
	if val == "" {
		return false, false
	}
	switch strings.ToLower(val) {
	case "1", "true", "yes", "on":
		return true, true
	case "0", "false", "no", "off":
		return false, true
	default:
		return false, false
	}
}

func isLoopbackBindAddress(addr string) bool {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return false
	}

	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	host = strings.TrimSpace(host)
	if host == "" {
		return false
	}
	switch strings.ToLower(host) {
	case "localhost":
		return true
	case "0.0.0.0", "::":
		return false
	default:
		ip := net.ParseIP(host)
		if ip == nil {
			return false
		}
		return ip.IsLoopback()
	}
}

// LogLevel returns the normalized log level.
func (c *Config) LogLevel() string {
	if c == nil {
		return DefaultLogLevel
	}
	level := strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if level == "" {
		return DefaultLogLevel
	}
	return level
}

// Validate checks configuration validity
func (c *Config) Validate() error {
	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if strings.TrimSpace(c.Logging.Level) != "" && !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s (valid: debug, info, warn, error)", c.Logging.Level)
	}

	if c.Backend.BaseURL != "" {
		u, err := url.Parse(c.Backend.BaseURL)
		if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
			return fmt.Errorf("backend.base_url %q must be an http or https URL", c.Backend.BaseURL)
		}
	}
	if c.Backend.TimeoutSeconds < 0 {
		return fmt.Errorf("backend.timeout_seconds must be >= 0")
	}
	if c.Backend.RequestsPerSecond < 0 {
		return fmt.Errorf("backend.requests_per_second must be >= 0")
	}
	if c.Backend.RequestBurst < 0 {
		return fmt.Errorf("backend.request_burst must be >= 0")
	}

	if c.Relay.RequireToken && strings.TrimSpace(c.Relay.Token) == "" {
		return fmt.Errorf("relay.token is required when relay.require_token is enabled")
	}
	if c.Relay.Token != "" && len(c.Relay.Token) < MinTokenLength {
		return fmt.Errorf("relay.token must be at least %d characters", MinTokenLength)
	}
	if c.Relay.Enabled && strings.TrimSpace(c.Relay.Bind) != "" && !isLoopbackBindAddress(c.Relay.Bind) {
		if !c.Relay.RequireToken {
			return fmt.Errorf("relay.bind %q is not loopback: enable relay.require_token", c.Relay.Bind)
		}
	}

	if c.Bus.NATS.ConnectTimeout < 0 {
		return fmt.Errorf("bus.nats.connect_timeout must be >= 0")
	}

	if c.Tools.FetchTimeoutSeconds < 0 {
		return fmt.Errorf("tools.fetch_timeout_seconds must be >= 0")
	}
	if c.Tools.MaxReadBytes < 0 {
		return fmt.Errorf("tools.max_read_bytes must be >= 0")
	}

	return nil
}

// loadConfigEnvVars reads ~/.stagehand/config.env as a fallback source for
// credentials that should not live in config.yaml.
func loadConfigEnvVars() map[string]string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return nil
	}

	path := filepath.Join(home, ".stagehand", "config.env")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}

	vars := make(map[string]string)
	lines := strings.Split(string(data), "\n")
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")
		line = strings.TrimSpace(line)
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		if key == "" {
			continue
		}
		value = strings.Trim(value, "\"'")
		vars[key] = value
	}
	return vars
}
