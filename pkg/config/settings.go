package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/stagehand-dev/stagehand/pkg/errors"
)

// Settings holds the runtime knobs consumed by the stream client, read from
// settings.json in the data directory. The file is hand-edited and hot
// reloaded, so keys keep their historical PascalCase spelling.
type Settings struct {
	MaxCostPerQuery   float64                    `json:"MaxCostPerQuery,omitempty"`
	MaxTokens         int                        `json:"MaxTokens,omitempty"`
	EnableThinking    *bool                      `json:"EnableThinking,omitempty"`
	MaxThinkingTokens int                        `json:"MaxThinkingTokens,omitempty"`
	ReasoningEffort   string                     `json:"ReasoningEffort,omitempty"`
	ProviderRouting   map[string]ProviderRouting `json:"ProviderRouting,omitempty"`
}

// ProviderRouting steers which upstream provider serves a given model.
// The field names match the wire format the backend expects.
type ProviderRouting struct {
	Provider       string `json:"provider,omitempty"`
	SortBy         string `json:"sort_by,omitempty"`
	AllowFallbacks *bool  `json:"allow_fallbacks,omitempty"`
}

// RequestSettings is the settings object placed on a turn request. Zero
// values are omitted so the backend falls back to its own defaults.
type RequestSettings struct {
	MaxCostPerQuery   float64          `json:"max_cost_per_query,omitempty"`
	MaxTokens         int              `json:"max_tokens,omitempty"`
	EnableThinking    *bool            `json:"enable_thinking,omitempty"`
	MaxThinkingTokens int              `json:"max_thinking_tokens,omitempty"`
	ReasoningEffort   string           `json:"reasoning_effort,omitempty"`
	ProviderRouting   *ProviderRouting `json:"provider_routing,omitempty"`
}

// ForModel materializes the wire settings for one model. Absent or zero
// values are left out entirely; nil means the request carries no settings
// object at all.
func (s *Settings) ForModel(modelID string) *RequestSettings {
	if s == nil {
		return nil
	}
	out := &RequestSettings{}
	set := false
	if s.MaxCostPerQuery > 0 {
		out.MaxCostPerQuery = s.MaxCostPerQuery
		set = true
	}
	if s.MaxTokens > 0 {
		out.MaxTokens = s.MaxTokens
		set = true
	}
	if s.EnableThinking != nil {
		out.EnableThinking = s.EnableThinking
		set = true
	}
	if s.MaxThinkingTokens > 0 {
		out.MaxThinkingTokens = s.MaxThinkingTokens
		set = true
	}
	if strings.TrimSpace(s.ReasoningEffort) != "" {
		out.ReasoningEffort = s.ReasoningEffort
		set = true
	}
	if routing, ok := s.ProviderRouting[modelID]; ok {
		r := routing
		out.ProviderRouting = &r
		set = true
	}
	if !set {
		return nil
	}
	return out
}

// LoadSettings reads settings.json from path. A missing file is not an
// error; it yields empty settings.
func LoadSettings(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Settings{}, nil
		}
		return nil, errors.Wrap(err, errors.ErrCodeConfigLoad, "reading settings file").
			WithContext("path", path)
	}

	var s Settings
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeConfigParse, "parsing settings file").
			WithContext("path", path)
	}
	return &s, nil
}

// SaveSettings writes settings.json, creating the parent directory if
// needed. Output is indented for hand editing.
func SaveSettings(path string, s *Settings) error {
	if s == nil {
		s = &Settings{}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.Wrap(err, errors.ErrCodeConfigLoad, "creating settings directory").
			WithContext("path", path)
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeConfigParse, "encoding settings")
	}
	if err := os.WriteFile(path, append(data, '\n'), 0644); err != nil {
		return errors.Wrap(err, errors.ErrCodeConfigLoad, "writing settings file").
			WithContext("path", path)
	}
	return nil
}
