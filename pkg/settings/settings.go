package settings

// Package settings carries the user-facing configuration of the engine,
// split by concern: transport, sampling, reasoning.

import (
	"time"

	"github.com/huandu/go-clone"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/go-go-golems/loom/pkg/thinking"
)

// ClientSettings configures the transport layer.
type ClientSettings struct {
	APIKey     string         `yaml:"api_key,omitempty"`
	BaseURL    string         `yaml:"base_url,omitempty"`
	APIVersion string         `yaml:"api_version,omitempty"`
	Timeout    *time.Duration `yaml:"timeout,omitempty"`
}

func NewClientSettings() *ClientSettings {
	defaultTimeout := 120 * time.Second
	return &ClientSettings{
		Timeout: &defaultTimeout,
	}
}

func (cs *ClientSettings) Clone() *ClientSettings {
	return clone.Clone(cs).(*ClientSettings)
}

// ChatSettings configures sampling and generation.
type ChatSettings struct {
	Model         string   `yaml:"model,omitempty"`
	MaxTokens     int      `yaml:"max_tokens,omitempty"`
	Temperature   *float64 `yaml:"temperature,omitempty"`
	TopP          *float64 `yaml:"top_p,omitempty"`
	StopSequences []string `yaml:"stop_sequences,omitempty"`
	Stream        bool     `yaml:"stream,omitempty"`
}

func NewChatSettings() *ChatSettings {
	return &ChatSettings{
		MaxTokens: 4096,
		Stream:    true,
	}
}

func (s *ChatSettings) Clone() *ChatSettings {
	return clone.Clone(s).(*ChatSettings)
}

// ThinkingSettings configures extended reasoning.
type ThinkingSettings struct {
	Enabled      bool `yaml:"enabled,omitempty"`
	BudgetTokens int  `yaml:"budget_tokens,omitempty"`
	Interleaved  bool `yaml:"interleaved,omitempty"`
}

func (ts *ThinkingSettings) Clone() *ThinkingSettings {
	return clone.Clone(ts).(*ThinkingSettings)
}

// ToConfig converts the settings to the engine's reasoning config.
func (ts *ThinkingSettings) ToConfig() thinking.Config {
	if ts == nil {
		return thinking.Config{}
	}
	return thinking.Config{
		Enabled:      ts.Enabled,
		BudgetTokens: ts.BudgetTokens,
		Interleaved:  ts.Interleaved,
	}
}

// EngineSettings bundles everything one engine instance needs.
type EngineSettings struct {
	Client   *ClientSettings   `yaml:"client,omitempty"`
	Chat     *ChatSettings     `yaml:"chat,omitempty"`
	Thinking *ThinkingSettings `yaml:"thinking,omitempty"`
}

func NewEngineSettings() *EngineSettings {
	return &EngineSettings{
		Client:   NewClientSettings(),
		Chat:     NewChatSettings(),
		Thinking: &ThinkingSettings{},
	}
}

func (es *EngineSettings) Clone() *EngineSettings {
	return clone.Clone(es).(*EngineSettings)
}

// FromYAML loads settings over the defaults.
func FromYAML(data []byte) (*EngineSettings, error) {
	ret := NewEngineSettings()
	if err := yaml.Unmarshal(data, ret); err != nil {
		return nil, errors.Wrap(err, "failed to parse settings")
	}
	return ret, nil
}

// GetMetadata returns the settings as a flat map for event metadata.
func (es *EngineSettings) GetMetadata() map[string]interface{} {
	ret := map[string]interface{}{}
	if es.Chat != nil {
		ret["model"] = es.Chat.Model
		ret["max_tokens"] = es.Chat.MaxTokens
		if es.Chat.Temperature != nil {
			ret["temperature"] = *es.Chat.Temperature
		}
		if es.Chat.TopP != nil {
			ret["top_p"] = *es.Chat.TopP
		}
		ret["stream"] = es.Chat.Stream
	}
	if es.Thinking != nil && es.Thinking.Enabled {
		ret["thinking_enabled"] = true
		ret["thinking_budget_tokens"] = es.Thinking.BudgetTokens
		ret["thinking_interleaved"] = es.Thinking.Interleaved
	}
	return ret
}
