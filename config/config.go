// Package config loads the tool server registry and chat settings.
package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/cockroachdb/errors"
	"github.com/effective-security/toolpilot/registry"
	"github.com/effective-security/x/configloader"
	"github.com/effective-security/x/values"
	"github.com/go-playground/validator/v10"
)

// Defaults for ChatSettings.
const (
	DefaultProvider          = "OPENAI"
	DefaultModel             = "gpt-4o-mini"
	DefaultTemperature       = 0.7
	DefaultMaxTokens         = 4096
	DefaultMaxTurns          = 5
	DefaultRetryAttempts     = 3
	DefaultBackoffSeconds    = 1.0
	DefaultToolRetryAttempts = 1
	DefaultSubAgentSteps     = 2
)

// Sub-agent kinds for ChatSettings.SubAgent.
const (
	SubAgentDirect = "direct"
	SubAgentModel  = "model"
)

// Config is the application configuration.
type Config struct {
	MCP  registry.Config `json:"mcp" yaml:"mcp" toml:"mcp"`
	Chat ChatSettings    `json:"chat" yaml:"chat" toml:"chat"`
}

// ChatSettings configures the chat model and the orchestration loop.
type ChatSettings struct {
	// Provider is OPENAI, AZURE or OLLAMA
	Provider     string `json:"provider,omitempty" yaml:"provider,omitempty" toml:"provider,omitempty" validate:"omitempty,oneof=OPENAI OPEN_AI AZURE OLLAMA"`
	Model        string `json:"model,omitempty" yaml:"model,omitempty" toml:"model,omitempty"`
	APIKey       string `json:"apiKey,omitempty" yaml:"apiKey,omitempty" toml:"apiKey,omitempty"`
	BaseURL      string `json:"baseUrl,omitempty" yaml:"baseUrl,omitempty" toml:"baseUrl,omitempty" validate:"omitempty,url"`
	APIVersion   string `json:"apiVersion,omitempty" yaml:"apiVersion,omitempty" toml:"apiVersion,omitempty"`
	Organization string `json:"organization,omitempty" yaml:"organization,omitempty" toml:"organization,omitempty"`

	// Temperature is nil when not configured; an explicit 0 is kept.
	Temperature *float64 `json:"temperature,omitempty" yaml:"temperature,omitempty" toml:"temperature,omitempty" validate:"omitempty,gte=0,lte=2"`
	MaxTokens   int      `json:"maxTokens,omitempty" yaml:"maxTokens,omitempty" toml:"maxTokens,omitempty" validate:"gte=0"`

	RetryAttempts     int     `json:"retryAttempts,omitempty" yaml:"retryAttempts,omitempty" toml:"retryAttempts,omitempty" validate:"gte=0"`
	BackoffSeconds    float64 `json:"backoffSeconds,omitempty" yaml:"backoffSeconds,omitempty" toml:"backoffSeconds,omitempty" validate:"gte=0"`
	ToolRetryAttempts int     `json:"toolRetryAttempts,omitempty" yaml:"toolRetryAttempts,omitempty" toml:"toolRetryAttempts,omitempty" validate:"gte=0"`

	ShowReasoning bool `json:"showReasoning,omitempty" yaml:"showReasoning,omitempty" toml:"showReasoning,omitempty"`
	MaxTurns      int  `json:"maxTurns,omitempty" yaml:"maxTurns,omitempty" toml:"maxTurns,omitempty" validate:"gte=0"`

	// SubAgent selects how a tool call is carried out: direct or model.
	SubAgent      string `json:"subAgent,omitempty" yaml:"subAgent,omitempty" toml:"subAgent,omitempty" validate:"omitempty,oneof=direct model"`
	SubAgentSteps int    `json:"subAgentSteps,omitempty" yaml:"subAgentSteps,omitempty" toml:"subAgentSteps,omitempty" validate:"gte=0"`
}

// WithDefaults returns a copy with zero values replaced by defaults.
func (s ChatSettings) WithDefaults() ChatSettings {
	s.Provider = strings.ToUpper(values.StringsCoalesce(s.Provider, DefaultProvider))
	s.Model = values.StringsCoalesce(s.Model, DefaultModel)
	s.SubAgent = values.StringsCoalesce(s.SubAgent, SubAgentDirect)
	if s.Temperature == nil {
		s.Temperature = Float(DefaultTemperature)
	}
	s.MaxTokens = values.NumbersCoalesce(s.MaxTokens, DefaultMaxTokens)
	s.MaxTurns = values.NumbersCoalesce(s.MaxTurns, DefaultMaxTurns)
	s.RetryAttempts = values.NumbersCoalesce(s.RetryAttempts, DefaultRetryAttempts)
	if s.BackoffSeconds == 0 {
		s.BackoffSeconds = DefaultBackoffSeconds
	}
	s.ToolRetryAttempts = values.NumbersCoalesce(s.ToolRetryAttempts, DefaultToolRetryAttempts)
	s.SubAgentSteps = values.NumbersCoalesce(s.SubAgentSteps, DefaultSubAgentSteps)
	return s
}

// Float returns a pointer to v.
func Float(v float64) *float64 {
	return &v
}

var validate = validator.New()

// Validate checks the chat settings.
func (s *ChatSettings) Validate() error {
	if err := validate.Struct(s); err != nil {
		return errors.Mark(errors.Wrap(err, "invalid chat settings"), registry.ErrConfiguration)
	}
	if strings.EqualFold(s.Provider, "AZURE") && s.APIVersion == "" {
		return errors.Mark(errors.New("invalid chat settings: apiVersion is required for AZURE"), registry.ErrConfiguration)
	}
	return nil
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		MCP:  *registry.DefaultConfig(),
		Chat: ChatSettings{}.WithDefaults(),
	}
}

// Load reads the configuration from a YAML, JSON or TOML file.
// Environment variables in the file are expanded. An empty file name
// returns Default().
func Load(file string) (*Config, error) {
	if file == "" {
		return Default(), nil
	}

	cfg := new(Config)
	switch strings.ToLower(filepath.Ext(file)) {
	case ".toml":
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, errors.Wrapf(err, "unable to read %s", file)
		}
		if _, err = toml.Decode(os.ExpandEnv(string(data)), cfg); err != nil {
			return nil, errors.Mark(errors.Wrapf(err, "unable to parse %s", file), registry.ErrConfiguration)
		}
	default:
		if err := configloader.UnmarshalAndExpand(file, cfg); err != nil {
			return nil, errors.Mark(errors.WithMessagef(err, "unable to load %s", file), registry.ErrConfiguration)
		}
	}

	cfg.Chat = cfg.Chat.WithDefaults()
	if err := cfg.Chat.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Provider exposes the configuration the runtime consults on every
// refresh and request.
type Provider interface {
	// EnabledServers returns the currently enabled tool servers.
	EnabledServers() []registry.Descriptor
	// ChatSettings returns the chat settings with defaults applied.
	ChatSettings() ChatSettings
}

type provider struct {
	reg  *registry.Registry
	chat ChatSettings
}

// NewProvider returns a Provider backed by a live registry.
func NewProvider(reg *registry.Registry, chat ChatSettings) Provider {
	return &provider{reg: reg, chat: chat.WithDefaults()}
}

func (p *provider) EnabledServers() []registry.Descriptor {
	return p.reg.ListEnabled()
}

func (p *provider) ChatSettings() ChatSettings {
	return p.chat
}
