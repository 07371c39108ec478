package config

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/toolpilot/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Setenv("TOOLPILOT_TEST_API_KEY", "sk-from-env")
	t.Setenv("TOOLPILOT_TEST_GH_TOKEN", "ghp-from-env")

	t.Run("yaml", func(t *testing.T) {
		cfg, err := Load("testdata/toolpilot.yaml")
		require.NoError(t, err)

		assert.Equal(t, "calc", cfg.MCP.DefaultServer)
		require.Len(t, cfg.MCP.Servers, 2)
		assert.True(t, cfg.MCP.Servers["calc"].Enabled)
		assert.Contains(t, cfg.MCP.Servers["github"].Env, "GITHUB_PERSONAL_ACCESS_TOKEN")

		assert.Equal(t, "gpt-4o", cfg.Chat.Model)
		assert.Equal(t, 8, cfg.Chat.MaxTurns)
		assert.True(t, cfg.Chat.ShowReasoning)
		assert.Equal(t, DefaultProvider, cfg.Chat.Provider)
		assert.Equal(t, DefaultRetryAttempts, cfg.Chat.RetryAttempts)
	})

	t.Run("json", func(t *testing.T) {
		cfg, err := Load("testdata/toolpilot.json")
		require.NoError(t, err)
		assert.Equal(t, "OLLAMA", cfg.Chat.Provider)
		require.NotNil(t, cfg.Chat.Temperature)
		assert.Equal(t, 0.2, *cfg.Chat.Temperature)
		assert.Equal(t, DefaultModel, cfg.Chat.Model)
		assert.Equal(t, []string{"calc.py"}, cfg.MCP.Servers["calc"].Args)
	})

	t.Run("toml", func(t *testing.T) {
		cfg, err := Load("testdata/toolpilot.toml")
		require.NoError(t, err)
		assert.Equal(t, "gpt-4.1-mini", cfg.Chat.Model)
		assert.Equal(t, "sk-from-env", cfg.Chat.APIKey)
		assert.Equal(t, 5, cfg.Chat.RetryAttempts)
		assert.Equal(t, 0.5, cfg.Chat.BackoffSeconds)
		// an explicit zero temperature is not replaced by the default
		require.NotNil(t, cfg.Chat.Temperature)
		assert.Zero(t, *cfg.Chat.Temperature)
		require.Len(t, cfg.MCP.Servers, 2)
		assert.Equal(t, "uvx", cfg.MCP.Servers["time"].Command)
		assert.False(t, cfg.MCP.Servers["time"].Enabled)

		reg, err := registry.New(&cfg.MCP)
		require.NoError(t, err)
		p := NewProvider(reg, cfg.Chat)
		enabled := p.EnabledServers()
		require.Len(t, enabled, 1)
		assert.Equal(t, "calc", enabled[0].Name)
		assert.Equal(t, 5, p.ChatSettings().RetryAttempts)
	})

	t.Run("empty", func(t *testing.T) {
		cfg, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, DefaultMaxTurns, cfg.Chat.MaxTurns)
		assert.Len(t, cfg.MCP.Servers, 2)
	})

	tcases := []struct {
		file string
		err  string
	}{
		{"testdata/missing.yaml", "unable to load testdata/missing.yaml"},
		{"testdata/missing.toml", "unable to read testdata/missing.toml"},
		{"testdata/bad_chat.yaml", "invalid chat settings"},
		{"testdata/azure_no_version.yaml", "apiVersion is required for AZURE"},
	}
	for _, tc := range tcases {
		t.Run(tc.file, func(t *testing.T) {
			_, err := Load(tc.file)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.err)
		})
	}
}

func TestChatSettings_WithDefaults(t *testing.T) {
	s := ChatSettings{}.WithDefaults()
	assert.Equal(t, ChatSettings{
		Provider:          DefaultProvider,
		Model:             DefaultModel,
		Temperature:       Float(DefaultTemperature),
		MaxTokens:         DefaultMaxTokens,
		RetryAttempts:     DefaultRetryAttempts,
		BackoffSeconds:    DefaultBackoffSeconds,
		ToolRetryAttempts: DefaultToolRetryAttempts,
		MaxTurns:          DefaultMaxTurns,
		SubAgent:          SubAgentDirect,
		SubAgentSteps:     DefaultSubAgentSteps,
	}, s)

	s = ChatSettings{Provider: "azure", MaxTurns: 2}.WithDefaults()
	assert.Equal(t, "AZURE", s.Provider)
	assert.Equal(t, 2, s.MaxTurns)

	err := s.Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, registry.ErrConfiguration))

	s.APIVersion = "2024-06-01"
	assert.NoError(t, s.Validate())
}

func TestChatSettings_ZeroValues(t *testing.T) {
	s := ChatSettings{Temperature: Float(0), BackoffSeconds: 0.25}.WithDefaults()
	require.NotNil(t, s.Temperature)
	assert.Zero(t, *s.Temperature)
	assert.Equal(t, 0.25, s.BackoffSeconds)
	assert.NoError(t, s.Validate())

	s.Temperature = Float(2.5)
	assert.Error(t, s.Validate())
}
