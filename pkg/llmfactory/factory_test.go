package llmfactory_test

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/toolpilot/config"
	"github.com/effective-security/toolpilot/pkg/llmfactory"
	"github.com/effective-security/toolpilot/pkg/llms"
	"github.com/effective-security/toolpilot/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateLLM(t *testing.T) {
	tcs := []struct {
		name     string
		settings config.ChatSettings
		expType  llms.ProviderType
		expErr   string
	}{
		{
			name:     "openai",
			settings: config.ChatSettings{Provider: "OPENAI", Model: "gpt-4o-mini", APIKey: "sk-test"},
			expType:  llms.ProviderOpenAI,
		},
		{
			name:     "open_ai",
			settings: config.ChatSettings{Provider: "open_ai", Model: "gpt-4o-mini", BaseURL: "http://localhost:8080/v1"},
			expType:  llms.ProviderOpenAI,
		},
		{
			name:     "ollama",
			settings: config.ChatSettings{Provider: "OLLAMA", Model: "qwen3"},
			expType:  llms.ProviderOllama,
		},
		{
			name:     "azure",
			settings: config.ChatSettings{Provider: "AZURE", Model: "gpt-4o", APIKey: "key", APIVersion: "2024-10-21", BaseURL: "https://example.openai.azure.com"},
			expType:  llms.ProviderAzure,
		},
		{
			name:     "azure_no_url",
			settings: config.ChatSettings{Provider: "AZURE", Model: "gpt-4o", APIVersion: "2024-10-21"},
			expErr:   "baseUrl is required for AZURE",
		},
		{
			name:     "azure_no_version",
			settings: config.ChatSettings{Provider: "AZURE", Model: "gpt-4o", BaseURL: "https://example.openai.azure.com"},
			expErr:   "unable to create AZURE model: api version is required for Azure",
		},
		{
			name:     "unsupported",
			settings: config.ChatSettings{Provider: "bedrock"},
			expErr:   "unsupported provider type: BEDROCK",
		},
	}

	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			model, err := llmfactory.CreateLLM(&tc.settings)
			if tc.expErr != "" {
				require.Error(t, err)
				assert.Equal(t, tc.expErr, err.Error())
				assert.True(t, errors.Is(err, registry.ErrConfiguration))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expType, model.GetProviderType())
		})
	}
}

type fakeModel struct {
	llms.Model
	name string
}

func TestFactory(t *testing.T) {
	var created []string
	llmfactory.NewLLM = func(settings *config.ChatSettings) (llms.Model, error) {
		created = append(created, settings.Model)
		if settings.Model == "broken" {
			return nil, errors.New("broken model")
		}
		return &fakeModel{name: settings.Model}, nil
	}
	t.Cleanup(func() { llmfactory.NewLLM = llmfactory.CreateLLM })

	f := llmfactory.New(config.ChatSettings{Model: "gpt-4o"})

	m1, err := f.DefaultModel()
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", m1.(*fakeModel).name)

	m2, err := f.ModelByName("", "")
	require.NoError(t, err)
	assert.Same(t, m1, m2)

	m3, err := f.ModelByName("", "qwen3", "llama3")
	require.NoError(t, err)
	assert.Equal(t, "qwen3", m3.(*fakeModel).name)

	_, err = f.ModelByName("qwen3")
	require.NoError(t, err)

	_, err = f.ModelByName("broken")
	require.EqualError(t, err, "broken model")

	// cached models are created once
	assert.Equal(t, []string{"gpt-4o", "qwen3", "broken"}, created)
}
