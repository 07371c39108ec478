package llmfactory

import (
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/toolpilot/config"
	"github.com/effective-security/toolpilot/pkg/llms"
	"github.com/effective-security/toolpilot/pkg/llms/openai"
	"github.com/effective-security/toolpilot/registry"
	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/toolpilot", "llmfactory")

// DefaultOllamaURL is used when the OLLAMA provider has no base URL.
const DefaultOllamaURL = "http://localhost:11434/v1"

// NewLLM is a wrapper for CreateLLM to allow for overriding the default implementation.
var NewLLM = CreateLLM

// Factory is the interface for creating and managing LLM models.
type Factory interface {
	// DefaultModel returns the model named in the chat settings.
	DefaultModel() (llms.Model, error)
	// ModelByName returns the model for the first non-empty name,
	// or the default model if all names are empty.
	ModelByName(preferredModels ...string) (llms.Model, error)
}

type factory struct {
	settings config.ChatSettings
	byName   map[string]llms.Model
	lock     sync.Mutex
}

// New creates a new LLM factory
func New(settings config.ChatSettings) Factory {
	return &factory{
		settings: settings.WithDefaults(),
		byName:   make(map[string]llms.Model),
	}
}

func (f *factory) DefaultModel() (llms.Model, error) {
	return f.ModelByName()
}

func (f *factory) ModelByName(preferredModels ...string) (llms.Model, error) {
	name := f.settings.Model
	for _, m := range preferredModels {
		if m != "" {
			name = m
			break
		}
	}

	f.lock.Lock()
	defer f.lock.Unlock()

	if model, ok := f.byName[name]; ok {
		return model, nil
	}

	settings := f.settings
	settings.Model = name
	model, err := NewLLM(&settings)
	if err != nil {
		return nil, err
	}
	f.byName[name] = model

	logger.KV(xlog.DEBUG,
		"status", "created",
		"provider", settings.Provider,
		"model", name,
	)
	return model, nil
}

// CreateLLM returns a model for the provider in settings.
func CreateLLM(settings *config.ChatSettings) (llms.Model, error) {
	provType := strings.ToUpper(settings.Provider)

	opts := []openai.Option{
		openai.WithModel(settings.Model),
	}
	if settings.APIKey != "" {
		opts = append(opts, openai.WithToken(settings.APIKey))
	}
	if settings.Organization != "" {
		opts = append(opts, openai.WithOrganization(settings.Organization))
	}

	switch provType {
	case "OPENAI", "OPEN_AI":
		opts = append(opts, openai.WithProvider(openai.ProviderOpenAI))
		if settings.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(settings.BaseURL))
		}
	case "AZURE":
		opts = append(opts,
			openai.WithProvider(openai.ProviderAzure),
			openai.WithAPIVersion(settings.APIVersion),
		)
		if settings.BaseURL == "" {
			return nil, errors.Mark(errors.New("baseUrl is required for AZURE"), registry.ErrConfiguration)
		}
		opts = append(opts, openai.WithBaseURL(settings.BaseURL))
	case "OLLAMA":
		baseURL := settings.BaseURL
		if baseURL == "" {
			baseURL = DefaultOllamaURL
		}
		opts = append(opts,
			openai.WithProvider(openai.ProviderOllama),
			openai.WithBaseURL(baseURL),
		)
	default:
		return nil, errors.Mark(errors.Errorf("unsupported provider type: %s", provType), registry.ErrConfiguration)
	}

	model, err := openai.New(opts...)
	if err != nil {
		return nil, errors.Mark(errors.WithMessagef(err, "unable to create %s model", provType), registry.ErrConfiguration)
	}
	return model, nil
}
