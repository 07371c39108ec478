package llms

import (
	"context"
)

//go:generate mockgen -source=llms.go -destination=../../mocks/mockllms/llms_mock.gen.go -package mockllms

// ProviderType is the type of provider.
type ProviderType string

const (
	// ProviderOpenAI is an OpenAI or OpenAI-compatible endpoint.
	ProviderOpenAI ProviderType = "OPENAI"
	// ProviderAzure is an Azure OpenAI deployment.
	ProviderAzure ProviderType = "AZURE"
	// ProviderOllama is a local Ollama server exposing the OpenAI-compatible API.
	ProviderOllama ProviderType = "OLLAMA"
)

// Stop reasons reported in ContentChoice.StopReason.
const (
	StopReasonStop      = "stop"
	StopReasonToolCalls = "tool_calls"
	StopReasonLength    = "length"
)

// Model is the chat-completion collaborator.
type Model interface {
	// GetProviderType returns the type of provider.
	GetProviderType() ProviderType
	// GenerateContent asks the model to generate content from a sequence of
	// messages, optionally offering a catalog of tools.
	GenerateContent(ctx context.Context, messages []Message, options ...CallOption) (*ContentResponse, error)
}
