// Package llms defines the chat-completion boundary consumed by the orchestration loop:
// the Model interface, transcript messages, tool definitions and call options.
//
// Provider adapters live in subpackages; `openai` covers any OpenAI-compatible endpoint.
package llms
