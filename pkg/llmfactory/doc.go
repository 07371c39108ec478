// Package llmfactory creates chat models from config.ChatSettings, supporting
// OpenAI, Azure and Ollama through the OpenAI-compatible adapter.
package llmfactory
