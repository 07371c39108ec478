// Package llmutils has helpers to clean up model output and to account for
// the size of model traffic.
package llmutils

import (
	"bytes"
	"encoding/json"
	"strings"
	"unicode/utf8"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/toolpilot/pkg/llms"
	"github.com/effective-security/x/values"
	"github.com/kaptinlin/jsonrepair"
	"gopkg.in/yaml.v3"
)

const (
	thinkOpen  = "<think>"
	thinkClose = "</think>"

	// TruncatedSuffix is appended by Truncate.
	TruncatedSuffix = "... (truncated)"
)

// SplitReasoning separates a leading <think>...</think> block from the answer.
// Text without a complete leading block is returned as the answer.
func SplitReasoning(text string) (answer, reasoning string) {
	trimmed := strings.TrimLeft(text, " \t\r\n")
	if !strings.HasPrefix(trimmed, thinkOpen) {
		return text, ""
	}
	inner, rest, ok := strings.Cut(trimmed[len(thinkOpen):], thinkClose)
	if !ok {
		return text, ""
	}
	return strings.TrimSpace(rest), strings.TrimSpace(inner)
}

// Truncate shortens s to at most max bytes, cut on a rune boundary, and
// appends TruncatedSuffix.
func Truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max] + TruncatedSuffix
}

// ParseArguments decodes tool call arguments, repairing malformed JSON.
func ParseArguments(raw string) (map[string]any, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return map[string]any{}, nil
	}

	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		repaired, rerr := jsonrepair.JSONRepair(string(CleanJSON([]byte(raw))))
		if rerr != nil {
			return nil, errors.Wrap(rerr, "unable to repair JSON")
		}
		args = nil
		if err := json.Unmarshal([]byte(repaired), &args); err != nil {
			return nil, errors.Wrap(err, "arguments must be a JSON object")
		}
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}

// CleanJSON returns JSON by trimming prefixes and postfixes,
// models can reply like `Here you go: {json}`
func CleanJSON(bs []byte) []byte {
	return trimPostfixAfterJSON(trimPrefixBeforeJSON(bs))
}

// Removes any prefixes before the JSON (like "Sure, here you go:")
func trimPrefixBeforeJSON(bs []byte) []byte {
	startObject := bytes.IndexByte(bs, '{')
	startArray := bytes.IndexByte(bs, '[')

	var start int
	switch {
	case startObject == -1 && startArray == -1:
		return bs
	case startObject == -1:
		start = startArray
	case startArray == -1:
		start = startObject
	default:
		start = min(startObject, startArray)
	}
	return bs[start:]
}

// Removes any postfixes after the JSON
func trimPostfixAfterJSON(bs []byte) []byte {
	endObject := bytes.LastIndexByte(bs, '}')
	endArray := bytes.LastIndexByte(bs, ']')

	var end int
	switch {
	case endObject == -1 && endArray == -1:
		return bs
	case endObject == -1:
		end = endArray
	case endArray == -1:
		end = endObject
	default:
		end = max(endObject, endArray)
	}
	return bs[:end+1]
}

// ToJSONIndent returns the indented JSON of val.
func ToJSONIndent(val any) string {
	js, _ := json.MarshalIndent(val, "", "\t")
	return string(js)
}

// ToYAML returns the YAML of val.
func ToYAML(val any) string {
	js, _ := yaml.Marshal(val)
	return string(js)
}

// CountMessagesContentSize counts the size of the content in the messages
func CountMessagesContentSize(msgs []llms.Message) uint64 {
	var size uint64
	for _, mc := range msgs {
		size += uint64(len(mc.Role))
		for _, p := range mc.Parts {
			switch pp := p.(type) {
			case llms.TextContent:
				size += uint64(len(pp.Text))
			case llms.ToolCall:
				size += uint64(len(pp.ID))
				size += uint64(len(pp.Type))
				if pp.FunctionCall != nil {
					size += uint64(len(pp.FunctionCall.Name))
					size += uint64(len(pp.FunctionCall.Arguments))
				}
			case llms.ToolCallResponse:
				size += uint64(len(pp.ToolCallID))
				size += uint64(len(pp.Name))
				size += uint64(len(pp.Content))
			}
		}
	}
	return size
}

// CountResponseContentSize counts the size of the content in the content response
func CountResponseContentSize(resp *llms.ContentResponse) uint64 {
	if resp == nil {
		return 0
	}
	var size uint64
	for _, choice := range resp.Choices {
		size += uint64(len(choice.Content))
		size += uint64(len(choice.ReasoningContent))
		for _, toolCall := range choice.ToolCalls {
			size += uint64(len(toolCall.ID))
			size += uint64(len(toolCall.Type))
			if toolCall.FunctionCall != nil {
				size += uint64(len(toolCall.FunctionCall.Name))
				size += uint64(len(toolCall.FunctionCall.Arguments))
			}
		}
	}
	return size
}

// CountTokens sums the token usage reported in GenerationInfo.
func CountTokens(resp *llms.ContentResponse) (in, out, total int64) {
	if resp == nil {
		return
	}
	for _, choice := range resp.Choices {
		ma := values.MapAny(choice.GenerationInfo)
		in += ma.Int64("PromptTokens")
		out += ma.Int64("CompletionTokens")
		total += ma.Int64("TotalTokens")
	}
	return
}
