package openai

import (
	"context"
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/toolpilot/pkg/llms"
	"github.com/effective-security/toolpilot/pkg/llms/openai/internal/openaiclient"
	"github.com/effective-security/x/values"
	"github.com/tidwall/gjson"
)

type ChatMessage = openaiclient.ChatMessage

// ErrEmptyResponse is returned when the API returns no choices.
var ErrEmptyResponse = openaiclient.ErrEmptyResponse

type LLM struct {
	client   *openaiclient.Client
	provider llms.ProviderType
}

const (
	RoleSystem    = "system"
	RoleAssistant = "assistant"
	RoleUser      = "user"
	RoleTool      = "tool"
)

var _ llms.Model = (*LLM)(nil)

// New returns a new OpenAI LLM.
func New(opts ...Option) (*LLM, error) {
	o, c, err := newClient(opts...)
	if err != nil {
		return nil, err
	}
	return &LLM{
		client:   c,
		provider: llms.ProviderType(o.provider),
	}, nil
}

// GetProviderType implements the Model interface.
func (o *LLM) GetProviderType() llms.ProviderType {
	return o.provider
}

// GenerateContent implements the Model interface.
func (o *LLM) GenerateContent(ctx context.Context, messages []llms.Message, options ...llms.CallOption) (*llms.ContentResponse, error) {
	opts := llms.NewCallOptions(options...)

	chatMsgs := make([]*ChatMessage, 0, len(messages))
	for _, mc := range messages {
		msg, err := chatMessage(mc)
		if err != nil {
			return nil, err
		}
		chatMsgs = append(chatMsgs, msg)
	}

	req := &openaiclient.ChatRequest{
		Model:      opts.Model,
		Messages:   chatMsgs,
		MaxTokens:  opts.MaxTokens,
		ToolChoice: opts.ToolChoice,
		Metadata:   opts.Metadata,
	}
	req.Temperature = opts.Temperature
	if fc, ok := opts.ToolChoice.(llms.FunctionCallBehavior); ok {
		req.ToolChoice = string(fc)
	}

	for _, tool := range opts.Tools {
		t, err := toolFromTool(tool)
		if err != nil {
			return nil, errors.Wrap(err, "failed to convert llms tool to openai tool")
		}
		req.Tools = append(req.Tools, t)
	}
	if len(req.Tools) == 0 {
		// tool_choice without tools is rejected by the API
		req.ToolChoice = nil
	}

	result, err := o.client.CreateChat(ctx, req)
	if err != nil {
		return nil, err
	}

	choices := make([]*llms.ContentChoice, len(result.Choices))
	for i, c := range result.Choices {
		choices[i] = &llms.ContentChoice{
			Content:    c.Message.Content,
			StopReason: fmt.Sprint(c.FinishReason),
			GenerationInfo: map[string]any{
				"CompletionTokens": result.Usage.CompletionTokens,
				"PromptTokens":     result.Usage.PromptTokens,
				"TotalTokens":      result.Usage.TotalTokens,
				"ReasoningTokens":  result.Usage.CompletionTokensDetails.ReasoningTokens,
			},
		}

		// not part of the OpenAI schema, sent by DeepSeek and Ollama
		choices[i].ReasoningContent = gjson.Get(c.Message.RawJSON(), "reasoning_content").String()

		for _, tool := range c.Message.ToolCalls {
			choices[i].ToolCalls = append(choices[i].ToolCalls, llms.ToolCall{
				ID:   tool.ID,
				Type: values.StringsCoalesce(string(tool.Type), "function"),
				FunctionCall: &llms.FunctionCall{
					Name:      tool.Function.Name,
					Arguments: tool.Function.Arguments,
				},
			})
		}
	}
	return &llms.ContentResponse{Choices: choices}, nil
}

func chatMessage(mc llms.Message) (*ChatMessage, error) {
	msg := &ChatMessage{}
	switch mc.Role {
	case llms.RoleSystem:
		msg.Role = RoleSystem
	case llms.RoleHuman:
		msg.Role = RoleUser
	case llms.RoleAI:
		msg.Role = RoleAssistant
	case llms.RoleTool:
		msg.Role = RoleTool
		if len(mc.Parts) != 1 {
			return nil, errors.Errorf("expected exactly one part for role %v, got %v", mc.Role, len(mc.Parts))
		}
		p, ok := mc.Parts[0].(llms.ToolCallResponse)
		if !ok {
			return nil, errors.Errorf("expected part of type ToolCallResponse for role %v, got %T", mc.Role, mc.Parts[0])
		}
		msg.ToolCallID = p.ToolCallID
		msg.Content = p.Content
		return msg, nil
	default:
		return nil, errors.Wrapf(llms.ErrUnexpectedRole, "role %v not supported", mc.Role)
	}

	var text []string
	for _, part := range mc.Parts {
		switch p := part.(type) {
		case llms.TextContent:
			text = append(text, p.Text)
		case llms.ToolCall:
			if p.FunctionCall == nil {
				continue
			}
			msg.ToolCalls = append(msg.ToolCalls, openaiclient.ToolCall{
				ID:   p.ID,
				Type: values.StringsCoalesce(p.Type, "function"),
				Function: openaiclient.FunctionCall{
					Name:      p.FunctionCall.Name,
					Arguments: p.FunctionCall.Arguments,
				},
			})
		default:
			return nil, errors.Errorf("part %T not supported for role %v", part, mc.Role)
		}
	}
	msg.Content = strings.Join(text, "\n")
	return msg, nil
}

// toolFromTool converts an llms.Tool to a Tool.
func toolFromTool(t llms.Tool) (openaiclient.Tool, error) {
	if t.Type != "function" || t.Function == nil {
		return openaiclient.Tool{}, errors.Errorf("tool type %v not supported", t.Type)
	}
	params := t.Function.Parameters
	if params == nil {
		params = map[string]any{"type": "object", "properties": map[string]any{}}
	}
	return openaiclient.Tool{
		Type: t.Type,
		Function: openaiclient.FunctionDefinition{
			Name:        t.Function.Name,
			Description: t.Function.Description,
			Parameters:  params,
			Strict:      t.Function.Strict,
		},
	}, nil
}
