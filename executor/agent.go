package executor

import (
	"bytes"
	"context"
	"strings"
	"text/template"

	"github.com/Masterminds/sprig/v3"
	"github.com/cockroachdb/errors"
	"github.com/effective-security/toolpilot/mcp/client"
	"github.com/effective-security/toolpilot/pkg/llms"
	"github.com/effective-security/toolpilot/pkg/llmutils"
	"github.com/effective-security/toolpilot/schema"
	"github.com/effective-security/toolpilot/toolcache"
	"github.com/effective-security/x/values"
	"github.com/effective-security/xlog"
	"github.com/google/uuid"
	"github.com/tidwall/gjson"
)

// DirectAgent calls the tool with the argument map as is.
type DirectAgent struct{}

// Run implements Agent.
func (DirectAgent) Run(ctx context.Context, session client.Session, tool toolcache.Tool, args map[string]any) (string, error) {
	res, err := session.CallTool(ctx, tool.Name, args)
	if err != nil {
		return "", err
	}
	return resultText(tool, res)
}

func resultText(tool toolcache.Tool, res *client.CallToolResult) (string, error) {
	text := res.Text()
	if res.IsError {
		return "", errors.Mark(errors.Newf("tool '%s' returned an error: %s", tool.Key, errorDetail(text)), ErrToolExecution)
	}
	return text, nil
}

// errorDetail extracts the message from a JSON error payload.
func errorDetail(text string) string {
	if !gjson.Valid(text) {
		return text
	}
	for _, path := range []string{"error.message", "error", "message"} {
		if v := gjson.Get(text, path); v.Exists() && v.Type == gjson.String {
			return v.String()
		}
	}
	return text
}

const systemPrompt = "You run exactly one tool on behalf of another assistant. " +
	"Call the tool you are given, then reply with its output without commentary."

var instructionTemplate = template.Must(template.New("instruction").Funcs(sprig.TxtFuncMap()).Parse(
	`Call the tool "{{ .Tool }}"{{ if .Args }} with these arguments:
{{ .Args | toPrettyJson }}{{ else }} without arguments.{{ end }}`))

// Instruction renders the sub-agent instruction for a tool call.
func Instruction(toolName string, args map[string]any) (string, error) {
	var b bytes.Buffer
	err := instructionTemplate.Execute(&b, map[string]any{
		"Tool": toolName,
		"Args": args,
	})
	if err != nil {
		return "", errors.Wrap(err, "failed to render instruction")
	}
	return b.String(), nil
}

// ModelAgent lets a chat model invoke the single tool from a free-form
// instruction, for a bounded number of steps.
type ModelAgent struct {
	Model llms.Model
	// Steps bounds the model calls, at least one.
	Steps   int
	Options []llms.CallOption
}

// Run implements Agent.
func (a ModelAgent) Run(ctx context.Context, session client.Session, tool toolcache.Tool, args map[string]any) (string, error) {
	instruction, err := Instruction(tool.Name, args)
	if err != nil {
		return "", err
	}

	def := llms.Tool{
		Type: "function",
		Function: &llms.FunctionDefinition{
			Name:        tool.Name,
			Description: tool.Description,
			Parameters:  schema.ConvertSchema(tool.InputSchema),
		},
	}
	opts := append([]llms.CallOption{}, a.Options...)
	opts = append(opts,
		llms.WithTools([]llms.Tool{def}),
		llms.WithToolChoice(llms.FunctionCallBehaviorAuto),
	)

	messages := []llms.Message{
		llms.MessageFromTextParts(llms.RoleSystem, systemPrompt),
		llms.MessageFromTextParts(llms.RoleHuman, instruction),
	}

	lastResult := ""
	called := false
	steps := max(a.Steps, 1)
	for step := 0; step < steps; step++ {
		resp, err := a.Model.GenerateContent(ctx, messages, opts...)
		if err != nil {
			return "", errors.WithMessage(err, "sub-agent model call")
		}
		if len(resp.Choices) == 0 {
			break
		}
		choice := resp.Choices[0]
		if len(choice.ToolCalls) == 0 {
			if called {
				return values.StringsCoalesce(choice.Content, lastResult), nil
			}
			// the model refused to call the tool
			break
		}

		calls := make([]llms.ToolCall, len(choice.ToolCalls))
		for i, tc := range choice.ToolCalls {
			tc.ID = values.StringsCoalesce(tc.ID, uuid.NewString())
			calls[i] = tc
		}
		messages = append(messages, llms.MessageFromToolCalls(llms.RoleAI, calls...))
		for _, tc := range calls {
			callArgs := a.callArguments(ctx, tool, tc, args)

			res, err := session.CallTool(ctx, tool.Name, callArgs)
			if err != nil {
				return "", err
			}
			text, err := resultText(tool, res)
			if err != nil {
				return "", err
			}
			called = true
			lastResult = text
			messages = append(messages, llms.MessageFromToolResponse(llms.RoleTool, llms.ToolCallResponse{
				ToolCallID: tc.ID,
				Name:       tool.Name,
				Content:    text,
			}))
		}
	}

	if called {
		return lastResult, nil
	}

	logger.ContextKV(ctx, xlog.DEBUG, "reason", "no_tool_call", "tool", tool.Key)
	// the model never called the tool; do it directly
	return DirectAgent{}.Run(ctx, session, tool, args)
}

// callArguments returns the arguments the model sent, repaired if needed,
// or the instructed arguments when the model sent none or garbage.
func (a ModelAgent) callArguments(ctx context.Context, tool toolcache.Tool, tc llms.ToolCall, args map[string]any) map[string]any {
	if tc.FunctionCall == nil || strings.TrimSpace(tc.FunctionCall.Arguments) == "" {
		return args
	}
	parsed, err := llmutils.ParseArguments(tc.FunctionCall.Arguments)
	if err != nil {
		logger.ContextKV(ctx, xlog.WARNING,
			"reason", "invalid_arguments",
			"tool", tool.Key,
			"err", err.Error(),
		)
		return args
	}
	return parsed
}
