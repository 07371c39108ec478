package executor_test

import (
	"context"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/toolpilot/executor"
	"github.com/effective-security/toolpilot/mcp/client"
	"github.com/effective-security/toolpilot/mocks/mockclient"
	"github.com/effective-security/toolpilot/mocks/mockllms"
	"github.com/effective-security/toolpilot/pkg/llms"
	"github.com/effective-security/toolpilot/toolcache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

var addTool = toolcache.Tool{
	Key:         "calc_add",
	Server:      "calc",
	Name:        "add",
	Description: "Add two numbers",
	InputSchema: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"a": map[string]any{"type": "number"},
			"b": map[string]any{"type": "number"},
		},
	},
}

func textResult(text string, isError bool) *client.CallToolResult {
	return &client.CallToolResult{
		Content: []client.Content{{Type: "text", Text: text}},
		IsError: isError,
	}
}

func TestDirectAgent(t *testing.T) {
	ctrl := gomock.NewController(t)
	session := mockclient.NewMockSession(ctrl)
	ctx := context.Background()
	args := map[string]any{"a": 1.0, "b": 2.0}

	session.EXPECT().CallTool(gomock.Any(), "add", args).Return(textResult("3", false), nil)
	res, err := executor.DirectAgent{}.Run(ctx, session, addTool, args)
	require.NoError(t, err)
	assert.Equal(t, "3", res)

	tcases := []struct {
		text string
		exp  string
	}{
		{text: "boom", exp: "tool 'calc_add' returned an error: boom"},
		{text: `{"error":{"code":400,"message":"bad input"}}`, exp: "tool 'calc_add' returned an error: bad input"},
		{text: `{"error":"rate limited"}`, exp: "tool 'calc_add' returned an error: rate limited"},
		{text: `{"code":7}`, exp: `tool 'calc_add' returned an error: {"code":7}`},
	}
	for _, tc := range tcases {
		session.EXPECT().CallTool(gomock.Any(), "add", args).Return(textResult(tc.text, true), nil)
		_, err := executor.DirectAgent{}.Run(ctx, session, addTool, args)
		require.Error(t, err)
		assert.True(t, errors.Is(err, executor.ErrToolExecution))
		assert.Equal(t, tc.exp, err.Error())
	}

	session.EXPECT().CallTool(gomock.Any(), "add", args).Return(nil, errors.New("connection closed"))
	_, err = executor.DirectAgent{}.Run(ctx, session, addTool, args)
	assert.EqualError(t, err, "connection closed")
}

func TestInstruction(t *testing.T) {
	s, err := executor.Instruction("add", map[string]any{"a": 1})
	require.NoError(t, err)
	assert.Equal(t, "Call the tool \"add\" with these arguments:\n{\n  \"a\": 1\n}", s)

	s, err = executor.Instruction("list", nil)
	require.NoError(t, err)
	assert.Equal(t, `Call the tool "list" without arguments.`, s)
}

func TestModelAgent(t *testing.T) {
	ctrl := gomock.NewController(t)
	model := mockllms.NewMockModel(ctrl)
	session := mockclient.NewMockSession(ctrl)
	ctx := context.Background()
	args := map[string]any{"a": 2.0, "b": 5.0}

	agent := executor.ModelAgent{Model: model, Steps: 2}

	t.Run("tool_call", func(t *testing.T) {
		gomock.InOrder(
			model.EXPECT().GenerateContent(gomock.Any(), gomock.Len(2), gomock.Any()).
				DoAndReturn(func(_ context.Context, _ []llms.Message, options ...llms.CallOption) (*llms.ContentResponse, error) {
					opts := llms.NewCallOptions(options...)
					require.Len(t, opts.Tools, 1)
					assert.Equal(t, "add", opts.Tools[0].Function.Name)
					return &llms.ContentResponse{Choices: []*llms.ContentChoice{{
						ToolCalls: []llms.ToolCall{{
							Type:         "function",
							FunctionCall: &llms.FunctionCall{Name: "add", Arguments: `{"a":2,"b":5}`},
						}},
					}}}, nil
				}),
			session.EXPECT().CallTool(gomock.Any(), "add", args).Return(textResult("7", false), nil),
			model.EXPECT().GenerateContent(gomock.Any(), gomock.Len(4), gomock.Any()).
				DoAndReturn(func(_ context.Context, messages []llms.Message, _ ...llms.CallOption) (*llms.ContentResponse, error) {
					call := messages[2].Parts[0].(llms.ToolCall)
					resp := messages[3].Parts[0].(llms.ToolCallResponse)
					assert.NotEmpty(t, call.ID)
					assert.Equal(t, call.ID, resp.ToolCallID)
					assert.Equal(t, "7", resp.Content)
					return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: ""}}}, nil
				}),
		)

		res, err := agent.Run(ctx, session, addTool, args)
		require.NoError(t, err)
		assert.Equal(t, "7", res)
	})

	t.Run("repaired_arguments", func(t *testing.T) {
		gomock.InOrder(
			model.EXPECT().GenerateContent(gomock.Any(), gomock.Len(2), gomock.Any()).
				Return(&llms.ContentResponse{Choices: []*llms.ContentChoice{{
					ToolCalls: []llms.ToolCall{{
						Type:         "function",
						FunctionCall: &llms.FunctionCall{Name: "add", Arguments: `{'a': 2, 'b': 3}`},
					}},
				}}}, nil),
			session.EXPECT().CallTool(gomock.Any(), "add", map[string]any{"a": 2.0, "b": 3.0}).
				Return(textResult("5", false), nil),
			model.EXPECT().GenerateContent(gomock.Any(), gomock.Len(4), gomock.Any()).
				Return(&llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: "5"}}}, nil),
		)

		res, err := agent.Run(ctx, session, addTool, args)
		require.NoError(t, err)
		assert.Equal(t, "5", res)
	})

	t.Run("invalid_arguments", func(t *testing.T) {
		gomock.InOrder(
			model.EXPECT().GenerateContent(gomock.Any(), gomock.Len(2), gomock.Any()).
				Return(&llms.ContentResponse{Choices: []*llms.ContentChoice{{
					ToolCalls: []llms.ToolCall{{
						Type:         "function",
						FunctionCall: &llms.FunctionCall{Name: "add", Arguments: `[2, 5]`},
					}},
				}}}, nil),
			// the instructed arguments are used
			session.EXPECT().CallTool(gomock.Any(), "add", args).Return(textResult("7", false), nil),
			model.EXPECT().GenerateContent(gomock.Any(), gomock.Len(4), gomock.Any()).
				Return(&llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: ""}}}, nil),
		)

		res, err := agent.Run(ctx, session, addTool, args)
		require.NoError(t, err)
		assert.Equal(t, "7", res)
	})

	t.Run("no_tool_call", func(t *testing.T) {
		model.EXPECT().GenerateContent(gomock.Any(), gomock.Any(), gomock.Any()).
			Return(&llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: "I would rather not"}}}, nil)
		session.EXPECT().CallTool(gomock.Any(), "add", args).Return(textResult("7", false), nil)

		res, err := agent.Run(ctx, session, addTool, args)
		require.NoError(t, err)
		assert.Equal(t, "7", res)
	})

	t.Run("model_error", func(t *testing.T) {
		model.EXPECT().GenerateContent(gomock.Any(), gomock.Any(), gomock.Any()).
			Return(nil, errors.New("503"))

		_, err := agent.Run(ctx, session, addTool, args)
		assert.EqualError(t, err, "sub-agent model call: 503")
	})
}
