package llms_test

import (
	"encoding/json"
	"testing"

	"github.com/effective-security/toolpilot/pkg/llms"
	"github.com/stretchr/testify/assert"
)

func TestTextParts(t *testing.T) {
	t.Parallel()
	mc := llms.MessageFromTextParts(llms.RoleHuman, "a", "b", "c")
	assert.Equal(t, llms.RoleHuman, mc.Role)
	assert.Equal(t, []llms.ContentPart{
		llms.TextContent{Text: "a"},
		llms.TextContent{Text: "b"},
		llms.TextContent{Text: "c"},
	}, mc.Parts)
}

func Test_Message_GetContent(t *testing.T) {
	t.Parallel()
	call := llms.ToolCall{ID: "123", Type: "function", FunctionCall: &llms.FunctionCall{Name: "add", Arguments: `{"a":1,"b":2}`}}
	callJS, _ := json.Marshal(call)
	resp := llms.ToolCallResponse{ToolCallID: "123", Name: "add", Content: "42"}
	respJS, _ := json.Marshal(resp)

	tests := []struct {
		name    string
		msg     llms.Message
		content string
	}{
		{
			"text",
			llms.MessageFromTextParts(llms.RoleHuman, "a", "b", "c"),
			"a\nb\nc\n",
		},
		{
			"tool_call",
			llms.MessageFromToolCalls(llms.RoleAI, call),
			"Tool Call: " + string(callJS) + "\n",
		},
		{
			"tool_response",
			llms.MessageFromToolResponse(llms.RoleTool, resp),
			"Response: " + string(respJS) + "\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.content, tt.msg.GetContent())
		})
	}
}

func Test_MessageFromToolCalls_Copies(t *testing.T) {
	t.Parallel()
	fc := &llms.FunctionCall{Name: "add", Arguments: "{}"}
	msg := llms.MessageFromToolCalls(llms.RoleAI, llms.ToolCall{ID: "1", Type: "function", FunctionCall: fc})
	fc.Name = "changed"

	tc := msg.Parts[0].(llms.ToolCall)
	assert.Equal(t, "add", tc.FunctionCall.Name)
	assert.Equal(t, "ToolCall: 1 (add), input: {}", tc.String())
	assert.Equal(t, "ToolCall: 2", llms.ToolCall{ID: "2"}.String())
}
