package llmutils_test

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/effective-security/toolpilot/pkg/llms"
	"github.com/effective-security/toolpilot/pkg/llmutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_CleanJSON(t *testing.T) {
	llmOutput := "\n```json\n\n{\"city\": \"Paris\", \"country\": \"France\"}\n\n```\n\n"
	clean := llmutils.CleanJSON([]byte(llmOutput))

	expected := "{\"city\": \"Paris\", \"country\": \"France\"}"
	assert.Equal(t, expected, string(clean))

	llmOutput = "Here you go:\n```json\n\n[{\"city\": \"Paris\", \"country\": \"France\"}]\n```\n\n"
	clean = llmutils.CleanJSON([]byte(llmOutput))

	expected = "[{\"city\": \"Paris\", \"country\": \"France\"}]"
	assert.Equal(t, expected, string(clean))

	resp := "{\n\t\"query\": \"search for:\\n\\n```json\\n{\\n  \\\"repo\\\": \\\"toolpilot\\\"\\n}\\n```\",\n\t\"limit\": 5\n}"
	assert.Equal(t, resp, string(llmutils.CleanJSON([]byte(resp))))

	assert.Equal(t, "not json", string(llmutils.CleanJSON([]byte("not json"))))
}

func Test_SplitReasoning(t *testing.T) {
	tcases := []struct {
		in        string
		answer    string
		reasoning string
	}{
		{in: "plain answer", answer: "plain answer"},
		{in: "<think>\nadd the numbers\n</think>\n\nThe sum is 3.", answer: "The sum is 3.", reasoning: "add the numbers"},
		{in: "  \n<think>x</think>y", answer: "y", reasoning: "x"},
		{in: "<think>never closed", answer: "<think>never closed"},
		{in: "answer <think>late</think>", answer: "answer <think>late</think>"},
	}
	for _, tc := range tcases {
		t.Run(tc.in, func(t *testing.T) {
			answer, reasoning := llmutils.SplitReasoning(tc.in)
			assert.Equal(t, tc.answer, answer)
			assert.Equal(t, tc.reasoning, reasoning)
		})
	}
}

func Test_Truncate(t *testing.T) {
	assert.Equal(t, "short", llmutils.Truncate("short", 10))
	assert.Equal(t, "0123456789", llmutils.Truncate("0123456789", 10))
	assert.Equal(t, "01234... (truncated)", llmutils.Truncate("0123456789", 5))
	assert.Equal(t, "0123456789", llmutils.Truncate("0123456789", 0))

	long := "a" + strings.Repeat("한", 300)
	cut := llmutils.Truncate(long, 500)
	assert.True(t, utf8.ValidString(cut))
	assert.True(t, strings.HasSuffix(cut, llmutils.TruncatedSuffix))
	// "a" plus 166 runes of 3 bytes fit in 500 bytes
	assert.Equal(t, "a"+strings.Repeat("한", 166)+llmutils.TruncatedSuffix, cut)
}

func Test_ToJSONIndent(t *testing.T) {
	assert.Equal(t, "{\n\t\"key\": \"value\"\n}", llmutils.ToJSONIndent(map[string]string{"key": "value"}))
}

func Test_ToYAML(t *testing.T) {
	assert.Equal(t, "key: value\n", llmutils.ToYAML(map[string]string{"key": "value"}))
}

func Test_CountMessagesContentSize(t *testing.T) {
	msgs := []llms.Message{
		llms.MessageFromTextParts(llms.RoleHuman, "Hello"),
		llms.MessageFromToolCalls(llms.RoleAI, llms.ToolCall{
			ID:           "1",
			Type:         "function",
			FunctionCall: &llms.FunctionCall{Name: "add", Arguments: "{}"},
		}),
		llms.MessageFromToolResponse(llms.RoleTool, llms.ToolCallResponse{ToolCallID: "1", Name: "add", Content: "3"}),
	}
	// human(5)+Hello(5) + ai(2)+1+function(8)+add(3)+{}(2) + tool(4)+1+add(3)+3(1)
	assert.Equal(t, uint64(35), llmutils.CountMessagesContentSize(msgs))
}

func Test_CountResponseContentSize(t *testing.T) {
	assert.Equal(t, uint64(0), llmutils.CountResponseContentSize(nil))

	resp := &llms.ContentResponse{
		Choices: []*llms.ContentChoice{
			{Content: "Hello world"},
		},
	}
	assert.Equal(t, uint64(11), llmutils.CountResponseContentSize(resp))
}

func Test_CountTokens(t *testing.T) {
	resp := &llms.ContentResponse{
		Choices: []*llms.ContentChoice{
			{GenerationInfo: map[string]any{"PromptTokens": int64(10), "CompletionTokens": int64(5), "TotalTokens": int64(15)}},
		},
	}
	in, out, total := llmutils.CountTokens(resp)
	assert.Equal(t, int64(10), in)
	assert.Equal(t, int64(5), out)
	assert.Equal(t, int64(15), total)
}

func TestParseArguments(t *testing.T) {
	tcases := []struct {
		raw string
		exp map[string]any
		err string
	}{
		{raw: "", exp: map[string]any{}},
		{raw: "null", exp: map[string]any{}},
		{raw: `{"a":1}`, exp: map[string]any{"a": 1.0}},
		{raw: "```json\n{\"a\": \"x\"}\n```", exp: map[string]any{"a": "x"}},
		{raw: `{'a': 'x'}`, exp: map[string]any{"a": "x"}},
		{raw: `[1]`, err: "arguments must be a JSON object"},
	}
	for _, tc := range tcases {
		t.Run(tc.raw, func(t *testing.T) {
			args, err := llmutils.ParseArguments(tc.raw)
			if tc.err != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.exp, args)
		})
	}
}
