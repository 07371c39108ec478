package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/toolpilot/executor"
	"github.com/effective-security/toolpilot/pkg/llms"
	"github.com/effective-security/toolpilot/pkg/llmutils"
	"github.com/effective-security/toolpilot/pkg/metricskey"
	"github.com/effective-security/toolpilot/retry"
	"github.com/effective-security/toolpilot/schema"
	"github.com/effective-security/toolpilot/toolcache"
	"github.com/effective-security/x/values"
	"github.com/effective-security/xlog"
	"github.com/google/uuid"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/toolpilot", "orchestrator")

const (
	// DefaultMaxTurns bounds the model calls of one run.
	DefaultMaxTurns = 5
	// StreamResultLimit caps the result echoed to the stream in fallback mode.
	StreamResultLimit = 500

	// NoPatternResponse is returned in fallback mode when the input has no tool call.
	NoPatternResponse = "no tool pattern detected"
)

var (
	// ErrModelCall is returned when the chat model fails after retries.
	ErrModelCall = errors.New("model call failed")
	// ErrLoopExhausted marks a result that ran out of turns.
	// It is recorded on the Result, never returned.
	ErrLoopExhausted = errors.New("loop exhausted")
)

// ToolSource provides the current tool catalog.
type ToolSource interface {
	Items() []toolcache.Tool
	Resolve(name string) (string, bool)
}

// Settings of the conversational loop.
type Settings struct {
	// Model overrides the model of the client when set.
	Model       string
	// Temperature is sent when set, including 0.
	Temperature *float64
	MaxTokens   int
	MaxTurns    int
	// ShowReasoning keeps the <think> block in the response.
	ShowReasoning bool
	// SystemPrompt is prepended to the transcript when set.
	SystemPrompt string
	// Retry wraps every model call.
	Retry retry.Policy
}

// Result of a run.
type Result struct {
	Response  string
	Reasoning string
	// UsedTools lists the keys of executed tools in call order.
	UsedTools []string
	Turns     int
	// Exhausted is set when the run hit MaxTurns.
	Exhausted bool
}

// Err returns ErrLoopExhausted for exhausted results.
func (r *Result) Err() error {
	if r.Exhausted {
		return ErrLoopExhausted
	}
	return nil
}

// Strategy is either ConversationalLoop or DirectPatternMatch.
type Strategy interface {
	Name() string
	isStrategy()
}

// ConversationalLoop lets the model drive tool calls over the catalog.
type ConversationalLoop struct {
	Catalog []llms.Tool
}

func (ConversationalLoop) Name() string { return "conversational" }
func (ConversationalLoop) isStrategy()  {}

// DirectPatternMatch executes a `name(key=value, ...)` call from the input.
type DirectPatternMatch struct{}

func (DirectPatternMatch) Name() string { return "pattern" }
func (DirectPatternMatch) isStrategy()  {}

// SelectStrategy picks the strategy for the catalog.
func SelectStrategy(items []toolcache.Tool) Strategy {
	if len(items) == 0 {
		return DirectPatternMatch{}
	}
	return ConversationalLoop{Catalog: schema.Catalog(items)}
}

// Option configures a Loop.
type Option func(*Loop)

// WithCallback sets the callback.
func WithCallback(cb Callback) Option {
	return func(l *Loop) {
		l.callback = cb
	}
}

// WithFormatters replaces DefaultFormatters.
func WithFormatters(f Formatters) Option {
	return func(l *Loop) {
		l.formatters = f
	}
}

// Loop runs requests. It holds no per-run state and may be shared.
type Loop struct {
	model      llms.Model
	tools      ToolSource
	runner     executor.Runner
	settings   Settings
	formatters Formatters
	callback   Callback
}

// New returns a Loop.
func New(model llms.Model, tools ToolSource, runner executor.Runner, settings Settings, opts ...Option) *Loop {
	settings.MaxTurns = values.NumbersCoalesce(settings.MaxTurns, DefaultMaxTurns)
	settings.Retry.Name = values.StringsCoalesce(settings.Retry.Name, "model")

	l := &Loop{
		model:      model,
		tools:      tools,
		runner:     runner,
		settings:   settings,
		formatters: DefaultFormatters(),
		callback:   NewNoopCallback(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Run answers the input. A model failure after retries is returned marked
// with ErrModelCall. Cancellation of ctx stops further turns and returns the
// partial result with the context error.
func (l *Loop) Run(ctx context.Context, input string, stream StreamFunc) (*Result, error) {
	if stream == nil {
		stream = func(string) {}
	}

	strategy := SelectStrategy(l.tools.Items())
	l.callback.OnLoopStart(ctx, strategy, input)

	started := time.Now()
	defer metricskey.PerfLoopRun.MeasureSince(started, strategy.Name())

	var (
		res *Result
		err error
	)
	switch s := strategy.(type) {
	case ConversationalLoop:
		res, err = l.converse(ctx, s, input, stream)
	case DirectPatternMatch:
		res, err = l.matchPattern(ctx, input, stream)
	}
	if err != nil {
		l.callback.OnLoopError(ctx, strategy, err)
		return res, err
	}

	l.callback.OnLoopEnd(ctx, strategy, res)
	return res, nil
}

func (l *Loop) callOptions(catalog []llms.Tool) []llms.CallOption {
	opts := []llms.CallOption{
		llms.WithTools(catalog),
		llms.WithToolChoice(llms.FunctionCallBehaviorAuto),
	}
	if l.settings.Model != "" {
		opts = append(opts, llms.WithModel(l.settings.Model))
	}
	if l.settings.Temperature != nil {
		opts = append(opts, llms.WithTemperature(*l.settings.Temperature))
	}
	if l.settings.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(l.settings.MaxTokens))
	}
	return opts
}

func (l *Loop) converse(ctx context.Context, s ConversationalLoop, input string, stream StreamFunc) (*Result, error) {
	res := &Result{}
	maxTurns := l.settings.MaxTurns
	opts := l.callOptions(s.Catalog)

	var messages []llms.Message
	if l.settings.SystemPrompt != "" {
		messages = append(messages, llms.MessageFromTextParts(llms.RoleSystem, l.settings.SystemPrompt))
	}
	messages = append(messages, llms.MessageFromTextParts(llms.RoleHuman, input))

	for turn := 1; turn <= maxTurns; turn++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.Turns = turn
		metricskey.StatsLoopTurns.IncrCounter(1, s.Name())
		stream(fmt.Sprintf("turn %d/%d", turn, maxTurns))

		choice, err := l.generate(ctx, turn, messages, opts)
		if err != nil {
			return res, err
		}

		if len(choice.ToolCalls) == 0 {
			l.finish(res, choice)
			return res, nil
		}

		calls := make([]llms.ToolCall, len(choice.ToolCalls))
		for i, tc := range choice.ToolCalls {
			tc.ID = values.StringsCoalesce(tc.ID, uuid.NewString())
			tc.Type = values.StringsCoalesce(tc.Type, "function")
			calls[i] = tc
		}
		stream(fmt.Sprintf("%d tools detected", len(calls)))
		messages = append(messages, llms.MessageFromToolCalls(llms.RoleAI, calls...))

		for _, tc := range calls {
			key, observation := l.executeCall(ctx, tc, stream)
			res.UsedTools = append(res.UsedTools, key)
			messages = append(messages, llms.MessageFromToolResponse(llms.RoleTool, llms.ToolCallResponse{
				ToolCallID: tc.ID,
				Name:       key,
				Content:    observation,
			}))
		}
	}

	metricskey.StatsLoopExhausted.IncrCounter(1, s.Name())
	logger.ContextKV(ctx, xlog.WARNING,
		"reason", "max_turns",
		"turns", maxTurns,
		"used_tools", res.UsedTools,
	)
	res.Exhausted = true
	res.Response = fmt.Sprintf("Sorry, I could not complete the request within %d turns.", maxTurns)
	return res, nil
}

func (l *Loop) generate(ctx context.Context, turn int, messages []llms.Message, opts []llms.CallOption) (*llms.ContentChoice, error) {
	l.callback.OnModelCallStart(ctx, turn, messages)

	modelName := l.settings.Model
	if modelName == "" {
		modelName = string(l.model.GetProviderType())
	}
	started := time.Now()
	resp, err := retry.Do(ctx, l.settings.Retry, func(ctx context.Context) (*llms.ContentResponse, error) {
		resp, err := l.model.GenerateContent(ctx, messages, opts...)
		if err == nil && len(resp.Choices) == 0 {
			err = errors.New("empty response")
		}
		return resp, err
	})
	metricskey.PerfModelCall.MeasureSince(started, modelName)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		metricskey.StatsModelCallsFailed.IncrCounter(1, modelName)
		return nil, errors.Mark(errors.WithMessagef(err, "turn %d", turn), ErrModelCall)
	}
	metricskey.StatsModelCallsSucceeded.IncrCounter(1, modelName)

	l.callback.OnModelCallEnd(ctx, turn, resp)
	return resp.Choices[0], nil
}

func (l *Loop) finish(res *Result, choice *llms.ContentChoice) {
	res.Reasoning = choice.ReasoningContent
	switch choice.StopReason {
	case "", llms.StopReasonStop, llms.StopReasonToolCalls:
		answer, reasoning := llmutils.SplitReasoning(choice.Content)
		res.Reasoning = values.StringsCoalesce(res.Reasoning, reasoning)
		if l.settings.ShowReasoning {
			res.Response = choice.Content
		} else {
			res.Response = answer
		}
	default:
		res.Response = choice.Content
	}
}

// executeCall runs one requested call and returns the resolved key and the
// observation for the transcript.
func (l *Loop) executeCall(ctx context.Context, tc llms.ToolCall, stream StreamFunc) (string, string) {
	name, rawArgs := "", ""
	if tc.FunctionCall != nil {
		name, rawArgs = tc.FunctionCall.Name, tc.FunctionCall.Arguments
	}
	key := name
	if resolved, ok := l.tools.Resolve(name); ok {
		key = resolved
	}

	stream(fmt.Sprintf("calling tool '%s'...", key))
	l.callback.OnToolStart(ctx, key, rawArgs)

	args, err := llmutils.ParseArguments(rawArgs)
	if err != nil {
		err = errors.Mark(errors.WithMessagef(err, "invalid arguments for '%s'", key), executor.ErrToolExecution)
		l.callback.OnToolError(ctx, key, rawArgs, err)
		stream(fmt.Sprintf("tool '%s' failed", key))
		return key, executor.FormatError(err)
	}

	output, err := l.runner.Call(ctx, key, args)
	if err != nil {
		l.callback.OnToolError(ctx, key, rawArgs, err)
		stream(fmt.Sprintf("tool '%s' failed", key))
		return key, executor.FormatError(err)
	}

	observation := l.formatters.Format(key, output)
	l.callback.OnToolEnd(ctx, key, rawArgs, observation)
	stream(fmt.Sprintf("tool '%s' finished", key))
	return key, observation
}

func (l *Loop) matchPattern(ctx context.Context, input string, stream StreamFunc) (*Result, error) {
	res := &Result{}
	metricskey.StatsLoopTurns.IncrCounter(1, DirectPatternMatch{}.Name())

	call, ok := ParsePatternCall(input)
	if !ok {
		res.Response = NoPatternResponse
		return res, nil
	}

	js, err := call.JSON()
	if err != nil {
		res.Response = executor.FormatError(err)
		return res, nil
	}
	tc := llms.ToolCall{
		ID:   uuid.NewString(),
		Type: "function",
		FunctionCall: &llms.FunctionCall{
			Name:      call.Tool,
			Arguments: js,
		},
	}

	key, observation := l.executeCall(ctx, tc, stream)
	res.UsedTools = []string{key}
	res.Response = observation
	stream("result: " + llmutils.Truncate(observation, StreamResultLimit))
	return res, nil
}
