// Package manager is the entry point for hosts: it wires the registry, the
// tool cache, the executor and the orchestration loop behind one facade.
package manager

import (
	"bytes"
	"context"
	"text/template"
	"time"

	"github.com/Masterminds/sprig/v3"
	"github.com/cockroachdb/errors"
	"github.com/effective-security/toolpilot/callbacks"
	"github.com/effective-security/toolpilot/config"
	"github.com/effective-security/toolpilot/executor"
	"github.com/effective-security/toolpilot/mcp/client"
	"github.com/effective-security/toolpilot/orchestrator"
	"github.com/effective-security/toolpilot/pkg/llmfactory"
	"github.com/effective-security/toolpilot/pkg/llms"
	"github.com/effective-security/toolpilot/probe"
	"github.com/effective-security/toolpilot/retry"
	"github.com/effective-security/toolpilot/schema"
	"github.com/effective-security/toolpilot/toolcache"
	"github.com/effective-security/xlog"
	"github.com/google/uuid"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/toolpilot", "manager")

// ModelErrorResponse is the response of a run whose model calls failed.
const ModelErrorResponse = "Sorry, a problem occurred while generating the response."

// Reply is the outcome of Run.
type Reply struct {
	orchestrator.Result

	RunID string
	Stats callbacks.RunStats
	// Transcript is recorded when the manager runs in callbacks.ModeVerbose.
	Transcript string
}

type options struct {
	dialer      client.Dialer
	prober      probe.Prober
	model       llms.Model
	callbacks   []orchestrator.Callback
	formatters  orchestrator.Formatters
	mode        callbacks.Mode
	probeOpts   []probe.Option
	callTimeout time.Duration
}

// Option configures a Manager.
type Option func(*options)

// WithDialer replaces the stdio dialer used for probes and tool calls.
func WithDialer(d client.Dialer) Option {
	return func(o *options) {
		o.dialer = d
	}
}

// WithProber replaces the prober built over the dialer.
func WithProber(p probe.Prober) Option {
	return func(o *options) {
		o.prober = p
	}
}

// WithProbeOptions configures the prober built over the dialer.
func WithProbeOptions(opts ...probe.Option) Option {
	return func(o *options) {
		o.probeOpts = append(o.probeOpts, opts...)
	}
}

// WithModel replaces the model created from the chat settings.
func WithModel(m llms.Model) Option {
	return func(o *options) {
		o.model = m
	}
}

// WithCallback adds a callback to every run.
func WithCallback(cb orchestrator.Callback) Option {
	return func(o *options) {
		o.callbacks = append(o.callbacks, cb)
	}
}

// WithFormatters replaces the default tool result formatters.
func WithFormatters(f orchestrator.Formatters) Option {
	return func(o *options) {
		o.formatters = f
	}
}

// WithMode sets the scratchpad mode of runs.
func WithMode(mode callbacks.Mode) Option {
	return func(o *options) {
		o.mode = mode
	}
}

// WithToolCallTimeout bounds one tool call.
func WithToolCallTimeout(d time.Duration) Option {
	return func(o *options) {
		o.callTimeout = d
	}
}

// Manager is constructed once and shared by all requests.
type Manager struct {
	provider config.Provider
	settings config.ChatSettings
	model    llms.Model
	prober   probe.Prober
	cache    *toolcache.Cache
	runner   executor.Runner
	opts     options
}

// New returns a Manager. Tools are not loaded until RefreshTools.
func New(provider config.Provider, opts ...Option) (*Manager, error) {
	o := options{
		dialer:     client.StdioDialer{},
		formatters: orchestrator.DefaultFormatters(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	settings := provider.ChatSettings()

	model := o.model
	if model == nil {
		var err error
		model, err = llmfactory.New(settings).DefaultModel()
		if err != nil {
			return nil, err
		}
	}

	prober := o.prober
	if prober == nil {
		prober = probe.New(o.dialer, o.probeOpts...)
	}
	cache := toolcache.New(prober)

	execOpts := []executor.Option{
		executor.WithRetry(retry.Policy{
			Attempts: settings.ToolRetryAttempts,
			Backoff:  seconds(settings.BackoffSeconds),
			Name:     "tool",
		}),
	}
	if o.callTimeout > 0 {
		execOpts = append(execOpts, executor.WithCallTimeout(o.callTimeout))
	}
	if settings.SubAgent == config.SubAgentModel {
		execOpts = append(execOpts, executor.WithAgent(executor.ModelAgent{
			Model:   model,
			Steps:   settings.SubAgentSteps,
			Options: subAgentOptions(settings),
		}))
	}

	m := &Manager{
		provider: provider,
		settings: settings,
		model:    model,
		prober:   prober,
		cache:    cache,
		runner:   executor.New(cache, provider, o.dialer, execOpts...),
		opts:     o,
	}

	logger.KV(xlog.INFO,
		"status", "created",
		"provider", settings.Provider,
		"model", settings.Model,
		"sub_agent", settings.SubAgent,
	)
	return m, nil
}

func subAgentOptions(settings config.ChatSettings) []llms.CallOption {
	opts := []llms.CallOption{llms.WithModel(settings.Model)}
	if settings.Temperature != nil {
		opts = append(opts, llms.WithTemperature(*settings.Temperature))
	}
	return opts
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// RefreshTools probes the enabled servers and replaces the cached tools.
func (m *Manager) RefreshTools(ctx context.Context) *toolcache.RefreshReport {
	return m.cache.Refresh(ctx, m.provider.EnabledServers())
}

// ServerStatus probes the enabled servers without touching the cache.
func (m *Manager) ServerStatus(ctx context.Context) []*probe.Status {
	return m.prober.TestAll(ctx, m.provider.EnabledServers())
}

// Tools returns the cached tools sorted by key.
func (m *Manager) Tools() []toolcache.Tool {
	return m.cache.Items()
}

// FunctionCallCatalog returns the cached tools as function definitions.
func (m *Manager) FunctionCallCatalog() []llms.Tool {
	return schema.Catalog(m.cache.Items())
}

// ExecuteTool runs a tool by qualified key. Failures are returned as text.
func (m *Manager) ExecuteTool(ctx context.Context, key string, args map[string]any) string {
	return m.runner.Execute(ctx, key, args)
}

// Run answers the user text. Model failures after retries are returned as
// ModelErrorResponse; the only error is the context error on cancellation,
// returned with the partial reply.
func (m *Manager) Run(ctx context.Context, text string, stream orchestrator.StreamFunc) (*Reply, error) {
	runID := uuid.NewString()
	pad := callbacks.NewScratchpad(runID, m.opts.mode)
	fanout := callbacks.NewFanout(m.opts.callbacks...)
	fanout.Add(pad)

	loop := orchestrator.New(m.model, m.cache, m.runner, orchestrator.Settings{
		Model:         m.settings.Model,
		Temperature:   m.settings.Temperature,
		MaxTokens:     m.settings.MaxTokens,
		MaxTurns:      m.settings.MaxTurns,
		ShowReasoning: m.settings.ShowReasoning,
		Retry: retry.Policy{
			Attempts: m.settings.RetryAttempts,
			Backoff:  seconds(m.settings.BackoffSeconds),
			Name:     "model",
		},
	},
		orchestrator.WithCallback(fanout),
		orchestrator.WithFormatters(m.opts.formatters),
	)

	res, err := loop.Run(ctx, text, stream)

	reply := &Reply{RunID: runID}
	if res != nil {
		reply.Result = *res
	}
	reply.Stats = pad.Stats()
	if m.opts.mode == callbacks.ModeVerbose {
		reply.Transcript = string(pad.Bytes())
	}

	if err != nil {
		if errors.Is(err, orchestrator.ErrModelCall) {
			logger.ContextKV(ctx, xlog.ERROR,
				"run_id", runID,
				"err", err.Error(),
			)
			reply.Response = ModelErrorResponse
			return reply, nil
		}
		return reply, err
	}
	return reply, nil
}

var describeTemplate = template.Must(template.New("describe").Funcs(sprig.TxtFuncMap()).Parse(
	`=== Available MCP tools ===
{{- range . }}
[{{ .Server | upper }}] {{ .Key }}: {{ .Description | default .Name | trim }}
{{- end }}
{{- if not . }}
No MCP tools available.
{{- end }}
`))

// DescribeTools returns a human readable summary of the cached tools.
func (m *Manager) DescribeTools() string {
	var buf bytes.Buffer
	if err := describeTemplate.Execute(&buf, m.cache.Items()); err != nil {
		logger.KV(xlog.ERROR, "reason", "describe", "err", err.Error())
		return ""
	}
	return buf.String()
}
