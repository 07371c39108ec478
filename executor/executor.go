// Package executor runs one tool call against its owning tool server.
//
// Every call opens its own session to the server process and releases it
// before returning; no connection is kept between calls.
package executor

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/toolpilot/mcp/client"
	"github.com/effective-security/toolpilot/pkg/metricskey"
	"github.com/effective-security/toolpilot/registry"
	"github.com/effective-security/toolpilot/retry"
	"github.com/effective-security/toolpilot/toolcache"
	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/toolpilot", "executor")

//go:generate mockgen -source=executor.go -destination=../mocks/mockexecutor/executor_mock.gen.go -package mockexecutor

var (
	// ErrToolNotFound is returned when the tool or its server is unknown.
	ErrToolNotFound = errors.New("tool not found")
	// ErrToolExecution is returned when the tool server fails the call.
	ErrToolExecution = errors.New("tool execution failed")
)

// Runner executes tools by qualified key.
type Runner interface {
	// Call executes the tool. Errors are marked with ErrToolNotFound or
	// ErrToolExecution.
	Call(ctx context.Context, key string, args map[string]any) (string, error)
	// Execute is Call with failures rendered as text. It never fails.
	Execute(ctx context.Context, key string, args map[string]any) string
}

// Agent performs the call over an open session.
type Agent interface {
	Run(ctx context.Context, session client.Session, tool toolcache.Tool, args map[string]any) (string, error)
}

// ServerSource lists the enabled tool servers.
type ServerSource interface {
	EnabledServers() []registry.Descriptor
}

// Option configures an Executor.
type Option func(*Executor)

// WithAgent overrides the default DirectAgent.
func WithAgent(agent Agent) Option {
	return func(e *Executor) {
		e.agent = agent
	}
}

// WithRetry wraps each call in the retry policy.
// Tools may not be idempotent, so the default is a single attempt.
func WithRetry(p retry.Policy) Option {
	return func(e *Executor) {
		e.retry = p
	}
}

// WithCallTimeout bounds one call including the server start.
func WithCallTimeout(d time.Duration) Option {
	return func(e *Executor) {
		e.timeout = d
	}
}

// Executor is the Runner over per-call MCP sessions.
type Executor struct {
	cache   *toolcache.Cache
	servers ServerSource
	dialer  client.Dialer
	agent   Agent
	retry   retry.Policy
	timeout time.Duration
}

var _ Runner = (*Executor)(nil)

// New returns an Executor.
func New(cache *toolcache.Cache, servers ServerSource, dialer client.Dialer, opts ...Option) *Executor {
	e := &Executor{
		cache:   cache,
		servers: servers,
		dialer:  dialer,
		agent:   DirectAgent{},
		retry:   retry.Policy{Attempts: 1, Name: "tool"},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute implements Runner.
func (e *Executor) Execute(ctx context.Context, key string, args map[string]any) string {
	res, err := e.Call(ctx, key, args)
	if err != nil {
		return FormatError(err)
	}
	return res
}

// FormatError renders a Call error as an observation for the model.
func FormatError(err error) string {
	if errors.Is(err, ErrToolNotFound) {
		return "Error: " + err.Error()
	}
	return "tool execution failed: " + err.Error()
}

// Call implements Runner.
func (e *Executor) Call(ctx context.Context, key string, args map[string]any) (string, error) {
	tool, ok := e.cache.Get(key)
	if !ok {
		metricskey.StatsToolCallsNotFound.IncrCounter(1, key)
		return "", errors.Mark(errors.Newf("tool '%s' not found", key), ErrToolNotFound)
	}

	server, ok := e.enabledServer(tool.Server)
	if !ok {
		metricskey.StatsToolCallsNotFound.IncrCounter(1, key)
		return "", errors.Mark(errors.Newf("server '%s' not found for tool '%s'", tool.Server, key), ErrToolNotFound)
	}

	started := time.Now()
	defer metricskey.PerfToolCall.MeasureSince(started, key)

	res, err := retry.Do(ctx, e.retry, func(ctx context.Context) (string, error) {
		return e.callOnce(ctx, server, tool, args)
	})
	if err != nil {
		metricskey.StatsToolCallsFailed.IncrCounter(1, key)
		logger.ContextKV(ctx, xlog.ERROR,
			"tool", key,
			"server", tool.Server,
			"err", err.Error(),
		)
		return "", errors.Mark(err, ErrToolExecution)
	}

	metricskey.StatsToolCallsSucceeded.IncrCounter(1, key)
	logger.ContextKV(ctx, xlog.DEBUG,
		"tool", key,
		"size", len(res),
		"elapsed", time.Since(started).String(),
	)
	return res, nil
}

func (e *Executor) enabledServer(name string) (registry.Descriptor, bool) {
	for _, d := range e.servers.EnabledServers() {
		if d.Name == name {
			return d, true
		}
	}
	return registry.Descriptor{}, false
}

func (e *Executor) callOnce(ctx context.Context, server registry.Descriptor, tool toolcache.Tool, args map[string]any) (string, error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	session, err := e.dialer.Dial(ctx, server.Launch())
	if err != nil {
		return "", errors.WithMessagef(err, "unable to connect to '%s'", server.Name)
	}
	defer func() {
		if cerr := session.Close(); cerr != nil {
			logger.KV(xlog.DEBUG, "server", server.Name, "reason", "close", "err", cerr.Error())
		}
	}()

	return e.agent.Run(ctx, session, tool, args)
}
