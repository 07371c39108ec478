// Package callbacks has orchestrator.Callback handlers that fan out events
// and collect per-run statistics.
package callbacks

import (
	"context"

	"github.com/effective-security/toolpilot/orchestrator"
	"github.com/effective-security/toolpilot/pkg/llms"
)

// ensure that the callbacks implement the correct interfaces
var (
	_ orchestrator.Callback = (*Fanout)(nil)
	_ orchestrator.Callback = (*Scratchpad)(nil)
)

// Mode defines the mode for callback printing
type Mode int

const (
	// ModeDefault is the default mode for callback printing
	ModeDefault Mode = iota
	// ModeVerbose is the verbose mode for callback printing
	ModeVerbose
)

// Fanout is a callback handler that forwards the events to multiple callbacks.
type Fanout struct {
	callbacks []orchestrator.Callback
}

func NewFanout(callbacks ...orchestrator.Callback) *Fanout {
	return &Fanout{callbacks: callbacks}
}

func (l *Fanout) Add(callback orchestrator.Callback) {
	l.callbacks = append(l.callbacks, callback)
}

func (l *Fanout) OnLoopStart(ctx context.Context, strategy orchestrator.Strategy, input string) {
	for _, callback := range l.callbacks {
		callback.OnLoopStart(ctx, strategy, input)
	}
}

func (l *Fanout) OnLoopEnd(ctx context.Context, strategy orchestrator.Strategy, result *orchestrator.Result) {
	for _, callback := range l.callbacks {
		callback.OnLoopEnd(ctx, strategy, result)
	}
}

func (l *Fanout) OnLoopError(ctx context.Context, strategy orchestrator.Strategy, err error) {
	for _, callback := range l.callbacks {
		callback.OnLoopError(ctx, strategy, err)
	}
}

func (l *Fanout) OnModelCallStart(ctx context.Context, turn int, payload []llms.Message) {
	for _, callback := range l.callbacks {
		callback.OnModelCallStart(ctx, turn, payload)
	}
}

func (l *Fanout) OnModelCallEnd(ctx context.Context, turn int, resp *llms.ContentResponse) {
	for _, callback := range l.callbacks {
		callback.OnModelCallEnd(ctx, turn, resp)
	}
}

func (l *Fanout) OnToolStart(ctx context.Context, tool string, input string) {
	for _, callback := range l.callbacks {
		callback.OnToolStart(ctx, tool, input)
	}
}

func (l *Fanout) OnToolEnd(ctx context.Context, tool string, input string, output string) {
	for _, callback := range l.callbacks {
		callback.OnToolEnd(ctx, tool, input, output)
	}
}

func (l *Fanout) OnToolError(ctx context.Context, tool string, input string, err error) {
	for _, callback := range l.callbacks {
		callback.OnToolError(ctx, tool, input, err)
	}
}
