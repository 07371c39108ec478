package orchestrator

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/effective-security/toolpilot/pkg/llms"
	"github.com/effective-security/xlog"
)

// StreamFunc receives progress messages of a run.
type StreamFunc func(message string)

// Callback receives structured events of a run.
type Callback interface {
	OnLoopStart(ctx context.Context, strategy Strategy, input string)
	OnLoopEnd(ctx context.Context, strategy Strategy, result *Result)
	OnLoopError(ctx context.Context, strategy Strategy, err error)
	OnModelCallStart(ctx context.Context, turn int, payload []llms.Message)
	OnModelCallEnd(ctx context.Context, turn int, resp *llms.ContentResponse)
	OnToolStart(ctx context.Context, tool string, input string)
	OnToolEnd(ctx context.Context, tool string, input string, output string)
	OnToolError(ctx context.Context, tool string, input string, err error)
}

// NoopCallback does nothing.
type NoopCallback struct{}

func NewNoopCallback() *NoopCallback {
	return &NoopCallback{}
}

var _ Callback = (*NoopCallback)(nil)

func (l *NoopCallback) OnLoopStart(ctx context.Context, strategy Strategy, input string)       {}
func (l *NoopCallback) OnLoopEnd(ctx context.Context, strategy Strategy, result *Result)       {}
func (l *NoopCallback) OnLoopError(ctx context.Context, strategy Strategy, err error)          {}
func (l *NoopCallback) OnModelCallStart(ctx context.Context, turn int, payload []llms.Message) {}
func (l *NoopCallback) OnModelCallEnd(ctx context.Context, turn int, resp *llms.ContentResponse) {
}
func (l *NoopCallback) OnToolStart(ctx context.Context, tool string, input string)            {}
func (l *NoopCallback) OnToolEnd(ctx context.Context, tool string, input string, output string) {}
func (l *NoopCallback) OnToolError(ctx context.Context, tool string, input string, err error)  {}

// PrinterCallback is a callback handler that prints to the Writer.
type PrinterCallback struct {
	Out io.Writer

	lock sync.Mutex
}

func NewPrinterCallback(out io.Writer) *PrinterCallback {
	return &PrinterCallback{Out: out}
}

var _ Callback = (*PrinterCallback)(nil)

func (l *PrinterCallback) OnLoopStart(ctx context.Context, strategy Strategy, input string) {
	l.lock.Lock()
	defer l.lock.Unlock()
	fmt.Fprintf(l.Out, "Loop Start: %s\n", strategy.Name())
	fmt.Fprintf(l.Out, "Input: %s\n", input)
}

func (l *PrinterCallback) OnLoopEnd(ctx context.Context, strategy Strategy, result *Result) {
	l.lock.Lock()
	defer l.lock.Unlock()
	fmt.Fprintf(l.Out, "Loop End: %s, %d turns\n", strategy.Name(), result.Turns)
	if result.Response != "" {
		fmt.Fprintln(l.Out, result.Response)
	}
}

func (l *PrinterCallback) OnLoopError(ctx context.Context, strategy Strategy, err error) {
	l.lock.Lock()
	defer l.lock.Unlock()
	fmt.Fprintf(l.Out, "Loop Error: %s: %s\n", strategy.Name(), err.Error())
}

func (l *PrinterCallback) OnModelCallStart(ctx context.Context, turn int, payload []llms.Message) {
	l.lock.Lock()
	defer l.lock.Unlock()
	fmt.Fprintf(l.Out, "Model Call: turn %d, %d messages\n", turn, len(payload))
}

func (l *PrinterCallback) OnModelCallEnd(ctx context.Context, turn int, resp *llms.ContentResponse) {
	l.lock.Lock()
	defer l.lock.Unlock()
	fmt.Fprintf(l.Out, "Model Call End: turn %d, %d choices\n", turn, len(resp.Choices))
}

func (l *PrinterCallback) OnToolStart(ctx context.Context, tool string, input string) {
	l.lock.Lock()
	defer l.lock.Unlock()
	fmt.Fprintf(l.Out, "Tool Start: %s\n", tool)
	fmt.Fprintf(l.Out, "Input: %s\n", input)
}

func (l *PrinterCallback) OnToolEnd(ctx context.Context, tool string, input string, output string) {
	l.lock.Lock()
	defer l.lock.Unlock()
	fmt.Fprintf(l.Out, "Tool End: %s\n", tool)
	fmt.Fprintf(l.Out, "Output: %s\n", output)
}

func (l *PrinterCallback) OnToolError(ctx context.Context, tool string, input string, err error) {
	l.lock.Lock()
	defer l.lock.Unlock()
	fmt.Fprintf(l.Out, "Tool Error: %s: %s\n", tool, err.Error())
}

// PackageLoggerCallback is a callback handler that prints to the logger.
type PackageLoggerCallback struct {
	logger *xlog.PackageLogger
}

func NewPackageLoggerCallback(logger *xlog.PackageLogger) *PackageLoggerCallback {
	return &PackageLoggerCallback{logger: logger}
}

var _ Callback = (*PackageLoggerCallback)(nil)

func (l *PackageLoggerCallback) OnLoopStart(ctx context.Context, strategy Strategy, input string) {
	l.logger.ContextKV(ctx, xlog.DEBUG,
		"event", "loop_start",
		"strategy", strategy.Name(),
		"input", input,
	)
}

func (l *PackageLoggerCallback) OnLoopEnd(ctx context.Context, strategy Strategy, result *Result) {
	l.logger.ContextKV(ctx, xlog.DEBUG,
		"event", "loop_end",
		"strategy", strategy.Name(),
		"turns", result.Turns,
		"used_tools", result.UsedTools,
		"exhausted", result.Exhausted,
	)
}

func (l *PackageLoggerCallback) OnLoopError(ctx context.Context, strategy Strategy, err error) {
	l.logger.ContextKV(ctx, xlog.ERROR,
		"event", "loop_error",
		"strategy", strategy.Name(),
		"err", err.Error(),
	)
}

func (l *PackageLoggerCallback) OnModelCallStart(ctx context.Context, turn int, payload []llms.Message) {
	l.logger.ContextKV(ctx, xlog.DEBUG,
		"event", "model_call_start",
		"turn", turn,
		"messages", len(payload),
	)
}

func (l *PackageLoggerCallback) OnModelCallEnd(ctx context.Context, turn int, resp *llms.ContentResponse) {
	l.logger.ContextKV(ctx, xlog.DEBUG,
		"event", "model_call_end",
		"turn", turn,
		"choices", len(resp.Choices),
	)
}

func (l *PackageLoggerCallback) OnToolStart(ctx context.Context, tool string, input string) {
	l.logger.ContextKV(ctx, xlog.DEBUG,
		"event", "tool_start",
		"tool", tool,
		"input", input,
	)
}

func (l *PackageLoggerCallback) OnToolEnd(ctx context.Context, tool string, input string, output string) {
	l.logger.ContextKV(ctx, xlog.DEBUG,
		"event", "tool_end",
		"tool", tool,
		"output", output,
	)
}

func (l *PackageLoggerCallback) OnToolError(ctx context.Context, tool string, input string, err error) {
	l.logger.ContextKV(ctx, xlog.ERROR,
		"event", "tool_error",
		"tool", tool,
		"err", err.Error(),
	)
}
