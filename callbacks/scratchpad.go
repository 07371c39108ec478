package callbacks

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/toolpilot/executor"
	"github.com/effective-security/toolpilot/orchestrator"
	"github.com/effective-security/toolpilot/pkg/llms"
	"github.com/effective-security/toolpilot/pkg/llmutils"
)

var TimeNowFn = time.Now

type RunStats struct {
	RunID string

	Duration            time.Duration
	Turns               uint32
	TotalMessages       uint32
	LLMBytesOut         uint64
	LLMBytesIn          uint64
	LLMInputTokens      uint64
	LLMOutputTokens     uint64
	LLMTotalTokens      uint64
	LLMCalls            uint32
	ToolsCalls          uint32
	ToolsCallsSucceeded uint32
	ToolsCallsFailed    uint32
	ToolNotFound        uint32
	Exhausted           bool
	Failed              bool
}

// Scratchpad records a transcript and statistics of one run.
type Scratchpad struct {
	mode    Mode
	started time.Time
	stats   RunStats

	w    bytes.Buffer
	lock sync.Mutex
}

func NewScratchpad(runID string, mode Mode) *Scratchpad {
	return &Scratchpad{
		mode:  mode,
		stats: RunStats{RunID: runID},
	}
}

// Stats returns the statistics collected so far.
func (l *Scratchpad) Stats() RunStats {
	l.lock.Lock()
	defer l.lock.Unlock()
	return l.stats
}

// Bytes returns the transcript.
func (l *Scratchpad) Bytes() []byte {
	l.lock.Lock()
	defer l.lock.Unlock()
	return bytes.Clone(l.w.Bytes())
}

func (l *Scratchpad) OnLoopStart(ctx context.Context, strategy orchestrator.Strategy, input string) {
	l.lock.Lock()
	l.started = TimeNowFn()
	l.lock.Unlock()

	l.print("*** Run Started ***", strategy.Name())
	l.print("Input:", input)
}

func (l *Scratchpad) OnLoopEnd(ctx context.Context, strategy orchestrator.Strategy, result *orchestrator.Result) {
	l.lock.Lock()
	l.stats.Exhausted = result.Exhausted
	l.stats.Duration = TimeNowFn().Sub(l.started)
	l.lock.Unlock()

	if l.mode == ModeVerbose {
		l.print("Output:", result.Response)
	}
	l.printSummary()
}

func (l *Scratchpad) OnLoopError(ctx context.Context, strategy orchestrator.Strategy, err error) {
	l.lock.Lock()
	l.stats.Failed = true
	l.stats.Duration = TimeNowFn().Sub(l.started)
	l.lock.Unlock()

	l.print("*** Error ***", err.Error())
	l.printSummary()
}

func (l *Scratchpad) printSummary() {
	stats := l.Stats()
	l.print(fmt.Sprintf("Tool calls: %d, Failed: %d, Not Found: %d",
		stats.ToolsCalls,
		stats.ToolsCallsFailed,
		stats.ToolNotFound,
	))
	l.print(fmt.Sprintf("LLM calls: %d, Messages: %d, Bytes Out: %d, Bytes In: %d, Input Tokens: %d, Output Tokens: %d, Total Tokens: %d",
		stats.LLMCalls,
		stats.TotalMessages,
		stats.LLMBytesOut,
		stats.LLMBytesIn,
		stats.LLMInputTokens,
		stats.LLMOutputTokens,
		stats.LLMTotalTokens,
	))
	l.print(fmt.Sprintf("*** Run Ended. Turns: %d, Duration: %s ***", stats.Turns, stats.Duration))
}

func (l *Scratchpad) OnModelCallStart(ctx context.Context, turn int, payload []llms.Message) {
	count := uint32(len(payload))
	l.lock.Lock()
	l.stats.Turns = uint32(turn)
	l.stats.LLMCalls++
	l.stats.TotalMessages += count
	l.stats.LLMBytesOut += llmutils.CountMessagesContentSize(payload)
	l.lock.Unlock()

	l.print("*** LLM Call ***", fmt.Sprintf("turn %d, %d messages", turn, count))
	if l.mode == ModeVerbose {
		l.print(printMessages(payload))
	}
}

func (l *Scratchpad) OnModelCallEnd(ctx context.Context, turn int, resp *llms.ContentResponse) {
	tokensIn, tokensOut, tokensTotal := llmutils.CountTokens(resp)
	l.lock.Lock()
	l.stats.LLMBytesIn += llmutils.CountResponseContentSize(resp)
	l.stats.LLMInputTokens += uint64(tokensIn)
	l.stats.LLMOutputTokens += uint64(tokensOut)
	l.stats.LLMTotalTokens += uint64(tokensTotal)
	l.lock.Unlock()

	l.print("*** LLM Call End ***", fmt.Sprintf("turn %d, %d input tokens, %d output tokens, %d total tokens", turn, tokensIn, tokensOut, tokensTotal))
}

func (l *Scratchpad) OnToolStart(ctx context.Context, tool string, input string) {
	l.lock.Lock()
	l.stats.ToolsCalls++
	l.lock.Unlock()

	l.print(tool, "*** Tool Start ***")
	l.print(tool, "Input:", input)
}

func (l *Scratchpad) OnToolEnd(ctx context.Context, tool string, input string, output string) {
	l.lock.Lock()
	l.stats.ToolsCallsSucceeded++
	l.lock.Unlock()

	if l.mode == ModeVerbose {
		l.print(tool, "Output:", output)
	}
	l.print(tool, "*** Tool End ***")
}

func (l *Scratchpad) OnToolError(ctx context.Context, tool string, input string, err error) {
	notFound := errors.Is(err, executor.ErrToolNotFound)
	l.lock.Lock()
	if notFound {
		l.stats.ToolNotFound++
	} else {
		l.stats.ToolsCallsFailed++
	}
	l.lock.Unlock()

	if notFound {
		l.print(tool, "*** Tool Not Found ***")
		return
	}
	l.print(tool, "*** Tool Error ***", err.Error())
}

func printMessages(messages []llms.Message) string {
	var buf strings.Builder
	buf.WriteString("Messages:\n")
	for idx, msg := range messages {
		fmt.Fprintf(&buf, "[%d] %s:\n", idx, msg.Role)
		textParts := 0
		toolParts := 0
		toolResponseParts := 0
		for _, part := range msg.Parts {
			switch typ := part.(type) {
			case llms.TextContent:
				textParts++
			case llms.ToolCall:
				toolParts++
				buf.WriteString("  - ")
				buf.WriteString(typ.String())
				buf.WriteString("\n")
			case llms.ToolCallResponse:
				toolResponseParts++
				buf.WriteString("  - ")
				buf.WriteString(typ.String())
				buf.WriteString("\n")
			}
		}

		fmt.Fprintf(&buf, "  - %d texts, %d tool calls, %d tool responses\n", textParts, toolParts, toolResponseParts)
	}
	return buf.String()
}

// print writes the entries to the transcript in the following format:
// timestamp runID entry entry\n
func (l *Scratchpad) print(entries ...string) {
	l.lock.Lock()
	defer l.lock.Unlock()

	ts := TimeNowFn().Format("2006-01-02 15:04:05")

	_, _ = l.w.WriteString(ts)
	_, _ = l.w.WriteString(" ")
	_, _ = l.w.WriteString(l.stats.RunID)
	_, _ = l.w.WriteString(" ")
	_, _ = l.w.WriteString(strings.Join(entries, " "))
	_, _ = l.w.WriteString("\n")
}
