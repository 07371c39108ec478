// Package probe tests tool server reachability and lists their tools.
package probe

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/toolpilot/mcp/client"
	"github.com/effective-security/toolpilot/mcp/transport/stdio"
	"github.com/effective-security/toolpilot/pkg/metricskey"
	"github.com/effective-security/toolpilot/registry"
	"github.com/effective-security/xlog"
	"golang.org/x/sync/errgroup"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/toolpilot", "probe")

//go:generate mockgen -source=probe.go -destination=../mocks/mockprobe/probe_mock.gen.go -package mockprobe

const (
	// DefaultTimeout bounds one probe from spawn to tools/list.
	DefaultTimeout = 30 * time.Second
	// DefaultConcurrency bounds parallel probes in TestAll.
	DefaultConcurrency = 8
)

// ErrConnectivity is the class of all probe failures.
var ErrConnectivity = errors.New("connectivity error")

// Kind classifies a probe failure.
type Kind string

// Failure kinds.
const (
	KindTimeout         Kind = "timeout"
	KindCommandNotFound Kind = "command_not_found"
	KindProtocol        Kind = "protocol_error"
	KindUnknown         Kind = "unknown_error"
)

// ToolSummary is one tool reported by a server.
type ToolSummary struct {
	Name        string
	Description string
	InputSchema map[string]any
}

// Status is the outcome of one probe. It is created fresh on every probe.
type Status struct {
	Server    string
	Connected bool
	Tools     []ToolSummary
	// ErrorKind and Error are set when Connected is false.
	ErrorKind Kind
	Error     string
}

// Err returns the failure as an error marked with ErrConnectivity,
// or nil for a connected server.
func (s *Status) Err() error {
	if s.Connected {
		return nil
	}
	return errors.Mark(errors.Newf("%s: %s", s.Server, s.Error), ErrConnectivity)
}

// Prober tests tool servers.
type Prober interface {
	// Test probes one server. It never fails; failures are reported in the Status.
	Test(ctx context.Context, server registry.Descriptor) *Status
	// TestAll probes servers concurrently and returns statuses sorted by server name.
	TestAll(ctx context.Context, servers []registry.Descriptor) []*Status
}

// Option configures a Probe.
type Option func(*Probe)

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(p *Probe) {
		p.timeout = d
	}
}

// WithConcurrency overrides DefaultConcurrency.
func WithConcurrency(n int) Option {
	return func(p *Probe) {
		p.concurrency = n
	}
}

// Probe is the Prober over MCP sessions.
type Probe struct {
	dialer      client.Dialer
	timeout     time.Duration
	concurrency int
}

var _ Prober = (*Probe)(nil)

// New returns a Probe that opens sessions with dialer.
func New(dialer client.Dialer, opts ...Option) *Probe {
	p := &Probe{
		dialer:      dialer,
		timeout:     DefaultTimeout,
		concurrency: DefaultConcurrency,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Test implements Prober.
func (p *Probe) Test(ctx context.Context, server registry.Descriptor) *Status {
	started := time.Now()
	defer metricskey.PerfProbe.MeasureSince(started, server.Name)

	status := &Status{Server: server.Name}
	tools, err := p.listTools(ctx, server)
	if err != nil {
		status.ErrorKind, status.Error = Classify(err, server.Command, p.timeout)
		metricskey.StatsProbeFailed.IncrCounter(1, server.Name, string(status.ErrorKind))
		logger.ContextKV(ctx, xlog.ERROR,
			"server", server.Name,
			"kind", status.ErrorKind,
			"err", err.Error(),
		)
		return status
	}

	status.Connected = true
	status.Tools = tools
	metricskey.StatsProbeSucceeded.IncrCounter(1, server.Name)
	logger.ContextKV(ctx, xlog.DEBUG,
		"server", server.Name,
		"tools", len(tools),
		"elapsed", time.Since(started).String(),
	)
	return status
}

func (p *Probe) listTools(ctx context.Context, server registry.Descriptor) ([]ToolSummary, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	if server.Server == nil {
		return nil, errors.Newf("server %q has no descriptor", server.Name)
	}

	session, err := p.dialer.Dial(ctx, server.Launch())
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := session.Close(); cerr != nil {
			logger.KV(xlog.DEBUG, "server", server.Name, "reason", "close", "err", cerr.Error())
		}
	}()

	list, err := session.ListTools(ctx)
	if err != nil {
		return nil, err
	}
	tools := make([]ToolSummary, 0, len(list))
	for _, t := range list {
		tools = append(tools, ToolSummary{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.InputSchema,
		})
	}
	return tools, nil
}

// TestAll implements Prober. One failing server never affects the others.
func (p *Probe) TestAll(ctx context.Context, servers []registry.Descriptor) []*Status {
	statuses := make([]*Status, len(servers))

	// probe errors are carried in the Status, so the group never cancels
	g := new(errgroup.Group)
	if p.concurrency > 0 {
		g.SetLimit(p.concurrency)
	}
	for i, server := range servers {
		g.Go(func() error {
			statuses[i] = p.Test(ctx, server)
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(statuses, func(i, j int) bool { return statuses[i].Server < statuses[j].Server })
	return statuses
}

// Classify maps a probe error to its kind and human readable message.
func Classify(err error, command string, timeout time.Duration) (Kind, string) {
	var rpcErr *client.RPCError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout, fmt.Sprintf("connection timeout: server did not respond within %s", formatSeconds(timeout))
	case errors.Is(err, exec.ErrNotFound), errors.Is(err, os.ErrNotExist):
		return KindCommandNotFound, fmt.Sprintf("command '%s' not found: check PATH", command)
	case errors.As(err, &rpcErr),
		errors.Is(err, client.ErrConnectionClosed),
		errors.Is(err, stdio.ErrProcessExited):
		return KindProtocol, "MCP error: " + err.Error()
	default:
		cause := errors.UnwrapAll(err)
		return KindUnknown, fmt.Sprintf("unknown error: %T - %s", cause, err.Error())
	}
}

func formatSeconds(d time.Duration) string {
	if d%time.Second == 0 {
		return fmt.Sprintf("%ds", int(d/time.Second))
	}
	return d.String()
}
