package probe_test

import (
	"context"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/toolpilot/internal/mcptest"
	"github.com/effective-security/toolpilot/mcp/client"
	"github.com/effective-security/toolpilot/mcp/transport/stdio"
	"github.com/effective-security/toolpilot/mocks/mockclient"
	"github.com/effective-security/toolpilot/probe"
	"github.com/effective-security/toolpilot/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func TestHelperProcess(t *testing.T) {
	if os.Getenv(mcptest.EnvWantHelper) != "1" {
		return
	}
	mcptest.ServeStdio(mcptest.DefaultServer())
	os.Exit(0)
}

// helperDialer launches the helper server for every Dial and ignores the
// launch command, except for the mode encoded in the first argument.
type helperDialer struct{}

func (helperDialer) Dial(ctx context.Context, launch stdio.Launch) (client.Session, error) {
	if launch.Command != "helper" {
		return client.StdioDialer{}.Dial(ctx, launch)
	}
	name, mode := launch.Args[0], launch.Args[1]
	return client.StdioDialer{}.Dial(ctx, mcptest.Launch(name, mode))
}

func helper(name, mode string) registry.Descriptor {
	return registry.Descriptor{
		Name: name,
		Server: &registry.Server{
			Command: "helper",
			Args:    []string{name, mode},
			Enabled: true,
		},
	}
}

func TestTest(t *testing.T) {
	p := probe.New(helperDialer{}, probe.WithTimeout(2*time.Second))
	ctx := context.Background()

	st := p.Test(ctx, helper("calc", mcptest.ModeNormal))
	require.True(t, st.Connected, st.Error)
	assert.NoError(t, st.Err())
	assert.Equal(t, "calc", st.Server)
	require.Len(t, st.Tools, 3)
	assert.Equal(t, "add", st.Tools[0].Name)
	assert.Equal(t, "Add two numbers", st.Tools[0].Description)
	assert.NotEmpty(t, st.Tools[0].InputSchema)

	st = p.Test(ctx, helper("broken", mcptest.ModeRPCError))
	assert.False(t, st.Connected)
	assert.Equal(t, probe.KindProtocol, st.ErrorKind)
	assert.Equal(t, "MCP error: tools/list: RPC error -32000: server is broken", st.Error)
	assert.True(t, errors.Is(st.Err(), probe.ErrConnectivity))

	st = p.Test(ctx, registry.Descriptor{Name: "nope", Server: &registry.Server{Command: "toolpilot-no-such-command"}})
	assert.False(t, st.Connected)
	assert.Equal(t, probe.KindCommandNotFound, st.ErrorKind)
	assert.Equal(t, "command 'toolpilot-no-such-command' not found: check PATH", st.Error)
	assert.Empty(t, st.Tools)
}

func TestTest_Timeout(t *testing.T) {
	p := probe.New(helperDialer{}, probe.WithTimeout(200*time.Millisecond))
	started := time.Now()
	st := p.Test(context.Background(), helper("slow", mcptest.ModeHang))
	assert.False(t, st.Connected)
	assert.Equal(t, probe.KindTimeout, st.ErrorKind)
	assert.Contains(t, st.Error, "connection timeout: server did not respond within")
	assert.Less(t, time.Since(started), 10*time.Second)
}

func TestTestAll_IsolatesFailures(t *testing.T) {
	p := probe.New(helperDialer{}, probe.WithTimeout(time.Second), probe.WithConcurrency(2))
	statuses := p.TestAll(context.Background(), []registry.Descriptor{
		helper("zeta", mcptest.ModeNormal),
		helper("github", mcptest.ModeHang),
		helper("calc", mcptest.ModeNormal),
		helper("broken", mcptest.ModeRPCError),
	})
	require.Len(t, statuses, 4)

	names := []string{}
	connected := map[string]bool{}
	for _, st := range statuses {
		names = append(names, st.Server)
		connected[st.Server] = st.Connected
	}
	assert.Equal(t, []string{"broken", "calc", "github", "zeta"}, names)
	assert.Equal(t, map[string]bool{"broken": false, "calc": true, "github": false, "zeta": true}, connected)
}

func TestTest_ClosesSession(t *testing.T) {
	ctrl := gomock.NewController(t)
	dialer := mockclient.NewMockDialer(ctrl)
	session := mockclient.NewMockSession(ctrl)

	dialer.EXPECT().Dial(gomock.Any(), gomock.Any()).Return(session, nil).Times(2)
	gomock.InOrder(
		session.EXPECT().ListTools(gomock.Any()).Return([]client.Tool{{Name: "add"}}, nil),
		session.EXPECT().Close().Return(nil),
		session.EXPECT().ListTools(gomock.Any()).Return(nil, errors.New("decode failed")),
		session.EXPECT().Close().Return(errors.New("already closed")),
	)

	p := probe.New(dialer)
	d := registry.Descriptor{Name: "calc", Server: &registry.Server{Command: "python"}}

	st := p.Test(context.Background(), d)
	require.True(t, st.Connected)
	assert.Equal(t, []probe.ToolSummary{{Name: "add"}}, st.Tools)

	st = p.Test(context.Background(), d)
	assert.False(t, st.Connected)
	assert.Equal(t, probe.KindUnknown, st.ErrorKind)
	assert.Contains(t, st.Error, "unknown error: ")
	assert.Contains(t, st.Error, " - decode failed")
}

func TestClassify(t *testing.T) {
	tcases := []struct {
		name string
		err  error
		kind probe.Kind
		msg  string
	}{
		{
			name: "deadline",
			err:  errors.Wrap(context.DeadlineExceeded, "initialize"),
			kind: probe.KindTimeout,
			msg:  "connection timeout: server did not respond within 30s",
		},
		{
			name: "not found",
			err:  errors.Wrap(&exec.Error{Name: "uvx", Err: exec.ErrNotFound}, "failed to start"),
			kind: probe.KindCommandNotFound,
			msg:  "command 'uvx' not found: check PATH",
		},
		{
			name: "no such file",
			err:  &os.PathError{Op: "fork/exec", Path: "/bin/uvx", Err: os.ErrNotExist},
			kind: probe.KindCommandNotFound,
			msg:  "command 'uvx' not found: check PATH",
		},
		{
			name: "rpc",
			err:  errors.WithMessage(&client.RPCError{Code: -32601, Message: "nope"}, "tools/list"),
			kind: probe.KindProtocol,
			msg:  "MCP error: tools/list: RPC error -32601: nope",
		},
		{
			name: "closed",
			err:  client.ErrConnectionClosed,
			kind: probe.KindProtocol,
			msg:  "MCP error: connection closed",
		},
		{
			name: "exited",
			err:  errors.Mark(errors.New("server process exited: boom"), stdio.ErrProcessExited),
			kind: probe.KindProtocol,
			msg:  "MCP error: server process exited: boom",
		},
		{
			name: "unknown",
			err:  &os.SyscallError{Syscall: "pipe", Err: os.ErrPermission},
			kind: probe.KindUnknown,
			msg:  "unknown error: *errors.errorString - pipe: permission denied",
		},
	}
	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			kind, msg := probe.Classify(tc.err, "uvx", probe.DefaultTimeout)
			assert.Equal(t, tc.kind, kind)
			assert.Equal(t, tc.msg, msg)
		})
	}

	_, msg := probe.Classify(context.DeadlineExceeded, "x", 1500*time.Millisecond)
	assert.Equal(t, "connection timeout: server did not respond within 1.5s", msg)
}
