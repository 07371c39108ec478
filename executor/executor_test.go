package executor_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/toolpilot/executor"
	"github.com/effective-security/toolpilot/internal/mcptest"
	"github.com/effective-security/toolpilot/mcp/client"
	"github.com/effective-security/toolpilot/mcp/transport/stdio"
	"github.com/effective-security/toolpilot/mocks/mockclient"
	"github.com/effective-security/toolpilot/mocks/mockexecutor"
	"github.com/effective-security/toolpilot/probe"
	"github.com/effective-security/toolpilot/registry"
	"github.com/effective-security/toolpilot/retry"
	"github.com/effective-security/toolpilot/toolcache"
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

type helperDialer struct{}

func (helperDialer) Dial(ctx context.Context, launch stdio.Launch) (client.Session, error) {
	return client.StdioDialer{}.Dial(ctx, mcptest.Launch(launch.Args[0], launch.Args[1]))
}

type staticServers []registry.Descriptor

func (s staticServers) EnabledServers() []registry.Descriptor {
	return s
}

func calcServer() registry.Descriptor {
	return registry.Descriptor{
		Name: "calc",
		Server: &registry.Server{
			Command: "helper",
			Args:    []string{"calc", mcptest.ModeNormal},
			Enabled: true,
		},
	}
}

func loadedCache(t *testing.T) *toolcache.Cache {
	t.Helper()
	cache := toolcache.New(probe.New(helperDialer{}, probe.WithTimeout(5*time.Second)))
	report := cache.Refresh(context.Background(), []registry.Descriptor{calcServer()})
	require.Equal(t, 3, report.Tools)
	return cache
}

func TestCall(t *testing.T) {
	cache := loadedCache(t)
	ex := executor.New(cache, staticServers{calcServer()}, helperDialer{})
	ctx := context.Background()

	res, err := ex.Call(ctx, "calc_add", map[string]any{"a": 1, "b": 2})
	require.NoError(t, err)
	assert.Equal(t, "3", res)

	res = ex.Execute(ctx, "calc_echo", map[string]any{"q": "hi"})
	assert.JSONEq(t, `{"q":"hi"}`, res)

	_, err = ex.Call(ctx, "calc_fail", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, executor.ErrToolExecution))
	assert.False(t, errors.Is(err, executor.ErrToolNotFound))
	assert.Equal(t, "tool execution failed: tool 'calc_fail' returned an error: boom", ex.Execute(ctx, "calc_fail", nil))

	_, err = ex.Call(ctx, "calc_nope", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, executor.ErrToolNotFound))
	assert.Equal(t, "Error: tool 'calc_nope' not found", ex.Execute(ctx, "calc_nope", nil))
}

func TestCall_ServerDisabled(t *testing.T) {
	cache := loadedCache(t)
	ex := executor.New(cache, staticServers{}, helperDialer{})

	_, err := ex.Call(context.Background(), "calc_add", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, executor.ErrToolNotFound))
	assert.Equal(t, "Error: server 'calc' not found for tool 'calc_add'", ex.Execute(context.Background(), "calc_add", nil))
}

func TestCall_Mocked(t *testing.T) {
	cache := loadedCache(t)
	ctrl := gomock.NewController(t)
	dialer := mockclient.NewMockDialer(ctrl)
	agent := mockexecutor.NewMockAgent(ctrl)
	session := mockclient.NewMockSession(ctrl)

	ex := executor.New(cache, staticServers{calcServer()}, dialer,
		executor.WithAgent(agent),
		executor.WithRetry(retry.Policy{Attempts: 2, Name: "tool"}),
		executor.WithCallTimeout(time.Second),
	)
	ctx := context.Background()

	t.Run("dial_error", func(t *testing.T) {
		dialer.EXPECT().Dial(gomock.Any(), gomock.Any()).Return(nil, errors.New("exec: not found")).Times(2)
		_, err := ex.Call(ctx, "calc_add", nil)
		require.Error(t, err)
		assert.True(t, errors.Is(err, executor.ErrToolExecution))
		assert.Equal(t, "unable to connect to 'calc': exec: not found", err.Error())
	})

	t.Run("retry_then_success", func(t *testing.T) {
		args := map[string]any{"a": 1}
		gomock.InOrder(
			dialer.EXPECT().Dial(gomock.Any(), gomock.Any()).Return(session, nil),
			agent.EXPECT().Run(gomock.Any(), session, gomock.Any(), args).Return("", errors.New("transient")),
			session.EXPECT().Close().Return(nil),
			dialer.EXPECT().Dial(gomock.Any(), gomock.Any()).Return(session, nil),
			agent.EXPECT().Run(gomock.Any(), session, gomock.Any(), args).
				DoAndReturn(func(_ context.Context, _ client.Session, tool toolcache.Tool, _ map[string]any) (string, error) {
					assert.Equal(t, "calc_add", tool.Key)
					assert.Equal(t, "add", tool.Name)
					return "ok", nil
				}),
			session.EXPECT().Close().Return(errors.New("already closed")),
		)
		res, err := ex.Call(ctx, "calc_add", args)
		require.NoError(t, err)
		assert.Equal(t, "ok", res)
	})
}

func TestFormatError(t *testing.T) {
	assert.Equal(t, "Error: tool 'x' not found",
		executor.FormatError(errors.Mark(errors.New("tool 'x' not found"), executor.ErrToolNotFound)))
	assert.Equal(t, "tool execution failed: broken pipe",
		executor.FormatError(errors.New("broken pipe")))
}
