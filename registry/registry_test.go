package registry

import (
	"os"
	"sync"
	"testing"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func srv(enabled bool) *Server {
	return &Server{Command: "python", Args: []string{"-m", "tool"}, Enabled: enabled}
}

func TestLoad(t *testing.T) {
	r, err := New(&Config{
		Servers: map[string]*Server{
			"calc":   srv(true),
			"github": srv(true),
			"off":    srv(false),
		},
		DefaultServer: "calc",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"calc", "github", "off"}, r.Names())
	assert.Equal(t, "calc", r.DefaultServer())

	enabled := r.ListEnabled()
	require.Len(t, enabled, 2)
	assert.Equal(t, "calc", enabled[0].Name)
	assert.Equal(t, "github", enabled[1].Name)

	_, ok := r.Enabled("off")
	assert.False(t, ok)
	_, ok = r.Enabled("calc")
	assert.True(t, ok)

	t.Run("invalid load keeps state", func(t *testing.T) {
		err := r.Load(&Config{Servers: map[string]*Server{
			"good": srv(true),
			"bad":  {Enabled: true},
		}})
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrConfiguration))
		assert.Equal(t, []string{"calc", "github", "off"}, r.Names())
	})

	t.Run("unknown default dropped", func(t *testing.T) {
		r2, err := New(&Config{Servers: map[string]*Server{"a": srv(true)}, DefaultServer: "zzz"})
		require.NoError(t, err)
		assert.Empty(t, r2.DefaultServer())
	})

	t.Run("disabled", func(t *testing.T) {
		r2, err := New(&Config{Servers: map[string]*Server{"a": srv(true)}, Disabled: true})
		require.NoError(t, err)
		assert.Empty(t, r2.ListEnabled())
		_, ok := r2.Enabled("a")
		assert.False(t, ok)
	})
}

func TestMutations(t *testing.T) {
	r, err := New(nil)
	require.NoError(t, err)

	tcases := []struct {
		name string
		op   func() error
		err  string
	}{
		{"add empty name", func() error { return r.Add("", srv(true)) }, "server name cannot be empty"},
		{"add no command", func() error { return r.Add("x", &Server{}) }, "Command"},
		{"add nil", func() error { return r.Add("x", nil) }, "descriptor is missing"},
		{"add", func() error { return r.Add("calc", srv(true)) }, ""},
		{"add duplicate", func() error { return r.Add("calc", srv(false)) }, `server "calc" already exists`},
		{"update missing", func() error { return r.Update("nope", srv(true)) }, `server "nope" not found`},
		{"update", func() error { return r.Update("calc", srv(false)) }, ""},
		{"default missing", func() error { return r.SetDefault("nope") }, `server "nope" not found`},
		{"default", func() error { return r.SetDefault("calc") }, ""},
		{"remove missing", func() error { return r.Remove("nope") }, `server "nope" not found`},
		{"remove", func() error { return r.Remove("calc") }, ""},
	}
	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.op()
			if tc.err == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.err)
			assert.True(t, errors.Is(err, ErrConfiguration))
		})
	}

	// removing the default clears it
	assert.Empty(t, r.DefaultServer())
	assert.Empty(t, r.Names())

	require.NoError(t, r.Add("a", srv(true)))
	require.NoError(t, r.SetDefault("a"))
	require.NoError(t, r.SetDefault(""))
	assert.Empty(t, r.DefaultServer())
}

func TestClones(t *testing.T) {
	s := srv(true)
	s.Env = map[string]string{"K": "V"}
	r, err := New(nil)
	require.NoError(t, err)
	require.NoError(t, r.Add("a", s))

	s.Args[0] = "changed"
	s.Env["K"] = "changed"

	got, ok := r.Get("a")
	require.True(t, ok)
	assert.Equal(t, "-m", got.Args[0])
	assert.Equal(t, "V", got.Env["K"])

	got.Enabled = false
	got.Env["K"] = "mutated"
	list := r.ListEnabled()
	require.Len(t, list, 1)
	assert.Equal(t, "V", list[0].Env["K"])

	snap := r.Snapshot()
	snap.Servers["a"].Command = "other"
	got, _ = r.Get("a")
	assert.Equal(t, "python", got.Command)

	_, ok = r.Get("missing")
	assert.False(t, ok)
}

func TestConcurrentAccess(t *testing.T) {
	r, err := New(nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		name := gofakeit.UUID()
		go func() {
			defer wg.Done()
			assert.NoError(t, r.Add(name, srv(true)))
		}()
		go func() {
			defer wg.Done()
			_ = r.ListEnabled()
		}()
	}
	wg.Wait()
	assert.Len(t, r.Names(), 20)
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	r, err := New(cfg)
	require.NoError(t, err)

	gh, ok := r.Get("github")
	require.True(t, ok)
	assert.False(t, gh.Enabled)
	assert.Equal(t, "npx", gh.Command)
	assert.Equal(t, []string{"-y", "@modelcontextprotocol/server-github"}, gh.Args)

	enabled := r.ListEnabled()
	require.Len(t, enabled, 1)
	assert.Equal(t, "test", enabled[0].Name)
}

func TestLaunchEnv(t *testing.T) {
	t.Setenv("TOOLPILOT_TEST_TOKEN", "secret")
	d := Descriptor{Name: "a", Server: &Server{
		Command: "python",
		Args:    []string{"srv.py"},
		Env:     map[string]string{"TOKEN": "${TOOLPILOT_TEST_TOKEN}", "PYTHONUNBUFFERED": "1"},
	}}
	l := d.Launch()
	assert.Equal(t, "python", l.Command)
	assert.Equal(t, []string{"srv.py"}, l.Args)

	assert.Contains(t, l.Env, "TOKEN=secret")
	assert.Contains(t, l.Env, "PYTHONIOENCODING=utf-8")
	// overrides come last so they win
	assert.Equal(t, "PYTHONIOENCODING=utf-8", l.Env[len(l.Env)-1])
	assert.Equal(t, "PYTHONUNBUFFERED=0", l.Env[len(l.Env)-2])
	assert.GreaterOrEqual(t, len(l.Env), len(os.Environ())+2)
}
