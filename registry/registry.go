// Package registry holds the tool server descriptors.
package registry

import (
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/toolpilot/mcp/transport/stdio"
	"github.com/effective-security/xlog"
	"github.com/go-playground/validator/v10"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/toolpilot", "registry")

// ErrConfiguration is the class of all registry validation failures.
var ErrConfiguration = errors.New("configuration error")

// Server describes how to launch one tool server.
type Server struct {
	Command     string            `json:"command" yaml:"command" toml:"command" validate:"required"`
	Args        []string          `json:"args,omitempty" yaml:"args,omitempty" toml:"args,omitempty"`
	Env         map[string]string `json:"env,omitempty" yaml:"env,omitempty" toml:"env,omitempty"`
	Enabled     bool              `json:"enabled" yaml:"enabled" toml:"enabled"`
	Description string            `json:"description,omitempty" yaml:"description,omitempty" toml:"description,omitempty"`
}

// Clone returns a deep copy.
func (s *Server) Clone() *Server {
	if s == nil {
		return nil
	}
	c := *s
	if s.Args != nil {
		c.Args = append([]string(nil), s.Args...)
	}
	if s.Env != nil {
		c.Env = make(map[string]string, len(s.Env))
		for k, v := range s.Env {
			c.Env[k] = v
		}
	}
	return &c
}

// Descriptor is a named Server.
type Descriptor struct {
	Name string
	*Server
}

// Config is the persisted registry state.
type Config struct {
	Servers       map[string]*Server `json:"mcpServers" yaml:"mcpServers" toml:"mcpServers"`
	DefaultServer string             `json:"defaultServer,omitempty" yaml:"defaultServer,omitempty" toml:"defaultServer,omitempty"`
	// Disabled turns off all tool servers.
	Disabled bool `json:"disabled,omitempty" yaml:"disabled,omitempty" toml:"disabled,omitempty"`
}

// DefaultConfig returns the built-in server set.
func DefaultConfig() *Config {
	return &Config{
		Servers: map[string]*Server{
			"github": {
				Command:     "npx",
				Args:        []string{"-y", "@modelcontextprotocol/server-github"},
				Env:         map[string]string{"GITHUB_PERSONAL_ACCESS_TOKEN": "${GITHUB_PERSONAL_ACCESS_TOKEN}"},
				Enabled:     false,
				Description: "GitHub repositories, issues and pull requests",
			},
			"test": {
				Command:     "python",
				Args:        []string{"-m", "mcp_tools.test_tool"},
				Enabled:     true,
				Description: "Test tool server",
			},
		},
	}
}

// Registry is the set of server descriptors. It is safe for concurrent use.
type Registry struct {
	lock          sync.RWMutex
	servers       map[string]*Server
	defaultServer string
	disabled      bool
}

// New returns a registry loaded from cfg. A nil cfg gives an empty registry.
func New(cfg *Config) (*Registry, error) {
	r := &Registry{servers: map[string]*Server{}}
	if cfg != nil {
		if err := r.Load(cfg); err != nil {
			return nil, err
		}
	}
	return r, nil
}

var validate = validator.New()

func validateServer(name string, s *Server) error {
	if strings.TrimSpace(name) == "" {
		return errors.Mark(errors.New("server name cannot be empty"), ErrConfiguration)
	}
	if s == nil {
		return errors.Mark(errors.Newf("server %q: descriptor is missing", name), ErrConfiguration)
	}
	if err := validate.Struct(s); err != nil {
		return errors.Mark(errors.Wrapf(err, "server %q", name), ErrConfiguration)
	}
	return nil
}

// Load replaces the full descriptor set. Nothing changes when any
// descriptor is invalid.
func (r *Registry) Load(cfg *Config) error {
	servers := make(map[string]*Server, len(cfg.Servers))
	for name, s := range cfg.Servers {
		if err := validateServer(name, s); err != nil {
			return err
		}
		servers[name] = s.Clone()
	}
	def := cfg.DefaultServer
	if def != "" && servers[def] == nil {
		logger.KV(xlog.WARNING, "reason", "unknown_default", "server", def)
		def = ""
	}

	r.lock.Lock()
	r.servers = servers
	r.defaultServer = def
	r.disabled = cfg.Disabled
	r.lock.Unlock()

	logger.KV(xlog.DEBUG, "status", "loaded", "servers", len(servers), "default", def)
	return nil
}

// Add registers a new server.
func (r *Registry) Add(name string, s *Server) error {
	if err := validateServer(name, s); err != nil {
		return err
	}

	r.lock.Lock()
	defer r.lock.Unlock()
	if _, ok := r.servers[name]; ok {
		return errors.Mark(errors.Newf("server %q already exists", name), ErrConfiguration)
	}
	r.servers[name] = s.Clone()
	return nil
}

// Update replaces an existing server.
func (r *Registry) Update(name string, s *Server) error {
	if err := validateServer(name, s); err != nil {
		return err
	}

	r.lock.Lock()
	defer r.lock.Unlock()
	if _, ok := r.servers[name]; !ok {
		return errors.Mark(errors.Newf("server %q not found", name), ErrConfiguration)
	}
	r.servers[name] = s.Clone()
	return nil
}

// Remove deletes a server, clearing the default if it pointed there.
func (r *Registry) Remove(name string) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	if _, ok := r.servers[name]; !ok {
		return errors.Mark(errors.Newf("server %q not found", name), ErrConfiguration)
	}
	delete(r.servers, name)
	if r.defaultServer == name {
		r.defaultServer = ""
	}
	return nil
}

// Get returns a copy of the named server.
func (r *Registry) Get(name string) (*Server, bool) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	s, ok := r.servers[name]
	if !ok {
		return nil, false
	}
	return s.Clone(), true
}

// Names returns all server names, sorted.
func (r *Registry) Names() []string {
	r.lock.RLock()
	defer r.lock.RUnlock()
	names := make([]string, 0, len(r.servers))
	for name := range r.servers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ListEnabled returns copies of the enabled servers sorted by name.
// It is empty when the registry is disabled as a whole.
func (r *Registry) ListEnabled() []Descriptor {
	r.lock.RLock()
	defer r.lock.RUnlock()
	if r.disabled {
		return nil
	}
	list := make([]Descriptor, 0, len(r.servers))
	for name, s := range r.servers {
		if s.Enabled {
			list = append(list, Descriptor{Name: name, Server: s.Clone()})
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })
	return list
}

// Enabled returns the enabled server by name.
func (r *Registry) Enabled(name string) (*Server, bool) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	if r.disabled {
		return nil, false
	}
	s, ok := r.servers[name]
	if !ok || !s.Enabled {
		return nil, false
	}
	return s.Clone(), true
}

// DefaultServer returns the default server name, or empty.
func (r *Registry) DefaultServer() string {
	r.lock.RLock()
	defer r.lock.RUnlock()
	return r.defaultServer
}

// SetDefault sets the default server. An empty name clears it.
func (r *Registry) SetDefault(name string) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	if name != "" {
		if _, ok := r.servers[name]; !ok {
			return errors.Mark(errors.Newf("server %q not found", name), ErrConfiguration)
		}
	}
	r.defaultServer = name
	return nil
}

// Snapshot returns the current state as a Config.
func (r *Registry) Snapshot() *Config {
	r.lock.RLock()
	defer r.lock.RUnlock()
	cfg := &Config{
		Servers:       make(map[string]*Server, len(r.servers)),
		DefaultServer: r.defaultServer,
		Disabled:      r.disabled,
	}
	for name, s := range r.servers {
		cfg.Servers[name] = s.Clone()
	}
	return cfg
}

// Environment variables forced on every spawned server so that Python
// servers do not buffer or mis-encode stdout.
var launchEnvOverrides = []string{
	"PYTHONUNBUFFERED=0",
	"PYTHONIOENCODING=utf-8",
}

// LaunchEnv returns the process environment merged with the server env,
// in KEY=VALUE form. Later entries win.
func LaunchEnv(s *Server) []string {
	env := os.Environ()
	keys := make([]string, 0, len(s.Env))
	for k := range s.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+os.ExpandEnv(s.Env[k]))
	}
	return append(env, launchEnvOverrides...)
}

// Launch returns the process description for the server.
func (d Descriptor) Launch() stdio.Launch {
	return stdio.Launch{
		Command: d.Command,
		Args:    append([]string(nil), d.Args...),
		Env:     LaunchEnv(d.Server),
	}
}
