// Package toolcache keeps the tool metadata discovered from the enabled
// tool servers. Each refresh builds a new generation and publishes it with a
// single atomic swap, so readers never observe a partial refresh.
package toolcache

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/effective-security/toolpilot/pkg/metricskey"
	"github.com/effective-security/toolpilot/probe"
	"github.com/effective-security/toolpilot/registry"
	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/toolpilot", "toolcache")

// Tool is one cached tool.
type Tool struct {
	// Key is the qualified key, {server}_{tool}.
	Key         string
	Server      string
	Name        string
	Description string
	// InputSchema is the native schema reported by the server. Read only.
	InputSchema map[string]any
}

// Key returns the qualified key for a server tool.
func Key(server, tool string) string {
	return server + "_" + tool
}

// ServerReport is the refresh outcome for one server.
type ServerReport struct {
	Server    string
	Connected bool
	Tools     int
	ErrorKind probe.Kind
	Error     string
}

// RefreshReport describes one refresh.
type RefreshReport struct {
	Servers     []ServerReport
	Tools       int
	Fingerprint uint64
	// Changed is true when the new generation differs from the previous one.
	Changed  bool
	Duration time.Duration
}

type generation struct {
	tools       map[string]*Tool
	keys        []string
	fingerprint uint64
	refreshedAt time.Time
}

var emptyGeneration = &generation{tools: map[string]*Tool{}}

// Cache is the tool cache. It is safe for concurrent use.
type Cache struct {
	prober probe.Prober
	gen    atomic.Pointer[generation]
}

// New returns an empty cache that refreshes through prober.
func New(prober probe.Prober) *Cache {
	c := &Cache{prober: prober}
	c.gen.Store(emptyGeneration)
	return c
}

// Refresh probes every given server concurrently and replaces the cache
// contents with the tools of the servers that connected. Failed servers
// contribute nothing and never fail the refresh.
func (c *Cache) Refresh(ctx context.Context, servers []registry.Descriptor) *RefreshReport {
	started := time.Now()
	statuses := c.prober.TestAll(ctx, servers)

	report := &RefreshReport{
		Servers: make([]ServerReport, 0, len(statuses)),
	}
	next := &generation{
		tools:       map[string]*Tool{},
		refreshedAt: time.Now(),
	}

	for _, st := range statuses {
		sr := ServerReport{
			Server:    st.Server,
			Connected: st.Connected,
			ErrorKind: st.ErrorKind,
			Error:     st.Error,
		}
		if st.Connected {
			for _, t := range st.Tools {
				key := Key(st.Server, t.Name)
				if prev, ok := next.tools[key]; ok {
					logger.ContextKV(ctx, xlog.WARNING,
						"reason", "duplicate_key",
						"key", key,
						"kept", prev.Server,
						"dropped", st.Server,
					)
					continue
				}
				next.tools[key] = &Tool{
					Key:         key,
					Server:      st.Server,
					Name:        t.Name,
					Description: t.Description,
					InputSchema: t.InputSchema,
				}
				sr.Tools++
			}
		}
		report.Servers = append(report.Servers, sr)
	}

	next.keys = make([]string, 0, len(next.tools))
	for key := range next.tools {
		next.keys = append(next.keys, key)
	}
	sort.Strings(next.keys)
	next.fingerprint = fingerprint(next)

	prev := c.gen.Swap(next)

	report.Tools = len(next.keys)
	report.Fingerprint = next.fingerprint
	report.Changed = prev.fingerprint != next.fingerprint || len(prev.keys) != len(next.keys)
	report.Duration = time.Since(started)

	changed := strconv.FormatBool(report.Changed)
	metricskey.StatsCacheRefreshed.IncrCounter(1, changed)
	metricskey.PerfCacheRefresh.MeasureSince(started, changed)

	logger.ContextKV(ctx, xlog.INFO,
		"status", "refreshed",
		"servers", len(statuses),
		"tools", report.Tools,
		"changed", report.Changed,
		"elapsed", report.Duration.String(),
	)
	return report
}

func fingerprint(g *generation) uint64 {
	if len(g.keys) == 0 {
		return 0
	}
	h := xxhash.New()
	for _, key := range g.keys {
		t := g.tools[key]
		_, _ = h.WriteString(key)
		_, _ = h.Write([]byte{0})
		_, _ = h.WriteString(t.Description)
		_, _ = h.Write([]byte{0})
		// map keys are sorted by encoding/json
		js, _ := json.Marshal(t.InputSchema)
		_, _ = h.Write(js)
		_, _ = h.Write([]byte{0})
	}
	return h.Sum64()
}

// Get returns a copy of the tool by qualified key.
func (c *Cache) Get(key string) (Tool, bool) {
	t, ok := c.gen.Load().tools[key]
	if !ok {
		return Tool{}, false
	}
	return *t, true
}

// Contains reports whether the qualified key is cached.
func (c *Cache) Contains(key string) bool {
	_, ok := c.gen.Load().tools[key]
	return ok
}

// Items returns copies of all tools sorted by key.
func (c *Cache) Items() []Tool {
	g := c.gen.Load()
	list := make([]Tool, 0, len(g.keys))
	for _, key := range g.keys {
		list = append(list, *g.tools[key])
	}
	return list
}

// Len returns the number of cached tools.
func (c *Cache) Len() int {
	return len(c.gen.Load().keys)
}

// Fingerprint returns the fingerprint of the current generation, zero when empty.
func (c *Cache) Fingerprint() uint64 {
	return c.gen.Load().fingerprint
}

// RefreshedAt returns the time of the last refresh, zero before the first.
func (c *Cache) RefreshedAt() time.Time {
	return c.gen.Load().refreshedAt
}

// Resolve maps a name to a qualified key: the name itself when cached,
// otherwise the single key that ends with "_"+name.
func (c *Cache) Resolve(name string) (string, bool) {
	g := c.gen.Load()
	if _, ok := g.tools[name]; ok {
		return name, true
	}
	suffix := "_" + name
	found := ""
	for _, key := range g.keys {
		if strings.HasSuffix(key, suffix) {
			if found != "" {
				logger.KV(xlog.DEBUG, "reason", "ambiguous", "name", name, "keys", []string{found, key})
				return "", false
			}
			found = key
		}
	}
	return found, found != ""
}
