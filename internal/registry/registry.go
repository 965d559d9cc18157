// Package registry implements the Named Server Registry (C7): an
// immutable set of Named Server Entries loaded either from CLI flags or
// from a JSON config file, and the Spawn Descriptor construction that
// turns one entry plus a request's headers into a fully-resolved
// child.Spawn.
//
// Config loading goes through github.com/viant/afs rather than os.Open,
// the way example/fs/implementer.go reads registry-adjacent files
// through afs.Service.DownloadWithURL instead of the stdlib, so a
// --named-server-config path can be any afs-addressable location (local
// path, or a remote URL scheme afs supports) without a second code path.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"

	"github.com/viant/afs"

	"github.com/kestrelnet/mcp-proxy/internal/child"
)

// namePattern is the allowed Named Server Entry name shape (spec §4.3).
var namePattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// Entry is one named server: its command line, static environment, and
// which inbound HTTP headers get projected into the child's environment.
type Entry struct {
	Name        string            `json:"-"`
	Command     string            `json:"command"`
	Args        []string          `json:"args,omitempty"`
	Env         map[string]string `json:"env,omitempty"`
	Cwd         string            `json:"cwd,omitempty"`
	Enabled     *bool             `json:"enabled,omitempty"`
	HeaderToEnv map[string]string `json:"headerToEnv,omitempty"`
	PassEnviron bool              `json:"passEnvironment,omitempty"`
}

// IsEnabled reports whether the entry should be spawned, defaulting to
// true when Enabled is unset.
func (e Entry) IsEnabled() bool {
	return e.Enabled == nil || *e.Enabled
}

// Registry is the immutable set of Named Server Entries resolved at
// startup, keyed by name.
type Registry struct {
	entries map[string]Entry
}

// Validate checks name against the Named Server Entry pattern.
func Validate(name string) error {
	if !namePattern.MatchString(name) {
		return fmt.Errorf("registry: invalid named server name %q: must match %s", name, namePattern.String())
	}
	return nil
}

// New builds a Registry from already-validated entries, keyed by name.
func New(entries map[string]Entry) (*Registry, error) {
	r := &Registry{entries: make(map[string]Entry, len(entries))}
	for name, e := range entries {
		if err := Validate(name); err != nil {
			return nil, err
		}
		e.Name = name
		r.entries[name] = e
	}
	return r, nil
}

// Lookup returns the named entry, or ok=false if it does not exist or is
// disabled.
func (r *Registry) Lookup(name string) (Entry, bool) {
	e, ok := r.entries[name]
	if !ok || !e.IsEnabled() {
		return Entry{}, false
	}
	return e, true
}

// Names returns every enabled entry's name.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.entries))
	for name, e := range r.entries {
		if e.IsEnabled() {
			names = append(names, name)
		}
	}
	return names
}

// configFile is the top-level shape of a --named-server-config document.
type configFile struct {
	McpServers map[string]Entry `json:"mcpServers"`
}

// Load reads a Named Server Registry config file through afs, tolerating
// and ignoring any fields it does not model (e.g. "timeout",
// "transportType" in upstream mcp.json-style files), per spec §4.3.
func Load(ctx context.Context, url string) (*Registry, error) {
	fs := afs.New()
	data, err := fs.DownloadWithURL(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("registry: read config %q: %w", url, err)
	}
	var cfg configFile
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("registry: parse config %q: %w", url, err)
	}
	for name, e := range cfg.McpServers {
		if e.Command == "" {
			return nil, fmt.Errorf("registry: named server %q is missing a required command", name)
		}
	}
	return New(cfg.McpServers)
}

// Spawn resolves e against an inbound request's headers (nil when there
// is no ingress HTTP request, e.g. mode 1's own stdio peer) and the
// process environment, applying the precedence rule: static Env, then
// HeaderToEnv-derived values, then (if PassEnviron) the parent process's
// own environment — each later source overriding the earlier one on key
// conflict (spec §4.4).
func (e Entry) Spawn(header http.Header, parentEnv []string) child.Spawn {
	merged := make(map[string]string, len(e.Env)+len(e.HeaderToEnv))
	for k, v := range e.Env {
		merged[k] = v
	}
	if header != nil {
		for headerName, envName := range e.HeaderToEnv {
			if v := header.Get(headerName); v != "" {
				merged[envName] = v
			}
		}
	}

	// os/exec keeps only the last occurrence of a duplicate key, so the
	// append order below must match static_env, header_derived_env,
	// parent_env — later overriding earlier, per the Spawn Descriptor's
	// precedence rule even though that lets an inherited parent_environ
	// variable override an explicit header-derived one.
	env := make([]string, 0, len(merged)+len(parentEnv))
	for k, v := range merged {
		env = append(env, k+"="+v)
	}
	if e.PassEnviron {
		env = append(env, parentEnv...)
	}
	return child.Spawn{
		Command: e.Command,
		Args:    e.Args,
		Dir:     e.Cwd,
		Env:     env,
	}
}
