package fleet

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied to definitions that leave restart tuning unset.
const (
	DefaultMaxRestarts    = 5
	DefaultBackoffBase    = 500 * time.Millisecond
	DefaultBackoffCap     = 30 * time.Second
	DefaultRestartWindow  = 10 * time.Minute
	DefaultStartupTimeout = 30 * time.Second
)

// ProbeType selects how a server's health is checked.
type ProbeType string

const (
	// ProbeHTTP issues a GET against the probe URL; any 2xx is healthy.
	ProbeHTTP ProbeType = "http"
	// ProbeStdio runs an MCP initialize handshake against a fresh
	// instance of the server command over stdio.
	ProbeStdio ProbeType = "stdio"
)

// ProbeSpec describes the health probe for a server. A nil probe means
// the process is considered healthy for as long as it is alive.
type ProbeSpec struct {
	Type ProbeType `yaml:"type" json:"type"`
	URL  string    `yaml:"url,omitempty" json:"url,omitempty"`
}

// RestartPolicy bounds automatic restarts after unexpected exits or
// failed health probes.
type RestartPolicy struct {
	MaxRestarts    int `yaml:"max_restarts,omitempty" json:"max_restarts,omitempty"`
	BackoffBaseMS  int `yaml:"backoff_base_ms,omitempty" json:"backoff_base_ms,omitempty"`
	BackoffCapMS   int `yaml:"backoff_cap_ms,omitempty" json:"backoff_cap_ms,omitempty"`
	WindowSeconds  int `yaml:"window_seconds,omitempty" json:"window_seconds,omitempty"`
	TimeoutSeconds int `yaml:"startup_timeout_seconds,omitempty" json:"startup_timeout_seconds,omitempty"`
}

// BackoffBase returns the configured or default backoff base.
func (p RestartPolicy) BackoffBase() time.Duration {
	if p.BackoffBaseMS > 0 {
		return time.Duration(p.BackoffBaseMS) * time.Millisecond
	}
	return DefaultBackoffBase
}

// BackoffCap returns the configured or default backoff ceiling.
func (p RestartPolicy) BackoffCap() time.Duration {
	if p.BackoffCapMS > 0 {
		return time.Duration(p.BackoffCapMS) * time.Millisecond
	}
	return DefaultBackoffCap
}

// Window returns the sliding window within which MaxRestarts applies.
func (p RestartPolicy) Window() time.Duration {
	if p.WindowSeconds > 0 {
		return time.Duration(p.WindowSeconds) * time.Second
	}
	return DefaultRestartWindow
}

// Limit returns the configured or default restart budget.
func (p RestartPolicy) Limit() int {
	if p.MaxRestarts > 0 {
		return p.MaxRestarts
	}
	return DefaultMaxRestarts
}

// StartupTimeout returns how long a server may stay in STARTING before
// the probe must pass.
func (p RestartPolicy) StartupTimeout() time.Duration {
	if p.TimeoutSeconds > 0 {
		return time.Duration(p.TimeoutSeconds) * time.Second
	}
	return DefaultStartupTimeout
}

// Definition describes one supervised MCP tool server.
type Definition struct {
	ID        string            `yaml:"id" json:"id"`
	Command   string            `yaml:"command" json:"command"`
	Args      []string          `yaml:"args,omitempty" json:"args,omitempty"`
	Dir       string            `yaml:"dir,omitempty" json:"dir,omitempty"`
	Env       map[string]string `yaml:"env,omitempty" json:"env,omitempty"`
	DependsOn []string          `yaml:"depends_on,omitempty" json:"depends_on,omitempty"`
	Probe     *ProbeSpec        `yaml:"probe,omitempty" json:"probe,omitempty"`
	Restart   RestartPolicy     `yaml:"restart,omitempty" json:"restart,omitempty"`
}

// ExpandedEnv resolves ${VAR} references in the definition's env map
// against the process environment and returns KEY=VALUE pairs.
func (d Definition) ExpandedEnv() []string {
	if len(d.Env) == 0 {
		return nil
	}
	keys := make([]string, 0, len(d.Env))
	for k := range d.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+os.ExpandEnv(d.Env[k]))
	}
	return out
}

// UnsetEnvRefs reports ${VAR} references in the env map that resolve to
// nothing in the current environment.
func (d Definition) UnsetEnvRefs() []string {
	var unset []string
	for _, v := range d.Env {
		for _, ref := range extractEnvRefs(v) {
			if os.Getenv(ref) == "" {
				unset = append(unset, ref)
			}
		}
	}
	sort.Strings(unset)
	return unset
}

func extractEnvRefs(s string) []string {
	var refs []string
	for {
		start := strings.Index(s, "${")
		if start < 0 {
			return refs
		}
		end := strings.Index(s[start:], "}")
		if end < 0 {
			return refs
		}
		refs = append(refs, s[start+2:start+end])
		s = s[start+end+1:]
	}
}

type fleetFile struct {
	Servers []Definition `yaml:"servers" json:"servers"`
}

// mcpServersFile is the claude_desktop_config-compatible shape: a map of
// server name to command/args/env.
type mcpServersFile struct {
	McpServers map[string]struct {
		Command string            `json:"command"`
		Args    []string          `json:"args"`
		Env     map[string]string `json:"env"`
	} `json:"mcpServers"`
}

// LoadFile reads a fleet definition file. YAML fleet files use a
// top-level "servers" list; JSON files may instead carry an "mcpServers"
// object for compatibility with MCP client configs.
func LoadFile(path string) ([]Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fleet config %s: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return parseJSON(data)
	default:
		return parseYAML(data)
	}
}

func parseYAML(data []byte) ([]Definition, error) {
	var f fleetFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("invalid fleet config: %w", err)
	}
	if err := Validate(f.Servers); err != nil {
		return nil, err
	}
	return f.Servers, nil
}

func parseJSON(data []byte) ([]Definition, error) {
	var f fleetFile
	if err := json.Unmarshal(data, &f); err == nil && len(f.Servers) > 0 {
		if err := Validate(f.Servers); err != nil {
			return nil, err
		}
		return f.Servers, nil
	}

	var mc mcpServersFile
	if err := json.Unmarshal(data, &mc); err != nil {
		return nil, fmt.Errorf("invalid fleet config: %w", err)
	}
	if len(mc.McpServers) == 0 {
		return nil, fmt.Errorf("fleet config defines no servers")
	}

	names := make([]string, 0, len(mc.McpServers))
	for name := range mc.McpServers {
		names = append(names, name)
	}
	sort.Strings(names)

	defs := make([]Definition, 0, len(names))
	for _, name := range names {
		entry := mc.McpServers[name]
		defs = append(defs, Definition{
			ID:      name,
			Command: entry.Command,
			Args:    entry.Args,
			Env:     entry.Env,
			Probe:   &ProbeSpec{Type: ProbeStdio},
		})
	}
	if err := Validate(defs); err != nil {
		return nil, err
	}
	return defs, nil
}

// Validate checks a set of definitions for structural problems: missing
// fields, duplicate ids, unknown dependencies, cyclic dependencies, and
// malformed probes.
func Validate(defs []Definition) error {
	if len(defs) == 0 {
		return fmt.Errorf("fleet config defines no servers")
	}

	byID := make(map[string]bool, len(defs))
	for _, d := range defs {
		if d.ID == "" {
			return fmt.Errorf("server definition is missing an id")
		}
		if byID[d.ID] {
			return fmt.Errorf("duplicate server id %q", d.ID)
		}
		byID[d.ID] = true

		if d.Command == "" {
			return fmt.Errorf("server %q is missing a command", d.ID)
		}
		if d.Probe != nil {
			switch d.Probe.Type {
			case ProbeHTTP:
				if d.Probe.URL == "" {
					return fmt.Errorf("server %q: http probe requires a url", d.ID)
				}
			case ProbeStdio:
			default:
				return fmt.Errorf("server %q: unknown probe type %q", d.ID, d.Probe.Type)
			}
		}
	}

	for _, d := range defs {
		for _, dep := range d.DependsOn {
			if !byID[dep] {
				return fmt.Errorf("server %q depends on unknown server %q", d.ID, dep)
			}
			if dep == d.ID {
				return fmt.Errorf("server %q depends on itself", d.ID)
			}
		}
	}

	if _, err := StartOrder(defs); err != nil {
		return err
	}
	return nil
}

// StartOrder returns the ids in dependency order (dependencies before
// dependents) using Kahn's algorithm. Ties break alphabetically so the
// order is deterministic. Returns an error on a dependency cycle.
func StartOrder(defs []Definition) ([]string, error) {
	indegree := make(map[string]int, len(defs))
	dependents := make(map[string][]string, len(defs))
	for _, d := range defs {
		indegree[d.ID] += 0
		for _, dep := range d.DependsOn {
			indegree[d.ID]++
			dependents[dep] = append(dependents[dep], d.ID)
		}
	}

	var ready []string
	for id, deg := range indegree {
		if deg == 0 {
			ready = append(ready, id)
		}
	}
	sort.Strings(ready)

	order := make([]string, 0, len(defs))
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		order = append(order, id)

		next := dependents[id]
		sort.Strings(next)
		for _, dep := range next {
			indegree[dep]--
			if indegree[dep] == 0 {
				ready = append(ready, dep)
			}
		}
		sort.Strings(ready)
	}

	if len(order) != len(defs) {
		var stuck []string
		for id, deg := range indegree {
			if deg > 0 {
				stuck = append(stuck, id)
			}
		}
		sort.Strings(stuck)
		return nil, fmt.Errorf("dependency cycle among servers: %s", strings.Join(stuck, ", "))
	}
	return order, nil
}
