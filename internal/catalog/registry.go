package catalog

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Registry is the unified tool catalog. Tools from every server in the
// fleet are registered here under a normalized name; the last
// registration for a name wins, earlier ones are kept around for
// conflict detection.
type Registry struct {
	mu sync.RWMutex

	tools    map[string]ToolMetadata   // normalized name -> winning registration
	history  map[string][]ToolMetadata // normalized name -> every registration
	byServer map[string][]string       // server id -> normalized names

	updatedAt time.Time
	logger    *zap.Logger
}

// NewRegistry returns an empty registry.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		tools:    make(map[string]ToolMetadata),
		history:  make(map[string][]ToolMetadata),
		byServer: make(map[string][]string),
		logger:   logger,
	}
}

// Register adds a tool to the catalog. Re-registering an existing name
// replaces the visible entry and records the clash for DetectConflicts.
func (r *Registry) Register(tool ToolMetadata) error {
	if tool.Name == "" {
		return fmt.Errorf("tool is missing a name")
	}
	if tool.ServerID == "" {
		return fmt.Errorf("tool %s is missing a server id", tool.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.tools[tool.Name]; ok && prev.ServerID != tool.ServerID {
		r.logger.Warn("tool name collision",
			zap.String("tool", tool.Name),
			zap.String("server", tool.ServerID),
			zap.String("previous_server", prev.ServerID))
	}

	r.tools[tool.Name] = tool
	r.history[tool.Name] = append(r.history[tool.Name], tool)
	if !contains(r.byServer[tool.ServerID], tool.Name) {
		r.byServer[tool.ServerID] = append(r.byServer[tool.ServerID], tool.Name)
	}
	r.updatedAt = time.Now().UTC()
	return nil
}

// ReplaceServer swaps out every tool owned by a server in one shot.
// Used when a refresh re-collects a live server.
func (r *Registry) ReplaceServer(serverID string, tools []ToolMetadata) error {
	for i := range tools {
		if tools[i].ServerID == "" {
			tools[i].ServerID = serverID
		}
		if tools[i].ServerID != serverID {
			return fmt.Errorf("tool %s belongs to %s, not %s", tools[i].Name, tools[i].ServerID, serverID)
		}
	}

	r.mu.Lock()
	r.removeServerLocked(serverID)
	r.mu.Unlock()

	for _, t := range tools {
		if err := r.Register(t); err != nil {
			return err
		}
	}
	return nil
}

// Unregister drops a single tool by normalized name, every server's
// registration of it included. It reports whether the name was known.
func (r *Registry) Unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	regs, ok := r.history[name]
	if !ok {
		return false
	}
	delete(r.history, name)
	delete(r.tools, name)
	for _, serverID := range uniqueServers(regs) {
		r.byServer[serverID] = removeString(r.byServer[serverID], name)
		if len(r.byServer[serverID]) == 0 {
			delete(r.byServer, serverID)
		}
	}
	r.updatedAt = time.Now().UTC()
	return true
}

// UnregisterServer drops every tool owned by a server.
func (r *Registry) UnregisterServer(serverID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeServerLocked(serverID)
	r.updatedAt = time.Now().UTC()
}

func (r *Registry) removeServerLocked(serverID string) {
	for _, name := range r.byServer[serverID] {
		kept := r.history[name][:0]
		for _, reg := range r.history[name] {
			if reg.ServerID != serverID {
				kept = append(kept, reg)
			}
		}
		if len(kept) == 0 {
			delete(r.history, name)
			delete(r.tools, name)
			continue
		}
		r.history[name] = kept
		r.tools[name] = kept[len(kept)-1]
	}
	delete(r.byServer, serverID)
}

// ServerIDs lists every server id with registered tools, sorted.
func (r *Registry) ServerIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.byServer))
	for id := range r.byServer {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Get returns a tool by normalized name.
func (r *Registry) Get(name string) (ToolMetadata, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// All returns every visible tool sorted by name.
func (r *Registry) All() []ToolMetadata {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortTools(r.tools)
}

// ByServer returns the tools owned by one server, sorted by name.
func (r *Registry) ByServer(serverID string) []ToolMetadata {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]ToolMetadata, len(r.byServer[serverID]))
	for _, name := range r.byServer[serverID] {
		if t, ok := r.tools[name]; ok && t.ServerID == serverID {
			out[name] = t
		}
	}
	return sortTools(out)
}

// ByCategory returns the tools in one category, sorted by name.
func (r *Registry) ByCategory(category Category) []ToolMetadata {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]ToolMetadata)
	for name, t := range r.tools {
		if t.Category == category {
			out[name] = t
		}
	}
	return sortTools(out)
}

// Search matches the query against tool names, descriptions and tags,
// case-insensitively.
func (r *Registry) Search(query string) []ToolMetadata {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return r.All()
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]ToolMetadata)
	for name, t := range r.tools {
		if strings.Contains(strings.ToLower(t.Name), q) ||
			strings.Contains(strings.ToLower(t.Description), q) ||
			tagsMatch(t.Tags, q) {
			out[name] = t
		}
	}
	return sortTools(out)
}

// DetectConflicts reports duplicate names, schema mismatches and
// version skew across all registrations seen so far.
func (r *Registry) DetectConflicts() []Conflict {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.history))
	for name := range r.history {
		names = append(names, name)
	}
	sort.Strings(names)

	var conflicts []Conflict
	for _, name := range names {
		regs := r.history[name]
		servers := uniqueServers(regs)
		if len(servers) < 2 {
			continue
		}

		conflicts = append(conflicts, Conflict{
			ToolName:  name,
			ServerIDs: servers,
			Type:      ConflictDuplicateName,
			Details:   fmt.Sprintf("tool %q is registered by %d servers", name, len(servers)),
		})

		hashes := make(map[string]struct{})
		versions := make(map[string]struct{})
		for _, reg := range regs {
			hashes[SchemaHash(reg.InputSchema)] = struct{}{}
			versions[reg.Version] = struct{}{}
		}
		if len(hashes) > 1 {
			conflicts = append(conflicts, Conflict{
				ToolName:  name,
				ServerIDs: servers,
				Type:      ConflictSchemaMismatch,
				Details:   fmt.Sprintf("tool %q has %d distinct input schemas", name, len(hashes)),
			})
		}
		if len(versions) > 1 {
			conflicts = append(conflicts, Conflict{
				ToolName:  name,
				ServerIDs: servers,
				Type:      ConflictVersion,
				Details:   fmt.Sprintf("tool %q is declared at %d different versions", name, len(versions)),
			})
		}
	}
	return conflicts
}

// Stats summarizes the current catalog, conflicts included.
func (r *Registry) Stats() Stats {
	conflicts := r.DetectConflicts()

	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := Stats{
		TotalTools:      len(r.tools),
		TotalServers:    len(r.byServer),
		ToolsByCategory: make(map[string]int),
		ToolsBySeverity: make(map[string]int),
		Conflicts:       conflicts,
	}
	for _, t := range r.tools {
		stats.ToolsByCategory[string(t.Category)]++
		stats.ToolsBySeverity[string(t.Severity)]++
		if t.Deprecated {
			stats.DeprecatedTools++
		}
	}
	return stats
}

// UpdatedAt reports when the catalog last changed.
func (r *Registry) UpdatedAt() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.updatedAt
}

func sortTools(m map[string]ToolMetadata) []ToolMetadata {
	out := make([]ToolMetadata, 0, len(m))
	for _, t := range m {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func uniqueServers(regs []ToolMetadata) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, reg := range regs {
		if _, ok := seen[reg.ServerID]; ok {
			continue
		}
		seen[reg.ServerID] = struct{}{}
		out = append(out, reg.ServerID)
	}
	sort.Strings(out)
	return out
}

func tagsMatch(tags []string, q string) bool {
	for _, tag := range tags {
		if strings.Contains(strings.ToLower(tag), q) {
			return true
		}
	}
	return false
}

func removeString(list []string, s string) []string {
	out := list[:0]
	for _, v := range list {
		if v != s {
			out = append(out, v)
		}
	}
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
