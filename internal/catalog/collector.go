package catalog

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stoewer/go-strcase"
	"go.uber.org/zap"

	"github.com/devskyy/mcpfleet/internal/fleet"
)

// SessionOpener dials a short-lived MCP session against a server
// definition. fleet.OpenSession is the production implementation.
type SessionOpener func(ctx context.Context, def fleet.Definition) (*mcp.ClientSession, error)

// Collector pulls tool listings out of MCP servers and folds them into
// the registry.
type Collector struct {
	registry *Registry
	open     SessionOpener
	logger   *zap.Logger
	timeout  time.Duration
}

// NewCollector returns a collector feeding the given registry. A nil
// opener falls back to fleet.OpenSession.
func NewCollector(registry *Registry, open SessionOpener, logger *zap.Logger) *Collector {
	if open == nil {
		open = fleet.OpenSession
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Collector{
		registry: registry,
		open:     open,
		logger:   logger,
		timeout:  30 * time.Second,
	}
}

// CollectServer lists one server's tools and replaces its registry
// entries with the result.
func (c *Collector) CollectServer(ctx context.Context, def fleet.Definition) ([]ToolMetadata, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	session, err := c.open(ctx, def)
	if err != nil {
		return nil, fmt.Errorf("collect %s: %w", def.ID, err)
	}
	defer func() { _ = session.Close() }()

	var tools []ToolMetadata
	var cursor string
	for {
		res, err := session.ListTools(ctx, &mcp.ListToolsParams{Cursor: cursor})
		if err != nil {
			return nil, fmt.Errorf("list tools on %s: %w", def.ID, err)
		}
		for _, t := range res.Tools {
			tools = append(tools, toolMetadata(def.ID, t))
		}
		if res.NextCursor == "" {
			break
		}
		cursor = res.NextCursor
	}

	if err := c.registry.ReplaceServer(def.ID, tools); err != nil {
		return nil, err
	}
	c.logger.Info("collected tools",
		zap.String("server", def.ID),
		zap.Int("count", len(tools)))
	return tools, nil
}

// CollectAll collects every definition, skipping servers that fail to
// answer. It returns the per-server tool counts and the first error
// encountered, if any.
func (c *Collector) CollectAll(ctx context.Context, defs []fleet.Definition) (map[string]int, error) {
	counts := make(map[string]int, len(defs))
	var firstErr error
	for _, def := range defs {
		tools, err := c.CollectServer(ctx, def)
		if err != nil {
			c.logger.Warn("tool collection failed",
				zap.String("server", def.ID),
				zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		counts[def.ID] = len(tools)
	}
	return counts, firstErr
}

// toolMetadata maps one wire tool onto catalog metadata. Names are
// normalized to snake_case so servers written in different naming
// conventions land in one namespace. Servers can pin category,
// severity, version and deprecation through _meta; anything they leave
// out falls back to the name heuristics.
func toolMetadata(serverID string, t *mcp.Tool) ToolMetadata {
	inputSchema, _ := t.InputSchema.(*jsonschema.Schema)
	outputSchema, _ := t.OutputSchema.(*jsonschema.Schema)
	meta := ToolMetadata{
		Name:         strcase.SnakeCase(t.Name),
		Description:  t.Description,
		ServerID:     serverID,
		InputSchema:  inputSchema,
		OutputSchema: outputSchema,
		Version:      catalogVersion,
	}

	if t.Annotations != nil {
		meta.ReadOnly = t.Annotations.ReadOnlyHint
		meta.Idempotent = t.Annotations.IdempotentHint
	}

	applyMetaHints(&meta, t.Meta)

	if meta.Category == "" {
		meta.Category = classifyCategory(meta.Name, serverID)
	}
	if meta.Severity == "" {
		meta.Severity = classifySeverity(meta)
	}
	return meta
}

// applyMetaHints copies recognized _meta keys onto the metadata.
// Malformed values are ignored rather than failing the collection.
func applyMetaHints(meta *ToolMetadata, m mcp.Meta) {
	if len(m) == 0 {
		return
	}
	if s, ok := m["category"].(string); ok {
		if c, err := ParseCategory(s); err == nil {
			meta.Category = c
		}
	}
	if s, ok := m["severity"].(string); ok {
		if sv, err := ParseSeverity(s); err == nil {
			meta.Severity = sv
		}
	}
	if s, ok := m["version"].(string); ok && s != "" {
		meta.Version = s
	}
	if b, ok := m["deprecated"].(bool); ok {
		meta.Deprecated = b
	}
	if s, ok := m["deprecation_message"].(string); ok {
		meta.DeprecationMessage = s
	}
}

var categoryKeywords = []struct {
	category Category
	keywords []string
}{
	{CategoryCommerce, []string{"product", "order", "cart", "price", "pricing", "checkout", "inventory"}},
	{CategoryContent, []string{"content", "post", "page", "article", "blog", "seo"}},
	{CategoryMedia, []string{"image", "video", "media", "asset", "photo"}},
	{CategoryCommunication, []string{"email", "sms", "notify", "message", "slack"}},
	{CategoryAnalytics, []string{"report", "metric", "analytic", "stat", "dashboard"}},
	{CategorySecurity, []string{"auth", "token", "permission", "secret", "credential"}},
	{CategoryAI, []string{"generate", "predict", "classify", "embed", "agent", "llm"}},
	{CategoryOperations, []string{"deploy", "restart", "backup", "migrate", "scale"}},
	{CategoryIntegration, []string{"sync", "webhook", "import", "export", "connect"}},
}

func classifyCategory(name, serverID string) Category {
	haystack := strings.ToLower(name + " " + serverID)
	for _, group := range categoryKeywords {
		for _, kw := range group.keywords {
			if strings.Contains(haystack, kw) {
				return group.category
			}
		}
	}
	return CategorySystem
}

var destructiveVerbs = []string{"delete", "remove", "drop", "purge", "destroy", "wipe"}

var writeVerbs = []string{"create", "update", "set", "write", "publish", "send", "run", "execute"}

func classifySeverity(meta ToolMetadata) Severity {
	if meta.ReadOnly {
		return SeverityReadOnly
	}
	name := strings.ToLower(meta.Name)
	for _, verb := range destructiveVerbs {
		if strings.Contains(name, verb) {
			return SeverityDestructive
		}
	}
	for _, verb := range writeVerbs {
		if strings.Contains(name, verb) {
			return SeverityMedium
		}
	}
	for _, prefix := range []string{"get_", "list_", "search_", "read_", "describe_"} {
		if strings.HasPrefix(name, prefix) {
			return SeverityLow
		}
	}
	return SeverityMedium
}
