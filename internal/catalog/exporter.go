package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"go.uber.org/zap"
)

// Format identifies an export document format.
type Format string

const (
	FormatOpenAI    Format = "openai"
	FormatAnthropic Format = "anthropic"
	FormatMCP       Format = "mcp"
	FormatJSON      Format = "json"
	FormatMarkdown  Format = "markdown"
)

// Formats lists every supported export format.
func Formats() []Format {
	return []Format{FormatOpenAI, FormatAnthropic, FormatMCP, FormatJSON, FormatMarkdown}
}

// ParseFormat validates a format string from user input.
func ParseFormat(s string) (Format, error) {
	for _, f := range Formats() {
		if string(f) == strings.ToLower(strings.TrimSpace(s)) {
			return f, nil
		}
	}
	return "", fmt.Errorf("unknown export format %q", s)
}

func (f Format) ext() string {
	if f == FormatMarkdown {
		return "md"
	}
	return "json"
}

// OpenAITool is one entry in the OpenAI function-calling document.
type OpenAITool struct {
	Type     string         `json:"type"`
	Function OpenAIFunction `json:"function"`
}

type OpenAIFunction struct {
	Name        string             `json:"name"`
	Description string             `json:"description"`
	Parameters  *jsonschema.Schema `json:"parameters"`
}

// AnthropicTool is one entry in the Anthropic tool-use document.
type AnthropicTool struct {
	Name        string             `json:"name"`
	Description string             `json:"description"`
	InputSchema *jsonschema.Schema `json:"input_schema"`
}

// MCPTool is one entry in the MCP wire-format document.
type MCPTool struct {
	Name        string             `json:"name"`
	Description string             `json:"description"`
	InputSchema *jsonschema.Schema `json:"inputSchema"`
	Annotations map[string]bool    `json:"annotations,omitempty"`
}

// MCPDocument is the MCP wire-format export.
type MCPDocument struct {
	Tools       []MCPTool `json:"tools"`
	Version     string    `json:"version"`
	GeneratedAt time.Time `json:"generated_at"`
}

// Document is the structured JSON export, also used as the changelog
// baseline.
type Document struct {
	Catalog CatalogDocument `json:"catalog"`
}

type CatalogDocument struct {
	Version     string         `json:"version"`
	GeneratedAt time.Time      `json:"generated_at"`
	Statistics  Stats          `json:"statistics"`
	Tools       []ToolMetadata `json:"tools"`
}

const catalogVersion = "1.0.0"

// Exporter renders the registry into export documents.
type Exporter struct {
	registry *Registry
	logger   *zap.Logger
	now      func() time.Time
}

// NewExporter wraps a registry.
func NewExporter(registry *Registry, logger *zap.Logger) *Exporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Exporter{registry: registry, logger: logger, now: time.Now}
}

// OpenAIDocument renders the catalog as OpenAI function definitions.
// Deprecated tools are omitted.
func (e *Exporter) OpenAIDocument() []OpenAITool {
	tools := []OpenAITool{}
	for _, t := range e.registry.All() {
		if t.Deprecated {
			continue
		}
		tools = append(tools, OpenAITool{
			Type: "function",
			Function: OpenAIFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.InputSchema,
			},
		})
	}
	return tools
}

// AnthropicDocument renders the catalog as Anthropic tool definitions.
// Deprecated tools are omitted.
func (e *Exporter) AnthropicDocument() []AnthropicTool {
	tools := []AnthropicTool{}
	for _, t := range e.registry.All() {
		if t.Deprecated {
			continue
		}
		tools = append(tools, AnthropicTool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.InputSchema,
		})
	}
	return tools
}

// MCPDocument renders the catalog in MCP wire format, deprecated tools
// included.
func (e *Exporter) MCPDocument() MCPDocument {
	tools := []MCPTool{}
	for _, t := range e.registry.All() {
		out := MCPTool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.InputSchema,
		}
		if t.ReadOnly || t.Idempotent {
			out.Annotations = map[string]bool{}
			if t.ReadOnly {
				out.Annotations["readOnlyHint"] = true
			}
			if t.Idempotent {
				out.Annotations["idempotentHint"] = true
			}
		}
		tools = append(tools, out)
	}
	return MCPDocument{
		Tools:       tools,
		Version:     catalogVersion,
		GeneratedAt: e.now().UTC(),
	}
}

// JSONDocument renders the full structured catalog with statistics.
func (e *Exporter) JSONDocument() Document {
	return Document{
		Catalog: CatalogDocument{
			Version:     catalogVersion,
			GeneratedAt: e.now().UTC(),
			Statistics:  e.registry.Stats(),
			Tools:       e.registry.All(),
		},
	}
}

// MarkdownDocument renders human-readable catalog documentation.
func (e *Exporter) MarkdownDocument() string {
	var b strings.Builder
	fmt.Fprintf(&b, "# MCP Tool Catalog\n\n")
	fmt.Fprintf(&b, "**Generated**: %s\n\n", e.now().UTC().Format("2006-01-02 15:04:05 UTC"))

	stats := e.registry.Stats()
	fmt.Fprintf(&b, "## Statistics\n\n")
	fmt.Fprintf(&b, "- **Total Tools**: %d\n", stats.TotalTools)
	fmt.Fprintf(&b, "- **Total Servers**: %d\n", stats.TotalServers)
	fmt.Fprintf(&b, "- **Deprecated Tools**: %d\n\n", stats.DeprecatedTools)

	fmt.Fprintf(&b, "### Tools by Category\n\n")
	categories := make([]string, 0, len(stats.ToolsByCategory))
	for c := range stats.ToolsByCategory {
		categories = append(categories, c)
	}
	sort.Strings(categories)
	for _, c := range categories {
		fmt.Fprintf(&b, "- **%s**: %d\n", titleCase(c), stats.ToolsByCategory[c])
	}
	b.WriteString("\n")

	if len(stats.Conflicts) > 0 {
		fmt.Fprintf(&b, "### Conflicts Detected\n\n")
		for _, c := range stats.Conflicts {
			fmt.Fprintf(&b, "- **%s**: %s (servers: %s)\n", c.ToolName, c.Type, strings.Join(c.ServerIDs, ", "))
		}
		b.WriteString("\n")
	}

	for _, category := range Categories() {
		tools := e.registry.ByCategory(category)
		if len(tools) == 0 {
			continue
		}
		fmt.Fprintf(&b, "## %s Tools\n\n", titleCase(string(category)))

		for _, t := range tools {
			deprecated := ""
			if t.Deprecated {
				deprecated = " (DEPRECATED)"
			}
			fmt.Fprintf(&b, "### `%s`%s\n\n", t.Name, deprecated)
			fmt.Fprintf(&b, "**Description**: %s\n\n", t.Description)
			fmt.Fprintf(&b, "- **Server**: `%s`\n", t.ServerID)
			fmt.Fprintf(&b, "- **Severity**: %s\n", t.Severity)
			fmt.Fprintf(&b, "- **Read-only**: %t\n", t.ReadOnly)
			fmt.Fprintf(&b, "- **Idempotent**: %t\n", t.Idempotent)
			if len(t.Tags) > 0 {
				fmt.Fprintf(&b, "- **Tags**: %s\n", strings.Join(t.Tags, ", "))
			}
			if len(t.RequiredPermissions) > 0 {
				fmt.Fprintf(&b, "- **Permissions**: %s\n", strings.Join(t.RequiredPermissions, ", "))
			}
			if t.InputSchema != nil {
				schema, err := json.MarshalIndent(t.InputSchema, "", "  ")
				if err == nil {
					fmt.Fprintf(&b, "\n**Input Schema**:\n```json\n%s\n```\n", schema)
				}
			}
			b.WriteString("\n")
		}
	}
	return b.String()
}

// WriteFile exports one format to the given path, creating parent
// directories as needed.
func (e *Exporter) WriteFile(format Format, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create export directory: %w", err)
	}

	var data []byte
	var err error
	switch format {
	case FormatOpenAI:
		data, err = json.MarshalIndent(e.OpenAIDocument(), "", "  ")
	case FormatAnthropic:
		data, err = json.MarshalIndent(e.AnthropicDocument(), "", "  ")
	case FormatMCP:
		data, err = json.MarshalIndent(e.MCPDocument(), "", "  ")
	case FormatJSON:
		data, err = json.MarshalIndent(e.JSONDocument(), "", "  ")
	case FormatMarkdown:
		data = []byte(e.MarkdownDocument())
	default:
		return fmt.Errorf("unknown export format %q", format)
	}
	if err != nil {
		return fmt.Errorf("marshal %s catalog: %w", format, err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write catalog: %w", err)
	}
	e.logger.Info("exported catalog",
		zap.String("path", path),
		zap.String("format", string(format)))
	return nil
}

// ExportAll writes every format into dir as catalog.<format>.<ext> and
// returns the written paths keyed by format.
func (e *Exporter) ExportAll(dir string) (map[Format]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create export directory: %w", err)
	}

	out := make(map[Format]string, len(Formats()))
	for _, format := range Formats() {
		path := filepath.Join(dir, fmt.Sprintf("catalog.%s.%s", format, format.ext()))
		if err := e.WriteFile(format, path); err != nil {
			return nil, err
		}
		out[format] = path
	}
	return out, nil
}

// LoadDocument reads a previously exported JSON catalog, for use as a
// changelog baseline.
func LoadDocument(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse catalog %s: %w", path, err)
	}
	return &doc, nil
}

// Changelog diffs an older JSON export against the current catalog and
// renders the added, removed and modified tools as Markdown.
func (e *Exporter) Changelog(old *Document) string {
	return Changelog(old, e.JSONDocument())
}

// Changelog diffs two JSON catalog documents. A nil baseline treats
// every current tool as added.
func Changelog(old *Document, current Document) string {
	oldTools := make(map[string]ToolMetadata)
	if old != nil {
		for _, t := range old.Catalog.Tools {
			oldTools[t.Name] = t
		}
	}
	newTools := make(map[string]ToolMetadata)
	for _, t := range current.Catalog.Tools {
		newTools[t.Name] = t
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Tool Catalog Changelog\n\n")
	fmt.Fprintf(&b, "**Generated**: %s\n\n", current.Catalog.GeneratedAt.UTC().Format("2006-01-02 15:04:05 UTC"))

	var added, removed, modified []string
	for name := range newTools {
		if _, ok := oldTools[name]; !ok {
			added = append(added, name)
		}
	}
	for name := range oldTools {
		if _, ok := newTools[name]; !ok {
			removed = append(removed, name)
		}
	}
	for name, oldTool := range oldTools {
		newTool, ok := newTools[name]
		if !ok {
			continue
		}
		var changes []string
		if oldTool.Description != newTool.Description {
			changes = append(changes, "description")
		}
		if SchemaHash(oldTool.InputSchema) != SchemaHash(newTool.InputSchema) {
			changes = append(changes, "schema")
		}
		if oldTool.Version != newTool.Version {
			changes = append(changes, "version")
		}
		if len(changes) > 0 {
			modified = append(modified, fmt.Sprintf("- **%s**: %s updated", name, strings.Join(changes, ", ")))
		}
	}
	sort.Strings(added)
	sort.Strings(removed)
	sort.Strings(modified)

	if len(added) > 0 {
		fmt.Fprintf(&b, "## Added Tools\n\n")
		for _, name := range added {
			t := newTools[name]
			fmt.Fprintf(&b, "- **%s** (%s) - %s\n", name, t.Category, t.Description)
		}
		b.WriteString("\n")
	}
	if len(removed) > 0 {
		fmt.Fprintf(&b, "## Removed Tools\n\n")
		for _, name := range removed {
			t := oldTools[name]
			fmt.Fprintf(&b, "- **%s** (%s) - %s\n", name, t.Category, t.Description)
		}
		b.WriteString("\n")
	}
	if len(modified) > 0 {
		fmt.Fprintf(&b, "## Modified Tools\n\n")
		for _, line := range modified {
			b.WriteString(line + "\n")
		}
		b.WriteString("\n")
	}
	if len(added) == 0 && len(removed) == 0 && len(modified) == 0 {
		b.WriteString("No changes.\n")
	}
	return b.String()
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
