package catalog

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seededRegistry(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry(nil)
	require.NoError(t, r.Register(ToolMetadata{
		Name:        "get_post",
		Description: "Fetch a blog post",
		ServerID:    "content",
		Category:    CategoryContent,
		Severity:    SeverityReadOnly,
		ReadOnly:    true,
		Idempotent:  true,
		InputSchema: objectSchema("id"),
		Version:     "1.0.0",
	}))
	require.NoError(t, r.Register(ToolMetadata{
		Name:        "create_order",
		Description: "Create an order",
		ServerID:    "commerce",
		Category:    CategoryCommerce,
		Severity:    SeverityMedium,
		InputSchema: objectSchema("sku", "quantity"),
		Version:     "1.0.0",
	}))
	require.NoError(t, r.Register(ToolMetadata{
		Name:        "legacy_sync",
		Description: "Old sync path",
		ServerID:    "commerce",
		Category:    CategoryIntegration,
		Severity:    SeverityMedium,
		Deprecated:  true,
		Version:     "1.0.0",
	}))
	return r
}

func TestExporter_OpenAIDocument(t *testing.T) {
	e := NewExporter(seededRegistry(t), nil)

	tools := e.OpenAIDocument()
	require.Len(t, tools, 2) // deprecated tool dropped

	assert.Equal(t, "function", tools[0].Type)
	assert.Equal(t, "create_order", tools[0].Function.Name)
	assert.NotNil(t, tools[0].Function.Parameters)
}

func TestExporter_AnthropicDocument(t *testing.T) {
	e := NewExporter(seededRegistry(t), nil)

	tools := e.AnthropicDocument()
	require.Len(t, tools, 2)
	assert.Equal(t, "create_order", tools[0].Name)
	assert.Equal(t, "get_post", tools[1].Name)
}

func TestExporter_MCPDocument(t *testing.T) {
	e := NewExporter(seededRegistry(t), nil)

	doc := e.MCPDocument()
	require.Len(t, doc.Tools, 3) // deprecated tools stay on the wire format
	assert.Equal(t, catalogVersion, doc.Version)
	assert.False(t, doc.GeneratedAt.IsZero())

	byName := make(map[string]MCPTool)
	for _, tool := range doc.Tools {
		byName[tool.Name] = tool
	}
	assert.True(t, byName["get_post"].Annotations["readOnlyHint"])
	assert.True(t, byName["get_post"].Annotations["idempotentHint"])
	assert.Nil(t, byName["create_order"].Annotations)
}

func TestExporter_MarkdownDocument(t *testing.T) {
	e := NewExporter(seededRegistry(t), nil)

	md := e.MarkdownDocument()
	assert.Contains(t, md, "# MCP Tool Catalog")
	assert.Contains(t, md, "- **Total Tools**: 3")
	assert.Contains(t, md, "## Content Tools")
	assert.Contains(t, md, "### `get_post`")
	assert.Contains(t, md, "### `legacy_sync` (DEPRECATED)")
	assert.Contains(t, md, "**Input Schema**:")
	assert.NotContains(t, md, "Conflicts Detected")
}

func TestExporter_ExportAll(t *testing.T) {
	dir := t.TempDir()
	e := NewExporter(seededRegistry(t), nil)

	paths, err := e.ExportAll(dir)
	require.NoError(t, err)
	require.Len(t, paths, 5)

	assert.Equal(t, filepath.Join(dir, "catalog.openai.json"), paths[FormatOpenAI])
	assert.Equal(t, filepath.Join(dir, "catalog.markdown.md"), paths[FormatMarkdown])

	data, err := os.ReadFile(paths[FormatJSON])
	require.NoError(t, err)

	var doc Document
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Len(t, doc.Catalog.Tools, 3)
	assert.Equal(t, 3, doc.Catalog.Statistics.TotalTools)
}

func TestExporter_WriteFile_UnknownFormat(t *testing.T) {
	e := NewExporter(NewRegistry(nil), nil)
	err := e.WriteFile(Format("xml"), filepath.Join(t.TempDir(), "out"))
	assert.Error(t, err)
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat(" OpenAI ")
	require.NoError(t, err)
	assert.Equal(t, FormatOpenAI, f)

	_, err = ParseFormat("xml")
	assert.Error(t, err)
}

func TestExporter_Changelog(t *testing.T) {
	registry := seededRegistry(t)
	e := NewExporter(registry, nil)

	old := e.JSONDocument()

	// Mutate the catalog: drop one tool, change one, add one.
	registry.UnregisterServer("content")
	require.NoError(t, registry.Register(ToolMetadata{
		Name:        "create_order",
		Description: "Create an order with discounts",
		ServerID:    "commerce",
		Category:    CategoryCommerce,
		InputSchema: objectSchema("sku", "quantity"),
		Version:     "1.0.0",
	}))
	require.NoError(t, registry.Register(ToolMetadata{
		Name:        "refund_order",
		Description: "Refund an order",
		ServerID:    "commerce",
		Category:    CategoryCommerce,
		Version:     "1.0.0",
	}))

	changelog := e.Changelog(&old)
	assert.Contains(t, changelog, "## Added Tools")
	assert.Contains(t, changelog, "**refund_order**")
	assert.Contains(t, changelog, "## Removed Tools")
	assert.Contains(t, changelog, "**get_post**")
	assert.Contains(t, changelog, "## Modified Tools")
	assert.Contains(t, changelog, "**create_order**: description updated")
}

func TestExporter_Changelog_NoBaseline(t *testing.T) {
	e := NewExporter(seededRegistry(t), nil)

	changelog := e.Changelog(nil)
	assert.Contains(t, changelog, "## Added Tools")
	assert.NotContains(t, changelog, "## Removed Tools")
}

func TestChangelog_FromBaselineFile(t *testing.T) {
	dir := t.TempDir()
	e := NewExporter(seededRegistry(t), nil)

	path := filepath.Join(dir, "baseline.json")
	require.NoError(t, e.WriteFile(FormatJSON, path))

	baseline, err := LoadDocument(path)
	require.NoError(t, err)

	r2 := NewRegistry(nil)
	require.NoError(t, r2.Register(ToolMetadata{
		Name:        "refund_order",
		Description: "Refund an order",
		ServerID:    "commerce",
		Category:    CategoryCommerce,
		Version:     "1.0.0",
	}))
	current := NewExporter(r2, nil).JSONDocument()

	out := Changelog(baseline, current)
	assert.Contains(t, out, "## Added Tools")
	assert.Contains(t, out, "**refund_order**")
	assert.Contains(t, out, "## Removed Tools")
	assert.Contains(t, out, "**get_post**")
	assert.Contains(t, out, "**create_order**")
}

func TestLoadDocument_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	e := NewExporter(seededRegistry(t), nil)

	path := filepath.Join(dir, "catalog.json")
	require.NoError(t, e.WriteFile(FormatJSON, path))

	doc, err := LoadDocument(path)
	require.NoError(t, err)
	assert.Len(t, doc.Catalog.Tools, 3)

	_, err = LoadDocument(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)
}
