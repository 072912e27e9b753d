package v0

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"

	"github.com/danielgtaylor/huma/v2"

	"github.com/devskyy/mcpfleet/internal/auth"
	"github.com/devskyy/mcpfleet/internal/catalog"
)

// Metadata carries pagination state in list responses.
type Metadata struct {
	NextCursor string `json:"nextCursor,omitempty" doc:"Cursor for the next page"`
	Count      int    `json:"count" doc:"Number of items in this page"`
}

// ToolListInput filters and paginates the tool catalog.
type ToolListInput struct {
	Cursor   string `query:"cursor" doc:"Pagination cursor" required:"false"`
	Limit    int    `query:"limit" doc:"Number of items per page" default:"30" minimum:"1" maximum:"100"`
	Search   string `query:"search" doc:"Match against names, descriptions and tags" required:"false"`
	Category string `query:"category" doc:"Filter by category" required:"false" example:"commerce"`
	Severity string `query:"severity" doc:"Filter by severity" required:"false" example:"destructive"`
	Server   string `query:"server" doc:"Filter by owning server" required:"false"`
}

// ToolListBody is the /v0/tools payload.
type ToolListBody struct {
	Tools    []catalog.ToolMetadata `json:"tools"`
	Metadata Metadata               `json:"metadata"`
}

// ToolDetailInput identifies one tool.
type ToolDetailInput struct {
	ToolName string `path:"toolName" doc:"Normalized tool name" example:"create_product"`
}

// StatsBody wraps catalog statistics.
type StatsBody struct {
	Stats catalog.Stats `json:"stats"`
}

// ExportInput selects an export format.
type ExportInput struct {
	Format string `query:"format" doc:"Export format" default:"json" enum:"openai,anthropic,mcp,json,markdown"`
}

// ExportBody returns the rendered catalog document.
type ExportBody struct {
	Format  string `json:"format"`
	Content string `json:"content" doc:"Rendered catalog document"`
}

// RefreshBody reports the per-server tool counts of a refresh.
type RefreshBody struct {
	Counts map[string]int `json:"counts"`
	Stats  catalog.Stats  `json:"stats"`
}

// RegisterToolEndpoints registers the catalog endpoints.
func RegisterToolEndpoints(api huma.API, deps *Deps) {
	registry := deps.Orchestrator.Registry()

	huma.Register(api, huma.Operation{
		OperationID: "list-tools",
		Method:      http.MethodGet,
		Path:        "/v0/tools",
		Summary:     "List tools",
		Description: "Paginated view of the unified tool catalog",
		Tags:        []string{"catalog"},
	}, func(ctx context.Context, input *ToolListInput) (*Response[ToolListBody], error) {
		tools := registry.Search(input.Search)
		if input.Category != "" {
			tools = filterTools(tools, func(t catalog.ToolMetadata) bool {
				return t.Category == catalog.Category(input.Category)
			})
		}
		if input.Severity != "" {
			tools = filterTools(tools, func(t catalog.ToolMetadata) bool {
				return t.Severity == catalog.Severity(input.Severity)
			})
		}
		if input.Server != "" {
			tools = filterTools(tools, func(t catalog.ToolMetadata) bool {
				return t.ServerID == input.Server
			})
		}

		page, next := paginateTools(tools, input.Cursor, input.Limit)
		return &Response[ToolListBody]{
			Body: ToolListBody{
				Tools:    page,
				Metadata: Metadata{NextCursor: next, Count: len(page)},
			},
		}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-tool",
		Method:      http.MethodGet,
		Path:        "/v0/tools/{toolName}",
		Summary:     "Get tool",
		Tags:        []string{"catalog"},
	}, func(ctx context.Context, input *ToolDetailInput) (*Response[catalog.ToolMetadata], error) {
		tool, ok := registry.Get(input.ToolName)
		if !ok {
			return nil, huma.Error404NotFound("tool not found")
		}
		return &Response[catalog.ToolMetadata]{Body: tool}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-catalog-stats",
		Method:      http.MethodGet,
		Path:        "/v0/catalog/stats",
		Summary:     "Catalog statistics",
		Tags:        []string{"catalog"},
	}, func(ctx context.Context, _ *struct{}) (*Response[StatsBody], error) {
		return &Response[StatsBody]{Body: StatsBody{Stats: registry.Stats()}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "export-catalog",
		Method:      http.MethodGet,
		Path:        "/v0/catalog/export",
		Summary:     "Export catalog",
		Description: "Render the catalog in one of the supported formats",
		Tags:        []string{"catalog"},
	}, func(ctx context.Context, input *ExportInput) (*Response[ExportBody], error) {
		format, err := catalog.ParseFormat(input.Format)
		if err != nil {
			return nil, huma.Error400BadRequest(err.Error())
		}
		content, err := renderExport(deps.Orchestrator.Exporter(), format)
		if err != nil {
			return nil, huma.Error500InternalServerError("export failed", err)
		}
		return &Response[ExportBody]{
			Body: ExportBody{Format: string(format), Content: content},
		}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "refresh-catalog",
		Method:      http.MethodPost,
		Path:        "/v0/catalog/refresh",
		Summary:     "Refresh catalog",
		Description: "Re-collect tools from every server and remote fleet",
		Tags:        []string{"catalog"},
	}, func(ctx context.Context, _ *struct{}) (*Response[RefreshBody], error) {
		if err := auth.RequireRole(ctx, deps.authEnabled(), auth.RoleOperator); err != nil {
			return nil, err
		}
		counts, err := deps.Orchestrator.RefreshCatalog(ctx)
		if err != nil && len(counts) == 0 {
			return nil, huma.Error500InternalServerError("catalog refresh failed", err)
		}
		return &Response[RefreshBody]{
			Body: RefreshBody{Counts: counts, Stats: registry.Stats()},
		}, nil
	})
}

func filterTools(tools []catalog.ToolMetadata, keep func(catalog.ToolMetadata) bool) []catalog.ToolMetadata {
	out := tools[:0]
	for _, t := range tools {
		if keep(t) {
			out = append(out, t)
		}
	}
	return out
}

// paginateTools slices a name-sorted tool list after the cursor.
func paginateTools(tools []catalog.ToolMetadata, cursor string, limit int) ([]catalog.ToolMetadata, string) {
	if limit <= 0 {
		limit = 30
	}
	start := 0
	if cursor != "" {
		start = sort.Search(len(tools), func(i int) bool { return tools[i].Name > cursor })
	}
	end := start + limit
	if end >= len(tools) {
		return tools[start:], ""
	}
	page := tools[start:end]
	return page, page[len(page)-1].Name
}

func renderExport(exporter *catalog.Exporter, format catalog.Format) (string, error) {
	switch format {
	case catalog.FormatMarkdown:
		return exporter.MarkdownDocument(), nil
	default:
		data, err := marshalExport(exporter, format)
		if err != nil {
			return "", err
		}
		return string(data), nil
	}
}

func marshalExport(exporter *catalog.Exporter, format catalog.Format) ([]byte, error) {
	switch format {
	case catalog.FormatOpenAI:
		return json.MarshalIndent(exporter.OpenAIDocument(), "", "  ")
	case catalog.FormatAnthropic:
		return json.MarshalIndent(exporter.AnthropicDocument(), "", "  ")
	case catalog.FormatMCP:
		return json.MarshalIndent(exporter.MCPDocument(), "", "  ")
	case catalog.FormatJSON:
		return json.MarshalIndent(exporter.JSONDocument(), "", "  ")
	default:
		return nil, fmt.Errorf("unknown export format %q", format)
	}
}
