package catalog

import (
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToolMetadata_Mapping(t *testing.T) {
	meta := toolMetadata("commerce", &mcp.Tool{
		Name:        "getProductDetails",
		Description: "Fetch product details",
		InputSchema: objectSchema("sku"),
		Annotations: &mcp.ToolAnnotations{
			ReadOnlyHint:   true,
			IdempotentHint: true,
		},
		Meta: mcp.Meta{"version": "3.2.0"},
	})

	assert.Equal(t, "get_product_details", meta.Name)
	assert.Equal(t, "commerce", meta.ServerID)
	assert.True(t, meta.ReadOnly)
	assert.True(t, meta.Idempotent)
	assert.Equal(t, SeverityReadOnly, meta.Severity)
	assert.Equal(t, CategoryCommerce, meta.Category)
	assert.Equal(t, "3.2.0", meta.Version)
	assert.NotNil(t, meta.InputSchema)
}

func TestToolMetadata_MetaHints(t *testing.T) {
	meta := toolMetadata("misc", &mcp.Tool{
		Name:        "frobnicate",
		Description: "Do the thing",
		Meta: mcp.Meta{
			"category":            "ai",
			"severity":            "high",
			"version":             "2.1.0",
			"deprecated":          true,
			"deprecation_message": "use frobnicate_v2",
		},
	})

	// Declared hints beat the name heuristics.
	assert.Equal(t, CategoryAI, meta.Category)
	assert.Equal(t, SeverityHigh, meta.Severity)
	assert.Equal(t, "2.1.0", meta.Version)
	assert.True(t, meta.Deprecated)
	assert.Equal(t, "use frobnicate_v2", meta.DeprecationMessage)
}

func TestToolMetadata_MetaHintsIgnoreInvalid(t *testing.T) {
	meta := toolMetadata("shop", &mcp.Tool{
		Name: "createOrder",
		Meta: mcp.Meta{
			"category":   "bogus",
			"severity":   12,
			"deprecated": "yes",
		},
	})

	// Unusable hints fall through to the classifiers.
	assert.Equal(t, CategoryCommerce, meta.Category)
	assert.Equal(t, SeverityMedium, meta.Severity)
	assert.False(t, meta.Deprecated)
	assert.Equal(t, catalogVersion, meta.Version)
}

func TestParseCategory(t *testing.T) {
	c, err := ParseCategory(" Commerce ")
	require.NoError(t, err)
	assert.Equal(t, CategoryCommerce, c)

	_, err = ParseCategory("bogus")
	assert.Error(t, err)
}

func TestParseSeverity(t *testing.T) {
	s, err := ParseSeverity("READ_ONLY")
	require.NoError(t, err)
	assert.Equal(t, SeverityReadOnly, s)

	_, err = ParseSeverity("extreme")
	assert.Error(t, err)
}

func TestClassifyCategory(t *testing.T) {
	tests := []struct {
		name     string
		serverID string
		want     Category
	}{
		{"create_order", "shop", CategoryCommerce},
		{"publish_post", "cms", CategoryContent},
		{"resize_image", "assets", CategoryMedia},
		{"send_email", "mailer", CategoryCommunication},
		{"weekly_report", "bi", CategoryAnalytics},
		{"rotate_token", "vault", CategorySecurity},
		{"restart_worker", "infra", CategoryOperations},
		{"trigger_webhook", "hooks", CategoryIntegration},
		{"frobnicate", "misc", CategorySystem},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, classifyCategory(tc.name, tc.serverID))
		})
	}
}

func TestClassifySeverity(t *testing.T) {
	tests := []struct {
		name     string
		readOnly bool
		want     Severity
	}{
		{"delete_everything", false, SeverityDestructive},
		{"purge_cache", false, SeverityDestructive},
		{"create_order", false, SeverityMedium},
		{"get_status", false, SeverityLow},
		{"list_items", false, SeverityLow},
		{"frobnicate", false, SeverityMedium},
		{"update_thing", true, SeverityReadOnly},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := classifySeverity(ToolMetadata{Name: tc.name, ReadOnly: tc.readOnly})
			assert.Equal(t, tc.want, got)
		})
	}
}
