// Package catalog maintains the unified tool registry aggregated from
// the fleet's MCP servers and renders it into export documents.
package catalog

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
)

// Category groups tools for organization and export.
type Category string

const (
	CategoryContent       Category = "content"
	CategoryCommerce      Category = "commerce"
	CategoryMedia         Category = "media"
	CategoryCommunication Category = "communication"
	CategoryAnalytics     Category = "analytics"
	CategoryIntegration   Category = "integration"
	CategorySystem        Category = "system"
	CategoryAI            Category = "ai"
	CategoryOperations    Category = "operations"
	CategorySecurity      Category = "security"
)

// Categories lists all categories in stable export order.
func Categories() []Category {
	return []Category{
		CategoryContent, CategoryCommerce, CategoryMedia,
		CategoryCommunication, CategoryAnalytics, CategoryIntegration,
		CategorySystem, CategoryAI, CategoryOperations, CategorySecurity,
	}
}

// ParseCategory validates a category string from user input or server
// metadata.
func ParseCategory(s string) (Category, error) {
	for _, c := range Categories() {
		if string(c) == strings.ToLower(strings.TrimSpace(s)) {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown category %q", s)
}

// Severity ranks tools for permission management.
type Severity string

const (
	SeverityReadOnly    Severity = "read_only"
	SeverityLow         Severity = "low"
	SeverityMedium      Severity = "medium"
	SeverityHigh        Severity = "high"
	SeverityDestructive Severity = "destructive"
)

// Severities lists all severity levels, mildest first.
func Severities() []Severity {
	return []Severity{
		SeverityReadOnly, SeverityLow, SeverityMedium,
		SeverityHigh, SeverityDestructive,
	}
}

// ParseSeverity validates a severity string from user input or server
// metadata.
func ParseSeverity(s string) (Severity, error) {
	for _, sv := range Severities() {
		if string(sv) == strings.ToLower(strings.TrimSpace(s)) {
			return sv, nil
		}
	}
	return "", fmt.Errorf("unknown severity %q", s)
}

// ToolMetadata describes one callable tool and where it came from.
type ToolMetadata struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	ServerID    string   `json:"server_id"`
	Category    Category `json:"category"`
	Severity    Severity `json:"severity"`
	Tags        []string `json:"tags,omitempty"`

	InputSchema  *jsonschema.Schema `json:"input_schema"`
	OutputSchema *jsonschema.Schema `json:"output_schema,omitempty"`

	RequiredPermissions []string `json:"required_permissions,omitempty"`
	ReadOnly            bool     `json:"read_only"`
	Idempotent          bool     `json:"idempotent"`

	Version            string `json:"version"`
	Deprecated         bool   `json:"deprecated"`
	DeprecationMessage string `json:"deprecation_message,omitempty"`
}

// SchemaHash returns a stable digest of a JSON schema for mismatch
// detection. A nil schema hashes to the empty string.
func SchemaHash(schema *jsonschema.Schema) string {
	if schema == nil {
		return ""
	}
	data, err := json.Marshal(schema)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ConflictType classifies a detected tool conflict.
type ConflictType string

const (
	ConflictDuplicateName  ConflictType = "duplicate_name"
	ConflictSchemaMismatch ConflictType = "schema_mismatch"
	ConflictVersion        ConflictType = "version_conflict"
)

// Conflict represents a clash between tools registered under the same name.
type Conflict struct {
	ToolName  string       `json:"tool_name"`
	ServerIDs []string     `json:"server_ids"`
	Type      ConflictType `json:"conflict_type"`
	Details   string       `json:"details"`
}

// Stats summarizes the catalog.
type Stats struct {
	TotalTools      int            `json:"total_tools"`
	TotalServers    int            `json:"total_servers"`
	ToolsByCategory map[string]int `json:"tools_by_category"`
	ToolsBySeverity map[string]int `json:"tools_by_severity"`
	Conflicts       []Conflict     `json:"conflicts,omitempty"`
	DeprecatedTools int            `json:"deprecated_tools"`
}
