package fleet

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate_Basics(t *testing.T) {
	tests := []struct {
		name    string
		defs    []Definition
		wantErr string
	}{
		{
			name:    "empty fleet",
			defs:    nil,
			wantErr: "no servers",
		},
		{
			name:    "missing id",
			defs:    []Definition{{Command: "python3"}},
			wantErr: "missing an id",
		},
		{
			name: "duplicate id",
			defs: []Definition{
				{ID: "a", Command: "python3"},
				{ID: "a", Command: "node"},
			},
			wantErr: "duplicate server id",
		},
		{
			name:    "missing command",
			defs:    []Definition{{ID: "a"}},
			wantErr: "missing a command",
		},
		{
			name: "unknown dependency",
			defs: []Definition{
				{ID: "a", Command: "python3", DependsOn: []string{"ghost"}},
			},
			wantErr: "unknown server",
		},
		{
			name: "self dependency",
			defs: []Definition{
				{ID: "a", Command: "python3", DependsOn: []string{"a"}},
			},
			wantErr: "depends on itself",
		},
		{
			name: "http probe without url",
			defs: []Definition{
				{ID: "a", Command: "python3", Probe: &ProbeSpec{Type: ProbeHTTP}},
			},
			wantErr: "requires a url",
		},
		{
			name: "valid",
			defs: []Definition{
				{ID: "a", Command: "python3"},
				{ID: "b", Command: "node", DependsOn: []string{"a"}},
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := Validate(tc.defs)
			if tc.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.wantErr)
			}
		})
	}
}

func TestStartOrder_Deterministic(t *testing.T) {
	defs := []Definition{
		{ID: "gateway", Command: "node", DependsOn: []string{"content", "commerce"}},
		{ID: "commerce", Command: "python3", DependsOn: []string{"content"}},
		{ID: "content", Command: "python3"},
		{ID: "search", Command: "python3"},
	}

	order, err := StartOrder(defs)
	require.NoError(t, err)
	assert.Equal(t, []string{"content", "search", "commerce", "gateway"}, order)
}

func TestStartOrder_Cycle(t *testing.T) {
	defs := []Definition{
		{ID: "a", Command: "x", DependsOn: []string{"b"}},
		{ID: "b", Command: "x", DependsOn: []string{"c"}},
		{ID: "c", Command: "x", DependsOn: []string{"a"}},
	}

	_, err := StartOrder(defs)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dependency cycle")
	assert.Contains(t, err.Error(), "a, b, c")
}

func TestLoadFile_YAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fleet.yaml")
	content := `
servers:
  - id: content
    command: python3
    args: [servers/content.py]
    env:
      PYTHONUNBUFFERED: "1"
    probe:
      type: stdio
  - id: commerce
    command: python3
    args: [servers/commerce.py]
    depends_on: [content]
    restart:
      max_restarts: 3
      backoff_base_ms: 250
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	defs, err := LoadFile(path)
	require.NoError(t, err)
	require.Len(t, defs, 2)

	assert.Equal(t, "content", defs[0].ID)
	assert.Equal(t, ProbeStdio, defs[0].Probe.Type)
	assert.Equal(t, []string{"content"}, defs[1].DependsOn)
	assert.Equal(t, 3, defs[1].Restart.Limit())
	assert.Equal(t, "250ms", defs[1].Restart.BackoffBase().String())
}

func TestLoadFile_McpServersJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	content := `{
  "mcpServers": {
    "commerce": {"command": "python3", "args": ["commerce.py"], "env": {"PYTHONUNBUFFERED": "1"}},
    "content": {"command": "node", "args": ["content.js"]}
  }
}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	defs, err := LoadFile(path)
	require.NoError(t, err)
	require.Len(t, defs, 2)

	// Map iteration order must not leak into the definition order.
	assert.Equal(t, "commerce", defs[0].ID)
	assert.Equal(t, "content", defs[1].ID)
	assert.Equal(t, ProbeStdio, defs[0].Probe.Type)
}

func TestLoadFile_InvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fleet.yaml")
	require.NoError(t, os.WriteFile(path, []byte("servers: {not a list"), 0o644))

	_, err := LoadFile(path)
	assert.Error(t, err)
}

func TestExpandedEnv(t *testing.T) {
	t.Setenv("FLEET_TEST_TOKEN", "sekrit")

	def := Definition{
		ID:      "a",
		Command: "python3",
		Env: map[string]string{
			"TOKEN":            "${FLEET_TEST_TOKEN}",
			"PYTHONUNBUFFERED": "1",
		},
	}

	env := def.ExpandedEnv()
	assert.Equal(t, []string{"PYTHONUNBUFFERED=1", "TOKEN=sekrit"}, env)
}

func TestUnsetEnvRefs(t *testing.T) {
	def := Definition{
		ID:      "a",
		Command: "python3",
		Env: map[string]string{
			"KEY": "${FLEET_TEST_DEFINITELY_UNSET_VAR}",
		},
	}

	unset := def.UnsetEnvRefs()
	assert.Equal(t, []string{"FLEET_TEST_DEFINITELY_UNSET_VAR"}, unset)
}
