package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/dukex/autoflow/pkg/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "automations.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestLoadDefinitions(t *testing.T) {
	path := writeFile(t, `
tools:
  - id: manual
    name: Manual
    type: MANUAL
automations:
  - id: orders
    name: Orders
    nodes:
      - id: start
        type: TRIGGER
        referenceId: manual
`)

	definitions, err := LoadDefinitions(path)
	require.NoError(t, err)

	require.Len(t, definitions.Tools, 1)
	assert.Equal(t, "manual", definitions.Tools[0].ID)
	require.Len(t, definitions.Automations, 1)
	assert.Equal(t, "orders", definitions.Automations[0].ID)
	assert.Equal(t, "start", definitions.Automations[0].Nodes[0].ID)
}

func TestLoadDefinitions_Errors(t *testing.T) {
	_, err := LoadDefinitions(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read automations file")

	_, err = LoadDefinitions(writeFile(t, "tools: [unclosed"))
	require.ErrorIs(t, err, services.ErrInvalidRequest)
}

func TestLoadDefinitionsOrDefault(t *testing.T) {
	definitions, err := LoadDefinitionsOrDefault("")
	require.NoError(t, err)
	assert.Empty(t, definitions.Automations)

	definitions, err = LoadDefinitionsOrDefault(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Empty(t, definitions.Tools)

	_, err = LoadDefinitionsOrDefault(writeFile(t, "automations: {bad"))
	assert.Error(t, err)
}
