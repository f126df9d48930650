package hooks

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateConfigStructure(t *testing.T) {
	raw, err := GenerateConfig(3001)
	require.NoError(t, err)

	var cfg struct {
		Hooks map[string][]struct {
			Hooks []struct {
				Type    string `json:"type"`
				Command string `json:"command"`
			} `json:"hooks"`
		} `json:"hooks"`
	}
	require.NoError(t, json.Unmarshal(raw, &cfg))

	stop, ok := cfg.Hooks["Stop"]
	require.True(t, ok, "config must carry a Stop hook")
	require.Len(t, stop, 1)
	require.Len(t, stop[0].Hooks, 1)
	assert.Equal(t, "command", stop[0].Hooks[0].Type)
	assert.Contains(t, stop[0].Hooks[0].Command, "curl")
	assert.Contains(t, stop[0].Hooks[0].Command, "POST")
	assert.Contains(t, stop[0].Hooks[0].Command, "/api/hooks/stop")

	subagent, ok := cfg.Hooks["SubagentStop"]
	require.True(t, ok, "config must carry a SubagentStop hook")
	assert.Contains(t, subagent[0].Hooks[0].Command, "/api/hooks/subagent-stop")
}

func TestGenerateConfigUsesPort(t *testing.T) {
	for _, port := range []int{3000, 3001, 8080, 4567} {
		raw, err := GenerateConfig(port)
		require.NoError(t, err)
		assert.Contains(t, string(raw), "localhost:"+strconv.Itoa(port))
	}

	raw, err := GenerateConfig(9999)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "localhost:3001")
}

func TestInstallWritesSettingsFile(t *testing.T) {
	worktree := t.TempDir()
	require.NoError(t, Install(worktree, 8080))

	raw, err := os.ReadFile(filepath.Join(worktree, ".claude", "settings.json"))
	require.NoError(t, err)

	var parsed map[string]any
	require.NoError(t, json.Unmarshal(raw, &parsed), "settings.json must be valid JSON")
	assert.Contains(t, string(raw), "/api/hooks/stop")
	assert.Contains(t, string(raw), "localhost:8080")
}

func TestInstallIsIdempotent(t *testing.T) {
	worktree := t.TempDir()
	require.NoError(t, Install(worktree, 8080))
	require.NoError(t, Install(worktree, 8080))
}
