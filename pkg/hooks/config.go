package hooks

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// hookCommand is one command entry in the agent CLI's settings file.
type hookCommand struct {
	Type    string `json:"type"`
	Command string `json:"command"`
}

// hookMatcher groups the commands fired for one hook event.
type hookMatcher struct {
	Hooks []hookCommand `json:"hooks"`
}

// settingsFile is the subset of the agent CLI's .claude/settings.json this
// package writes.
type settingsFile struct {
	Hooks map[string][]hookMatcher `json:"hooks"`
}

// GenerateConfig renders the settings payload that wires the agent CLI's
// Stop and SubagentStop hooks back to Conductor's own hook endpoints. The
// hook command forwards the CLI's stdin payload (which carries the session
// id) verbatim, so the server sees exactly what the agent reported.
func GenerateConfig(port int) ([]byte, error) {
	baseURL := fmt.Sprintf("http://localhost:%d", port)

	curl := func(path string) hookMatcher {
		return hookMatcher{Hooks: []hookCommand{{
			Type: "command",
			Command: fmt.Sprintf(
				`curl -s -X POST %s%s -H 'Content-Type: application/json' -d "$(cat)"`,
				baseURL, path,
			),
		}}}
	}

	cfg := settingsFile{Hooks: map[string][]hookMatcher{
		"Stop":         {curl("/api/hooks/stop")},
		"SubagentStop": {curl("/api/hooks/subagent-stop")},
	}}
	return json.MarshalIndent(cfg, "", "  ")
}

// Install writes the hook configuration into a worktree's
// .claude/settings.json, so the agent subprocess spawned there notifies
// Conductor the moment its session stops — typically before its stdout
// stream closes.
func Install(worktreePath string, port int) error {
	claudeDir := filepath.Join(worktreePath, ".claude")
	if err := os.MkdirAll(claudeDir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", claudeDir, err)
	}

	cfg, err := GenerateConfig(port)
	if err != nil {
		return fmt.Errorf("rendering hooks config: %w", err)
	}

	settingsPath := filepath.Join(claudeDir, "settings.json")
	if err := os.WriteFile(settingsPath, cfg, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", settingsPath, err)
	}

	slog.Info("installed hooks config", "path", settingsPath)
	return nil
}
