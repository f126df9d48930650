package main

import (
	"context"
	"fmt"

	"github.com/harrowgate/conductor/pkg/config"
	"github.com/harrowgate/conductor/pkg/store"
	"github.com/harrowgate/conductor/pkg/worktree"
)

// runCleanup runs the same reconciliation the server does at startup, but
// as a one-shot CLI invocation against an idle store (no live Supervisor
// in this process, so every non-terminal AgentRun is treated as stale).
func runCleanup(configDir string) error {
	config.LoadEnvFile(configDir)

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	dbCfg, err := store.LoadConfigFromEnv()
	if err != nil {
		return fmt.Errorf("loading database config: %w", err)
	}

	ctx := context.Background()
	st, err := store.New(ctx, dbCfg)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer st.Close()

	wt := worktree.New(cfg.WorktreeBaseDir, cfg.Namespace)
	report, err := wt.CleanupStale(ctx, st, map[string]bool{})
	if err != nil {
		return fmt.Errorf("cleanup: %w", err)
	}

	fmt.Printf("agent runs failed: %d\n", report.AgentRunsFailed)
	fmt.Printf("tasks reset:       %d\n", report.TasksReset)
	fmt.Printf("branches deleted:  %d\n", report.BranchesDeleted)
	fmt.Printf("branches retained: %d\n", len(report.BranchesRetained))
	fmt.Printf("dirs pruned:       %d\n", report.DirectoriesPruned)
	return nil
}
