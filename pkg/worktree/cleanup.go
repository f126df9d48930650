package worktree

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/harrowgate/conductor/pkg/store"
)

// CleanupReport counts what CleanupStale did, for the CLI and startup log
// line to report.
type CleanupReport struct {
	AgentRunsFailed   int
	TasksReset        int
	BranchesDeleted   int
	BranchesRetained  []string
	DirectoriesPruned int
}

// CleanupStale reconciles Store and filesystem state against the set of
// AgentRun ids this process actually has live supervisors for. Called once
// at startup with an empty liveAgentIDs set (crash recovery) and again on
// demand via the CLI `cleanup` subcommand. Idempotent.
func (m *Manager) CleanupStale(ctx context.Context, st *store.Store, liveAgentIDs map[string]bool) (*CleanupReport, error) {
	report := &CleanupReport{}

	runs, err := st.ListNonTerminalAgentRuns(ctx)
	if err != nil {
		return nil, err
	}
	for _, run := range runs {
		if liveAgentIDs[run.ID] {
			continue
		}
		if err := st.ForceAgentRunFailed(ctx, run.ID); err != nil {
			return report, err
		}
		report.AgentRunsFailed++
		if err := st.ForceTaskPending(ctx, run.TaskID); err != nil {
			return report, err
		}
		report.TasksReset++
		if run.WorktreePath != "" {
			repoPath := ""
			if g, err := st.GetGoal(ctx, run.GoalID); err == nil {
				repoPath = g.RepoPath
			}
			if err := m.RemoveWorktree(ctx, repoPath, run.WorktreePath); err != nil {
				slog.Warn("cleanup: failed to remove stale worktree", "path", run.WorktreePath, "error", err)
			}
		}
	}

	goals, err := st.ListGoals(ctx)
	if err != nil {
		return nil, err
	}
	for _, g := range goals {
		if _, err := m.git(ctx, g.RepoPath, "worktree", "prune"); err != nil {
			slog.Warn("cleanup: worktree prune failed", "repo", g.RepoPath, "error", err)
			continue
		}
		branches, err := m.ListNamespaceBranches(ctx, g.RepoPath)
		if err != nil {
			slog.Warn("cleanup: listing namespace branches failed", "repo", g.RepoPath, "error", err)
			continue
		}
		for _, b := range branches {
			if err := m.DeleteBranch(ctx, g.RepoPath, b); err != nil {
				report.BranchesRetained = append(report.BranchesRetained, b)
				continue
			}
			report.BranchesDeleted++
		}
	}

	entries, err := os.ReadDir(m.BaseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return report, nil
		}
		return report, err
	}
	for _, entry := range entries {
		if liveAgentIDs[entry.Name()] {
			continue
		}
		if err := os.RemoveAll(filepath.Join(m.BaseDir, entry.Name())); err != nil {
			slog.Warn("cleanup: failed to prune stale worktree directory", "dir", entry.Name(), "error", err)
			continue
		}
		report.DirectoriesPruned++
	}

	return report, nil
}
