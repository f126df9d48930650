package worktree

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBranchName(t *testing.T) {
	m := New("/tmp/conductor/worktrees", "conductor")

	tests := []struct {
		name    string
		agentID string
		title   string
		want    string
	}{
		{
			name:    "simple title",
			agentID: "abcdefgh-1111-2222-3333-444444444444",
			title:   "add feature x",
			want:    "conductor/abcdefgh/add-feature-x",
		},
		{
			name:    "punctuation collapses to hyphens",
			agentID: "12345678-aaaa",
			title:   "Fix bug!! (urgent)",
			want:    "conductor/12345678/fix-bug-urgent",
		},
		{
			name:    "long title truncates to 40 chars",
			agentID: "abcd1234",
			title:   "this is a very very very long task title that exceeds the limit",
			want:    "conductor/abcd1234/this-is-a-very-very-very-long-task-title",
		},
		{
			name:    "leading and trailing hyphens trimmed",
			agentID: "abcd1234",
			title:   "--- weird title ---",
			want:    "conductor/abcd1234/weird-title",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := m.BranchName(tt.agentID, tt.title)
			assert.Equal(t, tt.want, got)
			assert.LessOrEqual(t, len(lastSegment(got)), 40)
		})
	}
}

func TestBranchName_Idempotent(t *testing.T) {
	m := New("/tmp/conductor/worktrees", "conductor")
	a := m.BranchName("agent-id-1", "add feature x")
	b := m.BranchName("agent-id-1", "add feature x")
	assert.Equal(t, a, b)
}

func TestWorktreePath(t *testing.T) {
	m := New("/tmp/conductor/worktrees", "conductor")
	assert.Equal(t, "/tmp/conductor/worktrees/run-1", m.WorktreePath("run-1"))
}

// lastSegment returns the slug portion of a branch name for length
// assertions, avoiding a second import of "strings" purely for the test.
func lastSegment(branch string) string {
	idx := -1
	for i := len(branch) - 1; i >= 0; i-- {
		if branch[i] == '/' {
			idx = i
			break
		}
	}
	if idx == -1 {
		return branch
	}
	return branch[idx+1:]
}

// initTestRepo creates a real git repository with one commit on main,
// skipping the test when no git binary is on PATH.
func initTestRepo(t *testing.T) (repo string, m *Manager) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git binary not available")
	}

	repo = t.TempDir()
	m = New(t.TempDir(), "conductor")

	mustGit(t, m, repo, "init", "-b", "main")
	mustGit(t, m, repo, "config", "user.email", "conductor@test.invalid")
	mustGit(t, m, repo, "config", "user.name", "conductor test")

	require.NoError(t, os.WriteFile(filepath.Join(repo, "file.txt"), []byte("base\n"), 0o644))
	mustGit(t, m, repo, "add", "-A")
	mustGit(t, m, repo, "commit", "-m", "initial commit")

	return repo, m
}

func mustGit(t *testing.T, m *Manager, dir string, args ...string) string {
	t.Helper()
	out, err := m.git(context.Background(), dir, args...)
	require.NoError(t, err, "git %v: %s", args, out)
	return out
}

func commitFile(t *testing.T, m *Manager, dir, name, content, message string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	mustGit(t, m, dir, "add", "-A")
	mustGit(t, m, dir, "commit", "-m", message)
}

func TestCreateAndRemoveWorktree(t *testing.T) {
	repo, m := initTestRepo(t)
	ctx := context.Background()

	branch := m.BranchName("abcd1234-run", "add feature x")
	path, err := m.CreateWorktree(ctx, repo, "abcd1234-run", branch)
	require.NoError(t, err)
	assert.Equal(t, m.WorktreePath("abcd1234-run"), path)

	// The checkout is real: the base commit's file is present.
	_, err = os.Stat(filepath.Join(path, "file.txt"))
	require.NoError(t, err)

	branches, err := m.ListNamespaceBranches(ctx, repo)
	require.NoError(t, err)
	assert.Contains(t, branches, branch)

	worktrees, err := m.ListWorktrees(ctx, repo)
	require.NoError(t, err)
	assert.Contains(t, worktrees, path)

	require.NoError(t, m.RemoveWorktree(ctx, repo, path))
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err), "worktree directory should be gone")

	// Removing again is a no-op, not an error.
	require.NoError(t, m.RemoveWorktree(ctx, repo, path))
}

func TestMergeBranchToMainline(t *testing.T) {
	repo, m := initTestRepo(t)
	ctx := context.Background()

	branch := m.BranchName("run-merge", "merge me")
	path, err := m.CreateWorktree(ctx, repo, "run-merge", branch)
	require.NoError(t, err)

	commitFile(t, m, path, "feature.txt", "feature work\n", "add feature")

	require.NoError(t, m.MergeBranchToMainline(ctx, repo, branch))

	// The merged file is now reachable from main's checkout.
	_, err = os.Stat(filepath.Join(repo, "feature.txt"))
	require.NoError(t, err)

	// The branch is fully merged, so safe deletion succeeds.
	require.NoError(t, m.RemoveWorktree(ctx, repo, path))
	require.NoError(t, m.DeleteBranch(ctx, repo, branch))

	branches, err := m.ListNamespaceBranches(ctx, repo)
	require.NoError(t, err)
	assert.NotContains(t, branches, branch)
}

func TestMergeConflictAbortsAndKeepsRepoClean(t *testing.T) {
	repo, m := initTestRepo(t)
	ctx := context.Background()

	branch := m.BranchName("run-conflict", "conflicting change")
	path, err := m.CreateWorktree(ctx, repo, "run-conflict", branch)
	require.NoError(t, err)

	// Divergent edits to the same file on both sides.
	commitFile(t, m, path, "file.txt", "agent version\n", "agent edit")
	commitFile(t, m, repo, "file.txt", "mainline version\n", "mainline edit")

	err = m.MergeBranchToMainline(ctx, repo, branch)
	require.Error(t, err)
	assert.Contains(t, err.Error(), branch)

	// The abort left no merge in progress and no dirty files.
	status := mustGit(t, m, repo, "status", "--porcelain")
	assert.Empty(t, status, "repository must be clean after an aborted merge")

	// The unmerged branch survives for manual review; safe-mode deletion
	// refuses it.
	require.NoError(t, m.RemoveWorktree(ctx, repo, path))
	require.Error(t, m.DeleteBranch(ctx, repo, branch))

	branches, err := m.ListNamespaceBranches(ctx, repo)
	require.NoError(t, err)
	assert.Contains(t, branches, branch)
}
