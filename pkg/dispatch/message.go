package dispatch

import (
	"context"

	"github.com/harrowgate/conductor/pkg/store"
)

// Message is one unit of work for the Dispatcher's single-consumer channel:
// a merge-completion signal, a manual dispatch request, or both.
type Message struct {
	GoalID string

	// BranchToMerge and RepoPath are set together when a just-finished
	// AgentRun's branch should be merged before the Goal is re-evaluated.
	BranchToMerge string
	RepoPath      string
	AgentRunID    string
}

// Spawner is the Session Supervisor's contract as seen by the Dispatcher.
// Defined here (rather than imported from pkg/supervisor) so pkg/supervisor
// can depend on pkg/dispatch for the Message type without creating an
// import cycle — pkg/supervisor.Supervisor satisfies this interface
// structurally.
type Spawner interface {
	Spawn(ctx context.Context, task *store.Task, goal *store.Goal, effective store.Settings, prompt string) error
}
