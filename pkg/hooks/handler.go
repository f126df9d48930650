// Package hooks implements the "stop" hook: a callback the external agent
// CLI invokes on its own when a session finishes its turn, independent of
// (and typically ahead of) the subprocess actually exiting and the Session
// Supervisor's own stdout-EOF path noticing.
//
// The HTTP route itself (pkg/api's thin gin handler) only binds the
// request body and hands off to HandleStop here, so the transition logic
// can be tested without gin.
package hooks

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/harrowgate/conductor/pkg/dispatch"
	"github.com/harrowgate/conductor/pkg/store"
)

// Store is the subset of *pkg/store.Store the stop hook needs.
type Store interface {
	GetAgentRunBySessionID(ctx context.Context, sessionID string) (*store.AgentRun, error)
	GetGoal(ctx context.Context, id string) (*store.Goal, error)
	UpdateAgentRunStatus(ctx context.Context, id string, newStatus store.AgentRunStatus) error
	UpdateTask(ctx context.Context, id string, p store.UpdateTaskParams) (*store.Task, error)
	AppendHistory(ctx context.Context, goalID string, eventType store.GoalHistoryType, description string, metadata map[string]any) error
}

// DispatchEnqueuer is the subset of *pkg/dispatch.Dispatcher the stop hook
// needs, to trigger the same merge-and-reevaluate pass a normal
// successful AgentRun completion would.
type DispatchEnqueuer interface {
	Enqueue(msg dispatch.Message) bool
}

// HandleStop marks the AgentRun behind sessionID (and its Task) done and
// enqueues the same completion message the Supervisor's own EOF path
// sends, so the hook and the stream-close path can never disagree about
// what a finished AgentRun looks like. It is idempotent: a hook
// call that races with (or follows) the subprocess's own natural exit is
// a no-op once the AgentRun is already terminal, since both paths agree
// on the same terminal state for a clean stop.
func HandleStop(ctx context.Context, st Store, dispatcher DispatchEnqueuer, sessionID string) error {
	run, err := st.GetAgentRunBySessionID(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("looking up agent run for session %s: %w", sessionID, err)
	}

	if run.Status.IsTerminal() {
		return nil
	}

	if err := st.UpdateAgentRunStatus(ctx, run.ID, store.AgentRunDone); err != nil {
		return fmt.Errorf("marking agent run done: %w", err)
	}

	taskDone := store.TaskDone
	if _, err := st.UpdateTask(ctx, run.TaskID, store.UpdateTaskParams{Status: &taskDone}); err != nil {
		return fmt.Errorf("marking task done: %w", err)
	}

	if err := st.AppendHistory(ctx, run.GoalID, store.HistoryTaskCompleted,
		fmt.Sprintf("task %s completed (session %s stopped)", run.TaskID, sessionID), nil); err != nil {
		slog.Error("recording task_completed history", "task_id", run.TaskID, "err", err)
	}

	goal, err := st.GetGoal(ctx, run.GoalID)
	if err != nil {
		return fmt.Errorf("loading goal: %w", err)
	}

	if ok := dispatcher.Enqueue(dispatch.Message{
		GoalID:        run.GoalID,
		BranchToMerge: run.Branch,
		RepoPath:      goal.RepoPath,
		AgentRunID:    run.ID,
	}); !ok {
		slog.Warn("dispatch queue full, dropping stop-hook completion signal", "agent_run_id", run.ID)
	}

	return nil
}
