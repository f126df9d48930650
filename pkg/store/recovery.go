package store

import (
	"context"
	"fmt"
	"time"
)

// ForceTaskPending resets a Task directly to pending, bypassing the normal
// transition table. Crash recovery is the one legitimate caller: a Task
// left `running`/`assigned` by a process that died mid-AgentRun has no
// live owner left to drive it through an orderly transition, so recovery
// must be able to reclaim it unconditionally.
func (s *Store) ForceTaskPending(ctx context.Context, taskID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE tasks SET status=$1, updated_at=$2 WHERE id=$3`,
		string(TaskPending), time.Now().UTC(), taskID)
	if err != nil {
		return fmt.Errorf("force-resetting task to pending: %w", err)
	}
	return nil
}

// ForceAgentRunFailed marks an AgentRun failed unconditionally, bypassing
// the transition table, for the same crash-recovery reason as
// ForceTaskPending.
func (s *Store) ForceAgentRunFailed(ctx context.Context, agentRunID string) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `UPDATE agent_runs SET status=$1, finished_at=$2, last_activity_at=$3 WHERE id=$4`,
		string(AgentRunFailed), now, now, agentRunID)
	if err != nil {
		return fmt.Errorf("force-failing agent run: %w", err)
	}
	return nil
}
