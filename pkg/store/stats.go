package store

import (
	"context"
	"fmt"
)

// Stats computes the cheap aggregate overview surfaced by GET /api/stats.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	var st Stats
	row := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT count(*) FROM goal_spaces),
			(SELECT count(*) FROM goal_spaces WHERE status = $1),
			(SELECT count(*) FROM goal_spaces WHERE status = $2),
			(SELECT count(*) FROM tasks),
			(SELECT count(*) FROM agent_runs WHERE status NOT IN ($3, $4, $5)),
			(SELECT count(*) FROM agent_runs)`,
		string(GoalActive), string(GoalCompleted),
		string(AgentRunDone), string(AgentRunFailed), string(AgentRunKilled),
	)
	if err := row.Scan(&st.TotalGoals, &st.ActiveGoals, &st.CompletedGoals, &st.TotalTasks, &st.RunningAgentRuns, &st.TotalAgentRuns); err != nil {
		return nil, fmt.Errorf("computing stats: %w", err)
	}
	return &st, nil
}
