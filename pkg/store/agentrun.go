package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CreateAgentRunParams are the fields supplied when spawning a new AgentRun.
type CreateAgentRunParams struct {
	// ID lets the caller pre-assign the AgentRun's id. The Session
	// Supervisor needs the id before this call returns, to derive the
	// branch name and worktree path. If empty, a new id is generated as
	// usual.
	ID           string
	TaskID       string
	GoalID       string
	WorktreePath string
	Branch       string
	Model        string
	MaxBudgetUSD *float64
}

// CreateAgentRun inserts a new AgentRun in the spawning status. It rejects
// the call if the Task already has a non-terminal AgentRun: at most one
// agent works a task at a time.
func (s *Store) CreateAgentRun(ctx context.Context, p CreateAgentRunParams) (*AgentRun, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var activeCount int
	err = tx.QueryRowContext(ctx, `
		SELECT count(*) FROM agent_runs
		WHERE task_id = $1 AND status NOT IN ($2, $3, $4)`,
		p.TaskID, string(AgentRunDone), string(AgentRunFailed), string(AgentRunKilled),
	).Scan(&activeCount)
	if err != nil {
		return nil, fmt.Errorf("checking active agent runs: %w", err)
	}
	if activeCount > 0 {
		return nil, conflictErrorf("task %q already has a non-terminal agent run", p.TaskID)
	}

	id := p.ID
	if id == "" {
		id = uuid.NewString()
	}

	now := time.Now().UTC()
	run := &AgentRun{
		ID:             id,
		TaskID:         p.TaskID,
		GoalID:         p.GoalID,
		WorktreePath:   p.WorktreePath,
		Branch:         p.Branch,
		Status:         AgentRunSpawning,
		Model:          p.Model,
		MaxBudgetUSD:   p.MaxBudgetUSD,
		StartedAt:      now,
		LastActivityAt: now,
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO agent_runs (id, task_id, goal_space_id, session_id, worktree_path, branch, status, model,
			cost_usd, input_tokens, output_tokens, max_budget_usd, started_at, last_activity_at)
		VALUES ($1, $2, $3, '', $4, $5, $6, $7, 0, 0, 0, $8, $9, $10)`,
		run.ID, run.TaskID, run.GoalID, run.WorktreePath, run.Branch, string(run.Status), run.Model,
		run.MaxBudgetUSD, run.StartedAt, run.LastActivityAt,
	)
	if err != nil {
		return nil, fmt.Errorf("inserting agent run: %w", err)
	}

	if err := appendHistoryTx(ctx, tx, p.GoalID, HistoryAgentSpawned, "agent run spawned", nil); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing transaction: %w", err)
	}
	return run, nil
}

// GetAgentRun fetches a single AgentRun by id.
func (s *Store) GetAgentRun(ctx context.Context, id string) (*AgentRun, error) {
	row := s.db.QueryRowContext(ctx, agentRunSelect+` WHERE id = $1`, id)
	run, err := scanAgentRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFoundErrorf("agent run %q", id)
	}
	if err != nil {
		return nil, err
	}
	return run, nil
}

// GetAgentRunBySessionID looks up the AgentRun whose external session id
// matches — used by the stop-hook endpoint.
func (s *Store) GetAgentRunBySessionID(ctx context.Context, sessionID string) (*AgentRun, error) {
	row := s.db.QueryRowContext(ctx, agentRunSelect+` WHERE session_id = $1`, sessionID)
	run, err := scanAgentRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFoundErrorf("agent run with session %q", sessionID)
	}
	if err != nil {
		return nil, err
	}
	return run, nil
}

// ListAgentRuns returns every AgentRun, newest first.
func (s *Store) ListAgentRuns(ctx context.Context) ([]*AgentRun, error) {
	rows, err := s.db.QueryContext(ctx, agentRunSelect+` ORDER BY started_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing agent runs: %w", err)
	}
	defer rows.Close()

	var runs []*AgentRun
	for rows.Next() {
		run, err := scanAgentRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// ListNonTerminalAgentRuns returns every AgentRun not yet in a terminal
// status — used by cleanupStale on startup.
func (s *Store) ListNonTerminalAgentRuns(ctx context.Context) ([]*AgentRun, error) {
	rows, err := s.db.QueryContext(ctx, agentRunSelect+`
		WHERE status NOT IN ($1, $2, $3)`,
		string(AgentRunDone), string(AgentRunFailed), string(AgentRunKilled))
	if err != nil {
		return nil, fmt.Errorf("listing non-terminal agent runs: %w", err)
	}
	defer rows.Close()

	var runs []*AgentRun
	for rows.Next() {
		run, err := scanAgentRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// UpdateAgentRunStatus enforces the AgentRun transition table and, if the
// new status is terminal, sets finished_at.
func (s *Store) UpdateAgentRunStatus(ctx context.Context, id string, newStatus AgentRunStatus) error {
	run, err := s.GetAgentRun(ctx, id)
	if err != nil {
		return err
	}
	if !ValidAgentRunTransition(run.Status, newStatus) {
		return validationErrorf("illegal agent run transition %s -> %s", run.Status, newStatus)
	}

	now := time.Now().UTC()
	var finishedAt *time.Time
	if newStatus.IsTerminal() {
		finishedAt = &now
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE agent_runs SET status=$1, finished_at=$2, last_activity_at=$3 WHERE id=$4`,
		string(newStatus), finishedAt, now, id,
	)
	if err != nil {
		return fmt.Errorf("updating agent run status: %w", err)
	}
	return nil
}

// SetAgentRunSessionID records the external agent's session id once it
// first appears in the event stream.
func (s *Store) SetAgentRunSessionID(ctx context.Context, id, sessionID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE agent_runs SET session_id=$1 WHERE id=$2`, sessionID, id)
	if err != nil {
		return fmt.Errorf("setting agent run session id: %w", err)
	}
	return nil
}

// UpdateAgentRunCost bumps the accumulated cost/token counters and
// last_activity_at.
func (s *Store) UpdateAgentRunCost(ctx context.Context, id string, cost float64, inTok, outTok int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE agent_runs
		SET cost_usd = cost_usd + $1, input_tokens = input_tokens + $2, output_tokens = output_tokens + $3,
			last_activity_at = $4
		WHERE id = $5`,
		cost, inTok, outTok, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("updating agent run cost: %w", err)
	}
	return nil
}

// UpdateAgentRunActivity bumps last_activity_at only, used when an event
// arrives that carries no cost.
func (s *Store) UpdateAgentRunActivity(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE agent_runs SET last_activity_at=$1 WHERE id=$2`, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("updating agent run activity: %w", err)
	}
	return nil
}

const agentRunSelect = `
	SELECT id, task_id, goal_space_id, session_id, worktree_path, branch, status, model,
		cost_usd, input_tokens, output_tokens, max_budget_usd, started_at, last_activity_at, finished_at
	FROM agent_runs`

func scanAgentRun(row interface{ Scan(...any) error }) (*AgentRun, error) {
	var r AgentRun
	var status string
	if err := row.Scan(&r.ID, &r.TaskID, &r.GoalID, &r.SessionID, &r.WorktreePath, &r.Branch, &status, &r.Model,
		&r.CostUSD, &r.InputTokens, &r.OutputTokens, &r.MaxBudgetUSD, &r.StartedAt, &r.LastActivityAt, &r.FinishedAt); err != nil {
		return nil, err
	}
	r.Status = AgentRunStatus(status)
	return &r, nil
}
