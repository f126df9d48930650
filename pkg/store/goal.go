package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CreateGoalParams are the fields a caller supplies when creating a Goal.
type CreateGoalParams struct {
	Name        string
	Description string
	RepoPath    string
	Settings    Settings
}

// CreateGoal inserts a new Goal in the active status and appends a "created"
// GoalHistory entry in the same transaction.
func (s *Store) CreateGoal(ctx context.Context, p CreateGoalParams) (*Goal, error) {
	if p.Name == "" {
		return nil, validationErrorf("goal name is required")
	}
	if p.RepoPath == "" {
		return nil, validationErrorf("goal repo_path is required")
	}

	settingsJSON, err := json.Marshal(p.Settings)
	if err != nil {
		return nil, fmt.Errorf("marshaling settings: %w", err)
	}

	g := &Goal{
		ID:          uuid.NewString(),
		Name:        p.Name,
		Description: p.Description,
		RepoPath:    p.RepoPath,
		Status:      GoalActive,
		Settings:    p.Settings,
		CreatedAt:   time.Now().UTC(),
		UpdatedAt:   time.Now().UTC(),
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO goal_spaces (id, name, description, repo_path, status, settings, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		g.ID, g.Name, g.Description, g.RepoPath, string(g.Status), settingsJSON, g.CreatedAt, g.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("inserting goal: %w", err)
	}

	if err := appendHistoryTx(ctx, tx, g.ID, HistoryGoalCreated, "goal created", nil); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing transaction: %w", err)
	}
	return g, nil
}

// GetGoal fetches a single Goal by id.
func (s *Store) GetGoal(ctx context.Context, id string) (*Goal, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, repo_path, status, settings, created_at, updated_at
		FROM goal_spaces WHERE id = $1`, id)
	g, err := scanGoal(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFoundErrorf("goal %q", id)
	}
	if err != nil {
		return nil, err
	}
	return g, nil
}

// ListGoals returns all Goals ordered by creation time, newest first.
func (s *Store) ListGoals(ctx context.Context) ([]*Goal, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, description, repo_path, status, settings, created_at, updated_at
		FROM goal_spaces ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing goals: %w", err)
	}
	defer rows.Close()

	var goals []*Goal
	for rows.Next() {
		g, err := scanGoal(rows)
		if err != nil {
			return nil, err
		}
		goals = append(goals, g)
	}
	return goals, rows.Err()
}

// UpdateGoalParams carries the patchable fields of PUT /api/goals/{id}. Nil
// fields are left unchanged.
type UpdateGoalParams struct {
	Name        *string
	Description *string
	Status      *GoalStatus
	Settings    *Settings
}

// UpdateGoal patches the given fields. Status here is a free-form update (used
// for un-archiving, for instance); the atomic completed-transition goes
// through MarkGoalCompletedIfAllTasksDone instead.
func (s *Store) UpdateGoal(ctx context.Context, id string, p UpdateGoalParams) (*Goal, error) {
	g, err := s.GetGoal(ctx, id)
	if err != nil {
		return nil, err
	}

	if p.Name != nil {
		g.Name = *p.Name
	}
	if p.Description != nil {
		g.Description = *p.Description
	}
	if p.Status != nil {
		g.Status = *p.Status
	}
	if p.Settings != nil {
		g.Settings = *p.Settings
	}
	g.UpdatedAt = time.Now().UTC()

	settingsJSON, err := json.Marshal(g.Settings)
	if err != nil {
		return nil, fmt.Errorf("marshaling settings: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE goal_spaces SET name=$1, description=$2, status=$3, settings=$4, updated_at=$5
		WHERE id=$6`,
		g.Name, g.Description, string(g.Status), settingsJSON, g.UpdatedAt, g.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("updating goal: %w", err)
	}
	return g, nil
}

// ArchiveGoal soft-deletes a Goal by setting its status to archived.
func (s *Store) ArchiveGoal(ctx context.Context, id string) error {
	status := GoalArchived
	_, err := s.UpdateGoal(ctx, id, UpdateGoalParams{Status: &status})
	return err
}

// MarkGoalCompletedIfAllTasksDone executes the atomic completion check: a
// Goal becomes completed iff it has at least one task and no task
// has a status other than done, and it is not already completed. The three
// conditions and the write happen in a single UPDATE statement so a
// concurrent task insert cannot race a read-then-write. Returns whether the
// row was modified.
func (s *Store) MarkGoalCompletedIfAllTasksDone(ctx context.Context, goalID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE goal_spaces
		SET status = $1, updated_at = $2
		WHERE id = $3
		  AND status <> $1
		  AND EXISTS (SELECT 1 FROM tasks WHERE goal_space_id = $3)
		  AND NOT EXISTS (SELECT 1 FROM tasks WHERE goal_space_id = $3 AND status <> $4)`,
		string(GoalCompleted), time.Now().UTC(), goalID, string(TaskDone),
	)
	if err != nil {
		return false, fmt.Errorf("marking goal completed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking rows affected: %w", err)
	}
	if n > 0 {
		if err := s.AppendHistory(ctx, goalID, HistoryGoalCompleted, "all tasks done", nil); err != nil {
			return true, err
		}
	}
	return n > 0, nil
}

func scanGoal(row interface{ Scan(...any) error }) (*Goal, error) {
	var g Goal
	var settingsJSON []byte
	var status string
	if err := row.Scan(&g.ID, &g.Name, &g.Description, &g.RepoPath, &status, &settingsJSON, &g.CreatedAt, &g.UpdatedAt); err != nil {
		return nil, err
	}
	g.Status = GoalStatus(status)
	if len(settingsJSON) > 0 {
		if err := json.Unmarshal(settingsJSON, &g.Settings); err != nil {
			return nil, fmt.Errorf("unmarshaling settings: %w", err)
		}
	}
	return &g, nil
}
