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

// CreateTaskParams are the fields a caller supplies when creating a Task.
type CreateTaskParams struct {
	GoalID      string
	Title       string
	Description string
	Priority    int
	DependsOn   []string
	Settings    *Settings
}

// CreateTask inserts a new pending Task, rejecting it if any depends_on id
// does not belong to the same Goal or would introduce a cycle.
func (s *Store) CreateTask(ctx context.Context, p CreateTaskParams) (*Task, error) {
	if p.Title == "" {
		return nil, validationErrorf("task title is required")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	existing, err := listTasksTx(ctx, tx, p.GoalID)
	if err != nil {
		return nil, err
	}
	known := make(map[string]bool, len(existing))
	for _, t := range existing {
		known[t.ID] = true
	}
	for _, dep := range p.DependsOn {
		if !known[dep] {
			return nil, validationErrorf("depends_on id %q does not belong to goal %q", dep, p.GoalID)
		}
	}

	newID := uuid.NewString()
	if wouldCycle(existing, newID, p.DependsOn) {
		return nil, validationErrorf("task %q would introduce a dependency cycle", p.Title)
	}

	dependsOnJSON, err := json.Marshal(p.DependsOn)
	if err != nil {
		return nil, fmt.Errorf("marshaling depends_on: %w", err)
	}
	var settingsJSON []byte
	if p.Settings != nil {
		settingsJSON, err = json.Marshal(p.Settings)
		if err != nil {
			return nil, fmt.Errorf("marshaling settings: %w", err)
		}
	}

	t := &Task{
		ID:          newID,
		GoalID:      p.GoalID,
		Title:       p.Title,
		Description: p.Description,
		Priority:    p.Priority,
		DependsOn:   p.DependsOn,
		Status:      TaskPending,
		Settings:    p.Settings,
		CreatedAt:   time.Now().UTC(),
		UpdatedAt:   time.Now().UTC(),
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO tasks (id, goal_space_id, title, description, priority, depends_on, status, settings, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		t.ID, t.GoalID, t.Title, t.Description, t.Priority, dependsOnJSON, string(t.Status), nullableJSON(settingsJSON), t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("inserting task: %w", err)
	}

	if err := appendHistoryTx(ctx, tx, t.GoalID, HistoryTaskAdded, fmt.Sprintf("task %q added", t.Title), nil); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing transaction: %w", err)
	}
	return t, nil
}

// wouldCycle reports whether adding newID->dependsOn to the existing task
// set would create a cycle, via depth-first search from newID.
func wouldCycle(existing []*Task, newID string, dependsOn []string) bool {
	byID := make(map[string][]string, len(existing)+1)
	for _, t := range existing {
		byID[t.ID] = t.DependsOn
	}
	byID[newID] = dependsOn

	visiting := map[string]bool{}
	visited := map[string]bool{}

	var visit func(id string) bool
	visit = func(id string) bool {
		if visiting[id] {
			return true
		}
		if visited[id] {
			return false
		}
		visiting[id] = true
		for _, dep := range byID[id] {
			if visit(dep) {
				return true
			}
		}
		visiting[id] = false
		visited[id] = true
		return false
	}
	return visit(newID)
}

// GetTask fetches a single Task by id.
func (s *Store) GetTask(ctx context.Context, id string) (*Task, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, goal_space_id, title, description, priority, depends_on, status, settings, created_at, updated_at
		FROM tasks WHERE id = $1`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFoundErrorf("task %q", id)
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

// ListTasks returns every Task belonging to a Goal.
func (s *Store) ListTasks(ctx context.Context, goalID string) ([]*Task, error) {
	return listTasksTx(ctx, s.db, goalID)
}

func listTasksTx(ctx context.Context, q queryer, goalID string) ([]*Task, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, goal_space_id, title, description, priority, depends_on, status, settings, created_at, updated_at
		FROM tasks WHERE goal_space_id = $1`, goalID)
	if err != nil {
		return nil, fmt.Errorf("listing tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// UpdateTaskParams carries the patchable fields of PUT /api/tasks/{id}.
type UpdateTaskParams struct {
	Title       *string
	Description *string
	Priority    *int
	DependsOn   *[]string
	Status      *TaskStatus
	Settings    **Settings // double pointer: nil = unchanged, pointing-to-nil = clear overrides
}

// UpdateTask applies a patch, enforcing the task status transition table
// when Status is set and re-validating membership and acyclicity when
// DependsOn changes.
func (s *Store) UpdateTask(ctx context.Context, id string, p UpdateTaskParams) (*Task, error) {
	t, err := s.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}

	if p.Title != nil {
		t.Title = *p.Title
	}
	if p.Description != nil {
		t.Description = *p.Description
	}
	if p.Priority != nil {
		t.Priority = *p.Priority
	}
	if p.DependsOn != nil {
		siblings, err := s.ListTasks(ctx, t.GoalID)
		if err != nil {
			return nil, err
		}
		known := make(map[string]bool, len(siblings))
		for _, sib := range siblings {
			known[sib.ID] = true
		}
		for _, dep := range *p.DependsOn {
			if dep == t.ID {
				return nil, validationErrorf("task %q cannot depend on itself", t.ID)
			}
			if !known[dep] {
				return nil, validationErrorf("depends_on id %q does not belong to goal %q", dep, t.GoalID)
			}
		}
		if wouldCycle(siblings, t.ID, *p.DependsOn) {
			return nil, validationErrorf("updating task %q dependencies would introduce a cycle", t.ID)
		}
		t.DependsOn = *p.DependsOn
	}
	if p.Status != nil {
		if !ValidTaskTransition(t.Status, *p.Status) {
			return nil, validationErrorf("illegal task transition %s -> %s", t.Status, *p.Status)
		}
		t.Status = *p.Status
	}
	if p.Settings != nil {
		t.Settings = *p.Settings
	}
	t.UpdatedAt = time.Now().UTC()

	dependsOnJSON, err := json.Marshal(t.DependsOn)
	if err != nil {
		return nil, fmt.Errorf("marshaling depends_on: %w", err)
	}
	var settingsJSON []byte
	if t.Settings != nil {
		settingsJSON, err = json.Marshal(t.Settings)
		if err != nil {
			return nil, fmt.Errorf("marshaling settings: %w", err)
		}
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE tasks SET title=$1, description=$2, priority=$3, depends_on=$4, status=$5, settings=$6, updated_at=$7
		WHERE id=$8`,
		t.Title, t.Description, t.Priority, dependsOnJSON, string(t.Status), nullableJSON(settingsJSON), t.UpdatedAt, t.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("updating task: %w", err)
	}

	if p.Status != nil && *p.Status == TaskDone {
		if err := s.AppendHistory(ctx, t.GoalID, HistoryTaskCompleted, fmt.Sprintf("task %q done", t.Title), nil); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// UnblockedTasks returns tasks whose status is pending and whose every
// dependency has status done.
func (s *Store) UnblockedTasks(ctx context.Context, goalID string) ([]*Task, error) {
	all, err := s.ListTasks(ctx, goalID)
	if err != nil {
		return nil, err
	}
	doneSet := map[string]bool{}
	for _, t := range all {
		if t.Status == TaskDone {
			doneSet[t.ID] = true
		}
	}

	var unblocked []*Task
	for _, t := range all {
		if t.Status != TaskPending {
			continue
		}
		ready := true
		for _, dep := range t.DependsOn {
			if !doneSet[dep] {
				ready = false
				break
			}
		}
		if ready {
			unblocked = append(unblocked, t)
		}
	}
	return unblocked, nil
}

func scanTask(row interface{ Scan(...any) error }) (*Task, error) {
	var t Task
	var dependsOnJSON []byte
	var settingsJSON []byte
	var status string
	if err := row.Scan(&t.ID, &t.GoalID, &t.Title, &t.Description, &t.Priority, &dependsOnJSON, &status, &settingsJSON, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	t.Status = TaskStatus(status)
	if len(dependsOnJSON) > 0 {
		if err := json.Unmarshal(dependsOnJSON, &t.DependsOn); err != nil {
			return nil, fmt.Errorf("unmarshaling depends_on: %w", err)
		}
	}
	if len(settingsJSON) > 0 {
		var settings Settings
		if err := json.Unmarshal(settingsJSON, &settings); err != nil {
			return nil, fmt.Errorf("unmarshaling settings: %w", err)
		}
		t.Settings = &settings
	}
	return &t, nil
}

func nullableJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}
