package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CreateProjectParams are the fields supplied when grouping Goals under a
// shared Project.
type CreateProjectParams struct {
	Name        string
	Description string
}

// CreateProject inserts a new Project.
func (s *Store) CreateProject(ctx context.Context, p CreateProjectParams) (*Project, error) {
	if p.Name == "" {
		return nil, validationErrorf("project name is required")
	}
	proj := &Project{
		ID:          uuid.NewString(),
		Name:        p.Name,
		Description: p.Description,
		CreatedAt:   time.Now().UTC(),
		UpdatedAt:   time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO projects (id, name, description, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)`,
		proj.ID, proj.Name, proj.Description, proj.CreatedAt, proj.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("inserting project: %w", err)
	}
	return proj, nil
}

// GetProject fetches a single Project by id.
func (s *Store) GetProject(ctx context.Context, id string) (*Project, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, created_at, updated_at FROM projects WHERE id = $1`, id)
	var p Project
	err := row.Scan(&p.ID, &p.Name, &p.Description, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFoundErrorf("project %q", id)
	}
	if err != nil {
		return nil, fmt.Errorf("scanning project: %w", err)
	}
	return &p, nil
}

// ListProjects returns all Projects, newest first.
func (s *Store) ListProjects(ctx context.Context) ([]*Project, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, description, created_at, updated_at FROM projects ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing projects: %w", err)
	}
	defer rows.Close()

	var projects []*Project
	for rows.Next() {
		var p Project
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning project row: %w", err)
		}
		projects = append(projects, &p)
	}
	return projects, rows.Err()
}

// AssignGoalToProject links a Goal to a Project (or clears the link if
// projectID is empty).
func (s *Store) AssignGoalToProject(ctx context.Context, goalID, projectID string) error {
	var arg any
	if projectID != "" {
		arg = projectID
	}
	_, err := s.db.ExecContext(ctx, `UPDATE goal_spaces SET project_id=$1, updated_at=$2 WHERE id=$3`, arg, time.Now().UTC(), goalID)
	if err != nil {
		return fmt.Errorf("assigning goal to project: %w", err)
	}
	return nil
}

// AppendGoalMessageParams are the fields of one operator/agent chat entry.
type AppendGoalMessageParams struct {
	GoalID  string
	Role    string
	Content string
}

// AppendGoalMessage records one free-form message in a Goal's chat log.
func (s *Store) AppendGoalMessage(ctx context.Context, p AppendGoalMessageParams) (*GoalMessage, error) {
	m := &GoalMessage{
		GoalID:    p.GoalID,
		Role:      p.Role,
		Content:   p.Content,
		CreatedAt: time.Now().UTC(),
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO goal_messages (goal_space_id, role, content, created_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id`,
		m.GoalID, m.Role, m.Content, m.CreatedAt,
	).Scan(&m.ID)
	if err != nil {
		return nil, fmt.Errorf("appending goal message: %w", err)
	}
	return m, nil
}

// ListGoalMessages returns a Goal's chat log, oldest first.
func (s *Store) ListGoalMessages(ctx context.Context, goalID string) ([]*GoalMessage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, goal_space_id, role, content, created_at
		FROM goal_messages WHERE goal_space_id = $1 ORDER BY id ASC`, goalID)
	if err != nil {
		return nil, fmt.Errorf("listing goal messages: %w", err)
	}
	defer rows.Close()

	var messages []*GoalMessage
	for rows.Next() {
		var m GoalMessage
		if err := rows.Scan(&m.ID, &m.GoalID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning goal message row: %w", err)
		}
		messages = append(messages, &m)
	}
	return messages, rows.Err()
}
