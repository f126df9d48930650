package api

import (
	"context"
	"fmt"

	"github.com/harrowgate/conductor/pkg/store"
)

// TaskSpec is one task proposed by a Decomposer. DependsOn references the
// indices of other TaskSpecs earlier in the same slice (the decomposition
// collaborator is expected to emit specs in dependency order, a sibling
// task can never depend on one that hasn't been listed yet), which
// createDecomposedTasks resolves to real Task ids as it creates each task
// in order.
type TaskSpec struct {
	Title       string
	Description string
	Priority    int
	DependsOn   []int
	Settings    *store.Settings
}

// Decomposer is the external LLM collaborator that turns a Goal's
// description into a task DAG. Conductor's core depends only on this
// interface; the actual LLM call lives outside this module.
type Decomposer interface {
	Decompose(ctx context.Context, goal *store.Goal) ([]TaskSpec, error)
}

// taskCreator is the one Store method createDecomposedTasks needs.
type taskCreator interface {
	CreateTask(ctx context.Context, p store.CreateTaskParams) (*store.Task, error)
}

// createDecomposedTasks persists a Decomposer's output as real Tasks,
// translating slice-index DependsOn references into the ids the Store
// assigns as each task is created.
func createDecomposedTasks(ctx context.Context, st taskCreator, goalID string, specs []TaskSpec) ([]*store.Task, error) {
	created := make([]*store.Task, 0, len(specs))
	for _, spec := range specs {
		dependsOn := make([]string, 0, len(spec.DependsOn))
		for _, idx := range spec.DependsOn {
			if idx < 0 || idx >= len(created) {
				return created, fmt.Errorf("%w: task %q depends_on index %d out of range", store.ErrValidation, spec.Title, idx)
			}
			dependsOn = append(dependsOn, created[idx].ID)
		}
		task, err := st.CreateTask(ctx, store.CreateTaskParams{
			GoalID:      goalID,
			Title:       spec.Title,
			Description: spec.Description,
			Priority:    spec.Priority,
			DependsOn:   dependsOn,
			Settings:    spec.Settings,
		})
		if err != nil {
			return created, err
		}
		created = append(created, task)
	}
	return created, nil
}
