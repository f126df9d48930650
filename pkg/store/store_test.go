package store_test

import (
	"context"
	"sync"
	"testing"

	"github.com/harrowgate/conductor/pkg/store"
	testdb "github.com/harrowgate/conductor/test/database"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateGoalAndTask(t *testing.T) {
	ctx := context.Background()
	st := testdb.NewTestStore(t)

	g, err := st.CreateGoal(ctx, store.CreateGoalParams{
		Name:     "ship feature x",
		RepoPath: "/repo",
	})
	require.NoError(t, err)
	assert.Equal(t, store.GoalActive, g.Status)

	task, err := st.CreateTask(ctx, store.CreateTaskParams{
		GoalID: g.ID,
		Title:  "add feature x",
	})
	require.NoError(t, err)
	assert.Equal(t, store.TaskPending, task.Status)

	history, err := st.ListHistory(ctx, g.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, store.HistoryGoalCreated, history[0].EventType)
	assert.Equal(t, store.HistoryTaskAdded, history[1].EventType)
}

func TestCreateTaskRejectsForeignDependency(t *testing.T) {
	ctx := context.Background()
	st := testdb.NewTestStore(t)

	g1, err := st.CreateGoal(ctx, store.CreateGoalParams{Name: "g1", RepoPath: "/repo"})
	require.NoError(t, err)
	g2, err := st.CreateGoal(ctx, store.CreateGoalParams{Name: "g2", RepoPath: "/repo"})
	require.NoError(t, err)

	other, err := st.CreateTask(ctx, store.CreateTaskParams{GoalID: g2.ID, Title: "other goal's task"})
	require.NoError(t, err)

	_, err = st.CreateTask(ctx, store.CreateTaskParams{
		GoalID:    g1.ID,
		Title:     "depends on foreign task",
		DependsOn: []string{other.ID},
	})
	require.ErrorIs(t, err, store.ErrValidation)
}

func TestDependencyCycleRejected(t *testing.T) {
	ctx := context.Background()
	st := testdb.NewTestStore(t)

	g, err := st.CreateGoal(ctx, store.CreateGoalParams{Name: "g", RepoPath: "/repo"})
	require.NoError(t, err)

	a, err := st.CreateTask(ctx, store.CreateTaskParams{GoalID: g.ID, Title: "a"})
	require.NoError(t, err)
	b, err := st.CreateTask(ctx, store.CreateTaskParams{GoalID: g.ID, Title: "b", DependsOn: []string{a.ID}})
	require.NoError(t, err)
	c, err := st.CreateTask(ctx, store.CreateTaskParams{GoalID: g.ID, Title: "c", DependsOn: []string{b.ID}})
	require.NoError(t, err)

	// Pointing a back at c closes the loop a -> c -> b -> a.
	deps := []string{c.ID}
	_, err = st.UpdateTask(ctx, a.ID, store.UpdateTaskParams{DependsOn: &deps})
	require.ErrorIs(t, err, store.ErrValidation)

	// Self-dependency is a cycle of length one.
	self := []string{a.ID}
	_, err = st.UpdateTask(ctx, a.ID, store.UpdateTaskParams{DependsOn: &self})
	require.ErrorIs(t, err, store.ErrValidation)

	// A fresh task depending on existing ones never cycles.
	_, err = st.CreateTask(ctx, store.CreateTaskParams{
		GoalID:    g.ID,
		Title:     "leaf",
		DependsOn: []string{a.ID, c.ID},
	})
	require.NoError(t, err)
}

func TestTaskStatusTransitions(t *testing.T) {
	ctx := context.Background()
	st := testdb.NewTestStore(t)

	g, err := st.CreateGoal(ctx, store.CreateGoalParams{Name: "g", RepoPath: "/repo"})
	require.NoError(t, err)
	task, err := st.CreateTask(ctx, store.CreateTaskParams{GoalID: g.ID, Title: "t"})
	require.NoError(t, err)

	running := store.TaskRunning
	_, err = st.UpdateTask(ctx, task.ID, store.UpdateTaskParams{Status: &running})
	require.NoError(t, err)

	done := store.TaskDone
	_, err = st.UpdateTask(ctx, task.ID, store.UpdateTaskParams{Status: &done})
	require.NoError(t, err)

	// done -> running is illegal.
	_, err = st.UpdateTask(ctx, task.ID, store.UpdateTaskParams{Status: &running})
	require.ErrorIs(t, err, store.ErrValidation)
}

func TestUnblockedTasks(t *testing.T) {
	ctx := context.Background()
	st := testdb.NewTestStore(t)

	g, err := st.CreateGoal(ctx, store.CreateGoalParams{Name: "g", RepoPath: "/repo"})
	require.NoError(t, err)

	a, err := st.CreateTask(ctx, store.CreateTaskParams{GoalID: g.ID, Title: "a"})
	require.NoError(t, err)
	b, err := st.CreateTask(ctx, store.CreateTaskParams{GoalID: g.ID, Title: "b", DependsOn: []string{a.ID}})
	require.NoError(t, err)

	unblocked, err := st.UnblockedTasks(ctx, g.ID)
	require.NoError(t, err)
	require.Len(t, unblocked, 1)
	assert.Equal(t, a.ID, unblocked[0].ID)

	running := store.TaskRunning
	_, err = st.UpdateTask(ctx, a.ID, store.UpdateTaskParams{Status: &running})
	require.NoError(t, err)
	done := store.TaskDone
	_, err = st.UpdateTask(ctx, a.ID, store.UpdateTaskParams{Status: &done})
	require.NoError(t, err)

	unblocked, err = st.UnblockedTasks(ctx, g.ID)
	require.NoError(t, err)
	require.Len(t, unblocked, 1)
	assert.Equal(t, b.ID, unblocked[0].ID)
}

func TestMarkGoalCompletedIfAllTasksDone(t *testing.T) {
	ctx := context.Background()
	st := testdb.NewTestStore(t)

	g, err := st.CreateGoal(ctx, store.CreateGoalParams{Name: "g", RepoPath: "/repo"})
	require.NoError(t, err)

	// No tasks yet: must not complete.
	completed, err := st.MarkGoalCompletedIfAllTasksDone(ctx, g.ID)
	require.NoError(t, err)
	assert.False(t, completed)

	task, err := st.CreateTask(ctx, store.CreateTaskParams{GoalID: g.ID, Title: "t"})
	require.NoError(t, err)

	completed, err = st.MarkGoalCompletedIfAllTasksDone(ctx, g.ID)
	require.NoError(t, err)
	assert.False(t, completed, "goal should not complete while a task is pending")

	running := store.TaskRunning
	_, err = st.UpdateTask(ctx, task.ID, store.UpdateTaskParams{Status: &running})
	require.NoError(t, err)
	done := store.TaskDone
	_, err = st.UpdateTask(ctx, task.ID, store.UpdateTaskParams{Status: &done})
	require.NoError(t, err)

	completed, err = st.MarkGoalCompletedIfAllTasksDone(ctx, g.ID)
	require.NoError(t, err)
	assert.True(t, completed)

	got, err := st.GetGoal(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, store.GoalCompleted, got.Status)

	// Idempotent: calling again doesn't re-fire.
	completed, err = st.MarkGoalCompletedIfAllTasksDone(ctx, g.ID)
	require.NoError(t, err)
	assert.False(t, completed)
}

// TestMarkGoalCompletedIfAllTasksDoneIsLinearizable spins concurrent task
// inserts against concurrent completion checks on the same goal and asserts
// the goal is never left completed while a pending task exists.
func TestMarkGoalCompletedIfAllTasksDoneIsLinearizable(t *testing.T) {
	ctx := context.Background()
	st := testdb.NewTestStore(t)

	g, err := st.CreateGoal(ctx, store.CreateGoalParams{Name: "g", RepoPath: "/repo"})
	require.NoError(t, err)

	seed, err := st.CreateTask(ctx, store.CreateTaskParams{GoalID: g.ID, Title: "seed"})
	require.NoError(t, err)
	running := store.TaskRunning
	_, err = st.UpdateTask(ctx, seed.ID, store.UpdateTaskParams{Status: &running})
	require.NoError(t, err)
	done := store.TaskDone
	_, err = st.UpdateTask(ctx, seed.ID, store.UpdateTaskParams{Status: &done})
	require.NoError(t, err)

	const workers = 100
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				_, _ = st.CreateTask(ctx, store.CreateTaskParams{GoalID: g.ID, Title: "extra"})
			} else {
				_, _ = st.MarkGoalCompletedIfAllTasksDone(ctx, g.ID)
			}
		}(i)
	}
	wg.Wait()

	got, err := st.GetGoal(ctx, g.ID)
	require.NoError(t, err)
	if got.Status == store.GoalCompleted {
		tasks, err := st.ListTasks(ctx, g.ID)
		require.NoError(t, err)
		for _, task := range tasks {
			assert.Equal(t, store.TaskDone, task.Status, "goal marked completed with a non-done task %q", task.ID)
		}
	}
}

func TestAgentRunLifecycle(t *testing.T) {
	ctx := context.Background()
	st := testdb.NewTestStore(t)

	g, err := st.CreateGoal(ctx, store.CreateGoalParams{Name: "g", RepoPath: "/repo"})
	require.NoError(t, err)
	task, err := st.CreateTask(ctx, store.CreateTaskParams{GoalID: g.ID, Title: "t"})
	require.NoError(t, err)

	run, err := st.CreateAgentRun(ctx, store.CreateAgentRunParams{
		TaskID: task.ID, GoalID: g.ID, WorktreePath: "/tmp/wt", Branch: "conductor/abcd1234/t",
	})
	require.NoError(t, err)
	assert.Equal(t, store.AgentRunSpawning, run.Status)

	// A second non-terminal run for the same task is rejected.
	_, err = st.CreateAgentRun(ctx, store.CreateAgentRunParams{TaskID: task.ID, GoalID: g.ID})
	require.ErrorIs(t, err, store.ErrConflict)

	require.NoError(t, st.UpdateAgentRunStatus(ctx, run.ID, store.AgentRunRunning))
	require.NoError(t, st.UpdateAgentRunCost(ctx, run.ID, 0.25, 100, 40))
	require.NoError(t, st.UpdateAgentRunStatus(ctx, run.ID, store.AgentRunDone))

	got, err := st.GetAgentRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, store.AgentRunDone, got.Status)
	assert.NotNil(t, got.FinishedAt, "terminal run must set finished_at")
	assert.Equal(t, 0.25, got.CostUSD)

	// Now a fresh run for the same task is allowed (previous is terminal).
	_, err = st.CreateAgentRun(ctx, store.CreateAgentRunParams{TaskID: task.ID, GoalID: g.ID})
	require.NoError(t, err)
}

func TestAgentEventsAreStrictlyIncreasing(t *testing.T) {
	ctx := context.Background()
	st := testdb.NewTestStore(t)

	g, err := st.CreateGoal(ctx, store.CreateGoalParams{Name: "g", RepoPath: "/repo"})
	require.NoError(t, err)
	task, err := st.CreateTask(ctx, store.CreateTaskParams{GoalID: g.ID, Title: "t"})
	require.NoError(t, err)
	run, err := st.CreateAgentRun(ctx, store.CreateAgentRunParams{TaskID: task.ID, GoalID: g.ID})
	require.NoError(t, err)

	var lastID int64
	for i := 0; i < 5; i++ {
		e, err := st.AppendAgentEvent(ctx, store.AppendAgentEventParams{
			AgentRunID: run.ID, EventType: store.EventTextOutput, Summary: "hi",
		})
		require.NoError(t, err)
		assert.Greater(t, e.ID, lastID)
		lastID = e.ID
	}

	events, err := st.ListAgentEvents(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, events, 5)
	for i := 1; i < len(events); i++ {
		assert.Greater(t, events[i].ID, events[i-1].ID)
	}
}
