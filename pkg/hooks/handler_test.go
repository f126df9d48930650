package hooks_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrowgate/conductor/pkg/dispatch"
	"github.com/harrowgate/conductor/pkg/hooks"
	"github.com/harrowgate/conductor/pkg/store"
)

type fakeStore struct {
	runBySession map[string]*store.AgentRun
	goals        map[string]*store.Goal

	taskStatuses map[string]store.TaskStatus
	runStatuses  map[string]store.AgentRunStatus
	history      []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		runBySession: map[string]*store.AgentRun{},
		goals:        map[string]*store.Goal{},
		taskStatuses: map[string]store.TaskStatus{},
		runStatuses:  map[string]store.AgentRunStatus{},
	}
}

func (f *fakeStore) GetAgentRunBySessionID(ctx context.Context, sessionID string) (*store.AgentRun, error) {
	run, ok := f.runBySession[sessionID]
	if !ok {
		return nil, store.ErrNotFound
	}
	r := *run
	return &r, nil
}

func (f *fakeStore) GetGoal(ctx context.Context, id string) (*store.Goal, error) {
	g, ok := f.goals[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	goal := *g
	return &goal, nil
}

func (f *fakeStore) UpdateAgentRunStatus(ctx context.Context, id string, newStatus store.AgentRunStatus) error {
	f.runStatuses[id] = newStatus
	return nil
}

func (f *fakeStore) UpdateTask(ctx context.Context, id string, p store.UpdateTaskParams) (*store.Task, error) {
	if p.Status != nil {
		f.taskStatuses[id] = *p.Status
	}
	return &store.Task{ID: id, Status: *p.Status}, nil
}

func (f *fakeStore) AppendHistory(ctx context.Context, goalID string, eventType store.GoalHistoryType, description string, metadata map[string]any) error {
	f.history = append(f.history, description)
	return nil
}

type fakeDispatcher struct {
	enqueued []dispatch.Message
}

func (f *fakeDispatcher) Enqueue(msg dispatch.Message) bool {
	f.enqueued = append(f.enqueued, msg)
	return true
}

func TestHandleStopMarksRunAndTaskDone(t *testing.T) {
	st := newFakeStore()
	st.runBySession["sess-1"] = &store.AgentRun{
		ID: "run-1", TaskID: "task-1", GoalID: "goal-1",
		Branch: "conductor/abcd1234/do-thing", Status: store.AgentRunRunning,
	}
	st.goals["goal-1"] = &store.Goal{ID: "goal-1", RepoPath: "/repo"}
	d := &fakeDispatcher{}

	err := hooks.HandleStop(context.Background(), st, d, "sess-1")
	require.NoError(t, err)

	assert.Equal(t, store.AgentRunDone, st.runStatuses["run-1"])
	assert.Equal(t, store.TaskDone, st.taskStatuses["task-1"])
	require.Len(t, d.enqueued, 1)
	assert.Equal(t, "goal-1", d.enqueued[0].GoalID)
	assert.Equal(t, "conductor/abcd1234/do-thing", d.enqueued[0].BranchToMerge)
	assert.Equal(t, "/repo", d.enqueued[0].RepoPath)
}

func TestHandleStopIsIdempotentOnceTerminal(t *testing.T) {
	st := newFakeStore()
	st.runBySession["sess-1"] = &store.AgentRun{
		ID: "run-1", TaskID: "task-1", GoalID: "goal-1", Status: store.AgentRunDone,
	}
	d := &fakeDispatcher{}

	err := hooks.HandleStop(context.Background(), st, d, "sess-1")
	require.NoError(t, err)

	assert.Empty(t, st.runStatuses, "a terminal run must not be re-transitioned")
	assert.Empty(t, d.enqueued, "a terminal run must not trigger another dispatch pass")
}

func TestHandleStopUnknownSession(t *testing.T) {
	st := newFakeStore()
	d := &fakeDispatcher{}

	err := hooks.HandleStop(context.Background(), st, d, "missing")
	require.Error(t, err)
}
