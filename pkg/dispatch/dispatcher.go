// Package dispatch implements the Dispatcher: a single long-running
// consumer that reacts to merge-completion signals by merging the finished
// branch, recomputing the task DAG's unblocked set, and spawning agents for
// it. All input arrives on one message channel, so merge and spawn work for
// a goal is serialized by construction.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/harrowgate/conductor/pkg/store"
)

// DefaultQueueSize is the Dispatcher's inbound channel capacity.
const DefaultQueueSize = 256

// Store is the subset of *pkg/store.Store the Dispatcher needs. Declared
// here (rather than used as the concrete type) so tests can supply a fake.
type Store interface {
	GetGoal(ctx context.Context, id string) (*store.Goal, error)
	UnblockedTasks(ctx context.Context, goalID string) ([]*store.Task, error)
	MarkGoalCompletedIfAllTasksDone(ctx context.Context, goalID string) (bool, error)
	AppendAgentEvent(ctx context.Context, p store.AppendAgentEventParams) (*store.AgentEvent, error)
}

// WorktreeManager is the subset of *pkg/worktree.Manager the Dispatcher
// needs.
type WorktreeManager interface {
	MergeBranchToMainline(ctx context.Context, repoPath, branch string) error
	DeleteBranch(ctx context.Context, repoPath, branch string) error
}

// Dispatcher owns the single consumer goroutine draining the inbox.
type Dispatcher struct {
	store     Store
	worktrees WorktreeManager
	spawner   Spawner

	inbox    chan Message
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New constructs a Dispatcher. spawner may be nil if the Session
// Supervisor itself needs this Dispatcher's Inbox before it can be
// constructed (a real cycle: the Supervisor sends completion messages
// here, and this Dispatcher spawns through the Supervisor) — set it with
// SetSpawner once the Supervisor exists, before calling Start.
func New(st Store, wt WorktreeManager, spawner Spawner, queueSize int) *Dispatcher {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Dispatcher{
		store:     st,
		worktrees: wt,
		spawner:   spawner,
		inbox:     make(chan Message, queueSize),
		stopCh:    make(chan struct{}),
	}
}

// SetSpawner assigns the Spawner after construction, for the
// Dispatcher/Supervisor wiring cycle in cmd/conductor.
func (d *Dispatcher) SetSpawner(spawner Spawner) {
	d.spawner = spawner
}

// Inbox returns the channel producers (the Supervisor, API handlers) send
// Messages to.
func (d *Dispatcher) Inbox() chan<- Message {
	return d.inbox
}

// Enqueue is a convenience wrapper around a non-blocking send to Inbox, used
// by HTTP handlers that must not block a request goroutine on a full queue.
func (d *Dispatcher) Enqueue(msg Message) bool {
	select {
	case d.inbox <- msg:
		return true
	default:
		return false
	}
}

// Start begins the consumer loop in a background goroutine.
func (d *Dispatcher) Start(ctx context.Context) {
	d.wg.Add(1)
	go d.run(ctx)
}

// Stop signals the consumer to drain and exit, then waits for it.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() { close(d.stopCh) })
	d.wg.Wait()
}

func (d *Dispatcher) run(ctx context.Context) {
	defer d.wg.Done()
	for {
		select {
		case <-d.stopCh:
			for {
				select {
				case msg := <-d.inbox:
					if err := d.process(ctx, msg); err != nil {
						slog.Error("dispatcher: processing message failed", "goal_id", msg.GoalID, "err", err)
					}
				default:
					return
				}
			}
		case <-ctx.Done():
			return
		case msg := <-d.inbox:
			if err := d.process(ctx, msg); err != nil {
				slog.Error("dispatcher: processing message failed", "goal_id", msg.GoalID, "err", err)
			}
		}
	}
}

func (d *Dispatcher) process(ctx context.Context, msg Message) error {
	// Merge, if requested. Either outcome proceeds.
	if msg.BranchToMerge != "" && msg.RepoPath != "" {
		d.mergeBranch(ctx, msg)
	}

	// Load the Goal; skip if completed or archived.
	goal, err := d.store.GetGoal(ctx, msg.GoalID)
	if err != nil {
		return fmt.Errorf("loading goal: %w", err)
	}
	if goal.Status == store.GoalCompleted || goal.Status == store.GoalArchived {
		return nil
	}

	// Query unblocked tasks; if none, try the atomic completion check.
	unblocked, err := d.store.UnblockedTasks(ctx, goal.ID)
	if err != nil {
		return fmt.Errorf("querying unblocked tasks: %w", err)
	}
	if len(unblocked) == 0 {
		if _, err := d.store.MarkGoalCompletedIfAllTasksDone(ctx, goal.ID); err != nil {
			return fmt.Errorf("checking goal completion: %w", err)
		}
		return nil
	}

	// Spawn an agent for each unblocked task, in order, so the active set
	// stays predictable under bursts.
	for _, task := range unblocked {
		effective := goal.Settings
		if task.Settings != nil {
			effective = goal.Settings.Merge(*task.Settings)
		}
		prompt := BuildPrompt(goal, task)
		if err := d.spawner.Spawn(ctx, task, goal, effective, prompt); err != nil {
			slog.Error("dispatcher: spawn failed", "task_id", task.ID, "err", err)
			continue
		}
	}
	return nil
}

func (d *Dispatcher) mergeBranch(ctx context.Context, msg Message) {
	if err := d.worktrees.MergeBranchToMainline(ctx, msg.RepoPath, msg.BranchToMerge); err != nil {
		if msg.AgentRunID != "" {
			_, aerr := d.store.AppendAgentEvent(ctx, store.AppendAgentEventParams{
				AgentRunID: msg.AgentRunID,
				EventType:  store.EventMergeFailed,
				Summary:    fmt.Sprintf("merge of %s failed: %v", msg.BranchToMerge, err),
			})
			if aerr != nil {
				slog.Error("recording merge_failed event", "agent_run_id", msg.AgentRunID, "err", aerr)
			}
		}
		return
	}

	if msg.AgentRunID != "" {
		if _, err := d.store.AppendAgentEvent(ctx, store.AppendAgentEventParams{
			AgentRunID: msg.AgentRunID,
			EventType:  store.EventMergeCompleted,
			Summary:    fmt.Sprintf("merged %s into mainline", msg.BranchToMerge),
		}); err != nil {
			slog.Error("recording merge_completed event", "agent_run_id", msg.AgentRunID, "err", err)
		}
	}

	if err := d.worktrees.DeleteBranch(ctx, msg.RepoPath, msg.BranchToMerge); err != nil {
		slog.Warn("best-effort branch delete failed", "branch", msg.BranchToMerge, "err", err)
	}
}

// BuildPrompt renders the prompt handed to a spawned agent's subprocess.
// Exported so callers outside the Dispatcher loop (the API's single-task
// dispatch endpoint) can spawn a task the same way the Dispatcher itself
// does.
func BuildPrompt(goal *store.Goal, task *store.Task) string {
	return fmt.Sprintf(
		"Goal: %s\n\nTask: %s\n\n%s",
		goal.Description, task.Title, task.Description,
	)
}
