package supervisor

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/harrowgate/conductor/pkg/bus"
	"github.com/harrowgate/conductor/pkg/config"
	"github.com/harrowgate/conductor/pkg/dispatch"
	"github.com/harrowgate/conductor/pkg/eventparser"
	"github.com/harrowgate/conductor/pkg/hooks"
	"github.com/harrowgate/conductor/pkg/store"
)

// maxScanBuffer raises bufio.Scanner's default 64KB token limit: a single
// tool-result or diff line from the agent can be much longer.
const maxScanBuffer = 1024 * 1024

// maxStderrCapture bounds how much of a failed subprocess's stderr gets
// stored as an AgentEvent.
const maxStderrCapture = 500

// Store is the subset of *pkg/store.Store the Supervisor needs. Declared as
// an interface so tests can supply a hand-written fake instead of a real
// database.
type Store interface {
	CreateAgentRun(ctx context.Context, p store.CreateAgentRunParams) (*store.AgentRun, error)
	GetAgentRun(ctx context.Context, id string) (*store.AgentRun, error)
	UpdateTask(ctx context.Context, id string, p store.UpdateTaskParams) (*store.Task, error)
	UpdateAgentRunStatus(ctx context.Context, id string, newStatus store.AgentRunStatus) error
	SetAgentRunSessionID(ctx context.Context, id, sessionID string) error
	UpdateAgentRunCost(ctx context.Context, id string, cost float64, inTok, outTok int64) error
	UpdateAgentRunActivity(ctx context.Context, id string) error
	AppendAgentEvent(ctx context.Context, p store.AppendAgentEventParams) (*store.AgentEvent, error)
}

// WorktreeManager is the subset of *pkg/worktree.Manager the Supervisor
// needs.
type WorktreeManager interface {
	BranchName(agentRunID, title string) string
	WorktreePath(agentRunID string) string
	CreateWorktree(ctx context.Context, repoPath, agentRunID, branch string) (string, error)
	RemoveWorktree(ctx context.Context, repoPath, worktreePath string) error
}

// Supervisor spawns one subprocess per AgentRun, tails its event stream,
// and drives it to a terminal state.
type Supervisor struct {
	store      Store
	worktrees  WorktreeManager
	bus        *bus.Bus
	dispatchCh chan<- dispatch.Message
	cfg        config.Config

	reg *registry
}

// New constructs a Supervisor. dispatchCh is the Dispatcher's inbound
// channel; completion signals for successfully finished runs are sent here.
func New(st Store, wt WorktreeManager, b *bus.Bus, dispatchCh chan<- dispatch.Message, cfg config.Config) *Supervisor {
	return &Supervisor{
		store:      st,
		worktrees:  wt,
		bus:        b,
		dispatchCh: dispatchCh,
		cfg:        cfg,
		reg:        newRegistry(),
	}
}

// LiveAgentIDs reports the AgentRun ids this Supervisor currently considers
// live, for the Worktree Manager's startup CleanupStale sweep.
func (sv *Supervisor) LiveAgentIDs() map[string]bool {
	return sv.reg.liveAgentIDs()
}

// spawnGuard is scoped acquisition with guaranteed release: every resource
// acquired during Spawn is registered here, and disarm is called only once
// every step has succeeded. Anything still armed when run fires gets torn
// down, in reverse order of creation.
type spawnGuard struct {
	armed   bool
	cleanup []func()
}

func newSpawnGuard() *spawnGuard {
	return &spawnGuard{armed: true}
}

func (g *spawnGuard) add(fn func()) {
	g.cleanup = append(g.cleanup, fn)
}

func (g *spawnGuard) disarm() {
	g.armed = false
}

func (g *spawnGuard) run() {
	if !g.armed {
		return
	}
	for i := len(g.cleanup) - 1; i >= 0; i-- {
		g.cleanup[i]()
	}
}

// Spawn creates the worktree, AgentRun record and subprocess for one Task,
// then hands the stream off to the reader and watchdog. It satisfies
// dispatch.Spawner.
func (sv *Supervisor) Spawn(ctx context.Context, task *store.Task, goal *store.Goal, effective store.Settings, prompt string) (err error) {
	guard := newSpawnGuard()
	defer guard.run()

	// Step 1: derive the AgentRun id up front so the branch name and
	// worktree path can be derived before the Store row exists.
	agentRunID := uuid.NewString()
	branch := sv.worktrees.BranchName(agentRunID, task.Title)

	var runRecord *store.AgentRun

	// On any failure from here on, mark the AgentRun failed (if created)
	// and remove the worktree (if created).
	defer func() {
		if err == nil {
			return
		}
		if runRecord != nil {
			if uerr := sv.store.UpdateAgentRunStatus(ctx, runRecord.ID, store.AgentRunFailed); uerr != nil {
				slog.Error("marking failed agent run as failed", "agent_run_id", runRecord.ID, "err", uerr)
			}
		}
	}()

	// Step 2: create the worktree.
	path, err := sv.worktrees.CreateWorktree(ctx, goal.RepoPath, agentRunID, branch)
	if err != nil {
		return fmt.Errorf("creating worktree: %w", err)
	}
	guard.add(func() {
		if rerr := sv.worktrees.RemoveWorktree(context.Background(), goal.RepoPath, path); rerr != nil {
			slog.Error("cleaning up worktree after spawn failure", "path", path, "err", rerr)
		}
	})

	// Wire the agent CLI's stop hooks back to this server, so a finished
	// session reports in even before its stdout stream closes.
	if err = hooks.Install(path, sv.cfg.HTTPPort); err != nil {
		return fmt.Errorf("installing hooks config: %w", err)
	}

	// Step 3: create the AgentRun record in `spawning`.
	runRecord, err = sv.store.CreateAgentRun(ctx, store.CreateAgentRunParams{
		ID:           agentRunID,
		TaskID:       task.ID,
		GoalID:       goal.ID,
		WorktreePath: path,
		Branch:       branch,
		Model:        effective.Model,
		MaxBudgetUSD: effective.MaxBudgetUSD,
	})
	if err != nil {
		return fmt.Errorf("creating agent run: %w", err)
	}

	// Step 4: mark the Task running.
	runningStatus := store.TaskRunning
	if _, err = sv.store.UpdateTask(ctx, task.ID, store.UpdateTaskParams{Status: &runningStatus}); err != nil {
		return fmt.Errorf("marking task running: %w", err)
	}

	// Step 5/6: build the command line from the effective settings and
	// spawn the subprocess.
	args := append([]string{}, sv.cfg.AgentBaseArgs...)
	if effective.Model != "" {
		args = append(args, "--model", effective.Model)
	}
	if len(effective.AllowedTools) > 0 {
		args = append(args, "--allowedTools", strings.Join(effective.AllowedTools, ","))
	}
	if effective.PermissionMode != "" {
		args = append(args, "--permission-mode", effective.PermissionMode)
	}
	if effective.MaxTurns != nil {
		args = append(args, "--max-turns", strconv.FormatUint(uint64(*effective.MaxTurns), 10))
	}
	if effective.SystemPrompt != "" {
		args = append(args, "--system-prompt", effective.SystemPrompt)
	}
	args = append(args, prompt)

	cmd := exec.CommandContext(ctx, sv.cfg.AgentCommand, args...)
	cmd.Dir = path

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("creating stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("creating stderr pipe: %w", err)
	}
	if err = cmd.Start(); err != nil {
		return fmt.Errorf("starting agent subprocess: %w", err)
	}
	guard.add(func() {
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
	})

	// Step 7: register the live-session record.
	now := time.Now()
	budgetCap := effective.MaxBudgetUSD
	live := &liveSession{
		agentRunID:  agentRunID,
		taskID:      task.ID,
		goalID:      goal.ID,
		repoPath:    goal.RepoPath,
		branch:      branch,
		cmd:         cmd,
		startedAt:   now,
		lastEventAt: now,
		budgetCap:   budgetCap,
	}
	sv.reg.put(live)
	guard.add(func() { sv.reg.remove(agentRunID) })

	// Step 8: transition AgentRun to running.
	if err = sv.store.UpdateAgentRunStatus(ctx, agentRunID, store.AgentRunRunning); err != nil {
		return fmt.Errorf("transitioning agent run to running: %w", err)
	}

	// Everything up to here succeeded; ownership of teardown passes to the
	// reader/watchdog/termination machinery below.
	guard.disarm()

	// Step 9: launch the reader and watchdog tasks.
	go sv.drainStderr(live, stderr)
	go sv.readLoop(context.Background(), live, stdout, cmd)
	go sv.watchdog(context.Background(), live)

	return nil
}

// drainStderr accumulates stderr in the background so it's available for
// the termination path without the subprocess blocking on a full pipe
// buffer.
func (sv *Supervisor) drainStderr(live *liveSession, stderr io.Reader) {
	data, _ := io.ReadAll(stderr)
	sv.reg.setStderrTail(live, string(data))
}

// readLoop consumes the subprocess's stdout line by line: it refreshes the
// activity clock, clears a stall, persists and broadcasts each parsed
// event, and enforces the budget cap as cost accumulates.
func (sv *Supervisor) readLoop(ctx context.Context, live *liveSession, stdout io.Reader, cmd *exec.Cmd) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), maxScanBuffer)

	killedForBudget := false

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		now := time.Now()
		sv.reg.touch(live, now)
		if err := sv.store.UpdateAgentRunActivity(context.Background(), live.agentRunID); err != nil {
			slog.Error("updating agent run activity", "agent_run_id", live.agentRunID, "err", err)
		}

		if _, stalled := sv.reg.snapshot(live); stalled {
			sv.reg.setStalled(live, false)
			if err := sv.store.UpdateAgentRunStatus(context.Background(), live.agentRunID, store.AgentRunRunning); err != nil {
				slog.Error("clearing stall", "agent_run_id", live.agentRunID, "err", err)
			}
			if _, err := sv.store.UpdateTask(context.Background(), live.taskID, store.UpdateTaskParams{Status: statusPtr(store.TaskRunning)}); err != nil {
				slog.Error("clearing task stall", "task_id", live.taskID, "err", err)
			}
		}

		event, ok := eventparser.Parse(line)
		if !ok {
			continue
		}
		sv.storeAndBroadcast(live, event, string(line))

		if event.Kind == eventparser.KindAPIRequest {
			total, exceeded := sv.reg.addCost(live, event.CostUSD, event.InputTokens, event.OutputTokens)
			if err := sv.store.UpdateAgentRunCost(context.Background(), live.agentRunID, event.CostUSD, event.InputTokens, event.OutputTokens); err != nil {
				slog.Error("persisting agent run cost", "agent_run_id", live.agentRunID, "err", err)
			}
			if exceeded && !killedForBudget {
				killedForBudget = true
				sv.appendSyntheticEvent(live, store.EventError,
					fmt.Sprintf("Budget exceeded: $%.4f > $%.4f", total, *live.budgetCap))
				if cmd.Process != nil {
					_ = cmd.Process.Kill()
				}
				break
			}
		}

		if event.Kind == eventparser.KindResult {
			if event.SessionID != "" {
				if err := sv.store.SetAgentRunSessionID(context.Background(), live.agentRunID, event.SessionID); err != nil {
					slog.Error("persisting session id", "agent_run_id", live.agentRunID, "err", err)
				}
			}
			sv.reg.addCost(live, event.CostUSD, event.InputTokens, event.OutputTokens)
			if err := sv.store.UpdateAgentRunCost(context.Background(), live.agentRunID, event.CostUSD, event.InputTokens, event.OutputTokens); err != nil {
				slog.Error("persisting final cost", "agent_run_id", live.agentRunID, "err", err)
			}
		}
	}

	waitErr := cmd.Wait()
	sv.finalize(context.Background(), live, waitErr, killedForBudget)
}

func statusPtr(s store.TaskStatus) *store.TaskStatus { return &s }

// storeAndBroadcast persists one parsed Event as an AgentEvent and publishes
// it on the Broadcast Bus.
func (sv *Supervisor) storeAndBroadcast(live *liveSession, event eventparser.Event, raw string) {
	evType, toolName := classify(event)
	_, err := sv.store.AppendAgentEvent(context.Background(), store.AppendAgentEventParams{
		AgentRunID: live.agentRunID,
		EventType:  evType,
		ToolName:   toolName,
		Summary:    event.StorageSummary(),
		RawPayload: raw,
		CostDelta:  event.CostDelta(),
	})
	if err != nil {
		slog.Error("appending agent event", "agent_run_id", live.agentRunID, "err", err)
		return
	}
	sv.bus.Publish(bus.AgentEventEnvelope(live.agentRunID, event))
}

// appendSyntheticEvent records an event the Supervisor itself generates
// (stall/timeout/budget warnings), not one parsed from the stream.
func (sv *Supervisor) appendSyntheticEvent(live *liveSession, evType store.AgentEventType, message string) {
	_, err := sv.store.AppendAgentEvent(context.Background(), store.AppendAgentEventParams{
		AgentRunID: live.agentRunID,
		EventType:  evType,
		Summary:    message,
	})
	if err != nil {
		slog.Error("appending synthetic event", "agent_run_id", live.agentRunID, "err", err)
		return
	}
	sv.bus.Publish(bus.AgentEventEnvelope(live.agentRunID, eventparser.Event{Kind: eventparser.KindSystem, Message: message}))
}

func classify(e eventparser.Event) (store.AgentEventType, string) {
	switch e.Kind {
	case eventparser.KindToolUse:
		return store.EventToolCall, e.ToolName
	case eventparser.KindToolResult:
		return store.EventToolResult, e.ToolName
	case eventparser.KindTextMessage, eventparser.KindTextDelta:
		return store.EventTextOutput, ""
	case eventparser.KindResult:
		return store.EventResult, ""
	case eventparser.KindAPIRequest:
		return store.EventCostUpdate, ""
	case eventparser.KindSystem:
		return store.EventSystem, ""
	case eventparser.KindError:
		return store.EventError, ""
	default:
		return store.EventSystem, ""
	}
}

// watchdog periodically checks the two thresholds: stall (no events for
// StallTimeout — mark stalled, do not kill) and hard timeout (HardTimeout
// since start — mark the AgentRun and Task failed, then kill).
func (sv *Supervisor) watchdog(ctx context.Context, live *liveSession) {
	ticker := time.NewTicker(sv.cfg.WatchdogInterval)
	defer ticker.Stop()

	for range ticker.C {
		if !sv.reg.contains(live.agentRunID) {
			return
		}

		lastEventAt, stalled := sv.reg.snapshot(live)
		since := time.Since(live.startedAt)
		if since >= sv.cfg.HardTimeout {
			sv.reg.markHardTimedOut(live)
			sv.appendSyntheticEvent(live, store.EventError, fmt.Sprintf("hard timeout after %s", since.Round(time.Second)))
			if err := sv.store.UpdateAgentRunStatus(ctx, live.agentRunID, store.AgentRunFailed); err != nil {
				slog.Error("marking agent run failed on hard timeout", "agent_run_id", live.agentRunID, "err", err)
			}
			if _, err := sv.store.UpdateTask(ctx, live.taskID, store.UpdateTaskParams{Status: statusPtr(store.TaskFailed)}); err != nil {
				slog.Error("marking task failed on hard timeout", "task_id", live.taskID, "err", err)
			}
			if live.cmd.Process != nil {
				_ = live.cmd.Process.Kill()
			}
			return
		}

		idleFor := time.Since(lastEventAt)
		if !stalled && idleFor >= sv.cfg.StallTimeout {
			sv.reg.setStalled(live, true)
			if err := sv.store.UpdateAgentRunStatus(ctx, live.agentRunID, store.AgentRunStalled); err != nil {
				slog.Error("marking agent run stalled", "agent_run_id", live.agentRunID, "err", err)
			}
			if _, err := sv.store.UpdateTask(ctx, live.taskID, store.UpdateTaskParams{Status: statusPtr(store.TaskStalled)}); err != nil {
				slog.Error("marking task stalled", "task_id", live.taskID, "err", err)
			}
			sv.appendSyntheticEvent(live, store.EventWarning, fmt.Sprintf("no activity for %s", idleFor.Round(time.Second)))
		}
	}
}

// finalize computes the final status and tears everything down once the
// subprocess has exited.
func (sv *Supervisor) finalize(ctx context.Context, live *liveSession, waitErr error, killedForBudget bool) {
	term := sv.reg.terminationState(live)
	stderrTail := term.stderrTail
	if len(stderrTail) > maxStderrCapture {
		stderrTail = stderrTail[:maxStderrCapture]
	}
	wasStalled := term.stalled

	var runStatus store.AgentRunStatus
	var taskStatus store.TaskStatus
	var reason string

	switch {
	case term.hardTimedOut:
		runStatus, taskStatus = store.AgentRunFailed, store.TaskFailed
		reason = "hard timeout"
	case killedForBudget:
		runStatus, taskStatus = store.AgentRunKilled, store.TaskFailed
		reason = "budget exceeded"
	case term.killRequested:
		runStatus, taskStatus = store.AgentRunKilled, store.TaskFailed
		reason = "killed by operator"
	case waitErr != nil:
		runStatus, taskStatus = store.AgentRunFailed, store.TaskFailed
		reason = fmt.Sprintf("subprocess exited with error: %v", waitErr)
	case term.costUSD > 0:
		runStatus, taskStatus = store.AgentRunDone, store.TaskDone
	default:
		runStatus, taskStatus = store.AgentRunFailed, store.TaskFailed
		reason = "exited without doing work"
	}

	if stderrTail != "" && runStatus != store.AgentRunDone {
		sv.appendSyntheticEvent(live, store.EventError, "stderr: "+stderrTail)
	}
	if reason != "" {
		sv.appendSyntheticEvent(live, store.EventError, reason)
	}

	// done is not reachable from stalled directly; pass back through running
	// first. failed and killed are reachable from stalled as-is.
	if wasStalled && runStatus == store.AgentRunDone {
		if err := sv.store.UpdateAgentRunStatus(ctx, live.agentRunID, store.AgentRunRunning); err != nil {
			slog.Error("clearing stall before completion", "agent_run_id", live.agentRunID, "err", err)
		}
		if _, err := sv.store.UpdateTask(ctx, live.taskID, store.UpdateTaskParams{Status: statusPtr(store.TaskRunning)}); err != nil {
			slog.Error("clearing task stall before completion", "task_id", live.taskID, "err", err)
		}
	}

	if err := sv.store.UpdateAgentRunStatus(ctx, live.agentRunID, runStatus); err != nil {
		slog.Error("setting final agent run status", "agent_run_id", live.agentRunID, "status", runStatus, "err", err)
	}
	if _, err := sv.store.UpdateTask(ctx, live.taskID, store.UpdateTaskParams{Status: &taskStatus}); err != nil {
		slog.Error("setting final task status", "task_id", live.taskID, "status", taskStatus, "err", err)
	}

	if err := sv.worktrees.RemoveWorktree(ctx, live.repoPath, sv.worktrees.WorktreePath(live.agentRunID)); err != nil {
		slog.Error("removing worktree after termination", "agent_run_id", live.agentRunID, "err", err)
	}
	sv.reg.remove(live.agentRunID)

	if runStatus == store.AgentRunDone {
		select {
		case sv.dispatchCh <- dispatch.Message{
			GoalID:        live.goalID,
			BranchToMerge: live.branch,
			RepoPath:      live.repoPath,
			AgentRunID:    live.agentRunID,
		}:
		default:
			slog.Warn("dispatch channel full, dropping completion signal", "agent_run_id", live.agentRunID)
		}
	}
}

// Nudge re-invokes the external agent in resume-session mode with a
// user-supplied message. Both output streams are discarded to avoid
// pipe-deadlock; the nudge's exit is logged, not awaited by the caller.
func (sv *Supervisor) Nudge(ctx context.Context, agentRunID, message string) error {
	run, err := sv.store.GetAgentRun(ctx, agentRunID)
	if err != nil {
		return fmt.Errorf("looking up agent run: %w", err)
	}
	if run.SessionID == "" {
		return fmt.Errorf("agent run %s has no external session id yet", agentRunID)
	}

	args := append([]string{}, sv.cfg.AgentBaseArgs...)
	args = append(args, "--resume", run.SessionID, message)

	cmd := exec.CommandContext(ctx, sv.cfg.AgentCommand, args...)
	cmd.Dir = run.WorktreePath
	cmd.Stdout = io.Discard
	cmd.Stderr = io.Discard
	devnull, err := os.Open(os.DevNull)
	if err == nil {
		cmd.Stdin = devnull
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting nudge subprocess: %w", err)
	}

	go func() {
		if devnull != nil {
			defer func() { _ = devnull.Close() }()
		}
		if err := cmd.Wait(); err != nil {
			slog.Info("nudge subprocess exited", "agent_run_id", agentRunID, "err", err)
		}
	}()

	return nil
}

// Kill terminates the live subprocess and transitions the AgentRun to
// killed right away, so the status is visible to callers before the reader
// task's own EOF-driven finalize path runs. finalize's later killed write
// is an identity transition.
func (sv *Supervisor) Kill(ctx context.Context, agentRunID string) error {
	live, ok := sv.reg.get(agentRunID)
	if !ok {
		return fmt.Errorf("agent run %s is not live", agentRunID)
	}

	sv.reg.markKillRequested(live)
	proc := live.cmd.Process

	if err := sv.store.UpdateAgentRunStatus(ctx, agentRunID, store.AgentRunKilled); err != nil {
		slog.Error("marking agent run killed", "agent_run_id", agentRunID, "err", err)
	}

	if proc != nil {
		if err := proc.Kill(); err != nil {
			slog.Warn("killing subprocess", "agent_run_id", agentRunID, "err", err)
		}
	}
	return nil
}
