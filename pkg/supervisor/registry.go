// Package supervisor spawns agent subprocesses, tails their structured
// event stream, enforces stall/timeout/budget limits, and drives the
// per-AgentRun state machine.
//
// All live in-memory AgentRun state (subprocess handle, cost accumulator,
// last-activity timestamp) is guarded by one reader-writer lock over the
// whole live-session map — the sessions are not independently-locked
// units. Critical sections are small field reads and writes that never
// suspend on external I/O while the lock is held, so contention stays low
// even with many concurrent runs.
package supervisor

import (
	"os/exec"
	"sync"
	"time"
)

// liveSession is the in-memory state the Supervisor exclusively owns for
// one running AgentRun. It is destroyed on termination; the store keeps
// only the persisted projection.
//
// The identity fields (ids, paths, branch, cmd, startedAt, budgetCap) are
// set once before the session is published and never written again, so
// they are read freely. Every mutable field below the marker is read and
// written only through registry methods, under the registry's lock.
type liveSession struct {
	agentRunID string
	taskID     string
	goalID     string
	repoPath   string
	branch     string

	cmd       *exec.Cmd
	startedAt time.Time
	budgetCap *float64

	// Mutable state; guarded by registry.mu.
	lastEventAt time.Time
	stalled     bool

	costUSD      float64
	inputTokens  int64
	outputTokens int64

	hardTimedOut   bool
	budgetExceeded bool
	killRequested  bool
	stderrTail     string
}

// terminationState is the snapshot finalize consumes to pick the terminal
// status.
type terminationState struct {
	hardTimedOut  bool
	killRequested bool
	stalled       bool
	stderrTail    string
	costUSD       float64
}

// registry is the single RW-locked map of live sessions. Its lock also
// guards every session's mutable fields.
type registry struct {
	mu       sync.RWMutex
	sessions map[string]*liveSession
}

func newRegistry() *registry {
	return &registry{sessions: make(map[string]*liveSession)}
}

func (r *registry) put(s *liveSession) {
	r.mu.Lock()
	r.sessions[s.agentRunID] = s
	r.mu.Unlock()
}

func (r *registry) get(agentRunID string) (*liveSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[agentRunID]
	return s, ok
}

func (r *registry) remove(agentRunID string) {
	r.mu.Lock()
	delete(r.sessions, agentRunID)
	r.mu.Unlock()
}

// contains reports whether the session is still registered, for the
// watchdog's am-I-still-needed check.
func (r *registry) contains(agentRunID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.sessions[agentRunID]
	return ok
}

func (r *registry) touch(s *liveSession, now time.Time) {
	r.mu.Lock()
	s.lastEventAt = now
	r.mu.Unlock()
}

func (r *registry) snapshot(s *liveSession) (lastEventAt time.Time, stalled bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return s.lastEventAt, s.stalled
}

func (r *registry) setStalled(s *liveSession, v bool) {
	r.mu.Lock()
	s.stalled = v
	r.mu.Unlock()
}

func (r *registry) addCost(s *liveSession, cost float64, inTok, outTok int64) (total float64, exceeded bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s.costUSD += cost
	s.inputTokens += inTok
	s.outputTokens += outTok
	if s.budgetCap != nil && s.costUSD > *s.budgetCap {
		s.budgetExceeded = true
	}
	return s.costUSD, s.budgetExceeded
}

func (r *registry) markHardTimedOut(s *liveSession) {
	r.mu.Lock()
	s.hardTimedOut = true
	r.mu.Unlock()
}

func (r *registry) markKillRequested(s *liveSession) {
	r.mu.Lock()
	s.killRequested = true
	r.mu.Unlock()
}

func (r *registry) setStderrTail(s *liveSession, tail string) {
	r.mu.Lock()
	s.stderrTail = tail
	r.mu.Unlock()
}

func (r *registry) terminationState(s *liveSession) terminationState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return terminationState{
		hardTimedOut:  s.hardTimedOut,
		killRequested: s.killRequested,
		stalled:       s.stalled,
		stderrTail:    s.stderrTail,
		costUSD:       s.costUSD,
	}
}

// liveAgentIDs returns the ids of every AgentRun the Supervisor currently
// considers live, used by the Worktree Manager's stale-state sweep.
func (r *registry) liveAgentIDs() map[string]bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]bool, len(r.sessions))
	for id := range r.sessions {
		out[id] = true
	}
	return out
}
