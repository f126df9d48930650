// Package api wires the HTTP surface onto the Store, Broadcast Bus,
// Worktree Manager, Dispatcher, and Session Supervisor. Handlers stay
// thin: bind the request, call the store or a collaborator, map the error.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/harrowgate/conductor/pkg/bus"
	"github.com/harrowgate/conductor/pkg/dispatch"
	"github.com/harrowgate/conductor/pkg/store"
	"github.com/harrowgate/conductor/pkg/worktree"
)

// DispatchEnqueuer is the subset of *pkg/dispatch.Dispatcher the API needs.
type DispatchEnqueuer interface {
	Enqueue(msg dispatch.Message) bool
}

// Supervisor is the subset of *pkg/supervisor.Supervisor the API needs.
type Supervisor interface {
	Spawn(ctx context.Context, task *store.Task, goal *store.Goal, effective store.Settings, prompt string) error
	Nudge(ctx context.Context, agentRunID, message string) error
	Kill(ctx context.Context, agentRunID string) error
	LiveAgentIDs() map[string]bool
}

// Store is the subset of *pkg/store.Store every handler in this package
// needs. Declared as an interface, in the style of the narrow
// per-package Store interfaces in pkg/dispatch, pkg/supervisor and
// pkg/hooks, so handler tests can drive a hand-written fake instead of a
// real database.
type Store interface {
	CreateGoal(ctx context.Context, p store.CreateGoalParams) (*store.Goal, error)
	GetGoal(ctx context.Context, id string) (*store.Goal, error)
	ListGoals(ctx context.Context) ([]*store.Goal, error)
	UpdateGoal(ctx context.Context, id string, p store.UpdateGoalParams) (*store.Goal, error)
	ArchiveGoal(ctx context.Context, id string) error

	CreateTask(ctx context.Context, p store.CreateTaskParams) (*store.Task, error)
	GetTask(ctx context.Context, id string) (*store.Task, error)
	ListTasks(ctx context.Context, goalID string) ([]*store.Task, error)
	UpdateTask(ctx context.Context, id string, p store.UpdateTaskParams) (*store.Task, error)
	UnblockedTasks(ctx context.Context, goalID string) ([]*store.Task, error)
	ForceTaskPending(ctx context.Context, taskID string) error

	GetAgentRun(ctx context.Context, id string) (*store.AgentRun, error)
	GetAgentRunBySessionID(ctx context.Context, sessionID string) (*store.AgentRun, error)
	ListAgentRuns(ctx context.Context) ([]*store.AgentRun, error)
	UpdateAgentRunStatus(ctx context.Context, id string, newStatus store.AgentRunStatus) error
	ListAgentEvents(ctx context.Context, agentRunID string) ([]*store.AgentEvent, error)
	ListAgentEventsSince(ctx context.Context, agentRunID string, afterID int64) ([]*store.AgentEvent, error)

	AppendHistory(ctx context.Context, goalID string, eventType store.GoalHistoryType, description string, metadata map[string]any) error
	ListHistory(ctx context.Context, goalID string) ([]*store.GoalHistoryEntry, error)
	AppendGoalMessage(ctx context.Context, p store.AppendGoalMessageParams) (*store.GoalMessage, error)
	ListGoalMessages(ctx context.Context, goalID string) ([]*store.GoalMessage, error)

	CreateProject(ctx context.Context, p store.CreateProjectParams) (*store.Project, error)
	ListProjects(ctx context.Context) ([]*store.Project, error)
	AssignGoalToProject(ctx context.Context, goalID, projectID string) error

	Stats(ctx context.Context) (*store.Stats, error)
}

// Server holds every collaborator the HTTP handlers need and owns the
// underlying http.Server.
type Server struct {
	store      Store
	bus        *bus.Bus
	worktrees  *worktree.Manager
	dispatcher DispatchEnqueuer
	supervisor Supervisor
	decomposer Decomposer

	defaultSettings store.Settings

	engine *gin.Engine
	http   *http.Server
}

// Config bundles the dependencies New needs. Decomposer may be nil: the
// decompose endpoint reports 503 until one is wired in, since the actual
// LLM collaborator lives outside this module.
type Config struct {
	Store           *store.Store
	Bus             *bus.Bus
	Worktrees       *worktree.Manager
	Dispatcher      DispatchEnqueuer
	Supervisor      Supervisor
	Decomposer      Decomposer
	DefaultSettings store.Settings
}

// New builds a Server and registers every route. gin.ReleaseMode is set
// explicitly rather than left to gin's default.
func New(cfg Config) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		store:           cfg.Store,
		bus:             cfg.Bus,
		worktrees:       cfg.Worktrees,
		dispatcher:      cfg.Dispatcher,
		supervisor:      cfg.Supervisor,
		decomposer:      cfg.Decomposer,
		defaultSettings: cfg.DefaultSettings,
	}

	s.engine = gin.New()
	s.engine.Use(gin.Recovery())
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	r := s.engine

	api := r.Group("/api")

	goals := api.Group("/goals")
	goals.POST("", s.createGoal)
	goals.GET("", s.listGoals)
	goals.GET("/:goalID", s.getGoal)
	goals.PUT("/:goalID", s.updateGoal)
	goals.DELETE("/:goalID", s.archiveGoal)
	goals.POST("/:goalID/decompose", s.decomposeGoal)
	goals.POST("/:goalID/dispatch", s.dispatchGoal)
	goals.POST("/:goalID/retry-failed", s.retryFailedTasks)
	goals.GET("/:goalID/tasks", s.listTasks)
	goals.POST("/:goalID/tasks", s.createTask)
	goals.GET("/:goalID/history", s.getGoalHistory)
	goals.GET("/:goalID/messages", s.listGoalMessages)
	goals.POST("/:goalID/messages", s.createGoalMessage)
	goals.PUT("/:goalID/project", s.assignGoalProject)

	tasks := api.Group("/tasks")
	tasks.GET("/:taskID", s.getTask)
	tasks.PUT("/:taskID", s.updateTask)
	tasks.POST("/:taskID/retry", s.retryTask)
	tasks.POST("/:taskID/dispatch", s.dispatchTask)

	agents := api.Group("/agents")
	agents.GET("", s.listAgentRuns)
	agents.GET("/:agentRunID", s.getAgentRun)
	agents.GET("/:agentRunID/events", s.listAgentEvents)
	agents.GET("/:agentRunID/stream", s.streamAgentEvents)
	agents.POST("/:agentRunID/nudge", s.nudgeAgentRun)
	agents.POST("/:agentRunID/kill", s.killAgentRun)

	projects := api.Group("/projects")
	projects.POST("", s.createProject)
	projects.GET("", s.listProjects)

	api.GET("/events", s.streamAllEvents)
	api.POST("/hooks/stop", s.hookStop)
	api.POST("/hooks/subagent-stop", s.hookSubagentStop)
	api.GET("/stats", s.getStats)
	api.GET("/healthz", s.healthz)
}

// Handler exposes the underlying gin.Engine, for tests that want to drive
// requests through httptest without going through a real listener.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start runs the HTTP server on addr until ctx is canceled, then performs
// a graceful shutdown. Signal handling lives in cmd/conductor; this just
// honors ctx.
func (s *Server) Start(ctx context.Context, addr string) error {
	s.http = &http.Server{
		Addr:    addr,
		Handler: s.engine,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
