package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/harrowgate/conductor/pkg/api"
	"github.com/harrowgate/conductor/pkg/bus"
	"github.com/harrowgate/conductor/pkg/config"
	"github.com/harrowgate/conductor/pkg/dispatch"
	"github.com/harrowgate/conductor/pkg/store"
	"github.com/harrowgate/conductor/pkg/supervisor"
	"github.com/harrowgate/conductor/pkg/version"
	"github.com/harrowgate/conductor/pkg/worktree"
)

// runServer wires up every collaborator (store, bus, worktree manager,
// dispatcher, supervisor, HTTP server) and runs until SIGINT/SIGTERM,
// then shuts down gracefully. A non-zero port overrides CONDUCTOR_PORT.
func runServer(configDir string, port int) error {
	config.LoadEnvFile(configDir)

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if port != 0 {
		cfg.HTTPPort = port
	}

	dbCfg, err := store.LoadConfigFromEnv()
	if err != nil {
		return fmt.Errorf("loading database config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.New(ctx, dbCfg)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			slog.Error("closing store", "err", err)
		}
	}()
	slog.Info("connected to database and ran migrations")

	b := bus.New(cfg.BusSubscriberBuffer)
	wt := worktree.New(cfg.WorktreeBaseDir, cfg.Namespace)

	// The Dispatcher and Supervisor need each other: the Supervisor sends
	// completion messages into the Dispatcher's inbox, and the Dispatcher
	// spawns new agents through the Supervisor. Construct the Dispatcher
	// first with no Spawner, hand its Inbox to the Supervisor, then close
	// the loop with SetSpawner.
	dispatcher := dispatch.New(st, wt, nil, cfg.DispatchQueueSize)
	sv := supervisor.New(st, wt, b, dispatcher.Inbox(), cfg)
	dispatcher.SetSpawner(sv)

	if report, err := wt.CleanupStale(ctx, st, sv.LiveAgentIDs()); err != nil {
		slog.Error("startup worktree cleanup failed", "err", err)
	} else {
		slog.Info("startup worktree cleanup complete",
			"agent_runs_failed", report.AgentRunsFailed,
			"tasks_reset", report.TasksReset,
			"directories_pruned", report.DirectoriesPruned)
	}

	dispatcher.Start(ctx)
	defer dispatcher.Stop()

	server := api.New(api.Config{
		Store:           st,
		Bus:             b,
		Worktrees:       wt,
		Dispatcher:      dispatcher,
		Supervisor:      sv,
		Decomposer:      nil,
		DefaultSettings: cfg.DefaultSettings,
	})

	addr := fmt.Sprintf(":%d", cfg.HTTPPort)
	slog.Info("starting http server", "addr", addr, "version", version.Full())
	return server.Start(ctx, addr)
}
