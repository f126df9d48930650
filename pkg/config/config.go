// Package config loads Conductor's process-wide configuration from the
// environment: the ambient knobs the Supervisor, Dispatcher and Worktree
// Manager need, as opposed to the database connection parameters handled
// by pkg/store's own config loader.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/harrowgate/conductor/pkg/store"
)

// defaultNamespace prefixes every branch and worktree directory Conductor
// creates, so cleanup can tell its own work apart from the rest of a
// repository.
const defaultNamespace = "conductor"

// Config holds the ambient settings needed to run the Session Supervisor,
// Dispatcher, Worktree Manager and HTTP server.
type Config struct {
	// HTTPPort is the port the `server`/`ui` CLI subcommands bind to.
	HTTPPort int

	// Namespace prefixes branch names and is used to identify Conductor's
	// own worktree directories during cleanup.
	Namespace string

	// WorktreeBaseDir is the fixed base directory worktrees are created
	// under, one subdirectory per agent run id.
	WorktreeBaseDir string

	// AgentCommand is the external agent binary to spawn, default "claude".
	AgentCommand string
	// AgentBaseArgs are the flags always passed to AgentCommand, before any
	// per-run flags (--model, --resume, the prompt itself).
	AgentBaseArgs []string

	// StallTimeout is how long an AgentRun may go without an event before
	// the watchdog marks it stalled.
	StallTimeout time.Duration
	// HardTimeout is the total wall-clock budget for one AgentRun.
	HardTimeout time.Duration
	// WatchdogInterval is how often the watchdog re-checks the two
	// thresholds above.
	WatchdogInterval time.Duration

	// DefaultSettings fills in any Settings field left unset by both the
	// Goal and the Task.
	DefaultSettings store.Settings

	// DispatchQueueSize bounds the Dispatcher's inbound channel.
	DispatchQueueSize int
	// BusSubscriberBuffer bounds each Broadcast Bus subscriber's channel.
	BusSubscriberBuffer int
}

// DefaultAgentArgs are the flags always passed to the agent binary:
// stream-json output so the Event Parser can consume it line by line, and
// no interactive permission prompts since there is no human attached to
// the subprocess's stdin.
func DefaultAgentArgs() []string {
	return []string{
		"--print",
		"--verbose",
		"--output-format", "stream-json",
		"--dangerously-skip-permissions",
	}
}

// Load reads configuration from the environment, applying the same
// defaults a fresh Conductor deployment would ship with.
func Load() (Config, error) {
	httpPort, err := strconv.Atoi(getEnvOrDefault("CONDUCTOR_PORT", "8080"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid CONDUCTOR_PORT: %w", err)
	}

	namespace := getEnvOrDefault("CONDUCTOR_NAMESPACE", defaultNamespace)

	worktreeBase := os.Getenv("CONDUCTOR_WORKTREE_BASE")
	if worktreeBase == "" {
		worktreeBase = fmt.Sprintf("/tmp/%s/worktrees", namespace)
	}

	stallTimeout, err := time.ParseDuration(getEnvOrDefault("CONDUCTOR_STALL_TIMEOUT", "10m"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid CONDUCTOR_STALL_TIMEOUT: %w", err)
	}
	hardTimeout, err := time.ParseDuration(getEnvOrDefault("CONDUCTOR_HARD_TIMEOUT", "20m"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid CONDUCTOR_HARD_TIMEOUT: %w", err)
	}
	watchdogInterval, err := time.ParseDuration(getEnvOrDefault("CONDUCTOR_WATCHDOG_INTERVAL", "30s"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid CONDUCTOR_WATCHDOG_INTERVAL: %w", err)
	}

	dispatchQueueSize, _ := strconv.Atoi(getEnvOrDefault("CONDUCTOR_DISPATCH_QUEUE_SIZE", "256"))
	busBuffer, _ := strconv.Atoi(getEnvOrDefault("CONDUCTOR_BUS_SUBSCRIBER_BUFFER", "1024"))

	model := os.Getenv("CONDUCTOR_DEFAULT_MODEL")

	return Config{
		HTTPPort:            httpPort,
		Namespace:           namespace,
		WorktreeBaseDir:     worktreeBase,
		AgentCommand:        getEnvOrDefault("CONDUCTOR_AGENT_COMMAND", "claude"),
		AgentBaseArgs:       DefaultAgentArgs(),
		StallTimeout:        stallTimeout,
		HardTimeout:         hardTimeout,
		WatchdogInterval:    watchdogInterval,
		DefaultSettings:     store.Settings{Model: model},
		DispatchQueueSize:   dispatchQueueSize,
		BusSubscriberBuffer: busBuffer,
	}, nil
}

// LoadEnvFile loads a .env file from configDir, if one exists, before Load
// reads the environment. Missing files are not an error: Conductor may be
// run with its configuration already present in the environment.
func LoadEnvFile(configDir string) {
	envPath := filepath.Join(configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Info("no .env file loaded, using existing environment", "path", envPath, "err", err)
		return
	}
	slog.Info("loaded environment file", "path", envPath)
}

func getEnvOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
