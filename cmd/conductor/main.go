// Command conductor is both the daemon (`server`) and the operator's CLI
// against an already-running daemon. Subcommand dispatch is a hand-rolled
// flag.FlagSet switch; the command surface is small enough that a CLI
// framework would not pay for itself.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"runtime"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "server":
		err = cmdServer(args)
	case "ui":
		err = cmdUI(args)
	case "cleanup":
		err = cmdCleanup(args)
	case "goal":
		err = cmdGoal(args)
	case "status":
		err = cmdStatus(args)
	case "inspect":
		err = cmdInspect(args)
	case "nudge":
		err = cmdNudge(args)
	case "kill":
		err = cmdKill(args)
	case "logs":
		err = cmdLogs(args)
	case "-h", "--help", "help":
		usage()
		return
	default:
		fmt.Fprintf(os.Stderr, "conductor: unknown subcommand %q\n", cmd)
		usage()
		os.Exit(1)
	}

	if err != nil {
		slog.Error("conductor command failed", "command", cmd, "err", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: conductor <command> [flags]

commands:
  server    run the Conductor daemon (store, dispatcher, supervisor, HTTP API)
  ui        like server, but also opens the dashboard in a browser
  cleanup   reconcile store/filesystem state against live agent runs
  goal      create/list/decompose/dispatch goals
  status    show goal/task/agent-run status
  inspect   show one agent run's record and event log
  nudge     send a message to a running agent
  kill      terminate a running agent
  logs      tail an agent run's event log`)
}

func cmdServer(args []string) error {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configDir := fs.String("config-dir", getEnv("CONDUCTOR_CONFIG_DIR", "./deploy/config"), "path to configuration directory")
	port := fs.Int("port", 0, "HTTP port (overrides CONDUCTOR_PORT)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	return runServer(*configDir, *port)
}

// cmdUI is the `ui` subcommand: it starts
// the same daemon as `server` and additionally attempts to open the
// dashboard in the operator's default browser. The server itself is
// identical either way — there is no separate UI process.
func cmdUI(args []string) error {
	fs := flag.NewFlagSet("ui", flag.ExitOnError)
	configDir := fs.String("config-dir", getEnv("CONDUCTOR_CONFIG_DIR", "./deploy/config"), "path to configuration directory")
	port := fs.Int("port", 8080, "HTTP port (overrides CONDUCTOR_PORT)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	go openBrowser(fmt.Sprintf("http://localhost:%d", *port))
	return runServer(*configDir, *port)
}

// openBrowser best-effort launches the operator's default browser. Failure
// is logged, not fatal — headless environments (CI, containers) simply
// won't have anything to open.
func openBrowser(url string) {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	if err := cmd.Start(); err != nil {
		slog.Warn("could not open browser", "url", url, "err", err)
	}
}

func cmdCleanup(args []string) error {
	fs := flag.NewFlagSet("cleanup", flag.ExitOnError)
	configDir := fs.String("config-dir", getEnv("CONDUCTOR_CONFIG_DIR", "./deploy/config"), "path to configuration directory")
	if err := fs.Parse(args); err != nil {
		return err
	}
	return runCleanup(*configDir)
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
