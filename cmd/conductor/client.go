package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// baseURL is the address of an already-running `conductor server` process.
// Most CLI subcommands are a thin HTTP client against it, since Nudge/Kill
// and dispatch triggering need the live, in-process Supervisor/Dispatcher
// state that only the running daemon holds.
func baseURL() string {
	return strings.TrimRight(getEnv("CONDUCTOR_URL", "http://localhost:8080"), "/")
}

var httpClient = &http.Client{Timeout: 30 * time.Second}

func apiRequest(method, path string, body any) ([]byte, int, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, 0, fmt.Errorf("encoding request body: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequest(method, baseURL()+path, reader)
	if err != nil {
		return nil, 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("calling conductor at %s: %w", baseURL(), err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return data, resp.StatusCode, nil
}

func printJSON(data []byte) {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		fmt.Println(string(data))
		return
	}
	pretty, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Println(string(data))
		return
	}
	fmt.Println(string(pretty))
}

func checkStatus(path string, status int, data []byte) error {
	if status >= 200 && status < 300 {
		return nil
	}
	return fmt.Errorf("%s: server returned %d: %s", path, status, string(data))
}

func cmdGoal(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: conductor goal <create|list|decompose|dispatch> [flags]")
	}
	sub, rest := args[0], args[1:]

	switch sub {
	case "create":
		fs := flag.NewFlagSet("goal create", flag.ExitOnError)
		name := fs.String("name", "", "goal name")
		description := fs.String("description", "", "goal description")
		repoPath := fs.String("repo", "", "path to the git repository to work in")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		if *name == "" || *repoPath == "" {
			return fmt.Errorf("goal create: --name and --repo are required")
		}
		data, status, err := apiRequest(http.MethodPost, "/api/goals", map[string]any{
			"name":        *name,
			"description": *description,
			"repo_path":   *repoPath,
		})
		if err != nil {
			return err
		}
		if err := checkStatus("/api/goals", status, data); err != nil {
			return err
		}
		printJSON(data)
		return nil

	case "list":
		data, status, err := apiRequest(http.MethodGet, "/api/goals", nil)
		if err != nil {
			return err
		}
		if err := checkStatus("/api/goals", status, data); err != nil {
			return err
		}
		printJSON(data)
		return nil

	case "decompose":
		if len(rest) != 1 {
			return fmt.Errorf("usage: conductor goal decompose <goal-id>")
		}
		data, status, err := apiRequest(http.MethodPost, "/api/goals/"+rest[0]+"/decompose", nil)
		if err != nil {
			return err
		}
		if err := checkStatus("decompose", status, data); err != nil {
			return err
		}
		printJSON(data)
		return nil

	case "dispatch":
		if len(rest) != 1 {
			return fmt.Errorf("usage: conductor goal dispatch <goal-id>")
		}
		data, status, err := apiRequest(http.MethodPost, "/api/goals/"+rest[0]+"/dispatch", nil)
		if err != nil {
			return err
		}
		if err := checkStatus("dispatch", status, data); err != nil {
			return err
		}
		fmt.Println("dispatch pass enqueued")
		return nil

	default:
		return fmt.Errorf("conductor goal: unknown subcommand %q", sub)
	}
}

func cmdStatus(args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	goalID := fs.String("goal", "", "restrict to one goal's tasks")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *goalID == "" {
		data, status, err := apiRequest(http.MethodGet, "/api/stats", nil)
		if err != nil {
			return err
		}
		if err := checkStatus("/api/stats", status, data); err != nil {
			return err
		}
		printJSON(data)
		return nil
	}

	data, status, err := apiRequest(http.MethodGet, "/api/goals/"+*goalID+"/tasks", nil)
	if err != nil {
		return err
	}
	if err := checkStatus("tasks", status, data); err != nil {
		return err
	}
	printJSON(data)
	return nil
}

func cmdInspect(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: conductor inspect <agent-run-id>")
	}
	agentRunID := args[0]

	for _, path := range []string{
		"/api/agents/" + agentRunID,
		"/api/agents/" + agentRunID + "/events",
	} {
		data, status, err := apiRequest(http.MethodGet, path, nil)
		if err != nil {
			return err
		}
		if err := checkStatus(path, status, data); err != nil {
			return err
		}
		fmt.Println(path)
		printJSON(data)
		fmt.Println()
	}
	return nil
}

func cmdNudge(args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: conductor nudge <agent-run-id> <message>")
	}
	data, status, err := apiRequest(http.MethodPost, "/api/agents/"+args[0]+"/nudge", map[string]string{
		"message": args[1],
	})
	if err != nil {
		return err
	}
	if err := checkStatus("nudge", status, data); err != nil {
		return err
	}
	fmt.Println("nudge accepted")
	return nil
}

func cmdKill(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: conductor kill <agent-run-id>")
	}
	data, status, err := apiRequest(http.MethodPost, "/api/agents/"+args[0]+"/kill", nil)
	if err != nil {
		return err
	}
	if err := checkStatus("kill", status, data); err != nil {
		return err
	}
	fmt.Println("kill requested")
	return nil
}

// cmdLogs prints an agent run's event log once and exits. With -f it
// streams the live SSE endpoint instead.
func cmdLogs(args []string) error {
	fs := flag.NewFlagSet("logs", flag.ExitOnError)
	follow := fs.Bool("f", false, "stream new events instead of exiting after the current log")
	if err := fs.Parse(args); err != nil {
		return err
	}
	rest := fs.Args()
	if len(rest) != 1 {
		return fmt.Errorf("usage: conductor logs [-f] <agent-run-id>")
	}
	agentRunID := rest[0]

	if !*follow {
		data, status, err := apiRequest(http.MethodGet, "/api/agents/"+agentRunID+"/events", nil)
		if err != nil {
			return err
		}
		if err := checkStatus("events", status, data); err != nil {
			return err
		}
		printJSON(data)
		return nil
	}

	req, err := http.NewRequest(http.MethodGet, baseURL()+"/api/agents/"+agentRunID+"/stream", nil)
	if err != nil {
		return err
	}
	streamClient := &http.Client{} // no timeout: this connection is meant to stay open
	resp, err := streamClient.Do(req)
	if err != nil {
		return fmt.Errorf("streaming from %s: %w", baseURL(), err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("stream: server returned %d: %s", resp.StatusCode, string(data))
	}

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "data:") {
			fmt.Println(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}
	return scanner.Err()
}
