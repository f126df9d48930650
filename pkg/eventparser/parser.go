package eventparser

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Parse decodes one line of the agent subprocess's stdout into an Event.
// The second return value is false for anything unrecognized: an unknown or
// missing "type" discriminator, malformed JSON, or an empty line. Parse
// never returns an error — the parser is total by construction.
func Parse(line []byte) (Event, bool) {
	trimmed := strings.TrimSpace(string(line))
	if trimmed == "" {
		return Event{}, false
	}

	var env map[string]any
	if err := json.Unmarshal([]byte(trimmed), &env); err != nil {
		return Event{}, false
	}

	kind, _ := env["type"].(string)
	switch kind {
	case "assistant":
		return parseAssistant(env)
	case "content_block_delta":
		return parseTextDelta(env)
	case "result":
		return parseResult(env)
	case "api_request":
		return parseAPIRequest(env)
	case "tool_result", "tool_output":
		return parseToolResult(env)
	case "error":
		return parseError(env)
	case "system":
		return parseSystem(env)
	default:
		return Event{}, false
	}
}

func parseAssistant(env map[string]any) (Event, bool) {
	message, _ := env["message"].(map[string]any)
	content, _ := message["content"].([]any)
	for _, blockAny := range content {
		block, ok := blockAny.(map[string]any)
		if !ok {
			continue
		}
		switch asString(block["type"]) {
		case "tool_use":
			name := asString(block["name"])
			input, _ := block["input"].(map[string]any)
			return Event{Kind: KindToolUse, ToolName: name, Summary: toolUseSummary(name, input)}, true
		case "text":
			text := asString(block["text"])
			if text == "" {
				return Event{}, false
			}
			return Event{Kind: KindTextMessage, Text: text}, true
		}
	}
	return Event{}, false
}

func parseTextDelta(env map[string]any) (Event, bool) {
	delta, _ := env["delta"].(map[string]any)
	text := asString(delta["text"])
	if text == "" {
		return Event{}, false
	}
	return Event{Kind: KindTextDelta, Text: text}, true
}

func parseResult(env map[string]any) (Event, bool) {
	usage, _ := env["usage"].(map[string]any)
	return Event{
		Kind:         KindResult,
		SessionID:    asString(env["session_id"]),
		ResultText:   asString(env["result"]),
		CostUSD:      firstFloat(env["cost_usd"], env["total_cost_usd"]),
		InputTokens:  int64(firstFloat(usage["input_tokens"])),
		OutputTokens: int64(firstFloat(usage["output_tokens"])),
	}, true
}

// parseAPIRequest recognizes an incremental cost/usage record carrying the
// same shape as a Result record, so a long session's accumulated cost and
// token counts update as the session progresses instead of only at the end.
func parseAPIRequest(env map[string]any) (Event, bool) {
	usage, _ := env["usage"].(map[string]any)
	return Event{
		Kind:         KindAPIRequest,
		CostUSD:      firstFloat(env["cost_usd"], env["total_cost_usd"]),
		InputTokens:  int64(firstFloat(usage["input_tokens"])),
		OutputTokens: int64(firstFloat(usage["output_tokens"])),
	}, true
}

func parseToolResult(env map[string]any) (Event, bool) {
	name := asString(env["name"])
	if name == "" {
		name = asString(env["tool_name"])
	}
	isError := asBool(env["is_error"])
	summary := asString(env["summary"])
	if summary == "" {
		summary = asString(env["output"])
	}
	if summary == "" {
		summary = asString(env["content"])
	}
	summary = truncate(summary, 200)
	prefix := "[OK] "
	if isError {
		prefix = "[ERROR] "
	}
	return Event{
		Kind:     KindToolResult,
		ToolName: name,
		Success:  !isError,
		Summary:  prefix + summary,
	}, true
}

func parseError(env map[string]any) (Event, bool) {
	msg := asString(env["error"])
	if msg == "" {
		msg = asString(env["message"])
	}
	if msg == "" {
		msg = "Unknown error"
	}
	return Event{Kind: KindError, Message: msg}, true
}

func parseSystem(env map[string]any) (Event, bool) {
	msg := asString(env["message"])
	if msg == "" {
		return Event{}, false
	}
	return Event{Kind: KindSystem, Message: msg}, true
}

// toolUseSummary renders the tool-specific one-line summary shown in event
// logs and the dashboard.
func toolUseSummary(name string, input map[string]any) string {
	path := asString(input["file_path"])
	switch name {
	case "Read":
		return "Reading " + path
	case "Edit":
		return "Editing " + path
	case "Write":
		return "Writing " + path
	case "Bash":
		return "Running: " + truncate(asString(input["command"]), 80)
	case "Grep":
		return fmt.Sprintf("Searching for '%s'", asString(input["pattern"]))
	case "Glob":
		return fmt.Sprintf("Finding files matching '%s'", asString(input["pattern"]))
	default:
		return "Using " + name
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asBool(v any) bool {
	b, _ := v.(bool)
	return b
}

// firstFloat returns the first operand that type-asserts to float64,
// defaulting to zero — JSON numbers decode as float64 via encoding/json.
func firstFloat(vs ...any) float64 {
	for _, v := range vs {
		if f, ok := v.(float64); ok {
			return f
		}
	}
	return 0
}
