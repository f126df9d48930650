// Package eventparser turns the agent subprocess's line-delimited JSON
// stream into a closed set of semantic events. The parser never errors: a
// line that doesn't match any recognized shape simply yields nothing.
package eventparser

// Kind discriminates the variants a Parse call can produce.
type Kind string

const (
	KindToolUse     Kind = "tool_use"
	KindTextMessage Kind = "text_message"
	KindTextDelta   Kind = "text_delta"
	KindResult      Kind = "result"
	KindToolResult  Kind = "tool_result"
	KindError       Kind = "error"
	KindSystem      Kind = "system"
	KindAPIRequest  Kind = "api_request"
)

// Event is the normalized shape of one line from the agent subprocess.
// Only the fields relevant to Kind are populated; the rest are zero.
type Event struct {
	Kind Kind `json:"kind"`

	// ToolUse / ToolResult
	ToolName string `json:"tool_name,omitempty"`
	Summary  string `json:"summary,omitempty"`
	Success  bool   `json:"success,omitempty"`

	// TextMessage / TextDelta
	Text string `json:"text,omitempty"`

	// Result / ApiRequest
	SessionID    string  `json:"session_id,omitempty"`
	ResultText   string  `json:"result_text,omitempty"`
	CostUSD      float64 `json:"cost_usd,omitempty"`
	InputTokens  int64   `json:"input_tokens,omitempty"`
	OutputTokens int64   `json:"output_tokens,omitempty"`

	// Error / System
	Message string `json:"message,omitempty"`
}
