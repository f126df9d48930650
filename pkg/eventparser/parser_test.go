package eventparser

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_ToolUse(t *testing.T) {
	tests := []struct {
		name     string
		line     string
		wantName string
		wantSum  string
	}{
		{
			name:     "read",
			line:     `{"type":"assistant","message":{"content":[{"type":"tool_use","name":"Read","input":{"file_path":"src/m.rs"}}]}}`,
			wantName: "Read",
			wantSum:  "Reading src/m.rs",
		},
		{
			name:     "edit",
			line:     `{"type":"assistant","message":{"content":[{"type":"tool_use","name":"Edit","input":{"file_path":"a.go"}}]}}`,
			wantName: "Edit",
			wantSum:  "Editing a.go",
		},
		{
			name:     "write",
			line:     `{"type":"assistant","message":{"content":[{"type":"tool_use","name":"Write","input":{"file_path":"b.go"}}]}}`,
			wantName: "Write",
			wantSum:  "Writing b.go",
		},
		{
			name:     "bash",
			line:     `{"type":"assistant","message":{"content":[{"type":"tool_use","name":"Bash","input":{"command":"go test ./..."}}]}}`,
			wantName: "Bash",
			wantSum:  "Running: go test ./...",
		},
		{
			name:     "grep",
			line:     `{"type":"assistant","message":{"content":[{"type":"tool_use","name":"Grep","input":{"pattern":"TODO"}}]}}`,
			wantName: "Grep",
			wantSum:  "Searching for 'TODO'",
		},
		{
			name:     "glob",
			line:     `{"type":"assistant","message":{"content":[{"type":"tool_use","name":"Glob","input":{"pattern":"*.go"}}]}}`,
			wantName: "Glob",
			wantSum:  "Finding files matching '*.go'",
		},
		{
			name:     "unknown tool",
			line:     `{"type":"assistant","message":{"content":[{"type":"tool_use","name":"Frobnicate","input":{}}]}}`,
			wantName: "Frobnicate",
			wantSum:  "Using Frobnicate",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, ok := Parse([]byte(tt.line))
			require.True(t, ok)
			assert.Equal(t, KindToolUse, ev.Kind)
			assert.Equal(t, tt.wantName, ev.ToolName)
			assert.Equal(t, tt.wantSum, ev.Summary)
		})
	}
}

func TestParse_BashCommandTruncatedTo80(t *testing.T) {
	cmd := ""
	for i := 0; i < 200; i++ {
		cmd += "x"
	}
	line := fmt.Sprintf(`{"type":"assistant","message":{"content":[{"type":"tool_use","name":"Bash","input":{"command":%q}}]}}`, cmd)
	ev, ok := Parse([]byte(line))
	require.True(t, ok)
	assert.Equal(t, 80+len("…")+len("Running: "), len(ev.Summary))
	assert.Contains(t, ev.Summary, "…")
}

func TestParse_TextMessage(t *testing.T) {
	ev, ok := Parse([]byte(`{"type":"assistant","message":{"content":[{"type":"text","text":"hello there"}]}}`))
	require.True(t, ok)
	assert.Equal(t, KindTextMessage, ev.Kind)
	assert.Equal(t, "hello there", ev.Text)
}

func TestParse_TextMessageEmptyIsIgnored(t *testing.T) {
	_, ok := Parse([]byte(`{"type":"assistant","message":{"content":[{"type":"text","text":""}]}}`))
	assert.False(t, ok)
}

func TestParse_TextDelta(t *testing.T) {
	ev, ok := Parse([]byte(`{"type":"content_block_delta","delta":{"type":"text_delta","text":"partial"}}`))
	require.True(t, ok)
	assert.Equal(t, KindTextDelta, ev.Kind)
	assert.Equal(t, "partial", ev.Text)
}

func TestParse_Result(t *testing.T) {
	line := `{"type":"result","session_id":"s1","result":"done","total_cost_usd":0.25,"usage":{"input_tokens":100,"output_tokens":40}}`
	ev, ok := Parse([]byte(line))
	require.True(t, ok)
	assert.Equal(t, KindResult, ev.Kind)
	assert.Equal(t, "s1", ev.SessionID)
	assert.Equal(t, "done", ev.ResultText)
	assert.Equal(t, 0.25, ev.CostUSD)
	assert.EqualValues(t, 100, ev.InputTokens)
	assert.EqualValues(t, 40, ev.OutputTokens)
	require.NotNil(t, ev.CostDelta())
	assert.Equal(t, 0.25, *ev.CostDelta())
}

func TestParse_ResultAlternateFieldNames(t *testing.T) {
	line := `{"type":"result","cost_usd":1.5,"usage":{"input_tokens":5,"output_tokens":6}}`
	ev, ok := Parse([]byte(line))
	require.True(t, ok)
	assert.Equal(t, 1.5, ev.CostUSD)
	assert.EqualValues(t, 5, ev.InputTokens)
	assert.EqualValues(t, 6, ev.OutputTokens)
	assert.Equal(t, "", ev.SessionID)
}

func TestParse_APIRequestCarriesCostDelta(t *testing.T) {
	ev, ok := Parse([]byte(`{"type":"api_request","cost_usd":0.01,"usage":{"input_tokens":10,"output_tokens":2}}`))
	require.True(t, ok)
	assert.Equal(t, KindAPIRequest, ev.Kind)
	require.NotNil(t, ev.CostDelta())
	assert.Equal(t, 0.01, *ev.CostDelta())
}

func TestParse_ToolResult(t *testing.T) {
	line := `{"type":"tool_result","name":"Read","is_error":false,"summary":"read 10 lines"}`
	ev, ok := Parse([]byte(line))
	require.True(t, ok)
	assert.Equal(t, KindToolResult, ev.Kind)
	assert.True(t, ev.Success)
	assert.Equal(t, "[OK] read 10 lines", ev.Summary)
}

func TestParse_ToolResultError(t *testing.T) {
	line := `{"type":"tool_output","tool_name":"Bash","is_error":true,"output":"exit status 1"}`
	ev, ok := Parse([]byte(line))
	require.True(t, ok)
	assert.False(t, ev.Success)
	assert.Equal(t, "[ERROR] exit status 1", ev.Summary)
}

func TestParse_ToolResultSummaryTruncatedTo200(t *testing.T) {
	long := ""
	for i := 0; i < 300; i++ {
		long += "y"
	}
	line := fmt.Sprintf(`{"type":"tool_result","name":"Read","is_error":false,"summary":%q}`, long)
	ev, ok := Parse([]byte(line))
	require.True(t, ok)
	assert.Contains(t, ev.Summary, "…")
}

func TestParse_Error(t *testing.T) {
	ev, ok := Parse([]byte(`{"type":"error","error":"boom"}`))
	require.True(t, ok)
	assert.Equal(t, KindError, ev.Kind)
	assert.Equal(t, "boom", ev.Message)
}

func TestParse_ErrorDefaultsMessage(t *testing.T) {
	ev, ok := Parse([]byte(`{"type":"error"}`))
	require.True(t, ok)
	assert.Equal(t, "Unknown error", ev.Message)
}

func TestParse_System(t *testing.T) {
	ev, ok := Parse([]byte(`{"type":"system","message":"starting up"}`))
	require.True(t, ok)
	assert.Equal(t, KindSystem, ev.Kind)
	assert.Equal(t, "starting up", ev.Message)
}

func TestParse_SystemEmptyIsIgnored(t *testing.T) {
	_, ok := Parse([]byte(`{"type":"system","message":""}`))
	assert.False(t, ok)
}

func TestParse_IgnoresUnknownMissingMalformedOrEmpty(t *testing.T) {
	inputs := []string{
		"",
		"   ",
		`{"type":"some_unknown_type"}`,
		`{"no_type_field": true}`,
		`not json at all`,
		`{"type": "assistant", "message": {}}`,
	}
	for _, in := range inputs {
		_, ok := Parse([]byte(in))
		assert.False(t, ok, "input %q should be ignored", in)
	}
}

// TestParse_Totality throws a large batch of random well-formed and
// garbage lines at Parse and asserts it never panics and never reports an
// error — the parser is total by construction.
func TestParse_Totality(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	types := []string{"assistant", "content_block_delta", "result", "tool_result", "tool_output", "error", "system", "api_request", "bogus"}

	for i := 0; i < 1000; i++ {
		var line string
		if i%2 == 0 {
			line = fmt.Sprintf(`{"type":%q,"message":"m%d","text":"t%d","name":"n%d"}`, types[rng.Intn(len(types))], i, i, i)
		} else {
			line = randomGarbage(rng, i)
		}

		assert.NotPanics(t, func() {
			Parse([]byte(line))
		})
	}
}

func randomGarbage(rng *rand.Rand, seed int) string {
	choices := []string{
		"{",
		"}",
		"[1,2,3]",
		`{"type": 42}`,
		`{"type": null}`,
		fmt.Sprintf("garbage-%d", seed),
		`{"type":"assistant","message":{"content":"not-a-list"}}`,
		`{"type":"result","usage":"not-an-object"}`,
	}
	return choices[rng.Intn(len(choices))]
}
