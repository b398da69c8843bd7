package runtime

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSystemRecordAnnouncesModel(t *testing.T) {
	t.Parallel()
	p := &claudeStreamParser{}
	lines := p.Feed([]byte(`{"type":"system","subtype":"init","model":"claude-sonnet-4","tools":["Bash","Edit","Read"]}` + "\n"))
	require.Len(t, lines, 1)
	assert.Equal(t, "agent started (model claude-sonnet-4, 3 tools)", lines[0].text)
	assert.Equal(t, "system", lines[0].stream)
	assert.Equal(t, "claude-sonnet-4", p.Model())
}

func TestAssistantTextAndToolUse(t *testing.T) {
	t.Parallel()
	p := &claudeStreamParser{}
	rec := `{"type":"assistant","message":{"content":[` +
		`{"type":"text","text":"Working on it."},` +
		`{"type":"tool_use","name":"Edit","input":{"file_path":"internal/api/server.go"}}]}}` + "\n"
	lines := p.Feed([]byte(rec))
	require.Len(t, lines, 2)
	assert.Equal(t, "Working on it.", lines[0].text)
	assert.Equal(t, "stdout", lines[0].stream)
	assert.Equal(t, "[Edit] internal/api/server.go", lines[1].text)
	assert.Equal(t, "stdout", lines[1].stream)
}

func TestAssistantTextTruncated(t *testing.T) {
	t.Parallel()
	p := &claudeStreamParser{}
	long := strings.Repeat("x", 900)
	lines := p.Feed([]byte(`{"type":"assistant","message":{"content":[{"type":"text","text":"` + long + `"}]}}` + "\n"))
	require.Len(t, lines, 1)
	assert.Len(t, lines[0].text, assistantTextLimit+len("..."))
}

func TestToolResultErrorOnly(t *testing.T) {
	t.Parallel()
	p := &claudeStreamParser{}

	lines := p.Feed([]byte(`{"type":"tool_result","is_error":false,"content":"ok"}` + "\n"))
	assert.Empty(t, lines)

	lines = p.Feed([]byte(`{"type":"tool_result","is_error":true,"content":"permission denied: /etc/shadow"}` + "\n"))
	require.Len(t, lines, 1)
	assert.Equal(t, "tool error: permission denied: /etc/shadow", lines[0].text)
	assert.Equal(t, "stdout", lines[0].stream)
}

func TestResultSummaryOnSystemStream(t *testing.T) {
	t.Parallel()
	p := &claudeStreamParser{}
	lines := p.Feed([]byte(`{"type":"result","num_turns":7,"duration_ms":4500,"total_cost_usd":0.0312}` + "\n"))
	require.Len(t, lines, 1)
	assert.Equal(t, "done: 7 turns in 4.5s ($0.0312)", lines[0].text)
	assert.Equal(t, "system", lines[0].stream)
}

func TestMalformedLineStrippedVerbatim(t *testing.T) {
	t.Parallel()
	p := &claudeStreamParser{}
	lines := p.Feed([]byte("\x1b[31mnot json at all\x1b[0m\n"))
	require.Len(t, lines, 1)
	assert.Equal(t, "not json at all", lines[0].text)
	assert.Equal(t, "stdout", lines[0].stream)
}

func TestRecordSplitAcrossReads(t *testing.T) {
	t.Parallel()
	p := &claudeStreamParser{}
	full := `{"type":"assistant","message":{"content":[{"type":"text","text":"split record"}]}}` + "\n"
	half := len(full) / 2

	assert.Empty(t, p.Feed([]byte(full[:half])))
	lines := p.Feed([]byte(full[half:]))
	require.Len(t, lines, 1)
	assert.Equal(t, "split record", lines[0].text)
}

func TestFlushDrainsTrailingRecord(t *testing.T) {
	t.Parallel()
	p := &claudeStreamParser{}
	assert.Empty(t, p.Feed([]byte(`{"type":"assistant","message":{"content":[{"type":"text","text":"no newline"}]}}`)))
	lines := p.Flush()
	require.Len(t, lines, 1)
	assert.Equal(t, "no newline", lines[0].text)
}
