package runtime

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/overseer-dev/overseer/internal/cmn/stringutil"
)

const (
	assistantTextLimit = 500
	toolErrorLimit     = 200
)

// streamLine is one display line tagged with the logical stream it
// belongs to: agent conversation on stdout, lifecycle records on system.
type streamLine struct {
	stream string
	text   string
}

// claudeStreamParser consumes Claude's stream-JSON output: one JSON
// record per newline-terminated line. A byte buffer is kept across reads
// so records split over read boundaries reassemble correctly.
type claudeStreamParser struct {
	buf   bytes.Buffer
	model string
}

// Feed appends raw output and returns the display lines completed by it.
func (p *claudeStreamParser) Feed(data []byte) []streamLine {
	p.buf.Write(data)
	var out []streamLine
	for {
		raw, err := p.buf.ReadString('\n')
		if err != nil {
			// Partial line: keep it buffered for the next read.
			p.buf.WriteString(raw)
			break
		}
		line := strings.TrimRight(raw, "\r\n")
		if line == "" {
			continue
		}
		out = append(out, p.parseRecord(line)...)
	}
	return out
}

// Flush drains any trailing unterminated record.
func (p *claudeStreamParser) Flush() []streamLine {
	line := strings.TrimSpace(p.buf.String())
	p.buf.Reset()
	if line == "" {
		return nil
	}
	return p.parseRecord(line)
}

// Model returns the model identifier announced in the system record, or
// "" before one arrives.
func (p *claudeStreamParser) Model() string {
	return p.model
}

type claudeRecord struct {
	Type    string `json:"type"`
	Subtype string `json:"subtype"`
	Model   string `json:"model"`
	Tools   []any  `json:"tools"`
	Message struct {
		Model   string `json:"model"`
		Content []struct {
			Type  string         `json:"type"`
			Text  string         `json:"text"`
			Name  string         `json:"name"`
			Input map[string]any `json:"input"`
		} `json:"content"`
	} `json:"message"`
	IsError    bool            `json:"is_error"`
	Content    json.RawMessage `json:"content"`
	Result     string          `json:"result"`
	NumTurns   int             `json:"num_turns"`
	DurationMS int64           `json:"duration_ms"`
	TotalCost  float64         `json:"total_cost_usd"`
}

func (p *claudeStreamParser) parseRecord(line string) []streamLine {
	var rec claudeRecord
	if err := json.Unmarshal([]byte(line), &rec); err != nil {
		// Not a JSON record: surface it verbatim minus terminal noise.
		clean := stringutil.StripANSI(line)
		if strings.TrimSpace(clean) == "" {
			return nil
		}
		return []streamLine{{stream: "stdout", text: clean}}
	}

	switch rec.Type {
	case "system":
		model := rec.Model
		if model == "" {
			model = rec.Message.Model
		}
		p.model = model
		return []streamLine{{
			stream: "system",
			text:   fmt.Sprintf("agent started (model %s, %d tools)", model, len(rec.Tools)),
		}}

	case "assistant":
		var out []streamLine
		for _, block := range rec.Message.Content {
			switch block.Type {
			case "text":
				text := strings.TrimSpace(block.Text)
				if text != "" {
					out = append(out, streamLine{stream: "stdout", text: stringutil.Truncate(text, assistantTextLimit)})
				}
			case "tool_use":
				out = append(out, streamLine{stream: "stdout", text: toolSummary(block.Name, block.Input)})
			}
		}
		return out

	case "tool_result":
		if !rec.IsError {
			return nil
		}
		return []streamLine{{
			stream: "stdout",
			text:   "tool error: " + stringutil.Truncate(flattenContent(rec.Content), toolErrorLimit),
		}}

	case "result":
		summary := fmt.Sprintf("done: %d turns in %.1fs", rec.NumTurns, float64(rec.DurationMS)/1000)
		if rec.TotalCost > 0 {
			summary += fmt.Sprintf(" ($%.4f)", rec.TotalCost)
		}
		return []streamLine{{stream: "system", text: summary}}
	}
	return nil
}

// toolSummary renders one tool invocation as a single line: the operation
// plus its most salient input.
func toolSummary(name string, input map[string]any) string {
	for _, key := range []string{"file_path", "path", "command", "pattern", "query", "url"} {
		if v, ok := input[key].(string); ok && v != "" {
			return fmt.Sprintf("[%s] %s", name, stringutil.Truncate(v, 200))
		}
	}
	return fmt.Sprintf("[%s]", name)
}

// flattenContent renders a tool_result content field, which may be a
// plain string or a list of content blocks.
func flattenContent(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var blocks []struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &blocks); err == nil {
		var parts []string
		for _, b := range blocks {
			if b.Text != "" {
				parts = append(parts, b.Text)
			}
		}
		return strings.Join(parts, " ")
	}
	return string(raw)
}
