package agent

import (
	"encoding/json"
	"strings"
)

// streamLine is the envelope of one claude stream-json line.
type streamLine struct {
	Type      string `json:"type"`
	Subtype   string `json:"subtype"`
	SessionID string `json:"session_id"`
	IsError   bool   `json:"is_error"`
	Result    string `json:"result"`
	Message   struct {
		Model   string         `json:"model"`
		Content []contentBlock `json:"content"`
	} `json:"message"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

type contentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text"`
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Input     json.RawMessage `json:"input"`
	ToolUseID string          `json:"tool_use_id"`
	Content   json.RawMessage `json:"content"`
}

// streamState accumulates a Result from stream-json lines.
type streamState struct {
	result  Result
	text    strings.Builder
	tools   map[string]int // tool_use id -> index in result.ToolCalls
	failed  bool
	failMsg string
}

func newStreamState() *streamState {
	return &streamState{tools: make(map[string]int)}
}

// feed parses one line and returns the stream events it produced. Lines that
// are not JSON objects are ignored.
func (s *streamState) feed(line string) []StreamEvent {
	line = strings.TrimSpace(line)
	if len(line) == 0 || line[0] != '{' {
		return nil
	}
	var l streamLine
	if err := json.Unmarshal([]byte(line), &l); err != nil {
		return nil
	}
	if l.SessionID != "" {
		s.result.SessionID = l.SessionID
	}

	var out []StreamEvent
	switch l.Type {
	case "assistant":
		if l.Message.Model != "" {
			s.result.Usage.Model = l.Message.Model
		}
		for _, c := range l.Message.Content {
			switch c.Type {
			case "text":
				if c.Text == "" {
					continue
				}
				if s.text.Len() > 0 {
					s.text.WriteString("\n")
				}
				s.text.WriteString(c.Text)
				out = append(out, StreamEvent{Kind: StreamText, Text: c.Text})
			case "tool_use":
				call := ToolCall{ID: c.ID, Name: c.Name, Input: string(c.Input)}
				s.tools[c.ID] = len(s.result.ToolCalls)
				s.result.ToolCalls = append(s.result.ToolCalls, call)
				out = append(out, StreamEvent{Kind: StreamToolUse, Tool: &call})
			}
		}
	case "user":
		for _, c := range l.Message.Content {
			if c.Type != "tool_result" {
				continue
			}
			output := blockText(c.Content)
			call := ToolCall{ID: c.ToolUseID, Output: output}
			if i, ok := s.tools[c.ToolUseID]; ok {
				s.result.ToolCalls[i].Output = output
				call.Name = s.result.ToolCalls[i].Name
			}
			out = append(out, StreamEvent{Kind: StreamToolResult, Tool: &call})
		}
	case "result":
		s.result.Usage.InputTokens += l.Usage.InputTokens
		s.result.Usage.OutputTokens += l.Usage.OutputTokens
		if l.IsError || strings.HasPrefix(l.Subtype, "error") {
			s.failed = true
			s.failMsg = l.Result
			if s.failMsg == "" {
				s.failMsg = l.Subtype
			}
		} else if l.Result != "" {
			s.result.Text = l.Result
		}
	}
	return out
}

// finish returns the accumulated result. The final result line's text wins
// over the concatenated assistant text.
func (s *streamState) finish() *Result {
	r := s.result
	if r.Text == "" {
		r.Text = s.text.String()
	}
	return &r
}

// blockText extracts text from a tool_result content field, which is either
// a string or a list of text blocks.
func blockText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var blocks []contentBlock
	if err := json.Unmarshal(raw, &blocks); err == nil {
		parts := make([]string, 0, len(blocks))
		for _, b := range blocks {
			if b.Text != "" {
				parts = append(parts, b.Text)
			}
		}
		return strings.Join(parts, "\n")
	}
	return string(raw)
}
