// Package agent runs the assistant against a thread's history and
// dispatches those runs off the webhook request path.
package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/gigiforge/gigi/internal/models"
)

// Message is one turn of history handed to a runner.
type Message struct {
	Role    string // "system", "user" or "assistant"
	Content string
}

// ToolCall records one tool invocation made during a run.
type ToolCall struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Input  string `json:"input,omitempty"`
	Output string `json:"output,omitempty"`
}

// Usage is the token accounting for a run.
type Usage struct {
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
	Model        string `json:"model,omitempty"`
}

// Result is the outcome of a completed run.
type Result struct {
	Text      string
	ToolCalls []ToolCall
	Usage     Usage
	SessionID string
}

// Stream event kinds.
const (
	StreamText       = "text"
	StreamToolUse    = "tool_use"
	StreamToolResult = "tool_result"
)

// StreamEvent is an incremental update emitted while a run is in progress.
type StreamEvent struct {
	Kind string
	Text string
	Tool *ToolCall
}

// Runner executes the agent over a conversation history.
type Runner interface {
	Run(ctx context.Context, history []Message, onEvent func(StreamEvent)) (*Result, error)
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, history []Message, onEvent func(StreamEvent)) (*Result, error)

// Run calls f.
func (f RunnerFunc) Run(ctx context.Context, history []Message, onEvent func(StreamEvent)) (*Result, error) {
	return f(ctx, history, onEvent)
}

// HistoryFromEvents converts stored thread events into runner history.
// Error notes are dropped; they describe the runner, not the conversation.
func HistoryFromEvents(events []models.ThreadEvent) []Message {
	history := make([]Message, 0, len(events))
	for _, ev := range events {
		if ev.MessageType == "error" || strings.TrimSpace(ev.Content) == "" {
			continue
		}
		history = append(history, Message{Role: ev.Role, Content: ev.Content})
	}
	return history
}

// RenderTranscript flattens history into a single prompt for runners that
// take one block of text.
func RenderTranscript(history []Message) string {
	var b strings.Builder
	b.WriteString("You are replying in an ongoing thread. The conversation so far:\n\n")
	for _, m := range history {
		fmt.Fprintf(&b, "[%s]\n%s\n\n", m.Role, m.Content)
	}
	b.WriteString("Reply to the latest user message.")
	return b.String()
}
