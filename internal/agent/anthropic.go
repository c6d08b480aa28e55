package agent

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
)

// DefaultMaxTokens bounds a single API reply.
const DefaultMaxTokens = 4096

// LLMRunner runs the agent through a langchaingo model, streaming text as it
// arrives. It does not execute tools.
type LLMRunner struct {
	llm          llms.Model
	model        string
	systemPrompt string
	maxTokens    int
}

// LLMRunnerOpts holds parameters for creating an LLMRunner.
type LLMRunnerOpts struct {
	LLM          llms.Model // required
	Model        string     // reported in Usage
	SystemPrompt string
	MaxTokens    int // defaults to DefaultMaxTokens
}

// NewLLMRunner wraps an existing model.
func NewLLMRunner(opts LLMRunnerOpts) (*LLMRunner, error) {
	if opts.LLM == nil {
		return nil, fmt.Errorf("agent: llm is required")
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = DefaultMaxTokens
	}
	return &LLMRunner{
		llm:          opts.LLM,
		model:        opts.Model,
		systemPrompt: opts.SystemPrompt,
		maxTokens:    opts.MaxTokens,
	}, nil
}

// NewAnthropicRunner creates an LLMRunner backed by the Anthropic API.
func NewAnthropicRunner(apiKey, model, systemPrompt string) (*LLMRunner, error) {
	llm, err := anthropic.New(
		anthropic.WithToken(apiKey),
		anthropic.WithModel(model),
	)
	if err != nil {
		return nil, fmt.Errorf("agent: anthropic client: %w", err)
	}
	return NewLLMRunner(LLMRunnerOpts{LLM: llm, Model: model, SystemPrompt: systemPrompt})
}

// Run implements Runner.
func (r *LLMRunner) Run(ctx context.Context, history []Message, onEvent func(StreamEvent)) (*Result, error) {
	msgs := r.buildMessages(history)
	if len(msgs) == 0 {
		return nil, fmt.Errorf("agent: empty history")
	}

	resp, err := r.llm.GenerateContent(ctx, msgs,
		llms.WithMaxTokens(r.maxTokens),
		llms.WithStreamingFunc(func(_ context.Context, chunk []byte) error {
			if onEvent != nil && len(chunk) > 0 {
				onEvent(StreamEvent{Kind: StreamText, Text: string(chunk)})
			}
			return nil
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("agent: generate: %w", err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return nil, fmt.Errorf("agent: generate: empty response")
	}

	choice := resp.Choices[0]
	res := &Result{Text: choice.Content, Usage: Usage{Model: r.model}}
	res.Usage.InputTokens = intInfo(choice.GenerationInfo, "InputTokens")
	res.Usage.OutputTokens = intInfo(choice.GenerationInfo, "OutputTokens")
	for _, tc := range choice.ToolCalls {
		call := ToolCall{ID: tc.ID}
		if tc.FunctionCall != nil {
			call.Name = tc.FunctionCall.Name
			call.Input = tc.FunctionCall.Arguments
		}
		res.ToolCalls = append(res.ToolCalls, call)
	}
	return res, nil
}

// buildMessages maps history onto chat turns. Stored system notes (webhook
// events) are folded into user turns, and consecutive turns of one role are
// merged so the conversation alternates.
func (r *LLMRunner) buildMessages(history []Message) []llms.MessageContent {
	var msgs []llms.MessageContent
	if r.systemPrompt != "" {
		msgs = append(msgs, llms.TextParts(llms.ChatMessageTypeSystem, r.systemPrompt))
	}

	var (
		curRole llms.ChatMessageType
		buf     string
	)
	flush := func() {
		if buf != "" {
			msgs = append(msgs, llms.TextParts(curRole, buf))
		}
		buf = ""
	}
	for _, m := range history {
		role, text := llms.ChatMessageTypeHuman, m.Content
		switch m.Role {
		case "assistant":
			role = llms.ChatMessageTypeAI
		case "system":
			text = "[event] " + m.Content
		}
		if role != curRole {
			flush()
			curRole = role
		}
		if buf != "" {
			buf += "\n\n"
		}
		buf += text
	}
	flush()
	return msgs
}

func intInfo(info map[string]any, key string) int {
	switch v := info[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}
