package agent

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"syscall"
	"time"
	"unicode/utf8"
)

// ClaudeRunner runs the claude CLI as a one-shot subprocess per invocation,
// feeding the transcript on stdin and reading stream-json from stdout.
type ClaudeRunner struct {
	Binary       string // path to claude binary; defaults to "claude"
	Model        string
	SystemPrompt string // appended via --append-system-prompt
	WorkDir      string
}

// Run implements Runner.
func (r *ClaudeRunner) Run(ctx context.Context, history []Message, onEvent func(StreamEvent)) (*Result, error) {
	binary := r.Binary
	if binary == "" {
		binary = "claude"
	}
	args := []string{
		"-p",
		"--output-format", "stream-json",
		"--verbose",
		"--dangerously-skip-permissions",
	}
	if r.Model != "" {
		args = append(args, "--model", r.Model)
	}
	if r.SystemPrompt != "" {
		args = append(args, "--append-system-prompt", r.SystemPrompt)
	}

	cmd := exec.CommandContext(ctx, binary, args...)
	if r.WorkDir != "" {
		cmd.Dir = r.WorkDir
	}
	cmd.Stdin = strings.NewReader(RenderTranscript(history))

	// Use a process group so SIGTERM kills the entire tree (shell + children).
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)
	}
	cmd.WaitDelay = 10 * time.Second

	var stderr strings.Builder
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("agent: stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("agent: start claude: %w", err)
	}

	state := newStreamState()
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 1024*1024), 4*1024*1024)
	for scanner.Scan() {
		for _, ev := range state.feed(scanner.Text()) {
			if onEvent != nil {
				onEvent(ev)
			}
		}
	}
	scanErr := scanner.Err()
	waitErr := cmd.Wait()

	if ctx.Err() != nil {
		return nil, fmt.Errorf("agent: claude: %w", ctx.Err())
	}
	if waitErr != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" && state.failed {
			msg = state.failMsg
		}
		return nil, fmt.Errorf("agent: claude exited: %w: %s", waitErr, truncate(msg, 500))
	}
	if scanErr != nil {
		return nil, fmt.Errorf("agent: read claude output: %w", scanErr)
	}
	if state.failed {
		return nil, fmt.Errorf("agent: claude reported error: %s", truncate(state.failMsg, 500))
	}
	return state.finish(), nil
}

// truncate returns s truncated to maxLen with "..." appended if needed.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
