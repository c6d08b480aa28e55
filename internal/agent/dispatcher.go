package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gigiforge/gigi/internal/bus"
	"github.com/gigiforge/gigi/internal/models"
	"github.com/gigiforge/gigi/internal/store"
	"github.com/gigiforge/gigi/internal/thread"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// Message types written by the dispatcher.
const (
	MessageTypeText    = "text"
	MessageTypeError   = "error"
	MessageTypeStopped = "stopped"
)

// Task is one queued agent invocation.
type Task struct {
	ThreadID string
	// Owner, Repo and Number identify the issue or PR to reply on. Number 0
	// means the reply is not posted to the forge.
	Owner  string
	Repo   string
	Number int
	Reason string // what triggered the run, e.g. "mention"
}

// Store is the slice of the thread store the dispatcher needs.
type Store interface {
	StartRun(ctx context.Context, id string) (bool, error)
	FinishRun(ctx context.Context, id string) (bool, error)
	ListMessages(ctx context.Context, id string, q store.MessageQuery) ([]models.ThreadEvent, error)
	AddMessage(ctx context.Context, id string, opts store.MessageOpts) (*models.ThreadEvent, error)
}

// Publisher receives live updates.
type Publisher interface {
	Publish(ev bus.Event)
}

// ReplyPoster posts the agent's reply back to the forge.
type ReplyPoster interface {
	PostComment(ctx context.Context, owner, repo string, number int, body string) (string, error)
}

// Dispatcher runs agent tasks in the background. Tasks for one thread run
// one at a time in arrival order; tasks for different threads run in
// parallel up to the worker limit.
type Dispatcher struct {
	runner  Runner
	store   Store
	pub     Publisher
	poster  ReplyPoster
	limiter *rate.Limiter
	timeout time.Duration
	sem     chan struct{}

	baseCtx   context.Context
	cancelAll context.CancelFunc
	wg        sync.WaitGroup

	mu      sync.Mutex
	closed  bool
	running map[string]context.CancelFunc
	pending map[string][]Task
}

// DispatcherOpts holds parameters for creating a Dispatcher.
type DispatcherOpts struct {
	Runner       Runner // required
	Store        Store  // required
	Publisher    Publisher
	Poster       ReplyPoster   // optional; posts replies for tasks with a Number
	Workers      int           // concurrent runs; defaults to 1
	MaxPerMinute int           // run starts per minute; 0 means unlimited
	Timeout      time.Duration // per run; 0 means none
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(opts DispatcherOpts) (*Dispatcher, error) {
	if opts.Runner == nil {
		return nil, fmt.Errorf("agent: runner is required")
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("agent: store is required")
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		runner:    opts.Runner,
		store:     opts.Store,
		pub:       opts.Publisher,
		poster:    opts.Poster,
		timeout:   opts.Timeout,
		sem:       make(chan struct{}, opts.Workers),
		baseCtx:   ctx,
		cancelAll: cancel,
		running:   make(map[string]context.CancelFunc),
		pending:   make(map[string][]Task),
	}
	if opts.MaxPerMinute > 0 {
		d.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(opts.MaxPerMinute)), opts.MaxPerMinute)
	}
	return d, nil
}

// Enqueue schedules task and returns immediately. It returns false once the
// dispatcher is shutting down.
func (d *Dispatcher) Enqueue(task Task) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return false
	}
	if _, busy := d.running[task.ThreadID]; busy {
		d.pending[task.ThreadID] = append(d.pending[task.ThreadID], task)
		return true
	}
	d.startLocked(task)
	return true
}

// Busy reports whether a run is in progress or queued for threadID.
func (d *Dispatcher) Busy(threadID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.running[threadID]
	return ok
}

// Stop cancels the thread's current run and drops its queued runs. It
// reports whether a run was in progress.
func (d *Dispatcher) Stop(threadID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.pending, threadID)
	cancel, ok := d.running[threadID]
	if ok {
		cancel()
	}
	return ok
}

// Wait blocks until every started and queued run has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Shutdown stops accepting tasks, drops queued ones and waits for running
// ones. When ctx expires first, running tasks are cancelled.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.pending = make(map[string][]Task)
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		d.cancelAll()
		return nil
	case <-ctx.Done():
		d.cancelAll()
		<-done
		return ctx.Err()
	}
}

// startLocked launches task. Callers hold d.mu.
func (d *Dispatcher) startLocked(task Task) {
	ctx, cancel := context.WithCancel(d.baseCtx)
	d.running[task.ThreadID] = cancel
	d.wg.Add(1)
	go d.run(ctx, task)
}

// next releases the thread and starts its next queued task, if any.
func (d *Dispatcher) next(threadID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if cancel, ok := d.running[threadID]; ok {
		cancel()
		delete(d.running, threadID)
	}
	queue := d.pending[threadID]
	if len(queue) == 0 || d.closed {
		delete(d.pending, threadID)
		return
	}
	if len(queue) == 1 {
		delete(d.pending, threadID)
	} else {
		d.pending[threadID] = queue[1:]
	}
	d.startLocked(queue[0])
}

func (d *Dispatcher) run(ctx context.Context, task Task) {
	defer d.wg.Done()
	defer d.next(task.ThreadID)

	select {
	case d.sem <- struct{}{}:
	case <-ctx.Done():
		d.publish(bus.AgentStopped, task.ThreadID, nil)
		return
	}
	defer func() { <-d.sem }()

	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			d.publish(bus.AgentStopped, task.ThreadID, nil)
			return
		}
	}
	d.execute(ctx, task)
}

// execute performs one run: mark active, run, record the outcome, mark
// paused. Store writes use a context that survives cancellation of the run.
func (d *Dispatcher) execute(ctx context.Context, task Task) {
	id := task.ThreadID
	logger := log.With().Str("thread_id", id).Str("reason", task.Reason).Logger()
	wctx := context.WithoutCancel(ctx)

	if _, err := d.store.StartRun(wctx, id); err != nil {
		logger.Warn().Err(err).Msg("agent run not started")
		d.note(wctx, id, MessageTypeError, fmt.Sprintf("Agent run not started: %v", err))
		return
	}
	d.publish(bus.AgentStart, id, map[string]any{"reason": task.Reason})
	d.publish(bus.ThreadStatus, id, map[string]any{"status": string(thread.StatusActive)})
	started := time.Now()

	var (
		res    *Result
		runErr error
	)
	events, err := d.store.ListMessages(wctx, id, store.MessageQuery{})
	if err != nil {
		runErr = err
	} else {
		runCtx := ctx
		if d.timeout > 0 {
			var cancel context.CancelFunc
			runCtx, cancel = context.WithTimeout(ctx, d.timeout)
			defer cancel()
		}
		res, runErr = d.runner.Run(runCtx, HistoryFromEvents(events), func(ev StreamEvent) {
			d.publishStream(id, ev)
		})
	}

	if runErr == nil && res == nil {
		runErr = errors.New("runner returned no result")
	}

	stopped := ctx.Err() != nil
	switch {
	case stopped:
		logger.Info().Msg("agent run stopped")
		d.note(wctx, id, MessageTypeStopped, "Agent run stopped.")
	case runErr != nil:
		if errors.Is(runErr, context.DeadlineExceeded) {
			runErr = fmt.Errorf("timed out after %s", d.timeout)
		}
		logger.Error().Err(runErr).Msg("agent run failed")
		d.note(wctx, id, MessageTypeError, fmt.Sprintf("Agent run failed: %v", runErr))
	default:
		extras := map[string]any{
			"usage":       res.Usage,
			"duration_ms": time.Since(started).Milliseconds(),
		}
		if res.SessionID != "" {
			extras["session_id"] = res.SessionID
		}
		if len(res.ToolCalls) > 0 {
			extras["tool_calls"] = res.ToolCalls
		}
		if _, err := d.store.AddMessage(wctx, id, store.MessageOpts{
			Role:        store.RoleAssistant,
			Content:     res.Text,
			MessageType: MessageTypeText,
			Extras:      extras,
		}); err != nil {
			logger.Error().Err(err).Msg("store agent reply")
		}
		logger.Info().Int("tool_calls", len(res.ToolCalls)).Int("output_tokens", res.Usage.OutputTokens).Msg("agent run done")
	}

	changed, err := d.store.FinishRun(wctx, id)
	if err != nil {
		logger.Error().Err(err).Msg("finish agent run")
	}
	if changed {
		d.publish(bus.ThreadStatus, id, map[string]any{"status": string(thread.StatusPaused)})
	}

	if stopped {
		d.publish(bus.AgentStopped, id, nil)
		return
	}
	done := map[string]any{}
	if runErr != nil {
		done["error"] = runErr.Error()
	} else {
		done["text"] = res.Text
	}
	d.publish(bus.AgentDone, id, done)

	if runErr == nil && d.poster != nil && task.Number > 0 && res.Text != "" {
		pctx, cancel := context.WithTimeout(wctx, 30*time.Second)
		defer cancel()
		url, err := d.poster.PostComment(pctx, task.Owner, task.Repo, task.Number, res.Text)
		if err != nil {
			logger.Error().Err(err).Msg("post reply to forge")
			return
		}
		logger.Info().Str("url", url).Msg("reply posted")
	}
}

// RecoveryStore is the slice of the thread store RecoverInterrupted needs.
type RecoveryStore interface {
	ListConversations(ctx context.Context, opts store.ListOpts) ([]models.Thread, error)
	FinishRun(ctx context.Context, id string) (bool, error)
	AddMessage(ctx context.Context, id string, opts store.MessageOpts) (*models.ThreadEvent, error)
}

// RecoverInterrupted returns threads left active by a previous process to
// paused and notes the interruption on each. It must run before any
// dispatcher starts work against the store.
func RecoverInterrupted(ctx context.Context, st RecoveryStore) ([]string, error) {
	active, err := st.ListConversations(ctx, store.ListOpts{Status: string(thread.StatusActive)})
	if err != nil {
		return nil, fmt.Errorf("agent: list active threads: %w", err)
	}
	var recovered []string
	for i := range active {
		id := active[i].ID
		changed, err := st.FinishRun(ctx, id)
		if err != nil {
			return recovered, fmt.Errorf("agent: recover %s: %w", id, err)
		}
		if !changed {
			continue
		}
		recovered = append(recovered, id)
		if _, err := st.AddMessage(ctx, id, store.MessageOpts{
			Role:        store.RoleSystem,
			Content:     "Agent run interrupted by a restart.",
			MessageType: MessageTypeStopped,
		}); err != nil {
			log.Error().Err(err).Str("thread_id", id).Msg("store recovery note")
		}
		log.Warn().Str("thread_id", id).Msg("interrupted agent run recovered")
	}
	return recovered, nil
}

func (d *Dispatcher) note(ctx context.Context, id, messageType, content string) {
	if _, err := d.store.AddMessage(ctx, id, store.MessageOpts{
		Role:        store.RoleSystem,
		Content:     content,
		MessageType: messageType,
	}); err != nil {
		log.Error().Err(err).Str("thread_id", id).Msg("store agent note")
	}
}

func (d *Dispatcher) publishStream(id string, ev StreamEvent) {
	switch ev.Kind {
	case StreamText:
		d.publish(bus.TextChunk, id, map[string]any{"text": ev.Text})
	case StreamToolUse:
		d.publish(bus.ToolUse, id, map[string]any{"id": ev.Tool.ID, "name": ev.Tool.Name, "input": ev.Tool.Input})
	case StreamToolResult:
		d.publish(bus.ToolResult, id, map[string]any{"id": ev.Tool.ID, "name": ev.Tool.Name, "output": truncate(ev.Tool.Output, 2000)})
	}
}

func (d *Dispatcher) publish(typ bus.EventType, id string, data map[string]any) {
	if d.pub == nil {
		return
	}
	d.pub.Publish(bus.Event{Type: typ, ThreadID: id, Data: data})
}
