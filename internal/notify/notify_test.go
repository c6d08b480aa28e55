package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/gigiforge/gigi/internal/bus"
	"github.com/gigiforge/gigi/internal/models"
)

type recordingSender struct {
	mu   sync.Mutex
	msgs []Message
	err  error
	sent chan struct{}
}

func newRecordingSender() *recordingSender {
	return &recordingSender{sent: make(chan struct{}, 16)}
}

func (r *recordingSender) Name() string { return "test" }

func (r *recordingSender) Send(_ context.Context, msg Message) error {
	r.mu.Lock()
	r.msgs = append(r.msgs, msg)
	r.mu.Unlock()
	r.sent <- struct{}{}
	return r.err
}

type fakeThreads map[string]string

func (f fakeThreads) GetConversation(_ context.Context, id string) (*models.Thread, error) {
	topic, ok := f[id]
	if !ok {
		return nil, errors.New("not found")
	}
	return &models.Thread{ID: id, Topic: topic}, nil
}

func TestNew_RequiresBus(t *testing.T) {
	if _, err := New(Opts{}); err == nil {
		t.Fatal("expected error without bus")
	}
}

func TestFormat(t *testing.T) {
	n, _ := New(Opts{Bus: bus.New(0), Threads: fakeThreads{"t1": "Issue gigi#42: New feature"}})
	ctx := context.Background()

	msg, ok := n.Format(ctx, bus.Event{Type: bus.ThreadStatus, ThreadID: "t1",
		Data: map[string]any{"status": "stopped", "reason": "closed"}})
	if !ok {
		t.Fatal("expected status change with reason to notify")
	}
	if msg.Title != "Issue gigi#42: New feature: closed" || msg.Color != ColorWarning {
		t.Errorf("msg = %+v", msg)
	}

	if _, ok := n.Format(ctx, bus.Event{Type: bus.ThreadStatus, ThreadID: "t1",
		Data: map[string]any{"status": "active"}}); ok {
		t.Error("run status changes should not notify")
	}

	msg, ok = n.Format(ctx, bus.Event{Type: bus.AgentDone, ThreadID: "unknown",
		Data: map[string]any{"error": "timed out after 1m0s"}})
	if !ok || msg.Color != ColorError || msg.Title != "unknown: agent run failed" {
		t.Errorf("msg = %+v ok=%v", msg, ok)
	}

	msg, ok = n.Format(ctx, bus.Event{Type: bus.AgentDone, ThreadID: "t1",
		Data: map[string]any{"text": "  All good.  "}})
	if !ok || msg.Body != "All good." || msg.Color != ColorSuccess {
		t.Errorf("msg = %+v ok=%v", msg, ok)
	}

	if _, ok := n.Format(ctx, bus.Event{Type: bus.TextChunk, ThreadID: "t1"}); ok {
		t.Error("text chunks should not notify")
	}
}

func TestRun_ForwardsToAllSenders(t *testing.T) {
	b := bus.New(0)
	a, failing := newRecordingSender(), newRecordingSender()
	failing.err = errors.New("down")
	n, _ := New(Opts{Bus: b, Senders: []Sender{a, failing}})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- n.Run(ctx) }()

	// Wait for the subscription before publishing.
	deadline := time.Now().Add(5 * time.Second)
	for b.Len() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("notifier never subscribed")
		}
		time.Sleep(time.Millisecond)
	}

	b.Publish(bus.Event{Type: bus.AgentDone, ThreadID: "t1", Data: map[string]any{"text": "hi"}})
	for _, s := range []*recordingSender{a, failing} {
		select {
		case <-s.sent:
		case <-time.After(5 * time.Second):
			t.Fatal("notification not delivered")
		}
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run: %v", err)
	}
}

func TestRun_NoSendersWaitsForCancel(t *testing.T) {
	n, _ := New(Opts{Bus: bus.New(0)})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := n.Run(ctx); err != nil {
		t.Errorf("Run: %v", err)
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("hello", 10); got != "hello" {
		t.Errorf("got %q", got)
	}
	if got := truncate("hello world", 5); got != "hello..." {
		t.Errorf("got %q", got)
	}
	if got := truncate("naïve", 3); got != "na..." || !utf8.ValidString(got) {
		t.Errorf("multibyte cut = %q", got)
	}
}
