package slack

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gigiforge/gigi/internal/notify"
	slackapi "github.com/slack-go/slack"
)

// --- Mock Slack client ---

type mockSlackClient struct {
	mu       sync.Mutex
	channels []string
	failures int
	err      error
}

func (m *mockSlackClient) PostMessage(channelID string, options ...slackapi.MsgOption) (string, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failures > 0 {
		m.failures--
		return "", "", &slackapi.RateLimitedError{RetryAfter: time.Millisecond}
	}
	if m.err != nil {
		return "", "", m.err
	}
	m.channels = append(m.channels, channelID)
	return channelID, "1234567890.123456", nil
}

// --- Constructor ---

func TestNew_Validation(t *testing.T) {
	if _, err := New(Opts{ChannelID: "C1"}); err == nil {
		t.Error("expected error without token or client")
	}
	if _, err := New(Opts{BotToken: "xoxb-1"}); err == nil {
		t.Error("expected error without channel")
	}
	s, err := New(Opts{BotToken: "xoxb-1", ChannelID: "C1"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if s.Name() != "slack" {
		t.Errorf("Name = %q", s.Name())
	}
}

// --- Send ---

func TestSend_PostsToChannel(t *testing.T) {
	client := &mockSlackClient{}
	s, _ := New(Opts{ChannelID: "C42", Client: client})

	if err := s.Send(context.Background(), notify.Message{Title: "t", Body: "b"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(client.channels) != 1 || client.channels[0] != "C42" {
		t.Errorf("posted to %v, want [C42]", client.channels)
	}
}

func TestSend_RetriesRateLimit(t *testing.T) {
	client := &mockSlackClient{failures: 2}
	s, _ := New(Opts{ChannelID: "C42", Client: client})

	if err := s.Send(context.Background(), notify.Message{Title: "t"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(client.channels) != 1 {
		t.Errorf("expected 1 post, got %d", len(client.channels))
	}
}

func TestSend_WrapsError(t *testing.T) {
	boom := errors.New("channel_not_found")
	s, _ := New(Opts{ChannelID: "C42", Client: &mockSlackClient{err: boom}})

	err := s.Send(context.Background(), notify.Message{Title: "t"})
	if !errors.Is(err, boom) {
		t.Errorf("expected wrapped error, got %v", err)
	}
}

func TestBuildMessageOptions(t *testing.T) {
	opts := buildMessageOptions(notify.Message{
		Title:  "gigi#42: closed",
		Body:   "Thread is now stopped.",
		Color:  notify.ColorWarning,
		Fields: []notify.Field{{Name: "Status", Value: "stopped", Short: true}},
	})
	_, values, err := slackapi.UnsafeApplyMsgOptions("xoxb", "C1", "https://slack.com/api/", opts...)
	if err != nil {
		t.Fatalf("apply options: %v", err)
	}
	if got := values.Get("text"); got != "gigi#42: closed" {
		t.Errorf("text = %q", got)
	}
	if values.Get("attachments") == "" {
		t.Error("expected attachments")
	}
}

// --- retryOnRateLimit ---

func TestRetryOnRateLimit_ExhaustsRetries(t *testing.T) {
	calls := 0
	err := retryOnRateLimit(context.Background(), func() error {
		calls++
		return &slackapi.RateLimitedError{RetryAfter: time.Millisecond}
	})
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if calls != maxRetries+1 {
		t.Errorf("expected %d calls, got %d", maxRetries+1, calls)
	}
}

func TestRetryOnRateLimit_RespectsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := retryOnRateLimit(ctx, func() error {
		calls++
		return &slackapi.RateLimitedError{RetryAfter: time.Second}
	})
	if err != context.Canceled {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestRetryOnRateLimit_OtherErrorsNotRetried(t *testing.T) {
	calls := 0
	err := retryOnRateLimit(context.Background(), func() error {
		calls++
		return errors.New("invalid_auth")
	})
	if err == nil || calls != 1 {
		t.Errorf("err=%v calls=%d, want error after 1 call", err, calls)
	}
}
