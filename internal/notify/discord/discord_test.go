package discord

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/gigiforge/gigi/internal/notify"
)

// --- Mock session ---

type mockSession struct {
	mu       sync.Mutex
	sent     []*discordgo.MessageSend
	channels []string
	failures int
	err      error
}

func (m *mockSession) ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failures > 0 {
		m.failures--
		return nil, &discordgo.RESTError{Response: &http.Response{StatusCode: http.StatusTooManyRequests}}
	}
	if m.err != nil {
		return nil, m.err
	}
	m.channels = append(m.channels, channelID)
	m.sent = append(m.sent, data)
	return &discordgo.Message{ID: "m1", ChannelID: channelID}, nil
}

func newTestSender(t *testing.T, sess *mockSession) *Sender {
	t.Helper()
	s, err := New(Opts{ChannelID: "chan-1", Session: sess})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s.baseBackoff = time.Millisecond
	s.maxBackoff = 5 * time.Millisecond
	return s
}

// --- Constructor ---

func TestNew_Validation(t *testing.T) {
	if _, err := New(Opts{ChannelID: "c"}); err == nil {
		t.Error("expected error without token or session")
	}
	if _, err := New(Opts{BotToken: "tok"}); err == nil {
		t.Error("expected error without channel")
	}
	s, err := New(Opts{BotToken: "tok", ChannelID: "c"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if s.Name() != "discord" {
		t.Errorf("Name = %q", s.Name())
	}
}

// --- Send ---

func TestSend_Embed(t *testing.T) {
	sess := &mockSession{}
	s := newTestSender(t, sess)

	err := s.Send(context.Background(), notify.Message{
		Title:  "gigi#7: agent replied",
		Body:   "Done.",
		Color:  notify.ColorSuccess,
		Fields: []notify.Field{{Name: "Thread", Value: "t1", Short: true}},
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(sess.sent) != 1 || sess.channels[0] != "chan-1" {
		t.Fatalf("sent %d messages to %v", len(sess.sent), sess.channels)
	}
	embed := sess.sent[0].Embeds[0]
	if embed.Title != "gigi#7: agent replied" || embed.Description != "Done." {
		t.Errorf("embed = %+v", embed)
	}
	if embed.Color != 0x36a64f {
		t.Errorf("color = %x", embed.Color)
	}
	if len(embed.Fields) != 1 || !embed.Fields[0].Inline {
		t.Errorf("fields = %+v", embed.Fields)
	}
}

func TestSend_RetriesRateLimit(t *testing.T) {
	sess := &mockSession{failures: 2}
	s := newTestSender(t, sess)
	if err := s.Send(context.Background(), notify.Message{Title: "t"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(sess.sent) != 1 {
		t.Errorf("expected 1 message, got %d", len(sess.sent))
	}
}

func TestSend_ExhaustsRetries(t *testing.T) {
	sess := &mockSession{failures: maxRetries + 1}
	s := newTestSender(t, sess)
	if err := s.Send(context.Background(), notify.Message{Title: "t"}); err == nil {
		t.Fatal("expected error after exhausting retries")
	}
}

func TestSend_OtherErrorNotRetried(t *testing.T) {
	boom := errors.New("missing access")
	sess := &mockSession{err: boom}
	s := newTestSender(t, sess)
	if err := s.Send(context.Background(), notify.Message{Title: "t"}); !errors.Is(err, boom) {
		t.Errorf("expected wrapped error, got %v", err)
	}
}

func TestParseHexColor(t *testing.T) {
	tests := map[string]int{
		"#36a64f": 0x36a64f,
		"D00000":  0xd00000,
		"":        0,
	}
	for in, want := range tests {
		if got := parseHexColor(in); got != want {
			t.Errorf("parseHexColor(%q) = %x, want %x", in, got, want)
		}
	}
}
