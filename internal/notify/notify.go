// Package notify forwards thread lifecycle changes and agent completions to
// chat channels (Slack, Discord).
package notify

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/gigiforge/gigi/internal/bus"
	"github.com/gigiforge/gigi/internal/models"
	"github.com/rs/zerolog/log"
)

// Sidebar colors.
const (
	ColorInfo    = "#439fe0"
	ColorSuccess = "#36a64f"
	ColorWarning = "#daa038"
	ColorError   = "#d00000"
)

// maxBody bounds agent reply excerpts.
const maxBody = 500

// Message is a chat notification.
type Message struct {
	Title  string
	Body   string
	Color  string
	Fields []Field
}

// Field is a key-value pair shown under the message.
type Field struct {
	Name  string
	Value string
	Short bool
}

// Sender delivers messages to one chat platform.
type Sender interface {
	Name() string
	Send(ctx context.Context, msg Message) error
}

// ThreadLookup resolves thread ids for message titles.
type ThreadLookup interface {
	GetConversation(ctx context.Context, id string) (*models.Thread, error)
}

// Notifier subscribes to the event bus and fans notifications out to senders.
type Notifier struct {
	bus     *bus.Bus
	threads ThreadLookup
	senders []Sender
}

// Opts holds parameters for creating a Notifier.
type Opts struct {
	Bus     *bus.Bus     // required
	Threads ThreadLookup // optional; titles fall back to the thread id
	Senders []Sender
}

// New creates a Notifier.
func New(opts Opts) (*Notifier, error) {
	if opts.Bus == nil {
		return nil, fmt.Errorf("notify: bus is required")
	}
	return &Notifier{bus: opts.Bus, threads: opts.Threads, senders: opts.Senders}, nil
}

// Run forwards events until ctx is cancelled.
func (n *Notifier) Run(ctx context.Context) error {
	if len(n.senders) == 0 {
		<-ctx.Done()
		return nil
	}
	sub := n.bus.Subscribe("")
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-sub.C():
			if !ok {
				return nil
			}
			msg, ok := n.Format(ctx, ev)
			if !ok {
				continue
			}
			n.deliver(ctx, msg)
		}
	}
}

// Format turns a bus event into a notification. Status changes without a
// reason come from agent runs and are not announced; the matching
// agent_done event is.
func (n *Notifier) Format(ctx context.Context, ev bus.Event) (Message, bool) {
	switch ev.Type {
	case bus.ThreadStatus:
		reason, _ := ev.Data["reason"].(string)
		status, _ := ev.Data["status"].(string)
		if reason == "" {
			return Message{}, false
		}
		return Message{
			Title: fmt.Sprintf("%s: %s", n.title(ctx, ev.ThreadID), reason),
			Body:  fmt.Sprintf("Thread is now %s.", status),
			Color: statusColor(reason),
			Fields: []Field{
				{Name: "Thread", Value: ev.ThreadID, Short: true},
				{Name: "Status", Value: status, Short: true},
			},
		}, true
	case bus.AgentDone:
		if errText, _ := ev.Data["error"].(string); errText != "" {
			return Message{
				Title: fmt.Sprintf("%s: agent run failed", n.title(ctx, ev.ThreadID)),
				Body:  truncate(errText, maxBody),
				Color: ColorError,
			}, true
		}
		text, _ := ev.Data["text"].(string)
		return Message{
			Title: fmt.Sprintf("%s: agent replied", n.title(ctx, ev.ThreadID)),
			Body:  truncate(strings.TrimSpace(text), maxBody),
			Color: ColorSuccess,
		}, true
	}
	return Message{}, false
}

func (n *Notifier) title(ctx context.Context, id string) string {
	if n.threads == nil {
		return id
	}
	t, err := n.threads.GetConversation(ctx, id)
	if err != nil || t.Topic == "" {
		return id
	}
	return t.Topic
}

// deliver sends msg to every sender concurrently. Failures are logged.
func (n *Notifier) deliver(ctx context.Context, msg Message) {
	var wg sync.WaitGroup
	for _, s := range n.senders {
		wg.Add(1)
		go func(s Sender) {
			defer wg.Done()
			if err := s.Send(ctx, msg); err != nil {
				log.Warn().Err(err).Str("sink", s.Name()).Msg("notification failed")
			}
		}(s)
	}
	wg.Wait()
}

func statusColor(reason string) string {
	switch reason {
	case "created", "reopened":
		return ColorInfo
	case "closed", "stopped":
		return ColorWarning
	default:
		return ColorInfo
	}
}

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
