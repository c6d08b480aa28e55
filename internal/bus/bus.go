// Package bus is the in-process publish/subscribe channel for live thread
// updates. Subscribers filter by thread id; publishing never blocks.
package bus

import (
	"sync"
	"time"
)

// EventType names a live update.
type EventType string

const (
	AgentStart   EventType = "agent_start"
	TextChunk    EventType = "text_chunk"
	ToolUse      EventType = "tool_use"
	ToolResult   EventType = "tool_result"
	AgentDone    EventType = "agent_done"
	AgentStopped EventType = "agent_stopped"
	ThreadStatus EventType = "thread_status"
)

// Event is one live update about a thread.
type Event struct {
	Type     EventType      `json:"type"`
	ThreadID string         `json:"thread_id"`
	Data     map[string]any `json:"data,omitempty"`
	Time     time.Time      `json:"time"`
}

// DefaultBuffer is the per-subscriber channel capacity.
const DefaultBuffer = 64

// Bus fans events out to subscribers.
type Bus struct {
	mu     sync.RWMutex
	subs   map[*Subscription]struct{}
	buffer int
}

// New creates a Bus. A buffer <= 0 uses DefaultBuffer.
func New(buffer int) *Bus {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Bus{subs: make(map[*Subscription]struct{}), buffer: buffer}
}

// Subscription receives events for one thread, or for all threads when its
// thread id is empty.
type Subscription struct {
	bus      *Bus
	threadID string
	ch       chan Event
	dropped  int
	once     sync.Once
}

// Subscribe registers a subscriber. Callers must Close it.
func (b *Bus) Subscribe(threadID string) *Subscription {
	s := &Subscription{bus: b, threadID: threadID, ch: make(chan Event, b.buffer)}
	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()
	return s
}

// C returns the event channel. It is closed by Close.
func (s *Subscription) C() <-chan Event {
	return s.ch
}

// Dropped returns how many events were discarded because the subscriber
// fell behind.
func (s *Subscription) Dropped() int {
	s.bus.mu.RLock()
	defer s.bus.mu.RUnlock()
	return s.dropped
}

// Close unregisters the subscriber and closes its channel.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.bus.mu.Lock()
		delete(s.bus.subs, s)
		close(s.ch)
		s.bus.mu.Unlock()
	})
}

// Publish delivers ev to every matching subscriber. Subscribers with a full
// buffer miss the event.
func (b *Bus) Publish(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for s := range b.subs {
		if s.threadID != "" && s.threadID != ev.ThreadID {
			continue
		}
		select {
		case s.ch <- ev:
		default:
			s.dropped++
		}
	}
}

// Len returns the number of active subscribers.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
