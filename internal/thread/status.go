// Package thread holds the conversation lifecycle state machine and the
// ranking used to pick a canonical thread among several candidates.
package thread

// Status is a thread lifecycle state.
type Status string

const (
	StatusOpen     Status = "open"     // created, never touched by an agent
	StatusActive   Status = "active"   // agent currently processing
	StatusPaused   Status = "paused"   // agent finished, awaiting next input
	StatusStopped  Status = "stopped"  // closed by a terminal forge event
	StatusArchived Status = "archived" // hidden by an operator
)

// Origin channels a thread can be created from.
const (
	ChannelWeb      = "web"
	ChannelWebhook  = "webhook"
	ChannelTelegram = "telegram"
)

// Statuses lists every known status.
var Statuses = []Status{StatusOpen, StatusActive, StatusPaused, StatusStopped, StatusArchived}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	for _, known := range Statuses {
		if s == known {
			return true
		}
	}
	return false
}

// transitions maps each target state to the states allowed to enter it.
var transitions = map[Status][]Status{
	StatusActive:   {StatusOpen, StatusPaused},
	StatusPaused:   {StatusActive, StatusArchived, StatusStopped},
	StatusStopped:  {StatusOpen, StatusActive, StatusPaused},
	StatusArchived: {StatusStopped, StatusPaused},
}

// Sources returns the states from which to may be entered. The returned
// slice must not be modified.
func Sources(to Status) []Status {
	return transitions[to]
}

// CanTransition reports whether from → to is a legal lifecycle step.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[to] {
		if s == from {
			return true
		}
	}
	return false
}

// CanInvoke reports whether an agent invocation may start on a thread in
// state s.
func CanInvoke(s Status) bool {
	return CanTransition(s, StatusActive)
}
