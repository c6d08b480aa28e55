// Package webhook correlates inbound forge events with conversation threads:
// delivery deduplication, reference extraction, tag matching, lifecycle
// transitions and agent mentions.
package webhook

import (
	"context"
	"errors"
	"fmt"

	"github.com/gigiforge/gigi/internal/agent"
	"github.com/gigiforge/gigi/internal/bus"
	"github.com/gigiforge/gigi/internal/forge"
	"github.com/gigiforge/gigi/internal/models"
	"github.com/gigiforge/gigi/internal/store"
	"github.com/gigiforge/gigi/internal/thread"
	"github.com/rs/zerolog/log"
)

// Message types written by the router.
const (
	MessageTypeWebhook = "webhook"
	MessageTypeMention = "mention"
	MessageTypeSkipped = "mention_skipped"
	MessageTypeStatus  = "status"
)

// RouteResult describes where an event was routed.
type RouteResult struct {
	ThreadID     string   `json:"thread_id"`
	Tags         []string `json:"tags"`
	Created      bool     `json:"created"`
	AgentInvoked bool     `json:"agent_invoked"`
	Status       string   `json:"status"`
	Duplicate    bool     `json:"duplicate,omitempty"`
}

// ThreadStore is the slice of the thread store the router needs.
type ThreadStore interface {
	TagFinder
	CreateConversation(ctx context.Context, opts store.CreateOpts) (*models.Thread, error)
	AddTags(ctx context.Context, id string, tags []string) error
	AddMessage(ctx context.Context, id string, opts store.MessageOpts) (*models.ThreadEvent, error)
	HasDelivery(ctx context.Context, deliveryID string) (bool, error)
	CloseConversation(ctx context.Context, id string) (bool, error)
	ReopenConversation(ctx context.Context, id string) (bool, error)
}

// TaskQueue accepts agent invocations.
type TaskQueue interface {
	Enqueue(task agent.Task) bool
}

// Publisher receives live updates.
type Publisher interface {
	Publish(ev bus.Event)
}

// Router routes forge events into threads.
type Router struct {
	store   ThreadStore
	matcher *Matcher
	dedup   *Deduplicator
	gate    *MentionGate
	tasks   TaskQueue
	pub     Publisher
}

// RouterOpts holds parameters for creating a Router.
type RouterOpts struct {
	Store     ThreadStore  // required
	Gate      *MentionGate // required
	Dedup     *Deduplicator
	Tasks     TaskQueue // nil disables agent invocation
	Publisher Publisher
}

// NewRouter creates a Router.
func NewRouter(opts RouterOpts) (*Router, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("webhook: store is required")
	}
	if opts.Gate == nil {
		return nil, fmt.Errorf("webhook: mention gate is required")
	}
	if opts.Dedup == nil {
		opts.Dedup = NewDeduplicator(DedupOpts{})
	}
	return &Router{
		store:   opts.Store,
		matcher: NewMatcher(opts.Store),
		dedup:   opts.Dedup,
		gate:    opts.Gate,
		tasks:   opts.Tasks,
		pub:     opts.Publisher,
	}, nil
}

// Dedup returns the router's delivery deduplicator.
func (r *Router) Dedup() *Deduplicator {
	return r.dedup
}

// Route processes one verified delivery. It returns nil for events that do
// not correlate to any thread. A returned error means nothing was committed
// and the forge should redeliver.
func (r *Router) Route(ctx context.Context, eventType string, payload []byte, deliveryID string) (*RouteResult, error) {
	claim, cached, dup := r.dedup.Begin(deliveryID)
	if dup {
		log.Debug().Str("delivery", deliveryID).Msg("duplicate delivery")
		if cached == nil {
			return nil, nil
		}
		res := *cached
		res.Duplicate = true
		return &res, nil
	}

	res, err := r.route(ctx, eventType, payload, deliveryID)
	if err != nil {
		claim.Abort()
		return nil, err
	}
	claim.Commit(res)
	return res, nil
}

func (r *Router) route(ctx context.Context, eventType string, payload []byte, deliveryID string) (*RouteResult, error) {
	logger := log.With().Str("event", eventType).Str("delivery", deliveryID).Logger()

	ev, err := forge.ParseEvent(eventType, payload)
	if err != nil {
		if errors.Is(err, forge.ErrUnsupportedEvent) {
			logger.Debug().Msg("ignoring unsupported event")
		} else {
			logger.Warn().Err(err).Msg("unparseable payload")
		}
		return nil, nil
	}

	refs := ExtractRefs(ev)
	if len(refs) == 0 {
		logger.Debug().Str("repo", ev.Repo).Msg("no forge reference")
		return nil, nil
	}
	ref := refs[0]
	tags := BuildTags(ref)

	subject := ev.Type == forge.EventIssues || ev.Type == forge.EventPullRequest
	opened := subject && ev.Action == "opened"
	// Opening, closing and reopening concern exactly one issue or PR and
	// must never fall back to a repository-wide match.
	specificOnly := subject && (ev.Action == "opened" || ev.Action == "closed" || ev.Action == "reopened")
	var th *models.Thread
	if specificOnly {
		th, err = r.matcher.FindSpecificThread(ctx, tags)
	} else {
		th, err = r.matcher.FindThread(ctx, tags)
	}
	if err != nil {
		return nil, err
	}

	created := false
	if th == nil {
		if !opened {
			logger.Info().Str("ref", ref.Key()).Msg("no thread for event")
			return nil, nil
		}
		repo := ev.FullName
		if repo == "" {
			repo = ev.Repo
		}
		th, err = r.store.CreateConversation(ctx, store.CreateOpts{
			Channel: thread.ChannelWebhook,
			Topic:   FormatTopic(ev),
			Repo:    repo,
			Tags:    tags,
		})
		if err != nil {
			return nil, fmt.Errorf("webhook: create thread: %w", err)
		}
		created = true
		logger.Info().Str("thread_id", th.ID).Str("ref", ref.Key()).Msg("thread created")
		r.publishStatus(th.ID, th.Status, "created")
	}

	res := &RouteResult{ThreadID: th.ID, Tags: tags, Created: created, Status: th.Status}

	// A delivery whose event is already stored is not appended again, but
	// steps that did not complete on the earlier attempt are finished.
	seen, err := r.store.HasDelivery(ctx, deliveryID)
	if err != nil {
		return nil, fmt.Errorf("webhook: check delivery: %w", err)
	}

	if !seen {
		if !created {
			if err := r.store.AddTags(ctx, th.ID, tags); err != nil {
				return nil, fmt.Errorf("webhook: add tags: %w", err)
			}
		}
		_, err = r.store.AddMessage(ctx, th.ID, store.MessageOpts{
			Role:        store.RoleSystem,
			Content:     FormatEvent(ev),
			MessageType: MessageTypeWebhook,
			DeliveryID:  deliveryID,
			Extras: map[string]any{
				"event_type": ev.Type,
				"action":     ev.Action,
				"sender":     ev.Author,
				"url":        ev.URL,
				"ref":        ref.Key(),
			},
		})
		if errors.Is(err, store.ErrDuplicateDelivery) {
			seen = true
		} else if err != nil {
			return nil, fmt.Errorf("webhook: append event: %w", err)
		}
	}

	lifecycleRan, err := r.applyLifecycle(ctx, ev, res, deliveryID, seen)
	if err != nil {
		return nil, err
	}

	mentionRan := false
	if ev.Comment != nil && r.gate.ShouldInvokeAgent(ev.Type, ev.Action, ev.Comment.Body, commentAuthor(ev)) {
		if mentionRan, err = r.handleMention(ctx, ev, res, deliveryID, seen); err != nil {
			return nil, err
		}
	}

	if seen && !lifecycleRan && !mentionRan {
		logger.Info().Str("thread_id", th.ID).Msg("delivery already stored")
		res.Duplicate = true
		return res, nil
	}

	logger.Info().
		Str("thread_id", res.ThreadID).
		Str("status", res.Status).
		Bool("created", res.Created).
		Bool("agent", res.AgentInvoked).
		Msg("event routed")
	return res, nil
}

// stepKey derives the delivery id that marks one follow-up step of a
// delivery as done.
func stepKey(deliveryID, step string) string {
	if deliveryID == "" {
		return ""
	}
	return deliveryID + ":" + step
}

// stepDone reports whether a retried delivery already completed step.
func (r *Router) stepDone(ctx context.Context, key string, seen bool) (bool, error) {
	if !seen || key == "" {
		return false, nil
	}
	done, err := r.store.HasDelivery(ctx, key)
	if err != nil {
		return false, fmt.Errorf("webhook: check delivery step: %w", err)
	}
	return done, nil
}

// applyLifecycle stops the thread on close and pauses it on reopen, then
// records the outcome as a status note keyed by the delivery. It reports
// whether the step ran.
func (r *Router) applyLifecycle(ctx context.Context, ev *forge.Event, res *RouteResult, deliveryID string, seen bool) (bool, error) {
	if ev.Type != forge.EventIssues && ev.Type != forge.EventPullRequest {
		return false, nil
	}
	if ev.Action != "closed" && ev.Action != "reopened" {
		return false, nil
	}
	key := stepKey(deliveryID, "status")
	if done, err := r.stepDone(ctx, key, seen); err != nil || done {
		return false, err
	}

	var (
		changed bool
		err     error
		to      thread.Status
	)
	if ev.Action == "closed" {
		to = thread.StatusStopped
		changed, err = r.store.CloseConversation(ctx, res.ThreadID)
	} else {
		to = thread.StatusPaused
		changed, err = r.store.ReopenConversation(ctx, res.ThreadID)
	}

	var note string
	switch {
	case errors.Is(err, store.ErrInvalidTransition):
		log.Info().Str("thread_id", res.ThreadID).Str("action", ev.Action).Str("status", res.Status).Msg("lifecycle change not applicable")
		note = fmt.Sprintf("Thread left %s: %s does not apply.", res.Status, ev.Action)
	case err != nil:
		return false, fmt.Errorf("webhook: %s thread: %w", ev.Action, err)
	case changed:
		res.Status = string(to)
		r.publishStatus(res.ThreadID, res.Status, ev.Action)
		note = fmt.Sprintf("Thread is now %s (%s).", to, ev.Action)
	default:
		res.Status = string(to)
		note = fmt.Sprintf("Thread already %s (%s).", to, ev.Action)
	}

	_, err = r.store.AddMessage(ctx, res.ThreadID, store.MessageOpts{
		Role:        store.RoleSystem,
		Content:     note,
		MessageType: MessageTypeStatus,
		DeliveryID:  key,
	})
	if err != nil && !errors.Is(err, store.ErrDuplicateDelivery) {
		return false, fmt.Errorf("webhook: store status note: %w", err)
	}
	return true, nil
}

// handleMention stores the mention as a user event and queues the agent. The
// mention is keyed by the delivery, so a retry queues the agent only when the
// earlier attempt stopped before storing it.
func (r *Router) handleMention(ctx context.Context, ev *forge.Event, res *RouteResult, deliveryID string, seen bool) (bool, error) {
	key := stepKey(deliveryID, "mention")
	if done, err := r.stepDone(ctx, key, seen); err != nil || done {
		return false, err
	}

	content := FormatMention(ev, r.gate.StripMention(ev.Comment.Body))
	_, err := r.store.AddMessage(ctx, res.ThreadID, store.MessageOpts{
		Role:        store.RoleUser,
		Content:     content,
		MessageType: MessageTypeMention,
		DeliveryID:  key,
		Extras: map[string]any{
			"author": commentAuthor(ev),
			"url":    ev.Comment.URL,
		},
	})
	if errors.Is(err, store.ErrDuplicateDelivery) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("webhook: store mention: %w", err)
	}

	status := thread.Status(res.Status)
	var skip string
	switch {
	case status == thread.StatusStopped || status == thread.StatusArchived:
		skip = fmt.Sprintf("Mention not answered: thread is %s.", status)
	case r.tasks == nil:
		skip = "Mention not answered: agent is disabled."
	}
	if skip == "" {
		res.AgentInvoked = r.tasks.Enqueue(agent.Task{
			ThreadID: res.ThreadID,
			Owner:    ev.Owner,
			Repo:     ev.Repo,
			Number:   ev.Number,
			Reason:   MessageTypeMention,
		})
		if !res.AgentInvoked {
			skip = "Mention not answered: agent is shutting down."
		}
	}
	if skip == "" {
		return true, nil
	}
	if _, err := r.store.AddMessage(ctx, res.ThreadID, store.MessageOpts{
		Role:        store.RoleSystem,
		Content:     skip,
		MessageType: MessageTypeSkipped,
	}); err != nil {
		// The mention is stored; a retry would not reach this note again.
		log.Error().Err(err).Str("thread_id", res.ThreadID).Msg("store mention note")
	}
	return true, nil
}

func (r *Router) publishStatus(threadID, status, reason string) {
	if r.pub == nil {
		return
	}
	r.pub.Publish(bus.Event{
		Type:     bus.ThreadStatus,
		ThreadID: threadID,
		Data:     map[string]any{"status": status, "reason": reason},
	})
}
