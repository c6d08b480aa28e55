package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gigiforge/gigi/internal/agent"
	"github.com/gigiforge/gigi/internal/models"
	"github.com/gigiforge/gigi/internal/store"
	"github.com/gigiforge/gigi/internal/thread"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// threadView is the JSON shape of a thread.
type threadView struct {
	ID            string     `json:"id"`
	OriginChannel string     `json:"origin_channel"`
	Topic         string     `json:"topic"`
	Status        string     `json:"status"`
	Repo          string     `json:"repo,omitempty"`
	Tags          []string   `json:"tags"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	ClosedAt      *time.Time `json:"closed_at,omitempty"`
	ArchivedAt    *time.Time `json:"archived_at,omitempty"`
}

func toThreadView(t *models.Thread) threadView {
	return threadView{
		ID:            t.ID,
		OriginChannel: t.OriginChannel,
		Topic:         t.Topic,
		Status:        t.Status,
		Repo:          t.Repo,
		Tags:          t.TagNames(),
		CreatedAt:     t.CreatedAt,
		UpdatedAt:     t.UpdatedAt,
		ClosedAt:      t.ClosedAt,
		ArchivedAt:    t.ArchivedAt,
	}
}

// eventView is the JSON shape of a thread event.
type eventView struct {
	Sequence    int            `json:"sequence"`
	Role        string         `json:"role"`
	Content     string         `json:"content"`
	MessageType string         `json:"message_type"`
	Extras      map[string]any `json:"extras,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

func toEventView(e *models.ThreadEvent) eventView {
	return eventView{
		Sequence:    e.Sequence,
		Role:        e.Role,
		Content:     e.Content,
		MessageType: e.MessageType,
		Extras:      e.Extras,
		CreatedAt:   e.CreatedAt,
	}
}

// storeError maps store errors to HTTP responses.
func storeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "thread not found"})
	case errors.Is(err, store.ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		log.Error().Err(err).Str("path", c.FullPath()).Msg("store error")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func (s *Server) handleListThreads(c *gin.Context) {
	opts := store.ListOpts{
		Status:          c.Query("status"),
		Channel:         c.Query("channel"),
		Repo:            c.Query("repo"),
		Tag:             c.Query("tag"),
		IncludeArchived: c.Query("archived") == "true",
	}
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		opts.Limit = n
	}
	threads, err := s.store.ListConversations(c.Request.Context(), opts)
	if err != nil {
		storeError(c, err)
		return
	}
	views := make([]threadView, len(threads))
	for i := range threads {
		views[i] = toThreadView(&threads[i])
	}
	c.JSON(http.StatusOK, gin.H{"threads": views})
}

type createThreadRequest struct {
	Topic   string   `json:"topic"`
	Repo    string   `json:"repo"`
	Tags    []string `json:"tags"`
	Channel string   `json:"channel"`
}

func (s *Server) handleCreateThread(c *gin.Context) {
	var req createThreadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Channel == "" {
		req.Channel = thread.ChannelWeb
	}
	t, err := s.store.CreateConversation(c.Request.Context(), store.CreateOpts{
		Channel: req.Channel,
		Topic:   req.Topic,
		Repo:    req.Repo,
		Tags:    req.Tags,
	})
	if err != nil {
		storeError(c, err)
		return
	}
	s.publishStatus(t, "created")
	c.JSON(http.StatusCreated, toThreadView(t))
}

func (s *Server) handleGetThread(c *gin.Context) {
	t, err := s.store.GetConversation(c.Request.Context(), c.Param("id"))
	if err != nil {
		storeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toThreadView(t))
}

type updateThreadRequest struct {
	Topic *string `json:"topic"`
	Repo  *string `json:"repo"`
}

func (s *Server) handleUpdateThread(c *gin.Context) {
	var req updateThreadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx := c.Request.Context()
	id := c.Param("id")
	if err := s.store.UpdateConversation(ctx, id, store.ThreadUpdate{Topic: req.Topic, Repo: req.Repo}); err != nil {
		storeError(c, err)
		return
	}
	s.respondThread(c, id)
}

type addTagsRequest struct {
	Tags []string `json:"tags" binding:"required"`
}

func (s *Server) handleAddTags(c *gin.Context) {
	var req addTagsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	id := c.Param("id")
	if err := s.store.AddTags(c.Request.Context(), id, req.Tags); err != nil {
		storeError(c, err)
		return
	}
	s.respondThread(c, id)
}

func (s *Server) handleListEvents(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")
	if _, err := s.store.GetConversation(ctx, id); err != nil {
		storeError(c, err)
		return
	}
	var q store.MessageQuery
	if v := c.Query("after"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid after"})
			return
		}
		q.AfterSequence = n
	}
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		q.Limit = n
	}
	events, err := s.store.ListMessages(ctx, id, q)
	if err != nil {
		storeError(c, err)
		return
	}
	views := make([]eventView, len(events))
	for i := range events {
		views[i] = toEventView(&events[i])
	}
	c.JSON(http.StatusOK, gin.H{"events": views})
}

type postMessageRequest struct {
	Content string `json:"content" binding:"required"`
}

// handlePostMessage appends a user message from the web channel and queues
// an agent run for it.
func (s *Server) handlePostMessage(c *gin.Context) {
	var req postMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Content) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "content is required"})
		return
	}
	ctx := c.Request.Context()
	id := c.Param("id")
	t, err := s.store.GetConversation(ctx, id)
	if err != nil {
		storeError(c, err)
		return
	}
	ev, err := s.store.AddMessage(ctx, id, store.MessageOpts{
		Role:        store.RoleUser,
		Content:     req.Content,
		MessageType: agent.MessageTypeText,
	})
	if err != nil {
		storeError(c, err)
		return
	}

	queued := false
	// An active thread queues the run behind the current one.
	st := thread.Status(t.Status)
	if s.agent != nil && (st == thread.StatusActive || thread.CanInvoke(st)) {
		queued = s.agent.Enqueue(agent.Task{ThreadID: id, Reason: thread.ChannelWeb})
	}
	c.JSON(http.StatusAccepted, gin.H{"event": toEventView(ev), "agent_queued": queued})
}

func (s *Server) handleArchive(c *gin.Context) {
	s.lifecycle(c, "archived", s.store.ArchiveConversation)
}

func (s *Server) handleUnarchive(c *gin.Context) {
	s.lifecycle(c, "unarchived", s.store.UnarchiveConversation)
}

// handleStop cancels any agent run and returns an active thread to paused.
// Threads in any other status are left as they are.
func (s *Server) handleStop(c *gin.Context) {
	stoppedRun := false
	if s.agent != nil {
		stoppedRun = s.agent.Stop(c.Param("id"))
	}
	c.Header("X-Agent-Run-Stopped", strconv.FormatBool(stoppedRun))
	s.lifecycle(c, "stopped", func(ctx context.Context, id string) (bool, error) {
		changed, err := s.store.FinishRun(ctx, id)
		if errors.Is(err, store.ErrInvalidTransition) {
			return false, nil
		}
		return changed, err
	})
}

func (s *Server) lifecycle(c *gin.Context, reason string, apply func(ctx context.Context, id string) (bool, error)) {
	ctx := c.Request.Context()
	id := c.Param("id")
	changed, err := apply(ctx, id)
	if err != nil {
		storeError(c, err)
		return
	}
	t, err := s.store.GetConversation(ctx, id)
	if err != nil {
		storeError(c, err)
		return
	}
	if changed {
		s.publishStatus(t, reason)
	}
	c.JSON(http.StatusOK, toThreadView(t))
}

func (s *Server) respondThread(c *gin.Context, id string) {
	t, err := s.store.GetConversation(c.Request.Context(), id)
	if err != nil {
		storeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toThreadView(t))
}
