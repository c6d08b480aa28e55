// Package server exposes the webhook endpoint, the thread API and the live
// event stream over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gigiforge/gigi/internal/agent"
	"github.com/gigiforge/gigi/internal/bus"
	"github.com/gigiforge/gigi/internal/models"
	"github.com/gigiforge/gigi/internal/store"
	"github.com/gigiforge/gigi/internal/webhook"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// defaultHeartbeat is the SSE keep-alive interval.
const defaultHeartbeat = 15 * time.Second

// maxPayload bounds webhook request bodies.
const maxPayload = 25 << 20

// ThreadStore is the slice of the thread store the API needs.
type ThreadStore interface {
	CreateConversation(ctx context.Context, opts store.CreateOpts) (*models.Thread, error)
	GetConversation(ctx context.Context, id string) (*models.Thread, error)
	UpdateConversation(ctx context.Context, id string, u store.ThreadUpdate) error
	ListConversations(ctx context.Context, opts store.ListOpts) ([]models.Thread, error)
	AddTags(ctx context.Context, id string, tags []string) error
	AddMessage(ctx context.Context, id string, opts store.MessageOpts) (*models.ThreadEvent, error)
	ListMessages(ctx context.Context, id string, q store.MessageQuery) ([]models.ThreadEvent, error)
	FinishRun(ctx context.Context, id string) (bool, error)
	ArchiveConversation(ctx context.Context, id string) (bool, error)
	UnarchiveConversation(ctx context.Context, id string) (bool, error)
}

// EventRouter routes verified webhook deliveries.
type EventRouter interface {
	Route(ctx context.Context, eventType string, payload []byte, deliveryID string) (*webhook.RouteResult, error)
}

// AgentControl queues and cancels agent runs.
type AgentControl interface {
	Enqueue(task agent.Task) bool
	Stop(threadID string) bool
}

// Server is the HTTP front end.
type Server struct {
	store     ThreadStore
	router    EventRouter
	bus       *bus.Bus
	agent     AgentControl
	secret    string
	unsigned  bool
	heartbeat time.Duration
	engine    *gin.Engine
}

// Opts holds parameters for creating a Server.
type Opts struct {
	Store  ThreadStore // required
	Router EventRouter // required
	Bus    *bus.Bus    // required
	Agent  AgentControl
	// Secret is the webhook HMAC secret. An empty secret is accepted only
	// with AllowUnsigned.
	Secret        string
	AllowUnsigned bool
	Heartbeat     time.Duration
}

// New creates a Server and registers its routes.
func New(opts Opts) (*Server, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("server: store is required")
	}
	if opts.Router == nil {
		return nil, fmt.Errorf("server: router is required")
	}
	if opts.Bus == nil {
		return nil, fmt.Errorf("server: bus is required")
	}
	if opts.Secret == "" && !opts.AllowUnsigned {
		return nil, fmt.Errorf("server: webhook secret is required (set webhook.allow_unsigned to run without one)")
	}
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = defaultHeartbeat
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), requestLogger())

	s := &Server{
		store:     opts.Store,
		router:    opts.Router,
		bus:       opts.Bus,
		agent:     opts.Agent,
		secret:    opts.Secret,
		unsigned:  opts.Secret == "",
		heartbeat: opts.Heartbeat,
		engine:    engine,
	}
	s.registerRoutes()
	return s, nil
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start serves on addr. It blocks until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Info().Str("addr", addr).Bool("unsigned", s.unsigned).Msg("http server listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: %w", err)
	}
	return nil
}

func (s *Server) registerRoutes() {
	r := s.engine
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.POST("/webhook", s.handleWebhook)

	api := r.Group("/api")
	api.GET("/events", s.handleSSE)
	api.GET("/threads", s.handleListThreads)
	api.POST("/threads", s.handleCreateThread)
	api.GET("/threads/:id", s.handleGetThread)
	api.PATCH("/threads/:id", s.handleUpdateThread)
	api.GET("/threads/:id/events", s.handleListEvents)
	api.POST("/threads/:id/messages", s.handlePostMessage)
	api.POST("/threads/:id/tags", s.handleAddTags)
	api.POST("/threads/:id/archive", s.handleArchive)
	api.POST("/threads/:id/unarchive", s.handleUnarchive)
	api.POST("/threads/:id/stop", s.handleStop)
}

// requestLogger logs each request at debug level.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("http request")
	}
}

func (s *Server) publishStatus(t *models.Thread, reason string) {
	s.bus.Publish(bus.Event{
		Type:     bus.ThreadStatus,
		ThreadID: t.ID,
		Data:     map[string]any{"status": t.Status, "reason": reason},
	})
}
