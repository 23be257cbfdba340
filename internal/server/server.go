// Package server exposes the relay over HTTP: a streaming submit endpoint,
// a server-sent event feed for viewers, read-state, clear and health.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/chrismrutherford/mutt/internal/events"
	"github.com/chrismrutherford/mutt/internal/relay"
)

type Options struct {
	Addr              string
	BasePath          string
	HeartbeatInterval time.Duration
	// SubscriberBuffer bounds each event-feed connection's queue.
	SubscriberBuffer int
	// WriteTimeout bounds each SSE frame write.
	WriteTimeout time.Duration
	// MCP, when set, is mounted at BasePath+"/mcp".
	MCP    http.Handler
	Logger *slog.Logger
}

type Server struct {
	relay     *relay.Orchestrator
	bus       *events.Bus
	opts      Options
	logger    *slog.Logger
	startTime time.Time
	server    *http.Server

	// streams are tied to baseCtx so Stop can end them
	baseCtx    context.Context
	cancelBase context.CancelFunc
}

func New(r *relay.Orchestrator, bus *events.Bus, opts Options) *Server {
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = 30 * time.Second
	}
	if opts.SubscriberBuffer <= 0 {
		opts.SubscriberBuffer = 256
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	baseCtx, cancel := context.WithCancel(context.Background())
	s := &Server{
		relay:      r,
		bus:        bus,
		opts:       opts,
		logger:     opts.Logger,
		startTime:  time.Now(),
		baseCtx:    baseCtx,
		cancelBase: cancel,
	}
	// streams are long-lived; frame writes carry their own deadline
	s.server = &http.Server{
		Addr:              opts.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return baseCtx },
	}
	return s
}

// Handler returns the route table.
func (s *Server) Handler() http.Handler {
	base := s.opts.BasePath
	mux := http.NewServeMux()
	mux.HandleFunc("POST "+base+"/api/chat", s.handleChat)
	mux.HandleFunc("GET "+base+"/api/events", s.handleEvents)
	mux.HandleFunc("GET "+base+"/api/messages", s.handleMessages)
	mux.HandleFunc("DELETE "+base+"/api/messages", s.handleClear)
	mux.HandleFunc("GET "+base+"/api/health", s.handleHealth)
	if s.opts.MCP != nil {
		mux.Handle(base+"/mcp", s.opts.MCP)
		mux.Handle(base+"/mcp/", s.opts.MCP)
	}
	return mux
}

// Start serves until Stop is called.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.opts.Addr, "base_path", s.opts.BasePath)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop ends open streams and waits for handlers to return, up to ctx.
func (s *Server) Stop(ctx context.Context) error {
	s.cancelBase()
	return s.server.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	state := s.relay.State()
	var streaming any
	if cur := state.CurrentStreaming; cur != nil {
		streaming = map[string]string{"id": cur.ID, "content": cur.Content}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"messages":         state.Messages,
		"isProcessing":     state.IsProcessing,
		"currentStreaming": streaming,
	})
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	err := s.relay.Clear(r.Context())
	switch {
	case errors.Is(err, relay.ErrBusy):
		writeError(w, http.StatusTooManyRequests, err.Error())
		return
	case err != nil:
		// memory is already cleared
		s.logger.Warn("clear not persisted", "error", err)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	state := s.relay.State()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "healthy",
		"timestamp":    time.Now().UTC().Format(time.RFC3339),
		"processId":    os.Getpid(),
		"uptime":       int(time.Since(s.startTime).Seconds()),
		"messageCount": len(state.Messages),
		"isProcessing": state.IsProcessing,
		"hasStreaming": state.CurrentStreaming != nil,
		"words":        state.Words,
		"maxWords":     state.MaxWords,
		"viewers":      s.bus.SubscriberCount(events.StreamingContent),
		"goVersion":    runtime.Version(),
	})
}
