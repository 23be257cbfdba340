package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chrismrutherford/mutt/internal/events"
	"github.com/chrismrutherford/mutt/internal/relay"
)

const maxRequestBytes = 64 << 10

// stream writes SSE frames, each bounded by a write deadline so a peer that
// stops reading cannot hold the handler.
type stream struct {
	w       http.ResponseWriter
	flusher http.Flusher
	rc      *http.ResponseController
	timeout time.Duration
}

func (s *Server) startSSE(w http.ResponseWriter) (*stream, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return nil, false
	}
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return &stream{w: w, flusher: flusher, rc: http.NewResponseController(w), timeout: s.opts.WriteTimeout}, true
}

func (st *stream) write(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	// writers without deadline support return ErrNotSupported
	_ = st.rc.SetWriteDeadline(time.Now().Add(st.timeout))
	if _, err := fmt.Fprintf(st.w, "data: %s\n\n", b); err != nil {
		return err
	}
	st.flusher.Flush()
	return nil
}

// close clears the deadline before the connection is reused.
func (st *stream) close() {
	_ = st.rc.SetWriteDeadline(time.Time{})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var sub relay.Submission
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&sub); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON request: "+err.Error())
		return
	}
	turn, err := s.relay.Submit(r.Context(), sub)
	switch {
	case errors.Is(err, relay.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, relay.ErrBusy):
		writeError(w, http.StatusTooManyRequests, err.Error())
		return
	case err != nil:
		s.logger.Error("submit failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	defer turn.Detach()

	st, ok := s.startSSE(w)
	if !ok {
		return
	}
	defer st.close()
	for {
		select {
		case <-r.Context().Done():
			s.logger.Info("submitter disconnected", "user_message", turn.UserMessage().ID)
			return
		case ev, open := <-turn.Events():
			if !open {
				return
			}
			if ev.Type == relay.ReplyError {
				ev.Message = "Error processing request: " + ev.Message
			}
			if err := st.write(ev); err != nil {
				s.logger.Info("submitter stream closed", "error", err)
				return
			}
		}
	}
}

type feedFrame struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

func toFrame(ev events.Event) feedFrame {
	f := feedFrame{Type: string(ev.Channel)}
	switch ev.Channel {
	case events.ProcessingStateChanged:
		f.Data = map[string]any{"isProcessing": ev.Payload}
	case events.StreamingContent:
		f.Data = map[string]any{"content": ev.Payload}
	case events.MessagesTrimmed:
		f.Data = map[string]any{"ids": ev.Payload}
	case events.Cleared:
		f.Data = map[string]any{}
	default:
		f.Data = ev.Payload
	}
	return f
}

func stamp(kind string) feedFrame {
	return feedFrame{Type: kind, Data: map[string]int64{"timestamp": time.Now().UnixMilli()}}
}

// handleEvents streams bus events to one viewer. Publishing never waits on
// the connection: frames go through a bounded queue and a viewer that falls
// behind is disconnected and must reload state.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	st, ok := s.startSSE(w)
	if !ok {
		return
	}
	defer st.close()

	queue := make(chan feedFrame, s.opts.SubscriberBuffer)
	overflow := make(chan struct{})
	var overflowOnce sync.Once

	subs := make([]*events.Subscription, 0, len(events.Channels))
	for _, ch := range events.Channels {
		subs = append(subs, s.bus.Subscribe(ch, func(ev events.Event) error {
			select {
			case queue <- toFrame(ev):
			default:
				overflowOnce.Do(func() { close(overflow) })
			}
			return nil
		}))
	}
	defer func() {
		for _, sub := range subs {
			sub.Unsubscribe()
		}
		s.logger.Info("viewer left", "remote", r.RemoteAddr)
	}()
	s.logger.Info("viewer joined", "remote", r.RemoteAddr)

	if err := st.write(stamp("connected")); err != nil {
		return
	}

	heartbeat := time.NewTicker(s.opts.HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-overflow:
			s.logger.Warn("viewer fell behind, closing feed", "remote", r.RemoteAddr, "buffer", s.opts.SubscriberBuffer)
			return
		case f := <-queue:
			if err := st.write(f); err != nil {
				return
			}
		case <-heartbeat.C:
			if err := st.write(stamp("heartbeat")); err != nil {
				return
			}
		}
	}
}
