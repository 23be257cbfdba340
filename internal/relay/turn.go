package relay

import (
	"context"
	"sync"

	"github.com/chrismrutherford/mutt/internal/history"
)

// turnBuffer bounds the events queued for a caller that is not reading.
const turnBuffer = 64

type ReplyEventType string

const (
	ReplyText     ReplyEventType = "text"
	ReplyComplete ReplyEventType = "complete"
	ReplyError    ReplyEventType = "error"
)

// ReplyEvent is what the submitting caller sees of its own generation.
type ReplyEvent struct {
	Type    ReplyEventType `json:"type"`
	Content string         `json:"content,omitempty"`
	Message string         `json:"message,omitempty"`
}

// Turn is one accepted submission and the generation it started.
//
// Deliveries to the caller never block the generation. A caller that lets
// the queue fill is detached and sees Events close without a terminal event;
// Done and Wait still report the outcome.
type Turn struct {
	user history.Message

	events     chan ReplyEvent
	detached   chan struct{}
	detachOnce sync.Once
	done       chan struct{}

	// set before done is closed
	reply *history.Message
	err   error
}

func newTurn(user history.Message) *Turn {
	return &Turn{
		user:     user,
		events:   make(chan ReplyEvent, turnBuffer),
		detached: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Events is closed after the terminal complete or error event.
func (t *Turn) Events() <-chan ReplyEvent { return t.events }

// Detach stops deliveries to the caller. The generation keeps running and
// still commits its reply.
func (t *Turn) Detach() {
	t.detachOnce.Do(func() { close(t.detached) })
}

func (t *Turn) UserMessage() history.Message { return t.user }

// Done is closed when the generation has ended and the gate is released.
func (t *Turn) Done() <-chan struct{} { return t.done }

// Wait detaches from the event stream and blocks until the generation ends.
// It returns the committed reply, nil if the backend produced no text, or
// the backend error.
func (t *Turn) Wait(ctx context.Context) (*history.Message, error) {
	t.Detach()
	select {
	case <-t.done:
		return t.reply, t.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// send queues ev for the caller without waiting. It reports true when the
// queue was full and the turn has just been detached.
func (t *Turn) send(ev ReplyEvent) bool {
	select {
	case <-t.detached:
		return false
	default:
	}
	select {
	case t.events <- ev:
		return false
	default:
		t.Detach()
		return true
	}
}
