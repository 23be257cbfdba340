// Package events is the in-process publish/subscribe hub that keeps every
// viewer in step with the conversation log and the generation in flight.
//
// Delivery is synchronous and in subscription order. There is no buffering
// or replay: a subscriber that joins late must read current state from the
// relay before relying on events.
package events

import (
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
)

type Channel string

const (
	// NewMessage carries a committed history.Message.
	NewMessage Channel = "newMessage"
	// ProcessingStateChanged carries a bool.
	ProcessingStateChanged Channel = "processingStateChanged"
	// StreamingContent carries one fragment (string) of the reply in flight.
	StreamingContent Channel = "streamingContent"
	// MessagesTrimmed carries the ids ([]string) dropped from the log head.
	MessagesTrimmed Channel = "messagesTrimmed"
	// Cleared carries no payload.
	Cleared Channel = "cleared"
)

// Channels lists every channel the relay publishes on.
var Channels = []Channel{NewMessage, ProcessingStateChanged, StreamingContent, MessagesTrimmed, Cleared}

type Event struct {
	Channel Channel
	Payload any
}

// Handler receives events. A returned error is logged and never reaches the
// publisher.
type Handler func(Event) error

type subscriber struct {
	id      uint64
	handler Handler
	active  atomic.Bool
}

type Bus struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[Channel][]*subscriber
	logger *slog.Logger
}

func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Bus{
		subs:   make(map[Channel][]*subscriber),
		logger: logger,
	}
}

// Subscription is a handle returned by Subscribe.
type Subscription struct {
	bus     *Bus
	channel Channel
	sub     *subscriber
	once    sync.Once
}

// Subscribe registers handler on channel.
func (b *Bus) Subscribe(channel Channel, handler Handler) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	sub := &subscriber{id: b.nextID, handler: handler}
	sub.active.Store(true)
	b.subs[channel] = append(b.subs[channel], sub)
	return &Subscription{bus: b, channel: channel, sub: sub}
}

// Unsubscribe removes the handler. It is idempotent and safe to call from
// inside a handler, including during delivery on the same channel.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		s.sub.active.Store(false)
		s.bus.remove(s.channel, s.sub.id)
	})
}

func (b *Bus) remove(channel Channel, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[channel]
	kept := make([]*subscriber, 0, len(subs))
	for _, s := range subs {
		if s.id != id {
			kept = append(kept, s)
		}
	}
	if len(kept) == 0 {
		delete(b.subs, channel)
		return
	}
	b.subs[channel] = kept
}

// Publish delivers payload to every current subscriber of channel and
// returns once all of them ran. Handler errors and panics are logged.
func (b *Bus) Publish(channel Channel, payload any) {
	b.mu.RLock()
	subs := b.subs[channel]
	b.mu.RUnlock()

	ev := Event{Channel: channel, Payload: payload}
	for _, s := range subs {
		if !s.active.Load() {
			continue
		}
		if err := b.deliver(s, ev); err != nil {
			b.logger.Warn("event handler failed", "channel", channel, "subscriber", s.id, "error", err)
		}
	}
}

func (b *Bus) deliver(s *subscriber, ev Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			b.logger.Error("event handler panicked",
				"channel", ev.Channel,
				"subscriber", s.id,
				"panic", r,
				"stack", string(debug.Stack()),
			)
		}
	}()
	return s.handler(ev)
}

func (b *Bus) SubscriberCount(channel Channel) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[channel])
}
