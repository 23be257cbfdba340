// Package relay runs the conversation: it validates submissions, admits one
// generation at a time, streams the reply to the submitter and to every
// subscriber, and commits both sides of each turn to the log.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/chrismrutherford/mutt/internal/events"
	"github.com/chrismrutherford/mutt/internal/history"
	"github.com/chrismrutherford/mutt/internal/llm"
	"github.com/chrismrutherford/mutt/internal/streaming"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrBusy         = errors.New("AI is currently processing another message")
)

const DefaultMaxChars = 2000

// Submission is a message offered to the relay.
type Submission struct {
	Message string `json:"message"`
	UserID  string `json:"userId,omitempty"`
}

type Options struct {
	// MaxChars caps the trimmed message length in characters.
	MaxChars int
	// SystemPrompt is rendered ahead of the log in every prompt.
	SystemPrompt string
	Logger       *slog.Logger
}

type Orchestrator struct {
	log     *history.Log
	bus     *events.Bus
	session *streaming.Session
	source  llm.CompletionSource
	gate    Gate

	maxChars     int
	systemPrompt string
	logger       *slog.Logger

	// mu makes log commits and session transitions atomic for State.
	mu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewOrchestrator(log *history.Log, bus *events.Bus, session *streaming.Session, source llm.CompletionSource, opts Options) *Orchestrator {
	if opts.MaxChars <= 0 {
		opts.MaxChars = DefaultMaxChars
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	if session == nil {
		session = streaming.NewSession()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		log:          log,
		bus:          bus,
		session:      session,
		source:       source,
		maxChars:     opts.MaxChars,
		systemPrompt: opts.SystemPrompt,
		logger:       opts.Logger,
		ctx:          ctx,
		cancel:       cancel,
	}
}

func (o *Orchestrator) validate(raw string) (string, error) {
	content := strings.TrimSpace(raw)
	if content == "" {
		return "", fmt.Errorf("%w: message is empty", ErrInvalidInput)
	}
	if n := utf8.RuneCountInString(content); n > o.maxChars {
		return "", fmt.Errorf("%w: message is %d characters, limit is %d", ErrInvalidInput, n, o.maxChars)
	}
	return content, nil
}

// Submit commits the user message and starts the generation. It fails fast
// with ErrInvalidInput or ErrBusy and changes nothing in that case. The
// generation outlives ctx; ctx only bounds the write of the user message.
func (o *Orchestrator) Submit(ctx context.Context, sub Submission) (*Turn, error) {
	content, err := o.validate(sub.Message)
	if err != nil {
		return nil, err
	}
	if !o.gate.TryAcquire() {
		return nil, ErrBusy
	}

	o.mu.Lock()
	user, removed, err := o.log.Append(context.WithoutCancel(ctx), history.RoleUser, content, sub.UserID)
	o.mu.Unlock()
	if err != nil {
		o.logger.Warn("user message not persisted", "id", user.ID, "error", err)
	}
	o.bus.Publish(events.NewMessage, user)
	o.publishTrimmed(removed)
	o.bus.Publish(events.ProcessingStateChanged, true)

	msgs := o.log.List()
	prompt := llm.BuildPrompt(o.systemPrompt, msgs)
	o.logger.Info("generation started",
		"user_message", user.ID,
		"user", sub.UserID,
		"messages", len(msgs),
		"words", o.log.TotalWords(),
		"prompt_tokens", llm.EstimateTokens(prompt),
	)

	turn := newTurn(user)
	o.wg.Add(1)
	go o.generate(turn, prompt)
	return turn, nil
}

func (o *Orchestrator) generate(turn *Turn, prompt string) {
	defer o.wg.Done()
	started := time.Now()

	o.mu.Lock()
	replyID := o.session.Start()
	o.mu.Unlock()

	var failure error
	fragments := 0
	for frag, err := range o.source.StreamCompletion(o.ctx, prompt) {
		if err != nil {
			failure = err
			break
		}
		fragments++
		o.session.Append(frag)
		o.bus.Publish(events.StreamingContent, frag)
		o.deliver(turn, replyID, ReplyEvent{Type: ReplyText, Content: frag})
	}

	var (
		reply   *history.Message
		removed []history.Message
	)
	o.mu.Lock()
	if failure != nil {
		o.session.Discard()
	} else if msg := o.session.Finish(); msg != nil {
		committed, trimmed, err := o.log.Commit(context.WithoutCancel(o.ctx), *msg)
		if err != nil {
			o.logger.Warn("assistant message not persisted", "id", committed.ID, "error", err)
		}
		reply, removed = &committed, trimmed
	}
	o.mu.Unlock()

	if reply != nil {
		o.bus.Publish(events.NewMessage, *reply)
		o.publishTrimmed(removed)
	}

	turn.reply, turn.err = reply, failure
	o.gate.Release()
	o.bus.Publish(events.ProcessingStateChanged, false)

	if failure != nil {
		o.logger.Error("generation failed",
			"reply", replyID,
			"fragments", fragments,
			"duration", time.Since(started),
			"error", failure,
		)
		o.deliver(turn, replyID, ReplyEvent{Type: ReplyError, Message: failure.Error()})
	} else {
		o.logger.Info("generation finished",
			"reply", replyID,
			"fragments", fragments,
			"committed", reply != nil,
			"duration", time.Since(started),
		)
		o.deliver(turn, replyID, ReplyEvent{Type: ReplyComplete})
	}
	close(turn.events)
	close(turn.done)
}

func (o *Orchestrator) deliver(turn *Turn, replyID string, ev ReplyEvent) {
	if turn.send(ev) {
		o.logger.Warn("submitter fell behind, detaching", "reply", replyID, "buffer", turnBuffer)
	}
}

func (o *Orchestrator) publishTrimmed(removed []history.Message) {
	if len(removed) == 0 {
		return
	}
	ids := make([]string, len(removed))
	for i, m := range removed {
		ids[i] = m.ID
	}
	o.bus.Publish(events.MessagesTrimmed, ids)
}

// Snapshot is the state a newly joining client reconciles against.
type Snapshot struct {
	Messages         []history.Message  `json:"messages"`
	IsProcessing     bool               `json:"isProcessing"`
	CurrentStreaming *streaming.Message `json:"currentStreaming"`

	// word budget usage
	Words    int `json:"-"`
	MaxWords int `json:"-"`
}

func (o *Orchestrator) State() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	s := Snapshot{
		Messages:     o.log.List(),
		IsProcessing: o.gate.Busy(),
		Words:        o.log.TotalWords(),
		MaxWords:     o.log.MaxWords(),
	}
	if s.Messages == nil {
		s.Messages = []history.Message{}
	}
	if cur, ok := o.session.Current(); ok {
		s.CurrentStreaming = &cur
	}
	return s
}

func (o *Orchestrator) IsProcessing() bool { return o.gate.Busy() }

// Clear empties the log. It is refused with ErrBusy while a generation runs.
// A persistence error is returned after memory has been cleared and the
// cleared event published.
func (o *Orchestrator) Clear(ctx context.Context) error {
	if !o.gate.TryAcquire() {
		return ErrBusy
	}
	defer o.gate.Release()

	o.mu.Lock()
	err := o.log.Clear(ctx)
	o.mu.Unlock()

	o.bus.Publish(events.Cleared, nil)
	return err
}

// Close cancels any generation in flight and waits for it to wind down, or
// for ctx to expire.
func (o *Orchestrator) Close(ctx context.Context) error {
	o.cancel()
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
