// Package telegram bridges configured Telegram chats into the shared
// conversation: chat members post into the relay and every committed message
// is mirrored back to the chats.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/chrismrutherford/mutt/internal/events"
	"github.com/chrismrutherford/mutt/internal/history"
	"github.com/chrismrutherford/mutt/internal/relay"
)

const (
	userIDPrefix = "tg:"
	outboxSize   = 256
	historyLimit = 10
)

type outgoing struct {
	chatID int64
	text   string
}

type Bot struct {
	api       *tgbotapi.BotAPI
	s         sender
	relay     *relay.Orchestrator
	bus       *events.Bus
	chatIDs   []int64
	allowed   map[int64]bool
	adminChat int64
	logger    *slog.Logger

	outbox chan outgoing

	mu sync.Mutex
	// chat each Telegram user last wrote from, so their own message is not
	// echoed back there
	lastChat map[string]int64
}

func New(botToken string, r *relay.Orchestrator, bus *events.Bus, chatIDs []int64, adminChat int64, logger *slog.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, err
	}
	b := newBot(botAPISender{api: api}, r, bus, chatIDs, adminChat, logger)
	b.api = api
	return b, nil
}

func newBot(s sender, r *relay.Orchestrator, bus *events.Bus, chatIDs []int64, adminChat int64, logger *slog.Logger) *Bot {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	allowed := make(map[int64]bool, len(chatIDs))
	for _, id := range chatIDs {
		allowed[id] = true
	}
	return &Bot{
		s:         s,
		relay:     r,
		bus:       bus,
		chatIDs:   chatIDs,
		allowed:   allowed,
		adminChat: adminChat,
		logger:    logger,
		outbox:    make(chan outgoing, outboxSize),
		lastChat:  make(map[string]int64),
	}
}

// Start mirrors the conversation into the chats and serves updates until ctx
// is done.
func (b *Bot) Start(ctx context.Context) {
	sub := b.bus.Subscribe(events.NewMessage, b.onNewMessage)
	defer sub.Unsubscribe()

	go b.runOutbox(ctx)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := b.api.GetUpdatesChan(u)
	defer b.api.StopReceivingUpdates()

	b.logger.Info("telegram bridge started", "bot", b.api.Self.UserName, "chats", len(b.chatIDs))
	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			if update.Message != nil {
				b.handleIncomingMessage(ctx, update.Message)
			}
		}
	}
}

func (b *Bot) runOutbox(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case out := <-b.outbox:
			b.deliver(out)
		}
	}
}

func (b *Bot) deliver(out outgoing) {
	for _, part := range splitMessage(out.text) {
		if _, err := b.s.Send(tgbotapi.NewMessage(out.chatID, part)); err != nil {
			b.logger.Warn("failed to send telegram message", "chat", out.chatID, "error", err)
			return
		}
	}
}

// enqueue never blocks the caller, which may be a bus publisher.
func (b *Bot) enqueue(chatID int64, text string) {
	select {
	case b.outbox <- outgoing{chatID: chatID, text: text}:
	default:
		b.logger.Warn("telegram outbox full, dropping message", "chat", chatID)
	}
}

func (b *Bot) onNewMessage(ev events.Event) error {
	msg, ok := ev.Payload.(history.Message)
	if !ok {
		return fmt.Errorf("unexpected payload %T", ev.Payload)
	}
	text := msg.Content
	skip := int64(0)
	if msg.Role == history.RoleUser {
		text = authorOf(msg) + ": " + msg.Content
		if strings.HasPrefix(msg.UserID, userIDPrefix) {
			b.mu.Lock()
			skip = b.lastChat[msg.UserID]
			b.mu.Unlock()
		}
	}
	for _, id := range b.chatIDs {
		if id != skip {
			b.enqueue(id, text)
		}
	}
	return nil
}

func authorOf(m history.Message) string {
	if m.UserID == "" {
		return "anonymous"
	}
	return m.UserID
}

func (b *Bot) handleIncomingMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.Chat == nil || !b.allowed[msg.Chat.ID] {
		if msg.Chat != nil {
			b.logger.Info("ignoring message from unknown chat", "chat", msg.Chat.ID)
		}
		return
	}
	if msg.IsCommand() {
		b.handleCommand(msg)
		return
	}
	if strings.TrimSpace(msg.Text) == "" || msg.From == nil {
		return
	}
	b.submit(ctx, msg.Chat.ID, msg.From, msg.Text)
}

// submit posts text into the relay. The reply reaches the chats through the
// bus; only failures are answered directly.
func (b *Bot) submit(ctx context.Context, chatID int64, from *tgbotapi.User, text string) *relay.Turn {
	userID := userIDPrefix + strconv.FormatInt(from.ID, 10)

	b.mu.Lock()
	b.lastChat[userID] = chatID
	b.mu.Unlock()

	turn, err := b.relay.Submit(ctx, relay.Submission{Message: text, UserID: userID})
	switch {
	case errors.Is(err, relay.ErrBusy):
		b.enqueue(chatID, "⏳ The assistant is answering another message, try again in a moment.")
		return nil
	case errors.Is(err, relay.ErrInvalidInput):
		b.enqueue(chatID, "⚠️ "+err.Error())
		return nil
	case err != nil:
		b.logger.Error("telegram submit failed", "user", userID, "error", err)
		b.enqueue(chatID, "Sorry, something went wrong.")
		return nil
	}
	b.logger.Info("telegram message submitted", "user", userID, "chat", chatID)

	turn.Detach()
	go func() {
		if _, err := turn.Wait(context.Background()); err != nil {
			b.logger.Warn("telegram turn failed", "user", userID, "error", err)
			b.enqueue(chatID, "Sorry, something went wrong.")
		}
	}()
	return turn
}

func (b *Bot) handleCommand(msg *tgbotapi.Message) {
	switch msg.Command() {
	case "start", "help":
		b.enqueue(msg.Chat.ID, "Messages you write here join the shared conversation.\n/history shows the latest messages, /status shows whether the assistant is busy.")
	case "history":
		b.enqueue(msg.Chat.ID, formatHistory(b.relay.State().Messages, historyLimit))
	case "status":
		state := b.relay.State()
		status := "idle"
		if state.IsProcessing {
			status = "answering"
		}
		b.enqueue(msg.Chat.ID, fmt.Sprintf("Assistant: %s\nMessages in log: %d\nWords: %d/%d", status, len(state.Messages), state.Words, state.MaxWords))
	}
}

func formatHistory(msgs []history.Message, limit int) string {
	if len(msgs) == 0 {
		return "The conversation is empty."
	}
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	var sb strings.Builder
	for i, m := range msgs {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		author := "🤖 assistant"
		if m.Role == history.RoleUser {
			author = "👤 " + authorOf(m)
		}
		sb.WriteString(author + ": " + m.Content)
	}
	return sb.String()
}

// SendReport posts text to the admin chat. It is a no-op without one.
func (b *Bot) SendReport(text string) {
	if b.adminChat == 0 {
		return
	}
	b.enqueue(b.adminChat, text)
}
