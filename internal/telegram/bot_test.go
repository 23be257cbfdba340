package telegram

import (
	"context"
	"iter"
	"strings"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/chrismrutherford/mutt/internal/events"
	"github.com/chrismrutherford/mutt/internal/history"
	"github.com/chrismrutherford/mutt/internal/relay"
)

type sentMessage struct {
	chatID int64
	text   string
}

type fakeSender struct{ sent []sentMessage }

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	sw := c.(tgbotapi.MessageConfig)
	f.sent = append(f.sent, sentMessage{sw.ChatID, sw.Text})
	return tgbotapi.Message{}, nil
}

type replySource struct {
	reply string
	hold  chan struct{}
}

func (s replySource) StreamCompletion(ctx context.Context, _ string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		if s.hold != nil {
			<-s.hold
		}
		yield(s.reply, nil)
	}
}

func newTestBot(t *testing.T, src replySource) (*Bot, *fakeSender, *relay.Orchestrator) {
	t.Helper()
	bus := events.NewBus(nil)
	o := relay.NewOrchestrator(history.NewLog(nil, 0, nil), bus, nil, src, relay.Options{})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = o.Close(ctx)
	})
	fs := &fakeSender{}
	b := newBot(fs, o, bus, []int64{100, 200}, 999, nil)
	sub := bus.Subscribe(events.NewMessage, b.onNewMessage)
	t.Cleanup(sub.Unsubscribe)
	return b, fs, o
}

// flush delivers everything queued so far.
func flush(b *Bot) {
	for {
		select {
		case out := <-b.outbox:
			b.deliver(out)
		default:
			return
		}
	}
}

func incoming(chatID, userID int64, text string) *tgbotapi.Message {
	return &tgbotapi.Message{From: &tgbotapi.User{ID: userID}, Chat: &tgbotapi.Chat{ID: chatID}, Text: text}
}

func waitIdle(t *testing.T, o *relay.Orchestrator) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for o.IsProcessing() {
		if time.Now().After(deadline) {
			t.Fatalf("relay still processing")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestIncomingMessageJoinsConversation(t *testing.T) {
	b, fs, o := newTestBot(t, replySource{reply: "hi all"})

	turn := b.submit(context.Background(), 100, &tgbotapi.User{ID: 42}, "hello")
	if turn == nil {
		t.Fatalf("submission rejected")
	}
	<-turn.Done()
	flush(b)

	msgs := o.State().Messages
	if len(msgs) != 2 || msgs[0].UserID != "tg:42" {
		t.Fatalf("log = %+v", msgs)
	}
	// user message mirrored only to the other chat, reply to both
	want := []sentMessage{{200, "tg:42: hello"}, {100, "hi all"}, {200, "hi all"}}
	if len(fs.sent) != len(want) {
		t.Fatalf("sent = %+v", fs.sent)
	}
	for i := range want {
		if fs.sent[i] != want[i] {
			t.Fatalf("sent[%d] = %+v, want %+v", i, fs.sent[i], want[i])
		}
	}
}

func TestUnknownChatIgnored(t *testing.T) {
	b, fs, o := newTestBot(t, replySource{reply: "x"})
	b.handleIncomingMessage(context.Background(), incoming(555, 1, "hello"))
	flush(b)
	if len(fs.sent) != 0 || len(o.State().Messages) != 0 {
		t.Fatalf("message from unknown chat must be ignored")
	}
}

func TestBusyAnsweredInChat(t *testing.T) {
	hold := make(chan struct{})
	b, fs, o := newTestBot(t, replySource{reply: "x", hold: hold})

	if b.submit(context.Background(), 100, &tgbotapi.User{ID: 1}, "first") == nil {
		t.Fatalf("first submission rejected")
	}
	if b.submit(context.Background(), 200, &tgbotapi.User{ID: 2}, "second") != nil {
		t.Fatalf("second submission must be busy")
	}
	flush(b)
	found := false
	for _, m := range fs.sent {
		if m.chatID == 200 && strings.Contains(m.text, "another message") {
			found = true
		}
	}
	if !found {
		t.Fatalf("busy notice not sent: %+v", fs.sent)
	}
	close(hold)
	waitIdle(t, o)
}

func TestHistoryAndStatusCommands(t *testing.T) {
	b, fs, o := newTestBot(t, replySource{reply: "pong"})
	turn := b.submit(context.Background(), 100, &tgbotapi.User{ID: 7}, "ping")
	<-turn.Done()
	waitIdle(t, o)
	flush(b)
	fs.sent = nil

	cmd := func(text string) *tgbotapi.Message {
		m := incoming(100, 7, text)
		m.Entities = []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(text)}}
		return m
	}
	b.handleIncomingMessage(context.Background(), cmd("/history"))
	b.handleIncomingMessage(context.Background(), cmd("/status"))
	flush(b)

	if len(fs.sent) != 2 {
		t.Fatalf("sent = %+v", fs.sent)
	}
	if !strings.Contains(fs.sent[0].text, "tg:7: ping") || !strings.Contains(fs.sent[0].text, "assistant: pong") {
		t.Fatalf("history = %q", fs.sent[0].text)
	}
	if !strings.Contains(fs.sent[1].text, "idle") || !strings.Contains(fs.sent[1].text, "Words: 2/0") {
		t.Fatalf("status = %q", fs.sent[1].text)
	}
}

func TestSendReportGoesToAdmin(t *testing.T) {
	b, fs, _ := newTestBot(t, replySource{})
	b.SendReport("daily")
	flush(b)
	if len(fs.sent) != 1 || fs.sent[0].chatID != 999 {
		t.Fatalf("sent = %+v", fs.sent)
	}
}

func TestSplitMessage(t *testing.T) {
	if parts := splitMessage("short"); len(parts) != 1 {
		t.Fatalf("parts = %d", len(parts))
	}
	long := strings.Repeat(strings.Repeat("x", 99)+"\n", 90)
	parts := splitMessage(long)
	if len(parts) < 3 || strings.Join(parts, "") != long {
		t.Fatalf("split lost content: %d parts", len(parts))
	}
	for _, p := range parts {
		if len([]rune(p)) > maxMessageLen {
			t.Fatalf("part too long: %d", len(p))
		}
	}
}
