// Package mcpserver exposes the chat relay as MCP tools so that agents can
// read the conversation and take part in it.
package mcpserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/chrismrutherford/mutt/internal/analytics"
	"github.com/chrismrutherford/mutt/internal/relay"
)

const defaultReplyTimeout = 5 * time.Minute

// ChatMCPServer implements the MCP tool handlers over a relay.
type ChatMCPServer struct {
	relay        *relay.Orchestrator
	replyTimeout time.Duration
	logger       *slog.Logger
}

func NewChatMCPServer(r *relay.Orchestrator, logger *slog.Logger) *ChatMCPServer {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &ChatMCPServer{relay: r, replyTimeout: defaultReplyTimeout, logger: logger}
}

// NewServer registers the chat tools on a fresh MCP server.
func NewServer(s *ChatMCPServer, version string) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    "mutt-chat",
		Version: version,
	}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "chat_get_messages",
		Description: "Returns the shared conversation log, oldest message first",
	}, s.GetMessages)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "chat_status",
		Description: "Reports whether a reply is being generated and the size of the log",
	}, s.Status)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "chat_send_message",
		Description: "Posts a message to the shared conversation and waits for the assistant's reply. Parameters: message (required), user_id (optional)",
	}, s.SendMessage)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "chat_daily_report",
		Description: "Returns activity statistics for one UTC day as JSON. Parameters: date (optional, YYYY-MM-DD, defaults to today)",
	}, s.DailyReport)

	return server
}

// Handler serves the tools over the SSE transport.
func Handler(server *mcp.Server) http.Handler {
	return mcp.NewSSEHandler(func(*http.Request) *mcp.Server { return server })
}

func textResult(text string, isError bool, meta map[string]any) *mcp.CallToolResultFor[any] {
	return &mcp.CallToolResultFor[any]{
		IsError: isError,
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
		Meta:    meta,
	}
}

func (s *ChatMCPServer) GetMessages(ctx context.Context, session *mcp.ServerSession, params *mcp.CallToolParamsFor[map[string]interface{}]) (*mcp.CallToolResultFor[any], error) {
	state := s.relay.State()
	if len(state.Messages) == 0 {
		return textResult("The conversation is empty.", false, map[string]any{"count": 0}), nil
	}
	var b strings.Builder
	for _, m := range state.Messages {
		author := string(m.Role)
		if m.UserID != "" {
			author += " (" + m.UserID + ")"
		}
		fmt.Fprintf(&b, "[%s] %s: %s\n", m.Timestamp.UTC().Format(time.RFC3339), author, m.Content)
	}
	if cur := state.CurrentStreaming; cur != nil {
		fmt.Fprintf(&b, "[streaming] assistant: %s\n", cur.Content)
	}
	return textResult(b.String(), false, map[string]any{"count": len(state.Messages)}), nil
}

func (s *ChatMCPServer) Status(ctx context.Context, session *mcp.ServerSession, params *mcp.CallToolParamsFor[map[string]interface{}]) (*mcp.CallToolResultFor[any], error) {
	state := s.relay.State()
	status := "idle"
	if state.IsProcessing {
		status = "processing"
	}
	text := fmt.Sprintf("Status: %s\nMessages: %d\nWords: %d/%d", status, len(state.Messages), state.Words, state.MaxWords)
	return textResult(text, false, map[string]any{
		"isProcessing": state.IsProcessing,
		"messageCount": len(state.Messages),
		"words":        state.Words,
		"maxWords":     state.MaxWords,
	}), nil
}

func (s *ChatMCPServer) SendMessage(ctx context.Context, session *mcp.ServerSession, params *mcp.CallToolParamsFor[map[string]interface{}]) (*mcp.CallToolResultFor[any], error) {
	args := params.Arguments
	message, _ := args["message"].(string)
	userID, _ := args["user_id"].(string)
	if userID == "" {
		userID = "mcp"
	}

	turn, err := s.relay.Submit(ctx, relay.Submission{Message: message, UserID: userID})
	if errors.Is(err, relay.ErrInvalidInput) || errors.Is(err, relay.ErrBusy) {
		return textResult(err.Error(), true, nil), nil
	}
	if err != nil {
		return nil, err
	}

	waitCtx, cancel := context.WithTimeout(ctx, s.replyTimeout)
	defer cancel()
	reply, err := turn.Wait(waitCtx)
	if err != nil {
		s.logger.Warn("mcp reply failed", "user", userID, "error", err)
		return textResult("Reply failed: "+err.Error(), true, nil), nil
	}
	if reply == nil {
		return textResult("The assistant returned an empty reply.", false, nil), nil
	}
	return textResult(reply.Content, false, map[string]any{"id": reply.ID}), nil
}

func (s *ChatMCPServer) DailyReport(ctx context.Context, session *mcp.ServerSession, params *mcp.CallToolParamsFor[map[string]interface{}]) (*mcp.CallToolResultFor[any], error) {
	day := time.Now().UTC()
	if raw, _ := params.Arguments["date"].(string); raw != "" {
		parsed, err := time.Parse(time.DateOnly, raw)
		if err != nil {
			return textResult("date must be YYYY-MM-DD", true, nil), nil
		}
		day = parsed
	}
	stats := analytics.AnalyzeDaily(s.relay.State().Messages, day)
	out, err := stats.ToJSON()
	if err != nil {
		return nil, err
	}
	return textResult(out, false, map[string]any{"date": stats.Date}), nil
}
