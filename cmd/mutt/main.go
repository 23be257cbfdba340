package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/chrismrutherford/mutt/internal/analytics"
	"github.com/chrismrutherford/mutt/internal/config"
	"github.com/chrismrutherford/mutt/internal/events"
	"github.com/chrismrutherford/mutt/internal/history"
	"github.com/chrismrutherford/mutt/internal/llm"
	"github.com/chrismrutherford/mutt/internal/mcpserver"
	"github.com/chrismrutherford/mutt/internal/relay"
	"github.com/chrismrutherford/mutt/internal/scheduler"
	"github.com/chrismrutherford/mutt/internal/server"
	"github.com/chrismrutherford/mutt/internal/storage"
	"github.com/chrismrutherford/mutt/internal/streaming"
	"github.com/chrismrutherford/mutt/internal/telegram"
)

const version = "2.0.0"

func main() {
	if err := godotenv.Load(".env"); err != nil {
		log.Printf("Warning: .env file not found: %v", err)
	}

	cfg := config.New()
	logger := newLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	store, err := storage.Open(storage.Options{
		Driver: cfg.StoreDriver,
		DSN:    cfg.StoreDSN,
		Path:   cfg.StorePath,
		Logger: logger.With("component", "storage"),
	})
	if err != nil {
		// keep serving from memory, as the log does when a write fails
		logger.Error("failed to open store, history will not survive restarts", "driver", cfg.StoreDriver, "error", err)
		store = storage.NewMemoryStore()
	}
	defer store.Close()

	conversation := history.NewLog(store, cfg.MaxWords, logger.With("component", "history"))
	if err := conversation.Load(context.Background()); err != nil {
		logger.Error("failed to load history, starting empty", "error", err)
	}

	source, err := llm.NewFactory(cfg, logger.With("component", "llm")).CreateSource(string(cfg.LLMProvider))
	if err != nil {
		log.Fatalf("failed to create completion source: %v", err)
	}

	go func() {
		if err := llm.LoadTokenizer(); err != nil {
			logger.Warn("tokenizer unavailable, estimating prompt tokens from words", "error", err)
		}
	}()

	systemPrompt, err := cfg.SystemPrompt()
	if err != nil {
		logger.Warn("system prompt unavailable", "path", cfg.SystemPromptPath, "error", err)
	}

	bus := events.NewBus(logger.With("component", "events"))
	orchestrator := relay.NewOrchestrator(conversation, bus, streaming.NewSession(), source, relay.Options{
		MaxChars:     cfg.MaxMessageChars,
		SystemPrompt: systemPrompt,
		Logger:       logger.With("component", "relay"),
	})

	srvOpts := server.Options{
		Addr:              cfg.HTTPAddr,
		BasePath:          cfg.BasePath,
		HeartbeatInterval: cfg.HeartbeatInterval,
		SubscriberBuffer:  cfg.SubscriberBuffer,
		Logger:            logger.With("component", "http"),
	}
	if cfg.MCPEnabled {
		tools := mcpserver.NewChatMCPServer(orchestrator, logger.With("component", "mcp"))
		srvOpts.MCP = mcpserver.Handler(mcpserver.NewServer(tools, version))
	}
	srv := server.New(orchestrator, bus, srvOpts)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var bot *telegram.Bot
	if cfg.TelegramEnabled() {
		bot, err = telegram.New(cfg.TelegramBotToken, orchestrator, bus, cfg.TelegramChatIDs, cfg.TelegramAdminChat, logger.With("component", "telegram"))
		if err != nil {
			logger.Error("failed to start telegram bridge", "error", err)
		} else {
			go bot.Start(ctx)
		}
	}

	sched := scheduler.New(cfg.ReportCron, logger.With("component", "scheduler"))
	sched.SetReportFunction(func(ctx context.Context) error {
		stats := analytics.AnalyzeDaily(orchestrator.State().Messages, time.Now().UTC())
		summary := stats.GenerateReportSummary()
		logger.Info("daily report", "date", stats.Date, "messages", stats.TotalMessages, "users", stats.UniqueUsers, "words", stats.TotalWords)
		if bot != nil {
			bot.SendReport(summary)
		}
		return nil
	})
	if err := sched.Start(); err != nil {
		logger.Error("failed to start scheduler", "spec", cfg.ReportCron, "error", err)
	}
	defer sched.Stop()

	go func() {
		if err := srv.Start(); err != nil {
			log.Fatalf("❌ HTTP server failed: %v", err)
		}
	}()
	logger.Info("mutt started",
		"addr", cfg.HTTPAddr,
		"base_path", cfg.BasePath,
		"provider", cfg.LLMProvider,
		"store", cfg.StoreDriver,
		"messages", conversation.Len(),
		"mcp", cfg.MCPEnabled,
		"telegram", bot != nil,
	)

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		logger.Warn("http shutdown incomplete", "error", err)
	}
	if err := orchestrator.Close(shutdownCtx); err != nil {
		logger.Warn("generation still running at shutdown", "error", err)
	}
}

func newLogger(level, format string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
