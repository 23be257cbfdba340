package config

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v6"
)

type LLMProvider string

const (
	ProviderLlamaCpp LLMProvider = "llamacpp"
	ProviderOpenAI   LLMProvider = "openai"
	ProviderOllama   LLMProvider = "ollama"
	ProviderYandex   LLMProvider = "yandex"
)

type Config struct {
	// HTTP
	HTTPAddr          string        `env:"HTTP_ADDR" envDefault:":3000"`
	BasePath          string        `env:"BASE_PATH" envDefault:"/mutt"`
	HeartbeatInterval time.Duration `env:"HEARTBEAT_INTERVAL" envDefault:"30s"`
	SubscriberBuffer  int           `env:"SUBSCRIBER_BUFFER" envDefault:"256"`
	MCPEnabled        bool          `env:"MCP_ENABLED" envDefault:"true"`

	// Conversation limits
	MaxWords        int `env:"MAX_WORDS" envDefault:"10000"`
	MaxMessageChars int `env:"MAX_MESSAGE_CHARS" envDefault:"2000"`

	// Storage
	StoreDriver string `env:"STORE_DRIVER" envDefault:"sqlite"`
	StoreDSN    string `env:"STORE_DSN"`
	StorePath   string `env:"STORE_PATH" envDefault:"data/mutt.db"`

	// LLM settings
	LLMProvider      LLMProvider `env:"LLM_PROVIDER" envDefault:"llamacpp"`
	LlamaCppURL      string      `env:"LLAMACPP_URL" envDefault:"http://127.0.0.1:8080"`
	LlamaCppAPIKey   string      `env:"LLAMACPP_API_KEY"`
	OpenAIAPIKey     string      `env:"OPENAI_API_KEY"`
	OpenAIBaseURL    string      `env:"OPENAI_BASE_URL"`
	OpenAIModel      string      `env:"OPENAI_MODEL" envDefault:"gpt-3.5-turbo-instruct"`
	OllamaURL        string      `env:"OLLAMA_URL" envDefault:"http://127.0.0.1:11434"`
	OllamaModel      string      `env:"OLLAMA_MODEL" envDefault:"gpt-oss:20b"`
	YandexOAuthToken string      `env:"YANDEX_OAUTH_TOKEN"`
	YandexFolderID   string      `env:"YANDEX_FOLDER_ID"`
	MaxTokens        int         `env:"MAX_TOKENS" envDefault:"4096"`
	StopSequences    []string    `env:"STOP_SEQUENCES" envSeparator:"," envDefault:"<|im_end|>,</s>,<|end|>,<|eot_id|>"`

	// OpenRouter (optional)
	OpenRouterReferrer string `env:"OPENROUTER_REFERRER"`
	OpenRouterTitle    string `env:"OPENROUTER_TITLE"`

	// Prompts
	SystemPromptPath string `env:"SYSTEM_PROMPT_PATH"`

	// Telegram bridge (optional)
	TelegramBotToken  string  `env:"TELEGRAM_BOT_TOKEN"`
	TelegramChatIDs   []int64 `env:"TELEGRAM_CHAT_IDS" envSeparator:","`
	TelegramAdminChat int64   `env:"TELEGRAM_ADMIN_CHAT"`

	// Daily report
	ReportCron string `env:"REPORT_CRON" envDefault:"0 21 * * *"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`
}

func New() *Config {
	cfg, err := Parse()
	if err != nil {
		log.Fatalf("failed to parse config: %v", err)
	}
	return cfg
}

// Parse reads the environment and validates the result.
func Parse() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	cfg.BasePath = "/" + strings.Trim(cfg.BasePath, "/")
	if cfg.BasePath == "/" {
		cfg.BasePath = ""
	}
	cfg.LLMProvider = LLMProvider(strings.ToLower(string(cfg.LLMProvider)))
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.LLMProvider {
	case ProviderLlamaCpp, ProviderOpenAI, ProviderOllama, ProviderYandex:
	default:
		return fmt.Errorf("unknown LLM_PROVIDER %q", c.LLMProvider)
	}
	if c.MaxMessageChars <= 0 {
		return fmt.Errorf("MAX_MESSAGE_CHARS must be positive, got %d", c.MaxMessageChars)
	}
	if c.SubscriberBuffer <= 0 {
		return fmt.Errorf("SUBSCRIBER_BUFFER must be positive, got %d", c.SubscriberBuffer)
	}
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("HEARTBEAT_INTERVAL must be positive, got %s", c.HeartbeatInterval)
	}
	return nil
}

// SystemPrompt returns the contents of SYSTEM_PROMPT_PATH, or "" when unset.
func (c *Config) SystemPrompt() (string, error) {
	if c.SystemPromptPath == "" {
		return "", nil
	}
	b, err := os.ReadFile(c.SystemPromptPath)
	if err != nil {
		return "", fmt.Errorf("read system prompt: %w", err)
	}
	return strings.TrimSpace(string(b)), nil
}

// TelegramEnabled reports whether the bridge has enough settings to start.
func (c *Config) TelegramEnabled() bool {
	return c.TelegramBotToken != "" && len(c.TelegramChatIDs) > 0
}
