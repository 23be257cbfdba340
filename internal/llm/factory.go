package llm

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/chrismrutherford/mutt/internal/config"
)

const (
	ProviderLlamaCpp = "llamacpp"
	ProviderOpenAI   = "openai"
	ProviderOllama   = "ollama"
	ProviderYandex   = "yandex"
)

// Factory creates completion sources from configuration.
type Factory struct {
	LlamaCppURL        string
	LlamaCppAPIKey     string
	OpenaiAPIKey       string
	OpenaiBaseURL      string
	OpenaiModel        string
	OpenRouterReferrer string
	OpenRouterTitle    string
	OllamaURL          string
	OllamaModel        string
	YandexOAuthToken   string
	YandexFolderID     string
	Options            Options
	HTTPClient         *http.Client
	Logger             *slog.Logger
}

func NewFactory(cfg *config.Config, logger *slog.Logger) *Factory {
	return &Factory{
		LlamaCppURL:        cfg.LlamaCppURL,
		LlamaCppAPIKey:     cfg.LlamaCppAPIKey,
		OpenaiAPIKey:       cfg.OpenAIAPIKey,
		OpenaiBaseURL:      cfg.OpenAIBaseURL,
		OpenaiModel:        cfg.OpenAIModel,
		OpenRouterReferrer: cfg.OpenRouterReferrer,
		OpenRouterTitle:    cfg.OpenRouterTitle,
		OllamaURL:          cfg.OllamaURL,
		OllamaModel:        cfg.OllamaModel,
		YandexOAuthToken:   cfg.YandexOAuthToken,
		YandexFolderID:     cfg.YandexFolderID,
		Options:            Options{MaxTokens: cfg.MaxTokens, Stop: cfg.StopSequences},
		Logger:             logger,
	}
}

func (f *Factory) CreateSource(provider string) (CompletionSource, error) {
	switch strings.ToLower(provider) {
	case ProviderLlamaCpp:
		return NewLlamaCpp(f.LlamaCppURL, f.LlamaCppAPIKey, f.Options, f.HTTPClient, f.Logger), nil
	case ProviderOpenAI:
		return NewOpenAI(f.OpenaiAPIKey, f.OpenaiBaseURL, f.OpenaiModel, f.OpenRouterReferrer, f.OpenRouterTitle, f.Options), nil
	case ProviderOllama:
		return NewOllama(f.OllamaURL, f.OllamaModel, f.Options)
	case ProviderYandex:
		return NewYandex(f.YandexOAuthToken, f.YandexFolderID)
	default:
		return nil, fmt.Errorf("unknown llm provider: %s", provider)
	}
}
