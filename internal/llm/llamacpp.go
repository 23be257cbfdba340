package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"strings"
)

// LlamaCppSource streams from a llama.cpp server's /completion endpoint.
type LlamaCppSource struct {
	baseURL string
	apiKey  string
	opts    Options
	client  *http.Client
	logger  *slog.Logger
}

func NewLlamaCpp(baseURL, apiKey string, opts Options, client *http.Client, logger *slog.Logger) *LlamaCppSource {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &LlamaCppSource{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		opts:    opts.withDefaults(),
		client:  client,
		logger:  logger,
	}
}

type llamaRequest struct {
	Prompt   string   `json:"prompt"`
	NPredict int      `json:"n_predict"`
	Stream   bool     `json:"stream"`
	Stop     []string `json:"stop"`
}

type llamaFrame struct {
	Content string `json:"content"`
	Stop    bool   `json:"stop"`
}

func (s *LlamaCppSource) StreamCompletion(ctx context.Context, prompt string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		body, err := s.open(ctx, prompt)
		if err != nil {
			yield("", err)
			return
		}
		defer body.Close()

		stopped := false
		err = scanDataLines(body, func(payload string) bool {
			if payload == "[DONE]" {
				return false
			}
			var f llamaFrame
			if err := json.Unmarshal([]byte(payload), &f); err != nil {
				s.logger.Warn("skipping malformed completion frame", "error", err, "frame", truncate(payload, 200))
				return true
			}
			if f.Content != "" && !yield(f.Content, nil) {
				stopped = true
				return false
			}
			return !f.Stop
		})
		if stopped {
			return
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				err = ctxErr
			}
			yield("", fmt.Errorf("%w: llama.cpp stream: %w", ErrBackend, err))
		}
	}
}

func (s *LlamaCppSource) open(ctx context.Context, prompt string) (io.ReadCloser, error) {
	payload, err := json.Marshal(llamaRequest{
		Prompt:   prompt,
		NPredict: s.opts.MaxTokens,
		Stream:   true,
		Stop:     s.opts.Stop,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: encode request: %w", ErrBackend, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/completion", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %w", ErrBackend, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: llama.cpp request: %w", ErrBackend, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, fmt.Errorf("%w: llama.cpp status %d: %s", ErrBackend, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	return resp.Body, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// isCanceled reports whether err is the caller abandoning the request.
func isCanceled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
