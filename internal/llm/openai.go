package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/http"

	"github.com/sashabaranov/go-openai"
)

// OpenAISource streams from any OpenAI-compatible legacy completions
// endpoint (OpenAI, OpenRouter, vLLM, llama.cpp's /v1).
type OpenAISource struct {
	client *openai.Client
	model  string
	opts   Options
}

type headerTransport struct {
	rt      http.RoundTripper
	headers http.Header
}

func (t headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// Clone request to avoid mutating the original
	cl := req.Clone(req.Context())
	for k, vs := range t.headers {
		for _, v := range vs {
			cl.Header.Add(k, v)
		}
	}
	return t.rt.RoundTrip(cl)
}

func NewOpenAI(apiKey, baseURL, model, referrer, title string, opts Options) *OpenAISource {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	// OpenRouter ranks apps by these headers
	if referrer != "" || title != "" {
		h := http.Header{}
		if referrer != "" {
			h.Set("HTTP-Referer", referrer)
		}
		if title != "" {
			h.Set("X-Title", title)
		}
		config.HTTPClient = &http.Client{Transport: headerTransport{rt: http.DefaultTransport, headers: h}}
	}
	return &OpenAISource{
		client: openai.NewClientWithConfig(config),
		model:  model,
		opts:   opts.withDefaults(),
	}
}

func (s *OpenAISource) StreamCompletion(ctx context.Context, prompt string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		stream, err := s.client.CreateCompletionStream(ctx, openai.CompletionRequest{
			Model:     s.model,
			Prompt:    prompt,
			MaxTokens: s.opts.MaxTokens,
			Stop:      s.opts.Stop,
			Stream:    true,
		})
		if err != nil {
			yield("", fmt.Errorf("%w: openai completion: %w", ErrBackend, err))
			return
		}
		defer stream.Close()

		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				if isCanceled(ctx.Err()) {
					err = ctx.Err()
				}
				yield("", fmt.Errorf("%w: openai stream: %w", ErrBackend, err))
				return
			}
			for _, choice := range resp.Choices {
				if choice.Text == "" {
					continue
				}
				if !yield(choice.Text, nil) {
					return
				}
			}
		}
	}
}
