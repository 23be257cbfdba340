package llm

import (
	"context"
	"fmt"
	"iter"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
)

// ModelSource adapts a langchaingo model. Fragments arrive through the
// model's streaming callback and are handed to the consumer one at a time.
type ModelSource struct {
	name  string
	model llms.Model
	opts  Options
}

// NewOllama connects to an Ollama server.
func NewOllama(serverURL, model string, opts Options) (*ModelSource, error) {
	llm, err := ollama.New(ollama.WithModel(model), ollama.WithServerURL(serverURL))
	if err != nil {
		return nil, fmt.Errorf("failed to init ollama: %w", err)
	}
	return NewModelSource("ollama", llm, opts), nil
}

func NewModelSource(name string, model llms.Model, opts Options) *ModelSource {
	return &ModelSource{name: name, model: model, opts: opts.withDefaults()}
}

func (s *ModelSource) StreamCompletion(ctx context.Context, prompt string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		runCtx, cancel := context.WithCancel(ctx)
		defer cancel()

		chunks := make(chan string)
		errc := make(chan error, 1)
		go func() {
			defer close(chunks)
			_, err := llms.GenerateFromSinglePrompt(runCtx, s.model, prompt,
				llms.WithMaxTokens(s.opts.MaxTokens),
				llms.WithStopWords(s.opts.Stop),
				llms.WithStreamingFunc(func(_ context.Context, chunk []byte) error {
					select {
					case chunks <- string(chunk):
						return nil
					case <-runCtx.Done():
						return runCtx.Err()
					}
				}),
			)
			errc <- err
		}()

		for chunk := range chunks {
			if chunk == "" {
				continue
			}
			if !yield(chunk, nil) {
				cancel()
				for range chunks {
				}
				return
			}
		}
		if err := <-errc; err != nil {
			yield("", fmt.Errorf("%w: %s: %w", ErrBackend, s.name, err))
		}
	}
}
