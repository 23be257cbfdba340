package llm

import (
	"context"
	"errors"
	"iter"
)

// ErrBackend wraps every failure reported by a completion backend.
var ErrBackend = errors.New("completion backend failed")

// DefaultStop are the stop sequences used when none are configured.
var DefaultStop = []string{"<|im_end|>", "</s>", "<|end|>", "<|eot_id|>"}

const DefaultMaxTokens = 4096

// CompletionSource streams the continuation of a rendered prompt.
//
// The returned sequence yields text fragments in order with a nil error. A
// failure is reported as a single final pair with an empty fragment and an
// error wrapping ErrBackend. Breaking out of the loop abandons the request.
type CompletionSource interface {
	StreamCompletion(ctx context.Context, prompt string) iter.Seq2[string, error]
}

// Options are the generation parameters shared by every source.
type Options struct {
	MaxTokens int
	Stop      []string
}

func (o Options) withDefaults() Options {
	if o.MaxTokens <= 0 {
		o.MaxTokens = DefaultMaxTokens
	}
	if len(o.Stop) == 0 {
		o.Stop = DefaultStop
	}
	return o
}
