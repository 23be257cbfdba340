package llm

import (
	"strings"
	"sync"
	"sync/atomic"

	"github.com/pkoukk/tiktoken-go"
)

var (
	encOnce sync.Once
	enc     atomic.Pointer[tiktoken.Tiktoken]
)

// LoadTokenizer fetches the cl100k_base ranks. The default loader downloads
// them on first use, so call this once at startup, off the request path.
func LoadTokenizer() error {
	var loadErr error
	encOnce.Do(func() {
		e, err := tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			loadErr = err
			return
		}
		enc.Store(e)
	})
	return loadErr
}

// EstimateTokens approximates the prompt size in model tokens. It never
// loads anything: until LoadTokenizer has succeeded it counts 4/3 tokens
// per word.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	if e := enc.Load(); e != nil {
		return len(e.Encode(text, nil, nil))
	}
	return estimateFromWords(text)
}

func estimateFromWords(text string) int {
	n := (len(strings.Fields(text))*4 + 2) / 3
	if n == 0 {
		n = 1
	}
	return n
}
