package llm

import (
	"context"
	"fmt"
	"iter"

	"github.com/Morwran/yagpt"
)

// YandexSource asks YandexGPT for a whole reply and yields it as a single
// fragment. yagpt exposes no streaming call.
type YandexSource struct {
	ya       yagpt.YaGPTFace
	iamToken string
}

func NewYandex(oauthToken, folderID string) (*YandexSource, error) {
	// Create IAM token from OAuth token
	iam, err := yagpt.NewYaIam(oauthToken)
	if err != nil {
		return nil, fmt.Errorf("failed to init yandex iam: %w", err)
	}
	resp, err := iam.Create()
	if err != nil {
		return nil, fmt.Errorf("failed to create iam token: %w", err)
	}

	ya, err := yagpt.NewYagpt(folderID)
	if err != nil {
		return nil, fmt.Errorf("failed to init yagpt: %w", err)
	}

	return &YandexSource{
		ya:       ya,
		iamToken: resp.IamToken,
	}, nil
}

func (s *YandexSource) StreamCompletion(ctx context.Context, prompt string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		messages := []yagpt.Message{{Role: "user", Content: prompt}}
		resp, err := s.ya.CompletionWithCtx(ctx, s.iamToken, messages)
		if err != nil {
			yield("", fmt.Errorf("%w: yagpt completion: %w", ErrBackend, err))
			return
		}
		if resp == nil || len(resp.Alternatives) == 0 {
			yield("", fmt.Errorf("%w: yagpt returned empty response", ErrBackend))
			return
		}
		if text := resp.Alternatives[0].Message.Content; text != "" {
			yield(text, nil)
		}
	}
}
