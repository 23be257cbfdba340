package llm

import (
	"testing"

	"github.com/chrismrutherford/mutt/internal/history"
)

func TestBuildPrompt(t *testing.T) {
	msgs := []history.Message{
		{Role: history.RoleUser, Content: "hello"},
		{Role: history.RoleAssistant, Content: "Hi there"},
		{Role: history.RoleUser, Content: "how are you?"},
	}
	want := "<|start|>user<|channel|>user<|message|>hello<|end|>" +
		"<|start|>assistant<|channel|>assistant<|message|>Hi there<|end|>" +
		"<|start|>user<|channel|>user<|message|>how are you?<|end|>" +
		"<|start|>assistant<|channel|>assistant<|message|>"
	if got := BuildPrompt("", msgs); got != want {
		t.Fatalf("prompt mismatch:\n got %q\nwant %q", got, want)
	}
}

func TestBuildPromptSystemAndEmpty(t *testing.T) {
	got := BuildPrompt("be brief", nil)
	want := "<|start|>system<|channel|>system<|message|>be brief<|end|>" +
		"<|start|>assistant<|channel|>assistant<|message|>"
	if got != want {
		t.Fatalf("got %q", got)
	}
	if got := BuildPrompt("", nil); got != openAssistant {
		t.Fatalf("empty log must render only the open assistant segment, got %q", got)
	}
}

func TestEstimateTokensEmpty(t *testing.T) {
	if n := EstimateTokens(""); n != 0 {
		t.Fatalf("want 0, got %d", n)
	}
}

func TestEstimateTokensWithoutTokenizerCountsWords(t *testing.T) {
	// LoadTokenizer is never called in tests, so nothing is fetched here.
	if enc.Load() != nil {
		t.Skip("tokenizer already loaded")
	}
	if n := EstimateTokens("one two three"); n != 4 {
		t.Fatalf("want 4, got %d", n)
	}
	if n := EstimateTokens("   "); n != 1 {
		t.Fatalf("whitespace-only text counts as 1, got %d", n)
	}
}
