package llm

import (
	"strings"

	"github.com/chrismrutherford/mutt/internal/history"
)

const (
	segmentStart   = "<|start|>"
	segmentChannel = "<|channel|>"
	segmentMessage = "<|message|>"
	segmentEnd     = "<|end|>"
)

// BuildPrompt renders the conversation in the gpt-oss chat format and leaves
// an open assistant segment for the model to continue. A non-empty system
// prompt is emitted first.
func BuildPrompt(system string, messages []history.Message) string {
	var b strings.Builder
	if system != "" {
		writeSegment(&b, "system", system)
	}
	for _, m := range messages {
		switch m.Role {
		case history.RoleUser, history.RoleAssistant:
			writeSegment(&b, string(m.Role), m.Content)
		}
	}
	b.WriteString(openAssistant)
	return b.String()
}

const openAssistant = segmentStart + "assistant" + segmentChannel + "assistant" + segmentMessage

func writeSegment(b *strings.Builder, role, content string) {
	b.WriteString(segmentStart)
	b.WriteString(role)
	b.WriteString(segmentChannel)
	b.WriteString(role)
	b.WriteString(segmentMessage)
	b.WriteString(content)
	b.WriteString(segmentEnd)
}
