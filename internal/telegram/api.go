package telegram

import tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

type botAPISender struct{ api *tgbotapi.BotAPI }

func (s botAPISender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	return s.api.Send(c)
}

// maxMessageLen is Telegram's limit for a single text message, in UTF-16
// code units. Splitting on runes keeps us under it for BMP text.
const maxMessageLen = 4000

// splitMessage cuts text into chunks Telegram accepts, preferring line breaks.
func splitMessage(text string) []string {
	runes := []rune(text)
	if len(runes) <= maxMessageLen {
		return []string{text}
	}
	var parts []string
	for len(runes) > maxMessageLen {
		cut := maxMessageLen
		for i := maxMessageLen - 1; i > maxMessageLen/2; i-- {
			if runes[i] == '\n' {
				cut = i + 1
				break
			}
		}
		parts = append(parts, string(runes[:cut]))
		runes = runes[cut:]
	}
	if len(runes) > 0 {
		parts = append(parts, string(runes))
	}
	return parts
}
