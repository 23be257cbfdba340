package analytics

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/chrismrutherford/mutt/internal/history"
)

// DailyStats summarizes one day of the conversation.
type DailyStats struct {
	Date              string               `json:"date"`
	TotalMessages     int                  `json:"total_messages"`
	UserMessages      int                  `json:"user_messages"`
	AssistantMessages int                  `json:"assistant_messages"`
	TotalWords        int                  `json:"total_words"`
	UniqueUsers       int                  `json:"unique_users"`
	UserStats         map[string]UserStats `json:"user_stats"`
}

// UserStats is one author's share of the day.
type UserStats struct {
	UserID   string `json:"user_id"`
	Messages int    `json:"messages"`
	Words    int    `json:"words"`
}

const anonymous = "anonymous"

// AnalyzeDaily counts the messages whose timestamp falls on targetDate in
// targetDate's location.
func AnalyzeDaily(messages []history.Message, targetDate time.Time) *DailyStats {
	startOfDay := time.Date(targetDate.Year(), targetDate.Month(), targetDate.Day(), 0, 0, 0, 0, targetDate.Location())
	endOfDay := startOfDay.AddDate(0, 0, 1)

	stats := &DailyStats{
		Date:      startOfDay.Format("2006-01-02"),
		UserStats: make(map[string]UserStats),
	}

	for _, m := range messages {
		if m.Timestamp.Before(startOfDay) || !m.Timestamp.Before(endOfDay) {
			continue
		}
		words := history.CountWords(m.Content)
		stats.TotalMessages++
		stats.TotalWords += words

		if m.Role == history.RoleAssistant {
			stats.AssistantMessages++
			continue
		}
		stats.UserMessages++

		id := m.UserID
		if id == "" {
			id = anonymous
		}
		us := stats.UserStats[id]
		us.UserID = id
		us.Messages++
		us.Words += words
		stats.UserStats[id] = us
	}

	stats.UniqueUsers = len(stats.UserStats)
	return stats
}

// GenerateReportSummary renders the stats as a plain-text report.
func (ds *DailyStats) GenerateReportSummary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Chat activity for %s:\n\n", ds.Date)
	fmt.Fprintf(&b, "- Messages: %d (user %d, assistant %d)\n", ds.TotalMessages, ds.UserMessages, ds.AssistantMessages)
	fmt.Fprintf(&b, "- Words: %d\n", ds.TotalWords)
	fmt.Fprintf(&b, "- Unique users: %d\n", ds.UniqueUsers)

	if len(ds.UserStats) == 0 {
		return b.String()
	}

	users := make([]UserStats, 0, len(ds.UserStats))
	for _, us := range ds.UserStats {
		users = append(users, us)
	}
	// most active first
	slices.SortFunc(users, func(a, b UserStats) int {
		if a.Messages != b.Messages {
			return b.Messages - a.Messages
		}
		return strings.Compare(a.UserID, b.UserID)
	})

	b.WriteString("\nUsers:\n")
	for _, us := range users {
		fmt.Fprintf(&b, "- %s: %d messages, %d words\n", us.UserID, us.Messages, us.Words)
	}
	return b.String()
}

func (ds *DailyStats) ToJSON() (string, error) {
	data, err := json.MarshalIndent(ds, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
