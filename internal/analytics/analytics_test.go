package analytics

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/chrismrutherford/mutt/internal/history"
)

func msg(ts time.Time, role history.Role, user, content string) history.Message {
	return history.Message{ID: history.NewID(), Role: role, UserID: user, Content: content, Timestamp: ts}
}

func TestAnalyzeDaily(t *testing.T) {
	day := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	messages := []history.Message{
		msg(day.Add(-time.Minute), history.RoleUser, "alice", "yesterday"),
		msg(day.Add(2*time.Hour), history.RoleUser, "alice", "hello there"),
		msg(day.Add(2*time.Hour+time.Second), history.RoleAssistant, "", "hi alice how are you"),
		msg(day.Add(4*time.Hour), history.RoleUser, "bob", "status please"),
		msg(day.Add(5*time.Hour), history.RoleUser, "alice", "thanks"),
		msg(day.Add(6*time.Hour), history.RoleUser, "", "anon"),
		msg(day.AddDate(0, 0, 1), history.RoleUser, "carol", "tomorrow"),
	}

	stats := AnalyzeDaily(messages, day.Add(13*time.Hour))

	if stats.Date != "2024-01-15" {
		t.Errorf("date = %q", stats.Date)
	}
	if stats.TotalMessages != 5 || stats.UserMessages != 4 || stats.AssistantMessages != 1 {
		t.Errorf("counts = %d/%d/%d", stats.TotalMessages, stats.UserMessages, stats.AssistantMessages)
	}
	if stats.TotalWords != 2+5+2+1+1 {
		t.Errorf("words = %d", stats.TotalWords)
	}
	if stats.UniqueUsers != 3 {
		t.Errorf("unique users = %d", stats.UniqueUsers)
	}
	if a := stats.UserStats["alice"]; a.Messages != 2 || a.Words != 3 {
		t.Errorf("alice = %+v", a)
	}
	if _, ok := stats.UserStats[anonymous]; !ok {
		t.Errorf("anonymous author not counted")
	}
	if _, ok := stats.UserStats["carol"]; ok {
		t.Errorf("next day's message counted")
	}
}

func TestGenerateReportSummary(t *testing.T) {
	day := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	stats := AnalyzeDaily([]history.Message{
		msg(day.Add(time.Hour), history.RoleUser, "bob", "one"),
		msg(day.Add(2*time.Hour), history.RoleUser, "alice", "two"),
		msg(day.Add(3*time.Hour), history.RoleUser, "alice", "three"),
	}, day)

	summary := stats.GenerateReportSummary()
	for _, want := range []string{"2024-01-15", "Messages: 3", "Unique users: 2"} {
		if !strings.Contains(summary, want) {
			t.Errorf("summary missing %q:\n%s", want, summary)
		}
	}
	if strings.Index(summary, "alice") > strings.Index(summary, "bob") {
		t.Errorf("most active user must come first:\n%s", summary)
	}
}

func TestEmptyDay(t *testing.T) {
	stats := AnalyzeDaily(nil, time.Now())
	if stats.TotalMessages != 0 || stats.UniqueUsers != 0 {
		t.Fatalf("stats = %+v", stats)
	}
	if strings.Contains(stats.GenerateReportSummary(), "Users:") {
		t.Fatalf("empty day must not list users")
	}
}

func TestToJSON(t *testing.T) {
	stats := AnalyzeDaily([]history.Message{
		msg(time.Date(2024, 1, 15, 1, 0, 0, 0, time.UTC), history.RoleUser, "bob", "hi"),
	}, time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC))
	out, err := stats.ToJSON()
	if err != nil {
		t.Fatal(err)
	}
	var back DailyStats
	if err := json.Unmarshal([]byte(out), &back); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if back.UserStats["bob"].Messages != 1 {
		t.Fatalf("round trip = %+v", back)
	}
}
