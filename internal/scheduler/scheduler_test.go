package scheduler

import (
	"context"
	"errors"
	"testing"
)

func TestStartWithoutReportFunction(t *testing.T) {
	s := New("", nil)
	defer s.Stop()
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if s.IsRunning() {
		t.Fatalf("nothing should be scheduled without a report function")
	}
}

func TestStartRejectsBadSpec(t *testing.T) {
	s := New("not a cron spec", nil)
	defer s.Stop()
	s.SetReportFunction(func(context.Context) error { return nil })
	if err := s.Start(); err == nil {
		t.Fatalf("expected error for malformed spec")
	}
}

func TestReportRuns(t *testing.T) {
	s := New("@every 1h", nil)
	calls := 0
	s.SetReportFunction(func(ctx context.Context) error {
		calls++
		if ctx.Err() != nil {
			t.Errorf("report context already canceled")
		}
		return errors.New("logged, not fatal")
	})
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if !s.IsRunning() {
		t.Fatalf("report not scheduled")
	}
	s.runReport()
	s.Stop()
	if calls != 1 {
		t.Fatalf("calls = %d", calls)
	}
}
