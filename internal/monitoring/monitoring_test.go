package monitoring

import (
	"testing"
	"time"
)

func TestRecordEvent_Totals(t *testing.T) {
	s := NewService(Config{})
	s.RecordEvent("capture_requested", nil)
	s.RecordEvent("capture_requested", nil)
	s.RecordEvent("relay_done", map[string]string{"seq": "1"})

	totals := s.Totals()
	if totals["capture_requested"] != 2 || totals["relay_done"] != 1 {
		t.Fatalf("unexpected totals: %v", totals)
	}
	names := s.EventNames()
	if len(names) != 2 || names[0] != "capture_requested" {
		t.Fatalf("expected sorted names, got %v", names)
	}
}

func TestGetEventMetrics_Window(t *testing.T) {
	now := time.Unix(1000, 0)
	s := NewService(Config{WindowSize: 3})
	s.now = func() time.Time { return now }

	s.RecordEvent("capture_acked", nil)
	now = now.Add(time.Minute)
	s.RecordEvent("capture_published", nil)
	s.RecordEvent("relay_done", nil)

	got, err := s.GetEventMetrics("capture_", 30*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got["capture_published"] != 1 {
		t.Fatalf("expected only the recent capture event, got %v", got)
	}

	// ring overwrites the oldest entry
	s.RecordEvent("capture_published", nil)
	got, _ = s.GetEventMetrics("capture_", time.Hour)
	if got["capture_acked"] != 0 || got["capture_published"] != 2 {
		t.Fatalf("expected oldest event evicted, got %v", got)
	}
	if s.Totals()["capture_acked"] != 1 {
		t.Fatal("totals must not be affected by eviction")
	}
}
