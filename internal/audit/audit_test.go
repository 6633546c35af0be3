package audit

import (
	"fmt"
	"testing"
)

func TestRecordAndRecent(t *testing.T) {
	l := NewLog()
	l.Record("autopilot", "accepted", map[string]any{"rideId": "r_1"})
	l.Record("autopilot", "too_far", nil)
	got := l.Recent(10)
	if len(got) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(got))
	}
	if got[1].Reason != "too_far" {
		t.Fatalf("newest entry should be last, got %s", got[1].Reason)
	}
}

func TestCompactKeepsTail(t *testing.T) {
	l := NewLog()
	for i := 0; i < CompactThreshold+10; i++ {
		l.Record("tick", fmt.Sprintf("n%d", i), nil)
	}
	dropped := l.Compact()
	if dropped != CompactThreshold+10-CompactKeep {
		t.Fatalf("unexpected drop count %d", dropped)
	}
	if l.Len() != CompactKeep {
		t.Fatalf("expected %d kept, got %d", CompactKeep, l.Len())
	}
	tail := l.Recent(1)
	if tail[0].Reason != fmt.Sprintf("n%d", CompactThreshold+9) {
		t.Fatalf("newest entry lost in compaction: %s", tail[0].Reason)
	}
}

func TestCompactNoopUnderThreshold(t *testing.T) {
	l := NewLog()
	l.Record("x", "y", nil)
	if dropped := l.Compact(); dropped != 0 {
		t.Fatalf("expected noop, dropped %d", dropped)
	}
	if l.Len() != 1 {
		t.Fatal("entry lost")
	}
}
