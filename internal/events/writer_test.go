package events

import (
	"testing"

	"taskflow/internal/domain"
)

func TestLogKeepsMostRecentWithinLimit(t *testing.T) {
	l := NewLog(3)
	for i := 1; i <= 5; i++ {
		l.Record(domain.Activity{ID: int64(i), Text: "entry"})
	}
	if l.Len() != 3 {
		t.Fatalf("expected 3 retained entries, got %d", l.Len())
	}
	latest := l.Latest(0)
	if len(latest) != 3 || latest[0].ID != 5 || latest[2].ID != 3 {
		t.Fatalf("unexpected order: %+v", latest)
	}
	if got := l.Latest(1); len(got) != 1 || got[0].ID != 5 {
		t.Fatalf("expected newest entry only, got %+v", got)
	}
}

func TestNewLogDefaultsLimit(t *testing.T) {
	if NewLog(0).Limit() != 500 {
		t.Fatalf("expected default limit 500")
	}
}
