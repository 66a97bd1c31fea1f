package metrics

import (
	"testing"

	"github.com/rs/zerolog"
)

func newTestTracker(t *testing.T) *Tracker {
	t.Helper()
	w, err := NewEventWriter(t.TempDir())
	if err != nil {
		t.Fatalf("NewEventWriter: %v", err)
	}
	t.Cleanup(func() { w.Close() })
	return New(w, zerolog.Nop())
}

func TestSessionOpensOnFirstEvent(t *testing.T) {
	tr := newTestTracker(t)
	if tr.IsSessionActive() {
		t.Fatalf("session should not be active before any event")
	}
	tr.RecordMasterFailure()
	if !tr.IsSessionActive() {
		t.Fatalf("session should be active after RecordMasterFailure")
	}
}

func TestSessionClosesOnTransitionToRedis(t *testing.T) {
	tr := newTestTracker(t)
	tr.RecordMasterFailure()
	tr.RecordStateTransitionToSqlite()
	tr.IncrementFallback()
	tr.IncrementFallback()
	tr.RecordStateTransitionToRedis()
	if tr.IsSessionActive() {
		t.Fatalf("session should be closed after RecordStateTransitionToRedis")
	}
}

func TestLateOpenedSessionStillWorks(t *testing.T) {
	tr := newTestTracker(t)
	// StateTransitionToSqlite arrives first, no prior MasterFailureDetected —
	// the session opens late, tagged with a warning, but still functions.
	tr.RecordStateTransitionToSqlite()
	if !tr.IsSessionActive() {
		t.Fatalf("late-opened session should still be active")
	}
	tr.RecordStateTransitionToRedis()
	if tr.IsSessionActive() {
		t.Fatalf("session should close normally even if opened late")
	}
}

func TestFallbackCounterResetsOnSessionClose(t *testing.T) {
	tr := newTestTracker(t)
	tr.RecordMasterFailure()
	tr.IncrementFallback()
	tr.RecordStateTransitionToRedis()
	if got := tr.fallbackCount.Load(); got != 0 {
		t.Fatalf("want fallback counter reset to 0, got %d", got)
	}
}
