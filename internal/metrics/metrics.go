// Package metrics stitches the distributed failover timeline into
// sessions and writes a structured JSON event log.
package metrics

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// session accumulates the wall-clock timestamps for one failover episode.
type session struct {
	id                      string
	masterFailureDetected   *time.Time
	quorumPromotionDetected *time.Time
	transitionToDurable     *time.Time
	transitionToRemote      *time.Time
	recoveryStarted         *time.Time
	recoveryCompleted       *time.Time
	fallenThrough           int64
}

// Tracker holds at most one active session and appends one JSON object per
// event to the daily metrics file.
type Tracker struct {
	mu     sync.Mutex
	active *session
	seq    atomic.Int64

	fallbackCount atomic.Int64

	writer *EventWriter
	log    zerolog.Logger
}

// New returns a Tracker writing events to writer.
func New(writer *EventWriter, log zerolog.Logger) *Tracker {
	return &Tracker{writer: writer, log: log}
}

func (t *Tracker) ensureSessionLocked(openedBy string) *session {
	if t.active != nil {
		return t.active
	}
	t.active = &session{id: fmt.Sprintf("failover-%d-%d", t.seq.Add(1), time.Now().UnixMilli())}
	if openedBy != "MasterFailureDetected" {
		t.log.Warn().Str("session", t.active.id).Str("opened_by", openedBy).
			Msg("failover session opened late; earlier timestamps unknown")
	}
	return t.active
}

// RecordMasterFailure opens (or reuses) the active session and records the
// master-failure-detected timestamp.
func (t *Tracker) RecordMasterFailure() {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.ensureSessionLocked("MasterFailureDetected")
	now := time.Now()
	if s.masterFailureDetected == nil {
		s.masterFailureDetected = &now
	}
	t.emitLocked(s, "MasterFailureDetected", nil)
}

// RecordStateTransitionToSqlite records the transition-to-durable
// timestamp.
func (t *Tracker) RecordStateTransitionToSqlite() {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.ensureSessionLocked("StateTransitionToSqlite")
	now := time.Now()
	if s.transitionToDurable == nil {
		s.transitionToDurable = &now
	}
	t.emitLocked(s, "StateTransitionToSqlite", nil)
}

// RecordSentinelPromotion records the quorum-promotion-detected timestamp.
func (t *Tracker) RecordSentinelPromotion() {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.ensureSessionLocked("SentinelPromotion")
	now := time.Now()
	if s.quorumPromotionDetected == nil {
		s.quorumPromotionDetected = &now
	}
	t.emitLocked(s, "SentinelPromotion", nil)
}

// RecordRecoveryStarted records the recovery-started timestamp.
func (t *Tracker) RecordRecoveryStarted() {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.ensureSessionLocked("RecoveryStarted")
	now := time.Now()
	if s.recoveryStarted == nil {
		s.recoveryStarted = &now
	}
	t.emitLocked(s, "RecoveryStarted", nil)
}

// RecordRecoveryCompleted records the recovery-completed timestamp along
// with the entry counts.
func (t *Tracker) RecordRecoveryCompleted(recovered, failed int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.ensureSessionLocked("RecoveryCompleted")
	now := time.Now()
	if s.recoveryCompleted == nil {
		s.recoveryCompleted = &now
	}
	details := map[string]any{"entriesRecovered": recovered}
	if failed > 0 {
		details["entriesFailed"] = failed
	}
	t.emitLocked(s, "RecoveryCompleted", details)
}

// RecordStateTransitionToRedis records the transition-to-remote timestamp,
// emits the three derived durations, closes the session, and reports and
// resets the fallback counter.
func (t *Tracker) RecordStateTransitionToRedis() {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.ensureSessionLocked("StateTransitionToRedis")
	now := time.Now()
	s.transitionToRemote = &now

	details := map[string]any{}
	if s.masterFailureDetected != nil && s.transitionToDurable != nil {
		details["detectToSqliteMs"] = s.transitionToDurable.Sub(*s.masterFailureDetected).Milliseconds()
	}
	if s.transitionToDurable != nil && s.recoveryStarted != nil {
		details["sqliteToRecoveryStartMs"] = s.recoveryStarted.Sub(*s.transitionToDurable).Milliseconds()
	}
	if s.masterFailureDetected != nil {
		details["totalMs"] = now.Sub(*s.masterFailureDetected).Milliseconds()
	}
	details["entriesFellThrough"] = s.fallenThrough
	t.emitLocked(s, "StateTransitionToRedis", details)

	fallback := t.fallbackCount.Swap(0)
	t.log.Info().Str("session", s.id).Int64("sqlite_fallback_count", fallback).Msg("failover session closed")
	t.active = nil
}

// IsSessionActive reports whether a failover session is currently open.
func (t *Tracker) IsSessionActive() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active != nil
}

// IncrementFallback increments the process-wide sqliteFallbackCount and the
// active session's fallen-through counter.
func (t *Tracker) IncrementFallback() {
	t.fallbackCount.Add(1)
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.active != nil {
		atomic.AddInt64(&t.active.fallenThrough, 1)
	}
}

func (t *Tracker) emitLocked(s *session, eventType string, details map[string]any) {
	ev := map[string]any{
		"id":        eventID(),
		"ts":        time.Now().UTC().Format(time.RFC3339Nano),
		"type":      eventType,
		"sessionId": s.id,
	}
	for k, v := range details {
		ev[k] = v
	}
	if err := t.writer.Write(ev); err != nil {
		t.log.Error().Err(err).Str("event", eventType).Msg("metrics: failed to write event log")
	}
	t.log.Info().Str("event", eventType).Str("session", s.id).Interface("details", details).Msg("failover event")
}

func eventID() string {
	return fmt.Sprintf("event-%d-%s", time.Now().UnixMilli(), strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}
