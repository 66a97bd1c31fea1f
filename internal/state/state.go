// Package state holds the single process-wide SeederState enum. No other
// package reads or writes the enum directly; they go through Get/Set.
package state

import (
	"sync"

	"github.com/rs/zerolog"
)

// Mode is the producer's current write target.
type Mode int

const (
	RedisMode Mode = iota
	SqliteMode
)

func (m Mode) String() string {
	if m == RedisMode {
		return "redis"
	}
	return "sqlite"
}

// Manager holds the current Mode and logs every transition. Default is
// RedisMode.
type Manager struct {
	mu   sync.RWMutex
	mode Mode
	log  zerolog.Logger
}

// New returns a Manager starting in RedisMode.
func New(log zerolog.Logger) *Manager {
	return &Manager{mode: RedisMode, log: log}
}

// Get returns the current mode.
func (m *Manager) Get() Mode {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.mode
}

// Set replaces the current mode atomically and logs the transition.
func (m *Manager) Set(next Mode) {
	m.mu.Lock()
	prev := m.mode
	m.mode = next
	m.mu.Unlock()

	if prev != next {
		m.log.Info().Str("from", prev.String()).Str("to", next.String()).Msg("seeder state transition")
	}
}
