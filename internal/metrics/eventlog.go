package metrics

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// EventWriter appends one JSON object per event to a daily metrics file,
// rolling over at UTC midnight.
type EventWriter struct {
	mu   sync.Mutex
	dir  string
	file *os.File
	day  string
}

// NewEventWriter creates dir if absent.
func NewEventWriter(dir string) (*EventWriter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("metrics: mkdir %s: %w", dir, err)
	}
	return &EventWriter{dir: dir}, nil
}

// Write appends ev, separated from the previous event by a blank line.
func (w *EventWriter) Write(ev map[string]any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	day := time.Now().UTC().Format("2006-01-02")
	if w.file == nil || day != w.day {
		if w.file != nil {
			w.file.Close()
		}
		path := filepath.Join(w.dir, fmt.Sprintf("failover-metrics-%s.log", day))
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("metrics: open %s: %w", path, err)
		}
		w.file = f
		w.day = day
	}

	raw, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("metrics: marshal event: %w", err)
	}
	_, err = w.file.Write(append(raw, '\n', '\n'))
	return err
}

// Close closes the currently open file, if any.
func (w *EventWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file != nil {
		return w.file.Close()
	}
	return nil
}
