package generator

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/vilhelmsaro/car-seeder/internal/model"
)

func TestGeneratorInvokesSinkRepeatedly(t *testing.T) {
	var calls atomic.Int64
	g := New(5*time.Millisecond, func(ctx context.Context, car model.Car) error {
		calls.Add(1)
		return nil
	}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g.Start(ctx)
	defer g.Stop()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if calls.Load() >= 3 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("sink invoked only %d times, want >= 3", calls.Load())
}

func TestGeneratorStopWaitsForLoopExit(t *testing.T) {
	g := New(2*time.Millisecond, func(ctx context.Context, car model.Car) error {
		return nil
	}, zerolog.Nop())

	ctx := context.Background()
	g.Start(ctx)
	g.Stop()

	select {
	case <-g.done:
	default:
		t.Fatalf("Stop returned before run loop exited")
	}
}

func TestGeneratorContinuesAfterSinkError(t *testing.T) {
	var calls atomic.Int64
	g := New(5*time.Millisecond, func(ctx context.Context, car model.Car) error {
		calls.Add(1)
		return errors.New("boom")
	}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g.Start(ctx)
	defer g.Stop()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if calls.Load() >= 3 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("sink invoked only %d times despite errors, want >= 3", calls.Load())
}

func TestGeneratorStopsOnContextCancel(t *testing.T) {
	var calls atomic.Int64
	g := New(5*time.Millisecond, func(ctx context.Context, car model.Car) error {
		calls.Add(1)
		return nil
	}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	g.Start(ctx)
	cancel()

	select {
	case <-g.done:
	case <-time.After(time.Second):
		t.Fatalf("generator did not exit after context cancel")
	}
}
