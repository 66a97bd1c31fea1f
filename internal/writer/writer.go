// Package writer implements the per-record routing decision between the
// remote queue and the durable store.
package writer

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/vilhelmsaro/car-seeder/internal/breaker"
	"github.com/vilhelmsaro/car-seeder/internal/durable"
	"github.com/vilhelmsaro/car-seeder/internal/errkind"
	"github.com/vilhelmsaro/car-seeder/internal/metrics"
	"github.com/vilhelmsaro/car-seeder/internal/model"
	"github.com/vilhelmsaro/car-seeder/internal/queue"
	"github.com/vilhelmsaro/car-seeder/internal/state"
)

var durableRetryBackoff = []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}

// enqueueOpts is the fixed attempts/backoff contract for real car jobs.
var enqueueOpts = queue.EnqueueOptions{Attempts: 3, Backoff: 2000 * time.Millisecond}

// Handler is the single public writeCar operation.
type Handler struct {
	state   *state.Manager
	breaker *breaker.Breaker
	queue   *queue.Client
	durable *durable.Store
	metrics *metrics.Tracker
	log     zerolog.Logger
}

// New wires a Handler from its already-constructed dependencies.
func New(st *state.Manager, br *breaker.Breaker, q *queue.Client, ds *durable.Store, mt *metrics.Tracker, log zerolog.Logger) *Handler {
	return &Handler{state: st, breaker: br, queue: q, durable: ds, metrics: mt, log: log}
}

// WriteCar routes car to the remote queue or the durable store: a HalfOpen
// probe or RedisMode state attempts the remote queue first, otherwise the
// record goes straight to the durable store.
func (h *Handler) WriteCar(ctx context.Context, car model.Car) error {
	probe := h.breaker.Get() == breaker.HalfOpen
	if probe || h.state.Get() == state.RedisMode {
		return h.attemptRemote(ctx, car, probe)
	}
	return h.writeDurable(ctx, car)
}

func (h *Handler) attemptRemote(ctx context.Context, car model.Car, probe bool) error {
	if h.breaker.Get() == breaker.Open {
		h.state.Set(state.SqliteMode)
		return h.writeDurable(ctx, car)
	}

	_, err := h.queue.Enqueue(ctx, "car", car, enqueueOpts)
	if err == nil {
		h.breaker.RecordSuccess()
		if h.state.Get() == state.SqliteMode {
			h.state.Set(state.RedisMode)
			// Closes the failover session here, on the probe write, which can
			// land before the recovery manager's drain of the durable backlog
			// actually finishes; RecoveryCompleted may then report against a
			// newly (re)opened session rather than the one just closed.
			h.metrics.RecordStateTransitionToRedis()
			h.log.Info().Bool("was_probe", probe).Msg("remote recovered; resuming redis mode")
		}
		return nil
	}

	if errkind.Classify(err) != errkind.Transport {
		return err
	}

	wasOpen := h.breaker.Get() == breaker.Open
	h.breaker.RecordFailure()
	if h.breaker.Get() == breaker.Open && h.state.Get() != state.SqliteMode {
		if !wasOpen {
			h.metrics.RecordMasterFailure()
		}
		h.state.Set(state.SqliteMode)
		h.metrics.RecordStateTransitionToSqlite()
	}
	h.metrics.IncrementFallback()
	return h.writeDurable(ctx, car)
}

// writeDurable retries SaveCar up to two times with 100ms/200ms backoff
// before reporting data loss.
func (h *Handler) writeDurable(ctx context.Context, car model.Car) error {
	var lastErr error
	for attempt := 0; ; attempt++ {
		if err := h.durable.SaveCar(car); err != nil {
			lastErr = err
			if attempt >= len(durableRetryBackoff) {
				break
			}
			select {
			case <-time.After(durableRetryBackoff[attempt]):
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}
		return nil
	}
	h.log.Error().Err(lastErr).Msg("data will be lost: durable store retries exhausted")
	return lastErr
}
