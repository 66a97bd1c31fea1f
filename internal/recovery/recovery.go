// Package recovery detects remote recovery, drives circuit-breaker/state
// transitions, and drains the durable store back into the queue.
package recovery

import (
	"context"
	"sync"
	"sync/atomic"
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

var drainEnqueueOpts = queue.EnqueueOptions{Attempts: 3, Backoff: 2000 * time.Millisecond}

const staleClaimThreshold = 5 * time.Minute

// Manager is the recovery engine: event subscription, forced reconnection,
// periodic health probe, and the drain loop.
type Manager struct {
	state   *state.Manager
	breaker *breaker.Breaker
	queue   *queue.Client
	durable *durable.Store
	metrics *metrics.Tracker
	log     zerolog.Logger

	instanceID    string
	chunkSize     int
	checkInterval time.Duration
	drainCooldown time.Duration

	reconnecting atomic.Bool
	recovering   atomic.Bool

	mu                  sync.Mutex
	lastForcedReconnect time.Time
	lastDrain           time.Time
}

// New wires a Manager from its dependencies.
func New(
	st *state.Manager,
	br *breaker.Breaker,
	q *queue.Client,
	ds *durable.Store,
	mt *metrics.Tracker,
	instanceID string,
	chunkSize int,
	checkInterval, drainCooldown time.Duration,
	log zerolog.Logger,
) *Manager {
	return &Manager{
		state:         st,
		breaker:       br,
		queue:         q,
		durable:       ds,
		metrics:       mt,
		log:           log,
		instanceID:    instanceID,
		chunkSize:     chunkSize,
		checkInterval: checkInterval,
		drainCooldown: drainCooldown,
	}
}

// OnReady is passed to queue.Connect as the connection-ready listener: if
// the quorum path is already handling a reconnection, do nothing; otherwise
// wait to stabilize, re-check availability, and proceed as the event path
// would.
func (m *Manager) OnReady() {
	if m.reconnecting.Load() {
		return
	}
	go func() {
		time.Sleep(500 * time.Millisecond)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		m.maybePromote(ctx)
	}()
}

// EventHandler adapts OnSwitchMaster to queue.EventHandler for a caller
// holding the configured master name.
func (m *Manager) EventHandler(masterName string) queue.EventHandler {
	return queue.EventHandler{
		OnSwitchMaster: func(ev queue.SwitchMasterEvent) {
			if ev.MasterName != masterName {
				return
			}
			m.onSwitchMaster()
		},
	}
}

func (m *Manager) onSwitchMaster() {
	if !m.reconnecting.CompareAndSwap(false, true) {
		return
	}
	defer m.reconnecting.Store(false)

	m.mu.Lock()
	since := time.Since(m.lastForcedReconnect)
	if !m.lastForcedReconnect.IsZero() && since < 2*time.Second {
		m.mu.Unlock()
		return
	}
	m.lastForcedReconnect = time.Now()
	m.mu.Unlock()

	m.forceReconnection(context.Background())
}

// forceReconnection waits to settle, reconnects, waits to stabilize, then
// probes. The old connection stays open through the first wait; Reconnect
// closes it only once the new one is in place. On success while in
// SqliteMode it signals metrics, moves the breaker to HalfOpen, and
// triggers recovery.
func (m *Manager) forceReconnection(ctx context.Context) {
	m.log.Info().Msg("recovery: forcing reconnection")

	time.Sleep(500 * time.Millisecond)
	if err := m.queue.Reconnect(ctx); err != nil {
		m.log.Error().Err(err).Msg("recovery: forced reconnect failed")
		return
	}
	time.Sleep(1000 * time.Millisecond)

	if err := m.queue.TestWrite(ctx); err != nil {
		m.log.Warn().Err(err).Msg("recovery: post-reconnect probe failed")
		return
	}

	if m.state.Get() == state.SqliteMode {
		m.metrics.RecordSentinelPromotion()
		m.breaker.TransitionToHalfOpen()
		go m.TriggerRecovery(context.Background())
	}
}

func (m *Manager) maybePromote(ctx context.Context) {
	if err := m.queue.TestWrite(ctx); err != nil {
		return
	}
	if m.state.Get() == state.SqliteMode {
		m.metrics.RecordSentinelPromotion()
		m.breaker.TransitionToHalfOpen()
		go m.TriggerRecovery(context.Background())
	}
}

// RunHealthProbe starts the periodic health-probe loop; it returns when ctx
// is canceled.
func (m *Manager) RunHealthProbe(ctx context.Context) {
	ticker := time.NewTicker(m.checkInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.healthProbeTick(ctx)
		}
	}
}

func (m *Manager) healthProbeTick(ctx context.Context) {
	if m.state.Get() == state.SqliteMode && m.breaker.Get() == breaker.Open {
		probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err := m.queue.TestWrite(probeCtx)
		cancel()
		if err == nil {
			m.breaker.TransitionToHalfOpen()
			m.metrics.RecordSentinelPromotion()
		}
	}

	n, err := m.durable.PendingCount(ctx)
	if err != nil {
		m.log.Error().Err(err).Msg("recovery: pending count failed")
		return
	}
	if n > 0 {
		go m.TriggerRecovery(context.Background())
	}
}

// Bootstrap reverts any claims left behind by a previous instance that
// restarted mid-drain, before the generator starts producing.
func (m *Manager) Bootstrap(ctx context.Context) error {
	reverted, err := m.durable.CleanupStaleClaims(ctx, staleClaimThreshold)
	if err != nil {
		return err
	}
	if reverted > 0 {
		m.log.Info().Int("reverted", reverted).Msg("recovery: reclaimed claims from a prior instance at startup")
	}
	return nil
}

// isRedisAvailable short-circuits false if the breaker is Open, otherwise
// pings with a 2s deadline, falling back to TestWrite.
func (m *Manager) isRedisAvailable(ctx context.Context) bool {
	if m.breaker.Get() == breaker.Open {
		return false
	}
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	err := m.queue.Ping(pingCtx)
	cancel()
	if err == nil {
		return true
	}
	testCtx, cancel2 := context.WithTimeout(ctx, 3*time.Second)
	defer cancel2()
	return m.queue.TestWrite(testCtx) == nil
}

// TriggerRecovery is guarded so only one drain runs at a time, throttled by
// drainCooldown between drains.
func (m *Manager) TriggerRecovery(ctx context.Context) {
	if !m.recovering.CompareAndSwap(false, true) {
		return
	}
	defer m.recovering.Store(false)

	m.mu.Lock()
	since := time.Since(m.lastDrain)
	if !m.lastDrain.IsZero() && since < m.drainCooldown {
		m.mu.Unlock()
		return
	}
	m.lastDrain = time.Now()
	m.mu.Unlock()

	if !m.isRedisAvailable(ctx) {
		return
	}

	m.metrics.RecordRecoveryStarted()

	if reverted, err := m.durable.CleanupStaleClaims(ctx, staleClaimThreshold); err != nil {
		m.log.Error().Err(err).Msg("recovery: cleanup stale claims failed")
	} else if reverted > 0 {
		m.log.Info().Int("reverted", reverted).Msg("recovery: reclaimed abandoned claims")
	}

	recovered, failed := m.drain(ctx)

	m.log.Info().Int("recovered", recovered).Int("failed", failed).Msg("recovery: drain complete")
	m.metrics.RecordRecoveryCompleted(recovered, failed)
}

func (m *Manager) drain(ctx context.Context) (recovered, failed int) {
	for {
		claimed, err := m.durable.ClaimPending(ctx, m.chunkSize, m.instanceID)
		if err != nil {
			m.log.Error().Err(err).Msg("recovery: claim failed")
			return recovered, failed
		}
		if len(claimed) == 0 {
			return recovered, failed
		}

		if !m.isRedisAvailable(ctx) {
			ids := make([]string, len(claimed))
			for i, rec := range claimed {
				ids[i] = rec.ID
			}
			if err := m.durable.MarkPending(ctx, ids); err != nil {
				m.log.Error().Err(err).Msg("recovery: mark pending (remote unavailable) failed")
			}
			failed += len(claimed)
			return recovered, failed
		}

		var sentIDs, jobIDs, failedIDs []string
		batchAborted := false
		for _, rec := range claimed {
			jobID, err := m.queue.Enqueue(ctx, "car", rec.Car, drainEnqueueOpts)
			if err != nil {
				if errkind.Classify(err) == errkind.Transport {
					batchAborted = true
					break
				}
				failedIDs = append(failedIDs, rec.ID)
				continue
			}
			sentIDs = append(sentIDs, rec.ID)
			jobIDs = append(jobIDs, jobID)
		}

		if batchAborted {
			remaining := remainingIDs(claimed, sentIDs)
			if err := m.durable.MarkPending(ctx, remaining); err != nil {
				m.log.Error().Err(err).Msg("recovery: revert aborted batch failed")
			}
			failed += len(remaining)
			return recovered, failed
		}

		if len(sentIDs) > 0 {
			if err := m.durable.MarkSent(ctx, sentIDs, jobIDs); err != nil {
				m.log.Error().Err(err).Msg("recovery: mark sent failed")
			}
		}
		if len(failedIDs) > 0 {
			if err := m.durable.MarkPending(ctx, failedIDs); err != nil {
				m.log.Error().Err(err).Msg("recovery: mark pending (per-record failure) failed")
			}
		}
		recovered += len(sentIDs)
		failed += len(failedIDs)
	}
}

// remainingIDs returns the ids of claimed records not already in sent, used
// to revert a batch aborted mid-loop by a transport error.
func remainingIDs(claimed []model.PendingRecord, sent []string) []string {
	sentSet := make(map[string]struct{}, len(sent))
	for _, id := range sent {
		sentSet[id] = struct{}{}
	}
	var remaining []string
	for _, rec := range claimed {
		if _, ok := sentSet[rec.ID]; !ok {
			remaining = append(remaining, rec.ID)
		}
	}
	return remaining
}
