// Package queue is the work-queue client: direct or Sentinel-quorum Redis,
// enqueue/ping/health-probe operations, and a small connection-ready hook
// the recovery manager uses as its connection-ready listener.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const queueName = "car-seeder-queue"

// Config selects direct or Sentinel-quorum connection shape.
type Config struct {
	UseSentinel        bool
	SentinelHosts      []string
	SentinelMasterName string
	Host               string
	Port               int
}

func (c Config) addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// EnqueueOptions carries the per-job attempts/backoff contract.
type EnqueueOptions struct {
	Attempts int
	Backoff  time.Duration
}

// ReadyFunc is called after every successful dial, the closest go-redis
// analogue to the transport's "ready" event.
type ReadyFunc func()

// Client owns the Redis connection used for enqueue/ping/health-probing.
// Reconnect swaps the underlying redis.UniversalClient so callers sharing
// this Client immediately use the fresh connection.
type Client struct {
	cfg   Config
	ready ReadyFunc
	log   zerolog.Logger

	mu  sync.RWMutex
	rdb redis.UniversalClient
}

// Connect dials the queue, waits for it to become ready, and returns a
// Client. Offline-queueing is disabled: writes fail immediately when the
// transport is down.
func Connect(ctx context.Context, cfg Config, ready ReadyFunc, log zerolog.Logger) (*Client, error) {
	c := &Client{cfg: cfg, ready: ready, log: log}
	rdb, err := c.dial()
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.rdb = rdb
	c.mu.Unlock()

	if err := c.waitReady(ctx); err != nil {
		rdb.Close()
		return nil, err
	}
	return c, nil
}

func (c *Client) dial() (redis.UniversalClient, error) {
	var rdb redis.UniversalClient
	if c.cfg.UseSentinel {
		rdb = redis.NewFailoverClient(&redis.FailoverOptions{
			MasterName:    c.cfg.SentinelMasterName,
			SentinelAddrs: c.cfg.SentinelHosts,
		})
	} else {
		rdb = redis.NewClient(&redis.Options{Addr: c.cfg.addr()})
	}
	rdb.AddHook(&readyHook{onReady: c.ready})
	return rdb, nil
}

// waitReady verifies the connection by pinging until it answers, waiting
// attempt*50ms between tries (capped at 2s), failing after 30s total.
func (c *Client) waitReady(ctx context.Context) error {
	deadline := time.Now().Add(30 * time.Second)
	attempt := 0
	for {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := c.Ping(pingCtx)
		cancel()
		if err == nil {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("queue: not ready after 30s: %w", err)
		}
		attempt++
		wait := attempt * 50
		if wait > 2000 {
			wait = 2000
		}
		select {
		case <-time.After(time.Duration(wait) * time.Millisecond):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Client) client() redis.UniversalClient {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.rdb
}

// carJob is the wire payload placed on the list-backed work queue.
type carJob struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Payload    json.RawMessage `json:"payload"`
	Attempts   int             `json:"attempts"`
	BackoffMS  int64           `json:"backoffMs"`
	EnqueuedAt int64           `json:"enqueuedAt"`
}

// Enqueue pushes payload onto the named work queue and returns its job id.
func (c *Client) Enqueue(ctx context.Context, jobName string, payload any, opts EnqueueOptions) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("queue: marshal payload: %w", err)
	}
	job := carJob{
		ID:         uuid.NewString(),
		Name:       jobName,
		Payload:    raw,
		Attempts:   opts.Attempts,
		BackoffMS:  opts.Backoff.Milliseconds(),
		EnqueuedAt: time.Now().UnixMilli(),
	}
	encoded, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("queue: marshal job: %w", err)
	}
	if err := c.client().LPush(ctx, queueName, encoded).Err(); err != nil {
		return "", fmt.Errorf("queue: enqueue %s: %w", jobName, err)
	}
	return job.ID, nil
}

// Ping returns nil on PONG, error otherwise.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.client().Ping(ctx).Result()
	if err != nil {
		return fmt.Errorf("queue: ping: %w", err)
	}
	return nil
}

// TestWrite probes writability by setting a throwaway health-check-test key
// (3s TTL) and deleting it again, with a 3s overall deadline. It does not
// place a job on the work queue.
func (c *Client) TestWrite(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	key := fmt.Sprintf("%s:health-check-test:%s", queueName, uuid.NewString())
	if err := c.client().Set(ctx, key, "1", 3*time.Second).Err(); err != nil {
		return fmt.Errorf("queue: test write: %w", err)
	}
	c.client().Del(context.Background(), key)
	return nil
}

// Reconnect closes the current connection and dials a fresh one, used by
// the recovery manager's forced-reconnection sequence.
func (c *Client) Reconnect(ctx context.Context) error {
	c.mu.Lock()
	old := c.rdb
	c.mu.Unlock()

	rdb, err := c.dial()
	if err != nil {
		return fmt.Errorf("queue: reconnect dial: %w", err)
	}

	c.mu.Lock()
	c.rdb = rdb
	c.mu.Unlock()

	if old != nil {
		old.Close()
	}
	return c.waitReady(ctx)
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.client().Close()
}

// readyHook fires onReady after every successful dial, standing in for the
// transport's "ready" event.
type readyHook struct {
	onReady ReadyFunc
}

func (h *readyHook) DialHook(next redis.DialHook) redis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		conn, err := next(ctx, network, addr)
		if err == nil && h.onReady != nil {
			h.onReady()
		}
		return conn, err
	}
}

func (h *readyHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return next
}

func (h *readyHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return next
}
