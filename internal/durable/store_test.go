package durable

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/vilhelmsaro/car-seeder/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cars.db")
	s, err := Open(path, model.NewIDGenerator(), zerolog.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleCar() model.Car {
	return model.Car{NormalizedMake: "toyota", NormalizedModel: "corolla", Year: 2020, Price: 18999.5, Location: "austin"}
}

func TestSaveCarFlushesAtBatchSize(t *testing.T) {
	s := newTestStore(t)
	s.batchSize = 5
	s.flushDelay = time.Hour // disable the timer path for this test

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if err := s.SaveCar(sampleCar()); err != nil {
			t.Fatalf("SaveCar: %v", err)
		}
	}

	n, err := s.PendingCount(ctx)
	if err != nil {
		t.Fatalf("PendingCount: %v", err)
	}
	if n != 5 {
		t.Fatalf("want 5 pending after batch flush, got %d", n)
	}
}

func TestSaveCarFlushesOnTimer(t *testing.T) {
	s := newTestStore(t)
	s.batchSize = 1000
	s.flushDelay = 30 * time.Millisecond

	if err := s.SaveCar(sampleCar()); err != nil {
		t.Fatalf("SaveCar: %v", err)
	}

	ctx := context.Background()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if n, _ := s.PendingCount(ctx); n == 1 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("record never flushed by timer")
}

func TestClaimPendingIsExclusiveAcrossConcurrentCallers(t *testing.T) {
	s := newTestStore(t)
	s.batchSize = 1
	s.flushDelay = time.Hour

	for i := 0; i < 100; i++ {
		if err := s.SaveCar(sampleCar()); err != nil {
			t.Fatalf("SaveCar: %v", err)
		}
	}

	ctx := context.Background()
	var mu sync.Mutex
	claimedIDs := make(map[string]bool)
	var wg sync.WaitGroup
	var total int

	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(instance string) {
			defer wg.Done()
			for {
				recs, err := s.ClaimPending(ctx, 10, instance)
				if err != nil {
					t.Errorf("ClaimPending: %v", err)
					return
				}
				if len(recs) == 0 {
					return
				}
				mu.Lock()
				for _, r := range recs {
					if claimedIDs[r.ID] {
						t.Errorf("id %s claimed twice", r.ID)
					}
					claimedIDs[r.ID] = true
				}
				total += len(recs)
				mu.Unlock()
			}
		}(string(rune('A' + w)))
	}
	wg.Wait()

	if total != 100 {
		t.Fatalf("want 100 claimed total, got %d", total)
	}
}

func TestMarkSentThenMarkPendingLifecycle(t *testing.T) {
	s := newTestStore(t)
	s.batchSize = 1
	s.flushDelay = time.Hour
	ctx := context.Background()

	if err := s.SaveCar(sampleCar()); err != nil {
		t.Fatalf("SaveCar: %v", err)
	}

	recs, err := s.ClaimPending(ctx, 10, "instance-a")
	if err != nil {
		t.Fatalf("ClaimPending: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("want 1 claimed, got %d", len(recs))
	}
	rec := recs[0]
	if rec.Status != model.StatusRecovering {
		t.Fatalf("want Recovering, got %s", rec.Status)
	}

	if err := s.MarkSent(ctx, []string{rec.ID}, []string{"job-123"}); err != nil {
		t.Fatalf("MarkSent: %v", err)
	}

	// Idempotent: marking the same id Sent again must not error.
	if err := s.MarkSent(ctx, []string{rec.ID}, []string{"job-123"}); err != nil {
		t.Fatalf("MarkSent (idempotent): %v", err)
	}

	n, err := s.PendingCount(ctx)
	if err != nil {
		t.Fatalf("PendingCount: %v", err)
	}
	if n != 0 {
		t.Fatalf("want 0 pending after send, got %d", n)
	}
}

func TestMarkPendingIncrementsRetryCount(t *testing.T) {
	s := newTestStore(t)
	s.batchSize = 1
	s.flushDelay = time.Hour
	ctx := context.Background()

	if err := s.SaveCar(sampleCar()); err != nil {
		t.Fatalf("SaveCar: %v", err)
	}
	recs, err := s.ClaimPending(ctx, 10, "instance-a")
	if err != nil || len(recs) != 1 {
		t.Fatalf("ClaimPending: %v %v", recs, err)
	}

	if err := s.MarkPending(ctx, []string{recs[0].ID}); err != nil {
		t.Fatalf("MarkPending: %v", err)
	}

	recs2, err := s.ClaimPending(ctx, 10, "instance-b")
	if err != nil {
		t.Fatalf("ClaimPending (2nd): %v", err)
	}
	if len(recs2) != 1 {
		t.Fatalf("want record reclaimable, got %d", len(recs2))
	}
	if recs2[0].RetryCount != 1 {
		t.Fatalf("want retry_count=1, got %d", recs2[0].RetryCount)
	}
}

func TestCleanupStaleClaimsRevertsAbandonedClaims(t *testing.T) {
	s := newTestStore(t)
	s.batchSize = 1
	s.flushDelay = time.Hour
	ctx := context.Background()

	if err := s.SaveCar(sampleCar()); err != nil {
		t.Fatalf("SaveCar: %v", err)
	}
	recs, err := s.ClaimPending(ctx, 10, "instance-a")
	if err != nil || len(recs) != 1 {
		t.Fatalf("ClaimPending: %v %v", recs, err)
	}

	// Backdate the claim directly so it looks abandoned.
	staleCutoff := time.Now().Add(-10 * time.Minute).UnixMilli()
	if _, err := s.db.ExecContext(ctx, `UPDATE pending_cars SET recovery_started_at = ? WHERE id = ?`, staleCutoff, recs[0].ID); err != nil {
		t.Fatalf("backdate: %v", err)
	}

	reverted, err := s.CleanupStaleClaims(ctx, 5*time.Minute)
	if err != nil {
		t.Fatalf("CleanupStaleClaims: %v", err)
	}
	if reverted != 1 {
		t.Fatalf("want 1 reverted, got %d", reverted)
	}

	n, err := s.PendingCount(ctx)
	if err != nil {
		t.Fatalf("PendingCount: %v", err)
	}
	if n != 1 {
		t.Fatalf("want record pending again, got %d", n)
	}
}
