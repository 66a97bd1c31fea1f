// Package durable is the local transactional fallback store: a SQLite file
// via modernc.org/sqlite (pure Go, no CGO), batched writes, and the
// claim-and-recover protocol used by the recovery manager.
package durable

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"

	_ "modernc.org/sqlite"

	"github.com/vilhelmsaro/car-seeder/internal/model"
)

const (
	defaultBatchSize  = 50
	defaultFlushDelay = 1000 * time.Millisecond
)

// Store wraps a single-writer *sql.DB and a batched write buffer.
type Store struct {
	db  *sql.DB
	ids *model.IDGenerator
	log zerolog.Logger

	batchSize  int
	flushDelay time.Duration

	mu         sync.Mutex
	buffer     []model.Car
	timer      *time.Timer
	shutdown   bool
	warnedDrop bool
}

// Open creates the parent directory if absent, opens the database, applies
// the durability pragmas, and migrates the schema.
func Open(path string, ids *model.IDGenerator, log zerolog.Logger) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("durable: mkdir %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("durable: open %s: %w", path, err)
	}

	// SQLite serialises writes; one connection avoids SQLITE_BUSY and gives
	// the claim protocol below a free lock (every statement on this handle
	// is already totally ordered by the connection pool).
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=FULL",
		"PRAGMA cache_size=10000",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("durable: %s: %w", pragma, err)
		}
	}

	s := &Store{
		db:         db,
		ids:        ids,
		log:        log,
		batchSize:  defaultBatchSize,
		flushDelay: defaultFlushDelay,
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("durable: migrate: %w", err)
	}

	log.Info().Str("path", path).Str("cache_hint", humanize.Bytes(10000*4096)).Msg("durable store ready")
	return s, nil
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS pending_cars (
			id                  TEXT PRIMARY KEY,
			normalized_make     TEXT NOT NULL,
			normalized_model    TEXT NOT NULL,
			year                INT  NOT NULL,
			price               REAL NOT NULL,
			location            TEXT NOT NULL,
			created_at          INT  NOT NULL,
			status              TEXT NOT NULL DEFAULT 'pending',
			retry_count         INT  NOT NULL DEFAULT 0,
			recovery_instance   TEXT,
			recovery_started_at INT,
			redis_job_id        TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_pending_cars_status_created
			ON pending_cars(status, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_pending_cars_recovery_instance
			ON pending_cars(recovery_instance)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// SaveCar buffers car for the next flush, triggered by batchSize or
// flushDelay since the first buffered record. While shutdown is in
// progress, saves are silently dropped, a documented behavior; recovery
// relies on prior commits.
func (s *Store) SaveCar(car model.Car) error {
	s.mu.Lock()
	if s.shutdown {
		if !s.warnedDrop {
			s.warnedDrop = true
			s.log.Warn().Msg("durable store is shutting down; further saves are dropped")
		}
		s.mu.Unlock()
		return nil
	}

	s.buffer = append(s.buffer, car)
	if len(s.buffer) == 1 {
		s.armTimerLocked()
	}
	full := len(s.buffer) >= s.batchSize
	s.mu.Unlock()

	if full {
		return s.flush()
	}
	return nil
}

func (s *Store) armTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(s.flushDelay, func() {
		if err := s.flush(); err != nil {
			s.log.Error().Err(err).Msg("durable store: timed flush failed")
		}
	})
}

// flush commits the buffered batch in one transaction. On failure it rolls
// back and re-prepends the batch so no record is lost.
func (s *Store) flush() error {
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if len(s.buffer) == 0 {
		s.mu.Unlock()
		return nil
	}
	batch := s.buffer
	s.buffer = nil
	s.mu.Unlock()

	if err := s.commitBatch(batch); err != nil {
		s.mu.Lock()
		s.buffer = append(batch, s.buffer...)
		if len(s.buffer) > 0 && s.timer == nil && !s.shutdown {
			s.armTimerLocked()
		}
		s.mu.Unlock()
		return fmt.Errorf("durable: commit batch: %w", err)
	}
	return nil
}

func (s *Store) commitBatch(batch []model.Car) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}

	base := time.Now().UnixMilli()
	stmt, err := tx.Prepare(`
		INSERT INTO pending_cars
			(id, normalized_make, normalized_model, year, price, location, created_at, status, retry_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, 'pending', 0)
	`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for i, car := range batch {
		createdAt := base + int64(i)
		id := s.ids.Next(createdAt)
		if _, err := stmt.Exec(id, car.NormalizedMake, car.NormalizedModel, car.Year, car.Price, car.Location, createdAt); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// ClaimPending atomically claims up to limit Pending records, ordered by
// created_at, marking them Recovering under instanceID. The update and
// select run as a single statement so two concurrent claimers cannot
// observe or take the same rows.
func (s *Store) ClaimPending(ctx context.Context, limit int, instanceID string) ([]model.PendingRecord, error) {
	now := time.Now().UnixMilli()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("durable: claim begin: %w", err)
	}

	rows, err := tx.QueryContext(ctx, `
		UPDATE pending_cars
		   SET status = 'recovering', recovery_instance = ?, recovery_started_at = ?
		 WHERE id IN (
		       SELECT id FROM pending_cars
		        WHERE status = 'pending'
		        ORDER BY created_at ASC
		        LIMIT ?
		       )
		RETURNING id, normalized_make, normalized_model, year, price, location,
		          created_at, status, retry_count, recovery_instance, recovery_started_at, redis_job_id
	`, instanceID, now, limit)
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("durable: claim: %w", err)
	}

	var claimed []model.PendingRecord
	for rows.Next() {
		rec, err := scanRecord(rows.Scan)
		if err != nil {
			rows.Close()
			tx.Rollback()
			return nil, fmt.Errorf("durable: claim scan: %w", err)
		}
		claimed = append(claimed, rec)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		tx.Rollback()
		return nil, fmt.Errorf("durable: claim rows: %w", err)
	}
	rows.Close()

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("durable: claim commit: %w", err)
	}
	return claimed, nil
}

// MarkSent marks each id Sent with its corresponding jobID. A jobID may be
// empty. Idempotent on ids already Sent.
func (s *Store) MarkSent(ctx context.Context, ids []string, jobIDs []string) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("durable: mark sent begin: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `UPDATE pending_cars SET status = 'sent', redis_job_id = ? WHERE id = ?`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("durable: mark sent prepare: %w", err)
	}
	defer stmt.Close()

	for i, id := range ids {
		var jobID string
		if i < len(jobIDs) {
			jobID = jobIDs[i]
		}
		if _, err := stmt.ExecContext(ctx, jobID, id); err != nil {
			tx.Rollback()
			return fmt.Errorf("durable: mark sent %s: %w", id, err)
		}
	}
	return tx.Commit()
}

// MarkPending releases claimed records back to Pending, incrementing
// retry_count, after a delivery attempt fails.
func (s *Store) MarkPending(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("durable: mark pending begin: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `
		UPDATE pending_cars
		   SET status = 'pending', retry_count = retry_count + 1,
		       recovery_instance = NULL, recovery_started_at = NULL
		 WHERE id = ?
	`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("durable: mark pending prepare: %w", err)
	}
	defer stmt.Close()

	for _, id := range ids {
		if _, err := stmt.ExecContext(ctx, id); err != nil {
			tx.Rollback()
			return fmt.Errorf("durable: mark pending %s: %w", id, err)
		}
	}
	return tx.Commit()
}

// PendingCount returns the number of Pending records.
//
// TODO: periodic vacuum of Sent rows is not implemented (no trim/compaction
// is specified); this is the call site where a `DELETE ... WHERE
// status='sent' AND created_at < ?` sweep would hook in.
func (s *Store) PendingCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM pending_cars WHERE status = 'pending'`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("durable: pending count: %w", err)
	}
	return n, nil
}

// CleanupStaleClaims reverts Recovering records whose claim is older than
// maxAge back to Pending, for abandoned claims.
func (s *Store) CleanupStaleClaims(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := time.Now().Add(-maxAge).UnixMilli()
	res, err := s.db.ExecContext(ctx, `
		UPDATE pending_cars
		   SET status = 'pending', recovery_instance = NULL, recovery_started_at = NULL
		 WHERE status = 'recovering' AND recovery_started_at < ?
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("durable: cleanup stale claims: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("durable: cleanup stale claims rows affected: %w", err)
	}
	return int(n), nil
}

// FlushPendingWrites forces the buffer to commit now and cancels the timer.
func (s *Store) FlushPendingWrites() error {
	return s.flush()
}

// Close marks shutdown, flushes the buffer, and closes the handle.
func (s *Store) Close() error {
	s.mu.Lock()
	s.shutdown = true
	s.mu.Unlock()

	if err := s.flush(); err != nil {
		s.log.Error().Err(err).Msg("durable store: final flush failed")
	}
	return s.db.Close()
}

type scanFn func(dest ...any) error

func scanRecord(scan scanFn) (model.PendingRecord, error) {
	var rec model.PendingRecord
	var status string
	err := scan(
		&rec.ID, &rec.Car.NormalizedMake, &rec.Car.NormalizedModel, &rec.Car.Year, &rec.Car.Price, &rec.Car.Location,
		&rec.CreatedAt, &status, &rec.RetryCount, &rec.RecoveryInstance, &rec.RecoveryStartedAt, &rec.RemoteJobID,
	)
	if err != nil {
		return model.PendingRecord{}, err
	}
	rec.Status = model.Status(status)
	return rec, nil
}
