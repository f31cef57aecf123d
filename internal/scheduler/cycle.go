package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// DB abstracts the pgx query interface for testing.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// CycleStore persists one row per scheduling cycle so "last successful cycle"
// survives restarts and is visible to operators.
type CycleStore struct {
	db DB
}

func NewCycleStore(pool *pgxpool.Pool) *CycleStore {
	if pool == nil {
		panic("scheduler: pgx pool required")
	}
	return &CycleStore{db: pool}
}

func NewCycleStoreWithDB(db DB) *CycleStore {
	return &CycleStore{db: db}
}

// Begin records the start of a cycle.
func (s *CycleStore) Begin(ctx context.Context) (uuid.UUID, error) {
	id := uuid.New()
	_, err := s.db.Exec(ctx, `
		INSERT INTO scheduler_cycles (id, started_at, status)
		VALUES ($1, $2, 'running')`, id, time.Now().UTC())
	if err != nil {
		return uuid.Nil, fmt.Errorf("scheduler: begin cycle: %w", err)
	}
	return id, nil
}

// Finish marks the cycle succeeded with its dispatch counts.
func (s *CycleStore) Finish(ctx context.Context, id uuid.UUID, reminders, dispatched, failures int) error {
	_, err := s.db.Exec(ctx, `
		UPDATE scheduler_cycles
		SET finished_at = $2, status = 'succeeded', reminders = $3, dispatched = $4, failures = $5
		WHERE id = $1`, id, time.Now().UTC(), reminders, dispatched, failures)
	if err != nil {
		return fmt.Errorf("scheduler: finish cycle: %w", err)
	}
	return nil
}

// Fail marks the cycle failed.
func (s *CycleStore) Fail(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.Exec(ctx, `
		UPDATE scheduler_cycles SET finished_at = $2, status = 'failed' WHERE id = $1`,
		id, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("scheduler: fail cycle: %w", err)
	}
	return nil
}

// LastSuccess returns the finish time of the most recent succeeded cycle, or
// the zero time when no cycle has succeeded yet.
func (s *CycleStore) LastSuccess(ctx context.Context) (time.Time, error) {
	var t time.Time
	err := s.db.QueryRow(ctx, `
		SELECT finished_at FROM scheduler_cycles
		WHERE status = 'succeeded'
		ORDER BY finished_at DESC
		LIMIT 1`).Scan(&t)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return time.Time{}, nil
		}
		return time.Time{}, fmt.Errorf("scheduler: last success: %w", err)
	}
	return t, nil
}

const cycleLockKey = "previsit:scheduler:cycle-lock"

// CycleLock is a Redis SET NX mutual-exclusion guard. A second cycle starting
// while one runs is skipped, not queued.
type CycleLock struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewCycleLock(rdb *redis.Client, ttl time.Duration) *CycleLock {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &CycleLock{rdb: rdb, ttl: ttl}
}

// Acquire takes the lock. The release func deletes the lock only when this
// holder still owns it.
func (l *CycleLock) Acquire(ctx context.Context) (bool, func(), error) {
	token := uuid.NewString()
	ok, err := l.rdb.SetNX(ctx, cycleLockKey, token, l.ttl).Result()
	if err != nil {
		return false, nil, fmt.Errorf("scheduler: acquire cycle lock: %w", err)
	}
	if !ok {
		return false, nil, nil
	}
	release := func() {
		current, err := l.rdb.Get(context.Background(), cycleLockKey).Result()
		if err != nil || current != token {
			return
		}
		l.rdb.Del(context.Background(), cycleLockKey)
	}
	return true, release, nil
}
