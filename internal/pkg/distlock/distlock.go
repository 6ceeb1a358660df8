// Package distlock provides a best-effort cross-process lock used to skip
// overlapping runner ticks. Correctness never depends on it: every
// side-effecting step is guarded by a conditional insert or update in the
// durable store. The lock only saves wasted batch scans.
package distlock

import (
	"context"
	"database/sql"
	"hash/fnv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Lock is a non-blocking distributed lock.
type Lock interface {
	// Acquire tries to take the lock; true on success.
	Acquire(ctx context.Context) (bool, error)
	// Release gives the lock back if still held by this instance.
	Release(ctx context.Context) error
}

// New picks the best available backend: Redis when a client is configured,
// otherwise a Postgres advisory lock on the pipeline database.
func New(redisClient *redis.Client, db *sql.DB, key string, ttl time.Duration) Lock {
	if redisClient != nil {
		return NewRedisLock(redisClient, key, ttl)
	}
	return NewPGAdvisoryLock(db, key)
}

// PGAdvisoryLock implements Lock on pg_try_advisory_lock. Session-scoped:
// a dropped connection releases it, which stands in for a TTL.
type PGAdvisoryLock struct {
	db     *sql.DB
	lockID int64
}

// NewPGAdvisoryLock derives a deterministic advisory lock id from key.
func NewPGAdvisoryLock(db *sql.DB, key string) *PGAdvisoryLock {
	h := fnv.New64a()
	h.Write([]byte(key))
	return &PGAdvisoryLock{db: db, lockID: int64(h.Sum64())}
}

// Acquire tries the advisory lock without blocking.
func (l *PGAdvisoryLock) Acquire(ctx context.Context) (bool, error) {
	var acquired bool
	err := l.db.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", l.lockID).Scan(&acquired)
	return acquired, err
}

// Release unlocks the advisory lock.
func (l *PGAdvisoryLock) Release(ctx context.Context) error {
	_, err := l.db.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", l.lockID)
	return err
}
