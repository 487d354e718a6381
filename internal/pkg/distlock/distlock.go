// Package distlock provides cross-process mutual exclusion. The dispatcher
// holds one lock per campaign so two dispatch requests for the same
// campaign never interleave.
package distlock

import (
	"context"
	"database/sql"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DistLock is the interface for distributed locking. A lock instance
// belongs to one holder; concurrent holders need separate instances.
type DistLock interface {
	// Acquire tries to acquire the lock. Returns true if successful.
	Acquire(ctx context.Context) (bool, error)
	// Release releases the lock if we still own it.
	Release(ctx context.Context) error
	// Refresh keeps a held lock alive for another TTL. Returns false when
	// the lock is no longer ours.
	Refresh(ctx context.Context) (bool, error)
}

// Factory builds a fresh lock for a key.
type Factory func(key string) DistLock

// NewFactory picks the best available backend: Redis when redisClient is
// set, PostgreSQL advisory locks when only db is set, and a process-local
// lock table otherwise.
func NewFactory(redisClient redis.UniversalClient, db *sql.DB, ttl time.Duration) Factory {
	switch {
	case redisClient != nil:
		return func(key string) DistLock { return NewRedisLock(redisClient, key, ttl) }
	case db != nil:
		return func(key string) DistLock { return NewPGAdvisoryLock(db, key) }
	}
	local := &localTable{held: make(map[string]struct{})}
	return func(key string) DistLock { return &localLock{table: local, key: key} }
}

// CampaignKey is the lock key guarding dispatch of one campaign.
func CampaignKey(campaignID string) string {
	return "dispatch:campaign:" + campaignID
}

// PGAdvisoryLock implements DistLock using PostgreSQL advisory locks.
// Advisory locks are session-scoped, so the lock pins one pooled
// connection from Acquire until Release. A dropped connection releases the
// lock server-side.
type PGAdvisoryLock struct {
	db     *sql.DB
	lockID int64
	conn   *sql.Conn
}

// NewPGAdvisoryLock creates a PG advisory lock with a deterministic lock ID
// derived from the given key string.
func NewPGAdvisoryLock(db *sql.DB, key string) *PGAdvisoryLock {
	h := fnv.New64a()
	h.Write([]byte(key))
	return &PGAdvisoryLock{
		db:     db,
		lockID: int64(h.Sum64()),
	}
}

// Acquire calls pg_try_advisory_lock, which never blocks.
func (l *PGAdvisoryLock) Acquire(ctx context.Context) (bool, error) {
	conn, err := l.db.Conn(ctx)
	if err != nil {
		return false, fmt.Errorf("distlock: get connection: %w", err)
	}
	var acquired bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", l.lockID).Scan(&acquired); err != nil {
		conn.Close()
		return false, fmt.Errorf("distlock: try advisory lock: %w", err)
	}
	if !acquired {
		conn.Close()
		return false, nil
	}
	l.conn = conn
	return true, nil
}

// Release unlocks and returns the pinned connection to the pool.
func (l *PGAdvisoryLock) Release(ctx context.Context) error {
	if l.conn == nil {
		return nil
	}
	_, err := l.conn.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", l.lockID)
	l.conn.Close()
	l.conn = nil
	return err
}

// Refresh checks the pinned session is still alive. The advisory lock has
// no TTL and lasts as long as the session.
func (l *PGAdvisoryLock) Refresh(ctx context.Context) (bool, error) {
	if l.conn == nil {
		return false, nil
	}
	if err := l.conn.PingContext(ctx); err != nil {
		return false, fmt.Errorf("distlock: ping advisory session: %w", err)
	}
	return true, nil
}

type localTable struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// localLock serializes holders inside one process. Used when neither Redis
// nor Postgres is configured (the in-memory deployment).
type localLock struct {
	table *localTable
	key   string
	owned bool
}

func (l *localLock) Acquire(context.Context) (bool, error) {
	l.table.mu.Lock()
	defer l.table.mu.Unlock()
	if _, busy := l.table.held[l.key]; busy {
		return false, nil
	}
	l.table.held[l.key] = struct{}{}
	l.owned = true
	return true, nil
}

func (l *localLock) Release(context.Context) error {
	if !l.owned {
		return nil
	}
	l.table.mu.Lock()
	delete(l.table.held, l.key)
	l.table.mu.Unlock()
	l.owned = false
	return nil
}

func (l *localLock) Refresh(context.Context) (bool, error) {
	return l.owned, nil
}
