package repository

import (
	"fmt"
	"time"
)

// LockRepository implements named cross-instance locks on top of a
// plain table. A lock row carries an expiry; acquisition either inserts
// a fresh row or steals one whose holder let it expire, so a crashed
// instance can never hold a lock forever.
type LockRepository struct {
	db *Store
}

// NewLockRepository creates a lock repository
func NewLockRepository(db *Store) *LockRepository {
	return &LockRepository{db: db}
}

// Acquire attempts to take the named lock for ttl. Returns true when
// this holder now owns the lock. The upsert updates an existing row
// only when it has expired, so a live lock held by someone else leaves
// zero rows changed.
func (r *LockRepository) Acquire(name, holder string, ttl time.Duration) (bool, error) {
	now := time.Now().Unix()
	expires := time.Now().Add(ttl).Unix()

	res, err := r.db.Exec(`
		INSERT INTO scheduler_locks (name, holder, acquired_at, expires_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE
		SET holder = excluded.holder, acquired_at = excluded.acquired_at, expires_at = excluded.expires_at
		WHERE scheduler_locks.expires_at < ?`,
		name, holder, now, expires, now,
	)
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock %q: %w", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Release drops the named lock if this holder still owns it
func (r *LockRepository) Release(name, holder string) error {
	_, err := r.db.Exec(`DELETE FROM scheduler_locks WHERE name = ? AND holder = ?`, name, holder)
	if err != nil {
		return fmt.Errorf("failed to release lock %q: %w", name, err)
	}
	return nil
}
