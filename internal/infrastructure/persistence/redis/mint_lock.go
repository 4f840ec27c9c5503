package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrLockHeld is returned when another holder owns the lock.
var ErrLockHeld = errors.New("lock: already held")

// MintLock hands out short leases keyed by a mint idempotency key.
// SET NX PX with a random token; release deletes only our own token.
type MintLock struct {
	cache *Cache
	ttl   time.Duration
}

// NewMintLock creates a new MintLock. Non-positive ttl selects TTLMintLock.
func NewMintLock(cache *Cache, ttl time.Duration) *MintLock {
	if ttl <= 0 {
		ttl = TTLMintLock
	}
	return &MintLock{
		cache: cache,
		ttl:   ttl,
	}
}

// Acquire takes the lease for key. Returns ErrLockHeld if someone else holds it.
// The returned release func is safe to call after the lease expired.
func (l *MintLock) Acquire(ctx context.Context, key string) (release func(context.Context) error, err error) {
	token := uuid.NewString()
	lockKey := LockKey("mint:" + key)

	ok, err := l.cache.SetNX(ctx, lockKey, token, l.ttl)
	if err != nil {
		return nil, fmt.Errorf("acquire mint lock: %w", err)
	}
	if !ok {
		return nil, ErrLockHeld
	}

	return func(ctx context.Context) error {
		if _, err := l.cache.DeleteIfEquals(ctx, lockKey, token); err != nil {
			return fmt.Errorf("release mint lock: %w", err)
		}
		return nil
	}, nil
}
