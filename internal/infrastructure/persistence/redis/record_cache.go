package redis

import (
	"context"
	"errors"
	"fmt"
	"math/bits"
	"time"

	"github.com/alem-hub/shadow-ranch/internal/domain/progress"
)

// RecordCache implements progress.Cache on top of Cache.
// Entries live under the record address and hold the binary layout the
// stores use, prefixed with a freshness version. Since bits are only ever
// added, a write carrying fewer bits or an older update time than the
// cached entry is stale and gets dropped.
type RecordCache struct {
	cache *Cache
	ttl   time.Duration
}

var _ progress.Cache = (*RecordCache)(nil)

// NewRecordCache creates a new RecordCache. Non-positive ttl selects TTLRecordCache.
func NewRecordCache(cache *Cache, ttl time.Duration) *RecordCache {
	if ttl <= 0 {
		ttl = TTLRecordCache
	}
	return &RecordCache{
		cache: cache,
		ttl:   ttl,
	}
}

// recordKey is the cache key of the record owned by authority.
func recordKey(authority progress.Authority) string {
	return ProgressKey(progress.AddressOf(authority).String())
}

// freshness orders the states of one record: set bits first, then the
// update time in unix seconds.
func freshness(rec progress.Record) uint64 {
	set := bits.OnesCount16(rec.ChallengesCompleted) + bits.OnesCount8(rec.ModulesCompleted)
	return uint64(set)<<32 | uint64(uint32(rec.UpdatedAt.Unix()))
}

// Get returns the cached record. A corrupt entry is dropped and reported as a miss.
func (c *RecordCache) Get(ctx context.Context, authority progress.Authority) (progress.Record, bool, error) {
	key := recordKey(authority)

	data, err := c.cache.GetVersioned(ctx, key)
	switch {
	case errors.Is(err, ErrCacheMiss):
		return progress.Record{}, false, nil
	case err != nil && !errors.Is(err, ErrCacheMalformed):
		return progress.Record{}, false, fmt.Errorf("get cached record: %w", err)
	}

	rec, err := progress.DecodeRecord(data)
	if err != nil || rec.Authority != authority {
		_ = c.cache.Delete(ctx, key)
		return progress.Record{}, false, nil
	}
	return rec, true, nil
}

// Set caches rec unless a fresher state of the record is already cached.
func (c *RecordCache) Set(ctx context.Context, rec progress.Record) error {
	_, err := c.cache.SetVersioned(ctx, recordKey(rec.Authority), freshness(rec), progress.EncodeRecord(rec), c.ttl)
	if err != nil {
		return fmt.Errorf("set cached record: %w", err)
	}
	return nil
}

// Invalidate removes the cached record of authority.
func (c *RecordCache) Invalidate(ctx context.Context, authority progress.Authority) error {
	if err := c.cache.Delete(ctx, recordKey(authority)); err != nil {
		return fmt.Errorf("invalidate cached record: %w", err)
	}
	return nil
}
