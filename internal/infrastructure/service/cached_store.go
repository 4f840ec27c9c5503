package service

import (
	"context"

	"github.com/alem-hub/shadow-ranch/internal/domain/progress"
	"github.com/alem-hub/shadow-ranch/pkg/logger"
)

// CachedStore adds a read-through cache in front of a progress.Store.
// Writes go to the store first; the committed record then replaces the
// cached one. The cache drops fills older than its entry, so a read that
// raced with a write cannot put the earlier state back. Cache failures are
// logged and never fail the call.
type CachedStore struct {
	store progress.Store
	cache progress.Cache
	log   *logger.Logger
}

var _ progress.Store = (*CachedStore)(nil)

// NewCachedStore creates a new CachedStore. A nil cache disables caching.
func NewCachedStore(store progress.Store, cache progress.Cache, log *logger.Logger) *CachedStore {
	if log == nil {
		log = logger.Nop()
	}
	return &CachedStore{
		store: store,
		cache: cache,
		log:   log.With(logger.Component("cached_store")),
	}
}

// Create stores a new record.
func (s *CachedStore) Create(ctx context.Context, rec progress.Record) error {
	if err := s.store.Create(ctx, rec); err != nil {
		return err
	}
	s.refresh(ctx, rec)
	return nil
}

// Get returns the record, trying the cache first.
func (s *CachedStore) Get(ctx context.Context, authority progress.Authority) (progress.Record, error) {
	if s.cache != nil {
		rec, found, err := s.cache.Get(ctx, authority)
		if err != nil {
			s.log.WarnContext(ctx, "record cache read failed", logger.Authority(authority), logger.Err(err))
		} else if found {
			return rec, nil
		}
	}

	rec, err := s.store.Get(ctx, authority)
	if err != nil {
		return progress.Record{}, err
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, rec); err != nil {
			s.log.WarnContext(ctx, "record cache write failed", logger.Authority(authority), logger.Err(err))
		}
	}
	return rec, nil
}

// Update applies fn through the store and caches the result.
func (s *CachedStore) Update(ctx context.Context, authority progress.Authority, fn progress.UpdateFunc) (progress.Record, error) {
	rec, err := s.store.Update(ctx, authority, fn)
	if err != nil {
		return progress.Record{}, err
	}
	s.refresh(ctx, rec)
	return rec, nil
}

// Stats passes through to the store when it supports statistics.
func (s *CachedStore) Stats(ctx context.Context) (progress.Stats, error) {
	reader, ok := s.store.(progress.StatsReader)
	if !ok {
		return progress.Stats{}, nil
	}
	return reader.Stats(ctx)
}

// refresh caches a committed record. When that fails the entry is dropped
// so readers fall back to the store.
func (s *CachedStore) refresh(ctx context.Context, rec progress.Record) {
	if s.cache == nil {
		return
	}
	err := s.cache.Set(ctx, rec)
	if err == nil {
		return
	}
	s.log.WarnContext(ctx, "record cache write failed", logger.Authority(rec.Authority), logger.Err(err))
	if err := s.cache.Invalidate(ctx, rec.Authority); err != nil {
		s.log.WarnContext(ctx, "record cache invalidate failed", logger.Authority(rec.Authority), logger.Err(err))
	}
}
