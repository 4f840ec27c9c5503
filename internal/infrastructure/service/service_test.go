package service

import (
	"context"
	"crypto/ed25519"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/shadow-ranch/internal/domain/credential"
	"github.com/alem-hub/shadow-ranch/internal/domain/progress"
	"github.com/alem-hub/shadow-ranch/internal/infrastructure/persistence/redis"
	"github.com/alem-hub/shadow-ranch/pkg/timeutil"
)

var baseTime = time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

func testAuthority(t *testing.T, seed byte) progress.Authority {
	t.Helper()
	s := make([]byte, ed25519.SeedSize)
	s[0] = seed
	a, err := progress.AuthorityFromPublicKey(ed25519.NewKeyFromSeed(s).Public().(ed25519.PublicKey))
	require.NoError(t, err)
	return a
}

// ─────────────────────────────────────────────────────────────────────────────
// fakes
// ─────────────────────────────────────────────────────────────────────────────

type memStore struct {
	mu      sync.Mutex
	records map[progress.Authority]progress.Record
	gets    int
}

func newMemStore() *memStore {
	return &memStore{records: make(map[progress.Authority]progress.Record)}
}

func (s *memStore) Create(_ context.Context, rec progress.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[rec.Authority]; ok {
		return progress.ErrAlreadyExists
	}
	s.records[rec.Authority] = rec
	return nil
}

func (s *memStore) Get(_ context.Context, a progress.Authority) (progress.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gets++
	rec, ok := s.records[a]
	if !ok {
		return progress.Record{}, progress.ErrNotFound
	}
	return rec, nil
}

func (s *memStore) Update(_ context.Context, a progress.Authority, fn progress.UpdateFunc) (progress.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[a]
	if !ok {
		return progress.Record{}, progress.ErrNotFound
	}
	next, err := fn(rec)
	if err != nil {
		return progress.Record{}, err
	}
	s.records[a] = next
	return next, nil
}

type memCache struct {
	records map[progress.Authority]progress.Record
	fail    error
}

func (c *memCache) Get(_ context.Context, a progress.Authority) (progress.Record, bool, error) {
	if c.fail != nil {
		return progress.Record{}, false, c.fail
	}
	rec, ok := c.records[a]
	return rec, ok, nil
}

func (c *memCache) Set(_ context.Context, rec progress.Record) error {
	if c.fail != nil {
		return c.fail
	}
	c.records[rec.Authority] = rec
	return nil
}

func (c *memCache) Invalidate(_ context.Context, a progress.Authority) error {
	delete(c.records, a)
	return c.fail
}

type memLedger struct {
	mu     sync.Mutex
	issued map[string]*credential.IssuedCredential
}

func newMemLedger() *memLedger {
	return &memLedger{issued: make(map[string]*credential.IssuedCredential)}
}

func (l *memLedger) Find(_ context.Context, a progress.Authority, m progress.ModuleID) (*credential.IssuedCredential, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	cred, ok := l.issued[credential.IdempotencyKey(a, m)]
	if !ok {
		return nil, credential.ErrNotFound
	}
	c := *cred
	return &c, nil
}

func (l *memLedger) Record(_ context.Context, cred *credential.IssuedCredential) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.issued[cred.IdempotencyKey]; ok {
		return credential.ErrAlreadyRecorded
	}
	c := *cred
	l.issued[cred.IdempotencyKey] = &c
	return nil
}

func (l *memLedger) ListByAuthority(context.Context, progress.Authority) ([]*credential.IssuedCredential, error) {
	return nil, nil
}

type heldLock struct{}

func (heldLock) Acquire(context.Context, string) (func(context.Context) error, error) {
	return nil, redis.ErrLockHeld
}

// ─────────────────────────────────────────────────────────────────────────────
// CachedStore
// ─────────────────────────────────────────────────────────────────────────────

func TestCachedStore_ReadThrough(t *testing.T) {
	store := newMemStore()
	cache := &memCache{records: make(map[progress.Authority]progress.Record)}
	cs := NewCachedStore(store, cache, nil)
	ctx := context.Background()
	owner := testAuthority(t, 1)

	require.NoError(t, cs.Create(ctx, progress.Create(owner, baseTime)))
	assert.Contains(t, cache.records, owner, "create writes through")

	updated, err := cs.Update(ctx, owner, func(r progress.Record) (progress.Record, error) {
		return progress.CompleteChallenge(r, owner, 2, baseTime.Add(time.Minute))
	})
	require.NoError(t, err)
	assert.Equal(t, updated, cache.records[owner], "update writes through")

	for i := 0; i < 3; i++ {
		got, err := cs.Get(ctx, owner)
		require.NoError(t, err)
		assert.Equal(t, updated, got)
	}
	assert.Zero(t, store.gets)

	delete(cache.records, owner)
	_, err = cs.Get(ctx, owner)
	require.NoError(t, err)
	_, err = cs.Get(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, 1, store.gets, "a miss is filled from the store once")
}

// pausingStore hands out the record it read, then waits before returning,
// so a write can commit while the read is still in flight.
type pausingStore struct {
	*memStore
	read   chan struct{}
	resume chan struct{}
	once   sync.Once
}

func (s *pausingStore) Get(ctx context.Context, a progress.Authority) (progress.Record, error) {
	rec, err := s.memStore.Get(ctx, a)
	s.once.Do(func() {
		close(s.read)
		<-s.resume
	})
	return rec, err
}

func TestCachedStore_LateFillDoesNotRevertCommittedWrite(t *testing.T) {
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := &pausingStore{memStore: newMemStore(), read: make(chan struct{}), resume: make(chan struct{})}
	cs := NewCachedStore(store, redis.NewRecordCache(redis.NewCacheFromClient(client), time.Minute), nil)
	ctx := context.Background()
	owner := testAuthority(t, 9)

	rec := progress.Create(owner, baseTime)
	for c := progress.ChallengeID(0); c < 4; c++ {
		var err error
		rec, err = progress.CompleteChallenge(rec, owner, c, baseTime)
		require.NoError(t, err)
	}
	require.NoError(t, store.memStore.Create(ctx, rec))

	done := make(chan error, 1)
	go func() {
		_, err := cs.Get(ctx, owner)
		done <- err
	}()
	<-store.read

	completed, err := cs.Update(ctx, owner, func(r progress.Record) (progress.Record, error) {
		return progress.CompleteModule(r, owner, 0, baseTime.Add(time.Minute))
	})
	require.NoError(t, err)
	require.True(t, completed.HasModule(0))

	close(store.resume)
	require.NoError(t, <-done)

	got, err := cs.Get(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, completed, got)

	issued := 0
	issuer := credential.NewIssuer(credential.MinterFunc(func(context.Context, credential.MintRequest) (*credential.IssuedCredential, error) {
		issued++
		return &credential.IssuedCredential{Mint: "mint"}, nil
	}))
	_, err = issuer.Issue(ctx, got, owner, 0, credential.Metadata{Title: "Badge", Symbol: "B", URI: "https://x/0.json"})
	require.NoError(t, err)
	assert.Equal(t, 1, issued)
}

func TestCachedStore_CacheFailureFallsBackToStore(t *testing.T) {
	store := newMemStore()
	cs := NewCachedStore(store, &memCache{fail: errors.New("redis down")}, nil)
	ctx := context.Background()
	owner := testAuthority(t, 2)

	require.NoError(t, cs.Create(ctx, progress.Create(owner, baseTime)))
	got, err := cs.Get(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, owner, got.Authority)

	_, err = cs.Get(ctx, testAuthority(t, 3))
	assert.ErrorIs(t, err, progress.ErrNotFound)
}

// ─────────────────────────────────────────────────────────────────────────────
// IdempotentMinter
// ─────────────────────────────────────────────────────────────────────────────

func TestIdempotentMinter_MintsOnceAndReplays(t *testing.T) {
	var calls atomic.Int32
	next := credential.MinterFunc(func(_ context.Context, req credential.MintRequest) (*credential.IssuedCredential, error) {
		calls.Add(1)
		return &credential.IssuedCredential{Mint: "mint-" + req.IdempotencyKey}, nil
	})
	ledger := newMemLedger()
	clock := timeutil.NewManualClock(baseTime.Add(500 * time.Millisecond))
	m := NewIdempotentMinter(next, ledger, nil, clock, nil)

	owner := testAuthority(t, 4)
	md := credential.Metadata{Title: "The Architect Badge", Symbol: "ARCHITECT", URI: "https://example.com/0.json"}
	req := credential.NewMintRequest(owner, 0, md)

	first, err := m.Mint(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, first.Replayed)
	assert.Equal(t, owner, first.Authority)
	assert.Equal(t, md, first.Metadata)
	assert.Equal(t, baseTime, first.IssuedAt)

	second, err := m.Mint(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.Mint, second.Mint)
	assert.Equal(t, int32(1), calls.Load())
}

func TestIdempotentMinter_LockHeld(t *testing.T) {
	next := credential.MinterFunc(func(context.Context, credential.MintRequest) (*credential.IssuedCredential, error) {
		t.Fatal("collaborator must not be called while another mint is in progress")
		return nil, nil
	})
	m := NewIdempotentMinter(next, newMemLedger(), heldLock{}, nil, nil)

	_, err := m.Mint(context.Background(), credential.NewMintRequest(testAuthority(t, 5), 1, credential.Metadata{}))
	assert.ErrorIs(t, err, credential.ErrMintInProgress)
}

func TestIdempotentMinter_CollaboratorErrorPassesThrough(t *testing.T) {
	boom := errors.New("rpc unavailable")
	next := credential.MinterFunc(func(context.Context, credential.MintRequest) (*credential.IssuedCredential, error) {
		return nil, boom
	})
	ledger := newMemLedger()
	m := NewIdempotentMinter(next, ledger, nil, nil, nil)

	_, err := m.Mint(context.Background(), credential.NewMintRequest(testAuthority(t, 6), 2, credential.Metadata{}))
	assert.Same(t, boom, err)
	assert.Empty(t, ledger.issued)
}
