package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/alem-hub/shadow-ranch/internal/domain/credential"
	"github.com/alem-hub/shadow-ranch/internal/infrastructure/persistence/redis"
	"github.com/alem-hub/shadow-ranch/pkg/logger"
	"github.com/alem-hub/shadow-ranch/pkg/timeutil"
)

// Locker hands out exclusive leases keyed by a mint idempotency key.
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(context.Context) error, err error)
}

// IdempotentMinter issues at most one credential per (authority, module).
//
// A repeated request returns the recorded issuance with Replayed set instead
// of calling the token-metadata service again. Concurrent duplicates are kept
// apart by the lock; the losing request gets credential.ErrMintInProgress.
type IdempotentMinter struct {
	next   credential.Minter
	ledger credential.Ledger
	lock   Locker
	clock  timeutil.Clock
	log    *logger.Logger
}

var _ credential.Minter = (*IdempotentMinter)(nil)

// NewIdempotentMinter creates a new IdempotentMinter. A nil lock disables locking.
func NewIdempotentMinter(next credential.Minter, ledger credential.Ledger, lock Locker, clock timeutil.Clock, log *logger.Logger) *IdempotentMinter {
	if clock == nil {
		clock = timeutil.SystemClock{}
	}
	if log == nil {
		log = logger.Nop()
	}
	return &IdempotentMinter{
		next:   next,
		ledger: ledger,
		lock:   lock,
		clock:  clock,
		log:    log.With(logger.Component("idempotent_minter")),
	}
}

// Mint implements credential.Minter.
func (m *IdempotentMinter) Mint(ctx context.Context, req credential.MintRequest) (*credential.IssuedCredential, error) {
	if cred, err := m.recorded(ctx, req); cred != nil || err != nil {
		return cred, err
	}

	if m.lock != nil {
		release, err := m.lock.Acquire(ctx, req.IdempotencyKey)
		if err != nil {
			if errors.Is(err, redis.ErrLockHeld) {
				return nil, credential.ErrMintInProgress
			}
			return nil, err
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				m.log.WarnContext(ctx, "mint lock release failed", logger.Err(err))
			}
		}()

		// Another holder may have finished between the first lookup and the lock.
		if cred, err := m.recorded(ctx, req); cred != nil || err != nil {
			return cred, err
		}
	}

	cred, err := m.next.Mint(ctx, req)
	if err != nil {
		return nil, err
	}
	if cred == nil {
		return nil, credential.ErrMintFailed
	}

	cred.IdempotencyKey = req.IdempotencyKey
	cred.Authority = req.Owner
	cred.Module = req.Module
	if cred.Metadata.IsZero() {
		cred.Metadata = req.Metadata
	}
	if cred.IssuedAt.IsZero() {
		cred.IssuedAt = m.clock.Now()
	}
	cred.IssuedAt = timeutil.Truncate(cred.IssuedAt)

	if err := m.ledger.Record(ctx, cred); err != nil {
		if errors.Is(err, credential.ErrAlreadyRecorded) {
			if prev, findErr := m.recorded(ctx, req); prev != nil {
				return prev, nil
			} else if findErr != nil {
				err = findErr
			}
		}
		// The token exists; the service deduplicates by key if the caller retries.
		m.log.ErrorContext(ctx, "credential minted but not recorded",
			logger.Authority(req.Owner),
			logger.ModuleID(uint8(req.Module)),
			logger.Mint(cred.Mint),
			logger.Err(err),
		)
	}

	m.log.InfoContext(ctx, "credential minted",
		logger.Authority(req.Owner),
		logger.ModuleID(uint8(req.Module)),
		logger.Mint(cred.Mint),
	)
	return cred, nil
}

// recorded returns the previous issuance with Replayed set, or nil.
func (m *IdempotentMinter) recorded(ctx context.Context, req credential.MintRequest) (*credential.IssuedCredential, error) {
	prev, err := m.ledger.Find(ctx, req.Owner, req.Module)
	if err != nil {
		if errors.Is(err, credential.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("look up issuance: %w", err)
	}

	replay := *prev
	replay.Replayed = true
	return &replay, nil
}
