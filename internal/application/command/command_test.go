package command

import (
	"context"
	"crypto/ed25519"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/shadow-ranch/config"
	"github.com/alem-hub/shadow-ranch/internal/domain/credential"
	"github.com/alem-hub/shadow-ranch/internal/domain/progress"
	"github.com/alem-hub/shadow-ranch/internal/domain/shared"
	"github.com/alem-hub/shadow-ranch/internal/infrastructure/external/tokenmeta"
	"github.com/alem-hub/shadow-ranch/internal/infrastructure/persistence/sqlite"
	"github.com/alem-hub/shadow-ranch/internal/infrastructure/service"
	"github.com/alem-hub/shadow-ranch/pkg/timeutil"
)

var baseTime = time.Date(2024, 7, 1, 12, 0, 0, 0, time.UTC)

func authority(t *testing.T, seed byte) progress.Authority {
	t.Helper()
	s := make([]byte, ed25519.SeedSize)
	s[0] = seed
	a, err := progress.AuthorityFromPublicKey(ed25519.NewKeyFromSeed(s).Public().(ed25519.PublicKey))
	require.NoError(t, err)
	return a
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []shared.Event
}

func (p *recordingPublisher) Publish(e shared.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) types() []shared.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]shared.EventType, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.EventType())
	}
	return out
}

type harness struct {
	store     *sqlite.Store
	clock     *timeutil.ManualClock
	events    *recordingPublisher
	mintCalls *atomic.Int32

	initialize *InitializeUserHandler
	challenge  *CompleteChallengeHandler
	module     *CompleteModuleHandler
	mint       *MintAchievementCredentialHandler
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "progress.db"), true)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	badges, err := config.LoadBadges("")
	require.NoError(t, err)

	h := &harness{
		store:     store,
		clock:     timeutil.NewManualClock(baseTime),
		events:    &recordingPublisher{},
		mintCalls: &atomic.Int32{},
	}

	memory := tokenmeta.NewMemoryMinter()
	counting := credential.MinterFunc(func(ctx context.Context, req credential.MintRequest) (*credential.IssuedCredential, error) {
		h.mintCalls.Add(1)
		return memory.Mint(ctx, req)
	})
	minter := service.NewIdempotentMinter(counting, store.Issuances(), nil, h.clock, nil)

	deps := Deps{Store: store, Clock: h.clock, Publisher: h.events}
	h.initialize = NewInitializeUserHandler(deps)
	h.challenge = NewCompleteChallengeHandler(deps)
	h.module = NewCompleteModuleHandler(deps)
	h.mint = NewMintAchievementCredentialHandler(deps, credential.NewIssuer(minter), badges)
	return h
}

func TestEndToEnd(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	owner := authority(t, 1)

	rec, err := h.initialize.Handle(ctx, InitializeUserCommand{Requester: owner})
	require.NoError(t, err)
	assert.Zero(t, rec.ChallengesCompleted)
	assert.Equal(t, baseTime, rec.CreatedAt)

	for id := progress.ChallengeID(0); id < 4; id++ {
		h.clock.Advance(time.Minute)
		res, err := h.challenge.Handle(ctx, CompleteChallengeCommand{Owner: owner, Requester: owner, ChallengeID: id})
		require.NoError(t, err)
		assert.True(t, res.Newly)
	}

	mod, err := h.module.Handle(ctx, CompleteModuleCommand{Owner: owner, Requester: owner, ModuleID: 0})
	require.NoError(t, err)
	assert.True(t, mod.Newly)
	assert.Equal(t, uint8(0x01), mod.Record.ModulesCompleted)

	again, err := h.module.Handle(ctx, CompleteModuleCommand{Owner: owner, Requester: owner, ModuleID: 0})
	require.NoError(t, err, "repeat is a no-op success")
	assert.False(t, again.Newly)
	assert.Equal(t, mod.Record.ModulesCompleted, again.Record.ModulesCompleted)

	cred, err := h.mint.Handle(ctx, MintAchievementCredentialCommand{Owner: owner, Requester: owner, ModuleID: 0})
	require.NoError(t, err)
	assert.Equal(t, "The Architect Badge", cred.Metadata.Title, "catalogue defaults")
	assert.NotEmpty(t, cred.Mint)
	assert.False(t, cred.Replayed)

	replay, err := h.mint.Handle(ctx, MintAchievementCredentialCommand{Owner: owner, Requester: owner, ModuleID: 0})
	require.NoError(t, err)
	assert.True(t, replay.Replayed)
	assert.Equal(t, cred.Mint, replay.Mint)
	assert.Equal(t, int32(1), h.mintCalls.Load())

	assert.Equal(t, []shared.EventType{
		shared.EventUserInitialized,
		shared.EventChallengeCompleted, shared.EventChallengeCompleted,
		shared.EventChallengeCompleted, shared.EventChallengeCompleted,
		shared.EventModuleCompleted, shared.EventModuleCompleted,
		shared.EventCredentialIssued, shared.EventCredentialIssued,
	}, h.events.types())
}

func TestInitializeUser_AlreadyExists(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	owner := authority(t, 2)

	first, err := h.initialize.Handle(ctx, InitializeUserCommand{Requester: owner})
	require.NoError(t, err)

	h.clock.Advance(time.Hour)
	_, err = h.initialize.Handle(ctx, InitializeUserCommand{Requester: owner})
	assert.ErrorIs(t, err, progress.ErrAlreadyExists)
	assert.Equal(t, shared.CodeAlreadyExists, shared.CodeOf(err))

	stored, err := h.store.Get(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, first, stored)
}

func TestCompleteChallenge_Failures(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	owner := authority(t, 3)
	_, err := h.initialize.Handle(ctx, InitializeUserCommand{Requester: owner})
	require.NoError(t, err)

	tests := []struct {
		name      string
		requester progress.Authority
		id        progress.ChallengeID
		want      error
	}{
		{"out of range", owner, 16, progress.ErrInvalidChallengeID},
		{"range is checked before owner", authority(t, 9), 16, progress.ErrInvalidChallengeID},
		{"foreign requester", authority(t, 9), 3, progress.ErrUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.challenge.Handle(ctx, CompleteChallengeCommand{Owner: owner, Requester: tt.requester, ChallengeID: tt.id})
			assert.ErrorIs(t, err, tt.want)
		})
	}

	stored, err := h.store.Get(ctx, owner)
	require.NoError(t, err)
	assert.Zero(t, stored.ChallengesCompleted)
}

func TestCompleteModule_Gating(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	owner := authority(t, 4)
	_, err := h.initialize.Handle(ctx, InitializeUserCommand{Requester: owner})
	require.NoError(t, err)

	for _, id := range []progress.ChallengeID{0, 1, 2} {
		_, err := h.challenge.Handle(ctx, CompleteChallengeCommand{Owner: owner, Requester: owner, ChallengeID: id})
		require.NoError(t, err)
	}

	_, err = h.module.Handle(ctx, CompleteModuleCommand{Owner: owner, Requester: owner, ModuleID: 0})
	assert.ErrorIs(t, err, progress.ErrModuleNotComplete)

	_, err = h.module.Handle(ctx, CompleteModuleCommand{Owner: owner, Requester: owner, ModuleID: 4})
	assert.ErrorIs(t, err, progress.ErrInvalidModuleID)

	_, err = h.challenge.Handle(ctx, CompleteChallengeCommand{Owner: owner, Requester: owner, ChallengeID: 3})
	require.NoError(t, err)
	_, err = h.module.Handle(ctx, CompleteModuleCommand{Owner: owner, Requester: owner, ModuleID: 0})
	assert.NoError(t, err)
}

func TestMint_Preconditions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	owner := authority(t, 5)
	_, err := h.initialize.Handle(ctx, InitializeUserCommand{Requester: owner})
	require.NoError(t, err)

	_, err = h.mint.Handle(ctx, MintAchievementCredentialCommand{Owner: owner, Requester: owner, ModuleID: 2})
	assert.ErrorIs(t, err, progress.ErrModuleNotComplete)

	_, err = h.mint.Handle(ctx, MintAchievementCredentialCommand{Owner: owner, Requester: authority(t, 6), ModuleID: 2})
	assert.ErrorIs(t, err, progress.ErrUnauthorized)

	_, err = h.mint.Handle(ctx, MintAchievementCredentialCommand{Owner: owner, Requester: owner, ModuleID: 7})
	assert.ErrorIs(t, err, progress.ErrInvalidModuleID)

	_, err = h.mint.Handle(ctx, MintAchievementCredentialCommand{Owner: authority(t, 7), Requester: authority(t, 7), ModuleID: 1})
	assert.ErrorIs(t, err, progress.ErrNotFound)

	assert.Zero(t, h.mintCalls.Load())
}

func TestMint_CollaboratorErrorLeavesRecordUntouched(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	owner := authority(t, 8)

	boom := errors.New("token-metadata unavailable")
	failing := credential.NewIssuer(credential.MinterFunc(func(context.Context, credential.MintRequest) (*credential.IssuedCredential, error) {
		return nil, boom
	}))
	mint := NewMintAchievementCredentialHandler(Deps{Store: h.store, Clock: h.clock}, failing, nil)

	_, err := h.initialize.Handle(ctx, InitializeUserCommand{Requester: owner})
	require.NoError(t, err)
	for id := progress.ChallengeID(8); id < 12; id++ {
		_, err := h.challenge.Handle(ctx, CompleteChallengeCommand{Owner: owner, Requester: owner, ChallengeID: id})
		require.NoError(t, err)
	}
	_, err = h.module.Handle(ctx, CompleteModuleCommand{Owner: owner, Requester: owner, ModuleID: 2})
	require.NoError(t, err)
	before, err := h.store.Get(ctx, owner)
	require.NoError(t, err)

	_, err = mint.Handle(ctx, MintAchievementCredentialCommand{
		Owner: owner, Requester: owner, ModuleID: 2,
		Metadata: credential.Metadata{Title: "Gatekeeper Badge", Symbol: "GATE", URI: "https://example.com/2.json"},
	})
	assert.Same(t, boom, err)

	after, err := h.store.Get(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}
