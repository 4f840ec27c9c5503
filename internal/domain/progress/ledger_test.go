package progress

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreate(t *testing.T) {
	owner := testAuthority(t, 1)
	rec := Create(owner, baseTime.Add(500*time.Millisecond))

	assert.Equal(t, owner, rec.Authority)
	assert.Zero(t, rec.ChallengesCompleted)
	assert.Zero(t, rec.ModulesCompleted)
	assert.Equal(t, baseTime, rec.CreatedAt)
	assert.Equal(t, rec.CreatedAt, rec.UpdatedAt)
}

func TestCompleteChallenge(t *testing.T) {
	owner := testAuthority(t, 1)
	other := testAuthority(t, 2)
	rec := Create(owner, baseTime)

	t.Run("sets bit and refreshes timestamp", func(t *testing.T) {
		later := baseTime.Add(time.Minute)
		next, err := CompleteChallenge(rec, owner, 5, later)
		require.NoError(t, err)
		assert.Equal(t, uint16(1<<5), next.ChallengesCompleted)
		assert.Equal(t, later, next.UpdatedAt)
		assert.Zero(t, rec.ChallengesCompleted, "input record is not mutated")
	})

	t.Run("idempotent", func(t *testing.T) {
		once, err := CompleteChallenge(rec, owner, 9, baseTime)
		require.NoError(t, err)
		twice, err := CompleteChallenge(once, owner, 9, baseTime)
		require.NoError(t, err)
		assert.Equal(t, once.ChallengesCompleted, twice.ChallengesCompleted)
	})

	t.Run("out of range", func(t *testing.T) {
		next, err := CompleteChallenge(rec, owner, 16, baseTime)
		assert.ErrorIs(t, err, ErrInvalidChallengeID)
		assert.Equal(t, rec, next)
	})

	t.Run("range is checked before authority", func(t *testing.T) {
		_, err := CompleteChallenge(rec, other, 16, baseTime)
		assert.ErrorIs(t, err, ErrInvalidChallengeID)
	})

	t.Run("unauthorized", func(t *testing.T) {
		next, err := CompleteChallenge(rec, other, 0, baseTime.Add(time.Hour))
		assert.ErrorIs(t, err, ErrUnauthorized)
		assert.Equal(t, rec, next)
	})

	t.Run("clock behind created_at", func(t *testing.T) {
		next, err := CompleteChallenge(rec, owner, 0, baseTime.Add(-time.Hour))
		require.NoError(t, err)
		assert.Equal(t, rec.CreatedAt, next.UpdatedAt)
	})
}

func TestCompleteModule(t *testing.T) {
	owner := testAuthority(t, 1)
	other := testAuthority(t, 2)
	rec := Create(owner, baseTime)

	var err error
	for _, c := range []ChallengeID{0, 1, 2} {
		rec, err = CompleteChallenge(rec, owner, c, baseTime)
		require.NoError(t, err)
	}

	t.Run("gated on all challenges", func(t *testing.T) {
		next, err := CompleteModule(rec, owner, 0, baseTime)
		assert.ErrorIs(t, err, ErrModuleNotComplete)
		assert.Equal(t, rec, next)

		rec3, err := CompleteChallenge(rec, owner, 3, baseTime)
		require.NoError(t, err)
		done, err := CompleteModule(rec3, owner, 0, baseTime.Add(time.Second))
		require.NoError(t, err)
		assert.Equal(t, uint8(1), done.ModulesCompleted)
		assert.Equal(t, baseTime.Add(time.Second), done.UpdatedAt)

		again, err := CompleteModule(done, owner, 0, baseTime.Add(2*time.Second))
		require.NoError(t, err)
		assert.Equal(t, done.ModulesCompleted, again.ModulesCompleted)
	})

	t.Run("out of range", func(t *testing.T) {
		_, err := CompleteModule(rec, owner, 4, baseTime)
		assert.ErrorIs(t, err, ErrInvalidModuleID)
	})

	t.Run("authority checked before prerequisites", func(t *testing.T) {
		_, err := CompleteModule(rec, other, 1, baseTime)
		assert.ErrorIs(t, err, ErrUnauthorized)
	})
}

func TestRequireModuleComplete(t *testing.T) {
	owner := testAuthority(t, 1)
	rec := Create(owner, baseTime)

	err := RequireModuleComplete(rec, owner, 2)
	assert.ErrorIs(t, err, ErrModuleNotComplete)

	for _, c := range []ChallengeID{8, 9, 10, 11} {
		rec, err = CompleteChallenge(rec, owner, c, baseTime)
		require.NoError(t, err)
	}
	assert.ErrorIs(t, RequireModuleComplete(rec, owner, 2), ErrModuleNotComplete,
		"challenges alone do not unlock issuance")

	rec, err = CompleteModule(rec, owner, 2, baseTime)
	require.NoError(t, err)
	assert.NoError(t, RequireModuleComplete(rec, owner, 2))
	assert.ErrorIs(t, RequireModuleComplete(rec, testAuthority(t, 3), 2), ErrUnauthorized)
	assert.ErrorIs(t, RequireModuleComplete(rec, owner, 7), ErrInvalidModuleID)
}

func TestLedgerMonotonicity(t *testing.T) {
	owner := testAuthority(t, 1)
	rec := Create(owner, baseTime)

	ops := []func(Record) (Record, error){
		func(r Record) (Record, error) { return CompleteChallenge(r, owner, 4, baseTime) },
		func(r Record) (Record, error) { return CompleteModule(r, owner, 1, baseTime) },
		func(r Record) (Record, error) { return CompleteChallenge(r, owner, 5, baseTime) },
		func(r Record) (Record, error) { return CompleteChallenge(r, owner, 6, baseTime) },
		func(r Record) (Record, error) { return CompleteChallenge(r, owner, 7, baseTime) },
		func(r Record) (Record, error) { return CompleteModule(r, owner, 1, baseTime) },
		func(r Record) (Record, error) { return CompleteChallenge(r, owner, 4, baseTime) },
		func(r Record) (Record, error) { return CompleteModule(r, owner, 1, baseTime) },
	}

	for i, op := range ops {
		next, _ := op(rec)
		assert.Equal(t, rec.ChallengesCompleted, rec.ChallengesCompleted&next.ChallengesCompleted, "step %d", i)
		assert.Equal(t, rec.ModulesCompleted, rec.ModulesCompleted&next.ModulesCompleted, "step %d", i)
		require.NoError(t, next.Validate(), "step %d", i)
		rec = next
	}

	assert.Equal(t, uint16(0x00F0), rec.ChallengesCompleted)
	assert.Equal(t, uint8(0b0010), rec.ModulesCompleted)
}

func TestStateOf(t *testing.T) {
	owner := testAuthority(t, 1)
	rec := Create(owner, baseTime)
	assert.Equal(t, ModuleNotStarted, rec.StateOf(0, false))

	rec, _ = CompleteChallenge(rec, owner, 0, baseTime)
	assert.Equal(t, ModuleChallengesInProgress, rec.StateOf(0, false))

	for _, c := range []ChallengeID{1, 2, 3} {
		rec, _ = CompleteChallenge(rec, owner, c, baseTime)
	}
	assert.Equal(t, ModuleChallengesComplete, rec.StateOf(0, false))
	assert.Equal(t, ModuleChallengesComplete, rec.StateOf(0, true), "issuance requires the module bit")

	rec, _ = CompleteModule(rec, owner, 0, baseTime)
	assert.Equal(t, ModuleComplete, rec.StateOf(0, false))
	assert.Equal(t, ModuleCredentialIssued, rec.StateOf(0, true))
	assert.Greater(t, rec.StateOf(0, true).Rank(), rec.StateOf(0, false).Rank())
	assert.Equal(t, ModuleNotStarted, rec.StateOf(1, false))
}
