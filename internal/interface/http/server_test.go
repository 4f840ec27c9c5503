package http

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/shadow-ranch/config"
	"github.com/alem-hub/shadow-ranch/internal/application/command"
	"github.com/alem-hub/shadow-ranch/internal/application/query"
	"github.com/alem-hub/shadow-ranch/internal/domain/credential"
	"github.com/alem-hub/shadow-ranch/internal/domain/progress"
	"github.com/alem-hub/shadow-ranch/internal/domain/shared"
	"github.com/alem-hub/shadow-ranch/internal/infrastructure/external/tokenmeta"
	"github.com/alem-hub/shadow-ranch/internal/infrastructure/persistence/sqlite"
	"github.com/alem-hub/shadow-ranch/internal/infrastructure/service"
	"github.com/alem-hub/shadow-ranch/internal/interface/http/handlers"
	"github.com/alem-hub/shadow-ranch/pkg/logger"
	"github.com/alem-hub/shadow-ranch/pkg/timeutil"
)

const audience = "shadow-ranch"

var baseTime = time.Date(2024, 9, 1, 10, 0, 0, 0, time.UTC)

type learner struct {
	key       ed25519.PrivateKey
	authority progress.Authority
}

func newLearner(t *testing.T, seed byte) learner {
	t.Helper()
	s := make([]byte, ed25519.SeedSize)
	s[0] = seed
	key := ed25519.NewKeyFromSeed(s)
	a, err := progress.AuthorityFromPublicKey(key.Public().(ed25519.PublicKey))
	require.NoError(t, err)
	return learner{key: key, authority: a}
}

type testServer struct {
	t      *testing.T
	srv    *Server
	clock  *timeutil.ManualClock
	store  *sqlite.Store
	minter *tokenmeta.MemoryMinter
}

func newTestServer(t *testing.T, mutate ...func(*Config)) *testServer {
	t.Helper()
	ctx := context.Background()

	store, err := sqlite.Open(ctx, filepath.Join(t.TempDir(), "http.db"), true)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	badges, err := config.LoadBadges("")
	require.NoError(t, err)

	clock := timeutil.NewManualClock(baseTime)
	memory := tokenmeta.NewMemoryMinter()
	minter := service.NewIdempotentMinter(memory, store.Issuances(), nil, clock, nil)

	deps := command.Deps{Store: store, Clock: clock, Logger: logger.Nop()}

	health := handlers.NewCompositeHealthChecker("test", handlers.WithHealthClock(clock))
	health.AddCheck("database", handlers.NewPingCheck(store))

	cfg := DefaultConfig()
	cfg.RateLimitPerMinute = 0
	for _, m := range mutate {
		m(&cfg)
	}

	srv := NewServer(cfg, Dependencies{
		InitializeUserHandler:    command.NewInitializeUserHandler(deps),
		CompleteChallengeHandler: command.NewCompleteChallengeHandler(deps),
		CompleteModuleHandler:    command.NewCompleteModuleHandler(deps),
		MintCredentialHandler:    command.NewMintAchievementCredentialHandler(deps, credential.NewIssuer(minter), badges),
		GetProgressHandler:       query.NewGetProgressHandler(store, store.Issuances()),
		GetStatsHandler:          query.NewGetStatsHandler(store),
		Authenticator: NewAuthenticator(config.AuthConfig{
			Audience:    audience,
			MaxTokenTTL: 15 * time.Minute,
			Leeway:      30 * time.Second,
		}, clock),
		HealthChecker: health,
		Logger:        logger.Nop(),
	})

	return &testServer{t: t, srv: srv, clock: clock, store: store, minter: memory}
}

func (ts *testServer) token(l learner) string {
	ts.t.Helper()
	tok, err := SignRequestToken(l.key, audience, 5*time.Minute, ts.clock.Now())
	require.NoError(ts.t, err)
	return tok
}

type envelope struct {
	Success   bool            `json:"success"`
	Data      json.RawMessage `json:"data"`
	Error     *APIError       `json:"error"`
	RequestID string          `json:"request_id"`
}

func (ts *testServer) do(method, path, token string, body io.Reader) (int, envelope) {
	ts.t.Helper()
	req := httptest.NewRequest(method, path, body)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(rec, req)

	var env envelope
	require.NoError(ts.t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return rec.Code, env
}

func errCode(env envelope) string {
	if env.Error == nil {
		return ""
	}
	return env.Error.Code
}

func TestServer_HealthEndpoints(t *testing.T) {
	ts := newTestServer(t)

	for _, path := range []string{"/health", "/healthz", "/ready", "/live", "/"} {
		code, env := ts.do(http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusOK, code, path)
		assert.True(t, env.Success, path)
		assert.NotEmpty(t, env.RequestID, path)
	}

	req := httptest.NewRequest(http.MethodGet, "/no-such-route", nil)
	rec := httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_AchievementFlow(t *testing.T) {
	ts := newTestServer(t)
	alice := newLearner(t, 1)
	tok := ts.token(alice)

	code, env := ts.do(http.MethodPost, "/api/v1/progress", tok, nil)
	require.Equal(t, http.StatusCreated, code, string(env.Data))
	var created query.ProgressDTO
	require.NoError(t, json.Unmarshal(env.Data, &created))
	assert.Equal(t, alice.authority.String(), created.Authority)
	assert.Zero(t, created.ChallengesCompleted)

	code, env = ts.do(http.MethodPost, "/api/v1/progress", tok, nil)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, shared.CodeAlreadyExists, errCode(env))

	code, env = ts.do(http.MethodPost, "/api/v1/progress/modules/0", tok, nil)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, shared.CodeModuleNotComplete, errCode(env))

	for id := 0; id < 4; id++ {
		code, env = ts.do(http.MethodPost, "/api/v1/progress/challenges/"+strconv.Itoa(id), tok, nil)
		require.Equal(t, http.StatusOK, code, string(env.Data))
	}
	var mut mutationResponse
	require.NoError(t, json.Unmarshal(env.Data, &mut))
	assert.True(t, mut.Changed)
	assert.Equal(t, uint16(0x000F), mut.Progress.ChallengesCompleted)

	code, env = ts.do(http.MethodPost, "/api/v1/progress/challenges/3", tok, nil)
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(env.Data, &mut))
	assert.False(t, mut.Changed, "repeat completion is a no-op")

	code, _ = ts.do(http.MethodPost, "/api/v1/progress/modules/0", tok, nil)
	require.Equal(t, http.StatusOK, code)

	code, env = ts.do(http.MethodPost, "/api/v1/progress/modules/0/credential", tok, nil)
	require.Equal(t, http.StatusCreated, code, string(env.Data))
	var cred credentialResponse
	require.NoError(t, json.Unmarshal(env.Data, &cred))
	assert.Equal(t, "The Architect Badge", cred.Title)
	assert.NotEmpty(t, cred.Mint)
	assert.False(t, cred.Replayed)

	code, env = ts.do(http.MethodPost, "/api/v1/progress/modules/0/credential", tok, nil)
	require.Equal(t, http.StatusOK, code)
	var replay credentialResponse
	require.NoError(t, json.Unmarshal(env.Data, &replay))
	assert.True(t, replay.Replayed)
	assert.Equal(t, cred.Mint, replay.Mint)
	assert.Equal(t, 1, ts.minter.Count())

	// Public read without a token.
	code, env = ts.do(http.MethodGet, "/api/v1/records/"+alice.authority.String(), "", nil)
	require.Equal(t, http.StatusOK, code)
	var got query.ProgressDTO
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.Equal(t, progress.ModuleCredentialIssued, got.Modules[0].State)
	assert.Equal(t, progress.ModuleNotStarted, got.Modules[1].State)

	code, env = ts.do(http.MethodGet, "/api/v1/stats", "", nil)
	require.Equal(t, http.StatusOK, code)
	var stats query.StatsDTO
	require.NoError(t, json.Unmarshal(env.Data, &stats))
	assert.Equal(t, 1, stats.Records)
	assert.Equal(t, []int{1, 0, 0, 0}, stats.ModulesCompleted)
}

func TestServer_CredentialWithCustomMetadata(t *testing.T) {
	ts := newTestServer(t)
	bob := newLearner(t, 2)
	tok := ts.token(bob)

	code, _ := ts.do(http.MethodPost, "/api/v1/progress", tok, nil)
	require.Equal(t, http.StatusCreated, code)
	for id := 12; id < 16; id++ {
		code, _ = ts.do(http.MethodPost, "/api/v1/records/"+bob.authority.String()+"/challenges/"+strconv.Itoa(id), tok, nil)
		require.Equal(t, http.StatusOK, code)
	}
	code, _ = ts.do(http.MethodPost, "/api/v1/records/"+bob.authority.String()+"/modules/3", tok, nil)
	require.Equal(t, http.StatusOK, code)

	code, env := ts.do(http.MethodPost, "/api/v1/progress/modules/3/credential", tok,
		strings.NewReader(`{"title":"Final","symbol":"FIN","uri":"https://example.com/final.json","extra":1}`))
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, shared.CodeInvalidMetadata, errCode(env))

	code, env = ts.do(http.MethodPost, "/api/v1/progress/modules/3/credential", tok,
		strings.NewReader(`{"title":"Final","symbol":"FIN","uri":"https://example.com/final.json"}`))
	require.Equal(t, http.StatusCreated, code, string(env.Data))
	var cred credentialResponse
	require.NoError(t, json.Unmarshal(env.Data, &cred))
	assert.Equal(t, "FIN", cred.Symbol)
	assert.Equal(t, uint8(3), cred.Module)
}

func TestServer_FailureKinds(t *testing.T) {
	ts := newTestServer(t)
	alice := newLearner(t, 3)
	mallory := newLearner(t, 4)
	tok := ts.token(alice)

	code, _ := ts.do(http.MethodPost, "/api/v1/progress", tok, nil)
	require.Equal(t, http.StatusCreated, code)

	owner := "/api/v1/records/" + alice.authority.String()
	tests := []struct {
		name   string
		method string
		path   string
		token  string
		status int
		code   string
	}{
		{"no token", http.MethodPost, "/api/v1/progress/challenges/1", "", http.StatusUnauthorized, codeUnauthenticated},
		{"garbage token", http.MethodPost, "/api/v1/progress/challenges/1", "not-a-jwt", http.StatusUnauthorized, codeUnauthenticated},
		{"challenge out of range", http.MethodPost, "/api/v1/progress/challenges/16", tok, http.StatusBadRequest, shared.CodeInvalidChallengeID},
		{"challenge not numeric", http.MethodPost, "/api/v1/progress/challenges/abc", tok, http.StatusBadRequest, shared.CodeInvalidChallengeID},
		{"challenge too large for a byte", http.MethodPost, "/api/v1/progress/challenges/300", tok, http.StatusBadRequest, shared.CodeInvalidChallengeID},
		{"module out of range", http.MethodPost, "/api/v1/progress/modules/4", tok, http.StatusBadRequest, shared.CodeInvalidModuleID},
		{"credential module out of range", http.MethodPost, "/api/v1/progress/modules/9/credential", tok, http.StatusBadRequest, shared.CodeInvalidModuleID},
		{"foreign challenge", http.MethodPost, owner + "/challenges/1", ts.token(mallory), http.StatusForbidden, shared.CodeUnauthorized},
		{"foreign module", http.MethodPost, owner + "/modules/0", ts.token(mallory), http.StatusForbidden, shared.CodeUnauthorized},
		{"foreign credential", http.MethodPost, owner + "/modules/0/credential", ts.token(mallory), http.StatusForbidden, shared.CodeUnauthorized},
		{"range checked before owner", http.MethodPost, owner + "/challenges/99", ts.token(mallory), http.StatusBadRequest, shared.CodeInvalidChallengeID},
		{"credential before module", http.MethodPost, "/api/v1/progress/modules/1/credential", tok, http.StatusConflict, shared.CodeModuleNotComplete},
		{"bad authority", http.MethodGet, "/api/v1/records/not-base58!", "", http.StatusBadRequest, shared.CodeInvalidAuthority},
		{"unknown record", http.MethodGet, "/api/v1/records/" + mallory.authority.String(), "", http.StatusNotFound, shared.CodeNotFound},
		{"own record missing", http.MethodGet, "/api/v1/progress", ts.token(mallory), http.StatusNotFound, shared.CodeNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, env := ts.do(tt.method, tt.path, tt.token, nil)
			assert.Equal(t, tt.status, code)
			assert.Equal(t, tt.code, errCode(env))
			assert.False(t, env.Success)
			assert.NotEmpty(t, env.Error.Message)
		})
	}

	stored, err := ts.store.Get(context.Background(), alice.authority)
	require.NoError(t, err)
	assert.Zero(t, stored.ChallengesCompleted, "failed requests leave the record untouched")
	assert.Zero(t, ts.minter.Count())
}

func TestServer_TokenValidation(t *testing.T) {
	ts := newTestServer(t)
	alice := newLearner(t, 5)

	sign := func(aud string, ttl time.Duration, at time.Time) string {
		tok, err := SignRequestToken(alice.key, aud, ttl, at)
		require.NoError(t, err)
		return tok
	}

	tests := []struct {
		name  string
		token string
	}{
		{"wrong audience", sign("someone-else", time.Minute, baseTime)},
		{"expired", sign(audience, time.Minute, baseTime.Add(-time.Hour))},
		{"lifetime too long", sign(audience, time.Hour, baseTime)},
		{"issued in the future", sign(audience, time.Minute, baseTime.Add(time.Hour))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, env := ts.do(http.MethodPost, "/api/v1/progress", tt.token, nil)
			assert.Equal(t, http.StatusUnauthorized, code)
			assert.Equal(t, codeUnauthenticated, errCode(env))
		})
	}

	// A token whose subject does not match the signing key.
	mallory := newLearner(t, 6)
	forged, err := SignRequestToken(mallory.key, audience, time.Minute, baseTime)
	require.NoError(t, err)
	parts := strings.Split(forged, ".")
	honest := strings.Split(sign(audience, time.Minute, baseTime), ".")
	swapped := honest[0] + "." + honest[1] + "." + parts[2]
	code, _ := ts.do(http.MethodPost, "/api/v1/progress", swapped, nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = ts.do(http.MethodPost, "/api/v1/progress", sign(audience, time.Minute, baseTime), nil)
	assert.Equal(t, http.StatusCreated, code)
}

func TestServer_RequestLimits(t *testing.T) {
	ts := newTestServer(t, func(c *Config) {
		c.MaxBodyBytes = 32
		c.RateLimitPerMinute = 2
	})
	alice := newLearner(t, 7)
	tok := ts.token(alice)

	code, env := ts.do(http.MethodPost, "/api/v1/progress/modules/0/credential", tok,
		strings.NewReader(`{"title":"`+strings.Repeat("x", 64)+`"}`))
	assert.Equal(t, http.StatusRequestEntityTooLarge, code)
	assert.Equal(t, codePayloadTooLarge, errCode(env))

	code, _ = ts.do(http.MethodGet, "/live", "", nil)
	assert.Equal(t, http.StatusOK, code)

	code, env = ts.do(http.MethodGet, "/live", "", nil)
	assert.Equal(t, http.StatusTooManyRequests, code)
	assert.Equal(t, codeRateLimited, errCode(env))
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{progress.ErrInvalidChallengeID, http.StatusBadRequest, shared.CodeInvalidChallengeID},
		{progress.ErrUnauthorized, http.StatusForbidden, shared.CodeUnauthorized},
		{credential.ErrMintInProgress, http.StatusConflict, shared.CodeMintInProgress},
		{shared.WrapError(credential.ErrMintFailed, errors.New("503")), http.StatusBadGateway, shared.CodeMintFailed},
		{progress.ErrCorruptRecord, http.StatusInternalServerError, shared.CodeCorruptRecord},
		{shared.ErrServiceUnavailable, http.StatusBadGateway, codeCollaborator},
		{errors.New("boom"), http.StatusInternalServerError, codeInternal},
	}
	for _, tt := range tests {
		status, code := statusFor(tt.err)
		assert.Equal(t, tt.status, status, tt.err.Error())
		assert.Equal(t, tt.code, code, tt.err.Error())
	}

	assert.Equal(t, "An unexpected error occurred", publicMessage(errors.New("pq: password leaked"), http.StatusInternalServerError))
}
