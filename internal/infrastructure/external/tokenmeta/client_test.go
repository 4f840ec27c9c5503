package tokenmeta

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/shadow-ranch/internal/domain/credential"
	"github.com/alem-hub/shadow-ranch/internal/domain/progress"
	"github.com/alem-hub/shadow-ranch/pkg/circuitbreaker"
	"github.com/alem-hub/shadow-ranch/pkg/retry"
)

func testAuthority(t *testing.T, seed byte) progress.Authority {
	t.Helper()
	s := make([]byte, ed25519.SeedSize)
	s[0] = seed
	a, err := progress.AuthorityFromPublicKey(ed25519.NewKeyFromSeed(s).Public().(ed25519.PublicKey))
	require.NoError(t, err)
	return a
}

func testRequest(t *testing.T) credential.MintRequest {
	return credential.NewMintRequest(testAuthority(t, 1), 2, credential.Metadata{
		Title:  "Gatekeeper Badge",
		Symbol: "GATEKEEPER",
		URI:    "https://example.com/2.json",
	})
}

func newTestClient(t *testing.T, handler http.HandlerFunc, maxAttempts int) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := DefaultClientConfig(srv.URL + "/")
	cfg.APIKey = "secret"
	cfg.HTTPClient = srv.Client()
	cfg.RateLimiterConfig = RateLimiterConfig{RetryAfter: time.Millisecond}
	cfg.Retrier = retry.New(
		retry.WithMaxAttempts(maxAttempts),
		retry.WithInitialDelay(time.Millisecond),
		retry.WithMaxDelay(2*time.Millisecond),
	)
	return NewClient(cfg)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

var okResponse = MintResponseDTO{
	Mint:          "MintAddr",
	Metadata:      "MetaAddr",
	MasterEdition: "EditionAddr",
	TokenAccount:  "AccountAddr",
	Signature:     "Sig",
}

func TestClient_Mint(t *testing.T) {
	req := testRequest(t)

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/mints", r.URL.Path)
		assert.Equal(t, req.IdempotencyKey, r.Header.Get("Idempotency-Key"))
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		var body MintRequestDTO
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, req.IdempotencyKey, body.IdempotencyKey)
		assert.Equal(t, req.Owner.String(), body.Owner)
		assert.Equal(t, "Gatekeeper Badge", body.Name)
		assert.Equal(t, "GATEKEEPER", body.Symbol)
		assert.Zero(t, body.MaxSupply)
		assert.True(t, body.IsMutable)
		require.Len(t, body.Creators, 1)
		assert.Equal(t, req.Owner.String(), body.Creators[0].Address)
		assert.Equal(t, uint8(100), body.Creators[0].Share)

		writeJSON(w, http.StatusCreated, okResponse)
	}, 3)

	cred, err := c.Mint(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "MintAddr", cred.Mint)
	assert.Equal(t, "MetaAddr", cred.MetadataAddr)
	assert.Equal(t, "EditionAddr", cred.MasterEdition)
	assert.Equal(t, "AccountAddr", cred.TokenAccount)
	assert.Equal(t, "Sig", cred.Signature)
	assert.Equal(t, req.Owner, cred.Authority)
	assert.Equal(t, progress.ModuleID(2), cred.Module)
	assert.Equal(t, req.Metadata, cred.Metadata)
}

func TestClient_RetriesServerErrorsWithSameKey(t *testing.T) {
	var calls atomic.Int32
	keys := make(chan string, 3)

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		keys <- r.Header.Get("Idempotency-Key")
		if calls.Add(1) == 1 {
			writeJSON(w, http.StatusServiceUnavailable, APIErrorDTO{Code: "UNAVAILABLE", Message: "rpc node down"})
			return
		}
		writeJSON(w, http.StatusOK, okResponse)
	}, 3)

	req := testRequest(t)
	_, err := c.Mint(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())

	close(keys)
	for k := range keys {
		assert.Equal(t, req.IdempotencyKey, k)
	}
}

func TestClient_RetryAfterLostResponseReusesMint(t *testing.T) {
	var (
		mu     sync.Mutex
		minted = map[string]MintResponseDTO{}
		mints  int
	)
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("Idempotency-Key")
		mu.Lock()
		resp, seen := minted[key]
		if !seen {
			mints++
			resp = okResponse
			minted[key] = resp
		}
		mu.Unlock()
		if !seen {
			// the mint happened but the reply never reached the client
			writeJSON(w, http.StatusBadGateway, APIErrorDTO{Code: "UPSTREAM", Message: "connection reset"})
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}, 3)

	cred, err := c.Mint(context.Background(), testRequest(t))
	require.NoError(t, err)
	assert.Equal(t, okResponse.Mint, cred.Mint)
	assert.Equal(t, 1, mints)
}

func TestClient_RetriesRateLimit(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		writeJSON(w, http.StatusOK, okResponse)
	}, 3)

	_, err := c.Mint(context.Background(), testRequest(t))
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, 1, c.Status().RateLimiter.Hits)
}

func TestClient_ClientErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeJSON(w, http.StatusUnprocessableEntity, APIErrorDTO{Code: "INVALID_URI", Message: "uri not reachable"})
	}, 3)

	_, err := c.Mint(context.Background(), testRequest(t))
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
	assert.ErrorIs(t, err, credential.ErrMintFailed)

	var apiErr *APIErrorDTO
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnprocessableEntity, apiErr.Status)
	assert.Equal(t, "INVALID_URI", apiErr.Code)
	assert.Equal(t, circuitbreaker.StateClosed, c.Status().BreakerState, "4xx does not trip the breaker")
}

func TestClient_BreakerOpensOnRepeatedServerErrors(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}, 1)

	for i := 0; i < 3; i++ {
		_, err := c.Mint(context.Background(), testRequest(t))
		require.Error(t, err)
	}
	require.Equal(t, circuitbreaker.StateOpen, c.Status().BreakerState)

	_, err := c.Mint(context.Background(), testRequest(t))
	assert.ErrorIs(t, err, circuitbreaker.ErrCircuitOpen)
	assert.ErrorIs(t, err, credential.ErrMintFailed)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_MalformedResponse(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte("{not json"))
	}, 3)

	_, err := c.Mint(context.Background(), testRequest(t))
	assert.True(t, errors.Is(err, errBadResponse))
	assert.Equal(t, int32(1), calls.Load())
}

func TestClient_Ping(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}, 1)

	assert.NoError(t, c.Ping(context.Background()))
}

func TestMemoryMinter_IsIdempotent(t *testing.T) {
	m := NewMemoryMinter()
	req := testRequest(t)

	first, err := m.Mint(context.Background(), req)
	require.NoError(t, err)
	second, err := m.Mint(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, first.Mint, second.Mint)
	assert.NotEqual(t, first.Mint, first.MetadataAddr)
	assert.Equal(t, 1, m.Count())

	other := credential.NewMintRequest(req.Owner, 3, req.Metadata)
	third, err := m.Mint(context.Background(), other)
	require.NoError(t, err)
	assert.NotEqual(t, first.Mint, third.Mint)
	assert.Equal(t, 2, m.Count())
}
