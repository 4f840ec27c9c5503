package tokenmeta

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/alem-hub/shadow-ranch/internal/domain/credential"
	"github.com/alem-hub/shadow-ranch/internal/domain/shared"
	"github.com/alem-hub/shadow-ranch/pkg/circuitbreaker"
	"github.com/alem-hub/shadow-ranch/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// ClientConfig contains configuration for the token-metadata client.
type ClientConfig struct {
	// BaseURL is the service base URL, e.g. https://mint.example.com
	BaseURL string

	// APIKey is sent as a Bearer token when set
	APIKey string

	// Timeout is the per-request HTTP timeout
	Timeout time.Duration

	// RateLimiterConfig for outgoing requests
	RateLimiterConfig RateLimiterConfig

	// MaxRetries is the number of retries after the first attempt.
	// Zero keeps the default retrier.
	MaxRetries int

	// FailureThreshold and BreakerTimeout tune the default breaker when set
	FailureThreshold int
	BreakerTimeout   time.Duration

	// Breaker overrides the default token-metadata circuit breaker
	Breaker *circuitbreaker.CircuitBreaker

	// Retrier overrides the default token-metadata retrier
	Retrier *retry.Retrier

	// HTTPClient overrides the instrumented default client
	HTTPClient *http.Client

	// Logger for structured logging
	Logger *slog.Logger
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig(baseURL string) ClientConfig {
	return ClientConfig{
		BaseURL:           baseURL,
		Timeout:           30 * time.Second,
		RateLimiterConfig: DefaultRateLimiterConfig(),
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// CLIENT
// ══════════════════════════════════════════════════════════════════════════════

// Client is the token-metadata service client. It implements credential.Minter.
type Client struct {
	config      ClientConfig
	httpClient  *http.Client
	logger      *slog.Logger
	rateLimiter *RateLimiter
	breaker     *circuitbreaker.CircuitBreaker
	retrier     *retry.Retrier
}

var _ credential.Minter = (*Client)(nil)

// NewClient creates a new token-metadata client.
func NewClient(config ClientConfig) *Client {
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	c := &Client{
		config:      config,
		httpClient:  config.HTTPClient,
		logger:      config.Logger.With("component", "tokenmeta"),
		rateLimiter: NewRateLimiter(config.RateLimiterConfig),
		breaker:     config.Breaker,
		retrier:     config.Retrier,
	}

	if c.httpClient == nil {
		c.httpClient = &http.Client{
			Timeout:   config.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	if c.breaker == nil {
		c.breaker = c.newBreaker()
	}
	if c.retrier == nil {
		c.retrier = retry.TokenMetadataRetrier()
		if config.MaxRetries > 0 {
			c.retrier = retry.New(
				retry.WithMaxAttempts(config.MaxRetries+1),
				retry.WithInitialDelay(500*time.Millisecond),
				retry.WithMaxDelay(5*time.Second),
				retry.WithJitter(0.2),
			)
		}
	}
	return c
}

func (c *Client) newBreaker() *circuitbreaker.CircuitBreaker {
	if c.config.FailureThreshold <= 0 && c.config.BreakerTimeout <= 0 {
		return circuitbreaker.TokenMetadataBreaker(countsAsFailure, c.onStateChange)
	}
	opts := []circuitbreaker.Option{
		circuitbreaker.WithSuccessThreshold(2),
		circuitbreaker.WithMaxHalfOpenRequests(1),
		circuitbreaker.WithIsFailure(countsAsFailure),
		circuitbreaker.WithOnStateChange(c.onStateChange),
	}
	if c.config.FailureThreshold > 0 {
		opts = append(opts, circuitbreaker.WithFailureThreshold(c.config.FailureThreshold))
	}
	if c.config.BreakerTimeout > 0 {
		opts = append(opts, circuitbreaker.WithTimeout(c.config.BreakerTimeout))
	}
	return circuitbreaker.New("token-metadata", opts...)
}

func (c *Client) onStateChange(name string, from, to circuitbreaker.State) {
	c.logger.Warn("circuit breaker state changed",
		"breaker", name, "from", from.String(), "to", to.String())
}

// ══════════════════════════════════════════════════════════════════════════════
// MINT
// ══════════════════════════════════════════════════════════════════════════════

// Mint performs the single idempotency-keyed mint call.
// Transport failures, 5xx and 429 are retried with the same key;
// every failure is returned wrapped in credential.ErrMintFailed.
// A retry after a lost response is safe only because the service
// deduplicates mints by the Idempotency-Key header.
func (c *Client) Mint(ctx context.Context, req credential.MintRequest) (*credential.IssuedCredential, error) {
	body := mintRequestToDTO(req)

	var resp MintResponseDTO
	err := c.retrier.Do(ctx, func(ctx context.Context) error {
		if err := c.rateLimiter.Allow(ctx); err != nil {
			return retry.Permanent(fmt.Errorf("rate limiter: %w", err))
		}

		r, err := circuitbreaker.ExecuteWithData(ctx, c.breaker, func(ctx context.Context) (MintResponseDTO, error) {
			return c.doSingleRequest(ctx, body)
		})
		if err != nil {
			return c.classify(err)
		}
		resp = r
		return nil
	})
	if err != nil {
		c.logger.ErrorContext(ctx, "mint failed",
			"idempotency_key", req.IdempotencyKey, "error", err)
		return nil, shared.WrapError(credential.ErrMintFailed, err)
	}

	if resp.Mint == "" {
		return nil, shared.WrapError(credential.ErrMintFailed, errors.New("response without mint address"))
	}

	c.logger.InfoContext(ctx, "credential minted",
		"idempotency_key", req.IdempotencyKey, "mint", resp.Mint, "signature", resp.Signature)
	return issuedFromDTO(req, resp), nil
}

// classify marks errors for the retrier.
func (c *Client) classify(err error) error {
	var rateLimitErr *RateLimitError
	var apiErr *APIErrorDTO

	switch {
	case errors.Is(err, circuitbreaker.ErrCircuitOpen),
		errors.Is(err, circuitbreaker.ErrTooManyRequests),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return retry.Permanent(err)
	case errors.As(err, &rateLimitErr):
		c.rateLimiter.RecordRateLimitHit(rateLimitErr.RetryAfter)
		return retry.Retryable(err)
	case errors.As(err, &apiErr):
		if apiErr.Temporary() {
			return retry.Retryable(err)
		}
		return retry.Permanent(err)
	case errors.Is(err, errBadResponse):
		return retry.Permanent(err)
	default:
		// Transport-level failure: safe to repeat with the same key.
		return retry.Retryable(err)
	}
}

// countsAsFailure keeps client errors out of the breaker.
func countsAsFailure(err error) bool {
	var apiErr *APIErrorDTO
	if errors.As(err, &apiErr) {
		return apiErr.Temporary()
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, errBadResponse)
}

// ══════════════════════════════════════════════════════════════════════════════
// HTTP REQUEST HELPERS
// ══════════════════════════════════════════════════════════════════════════════

var errBadResponse = errors.New("tokenmeta: malformed response")

// doSingleRequest performs one POST /v1/mints.
func (c *Client) doSingleRequest(ctx context.Context, body MintRequestDTO) (MintResponseDTO, error) {
	var out MintResponseDTO

	payload, err := json.Marshal(body)
	if err != nil {
		return out, fmt.Errorf("marshal body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/v1/mints", bytes.NewReader(payload))
	if err != nil {
		return out, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Idempotency-Key", body.IdempotencyKey)
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	c.logger.DebugContext(ctx, "token-metadata request", "idempotency_key", body.IdempotencyKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return out, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return out, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		var retryAfter time.Duration
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if seconds, err := strconv.Atoi(ra); err == nil {
				retryAfter = time.Duration(seconds) * time.Second
			}
		}
		return out, &RateLimitError{RetryAfter: retryAfter}
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIErrorDTO{Status: resp.StatusCode}
		if err := json.Unmarshal(respBody, apiErr); err != nil || apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		return out, apiErr
	}

	if err := json.Unmarshal(respBody, &out); err != nil {
		return out, fmt.Errorf("%w: %v", errBadResponse, err)
	}
	return out, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH AND STATUS
// ══════════════════════════════════════════════════════════════════════════════

// Ping checks that the service answers GET /health.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("token-metadata health: status %d", resp.StatusCode)
	}
	return nil
}

// ClientStatus is a snapshot of the client's protection layers.
type ClientStatus struct {
	RateLimiter  RateLimiterStatus
	BreakerState circuitbreaker.State
	Breaker      circuitbreaker.Counts
}

// Status returns the current status of the client.
func (c *Client) Status() ClientStatus {
	return ClientStatus{
		RateLimiter:  c.rateLimiter.Status(),
		BreakerState: c.breaker.State(),
		Breaker:      c.breaker.Counts(),
	}
}
