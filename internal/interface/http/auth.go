package http

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/alem-hub/shadow-ranch/config"
	"github.com/alem-hub/shadow-ranch/internal/domain/progress"
	"github.com/alem-hub/shadow-ranch/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// REQUEST AUTHENTICATION
// A request token is a JWT signed with EdDSA by the requester's own key.
// Its subject is the base58 authority, and the verifying key is decoded
// from that subject, so no key registry is needed.
// ══════════════════════════════════════════════════════════════════════════════

var (
	// ErrMissingToken is returned when the Authorization header is absent.
	ErrMissingToken = errors.New("missing bearer token")

	// ErrInvalidToken is returned when the token fails verification.
	ErrInvalidToken = errors.New("invalid bearer token")
)

// Authenticator verifies request tokens.
type Authenticator struct {
	parser *jwt.Parser
	maxTTL time.Duration
	leeway time.Duration
	clock  timeutil.Clock
}

// NewAuthenticator creates an Authenticator from the auth config.
func NewAuthenticator(cfg config.AuthConfig, clock timeutil.Clock) *Authenticator {
	if clock == nil {
		clock = timeutil.SystemClock{}
	}
	return &Authenticator{
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg()}),
			jwt.WithAudience(cfg.Audience),
			jwt.WithExpirationRequired(),
			jwt.WithIssuedAt(),
			jwt.WithLeeway(cfg.Leeway),
			jwt.WithTimeFunc(clock.Now),
		),
		maxTTL: cfg.MaxTokenTTL,
		leeway: cfg.Leeway,
		clock:  clock,
	}
}

// Authenticate extracts and verifies the bearer token of r and returns
// the requester identity.
func (a *Authenticator) Authenticate(r *http.Request) (progress.Authority, error) {
	header := r.Header.Get("Authorization")
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || strings.TrimSpace(raw) == "" {
		return progress.Authority{}, ErrMissingToken
	}
	return a.Verify(strings.TrimSpace(raw))
}

// Verify checks a raw token and returns its subject.
func (a *Authenticator) Verify(raw string) (progress.Authority, error) {
	var subject progress.Authority
	claims := &jwt.RegisteredClaims{}

	_, err := a.parser.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		sub, err := t.Claims.GetSubject()
		if err != nil {
			return nil, err
		}
		subject, err = progress.ParseAuthority(sub)
		if err != nil {
			return nil, err
		}
		return subject.PublicKey(), nil
	})
	if err != nil {
		return progress.Authority{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if a.maxTTL > 0 {
		start := a.clock.Now()
		if claims.IssuedAt != nil {
			start = claims.IssuedAt.Time
		}
		if claims.ExpiresAt.Sub(start) > a.maxTTL+a.leeway {
			return progress.Authority{}, fmt.Errorf("%w: lifetime exceeds %s", ErrInvalidToken, a.maxTTL)
		}
	}

	return subject, nil
}

// SignRequestToken issues a request token for the holder of key.
func SignRequestToken(key ed25519.PrivateKey, audience string, ttl time.Duration, now time.Time) (string, error) {
	authority, err := progress.AuthorityFromPublicKey(key.Public().(ed25519.PublicKey))
	if err != nil {
		return "", err
	}

	claims := jwt.RegisteredClaims{
		Subject:   authority.String(),
		Audience:  jwt.ClaimStrings{audience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(key)
}
