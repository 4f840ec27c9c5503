package http

import (
	"errors"
	"net/http"

	"github.com/alem-hub/shadow-ranch/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// ERROR MAPPING
// Failure kinds are returned verbatim in error.code.
// ══════════════════════════════════════════════════════════════════════════════

const (
	codeUnauthenticated = "Unauthenticated"
	codeBadRequest      = "BadRequest"
	codePayloadTooLarge = "PayloadTooLarge"
	codeRateLimited     = "RateLimited"
	codeInternal        = "Internal"
	codeNotImplemented  = "NotImplemented"
	codeCollaborator    = "CollaboratorError"
)

// statusFor maps an error to an HTTP status and a public error code.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, ErrMissingToken), errors.Is(err, ErrInvalidToken):
		return http.StatusUnauthorized, codeUnauthenticated
	}

	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return http.StatusRequestEntityTooLarge, codePayloadTooLarge
	}

	switch code := shared.CodeOf(err); code {
	case shared.CodeInvalidChallengeID, shared.CodeInvalidModuleID,
		shared.CodeInvalidMetadata, shared.CodeInvalidAuthority:
		return http.StatusBadRequest, code
	case shared.CodeUnauthorized:
		return http.StatusForbidden, code
	case shared.CodeModuleNotComplete, shared.CodeAlreadyExists, shared.CodeMintInProgress:
		return http.StatusConflict, code
	case shared.CodeNotFound:
		return http.StatusNotFound, code
	case shared.CodeMintFailed:
		return http.StatusBadGateway, code
	case "":
	default:
		return http.StatusInternalServerError, code
	}

	if shared.IsExternalService(err) {
		return http.StatusBadGateway, codeCollaborator
	}
	return http.StatusInternalServerError, codeInternal
}

// publicMessage returns the message safe to show to API callers.
// Internal failures never leak their cause.
func publicMessage(err error, status int) string {
	if status >= http.StatusInternalServerError && status != http.StatusBadGateway {
		return "An unexpected error occurred"
	}

	var de *shared.DomainError
	if errors.As(err, &de) {
		return de.Message
	}
	switch {
	case errors.Is(err, ErrMissingToken):
		return "Authorization: Bearer <token> is required"
	case errors.Is(err, ErrInvalidToken):
		return "Bearer token is invalid or expired"
	case status == http.StatusRequestEntityTooLarge:
		return "Request body too large"
	case status == http.StatusBadGateway:
		return "Upstream service failed"
	}
	return http.StatusText(status)
}
