package credential

import "github.com/alem-hub/shadow-ranch/internal/domain/shared"

// Ошибки домена credential.
var (
	ErrInvalidMetadata = shared.ErrInvalidMetadata
	ErrNotFound        = shared.ErrIssuanceNotFound
	ErrAlreadyRecorded = shared.ErrIssuanceExists
	ErrMintFailed      = shared.ErrMintFailed
	ErrMintInProgress  = shared.ErrMintInProgress
)
