package progress

import "github.com/alem-hub/shadow-ranch/internal/domain/shared"

// Ошибки домена прогресса. Определены в shared, здесь переэкспортированы
// для удобства вызывающего кода.
var (
	ErrInvalidChallengeID = shared.ErrInvalidChallengeID
	ErrInvalidModuleID    = shared.ErrInvalidModuleID
	ErrInvalidAuthority   = shared.ErrInvalidAuthority
	ErrUnauthorized       = shared.ErrNotAuthority
	ErrModuleNotComplete  = shared.ErrModuleNotComplete
	ErrAlreadyExists      = shared.ErrRecordAlreadyExists
	ErrNotFound           = shared.ErrRecordNotFound
	ErrCorruptRecord      = shared.ErrCorruptRecord
)
