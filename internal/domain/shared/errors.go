// Package shared содержит ошибки и события, общие для доменов progress и
// credential. Внешних зависимостей у пакета нет.
package shared

import (
	"errors"
	"fmt"
)

// Категории ошибок. Проверяются через errors.Is и нужны слоям, которым не
// важен конкретный код (ретраи, маппинг статусов).
var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrInvalidInput  = errors.New("invalid input")
	ErrInvalidState  = errors.New("invalid state")
	ErrUnauthorized  = errors.New("unauthorized")

	ErrExternalService    = errors.New("external service error")
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrTimeout            = errors.New("operation timeout")
)

// Коды отказов. Строки уходят клиенту API без изменений.
const (
	CodeInvalidChallengeID = "InvalidChallengeId"
	CodeInvalidModuleID    = "InvalidModuleId"
	CodeInvalidAuthority   = "InvalidAuthority"
	CodeUnauthorized       = "Unauthorized"
	CodeModuleNotComplete  = "ModuleNotComplete"
	CodeAlreadyExists      = "AlreadyExists"
	CodeNotFound           = "NotFound"
	CodeInvalidMetadata    = "InvalidMetadata"
	CodeCorruptRecord      = "CorruptRecord"
	CodeMintFailed         = "MintFailed"
	CodeMintInProgress     = "MintInProgress"
)

// ═══════════════════════════════════════════════════════════════════════════
// DOMAIN ERROR
// ═══════════════════════════════════════════════════════════════════════════

// DomainError несёт код отказа, категорию и, при обёртке, исходную причину.
// Две ошибки с одинаковым Code равны для errors.Is, причина при этом не
// учитывается.
type DomainError struct {
	Code    string
	Op      string // "progress.CompleteChallenge" и т.п.
	Message string

	kind  error
	cause error
}

func newError(op, code string, kind error, message string) *DomainError {
	return &DomainError{Code: code, Op: op, Message: message, kind: kind}
}

func (e *DomainError) Error() string {
	if e.cause == nil {
		return e.Op + ": " + e.Message
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.cause)
}

// Unwrap отдаёт и категорию, и причину.
func (e *DomainError) Unwrap() []error {
	if e.cause == nil {
		return []error{e.kind}
	}
	return []error{e.kind, e.cause}
}

func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	return ok && t.Code != "" && t.Code == e.Code
}

// WrapError возвращает копию base с причиной err.
func WrapError(base *DomainError, err error) *DomainError {
	wrapped := *base
	wrapped.cause = err
	return &wrapped
}

// CodeOf возвращает код отказа или "" для ошибок вне домена.
func CodeOf(err error) string {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

// IsExternalService сообщает, что отказал внешний сервис.
func IsExternalService(err error) bool {
	for _, kind := range []error{ErrExternalService, ErrServiceUnavailable, ErrTimeout} {
		if errors.Is(err, kind) {
			return true
		}
	}
	return false
}

// ═══════════════════════════════════════════════════════════════════════════
// ОТКАЗЫ
// ═══════════════════════════════════════════════════════════════════════════

// Прогресс.
var (
	ErrInvalidChallengeID = newError("progress.Validate", CodeInvalidChallengeID, ErrInvalidInput,
		"Invalid challenge ID. Must be between 0 and 15.")
	ErrInvalidModuleID = newError("progress.Validate", CodeInvalidModuleID, ErrInvalidInput,
		"Invalid module ID. Must be between 0 and 3.")
	ErrInvalidAuthority = newError("progress.ParseAuthority", CodeInvalidAuthority, ErrInvalidInput,
		"authority must be a base58-encoded 32-byte public key")
	ErrNotAuthority = newError("progress.Authorize", CodeUnauthorized, ErrUnauthorized,
		"Unauthorized. Only the account authority can perform this action.")
	ErrModuleNotComplete = newError("progress.CheckModule", CodeModuleNotComplete, ErrInvalidState,
		"Module not complete. All challenges in the module must be completed first.")
	ErrRecordAlreadyExists = newError("progress.Create", CodeAlreadyExists, ErrAlreadyExists,
		"progress record already exists for this authority")
	ErrRecordNotFound = newError("progress.Find", CodeNotFound, ErrNotFound,
		"progress record not found")
	ErrCorruptRecord = newError("progress.Decode", CodeCorruptRecord, ErrInvalidState,
		"progress record layout is corrupt")
)

// Достижения.
var (
	ErrInvalidMetadata = newError("credential.Validate", CodeInvalidMetadata, ErrInvalidInput,
		"invalid credential metadata")
	ErrIssuanceNotFound = newError("credential.Find", CodeNotFound, ErrNotFound,
		"credential has not been issued for this module")
	ErrIssuanceExists = newError("credential.Record", CodeAlreadyExists, ErrAlreadyExists,
		"credential already recorded for this module")
	ErrMintFailed = newError("credential.Mint", CodeMintFailed, ErrExternalService,
		"token metadata service failed to mint credential")
	ErrMintInProgress = newError("credential.Mint", CodeMintInProgress, ErrInvalidState,
		"credential mint for this module is already in progress")
)
