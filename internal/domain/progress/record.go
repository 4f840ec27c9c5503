package progress

import (
	"math/bits"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// MAIN ENTITY: RECORD
// ══════════════════════════════════════════════════════════════════════════════

// Record - сохраняемое состояние прогресса одного пользователя.
type Record struct {
	// Authority - владелец записи. Не меняется после создания.
	Authority Authority

	// ChallengesCompleted - бит i установлен, если челлендж i пройден.
	ChallengesCompleted uint16

	// ModulesCompleted - бит m установлен, если модуль m завершён.
	// Значимы только младшие 4 бита.
	ModulesCompleted uint8

	// CreatedAt и UpdatedAt - время по доверенным часам, UTC, точность секунда.
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Address возвращает адрес записи в хранилище.
func (r Record) Address() Address {
	return AddressOf(r.Authority)
}

// HasChallenge проверяет, пройден ли челлендж.
func (r Record) HasChallenge(c ChallengeID) bool {
	return c.IsValid() && r.ChallengesCompleted&c.Bit() != 0
}

// HasModule проверяет, установлен ли бит модуля.
func (r Record) HasModule(m ModuleID) bool {
	return m.IsValid() && r.ModulesCompleted&m.Bit() != 0
}

// ChallengesDone возвращает число пройденных челленджей модуля.
func (r Record) ChallengesDone(m ModuleID) int {
	if !m.IsValid() {
		return 0
	}
	return bits.OnesCount16(r.ChallengesCompleted & moduleMask(m))
}

// ModuleChallengesComplete проверяет, пройдены ли все челленджи модуля.
func (r Record) ModuleChallengesComplete(m ModuleID) bool {
	if !m.IsValid() {
		return false
	}
	mask := moduleMask(m)
	return r.ChallengesCompleted&mask == mask
}

// CompletedChallenges возвращает пройденные челленджи по возрастанию.
func (r Record) CompletedChallenges() []ChallengeID {
	ids := make([]ChallengeID, 0, bits.OnesCount16(r.ChallengesCompleted))
	for c := ChallengeID(0); c < ChallengeCount; c++ {
		if r.ChallengesCompleted&c.Bit() != 0 {
			ids = append(ids, c)
		}
	}
	return ids
}

// CompletedModules возвращает завершённые модули по возрастанию.
func (r Record) CompletedModules() []ModuleID {
	ids := make([]ModuleID, 0, ModuleCount)
	for m := ModuleID(0); m < ModuleCount; m++ {
		if r.ModulesCompleted&m.Bit() != 0 {
			ids = append(ids, m)
		}
	}
	return ids
}

// Validate проверяет инварианты записи. Используется при чтении из хранилища.
func (r Record) Validate() error {
	if r.Authority.IsZero() {
		return ErrCorruptRecord
	}
	if r.ModulesCompleted&^AllModulesMask != 0 {
		return ErrCorruptRecord
	}
	for m := ModuleID(0); m < ModuleCount; m++ {
		if r.HasModule(m) && !r.ModuleChallengesComplete(m) {
			return ErrCorruptRecord
		}
	}
	if r.UpdatedAt.Before(r.CreatedAt) {
		return ErrCorruptRecord
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// ПРОИЗВОДНОЕ СОСТОЯНИЕ МОДУЛЯ
// ══════════════════════════════════════════════════════════════════════════════

// ModuleState - состояние модуля, выводимое из двух битсетов.
// Переходы монотонны: назад состояние не возвращается.
type ModuleState string

const (
	// ModuleNotStarted - ни один челлендж модуля не пройден.
	ModuleNotStarted ModuleState = "not_started"
	// ModuleChallengesInProgress - пройдена часть челленджей.
	ModuleChallengesInProgress ModuleState = "challenges_in_progress"
	// ModuleChallengesComplete - все челленджи пройдены, модуль ещё не закрыт.
	ModuleChallengesComplete ModuleState = "challenges_complete"
	// ModuleComplete - бит модуля установлен.
	ModuleComplete ModuleState = "module_complete"
	// ModuleCredentialIssued - по модулю выпущен credential.
	// В записи не хранится, определяется по журналу выпусков.
	ModuleCredentialIssued ModuleState = "credential_issued"
)

// Rank возвращает порядковый номер состояния в автомате.
func (s ModuleState) Rank() int {
	switch s {
	case ModuleNotStarted:
		return 0
	case ModuleChallengesInProgress:
		return 1
	case ModuleChallengesComplete:
		return 2
	case ModuleComplete:
		return 3
	case ModuleCredentialIssued:
		return 4
	default:
		return -1
	}
}

// StateOf выводит состояние модуля. issued сообщает, выпущен ли credential.
func (r Record) StateOf(m ModuleID, issued bool) ModuleState {
	switch {
	case r.HasModule(m) && issued:
		return ModuleCredentialIssued
	case r.HasModule(m):
		return ModuleComplete
	case r.ModuleChallengesComplete(m):
		return ModuleChallengesComplete
	case r.ChallengesDone(m) > 0:
		return ModuleChallengesInProgress
	default:
		return ModuleNotStarted
	}
}
