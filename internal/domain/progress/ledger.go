package progress

import "time"

// ══════════════════════════════════════════════════════════════════════════════
// LEDGER
// Операции жизненного цикла записи. Все функции чистые: запись на входе
// не изменяется, при ошибке возвращается исходная запись.
// Порядок проверок: диапазон, затем владелец, затем предусловия.
// ══════════════════════════════════════════════════════════════════════════════

// Create создаёт запись с нулевыми битсетами и CreatedAt = UpdatedAt = now.
// Уникальность записи для authority обеспечивает Store.Create.
func Create(authority Authority, now time.Time) Record {
	now = now.UTC().Truncate(time.Second)
	return Record{
		Authority: authority,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Authorize - единая проверка владельца для всех изменяющих и выпускающих операций.
func Authorize(r Record, requester Authority) error {
	if requester.IsZero() || requester != r.Authority {
		return ErrUnauthorized
	}
	return nil
}

// CompleteChallenge отмечает челлендж пройденным.
// Повторный вызов для пройденного челленджа - успешная операция без изменений битов.
func CompleteChallenge(r Record, requester Authority, id ChallengeID, now time.Time) (Record, error) {
	if err := id.Validate(); err != nil {
		return r, err
	}
	if err := Authorize(r, requester); err != nil {
		return r, err
	}

	next := r
	next.ChallengesCompleted |= id.Bit()
	touch(&next, now)
	return next, nil
}

// CompleteModule отмечает модуль завершённым.
// Требует, чтобы все челленджи модуля были пройдены. Идемпотентна.
func CompleteModule(r Record, requester Authority, id ModuleID, now time.Time) (Record, error) {
	if err := id.Validate(); err != nil {
		return r, err
	}
	if err := Authorize(r, requester); err != nil {
		return r, err
	}
	if !r.ModuleChallengesComplete(id) {
		return r, ErrModuleNotComplete
	}

	next := r
	next.ModulesCompleted |= id.Bit()
	touch(&next, now)
	return next, nil
}

// RequireModuleComplete проверяет предусловия выпуска credential по модулю.
// Запись не изменяется.
func RequireModuleComplete(r Record, requester Authority, id ModuleID) error {
	if err := id.Validate(); err != nil {
		return err
	}
	if err := Authorize(r, requester); err != nil {
		return err
	}
	if !r.HasModule(id) {
		return ErrModuleNotComplete
	}
	return nil
}

// touch обновляет UpdatedAt, не допуская UpdatedAt < CreatedAt.
func touch(r *Record, now time.Time) {
	now = now.UTC().Truncate(time.Second)
	if now.Before(r.CreatedAt) {
		now = r.CreatedAt
	}
	r.UpdatedAt = now
}
