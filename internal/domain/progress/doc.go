// Package progress содержит доменную модель прогресса пользователя Shadow Ranch.
//
// Это ядро системы: конечный автомат прогресса по фиксированной учебной
// программе из 4 модулей по 4 челленджа. Пакет определяет:
//
//   - Учебную программу (BitsetCodec): ChallengesOf, MaskOf, ModuleMask
//   - Value Objects: Authority, Address, ChallengeID, ModuleID
//   - Сущность Record и производное состояние модуля ModuleState
//   - Операции Ledger: Create, CompleteChallenge, CompleteModule, Authorize
//   - Бинарный формат записи (версия 1): EncodeRecord, DecodeRecord
//   - Интерфейсы хранилища: Store, Cache
//
// # Инварианты
//
// Биты в ChallengesCompleted и ModulesCompleted никогда не сбрасываются.
// Бит модуля m устанавливается только если установлены все биты
// челленджей [4m, 4m+3]. UpdatedAt никогда не меньше CreatedAt.
//
// # Пример использования
//
//	rec := progress.Create(authority, clock.Now())
//	rec, err := progress.CompleteChallenge(rec, requester, 3, clock.Now())
//	if errors.Is(err, progress.ErrUnauthorized) {
//	    return err
//	}
//
// Все операции чистые: принимают загруженную запись и возвращают новую.
// Атомарность и сериализацию конкурентных изменений обеспечивает Store.Update.
package progress
