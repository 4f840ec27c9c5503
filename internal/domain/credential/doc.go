// Package credential содержит доменную модель выпуска achievement credential.
//
// Credential - уникальный невзаимозаменяемый токен, подтверждающий завершение
// модуля. Сам токен создаёт внешний сервис token-metadata; этот пакет
// проверяет предусловия и формирует ровно один запрос на выпуск.
//
//   - Metadata: название, символ и URI с ограничениями сервиса метаданных
//   - MintRequest: полный запрос к сервису с ключом идемпотентности
//   - IssuedCredential: результат выпуска
//   - Minter: порт внешнего сервиса
//   - Issuer: проверка предусловий и делегирование в Minter
//   - Ledger: журнал выпусков (один credential на authority и модуль)
package credential
