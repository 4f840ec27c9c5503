package shared

import "time"

// EventType именует доменное событие. Значение уходит в логи и в канал
// Redis, поэтому менять строки нельзя.
type EventType string

const (
	EventUserInitialized    EventType = "progress.user_initialized"
	EventChallengeCompleted EventType = "progress.challenge_completed"
	EventModuleCompleted    EventType = "progress.module_completed"
	EventCredentialIssued   EventType = "credential.issued"
)

// Event описывает то, что получают подписчики шины.
type Event interface {
	EventType() EventType
	OccurredAt() time.Time
	// AggregateID возвращает authority владельца записи прогресса.
	AggregateID() string
	Payload() map[string]interface{}
}

// EventHandler обрабатывает одно событие. Ошибка обработчика не
// возвращается публикующему.
type EventHandler func(event Event) error

// EventPublisher публикует события после успешной записи в хранилище.
type EventPublisher interface {
	Publish(event Event) error
}

// EventSubscriber регистрирует обработчики.
type EventSubscriber interface {
	Subscribe(eventType EventType, handler EventHandler) error
	SubscribeAll(handler EventHandler) error
}

// EventBus объединяет публикацию и подписку.
type EventBus interface {
	EventPublisher
	EventSubscriber
}

// ═══════════════════════════════════════════════════════════════════════════
// RECORD
// ═══════════════════════════════════════════════════════════════════════════

// Record является единственной реализацией Event в домене. Поля полезной нагрузки
// хранятся плоским словарём: так событие одинаково выглядит локально и
// после доставки через Redis.
type Record struct {
	Type      EventType              `json:"event_type"`
	Authority string                 `json:"aggregate_id"`
	At        time.Time              `json:"occurred_at"`
	Fields    map[string]interface{} `json:"payload"`
}

var _ Event = Record{}

func (r Record) EventType() EventType            { return r.Type }
func (r Record) OccurredAt() time.Time           { return r.At }
func (r Record) AggregateID() string             { return r.Authority }
func (r Record) Payload() map[string]interface{} { return r.Fields }

func newRecord(t EventType, authority string, at time.Time, fields map[string]interface{}) Record {
	fields["authority"] = authority
	return Record{Type: t, Authority: authority, At: at, Fields: fields}
}

// ───────────────────────────────────────────────────────────────────────────
// Прогресс
// ───────────────────────────────────────────────────────────────────────────

// NewUserInitializedEvent: запись прогресса создана по адресу address.
func NewUserInitializedEvent(authority, address string, at time.Time) Record {
	return newRecord(EventUserInitialized, authority, at, map[string]interface{}{
		"address": address,
	})
}

// NewChallengeCompletedEvent: бит челленджа сохранён, mask содержит маску
// после операции; newly=false, если челлендж уже был пройден.
func NewChallengeCompletedEvent(authority string, challengeID int, mask uint16, newly bool, at time.Time) Record {
	return newRecord(EventChallengeCompleted, authority, at, map[string]interface{}{
		"challenge_id":         challengeID,
		"challenges_completed": mask,
		"newly":                newly,
	})
}

func NewModuleCompletedEvent(authority string, moduleID int, mask uint8, newly bool, at time.Time) Record {
	return newRecord(EventModuleCompleted, authority, at, map[string]interface{}{
		"module_id":         moduleID,
		"modules_completed": mask,
		"newly":             newly,
	})
}

// ───────────────────────────────────────────────────────────────────────────
// Достижения
// ───────────────────────────────────────────────────────────────────────────

// NewCredentialIssuedEvent: сервис метаданных подтвердил выпуск.
// replayed=true, если ответ взят из журнала выпусков без нового вызова.
func NewCredentialIssuedEvent(authority string, moduleID int, credentialID, mint string, replayed bool, at time.Time) Record {
	return newRecord(EventCredentialIssued, authority, at, map[string]interface{}{
		"module_id":     moduleID,
		"credential_id": credentialID,
		"mint":          mint,
		"replayed":      replayed,
	})
}
