package progress

import (
	"context"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY INTERFACES
// Контракт хранилища: поиск по authority, создание-если-нет, атомарное обновление.
// Реализации находятся в infrastructure/persistence.
// ══════════════════════════════════════════════════════════════════════════════

// UpdateFunc вычисляет новое состояние записи из текущего.
// Если функция вернула ошибку, ничего не сохраняется.
type UpdateFunc func(current Record) (Record, error)

// Store определяет операции хранилища записей прогресса.
type Store interface {
	// Create сохраняет новую запись.
	// Возвращает ErrAlreadyExists, если запись для authority уже есть.
	Create(ctx context.Context, rec Record) error

	// Get возвращает запись по authority.
	// Возвращает ErrNotFound, если записи нет.
	Get(ctx context.Context, authority Authority) (Record, error)

	// Update загружает запись, применяет fn и сохраняет результат в одной транзакции.
	// Конкурентные Update одной записи сериализуются.
	// Возвращает ErrNotFound, если записи нет, и ошибку fn без изменений.
	Update(ctx context.Context, authority Authority, fn UpdateFunc) (Record, error)
}

// Cache определяет кеш записей прогресса.
type Cache interface {
	// Get возвращает запись из кеша. found = false при промахе.
	Get(ctx context.Context, authority Authority) (rec Record, found bool, err error)

	// Set кладёт запись в кеш.
	Set(ctx context.Context, rec Record) error

	// Invalidate удаляет запись из кеша.
	Invalidate(ctx context.Context, authority Authority) error
}

// Stats - агрегированная статистика по хранилищу.
type Stats struct {
	Records          int
	ModulesCompleted [ModuleCount]int
	LastUpdatedAt    time.Time
}

// StatsReader отдаёт статистику хранилища. Используется административными командами.
type StatsReader interface {
	Stats(ctx context.Context) (Stats, error)
}
