// Package aura — store.go описывает контракт хранилища журнала.
//
// Хранилище обязано выполнять чтение дневных сумм, проверку уникального ключа
// и запись транзакции вместе со статистикой внутри ОДНОЙ транзакции,
// сериализованной по пользователю. Без этого два параллельных запроса
// могут оба увидеть свободный лимит и оба его превысить.
package aura

import (
	"context"
	"time"
)

// UserTx — транзакция хранилища, в которой статистика пользователя заблокирована.
type UserTx interface {
	// Stats возвращает статистику пользователя (пустую для нового пользователя).
	Stats(ctx context.Context) (*UserStats, error)
	// HasUniqueKey проверяет, есть ли у пользователя транзакция с таким ключом.
	HasUniqueKey(ctx context.Context, key string) (bool, error)
	// CountActivity считает транзакции вида kind в окне [from, to].
	CountActivity(ctx context.Context, kind ActivityKind, from, to time.Time) (int, error)
	// SumPoints суммирует очки всех транзакций в окне [from, to].
	SumPoints(ctx context.Context, from, to time.Time) (int64, error)
	// Commit добавляет транзакцию и записывает статистику одним атомарным действием.
	// Повтор уникального ключа возвращает common.ErrDuplicateActivity.
	Commit(ctx context.Context, tx *PointTransaction, stats *UserStats) error
}

// Store — хранилище статистики и журнала транзакций.
type Store interface {
	// InUserTx выполняет fn в транзакции, сериализованной по userID.
	// Если fn возвращает ошибку — транзакция откатывается.
	InUserTx(ctx context.Context, userID string, fn func(tx UserTx) error) error
	// GetStats возвращает статистику или common.ErrUserNotFound.
	GetStats(ctx context.Context, userID string) (*UserStats, error)
	// ListRecent возвращает последние транзакции, новые первыми.
	ListRecent(ctx context.Context, userID string, limit int) ([]*PointTransaction, error)
	// Reconcile ищет пользователей, у которых сумма журнала не равна lifetimeEarned.
	Reconcile(ctx context.Context) ([]Discrepancy, error)
}

// Discrepancy — расхождение журнала и агрегата.
type Discrepancy struct {
	UserID         string
	LedgerSum      int64
	LifetimeEarned int64
}
