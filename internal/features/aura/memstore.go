// Package aura — memstore.go хранит статистику и журнал в памяти процесса.
// Используется в тестах и при STORE_DRIVER=memory для локальной разработки.
// Сериализация по пользователю обеспечивается отдельным мьютексом на пользователя.
package aura

import (
	"context"
	"sort"
	"sync"
	"time"

	"serotonyl.ru/aura-points/internal/common"
)

// MemoryStore — хранилище в памяти.
type MemoryStore struct {
	mu    sync.Mutex             // Защищает карты ниже
	locks map[string]*sync.Mutex // Блокировка транзакции пользователя
	stats map[string]*UserStats
	txs   map[string][]*PointTransaction // В порядке добавления

	// FailCommit — если задана, Commit возвращает её (для тестов сбоев хранилища).
	FailCommit error
}

// NewMemoryStore создаёт пустое хранилище.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		locks: make(map[string]*sync.Mutex),
		stats: make(map[string]*UserStats),
		txs:   make(map[string][]*PointTransaction),
	}
}

func (m *MemoryStore) userLock(userID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[userID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[userID] = l
	}
	return l
}

// InUserTx выполняет fn под блокировкой пользователя.
// Изменения видны только после успешного Commit внутри fn.
func (m *MemoryStore) InUserTx(ctx context.Context, userID string, fn func(tx UserTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l := m.userLock(userID)
	l.Lock()
	defer l.Unlock()
	return fn(&memUserTx{store: m, userID: userID})
}

// GetStats возвращает копию статистики.
func (m *MemoryStore) GetStats(_ context.Context, userID string) (*UserStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.stats[userID]
	if !ok {
		return nil, common.ErrUserNotFound
	}
	return s.Clone(), nil
}

// ListRecent возвращает последние транзакции, новые первыми.
func (m *MemoryStore) ListRecent(_ context.Context, userID string, limit int) ([]*PointTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := m.txs[userID]
	out := make([]*PointTransaction, 0, min(limit, len(all)))
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		t := *all[i]
		out = append(out, &t)
	}
	return out, nil
}

// Reconcile сверяет сумму журнала с lifetimeEarned.
func (m *MemoryStore) Reconcile(_ context.Context) ([]Discrepancy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Discrepancy
	for userID, s := range m.stats {
		var sum int64
		for _, t := range m.txs[userID] {
			sum += t.Points
		}
		if sum != s.LifetimeEarned {
			out = append(out, Discrepancy{UserID: userID, LedgerSum: sum, LifetimeEarned: s.LifetimeEarned})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

// memUserTx — транзакция пользователя в памяти.
type memUserTx struct {
	store  *MemoryStore
	userID string
}

func (t *memUserTx) Stats(_ context.Context) (*UserStats, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	if s, ok := t.store.stats[t.userID]; ok {
		return s.Clone(), nil
	}
	return NewUserStats(t.userID), nil
}

func (t *memUserTx) HasUniqueKey(_ context.Context, key string) (bool, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	for _, tx := range t.store.txs[t.userID] {
		if tx.UniqueKey == key {
			return true, nil
		}
	}
	return false, nil
}

func (t *memUserTx) CountActivity(_ context.Context, kind ActivityKind, from, to time.Time) (int, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	count := 0
	for _, tx := range t.store.txs[t.userID] {
		if tx.Activity == kind && inWindow(tx.CreatedAt, from, to) {
			count++
		}
	}
	return count, nil
}

func (t *memUserTx) SumPoints(_ context.Context, from, to time.Time) (int64, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	var sum int64
	for _, tx := range t.store.txs[t.userID] {
		if inWindow(tx.CreatedAt, from, to) {
			sum += tx.Points
		}
	}
	return sum, nil
}

func (t *memUserTx) Commit(_ context.Context, txn *PointTransaction, stats *UserStats) error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	if t.store.FailCommit != nil {
		return t.store.FailCommit
	}
	if txn.UniqueKey != "" {
		for _, existing := range t.store.txs[t.userID] {
			if existing.UniqueKey == txn.UniqueKey {
				return common.ErrDuplicateActivity
			}
		}
	}
	stored := *txn
	t.store.txs[t.userID] = append(t.store.txs[t.userID], &stored)
	t.store.stats[t.userID] = stats.Clone()
	return nil
}

func inWindow(at, from, to time.Time) bool {
	return !at.Before(from) && !at.After(to)
}
