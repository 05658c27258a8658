// Package aura — repository.go хранит статистику и журнал в PostgreSQL.
//
// Каждое начисление выполняется в одной транзакции БД: строка статистики
// создаётся (если её нет) и блокируется FOR UPDATE, затем внутри той же транзакции
// читаются дневные суммы и записываются транзакция журнала и новая статистика.
// Параллельные начисления одному пользователю ждут друг друга на блокировке строки.
package aura

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"serotonyl.ru/aura-points/internal/common"
	"serotonyl.ru/aura-points/internal/db/postgres"
)

// pgUniqueViolation — код ошибки PostgreSQL при нарушении уникального индекса.
const pgUniqueViolation = "23505"

const statsColumns = `
	user_id, total_points, available_points, lifetime_earned, lifetime_spent,
	current_streak, longest_streak, last_activity_date, last_streak_date,
	daily_points_earned, daily_points_date, level, badges, updated_at
`

const txColumns = `
	id::text, user_id, activity, points, description, proof, unique_key, created_at
`

// DB — часть *pgxpool.Pool, которой пользуется репозиторий.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var _ DB = (*pgxpool.Pool)(nil)

// Repository — хранилище очков ауры в PostgreSQL.
type Repository struct {
	db DB
}

// NewRepository создаёт новый репозиторий очков ауры.
func NewRepository(db DB) *Repository {
	return &Repository{db: db}
}

// InUserTx выполняет fn в транзакции БД, заблокировав строку статистики пользователя.
func (r *Repository) InUserTx(ctx context.Context, userID string, fn func(tx UserTx) error) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	// Откатываем транзакцию, если что-то пошло не так (после Commit это no-op)
	defer tx.Rollback(ctx)

	// Ленивое создание статистики. Вставленная строка заблокирована до конца транзакции,
	// поэтому два первых начисления нового пользователя тоже сериализуются.
	_, err = tx.Exec(ctx, `
		INSERT INTO aura_user_stats (user_id) VALUES ($1)
		ON CONFLICT (user_id) DO NOTHING
	`, userID)
	if err != nil {
		return fmt.Errorf("ошибка создания статистики: %w", err)
	}

	if err := fn(&pgUserTx{tx: tx, userID: userID}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: коммит: %w", common.ErrStoreWriteFailed, err)
	}
	return nil
}

// GetStats возвращает статистику пользователя.
func (r *Repository) GetStats(ctx context.Context, userID string) (*UserStats, error) {
	query := `SELECT ` + statsColumns + ` FROM aura_user_stats WHERE user_id = $1`
	s, err := scanStats(r.db.QueryRow(ctx, query, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, common.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка получения статистики (user_id=%s): %w", userID, err)
	}
	return s, nil
}

// ListRecent возвращает последние N транзакций пользователя, новые первыми.
func (r *Repository) ListRecent(ctx context.Context, userID string, limit int) ([]*PointTransaction, error) {
	query := `
		SELECT ` + txColumns + `
		FROM aura_transactions
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`
	rows, err := r.db.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения транзакций: %w", err)
	}
	defer rows.Close()

	var txs []*PointTransaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования транзакции: %w", err)
		}
		txs = append(txs, t)
	}
	return txs, rows.Err()
}

// Reconcile ищет пользователей, у которых сумма журнала не совпадает с lifetime_earned.
func (r *Repository) Reconcile(ctx context.Context) ([]Discrepancy, error) {
	query := `
		SELECT s.user_id, COALESCE(SUM(t.points), 0), s.lifetime_earned
		FROM aura_user_stats s
		LEFT JOIN aura_transactions t ON t.user_id = s.user_id
		GROUP BY s.user_id, s.lifetime_earned
		HAVING COALESCE(SUM(t.points), 0) <> s.lifetime_earned
		ORDER BY s.user_id
	`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("ошибка сверки журнала: %w", err)
	}
	defer rows.Close()

	var out []Discrepancy
	for rows.Next() {
		var d Discrepancy
		if err := rows.Scan(&d.UserID, &d.LedgerSum, &d.LifetimeEarned); err != nil {
			return nil, fmt.Errorf("ошибка сканирования: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// pgUserTx — транзакция пользователя поверх pgx.Tx.
type pgUserTx struct {
	tx     pgx.Tx
	userID string
}

func (t *pgUserTx) Stats(ctx context.Context) (*UserStats, error) {
	query := `SELECT ` + statsColumns + ` FROM aura_user_stats WHERE user_id = $1 FOR UPDATE`
	s, err := scanStats(t.tx.QueryRow(ctx, query, t.userID))
	if err != nil {
		return nil, fmt.Errorf("ошибка блокировки статистики: %w", err)
	}
	return s, nil
}

func (t *pgUserTx) HasUniqueKey(ctx context.Context, key string) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM aura_transactions WHERE user_id = $1 AND unique_key = $2)`
	var exists bool
	err := t.tx.QueryRow(ctx, query, t.userID, key).Scan(&exists)
	return exists, err
}

func (t *pgUserTx) CountActivity(ctx context.Context, kind ActivityKind, from, to time.Time) (int, error) {
	query := `
		SELECT COUNT(*) FROM aura_transactions
		WHERE user_id = $1 AND activity = $2 AND created_at BETWEEN $3 AND $4
	`
	var count int
	err := t.tx.QueryRow(ctx, query, t.userID, string(kind), from, to).Scan(&count)
	return count, err
}

func (t *pgUserTx) SumPoints(ctx context.Context, from, to time.Time) (int64, error) {
	query := `
		SELECT COALESCE(SUM(points), 0) FROM aura_transactions
		WHERE user_id = $1 AND created_at BETWEEN $2 AND $3
	`
	var sum int64
	err := t.tx.QueryRow(ctx, query, t.userID, from, to).Scan(&sum)
	return sum, err
}

// Commit записывает транзакцию журнала и статистику в текущей транзакции БД.
// Фиксация происходит в InUserTx, поэтому обе записи видны вместе или не видны вовсе.
func (t *pgUserTx) Commit(ctx context.Context, txn *PointTransaction, s *UserStats) error {
	var proof any
	if txn.Proof != nil {
		raw, err := json.Marshal(txn.Proof)
		if err != nil {
			return fmt.Errorf("ошибка сериализации доказательства: %w", err)
		}
		proof = raw
	}
	var uniqueKey any
	if txn.UniqueKey != "" {
		uniqueKey = txn.UniqueKey
	}

	_, err := t.tx.Exec(ctx, `
		INSERT INTO aura_transactions (id, user_id, activity, points, description, proof, unique_key, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, txn.ID, txn.UserID, string(txn.Activity), txn.Points, txn.Description, proof, uniqueKey, txn.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return common.ErrDuplicateActivity
		}
		return fmt.Errorf("ошибка записи транзакции: %w", err)
	}

	badges := s.Badges
	if badges == nil {
		badges = []string{}
	}
	_, err = t.tx.Exec(ctx, `
		UPDATE aura_user_stats
		SET total_points = $2, available_points = $3, lifetime_earned = $4, lifetime_spent = $5,
		    current_streak = $6, longest_streak = $7, last_activity_date = $8, last_streak_date = $9,
		    daily_points_earned = $10, daily_points_date = $11, level = $12, badges = $13,
		    updated_at = $14
		WHERE user_id = $1
	`,
		s.UserID, s.TotalPoints, s.AvailablePoints, s.LifetimeEarned, s.LifetimeSpent,
		s.CurrentStreak, s.LongestStreak, s.LastActivityDate, s.LastStreakDate,
		s.DailyPointsEarned, s.DailyPointsDate, s.Level, badges, s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("ошибка обновления статистики: %w", err)
	}
	return nil
}

func scanStats(row pgx.Row) (*UserStats, error) {
	var s UserStats
	err := row.Scan(
		&s.UserID, &s.TotalPoints, &s.AvailablePoints, &s.LifetimeEarned, &s.LifetimeSpent,
		&s.CurrentStreak, &s.LongestStreak, &s.LastActivityDate, &s.LastStreakDate,
		&s.DailyPointsEarned, &s.DailyPointsDate, &s.Level, &s.Badges, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if s.Badges == nil {
		s.Badges = []string{}
	}
	return &s, nil
}

func scanTransaction(row pgx.Row) (*PointTransaction, error) {
	var (
		t           PointTransaction
		activity    string
		description *string
		proof       []byte
		uniqueKey   *string
	)
	err := row.Scan(&t.ID, &t.UserID, &activity, &t.Points, &description, &proof, &uniqueKey, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	t.Activity = ActivityKind(activity)
	if description != nil {
		t.Description = *description
	}
	if uniqueKey != nil {
		t.UniqueKey = *uniqueKey
	}
	if len(proof) > 0 {
		var p Proof
		if err := json.Unmarshal(proof, &p); err != nil {
			return nil, fmt.Errorf("ошибка разбора доказательства: %w", err)
		}
		t.Proof = &p
	}
	return &t, nil
}

// Migrations — SQL-миграции таблиц очков ауры.
// Номера продолжают общую последовательность schema_migrations.
var Migrations = []postgres.Migration{
	{Version: 1, SQL: migration001Stats},
	{Version: 2, SQL: migration002Transactions},
}

var migration001Stats = `
CREATE TABLE IF NOT EXISTS aura_user_stats (
    user_id TEXT PRIMARY KEY,
    total_points BIGINT NOT NULL DEFAULT 0,
    available_points BIGINT NOT NULL DEFAULT 0,
    lifetime_earned BIGINT NOT NULL DEFAULT 0,
    lifetime_spent BIGINT NOT NULL DEFAULT 0,
    current_streak INTEGER NOT NULL DEFAULT 0,
    longest_streak INTEGER NOT NULL DEFAULT 0,
    last_activity_date TIMESTAMPTZ,
    last_streak_date TIMESTAMPTZ,
    daily_points_earned BIGINT NOT NULL DEFAULT 0,
    daily_points_date TIMESTAMPTZ,
    level INTEGER NOT NULL DEFAULT 1,
    badges TEXT[] NOT NULL DEFAULT '{}',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`

var migration002Transactions = `
CREATE TABLE IF NOT EXISTS aura_transactions (
    id UUID PRIMARY KEY,
    user_id TEXT NOT NULL REFERENCES aura_user_stats(user_id),
    activity VARCHAR(64) NOT NULL,
    points BIGINT NOT NULL CHECK (points >= 0),
    description TEXT,
    proof JSONB,
    unique_key TEXT,
    created_at TIMESTAMPTZ NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_aura_transactions_unique_key
    ON aura_transactions(user_id, unique_key) WHERE unique_key IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_aura_transactions_user_created
    ON aura_transactions(user_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_aura_transactions_user_activity
    ON aura_transactions(user_id, activity, created_at);
`
