package aura

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"

	"serotonyl.ru/aura-points/internal/common"
)

func newMockRepository(t *testing.T) (*Repository, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool error: %v", err)
	}
	t.Cleanup(mock.Close)
	return NewRepository(mock), mock
}

func testTransaction() (*PointTransaction, *UserStats) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	txn := &PointTransaction{
		ID:        "3f1c2a56-0d3b-4b5e-9a51-7d4f3c2b1a00",
		UserID:    "u1",
		Activity:  ActivityJournalEntry,
		Points:    10,
		Proof:     &Proof{Type: ProofJournalLength, Value: 60},
		UniqueKey: "j-1",
		CreatedAt: now,
	}
	stats := NewUserStats("u1")
	stats.TotalPoints, stats.AvailablePoints, stats.LifetimeEarned = 10, 10, 10
	stats.UpdatedAt = now
	return txn, stats
}

func expectUserTx(mock pgxmock.PgxPoolIface) {
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO aura_user_stats \(user_id\) VALUES \(\$1\)\s+ON CONFLICT \(user_id\) DO NOTHING`).
		WithArgs("u1").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
}

func TestRepositoryCommit(t *testing.T) {
	repo, mock := newMockRepository(t)
	txn, stats := testTransaction()

	expectUserTx(mock)
	mock.ExpectExec(`INSERT INTO aura_transactions`).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`UPDATE aura_user_stats`).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	err := repo.InUserTx(context.Background(), "u1", func(tx UserTx) error {
		return tx.Commit(context.Background(), txn, stats)
	})
	if err != nil {
		t.Fatalf("InUserTx error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestRepositoryUniqueViolationIsDuplicate(t *testing.T) {
	repo, mock := newMockRepository(t)
	txn, stats := testTransaction()

	expectUserTx(mock)
	mock.ExpectExec(`INSERT INTO aura_transactions`).
		WillReturnError(&pgconn.PgError{Code: pgUniqueViolation, ConstraintName: "idx_aura_transactions_unique_key"})
	mock.ExpectRollback()

	err := repo.InUserTx(context.Background(), "u1", func(tx UserTx) error {
		return tx.Commit(context.Background(), txn, stats)
	})
	if !errors.Is(err, common.ErrDuplicateActivity) {
		t.Fatalf("err = %v, want ErrDuplicateActivity", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestRepositoryOtherInsertErrorIsNotDuplicate(t *testing.T) {
	repo, mock := newMockRepository(t)
	txn, stats := testTransaction()

	expectUserTx(mock)
	mock.ExpectExec(`INSERT INTO aura_transactions`).
		WillReturnError(&pgconn.PgError{Code: "23514", ConstraintName: "aura_transactions_points_check"})
	mock.ExpectRollback()

	err := repo.InUserTx(context.Background(), "u1", func(tx UserTx) error {
		return tx.Commit(context.Background(), txn, stats)
	})
	if err == nil || errors.Is(err, common.ErrDuplicateActivity) {
		t.Fatalf("err = %v", err)
	}
}

func TestRepositoryLocksStatsRow(t *testing.T) {
	repo, mock := newMockRepository(t)

	// Строка создаётся до блокировки, иначе первые начисления нового пользователя не сериализуются
	expectUserTx(mock)
	mock.ExpectQuery(`SELECT .+ FROM aura_user_stats WHERE user_id = \$1 FOR UPDATE`).
		WithArgs("u1").
		WillReturnError(errors.New("lock timeout"))
	mock.ExpectRollback()

	err := repo.InUserTx(context.Background(), "u1", func(tx UserTx) error {
		_, err := tx.Stats(context.Background())
		return err
	})
	if err == nil {
		t.Fatal("expected lock error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestRepositoryCommitFailureIsRetryable(t *testing.T) {
	repo, mock := newMockRepository(t)

	expectUserTx(mock)
	mock.ExpectCommit().WillReturnError(errors.New("connection reset"))

	err := repo.InUserTx(context.Background(), "u1", func(UserTx) error { return nil })
	if !errors.Is(err, common.ErrStoreWriteFailed) {
		t.Fatalf("err = %v, want ErrStoreWriteFailed", err)
	}
}

func TestRepositoryGetStatsNotFound(t *testing.T) {
	repo, mock := newMockRepository(t)
	mock.ExpectQuery(`FROM aura_user_stats WHERE user_id = \$1`).
		WithArgs("ghost").
		WillReturnError(pgx.ErrNoRows)

	if _, err := repo.GetStats(context.Background(), "ghost"); !errors.Is(err, common.ErrUserNotFound) {
		t.Fatalf("err = %v, want ErrUserNotFound", err)
	}
}

func TestRepositoryReconcile(t *testing.T) {
	repo, mock := newMockRepository(t)
	mock.ExpectQuery(`HAVING COALESCE\(SUM\(t.points\), 0\) <> s.lifetime_earned`).
		WillReturnRows(pgxmock.NewRows([]string{"user_id", "ledger_sum", "lifetime_earned"}).
			AddRow("u1", int64(10), int64(20)))

	diffs, err := repo.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("Reconcile error: %v", err)
	}
	if len(diffs) != 1 || diffs[0].UserID != "u1" || diffs[0].LedgerSum != 10 || diffs[0].LifetimeEarned != 20 {
		t.Errorf("diffs = %+v", diffs)
	}
}
