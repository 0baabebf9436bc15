package repositories

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"ledger/internal/models"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func dryRunDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(postgres.New(postgres.Config{
		DSN: "host=localhost user=ledger dbname=ledger sslmode=disable",
	}), &gorm.Config{DryRun: true, DisableAutomaticPing: true})
	require.NoError(t, err)
	return db
}

func TestTranslateError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"unique violation", &pgconn.PgError{Code: "23505", ConstraintName: "idx_transactions_idempotency_key"}, ErrDuplicateKey},
		{"gorm duplicated key", gorm.ErrDuplicatedKey, ErrDuplicateKey},
		{"check violation", &pgconn.PgError{Code: "23514", ConstraintName: "chk_wallets_balance_non_negative"}, ErrBalanceConstraint},
		{"wrapped check violation", fmt.Errorf("exec: %w", &pgconn.PgError{Code: "23514"}), ErrBalanceConstraint},
		{"gorm check violation", gorm.ErrCheckConstraintViolated, ErrBalanceConstraint},
		{
			name: "dialector translated check violation",
			err:  postgres.Dialector{}.Translate(&pgconn.PgError{Code: "23514", ConstraintName: "chk_wallets_balance_non_negative"}),
			want: ErrBalanceConstraint,
		},
		{
			name: "dialector translated unique violation",
			err:  postgres.Dialector{}.Translate(&pgconn.PgError{Code: "23505"}),
			want: ErrDuplicateKey,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, translateError(tt.err), tt.want)
		})
	}

	other := errors.New("connection reset")
	assert.Equal(t, other, translateError(other))
	assert.NoError(t, translateError(nil))
}

func TestSortedUnique(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, sortedUnique([]string{"c", "a", "b", "a"}))
	assert.Empty(t, sortedUnique(nil))
}

func TestHistoryQuery(t *testing.T) {
	db := dryRunDB(t)

	sql := db.ToSQL(func(tx *gorm.DB) *gorm.DB {
		r := &transactionRepository{db: tx}
		var txs []*models.Transaction
		return r.historyQuery(context.Background(), HistoryFilter{
			WalletID: "w1",
			Type:     models.TransactionTypeDeposit,
			Status:   models.TransactionStatusCompleted,
		}).Order("created_at DESC").Limit(20).Offset(40).Find(&txs)
	})

	assert.Contains(t, sql, "from_wallet_id = 'w1'")
	assert.Contains(t, sql, "to_wallet_id = 'w1'")
	assert.Contains(t, sql, "type = 'DEPOSIT'")
	assert.Contains(t, sql, "status = 'COMPLETED'")
	assert.Contains(t, sql, "ORDER BY created_at DESC")
	assert.Contains(t, sql, "LIMIT 20")
	assert.Contains(t, sql, "OFFSET 40")
}

func TestHistoryQuery_NoFilters(t *testing.T) {
	db := dryRunDB(t)

	sql := db.ToSQL(func(tx *gorm.DB) *gorm.DB {
		r := &transactionRepository{db: tx}
		var txs []*models.Transaction
		return r.historyQuery(context.Background(), HistoryFilter{WalletID: "w1"}).Find(&txs)
	})

	assert.NotContains(t, sql, "status =")
	assert.NotContains(t, sql, "type =")
}

func TestListByUserQuery(t *testing.T) {
	db := dryRunDB(t)

	sql := db.ToSQL(func(tx *gorm.DB) *gorm.DB {
		r := &walletRepository{db: tx}
		var wallets []models.Wallet
		return r.listByUserQuery(context.Background(), "u1").Find(&wallets)
	})

	assert.Contains(t, sql, "user_id = 'u1'")
	assert.Contains(t, sql, "status = 'ACTIVE'")
	assert.Contains(t, sql, "ORDER BY created_at ASC")
}
