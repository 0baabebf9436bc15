package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ledger/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type transactionRepository struct {
	db *gorm.DB
}

func NewTransactionRepository(db *gorm.DB) TransactionRepository {
	return &transactionRepository{db: db}
}

func (r *transactionRepository) Create(ctx context.Context, txs ...*models.Transaction) error {
	if len(txs) == 0 {
		return nil
	}
	if err := r.db.WithContext(ctx).Create(txs).Error; err != nil {
		return fmt.Errorf("failed to create transaction: %w", translateError(err))
	}
	return nil
}

func (r *transactionRepository) GetByTransactionID(ctx context.Context, transactionID string) (*models.Transaction, error) {
	var tx models.Transaction
	if err := r.db.WithContext(ctx).Where("transaction_id = ?", transactionID).First(&tx).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTransactionNotFound
		}
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	return &tx, nil
}

func (r *transactionRepository) FindByIdempotencyKey(ctx context.Context, key string) ([]*models.Transaction, error) {
	var txs []*models.Transaction
	if err := r.db.WithContext(ctx).Where("idempotency_key = ?", key).Order("created_at DESC").Find(&txs).Error; err != nil {
		return nil, fmt.Errorf("failed to find transactions by idempotency key: %w", err)
	}
	return txs, nil
}

func (r *transactionRepository) LockForUpdate(ctx context.Context, transactionIDs ...string) ([]*models.Transaction, error) {
	var txs []*models.Transaction
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("transaction_id IN ?", sortedUnique(transactionIDs)).
		Order("transaction_id ASC").
		Find(&txs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to lock transactions: %w", err)
	}
	return txs, nil
}

func (r *transactionRepository) UpdateStatus(ctx context.Context, transactionIDs []string, status models.TransactionStatus, at time.Time) error {
	updates := map[string]interface{}{
		"status":     status,
		"updated_at": at,
	}
	if status == models.TransactionStatusCompleted || status == models.TransactionStatusFailed {
		updates["processed_at"] = at
	}
	if status == models.TransactionStatusCompleted {
		updates["failure_reason"] = ""
	}
	err := r.db.WithContext(ctx).
		Model(&models.Transaction{}).
		Where("transaction_id IN ? AND status <> ?", transactionIDs, models.TransactionStatusCompleted).
		Updates(updates).Error
	if err != nil {
		return fmt.Errorf("failed to update transaction status: %w", err)
	}
	return nil
}

func (r *transactionRepository) MarkFailed(ctx context.Context, transactionIDs []string, reason string, at time.Time) error {
	err := r.db.WithContext(ctx).
		Model(&models.Transaction{}).
		Where("transaction_id IN ? AND status <> ?", transactionIDs, models.TransactionStatusCompleted).
		Updates(map[string]interface{}{
			"status":         models.TransactionStatusFailed,
			"failure_reason": reason,
			"processed_at":   at,
			"updated_at":     at,
			"retry_count":    gorm.Expr("retry_count + 1"),
		}).Error
	if err != nil {
		return fmt.Errorf("failed to mark transactions failed: %w", err)
	}
	return nil
}

func (r *transactionRepository) ReleaseIdempotencyKey(ctx context.Context, key string) error {
	err := r.db.WithContext(ctx).
		Model(&models.Transaction{}).
		Where("idempotency_key = ? AND status = ?", key, models.TransactionStatusFailed).
		Updates(map[string]interface{}{
			"idempotency_key": nil,
			"metadata": gorm.Expr(
				"COALESCE(metadata, '{}'::jsonb) || jsonb_build_object('superseded_idempotency_key', ?::text)", key),
		}).Error
	if err != nil {
		return fmt.Errorf("failed to release idempotency key: %w", err)
	}
	return nil
}

func (r *transactionRepository) List(ctx context.Context, filter HistoryFilter) ([]*models.Transaction, int64, error) {
	var total int64
	if err := r.historyQuery(ctx, filter).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count transactions: %w", err)
	}

	var txs []*models.Transaction
	err := r.historyQuery(ctx, filter).
		Order("created_at DESC").
		Limit(filter.Limit).
		Offset(filter.Offset).
		Find(&txs).Error
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list transactions: %w", err)
	}
	return txs, total, nil
}

// historyQuery selects the legs that belong to the wallet: debits where it
// is the source and credits where it is the destination.
func (r *transactionRepository) historyQuery(ctx context.Context, filter HistoryFilter) *gorm.DB {
	query := r.db.WithContext(ctx).
		Model(&models.Transaction{}).
		Where("((from_wallet_id = ? AND type IN ?) OR (to_wallet_id = ? AND type IN ?))",
			filter.WalletID,
			[]models.TransactionType{models.TransactionTypeWithdrawal, models.TransactionTypeTransferOut},
			filter.WalletID,
			[]models.TransactionType{models.TransactionTypeDeposit, models.TransactionTypeTransferIn},
		)
	if filter.Type != "" {
		query = query.Where("type = ?", filter.Type)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	return query
}
