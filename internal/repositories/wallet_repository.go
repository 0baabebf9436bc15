package repositories

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"ledger/internal/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type walletRepository struct {
	db *gorm.DB
}

func NewWalletRepository(db *gorm.DB) WalletRepository {
	return &walletRepository{db: db}
}

func (r *walletRepository) Create(ctx context.Context, wallet *models.Wallet) error {
	if err := r.db.WithContext(ctx).Create(wallet).Error; err != nil {
		return fmt.Errorf("failed to create wallet: %w", translateError(err))
	}
	return nil
}

func (r *walletRepository) GetByID(ctx context.Context, id string) (*models.Wallet, error) {
	// ids are uuid columns; anything else cannot match
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrWalletNotFound
	}
	var wallet models.Wallet
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&wallet).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrWalletNotFound
		}
		return nil, fmt.Errorf("failed to get wallet: %w", err)
	}
	return &wallet, nil
}

func (r *walletRepository) GetActiveByUserAndCurrency(ctx context.Context, userID, currency string) (*models.Wallet, error) {
	var wallet models.Wallet
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND currency = ? AND status = ?", userID, currency, models.WalletStatusActive).
		First(&wallet).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrWalletNotFound
		}
		return nil, fmt.Errorf("failed to get wallet: %w", err)
	}
	return &wallet, nil
}

// ListByUser returns the user's ACTIVE wallets, oldest first.
func (r *walletRepository) ListByUser(ctx context.Context, userID string) ([]models.Wallet, error) {
	var wallets []models.Wallet
	if err := r.listByUserQuery(ctx, userID).Find(&wallets).Error; err != nil {
		return nil, fmt.Errorf("failed to list wallets: %w", err)
	}
	return wallets, nil
}

func (r *walletRepository) listByUserQuery(ctx context.Context, userID string) *gorm.DB {
	return r.db.WithContext(ctx).
		Where("user_id = ? AND status = ?", userID, models.WalletStatusActive).
		Order("created_at ASC")
}

func (r *walletRepository) LockForUpdate(ctx context.Context, ids ...string) ([]*models.Wallet, error) {
	sorted := sortedUnique(ids)
	wallets := make([]*models.Wallet, 0, len(sorted))
	for _, id := range sorted {
		var wallet models.Wallet
		err := r.db.WithContext(ctx).
			Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", id).
			First(&wallet).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, ErrWalletNotFound
			}
			return nil, fmt.Errorf("failed to lock wallet %s: %w", id, err)
		}
		wallets = append(wallets, &wallet)
	}
	return wallets, nil
}

func (r *walletRepository) UpdateBalance(ctx context.Context, wallet *models.Wallet, balance decimal.Decimal) error {
	now := time.Now()
	result := r.db.WithContext(ctx).
		Model(&models.Wallet{}).
		Where("id = ? AND version = ?", wallet.ID, wallet.Version).
		Updates(map[string]interface{}{
			"balance":    balance,
			"version":    gorm.Expr("version + 1"),
			"updated_at": now,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to update wallet balance: %w", translateError(result.Error))
	}
	if result.RowsAffected == 0 {
		return ErrVersionMismatch
	}
	wallet.Balance = balance
	wallet.Version++
	wallet.UpdatedAt = now
	return nil
}

func sortedUnique(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
