package wallet

import (
	"context"

	errs "ledger/internal/errors"
	"ledger/internal/models"
	"ledger/internal/repositories"
	"ledger/internal/repositories/cache"
	"ledger/internal/utils/pagination"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	cacheBalance     = "balance"
	cacheHistory     = "history"
	cacheUserWallets = "user_wallets"
)

func (s *service) GetWallet(ctx context.Context, walletID string) (*models.Wallet, error) {
	wallet, err := s.store.Wallets().GetByID(ctx, walletID)
	if err != nil {
		return nil, storeError(err, "failed to get wallet")
	}
	return wallet, nil
}

func (s *service) GetUserWallets(ctx context.Context, userID string) ([]models.Wallet, error) {
	var wallets []models.Wallet
	found, err := s.cache.GetUserWallets(ctx, userID, &wallets)
	if err != nil {
		s.log.Warn("user wallets cache read failed", zap.String("user_id", userID), zap.Error(err))
	}
	if found {
		s.metrics.RecordCacheHit(cacheUserWallets)
		return wallets, nil
	}
	s.metrics.RecordCacheMiss(cacheUserWallets)

	wallets, err = s.store.Wallets().ListByUser(ctx, userID)
	if err != nil {
		return nil, storeError(err, "failed to list wallets")
	}
	if err := s.cache.SetUserWallets(ctx, userID, wallets); err != nil {
		s.log.Warn("failed to cache user wallets", zap.String("user_id", userID), zap.Error(err))
	}
	return wallets, nil
}

// GetWalletBalance reads the cached balance, falling back to the store and
// repopulating the cache on a miss.
func (s *service) GetWalletBalance(ctx context.Context, walletID string) (decimal.Decimal, error) {
	balance, found, err := s.cache.GetBalance(ctx, walletID)
	if err != nil {
		s.log.Warn("balance cache read failed", zap.String("wallet_id", walletID), zap.Error(err))
	}
	if found {
		s.metrics.RecordCacheHit(cacheBalance)
		return balance, nil
	}
	s.metrics.RecordCacheMiss(cacheBalance)

	wallet, err := s.store.Wallets().GetByID(ctx, walletID)
	if err != nil {
		return decimal.Zero, storeError(err, "failed to get wallet")
	}
	s.cacheBalance(ctx, wallet)
	return wallet.Balance, nil
}

func (s *service) GetTransaction(ctx context.Context, transactionID string) (*models.Transaction, error) {
	tx, err := s.store.Transactions().GetByTransactionID(ctx, transactionID)
	if err != nil {
		return nil, storeError(err, "failed to get transaction")
	}
	return tx, nil
}

func (s *service) GetTransactionHistory(ctx context.Context, query HistoryQuery) (*HistoryPage, error) {
	query, err := normalizeHistoryQuery(query)
	if err != nil {
		return nil, err
	}

	key := cache.HistoryKey{
		WalletID: query.WalletID,
		Page:     query.Page,
		Limit:    query.Limit,
		Type:     string(query.Type),
		Status:   string(query.Status),
	}
	var page HistoryPage
	found, err := s.cache.GetHistory(ctx, key, &page)
	if err != nil {
		s.log.Warn("history cache read failed", zap.String("key", key.String()), zap.Error(err))
	}
	if found {
		s.metrics.RecordCacheHit(cacheHistory)
		return &page, nil
	}
	s.metrics.RecordCacheMiss(cacheHistory)

	if _, err := s.store.Wallets().GetByID(ctx, query.WalletID); err != nil {
		return nil, storeError(err, "failed to get wallet")
	}

	txs, total, err := s.store.Transactions().List(ctx, repositories.HistoryFilter{
		WalletID: query.WalletID,
		Type:     query.Type,
		Status:   query.Status,
		Limit:    query.Limit,
		Offset:   pagination.Offset(query.Page, query.Limit),
	})
	if err != nil {
		return nil, storeError(err, "failed to list transactions")
	}
	if txs == nil {
		txs = []*models.Transaction{}
	}

	page = HistoryPage{
		Transactions: txs,
		Meta:         pagination.NewMeta(query.Page, query.Limit, total),
	}
	if err := s.cache.SetHistory(ctx, key, page); err != nil {
		s.log.Warn("failed to cache history page", zap.String("key", key.String()), zap.Error(err))
	}
	return &page, nil
}

// checkFunds is the request-phase fast fail. It trusts the cached balance
// and is re-checked under lock in the commit phase.
func (s *service) checkFunds(ctx context.Context, wallet *models.Wallet, amount decimal.Decimal) error {
	balance, found, err := s.cache.GetBalance(ctx, wallet.ID)
	if err != nil {
		s.log.Warn("balance cache read failed", zap.String("wallet_id", wallet.ID), zap.Error(err))
	}
	if found {
		s.metrics.RecordCacheHit(cacheBalance)
	} else {
		s.metrics.RecordCacheMiss(cacheBalance)
		balance = wallet.Balance
		s.cacheBalance(ctx, wallet)
	}

	available := balance.Sub(wallet.FrozenBalance)
	if available.LessThan(amount) {
		return errs.ErrInsufficientFunds.WithMessage("Insufficient funds. Available: %s, Requested: %s",
			available.String(), amount.String())
	}
	return nil
}

func (s *service) activeWallet(ctx context.Context, walletID string) (*models.Wallet, error) {
	wallet, err := s.store.Wallets().GetByID(ctx, walletID)
	if err != nil {
		return nil, storeError(err, "failed to get wallet")
	}
	if !wallet.IsActive() {
		return nil, errs.ErrWalletNotActive
	}
	return wallet, nil
}
