package wallet

import (
	"context"

	"ledger/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Cache writes are best effort. A failed write only costs a later miss.

func (s *service) cacheBalance(ctx context.Context, wallet *models.Wallet) {
	written, err := s.cache.SetBalance(ctx, wallet.ID, wallet.Balance, wallet.Version)
	if err != nil {
		s.log.Warn("failed to cache wallet balance", zap.String("wallet_id", wallet.ID), zap.Error(err))
		return
	}
	if !written {
		s.log.Debug("newer balance already cached",
			zap.String("wallet_id", wallet.ID), zap.Int64("version", wallet.Version))
	}
}

func (s *service) invalidateHistory(ctx context.Context, walletIDs ...string) {
	for _, id := range walletIDs {
		if err := s.cache.InvalidateHistory(ctx, id); err != nil {
			s.log.Warn("failed to invalidate history cache", zap.String("wallet_id", id), zap.Error(err))
		}
	}
}

// refreshCaches runs after a commit: balances are rewritten from the locked
// rows and every page of history for the wallets is dropped.
func (s *service) refreshCaches(ctx context.Context, wallets []*models.Wallet) {
	ctx = context.WithoutCancel(ctx)
	users := make(map[string]struct{}, len(wallets))
	for _, w := range wallets {
		s.cacheBalance(ctx, w)
		s.invalidateHistory(ctx, w.ID)
		users[w.UserID] = struct{}{}
	}
	for userID := range users {
		if err := s.cache.InvalidateUserWallets(ctx, userID); err != nil {
			s.log.Warn("failed to invalidate user wallets", zap.String("user_id", userID), zap.Error(err))
		}
	}
}

func newTransactionID() string {
	return uuid.NewString()
}
