package wallet

import (
	"context"
	"time"

	errs "ledger/internal/errors"
	"ledger/internal/models"
	"ledger/internal/repositories"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type movement struct {
	walletID string
	amount   decimal.Decimal
	debit    bool
}

type commitPlan struct {
	op             string
	txType         models.TransactionType
	transactionIDs []string
	movements      []movement
}

// CommitDeposit credits the wallet and completes the deposit row.
func (s *service) CommitDeposit(ctx context.Context, payload models.JobPayload) error {
	return s.commit(ctx, commitPlan{
		op:             opCommitDeposit,
		txType:         models.TransactionTypeDeposit,
		transactionIDs: []string{payload.TransactionID},
		movements: []movement{
			{walletID: payload.WalletID, amount: payload.Amount},
		},
	})
}

// CommitWithdraw debits the wallet and completes the withdrawal row.
func (s *service) CommitWithdraw(ctx context.Context, payload models.JobPayload) error {
	return s.commit(ctx, commitPlan{
		op:             opCommitWithdraw,
		txType:         models.TransactionTypeWithdrawal,
		transactionIDs: []string{payload.TransactionID},
		movements: []movement{
			{walletID: payload.WalletID, amount: payload.Amount, debit: true},
		},
	})
}

// CommitTransfer moves funds between the two wallets and completes both legs
// in one database transaction.
func (s *service) CommitTransfer(ctx context.Context, payload models.JobPayload) error {
	return s.commit(ctx, commitPlan{
		op:             opCommitTransfer,
		txType:         models.TransactionTypeTransferOut,
		transactionIDs: []string{payload.OutgoingTransactionID, payload.IncomingTransactionID},
		movements: []movement{
			{walletID: payload.FromWalletID, amount: payload.Amount, debit: true},
			{walletID: payload.ToWalletID, amount: payload.Amount},
		},
	})
}

// FailPermanently marks the job's rows FAILED after the processor gave up
// on it. COMPLETED rows are left alone.
func (s *service) FailPermanently(ctx context.Context, payload models.JobPayload, reason string) error {
	ids := payloadTransactionIDs(payload)
	if err := s.store.Transactions().MarkFailed(ctx, ids, reason, s.now()); err != nil {
		return storeError(err, "failed to mark transaction failed")
	}
	walletIDs := []string{payload.WalletID, payload.FromWalletID, payload.ToWalletID}
	for _, id := range walletIDs {
		if id != "" {
			s.invalidateHistory(ctx, id)
		}
	}
	s.log.Error("transaction failed permanently",
		zap.Strings("transaction_ids", ids),
		zap.String("reason", reason))
	return nil
}

func (s *service) commit(ctx context.Context, p commitPlan) error {
	start := time.Now()
	err := s.commitLocked(ctx, p)
	s.observe(p.op, start, err)
	return err
}

func (s *service) commitLocked(ctx context.Context, p commitPlan) error {
	log := s.log.With(zap.String("operation", p.op), zap.Strings("transaction_ids", p.transactionIDs))

	if err := s.store.Transactions().UpdateStatus(ctx, p.transactionIDs, models.TransactionStatusProcessing, s.now()); err != nil {
		log.Warn("failed to mark transactions processing", zap.Error(err))
	}

	var (
		touched []*models.Wallet
		replay  bool
	)
	err := s.store.ExecuteInTransaction(ctx, func(store repositories.Store) error {
		walletIDs := make([]string, len(p.movements))
		for i, m := range p.movements {
			walletIDs[i] = m.walletID
		}
		// Wallets first, in id order, then the transaction rows.
		wallets, err := store.Wallets().LockForUpdate(ctx, walletIDs...)
		if err != nil {
			return err
		}
		txs, err := store.Transactions().LockForUpdate(ctx, p.transactionIDs...)
		if err != nil {
			return err
		}
		if len(txs) != len(p.transactionIDs) {
			return errs.ErrTransactionNotFound
		}

		completed := 0
		for _, tx := range txs {
			if tx.Status == models.TransactionStatusCompleted {
				completed++
				continue
			}
			if _, superseded := tx.Metadata[supersededKeyField]; superseded {
				return errs.InvalidState("transaction %s was superseded by a newer attempt", tx.TransactionID)
			}
		}
		switch {
		case completed == len(txs):
			replay = true
			touched = wallets
			return nil
		case completed > 0:
			return errs.InvalidState("transaction legs are partially completed")
		}

		byID := make(map[string]*models.Wallet, len(wallets))
		for _, w := range wallets {
			byID[w.ID] = w
		}
		for _, m := range p.movements {
			wallet, ok := byID[m.walletID]
			if !ok {
				return errs.ErrWalletNotFound
			}
			if !wallet.IsActive() {
				return errs.ErrWalletNotActive
			}

			balance := wallet.Balance.Add(m.amount)
			if m.debit {
				if wallet.AvailableBalance().LessThan(m.amount) {
					return errs.ErrInsufficientFunds.WithMessage("Insufficient funds. Available: %s, Requested: %s",
						wallet.AvailableBalance().String(), m.amount.String())
				}
				balance = wallet.Balance.Sub(m.amount)
			}
			if balance.IsNegative() {
				return errs.ErrInsufficientFunds
			}
			if err := store.Wallets().UpdateBalance(ctx, wallet, balance); err != nil {
				return err
			}
		}

		if err := store.Transactions().UpdateStatus(ctx, p.transactionIDs, models.TransactionStatusCompleted, s.now()); err != nil {
			return err
		}
		touched = wallets
		return nil
	})
	if err != nil {
		classified := storeError(err, "failed to commit transaction")
		s.markFailed(ctx, p.transactionIDs, classified.Error())
		log.Warn("commit failed",
			zap.String("kind", errs.KindOf(classified).String()),
			zap.Error(err))
		return classified
	}

	s.refreshCaches(ctx, touched)
	if replay {
		log.Info("transactions already completed")
		return nil
	}

	amount, _ := p.movements[0].amount.Float64()
	s.metrics.RecordTransaction(string(p.txType), amount)
	log.Info("transactions committed")
	return nil
}

// markFailed records the failure outside the rolled-back transaction.
func (s *service) markFailed(ctx context.Context, transactionIDs []string, reason string) {
	ctx = context.WithoutCancel(ctx)
	if err := s.store.Transactions().MarkFailed(ctx, transactionIDs, reason, s.now()); err != nil {
		s.log.Error("failed to record commit failure",
			zap.Strings("transaction_ids", transactionIDs), zap.Error(err))
	}
}
