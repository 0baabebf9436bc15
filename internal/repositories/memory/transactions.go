package memory

import (
	"context"
	"sort"
	"time"

	"ledger/internal/models"
	"ledger/internal/repositories"

	"github.com/google/uuid"
)

type transactionRepo struct{ s *Store }

func copyTransaction(tx models.Transaction) *models.Transaction {
	if tx.Metadata != nil {
		md := make(models.JSON, len(tx.Metadata))
		for k, v := range tx.Metadata {
			md[k] = v
		}
		tx.Metadata = md
	}
	return &tx
}

func (r *transactionRepo) Create(ctx context.Context, txs ...*models.Transaction) error {
	if err := r.s.lock("transactions.create"); err != nil {
		r.s.unlock()
		return err
	}
	defer r.s.unlock()

	seen := make(map[string]bool, len(txs))
	for _, tx := range txs {
		if tx.TransactionID == "" {
			tx.TransactionID = uuid.NewString()
		}
		if _, ok := r.s.d.txs[tx.TransactionID]; ok || seen[tx.TransactionID] {
			return repositories.ErrDuplicateKey
		}
		seen[tx.TransactionID] = true
		if tx.IdempotencyKey == nil {
			continue
		}
		for _, existing := range r.s.d.txs {
			if existing.IdempotencyKey != nil && *existing.IdempotencyKey == *tx.IdempotencyKey {
				return repositories.ErrDuplicateKey
			}
		}
	}

	for _, tx := range txs {
		if tx.ID == "" {
			tx.ID = uuid.NewString()
		}
		if tx.Status == "" {
			tx.Status = models.TransactionStatusPending
		}
		now := r.s.d.tick()
		tx.CreatedAt, tx.UpdatedAt = now, now
		r.s.recordTransaction(tx.TransactionID)
		r.s.d.txs[tx.TransactionID] = *copyTransaction(*tx)
	}
	return nil
}

func (r *transactionRepo) GetByTransactionID(ctx context.Context, transactionID string) (*models.Transaction, error) {
	if err := r.s.lock("transactions.get"); err != nil {
		r.s.unlock()
		return nil, err
	}
	defer r.s.unlock()

	tx, ok := r.s.d.txs[transactionID]
	if !ok {
		return nil, repositories.ErrTransactionNotFound
	}
	return copyTransaction(tx), nil
}

func (r *transactionRepo) FindByIdempotencyKey(ctx context.Context, key string) ([]*models.Transaction, error) {
	if err := r.s.lock("transactions.find_by_key"); err != nil {
		r.s.unlock()
		return nil, err
	}
	defer r.s.unlock()

	var txs []*models.Transaction
	for _, tx := range r.s.d.txs {
		if tx.IdempotencyKey != nil && *tx.IdempotencyKey == key {
			txs = append(txs, copyTransaction(tx))
		}
	}
	sortNewestFirst(txs)
	return txs, nil
}

func (r *transactionRepo) LockForUpdate(ctx context.Context, transactionIDs ...string) ([]*models.Transaction, error) {
	if err := r.s.lock("transactions.lock"); err != nil {
		r.s.unlock()
		return nil, err
	}
	defer r.s.unlock()

	var txs []*models.Transaction
	for _, id := range transactionIDs {
		if tx, ok := r.s.d.txs[id]; ok {
			txs = append(txs, copyTransaction(tx))
		}
	}
	sort.Slice(txs, func(i, j int) bool { return txs[i].TransactionID < txs[j].TransactionID })
	return txs, nil
}

func (r *transactionRepo) UpdateStatus(ctx context.Context, transactionIDs []string, status models.TransactionStatus, at time.Time) error {
	if err := r.s.lock("transactions.update_status"); err != nil {
		r.s.unlock()
		return err
	}
	defer r.s.unlock()

	r.updateOpen(transactionIDs, func(tx *models.Transaction) {
		tx.Status = status
		tx.UpdatedAt = at
		if status == models.TransactionStatusCompleted || status == models.TransactionStatusFailed {
			processed := at
			tx.ProcessedAt = &processed
		}
		if status == models.TransactionStatusCompleted {
			tx.FailureReason = ""
		}
	})
	return nil
}

func (r *transactionRepo) MarkFailed(ctx context.Context, transactionIDs []string, reason string, at time.Time) error {
	if err := r.s.lock("transactions.mark_failed"); err != nil {
		r.s.unlock()
		return err
	}
	defer r.s.unlock()

	r.updateOpen(transactionIDs, func(tx *models.Transaction) {
		processed := at
		tx.Status = models.TransactionStatusFailed
		tx.FailureReason = reason
		tx.ProcessedAt = &processed
		tx.UpdatedAt = at
		tx.RetryCount++
	})
	return nil
}

// updateOpen applies fn to each listed row that is not COMPLETED.
// Must be called with the data mutex held.
func (r *transactionRepo) updateOpen(transactionIDs []string, fn func(*models.Transaction)) {
	for _, id := range transactionIDs {
		tx, ok := r.s.d.txs[id]
		if !ok || tx.Status == models.TransactionStatusCompleted {
			continue
		}
		r.s.recordTransaction(id)
		updated := copyTransaction(tx)
		fn(updated)
		r.s.d.txs[id] = *updated
	}
}

func (r *transactionRepo) ReleaseIdempotencyKey(ctx context.Context, key string) error {
	if err := r.s.lock("transactions.release_key"); err != nil {
		r.s.unlock()
		return err
	}
	defer r.s.unlock()

	for id, tx := range r.s.d.txs {
		if tx.IdempotencyKey == nil || *tx.IdempotencyKey != key || tx.Status != models.TransactionStatusFailed {
			continue
		}
		r.s.recordTransaction(id)
		updated := copyTransaction(tx)
		updated.IdempotencyKey = nil
		if updated.Metadata == nil {
			updated.Metadata = models.JSON{}
		}
		updated.Metadata["superseded_idempotency_key"] = key
		r.s.d.txs[id] = *updated
	}
	return nil
}

func (r *transactionRepo) List(ctx context.Context, filter repositories.HistoryFilter) ([]*models.Transaction, int64, error) {
	if err := r.s.lock("transactions.list"); err != nil {
		r.s.unlock()
		return nil, 0, err
	}
	defer r.s.unlock()

	var matched []*models.Transaction
	for _, tx := range r.s.d.txs {
		if !ownsLeg(tx, filter.WalletID) {
			continue
		}
		if filter.Type != "" && tx.Type != filter.Type {
			continue
		}
		if filter.Status != "" && tx.Status != filter.Status {
			continue
		}
		matched = append(matched, copyTransaction(tx))
	}
	sortNewestFirst(matched)

	total := int64(len(matched))
	if filter.Offset >= len(matched) {
		return []*models.Transaction{}, total, nil
	}
	end := len(matched)
	if filter.Limit > 0 && filter.Offset+filter.Limit < end {
		end = filter.Offset + filter.Limit
	}
	return matched[filter.Offset:end], total, nil
}

func ownsLeg(tx models.Transaction, walletID string) bool {
	switch tx.Type {
	case models.TransactionTypeWithdrawal, models.TransactionTypeTransferOut:
		return tx.FromWalletID != nil && *tx.FromWalletID == walletID
	case models.TransactionTypeDeposit, models.TransactionTypeTransferIn:
		return tx.ToWalletID != nil && *tx.ToWalletID == walletID
	}
	return false
}

func sortNewestFirst(txs []*models.Transaction) {
	sort.Slice(txs, func(i, j int) bool { return txs[i].CreatedAt.After(txs[j].CreatedAt) })
}

// AllTransactions returns copies of every stored transaction, oldest first.
func (s *Store) AllTransactions() []*models.Transaction {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	txs := make([]*models.Transaction, 0, len(s.d.txs))
	for _, tx := range s.d.txs {
		txs = append(txs, copyTransaction(tx))
	}
	sort.Slice(txs, func(i, j int) bool { return txs[i].CreatedAt.Before(txs[j].CreatedAt) })
	return txs
}
