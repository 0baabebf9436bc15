package wallet

import (
	"context"
	"errors"
	"strings"

	errs "ledger/internal/errors"
	"ledger/internal/models"
	"ledger/internal/repositories"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// keyScope is the request an idempotency key was issued for. Only a request
// with the same scope may observe an earlier attempt under that key.
type keyScope struct {
	txType       models.TransactionType
	fromWalletID string
	toWalletID   string
	amount       decimal.Decimal
}

func (k keyScope) matches(tx *models.Transaction) bool {
	return strings.EqualFold(walletRef(tx.FromWalletID), k.fromWalletID) &&
		strings.EqualFold(walletRef(tx.ToWalletID), k.toWalletID) &&
		tx.Amount.Equal(k.amount)
}

func walletRef(id *string) string {
	if id == nil {
		return ""
	}
	return *id
}

// idempotent runs create under the idempotency protocol for key. A prior
// COMPLETED or in-flight attempt under the same key is handed to replay
// instead; a FAILED one is retried. create is only ever called while holding
// the key's lock.
func idempotent[T any](
	ctx context.Context,
	s *service,
	op string,
	key string,
	scope keyScope,
	replay func(context.Context, *models.Transaction) (T, error),
	create func(context.Context) (T, error),
) (T, error) {
	var zero T
	if key == "" {
		return create(ctx)
	}

	resolveAndReplay := func() (T, bool, error) {
		existing, err := s.resolveIdempotencyKey(ctx, key, scope)
		if err != nil || existing == nil {
			return zero, false, err
		}
		s.metrics.RecordIdempotentReplay(op)
		s.log.Info("idempotent replay",
			zap.String("operation", op),
			zap.String("idempotency_key", key),
			zap.String("transaction_id", existing.TransactionID),
			zap.String("status", string(existing.Status)))
		result, err := replay(ctx, existing)
		return result, true, err
	}

	if result, ok, err := resolveAndReplay(); ok || err != nil {
		return result, err
	}

	lock, acquired, err := s.locker.TryLock(ctx, key)
	if err != nil {
		return zero, errs.Transient(err, "failed to acquire idempotency lock")
	}
	if !acquired {
		// Another request holds the key. It may have persisted by now.
		if result, ok, err := resolveAndReplay(); ok || err != nil {
			return result, err
		}
		return zero, errs.ErrDuplicateRequest
	}
	defer func() {
		if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
			s.log.Warn("failed to release idempotency lock",
				zap.String("idempotency_key", key), zap.Error(err))
		}
	}()

	// The previous holder may have finished between the first check and
	// acquiring the lock.
	if result, ok, err := resolveAndReplay(); ok || err != nil {
		return result, err
	}

	result, err := create(ctx)
	if err != nil && errors.Is(err, repositories.ErrDuplicateKey) {
		if result, ok, rerr := resolveAndReplay(); ok || rerr != nil {
			return result, rerr
		}
		return zero, errs.ErrDuplicateRequest
	}
	return result, err
}

// resolveIdempotencyKey returns the attempt a new request with key should
// observe, or nil when a new attempt must be made. Priority is COMPLETED,
// then PENDING or PROCESSING. FAILED attempts never resolve. A key already
// used for another operation or another request is a conflict, whatever the
// status of that attempt.
func (s *service) resolveIdempotencyKey(ctx context.Context, key string, scope keyScope) (*models.Transaction, error) {
	txs, err := s.store.Transactions().FindByIdempotencyKey(ctx, key)
	if err != nil {
		return nil, storeError(err, "failed to resolve idempotency key")
	}

	picked := pickByPriority(txs)
	if picked == nil {
		return nil, nil
	}
	if picked.Type != scope.txType {
		return nil, errs.ErrIdempotencyKeyReused.WithMessage(
			"Idempotency key %q was already used for a %s", key, picked.Type)
	}
	if !scope.matches(picked) {
		return nil, errs.ErrIdempotencyKeyReused.WithMessage(
			"Idempotency key %q was already used for a different request", key)
	}
	if picked.Status == models.TransactionStatusFailed {
		s.log.Info("retrying failed attempt",
			zap.String("idempotency_key", key),
			zap.String("transaction_id", picked.TransactionID),
			zap.String("failure_reason", picked.FailureReason))
		return nil, nil
	}
	return picked, nil
}

func pickByPriority(txs []*models.Transaction) *models.Transaction {
	rank := func(status models.TransactionStatus) int {
		switch status {
		case models.TransactionStatusCompleted:
			return 3
		case models.TransactionStatusPending, models.TransactionStatusProcessing:
			return 2
		case models.TransactionStatusFailed:
			return 1
		default:
			return 0
		}
	}

	var picked *models.Transaction
	for _, tx := range txs {
		if picked == nil || rank(tx.Status) > rank(picked.Status) {
			picked = tx
		}
	}
	return picked
}
