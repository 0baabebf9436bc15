package wallet

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	errs "ledger/internal/errors"
	"ledger/internal/models"
	"ledger/internal/queue"
	"ledger/internal/repositories"

	"go.uber.org/zap"
)

// Deposit records a PENDING deposit and enqueues it for commit.
func (s *service) Deposit(ctx context.Context, req OperationRequest) (*models.Transaction, error) {
	start := time.Now()
	tx, err := s.deposit(ctx, req)
	s.observe(opDeposit, start, err)
	return tx, err
}

func (s *service) deposit(ctx context.Context, req OperationRequest) (*models.Transaction, error) {
	if err := s.validateAmount(req.Amount); err != nil {
		return nil, err
	}

	return idempotent(ctx, s, opDeposit, req.IdempotencyKey,
		keyScope{txType: models.TransactionTypeDeposit, toWalletID: req.WalletID, amount: req.Amount},
		s.replaySingle,
		func(ctx context.Context) (*models.Transaction, error) {
			wallet, err := s.activeWallet(ctx, req.WalletID)
			if err != nil {
				return nil, err
			}

			tx := &models.Transaction{
				IdempotencyKey: optionalKey(req.IdempotencyKey),
				ToWalletID:     &wallet.ID,
				Amount:         req.Amount,
				Type:           models.TransactionTypeDeposit,
				Status:         models.TransactionStatusPending,
				Description:    req.Description,
			}
			tx.TransactionID = newTransactionID()

			payload := models.JobPayload{
				TransactionID:  tx.TransactionID,
				WalletID:       wallet.ID,
				Amount:         req.Amount,
				Description:    req.Description,
				IdempotencyKey: req.IdempotencyKey,
			}
			if err := s.persistAndEnqueue(ctx, models.JobTypeDeposit, payload, req.IdempotencyKey, tx); err != nil {
				return nil, err
			}
			s.invalidateHistory(ctx, wallet.ID)

			s.log.Info("deposit accepted",
				zap.String("transaction_id", tx.TransactionID),
				zap.String("wallet_id", wallet.ID),
				zap.String("amount", req.Amount.String()))
			return tx, nil
		})
}

// Withdraw records a PENDING withdrawal and enqueues it for commit. Funds
// are checked against the cached balance here and again under lock at commit.
func (s *service) Withdraw(ctx context.Context, req OperationRequest) (*models.Transaction, error) {
	start := time.Now()
	tx, err := s.withdraw(ctx, req)
	s.observe(opWithdraw, start, err)
	return tx, err
}

func (s *service) withdraw(ctx context.Context, req OperationRequest) (*models.Transaction, error) {
	if err := s.validateAmount(req.Amount); err != nil {
		return nil, err
	}

	return idempotent(ctx, s, opWithdraw, req.IdempotencyKey,
		keyScope{txType: models.TransactionTypeWithdrawal, fromWalletID: req.WalletID, amount: req.Amount},
		s.replaySingle,
		func(ctx context.Context) (*models.Transaction, error) {
			wallet, err := s.activeWallet(ctx, req.WalletID)
			if err != nil {
				return nil, err
			}
			if err := s.checkFunds(ctx, wallet, req.Amount); err != nil {
				return nil, err
			}

			tx := &models.Transaction{
				IdempotencyKey: optionalKey(req.IdempotencyKey),
				FromWalletID:   &wallet.ID,
				Amount:         req.Amount,
				Type:           models.TransactionTypeWithdrawal,
				Status:         models.TransactionStatusPending,
				Description:    req.Description,
			}
			tx.TransactionID = newTransactionID()

			payload := models.JobPayload{
				TransactionID:  tx.TransactionID,
				WalletID:       wallet.ID,
				Amount:         req.Amount,
				Description:    req.Description,
				IdempotencyKey: req.IdempotencyKey,
			}
			if err := s.persistAndEnqueue(ctx, models.JobTypeWithdraw, payload, req.IdempotencyKey, tx); err != nil {
				return nil, err
			}
			s.invalidateHistory(ctx, wallet.ID)

			s.log.Info("withdrawal accepted",
				zap.String("transaction_id", tx.TransactionID),
				zap.String("wallet_id", wallet.ID),
				zap.String("amount", req.Amount.String()))
			return tx, nil
		})
}

// Transfer records a PENDING TRANSFER_OUT/TRANSFER_IN pair and enqueues a
// single job that commits both legs together.
func (s *service) Transfer(ctx context.Context, req TransferRequest) (*models.TransferResult, error) {
	start := time.Now()
	result, err := s.transfer(ctx, req)
	s.observe(opTransfer, start, err)
	return result, err
}

func (s *service) transfer(ctx context.Context, req TransferRequest) (*models.TransferResult, error) {
	if req.FromWalletID == req.ToWalletID {
		return nil, errs.ErrSameWallet
	}
	if err := s.validateAmount(req.Amount); err != nil {
		return nil, err
	}

	return idempotent(ctx, s, opTransfer, req.IdempotencyKey,
		keyScope{
			txType:       models.TransactionTypeTransferOut,
			fromWalletID: req.FromWalletID,
			toWalletID:   req.ToWalletID,
			amount:       req.Amount,
		},
		s.replayTransfer,
		func(ctx context.Context) (*models.TransferResult, error) {
			from, err := s.activeWallet(ctx, req.FromWalletID)
			if err != nil {
				return nil, err
			}
			to, err := s.activeWallet(ctx, req.ToWalletID)
			if err != nil {
				return nil, err
			}
			if from.Currency != to.Currency {
				return nil, errs.InvalidState("Cannot transfer between %s and %s wallets", from.Currency, to.Currency)
			}
			if err := s.checkFunds(ctx, from, req.Amount); err != nil {
				return nil, err
			}

			outID, inID := newTransactionID(), newTransactionID()
			outgoing := &models.Transaction{
				TransactionID:          outID,
				IdempotencyKey:         optionalKey(req.IdempotencyKey),
				FromWalletID:           &from.ID,
				ToWalletID:             &to.ID,
				Amount:                 req.Amount,
				Type:                   models.TransactionTypeTransferOut,
				Status:                 models.TransactionStatusPending,
				Description:            req.Description,
				ReferenceTransactionID: &inID,
			}
			incoming := &models.Transaction{
				TransactionID:          inID,
				FromWalletID:           &from.ID,
				ToWalletID:             &to.ID,
				Amount:                 req.Amount,
				Type:                   models.TransactionTypeTransferIn,
				Status:                 models.TransactionStatusPending,
				Description:            req.Description,
				ReferenceTransactionID: &outID,
			}

			payload := models.JobPayload{
				OutgoingTransactionID: outID,
				IncomingTransactionID: inID,
				FromWalletID:          from.ID,
				ToWalletID:            to.ID,
				Amount:                req.Amount,
				Description:           req.Description,
				IdempotencyKey:        req.IdempotencyKey,
			}
			if err := s.persistAndEnqueue(ctx, models.JobTypeTransfer, payload, req.IdempotencyKey, outgoing, incoming); err != nil {
				return nil, err
			}
			s.invalidateHistory(ctx, from.ID, to.ID)

			s.log.Info("transfer accepted",
				zap.String("outgoing_transaction_id", outID),
				zap.String("incoming_transaction_id", inID),
				zap.String("from_wallet_id", from.ID),
				zap.String("to_wallet_id", to.ID),
				zap.String("amount", req.Amount.String()))
			return &models.TransferResult{Outgoing: outgoing, Incoming: incoming}, nil
		})
}

// persistAndEnqueue writes the PENDING rows and their queue_jobs record in
// one database transaction, then pushes the job. If the push fails the rows
// are marked FAILED and the job DEAD so nothing is left dangling.
func (s *service) persistAndEnqueue(
	ctx context.Context,
	jobType models.JobType,
	payload models.JobPayload,
	key string,
	txs ...*models.Transaction,
) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return errs.Transient(err, "failed to encode job payload")
	}
	now := s.now()
	job := &queue.Job{
		ID:          queue.NewJobID(),
		Type:        string(jobType),
		Payload:     body,
		MaxAttempts: s.queue.MaxAttempts(),
		EnqueuedAt:  now,
	}
	record := &models.QueueJob{
		JobID:         job.ID,
		TransactionID: payload.PrimaryTransactionID(),
		QueueName:     s.queue.Name(),
		JobType:       jobType,
		Status:        models.QueueJobStatusPending,
		JobData:       payload.ToJSON(),
		MaxAttempts:   job.MaxAttempts,
		ScheduledAt:   now,
	}

	err = s.store.ExecuteInTransaction(ctx, func(store repositories.Store) error {
		if key != "" {
			if err := store.Transactions().ReleaseIdempotencyKey(ctx, key); err != nil {
				return err
			}
		}
		if err := store.Transactions().Create(ctx, txs...); err != nil {
			return err
		}
		return store.QueueJobs().Create(ctx, record)
	})
	if err != nil {
		return storeError(err, "failed to record transaction")
	}

	if err := s.queue.Enqueue(ctx, job); err != nil {
		ids := make([]string, len(txs))
		for i, tx := range txs {
			ids[i] = tx.TransactionID
		}
		s.compensate(ctx, ids, job.ID, fmt.Sprintf("enqueue failed: %v", err))
		return errs.Transient(err, "failed to enqueue transaction")
	}
	return nil
}

// compensate dead-letters the job and then fails its rows after a failed
// enqueue, in one unit of work. On error nothing changes: job and rows stay
// PENDING and the janitor re-pushes the job.
func (s *service) compensate(ctx context.Context, transactionIDs []string, jobID, reason string) {
	ctx = context.WithoutCancel(ctx)
	now := s.now()
	err := s.store.ExecuteInTransaction(ctx, func(store repositories.Store) error {
		if err := store.QueueJobs().MarkDead(ctx, jobID, reason, now); err != nil {
			return fmt.Errorf("failed to mark queue job dead: %w", err)
		}
		if err := store.Transactions().MarkFailed(ctx, transactionIDs, reason, now); err != nil {
			return fmt.Errorf("failed to mark transactions failed: %w", err)
		}
		return nil
	})
	if err != nil {
		s.log.Error("compensation failed, leaving job for the janitor",
			zap.String("job_id", jobID), zap.Strings("transaction_ids", transactionIDs), zap.Error(err))
	}
}

func (s *service) replaySingle(ctx context.Context, tx *models.Transaction) (*models.Transaction, error) {
	return tx, nil
}

func (s *service) replayTransfer(ctx context.Context, outgoing *models.Transaction) (*models.TransferResult, error) {
	if outgoing.ReferenceTransactionID == nil {
		return nil, errs.InvalidState("transfer %s has no paired transaction", outgoing.TransactionID)
	}
	incoming, err := s.store.Transactions().GetByTransactionID(ctx, *outgoing.ReferenceTransactionID)
	if err != nil {
		return nil, storeError(err, "failed to load paired transaction")
	}
	return &models.TransferResult{Outgoing: outgoing, Incoming: incoming}, nil
}
