package repositories

import (
	"context"
	"errors"
	"time"

	"ledger/internal/models"

	"github.com/shopspring/decimal"
)

var (
	ErrWalletNotFound      = errors.New("wallet not found")
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrQueueJobNotFound    = errors.New("queue job not found")
	ErrDuplicateKey        = errors.New("duplicate key")
	ErrBalanceConstraint   = errors.New("balance check constraint violated")
	ErrVersionMismatch     = errors.New("wallet version mismatch")
)

// WalletRepository is the engine's port onto the wallets table.
type WalletRepository interface {
	Create(ctx context.Context, wallet *models.Wallet) error
	GetByID(ctx context.Context, id string) (*models.Wallet, error)
	GetActiveByUserAndCurrency(ctx context.Context, userID, currency string) (*models.Wallet, error)
	// ListByUser returns only ACTIVE wallets.
	ListByUser(ctx context.Context, userID string) ([]models.Wallet, error)

	// LockForUpdate takes row locks on the given wallets in ascending id
	// order and returns them in that order. Must run inside
	// ExecuteInTransaction.
	LockForUpdate(ctx context.Context, ids ...string) ([]*models.Wallet, error)

	// UpdateBalance writes a new balance if the row still has wallet.Version,
	// bumping the version. It returns ErrVersionMismatch when no row matched.
	UpdateBalance(ctx context.Context, wallet *models.Wallet, balance decimal.Decimal) error
}

// HistoryFilter selects one page of a wallet's transactions.
type HistoryFilter struct {
	WalletID string
	Type     models.TransactionType
	Status   models.TransactionStatus
	Limit    int
	Offset   int
}

// TransactionRepository is the engine's port onto the transactions table.
type TransactionRepository interface {
	Create(ctx context.Context, txs ...*models.Transaction) error
	GetByTransactionID(ctx context.Context, transactionID string) (*models.Transaction, error)
	FindByIdempotencyKey(ctx context.Context, key string) ([]*models.Transaction, error)

	// LockForUpdate row-locks the given transactions. Must run inside
	// ExecuteInTransaction, after the wallets have been locked.
	LockForUpdate(ctx context.Context, transactionIDs ...string) ([]*models.Transaction, error)

	// UpdateStatus moves the given rows to status unless they are already
	// COMPLETED. Terminal statuses also stamp processed_at.
	UpdateStatus(ctx context.Context, transactionIDs []string, status models.TransactionStatus, at time.Time) error

	// MarkFailed records reason, stamps processed_at and increments
	// retry_count on rows that are not COMPLETED.
	MarkFailed(ctx context.Context, transactionIDs []string, reason string, at time.Time) error

	// ReleaseIdempotencyKey detaches key from FAILED rows so a retry can
	// claim it. The old key is kept in the row metadata.
	ReleaseIdempotencyKey(ctx context.Context, key string) error

	List(ctx context.Context, filter HistoryFilter) ([]*models.Transaction, int64, error)
}

// QueueJobRepository tracks delivery state of enqueued jobs.
type QueueJobRepository interface {
	Create(ctx context.Context, job *models.QueueJob) error
	GetByJobID(ctx context.Context, jobID string) (*models.QueueJob, error)
	MarkProcessing(ctx context.Context, jobID string, attempts int) error
	MarkCompleted(ctx context.Context, jobID string, at time.Time) error
	MarkRetrying(ctx context.Context, jobID, errMsg string, scheduledAt time.Time) error
	MarkDead(ctx context.Context, jobID, errMsg string, at time.Time) error

	// ListUnfinished returns non-terminal jobs last touched before cutoff,
	// oldest first.
	ListUnfinished(ctx context.Context, cutoff time.Time, limit int) ([]*models.QueueJob, error)

	// Prune deletes all but the newest keep rows with the given status.
	Prune(ctx context.Context, status models.QueueJobStatus, keep int) (int64, error)
}

// Store groups the repositories behind one unit of work.
type Store interface {
	Wallets() WalletRepository
	Transactions() TransactionRepository
	QueueJobs() QueueJobRepository

	// ExecuteInTransaction runs fn against a Store bound to a single
	// database transaction. fn's error rolls the transaction back.
	ExecuteInTransaction(ctx context.Context, fn func(Store) error) error

	Ping(ctx context.Context) error
}
