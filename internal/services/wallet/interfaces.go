package wallet

import (
	"context"

	"ledger/internal/models"
	"ledger/internal/queue"
	"ledger/internal/repositories/cache"

	"github.com/shopspring/decimal"
)

// Service defines the main wallet service interface
type Service interface {
	// Wallet management
	CreateWallet(ctx context.Context, req CreateWalletRequest) (*models.Wallet, error)
	GetWallet(ctx context.Context, walletID string) (*models.Wallet, error)
	GetUserWallets(ctx context.Context, userID string) ([]models.Wallet, error)

	// Reads
	GetWalletBalance(ctx context.Context, walletID string) (decimal.Decimal, error)
	GetTransaction(ctx context.Context, transactionID string) (*models.Transaction, error)
	GetTransactionHistory(ctx context.Context, query HistoryQuery) (*HistoryPage, error)

	// Request phase: validate, record PENDING rows and enqueue a job
	Deposit(ctx context.Context, req OperationRequest) (*models.Transaction, error)
	Withdraw(ctx context.Context, req OperationRequest) (*models.Transaction, error)
	Transfer(ctx context.Context, req TransferRequest) (*models.TransferResult, error)

	// Commit phase, called by the job processor
	CommitDeposit(ctx context.Context, payload models.JobPayload) error
	CommitWithdraw(ctx context.Context, payload models.JobPayload) error
	CommitTransfer(ctx context.Context, payload models.JobPayload) error
	FailPermanently(ctx context.Context, payload models.JobPayload, reason string) error
}

// Cache is the read-side cache the engine keeps in step with the ledger.
type Cache interface {
	GetBalance(ctx context.Context, walletID string) (decimal.Decimal, bool, error)
	SetBalance(ctx context.Context, walletID string, balance decimal.Decimal, version int64) (bool, error)
	GetHistory(ctx context.Context, key cache.HistoryKey, dest interface{}) (bool, error)
	SetHistory(ctx context.Context, key cache.HistoryKey, page interface{}) error
	InvalidateHistory(ctx context.Context, walletID string) error
	GetUserWallets(ctx context.Context, userID string, dest interface{}) (bool, error)
	SetUserWallets(ctx context.Context, userID string, wallets interface{}) error
	InvalidateUserWallets(ctx context.Context, userID string) error
}

// Locker marks idempotency keys as in flight.
type Locker interface {
	TryLock(ctx context.Context, key string) (cache.Releaser, bool, error)
}

// JobQueue receives money-movement jobs.
type JobQueue interface {
	Name() string
	MaxAttempts() int
	Enqueue(ctx context.Context, job *queue.Job) error
}
