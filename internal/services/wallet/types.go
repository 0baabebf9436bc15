package wallet

import (
	"time"

	"ledger/internal/models"
	"ledger/internal/utils/pagination"

	"github.com/shopspring/decimal"
)

// WalletConfig holds configuration for wallet operations
type WalletConfig struct {
	DefaultCurrency   string
	MinAmount         decimal.Decimal
	MaxInitialBalance decimal.Decimal
}

// CreateWalletRequest opens a wallet for a user. A nil InitialBalance means zero.
type CreateWalletRequest struct {
	UserID         string
	InitialBalance *decimal.Decimal
	Currency       string
}

// OperationRequest is a deposit or withdrawal against one wallet.
type OperationRequest struct {
	WalletID       string
	Amount         decimal.Decimal
	Description    string
	IdempotencyKey string
}

// TransferRequest moves Amount from one wallet to another.
type TransferRequest struct {
	FromWalletID   string
	ToWalletID     string
	Amount         decimal.Decimal
	Description    string
	IdempotencyKey string
}

// HistoryQuery selects a page of a wallet's transactions. Zero Page and
// Limit take the defaults; empty Type and Status match everything.
type HistoryQuery struct {
	WalletID string
	Page     int
	Limit    int
	Type     models.TransactionType
	Status   models.TransactionStatus
}

// HistoryPage is one page of transaction history.
type HistoryPage struct {
	Transactions []*models.Transaction `json:"transactions"`
	Meta         pagination.Meta       `json:"meta"`
}

// MetricsCollector defines the interface for collecting wallet metrics
type MetricsCollector interface {
	// Operation metrics
	RecordOperationDuration(operation string, duration time.Duration)
	RecordOperationResult(operation, result string)

	// Cache metrics
	RecordCacheHit(cache string)
	RecordCacheMiss(cache string)

	// Idempotency metrics
	RecordIdempotentReplay(operation string)

	// Error metrics
	RecordError(operation, errType string)

	// Transaction metrics
	RecordTransaction(txType string, amount float64)
}
