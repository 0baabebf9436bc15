package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type TransactionType string

const (
	TransactionTypeDeposit     TransactionType = "DEPOSIT"
	TransactionTypeWithdrawal  TransactionType = "WITHDRAWAL"
	TransactionTypeTransferIn  TransactionType = "TRANSFER_IN"
	TransactionTypeTransferOut TransactionType = "TRANSFER_OUT"
)

func (t TransactionType) Valid() bool {
	switch t {
	case TransactionTypeDeposit, TransactionTypeWithdrawal, TransactionTypeTransferIn, TransactionTypeTransferOut:
		return true
	}
	return false
}

type TransactionStatus string

const (
	TransactionStatusPending    TransactionStatus = "PENDING"
	TransactionStatusProcessing TransactionStatus = "PROCESSING"
	TransactionStatusCompleted  TransactionStatus = "COMPLETED"
	TransactionStatusFailed     TransactionStatus = "FAILED"
)

func (s TransactionStatus) Valid() bool {
	switch s {
	case TransactionStatusPending, TransactionStatusProcessing, TransactionStatusCompleted, TransactionStatusFailed:
		return true
	}
	return false
}

// Transaction is one ledger entry. A transfer is recorded as a TRANSFER_OUT
// row on the source wallet and a TRANSFER_IN row on the destination, each
// pointing at the other through ReferenceTransactionID. Only the outgoing
// leg carries the idempotency key.
type Transaction struct {
	ID                     string            `gorm:"type:uuid;primaryKey" json:"id"`
	TransactionID          string            `gorm:"type:varchar(64);not null;uniqueIndex" json:"transaction_id"`
	IdempotencyKey         *string           `gorm:"type:varchar(255);uniqueIndex:idx_transactions_idempotency_key,where:idempotency_key IS NOT NULL" json:"idempotency_key,omitempty"`
	FromWalletID           *string           `gorm:"type:uuid;index:idx_transactions_from_wallet_created,priority:1" json:"from_wallet_id,omitempty"`
	ToWalletID             *string           `gorm:"type:uuid;index:idx_transactions_to_wallet_created,priority:1" json:"to_wallet_id,omitempty"`
	Amount                 decimal.Decimal   `gorm:"type:numeric(18,8);not null" json:"amount"`
	Fee                    decimal.Decimal   `gorm:"type:numeric(18,8);not null;default:0" json:"fee"`
	Type                   TransactionType   `gorm:"type:varchar(20);not null" json:"type"`
	Status                 TransactionStatus `gorm:"type:varchar(20);not null;default:'PENDING';index:idx_transactions_status_created,priority:1" json:"status"`
	Description            string            `gorm:"type:text" json:"description,omitempty"`
	ReferenceTransactionID *string           `gorm:"type:varchar(64);index" json:"reference_transaction_id,omitempty"`
	FailureReason          string            `gorm:"type:text" json:"failure_reason,omitempty"`
	RetryCount             int               `gorm:"not null;default:0" json:"retry_count"`
	Metadata               JSON              `gorm:"type:jsonb" json:"metadata,omitempty"`
	ProcessedAt            *time.Time        `json:"processed_at,omitempty"`
	CreatedAt              time.Time         `gorm:"index:idx_transactions_from_wallet_created,priority:2;index:idx_transactions_to_wallet_created,priority:2;index:idx_transactions_status_created,priority:2" json:"created_at"`
	UpdatedAt              time.Time         `json:"updated_at"`
}

func (t *Transaction) BeforeCreate(tx *gorm.DB) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.TransactionID == "" {
		t.TransactionID = uuid.NewString()
	}
	if t.Status == "" {
		t.Status = TransactionStatusPending
	}
	return nil
}

func (t *Transaction) IsTerminal() bool {
	return t.Status == TransactionStatusCompleted || t.Status == TransactionStatusFailed
}

// TransferResult is the pair of legs produced by one transfer.
type TransferResult struct {
	Outgoing *Transaction `json:"outgoing_transaction"`
	Incoming *Transaction `json:"incoming_transaction"`
}
