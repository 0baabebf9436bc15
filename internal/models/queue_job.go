package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type QueueJobStatus string

const (
	QueueJobStatusPending    QueueJobStatus = "PENDING"
	QueueJobStatusProcessing QueueJobStatus = "PROCESSING"
	QueueJobStatusCompleted  QueueJobStatus = "COMPLETED"
	QueueJobStatusFailed     QueueJobStatus = "FAILED"
	QueueJobStatusDead       QueueJobStatus = "DEAD"
)

func (s QueueJobStatus) IsTerminal() bool {
	return s == QueueJobStatusCompleted || s == QueueJobStatusDead
}

// QueueJob is the durable delivery record of a job pushed to the work queue.
type QueueJob struct {
	ID            uint           `gorm:"primarykey" json:"-"`
	JobID         string         `gorm:"type:varchar(64);not null;uniqueIndex" json:"job_id"`
	TransactionID string         `gorm:"type:varchar(64);not null;index" json:"transaction_id"`
	QueueName     string         `gorm:"type:varchar(64);not null" json:"queue_name"`
	JobType       JobType        `gorm:"type:varchar(20);not null" json:"job_type"`
	Status        QueueJobStatus `gorm:"type:varchar(20);not null;default:'PENDING';index:idx_queue_jobs_status_updated,priority:1" json:"status"`
	JobData       JSON           `gorm:"type:jsonb" json:"job_data"`
	ErrorMessage  string         `gorm:"type:text" json:"error_message,omitempty"`
	Attempts      int            `gorm:"not null;default:0" json:"attempts"`
	MaxAttempts   int            `gorm:"not null;default:3" json:"max_attempts"`
	ScheduledAt   time.Time      `gorm:"not null" json:"scheduled_at"`
	ProcessedAt   *time.Time     `json:"processed_at,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `gorm:"index:idx_queue_jobs_status_updated,priority:2" json:"updated_at"`
}

type JobType string

const (
	JobTypeDeposit  JobType = "deposit"
	JobTypeWithdraw JobType = "withdraw"
	JobTypeTransfer JobType = "transfer"
)

// JobPayload is the body of a money-movement job. Deposits and withdrawals
// use TransactionID and WalletID; transfers use the Outgoing/Incoming and
// From/To fields.
type JobPayload struct {
	TransactionID         string          `json:"transaction_id,omitempty"`
	WalletID              string          `json:"wallet_id,omitempty"`
	OutgoingTransactionID string          `json:"outgoing_transaction_id,omitempty"`
	IncomingTransactionID string          `json:"incoming_transaction_id,omitempty"`
	FromWalletID          string          `json:"from_wallet_id,omitempty"`
	ToWalletID            string          `json:"to_wallet_id,omitempty"`
	Amount                decimal.Decimal `json:"amount"`
	Description           string          `json:"description,omitempty"`
	IdempotencyKey        string          `json:"idempotency_key,omitempty"`
}

// PrimaryTransactionID is the transaction the job row is keyed by.
func (p JobPayload) PrimaryTransactionID() string {
	if p.OutgoingTransactionID != "" {
		return p.OutgoingTransactionID
	}
	return p.TransactionID
}

// ToJSON flattens the payload for the queue_jobs.job_data column.
func (p JobPayload) ToJSON() JSON {
	data := JSON{"amount": p.Amount.String()}
	set := func(k, v string) {
		if v != "" {
			data[k] = v
		}
	}
	set("transaction_id", p.TransactionID)
	set("wallet_id", p.WalletID)
	set("outgoing_transaction_id", p.OutgoingTransactionID)
	set("incoming_transaction_id", p.IncomingTransactionID)
	set("from_wallet_id", p.FromWalletID)
	set("to_wallet_id", p.ToWalletID)
	set("description", p.Description)
	set("idempotency_key", p.IdempotencyKey)
	return data
}
