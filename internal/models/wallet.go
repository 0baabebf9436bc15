package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type WalletStatus string

const (
	WalletStatusActive    WalletStatus = "ACTIVE"
	WalletStatusSuspended WalletStatus = "SUSPENDED"
	WalletStatusClosed    WalletStatus = "CLOSED"
)

// Wallet holds a user's balance in one currency. A user has at most one
// ACTIVE wallet per currency. Balances only change in the commit phase,
// under a row lock; Version is bumped on every balance update.
type Wallet struct {
	ID            string          `gorm:"type:uuid;primaryKey" json:"id"`
	UserID        string          `gorm:"type:varchar(64);not null;uniqueIndex:idx_wallets_user_currency_active,priority:1,where:status = 'ACTIVE'" json:"user_id"`
	Balance       decimal.Decimal `gorm:"type:numeric(18,8);not null;default:0;check:chk_wallets_balance_non_negative,balance >= 0" json:"balance"`
	FrozenBalance decimal.Decimal `gorm:"type:numeric(18,8);not null;default:0" json:"frozen_balance"`
	Status        WalletStatus    `gorm:"type:varchar(16);not null;default:'ACTIVE';index" json:"status"`
	Currency      string          `gorm:"type:varchar(10);not null;default:'USD';uniqueIndex:idx_wallets_user_currency_active,priority:2" json:"currency"`
	Version       int64           `gorm:"not null;default:1" json:"version"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

func (w *Wallet) BeforeCreate(tx *gorm.DB) error {
	if w.ID == "" {
		w.ID = uuid.NewString()
	}
	if w.Status == "" {
		w.Status = WalletStatusActive
	}
	if w.Version == 0 {
		w.Version = 1
	}
	return nil
}

func (w *Wallet) IsActive() bool {
	return w.Status == WalletStatusActive
}

// AvailableBalance is the balance that may be debited.
func (w *Wallet) AvailableBalance() decimal.Decimal {
	return w.Balance.Sub(w.FrozenBalance)
}
