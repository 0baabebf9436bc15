package wallet

import "github.com/shopspring/decimal"

// Operation names used in logs and metrics
const (
	opCreateWallet   = "create_wallet"
	opDeposit        = "deposit"
	opWithdraw       = "withdraw"
	opTransfer       = "transfer"
	opCommitDeposit  = "commit_deposit"
	opCommitWithdraw = "commit_withdraw"
	opCommitTransfer = "commit_transfer"
)

// Default configuration values
const (
	DefaultCurrency = "USD"
	AmountScale     = 8
)

var (
	DefaultMinAmount         = decimal.RequireFromString("0.01")
	DefaultMaxInitialBalance = decimal.NewFromInt(1_000_000)
)

// metadata key set on a FAILED row when a retry takes over its idempotency key
const supersededKeyField = "superseded_idempotency_key"
