package errors

var (
	ErrWalletNotFound = &DomainError{
		Kind:    KindNotFound,
		Code:    "WALLET_NOT_FOUND",
		Message: "Wallet not found",
	}
	ErrTransactionNotFound = &DomainError{
		Kind:    KindNotFound,
		Code:    "TRANSACTION_NOT_FOUND",
		Message: "Transaction not found",
	}
	ErrWalletNotActive = &DomainError{
		Kind:    KindInvalidState,
		Code:    "WALLET_NOT_ACTIVE",
		Message: "Wallet is not active",
	}
	ErrSameWallet = &DomainError{
		Kind:    KindInvalidState,
		Code:    "SAME_WALLET",
		Message: "Cannot transfer to the same wallet",
	}
	ErrInvalidAmount = &DomainError{
		Kind:    KindInvalidState,
		Code:    "INVALID_AMOUNT",
		Message: "Amount must be at least 0.01 with at most 8 decimal places",
	}
	ErrInsufficientFunds = &DomainError{
		Kind:    KindInsufficientFunds,
		Code:    "INSUFFICIENT_FUNDS",
		Message: "Insufficient funds",
	}
	ErrDuplicateRequest = &DomainError{
		Kind:    KindConflict,
		Code:    "DUPLICATE_REQUEST",
		Message: "A request with this idempotency key is already in progress",
	}
	ErrIdempotencyKeyReused = &DomainError{
		Kind:    KindConflict,
		Code:    "IDEMPOTENCY_KEY_REUSED",
		Message: "Idempotency key was already used for a different operation",
	}
	ErrWalletExists = &DomainError{
		Kind:    KindConflict,
		Code:    "WALLET_EXISTS",
		Message: "User already has an active wallet in this currency",
	}
	ErrStaleWallet = &DomainError{
		Kind:    KindConflict,
		Code:    "STALE_WALLET",
		Message: "Wallet was modified concurrently",
	}
)
