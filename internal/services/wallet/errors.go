package wallet

import (
	"errors"

	errs "ledger/internal/errors"
	"ledger/internal/repositories"
)

// storeError maps repository errors onto domain errors. Anything it does not
// recognise is a transient infrastructure failure.
func storeError(err error, message string) error {
	var de *errs.DomainError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &de):
		return err
	case errors.Is(err, repositories.ErrWalletNotFound):
		return errs.ErrWalletNotFound
	case errors.Is(err, repositories.ErrTransactionNotFound):
		return errs.ErrTransactionNotFound
	case errors.Is(err, repositories.ErrBalanceConstraint):
		return errs.ErrInsufficientFunds.Wrap(err)
	case errors.Is(err, repositories.ErrVersionMismatch):
		return errs.ErrStaleWallet.Wrap(err)
	default:
		return errs.Transient(err, message)
	}
}

func resultLabel(err error) string {
	if err == nil {
		return "success"
	}
	return errs.KindOf(err).String()
}
