/*
Package wallet provides the ledger's transaction engine.

Money moves in two phases:

Request phase (Deposit, Withdraw, Transfer):
- Validate the amount and, for transfers, reject same-wallet moves
- Resolve the idempotency key against existing transactions
- Take the key's lock, re-check, then validate the wallets and cached funds
- Persist PENDING rows and a queue_jobs record in one database transaction
- Enqueue the job and return the PENDING row(s)

Commit phase (CommitDeposit, CommitWithdraw, CommitTransfer):
- Lock the wallets in id order, then the transaction rows
- Re-check status and available balance against the locked rows
- Update balances and mark the rows COMPLETED in the same transaction
- Refresh the balance cache and drop history pages for the wallets

A failed commit is rolled back and the rows are marked FAILED outside the
transaction. The job processor decides whether to retry or give up, in which
case it calls FailPermanently.

Usage:

	svc := wallet.NewService(store, ledgerCache, locker, queue, wallet.WalletConfig{}, metrics, log)

	tx, err := svc.Deposit(ctx, wallet.OperationRequest{
	    WalletID:       walletID,
	    Amount:         decimal.RequireFromString("50"),
	    IdempotencyKey: "k1",
	})

Idempotency:

Keys resolve in the order COMPLETED, PENDING/PROCESSING, FAILED. A FAILED
attempt is retried; the new attempt takes over the key and the old rows are
tagged so their queued job can no longer commit. A key reused for another
operation type is a conflict.

Errors:

All errors carry a kind from the ledger errors package (NotFound,
InvalidState, InsufficientFunds, Conflict, Transient, Permanent).
*/
package wallet
