package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"ledger/internal/config"
	errs "ledger/internal/errors"
	"ledger/internal/models"
	"ledger/internal/queue"
	"ledger/internal/repositories/cache"
	"ledger/internal/repositories/memory"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	svc   Service
	store *memory.Store
	queue *queue.RedisQueue
	mr    *miniredis.Miniredis
}

type failingQueue struct {
	JobQueue
	err error
}

func (q *failingQueue) Enqueue(ctx context.Context, job *queue.Job) error {
	return q.err
}

func newTestEnv(t *testing.T) *testEnv {
	return newTestEnvWithQueue(t, nil)
}

func newTestEnvWithQueue(t *testing.T, wrap func(JobQueue) JobQueue) *testEnv {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	ledgerCache := cache.NewLedgerCache(cache.NewCacheService(client, time.Hour), config.LedgerConfig{
		BalanceCacheTTL: time.Hour,
		HistoryCacheTTL: 5 * time.Minute,
		UserWalletsTTL:  10 * time.Minute,
	})
	q := queue.NewRedisQueue(client, config.QueueConfig{
		Name:          "wallet-transactions",
		MaxAttempts:   3,
		BackoffBase:   2 * time.Second,
		VisibilityTTL: time.Minute,
	})
	var jobQueue JobQueue = q
	if wrap != nil {
		jobQueue = wrap(q)
	}
	store := memory.New()

	svc := NewService(store, ledgerCache, cache.NewIdempotencyLocker(client, 300*time.Second), jobQueue,
		WalletConfig{}, nil, nil)
	return &testEnv{svc: svc, store: store, queue: q, mr: mr}
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func (e *testEnv) wallet(t *testing.T, userID, balance string) *models.Wallet {
	t.Helper()
	initial := dec(balance)
	w, err := e.svc.CreateWallet(context.Background(), CreateWalletRequest{UserID: userID, InitialBalance: &initial})
	require.NoError(t, err)
	return w
}

func (e *testEnv) balance(t *testing.T, walletID string) decimal.Decimal {
	t.Helper()
	w, ok := e.store.Wallet(walletID)
	require.True(t, ok)
	return w.Balance
}

// reserveAll pops every ready job without waiting on an empty queue.
func (e *testEnv) reserveAll(t *testing.T) []*queue.Job {
	t.Helper()
	ctx := context.Background()
	var jobs []*queue.Job
	for {
		stats, err := e.queue.Stats(ctx)
		require.NoError(t, err)
		if stats.Ready == 0 {
			return jobs
		}
		job, err := e.queue.Reserve(ctx, time.Second)
		require.NoError(t, err)
		jobs = append(jobs, job)
	}
}

func (e *testEnv) commit(ctx context.Context, job *queue.Job) error {
	var payload models.JobPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return err
	}
	switch models.JobType(job.Type) {
	case models.JobTypeDeposit:
		return e.svc.CommitDeposit(ctx, payload)
	case models.JobTypeWithdraw:
		return e.svc.CommitWithdraw(ctx, payload)
	case models.JobTypeTransfer:
		return e.svc.CommitTransfer(ctx, payload)
	}
	return fmt.Errorf("unknown job type %q", job.Type)
}

// drain commits every queued job in order and returns the commit errors.
func (e *testEnv) drain(t *testing.T) []error {
	t.Helper()
	ctx := context.Background()
	var out []error
	for _, job := range e.reserveAll(t) {
		out = append(out, e.commit(ctx, job))
		require.NoError(t, e.queue.Ack(ctx, job))
	}
	return out
}

func (e *testEnv) transaction(t *testing.T, id string) *models.Transaction {
	t.Helper()
	tx, err := e.svc.GetTransaction(context.Background(), id)
	require.NoError(t, err)
	return tx
}

func TestService_WithdrawCommits(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	w := env.wallet(t, "u1", "100")

	tx, err := env.svc.Withdraw(ctx, OperationRequest{WalletID: w.ID, Amount: dec("30")})
	require.NoError(t, err)
	assert.Equal(t, models.TransactionStatusPending, tx.Status)
	assert.Equal(t, models.TransactionTypeWithdrawal, tx.Type)
	assert.Equal(t, w.ID, *tx.FromWalletID)
	assert.Nil(t, tx.ToWalletID)
	assert.Nil(t, tx.IdempotencyKey)

	for _, err := range env.drain(t) {
		require.NoError(t, err)
	}

	assert.Equal(t, "70.00000000", env.balance(t, w.ID).StringFixed(8))
	committed := env.transaction(t, tx.TransactionID)
	assert.Equal(t, models.TransactionStatusCompleted, committed.Status)
	assert.NotNil(t, committed.ProcessedAt)

	cached, err := env.mr.Get("wallet_balance:" + w.ID)
	require.NoError(t, err)
	assert.Equal(t, "70.00000000", cached)

	stored, _ := env.store.Wallet(w.ID)
	assert.Equal(t, int64(2), stored.Version)
}

func TestService_WithdrawInsufficientCachedFunds(t *testing.T) {
	env := newTestEnv(t)
	w := env.wallet(t, "u1", "100")

	_, err := env.svc.Withdraw(context.Background(), OperationRequest{WalletID: w.ID, Amount: dec("150")})
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrInsufficientFunds)
	assert.Contains(t, err.Error(), "Available: 100")
	assert.Contains(t, err.Error(), "Requested: 150")

	assert.Empty(t, env.store.AllTransactions())
	assert.Empty(t, env.store.AllQueueJobs())
}

func TestService_ConcurrentDepositsShareOneOutcome(t *testing.T) {
	env := newTestEnv(t)
	w := env.wallet(t, "u1", "0")

	const callers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results []*models.Transaction
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tx, err := env.svc.Deposit(context.Background(), OperationRequest{
				WalletID:       w.ID,
				Amount:         dec("50"),
				IdempotencyKey: "k1",
			})
			if err != nil {
				assert.True(t, errs.Is(err, errs.KindConflict), "unexpected error: %v", err)
				return
			}
			mu.Lock()
			results = append(results, tx)
			mu.Unlock()
		}()
	}
	wg.Wait()

	require.NotEmpty(t, results)
	for _, tx := range results {
		assert.Equal(t, results[0].TransactionID, tx.TransactionID)
	}

	rows := env.store.AllTransactions()
	require.Len(t, rows, 1)
	assert.Equal(t, "k1", *rows[0].IdempotencyKey)

	for _, err := range env.drain(t) {
		require.NoError(t, err)
	}
	assert.True(t, env.balance(t, w.ID).Equal(dec("50")))
}

func TestService_TransferCommitsBothLegs(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.wallet(t, "alice", "40")
	b := env.wallet(t, "bob", "0")

	result, err := env.svc.Transfer(ctx, TransferRequest{
		FromWalletID:   a.ID,
		ToWalletID:     b.ID,
		Amount:         dec("40"),
		IdempotencyKey: "k2",
	})
	require.NoError(t, err)
	require.NotNil(t, result.Outgoing)
	require.NotNil(t, result.Incoming)
	assert.Equal(t, result.Incoming.TransactionID, *result.Outgoing.ReferenceTransactionID)
	assert.Equal(t, result.Outgoing.TransactionID, *result.Incoming.ReferenceTransactionID)
	assert.Equal(t, "k2", *result.Outgoing.IdempotencyKey)
	assert.Nil(t, result.Incoming.IdempotencyKey)

	for _, err := range env.drain(t) {
		require.NoError(t, err)
	}

	assert.True(t, env.balance(t, a.ID).IsZero())
	assert.True(t, env.balance(t, b.ID).Equal(dec("40")))

	out := env.transaction(t, result.Outgoing.TransactionID)
	in := env.transaction(t, result.Incoming.TransactionID)
	assert.Equal(t, models.TransactionTypeTransferOut, out.Type)
	assert.Equal(t, models.TransactionTypeTransferIn, in.Type)
	assert.Equal(t, models.TransactionStatusCompleted, out.Status)
	assert.Equal(t, models.TransactionStatusCompleted, in.Status)

	replay, err := env.svc.Transfer(ctx, TransferRequest{
		FromWalletID:   a.ID,
		ToWalletID:     b.ID,
		Amount:         dec("40"),
		IdempotencyKey: "k2",
	})
	require.NoError(t, err)
	assert.Equal(t, out.TransactionID, replay.Outgoing.TransactionID)
	assert.Equal(t, in.TransactionID, replay.Incoming.TransactionID)
	assert.Empty(t, env.reserveAll(t), "replay must not enqueue work")
}

func TestService_RequestValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	w := env.wallet(t, "u1", "100")
	other := env.wallet(t, "u2", "100")

	tests := []struct {
		name string
		call func() error
		want *errs.DomainError
	}{
		{
			name: "same wallet transfer",
			call: func() error {
				_, err := env.svc.Transfer(ctx, TransferRequest{FromWalletID: w.ID, ToWalletID: w.ID, Amount: dec("10")})
				return err
			},
			want: errs.ErrSameWallet,
		},
		{
			name: "amount below minimum",
			call: func() error {
				_, err := env.svc.Deposit(ctx, OperationRequest{WalletID: w.ID, Amount: dec("0.001")})
				return err
			},
			want: errs.ErrInvalidAmount,
		},
		{
			name: "zero amount",
			call: func() error {
				_, err := env.svc.Withdraw(ctx, OperationRequest{WalletID: w.ID, Amount: decimal.Zero})
				return err
			},
			want: errs.ErrInvalidAmount,
		},
		{
			name: "too many decimal places",
			call: func() error {
				_, err := env.svc.Deposit(ctx, OperationRequest{WalletID: w.ID, Amount: dec("1.123456789")})
				return err
			},
			want: errs.ErrInvalidAmount,
		},
		{
			name: "missing wallet",
			call: func() error {
				_, err := env.svc.Deposit(ctx, OperationRequest{WalletID: "missing", Amount: dec("1")})
				return err
			},
			want: errs.ErrWalletNotFound,
		},
		{
			name: "missing transfer destination",
			call: func() error {
				_, err := env.svc.Transfer(ctx, TransferRequest{FromWalletID: w.ID, ToWalletID: "missing", Amount: dec("1")})
				return err
			},
			want: errs.ErrWalletNotFound,
		},
		{
			name: "transfer over cached balance",
			call: func() error {
				_, err := env.svc.Transfer(ctx, TransferRequest{FromWalletID: w.ID, ToWalletID: other.ID, Amount: dec("100.01")})
				return err
			},
			want: errs.ErrInsufficientFunds,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.call()
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	assert.Empty(t, env.store.AllTransactions())
}

func TestService_InactiveWallet(t *testing.T) {
	env := newTestEnv(t)
	w := env.wallet(t, "u1", "100")
	env.store.SetWalletStatus(w.ID, models.WalletStatusSuspended)

	_, err := env.svc.Deposit(context.Background(), OperationRequest{WalletID: w.ID, Amount: dec("5")})
	assert.ErrorIs(t, err, errs.ErrWalletNotActive)
	assert.Equal(t, 400, errs.HTTPStatus(errs.KindOf(err)))

	wallets, err := env.svc.GetUserWallets(context.Background(), "u1")
	require.NoError(t, err)
	assert.Empty(t, wallets)
}

func TestService_IdempotencyKeyReusedForOtherOperation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	w := env.wallet(t, "u1", "100")

	_, err := env.svc.Deposit(ctx, OperationRequest{WalletID: w.ID, Amount: dec("5"), IdempotencyKey: "shared"})
	require.NoError(t, err)

	_, err = env.svc.Withdraw(ctx, OperationRequest{WalletID: w.ID, Amount: dec("5"), IdempotencyKey: "shared"})
	assert.ErrorIs(t, err, errs.ErrIdempotencyKeyReused)
}

func TestService_IdempotencyKeyBoundToRequest(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.wallet(t, "user-a", "100")
	b := env.wallet(t, "user-b", "100")

	first, err := env.svc.Deposit(ctx, OperationRequest{WalletID: a.ID, Amount: dec("50"), IdempotencyKey: "k1"})
	require.NoError(t, err)
	_, err = env.svc.Transfer(ctx, TransferRequest{FromWalletID: a.ID, ToWalletID: b.ID, Amount: dec("10"), IdempotencyKey: "t1"})
	require.NoError(t, err)

	tests := []struct {
		name string
		call func() error
	}{
		{
			name: "deposit into another wallet",
			call: func() error {
				_, err := env.svc.Deposit(ctx, OperationRequest{WalletID: b.ID, Amount: dec("75"), IdempotencyKey: "k1"})
				return err
			},
		},
		{
			name: "deposit of another amount",
			call: func() error {
				_, err := env.svc.Deposit(ctx, OperationRequest{WalletID: a.ID, Amount: dec("51"), IdempotencyKey: "k1"})
				return err
			},
		},
		{
			name: "transfer in the other direction",
			call: func() error {
				_, err := env.svc.Transfer(ctx, TransferRequest{FromWalletID: b.ID, ToWalletID: a.ID, Amount: dec("10"), IdempotencyKey: "t1"})
				return err
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.call(), errs.ErrIdempotencyKeyReused)
		})
	}

	replayed, err := env.svc.Deposit(ctx, OperationRequest{WalletID: a.ID, Amount: dec("50.00"), IdempotencyKey: "k1"})
	require.NoError(t, err)
	assert.Equal(t, first.TransactionID, replayed.TransactionID)

	jobs := env.reserveAll(t)
	assert.Len(t, jobs, 2)
}

func TestService_InFlightKeyIsConflict(t *testing.T) {
	env := newTestEnv(t)
	w := env.wallet(t, "u1", "100")
	require.NoError(t, env.mr.Set("idempotency_lock:busy", "someone-else"))

	_, err := env.svc.Deposit(context.Background(), OperationRequest{WalletID: w.ID, Amount: dec("5"), IdempotencyKey: "busy"})
	assert.ErrorIs(t, err, errs.ErrDuplicateRequest)
	assert.Equal(t, 409, errs.HTTPStatus(errs.KindOf(err)))
	assert.Equal(t, "someone-else", func() string { v, _ := env.mr.Get("idempotency_lock:busy"); return v }())
}

func TestService_LockReleasedAfterRequest(t *testing.T) {
	env := newTestEnv(t)
	w := env.wallet(t, "u1", "100")

	_, err := env.svc.Withdraw(context.Background(), OperationRequest{WalletID: w.ID, Amount: dec("500"), IdempotencyKey: "k"})
	require.Error(t, err)
	assert.False(t, env.mr.Exists("idempotency_lock:k"))

	_, err = env.svc.Withdraw(context.Background(), OperationRequest{WalletID: w.ID, Amount: dec("5"), IdempotencyKey: "k"})
	require.NoError(t, err)
	assert.False(t, env.mr.Exists("idempotency_lock:k"))
}

func TestService_FailedAttemptIsRetriedOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	w := env.wallet(t, "u1", "10")

	first, err := env.svc.Deposit(ctx, OperationRequest{WalletID: w.ID, Amount: dec("5"), IdempotencyKey: "retry"})
	require.NoError(t, err)
	staleJobs := env.reserveAll(t)
	require.Len(t, staleJobs, 1)

	// The first attempt fails at commit while the wallet is suspended.
	env.store.SetWalletStatus(w.ID, models.WalletStatusSuspended)
	err = env.commit(ctx, staleJobs[0])
	assert.ErrorIs(t, err, errs.ErrWalletNotActive)
	assert.Equal(t, models.TransactionStatusFailed, env.transaction(t, first.TransactionID).Status)
	assert.True(t, env.balance(t, w.ID).Equal(dec("10")))

	env.store.SetWalletStatus(w.ID, models.WalletStatusActive)
	second, err := env.svc.Deposit(ctx, OperationRequest{WalletID: w.ID, Amount: dec("5"), IdempotencyKey: "retry"})
	require.NoError(t, err)
	assert.NotEqual(t, first.TransactionID, second.TransactionID)

	old := env.transaction(t, first.TransactionID)
	assert.Nil(t, old.IdempotencyKey)
	assert.Equal(t, "retry", old.Metadata[supersededKeyField])

	// A late retry of the superseded job must not move money.
	err = env.commit(ctx, staleJobs[0])
	assert.True(t, errs.Is(err, errs.KindInvalidState))
	assert.False(t, errs.Retryable(err))

	for _, err := range env.drain(t) {
		require.NoError(t, err)
	}
	assert.True(t, env.balance(t, w.ID).Equal(dec("15")))
	assert.Equal(t, models.TransactionStatusCompleted, env.transaction(t, second.TransactionID).Status)
}

func TestService_CommitIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	w := env.wallet(t, "u1", "0")

	_, err := env.svc.Deposit(ctx, OperationRequest{WalletID: w.ID, Amount: dec("25")})
	require.NoError(t, err)
	jobs := env.reserveAll(t)
	require.Len(t, jobs, 1)

	require.NoError(t, env.commit(ctx, jobs[0]))
	require.NoError(t, env.commit(ctx, jobs[0]))
	assert.True(t, env.balance(t, w.ID).Equal(dec("25")))
}

func TestService_CommitRechecksFundsUnderLock(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.wallet(t, "alice", "100")
	b := env.wallet(t, "bob", "0")

	// Both pass the cached fast-fail; only one fits at commit.
	_, err := env.svc.Withdraw(ctx, OperationRequest{WalletID: a.ID, Amount: dec("70")})
	require.NoError(t, err)
	transfer, err := env.svc.Transfer(ctx, TransferRequest{FromWalletID: a.ID, ToWalletID: b.ID, Amount: dec("70")})
	require.NoError(t, err)

	errsOut := env.drain(t)
	require.Len(t, errsOut, 2)
	require.NoError(t, errsOut[0])
	assert.ErrorIs(t, errsOut[1], errs.ErrInsufficientFunds)

	assert.True(t, env.balance(t, a.ID).Equal(dec("30")))
	assert.True(t, env.balance(t, b.ID).IsZero())
	assert.Equal(t, models.TransactionStatusFailed, env.transaction(t, transfer.Outgoing.TransactionID).Status)
	assert.Equal(t, models.TransactionStatusFailed, env.transaction(t, transfer.Incoming.TransactionID).Status)

	balance, err := env.svc.GetWalletBalance(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, balance.Equal(dec("30")))
}

func TestService_ConcurrentCommitsConserveBalance(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.wallet(t, "alice", "100")
	b := env.wallet(t, "bob", "100")

	for i := 0; i < 5; i++ {
		_, err := env.svc.Transfer(ctx, TransferRequest{FromWalletID: a.ID, ToWalletID: b.ID, Amount: dec("30")})
		require.NoError(t, err)
		_, err = env.svc.Transfer(ctx, TransferRequest{FromWalletID: b.ID, ToWalletID: a.ID, Amount: dec("30")})
		require.NoError(t, err)
		_, err = env.svc.Withdraw(ctx, OperationRequest{WalletID: a.ID, Amount: dec("15")})
		require.NoError(t, err)
	}
	jobs := env.reserveAll(t)
	require.Len(t, jobs, 15)

	var wg sync.WaitGroup
	for _, job := range jobs {
		wg.Add(1)
		go func(job *queue.Job) {
			defer wg.Done()
			err := env.commit(ctx, job)
			if err != nil {
				assert.ErrorIs(t, err, errs.ErrInsufficientFunds)
			}
		}(job)
	}
	wg.Wait()

	var withdrawn decimal.Decimal
	for _, tx := range env.store.AllTransactions() {
		if tx.Status == models.TransactionStatusCompleted && tx.Type == models.TransactionTypeWithdrawal {
			withdrawn = withdrawn.Add(tx.Amount)
		}
	}
	total := env.balance(t, a.ID).Add(env.balance(t, b.ID))
	assert.True(t, total.Equal(dec("200").Sub(withdrawn)), "total %s withdrawn %s", total, withdrawn)
	assert.False(t, env.balance(t, a.ID).IsNegative())
	assert.False(t, env.balance(t, b.ID).IsNegative())

	for _, tx := range env.store.AllTransactions() {
		if tx.ReferenceTransactionID == nil {
			continue
		}
		pair := env.transaction(t, *tx.ReferenceTransactionID)
		assert.Equal(t, tx.Status, pair.Status, "transfer legs must share an outcome")
	}
}

func TestService_EnqueueFailureCompensates(t *testing.T) {
	env := newTestEnvWithQueue(t, func(q JobQueue) JobQueue {
		return &failingQueue{JobQueue: q, err: errors.New("redis down")}
	})
	w := env.wallet(t, "u1", "100")

	_, err := env.svc.Deposit(context.Background(), OperationRequest{WalletID: w.ID, Amount: dec("5"), IdempotencyKey: "k"})
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindTransient))

	txs := env.store.AllTransactions()
	require.Len(t, txs, 1)
	assert.Equal(t, models.TransactionStatusFailed, txs[0].Status)
	jobs := env.store.AllQueueJobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, models.QueueJobStatusDead, jobs[0].Status)
	assert.False(t, env.mr.Exists("idempotency_lock:k"))
}

func TestService_FailedCompensationLeavesJobForJanitor(t *testing.T) {
	tests := []struct {
		name string
		op   string
	}{
		{"dead-letter fails", "queue_jobs.mark_dead"},
		{"marking rows failed fails", "transactions.mark_failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnvWithQueue(t, func(q JobQueue) JobQueue {
				return &failingQueue{JobQueue: q, err: errors.New("redis down")}
			})
			w := env.wallet(t, "u1", "100")
			env.store.FailOn(tt.op, errors.New("db down"))

			_, err := env.svc.Deposit(context.Background(), OperationRequest{WalletID: w.ID, Amount: dec("5")})
			require.Error(t, err)

			txs := env.store.AllTransactions()
			require.Len(t, txs, 1)
			assert.Equal(t, models.TransactionStatusPending, txs[0].Status)
			jobs := env.store.AllQueueJobs()
			require.Len(t, jobs, 1)
			assert.Equal(t, models.QueueJobStatusPending, jobs[0].Status)
		})
	}
}

func TestService_PersistFailureLeavesNothingBehind(t *testing.T) {
	env := newTestEnv(t)
	w := env.wallet(t, "u1", "100")
	env.store.FailOn("queue_jobs.create", errors.New("db down"))

	_, err := env.svc.Deposit(context.Background(), OperationRequest{WalletID: w.ID, Amount: dec("5")})
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindTransient))
	assert.Equal(t, "internal server error", errs.PublicMessage(err))

	assert.Empty(t, env.store.AllTransactions())
	assert.Empty(t, env.reserveAll(t))
}

func TestService_FailPermanently(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.wallet(t, "alice", "50")
	b := env.wallet(t, "bob", "0")

	result, err := env.svc.Transfer(ctx, TransferRequest{FromWalletID: a.ID, ToWalletID: b.ID, Amount: dec("10")})
	require.NoError(t, err)

	require.NoError(t, env.svc.FailPermanently(ctx, models.JobPayload{
		OutgoingTransactionID: result.Outgoing.TransactionID,
		IncomingTransactionID: result.Incoming.TransactionID,
		FromWalletID:          a.ID,
		ToWalletID:            b.ID,
		Amount:                dec("10"),
	}, "max attempts exceeded"))

	out := env.transaction(t, result.Outgoing.TransactionID)
	assert.Equal(t, models.TransactionStatusFailed, out.Status)
	assert.Equal(t, "max attempts exceeded", out.FailureReason)
	assert.Equal(t, models.TransactionStatusFailed, env.transaction(t, result.Incoming.TransactionID).Status)
}

func TestService_CreateWallet(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	w, err := env.svc.CreateWallet(ctx, CreateWalletRequest{UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, "USD", w.Currency)
	assert.True(t, w.Balance.IsZero())
	assert.Equal(t, models.WalletStatusActive, w.Status)

	cached, err := env.mr.Get("wallet_balance:" + w.ID)
	require.NoError(t, err)
	assert.Equal(t, "0.00000000", cached)

	_, err = env.svc.CreateWallet(ctx, CreateWalletRequest{UserID: "u1", Currency: "usd"})
	assert.ErrorIs(t, err, errs.ErrWalletExists)

	eur, err := env.svc.CreateWallet(ctx, CreateWalletRequest{UserID: "u1", Currency: "eur"})
	require.NoError(t, err)
	assert.Equal(t, "EUR", eur.Currency)

	tooMuch := dec("1000000.01")
	_, err = env.svc.CreateWallet(ctx, CreateWalletRequest{UserID: "u2", InitialBalance: &tooMuch})
	assert.True(t, errs.Is(err, errs.KindInvalidState))

	_, err = env.svc.CreateWallet(ctx, CreateWalletRequest{UserID: "u2", Currency: "U$"})
	assert.True(t, errs.Is(err, errs.KindInvalidState))

	_, err = env.svc.CreateWallet(ctx, CreateWalletRequest{UserID: " "})
	assert.True(t, errs.Is(err, errs.KindInvalidState))

	wallets, err := env.svc.GetUserWallets(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, wallets, 2)
	assert.True(t, env.mr.Exists("user_wallets:u1"))
}

func TestService_GetWalletBalanceFallsBackToStore(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	w := env.wallet(t, "u1", "12.5")
	env.mr.Del("wallet_balance:" + w.ID)

	balance, err := env.svc.GetWalletBalance(ctx, w.ID)
	require.NoError(t, err)
	assert.True(t, balance.Equal(dec("12.5")))
	assert.True(t, env.mr.Exists("wallet_balance:"+w.ID))

	_, err = env.svc.GetWalletBalance(ctx, "missing")
	assert.ErrorIs(t, err, errs.ErrWalletNotFound)
}

func TestService_StaleBalanceNeverOverwritesCommit(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	w := env.wallet(t, "u1", "100")
	env.mr.Del("wallet_balance:" + w.ID)

	// A cache-miss read loaded the wallet before the deposit committed.
	stale, ok := env.store.Wallet(w.ID)
	require.True(t, ok)

	_, err := env.svc.Deposit(ctx, OperationRequest{WalletID: w.ID, Amount: dec("50")})
	require.NoError(t, err)
	for _, err := range env.drain(t) {
		require.NoError(t, err)
	}

	env.svc.(*service).cacheBalance(ctx, &stale)

	balance, err := env.svc.GetWalletBalance(ctx, w.ID)
	require.NoError(t, err)
	assert.True(t, balance.Equal(dec("150")), "cached %s", balance)
	assert.True(t, balance.Equal(env.balance(t, w.ID)))
}

func TestService_TransactionHistory(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.wallet(t, "alice", "100")
	b := env.wallet(t, "bob", "0")

	_, err := env.svc.Deposit(ctx, OperationRequest{WalletID: a.ID, Amount: dec("10")})
	require.NoError(t, err)
	_, err = env.svc.Transfer(ctx, TransferRequest{FromWalletID: a.ID, ToWalletID: b.ID, Amount: dec("20")})
	require.NoError(t, err)
	_, err = env.svc.Withdraw(ctx, OperationRequest{WalletID: a.ID, Amount: dec("5")})
	require.NoError(t, err)

	page, err := env.svc.GetTransactionHistory(ctx, HistoryQuery{WalletID: a.ID, Limit: 2})
	require.NoError(t, err)
	require.Len(t, page.Transactions, 2)
	assert.Equal(t, models.TransactionTypeWithdrawal, page.Transactions[0].Type)
	assert.Equal(t, models.TransactionTypeTransferOut, page.Transactions[1].Type)
	assert.Equal(t, int64(3), page.Meta.Total)
	assert.Equal(t, 2, page.Meta.TotalPages)
	assert.True(t, page.Meta.HasNext)

	key := cache.HistoryKey{WalletID: a.ID, Page: 1, Limit: 2}.String()
	assert.True(t, env.mr.Exists(key))

	for _, err := range env.drain(t) {
		require.NoError(t, err)
	}
	assert.False(t, env.mr.Exists(key), "commit drops cached history pages")

	page, err = env.svc.GetTransactionHistory(ctx, HistoryQuery{
		WalletID: b.ID,
		Type:     models.TransactionTypeTransferIn,
		Status:   models.TransactionStatusCompleted,
	})
	require.NoError(t, err)
	require.Len(t, page.Transactions, 1)
	assert.Equal(t, 20, page.Meta.Limit)

	_, err = env.svc.GetTransactionHistory(ctx, HistoryQuery{WalletID: a.ID, Limit: 101})
	assert.True(t, errs.Is(err, errs.KindInvalidState))
	_, err = env.svc.GetTransactionHistory(ctx, HistoryQuery{WalletID: a.ID, Type: "BOGUS"})
	assert.True(t, errs.Is(err, errs.KindInvalidState))
	_, err = env.svc.GetTransactionHistory(ctx, HistoryQuery{WalletID: "missing"})
	assert.ErrorIs(t, err, errs.ErrWalletNotFound)
}
