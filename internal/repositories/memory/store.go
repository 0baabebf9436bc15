// Package memory is an in-process implementation of repositories.Store.
//
// ExecuteInTransaction runs one unit of work at a time and undoes its writes
// when fn fails, which is enough to stand in for row locks in tests and
// local tooling. Records are copied in and out so callers never share state
// with the store.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"ledger/internal/models"
	"ledger/internal/repositories"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type data struct {
	mu      sync.Mutex
	txMu    sync.Mutex
	wallets map[string]models.Wallet
	txs     map[string]models.Transaction
	jobs    map[string]models.QueueJob
	nextJob uint
	failOn  map[string]error
	last    time.Time
}

// tick returns a strictly increasing timestamp so ordering by creation time
// is stable. Must be called with mu held.
func (d *data) tick() time.Time {
	now := time.Now().UTC()
	if !now.After(d.last) {
		now = d.last.Add(time.Microsecond)
	}
	d.last = now
	return now
}

// Store is the in-memory Store. The zero value is not usable; call New.
type Store struct {
	d    *data
	undo *[]func()
}

func New() *Store {
	return &Store{d: &data{
		wallets: make(map[string]models.Wallet),
		txs:     make(map[string]models.Transaction),
		jobs:    make(map[string]models.QueueJob),
		failOn:  make(map[string]error),
	}}
}

// FailOn makes the named operation (for example "transactions.create")
// return err until cleared with a nil err.
func (s *Store) FailOn(op string, err error) {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	if err == nil {
		delete(s.d.failOn, op)
		return
	}
	s.d.failOn[op] = err
}

func (s *Store) Wallets() repositories.WalletRepository           { return &walletRepo{s} }
func (s *Store) Transactions() repositories.TransactionRepository { return &transactionRepo{s} }
func (s *Store) QueueJobs() repositories.QueueJobRepository       { return &queueJobRepo{s} }

func (s *Store) ExecuteInTransaction(ctx context.Context, fn func(repositories.Store) error) error {
	if s.undo != nil {
		return fn(s)
	}
	s.d.txMu.Lock()
	defer s.d.txMu.Unlock()

	var undo []func()
	err := fn(&Store{d: s.d, undo: &undo})
	if err != nil {
		s.d.mu.Lock()
		for i := len(undo) - 1; i >= 0; i-- {
			undo[i]()
		}
		s.d.mu.Unlock()
	}
	return err
}

func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

// lock takes the data mutex and returns the injected failure for op, if any.
func (s *Store) lock(op string) error {
	s.d.mu.Lock()
	return s.d.failOn[op]
}

func (s *Store) unlock() { s.d.mu.Unlock() }

// Must be called with the data mutex held.
func (s *Store) recordWallet(id string) {
	if s.undo == nil {
		return
	}
	prev, existed := s.d.wallets[id]
	*s.undo = append(*s.undo, func() {
		if existed {
			s.d.wallets[id] = prev
		} else {
			delete(s.d.wallets, id)
		}
	})
}

func (s *Store) recordTransaction(id string) {
	if s.undo == nil {
		return
	}
	prev, existed := s.d.txs[id]
	*s.undo = append(*s.undo, func() {
		if existed {
			s.d.txs[id] = prev
		} else {
			delete(s.d.txs, id)
		}
	})
}

func (s *Store) recordJob(id string) {
	if s.undo == nil {
		return
	}
	prev, existed := s.d.jobs[id]
	*s.undo = append(*s.undo, func() {
		if existed {
			s.d.jobs[id] = prev
		} else {
			delete(s.d.jobs, id)
		}
	})
}

type walletRepo struct{ s *Store }

func (r *walletRepo) Create(ctx context.Context, wallet *models.Wallet) error {
	if err := r.s.lock("wallets.create"); err != nil {
		r.s.unlock()
		return err
	}
	defer r.s.unlock()

	if wallet.Status == models.WalletStatusActive || wallet.Status == "" {
		for _, w := range r.s.d.wallets {
			if w.UserID == wallet.UserID && w.Currency == wallet.Currency && w.IsActive() {
				return repositories.ErrDuplicateKey
			}
		}
	}
	if wallet.ID == "" {
		wallet.ID = uuid.NewString()
	}
	if wallet.Status == "" {
		wallet.Status = models.WalletStatusActive
	}
	if wallet.Version == 0 {
		wallet.Version = 1
	}
	now := r.s.d.tick()
	wallet.CreatedAt, wallet.UpdatedAt = now, now

	r.s.recordWallet(wallet.ID)
	r.s.d.wallets[wallet.ID] = *wallet
	return nil
}

func (r *walletRepo) GetByID(ctx context.Context, id string) (*models.Wallet, error) {
	if err := r.s.lock("wallets.get"); err != nil {
		r.s.unlock()
		return nil, err
	}
	defer r.s.unlock()

	w, ok := r.s.d.wallets[id]
	if !ok {
		return nil, repositories.ErrWalletNotFound
	}
	return &w, nil
}

func (r *walletRepo) GetActiveByUserAndCurrency(ctx context.Context, userID, currency string) (*models.Wallet, error) {
	r.s.lock("")
	defer r.s.unlock()

	for _, w := range r.s.d.wallets {
		if w.UserID == userID && w.Currency == currency && w.IsActive() {
			w := w
			return &w, nil
		}
	}
	return nil, repositories.ErrWalletNotFound
}

func (r *walletRepo) ListByUser(ctx context.Context, userID string) ([]models.Wallet, error) {
	r.s.lock("")
	defer r.s.unlock()

	wallets := []models.Wallet{}
	for _, w := range r.s.d.wallets {
		if w.UserID == userID && w.Status == models.WalletStatusActive {
			wallets = append(wallets, w)
		}
	}
	sort.Slice(wallets, func(i, j int) bool { return wallets[i].CreatedAt.Before(wallets[j].CreatedAt) })
	return wallets, nil
}

func (r *walletRepo) LockForUpdate(ctx context.Context, ids ...string) ([]*models.Wallet, error) {
	if err := r.s.lock("wallets.lock"); err != nil {
		r.s.unlock()
		return nil, err
	}
	defer r.s.unlock()

	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	wallets := make([]*models.Wallet, 0, len(sorted))
	for i, id := range sorted {
		if i > 0 && sorted[i-1] == id {
			continue
		}
		w, ok := r.s.d.wallets[id]
		if !ok {
			return nil, repositories.ErrWalletNotFound
		}
		wallets = append(wallets, &w)
	}
	return wallets, nil
}

func (r *walletRepo) UpdateBalance(ctx context.Context, wallet *models.Wallet, balance decimal.Decimal) error {
	if err := r.s.lock("wallets.update_balance"); err != nil {
		r.s.unlock()
		return err
	}
	defer r.s.unlock()

	current, ok := r.s.d.wallets[wallet.ID]
	if !ok || current.Version != wallet.Version {
		return repositories.ErrVersionMismatch
	}
	if balance.IsNegative() {
		return repositories.ErrBalanceConstraint
	}
	r.s.recordWallet(wallet.ID)
	current.Balance = balance
	current.Version++
	current.UpdatedAt = time.Now().UTC()
	r.s.d.wallets[wallet.ID] = current

	wallet.Balance = current.Balance
	wallet.Version = current.Version
	wallet.UpdatedAt = current.UpdatedAt
	return nil
}

// Wallet returns a copy of the stored wallet, for assertions.
func (s *Store) Wallet(id string) (models.Wallet, bool) {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	w, ok := s.d.wallets[id]
	return w, ok
}

// SetWalletStatus changes a wallet's status without going through the engine.
func (s *Store) SetWalletStatus(id string, status models.WalletStatus) {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	if w, ok := s.d.wallets[id]; ok {
		w.Status = status
		s.d.wallets[id] = w
	}
}
