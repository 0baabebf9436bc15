package wallet

import (
	"context"
	"errors"
	"strings"
	"time"

	errs "ledger/internal/errors"
	"ledger/internal/models"
	"ledger/internal/repositories"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type service struct {
	store   repositories.Store
	cache   Cache
	locker  Locker
	queue   JobQueue
	config  WalletConfig
	metrics MetricsCollector
	log     *zap.Logger
	now     func() time.Time
}

// NewService creates a new wallet service
func NewService(
	store repositories.Store,
	cache Cache,
	locker Locker,
	queue JobQueue,
	config WalletConfig,
	metrics MetricsCollector,
	log *zap.Logger,
) Service {
	if store == nil {
		panic("store is required")
	}
	if cache == nil {
		panic("cache is required")
	}
	if locker == nil {
		panic("locker is required")
	}
	if queue == nil {
		panic("queue is required")
	}

	// Set default configuration values if not provided
	if config.DefaultCurrency == "" {
		config.DefaultCurrency = DefaultCurrency
	}
	if config.MinAmount.IsZero() {
		config.MinAmount = DefaultMinAmount
	}
	if config.MaxInitialBalance.IsZero() {
		config.MaxInitialBalance = DefaultMaxInitialBalance
	}

	// Metrics and logger are optional
	if metrics == nil {
		metrics = &NoopMetricsCollector{}
	}
	if log == nil {
		log = zap.NewNop()
	}

	return &service{
		store:   store,
		cache:   cache,
		locker:  locker,
		queue:   queue,
		config:  config,
		metrics: metrics,
		log:     log.Named("wallet"),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *service) CreateWallet(ctx context.Context, req CreateWalletRequest) (*models.Wallet, error) {
	start := time.Now()
	wallet, err := s.createWallet(ctx, req)
	s.observe(opCreateWallet, start, err)
	return wallet, err
}

func (s *service) createWallet(ctx context.Context, req CreateWalletRequest) (*models.Wallet, error) {
	if strings.TrimSpace(req.UserID) == "" {
		return nil, errs.InvalidState("User id is required")
	}
	currency, err := s.normalizeCurrency(req.Currency)
	if err != nil {
		return nil, err
	}
	initial := decimal.Zero
	if req.InitialBalance != nil {
		initial = *req.InitialBalance
	}
	if err := s.validateInitialBalance(initial); err != nil {
		return nil, err
	}

	_, err = s.store.Wallets().GetActiveByUserAndCurrency(ctx, req.UserID, currency)
	switch {
	case err == nil:
		return nil, errs.ErrWalletExists.WithMessage("User already has an active %s wallet", currency)
	case !errors.Is(err, repositories.ErrWalletNotFound):
		return nil, storeError(err, "failed to look up wallets")
	}

	wallet := &models.Wallet{
		UserID:        req.UserID,
		Balance:       initial,
		FrozenBalance: decimal.Zero,
		Status:        models.WalletStatusActive,
		Currency:      currency,
	}
	if err := s.store.Wallets().Create(ctx, wallet); err != nil {
		if errors.Is(err, repositories.ErrDuplicateKey) {
			return nil, errs.ErrWalletExists.WithMessage("User already has an active %s wallet", currency)
		}
		return nil, storeError(err, "failed to create wallet")
	}

	s.cacheBalance(ctx, wallet)
	if err := s.cache.InvalidateUserWallets(ctx, wallet.UserID); err != nil {
		s.log.Warn("failed to invalidate user wallets", zap.String("user_id", wallet.UserID), zap.Error(err))
	}

	s.log.Info("wallet created",
		zap.String("user_id", wallet.UserID),
		zap.String("wallet_id", wallet.ID),
		zap.String("currency", wallet.Currency))
	return wallet, nil
}

func (s *service) observe(operation string, start time.Time, err error) {
	s.metrics.RecordOperationDuration(operation, time.Since(start))
	s.metrics.RecordOperationResult(operation, resultLabel(err))
	if err != nil {
		s.metrics.RecordError(operation, errs.KindOf(err).String())
	}
}
