package cache

import (
	"context"
	"fmt"
	"time"

	"ledger/internal/config"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

const (
	balanceKeyPrefix     = "wallet_balance:"
	balanceVersionPrefix = "wallet_balance_version:"
	historyKeyPrefix     = "transactions:"
	userWalletsKeyPrefix = "user_wallets:"
)

// HistoryKey identifies one cached page of a wallet's history.
type HistoryKey struct {
	WalletID string
	Page     int
	Limit    int
	Type     string
	Status   string
}

func (k HistoryKey) String() string {
	return fmt.Sprintf("%s%s:%d:%d:%s:%s", historyKeyPrefix, k.WalletID, k.Page, k.Limit, orAll(k.Type), orAll(k.Status))
}

func orAll(s string) string {
	if s == "" {
		return "all"
	}
	return s
}

func BalanceKey(walletID string) string {
	return balanceKeyPrefix + walletID
}

func BalanceVersionKey(walletID string) string {
	return balanceVersionPrefix + walletID
}

// setBalanceScript writes the balance only when no newer wallet version
// has been cached. Both keys share the TTL so they expire together.
var setBalanceScript = redis.NewScript(`
local current = redis.call("get", KEYS[2])
if current and tonumber(current) > tonumber(ARGV[2]) then
	return 0
end
redis.call("set", KEYS[1], ARGV[1], "PX", ARGV[3])
redis.call("set", KEYS[2], ARGV[2], "PX", ARGV[3])
return 1
`)

func HistoryPattern(walletID string) string {
	return historyKeyPrefix + walletID + ":*"
}

func UserWalletsKey(userID string) string {
	return userWalletsKeyPrefix + userID
}

// LedgerCache is the read-side cache for balances, history pages and user
// wallet lists. It is never authoritative.
type LedgerCache struct {
	svc            *CacheService
	balanceTTL     time.Duration
	historyTTL     time.Duration
	userWalletsTTL time.Duration
}

func NewLedgerCache(svc *CacheService, cfg config.LedgerConfig) *LedgerCache {
	return &LedgerCache{
		svc:            svc,
		balanceTTL:     cfg.BalanceCacheTTL,
		historyTTL:     cfg.HistoryCacheTTL,
		userWalletsTTL: cfg.UserWalletsTTL,
	}
}

func (c *LedgerCache) GetBalance(ctx context.Context, walletID string) (decimal.Decimal, bool, error) {
	val, found, err := c.svc.GetString(ctx, BalanceKey(walletID))
	if err != nil || !found {
		return decimal.Zero, false, err
	}
	balance, err := decimal.NewFromString(val)
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("invalid cached balance %q: %w", val, err)
	}
	return balance, true, nil
}

// SetBalance caches the balance read at the given wallet version. A write
// carrying an older version than the cached one is dropped and reports
// false.
func (c *LedgerCache) SetBalance(ctx context.Context, walletID string, balance decimal.Decimal, version int64) (bool, error) {
	keys := []string{BalanceKey(walletID), BalanceVersionKey(walletID)}
	written, err := setBalanceScript.Run(ctx, c.svc.client, keys,
		balance.StringFixed(8), version, c.balanceTTL.Milliseconds()).Int()
	if err != nil {
		return false, err
	}
	return written == 1, nil
}

func (c *LedgerCache) GetHistory(ctx context.Context, key HistoryKey, dest interface{}) (bool, error) {
	return c.svc.Get(ctx, key.String(), dest)
}

func (c *LedgerCache) SetHistory(ctx context.Context, key HistoryKey, page interface{}) error {
	return c.svc.SetWithTTL(ctx, key.String(), page, c.historyTTL)
}

func (c *LedgerCache) InvalidateHistory(ctx context.Context, walletID string) error {
	_, err := c.svc.DeletePattern(ctx, HistoryPattern(walletID))
	return err
}

func (c *LedgerCache) GetUserWallets(ctx context.Context, userID string, dest interface{}) (bool, error) {
	return c.svc.Get(ctx, UserWalletsKey(userID), dest)
}

func (c *LedgerCache) SetUserWallets(ctx context.Context, userID string, wallets interface{}) error {
	return c.svc.SetWithTTL(ctx, UserWalletsKey(userID), wallets, c.userWalletsTTL)
}

func (c *LedgerCache) InvalidateUserWallets(ctx context.Context, userID string) error {
	return c.svc.Delete(ctx, UserWalletsKey(userID))
}
