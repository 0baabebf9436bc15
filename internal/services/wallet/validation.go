package wallet

import (
	"strings"

	errs "ledger/internal/errors"
	"ledger/internal/models"
	"ledger/internal/utils/pagination"

	"github.com/shopspring/decimal"
)

func hasScale(d decimal.Decimal) bool {
	return d.Equal(d.Truncate(AmountScale))
}

func (s *service) validateAmount(amount decimal.Decimal) error {
	if amount.LessThan(s.config.MinAmount) || !hasScale(amount) {
		return errs.ErrInvalidAmount
	}
	return nil
}

func (s *service) validateInitialBalance(amount decimal.Decimal) error {
	if amount.IsNegative() || amount.GreaterThan(s.config.MaxInitialBalance) || !hasScale(amount) {
		return errs.InvalidState("Initial balance must be between 0 and %s with at most %d decimal places",
			s.config.MaxInitialBalance.String(), AmountScale)
	}
	return nil
}

func (s *service) normalizeCurrency(currency string) (string, error) {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		return s.config.DefaultCurrency, nil
	}
	if len(currency) < 3 || len(currency) > 10 {
		return "", errs.InvalidState("Currency must be 3 to 10 characters")
	}
	for _, r := range currency {
		if r < 'A' || r > 'Z' {
			return "", errs.InvalidState("Currency must contain letters only")
		}
	}
	return currency, nil
}

func normalizeHistoryQuery(q HistoryQuery) (HistoryQuery, error) {
	if q.Page == 0 {
		q.Page = pagination.DefaultPage
	}
	if q.Limit == 0 {
		q.Limit = pagination.DefaultLimit
	}
	if q.Page < 1 {
		return q, errs.InvalidState("Page must be at least 1")
	}
	if q.Limit < 1 || q.Limit > pagination.MaxLimit {
		return q, errs.InvalidState("Limit must be between 1 and %d", pagination.MaxLimit)
	}
	if q.Type != "" && !q.Type.Valid() {
		return q, errs.InvalidState("Unknown transaction type %q", q.Type)
	}
	if q.Status != "" && !q.Status.Valid() {
		return q, errs.InvalidState("Unknown transaction status %q", q.Status)
	}
	return q, nil
}

func optionalKey(key string) *string {
	if key == "" {
		return nil
	}
	k := key
	return &k
}

func payloadTransactionIDs(p models.JobPayload) []string {
	if p.OutgoingTransactionID != "" {
		return []string{p.OutgoingTransactionID, p.IncomingTransactionID}
	}
	return []string{p.TransactionID}
}
