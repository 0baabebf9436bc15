package handlers

import (
	errs "ledger/internal/errors"
	"ledger/internal/models"
	"ledger/internal/services/wallet"
	"ledger/internal/utils"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

type TransactionHandler struct {
	walletService wallet.Service
	log           *zap.Logger
}

func NewTransactionHandler(walletService wallet.Service, log *zap.Logger) *TransactionHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &TransactionHandler{
		walletService: walletService,
		log:           log.Named("transaction_handler"),
	}
}

// GetTransaction returns one transaction to a user owning either side of it.
func (h *TransactionHandler) GetTransaction(c *fiber.Ctx) error {
	claims, err := utils.GetUserClaims(c)
	if err != nil {
		return utils.Unauthorized(c, "invalid claims")
	}

	tx, err := h.walletService.GetTransaction(c.UserContext(), c.Params("transaction_id"))
	if err != nil {
		return respondError(c, h.log, err)
	}

	visible, err := h.visibleTo(c, claims, tx)
	if err != nil {
		return respondError(c, h.log, err)
	}
	if !visible {
		return respondError(c, h.log, errs.ErrTransactionNotFound)
	}
	return utils.Success(c, fiber.Map{"transaction": tx})
}

func (h *TransactionHandler) visibleTo(c *fiber.Ctx, claims *models.UserClaims, tx *models.Transaction) (bool, error) {
	if claims.IsAdmin() {
		return true, nil
	}
	for _, id := range []*string{tx.FromWalletID, tx.ToWalletID} {
		if id == nil {
			continue
		}
		w, err := h.walletService.GetWallet(c.UserContext(), *id)
		if errs.Is(err, errs.KindNotFound) {
			continue
		}
		if err != nil {
			return false, err
		}
		if w.UserID == claims.UserID {
			return true, nil
		}
	}
	return false, nil
}
