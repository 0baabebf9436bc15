package handlers

import (
	"context"
	"strings"

	errs "ledger/internal/errors"
	"ledger/internal/models"
	"ledger/internal/services/wallet"
	"ledger/internal/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// IdempotencyKeyHeader may carry the idempotency key instead of the body.
const IdempotencyKeyHeader = "Idempotency-Key"

type WalletHandler struct {
	walletService wallet.Service
	log           *zap.Logger
}

func NewWalletHandler(walletService wallet.Service, log *zap.Logger) *WalletHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &WalletHandler{
		walletService: walletService,
		log:           log.Named("wallet_handler"),
	}
}

type createWalletInput struct {
	InitialBalance *decimal.Decimal `json:"initial_balance"`
	Currency       string           `json:"currency"`
}

type operationInput struct {
	Amount         decimal.Decimal `json:"amount"`
	Description    string          `json:"description"`
	IdempotencyKey string          `json:"idempotency_key"`
}

type transferInput struct {
	operationInput
	ToWalletID string `json:"to_wallet_id"`
}

func (h *WalletHandler) CreateWallet(c *fiber.Ctx) error {
	claims, err := utils.GetUserClaims(c)
	if err != nil {
		return utils.Unauthorized(c, "invalid claims")
	}

	var input createWalletInput
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&input); err != nil {
			return utils.BadRequest(c, "Invalid request format")
		}
	}

	w, err := h.walletService.CreateWallet(c.UserContext(), wallet.CreateWalletRequest{
		UserID:         claims.UserID,
		InitialBalance: input.InitialBalance,
		Currency:       input.Currency,
	})
	if err != nil {
		return respondError(c, h.log, err)
	}
	return utils.Created(c, fiber.Map{"wallet": w})
}

func (h *WalletHandler) ListWallets(c *fiber.Ctx) error {
	claims, err := utils.GetUserClaims(c)
	if err != nil {
		return utils.Unauthorized(c, "invalid claims")
	}

	wallets, err := h.walletService.GetUserWallets(c.UserContext(), claims.UserID)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return utils.Success(c, fiber.Map{"wallets": wallets})
}

func (h *WalletHandler) GetBalance(c *fiber.Ctx) error {
	w, err := h.ownedWallet(c)
	if err != nil {
		return respondError(c, h.log, err)
	}

	balance, err := h.walletService.GetWalletBalance(c.UserContext(), w.ID)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return utils.Success(c, fiber.Map{
		"wallet_id": w.ID,
		"balance":   balance,
		"currency":  w.Currency,
	})
}

func (h *WalletHandler) Deposit(c *fiber.Ctx) error {
	return h.operation(c, h.walletService.Deposit)
}

func (h *WalletHandler) Withdraw(c *fiber.Ctx) error {
	return h.operation(c, h.walletService.Withdraw)
}

func (h *WalletHandler) operation(c *fiber.Ctx, run func(context.Context, wallet.OperationRequest) (*models.Transaction, error)) error {
	w, err := h.ownedWallet(c)
	if err != nil {
		return respondError(c, h.log, err)
	}

	var input operationInput
	if err := c.BodyParser(&input); err != nil {
		return utils.BadRequest(c, "Invalid request format")
	}

	tx, err := run(c.UserContext(), wallet.OperationRequest{
		WalletID:       w.ID,
		Amount:         input.Amount,
		Description:    input.Description,
		IdempotencyKey: idempotencyKey(c, input.IdempotencyKey),
	})
	if err != nil {
		return respondError(c, h.log, err)
	}
	return utils.Accepted(c, fiber.Map{"transaction": tx})
}

func (h *WalletHandler) Transfer(c *fiber.Ctx) error {
	from, err := h.ownedWallet(c)
	if err != nil {
		return respondError(c, h.log, err)
	}

	var input transferInput
	if err := c.BodyParser(&input); err != nil {
		return utils.BadRequest(c, "Invalid request format")
	}
	if input.ToWalletID == "" {
		return utils.BadRequest(c, "to_wallet_id is required")
	}

	res, err := h.walletService.Transfer(c.UserContext(), wallet.TransferRequest{
		FromWalletID:   from.ID,
		ToWalletID:     input.ToWalletID,
		Amount:         input.Amount,
		Description:    input.Description,
		IdempotencyKey: idempotencyKey(c, input.IdempotencyKey),
	})
	if err != nil {
		return respondError(c, h.log, err)
	}
	return utils.Accepted(c, fiber.Map{"transfer": res})
}

func (h *WalletHandler) GetTransactions(c *fiber.Ctx) error {
	w, err := h.ownedWallet(c)
	if err != nil {
		return respondError(c, h.log, err)
	}

	pq, err := utils.GetPageQuery(c)
	if err != nil {
		return utils.BadRequest(c, err.Error())
	}

	page, err := h.walletService.GetTransactionHistory(c.UserContext(), wallet.HistoryQuery{
		WalletID: w.ID,
		Page:     pq.Page,
		Limit:    pq.Limit,
		Type:     models.TransactionType(strings.ToUpper(c.Query("type"))),
		Status:   models.TransactionStatus(strings.ToUpper(c.Query("status"))),
	})
	if err != nil {
		return respondError(c, h.log, err)
	}
	return utils.Success(c, page)
}

// ownedWallet loads the :id wallet and hides it from anyone but its owner
// or an admin.
func (h *WalletHandler) ownedWallet(c *fiber.Ctx) (*models.Wallet, error) {
	claims, err := utils.GetUserClaims(c)
	if err != nil {
		return nil, fiber.ErrUnauthorized
	}

	w, err := h.walletService.GetWallet(c.UserContext(), c.Params("id"))
	if err != nil {
		return nil, err
	}
	if w.UserID != claims.UserID && !claims.IsAdmin() {
		return nil, errs.ErrWalletNotFound
	}
	return w, nil
}

func idempotencyKey(c *fiber.Ctx, fromBody string) string {
	if key := strings.TrimSpace(fromBody); key != "" {
		return key
	}
	return strings.TrimSpace(c.Get(IdempotencyKeyHeader))
}

// respondError writes err to the client and logs it when it is a server-side
// failure.
func respondError(c *fiber.Ctx, log *zap.Logger, err error) error {
	if fe, ok := err.(*fiber.Error); ok {
		return utils.Respond(c, fe.Code, fiber.Map{"error": fe.Message})
	}
	if errs.HTTPStatus(errs.KindOf(err)) >= fiber.StatusInternalServerError {
		log.Error("request failed",
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Error(err))
	}
	return utils.Error(c, err)
}
