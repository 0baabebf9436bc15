// Package routes builds the fiber application and wires the API routes to
// their handlers.
package routes

import (
	"net/http"
	"time"

	"ledger/internal/config"
	"ledger/internal/handlers"
	"ledger/internal/middleware"
	"ledger/internal/models"
	"ledger/internal/services/wallet"
	"ledger/internal/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"
)

// Dependencies are the services the routes are wired to.
type Dependencies struct {
	WalletService wallet.Service
	Auth          *middleware.AuthMiddleware
	HealthChecks  map[string]handlers.Check
	Metrics       http.Handler
	Logger        *zap.Logger
}

// NewApp returns a fiber app with the common middleware installed.
func NewApp(cfg config.ServerConfig) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:      "ledger",
		ErrorHandler: utils.ErrorHandler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	})

	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: cfg.CORSOrigins,
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, " + handlers.IdempotencyKeyHeader,
		AllowMethods: "GET,POST,HEAD,OPTIONS",
	}))
	app.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))

	if cfg.RateLimit > 0 {
		app.Use("/api", limiter.New(limiter.Config{
			Max:        cfg.RateLimit,
			Expiration: time.Minute,
			KeyGenerator: func(c *fiber.Ctx) string {
				return c.IP()
			},
			LimitReached: func(c *fiber.Ctx) error {
				return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
					"error": "Too many requests. Please try again later.",
				})
			},
		}))
	}
	return app
}

// SetupRoutes configures all application routes.
func SetupRoutes(app *fiber.App, deps Dependencies) {
	healthHandler := handlers.NewHealthHandler(deps.HealthChecks, deps.Logger)
	walletHandler := handlers.NewWalletHandler(deps.WalletService, deps.Logger)
	transactionHandler := handlers.NewTransactionHandler(deps.WalletService, deps.Logger)

	// Public endpoints (no auth required)
	app.Get("/health", healthHandler.HealthCheck)
	if deps.Metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(deps.Metrics))
	}

	api := app.Group("/api/v1", deps.Auth.Handler)

	walletRead := middleware.HasPermission(models.PermissionWalletRead)
	walletWrite := middleware.HasPermission(models.PermissionWalletWrite)
	txRead := middleware.HasPermission(models.PermissionTransactionRead)
	txWrite := middleware.HasPermission(models.PermissionTransactionWrite)

	wallets := api.Group("/wallets")
	wallets.Post("/", walletWrite, walletHandler.CreateWallet)
	wallets.Get("/", walletRead, walletHandler.ListWallets)
	wallets.Get("/:id/balance", walletRead, walletHandler.GetBalance)
	wallets.Get("/:id/transactions", txRead, walletHandler.GetTransactions)
	wallets.Post("/:id/deposit", txWrite, walletHandler.Deposit)
	wallets.Post("/:id/withdraw", txWrite, walletHandler.Withdraw)
	wallets.Post("/:id/transfer", txWrite, walletHandler.Transfer)

	api.Get("/transactions/:transaction_id", txRead, transactionHandler.GetTransaction)
}
