package app

import (
	"log/slog"

	"marketplace/internal/config"
	"marketplace/internal/db"
	"marketplace/internal/gateway"
	"marketplace/internal/services"
	"marketplace/internal/store"

	"github.com/hibiken/asynq"
	"github.com/jmoiron/sqlx"
)

// Core is the set of stores and services shared by the API server and the
// background worker.
type Core struct {
	TxRunner    db.TxRunner
	Users       *store.UserStore
	Roles       *store.RoleStore
	Audit       *store.AuditStore
	Wallet      *services.WalletService
	Proposals   *services.ProposalRegistry
	Tasks       *services.TaskService
	Payments    *services.PaymentService
	Withdrawals *services.WithdrawalService
}

func NewCore(cfg config.Config, database *sqlx.DB, hub services.BalanceHub, metrics services.Recorder, logger *slog.Logger) *Core {
	txRunner := db.NewTxRunner(database)
	accounts := store.NewAccountStore(database)
	ledger := store.NewLedgerStore(database)
	tasks := store.NewTaskStore(database)
	proposals := store.NewProposalStore(database)
	intents := store.NewPaymentIntentStore(database)
	withdrawals := store.NewWithdrawalStore(database)
	users := store.NewUserStore(database)
	roles := store.NewRoleStore(database)
	audit := store.NewAuditStore(database)

	wallet := services.NewWalletService(txRunner, accounts, ledger, roles, hub, metrics, logger)
	registry := services.NewProposalRegistry(txRunner, tasks, proposals, audit, logger)
	engine := services.NewSettlementEngine(wallet, accounts, proposals)
	fees := services.FeePolicy{PlatformRate: cfg.PlatformFeeRate, TransactionRate: cfg.TransactionFeeRate}

	return &Core{
		TxRunner:    txRunner,
		Users:       users,
		Roles:       roles,
		Audit:       audit,
		Wallet:      wallet,
		Proposals:   registry,
		Tasks:       services.NewTaskService(txRunner, tasks, registry, engine, wallet, audit, fees, metrics, logger),
		Payments:    services.NewPaymentService(txRunner, intents, wallet, audit, metrics, logger),
		Withdrawals: services.NewWithdrawalService(txRunner, withdrawals, accounts, wallet, audit, cfg.MinWithdrawal, logger),
	}
}

// NewGateways registers a verifier for every provider with a configured
// secret. Callbacks for other providers are rejected as unknown.
func NewGateways(cfg config.Config) *gateway.Registry {
	registry := gateway.NewRegistry()
	if cfg.StripeWebhookSecret != "" {
		registry.Register(gateway.ProviderStripe, gateway.NewStripeVerifier(cfg.StripeWebhookSecret, cfg.WebhookTolerance))
	}
	if cfg.MpesaWebhookSecret != "" {
		registry.Register(gateway.ProviderMpesa, gateway.NewMpesaVerifier(cfg.MpesaWebhookSecret))
	}
	return registry
}

func RedisOpts(cfg config.Config) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{Addr: cfg.RedisAddr}
}
