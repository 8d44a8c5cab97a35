package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"marketplace/internal/config"
	"marketplace/internal/db"
	"marketplace/internal/middleware"
	"marketplace/internal/models"
	"marketplace/internal/observability"
	"marketplace/internal/websocket"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/unrolled/secure"
)

type Deps struct {
	TxRunner    db.TxRunner
	Config      config.Config
	Logger      *slog.Logger
	Tasks       TaskService
	Proposals   ProposalService
	Wallet      WalletService
	Payments    PaymentService
	Withdrawals WithdrawalService
	Users       UserStore
	Roles       RoleStore
	Audit       AuditStore
	Gateways    WebhookVerifier
	// Queue is optional; without it storage faults on webhooks return 503.
	Queue   ReconcileQueue
	Hub     *websocket.Hub
	Metrics *observability.Metrics
}

type Handler struct {
	txRunner    db.TxRunner
	cfg         config.Config
	logger      *slog.Logger
	tasks       TaskService
	proposals   ProposalService
	wallet      WalletService
	payments    PaymentService
	withdrawals WithdrawalService
	users       UserStore
	roles       RoleStore
	audit       AuditStore
	gateways    WebhookVerifier
	queue       ReconcileQueue
	hub         *websocket.Hub
	metrics     *observability.Metrics
}

func New(deps Deps) *Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	hub := deps.Hub
	if hub == nil {
		hub = websocket.NewHub()
	}
	return &Handler{
		txRunner:    deps.TxRunner,
		cfg:         deps.Config,
		logger:      logger,
		tasks:       deps.Tasks,
		proposals:   deps.Proposals,
		wallet:      deps.Wallet,
		payments:    deps.Payments,
		withdrawals: deps.Withdrawals,
		users:       deps.Users,
		roles:       deps.Roles,
		audit:       deps.Audit,
		gateways:    deps.Gateways,
		queue:       deps.Queue,
		hub:         hub,
		metrics:     deps.Metrics,
	}
}

func (h *Handler) Routes() http.Handler {
	router := chi.NewRouter()
	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.RealIP)
	router.Use(chimiddleware.Logger)
	router.Use(chimiddleware.Recoverer)
	router.Use(secure.New(secure.Options{
		FrameDeny:          true,
		ContentTypeNosniff: true,
		BrowserXssFilter:   true,
		ReferrerPolicy:     "strict-origin-when-cross-origin",
		SSLRedirect:        h.cfg.IsProduction(),
		SSLProxyHeaders:    map[string]string{"X-Forwarded-Proto": "https"},
		IsDevelopment:      !h.cfg.IsProduction(),
	}).Handler)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{h.cfg.AllowedOrigins},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	if h.metrics != nil {
		router.Use(h.metrics.Middleware)
	}

	authed := middleware.Auth(h.cfg.JWTSecret)

	router.With(authed).Get("/me", h.Me)
	router.With(authed).Put("/me", h.ProvisionMe)

	router.Route("/tasks", func(r chi.Router) {
		r.Use(authed)
		r.Post("/", h.CreateTask)
		r.Get("/", h.ListTasks)
		r.Get("/{id}", h.GetTask)
		r.Put("/{id}", h.UpdateTask)
		r.Delete("/{id}", h.DeleteTask)
		r.Post("/{id}/publish", h.transition(h.tasks.Publish))
		r.Post("/{id}/start", h.transition(h.tasks.Start))
		r.Post("/{id}/complete", h.transition(h.tasks.MarkComplete))
		r.Post("/{id}/approve", h.transition(h.tasks.Approve))
		r.Post("/{id}/settle", h.SettleTask)
		r.Post("/{id}/cancel", h.transition(h.tasks.Cancel))
		r.Post("/{id}/dispute", h.transition(h.tasks.Dispute))
		r.Post("/{id}/proposals", h.SubmitProposal)
		r.Get("/{id}/proposals", h.ListProposals)
		r.Post("/{id}/proposals/{proposalID}/accept", h.AcceptProposal)
	})

	router.Route("/wallet", func(r chi.Router) {
		r.Use(authed)
		r.Get("/balance", h.GetBalance)
		r.Get("/entries", h.ListEntries)
		r.Post("/withdrawals", h.Withdraw)
	})

	router.With(authed).Post("/payments/intents", h.CreateIntent)
	router.With(authed).Get("/payments/intents/{reference}", h.GetIntent)
	router.With(httprate.Limit(h.webhookRateLimit(), time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			respondError(w, http.StatusTooManyRequests, "rate limit exceeded")
		}),
	)).Post("/payments/webhooks/{provider}", h.PaymentWebhook)

	router.With(authed).Get("/ws/balances", h.WSBalances)

	router.Route("/admin", func(r chi.Router) {
		r.Use(authed)
		r.Use(middleware.RequireRole(h.roles, models.RoleAdmin))
		r.Get("/ledger/audit", h.LedgerAudit)
		r.Post("/withdrawals/{id}/complete", h.CompleteWithdrawal)
		r.Post("/withdrawals/{id}/fail", h.FailWithdrawal)
		r.Post("/payments/{reference}/refund", h.RefundDeposit)
		r.Post("/roles/grant", h.GrantRole)
		r.Get("/audit/{entityType}/{entityID}", h.ListAuditLogs)
	})

	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	router.Method(http.MethodGet, "/metrics", h.metrics.Handler())
	return router
}

func (h *Handler) webhookRateLimit() int {
	if h.cfg.WebhookRateLimit <= 0 {
		return 120
	}
	return h.cfg.WebhookRateLimit
}
