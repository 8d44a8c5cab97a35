package handlers

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"marketplace/internal/auth"
	"marketplace/internal/config"
	"marketplace/internal/gateway"
	"marketplace/internal/models"
	"marketplace/internal/services"
	"marketplace/internal/store"

	"github.com/jmoiron/sqlx"
)

const testSecret = "secret"

type fakeTxRunner struct {
	withTxFn func(ctx context.Context, fn func(*sqlx.Tx) error) error
}

func (f fakeTxRunner) WithTx(ctx context.Context, fn func(*sqlx.Tx) error) error {
	if f.withTxFn != nil {
		return f.withTxFn(ctx, fn)
	}
	return fn(nil)
}

type stubTasks struct {
	createFn func(ctx context.Context, actor services.Actor, in services.TaskInput) (models.Task, error)
	getFn    func(ctx context.Context, taskID string) (models.Task, error)
	updateFn func(ctx context.Context, actor services.Actor, taskID string, in services.TaskInput) (models.Task, error)
	listFn   func(ctx context.Context, actor services.Actor, role models.Role, limit, offset int) ([]models.Task, error)
	moveFn   func(op string, actor services.Actor, taskID string) (models.Task, error)
	assignFn func(ctx context.Context, actor services.Actor, taskID, proposalID string) (services.Assignment, error)
	settleFn func(ctx context.Context, actor services.Actor, taskID string) (services.SettleResult, error)
	deleteFn func(ctx context.Context, actor services.Actor, taskID string) error
}

func (s stubTasks) Create(ctx context.Context, actor services.Actor, in services.TaskInput) (models.Task, error) {
	if s.createFn == nil {
		return models.Task{}, nil
	}
	return s.createFn(ctx, actor, in)
}

func (s stubTasks) Get(ctx context.Context, taskID string) (models.Task, error) {
	if s.getFn == nil {
		return models.Task{ID: taskID}, nil
	}
	return s.getFn(ctx, taskID)
}

func (s stubTasks) Update(ctx context.Context, actor services.Actor, taskID string, in services.TaskInput) (models.Task, error) {
	if s.updateFn == nil {
		return models.Task{ID: taskID}, nil
	}
	return s.updateFn(ctx, actor, taskID, in)
}

func (s stubTasks) List(ctx context.Context, actor services.Actor, role models.Role, limit, offset int) ([]models.Task, error) {
	if s.listFn == nil {
		return nil, nil
	}
	return s.listFn(ctx, actor, role, limit, offset)
}

func (s stubTasks) move(op string, actor services.Actor, taskID string) (models.Task, error) {
	if s.moveFn == nil {
		return models.Task{ID: taskID}, nil
	}
	return s.moveFn(op, actor, taskID)
}

func (s stubTasks) Publish(_ context.Context, actor services.Actor, taskID string) (models.Task, error) {
	return s.move("publish", actor, taskID)
}

func (s stubTasks) Start(_ context.Context, actor services.Actor, taskID string) (models.Task, error) {
	return s.move("start", actor, taskID)
}

func (s stubTasks) MarkComplete(_ context.Context, actor services.Actor, taskID string) (models.Task, error) {
	return s.move("complete", actor, taskID)
}

func (s stubTasks) Approve(_ context.Context, actor services.Actor, taskID string) (models.Task, error) {
	return s.move("approve", actor, taskID)
}

func (s stubTasks) Cancel(_ context.Context, actor services.Actor, taskID string) (models.Task, error) {
	return s.move("cancel", actor, taskID)
}

func (s stubTasks) Dispute(_ context.Context, actor services.Actor, taskID string) (models.Task, error) {
	return s.move("dispute", actor, taskID)
}

func (s stubTasks) AssignFreelancer(ctx context.Context, actor services.Actor, taskID, proposalID string) (services.Assignment, error) {
	if s.assignFn == nil {
		return services.Assignment{}, nil
	}
	return s.assignFn(ctx, actor, taskID, proposalID)
}

func (s stubTasks) Settle(ctx context.Context, actor services.Actor, taskID string) (services.SettleResult, error) {
	if s.settleFn == nil {
		return services.SettleResult{}, nil
	}
	return s.settleFn(ctx, actor, taskID)
}

func (s stubTasks) Delete(ctx context.Context, actor services.Actor, taskID string) error {
	if s.deleteFn == nil {
		return nil
	}
	return s.deleteFn(ctx, actor, taskID)
}

type stubProposals struct {
	submitFn func(ctx context.Context, actor services.Actor, in services.ProposalInput) (models.Proposal, error)
	listFn   func(ctx context.Context, actor services.Actor, taskID string) ([]models.Proposal, error)
}

func (s stubProposals) Submit(ctx context.Context, actor services.Actor, in services.ProposalInput) (models.Proposal, error) {
	if s.submitFn == nil {
		return models.Proposal{}, nil
	}
	return s.submitFn(ctx, actor, in)
}

func (s stubProposals) List(ctx context.Context, actor services.Actor, taskID string) ([]models.Proposal, error) {
	if s.listFn == nil {
		return nil, nil
	}
	return s.listFn(ctx, actor, taskID)
}

type stubWallet struct {
	openFn       func(ctx context.Context, actor services.Actor) (models.Account, error)
	accountForFn func(ctx context.Context, userID string) (models.Account, error)
	entriesFn    func(ctx context.Context, actor services.Actor, limit, offset int) ([]models.LedgerEntry, error)
	auditAllFn   func(ctx context.Context) ([]services.AuditReport, error)
}

func (s stubWallet) OpenAccount(ctx context.Context, actor services.Actor) (models.Account, error) {
	if s.openFn == nil {
		return models.Account{}, nil
	}
	return s.openFn(ctx, actor)
}

func (s stubWallet) AccountFor(ctx context.Context, userID string) (models.Account, error) {
	if s.accountForFn == nil {
		return models.Account{}, services.ErrAccountNotFound
	}
	return s.accountForFn(ctx, userID)
}

func (s stubWallet) ListEntries(ctx context.Context, actor services.Actor, limit, offset int) ([]models.LedgerEntry, error) {
	if s.entriesFn == nil {
		return nil, nil
	}
	return s.entriesFn(ctx, actor, limit, offset)
}

func (s stubWallet) AuditAll(ctx context.Context) ([]services.AuditReport, error) {
	if s.auditAllFn == nil {
		return nil, nil
	}
	return s.auditAllFn(ctx)
}

type stubPayments struct {
	createFn    func(ctx context.Context, actor services.Actor, amount int64, method string, metadata map[string]string) (models.PaymentIntent, error)
	reconcileFn func(ctx context.Context, reference string, outcome services.PaymentOutcome) (services.ReconcileResult, error)
	refundFn    func(ctx context.Context, actor services.Actor, reference string) (services.ReconcileResult, error)
	getFn       func(ctx context.Context, actor services.Actor, reference string) (models.PaymentIntent, error)
}

func (s stubPayments) CreateIntent(ctx context.Context, actor services.Actor, amount int64, method string, metadata map[string]string) (models.PaymentIntent, error) {
	if s.createFn == nil {
		return models.PaymentIntent{}, nil
	}
	return s.createFn(ctx, actor, amount, method, metadata)
}

func (s stubPayments) Reconcile(ctx context.Context, reference string, outcome services.PaymentOutcome) (services.ReconcileResult, error) {
	if s.reconcileFn == nil {
		return services.ReconcileResult{}, nil
	}
	return s.reconcileFn(ctx, reference, outcome)
}

func (s stubPayments) RefundDeposit(ctx context.Context, actor services.Actor, reference string) (services.ReconcileResult, error) {
	if s.refundFn == nil {
		return services.ReconcileResult{}, nil
	}
	return s.refundFn(ctx, actor, reference)
}

func (s stubPayments) GetIntent(ctx context.Context, actor services.Actor, reference string) (models.PaymentIntent, error) {
	if s.getFn == nil {
		return models.PaymentIntent{}, nil
	}
	return s.getFn(ctx, actor, reference)
}

type stubWithdrawals struct {
	withdrawFn func(ctx context.Context, actor services.Actor, amount int64, method string) (services.WithdrawalResult, error)
	completeFn func(ctx context.Context, actor services.Actor, withdrawalID string) (models.Withdrawal, error)
	failFn     func(ctx context.Context, actor services.Actor, withdrawalID string) (services.WithdrawalResult, error)
}

func (s stubWithdrawals) Withdraw(ctx context.Context, actor services.Actor, amount int64, method string) (services.WithdrawalResult, error) {
	if s.withdrawFn == nil {
		return services.WithdrawalResult{}, nil
	}
	return s.withdrawFn(ctx, actor, amount, method)
}

func (s stubWithdrawals) Complete(ctx context.Context, actor services.Actor, withdrawalID string) (models.Withdrawal, error) {
	if s.completeFn == nil {
		return models.Withdrawal{}, nil
	}
	return s.completeFn(ctx, actor, withdrawalID)
}

func (s stubWithdrawals) Fail(ctx context.Context, actor services.Actor, withdrawalID string) (services.WithdrawalResult, error) {
	if s.failFn == nil {
		return services.WithdrawalResult{}, nil
	}
	return s.failFn(ctx, actor, withdrawalID)
}

type stubUsers struct {
	upsertFn func(ctx context.Context, tx store.Execer, id, email, displayName string) error
	getFn    func(ctx context.Context, userID string) (models.User, error)
}

func (s stubUsers) Upsert(ctx context.Context, tx store.Execer, id, email, displayName string) error {
	if s.upsertFn == nil {
		return nil
	}
	return s.upsertFn(ctx, tx, id, email, displayName)
}

func (s stubUsers) GetByID(ctx context.Context, userID string) (models.User, error) {
	if s.getFn == nil {
		return models.User{ID: userID}, nil
	}
	return s.getFn(ctx, userID)
}

// stubRoles grants whatever is in granted; a nil map grants nothing.
type stubRoles struct {
	granted map[string][]string
	exists  map[string]bool
	grantFn func(ctx context.Context, tx store.Execer, userID, role string) error
	err     error
}

func (s stubRoles) UserExists(_ context.Context, userID string) (bool, error) {
	return s.exists[userID], s.err
}

func (s stubRoles) HasRole(_ context.Context, userID, role string) (bool, error) {
	for _, r := range s.granted[userID] {
		if r == role {
			return true, s.err
		}
	}
	return false, s.err
}

func (s stubRoles) Roles(_ context.Context, userID string) ([]string, error) {
	return s.granted[userID], s.err
}

func (s stubRoles) Grant(ctx context.Context, tx store.Execer, userID, role string) error {
	if s.grantFn == nil {
		return nil
	}
	return s.grantFn(ctx, tx, userID, role)
}

type stubAudit struct {
	logFn  func(ctx context.Context, tx store.Execer, actorID, action, entityType, entityID, data string) error
	listFn func(ctx context.Context, entityType, entityID string, limit, offset int) ([]store.AuditLog, error)
}

func (s stubAudit) Log(ctx context.Context, tx store.Execer, actorID, action, entityType, entityID, data string) error {
	if s.logFn == nil {
		return nil
	}
	return s.logFn(ctx, tx, actorID, action, entityType, entityID, data)
}

func (s stubAudit) ListByEntity(ctx context.Context, entityType, entityID string, limit, offset int) ([]store.AuditLog, error) {
	if s.listFn == nil {
		return nil, nil
	}
	return s.listFn(ctx, entityType, entityID, limit, offset)
}

type stubVerifier struct {
	verifyFn func(provider string, header http.Header, body []byte) (gateway.Event, error)
}

func (s stubVerifier) Verify(provider string, header http.Header, body []byte) (gateway.Event, error) {
	if s.verifyFn == nil {
		return gateway.Event{}, gateway.ErrUnknownProvider
	}
	return s.verifyFn(provider, header, body)
}

type stubQueue struct {
	enqueueFn func(ctx context.Context, reference string, outcome services.PaymentOutcome) error
}

func (s stubQueue) EnqueueReconcile(ctx context.Context, reference string, outcome services.PaymentOutcome) error {
	if s.enqueueFn == nil {
		return nil
	}
	return s.enqueueFn(ctx, reference, outcome)
}

// newTestHandler fills every dependency the caller left empty with a stub.
func newTestHandler(deps Deps) *Handler {
	deps.Config = config.Config{
		AppEnv:           "test",
		Port:             "0",
		JWTSecret:        testSecret,
		TokenTTL:         time.Minute,
		AllowedOrigins:   "*",
		WebhookRateLimit: 1000,
	}
	deps.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	if deps.TxRunner == nil {
		deps.TxRunner = fakeTxRunner{}
	}
	if deps.Tasks == nil {
		deps.Tasks = stubTasks{}
	}
	if deps.Proposals == nil {
		deps.Proposals = stubProposals{}
	}
	if deps.Wallet == nil {
		deps.Wallet = stubWallet{}
	}
	if deps.Payments == nil {
		deps.Payments = stubPayments{}
	}
	if deps.Withdrawals == nil {
		deps.Withdrawals = stubWithdrawals{}
	}
	if deps.Users == nil {
		deps.Users = stubUsers{}
	}
	if deps.Roles == nil {
		deps.Roles = stubRoles{}
	}
	if deps.Audit == nil {
		deps.Audit = stubAudit{}
	}
	if deps.Gateways == nil {
		deps.Gateways = stubVerifier{}
	}
	return New(deps)
}

// serve sends the request through the full router. An empty userID sends
// it unauthenticated.
func serve(t *testing.T, h *Handler, method, path, body, userID string, roles ...models.Role) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if userID != "" {
		token, err := auth.GenerateToken(testSecret, userID, roles, time.Minute)
		if err != nil {
			t.Fatalf("failed to generate token: %v", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	h.Routes().ServeHTTP(rr, req)
	return rr
}
