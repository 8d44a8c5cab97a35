package handlers

import (
	"context"
	"net/http"

	"marketplace/internal/gateway"
	"marketplace/internal/models"
	"marketplace/internal/services"
	"marketplace/internal/store"
)

type TaskService interface {
	Create(ctx context.Context, actor services.Actor, in services.TaskInput) (models.Task, error)
	Get(ctx context.Context, taskID string) (models.Task, error)
	Update(ctx context.Context, actor services.Actor, taskID string, in services.TaskInput) (models.Task, error)
	List(ctx context.Context, actor services.Actor, role models.Role, limit, offset int) ([]models.Task, error)
	Publish(ctx context.Context, actor services.Actor, taskID string) (models.Task, error)
	AssignFreelancer(ctx context.Context, actor services.Actor, taskID, proposalID string) (services.Assignment, error)
	Start(ctx context.Context, actor services.Actor, taskID string) (models.Task, error)
	MarkComplete(ctx context.Context, actor services.Actor, taskID string) (models.Task, error)
	Approve(ctx context.Context, actor services.Actor, taskID string) (models.Task, error)
	Settle(ctx context.Context, actor services.Actor, taskID string) (services.SettleResult, error)
	Cancel(ctx context.Context, actor services.Actor, taskID string) (models.Task, error)
	Dispute(ctx context.Context, actor services.Actor, taskID string) (models.Task, error)
	Delete(ctx context.Context, actor services.Actor, taskID string) error
}

type ProposalService interface {
	Submit(ctx context.Context, actor services.Actor, in services.ProposalInput) (models.Proposal, error)
	List(ctx context.Context, actor services.Actor, taskID string) ([]models.Proposal, error)
}

type WalletService interface {
	OpenAccount(ctx context.Context, actor services.Actor) (models.Account, error)
	AccountFor(ctx context.Context, userID string) (models.Account, error)
	ListEntries(ctx context.Context, actor services.Actor, limit, offset int) ([]models.LedgerEntry, error)
	AuditAll(ctx context.Context) ([]services.AuditReport, error)
}

type PaymentService interface {
	CreateIntent(ctx context.Context, actor services.Actor, amount int64, method string, metadata map[string]string) (models.PaymentIntent, error)
	Reconcile(ctx context.Context, reference string, outcome services.PaymentOutcome) (services.ReconcileResult, error)
	RefundDeposit(ctx context.Context, actor services.Actor, reference string) (services.ReconcileResult, error)
	GetIntent(ctx context.Context, actor services.Actor, reference string) (models.PaymentIntent, error)
}

type WithdrawalService interface {
	Withdraw(ctx context.Context, actor services.Actor, amount int64, method string) (services.WithdrawalResult, error)
	Complete(ctx context.Context, actor services.Actor, withdrawalID string) (models.Withdrawal, error)
	Fail(ctx context.Context, actor services.Actor, withdrawalID string) (services.WithdrawalResult, error)
}

type UserStore interface {
	Upsert(ctx context.Context, tx store.Execer, id, email, displayName string) error
	GetByID(ctx context.Context, userID string) (models.User, error)
}

type RoleStore interface {
	UserExists(ctx context.Context, userID string) (bool, error)
	HasRole(ctx context.Context, userID, role string) (bool, error)
	Roles(ctx context.Context, userID string) ([]string, error)
	Grant(ctx context.Context, tx store.Execer, userID, role string) error
}

type AuditStore interface {
	Log(ctx context.Context, tx store.Execer, actorID, action, entityType, entityID, data string) error
	ListByEntity(ctx context.Context, entityType, entityID string, limit, offset int) ([]store.AuditLog, error)
}

type WebhookVerifier interface {
	Verify(provider string, header http.Header, body []byte) (gateway.Event, error)
}

// ReconcileQueue takes callbacks that could not be applied right away.
type ReconcileQueue interface {
	EnqueueReconcile(ctx context.Context, reference string, outcome services.PaymentOutcome) error
}
