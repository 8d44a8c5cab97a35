package services

import (
	"context"

	"marketplace/internal/models"
	"marketplace/internal/store"
	"marketplace/internal/websocket"
)

type AccountStore interface {
	Create(ctx context.Context, tx store.Execer, id string, userID *string, isSystem bool) error
	GetByID(ctx context.Context, accountID string) (models.Account, error)
	GetByUserID(ctx context.Context, q store.Getter, userID string) (models.Account, error)
	GetForUpdate(ctx context.Context, tx store.Getter, accountID string) (models.Account, error)
	Credit(ctx context.Context, tx store.Getter, accountID string, amount int64) (int64, error)
	Debit(ctx context.Context, tx store.Getter, accountID string, amount int64) (int64, error)
	GetSystemAccount(ctx context.Context, q store.Getter) (string, error)
	ListIDs(ctx context.Context) ([]string, error)
}

type LedgerStore interface {
	Append(ctx context.Context, tx store.Getter, entry models.LedgerEntry) (models.LedgerEntry, error)
	LatestBalance(ctx context.Context, accountID string) (int64, error)
	ListByAccount(ctx context.Context, accountID string, limit, offset int) ([]models.LedgerEntry, error)
	History(ctx context.Context, q store.Selecter, accountID string) ([]models.LedgerEntry, error)
	ListByReference(ctx context.Context, referenceID string) ([]models.LedgerEntry, error)
}

type TaskStore interface {
	Create(ctx context.Context, tx store.Execer, task models.Task) error
	GetByID(ctx context.Context, taskID string) (models.Task, error)
	GetForUpdate(ctx context.Context, tx store.Getter, taskID string) (models.Task, error)
	Transition(ctx context.Context, tx store.Execer, t store.TaskTransition) error
	Update(ctx context.Context, tx store.Execer, task models.Task) error
	DeleteDraft(ctx context.Context, tx store.Execer, taskID string) error
	ListByClient(ctx context.Context, clientID string, limit, offset int) ([]models.Task, error)
	ListByFreelancer(ctx context.Context, freelancerID string, limit, offset int) ([]models.Task, error)
}

type ProposalStore interface {
	Create(ctx context.Context, tx store.Execer, p models.Proposal) error
	GetForUpdate(ctx context.Context, tx store.Getter, proposalID string) (models.Proposal, error)
	HasPending(ctx context.Context, tx store.Getter, taskID, freelancerID string) (bool, error)
	ListByTask(ctx context.Context, taskID string) ([]models.Proposal, error)
	MarkAccepted(ctx context.Context, tx store.Execer, proposalID string) error
	RejectPending(ctx context.Context, tx store.Selecter, taskID, keepID string) ([]models.Proposal, error)
	CountAccepted(ctx context.Context, tx store.Getter, taskID string) (int, error)
	CountByTask(ctx context.Context, tx store.Getter, taskID string) (int, error)
}

type PaymentIntentStore interface {
	Create(ctx context.Context, tx store.Execer, intent models.PaymentIntent) error
	GetByReference(ctx context.Context, reference string) (models.PaymentIntent, error)
	GetByReferenceForUpdate(ctx context.Context, tx store.Getter, reference string) (models.PaymentIntent, error)
	Resolve(ctx context.Context, tx store.Execer, intentID string, from, to models.IntentStatus) error
}

type WithdrawalStore interface {
	HasPending(ctx context.Context, tx store.Getter, accountID string) (bool, error)
	Create(ctx context.Context, tx store.Execer, w models.Withdrawal) error
	GetForUpdate(ctx context.Context, tx store.Getter, withdrawalID string) (models.Withdrawal, error)
	Resolve(ctx context.Context, tx store.Execer, withdrawalID string, to models.WithdrawalStatus) error
}

type AuditStore interface {
	Log(ctx context.Context, tx store.Execer, actorID, action, entityType, entityID, data string) error
}

// Directory confirms that a user id refers to a known identity.
type Directory interface {
	UserExists(ctx context.Context, userID string) (bool, error)
}

type BalanceHub interface {
	BroadcastBalance(userID string, update websocket.BalanceUpdate)
}

// Recorder receives domain outcomes for metrics.
type Recorder interface {
	Settlement(outcome string)
	Reconciliation(outcome string)
	DebitRejected(kind models.EntryKind)
	AuditMismatch()
}

type nopRecorder struct{}

func (nopRecorder) Settlement(string) {}
func (nopRecorder) Reconciliation(string) {}
func (nopRecorder) DebitRejected(models.EntryKind) {}
func (nopRecorder) AuditMismatch() {}

type nopHub struct{}

func (nopHub) BroadcastBalance(string, websocket.BalanceUpdate) {}
