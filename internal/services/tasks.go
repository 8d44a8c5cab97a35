package services

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"marketplace/internal/db"
	"marketplace/internal/models"
	"marketplace/internal/money"
	"marketplace/internal/store"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

// FeePolicy prices a task at creation time.
type FeePolicy struct {
	PlatformRate    decimal.Decimal
	TransactionRate decimal.Decimal
}

func DefaultFeePolicy() FeePolicy {
	return FeePolicy{
		PlatformRate:    decimal.RequireFromString("0.10"),
		TransactionRate: decimal.RequireFromString("0.03"),
	}
}

func (p FeePolicy) Fees(budget int64) (platformFee, transactionFee int64) {
	return money.ApplyRate(budget, p.PlatformRate), money.ApplyRate(budget, p.TransactionRate)
}

type TaskService struct {
	txRunner   db.TxRunner
	tasks      TaskStore
	proposals  *ProposalRegistry
	settlement *SettlementEngine
	wallet     *WalletService
	audit      AuditStore
	fees       FeePolicy
	metrics    Recorder
	logger     *slog.Logger
	now        func() time.Time
}

func NewTaskService(txRunner db.TxRunner, tasks TaskStore, proposals *ProposalRegistry, settlement *SettlementEngine, wallet *WalletService, audit AuditStore, fees FeePolicy, metrics Recorder, logger *slog.Logger) *TaskService {
	if metrics == nil {
		metrics = nopRecorder{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TaskService{
		txRunner:   txRunner,
		tasks:      tasks,
		proposals:  proposals,
		settlement: settlement,
		wallet:     wallet,
		audit:      audit,
		fees:       fees,
		metrics:    metrics,
		logger:     logger,
		now:        time.Now,
	}
}

func (s *TaskService) Create(ctx context.Context, actor Actor, in TaskInput) (models.Task, error) {
	if !actor.Has(models.RoleClient) {
		return models.Task{}, ErrForbidden
	}
	platformFee, transactionFee, err := s.price(in)
	if err != nil {
		return models.Task{}, err
	}
	task := models.Task{
		ID:             uuid.NewString(),
		ClientID:       actor.UserID,
		Title:          in.Title,
		Description:    in.Description,
		Category:       in.Category,
		Urgency:        in.Urgency,
		DurationDays:   in.DurationDays,
		Budget:         in.Budget,
		PlatformFee:    platformFee,
		TransactionFee: transactionFee,
		Status:         models.TaskDraft,
		CreatedAt:      s.now().UTC(),
	}
	err = s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := s.tasks.Create(ctx, tx, task); err != nil {
			return err
		}
		return s.logAudit(ctx, tx, actor, "task.create", task.ID, map[string]any{"budget": task.Budget})
	})
	if err != nil {
		return models.Task{}, err
	}
	return task, nil
}

// price validates the input and computes both fees from the budget.
func (s *TaskService) price(in TaskInput) (platformFee, transactionFee int64, err error) {
	if err := in.Validate(); err != nil {
		return 0, 0, err
	}
	platformFee, transactionFee = s.fees.Fees(in.Budget)
	if transactionFee >= in.Budget {
		return 0, 0, ErrFeeExceedsBudget
	}
	return platformFee, transactionFee, nil
}

// Update rewrites a task the client still owns outright: a draft, or an open
// task nobody has bid on. Fees are recomputed from the new budget.
func (s *TaskService) Update(ctx context.Context, actor Actor, taskID string, in TaskInput) (models.Task, error) {
	platformFee, transactionFee, err := s.price(in)
	if err != nil {
		return models.Task{}, err
	}
	var result models.Task
	err = s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		task, err := s.tasks.GetForUpdate(ctx, tx, taskID)
		if err != nil {
			return mapTaskErr(err)
		}
		if err := clientOnly(actor, task); err != nil {
			return err
		}
		switch task.Status {
		case models.TaskDraft:
		case models.TaskOpen:
			bids, err := s.proposals.proposals.CountByTask(ctx, tx, task.ID)
			if err != nil {
				return err
			}
			if bids > 0 {
				return ErrTaskLocked
			}
		default:
			return ErrTaskLocked
		}
		before := task.Budget
		task.Title = in.Title
		task.Description = in.Description
		task.Category = in.Category
		task.Urgency = in.Urgency
		task.DurationDays = in.DurationDays
		task.Budget = in.Budget
		task.PlatformFee = platformFee
		task.TransactionFee = transactionFee
		if err := s.tasks.Update(ctx, tx, task); err != nil {
			if errors.Is(err, store.ErrStaleStatus) {
				return ErrTaskLocked
			}
			return err
		}
		result = task
		return s.logAudit(ctx, tx, actor, "task.update", task.ID, map[string]any{"budget_before": before, "budget": task.Budget})
	})
	if err != nil {
		return models.Task{}, err
	}
	return result, nil
}

// List returns the caller's tasks as client or as assigned freelancer,
// newest first.
func (s *TaskService) List(ctx context.Context, actor Actor, role models.Role, limit, offset int) ([]models.Task, error) {
	switch role {
	case models.RoleClient:
		return s.tasks.ListByClient(ctx, actor.UserID, limit, offset)
	case models.RoleFreelancer:
		return s.tasks.ListByFreelancer(ctx, actor.UserID, limit, offset)
	default:
		return nil, ErrUnknownTaskRole
	}
}

func (s *TaskService) Get(ctx context.Context, taskID string) (models.Task, error) {
	task, err := s.tasks.GetByID(ctx, taskID)
	return task, mapTaskErr(err)
}

func (s *TaskService) Publish(ctx context.Context, actor Actor, taskID string) (models.Task, error) {
	return s.move(ctx, actor, taskID, models.TaskOpen, clientOnly, nil)
}

type Assignment struct {
	Task     models.Task       `json:"task"`
	Accepted models.Proposal   `json:"accepted"`
	Rejected []models.Proposal `json:"rejected"`
}

// AssignFreelancer accepts proposalID and assigns the task in one transaction.
func (s *TaskService) AssignFreelancer(ctx context.Context, actor Actor, taskID, proposalID string) (Assignment, error) {
	var result AcceptResult
	task, err := s.move(ctx, actor, taskID, models.TaskAssigned, clientOnly, func(tx *sqlx.Tx, task models.Task, change *store.TaskTransition) error {
		var err error
		result, err = s.proposals.accept(ctx, tx, task, proposalID)
		if err != nil {
			return err
		}
		now := s.now().UTC()
		change.FreelancerID = &result.Accepted.FreelancerID
		change.AssignedAt = &now
		return nil
	})
	if err != nil {
		return Assignment{}, err
	}
	return Assignment{Task: task, Accepted: result.Accepted, Rejected: result.Rejected}, nil
}

func (s *TaskService) Start(ctx context.Context, actor Actor, taskID string) (models.Task, error) {
	return s.move(ctx, actor, taskID, models.TaskInProgress, freelancerOnly, nil)
}

func (s *TaskService) MarkComplete(ctx context.Context, actor Actor, taskID string) (models.Task, error) {
	return s.move(ctx, actor, taskID, models.TaskCompleted, freelancerOnly, func(_ *sqlx.Tx, _ models.Task, change *store.TaskTransition) error {
		now := s.now().UTC()
		change.CompletedAt = &now
		return nil
	})
}

func (s *TaskService) Approve(ctx context.Context, actor Actor, taskID string) (models.Task, error) {
	return s.move(ctx, actor, taskID, models.TaskApproved, clientOnly, nil)
}

type SettleResult struct {
	Task       models.Task `json:"task"`
	Settlement Settlement  `json:"settlement"`
}

// Settle pays out an approved task. On any failure nothing is booked and the
// task stays approved.
func (s *TaskService) Settle(ctx context.Context, actor Actor, taskID string) (SettleResult, error) {
	var settlement Settlement
	task, err := s.move(ctx, actor, taskID, models.TaskPaid, clientOrAdmin, func(tx *sqlx.Tx, task models.Task, _ *store.TaskTransition) error {
		var err error
		settlement, err = s.settlement.settle(ctx, tx, task)
		return err
	})
	if err != nil {
		outcome := "error"
		switch {
		case errors.Is(err, ErrInsufficientFunds):
			outcome = "insufficient_funds"
		case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrForbidden):
			outcome = "rejected"
		}
		s.metrics.Settlement(outcome)
		s.logger.Warn("settlement failed", slog.String("task_id", taskID), slog.String("outcome", outcome), slog.Any("error", err))
		return SettleResult{}, err
	}
	s.metrics.Settlement("paid")
	s.logger.Info("task settled", slog.String("task_id", taskID), slog.Int64("total_due", settlement.Split.TotalDue))
	s.wallet.notify(ctx, settlement.Entries...)
	return SettleResult{Task: task, Settlement: settlement}, nil
}

// Cancel is allowed before work starts. Cancelling an open task closes its
// pending proposals.
func (s *TaskService) Cancel(ctx context.Context, actor Actor, taskID string) (models.Task, error) {
	return s.move(ctx, actor, taskID, models.TaskCancelled, clientOnly, func(tx *sqlx.Tx, task models.Task, _ *store.TaskTransition) error {
		if task.Status != models.TaskOpen {
			return nil
		}
		_, err := s.proposals.rejectAll(ctx, tx, task.ID)
		return err
	})
}

func (s *TaskService) Dispute(ctx context.Context, actor Actor, taskID string) (models.Task, error) {
	return s.move(ctx, actor, taskID, models.TaskDisputed, participant, nil)
}

func (s *TaskService) Delete(ctx context.Context, actor Actor, taskID string) error {
	return s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		task, err := s.tasks.GetForUpdate(ctx, tx, taskID)
		if err != nil {
			return mapTaskErr(err)
		}
		if err := clientOnly(actor, task); err != nil {
			return err
		}
		if task.Status != models.TaskDraft {
			return ErrNotDraft
		}
		if err := s.tasks.DeleteDraft(ctx, tx, task.ID); err != nil {
			if errors.Is(err, store.ErrStaleStatus) {
				return ErrNotDraft
			}
			return err
		}
		return s.logAudit(ctx, tx, actor, "task.delete", task.ID, nil)
	})
}

type guard func(actor Actor, task models.Task) error

type applyFunc func(tx *sqlx.Tx, task models.Task, change *store.TaskTransition) error

// move locks the task, authorizes the caller, checks the edge against the
// transition table, runs apply and persists the new status, all in one
// transaction.
func (s *TaskService) move(ctx context.Context, actor Actor, taskID string, to models.TaskStatus, allow guard, apply applyFunc) (models.Task, error) {
	var result models.Task
	err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		task, err := s.tasks.GetForUpdate(ctx, tx, taskID)
		if err != nil {
			return mapTaskErr(err)
		}
		if err := allow(actor, task); err != nil {
			return err
		}
		if err := checkTransition(task.Status, to); err != nil {
			return err
		}
		change := store.TaskTransition{TaskID: task.ID, From: task.Status, To: to}
		if apply != nil {
			if err := apply(tx, task, &change); err != nil {
				return err
			}
		}
		if err := s.tasks.Transition(ctx, tx, change); err != nil {
			if errors.Is(err, store.ErrStaleStatus) {
				return &TransitionError{From: task.Status, To: to}
			}
			return err
		}
		from := task.Status
		task.Status = to
		if change.FreelancerID != nil {
			task.FreelancerID = change.FreelancerID
		}
		if change.AssignedAt != nil {
			task.AssignedAt = change.AssignedAt
		}
		if change.CompletedAt != nil {
			task.CompletedAt = change.CompletedAt
		}
		result = task
		return s.logAudit(ctx, tx, actor, "task."+string(to), task.ID, map[string]any{"from": from, "to": to})
	})
	if err != nil {
		return models.Task{}, err
	}
	return result, nil
}

func (s *TaskService) logAudit(ctx context.Context, tx store.Execer, actor Actor, action, taskID string, data map[string]any) error {
	payload := []byte("{}")
	if data != nil {
		payload, _ = json.Marshal(data)
	}
	return s.audit.Log(ctx, tx, actor.UserID, action, "task", taskID, string(payload))
}

func clientOnly(actor Actor, task models.Task) error {
	if actor.UserID != task.ClientID {
		return ErrForbidden
	}
	return nil
}

func clientOrAdmin(actor Actor, task models.Task) error {
	if actor.UserID == task.ClientID || actor.Has(models.RoleAdmin) {
		return nil
	}
	return ErrForbidden
}

func freelancerOnly(actor Actor, task models.Task) error {
	if task.FreelancerID == nil || *task.FreelancerID != actor.UserID {
		return ErrForbidden
	}
	return nil
}

func participant(actor Actor, task models.Task) error {
	if clientOnly(actor, task) == nil || freelancerOnly(actor, task) == nil {
		return nil
	}
	return ErrForbidden
}
