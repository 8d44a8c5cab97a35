package services

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"marketplace/internal/db"
	"marketplace/internal/models"
	"marketplace/internal/store"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

type ProposalRegistry struct {
	txRunner  db.TxRunner
	tasks     TaskStore
	proposals ProposalStore
	audit     AuditStore
	logger    *slog.Logger
	now       func() time.Time
}

func NewProposalRegistry(txRunner db.TxRunner, tasks TaskStore, proposals ProposalStore, audit AuditStore, logger *slog.Logger) *ProposalRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProposalRegistry{
		txRunner:  txRunner,
		tasks:     tasks,
		proposals: proposals,
		audit:     audit,
		logger:    logger,
		now:       time.Now,
	}
}

type AcceptResult struct {
	Accepted models.Proposal
	Rejected []models.Proposal
}

func (r *ProposalRegistry) Submit(ctx context.Context, actor Actor, in ProposalInput) (models.Proposal, error) {
	if !actor.Has(models.RoleFreelancer) {
		return models.Proposal{}, ErrForbidden
	}
	if err := in.Validate(); err != nil {
		return models.Proposal{}, err
	}
	proposal := models.Proposal{
		ID:            uuid.NewString(),
		TaskID:        in.TaskID,
		FreelancerID:  actor.UserID,
		BidAmount:     in.BidAmount,
		CoverLetter:   in.CoverLetter,
		EstimatedDays: in.EstimatedDays,
		Status:        models.ProposalPending,
		SubmittedAt:   r.now().UTC(),
	}
	err := r.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		task, err := r.tasks.GetForUpdate(ctx, tx, in.TaskID)
		if err != nil {
			return mapTaskErr(err)
		}
		if task.Status != models.TaskOpen {
			return ErrTaskNotOpen
		}
		if task.ClientID == actor.UserID {
			return ErrSelfProposal
		}
		pending, err := r.proposals.HasPending(ctx, tx, task.ID, actor.UserID)
		if err != nil {
			return err
		}
		if pending {
			return ErrDuplicateProposal
		}
		if err := r.proposals.Create(ctx, tx, proposal); err != nil {
			if errors.Is(err, store.ErrConflict) {
				return ErrDuplicateProposal
			}
			return err
		}
		data, _ := json.Marshal(map[string]any{"task_id": task.ID, "bid_amount": in.BidAmount})
		return r.audit.Log(ctx, tx, actor.UserID, "proposal.submit", "proposal", proposal.ID, string(data))
	})
	if err != nil {
		return models.Proposal{}, err
	}
	return proposal, nil
}

// List shows the task owner every proposal and anyone else only their own.
func (r *ProposalRegistry) List(ctx context.Context, actor Actor, taskID string) ([]models.Proposal, error) {
	task, err := r.tasks.GetByID(ctx, taskID)
	if err != nil {
		return nil, mapTaskErr(err)
	}
	all, err := r.proposals.ListByTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.ClientID == actor.UserID || actor.Has(models.RoleAdmin) {
		return all, nil
	}
	own := make([]models.Proposal, 0, 1)
	for _, p := range all {
		if p.FreelancerID == actor.UserID {
			own = append(own, p)
		}
	}
	return own, nil
}

// accept marks proposalID accepted and rejects its pending siblings. It must
// run in the same transaction that assigns the task.
func (r *ProposalRegistry) accept(ctx context.Context, tx store.Tx, task models.Task, proposalID string) (AcceptResult, error) {
	if task.Status != models.TaskOpen {
		return AcceptResult{}, ErrTaskNotOpen
	}
	proposal, err := r.proposals.GetForUpdate(ctx, tx, proposalID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return AcceptResult{}, ErrProposalNotFound
		}
		return AcceptResult{}, err
	}
	if proposal.TaskID != task.ID {
		return AcceptResult{}, ErrProposalMismatch
	}
	if proposal.Status != models.ProposalPending {
		return AcceptResult{}, ErrProposalClosed
	}
	if err := r.proposals.MarkAccepted(ctx, tx, proposal.ID); err != nil {
		if errors.Is(err, store.ErrStaleStatus) || errors.Is(err, store.ErrConflict) {
			return AcceptResult{}, ErrProposalClosed
		}
		return AcceptResult{}, err
	}
	rejected, err := r.proposals.RejectPending(ctx, tx, task.ID, proposal.ID)
	if err != nil {
		return AcceptResult{}, err
	}
	proposal.Status = models.ProposalAccepted
	return AcceptResult{Accepted: proposal, Rejected: rejected}, nil
}

func (r *ProposalRegistry) rejectAll(ctx context.Context, tx store.Tx, taskID string) ([]models.Proposal, error) {
	return r.proposals.RejectPending(ctx, tx, taskID, "")
}

func mapTaskErr(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return ErrTaskNotFound
	}
	return err
}
