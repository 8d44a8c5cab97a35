package store

import (
	"context"

	"marketplace/internal/models"
)

type ProposalStore struct {
	db DB
}

func NewProposalStore(db DB) *ProposalStore {
	return &ProposalStore{db: db}
}

const proposalColumns = `id, task_id, freelancer_id, bid_amount, cover_letter, estimated_days, status, submitted_at`

// Create relies on the partial unique index over pending (task_id, freelancer_id).
func (s *ProposalStore) Create(ctx context.Context, tx Execer, p models.Proposal) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO proposals (id, task_id, freelancer_id, bid_amount, cover_letter, estimated_days, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, p.ID, p.TaskID, p.FreelancerID, p.BidAmount, p.CoverLetter, p.EstimatedDays, p.Status)
	return mapErr(err)
}

func (s *ProposalStore) GetForUpdate(ctx context.Context, tx Getter, proposalID string) (models.Proposal, error) {
	var row models.Proposal
	err := tx.GetContext(ctx, &row, `SELECT `+proposalColumns+` FROM proposals WHERE id = $1 FOR UPDATE`, proposalID)
	return row, mapErr(err)
}

func (s *ProposalStore) HasPending(ctx context.Context, tx Getter, taskID, freelancerID string) (bool, error) {
	var exists bool
	err := tx.GetContext(ctx, &exists, `
		SELECT EXISTS (
			SELECT 1 FROM proposals
			WHERE task_id = $1 AND freelancer_id = $2 AND status = 'pending'
		)
	`, taskID, freelancerID)
	return exists, mapErr(err)
}

func (s *ProposalStore) ListByTask(ctx context.Context, taskID string) ([]models.Proposal, error) {
	var rows []models.Proposal
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+proposalColumns+`
		FROM proposals
		WHERE task_id = $1
		ORDER BY submitted_at ASC, id ASC
	`, taskID)
	if err != nil {
		return nil, mapErr(err)
	}
	return rows, nil
}

func (s *ProposalStore) MarkAccepted(ctx context.Context, tx Execer, proposalID string) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE proposals SET status = 'accepted'
		WHERE id = $1 AND status = 'pending'
	`, proposalID)
	return expectOne(res, err)
}

// RejectPending rejects every pending proposal of the task except keepID
// and returns the rows it changed.
func (s *ProposalStore) RejectPending(ctx context.Context, tx Selecter, taskID, keepID string) ([]models.Proposal, error) {
	var rows []models.Proposal
	err := tx.SelectContext(ctx, &rows, `
		UPDATE proposals SET status = 'rejected'
		WHERE task_id = $1 AND status = 'pending' AND id <> $2
		RETURNING `+proposalColumns, taskID, keepID)
	if err != nil {
		return nil, mapErr(err)
	}
	return rows, nil
}

func (s *ProposalStore) CountAccepted(ctx context.Context, tx Getter, taskID string) (int, error) {
	var count int
	err := tx.GetContext(ctx, &count, `
		SELECT COUNT(1) FROM proposals WHERE task_id = $1 AND status = 'accepted'
	`, taskID)
	return count, mapErr(err)
}

func (s *ProposalStore) CountByTask(ctx context.Context, tx Getter, taskID string) (int, error) {
	var count int
	err := tx.GetContext(ctx, &count, `SELECT COUNT(1) FROM proposals WHERE task_id = $1`, taskID)
	return count, mapErr(err)
}
