package store

import (
	"context"

	"marketplace/internal/models"
)

type WithdrawalStore struct {
	db DB
}

func NewWithdrawalStore(db DB) *WithdrawalStore {
	return &WithdrawalStore{db: db}
}

const withdrawalColumns = `id, account_id, amount, method, status, created_at, resolved_at`

func (s *WithdrawalStore) HasPending(ctx context.Context, tx Getter, accountID string) (bool, error) {
	var exists bool
	err := tx.GetContext(ctx, &exists, `
		SELECT EXISTS (SELECT 1 FROM withdrawals WHERE account_id = $1 AND status = 'pending')
	`, accountID)
	return exists, mapErr(err)
}

func (s *WithdrawalStore) Create(ctx context.Context, tx Execer, w models.Withdrawal) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO withdrawals (id, account_id, amount, method, status)
		VALUES ($1, $2, $3, $4, $5)
	`, w.ID, w.AccountID, w.Amount, w.Method, w.Status)
	return mapErr(err)
}

func (s *WithdrawalStore) GetForUpdate(ctx context.Context, tx Getter, withdrawalID string) (models.Withdrawal, error) {
	var row models.Withdrawal
	err := tx.GetContext(ctx, &row, `SELECT `+withdrawalColumns+` FROM withdrawals WHERE id = $1 FOR UPDATE`, withdrawalID)
	return row, mapErr(err)
}

func (s *WithdrawalStore) Resolve(ctx context.Context, tx Execer, withdrawalID string, to models.WithdrawalStatus) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE withdrawals
		SET status = $1, resolved_at = NOW()
		WHERE id = $2 AND status = 'pending'
	`, to, withdrawalID)
	return expectOne(res, err)
}
