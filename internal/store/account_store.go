package store

import (
	"context"
	"database/sql"
	"errors"

	"marketplace/internal/models"
)

type AccountStore struct {
	db DB
}

func NewAccountStore(db DB) *AccountStore {
	return &AccountStore{db: db}
}

const accountColumns = `id, user_id, balance, is_system, created_at`

func (s *AccountStore) Create(ctx context.Context, tx Execer, id string, userID *string, isSystem bool) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO accounts (id, user_id, balance, is_system)
		VALUES ($1, $2, 0, $3)
	`, id, userID, isSystem)
	return mapErr(err)
}

func (s *AccountStore) GetByID(ctx context.Context, accountID string) (models.Account, error) {
	var row models.Account
	err := s.db.GetContext(ctx, &row, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, accountID)
	return row, mapErr(err)
}

// reader returns q, or the pool when the caller is outside a unit of work.
// Statements inside a transaction must pass it so they do not wait on a
// second connection.
func (s *AccountStore) reader(q Getter) Getter {
	if q == nil {
		return s.db
	}
	return q
}

func (s *AccountStore) GetByUserID(ctx context.Context, q Getter, userID string) (models.Account, error) {
	var row models.Account
	err := s.reader(q).GetContext(ctx, &row, `SELECT `+accountColumns+` FROM accounts WHERE user_id = $1`, userID)
	return row, mapErr(err)
}

func (s *AccountStore) GetForUpdate(ctx context.Context, tx Getter, accountID string) (models.Account, error) {
	var row models.Account
	err := tx.GetContext(ctx, &row, `
		SELECT `+accountColumns+`
		FROM accounts
		WHERE id = $1
		FOR UPDATE
	`, accountID)
	return row, mapErr(err)
}

// Credit adds amount to the stored balance and returns the new balance.
func (s *AccountStore) Credit(ctx context.Context, tx Getter, accountID string, amount int64) (int64, error) {
	var balance int64
	err := tx.GetContext(ctx, &balance, `
		UPDATE accounts
		SET balance = balance + $1, updated_at = NOW()
		WHERE id = $2
		RETURNING balance
	`, amount, accountID)
	return balance, mapErr(err)
}

// Debit subtracts amount only when the balance covers it, in one statement.
func (s *AccountStore) Debit(ctx context.Context, tx Getter, accountID string, amount int64) (int64, error) {
	var balance int64
	err := tx.GetContext(ctx, &balance, `
		UPDATE accounts
		SET balance = balance - $1, updated_at = NOW()
		WHERE id = $2 AND balance >= $1
		RETURNING balance
	`, amount, accountID)
	if errors.Is(err, sql.ErrNoRows) {
		var exists bool
		if err := tx.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM accounts WHERE id = $1)`, accountID); err != nil {
			return 0, mapErr(err)
		}
		if !exists {
			return 0, ErrNotFound
		}
		return 0, ErrInsufficientBalance
	}
	return balance, mapErr(err)
}

func (s *AccountStore) GetSystemAccount(ctx context.Context, q Getter) (string, error) {
	var id string
	err := s.reader(q).GetContext(ctx, &id, `
		SELECT id
		FROM accounts
		WHERE is_system = TRUE
		ORDER BY created_at
		LIMIT 1
	`)
	return id, mapErr(err)
}

func (s *AccountStore) ListIDs(ctx context.Context) ([]string, error) {
	var ids []string
	if err := s.db.SelectContext(ctx, &ids, `SELECT id FROM accounts ORDER BY id`); err != nil {
		return nil, mapErr(err)
	}
	return ids, nil
}
