package store

import (
	"context"

	"marketplace/internal/models"
)

type LedgerStore struct {
	db DB
}

func NewLedgerStore(db DB) *LedgerStore {
	return &LedgerStore{db: db}
}

const ledgerColumns = `seq, id, account_id, amount, kind, balance_after, reference_id, created_at`

// Append writes one entry. The (reference_id, kind, account_id) unique index
// turns a second booking of the same event into ErrConflict.
func (s *LedgerStore) Append(ctx context.Context, tx Getter, entry models.LedgerEntry) (models.LedgerEntry, error) {
	var row models.LedgerEntry
	err := tx.GetContext(ctx, &row, `
		INSERT INTO ledger_entries (id, account_id, amount, kind, balance_after, reference_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+ledgerColumns, entry.ID, entry.AccountID, entry.Amount, entry.Kind, entry.BalanceAfter, entry.ReferenceID)
	if err != nil {
		return models.LedgerEntry{}, mapErr(err)
	}
	return row, nil
}

// LatestBalance returns the newest balance_after of an existing account, or 0
// when the account has no entries yet.
func (s *LedgerStore) LatestBalance(ctx context.Context, accountID string) (int64, error) {
	var balance int64
	err := s.db.GetContext(ctx, &balance, `
		SELECT COALESCE((
			SELECT l.balance_after
			FROM ledger_entries l
			WHERE l.account_id = a.id
			ORDER BY l.seq DESC
			LIMIT 1
		), 0)
		FROM accounts a
		WHERE a.id = $1
	`, accountID)
	return balance, mapErr(err)
}

func (s *LedgerStore) ListByAccount(ctx context.Context, accountID string, limit, offset int) ([]models.LedgerEntry, error) {
	var rows []models.LedgerEntry
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+ledgerColumns+`
		FROM ledger_entries
		WHERE account_id = $1
		ORDER BY seq DESC
		LIMIT $2 OFFSET $3
	`, accountID, limit, offset)
	if err != nil {
		return nil, mapErr(err)
	}
	return rows, nil
}

// History returns every entry of the account in creation order.
func (s *LedgerStore) History(ctx context.Context, q Selecter, accountID string) ([]models.LedgerEntry, error) {
	var rows []models.LedgerEntry
	err := q.SelectContext(ctx, &rows, `
		SELECT `+ledgerColumns+`
		FROM ledger_entries
		WHERE account_id = $1
		ORDER BY seq ASC
	`, accountID)
	if err != nil {
		return nil, mapErr(err)
	}
	return rows, nil
}

func (s *LedgerStore) ListByReference(ctx context.Context, referenceID string) ([]models.LedgerEntry, error) {
	var rows []models.LedgerEntry
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+ledgerColumns+`
		FROM ledger_entries
		WHERE reference_id = $1
		ORDER BY seq ASC
	`, referenceID)
	if err != nil {
		return nil, mapErr(err)
	}
	return rows, nil
}
