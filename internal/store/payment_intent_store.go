package store

import (
	"context"

	"marketplace/internal/models"
)

type PaymentIntentStore struct {
	db DB
}

func NewPaymentIntentStore(db DB) *PaymentIntentStore {
	return &PaymentIntentStore{db: db}
}

const intentColumns = `id, account_id, amount, method, gateway_reference, status, metadata, created_at, resolved_at`

func (s *PaymentIntentStore) Create(ctx context.Context, tx Execer, intent models.PaymentIntent) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO payment_intents (id, account_id, amount, method, gateway_reference, status, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, intent.ID, intent.AccountID, intent.Amount, intent.Method, intent.GatewayReference, intent.Status, intent.Metadata)
	return mapErr(err)
}

func (s *PaymentIntentStore) GetByReference(ctx context.Context, reference string) (models.PaymentIntent, error) {
	var row models.PaymentIntent
	err := s.db.GetContext(ctx, &row, `SELECT `+intentColumns+` FROM payment_intents WHERE gateway_reference = $1`, reference)
	return row, mapErr(err)
}

func (s *PaymentIntentStore) GetByReferenceForUpdate(ctx context.Context, tx Getter, reference string) (models.PaymentIntent, error) {
	var row models.PaymentIntent
	err := tx.GetContext(ctx, &row, `
		SELECT `+intentColumns+`
		FROM payment_intents
		WHERE gateway_reference = $1
		FOR UPDATE
	`, reference)
	return row, mapErr(err)
}

// Resolve moves the intent from -> to; a concurrent resolution yields ErrStaleStatus.
func (s *PaymentIntentStore) Resolve(ctx context.Context, tx Execer, intentID string, from, to models.IntentStatus) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE payment_intents
		SET status = $1, resolved_at = NOW()
		WHERE id = $2 AND status = $3
	`, to, intentID, from)
	return expectOne(res, err)
}
