package store

import (
	"context"

	"marketplace/internal/models"
)

type UserStore struct {
	db DB
}

func NewUserStore(db DB) *UserStore {
	return &UserStore{db: db}
}

// Upsert records the identity carried by a token. The email is refreshed on
// every call; the display name only when one is given.
func (s *UserStore) Upsert(ctx context.Context, tx Execer, id, email, displayName string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO users (id, email, display_name)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE
		SET email = EXCLUDED.email,
		    display_name = COALESCE(NULLIF(EXCLUDED.display_name, ''), users.display_name)
	`, id, email, displayName)
	return mapErr(err)
}

func (s *UserStore) GetByID(ctx context.Context, userID string) (models.User, error) {
	var user models.User
	err := s.db.GetContext(ctx, &user, `SELECT id, email, display_name, created_at FROM users WHERE id = $1`, userID)
	if err != nil {
		return models.User{}, mapErr(err)
	}
	return user, nil
}
