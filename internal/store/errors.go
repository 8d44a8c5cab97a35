package store

import (
	"database/sql"
	"errors"

	"marketplace/internal/db"
)

var (
	ErrNotFound            = errors.New("record not found")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrConflict            = errors.New("record conflicts with an existing one")
	// ErrStaleStatus means a conditional status update matched no row.
	ErrStaleStatus = errors.New("status changed concurrently")
)

func mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sql.ErrNoRows):
		return ErrNotFound
	case db.IsUniqueViolation(err):
		return ErrConflict
	}
	return db.Classify(err)
}

func expectOne(res sql.Result, err error) error {
	if err != nil {
		return mapErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrStaleStatus
	}
	return nil
}
