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

var withdrawalMethods = map[string]bool{
	"bank_transfer": true,
	"paypal":        true,
	"mpesa":         true,
}

type WithdrawalService struct {
	txRunner    db.TxRunner
	withdrawals WithdrawalStore
	accounts    AccountStore
	wallet      *WalletService
	audit       AuditStore
	minimum     int64
	logger      *slog.Logger
	now         func() time.Time
}

func NewWithdrawalService(txRunner db.TxRunner, withdrawals WithdrawalStore, accounts AccountStore, wallet *WalletService, audit AuditStore, minimum int64, logger *slog.Logger) *WithdrawalService {
	if logger == nil {
		logger = slog.Default()
	}
	return &WithdrawalService{
		txRunner:    txRunner,
		withdrawals: withdrawals,
		accounts:    accounts,
		wallet:      wallet,
		audit:       audit,
		minimum:     minimum,
		logger:      logger,
		now:         time.Now,
	}
}

type WithdrawalResult struct {
	Withdrawal models.Withdrawal  `json:"withdrawal"`
	Entry      models.LedgerEntry `json:"entry"`
}

// Withdraw debits the caller's wallet and opens a pending payout. Only one
// payout per account may be pending.
func (s *WithdrawalService) Withdraw(ctx context.Context, actor Actor, amount int64, method string) (WithdrawalResult, error) {
	if !withdrawalMethods[method] {
		return WithdrawalResult{}, ErrUnsupportedMethod
	}
	if amount <= 0 {
		return WithdrawalResult{}, ErrInvalidAmount
	}
	if amount < s.minimum {
		return WithdrawalResult{}, ErrBelowMinimum
	}
	account, err := s.wallet.AccountFor(ctx, actor.UserID)
	if err != nil {
		return WithdrawalResult{}, err
	}
	withdrawal := models.Withdrawal{
		ID:        uuid.NewString(),
		AccountID: account.ID,
		Amount:    amount,
		Method:    method,
		Status:    models.WithdrawalPending,
		CreatedAt: s.now().UTC(),
	}
	var result WithdrawalResult
	err = s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := s.accounts.GetForUpdate(ctx, tx, account.ID); err != nil {
			return mapAccountErr(err)
		}
		pending, err := s.withdrawals.HasPending(ctx, tx, account.ID)
		if err != nil {
			return err
		}
		if pending {
			return ErrPendingWithdrawal
		}
		if err := s.withdrawals.Create(ctx, tx, withdrawal); err != nil {
			if errors.Is(err, store.ErrConflict) {
				return ErrPendingWithdrawal
			}
			return err
		}
		entry, err := s.wallet.debit(ctx, tx, Posting{
			AccountID:   account.ID,
			Amount:      amount,
			Kind:        models.KindWithdrawal,
			ReferenceID: withdrawal.ID,
		})
		if err != nil {
			return err
		}
		result = WithdrawalResult{Withdrawal: withdrawal, Entry: entry}
		data, _ := json.Marshal(map[string]any{"amount": amount, "method": method})
		return s.audit.Log(ctx, tx, actor.UserID, "withdrawal.request", "withdrawal", withdrawal.ID, string(data))
	})
	if err != nil {
		return WithdrawalResult{}, err
	}
	s.wallet.notify(ctx, result.Entry)
	return result, nil
}

func (s *WithdrawalService) Complete(ctx context.Context, actor Actor, withdrawalID string) (models.Withdrawal, error) {
	w, _, err := s.resolve(ctx, actor, withdrawalID, models.WithdrawalPaid)
	return w, err
}

// Fail marks the payout failed and returns the money to the wallet.
func (s *WithdrawalService) Fail(ctx context.Context, actor Actor, withdrawalID string) (WithdrawalResult, error) {
	w, entry, err := s.resolve(ctx, actor, withdrawalID, models.WithdrawalFailed)
	if err != nil {
		return WithdrawalResult{}, err
	}
	s.wallet.notify(ctx, *entry)
	return WithdrawalResult{Withdrawal: w, Entry: *entry}, nil
}

func (s *WithdrawalService) resolve(ctx context.Context, actor Actor, withdrawalID string, to models.WithdrawalStatus) (models.Withdrawal, *models.LedgerEntry, error) {
	if !actor.Has(models.RoleAdmin) {
		return models.Withdrawal{}, nil, ErrForbidden
	}
	var (
		withdrawal models.Withdrawal
		refund     *models.LedgerEntry
	)
	err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		refund = nil
		w, err := s.withdrawals.GetForUpdate(ctx, tx, withdrawalID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrWithdrawalNotFound
			}
			return err
		}
		if w.Status != models.WithdrawalPending {
			return ErrWithdrawalResolved
		}
		if to == models.WithdrawalFailed {
			entry, err := s.wallet.credit(ctx, tx, Posting{
				AccountID:   w.AccountID,
				Amount:      w.Amount,
				Kind:        models.KindRefund,
				ReferenceID: w.ID,
			})
			if err != nil {
				return err
			}
			refund = &entry
		}
		if err := s.withdrawals.Resolve(ctx, tx, w.ID, to); err != nil {
			if errors.Is(err, store.ErrStaleStatus) {
				return ErrWithdrawalResolved
			}
			return err
		}
		now := s.now().UTC()
		w.Status = to
		w.ResolvedAt = &now
		withdrawal = w
		return s.audit.Log(ctx, tx, actor.UserID, "withdrawal."+string(to), "withdrawal", w.ID, "{}")
	})
	if err != nil {
		return models.Withdrawal{}, nil, err
	}
	s.logger.Info("withdrawal resolved", slog.String("withdrawal_id", withdrawalID), slog.String("status", string(to)))
	return withdrawal, refund, nil
}
