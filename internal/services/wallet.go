package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"marketplace/internal/db"
	"marketplace/internal/models"
	"marketplace/internal/money"
	"marketplace/internal/store"
	"marketplace/internal/websocket"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"golang.org/x/sync/errgroup"
)

// Posting is a single balance change to book against an account.
type Posting struct {
	AccountID   string
	Amount      int64
	Kind        models.EntryKind
	ReferenceID string
}

type WalletService struct {
	txRunner  db.TxRunner
	accounts  AccountStore
	ledger    LedgerStore
	directory Directory
	hub       BalanceHub
	metrics   Recorder
	logger    *slog.Logger
}

func NewWalletService(txRunner db.TxRunner, accounts AccountStore, ledger LedgerStore, directory Directory, hub BalanceHub, metrics Recorder, logger *slog.Logger) *WalletService {
	if hub == nil {
		hub = nopHub{}
	}
	if metrics == nil {
		metrics = nopRecorder{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WalletService{
		txRunner:  txRunner,
		accounts:  accounts,
		ledger:    ledger,
		directory: directory,
		hub:       hub,
		metrics:   metrics,
		logger:    logger,
	}
}

// OpenAccount returns the caller's account, creating it on first use.
func (s *WalletService) OpenAccount(ctx context.Context, actor Actor) (models.Account, error) {
	if account, err := s.AccountFor(ctx, actor.UserID); err == nil || !errors.Is(err, ErrAccountNotFound) {
		return account, err
	}
	exists, err := s.directory.UserExists(ctx, actor.UserID)
	if err != nil {
		return models.Account{}, err
	}
	if !exists {
		return models.Account{}, ErrUnknownUser
	}
	accountID := uuid.NewString()
	userID := actor.UserID
	err = s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		return s.accounts.Create(ctx, tx, accountID, &userID, false)
	})
	if err != nil && !errors.Is(err, store.ErrConflict) {
		return models.Account{}, err
	}
	return s.AccountFor(ctx, actor.UserID)
}

func (s *WalletService) AccountFor(ctx context.Context, userID string) (models.Account, error) {
	account, err := s.accounts.GetByUserID(ctx, nil, userID)
	if errors.Is(err, store.ErrNotFound) {
		return models.Account{}, ErrAccountNotFound
	}
	return account, err
}

// GetBalance reads the latest balance snapshot recorded in the ledger.
func (s *WalletService) GetBalance(ctx context.Context, accountID string) (int64, error) {
	balance, err := s.ledger.LatestBalance(ctx, accountID)
	if errors.Is(err, store.ErrNotFound) {
		return 0, ErrAccountNotFound
	}
	return balance, err
}

func (s *WalletService) ListEntries(ctx context.Context, actor Actor, limit, offset int) ([]models.LedgerEntry, error) {
	account, err := s.AccountFor(ctx, actor.UserID)
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.ledger.ListByAccount(ctx, account.ID, limit, offset)
}

func (s *WalletService) Credit(ctx context.Context, accountID string, amount int64, kind models.EntryKind, referenceID string) (models.LedgerEntry, error) {
	var entry models.LedgerEntry
	err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		entry, err = s.credit(ctx, tx, Posting{AccountID: accountID, Amount: amount, Kind: kind, ReferenceID: referenceID})
		return err
	})
	if err != nil {
		return models.LedgerEntry{}, err
	}
	s.notify(ctx, entry)
	return entry, nil
}

func (s *WalletService) Debit(ctx context.Context, accountID string, amount int64, kind models.EntryKind, referenceID string) (models.LedgerEntry, error) {
	var entry models.LedgerEntry
	err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		entry, err = s.debit(ctx, tx, Posting{AccountID: accountID, Amount: amount, Kind: kind, ReferenceID: referenceID})
		return err
	})
	if err != nil {
		return models.LedgerEntry{}, err
	}
	s.notify(ctx, entry)
	return entry, nil
}

// credit books p inside tx. The returned entry carries the new balance.
func (s *WalletService) credit(ctx context.Context, tx store.Tx, p Posting) (models.LedgerEntry, error) {
	if err := validatePosting(p); err != nil {
		return models.LedgerEntry{}, err
	}
	balance, err := s.accounts.Credit(ctx, tx, p.AccountID, p.Amount)
	if err != nil {
		return models.LedgerEntry{}, mapAccountErr(err)
	}
	return s.append(ctx, tx, p, p.Amount, balance)
}

func (s *WalletService) debit(ctx context.Context, tx store.Tx, p Posting) (models.LedgerEntry, error) {
	if err := validatePosting(p); err != nil {
		return models.LedgerEntry{}, err
	}
	balance, err := s.accounts.Debit(ctx, tx, p.AccountID, p.Amount)
	if err != nil {
		if errors.Is(err, store.ErrInsufficientBalance) {
			s.metrics.DebitRejected(p.Kind)
		}
		return models.LedgerEntry{}, mapAccountErr(err)
	}
	return s.append(ctx, tx, p, -p.Amount, balance)
}

func (s *WalletService) append(ctx context.Context, tx store.Tx, p Posting, signed, balance int64) (models.LedgerEntry, error) {
	entry, err := s.ledger.Append(ctx, tx, models.LedgerEntry{
		ID:           uuid.NewString(),
		AccountID:    p.AccountID,
		Amount:       signed,
		Kind:         p.Kind,
		BalanceAfter: balance,
		ReferenceID:  p.ReferenceID,
	})
	if errors.Is(err, store.ErrConflict) {
		return models.LedgerEntry{}, fmt.Errorf("ledger event %s/%s already booked for %s: %w", p.ReferenceID, p.Kind, p.AccountID, err)
	}
	return entry, err
}

// notify pushes committed balances to the owners' live connections.
func (s *WalletService) notify(ctx context.Context, entries ...models.LedgerEntry) {
	for _, entry := range entries {
		account, err := s.accounts.GetByID(ctx, entry.AccountID)
		if err != nil {
			s.logger.Warn("balance notification skipped", slog.String("account_id", entry.AccountID), slog.Any("error", err))
			continue
		}
		if account.UserID == nil {
			continue
		}
		s.hub.BroadcastBalance(*account.UserID, websocket.BalanceUpdate{
			AccountID:   entry.AccountID,
			Balance:     money.FormatMinor(entry.BalanceAfter),
			Kind:        string(entry.Kind),
			ReferenceID: entry.ReferenceID,
		})
	}
}

type AuditReport struct {
	AccountID     string   `json:"account_id"`
	Entries       int      `json:"entries"`
	StoredBalance int64    `json:"stored_balance"`
	LedgerBalance int64    `json:"ledger_balance"`
	Problems      []string `json:"problems,omitempty"`
}

func (r AuditReport) OK() bool {
	return len(r.Problems) == 0
}

// AuditAccount replays the account's entries in order and checks every
// balance snapshot against the running sum and the stored balance.
func (s *WalletService) AuditAccount(ctx context.Context, accountID string) (AuditReport, error) {
	report := AuditReport{AccountID: accountID}
	err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		account, err := s.accounts.GetForUpdate(ctx, tx, accountID)
		if err != nil {
			return mapAccountErr(err)
		}
		entries, err := s.ledger.History(ctx, tx, accountID)
		if err != nil {
			return err
		}
		report = replay(account, entries)
		return nil
	})
	if err != nil {
		return AuditReport{AccountID: accountID}, err
	}
	if !report.OK() {
		s.metrics.AuditMismatch()
		s.logger.Error("ledger audit mismatch", slog.String("account_id", accountID), slog.Any("problems", report.Problems))
	}
	return report, nil
}

// AuditAll audits every account, a few at a time.
func (s *WalletService) AuditAll(ctx context.Context) ([]AuditReport, error) {
	ids, err := s.accounts.ListIDs(ctx)
	if err != nil {
		return nil, err
	}
	reports := make([]AuditReport, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			report, err := s.AuditAccount(gctx, id)
			if err != nil {
				return fmt.Errorf("audit %s: %w", id, err)
			}
			reports[i] = report
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return reports, nil
}

func replay(account models.Account, entries []models.LedgerEntry) AuditReport {
	report := AuditReport{AccountID: account.ID, Entries: len(entries), StoredBalance: account.Balance}
	var running int64
	for _, entry := range entries {
		running += entry.Amount
		if entry.BalanceAfter != running {
			report.Problems = append(report.Problems, fmt.Sprintf("entry %d: balance_after %d, replayed %d", entry.Seq, entry.BalanceAfter, running))
		}
		if running < 0 {
			report.Problems = append(report.Problems, fmt.Sprintf("entry %d: negative balance %d", entry.Seq, running))
		}
	}
	report.LedgerBalance = running
	if running != account.Balance {
		report.Problems = append(report.Problems, fmt.Sprintf("stored balance %d, ledger sum %d", account.Balance, running))
	}
	return report
}

func validatePosting(p Posting) error {
	if p.Amount <= 0 {
		return ErrInvalidAmount
	}
	if !p.Kind.Valid() {
		return ErrInvalidKind
	}
	return nil
}

func mapAccountErr(err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return ErrAccountNotFound
	case errors.Is(err, store.ErrInsufficientBalance):
		return ErrInsufficientFunds
	}
	return err
}
