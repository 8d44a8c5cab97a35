package services

import (
	"context"
	"errors"
	"sort"

	"marketplace/internal/models"
	"marketplace/internal/store"
)

type Split struct {
	TotalDue         int64 `json:"total_due"`
	FreelancerAmount int64 `json:"freelancer_amount"`
	PlatformAmount   int64 `json:"platform_amount"`
}

// ComputeSplit derives the settlement legs from the task's fees. The client
// pays budget plus both fees and the platform keeps whatever the freelancer
// does not receive.
func ComputeSplit(task models.Task) (Split, error) {
	if task.Budget <= 0 || task.PlatformFee < 0 || task.TransactionFee < 0 {
		return Split{}, ErrInvalidAmount
	}
	split := Split{
		TotalDue:         task.Budget + task.PlatformFee + task.TransactionFee,
		FreelancerAmount: task.Budget - task.TransactionFee,
	}
	split.PlatformAmount = split.TotalDue - split.FreelancerAmount
	if split.FreelancerAmount <= 0 || split.PlatformAmount < 0 {
		return Split{}, ErrUnbalancedSettlement
	}
	if split.FreelancerAmount+split.PlatformAmount != split.TotalDue {
		return Split{}, ErrUnbalancedSettlement
	}
	return split, nil
}

type Settlement struct {
	Split   Split                `json:"split"`
	Entries []models.LedgerEntry `json:"entries"`
}

type SettlementEngine struct {
	wallet    *WalletService
	accounts  AccountStore
	proposals ProposalStore
}

func NewSettlementEngine(wallet *WalletService, accounts AccountStore, proposals ProposalStore) *SettlementEngine {
	return &SettlementEngine{wallet: wallet, accounts: accounts, proposals: proposals}
}

// settle books the client debit and both credits inside tx. Any error leaves
// the caller to roll the whole transaction back.
func (e *SettlementEngine) settle(ctx context.Context, tx store.Tx, task models.Task) (Settlement, error) {
	if task.Status != models.TaskApproved {
		return Settlement{}, &TransitionError{From: task.Status, To: models.TaskPaid}
	}
	if task.FreelancerID == nil {
		return Settlement{}, ErrSettlementIntegrity
	}
	accepted, err := e.proposals.CountAccepted(ctx, tx, task.ID)
	if err != nil {
		return Settlement{}, err
	}
	if accepted != 1 {
		return Settlement{}, ErrSettlementIntegrity
	}
	split, err := ComputeSplit(task)
	if err != nil {
		return Settlement{}, err
	}

	client, err := e.accountOf(ctx, tx, task.ClientID)
	if err != nil {
		return Settlement{}, err
	}
	freelancer, err := e.accountOf(ctx, tx, *task.FreelancerID)
	if err != nil {
		return Settlement{}, err
	}
	platform, err := e.accounts.GetSystemAccount(ctx, tx)
	if err != nil {
		return Settlement{}, mapAccountErr(err)
	}
	if err := lockAccounts(ctx, tx, e.accounts, client, freelancer, platform); err != nil {
		return Settlement{}, err
	}

	legs := []struct {
		posting Posting
		debit   bool
	}{
		{Posting{AccountID: client, Amount: split.TotalDue, Kind: models.KindTaskDebit, ReferenceID: task.ID}, true},
		{Posting{AccountID: freelancer, Amount: split.FreelancerAmount, Kind: models.KindTaskCredit, ReferenceID: task.ID}, false},
		{Posting{AccountID: platform, Amount: split.PlatformAmount, Kind: models.KindCommission, ReferenceID: task.ID}, false},
	}
	result := Settlement{Split: split}
	var net int64
	for _, leg := range legs {
		if leg.posting.Amount == 0 {
			continue
		}
		var entry models.LedgerEntry
		if leg.debit {
			entry, err = e.wallet.debit(ctx, tx, leg.posting)
		} else {
			entry, err = e.wallet.credit(ctx, tx, leg.posting)
		}
		if err != nil {
			return Settlement{}, err
		}
		net += entry.Amount
		result.Entries = append(result.Entries, entry)
	}
	if net != 0 {
		return Settlement{}, ErrUnbalancedSettlement
	}
	return result, nil
}

func (e *SettlementEngine) accountOf(ctx context.Context, tx store.Getter, userID string) (string, error) {
	account, err := e.accounts.GetByUserID(ctx, tx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", ErrAccountNotFound
		}
		return "", err
	}
	return account.ID, nil
}

// lockAccounts takes row locks in id order so concurrent settlements that
// touch the same accounts cannot deadlock.
func lockAccounts(ctx context.Context, tx store.Tx, accounts AccountStore, ids ...string) error {
	ordered := append([]string(nil), ids...)
	sort.Strings(ordered)
	var last string
	for i, id := range ordered {
		if i > 0 && id == last {
			continue
		}
		last = id
		if _, err := accounts.GetForUpdate(ctx, tx, id); err != nil {
			return mapAccountErr(err)
		}
	}
	return nil
}
