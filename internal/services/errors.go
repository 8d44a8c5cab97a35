package services

import (
	"errors"
	"fmt"

	"marketplace/internal/db"
	"marketplace/internal/models"
)

var (
	ErrInvalidTransition = errors.New("invalid transition")
	ErrNotCompleted      = errors.New("task is not completed")
	ErrTaskNotOpen       = errors.New("task is not open")
	ErrSelfProposal      = errors.New("cannot submit a proposal on your own task")
	ErrDuplicateProposal = errors.New("a pending proposal already exists for this task")
	ErrProposalMismatch  = errors.New("proposal does not belong to task")
	ErrProposalClosed    = errors.New("proposal is no longer pending")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrAccountNotFound   = errors.New("account not found")
	ErrTaskNotFound      = errors.New("task not found")
	ErrProposalNotFound  = errors.New("proposal not found")
	ErrIntentNotFound    = errors.New("payment intent not found")
	ErrForbidden         = errors.New("operation not permitted for caller")
	ErrInvalidAmount     = errors.New("amount must be positive")
	ErrInvalidKind       = errors.New("unknown ledger entry kind")
	ErrNotDraft          = errors.New("only draft tasks can be deleted")
	ErrTaskLocked        = errors.New("task can only be edited while draft or open without proposals")
	ErrFeeExceedsBudget  = errors.New("transaction fee must be below the budget")
	ErrUnknownTaskRole   = errors.New("role must be client or freelancer")

	ErrUnbalancedSettlement = errors.New("settlement legs do not sum to total due")
	ErrSettlementIntegrity  = errors.New("task must have exactly one accepted proposal to settle")

	ErrUnsupportedMethod   = errors.New("unsupported payment method")
	ErrAmountOutOfRange    = errors.New("amount outside method limits")
	ErrUnknownOutcome      = errors.New("unknown payment outcome")
	ErrIntentNotRefundable = errors.New("only completed deposits can be refunded")
	ErrBelowMinimum        = errors.New("amount below minimum withdrawal")
	ErrPendingWithdrawal   = errors.New("a withdrawal is already pending")
	ErrWithdrawalNotFound  = errors.New("withdrawal not found")
	ErrWithdrawalResolved  = errors.New("withdrawal already resolved")
	ErrUnknownUser         = errors.New("unknown user")

	// ErrStorageUnavailable is the only retryable class.
	ErrStorageUnavailable = db.ErrStorageUnavailable
)

// TransitionError names the current and requested task state.
type TransitionError struct {
	From models.TaskStatus
	To   models.TaskStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid transition from %s to %s", e.From, e.To)
}

func (e *TransitionError) Is(target error) bool {
	if target == ErrInvalidTransition {
		return true
	}
	return target == ErrNotCompleted && e.To == models.TaskApproved
}

// IsRetryable reports whether the caller may retry the operation as is.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStorageUnavailable)
}
