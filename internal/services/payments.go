package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"marketplace/internal/db"
	"marketplace/internal/models"
	"marketplace/internal/money"
	"marketplace/internal/store"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// PaymentOutcome is the verified result reported by a gateway callback.
type PaymentOutcome string

const (
	OutcomeSucceeded PaymentOutcome = "succeeded"
	OutcomeFailed    PaymentOutcome = "failed"
)

type methodLimit struct {
	min int64
	max int64
}

var depositLimits = map[string]methodLimit{
	"stripe": {min: 500, max: 1_000_000},
	"mpesa":  {min: 10_000, max: 7_000_000},
	"paypal": {min: 1_000, max: 1_000_000},
}

type PaymentService struct {
	txRunner db.TxRunner
	intents  PaymentIntentStore
	wallet   *WalletService
	audit    AuditStore
	metrics  Recorder
	logger   *slog.Logger
	now      func() time.Time
}

func NewPaymentService(txRunner db.TxRunner, intents PaymentIntentStore, wallet *WalletService, audit AuditStore, metrics Recorder, logger *slog.Logger) *PaymentService {
	if metrics == nil {
		metrics = nopRecorder{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PaymentService{
		txRunner: txRunner,
		intents:  intents,
		wallet:   wallet,
		audit:    audit,
		metrics:  metrics,
		logger:   logger,
		now:      time.Now,
	}
}

// CreateIntent records a pending deposit for the caller's account. The
// returned gateway reference is the idempotency key of the callback.
func (s *PaymentService) CreateIntent(ctx context.Context, actor Actor, amount int64, method string, metadata map[string]string) (models.PaymentIntent, error) {
	limit, ok := depositLimits[method]
	if !ok {
		return models.PaymentIntent{}, ErrUnsupportedMethod
	}
	if amount <= 0 {
		return models.PaymentIntent{}, ErrInvalidAmount
	}
	if amount < limit.min || amount > limit.max {
		return models.PaymentIntent{}, fmt.Errorf("%w: %s accepts %s to %s", ErrAmountOutOfRange, method, money.FormatMinor(limit.min), money.FormatMinor(limit.max))
	}
	account, err := s.wallet.AccountFor(ctx, actor.UserID)
	if err != nil {
		return models.PaymentIntent{}, err
	}
	meta, err := json.Marshal(metadata)
	if err != nil {
		return models.PaymentIntent{}, err
	}
	if metadata == nil {
		meta = []byte("{}")
	}
	intent := models.PaymentIntent{
		ID:               uuid.NewString(),
		AccountID:        account.ID,
		Amount:           amount,
		Method:           method,
		GatewayReference: method + "_" + uuid.NewString(),
		Status:           models.IntentPending,
		Metadata:         string(meta),
		CreatedAt:        s.now().UTC(),
	}
	err = s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := s.intents.Create(ctx, tx, intent); err != nil {
			return err
		}
		data, _ := json.Marshal(map[string]any{"amount": amount, "method": method})
		return s.audit.Log(ctx, tx, actor.UserID, "payment.intent", "payment_intent", intent.ID, string(data))
	})
	if err != nil {
		return models.PaymentIntent{}, err
	}
	return intent, nil
}

type ReconcileResult struct {
	Intent models.PaymentIntent `json:"intent"`
	Entry  *models.LedgerEntry  `json:"entry,omitempty"`
	// Replayed is set when the intent was already resolved and nothing changed.
	Replayed bool `json:"replayed"`
}

// Reconcile applies a verified gateway outcome exactly once per reference.
// Repeated deliveries find the intent resolved and return without effect.
func (s *PaymentService) Reconcile(ctx context.Context, reference string, outcome PaymentOutcome) (ReconcileResult, error) {
	if outcome != OutcomeSucceeded && outcome != OutcomeFailed {
		return ReconcileResult{}, ErrUnknownOutcome
	}
	var result ReconcileResult
	err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		result = ReconcileResult{}
		intent, err := s.intents.GetByReferenceForUpdate(ctx, tx, reference)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrIntentNotFound
			}
			return err
		}
		if intent.Status != models.IntentPending {
			result.Intent = intent
			result.Replayed = true
			return nil
		}
		next := models.IntentFailed
		if outcome == OutcomeSucceeded {
			entry, err := s.wallet.credit(ctx, tx, Posting{
				AccountID:   intent.AccountID,
				Amount:      intent.Amount,
				Kind:        models.KindDeposit,
				ReferenceID: intent.GatewayReference,
			})
			if err != nil {
				return err
			}
			result.Entry = &entry
			next = models.IntentCompleted
		}
		if err := s.intents.Resolve(ctx, tx, intent.ID, models.IntentPending, next); err != nil {
			return err
		}
		now := s.now().UTC()
		intent.Status = next
		intent.ResolvedAt = &now
		result.Intent = intent
		return s.audit.Log(ctx, tx, System.UserID, "payment.reconcile", "payment_intent", intent.ID, `{"outcome":"`+string(outcome)+`"}`)
	})
	if err != nil {
		s.metrics.Reconciliation("error")
		s.logger.Error("reconcile failed", slog.String("gateway_reference", reference), slog.Any("error", err))
		return ReconcileResult{}, err
	}
	switch {
	case result.Replayed:
		s.metrics.Reconciliation("replay")
		s.logger.Info("duplicate payment callback ignored", slog.String("gateway_reference", reference))
	case result.Entry != nil:
		s.metrics.Reconciliation("completed")
		s.wallet.notify(ctx, *result.Entry)
	default:
		s.metrics.Reconciliation("failed")
	}
	return result, nil
}

// RefundDeposit reverses a completed deposit. It fails with
// ErrInsufficientFunds when the money has already been spent.
func (s *PaymentService) RefundDeposit(ctx context.Context, actor Actor, reference string) (ReconcileResult, error) {
	if !actor.Has(models.RoleAdmin) {
		return ReconcileResult{}, ErrForbidden
	}
	var result ReconcileResult
	err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		intent, err := s.intents.GetByReferenceForUpdate(ctx, tx, reference)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrIntentNotFound
			}
			return err
		}
		if intent.Status != models.IntentCompleted {
			return ErrIntentNotRefundable
		}
		entry, err := s.wallet.debit(ctx, tx, Posting{
			AccountID:   intent.AccountID,
			Amount:      intent.Amount,
			Kind:        models.KindRefund,
			ReferenceID: intent.GatewayReference,
		})
		if err != nil {
			return err
		}
		if err := s.intents.Resolve(ctx, tx, intent.ID, models.IntentCompleted, models.IntentRefunded); err != nil {
			return err
		}
		intent.Status = models.IntentRefunded
		result = ReconcileResult{Intent: intent, Entry: &entry}
		return s.audit.Log(ctx, tx, actor.UserID, "payment.refund", "payment_intent", intent.ID, "{}")
	})
	if err != nil {
		return ReconcileResult{}, err
	}
	s.wallet.notify(ctx, *result.Entry)
	return result, nil
}

func (s *PaymentService) GetIntent(ctx context.Context, actor Actor, reference string) (models.PaymentIntent, error) {
	intent, err := s.intents.GetByReference(ctx, reference)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return models.PaymentIntent{}, ErrIntentNotFound
		}
		return models.PaymentIntent{}, err
	}
	if actor.Has(models.RoleAdmin) {
		return intent, nil
	}
	account, err := s.wallet.AccountFor(ctx, actor.UserID)
	if err != nil || account.ID != intent.AccountID {
		return models.PaymentIntent{}, ErrIntentNotFound
	}
	return intent, nil
}
