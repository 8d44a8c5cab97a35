package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"marketplace/internal/services"

	"github.com/hibiken/asynq"
)

type Auditor interface {
	AuditAll(ctx context.Context) ([]services.AuditReport, error)
}

type Reconciler interface {
	Reconcile(ctx context.Context, reference string, outcome services.PaymentOutcome) (services.ReconcileResult, error)
}

type JobMetrics interface {
	JobDone(job string, start time.Time, err error) error
}

type nopJobMetrics struct{}

func (nopJobMetrics) JobDone(_ string, _ time.Time, err error) error { return err }

type Handlers struct {
	auditor    Auditor
	reconciler Reconciler
	metrics    JobMetrics
	logger     *slog.Logger
}

func NewHandlers(auditor Auditor, reconciler Reconciler, metrics JobMetrics, logger *slog.Logger) *Handlers {
	if metrics == nil {
		metrics = nopJobMetrics{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{auditor: auditor, reconciler: reconciler, metrics: metrics, logger: logger}
}

// Register returns the handlers in the shape the worker expects.
func (h *Handlers) Register() []TaskHandler {
	return []TaskHandler{
		{Type: TaskLedgerAudit, Handler: h.HandleLedgerAudit},
		{Type: TaskPaymentsReconcile, Handler: h.HandleReconcile},
	}
}

// HandleLedgerAudit replays every account. Mismatches are reported, not
// retried.
func (h *Handlers) HandleLedgerAudit(ctx context.Context, _ *asynq.Task) error {
	start := time.Now()
	reports, err := h.auditor.AuditAll(ctx)
	if err != nil {
		return h.metrics.JobDone(TaskLedgerAudit, start, retryPolicy(err))
	}
	mismatched := 0
	for _, report := range reports {
		if !report.OK() {
			mismatched++
		}
	}
	h.logger.Info("ledger audit finished",
		slog.Int("accounts", len(reports)),
		slog.Int("mismatched", mismatched),
		slog.Duration("took", time.Since(start)),
	)
	return h.metrics.JobDone(TaskLedgerAudit, start, nil)
}

func (h *Handlers) HandleReconcile(ctx context.Context, t *asynq.Task) error {
	start := time.Now()
	var payload ReconcilePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return h.metrics.JobDone(TaskPaymentsReconcile, start, fmt.Errorf("decode payload: %v: %w", err, asynq.SkipRetry))
	}
	result, err := h.reconciler.Reconcile(ctx, payload.Reference, payload.Outcome)
	if err != nil {
		h.logger.Warn("queued reconcile failed",
			slog.String("gateway_reference", payload.Reference),
			slog.Bool("retryable", services.IsRetryable(err)),
			slog.Any("error", err),
		)
		return h.metrics.JobDone(TaskPaymentsReconcile, start, retryPolicy(err))
	}
	h.logger.Info("queued reconcile applied",
		slog.String("gateway_reference", payload.Reference),
		slog.String("status", string(result.Intent.Status)),
		slog.Bool("replayed", result.Replayed),
	)
	return h.metrics.JobDone(TaskPaymentsReconcile, start, nil)
}

// retryPolicy lets asynq retry transient storage faults only.
func retryPolicy(err error) error {
	if services.IsRetryable(err) {
		return err
	}
	return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
}
