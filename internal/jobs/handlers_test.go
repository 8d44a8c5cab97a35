package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"marketplace/internal/models"
	"marketplace/internal/services"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAuditor struct {
	reports []services.AuditReport
	err     error
	calls   int
}

func (f *fakeAuditor) AuditAll(context.Context) ([]services.AuditReport, error) {
	f.calls++
	return f.reports, f.err
}

type fakeReconciler struct {
	err       error
	reference string
	outcome   services.PaymentOutcome
}

func (f *fakeReconciler) Reconcile(_ context.Context, reference string, outcome services.PaymentOutcome) (services.ReconcileResult, error) {
	f.reference = reference
	f.outcome = outcome
	if f.err != nil {
		return services.ReconcileResult{}, f.err
	}
	return services.ReconcileResult{Intent: models.PaymentIntent{GatewayReference: reference, Status: models.IntentCompleted}}, nil
}

type fakeJobMetrics struct {
	jobs map[string]int
}

func (f *fakeJobMetrics) JobDone(job string, _ time.Time, err error) error {
	if f.jobs == nil {
		f.jobs = map[string]int{}
	}
	f.jobs[job]++
	return err
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func reconcileTask(t *testing.T, reference string, outcome services.PaymentOutcome) *asynq.Task {
	t.Helper()
	task, err := NewReconcileTask(ReconcilePayload{Reference: reference, Outcome: outcome})
	require.NoError(t, err)
	return task
}

func TestHandleReconcileAppliesOutcome(t *testing.T) {
	rec := &fakeReconciler{}
	metrics := &fakeJobMetrics{}
	h := NewHandlers(&fakeAuditor{}, rec, metrics, quietLogger())

	err := h.HandleReconcile(context.Background(), reconcileTask(t, "pi_123", services.OutcomeSucceeded))
	require.NoError(t, err)
	assert.Equal(t, "pi_123", rec.reference)
	assert.Equal(t, services.OutcomeSucceeded, rec.outcome)
	assert.Equal(t, 1, metrics.jobs[TaskPaymentsReconcile])
}

func TestHandleReconcileRetriesOnlyStorageFaults(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		skipRetry bool
	}{
		{"storage unavailable", services.ErrStorageUnavailable, false},
		{"unknown intent", services.ErrIntentNotFound, true},
		{"unknown outcome", services.ErrUnknownOutcome, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := NewHandlers(&fakeAuditor{}, &fakeReconciler{err: tc.err}, nil, quietLogger())
			err := h.HandleReconcile(context.Background(), reconcileTask(t, "pi_1", services.OutcomeFailed))
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.err)
			assert.Equal(t, tc.skipRetry, errors.Is(err, asynq.SkipRetry))
		})
	}
}

func TestHandleReconcileRejectsBadPayload(t *testing.T) {
	rec := &fakeReconciler{}
	h := NewHandlers(&fakeAuditor{}, rec, nil, quietLogger())

	err := h.HandleReconcile(context.Background(), asynq.NewTask(TaskPaymentsReconcile, []byte("{not json")))
	require.Error(t, err)
	assert.ErrorIs(t, err, asynq.SkipRetry)
	assert.Empty(t, rec.reference)
}

func TestHandleLedgerAudit(t *testing.T) {
	auditor := &fakeAuditor{reports: []services.AuditReport{
		{AccountID: "a"},
		{AccountID: "b", Problems: []string{"stored balance 10 != ledger balance 9"}},
	}}
	metrics := &fakeJobMetrics{}
	h := NewHandlers(auditor, &fakeReconciler{}, metrics, quietLogger())

	require.NoError(t, h.HandleLedgerAudit(context.Background(), NewLedgerAuditTask()))
	assert.Equal(t, 1, auditor.calls)
	assert.Equal(t, 1, metrics.jobs[TaskLedgerAudit])

	auditor.err = services.ErrStorageUnavailable
	err := h.HandleLedgerAudit(context.Background(), NewLedgerAuditTask())
	require.Error(t, err)
	assert.False(t, errors.Is(err, asynq.SkipRetry))
}

func TestRegisterCoversAllTasks(t *testing.T) {
	h := NewHandlers(&fakeAuditor{}, &fakeReconciler{}, nil, nil)
	types := map[string]bool{}
	for _, th := range h.Register() {
		require.NotNil(t, th.Handler)
		types[th.Type] = true
	}
	assert.True(t, types[TaskLedgerAudit])
	assert.True(t, types[TaskPaymentsReconcile])
}

func TestReconcileTaskPayload(t *testing.T) {
	task := reconcileTask(t, "ws_CO_1", services.OutcomeFailed)
	assert.Equal(t, TaskPaymentsReconcile, task.Type())

	var payload ReconcilePayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	assert.Equal(t, ReconcilePayload{Reference: "ws_CO_1", Outcome: services.OutcomeFailed}, payload)
}

type fakeEnqueuer struct {
	tasks []*asynq.Task
	err   error
}

func (f *fakeEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.tasks = append(f.tasks, task)
	return &asynq.TaskInfo{Type: task.Type()}, nil
}

func (f *fakeEnqueuer) Close() error { return nil }

func TestEnqueueReconcile(t *testing.T) {
	q := &fakeEnqueuer{}
	c := &Client{client: q}

	require.NoError(t, c.EnqueueReconcile(context.Background(), "pi_9", services.OutcomeSucceeded))
	require.Len(t, q.tasks, 1)
	assert.Equal(t, TaskPaymentsReconcile, q.tasks[0].Type())

	q.err = asynq.ErrTaskIDConflict
	assert.NoError(t, c.EnqueueReconcile(context.Background(), "pi_9", services.OutcomeSucceeded))

	q.err = errors.New("redis down")
	assert.Error(t, c.EnqueueReconcile(context.Background(), "pi_9", services.OutcomeSucceeded))
}
