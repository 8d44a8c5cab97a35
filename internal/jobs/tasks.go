package jobs

import (
	"encoding/json"

	"marketplace/internal/services"

	"github.com/hibiken/asynq"
)

const (
	QueueDefault = "default"
	// QueueCritical carries payment work ahead of maintenance jobs.
	QueueCritical = "critical"

	TaskLedgerAudit       = "ledger:audit"
	TaskPaymentsReconcile = "payments:reconcile"
)

type ReconcilePayload struct {
	Reference string                  `json:"reference"`
	Outcome   services.PaymentOutcome `json:"outcome"`
}

func NewLedgerAuditTask() *asynq.Task {
	return asynq.NewTask(TaskLedgerAudit, nil)
}

func NewReconcileTask(payload ReconcilePayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskPaymentsReconcile, data), nil
}
