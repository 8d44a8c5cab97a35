package store

import (
	"context"
	"time"

	"marketplace/internal/models"
)

type TaskStore struct {
	db DB
}

func NewTaskStore(db DB) *TaskStore {
	return &TaskStore{db: db}
}

const taskColumns = `id, client_id, freelancer_id, title, description, category, urgency, duration_days,
		budget, platform_fee, transaction_fee, status, created_at, assigned_at, completed_at`

func (s *TaskStore) Create(ctx context.Context, tx Execer, task models.Task) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO tasks (id, client_id, title, description, category, urgency, duration_days,
		                   budget, platform_fee, transaction_fee, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, task.ID, task.ClientID, task.Title, task.Description, task.Category, task.Urgency, task.DurationDays,
		task.Budget, task.PlatformFee, task.TransactionFee, task.Status)
	return mapErr(err)
}

func (s *TaskStore) GetByID(ctx context.Context, taskID string) (models.Task, error) {
	var row models.Task
	err := s.db.GetContext(ctx, &row, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, taskID)
	return row, mapErr(err)
}

func (s *TaskStore) GetForUpdate(ctx context.Context, tx Getter, taskID string) (models.Task, error) {
	var row models.Task
	err := tx.GetContext(ctx, &row, `SELECT `+taskColumns+` FROM tasks WHERE id = $1 FOR UPDATE`, taskID)
	return row, mapErr(err)
}

type TaskTransition struct {
	TaskID       string
	From         models.TaskStatus
	To           models.TaskStatus
	FreelancerID *string
	AssignedAt   *time.Time
	CompletedAt  *time.Time
}

// Transition moves the task only if it is still in From.
func (s *TaskStore) Transition(ctx context.Context, tx Execer, t TaskTransition) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE tasks
		SET status = $1,
		    freelancer_id = COALESCE($2, freelancer_id),
		    assigned_at = COALESCE($3, assigned_at),
		    completed_at = COALESCE($4, completed_at),
		    updated_at = NOW()
		WHERE id = $5 AND status = $6
	`, t.To, t.FreelancerID, t.AssignedAt, t.CompletedAt, t.TaskID, t.From)
	return expectOne(res, err)
}

func (s *TaskStore) DeleteDraft(ctx context.Context, tx Execer, taskID string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE id = $1 AND status = 'draft'`, taskID)
	return expectOne(res, err)
}

// Update rewrites the editable fields of a task still in task.Status.
func (s *TaskStore) Update(ctx context.Context, tx Execer, task models.Task) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE tasks
		SET title = $1, description = $2, category = $3, urgency = $4, duration_days = $5,
		    budget = $6, platform_fee = $7, transaction_fee = $8, updated_at = NOW()
		WHERE id = $9 AND status = $10
	`, task.Title, task.Description, task.Category, task.Urgency, task.DurationDays,
		task.Budget, task.PlatformFee, task.TransactionFee, task.ID, task.Status)
	return expectOne(res, err)
}

func (s *TaskStore) ListByClient(ctx context.Context, clientID string, limit, offset int) ([]models.Task, error) {
	return s.list(ctx, "client_id", clientID, limit, offset)
}

func (s *TaskStore) ListByFreelancer(ctx context.Context, freelancerID string, limit, offset int) ([]models.Task, error) {
	return s.list(ctx, "freelancer_id", freelancerID, limit, offset)
}

// column is never caller input.
func (s *TaskStore) list(ctx context.Context, column, userID string, limit, offset int) ([]models.Task, error) {
	rows := []models.Task{}
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+taskColumns+` FROM tasks
		WHERE `+column+` = $1
		ORDER BY created_at DESC, id
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, mapErr(err)
	}
	return rows, nil
}
