package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"
	"time"

	"marketplace/internal/models"
)

func TestTaskStoreTransitionIsConditional(t *testing.T) {
	now := time.Now()
	freelancer := "free-1"
	execer := stubExecer{
		execFn: func(_ context.Context, query string, args ...any) (sql.Result, error) {
			if !strings.Contains(query, "WHERE id = $5 AND status = $6") {
				t.Fatalf("transition must compare current status: %s", query)
			}
			if args[0] != models.TaskAssigned || args[5] != models.TaskOpen || args[4] != "task-1" {
				t.Fatalf("unexpected args: %#v", args)
			}
			return stubResult{rows: 1}, nil
		},
	}
	err := NewTaskStore(stubDB{}).Transition(context.Background(), execer, TaskTransition{
		TaskID:       "task-1",
		From:         models.TaskOpen,
		To:           models.TaskAssigned,
		FreelancerID: &freelancer,
		AssignedAt:   &now,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestTaskStoreTransitionStale(t *testing.T) {
	execer := stubExecer{
		execFn: func(context.Context, string, ...any) (sql.Result, error) {
			return stubResult{rows: 0}, nil
		},
	}
	err := NewTaskStore(stubDB{}).Transition(context.Background(), execer, TaskTransition{TaskID: "task-1", From: models.TaskOpen, To: models.TaskAssigned})
	if !errors.Is(err, ErrStaleStatus) {
		t.Fatalf("expected ErrStaleStatus, got %v", err)
	}
}

func TestTaskStoreDeleteDraftOnly(t *testing.T) {
	execer := stubExecer{
		execFn: func(_ context.Context, query string, args ...any) (sql.Result, error) {
			if !strings.Contains(query, "status = 'draft'") {
				t.Fatalf("delete must be limited to drafts: %s", query)
			}
			return stubResult{rows: 0}, nil
		},
	}
	if err := NewTaskStore(stubDB{}).DeleteDraft(context.Background(), execer, "task-1"); !errors.Is(err, ErrStaleStatus) {
		t.Fatalf("expected ErrStaleStatus, got %v", err)
	}
}

func TestTaskStoreGetByIDNotFound(t *testing.T) {
	store := NewTaskStore(stubDB{
		getFn: func(context.Context, any, string, ...any) error { return sql.ErrNoRows },
	})
	if _, err := store.GetByID(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestTaskStoreUpdateGuardsStatus(t *testing.T) {
	execer := stubExecer{
		execFn: func(_ context.Context, query string, args ...any) (sql.Result, error) {
			if !strings.Contains(query, "WHERE id = $9 AND status = $10") {
				t.Fatalf("update must compare current status: %s", query)
			}
			if args[5] != int64(20000) || args[7] != int64(600) || args[9] != models.TaskOpen {
				t.Fatalf("unexpected args: %#v", args)
			}
			return stubResult{rows: 0}, nil
		},
	}
	err := NewTaskStore(stubDB{}).Update(context.Background(), execer, models.Task{
		ID:             "task-1",
		Budget:         20000,
		PlatformFee:    2000,
		TransactionFee: 600,
		Status:         models.TaskOpen,
	})
	if !errors.Is(err, ErrStaleStatus) {
		t.Fatalf("expected ErrStaleStatus, got %v", err)
	}
}

func TestTaskStoreListFiltersByParty(t *testing.T) {
	tests := []struct {
		name   string
		list   func(*TaskStore) ([]models.Task, error)
		column string
	}{
		{
			name:   "client",
			list:   func(s *TaskStore) ([]models.Task, error) { return s.ListByClient(context.Background(), "user-1", 20, 40) },
			column: "WHERE client_id = $1",
		},
		{
			name:   "freelancer",
			list:   func(s *TaskStore) ([]models.Task, error) { return s.ListByFreelancer(context.Background(), "user-1", 20, 40) },
			column: "WHERE freelancer_id = $1",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := NewTaskStore(stubDB{
				selectFn: func(_ context.Context, dest any, query string, args ...any) error {
					if !strings.Contains(query, tc.column) {
						t.Fatalf("expected %q in %s", tc.column, query)
					}
					if args[0] != "user-1" || args[1] != 20 || args[2] != 40 {
						t.Fatalf("unexpected args: %#v", args)
					}
					*dest.(*[]models.Task) = []models.Task{{ID: "task-1"}}
					return nil
				},
			})
			tasks, err := tc.list(s)
			if err != nil || len(tasks) != 1 {
				t.Fatalf("expected one task, got %d/%v", len(tasks), err)
			}
		})
	}
}
