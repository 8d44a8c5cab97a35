package services

import (
	"errors"
	"testing"

	"marketplace/internal/models"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from models.TaskStatus
		to   models.TaskStatus
		want bool
	}{
		{models.TaskDraft, models.TaskOpen, true},
		{models.TaskDraft, models.TaskAssigned, false},
		{models.TaskOpen, models.TaskAssigned, true},
		{models.TaskOpen, models.TaskInProgress, false},
		{models.TaskAssigned, models.TaskInProgress, true},
		{models.TaskAssigned, models.TaskAssigned, false},
		{models.TaskInProgress, models.TaskCompleted, true},
		{models.TaskInProgress, models.TaskCancelled, false},
		{models.TaskCompleted, models.TaskApproved, true},
		{models.TaskCompleted, models.TaskPaid, false},
		{models.TaskApproved, models.TaskPaid, true},
		{models.TaskApproved, models.TaskDisputed, false},
		{models.TaskPaid, models.TaskOpen, false},
		{models.TaskCancelled, models.TaskOpen, false},
		{models.TaskDisputed, models.TaskCompleted, false},
	}
	for _, tc := range tests {
		t.Run(string(tc.from)+"->"+string(tc.to), func(t *testing.T) {
			assert.Equal(t, tc.want, CanTransition(tc.from, tc.to))
		})
	}
}

func TestTerminalStates(t *testing.T) {
	for _, status := range []models.TaskStatus{models.TaskPaid, models.TaskCancelled, models.TaskDisputed} {
		assert.True(t, Terminal(status), status)
	}
	assert.False(t, Terminal(models.TaskApproved))
}

func TestTransitionErrorMatching(t *testing.T) {
	err := checkTransition(models.TaskAssigned, models.TaskApproved)
	assert.True(t, errors.Is(err, ErrInvalidTransition))
	assert.True(t, errors.Is(err, ErrNotCompleted))
	assert.EqualError(t, err, "invalid transition from assigned to approved")

	err = checkTransition(models.TaskPaid, models.TaskPaid)
	assert.True(t, errors.Is(err, ErrInvalidTransition))
	assert.False(t, errors.Is(err, ErrNotCompleted))

	assert.NoError(t, checkTransition(models.TaskApproved, models.TaskPaid))
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(ErrStorageUnavailable))
	assert.False(t, IsRetryable(ErrInsufficientFunds))
	assert.False(t, IsRetryable(&TransitionError{From: models.TaskOpen, To: models.TaskPaid}))
}

func TestComputeSplit(t *testing.T) {
	tests := []struct {
		name    string
		task    models.Task
		want    Split
		wantErr error
	}{
		{
			name: "standard fees",
			task: models.Task{Budget: 10000, PlatformFee: 1000, TransactionFee: 300},
			want: Split{TotalDue: 11300, FreelancerAmount: 9700, PlatformAmount: 1600},
		},
		{
			name: "no fees",
			task: models.Task{Budget: 500},
			want: Split{TotalDue: 500, FreelancerAmount: 500},
		},
		{
			name:    "zero budget",
			task:    models.Task{Budget: 0},
			wantErr: ErrInvalidAmount,
		},
		{
			name:    "fee swallows payout",
			task:    models.Task{Budget: 100, TransactionFee: 100},
			wantErr: ErrUnbalancedSettlement,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ComputeSplit(tc.task)
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tc.want, got)
			assert.Equal(t, got.TotalDue, got.FreelancerAmount+got.PlatformAmount)
		})
	}
}
