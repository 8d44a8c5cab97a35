package services

import "marketplace/internal/models"

// transitions lists every permitted task edge. Anything absent is rejected.
var transitions = map[models.TaskStatus][]models.TaskStatus{
	models.TaskDraft:      {models.TaskOpen, models.TaskCancelled},
	models.TaskOpen:       {models.TaskAssigned, models.TaskCancelled},
	models.TaskAssigned:   {models.TaskInProgress, models.TaskCancelled, models.TaskDisputed},
	models.TaskInProgress: {models.TaskCompleted, models.TaskDisputed},
	models.TaskCompleted:  {models.TaskApproved, models.TaskDisputed},
	models.TaskApproved:   {models.TaskPaid},
}

func CanTransition(from, to models.TaskStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func checkTransition(from, to models.TaskStatus) error {
	if !CanTransition(from, to) {
		return &TransitionError{From: from, To: to}
	}
	return nil
}

// Terminal reports whether no edge leaves status.
func Terminal(status models.TaskStatus) bool {
	return len(transitions[status]) == 0
}
