package services

import (
	"marketplace/internal/validator"
)

var (
	taskCategories = []string{"writing", "design", "programming", "marketing", "data_entry", "customer_service", "other"}
	taskUrgencies  = []string{"low", "medium", "high"}
)

type TaskInput struct {
	Title        string
	Description  string
	Category     string
	Urgency      string
	DurationDays int
	Budget       int64
}

func (in TaskInput) Validate() error {
	var errs validator.Errors
	validator.Check(&errs, "title", in.Title, validator.Required(), validator.MinLen(10), validator.MaxLen(200))
	validator.Check(&errs, "description", in.Description, validator.Required(), validator.MinLen(50), validator.MaxLen(2000))
	validator.Check(&errs, "category", in.Category, validator.OneOf(taskCategories...))
	validator.Check(&errs, "urgency", in.Urgency, validator.OneOf(taskUrgencies...))
	validator.Check(&errs, "duration_days", in.DurationDays, validator.IntRange(1, 365))
	validator.Check(&errs, "budget", in.Budget, validator.MinAmount(500), validator.MaxAmount(10_000_000))
	return errs.Err()
}

type ProposalInput struct {
	TaskID        string
	BidAmount     int64
	CoverLetter   string
	EstimatedDays int
}

func (in ProposalInput) Validate() error {
	var errs validator.Errors
	validator.Check(&errs, "task_id", in.TaskID, validator.Required())
	validator.Check(&errs, "bid_amount", in.BidAmount, validator.MinAmount(100))
	validator.Check(&errs, "cover_letter", in.CoverLetter, validator.Required(), validator.MinLen(50), validator.MaxLen(1000))
	validator.Check(&errs, "estimated_days", in.EstimatedDays, validator.IntRange(1, 180))
	return errs.Err()
}
