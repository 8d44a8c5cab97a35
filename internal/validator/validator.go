package validator

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"marketplace/internal/money"
)

var ErrValidation = errors.New("validation failed")

type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Errors collects every failed rule of an input. The zero value means valid.
type Errors []FieldError

func (e Errors) Error() string {
	parts := make([]string, 0, len(e))
	for _, fe := range e {
		parts = append(parts, fe.Field+": "+fe.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e Errors) Is(target error) bool {
	return target == ErrValidation
}

// Err returns nil when nothing failed.
func (e Errors) Err() error {
	if len(e) == 0 {
		return nil
	}
	return e
}

// Rule returns a message when value is invalid and "" otherwise.
type Rule[T any] func(value T) string

// Check applies rules in order and records the first failure for field.
func Check[T any](errs *Errors, field string, value T, rules ...Rule[T]) {
	for _, rule := range rules {
		if msg := rule(value); msg != "" {
			*errs = append(*errs, FieldError{Field: field, Message: msg})
			return
		}
	}
}

func Required() Rule[string] {
	return func(v string) string {
		if strings.TrimSpace(v) == "" {
			return "is required"
		}
		return ""
	}
}

func MinLen(n int) Rule[string] {
	return func(v string) string {
		if utf8.RuneCountInString(strings.TrimSpace(v)) < n {
			return fmt.Sprintf("must be at least %d characters", n)
		}
		return ""
	}
}

func MaxLen(n int) Rule[string] {
	return func(v string) string {
		if utf8.RuneCountInString(strings.TrimSpace(v)) > n {
			return fmt.Sprintf("must be at most %d characters", n)
		}
		return ""
	}
}

func OneOf(values ...string) Rule[string] {
	return func(v string) string {
		for _, allowed := range values {
			if v == allowed {
				return ""
			}
		}
		return "must be one of " + strings.Join(values, ", ")
	}
}

func MinAmount(min int64) Rule[int64] {
	return func(v int64) string {
		if v < min {
			return "must be at least " + money.FormatMinor(min)
		}
		return ""
	}
}

func MaxAmount(max int64) Rule[int64] {
	return func(v int64) string {
		if v > max {
			return "must be at most " + money.FormatMinor(max)
		}
		return ""
	}
}

func IntRange(min, max int) Rule[int] {
	return func(v int) string {
		if v < min || v > max {
			return fmt.Sprintf("must be between %d and %d", min, max)
		}
		return ""
	}
}
