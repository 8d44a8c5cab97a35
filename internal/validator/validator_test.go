package validator

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckRecordsFirstFailurePerField(t *testing.T) {
	var errs Errors
	Check(&errs, "title", "", Required(), MinLen(10))
	Check(&errs, "budget", int64(100), MinAmount(500), MaxAmount(10000000))
	Check(&errs, "duration_days", 30, IntRange(1, 365))
	Check(&errs, "urgency", "asap", OneOf("low", "medium", "high"))

	require.Len(t, errs, 3)
	assert.Equal(t, FieldError{Field: "title", Message: "is required"}, errs[0])
	assert.Equal(t, "must be at least 5.00", errs[1].Message)
	assert.Equal(t, "urgency", errs[2].Field)
}

func TestErrorsErr(t *testing.T) {
	var errs Errors
	assert.NoError(t, errs.Err())

	Check(&errs, "cover_letter", strings.Repeat("x", 1001), MaxLen(1000))
	err := errs.Err()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrValidation))

	var fields Errors
	require.True(t, errors.As(err, &fields))
	assert.Equal(t, "cover_letter", fields[0].Field)
	assert.Contains(t, err.Error(), "at most 1000")
}

func TestMinLenCountsRunes(t *testing.T) {
	assert.Empty(t, MinLen(3)("héé"))
	assert.NotEmpty(t, MinLen(3)("  a "))
}
