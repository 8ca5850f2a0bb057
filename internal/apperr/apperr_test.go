package apperr_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/d9705996/perseo/internal/apperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOf_Wrapped(t *testing.T) {
	err := fmt.Errorf("create membership: %w", apperr.Capacity("group is full"))
	assert.Equal(t, apperr.KindCapacity, apperr.KindOf(err))
}

func TestKindOf_PlainErrorIsInternal(t *testing.T) {
	assert.Equal(t, apperr.KindInternal, apperr.KindOf(errors.New("boom")))
}

func TestIs_MatchesKindAndCode(t *testing.T) {
	err := fmt.Errorf("login: %w", apperr.Authentication("email_not_verified", "email not verified"))
	assert.ErrorIs(t, err, apperr.Authentication("email_not_verified", ""))
	assert.NotErrorIs(t, err, apperr.Authentication("invalid_credentials", ""))
	assert.ErrorIs(t, err, &apperr.Error{Kind: apperr.KindAuthentication})
}

func TestAs_ExposesFields(t *testing.T) {
	err := fmt.Errorf("wrap: %w", apperr.Validation("invalid_input", "bad", apperr.FieldError{Field: "email", Message: "required"}))
	e, ok := apperr.As(err)
	require.True(t, ok)
	require.Len(t, e.Fields, 1)
	assert.Equal(t, "email", e.Fields[0].Field)
}

func TestInternal_Unwraps(t *testing.T) {
	cause := errors.New("disk full")
	err := apperr.Internal(cause)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "disk full")
}
