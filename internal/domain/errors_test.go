package domain

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSentinelsSurviveWrapping(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		sentinel error
		code     string
	}{
		{"account not found", AccountNotFound("quota.get", "abc"), ErrAccountNotFound, ENOTFOUND},
		{"invalid tier", InvalidTier("tier.parse", "gold"), ErrInvalidTier, EINVALID},
		{"conflict", Conflict("quota.try_increment", "retries exhausted"), ErrConcurrencyConflict, ECONFLICT},
		{"account exists", AccountExists("accountstore.memory.create", "abc"), ErrAccountExists, ECONFLICT},
		{"unavailable", Unavailable(context.DeadlineExceeded, "quota.try_increment"), ErrStorageUnavailable, EUNAVAILABLE},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := fmt.Errorf("handler: %w", tt.err)
			assert.True(t, errors.Is(wrapped, tt.sentinel))
			assert.Equal(t, tt.code, ErrorCode(wrapped))
		})
	}
}

func TestUnavailable_KeepsCause(t *testing.T) {
	err := Unavailable(context.Canceled, "quota.reset_counter")
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, IsTransient(err))
}

func TestErrorMessage(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"plain error hides detail", errors.New("pq: connection refused"), "An internal error occurred. Please try again later."},
		{"internal hides detail", Internal(errors.New("boom"), "op", "secret detail"), "An internal error occurred. Please try again later."},
		{"unavailable asks to retry", Unavailable(errors.New("dial tcp"), "op"), "The service is busy. Please try again shortly."},
		{"lost race asks to retry", Conflict("op", "retries exhausted"), "The service is busy. Please try again shortly."},
		{"duplicate passes message", AccountExists("op", "abc"), `account with ID "abc" already exists`},
		{"invalid passes message", Invalid("op", "cap must be non-negative"), "cap must be non-negative"},
		{"validation", NewValidationError("op", "cost", "must be non-negative"), "Please correct the highlighted fields."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ErrorMessage(tt.err))
		})
	}
}

func TestErrorCode_Default(t *testing.T) {
	assert.Equal(t, "", ErrorCode(nil))
	assert.Equal(t, EINTERNAL, ErrorCode(errors.New("x")))
	assert.False(t, IsTransient(Invalid("op", "bad")))
	assert.False(t, IsTransient(AccountExists("op", "abc")))
	assert.True(t, IsTransient(Conflict("op", "busy")))
	assert.Equal(t, EINVALID, ErrorCode(fmt.Errorf("record: %w", NewValidationError("op", "kind", "unknown"))))
}
