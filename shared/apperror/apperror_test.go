package apperror

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapErrorToHTTPStatus(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{"validation", Validation("amount must be positive"), http.StatusBadRequest},
		{"user not found", UserNotFound("BK-1"), http.StatusNotFound},
		{"account not found", AccountNotFound("Recipient account not found."), http.StatusNotFound},
		{"recipient not found", RecipientNotFound("Jean Dupont"), http.StatusNotFound},
		{"ambiguous recipient", AmbiguousRecipient("Dupont", []string{"Jean Dupont", "Marie Dupontel"}), http.StatusConflict},
		{"insufficient funds", InsufficientFunds(decimal.NewFromInt(10), decimal.NewFromInt(50)), http.StatusBadRequest},
		{"store fault", StoreFault(errors.New("disk"), "failed to append entry", false), http.StatusInternalServerError},
		{"retryable store fault", StoreFault(errors.New("deadlock"), "failed to commit", true), http.StatusServiceUnavailable},
		{"wrapped", fmt.Errorf("transfer: %w", UserNotFound("BK-2")), http.StatusNotFound},
		{"foreign error", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, MapErrorToHTTPStatus(tt.err))
		})
	}
}

func TestInsufficientFundsCarriesAmounts(t *testing.T) {
	err := InsufficientFunds(decimal.RequireFromString("10.00"), decimal.RequireFromString("50.00"))

	assert.Equal(t, KindInsufficientFunds, KindOf(err))
	assert.Contains(t, err.Error(), "INSUFFICIENT_FUNDS")
	assert.Contains(t, err.Error(), "10.00")
	assert.Contains(t, err.Error(), "50.00")

	details, ok := err.Details.(FundsDetails)
	require.True(t, ok)
	assert.True(t, details.CurrentBalance.Equal(decimal.NewFromInt(10)))
	assert.True(t, details.RequestedAmount.Equal(decimal.NewFromInt(50)))
}

func TestRetryableOnlyForStoreFaults(t *testing.T) {
	cause := errors.New("serialization failure")
	fault := StoreFault(cause, "failed to commit transfer", true)

	assert.True(t, IsRetryable(fault))
	assert.True(t, IsRetryable(fmt.Errorf("attempt 1: %w", fault)))
	assert.ErrorIs(t, fault, cause)

	notRetryable := &Error{Kind: KindInsufficientFunds, Retryable: true}
	assert.False(t, IsRetryable(notRetryable))
	assert.False(t, IsRetryable(cause))
}

func TestKindHelpers(t *testing.T) {
	assert.True(t, IsNotFound(RecipientNotFound("x")))
	assert.False(t, IsNotFound(Validation("x")))
	assert.True(t, Is(UserNotFound("x"), KindUserNotFound))
	assert.Equal(t, KindStoreFault, KindOf(errors.New("plain")))
}
