// Package apperror defines the failure taxonomy shared by the ledger engine,
// the read services and the HTTP adapter.
package apperror

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"
)

type Kind string

const (
	KindValidation         Kind = "VALIDATION_ERROR"
	KindUserNotFound       Kind = "USER_NOT_FOUND"
	KindAccountNotFound    Kind = "ACCOUNT_NOT_FOUND"
	KindRecipientNotFound  Kind = "RECIPIENT_NOT_FOUND"
	KindAmbiguousRecipient Kind = "AMBIGUOUS_RECIPIENT"
	KindInsufficientFunds  Kind = "INSUFFICIENT_FUNDS"
	KindStoreFault         Kind = "STORE_FAULT"
)

// FundsDetails is attached to INSUFFICIENT_FUNDS failures.
type FundsDetails struct {
	CurrentBalance  decimal.Decimal `json:"current_balance"`
	RequestedAmount decimal.Decimal `json:"requested_amount"`
}

// CandidatesDetails is attached to AMBIGUOUS_RECIPIENT failures.
type CandidatesDetails struct {
	Candidates []string `json:"candidates"`
}

type Error struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`

	// Retryable is only meaningful for STORE_FAULT: nothing was committed and
	// the whole operation may be run again.
	Retryable bool  `json:"-"`
	Err       error `json:"-"`
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Validation(format string, args ...any) *Error {
	return New(KindValidation, fmt.Sprintf(format, args...))
}

func UserNotFound(bankID string) *Error {
	return New(KindUserNotFound, fmt.Sprintf("No user with bank_id='%s'.", bankID))
}

func AccountNotFound(message string) *Error {
	return New(KindAccountNotFound, message)
}

func RecipientNotFound(recipient string) *Error {
	return New(KindRecipientNotFound, fmt.Sprintf("Recipient '%s' not found.", recipient))
}

func AmbiguousRecipient(recipient string, candidates []string) *Error {
	e := New(KindAmbiguousRecipient, fmt.Sprintf("Recipient '%s' matches %d account holders.", recipient, len(candidates)))
	e.Details = CandidatesDetails{Candidates: candidates}
	return e
}

func InsufficientFunds(current, requested decimal.Decimal) *Error {
	e := New(KindInsufficientFunds, fmt.Sprintf("Insufficient funds: balance %s, requested %s.",
		current.StringFixed(2), requested.StringFixed(2)))
	e.Details = FundsDetails{CurrentBalance: current, RequestedAmount: requested}
	return e
}

func StoreFault(err error, message string, retryable bool) *Error {
	return &Error{Kind: KindStoreFault, Message: message, Retryable: retryable, Err: err}
}

// KindOf returns the Kind of the first *Error in err's chain. Errors outside
// the taxonomy are reported as STORE_FAULT.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindStoreFault
}

func Is(err error, kind Kind) bool {
	var appErr *Error
	return errors.As(err, &appErr) && appErr.Kind == kind
}

func IsRetryable(err error) bool {
	var appErr *Error
	return errors.As(err, &appErr) && appErr.Kind == KindStoreFault && appErr.Retryable
}

func IsNotFound(err error) bool {
	switch KindOf(err) {
	case KindUserNotFound, KindAccountNotFound, KindRecipientNotFound:
		return true
	}
	return false
}

func MapErrorToHTTPStatus(err error) int {
	var appErr *Error
	if !errors.As(err, &appErr) {
		return http.StatusInternalServerError
	}
	switch appErr.Kind {
	case KindUserNotFound, KindAccountNotFound, KindRecipientNotFound:
		return http.StatusNotFound
	case KindValidation, KindInsufficientFunds:
		return http.StatusBadRequest
	case KindAmbiguousRecipient:
		return http.StatusConflict
	case KindStoreFault:
		if appErr.Retryable {
			return http.StatusServiceUnavailable
		}
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
