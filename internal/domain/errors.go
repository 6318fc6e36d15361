package domain

import (
	"github.com/pkg/errors"
	"github.com/vadiminshakov/bankdapp/pkg/units"
)

var (
	// ErrInvalidRequest bad local input, never sent to the network.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrInvalidAmount amount is not a valid ether value.
	ErrInvalidAmount = units.ErrInvalidAmount
	// ErrActionInFlight the same action is already running.
	ErrActionInFlight = errors.New("action already in flight")
	// ErrProviderUnavailable no wallet provider or not connected.
	ErrProviderUnavailable = errors.New("wallet provider unavailable")
	// ErrUserRejected the user declined a wallet prompt.
	ErrUserRejected = errors.New("rejected by user")
	// ErrEstimationFailed the call would revert or cannot be estimated.
	ErrEstimationFailed = errors.New("gas estimation failed")
	// ErrSubmissionFailed the network or provider failed after signing.
	ErrSubmissionFailed = errors.New("transaction submission failed")
	// ErrQueryFailed a read-only contract query failed.
	ErrQueryFailed = errors.New("contract query failed")
	// ErrSync balances could not be refreshed.
	ErrSync = errors.New("balance sync failed")
)

// SyncError reports a failed refresh while keeping the cause reachable by errors.Is.
type SyncError struct {
	Cause error
}

// NewSyncError wraps cause as a sync failure.
func NewSyncError(cause error) *SyncError {
	return &SyncError{Cause: cause}
}

func (e *SyncError) Error() string {
	if e.Cause == nil {
		return ErrSync.Error()
	}
	return ErrSync.Error() + ": " + e.Cause.Error()
}

func (e *SyncError) Unwrap() error { return e.Cause }

// Is makes errors.Is(err, ErrSync) hold for every SyncError.
func (e *SyncError) Is(target error) bool { return target == ErrSync }

// ErrorCategory is a user-facing failure class.
type ErrorCategory string

const (
	CategoryNone                ErrorCategory = ""
	CategoryInvalidRequest      ErrorCategory = "invalid_request"
	CategoryProviderUnavailable ErrorCategory = "provider_unavailable"
	CategoryUserRejected        ErrorCategory = "user_rejected"
	CategoryEstimationFailed    ErrorCategory = "estimation_failed"
	CategorySubmissionFailed    ErrorCategory = "submission_failed"
	CategoryQueryFailed         ErrorCategory = "query_failed"
	CategorySyncError           ErrorCategory = "sync_error"
	CategoryUnknown             ErrorCategory = "unknown"
)

// messages shown to the user instead of raw provider errors
var categoryMessages = map[ErrorCategory]string{
	CategoryInvalidRequest:      "Check the amount and recipient and try again",
	CategoryProviderUnavailable: "Wallet is not available, connect your wallet first",
	CategoryUserRejected:        "Request was declined in the wallet",
	CategoryEstimationFailed:    "Transaction would fail, check your balance",
	CategorySubmissionFailed:    "Transaction could not be completed by the network",
	CategoryQueryFailed:         "Could not read data from the contract",
	CategorySyncError:           "Balances could not be refreshed and may be out of date",
	CategoryUnknown:             "Something went wrong",
}

// Category classifies err. ErrSync wins over the wrapped query error.
func Category(err error) ErrorCategory {
	switch {
	case err == nil:
		return CategoryNone
	case errors.Is(err, ErrSync):
		return CategorySyncError
	case errors.Is(err, ErrInvalidRequest), errors.Is(err, ErrInvalidAmount), errors.Is(err, ErrActionInFlight):
		return CategoryInvalidRequest
	case errors.Is(err, ErrUserRejected):
		return CategoryUserRejected
	case errors.Is(err, ErrProviderUnavailable):
		return CategoryProviderUnavailable
	case errors.Is(err, ErrEstimationFailed):
		return CategoryEstimationFailed
	case errors.Is(err, ErrSubmissionFailed):
		return CategorySubmissionFailed
	case errors.Is(err, ErrQueryFailed):
		return CategoryQueryFailed
	default:
		return CategoryUnknown
	}
}

// Describe returns a human-readable message for err.
func Describe(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, ErrActionInFlight) {
		return "This action is already in progress"
	}
	return categoryMessages[Category(err)]
}
