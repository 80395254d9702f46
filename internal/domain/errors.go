package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// RetriableError defines an interface for errors that can be retried
type RetriableError interface {
	error
	IsRetriable() bool
}

// IsRetriable checks if an error is retriable
func IsRetriable(err error) bool {
	var re RetriableError
	if errors.As(err, &re) {
		return re.IsRetriable()
	}
	return false
}

// NetworkError represents a network-related error that may be retriable
type NetworkError struct {
	Op        string // Operation that failed (e.g., "fetch_rate", "resolve_account")
	Err       error  // Underlying error
	Retriable bool   // Whether this error is retriable
}

func (e *NetworkError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *NetworkError) IsRetriable() bool {
	return e.Retriable
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// NewNetworkError creates a new retriable network error
func NewNetworkError(op string, err error) *NetworkError {
	return &NetworkError{Op: op, Err: err, Retriable: true}
}

// NewFatalNetworkError creates a non-retriable network error
func NewFatalNetworkError(op string, err error) *NetworkError {
	return &NetworkError{Op: op, Err: err, Retriable: false}
}

// ConfigError represents a configuration error (never retriable)
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return "config error [" + e.Field + "]: " + e.Err.Error()
}

func (e *ConfigError) IsRetriable() bool {
	return false
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// ValidationCode identifies why a quote input was rejected.
type ValidationCode string

const (
	CodeInvalidAmount       ValidationCode = "invalid_amount"
	CodeNonPositiveAmount   ValidationCode = "non_positive_amount"
	CodeBelowMinimum        ValidationCode = "below_minimum"
	CodeAboveMaximum        ValidationCode = "above_maximum"
	CodeInsufficientBalance ValidationCode = "insufficient_balance"
	CodeMissingRate         ValidationCode = "missing_rate"
	CodeTooManyDecimals     ValidationCode = "too_many_decimals"
)

// ValidationError carries every quote problem found for one input.
// It is resolved at the UI boundary and never stored on an order.
type ValidationError struct {
	Issues []ValidationIssue
}

// ValidationIssue is a single coded problem.
type ValidationIssue struct {
	Code    ValidationCode `json:"code"`
	Message string         `json:"message"`
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Issues))
	for _, is := range e.Issues {
		parts = append(parts, string(is.Code))
	}
	return "validation failed: " + strings.Join(parts, ", ")
}

// Has reports whether the error contains code.
func (e *ValidationError) Has(code ValidationCode) bool {
	for _, is := range e.Issues {
		if is.Code == code {
			return true
		}
	}
	return false
}

// StaleRateWarning is attached to a rate snapshot when the latest refresh
// failed and the last known rate is served instead. It is never fatal.
type StaleRateWarning struct {
	Asset     string
	Chain     string
	FetchedAt time.Time
	Err       error
}

func (e *StaleRateWarning) Error() string {
	return fmt.Sprintf("rate for %s/%s is stale since %s: %v",
		e.Asset, e.Chain, e.FetchedAt.Format(time.RFC3339), e.Err)
}

func (e *StaleRateWarning) IsRetriable() bool { return true }

func (e *StaleRateWarning) Unwrap() error { return e.Err }

// VerificationError is returned when a bank account can't be resolved.
// The user recovers by retrying or re-entering details.
type VerificationError struct {
	BankCode      string
	AccountNumber string
	Reason        string
	Err           error
}

func (e *VerificationError) Error() string {
	msg := "account verification failed"
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *VerificationError) IsRetriable() bool { return true }

func (e *VerificationError) Unwrap() error { return e.Err }

// InvalidTransitionError signals a lifecycle bug: a patch tried to move status
// backward, skip the settlement gate or change a frozen field.
type InvalidTransitionError struct {
	OrderID string
	From    OrderStatus
	To      OrderStatus
	Field   string
}

func (e *InvalidTransitionError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("invalid transition on order %s: field %q is frozen", e.OrderID, e.Field)
	}
	return fmt.Sprintf("invalid transition on order %s: %s -> %s", e.OrderID, e.From, e.To)
}

func (e *InvalidTransitionError) IsRetriable() bool { return false }

// SubmissionError wraps a failed payment submission. It is never retried
// automatically; only an explicit user action may try again.
type SubmissionError struct {
	OrderID string
	Err     error
}

func (e *SubmissionError) Error() string {
	return "submission failed for order " + e.OrderID + ": " + e.Err.Error()
}

func (e *SubmissionError) IsRetriable() bool { return false }

func (e *SubmissionError) Unwrap() error { return e.Err }

// UnsupportedAssetError is returned instead of silently substituting another asset.
type UnsupportedAssetError struct {
	Asset string
	Chain string
}

func (e *UnsupportedAssetError) Error() string {
	return fmt.Sprintf("unsupported asset %s on %s", e.Asset, e.Chain)
}

var (
	// ErrOrderNotFound is returned when no order exists for an id.
	ErrOrderNotFound = errors.New("order not found")

	// ErrOrderExpired is terminal for the order; the user must start a new quote.
	ErrOrderExpired = errors.New("rate lock expired")

	// ErrNoActiveLock is returned when no rate lock has been stored.
	ErrNoActiveLock = errors.New("no active rate lock")

	// ErrSigningCancelled is returned when the user rejects the wallet prompt.
	ErrSigningCancelled = errors.New("signing cancelled")

	// ErrSigningFailed is returned when the wallet could not produce a signature.
	ErrSigningFailed = errors.New("signing failed")

	// ErrWalletNotConnected is returned when a wallet operation is attempted without a connection.
	ErrWalletNotConnected = errors.New("wallet not connected")

	// ErrRateLimited is returned when too many verification attempts were made.
	ErrRateLimited = errors.New("too many verification attempts")

	// ErrAccountNotFound is returned for an unknown saved account id.
	ErrAccountNotFound = errors.New("saved account not found")

	// ErrUnknownBank is returned for a bank code outside the supported list.
	ErrUnknownBank = errors.New("unknown bank code")

	// ErrInvalidAccountNumber is returned when the account number isn't 10 digits.
	ErrInvalidAccountNumber = errors.New("account number must be 10 digits")

	// ErrWrongStep is returned when a bank-details flow action is used out of order.
	ErrWrongStep = errors.New("action not allowed in current step")

	// ErrNotReady is returned when settlement is attempted before the signature gate.
	ErrNotReady = errors.New("order is not ready for settlement")
)
