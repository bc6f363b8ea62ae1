package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrRateLimited   = errors.New("rate limited")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrInvalidOrder  = errors.New("invalid order parameters")
	ErrSigningFailed = errors.New("signing failed")
	ErrWSDisconnect  = errors.New("websocket disconnected")
	ErrLockHeld      = errors.New("lock already held")
	ErrOutOfOrder    = errors.New("price point out of order")
)

// Kind sentinels. Every *Error matches exactly one of these with errors.Is.
var (
	ErrData       = errors.New("data error")
	ErrLiquidity  = errors.New("liquidity error")
	ErrValidation = errors.New("validation error")
	ErrExecution  = errors.New("execution error")
	ErrConfig     = errors.New("config error")
)

// Specific failure reasons.
var (
	ErrStaleData             = errors.New("StaleData")
	ErrSourceUnavailable     = errors.New("SourceUnavailable")
	ErrUnsupportedAsset      = errors.New("UnsupportedAsset")
	ErrPriceDeviation        = errors.New("PriceDeviation")
	ErrInsufficientLiquidity = errors.New("InsufficientLiquidity")
	ErrExpiredOpportunity    = errors.New("ExpiredOpportunity")
	ErrPriceMoved            = errors.New("PriceMoved")
	ErrAssetBusy             = errors.New("AssetBusy")
	ErrCapacityExhausted     = errors.New("CapacityExhausted")
	ErrCancelled             = errors.New("Cancelled")
	ErrLoanFailed            = errors.New("LoanFailed")
	ErrTradeLegFailed        = errors.New("TradeLegFailed")
	ErrRepaymentFailed       = errors.New("RepaymentFailed")
	ErrSettlementFailed      = errors.New("SettlementFailed")
	ErrExecutionTimeout      = errors.New("ExecutionTimeout")
	ErrInvalidConfig         = errors.New("InvalidConfig")
	ErrDuplicate             = errors.New("DuplicateOpportunity")
)

// Error is a classified failure. Kind is one of the kind sentinels above and
// Reason one of the specific sentinels; Err is the underlying cause, if any.
type Error struct {
	Kind   error
	Reason error
	Detail string
	Err    error
}

func (e *Error) Error() string {
	msg := e.Kind.Error() + ": " + e.Reason.Error()
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap lets errors.Is match the kind, the reason and the cause.
func (e *Error) Unwrap() []error {
	out := []error{e.Kind, e.Reason}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

func newError(kind, reason error, cause error, format string, args ...any) *Error {
	detail := format
	if len(args) > 0 {
		detail = fmt.Sprintf(format, args...)
	}
	return &Error{Kind: kind, Reason: reason, Detail: detail, Err: cause}
}

// DataError reports a stale, missing or deviant price.
func DataError(reason, cause error, format string, args ...any) *Error {
	return newError(ErrData, reason, cause, format, args...)
}

// LiquidityError reports insufficient book depth.
func LiquidityError(reason, cause error, format string, args ...any) *Error {
	return newError(ErrLiquidity, reason, cause, format, args...)
}

// ValidationError reports a parameter, deadline or threshold violation.
func ValidationError(reason, cause error, format string, args ...any) *Error {
	return newError(ErrValidation, reason, cause, format, args...)
}

// ExecutionError reports a loan, leg or repayment failure inside a unit.
func ExecutionError(reason, cause error, format string, args ...any) *Error {
	return newError(ErrExecution, reason, cause, format, args...)
}

// ConfigError reports malformed limits or fees.
func ConfigError(reason, cause error, format string, args ...any) *Error {
	return newError(ErrConfig, reason, cause, format, args...)
}

// ReasonOf returns the specific reason carried by err, or "" when err is not
// a classified *Error.
func ReasonOf(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Reason != nil {
		return e.Reason.Error()
	}
	return ""
}
