package apperror

import (
	"fmt"
	"net/http"
)

// AppError is a structured error that maps to HTTP responses.
type AppError struct {
	Code       string `json:"error_code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"-"`
	Retryable  bool   `json:"-"` // Transient fault; caller may retry the operation
	Err        error  `json:"-"` // Wrapped internal error (not exposed to client)
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code string, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

// Wrap wraps an internal error with an AppError.
func Wrap(code string, message string, httpStatus int, err error) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Err:        err,
	}
}

// IsRetryable reports whether err carries a retryable AppError.
func IsRetryable(err error) bool {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Retryable
	}
	return false
}

// ---- Payment Business Logic (PAY) ----

func ErrInvalidAmount() *AppError {
	return New("PAY_001", "Invalid amount", http.StatusBadRequest)
}

func ErrUnknownMethod(code string) *AppError {
	return New("PAY_002", fmt.Sprintf("Unknown payment method: %s", code), http.StatusBadRequest)
}

// Validation returns a PAY_002-style validation error.
func Validation(message string) *AppError {
	return New("PAY_002", message, http.StatusBadRequest)
}

func ErrDuplicateOrder() *AppError {
	return New("PAY_003", "A live payment attempt already exists for this merchant order", http.StatusConflict)
}

func ErrNotFound(entity string) *AppError {
	return New("PAY_004", fmt.Sprintf("%s not found", entity), http.StatusNotFound)
}

func ErrInvalidTransition(from, to string) *AppError {
	return New("PAY_005", fmt.Sprintf("Invalid status transition: %s -> %s", from, to), http.StatusConflict)
}

func ErrConflictingOutcome() *AppError {
	return New("PAY_005", "Conflicting outcome for an already settled operation", http.StatusConflict)
}

func ErrRefundExceedsBalance() *AppError {
	return New("PAY_006", "Refund amount exceeds remaining refundable balance", http.StatusBadRequest)
}

func ErrOrderNotRefundable() *AppError {
	return New("PAY_007", "Order is not in a refundable state", http.StatusBadRequest)
}

func ErrCurrencyMismatch(got, want string) *AppError {
	return New("PAY_008", fmt.Sprintf("Currency mismatch: %s vs %s", got, want), http.StatusBadRequest)
}

// ---- Signature & Tamper (SEC) ----

func ErrInvalidSignature() *AppError {
	return New("SEC_001", "Invalid callback signature", http.StatusUnauthorized)
}

func ErrAmountMismatch() *AppError {
	return New("SEC_002", "Callback amount does not match order amount", http.StatusBadRequest)
}

// ---- Authentication (AUTH) ----

func ErrInvalidCredentials() *AppError {
	return New("AUTH_001", "Invalid credentials", http.StatusUnauthorized)
}

func ErrInvalidToken() *AppError {
	return New("AUTH_002", "Invalid or expired token", http.StatusUnauthorized)
}

// ---- System & Infrastructure (SYS) ----

// InternalError wraps an internal error as a SYS_001 error.
func InternalError(err error) *AppError {
	return Wrap("SYS_001", "Internal server error", http.StatusInternalServerError, err)
}

func ErrLockTimeout(err error) *AppError {
	e := Wrap("SYS_002", "Order lock acquisition timeout", http.StatusServiceUnavailable, err)
	e.Retryable = true
	return e
}

// ErrGatewayUnavailable marks a transport-level gateway fault (network,
// timeout). Retryable: no local state was changed.
func ErrGatewayUnavailable(err error) *AppError {
	e := Wrap("SYS_003", "Payment gateway unavailable", http.StatusBadGateway, err)
	e.Retryable = true
	return e
}

// ErrGatewayRejected marks a terminal gateway rejection (bad merchant config,
// unsupported operation). Not retryable.
func ErrGatewayRejected(reason string) *AppError {
	return New("SYS_004", fmt.Sprintf("Payment gateway rejected the request: %s", reason), http.StatusBadGateway)
}
