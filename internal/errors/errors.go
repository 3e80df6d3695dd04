// Package errors provides the categorized error taxonomy for the shield wallet backend.
package errors

import (
	"fmt"
	"net/http"

	"github.com/shield-wallet/internal/types"
)

// ErrorCategory represents the category of an error
type ErrorCategory string

const (
	// CategoryAuth represents authentication and session errors
	CategoryAuth ErrorCategory = "auth"
	// CategoryCustody represents key custody errors
	CategoryCustody ErrorCategory = "custody"
	// CategoryLedger represents note ledger errors
	CategoryLedger ErrorCategory = "ledger"
	// CategoryValidation represents validation errors
	CategoryValidation ErrorCategory = "validation"
	// CategoryNotFound represents not found errors
	CategoryNotFound ErrorCategory = "not_found"
	// CategoryConflict represents conflict errors
	CategoryConflict ErrorCategory = "conflict"
	// CategorySystem represents infrastructure errors (5xx)
	CategorySystem ErrorCategory = "system"
	// CategoryDatabase represents database errors
	CategoryDatabase ErrorCategory = "database"
	// CategoryChain represents chain or prover collaborator errors
	CategoryChain ErrorCategory = "chain"
)

// CategorizedError represents an error with category and HTTP status code
type CategorizedError struct {
	Category   ErrorCategory
	StatusCode int
	Code       string
	Message    string
	Details    map[string]interface{}
	Cause      error
}

// Error implements the error interface
func (e *CategorizedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause
func (e *CategorizedError) Unwrap() error {
	return e.Cause
}

// ToServiceError converts to a ServiceError
func (e *CategorizedError) ToServiceError() *types.ServiceError {
	return &types.ServiceError{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
	}
}

// Is reports whether err carries the same error code
func Is(err error, code string) bool {
	catErr, ok := err.(*CategorizedError)
	return ok && catErr.Code == code
}

// Session and custody errors

// NewInvalidPasswordError reports a wrong password with attempts remaining
func NewInvalidPasswordError(attemptsRemaining int) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryAuth,
		StatusCode: http.StatusUnauthorized,
		Code:       "INVALID_PASSWORD",
		Message:    fmt.Sprintf("invalid password, %d attempts remaining", attemptsRemaining),
		Details: map[string]interface{}{
			"attemptsRemaining": attemptsRemaining,
		},
	}
}

// NewTooManyAttemptsError reports that the session was locked after repeated failures
func NewTooManyAttemptsError(lockoutMinutes int) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryAuth,
		StatusCode: http.StatusUnauthorized,
		Code:       "TOO_MANY_ATTEMPTS",
		Message:    fmt.Sprintf("too many failed attempts, account locked for %d minutes", lockoutMinutes),
		Details: map[string]interface{}{
			"lockoutMinutes": lockoutMinutes,
		},
	}
}

// NewSessionNotFoundError reports an unknown session token
func NewSessionNotFoundError() *CategorizedError {
	return &CategorizedError{
		Category:   CategoryAuth,
		StatusCode: http.StatusUnauthorized,
		Code:       "SESSION_NOT_FOUND",
		Message:    "session not found",
	}
}

// NewSessionExpiredError reports a session past its absolute TTL
func NewSessionExpiredError() *CategorizedError {
	return &CategorizedError{
		Category:   CategoryAuth,
		StatusCode: http.StatusUnauthorized,
		Code:       "SESSION_EXPIRED",
		Message:    "session expired, create a new session",
	}
}

// NewWalletLockedError reports a locked session (lockout in effect)
func NewWalletLockedError() *CategorizedError {
	return &CategorizedError{
		Category:   CategoryAuth,
		StatusCode: http.StatusUnauthorized,
		Code:       "WALLET_LOCKED",
		Message:    "account is locked, try again later",
	}
}

// NewNotUnlockedError reports that no decrypted key is resident for the session
func NewNotUnlockedError() *CategorizedError {
	return &CategorizedError{
		Category:   CategoryAuth,
		StatusCode: http.StatusUnauthorized,
		Code:       "NOT_UNLOCKED",
		Message:    "wallet is not unlocked, unlock it first",
	}
}

// NewDecryptionFailedError reports an authenticated decryption failure.
// Wrong password and corrupted ciphertext are intentionally indistinguishable.
func NewDecryptionFailedError() *CategorizedError {
	return &CategorizedError{
		Category:   CategoryCustody,
		StatusCode: http.StatusUnauthorized,
		Code:       "DECRYPTION_FAILED",
		Message:    "failed to decrypt private key: invalid password or corrupted data",
	}
}

// Ledger errors

// NewInsufficientBalanceError reports that unspent notes cannot cover the target amount
func NewInsufficientBalanceError(token, available string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryLedger,
		StatusCode: http.StatusBadRequest,
		Code:       "INSUFFICIENT_BALANCE",
		Message:    fmt.Sprintf("insufficient private balance, only %s available", available),
		Details: map[string]interface{}{
			"token":     token,
			"available": available,
		},
	}
}

// NewDuplicateCommitmentError reports a commitment uniqueness violation
func NewDuplicateCommitmentError(commitment string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryConflict,
		StatusCode: http.StatusConflict,
		Code:       "DUPLICATE_COMMITMENT",
		Message:    "commitment already exists",
		Details: map[string]interface{}{
			"commitment": commitment,
		},
	}
}

// NewEmptyOldNotesError reports a spend with no input notes
func NewEmptyOldNotesError() *CategorizedError {
	return &CategorizedError{
		Category:   CategoryValidation,
		StatusCode: http.StatusBadRequest,
		Code:       "EMPTY_OLD_NOTES",
		Message:    "spend requires at least one input note",
	}
}

// NewTooManyInputsError reports more input notes than the proof circuit arity allows
func NewTooManyInputsError(count, max int) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryValidation,
		StatusCode: http.StatusBadRequest,
		Code:       "TOO_MANY_INPUTS",
		Message:    fmt.Sprintf("spend selects %d notes, proof inputs allow at most %d", count, max),
		Details: map[string]interface{}{
			"count": count,
			"max":   max,
		},
	}
}

// NewMissingRecipientCommitmentError reports spend outputs without a recipient note
func NewMissingRecipientCommitmentError() *CategorizedError {
	return &CategorizedError{
		Category:   CategoryValidation,
		StatusCode: http.StatusBadRequest,
		Code:       "MISSING_RECIPIENT_COMMITMENT",
		Message:    "spend outputs must include a recipient commitment",
	}
}

// NewContentionError reports a concurrent spend on the same owner/token pair.
// Callers are expected to retry with backoff.
func NewContentionError(owner, token string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryConflict,
		StatusCode: http.StatusConflict,
		Code:       "CONTENTION",
		Message:    "another spend is in flight for this token, retry shortly",
		Details: map[string]interface{}{
			"owner": owner,
			"token": token,
		},
	}
}

// General errors

// NewNotFoundError creates a not found error
func NewNotFoundError(resource string, id string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryNotFound,
		StatusCode: http.StatusNotFound,
		Code:       "NOT_FOUND",
		Message:    fmt.Sprintf("%s not found: %s", resource, id),
		Details: map[string]interface{}{
			"resource": resource,
			"id":       id,
		},
	}
}

// NewValidationError creates an invalid parameter error
func NewValidationError(param string, reason string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryValidation,
		StatusCode: http.StatusBadRequest,
		Code:       "INVALID_PARAMETER",
		Message:    fmt.Sprintf("invalid parameter '%s': %s", param, reason),
		Details: map[string]interface{}{
			"parameter": param,
			"reason":    reason,
		},
	}
}

// NewConflictError creates a conflict error
func NewConflictError(message string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryConflict,
		StatusCode: http.StatusConflict,
		Code:       "CONFLICT",
		Message:    message,
	}
}

// NewDatabaseError creates a database error
func NewDatabaseError(operation string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryDatabase,
		StatusCode: http.StatusInternalServerError,
		Code:       "DATABASE_ERROR",
		Message:    fmt.Sprintf("database error during %s", operation),
		Cause:      cause,
		Details: map[string]interface{}{
			"operation": operation,
		},
	}
}

// NewOperationFailedError reports an infrastructure fault during the commit path.
// It is distinct from every domain error so callers never misreport, for example,
// a chain outage as an insufficient balance.
func NewOperationFailedError(operation string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategorySystem,
		StatusCode: http.StatusBadGateway,
		Code:       "OPERATION_FAILED",
		Message:    fmt.Sprintf("operation failed during %s", operation),
		Cause:      cause,
		Details: map[string]interface{}{
			"operation": operation,
		},
	}
}

// NewInternalError creates an internal server error
func NewInternalError(message string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategorySystem,
		StatusCode: http.StatusInternalServerError,
		Code:       "INTERNAL_ERROR",
		Message:    message,
		Cause:      cause,
	}
}

// Categorize categorizes an existing error
func Categorize(err error) *CategorizedError {
	if err == nil {
		return nil
	}

	// If already categorized, return as-is
	if catErr, ok := err.(*CategorizedError); ok {
		return catErr
	}

	// Default to internal error
	return NewInternalError("unexpected error", err)
}
