package dto

import (
	"errors"
	"net/http"

	"github.com/ledgerlink/backend/internal/domain/shared"
)

// Error code constants organized by category
// Format: ERR_<CATEGORY>_<DESCRIPTION>

// General error codes
const (
	// ErrCodeUnknown is used when the error type is unknown
	ErrCodeUnknown = "ERR_UNKNOWN"
	// ErrCodeInternal is used for internal server errors
	ErrCodeInternal = "ERR_INTERNAL"
)

// Validation error codes
const (
	// ErrCodeValidation is the base code for validation errors
	ErrCodeValidation = "ERR_VALIDATION"
)

// Resource error codes
const (
	// ErrCodeNotFound is used when a resource is not found
	ErrCodeNotFound = "ERR_NOT_FOUND"
	// ErrCodeAlreadyExists is used when trying to create a duplicate resource
	ErrCodeAlreadyExists = "ERR_ALREADY_EXISTS"
	// ErrCodeConflict is used for unique-key conflicts
	ErrCodeConflict = "ERR_CONFLICT"
	// ErrCodeConcurrencyConflict is used when a compare-and-swap lost
	ErrCodeConcurrencyConflict = "ERR_CONCURRENCY_CONFLICT"
	// ErrCodeReference is used when a write points at a missing or foreign-company record
	ErrCodeReference = "ERR_REFERENCE"
	// ErrCodeDataIntegrity is used when a document failed checksum verification
	ErrCodeDataIntegrity = "ERR_DATA_INTEGRITY"
)

// Business rule error codes
const (
	// ErrCodeInvalidState is used when an operation is invalid for current state
	ErrCodeInvalidState = "ERR_INVALID_STATE"
	// ErrCodeBusinessRule is used for generic business rule violations
	ErrCodeBusinessRule = "ERR_BUSINESS_RULE"
)

// Input error codes
const (
	// ErrCodeBadRequest is used for malformed requests
	ErrCodeBadRequest = "ERR_BAD_REQUEST"
	// ErrCodeInvalidInput is used for invalid input data
	ErrCodeInvalidInput = "ERR_INVALID_INPUT"
	// ErrCodeRequestTooLarge is used when the body exceeds the configured limit
	ErrCodeRequestTooLarge = "ERR_REQUEST_TOO_LARGE"
)

// Availability error codes
const (
	// ErrCodeRateLimited is used when rate limit is exceeded
	ErrCodeRateLimited = "ERR_RATE_LIMITED"
	// ErrCodePoolExhausted is used when no store connection became free in time
	ErrCodePoolExhausted = "ERR_POOL_EXHAUSTED"
	// ErrCodeStoreUnavailable is used when a store kept failing after retries
	ErrCodeStoreUnavailable = "ERR_STORE_UNAVAILABLE"
	// ErrCodeTimeout is used when the request deadline expired
	ErrCodeTimeout = "ERR_TIMEOUT"
)

// ErrorCodeHTTPStatus maps error codes to HTTP status codes
var ErrorCodeHTTPStatus = map[string]int{
	ErrCodeUnknown:  http.StatusInternalServerError,
	ErrCodeInternal: http.StatusInternalServerError,

	ErrCodeValidation: http.StatusBadRequest,

	ErrCodeNotFound:            http.StatusNotFound,
	ErrCodeAlreadyExists:       http.StatusConflict,
	ErrCodeConflict:            http.StatusConflict,
	ErrCodeConcurrencyConflict: http.StatusConflict,
	ErrCodeDataIntegrity:       http.StatusConflict,

	// Business rule errors -> 422 Unprocessable Entity
	ErrCodeReference:    http.StatusUnprocessableEntity,
	ErrCodeInvalidState: http.StatusUnprocessableEntity,
	ErrCodeBusinessRule: http.StatusUnprocessableEntity,

	ErrCodeBadRequest:      http.StatusBadRequest,
	ErrCodeInvalidInput:    http.StatusBadRequest,
	ErrCodeRequestTooLarge: http.StatusRequestEntityTooLarge,

	ErrCodeRateLimited:      http.StatusTooManyRequests,
	ErrCodePoolExhausted:    http.StatusServiceUnavailable,
	ErrCodeStoreUnavailable: http.StatusServiceUnavailable,
	ErrCodeTimeout:          http.StatusGatewayTimeout,
}

// GetHTTPStatus returns the HTTP status code for an error code
// Returns 500 Internal Server Error if the error code is not found
func GetHTTPStatus(code string) int {
	if status, ok := ErrorCodeHTTPStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// LegacyErrorCodeMapping maps domain error codes to API codes. Domain codes
// not listed here are validation failures of a single value.
var LegacyErrorCodeMapping = map[string]string{
	"NOT_FOUND":             ErrCodeNotFound,
	"ALREADY_EXISTS":        ErrCodeAlreadyExists,
	"INVALID_INPUT":         ErrCodeInvalidInput,
	"INVALID_STATE":         ErrCodeInvalidState,
	"CONCURRENCY_CONFLICT":  ErrCodeConcurrencyConflict,
	"LINK_VERSION_CONFLICT": ErrCodeConcurrencyConflict,
	"POOL_EXHAUSTED":        ErrCodePoolExhausted,
	"STORE_UNAVAILABLE":     ErrCodeStoreUnavailable,
	"TIMED_OUT":             ErrCodeTimeout,
	"UNRESOLVED_REFERENCE":  ErrCodeBusinessRule,
	"PROJECT_ARCHIVED":      ErrCodeBusinessRule,
	"CONTENT_NOT_FOUND":     ErrCodeBusinessRule,
}

// NormalizeErrorCode converts a domain error code to the API format. Unknown
// domain codes become ERR_INVALID_INPUT.
func NormalizeErrorCode(code string) string {
	if newCode, ok := LegacyErrorCodeMapping[code]; ok {
		return newCode
	}
	if _, ok := ErrorCodeHTTPStatus[code]; ok {
		return code
	}
	return ErrCodeInvalidInput
}

// ClassifyError maps an error from the application layer to an API error code
// and a message safe to return. Unknown errors are internal.
func ClassifyError(err error) (code, message string) {
	var (
		conflict    *shared.ConflictError
		reference   *shared.ReferenceError
		integrity   *shared.DataIntegrityError
		unavailable *shared.StoreUnavailableError
		timedOut    *shared.TimedOutError
		domainErr   *shared.DomainError
	)
	switch {
	case errors.As(err, &integrity):
		return ErrCodeDataIntegrity, "Document failed checksum verification and is quarantined"
	case errors.As(err, &conflict):
		return ErrCodeConflict, conflict.Error()
	case errors.As(err, &reference):
		return ErrCodeReference, reference.Error()
	case errors.As(err, &timedOut), errors.Is(err, shared.ErrTimedOut):
		return ErrCodeTimeout, "The operation timed out"
	case errors.As(err, &unavailable), errors.Is(err, shared.ErrStoreUnavailable):
		return ErrCodeStoreUnavailable, "A backing store is unavailable, retry later"
	case errors.Is(err, shared.ErrPoolExhausted):
		return ErrCodePoolExhausted, "The service is busy, retry later"
	case errors.As(err, &domainErr):
		code := NormalizeErrorCode(domainErr.Code)
		if domainErr == shared.ErrInvalidState || domainErr == shared.ErrNotFound {
			// Wrapped sentinels carry the specific message in the wrapper.
			return code, err.Error()
		}
		return code, domainErr.Message
	}
	return ErrCodeInternal, "An unexpected error occurred"
}
