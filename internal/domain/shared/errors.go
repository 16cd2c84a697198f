package shared

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DomainError represents a domain-level error
type DomainError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface
func (e *DomainError) Error() string {
	return e.Message
}

// NewDomainError creates a new domain error
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
	}
}

// Common domain errors
var (
	ErrNotFound            = NewDomainError("NOT_FOUND", "Resource not found")
	ErrAlreadyExists       = NewDomainError("ALREADY_EXISTS", "Resource already exists")
	ErrInvalidInput        = NewDomainError("INVALID_INPUT", "Invalid input provided")
	ErrConcurrencyConflict = NewDomainError("CONCURRENCY_CONFLICT", "Resource was modified by another process")
	ErrInvalidState        = NewDomainError("INVALID_STATE", "Operation not allowed in current state")

	// ErrPoolExhausted is returned when no pooled connection became free before the acquire timeout.
	ErrPoolExhausted = NewDomainError("POOL_EXHAUSTED", "Connection pool exhausted")
	// ErrStoreUnavailable is the kind matched by StoreUnavailableError.
	ErrStoreUnavailable = NewDomainError("STORE_UNAVAILABLE", "Store unavailable")
	// ErrTimedOut is the kind matched by TimedOutError.
	ErrTimedOut = NewDomainError("TIMED_OUT", "Operation timed out")
)

// ConflictError reports a unique-key violation. Never retried.
type ConflictError struct {
	Entity     string
	ID         string
	Constraint string
	Err        error
}

func (e *ConflictError) Error() string {
	msg := fmt.Sprintf("conflict on %s", e.Entity)
	if e.ID != "" {
		msg += " " + e.ID
	}
	if e.Constraint != "" {
		msg += fmt.Sprintf(" (constraint %s)", e.Constraint)
	}
	return msg
}

func (e *ConflictError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrAlreadyExists) match conflicts.
func (e *ConflictError) Is(target error) bool {
	return target == ErrAlreadyExists
}

// NewConflictError creates a ConflictError
func NewConflictError(entity, id, constraint string, cause error) *ConflictError {
	return &ConflictError{Entity: entity, ID: id, Constraint: constraint, Err: cause}
}

// ReferenceError reports a write that points at a missing or foreign-company record.
type ReferenceError struct {
	Entity     string
	ID         string
	Constraint string
	Err        error
}

func (e *ReferenceError) Error() string {
	msg := fmt.Sprintf("invalid reference from %s", e.Entity)
	if e.ID != "" {
		msg += " to " + e.ID
	}
	if e.Constraint != "" {
		msg += fmt.Sprintf(" (constraint %s)", e.Constraint)
	}
	return msg
}

func (e *ReferenceError) Unwrap() error { return e.Err }

// NewReferenceError creates a ReferenceError
func NewReferenceError(entity, id, constraint string, cause error) *ReferenceError {
	return &ReferenceError{Entity: entity, ID: id, Constraint: constraint, Err: cause}
}

// StoreUnavailableError is returned once transient failures exhausted the retry budget.
type StoreUnavailableError struct {
	Store    string
	Attempts int
	Err      error
}

func (e *StoreUnavailableError) Error() string {
	return fmt.Sprintf("%s store unavailable after %d attempts: %v", e.Store, e.Attempts, e.Err)
}

func (e *StoreUnavailableError) Unwrap() error { return e.Err }

func (e *StoreUnavailableError) Is(target error) bool {
	return target == ErrStoreUnavailable
}

// TimedOutError is returned when the caller's deadline expired during an operation.
type TimedOutError struct {
	Op  string
	Err error
}

func (e *TimedOutError) Error() string {
	return fmt.Sprintf("%s timed out: %v", e.Op, e.Err)
}

func (e *TimedOutError) Unwrap() error { return e.Err }

func (e *TimedOutError) Is(target error) bool {
	return target == ErrTimedOut
}

// DataIntegrityError reports a checksum mismatch on read. The record is quarantined.
type DataIntegrityError struct {
	DocumentID uuid.UUID
	Expected   string
	Actual     string
}

func (e *DataIntegrityError) Error() string {
	return fmt.Sprintf("document %s checksum mismatch: expected %s, got %s", e.DocumentID, e.Expected, e.Actual)
}

// PostingFailedError describes a posting run whose ledger write succeeded but whose
// document-side writes did not. It is recorded, not propagated to end users.
type PostingFailedError struct {
	DocumentID    uuid.UUID
	LedgerEntryID uuid.UUID
	FailedAt      time.Time
	Err           error
}

func (e *PostingFailedError) Error() string {
	return fmt.Sprintf("posting of document %s failed after ledger entry %s was created: %v",
		e.DocumentID, e.LedgerEntryID, e.Err)
}

func (e *PostingFailedError) Unwrap() error { return e.Err }

// IsRetryable reports whether the caller may retry the operation with backoff.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrPoolExhausted) || errors.Is(err, ErrStoreUnavailable)
}

// IsBusinessRuleViolation reports conflicts and reference errors, which are never retried.
func IsBusinessRuleViolation(err error) bool {
	var conflict *ConflictError
	var ref *ReferenceError
	return errors.As(err, &conflict) || errors.As(err, &ref)
}
