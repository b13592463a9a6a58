package relationaldb

import (
	"errors"
	"fmt"
)

// Error types for different categories of database errors
var (
	// Configuration errors
	ErrMissingDSN          = errors.New("database DSN is required")
	ErrInvalidDriver       = errors.New("invalid database driver")
	ErrInvalidMaxOpenConns = errors.New("max open connections must be >= 0")
	ErrInvalidMaxIdleConns = errors.New("max idle connections must be >= 0")
	ErrInvalidTimeout      = errors.New("timeout must be positive")

	// Connection errors
	ErrDatabaseClosed = errors.New("database connection is closed")

	// Data errors
	ErrAccountNotFound   = errors.New("ledger account not found")
	ErrJournalNotFound   = errors.New("journal not found")
	ErrBalanceNotFound   = errors.New("account balance not found")
	ErrOverdraftNotFound = errors.New("overdraft facility not found")
	ErrRecordNotFound    = errors.New("record not found")
	ErrStateConflict     = errors.New("row state changed underneath the update")

	// Idempotency errors
	ErrDuplicateIdempotency = errors.New("idempotency record already exists")

	// Append-only guard errors
	ErrLedgerWriteDenied = errors.New("direct write to append-only ledger table denied")
)

// ErrorType represents different categories of database errors.
type ErrorType int

const (
	ErrorTypeUnknown ErrorType = iota
	ErrorTypeConfiguration
	ErrorTypeConnection
	ErrorTypeTransaction
	ErrorTypeData
	ErrorTypeConstraint
	ErrorTypeGuard
)

// Error wraps a database error with operation context and category.
type Error struct {
	Type    ErrorType
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("relationaldb %s: %s: %v", e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("relationaldb %s: %s", e.Op, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// NewConfigurationError creates a configuration-category error.
func NewConfigurationError(op, message string, err error) *Error {
	return &Error{Type: ErrorTypeConfiguration, Op: op, Message: message, Err: err}
}

// NewConnectionError creates a connection-category error.
func NewConnectionError(op, message string, err error) *Error {
	return &Error{Type: ErrorTypeConnection, Op: op, Message: message, Err: err}
}

// NewTransactionError creates a transaction-category error.
func NewTransactionError(op, message string, err error) *Error {
	return &Error{Type: ErrorTypeTransaction, Op: op, Message: message, Err: err}
}

// NewDataError creates a data-category error.
func NewDataError(op, message string, err error) *Error {
	return &Error{Type: ErrorTypeData, Op: op, Message: message, Err: err}
}

// NewGuardError creates a guard-category error for refused ledger writes.
func NewGuardError(op, message string) *Error {
	return &Error{Type: ErrorTypeGuard, Op: op, Message: message, Err: ErrLedgerWriteDenied}
}
