// Package errors defines the categorised error types used across the
// reconciliation service.
//
// Two shapes of failure exist in this system:
//   - structural failures (unreadable payload, store unavailable) that
//     abort an operation and surface as a single *ReconcilerError
//   - row/record-level failures that are collected into a RowErrors
//     list and reported alongside the successful rows
//
// Callers inspect errors with the Is* helpers rather than matching on
// message text.
package errors

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// ErrorCategory groups errors by the subsystem or policy that produced them.
type ErrorCategory string

const (
	CategoryParse         ErrorCategory = "parse"
	CategoryValidation    ErrorCategory = "validation"
	CategoryNotFound      ErrorCategory = "not_found"
	CategoryInvalidState  ErrorCategory = "invalid_state"
	CategoryStore         ErrorCategory = "store"
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryInternal      ErrorCategory = "internal"
)

// ErrorCode identifies a specific failure within a category.
type ErrorCode string

const (
	// Parse errors
	CodeInvalidFormat ErrorCode = "invalid_format"
	CodeInvalidDate   ErrorCode = "invalid_date"
	CodeInvalidAmount ErrorCode = "invalid_amount"
	CodeAmbiguousRow  ErrorCode = "ambiguous_row"
	CodeEncodingError ErrorCode = "encoding_error"
	CodeUnknownBank   ErrorCode = "unknown_bank"

	// Validation errors
	CodeMissingField ErrorCode = "missing_field"
	CodeOutOfRange   ErrorCode = "out_of_range"

	// Lookup / lifecycle errors
	CodeTransactionNotFound ErrorCode = "transaction_not_found"
	CodeInvoiceNotFound     ErrorCode = "invoice_not_found"
	CodeBatchNotFound       ErrorCode = "batch_not_found"
	CodeNoActiveMatch       ErrorCode = "no_active_match"
	CodeAlreadyConfirmed    ErrorCode = "already_confirmed"
	CodeNotConfirmed        ErrorCode = "not_confirmed"

	// Store errors
	CodeStoreUnavailable ErrorCode = "store_unavailable"
	CodeQueryFailed      ErrorCode = "query_failed"
	CodeMigrationFailed  ErrorCode = "migration_failed"

	// Configuration errors
	CodeInvalidConfig ErrorCode = "invalid_config"

	// Internal errors
	CodeUnexpectedError ErrorCode = "unexpected_error"
)

// ReconcilerError is the error type returned by all packages in this module.
type ReconcilerError struct {
	Category   ErrorCategory     `json:"category"`
	Code       ErrorCode         `json:"code"`
	Message    string            `json:"message"`
	Context    Context           `json:"context,omitempty"`
	Cause      error             `json:"-"`
	StackTrace errors.StackTrace `json:"-"`
}

// Context carries structured key/value details about the failure.
type Context map[string]interface{}

func (e *ReconcilerError) Error() string {
	return e.Message
}

// Unwrap returns the underlying cause error.
func (e *ReconcilerError) Unwrap() error {
	return e.Cause
}

// WithContext attaches a key/value detail to the error.
func (e *ReconcilerError) WithContext(key string, value interface{}) *ReconcilerError {
	if e.Context == nil {
		e.Context = make(Context)
	}
	e.Context[key] = value
	return e
}

// GetExitCode maps the error category to a CLI exit code.
func (e *ReconcilerError) GetExitCode() int {
	switch e.Category {
	case CategoryParse, CategoryValidation:
		return 3
	case CategoryConfiguration:
		return 4
	case CategoryNotFound, CategoryInvalidState:
		return 5
	case CategoryStore, CategoryInternal:
		return 6
	default:
		return 1
	}
}

type stackTracer interface {
	StackTrace() errors.StackTrace
}

// New creates a new ReconcilerError.
func New(category ErrorCategory, code ErrorCode, message string) *ReconcilerError {
	return &ReconcilerError{
		Category:   category,
		Code:       code,
		Message:    message,
		StackTrace: errors.New("").(stackTracer).StackTrace(),
	}
}

// Wrap wraps an existing error with category and code context.
func Wrap(err error, category ErrorCategory, code ErrorCode, message string) *ReconcilerError {
	if err == nil {
		return nil
	}
	return &ReconcilerError{
		Category:   category,
		Code:       code,
		Message:    message,
		Cause:      err,
		StackTrace: errors.WithStack(err).(stackTracer).StackTrace(),
	}
}

// ParseError reports a malformed value at a specific row of an import payload.
func ParseError(code ErrorCode, row int, field, value string, err error) *ReconcilerError {
	msg := fmt.Sprintf("parse error at row %d, field '%s': '%s'", row, field, value)
	var result *ReconcilerError
	if err != nil {
		result = Wrap(err, CategoryParse, code, msg)
	} else {
		result = New(CategoryParse, code, msg)
	}
	return result.
		WithContext("row", row).
		WithContext("field", field).
		WithContext("value", value)
}

// ValidationError reports a missing or out-of-range field on a record.
func ValidationError(code ErrorCode, field string, value interface{}) *ReconcilerError {
	msg := fmt.Sprintf("validation error on field '%s': %v", field, value)
	if code == CodeMissingField {
		msg = fmt.Sprintf("required field '%s' is missing or empty", field)
	}
	return New(CategoryValidation, code, msg).
		WithContext("field", field).
		WithContext("value", value)
}

// NotFoundError reports an unknown entity id.
func NotFoundError(code ErrorCode, kind, id string) *ReconcilerError {
	return New(CategoryNotFound, code, fmt.Sprintf("%s not found: %s", kind, id)).
		WithContext("id", id)
}

// InvalidStateError reports a lifecycle transition that is not allowed
// from the entity's current state.
func InvalidStateError(code ErrorCode, id, detail string) *ReconcilerError {
	return New(CategoryInvalidState, code, fmt.Sprintf("invalid state for transaction %s: %s", id, detail)).
		WithContext("id", id)
}

// StoreError wraps a database failure.
func StoreError(code ErrorCode, operation string, err error) *ReconcilerError {
	return Wrap(err, CategoryStore, code, fmt.Sprintf("store error during %s", operation)).
		WithContext("operation", operation)
}

// ConfigurationError reports an invalid configuration value.
func ConfigurationError(setting string, value interface{}) *ReconcilerError {
	return New(CategoryConfiguration, CodeInvalidConfig,
		fmt.Sprintf("invalid configuration for '%s': %v", setting, value)).
		WithContext("setting", setting).
		WithContext("value", value)
}

// IsNotFound reports whether err is a not-found error.
func IsNotFound(err error) bool {
	re, ok := AsReconcilerError(err)
	return ok && re.Category == CategoryNotFound
}

// IsInvalidState reports whether err is an invalid-state error.
func IsInvalidState(err error) bool {
	re, ok := AsReconcilerError(err)
	return ok && re.Category == CategoryInvalidState
}

// IsParse reports whether err is a parse error.
func IsParse(err error) bool {
	re, ok := AsReconcilerError(err)
	return ok && re.Category == CategoryParse
}

// IsValidation reports whether err is a validation error.
func IsValidation(err error) bool {
	re, ok := AsReconcilerError(err)
	return ok && re.Category == CategoryValidation
}

// AsReconcilerError extracts a ReconcilerError from an error chain.
func AsReconcilerError(err error) (*ReconcilerError, bool) {
	var re *ReconcilerError
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}

// RowError ties an error to the source row or record index it occurred at.
type RowError struct {
	Index int              `json:"index"`
	Err   *ReconcilerError `json:"error"`
}

func (re *RowError) Error() string {
	return fmt.Sprintf("row %d: %s", re.Index, re.Err.Error())
}

// RowErrors collects row-level failures during a partial-success operation.
type RowErrors []*RowError

// Add appends a row-level error.
func (res *RowErrors) Add(index int, err *ReconcilerError) {
	*res = append(*res, &RowError{Index: index, Err: err})
}

// Messages returns one formatted line per collected error.
func (res RowErrors) Messages() []string {
	msgs := make([]string, 0, len(res))
	for _, re := range res {
		msgs = append(msgs, re.Error())
	}
	return msgs
}

func (res RowErrors) Error() string {
	switch len(res) {
	case 0:
		return "no errors"
	case 1:
		return res[0].Error()
	default:
		return fmt.Sprintf("%d row errors: %s", len(res), strings.Join(res.Messages(), "; "))
	}
}
