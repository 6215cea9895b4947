package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error represents a typed domain error with HTTP awareness.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"status"`
	Err     error  `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches errors sharing the same code so sentinel comparisons survive Clone and Wrap.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) || e == nil || t == nil {
		return false
	}
	return e.Code == t.Code
}

// New creates a new Error instance.
func New(code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

// Wrap attaches context to an existing error.
func Wrap(err error, code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message, Err: err}
}

// Predefined errors for common scenarios.
var (
	ErrNotFound   = New("NOT_FOUND", http.StatusNotFound, "resource not found")
	ErrValidation = New("VALIDATION_ERROR", http.StatusBadRequest, "validation failed")
	ErrInternal   = New("INTERNAL_ERROR", http.StatusInternalServerError, "internal server error")
	ErrCacheMiss  = New("CACHE_MISS", http.StatusNotFound, "cache miss")

	// Input
	ErrAmbiguousReference = New("AMBIGUOUS_REFERENCE", http.StatusConflict, "reference matches several students")
	ErrPositionOutOfRange = New("POSITION_OUT_OF_RANGE", http.StatusBadRequest, "position out of range")
	ErrClarification      = New("CLARIFICATION_REQUIRED", http.StatusBadRequest, "clarification required")

	// Planning
	ErrInvalidAction       = New("INVALID_ACTION", http.StatusUnprocessableEntity, "action not in catalog")
	ErrMissingParameter    = New("MISSING_PARAMETER", http.StatusUnprocessableEntity, "required parameter missing")
	ErrUnknownField        = New("UNKNOWN_FIELD", http.StatusUnprocessableEntity, "unknown table or field")
	ErrOperatorMismatch    = New("OPERATOR_MISMATCH", http.StatusUnprocessableEntity, "operator does not match field type")
	ErrGradesOperator      = New("GRADES_OPERATOR", http.StatusUnprocessableEntity, "calificaciones requires a JSON operator")
	ErrUnsupportedOperator = New("UNSUPPORTED_OPERATOR", http.StatusUnprocessableEntity, "operator not supported by this action")

	// Execution
	ErrQueryFailed       = New("QUERY_FAILED", http.StatusInternalServerError, "query failed")
	ErrNoResults         = New("NO_RESULTS", http.StatusNotFound, "no results")
	ErrStudentNotFound   = New("STUDENT_NOT_FOUND", http.StatusNotFound, "student not found")
	ErrCertificateFailed = New("CERTIFICATE_FAILED", http.StatusInternalServerError, "certificate generation failed")

	// Transport
	ErrLLMTransport  = New("LLM_TRANSPORT", http.StatusServiceUnavailable, "language model unavailable")
	ErrDBUnavailable = New("DB_UNAVAILABLE", http.StatusServiceUnavailable, "database unavailable")

	// Content
	ErrLLMInvalidJSON = New("LLM_INVALID_JSON", http.StatusBadGateway, "language model returned invalid JSON")

	// Safety
	ErrUnsafeSQL = New("UNSAFE_SQL", http.StatusForbidden, "statement rejected")

	// Session
	ErrTurnCancelled = New("TURN_CANCELLED", http.StatusConflict, "turn superseded by a newer message")
)

// Class groups error codes into the handling taxonomy.
type Class string

// Taxonomy classes.
const (
	ClassInput     Class = "input"
	ClassPlanning  Class = "planning"
	ClassExecution Class = "execution"
	ClassTransport Class = "transport"
	ClassSafety    Class = "safety"
	ClassContent   Class = "content"
	ClassSession   Class = "session"
	ClassInternal  Class = "internal"
)

var classByCode = map[string]Class{
	ErrAmbiguousReference.Code:  ClassInput,
	ErrPositionOutOfRange.Code:  ClassInput,
	ErrClarification.Code:       ClassInput,
	ErrValidation.Code:          ClassInput,
	ErrInvalidAction.Code:       ClassPlanning,
	ErrMissingParameter.Code:    ClassPlanning,
	ErrUnknownField.Code:        ClassPlanning,
	ErrOperatorMismatch.Code:    ClassPlanning,
	ErrGradesOperator.Code:      ClassPlanning,
	ErrUnsupportedOperator.Code: ClassPlanning,
	ErrQueryFailed.Code:         ClassExecution,
	ErrNoResults.Code:           ClassExecution,
	ErrStudentNotFound.Code:     ClassExecution,
	ErrCertificateFailed.Code:   ClassExecution,
	ErrLLMTransport.Code:        ClassTransport,
	ErrDBUnavailable.Code:       ClassTransport,
	ErrLLMInvalidJSON.Code:      ClassContent,
	ErrUnsafeSQL.Code:           ClassSafety,
	ErrNotFound.Code:            ClassSession,
	ErrTurnCancelled.Code:       ClassSession,
}

// ClassOf returns the taxonomy class of err.
func ClassOf(err error) Class {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		if class, ok := classByCode[e.Code]; ok {
			return class
		}
	}
	return ClassInternal
}

// FromError normalises any error into an *Error.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(err, ErrInternal.Code, ErrInternal.Status, ErrInternal.Message)
}

// Clone returns a copy of the error allowing for message overrides.
func Clone(err *Error, message string) *Error {
	if err == nil {
		return nil
	}
	clone := *err
	if message != "" {
		clone.Message = message
	}
	return &clone
}
