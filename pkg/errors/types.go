package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

// ErrorType represents the type of error
type ErrorType int

const (
	// ErrorTypeTransport indicates a transport layer error
	ErrorTypeTransport ErrorType = iota
	// ErrorTypeProtocol indicates a malformed or unknown frame
	ErrorTypeProtocol
	// ErrorTypeValidation indicates invalid operation arguments
	ErrorTypeValidation
	// ErrorTypeUnknownSender indicates the sending user has no user record
	ErrorTypeUnknownSender
	// ErrorTypeUnknownRecipient indicates the addressed user has no user record
	ErrorTypeUnknownRecipient
	// ErrorTypeNotFound indicates a missing message or channel
	ErrorTypeNotFound
	// ErrorTypeForbidden indicates an authorization denial
	ErrorTypeForbidden
	// ErrorTypePersistence indicates the store was unavailable
	ErrorTypePersistence
	// ErrorTypeRateLimited indicates the session exceeded its send budget
	ErrorTypeRateLimited
	// ErrorTypeInternal indicates an internal error
	ErrorTypeInternal
)

var typeNames = map[ErrorType]string{
	ErrorTypeTransport:        "transport",
	ErrorTypeProtocol:         "protocol",
	ErrorTypeValidation:       "validation",
	ErrorTypeUnknownSender:    "unknown_sender",
	ErrorTypeUnknownRecipient: "unknown_recipient",
	ErrorTypeNotFound:         "not_found",
	ErrorTypeForbidden:        "forbidden",
	ErrorTypePersistence:      "persistence_failure",
	ErrorTypeRateLimited:      "rate_limited",
	ErrorTypeInternal:         "internal",
}

// String implements fmt.Stringer
func (t ErrorType) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return "unknown"
}

// MarshalText encodes the type by name on the wire
func (t ErrorType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// Error codes reported to clients
const (
	CodeInvalidFrame       = "INVALID_FRAME"
	CodeUnknownOperation   = "UNKNOWN_OPERATION"
	CodeInvalidArgument    = "INVALID_ARGUMENT"
	CodeNotRegistered      = "NOT_REGISTERED"
	CodeUnknownSender      = "UNKNOWN_SENDER"
	CodeUnknownRecipient   = "UNKNOWN_RECIPIENT"
	CodeMessageNotFound    = "MESSAGE_NOT_FOUND"
	CodeChannelNotFound    = "CHANNEL_NOT_FOUND"
	CodeForbiddenChannel   = "FORBIDDEN_CHANNEL"
	CodeForbiddenGuild     = "FORBIDDEN_GUILD"
	CodeForbiddenNotFriend = "FORBIDDEN_NOT_FRIENDS"
	CodeForbiddenNotOwner  = "FORBIDDEN_NOT_OWNER"
	CodeForbiddenIdentity  = "FORBIDDEN_IDENTITY"
	CodePersistence        = "PERSISTENCE_FAILURE"
	CodeRateLimited        = "RATE_LIMITED"
	CodeInternal           = "INTERNAL"
)

// Error represents a structured error with metadata
type Error struct {
	Type      ErrorType `json:"type"`
	Code      string    `json:"code"`
	Message   string    `json:"message"`
	Details   string    `json:"details,omitempty"`
	Cause     error     `json:"-"`
	Timestamp time.Time `json:"timestamp"`
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %s (caused by: %v)", e.Code, e.Message, e.Details, e.Cause)
	}
	if e.Details != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is checks if the error is of a specific type
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Type == t.Type && e.Code == t.Code
}

// New creates a new error
func New(errorType ErrorType, code, message string) *Error {
	return &Error{
		Type:      errorType,
		Code:      code,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// Wrap wraps an error with additional context
func Wrap(err error, errorType ErrorType, code, message string) *Error {
	return &Error{
		Type:      errorType,
		Code:      code,
		Message:   message,
		Cause:     err,
		Timestamp: time.Now(),
	}
}

// WithDetails adds details to an error
func (e *Error) WithDetails(details string) *Error {
	e.Details = details
	return e
}

// TypeOf returns the type of the first *Error in err's chain.
// Untyped errors report ErrorTypeInternal.
func TypeOf(err error) ErrorType {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Type
	}
	return ErrorTypeInternal
}

// As is errors.As re-exported so callers need a single errors import
func As(err error, target any) bool {
	return stderrors.As(err, target)
}

// Is is errors.Is re-exported so callers need a single errors import
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}
