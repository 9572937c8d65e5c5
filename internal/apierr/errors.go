// Package apierr defines the error taxonomy shared by the query and write
// pipelines. Every rejection surfaced to a caller is an *Error carrying one
// of the numeric codes below.
package apierr

import (
	"errors"
	"fmt"
)

// Code is a numeric error code as reported to clients.
type Code int

const (
	InternalServerError   Code = 1
	ObjectNotFound        Code = 101
	InvalidQuery          Code = 102
	InvalidClassName      Code = 103
	MissingObjectID       Code = 104
	InvalidKeyName        Code = 105
	InvalidPointer        Code = 106
	InvalidJSON           Code = 107
	IncorrectType         Code = 111
	OperationForbidden    Code = 119
	InvalidACL            Code = 123
	InvalidEmailAddress   Code = 125
	InvalidInstallation   Code = 132
	MissingRequiredField  Code = 135
	ChangedImmutableField Code = 136
	DuplicateValue        Code = 137
	ScriptFailed          Code = 141
	ValidationError       Code = 142
	UsernameMissing       Code = 200
	PasswordMissing       Code = 201
	UsernameTaken         Code = 202
	EmailTaken            Code = 203
	EmailMissing          Code = 204
	SessionMissing        Code = 206
	AccountAlreadyLinked  Code = 208
	InvalidSessionToken   Code = 209
	UnsupportedService    Code = 252
)

var codeNames = map[Code]string{
	InternalServerError:   "INTERNAL_SERVER_ERROR",
	ObjectNotFound:        "OBJECT_NOT_FOUND",
	InvalidQuery:          "INVALID_QUERY",
	InvalidClassName:      "INVALID_CLASS_NAME",
	MissingObjectID:       "MISSING_OBJECT_ID",
	InvalidKeyName:        "INVALID_KEY_NAME",
	InvalidPointer:        "INVALID_POINTER",
	InvalidJSON:           "INVALID_JSON",
	IncorrectType:         "INCORRECT_TYPE",
	OperationForbidden:    "OPERATION_FORBIDDEN",
	InvalidACL:            "INVALID_ACL",
	InvalidEmailAddress:   "INVALID_EMAIL_ADDRESS",
	InvalidInstallation:   "INVALID_INSTALLATION",
	MissingRequiredField:  "MISSING_REQUIRED_FIELD",
	ChangedImmutableField: "CHANGED_IMMUTABLE_FIELD",
	DuplicateValue:        "DUPLICATE_VALUE",
	ScriptFailed:          "SCRIPT_FAILED",
	ValidationError:       "VALIDATION_ERROR",
	UsernameMissing:       "USERNAME_MISSING",
	PasswordMissing:       "PASSWORD_MISSING",
	UsernameTaken:         "USERNAME_TAKEN",
	EmailTaken:            "EMAIL_TAKEN",
	EmailMissing:          "EMAIL_MISSING",
	SessionMissing:        "SESSION_MISSING",
	AccountAlreadyLinked:  "ACCOUNT_ALREADY_LINKED",
	InvalidSessionToken:   "INVALID_SESSION_TOKEN",
	UnsupportedService:    "UNSUPPORTED_SERVICE",
}

// String returns the symbolic name of the code.
func (c Code) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("CODE_%d", int(c))
}

// Error is a rejection carrying a client-visible code.
type Error struct {
	// Code identifies the error category.
	Code Code

	// Message is a human-readable description.
	Message string

	// Field names the offending field, when one is known. The store sets it
	// on DuplicateValue so callers can tell which unique index collided.
	Field string

	// Cause is the underlying error, if any.
	Cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s (field=%s)", e.Code, e.Message, e.Field)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates an Error with a formatted message.
func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error that keeps cause for errors.Is/As.
func Wrap(code Code, cause error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// Duplicate creates a DuplicateValue error for field.
func Duplicate(field string) *Error {
	return &Error{
		Code:    DuplicateValue,
		Message: "A duplicate value for a field with unique values was provided",
		Field:   field,
	}
}

// As extracts the *Error from err. Uses errors.As to handle wrapped errors.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// Is returns true if err is an *Error with the given code.
func Is(err error, code Code) bool {
	e, ok := As(err)
	return ok && e.Code == code
}

// CodeOf returns the code of err, or InternalServerError for foreign errors.
func CodeOf(err error) Code {
	if e, ok := As(err); ok {
		return e.Code
	}
	return InternalServerError
}

// IsNotFound returns true if err is an ObjectNotFound error.
func IsNotFound(err error) bool {
	return Is(err, ObjectNotFound)
}

// IsDuplicate returns true if err is a DuplicateValue error.
func IsDuplicate(err error) bool {
	return Is(err, DuplicateValue)
}

// Payload returns the client-facing {code, error} body for err.
func Payload(err error) map[string]any {
	e, ok := As(err)
	if !ok {
		return map[string]any{"code": float64(InternalServerError), "error": err.Error()}
	}
	return map[string]any{"code": float64(e.Code), "error": e.Message}
}
