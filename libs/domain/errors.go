package domain

import (
	"errors"
	"net/http"
)

type Kind string

const (
	KindValidation   Kind = "validation"
	KindNotFound     Kind = "not_found"
	KindConflict     Kind = "conflict"
	KindAuth         Kind = "auth"
	KindInvalidState Kind = "invalid_state"
	KindUnknown      Kind = "unknown"
)

// Error is the failure taxonomy shared by the backend and its clients.
// Fields carries per-field messages for validation failures.
type Error struct {
	Kind    Kind                `json:"kind"`
	Code    string              `json:"code,omitempty"`
	Message string              `json:"message"`
	Fields  map[string][]string `json:"errors,omitempty"`
	Err     error               `json:"-"`
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func Validation(code, message string, fields map[string][]string) *Error {
	return &Error{Kind: KindValidation, Code: code, Message: message, Fields: fields}
}

// FieldError is a validation failure on a single field.
func FieldError(field, message string) *Error {
	return Validation("invalid_"+field, message, map[string][]string{field: {message}})
}

func NotFound(message string) *Error {
	return &Error{Kind: KindNotFound, Code: "not_found", Message: message}
}

func Conflict(code, message string) *Error {
	return &Error{Kind: KindConflict, Code: code, Message: message}
}

// Auth is a missing or unusable identity.
func Auth(message string) *Error {
	return &Error{Kind: KindAuth, Code: CodeUnauthorized, Message: message}
}

// Forbidden is a known caller acting outside its permissions.
func Forbidden(message string) *Error {
	return &Error{Kind: KindAuth, Code: CodeForbidden, Message: message}
}

func InvalidState(message string) *Error {
	return &Error{Kind: KindInvalidState, Code: "invalid_state", Message: message}
}

func Unknown(message string, err error) *Error {
	return &Error{Kind: KindUnknown, Code: "unknown", Message: message, Err: err}
}

// KindOf returns KindUnknown for errors outside the taxonomy.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindUnknown
}

// CodeOf returns the machine code of err, or "" outside the taxonomy.
func CodeOf(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Retryable is true only for transport and unexpected server failures.
func Retryable(err error) bool {
	return err != nil && KindOf(err) == KindUnknown
}

func StatusCode(kind Kind) int {
	switch kind {
	case KindValidation:
		return http.StatusUnprocessableEntity
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindAuth:
		return http.StatusUnauthorized
	case KindInvalidState:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// KindFromStatus maps an HTTP response back to a kind. The error code breaks
// ties where one status carries several kinds.
func KindFromStatus(status int, code string) Kind {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return KindAuth
	case status == http.StatusNotFound:
		return KindNotFound
	case status == http.StatusConflict:
		if code == "invalid_state" {
			return KindInvalidState
		}
		return KindConflict
	case status == http.StatusUnprocessableEntity || status == http.StatusBadRequest:
		if code == CodeSlotUnavailable {
			return KindConflict
		}
		return KindValidation
	default:
		return KindUnknown
	}
}

const (
	// CodeSlotUnavailable is returned with 422 when a requested slot was taken.
	CodeSlotUnavailable = "slot_unavailable"
	CodeUnauthorized    = "unauthorized"
	CodeForbidden       = "forbidden"
)

func SlotUnavailable(message string) *Error {
	return &Error{
		Kind:    KindConflict,
		Code:    CodeSlotUnavailable,
		Message: message,
		Fields:  map[string][]string{"start_time": {message}},
	}
}

// HTTPStatus is the response status for e. A taken slot is reported as 422
// so form clients can attach it to the start_time field, and a permission
// failure as 403.
func (e *Error) HTTPStatus() int {
	switch {
	case e.Code == CodeSlotUnavailable:
		return http.StatusUnprocessableEntity
	case e.Kind == KindAuth && e.Code == CodeForbidden:
		return http.StatusForbidden
	}
	return StatusCode(e.Kind)
}
