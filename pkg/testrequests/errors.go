package testrequests

import (
	"errors"
	"net/http"
	"strings"
)

type Kind string

const (
	KindInvalidID  Kind = "InvalidID"
	KindValidation Kind = "ValidationError"
	KindForbidden  Kind = "Forbidden"
	KindNotFound   Kind = "NotFound"
)

// ResponseError rejects a single request. The message is returned to the caller verbatim.
type ResponseError struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *ResponseError) Error() string {
	return e.Message
}

func (e *ResponseError) Unwrap() error {
	return e.Err
}

func (e *ResponseError) StatusCode() int {
	switch e.Kind {
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusBadRequest
	}
}

func InvalidID(message string) error {
	return &ResponseError{Kind: KindInvalidID, Message: message}
}

func Validation(violations ...string) error {
	return &ResponseError{
		Kind:    KindValidation,
		Message: "ConstraintViolationException: " + strings.Join(violations, "; "),
	}
}

func Forbidden(message string, cause error) error {
	return &ResponseError{Kind: KindForbidden, Message: message, Err: cause}
}

func NotFound(message string) error {
	return &ResponseError{Kind: KindNotFound, Message: message}
}

// KindOf returns the rejection kind carried by err, or "" for unexpected failures.
func KindOf(err error) Kind {
	var re *ResponseError
	if errors.As(err, &re) {
		return re.Kind
	}
	return ""
}
