// Package apperror provides HTTP-facing errors and maps validator errors to a
// standardized format.
package apperror

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
)

// Error is an error that carries the HTTP status it should be answered with.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

func New(status int, msg string) *Error {
	return &Error{Status: status, Message: msg}
}

var (
	ErrInvalidPayload = New(http.StatusBadRequest, "invalid request payload")
	ErrUnauthorized   = New(http.StatusUnauthorized, "authentication credentials were not provided or are invalid")
	ErrForbidden      = New(http.StatusForbidden, "you do not have permission to perform this action")
	ErrNotFound       = New(http.StatusNotFound, "not found")
	ErrInvalidPage    = New(http.StatusNotFound, "invalid page")
)

// As reports whether err is an *Error and returns it.
func As(err error) (*Error, bool) {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

var tagMessages = map[string]string{
	"required":  "is required",
	"email":     "must be a valid email address",
	"timeofday": "must be a time of day in HH:MM format",
	"numeric":   "must contain only digits",
}

// CustomValidationError converts validator errors into a list of
// {field: message} entries. Other errors produce an empty list.
func CustomValidationError(err error) []map[string]string {
	errList := make([]map[string]string, 0)

	var validationErr validator.ValidationErrors
	if !errors.As(err, &validationErr) {
		return errList
	}
	for _, e := range validationErr {
		errList = append(errList, map[string]string{e.Field(): message(e)})
	}
	return errList
}

func message(e validator.FieldError) string {
	if msg, ok := tagMessages[e.Tag()]; ok {
		return msg
	}
	switch e.Tag() {
	case "min":
		return fmt.Sprintf("must be at least %s characters long", e.Param())
	case "max":
		return fmt.Sprintf("must be at most %s characters long", e.Param())
	}
	return fmt.Sprintf("%s is invalid", e.Field())
}
