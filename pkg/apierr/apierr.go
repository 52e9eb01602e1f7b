// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package apierr defines the error kinds the upload API reports and how each
// one maps to an HTTP status.
package apierr

import (
	"errors"
	"net/http"
)

// APIError describes how an error kind is presented to clients.
type APIError struct {
	Code           string
	Description    string
	HTTPStatusCode int
}

// ErrorCode is an enumeration of upload API error kinds. ErrorCode values
// are errors themselves so they can be matched with errors.Is.
type ErrorCode int

const (
	ErrNone ErrorCode = iota
	ErrInvalidPayload
	ErrMissingHeader
	ErrNotFound
	ErrAlreadyExists
	ErrResourceInUse
	ErrInternal
)

var errorCodeResponse = map[ErrorCode]APIError{
	ErrInvalidPayload: {
		Code:           "invalid_payload",
		Description:    "The request payload is invalid.",
		HTTPStatusCode: http.StatusBadRequest,
	},
	ErrMissingHeader: {
		Code:           "missing_header",
		Description:    "A required header is missing.",
		HTTPStatusCode: http.StatusBadRequest,
	},
	ErrNotFound: {
		Code:           "not_found",
		Description:    "The requested resource was not found.",
		HTTPStatusCode: http.StatusNotFound,
	},
	ErrAlreadyExists: {
		Code:           "already_exists",
		Description:    "The target name is already taken.",
		HTTPStatusCode: http.StatusConflict,
	},
	ErrResourceInUse: {
		Code:           "resource_in_use",
		Description:    "The resource is locked by another operation.",
		HTTPStatusCode: http.StatusConflict,
	},
}

func (e ErrorCode) APIError() APIError {
	if err, ok := errorCodeResponse[e]; ok {
		return err
	}
	return APIError{
		Code:           "internal",
		Description:    "We encountered an internal error. Please try again.",
		HTTPStatusCode: http.StatusInternalServerError,
	}
}

func (e ErrorCode) Code() string {
	return e.APIError().Code
}

func (e ErrorCode) Error() string {
	return e.APIError().Description
}

func (e ErrorCode) HTTPStatusCode() int {
	return e.APIError().HTTPStatusCode
}

// Error is an ErrorCode with a client-facing message, an optional result
// body and the underlying cause.
type Error struct {
	Kind    ErrorCode
	Message string
	Result  any
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Kind.Error()
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func New(kind ErrorCode, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

func Wrap(kind ErrorCode, err error, msg string) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

// WithResult returns a copy of e that carries result in the response body.
func (e *Error) WithResult(result any) *Error {
	c := *e
	c.Result = result
	return &c
}

// Resolve maps any error to its kind, client message and result body.
// Errors that carry no kind are internal and keep their cause out of the
// message.
func Resolve(err error) (ErrorCode, string, any) {
	if err == nil {
		return ErrNone, "", nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		msg := ae.Message
		if msg == "" {
			msg = ae.Kind.Error()
		}
		return ae.Kind, msg, ae.Result
	}
	var code ErrorCode
	if errors.As(err, &code) {
		return code, code.Error(), nil
	}
	return ErrInternal, ErrInternal.Error(), nil
}
