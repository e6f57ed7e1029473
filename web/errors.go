// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package web

import "net/http"

// ErrorResponse is a struct for error responses that also implements the error interface.
type ErrorResponse struct {
	StatusCode int    `json:"-"`
	Message    string `json:"error"`
}

func (e *ErrorResponse) Error() string {
	return e.Message
}

var (
	// ErrNotFound is returned when the requested resource is not found.
	ErrNotFound = &ErrorResponse{StatusCode: http.StatusNotFound, Message: "not found"}

	// ErrInternalError is returned when an internal error occurs.
	ErrInternalError = &ErrorResponse{StatusCode: http.StatusInternalServerError, Message: "internal error"}

	// ErrUnavailable is returned when the server is shutting down.
	ErrUnavailable = &ErrorResponse{StatusCode: http.StatusServiceUnavailable, Message: "service unavailable"}
)

// badRequest returns a 400 response with a specific message.
func badRequest(message string) *ErrorResponse {
	return &ErrorResponse{StatusCode: http.StatusBadRequest, Message: message}
}

// notFound returns a 404 response with a specific message.
func notFound(message string) *ErrorResponse {
	return &ErrorResponse{StatusCode: http.StatusNotFound, Message: message}
}
