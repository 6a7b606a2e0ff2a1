// Package serviceerr defines the structured errors returned by the service
// API. Every error carries an RFC 6749 style error code and an optional
// human readable description; the code decides the HTTP status.
package serviceerr

import "net/http"

type Code string

// RFC6749 authorization endpoint error codes. Providers report these on the
// callback redirect and the service relays them as-is.
const (
	CodeInvalidRequest          Code = "invalid_request"
	CodeUnauthorizedClient      Code = "unauthorized_client"
	CodeAccessDenied            Code = "access_denied"
	CodeUnsupportedResponseType Code = "unsupported_response_type"
	CodeInvalidScope            Code = "invalid_scope"
	CodeServerError             Code = "server_error"
	CodeTemporarilyUnavailable  Code = "temporarily_unavailable"
)

// Service specific error codes.
const (
	CodeUnknown        Code = "unknown"
	CodeUnauthorized   Code = "unauthorized"
	CodeNotFound       Code = "not_found"
	CodeExchangeFailed Code = "exchange_failed"
)

// RFC6749 authorization errors
var (
	ErrInvalidRequest          = &Error{Err: CodeInvalidRequest}
	ErrUnauthorizedClient      = &Error{Err: CodeUnauthorizedClient}
	ErrAccessDenied            = &Error{Err: CodeAccessDenied}
	ErrUnsupportedResponseType = &Error{Err: CodeUnsupportedResponseType}
	ErrInvalidScope            = &Error{Err: CodeInvalidScope}
	ErrServerError             = &Error{Err: CodeServerError}
	ErrTemporarilyUnavailable  = &Error{Err: CodeTemporarilyUnavailable}
)

// Service errors
var (
	ErrUnknown            = &Error{Err: CodeUnknown, Description: "unknown error"}
	ErrUnauthorized       = &Error{Err: CodeUnauthorized, Description: "invalid or missing api key"}
	ErrNotFound           = &Error{Err: CodeNotFound, Description: "not found"}
	ErrStateNotFound      = &Error{Err: CodeNotFound, Description: "Session expired or invalid state"}
	ErrMissingCodeOrState = &Error{Err: CodeInvalidRequest, Description: "Missing code or state"}
	ErrMissingIdentity    = &Error{Err: CodeInvalidRequest, Description: "Missing state"}
	ErrExchangeFailed     = &Error{Err: CodeExchangeFailed, Description: "token exchange failed"}
)

type Error struct {
	Err         Code
	Description string
}

func (e *Error) Error() string {
	if e.Description == "" {
		return string(e.Err)
	}

	return string(e.Err) + ": " + e.Description
}

// HTTPStatus maps the error code to the HTTP status code of the response.
func (e *Error) HTTPStatus() int {
	switch e.Err {
	case CodeInvalidRequest, CodeUnsupportedResponseType, CodeInvalidScope:
		return http.StatusBadRequest
	case CodeUnauthorizedClient:
		return http.StatusUnauthorized
	case CodeAccessDenied, CodeUnauthorized:
		return http.StatusForbidden
	case CodeTemporarilyUnavailable:
		return http.StatusServiceUnavailable
	case CodeNotFound:
		return http.StatusNotFound
	case CodeExchangeFailed:
		return http.StatusBadGateway
	case CodeServerError, CodeUnknown:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// FromProviderError converts an error reported by the provider on the
// callback redirect into a service error, keeping the provider's code.
func FromProviderError(code, description string) *Error {
	return &Error{Err: Code(code), Description: description}
}
