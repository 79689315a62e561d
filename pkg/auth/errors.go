package auth

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/maleva/customer-portal/pkg/httpclient"
)

type ErrorKind string

const (
	KindInvalidCredentials ErrorKind = "InvalidCredentials"
	KindNetworkError       ErrorKind = "NetworkError"
	KindServerError        ErrorKind = "ServerError"
)

const (
	MsgInvalidCredentials = "Invalid UserName & Password"
	MsgAccessDenied       = "Access denied. Please contact administrator."
	MsgUnavailable        = "Service temporarily unavailable. Please try again later."
	MsgRecheckCredentials = "Please Enter the correct User Name & Password"
	MsgGeneric            = "Something went wrong. Please try again."
	MsgNetwork            = "Network connection failed. Please check your internet connection."
	MsgUnexpected         = "An unexpected error occurred."
)

// AuthError is a login failure with a message fit to show the user.
type AuthError struct {
	Kind    ErrorKind
	Message string
	Status  int
	Err     error
}

func (e *AuthError) Error() string { return e.Message }

func (e *AuthError) Unwrap() error { return e.Err }

func classifyLoginError(err error) *AuthError {
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return authErr
	}

	var domainErr *httpclient.DomainError
	if errors.As(err, &domainErr) {
		return &AuthError{Kind: KindInvalidCredentials, Message: domainErr.Message, Err: err}
	}

	var netErr *httpclient.NetworkError
	if errors.As(err, &netErr) {
		return &AuthError{Kind: KindNetworkError, Message: MsgNetwork, Err: err}
	}

	var httpErr *httpclient.HTTPError
	if errors.As(err, &httpErr) {
		kind, msg := statusMessage(httpErr)
		return &AuthError{Kind: kind, Message: msg, Status: httpErr.Status, Err: err}
	}

	return &AuthError{Kind: KindServerError, Message: MsgUnexpected, Err: err}
}

func statusMessage(httpErr *httpclient.HTTPError) (ErrorKind, string) {
	switch httpErr.Status {
	case http.StatusBadRequest, http.StatusUnauthorized:
		return KindInvalidCredentials, MsgInvalidCredentials
	case http.StatusForbidden:
		return KindInvalidCredentials, MsgAccessDenied
	case http.StatusNotFound, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return KindServerError, MsgUnavailable
	case http.StatusInternalServerError:
		return KindServerError, MsgRecheckCredentials
	}

	var body struct {
		Message string `json:"Message"`
	}
	if json.Unmarshal(httpErr.Body, &body) == nil && body.Message != "" {
		return KindServerError, body.Message
	}
	return KindServerError, MsgGeneric
}
