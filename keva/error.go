package keva

import (
	"net"

	"github.com/joomcode/errorx"
)

// Errors is the root namespace for all kevalink errors.
var Errors = errorx.NewNamespace("kevalink")

var (
	// ErrOpts - invalid options or arguments to a constructor.
	ErrOpts = Errors.NewType("opts")
	// ErrContextClosed - link or client were explicitly shut down.
	ErrContextClosed = Errors.NewType("context_closed")
	// ErrInvalidEndpoint - address could not be canonicalized.
	ErrInvalidEndpoint = Errors.NewType("invalid_endpoint")
	// ErrConnUnavailable - transport could not establish a socket within
	// the dial timeout. Surfaced as is, never retried by the controller.
	ErrConnUnavailable = Errors.NewType("connection_unavailable", errorx.Temporary())
	// ErrRequest - request is malformed and cannot be encoded.
	ErrRequest = Errors.NewType("request_malformed")
	// ErrIO - read/write error on an established connection.
	// It is not known whether the request was processed.
	ErrIO = Errors.NewType("io", errorx.Temporary())
	// ErrTimeout - io deadline expired.
	ErrTimeout = ErrIO.NewSubtype("timeout", errorx.Timeout())
	// ErrResponse - reply is not a valid wire reply.
	ErrResponse = Errors.NewType("response_malformed")
	// ErrResult - regular error reported by the server.
	ErrResult = Errors.NewType("result")
	// ErrRedirect - server answered "this key lives elsewhere".
	// Carries the target as EKTargetEndpoint.
	ErrRedirect = ErrResult.NewSubtype("redirect")
	// ErrTooManyRedirects - redirect retry bound exhausted, terminal.
	ErrTooManyRedirects = Errors.NewType("too_many_redirects")
)

var (
	// EKTargetEndpoint - Endpoint a redirect reply points at.
	EKTargetEndpoint = errorx.RegisterProperty("target")
	// EKEndpoint - Endpoint of the connection that handled the request.
	EKEndpoint = errorx.RegisterProperty("endpoint")
	// EKRequest - request that caused the error.
	EKRequest = errorx.RegisterProperty("request")
)

// Error casts a result value to error (result-as-error convention).
func Error(v interface{}) error {
	e, _ := v.(error)
	return e
}

// AsErrorx casts a result value to *errorx.Error, nil if it is not an error.
func AsErrorx(v interface{}) *errorx.Error {
	e, _ := v.(*errorx.Error)
	return e
}

// RedirectTarget extracts the target endpoint if v is a redirect reply.
func RedirectTarget(v interface{}) (Endpoint, bool) {
	e := AsErrorx(v)
	if e == nil || !e.IsOfType(ErrRedirect) {
		return Endpoint{}, false
	}
	t, ok := e.Property(EKTargetEndpoint)
	if !ok {
		return Endpoint{}, false
	}
	ep, ok := t.(Endpoint)
	return ep, ok
}

// WrapIO wraps a socket error, distinguishing deadline expiration.
func WrapIO(err error, msg string) *errorx.Error {
	if nerr, ok := err.(net.Error); ok && nerr.Timeout() {
		return ErrTimeout.Wrap(err, msg)
	}
	return ErrIO.Wrap(err, msg)
}
