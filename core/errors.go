package core

import (
	"github.com/cockroachdb/errors"
)

// ErrServerClosed is returned by Serve after Shutdown or once its context is
// cancelled.
var ErrServerClosed = errors.New("h1: server closed")

// ErrNilResponse is reported when a handler returns neither a response nor
// an error.
var ErrNilResponse = errors.New("handler returned a nil response")

// ErrorKind classifies a connection failure.
type ErrorKind uint8

const (
	KindIO         ErrorKind = iota // read or write failed, peer went away
	KindParse                       // request was malformed or too large
	KindMiddleware                  // a middleware rejected the request
	KindHandler                     // the handler failed or panicked
	numKinds
)

func (k ErrorKind) String() string {
	switch k {
	case KindIO:
		return "io"
	case KindParse:
		return "parse"
	case KindMiddleware:
		return "middleware"
	case KindHandler:
		return "handler"
	default:
		return "unknown"
	}
}

// ConnError is the error that ended a connection.
type ConnError struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *ConnError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *ConnError) Unwrap() error { return e.Err }

// KindOf returns the kind of the first ConnError in err's chain. Errors that
// carry no kind are reported as KindIO.
func KindOf(err error) ErrorKind {
	var ce *ConnError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindIO
}
