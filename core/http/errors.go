package http

import "github.com/cockroachdb/errors"

// ErrIncomplete reports that the buffer holds only a prefix of a request.
// It is not a failure: the caller reads more bytes and parses again.
var ErrIncomplete = errors.New("incomplete request")

// ErrMalformed is the class of every protocol violation reported by Parse.
var ErrMalformed = errors.New("malformed request")

// Malformed request details. Each wraps ErrMalformed.
var (
	ErrInvalidMethod               = errors.Wrap(ErrMalformed, "invalid method")
	ErrInvalidTarget               = errors.Wrap(ErrMalformed, "invalid request target")
	ErrUnsupportedVersion          = errors.Wrap(ErrMalformed, "unsupported HTTP version")
	ErrInvalidLineEnding           = errors.Wrap(ErrMalformed, "line not terminated by CRLF")
	ErrInvalidHeader               = errors.Wrap(ErrMalformed, "invalid header line")
	ErrTooManyHeaders              = errors.Wrap(ErrMalformed, "too many headers")
	ErrInvalidContentLength        = errors.Wrap(ErrMalformed, "invalid Content-Length")
	ErrUnsupportedTransferEncoding = errors.Wrap(ErrMalformed, "transfer-encoding not supported")
	ErrBodyTooLarge                = errors.Wrap(ErrMalformed, "request body too large")
)

// Frame reader errors. All of them end the connection.
var (
	ErrEmptyRequest    = errors.New("connection closed before a request was sent")
	ErrUnexpectedEOF   = errors.New("connection closed mid-request")
	ErrRequestTooLarge = errors.New("request exceeds maximum size")
)

// IsTooLarge reports whether err was caused by a size limit.
func IsTooLarge(err error) bool {
	return errors.Is(err, ErrRequestTooLarge) || errors.Is(err, ErrBodyTooLarge)
}
