package http

import (
	"io"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
)

// DefaultServerName is sent in the Server header when none is configured.
const DefaultServerName = "h1"

// Encoder serializes responses as HTTP/1.1.
type Encoder struct {
	ServerName string

	// Now is the clock for the Date header; nil means time.Now
	Now func() time.Time

	dates DateCache
}

// NewEncoder creates an encoder that announces itself as serverName.
func NewEncoder(serverName string, now func() time.Time) *Encoder {
	if serverName == "" {
		serverName = DefaultServerName
	}
	return &Encoder{ServerName: serverName, Now: now}
}

// Append appends the wire form of r to dst:
//
//	HTTP/1.1 <code> <message>
//	Server: <name>
//	Content-Length: <len(body)>
//	Date: <now>
//	<headers in insertion order>
//
//	<body>
func (e *Encoder) Append(dst []byte, r *Response) []byte {
	code, message := r.code, r.message
	if code == 0 {
		code, message = 200, "OK"
	}

	dst = append(dst, "HTTP/1.1 "...)
	dst = strconv.AppendInt(dst, int64(code), 10)
	dst = append(dst, ' ')
	dst = append(dst, message...)
	dst = append(dst, "\r\nServer: "...)
	dst = append(dst, e.ServerName...)
	dst = append(dst, "\r\nContent-Length: "...)
	dst = strconv.AppendInt(dst, int64(len(r.body)), 10)
	dst = append(dst, "\r\nDate: "...)
	dst = append(dst, e.date()...)
	dst = append(dst, "\r\n"...)
	for _, h := range r.headers {
		dst = append(dst, h.Name...)
		dst = append(dst, ": "...)
		dst = append(dst, h.Value...)
		dst = append(dst, "\r\n"...)
	}
	dst = append(dst, "\r\n"...)
	return append(dst, r.body...)
}

// WriteTo encodes r into dst[:0] and writes it to w with a single Write. The
// encoded bytes are returned so the caller can recycle the buffer.
func (e *Encoder) WriteTo(w io.Writer, dst []byte, r *Response) ([]byte, error) {
	dst = e.Append(dst[:0], r)
	if _, err := w.Write(dst); err != nil {
		return dst, errors.Wrap(err, "write response")
	}
	return dst, nil
}

func (e *Encoder) date() []byte {
	now := time.Now
	if e.Now != nil {
		now = e.Now
	}
	return e.dates.Format(now())
}
