package http

import (
	"strings"
	"sync"
	"unicode/utf8"
	"unsafe"
)

// DefaultMaxHeaders is the number of header lines a request may carry.
const DefaultMaxHeaders = 16

// unsafeString converts byte slice to string without allocation
// WARNING: The returned string shares memory with the byte slice
func unsafeString(b []byte) string {
	return unsafe.String(unsafe.SliceData(b), len(b))
}

// Span is a half-open index range into the request buffer.
type Span struct {
	Start int
	End   int
}

// Len returns the length of the span.
func (s Span) Len() int { return s.End - s.Start }

type headerField struct {
	name  Span
	value Span
}

type injectedHeader struct {
	name  string
	value string
}

// Request is a parsed HTTP/1.x request. It does not own its bytes: every
// field is a Span into the connection buffer, so views returned by its
// accessors are valid only until that buffer is released.
type Request struct {
	buf []byte

	method  Span
	target  Span
	path    Span
	query   Span
	version byte

	headers  []headerField
	injected []injectedHeader

	contentLength int
	body          Span

	// frameLen is the full frame size once the header block has parsed but
	// the body is still short; 0 otherwise
	frameLen int
}

var requestPool = sync.Pool{
	New: func() any {
		return &Request{
			headers: make([]headerField, 0, DefaultMaxHeaders),
		}
	},
}

// AcquireRequest returns an empty request from the pool.
func AcquireRequest() *Request {
	return requestPool.Get().(*Request)
}

// ReleaseRequest resets the request and puts it back into the pool.
func ReleaseRequest(req *Request) {
	req.Reset()
	requestPool.Put(req)
}

// Reset resets the request for reuse (memory not freed, just reset)
func (r *Request) Reset() {
	r.resetParsed()
	clear(r.injected)
	r.injected = r.injected[:0]
}

func (r *Request) resetParsed() {
	r.buf = nil
	r.method = Span{}
	r.target = Span{}
	r.path = Span{}
	r.query = Span{}
	r.version = 0
	r.headers = r.headers[:0]
	r.contentLength = 0
	r.body = Span{}
	r.frameLen = 0
}

func (r *Request) view(s Span) string {
	return unsafeString(r.buf[s.Start:s.End])
}

// Method returns the request method, e.g. "GET".
func (r *Request) Method() string { return r.view(r.method) }

// Target returns the raw request-target including any query string.
func (r *Request) Target() string { return r.view(r.target) }

// Path returns the request-target without its query string.
func (r *Request) Path() string { return r.view(r.path) }

// RawQuery returns the query string without the leading '?'.
func (r *Request) RawQuery() string { return r.view(r.query) }

// Query returns the first value of key in the raw query string. Values are
// not percent-decoded.
func (r *Request) Query(key string) string {
	q := r.RawQuery()
	for len(q) > 0 {
		var pair string
		if i := strings.IndexByte(q, '&'); i >= 0 {
			pair, q = q[:i], q[i+1:]
		} else {
			pair, q = q, ""
		}
		k, v := pair, ""
		if i := strings.IndexByte(pair, '='); i >= 0 {
			k, v = pair[:i], pair[i+1:]
		}
		if k == key {
			return v
		}
	}
	return ""
}

// Version returns the minor HTTP version: 0 for HTTP/1.0, 1 for HTTP/1.1.
func (r *Request) Version() byte { return r.version }

// Proto returns the protocol string of the request line.
func (r *Request) Proto() string {
	if r.version == 0 {
		return "HTTP/1.0"
	}
	return "HTTP/1.1"
}

// NumHeaders returns the number of parsed header lines.
func (r *Request) NumHeaders() int { return len(r.headers) }

// HeaderName returns the name of the i-th parsed header as sent.
func (r *Request) HeaderName(i int) string { return r.view(r.headers[i].name) }

// HeaderValue returns the raw bytes of the i-th parsed header value.
func (r *Request) HeaderValue(i int) []byte {
	s := r.headers[i].value
	return r.buf[s.Start:s.End:s.End]
}

// HeaderValueString returns the i-th header value as a string. ok is false
// when the value is not valid UTF-8; use HeaderValue for the raw bytes.
func (r *Request) HeaderValueString(i int) (v string, ok bool) {
	b := r.HeaderValue(i)
	if !utf8.Valid(b) {
		return "", false
	}
	return unsafeString(b), true
}

// Header looks up a header by case-insensitive name. Headers set by
// middleware shadow the ones received on the wire.
func (r *Request) Header(name string) (string, bool) {
	for i := len(r.injected) - 1; i >= 0; i-- {
		if equalFold(r.injected[i].name, name) {
			return r.injected[i].value, true
		}
	}
	for _, h := range r.headers {
		if equalFold(r.view(h.name), name) {
			return r.view(h.value), true
		}
	}
	return "", false
}

// SetHeader attaches a header to the request for later middleware and the
// handler. The parsed headers are left untouched.
func (r *Request) SetHeader(name, value string) {
	r.injected = append(r.injected, injectedHeader{name: name, value: value})
}

// ContentLength returns the declared body length.
func (r *Request) ContentLength() int { return r.contentLength }

// Body returns the request body. It aliases the connection buffer.
func (r *Request) Body() []byte {
	return r.buf[r.body.Start:r.body.End:r.body.End]
}

// Len returns the number of bytes the request occupied on the wire.
func (r *Request) Len() int { return len(r.buf) }

// equalFold compares two ASCII strings case-insensitively.
func equalFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		ca, cb := a[i], b[i]
		if ca == cb {
			continue
		}
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}
