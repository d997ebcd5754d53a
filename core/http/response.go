package http

import "strings"

// Header is a single response header line.
type Header struct {
	Name  string
	Value string
}

// Response is an HTTP response under construction. Headers keep their
// insertion order and are written after the Server, Content-Length and Date
// lines the encoder always emits.
type Response struct {
	code    int
	message string
	headers []Header
	body    []byte
}

// NewResponse returns an empty "200 OK" response.
func NewResponse() *Response {
	return &Response{code: 200, message: "OK"}
}

// NotFound returns the empty 404 response sent when no route matches.
func NotFound() *Response {
	return NewResponse().Status(404, "Not Found")
}

// Status sets the status line. An empty message uses the standard reason
// phrase for code.
func (r *Response) Status(code int, message string) *Response {
	if message == "" {
		message = StatusText(code)
	}
	r.code = code
	r.message = message
	return r
}

// Header appends a header. Duplicates are not merged, and a Content-Length
// set here is written in addition to the computed one. A name that is not a
// valid token is ignored; CR and LF in the value become spaces, so a header
// can never end the header block early.
func (r *Response) Header(name, value string) *Response {
	if !validHeaderName(name) {
		return r
	}
	if strings.ContainsAny(value, "\r\n") {
		value = strings.Map(func(c rune) rune {
			if c == '\r' || c == '\n' {
				return ' '
			}
			return c
		}, value)
	}
	r.headers = append(r.headers, Header{Name: name, Value: value})
	return r
}

func validHeaderName(name string) bool {
	if name == "" {
		return false
	}
	for i := 0; i < len(name); i++ {
		if !isTokenChar(name[i]) {
			return false
		}
	}
	return true
}

// Body sets the body from a string.
func (r *Response) Body(s string) *Response {
	r.body = []byte(s)
	return r
}

// Bytes sets the body. The slice is kept, not copied.
func (r *Response) Bytes(b []byte) *Response {
	r.body = b
	return r
}

// StatusCode returns the status code.
func (r *Response) StatusCode() int { return r.code }

// Message returns the reason phrase.
func (r *Response) Message() string { return r.message }

// Headers returns the headers in insertion order.
func (r *Response) Headers() []Header { return r.headers }

// Content returns the body.
func (r *Response) Content() []byte { return r.body }

// StatusText returns the HTTP status text for the given code
func StatusText(code int) string {
	switch code {
	case 100:
		return "Continue"
	case 200:
		return "OK"
	case 201:
		return "Created"
	case 202:
		return "Accepted"
	case 204:
		return "No Content"
	case 301:
		return "Moved Permanently"
	case 302:
		return "Found"
	case 304:
		return "Not Modified"
	case 400:
		return "Bad Request"
	case 401:
		return "Unauthorized"
	case 403:
		return "Forbidden"
	case 404:
		return "Not Found"
	case 405:
		return "Method Not Allowed"
	case 408:
		return "Request Timeout"
	case 409:
		return "Conflict"
	case 413:
		return "Content Too Large"
	case 429:
		return "Too Many Requests"
	case 431:
		return "Request Header Fields Too Large"
	case 500:
		return "Internal Server Error"
	case 501:
		return "Not Implemented"
	case 503:
		return "Service Unavailable"
	case 505:
		return "HTTP Version Not Supported"
	default:
		return "Unknown"
	}
}
