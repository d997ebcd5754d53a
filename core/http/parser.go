package http

import (
	"bytes"

	"github.com/cockroachdb/errors"
)

// DefaultMaxBodySize bounds the Content-Length a request may declare.
const DefaultMaxBodySize = 1 << 20

// ParserConfig configures a Parser
type ParserConfig struct {
	// MaxHeaders is the number of header lines accepted; more is malformed
	MaxHeaders int

	// MaxBodySize bounds Content-Length; 0 disables the check
	MaxBodySize int
}

// Parser parses HTTP/1.x request frames in place. It is stateless and may be
// shared between connections.
type Parser struct {
	cfg ParserConfig
}

// NewParser creates a parser
func NewParser(cfg ParserConfig) *Parser {
	if cfg.MaxHeaders <= 0 {
		cfg.MaxHeaders = DefaultMaxHeaders
	}
	if cfg.MaxBodySize < 0 {
		cfg.MaxBodySize = 0
	}
	return &Parser{cfg: cfg}
}

// Parse parses one request from the start of buf into req. It returns the
// number of bytes the request occupies when buf holds a complete frame,
// ErrIncomplete when more bytes are needed, and an error matching
// ErrMalformed otherwise. Violations are reported as soon as they are
// visible, even in a partial frame. Bytes past the frame are ignored.
//
// On success req refers to buf; on failure req is left in an unspecified
// state and must be parsed again before use.
func (p *Parser) Parse(buf []byte, req *Request) (int, error) {
	req.resetParsed()

	pos, err := parseRequestLine(buf, req)
	if err != nil {
		return 0, err
	}

	cl := -1
	for {
		nl := bytes.IndexByte(buf[pos:], '\n')
		if nl < 0 {
			return 0, ErrIncomplete
		}
		end := pos + nl
		if nl == 0 || buf[end-1] != '\r' {
			return 0, ErrInvalidLineEnding
		}
		line := Span{Start: pos, End: end - 1}
		pos = end + 1
		if line.Len() == 0 {
			break
		}

		if len(req.headers) == p.cfg.MaxHeaders {
			return 0, errors.Wrapf(ErrTooManyHeaders, "limit %d", p.cfg.MaxHeaders)
		}
		h, err := parseHeaderLine(buf, line)
		if err != nil {
			return 0, err
		}
		req.headers = append(req.headers, h)

		name := buf[h.name.Start:h.name.End]
		value := buf[h.value.Start:h.value.End]
		switch {
		case asciiEqualFold(name, "content-length"):
			n, ok := parseContentLength(value)
			if !ok || (cl >= 0 && cl != n) {
				return 0, ErrInvalidContentLength
			}
			cl = n
		case asciiEqualFold(name, "transfer-encoding"):
			return 0, ErrUnsupportedTransferEncoding
		}
	}

	if cl < 0 {
		cl = 0
	}
	if p.cfg.MaxBodySize > 0 && cl > p.cfg.MaxBodySize {
		return 0, errors.Wrapf(ErrBodyTooLarge, "%d > %d", cl, p.cfg.MaxBodySize)
	}
	if len(buf)-pos < cl {
		req.frameLen = pos + cl
		return 0, ErrIncomplete
	}

	n := pos + cl
	req.buf = buf[:n:n]
	req.contentLength = cl
	req.body = Span{Start: pos, End: n}
	return n, nil
}

// parseRequestLine parses "METHOD SP target SP HTTP/1.x CRLF" and returns the
// offset of the first header line.
func parseRequestLine(buf []byte, req *Request) (int, error) {
	i := 0
	for i < len(buf) && isTokenChar(buf[i]) {
		i++
	}
	if i == len(buf) {
		return 0, ErrIncomplete
	}
	if i == 0 || buf[i] != ' ' {
		return 0, ErrInvalidMethod
	}
	req.method = Span{Start: 0, End: i}

	i++
	start := i
	query := -1
	for i < len(buf) && buf[i] > ' ' && buf[i] != 0x7f {
		if buf[i] == '?' && query < 0 {
			query = i
		}
		i++
	}
	if i == len(buf) {
		return 0, ErrIncomplete
	}
	if i == start || buf[i] != ' ' {
		return 0, ErrInvalidTarget
	}
	if buf[start] != '/' && !(i-start == 1 && buf[start] == '*') {
		return 0, ErrInvalidTarget
	}
	req.target = Span{Start: start, End: i}
	if query >= 0 {
		req.path = Span{Start: start, End: query}
		req.query = Span{Start: query + 1, End: i}
	} else {
		req.path = req.target
		req.query = Span{Start: i, End: i}
	}

	i++
	const proto = "HTTP/1."
	for k := 0; k < len(proto); k++ {
		if i+k == len(buf) {
			return 0, ErrIncomplete
		}
		if buf[i+k] != proto[k] {
			return 0, ErrUnsupportedVersion
		}
	}
	i += len(proto)
	if i == len(buf) {
		return 0, ErrIncomplete
	}
	switch buf[i] {
	case '0':
		req.version = 0
	case '1':
		req.version = 1
	default:
		return 0, ErrUnsupportedVersion
	}
	i++
	if i == len(buf) {
		return 0, ErrIncomplete
	}
	switch buf[i] {
	case '\r':
	case '\n':
		return 0, ErrInvalidLineEnding
	default:
		return 0, ErrUnsupportedVersion
	}
	i++
	if i == len(buf) {
		return 0, ErrIncomplete
	}
	if buf[i] != '\n' {
		return 0, ErrInvalidLineEnding
	}
	return i + 1, nil
}

// parseHeaderLine splits "name: value" and trims optional whitespace around
// the value. Obsolete line folding is rejected.
func parseHeaderLine(buf []byte, line Span) (headerField, error) {
	i := line.Start
	for i < line.End && isTokenChar(buf[i]) {
		i++
	}
	if i == line.Start || i == line.End || buf[i] != ':' {
		return headerField{}, ErrInvalidHeader
	}
	name := Span{Start: line.Start, End: i}

	i++
	for i < line.End && (buf[i] == ' ' || buf[i] == '\t') {
		i++
	}
	end := line.End
	for end > i && (buf[end-1] == ' ' || buf[end-1] == '\t') {
		end--
	}
	for j := i; j < end; j++ {
		if c := buf[j]; (c < ' ' && c != '\t') || c == 0x7f {
			return headerField{}, ErrInvalidHeader
		}
	}
	return headerField{name: name, value: Span{Start: i, End: end}}, nil
}

func parseContentLength(b []byte) (int, bool) {
	if len(b) == 0 {
		return 0, false
	}
	n := 0
	for _, c := range b {
		if c < '0' || c > '9' {
			return 0, false
		}
		if n > (1<<62)/10 {
			return 0, false
		}
		n = n*10 + int(c-'0')
	}
	return n, true
}

// asciiEqualFold compares b with a lower-case ASCII string.
func asciiEqualFold(b []byte, lower string) bool {
	if len(b) != len(lower) {
		return false
	}
	for i, c := range b {
		if 'A' <= c && c <= 'Z' {
			c += 'a' - 'A'
		}
		if c != lower[i] {
			return false
		}
	}
	return true
}

// tokenTable marks the tchar set of RFC 7230.
var tokenTable = func() (t [256]bool) {
	for c := '0'; c <= '9'; c++ {
		t[c] = true
	}
	for c := 'a'; c <= 'z'; c++ {
		t[c] = true
		t[c-'a'+'A'] = true
	}
	for _, c := range "!#$%&'*+-.^_`|~" {
		t[c] = true
	}
	return t
}()

func isTokenChar(c byte) bool { return tokenTable[c] }
