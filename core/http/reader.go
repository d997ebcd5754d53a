package http

import (
	"bytes"
	"io"

	"github.com/cockroachdb/errors"
	"github.com/searchktools/h1/core/pools"
)

// Frame reader defaults
const (
	DefaultGrowStep       = 4 * 1024
	DefaultMaxRequestSize = 1 << 20
)

// ReaderConfig configures a FrameReader
type ReaderConfig struct {
	// GrowStep is the number of bytes added to a full buffer
	GrowStep int

	// MaxRequestSize bounds the whole frame; 0 means unbounded
	MaxRequestSize int
}

// FrameReader accumulates bytes from a connection into a pooled buffer until
// they form one complete request.
type FrameReader struct {
	parser *Parser
	cfg    ReaderConfig
}

// NewFrameReader creates a frame reader around p.
func NewFrameReader(p *Parser, cfg ReaderConfig) *FrameReader {
	if cfg.GrowStep <= 0 {
		cfg.GrowStep = DefaultGrowStep
	}
	if cfg.MaxRequestSize < 0 {
		cfg.MaxRequestSize = 0
	}
	return &FrameReader{parser: p, cfg: cfg}
}

// ReadFrame reads from r into buf until buf holds a complete request, which
// is parsed into req. Reads append to buf; when it is full its capacity
// grows by GrowStep, or straight to the declared frame size once the header
// block has parsed. The parser runs on every read that completes a line, so
// a malformed request line or header is reported without waiting for the
// blank line, and then for each chunk of body bytes.
//
// The returned length is the size of the request frame. End of stream before
// a complete frame is an error; nothing is retried.
func (fr *FrameReader) ReadFrame(r io.Reader, buf *pools.Buffer, req *Request) (int, error) {
	req.frameLen = 0
	for {
		if err := fr.ensureSpace(buf, req.frameLen); err != nil {
			return 0, err
		}

		limit := cap(buf.B)
		if fr.cfg.MaxRequestSize > 0 && limit > fr.cfg.MaxRequestSize {
			limit = fr.cfg.MaxRequestSize
		}
		prev := len(buf.B)
		n, err := r.Read(buf.B[prev:limit])
		if n > 0 {
			buf.B = buf.B[:prev+n]
			if fr.shouldParse(buf.B, prev, req) {
				consumed, perr := fr.parser.Parse(buf.B, req)
				if perr == nil {
					return consumed, nil
				}
				if !errors.Is(perr, ErrIncomplete) {
					return 0, perr
				}
				if limit := fr.cfg.MaxRequestSize; limit > 0 && req.frameLen > limit {
					return 0, errors.Wrapf(ErrRequestTooLarge, "frame %d > limit %d", req.frameLen, limit)
				}
			}
		}

		if err != nil {
			if errors.Is(err, io.EOF) {
				if len(buf.B) == 0 {
					return 0, ErrEmptyRequest
				}
				return 0, ErrUnexpectedEOF
			}
			return 0, errors.Wrap(err, "read request")
		}
		if n == 0 {
			return 0, ErrUnexpectedEOF
		}
	}
}

// shouldParse reports whether the bytes read since prev may change the parse
// result: a line was completed while reading the head, or the body reached
// its declared length.
func (fr *FrameReader) shouldParse(b []byte, prev int, req *Request) bool {
	if req.frameLen > 0 {
		return len(b) >= req.frameLen
	}
	return bytes.IndexByte(b[prev:], '\n') >= 0
}

// ensureSpace grows a full buffer, copying what was read so far. want, when
// known, is the size of the whole frame. No view into the old backing array
// exists yet: views are formed by the final parse.
func (fr *FrameReader) ensureSpace(buf *pools.Buffer, want int) error {
	size := len(buf.B)
	maxSize := fr.cfg.MaxRequestSize
	if maxSize > 0 && size >= maxSize {
		return errors.Wrapf(ErrRequestTooLarge, "limit %d", maxSize)
	}
	if size < cap(buf.B) && want <= cap(buf.B) {
		return nil
	}

	newCap := cap(buf.B) + fr.cfg.GrowStep
	if want > cap(buf.B) {
		newCap = want
	}
	if maxSize > 0 && newCap > maxSize {
		newCap = maxSize
	}
	grown := make([]byte, size, newCap)
	copy(grown, buf.B)
	buf.B = grown
	return nil
}
