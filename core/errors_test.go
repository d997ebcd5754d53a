package core

import (
	"io"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/searchktools/h1/core/http"
	"github.com/searchktools/h1/core/middleware"
	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindIO, KindOf(io.ErrUnexpectedEOF))
	assert.Equal(t, KindParse, KindOf(&ConnError{Kind: KindParse, Op: "read request", Err: http.ErrInvalidMethod}))

	wrapped := errors.Wrap(&ConnError{Kind: KindMiddleware, Op: "middleware", Err: io.EOF}, "outer")
	assert.Equal(t, KindMiddleware, KindOf(wrapped))
}

func TestConnErrorUnwrap(t *testing.T) {
	err := &ConnError{Kind: KindParse, Op: "read request", Err: errors.Wrap(http.ErrBodyTooLarge, "20 > 10")}
	assert.Equal(t, "read request: 20 > 10: request body too large: malformed request", err.Error())
	assert.ErrorIs(t, err, http.ErrMalformed)
	assert.True(t, http.IsTooLarge(err))
}

func TestErrorStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"malformed", &ConnError{Kind: KindParse, Err: http.ErrInvalidHeader}, 400},
		{"too large", &ConnError{Kind: KindParse, Err: http.ErrRequestTooLarge}, 413},
		{"body too large", &ConnError{Kind: KindParse, Err: http.ErrBodyTooLarge}, 413},
		{"rate limited", &ConnError{Kind: KindMiddleware, Err: errors.Wrap(middleware.ErrRateLimited, "GET /")}, 429},
		{"middleware", &ConnError{Kind: KindMiddleware, Err: io.EOF}, 500},
		{"handler", &ConnError{Kind: KindHandler, Err: ErrNilResponse}, 500},
		{"io", &ConnError{Kind: KindIO, Err: io.ErrUnexpectedEOF}, 0},
		{"bare", io.EOF, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, errorStatus(tt.err))
		})
	}
}

func TestErrorKindString(t *testing.T) {
	assert.Equal(t, "io", KindIO.String())
	assert.Equal(t, "parse", KindParse.String())
	assert.Equal(t, "middleware", KindMiddleware.String())
	assert.Equal(t, "handler", KindHandler.String())
	assert.Equal(t, "unknown", numKinds.String())
}

func TestConnStateString(t *testing.T) {
	assert.Equal(t, "dispatching", StateDispatching.String())
	assert.Equal(t, "unknown", ConnState(42).String())
	assert.True(t, StateClosed.Terminal())
	assert.True(t, StateErrored.Terminal())
	assert.False(t, StateResponding.Terminal())
}
