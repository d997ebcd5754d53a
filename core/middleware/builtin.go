package middleware

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/searchktools/h1/core/http"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Headers attached by the built-in middleware
const (
	HeaderRequestID = "X-Request-Id"
	HeaderTraceID   = "X-Trace-Id"
)

// ErrRateLimited is returned by RateLimiter when no tokens are left.
var ErrRateLimited = errors.New("rate limit exceeded")

// Logger logs the method and path of every request.
func Logger(logger *zap.Logger) Middleware {
	return Func(func(_ context.Context, req *http.Request) error {
		logger.Info("request",
			zap.String("method", req.Method()),
			zap.String("path", req.Path()))
		return nil
	})
}

// RequestID tags requests with a sequential X-Request-Id unless the client
// already sent one.
func RequestID() Middleware {
	var counter atomic.Uint64

	return Func(func(_ context.Context, req *http.Request) error {
		if _, ok := req.Header(HeaderRequestID); ok {
			return nil
		}
		id := counter.Add(1)
		req.SetHeader(HeaderRequestID, strconv.FormatUint(id, 10))
		return nil
	})
}

// TraceID copies the trace ID of the span in ctx into X-Trace-Id.
func TraceID() Middleware {
	return Func(func(ctx context.Context, req *http.Request) error {
		sc := trace.SpanContextFromContext(ctx)
		if !sc.HasTraceID() {
			return nil
		}
		req.SetHeader(HeaderTraceID, sc.TraceID().String())
		return nil
	})
}

// RateLimiter implements rate limiting
func RateLimiter(requestsPerSecond int) Middleware {
	return rateLimiter(requestsPerSecond, time.Now)
}

func rateLimiter(requestsPerSecond int, now func() time.Time) Middleware {
	var (
		tokens     int
		lastRefill time.Time
		mu         sync.Mutex
	)

	tokens = requestsPerSecond
	lastRefill = now()

	return Func(func(_ context.Context, req *http.Request) error {
		mu.Lock()
		defer mu.Unlock()

		t := now()
		if t.Sub(lastRefill) >= time.Second {
			tokens = requestsPerSecond
			lastRefill = t
		}

		if tokens > 0 {
			tokens--
			return nil
		}
		return errors.Wrapf(ErrRateLimited, "%s %s", req.Method(), req.Path())
	})
}
