package core

import (
	"context"
	"net"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/searchktools/h1/core/http"
	"github.com/searchktools/h1/core/middleware"
	"github.com/searchktools/h1/core/pools"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// errorReplyTimeout bounds the best-effort write of an error response.
const errorReplyTimeout = time.Second

// conn is one accepted connection. It is owned by a single goroutine.
type conn struct {
	srv    *Server
	rwc    net.Conn
	id     uint64
	state  ConnState
	logger *zap.Logger

	buf *pools.Buffer
	out *pools.Buffer
	req *http.Request

	route  string
	status int
}

func (s *Server) newConn(rwc net.Conn) *conn {
	id := s.nextConnID.Add(1)
	return &conn{
		srv: s,
		rwc: rwc,
		id:  id,
		logger: s.logger.With(
			zap.Uint64("conn_id", id),
			zap.Stringer("remote", rwc.RemoteAddr())),
	}
}

func (c *conn) setState(state ConnState) {
	c.state = state
	if hook := c.srv.opts.ConnState; hook != nil {
		hook(c.rwc, state)
	}
}

// serve runs the connection from accept to close. Every failure, including
// a panic in middleware or a handler, ends here and never reaches the
// accept loop.
func (c *conn) serve(ctx context.Context) {
	s := c.srv
	start := time.Now()
	s.counters.accepted.Add(1)
	s.counters.active.Add(1)

	ctx, span := s.tracer.Start(ctx, "h1.conn",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attribute.String("network.peer.address", c.rwc.RemoteAddr().String())))

	var err error
	defer func() {
		if r := recover(); r != nil {
			err = &ConnError{Kind: KindHandler, Op: "serve", Err: errors.Newf("panic: %v", r)}
			c.logger.Error("panic serving connection",
				zap.Any("panic", r), zap.Stack("stack"))
		}
		if err != nil {
			c.fail(span, err)
		} else {
			span.SetAttributes(attribute.Int("http.response.status_code", c.status))
		}
		c.close(err)
		span.End()

		s.counters.active.Add(-1)
		if c.route != "" {
			s.monitor.RecordRequest(c.route, time.Since(start), err != nil)
		}
		s.conns.Done()
	}()

	c.setState(StateAccepted)
	err = c.handle(ctx, span)
}

func (c *conn) handle(ctx context.Context, span trace.Span) error {
	s := c.srv

	c.setState(StateReading)
	c.buf = s.pool.Checkout()
	c.req = http.AcquireRequest()
	if s.opts.ReadTimeout > 0 {
		if err := c.rwc.SetReadDeadline(time.Now().Add(s.opts.ReadTimeout)); err != nil {
			return &ConnError{Kind: KindIO, Op: "set read deadline", Err: err}
		}
	}
	if _, err := s.reader.ReadFrame(c.rwc, c.buf, c.req); err != nil {
		kind := KindIO
		if errors.Is(err, http.ErrMalformed) || http.IsTooLarge(err) {
			kind = KindParse
		}
		return &ConnError{Kind: kind, Op: "read request", Err: err}
	}

	c.setState(StateParsed)
	method, path := c.req.Method(), c.req.Path()
	span.SetAttributes(
		attribute.String("http.request.method", method),
		attribute.String("url.path", path))
	if err := s.chain.Run(ctx, c.req); err != nil {
		c.route = routeRejected
		return &ConnError{Kind: KindMiddleware, Op: "middleware", Err: err}
	}

	c.setState(StateDispatching)
	var resp *http.Response
	if rt, params, ok := s.routes.Find(method, path); ok {
		c.route = rt.name
		span.SetName(rt.name)
		var err error
		resp, err = rt.handler.Serve(ctx, c.req, params)
		if err != nil {
			return &ConnError{Kind: KindHandler, Op: "handler " + rt.name, Err: err}
		}
		if resp == nil {
			return &ConnError{Kind: KindHandler, Op: "handler " + rt.name, Err: ErrNilResponse}
		}
	} else {
		c.route = routeNotFound
		span.SetName(method + " " + routeNotFound)
		s.counters.notFound.Add(1)
		resp = http.NotFound()
	}

	return c.respond(resp, s.opts.WriteTimeout)
}

func (c *conn) respond(resp *http.Response, timeout time.Duration) error {
	s := c.srv
	c.setState(StateResponding)
	if timeout > 0 {
		if err := c.rwc.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
			return &ConnError{Kind: KindIO, Op: "set write deadline", Err: err}
		}
	}
	if c.out == nil {
		c.out = s.pool.Checkout()
	}
	var err error
	c.out.B, err = s.encoder.WriteTo(c.rwc, c.out.B, resp)
	if err != nil {
		return &ConnError{Kind: KindIO, Op: "write response", Err: err}
	}
	c.status = resp.StatusCode()
	return nil
}

// fail records a connection error and, when enabled and nothing has been
// written yet, answers with an error status.
func (c *conn) fail(span trace.Span, err error) {
	s := c.srv
	kind := KindOf(err)
	s.counters.errors[kind].Add(1)

	span.RecordError(err)
	span.SetStatus(codes.Error, kind.String())

	level := zapcore.InfoLevel
	switch {
	case errors.Is(err, http.ErrEmptyRequest):
		level = zapcore.DebugLevel
	case kind == KindHandler:
		level = zapcore.ErrorLevel
	}
	if ce := c.logger.Check(level, "connection failed"); ce != nil {
		ce.Write(
			zap.Stringer("kind", kind),
			zap.Stringer("state", c.state),
			zap.Error(err))
	}

	if !s.opts.ErrorReplies || c.state >= StateResponding {
		return
	}
	code := errorStatus(err)
	if code == 0 {
		return
	}
	timeout := errorReplyTimeout
	if s.opts.WriteTimeout > 0 {
		timeout = min(timeout, s.opts.WriteTimeout)
	}
	reply := http.NewResponse().Status(code, "").Header(HeaderConnection, "close")
	if err := c.respond(reply, timeout); err != nil {
		c.logger.Debug("error reply not delivered", zap.Error(err))
	}
}

// errorStatus maps a connection error to the status sent back, or 0 when
// the peer is gone and nothing should be written.
func errorStatus(err error) int {
	switch KindOf(err) {
	case KindParse:
		if http.IsTooLarge(err) {
			return 413
		}
		return 400
	case KindMiddleware:
		if errors.Is(err, middleware.ErrRateLimited) {
			return 429
		}
		return 500
	case KindHandler:
		return 500
	default:
		return 0
	}
}

// close closes the socket and returns buffers to the pool. The request views
// die with the buffer, so this runs last.
func (c *conn) close(err error) {
	s := c.srv
	if cerr := c.rwc.Close(); cerr != nil && err == nil {
		c.logger.Debug("close failed", zap.Error(cerr))
	}
	if c.req != nil {
		http.ReleaseRequest(c.req)
		c.req = nil
	}
	s.pool.Release(c.buf)
	s.pool.Release(c.out)
	c.buf, c.out = nil, nil

	if err != nil {
		c.setState(StateErrored)
		return
	}
	s.counters.completed.Add(1)
	c.setState(StateClosed)
}
