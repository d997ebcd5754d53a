package core

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/searchktools/h1/config"
	"github.com/searchktools/h1/core/http"
	"github.com/searchktools/h1/core/middleware"
	"github.com/searchktools/h1/core/observability"
	"github.com/searchktools/h1/core/pools"
	"github.com/searchktools/h1/core/router"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
	"golang.org/x/net/netutil"
)

const tracerName = "github.com/searchktools/h1/core"

// Options configures a Server
type Options struct {
	// ServerName is sent in the Server header
	ServerName string

	// MaxConnections bounds concurrently served connections. Beyond the
	// limit Accept waits; 0 means unlimited
	MaxConnections int

	// Per-connection deadlines; 0 disables them
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	Parser http.ParserConfig
	Reader http.ReaderConfig

	// ErrorReplies sends 400/413/429/500 before closing a failed connection
	ErrorReplies bool

	// ReusePort sets SO_REUSEPORT on listeners opened by Listen
	ReusePort bool

	// Now is the clock for the Date header; nil means time.Now
	Now func() time.Time

	// ConnState observes connection state transitions
	ConnState ConnStateHook
}

// OptionsFromConfig maps the application configuration onto server options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		ServerName:     cfg.ServerName,
		MaxConnections: cfg.MaxConnections,
		ReadTimeout:    cfg.ReadTimeout,
		WriteTimeout:   cfg.WriteTimeout,
		Parser: http.ParserConfig{
			MaxHeaders:  cfg.MaxHeaders,
			MaxBodySize: cfg.MaxBodySize,
		},
		Reader: http.ReaderConfig{
			GrowStep:       cfg.BufferGrowStep,
			MaxRequestSize: cfg.MaxRequestSize,
		},
		ErrorReplies: cfg.ErrorReplies,
		ReusePort:    cfg.ReusePort,
	}
}

// Deps are the collaborators a Server is built from. Nil fields get
// defaults: a fresh buffer pool, a no-op logger, a no-op tracer provider
// and no per-route monitor.
type Deps struct {
	Pool           *pools.BufferPool
	Logger         *zap.Logger
	TracerProvider trace.TracerProvider
	Monitor        *observability.Monitor
}

// Server accepts TCP connections and serves exactly one HTTP/1.x request on
// each of them.
type Server struct {
	opts Options

	routes  *router.Table[route]
	chain   *middleware.Chain
	pool    *pools.BufferPool
	reader  *http.FrameReader
	encoder *http.Encoder
	logger  *zap.Logger
	tracer  trace.Tracer
	monitor *observability.Monitor

	serving atomic.Bool

	mu        sync.Mutex
	closing   bool
	listeners map[net.Listener]struct{}
	conns     sync.WaitGroup

	nextConnID atomic.Uint64
	counters   counters
}

// NewServer creates a server
func NewServer(opts Options, deps Deps) *Server {
	if deps.Pool == nil {
		deps.Pool = pools.NewBufferPool(pools.BufferPoolConfig{})
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.TracerProvider == nil {
		deps.TracerProvider = noop.NewTracerProvider()
	}
	if opts.MaxConnections < 0 {
		opts.MaxConnections = 0
	}

	return &Server{
		opts:      opts,
		routes:    router.NewTable[route](),
		chain:     middleware.NewChain(),
		pool:      deps.Pool,
		reader:    http.NewFrameReader(http.NewParser(opts.Parser), opts.Reader),
		encoder:   http.NewEncoder(opts.ServerName, opts.Now),
		logger:    deps.Logger.Named("server"),
		tracer:    deps.TracerProvider.Tracer(tracerName),
		monitor:   deps.Monitor,
		listeners: make(map[net.Listener]struct{}),
	}
}

// Handle registers h for method and pattern. Patterns are slash-separated
// paths whose segments may be ":name" or, last, "*name". Routes may be
// added while the server is running.
func (s *Server) Handle(method, pattern string, h Handler) {
	if h == nil {
		panic("h1: nil handler for " + method + " " + pattern)
	}
	s.routes.Insert(method, pattern, route{handler: h, name: method + " " + pattern})
}

// GET registers a GET route
func (s *Server) GET(path string, h HandlerFunc) { s.Handle("GET", path, h) }

// POST registers a POST route
func (s *Server) POST(path string, h HandlerFunc) { s.Handle("POST", path, h) }

// PUT registers a PUT route
func (s *Server) PUT(path string, h HandlerFunc) { s.Handle("PUT", path, h) }

// PATCH registers a PATCH route
func (s *Server) PATCH(path string, h HandlerFunc) { s.Handle("PATCH", path, h) }

// DELETE registers a DELETE route
func (s *Server) DELETE(path string, h HandlerFunc) { s.Handle("DELETE", path, h) }

// HEAD registers a HEAD route
func (s *Server) HEAD(path string, h HandlerFunc) { s.Handle("HEAD", path, h) }

// OPTIONS registers an OPTIONS route
func (s *Server) OPTIONS(path string, h HandlerFunc) { s.Handle("OPTIONS", path, h) }

// Use appends middleware. The chain is fixed once the server starts
// serving; calling Use after that panics.
func (s *Server) Use(mws ...middleware.Middleware) {
	if s.serving.Load() {
		panic("h1: Use called after Serve")
	}
	s.chain.Use(mws...)
}

// Routes returns the registered routes.
func (s *Server) Routes() []router.Route { return s.routes.Routes() }

// Listen opens a TCP listener on addr with the server's socket options.
func (s *Server) Listen(ctx context.Context, addr string) (net.Listener, error) {
	lc := net.ListenConfig{Control: listenControl(s.opts)}
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "listen on %s", addr)
	}
	return ln, nil
}

// ListenAndServe listens on addr and serves until ctx is cancelled or
// Shutdown is called.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := s.Listen(ctx, addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln, each served on its own goroutine. It
// returns ErrServerClosed after Shutdown or once ctx is cancelled; ln is
// closed in every case. In-flight connections are not interrupted by ctx.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	if s.opts.MaxConnections > 0 {
		ln = netutil.LimitListener(ln, s.opts.MaxConnections)
	}
	if !s.trackListener(ln, true) {
		ln.Close()
		return ErrServerClosed
	}
	defer s.trackListener(ln, false)

	if s.serving.CompareAndSwap(false, true) {
		s.chain.Compile()
	}

	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()

	s.logger.Info("serving",
		zap.Stringer("addr", ln.Addr()),
		zap.Int("routes", s.routes.Len()),
		zap.Int("middleware", s.chain.Len()),
		zap.Int("max_connections", s.opts.MaxConnections))

	connCtx := context.WithoutCancel(ctx)
	var tempDelay time.Duration // how long to sleep on accept failure
	for {
		rw, err := ln.Accept()
		if err != nil {
			if s.shuttingDown() || ctx.Err() != nil {
				return ErrServerClosed
			}
			var ne interface{ Temporary() bool }
			if errors.As(err, &ne) && ne.Temporary() {
				if tempDelay == 0 {
					tempDelay = 5 * time.Millisecond
				} else {
					tempDelay *= 2
				}
				if limit := time.Second; tempDelay > limit {
					tempDelay = limit
				}
				s.logger.Warn("accept failed; retrying",
					zap.Error(err), zap.Duration("delay", tempDelay))
				time.Sleep(tempDelay)
				continue
			}
			ln.Close()
			return errors.Wrap(err, "accept")
		}
		tempDelay = 0

		if !s.startConn() {
			rw.Close()
			return ErrServerClosed
		}
		c := s.newConn(rw)
		go c.serve(connCtx)
	}
}

// Shutdown stops every listener and waits for in-flight connections to
// finish or for ctx to expire.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	for ln := range s.listeners {
		ln.Close()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.conns.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("shutdown complete")
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "shutdown")
	}
}

func (s *Server) trackListener(ln net.Listener, add bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if add {
		if s.closing {
			return false
		}
		s.listeners[ln] = struct{}{}
	} else {
		delete(s.listeners, ln)
	}
	return true
}

func (s *Server) shuttingDown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closing
}

// startConn registers a connection with the shutdown wait group. Once
// Shutdown has begun no connection is added.
func (s *Server) startConn() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.conns.Add(1)
	return true
}
