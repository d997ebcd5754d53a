package core

import (
	"context"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/searchktools/h1/core/codec"
	"github.com/searchktools/h1/core/http"
	"github.com/searchktools/h1/core/middleware"
	"github.com/searchktools/h1/core/observability"
	"github.com/searchktools/h1/core/router"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

const testDate = "Tue, 02 Jan 2024 03:04:05 GMT"

func fixedNow() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) }

func testOptions() Options {
	return Options{
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		ErrorReplies: true,
		Now:          fixedNow,
	}
}

type testServer struct {
	*Server
	addr   string
	served chan error
}

// startServer serves srv on a loopback port until the test ends.
func startServer(t *testing.T, srv *Server) *testServer {
	t.Helper()
	ln, err := srv.Listen(context.Background(), "127.0.0.1:0")
	require.NoError(t, err)

	ts := &testServer{Server: srv, addr: ln.Addr().String(), served: make(chan error, 1)}
	go func() { ts.served <- srv.Serve(context.Background(), ln) }()

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		assert.NoError(t, srv.Shutdown(ctx))
	})
	return ts
}

func newTestServer(t *testing.T, opts Options, deps Deps) *Server {
	t.Helper()
	if deps.Logger == nil {
		deps.Logger = zaptest.NewLogger(t)
	}
	srv := NewServer(opts, deps)
	srv.GET("/plaintext", func(context.Context, *http.Request, router.Params) (*http.Response, error) {
		return http.NewResponse().Header(HeaderContentType, MIMETextPlain).Body("Hello, World!"), nil
	})
	srv.GET("/echo/:token", func(_ context.Context, _ *http.Request, ps router.Params) (*http.Response, error) {
		return http.NewResponse().Body(ps.Get("token")), nil
	})
	return srv
}

// exchange writes raw on a fresh connection and returns everything the server
// sends before closing it.
func exchange(t *testing.T, addr string, raw ...string) string {
	t.Helper()
	c, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer c.Close()
	require.NoError(t, c.SetDeadline(time.Now().Add(5*time.Second)))

	for i, part := range raw {
		if i > 0 {
			time.Sleep(10 * time.Millisecond)
		}
		_, err := io.WriteString(c, part)
		require.NoError(t, err)
	}
	out, err := io.ReadAll(c)
	require.NoError(t, err)
	return string(out)
}

func TestServerPlaintext(t *testing.T) {
	ts := startServer(t, newTestServer(t, testOptions(), Deps{}))

	got := exchange(t, ts.addr, "GET /plaintext HTTP/1.1\r\nHost: localhost\r\n\r\n")
	assert.Equal(t, "HTTP/1.1 200 OK\r\n"+
		"Server: h1\r\n"+
		"Content-Length: 13\r\n"+
		"Date: "+testDate+"\r\n"+
		"Content-Type: text/plain\r\n"+
		"\r\n"+
		"Hello, World!", got)
}

func TestServerNotFound(t *testing.T) {
	ts := startServer(t, newTestServer(t, testOptions(), Deps{}))

	want := "HTTP/1.1 404 Not Found\r\nServer: h1\r\nContent-Length: 0\r\nDate: " + testDate + "\r\n\r\n"
	assert.Equal(t, want, exchange(t, ts.addr, "GET /missing HTTP/1.1\r\n\r\n"))
	assert.Equal(t, want, exchange(t, ts.addr, "POST /plaintext HTTP/1.1\r\nContent-Length: 0\r\n\r\n"),
		"routes are keyed by method")

	require.Eventually(t, func() bool {
		return ts.Stats().Connections.NotFound == 2
	}, time.Second, 5*time.Millisecond)
}

func TestServerSplitWrites(t *testing.T) {
	ts := startServer(t, newTestServer(t, testOptions(), Deps{}))

	got := exchange(t, ts.addr, "GET /echo/", "split HTTP/1.1\r\n", "Host: x\r\n\r", "\n")
	assert.Equal(t, "HTTP/1.1 200 OK\r\nServer: h1\r\nContent-Length: 5\r\nDate: "+testDate+"\r\n\r\nsplit", got)
}

func TestServerRequestBody(t *testing.T) {
	srv := newTestServer(t, testOptions(), Deps{})
	srv.POST("/upper", func(_ context.Context, req *http.Request, _ router.Params) (*http.Response, error) {
		body := []byte(string(req.Body()))
		for i, b := range body {
			if 'a' <= b && b <= 'z' {
				body[i] = b - 'a' + 'A'
			}
		}
		return http.NewResponse().Bytes(body), nil
	})
	ts := startServer(t, srv)

	got := exchange(t, ts.addr, "POST /upper HTTP/1.1\r\nContent-Length: 5\r\n\r\n", "hello")
	assert.Equal(t, "HTTP/1.1 200 OK\r\nServer: h1\r\nContent-Length: 5\r\nDate: "+testDate+"\r\n\r\nHELLO", got)
}

func TestServerConcurrentConnections(t *testing.T) {
	ts := startServer(t, newTestServer(t, testOptions(), Deps{}))

	const n = 50
	var wg sync.WaitGroup
	results := make([]string, n)
	for i := 0; i < n; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = exchange(t, ts.addr, fmt.Sprintf("GET /echo/token-%d HTTP/1.1\r\n\r\n", i))
		}()
	}
	wg.Wait()

	for i, got := range results {
		body := fmt.Sprintf("token-%d", i)
		want := fmt.Sprintf("HTTP/1.1 200 OK\r\nServer: h1\r\nContent-Length: %d\r\nDate: %s\r\n\r\n%s", len(body), testDate, body)
		assert.Equal(t, want, got)
	}

	require.Eventually(t, func() bool {
		c := ts.Stats().Connections
		return c.Completed == n && c.Active == 0
	}, 2*time.Second, 5*time.Millisecond)
}

func TestServerErrorReplies(t *testing.T) {
	opts := testOptions()
	opts.Parser.MaxBodySize = 16

	srv := newTestServer(t, opts, Deps{})
	srv.GET("/fail", func(context.Context, *http.Request, router.Params) (*http.Response, error) {
		return nil, errors.New("boom")
	})
	srv.GET("/nil", func(context.Context, *http.Request, router.Params) (*http.Response, error) {
		return nil, nil
	})
	srv.GET("/panic", func(context.Context, *http.Request, router.Params) (*http.Response, error) {
		panic("handler exploded")
	})
	ts := startServer(t, srv)

	tests := []struct {
		name    string
		request string
		status  string
	}{
		{"malformed request line", "GET\r\n\r\n", "400 Bad Request"},
		{"bad version", "GET / HTTP/2.0\r\n\r\n", "400 Bad Request"},
		{"body too large", "POST /plaintext HTTP/1.1\r\nContent-Length: 17\r\n\r\n", "413 Content Too Large"},
		{"handler error", "GET /fail HTTP/1.1\r\n\r\n", "500 Internal Server Error"},
		{"nil response", "GET /nil HTTP/1.1\r\n\r\n", "500 Internal Server Error"},
		{"handler panic", "GET /panic HTTP/1.1\r\n\r\n", "500 Internal Server Error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			want := "HTTP/1.1 " + tt.status + "\r\nServer: h1\r\nContent-Length: 0\r\nDate: " + testDate +
				"\r\nConnection: close\r\n\r\n"
			assert.Equal(t, want, exchange(t, ts.addr, tt.request))
		})
	}

	require.Eventually(t, func() bool {
		errs := ts.Stats().Connections.Errors
		return errs["parse"] == 3 && errs["handler"] == 3
	}, time.Second, 5*time.Millisecond)
}

func TestServerErrorRepliesDisabled(t *testing.T) {
	opts := testOptions()
	opts.ErrorReplies = false
	ts := startServer(t, newTestServer(t, opts, Deps{}))

	assert.Empty(t, exchange(t, ts.addr, "GARBAGE\r\n\r\n"))
	assert.Contains(t, exchange(t, ts.addr, "GET /plaintext HTTP/1.1\r\n\r\n"), "Hello, World!",
		"a failed connection must not affect the next one")
}

func TestServerRequestTooLarge(t *testing.T) {
	opts := testOptions()
	opts.Reader = http.ReaderConfig{GrowStep: 64, MaxRequestSize: 128}
	ts := startServer(t, newTestServer(t, opts, Deps{}))

	c, err := net.Dial("tcp", ts.addr)
	require.NoError(t, err)
	defer c.Close()
	require.NoError(t, c.SetDeadline(time.Now().Add(5*time.Second)))

	// Exactly the limit, without the terminating blank line.
	head := "GET / HTTP/1.1\r\nX-Pad: "
	_, err = io.WriteString(c, head+strings.Repeat("a", 128-len(head)))
	require.NoError(t, err)

	out, _ := io.ReadAll(c)
	assert.Contains(t, string(out), "HTTP/1.1 413 Content Too Large\r\n")
}

func TestServerMiddleware(t *testing.T) {
	srv := newTestServer(t, testOptions(), Deps{})
	srv.Use(middleware.RequestID())
	srv.Use(middleware.Func(func(_ context.Context, req *http.Request) error {
		if req.Path() == "/plaintext" {
			return nil
		}
		if req.Path() == "/limited" {
			return errors.Wrap(middleware.ErrRateLimited, "test")
		}
		return errors.New("denied")
	}))
	srv.GET("/limited", func(context.Context, *http.Request, router.Params) (*http.Response, error) {
		t.Error("handler ran after middleware rejected the request")
		return http.NewResponse(), nil
	})
	ts := startServer(t, srv)

	assert.Contains(t, exchange(t, ts.addr, "GET /plaintext HTTP/1.1\r\n\r\n"), "200 OK")
	assert.Contains(t, exchange(t, ts.addr, "GET /limited HTTP/1.1\r\n\r\n"), "HTTP/1.1 429 Too Many Requests\r\n")
	assert.Contains(t, exchange(t, ts.addr, "GET /other HTTP/1.1\r\n\r\n"), "HTTP/1.1 500 Internal Server Error\r\n")

	assert.Panics(t, func() { srv.Use(middleware.RequestID()) }, "Use after Serve")
}

func TestServerConnStateTransitions(t *testing.T) {
	var (
		mu     sync.Mutex
		states = map[net.Conn][]ConnState{}
		done   = make(chan []ConnState, 4)
	)
	opts := testOptions()
	opts.ConnState = func(c net.Conn, s ConnState) {
		mu.Lock()
		defer mu.Unlock()
		states[c] = append(states[c], s)
		if s.Terminal() {
			done <- states[c]
		}
	}
	ts := startServer(t, newTestServer(t, opts, Deps{}))

	wait := func() []ConnState {
		select {
		case seq := <-done:
			return seq
		case <-time.After(2 * time.Second):
			t.Fatal("connection never reached a terminal state")
			return nil
		}
	}

	exchange(t, ts.addr, "GET /plaintext HTTP/1.1\r\n\r\n")
	assert.Equal(t, []ConnState{
		StateAccepted, StateReading, StateParsed, StateDispatching, StateResponding, StateClosed,
	}, wait())

	exchange(t, ts.addr, "BROKEN\r\n\r\n")
	assert.Equal(t, []ConnState{StateAccepted, StateReading, StateResponding, StateErrored}, wait())

	c, err := net.Dial("tcp", ts.addr)
	require.NoError(t, err)
	require.NoError(t, c.Close())
	assert.Equal(t, []ConnState{StateAccepted, StateReading, StateErrored}, wait())
}

func TestServerRoutesAddedWhileServing(t *testing.T) {
	ts := startServer(t, newTestServer(t, testOptions(), Deps{}))
	assert.Contains(t, exchange(t, ts.addr, "GET /late HTTP/1.1\r\n\r\n"), "404 Not Found")

	ts.GET("/late", func(context.Context, *http.Request, router.Params) (*http.Response, error) {
		return http.NewResponse().Body("late"), nil
	})
	assert.Contains(t, exchange(t, ts.addr, "GET /late HTTP/1.1\r\n\r\n"), "\r\n\r\nlate")
	assert.Contains(t, ts.Routes(), router.Route{Method: "GET", Pattern: "/late"})
}

func TestServerMaxConnections(t *testing.T) {
	opts := testOptions()
	opts.MaxConnections = 1

	release := make(chan struct{})
	entered := make(chan struct{})
	srv := newTestServer(t, opts, Deps{})
	srv.GET("/block", func(context.Context, *http.Request, router.Params) (*http.Response, error) {
		close(entered)
		<-release
		return http.NewResponse().Body("unblocked"), nil
	})
	ts := startServer(t, srv)

	first := make(chan string, 1)
	go func() { first <- exchange(t, ts.addr, "GET /block HTTP/1.1\r\n\r\n") }()
	<-entered

	c, err := net.Dial("tcp", ts.addr)
	require.NoError(t, err)
	defer c.Close()
	_, err = io.WriteString(c, "GET /plaintext HTTP/1.1\r\n\r\n")
	require.NoError(t, err)

	require.NoError(t, c.SetReadDeadline(time.Now().Add(100*time.Millisecond)))
	_, err = c.Read(make([]byte, 1))
	var ne net.Error
	require.ErrorAs(t, err, &ne)
	assert.True(t, ne.Timeout(), "second connection must wait for a free slot")

	close(release)
	assert.Contains(t, <-first, "unblocked")

	require.NoError(t, c.SetReadDeadline(time.Now().Add(5*time.Second)))
	out, err := io.ReadAll(c)
	require.NoError(t, err)
	assert.Contains(t, string(out), "Hello, World!")
}

func TestServerShutdownWaitsForInFlight(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	srv := newTestServer(t, testOptions(), Deps{})
	srv.GET("/slow", func(context.Context, *http.Request, router.Params) (*http.Response, error) {
		close(entered)
		<-release
		return http.NewResponse().Body("done"), nil
	})

	ln, err := srv.Listen(context.Background(), "127.0.0.1:0")
	require.NoError(t, err)
	served := make(chan error, 1)
	go func() { served <- srv.Serve(context.Background(), ln) }()

	resp := make(chan string, 1)
	go func() { resp <- exchange(t, ln.Addr().String(), "GET /slow HTTP/1.1\r\n\r\n") }()
	<-entered

	expired, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, srv.Shutdown(expired), context.DeadlineExceeded)
	assert.ErrorIs(t, <-served, ErrServerClosed)

	_, err = net.DialTimeout("tcp", ln.Addr().String(), time.Second)
	assert.Error(t, err, "listener must be closed")

	shutdown := make(chan error, 1)
	go func() { shutdown <- srv.Shutdown(context.Background()) }()
	select {
	case <-shutdown:
		t.Fatal("Shutdown returned while a request was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	assert.NoError(t, <-shutdown)
	assert.Contains(t, <-resp, "\r\n\r\ndone")

	ln2, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	assert.ErrorIs(t, srv.Serve(context.Background(), ln2), ErrServerClosed)
}

func TestServerContextCancel(t *testing.T) {
	srv := newTestServer(t, testOptions(), Deps{})
	ln, err := srv.Listen(context.Background(), "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- srv.Serve(ctx, ln) }()

	assert.Contains(t, exchange(t, ln.Addr().String(), "GET /plaintext HTTP/1.1\r\n\r\n"), "200 OK")
	cancel()

	select {
	case err := <-served:
		assert.ErrorIs(t, err, ErrServerClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
	assert.NoError(t, srv.Shutdown(context.Background()))
}

func TestServerObservability(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	core, logs := observer.New(zap.DebugLevel)
	monitor := observability.NewMonitor()

	srv := newTestServer(t, testOptions(), Deps{
		Logger:         zap.New(core),
		TracerProvider: tp,
		Monitor:        monitor,
	})
	srv.GET("/panic", func(context.Context, *http.Request, router.Params) (*http.Response, error) {
		panic("kaboom")
	})
	ts := startServer(t, srv)

	exchange(t, ts.addr, "GET /plaintext HTTP/1.1\r\n\r\n")
	exchange(t, ts.addr, "GET /panic HTTP/1.1\r\n\r\n")

	require.Eventually(t, func() bool {
		return len(recorder.Ended()) == 2 && len(monitor.Snapshot()) == 2
	}, 2*time.Second, 5*time.Millisecond)
	names := []string{recorder.Ended()[0].Name(), recorder.Ended()[1].Name()}
	assert.ElementsMatch(t, []string{"GET /plaintext", "GET /panic"}, names)

	assert.Equal(t, 1, logs.FilterMessage("panic serving connection").Len())

	snap := monitor.Snapshot()
	require.Len(t, snap, 2)
	byRoute := map[string]observability.RouteSnapshot{snap[0].Route: snap[0], snap[1].Route: snap[1]}
	assert.EqualValues(t, 1, byRoute["GET /plaintext"].Count)
	assert.EqualValues(t, 1, byRoute["GET /panic"].Errors)
}

func TestServerStats(t *testing.T) {
	ts := startServer(t, newTestServer(t, testOptions(), Deps{}))
	exchange(t, ts.addr, "GET /plaintext HTTP/1.1\r\n\r\n")

	require.Eventually(t, func() bool { return ts.Stats().Connections.Completed == 1 }, time.Second, 5*time.Millisecond)

	stats := ts.Stats()
	assert.EqualValues(t, 1, stats.Connections.Accepted)
	assert.Zero(t, stats.Connections.Active)
	assert.Equal(t, []string{"GET /echo/:token", "GET /plaintext"}, stats.Routes)
	assert.Positive(t, stats.Buffers.Checkouts)

	raw, err := ts.StatsJSON()
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"completed": 1`)
	assert.Contains(t, ts.StatsText(), "Completed: 1")
}

func TestServerMalformedWithoutBlankLine(t *testing.T) {
	opts := testOptions()
	opts.ReadTimeout = 0
	ts := startServer(t, newTestServer(t, opts, Deps{}))

	want := "HTTP/1.1 400 Bad Request\r\nServer: h1\r\nContent-Length: 0\r\nDate: " + testDate +
		"\r\nConnection: close\r\n\r\n"
	for _, raw := range []string{"G@T / HTTP/1.1\r\n", "GET / HTTP/1.1\n\n", "GET / HTTP/2.0\r\n"} {
		t.Run(fmt.Sprintf("%q", raw), func(t *testing.T) {
			c, err := net.Dial("tcp", ts.addr)
			require.NoError(t, err)
			defer c.Close()
			require.NoError(t, c.SetReadDeadline(time.Now().Add(time.Second)))

			_, err = io.WriteString(c, raw)
			require.NoError(t, err)
			out, err := io.ReadAll(c)
			require.NoError(t, err, "server must answer before the client gives up")
			assert.Equal(t, want, string(out))
		})
	}

	require.Eventually(t, func() bool {
		return ts.Stats().Connections.Errors["parse"] == 3
	}, time.Second, 5*time.Millisecond)
}

func TestServerPlaintextAndJSON(t *testing.T) {
	srv := newTestServer(t, testOptions(), Deps{})
	srv.GET("/json", func(context.Context, *http.Request, router.Params) (*http.Response, error) {
		return codec.Respond(codec.JSON, 200, struct {
			Message string `json:"message"`
		}{Message: "Hello, World!"})
	})
	ts := startServer(t, srv)

	tests := []struct {
		path string
		want string
	}{
		{"/plaintext", "HTTP/1.1 200 OK\r\nServer: h1\r\nContent-Length: 13\r\nDate: " + testDate +
			"\r\nContent-Type: text/plain\r\n\r\nHello, World!"},
		{"/json", "HTTP/1.1 200 OK\r\nServer: h1\r\nContent-Length: 27\r\nDate: " + testDate +
			"\r\nContent-Type: application/json\r\n\r\n{\"message\":\"Hello, World!\"}"},
		{"/missing", "HTTP/1.1 404 Not Found\r\nServer: h1\r\nContent-Length: 0\r\nDate: " + testDate + "\r\n\r\n"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, exchange(t, ts.addr, "GET "+tt.path+" HTTP/1.1\r\nHost: localhost\r\n\r\n"))
		})
	}
}
