package app

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/searchktools/h1/config"
	"github.com/searchktools/h1/core"
	"github.com/searchktools/h1/core/http"
	"github.com/searchktools/h1/core/pools"
	"github.com/searchktools/h1/core/router"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"
	"go.uber.org/zap/zapcore"
)

func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}

func testConfig(t *testing.T) *config.Config {
	cfg := config.Default()
	cfg.Addr = freeAddr(t)
	cfg.Env = "test"
	cfg.LogLevel = zapcore.ErrorLevel
	return cfg
}

func TestAppServesRoutes(t *testing.T) {
	cfg := testConfig(t)

	var srv *core.Server
	app := fxtest.New(t, options(func(s *core.Server) {
		srv = s
		s.GET("/plaintext", func(context.Context, *http.Request, router.Params) (*http.Response, error) {
			return http.NewResponse().Body("Hello, World!"), nil
		})
	}, WithConfig(cfg))...)
	app.RequireStart()

	c, err := net.Dial("tcp", cfg.Addr)
	require.NoError(t, err)
	defer c.Close()
	require.NoError(t, c.SetDeadline(time.Now().Add(5*time.Second)))
	_, err = io.WriteString(c, "GET /plaintext HTTP/1.1\r\n\r\n")
	require.NoError(t, err)
	out, err := io.ReadAll(c)
	require.NoError(t, err)

	assert.Contains(t, string(out), "HTTP/1.1 200 OK\r\nServer: h1\r\n")
	assert.Contains(t, string(out), "\r\n\r\nHello, World!")

	app.RequireStop()

	_, err = net.DialTimeout("tcp", cfg.Addr, time.Second)
	assert.Error(t, err, "listener closed on stop")
	assert.NotNil(t, srv)
}

func TestAppProvidesServices(t *testing.T) {
	cfg := testConfig(t)

	var tp trace.TracerProvider
	app := fxtest.New(t, options(func(*core.Server) {},
		WithConfig(cfg),
		WithFx(fx.Populate(&tp)),
	)...)
	app.RequireStart()
	defer app.RequireStop()

	_, isNoop := tp.(noop.TracerProvider)
	assert.True(t, isNoop, "tracing is off by default")
}

func TestAppRejectsBadExporter(t *testing.T) {
	cfg := testConfig(t)
	cfg.OtelExporter = "jaeger"

	a := New(func(*core.Server) {}, WithConfig(cfg))
	assert.ErrorContains(t, a.Err(), `unsupported exporter "jaeger"`)
}

func TestAppStartStopsOnCancel(t *testing.T) {
	cfg := testConfig(t)
	cfg.OtelExporter = "stdout"

	a := New(func(*core.Server) {}, WithConfig(cfg))
	require.NoError(t, a.Err())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Start(ctx) }()

	require.Eventually(t, func() bool {
		c, err := net.Dial("tcp", cfg.Addr)
		if err != nil {
			return false
		}
		c.Close()
		return true
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return after cancel")
	}
}

func TestNewLogger(t *testing.T) {
	cfg := config.Default()
	cfg.LogLevel = zapcore.WarnLevel

	logger, err := NewLogger(cfg)
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, logger.Core().Enabled(zapcore.WarnLevel))
}

func TestAppStopTimeoutFromConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.ShutdownTimeout = 42 * time.Second

	a := New(func(*core.Server) {}, WithConfig(cfg))
	require.NoError(t, a.Err())
	assert.Equal(t, 42*time.Second, a.app.StopTimeout())
}

func TestAppLoadsConfigFromEnv(t *testing.T) {
	t.Setenv("H1_ADDR", freeAddr(t))
	t.Setenv("H1_SHUTDOWN_TIMEOUT", "3s")

	a := New(func(*core.Server) {})
	require.NoError(t, a.Err())
	assert.Equal(t, 3*time.Second, a.app.StopTimeout())

	t.Setenv("H1_SHUTDOWN_TIMEOUT", "soon")
	assert.Error(t, New(func(*core.Server) {}).Err())
}

func TestAppGCTuningRestoredOnStop(t *testing.T) {
	before := pools.CurrentGCConfig()
	cfg := testConfig(t)
	cfg.GCPercent = 222

	app := fxtest.New(t, options(func(*core.Server) {}, WithConfig(cfg))...)
	app.RequireStart()
	assert.Equal(t, 222, pools.CurrentGCConfig().Percent)

	app.RequireStop()
	assert.Equal(t, before, pools.CurrentGCConfig())
}
