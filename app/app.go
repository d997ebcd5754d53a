package app

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/searchktools/h1/config"
	"github.com/searchktools/h1/core"
	"github.com/searchktools/h1/core/observability"
	"github.com/searchktools/h1/core/pools"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// App wraps an fx.App running a core.Server.
type App struct {
	app *fx.App
}

type appConfig struct {
	cfg       *config.Config
	fxOptions []fx.Option
}

// Option configures the App.
type Option func(*appConfig)

// WithConfig uses cfg instead of loading the configuration from the
// environment. cfg.ShutdownTimeout bounds the stop of the application.
func WithConfig(cfg *config.Config) Option {
	return func(c *appConfig) { c.cfg = cfg }
}

// WithFx adds fx options for dependency injection.
func WithFx(opts ...fx.Option) Option {
	return func(c *appConfig) { c.fxOptions = append(c.fxOptions, opts...) }
}

// New creates an application. The routing function is invoked once the
// server is built and may request any provided type; at minimum it takes
// *core.Server to register routes and middleware:
//
//	app.New(func(s *core.Server) {
//	    s.GET("/plaintext", plaintext)
//	}).Run()
func New(routing any, opts ...Option) *App {
	return &App{app: fx.New(options(routing, opts...)...)}
}

func options(routing any, opts ...Option) []fx.Option {
	var ac appConfig
	for _, opt := range opts {
		opt(&ac)
	}

	cfg := ac.cfg
	if cfg == nil {
		loaded, err := config.Load()
		if err != nil {
			return []fx.Option{fx.Error(err)}
		}
		cfg = loaded
	}

	base := make([]fx.Option, 0, 10+len(ac.fxOptions))
	base = append(base,
		fx.NopLogger,
		fx.Supply(cfg),
		fx.Provide(NewLogger),
		fx.Provide(NewTracerProvider),
		fx.Provide(NewBufferPool),
		fx.Provide(observability.NewMonitor),
		fx.Provide(NewServer),
		fx.Invoke(applyGCConfig),
		fx.Invoke(routing),
		fx.Invoke(startServerHook),
	)
	if cfg.ShutdownTimeout > 0 {
		base = append(base, fx.StopTimeout(cfg.ShutdownTimeout))
	}
	return append(base, ac.fxOptions...)
}

// NewBufferPool creates the pool connection buffers are checked out from.
func NewBufferPool(cfg *config.Config) *pools.BufferPool {
	return pools.NewBufferPool(pools.BufferPoolConfig{
		InitialSize: cfg.InitialBufferSize,
		MaxIdle:     cfg.MaxIdleBuffers,
	})
}

type serverParams struct {
	fx.In

	Config         *config.Config
	Logger         *zap.Logger
	TracerProvider trace.TracerProvider
	Pool           *pools.BufferPool
	Monitor        *observability.Monitor
}

// NewServer builds the server from the configuration and shared services.
func NewServer(p serverParams) *core.Server {
	return core.NewServer(core.OptionsFromConfig(p.Config), core.Deps{
		Pool:           p.Pool,
		Logger:         p.Logger,
		TracerProvider: p.TracerProvider,
		Monitor:        p.Monitor,
	})
}

func applyGCConfig(lc fx.Lifecycle, cfg *config.Config, logger *zap.Logger) {
	gc := pools.GCConfig{Percent: cfg.GCPercent, MemoryLimit: cfg.MemoryLimit}
	if !gc.Enabled() {
		return
	}
	prev := pools.CurrentGCConfig()
	restore := pools.ApplyGCConfig(gc)
	logger.Info("gc tuned",
		zap.Int("gc_percent", cfg.GCPercent),
		zap.Int("previous_gc_percent", prev.Percent),
		zap.Int64("memory_limit", cfg.MemoryLimit))
	lc.Append(fx.StopHook(restore))
}

func startServerHook(lc fx.Lifecycle, shutdowner fx.Shutdowner, cfg *config.Config, srv *core.Server, logger *zap.Logger) {
	var serveCtx context.Context
	var cancel context.CancelFunc

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ln, err := srv.Listen(ctx, cfg.Addr)
			if err != nil {
				return err
			}
			logger.Info("starting server",
				zap.Stringer("addr", ln.Addr()),
				zap.String("env", cfg.Env))

			serveCtx, cancel = context.WithCancel(context.Background())
			go func() {
				if err := srv.Serve(serveCtx, ln); err != nil && !errors.Is(err, core.ErrServerClosed) {
					logger.Error("server error", zap.Error(err))
					_ = shutdowner.Shutdown(fx.ExitCode(1))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("stopping server")
			defer cancel()
			return srv.Shutdown(ctx)
		},
	})
}

// Run starts the application and blocks until interrupted.
func (a *App) Run() {
	a.app.Run()
}

// Start starts the application and stops it once ctx is done.
func (a *App) Start(ctx context.Context) error {
	if err := a.app.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.app.StopTimeout())
	defer cancel()

	return a.app.Stop(stopCtx)
}

// Err returns the error, if any, from building the application graph.
func (a *App) Err() error { return a.app.Err() }
