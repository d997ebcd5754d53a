package config

import (
	"flag"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/cockroachdb/errors"
	"go.uber.org/zap/zapcore"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "H1_"

// Config holds all application configuration.
type Config struct {
	Addr       string        `env:"ADDR" envDefault:"localhost:3000"`
	Env        string        `env:"ENV" envDefault:"development"`
	LogLevel   zapcore.Level `env:"LOG_LEVEL" envDefault:"info"`
	ServerName string        `env:"SERVER_NAME" envDefault:"h1"`

	// MaxConnections bounds concurrently served connections; 0 disables the limit
	MaxConnections int           `env:"MAX_CONNECTIONS" envDefault:"1000"`
	ReadTimeout    time.Duration `env:"READ_TIMEOUT" envDefault:"10s"`
	WriteTimeout   time.Duration `env:"WRITE_TIMEOUT" envDefault:"10s"`
	ReusePort      bool          `env:"REUSE_PORT" envDefault:"false"`

	InitialBufferSize int `env:"INITIAL_BUFFER_SIZE" envDefault:"4096"`
	BufferGrowStep    int `env:"BUFFER_GROW_STEP" envDefault:"4096"`
	MaxIdleBuffers    int `env:"MAX_IDLE_BUFFERS" envDefault:"0"`
	MaxRequestSize    int `env:"MAX_REQUEST_SIZE" envDefault:"1048576"`
	MaxHeaders        int `env:"MAX_HEADERS" envDefault:"16"`
	MaxBodySize       int `env:"MAX_BODY_SIZE" envDefault:"1048576"`

	// ErrorReplies makes the server answer parse and handler failures with
	// 400/413/500 before closing instead of closing silently
	ErrorReplies bool `env:"ERROR_REPLIES" envDefault:"true"`

	GCPercent   int   `env:"GC_PERCENT" envDefault:"0"`
	MemoryLimit int64 `env:"MEMORY_LIMIT" envDefault:"0"`

	OtelExporter    string        `env:"OTEL_EXPORTER" envDefault:"none"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"15s"`
}

// Load parses the environment into a Config.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, errors.Wrap(err, "failed to parse environment")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the configuration Load produces from an empty environment.
func Default() *Config {
	return &Config{
		Addr:              "localhost:3000",
		Env:               "development",
		LogLevel:          zapcore.InfoLevel,
		ServerName:        "h1",
		MaxConnections:    1000,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		InitialBufferSize: 4096,
		BufferGrowStep:    4096,
		MaxRequestSize:    1 << 20,
		MaxHeaders:        16,
		MaxBodySize:       1 << 20,
		ErrorReplies:      true,
		OtelExporter:      "none",
		ShutdownTimeout:   15 * time.Second,
	}
}

// BindFlags registers command-line flags that override the loaded values.
func (c *Config) BindFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.Addr, "addr", c.Addr, "listen address (host:port)")
	fs.StringVar(&c.Env, "env", c.Env, "Environment (development/production)")
	fs.TextVar(&c.LogLevel, "log-level", c.LogLevel, "log level (debug, info, warn, error)")
	fs.IntVar(&c.MaxConnections, "max-connections", c.MaxConnections, "maximum concurrent connections (0 = unlimited)")
	fs.DurationVar(&c.ReadTimeout, "read-timeout", c.ReadTimeout, "per-connection read timeout")
	fs.DurationVar(&c.WriteTimeout, "write-timeout", c.WriteTimeout, "per-connection write timeout")
	fs.BoolVar(&c.ReusePort, "reuse-port", c.ReusePort, "set SO_REUSEPORT on the listener")
	fs.IntVar(&c.MaxRequestSize, "max-request-size", c.MaxRequestSize, "maximum request size in bytes")
	fs.StringVar(&c.OtelExporter, "otel-exporter", c.OtelExporter, "trace exporter (none, stdout)")
}

// Development reports whether the config targets a development environment.
func (c *Config) Development() bool { return c.Env == "development" }

// Validate rejects inconsistent limits.
func (c *Config) Validate() error {
	switch {
	case c.Addr == "":
		return errors.New("config: address must not be empty")
	case c.MaxConnections < 0:
		return errors.Newf("config: max connections must not be negative, got %d", c.MaxConnections)
	case c.ReadTimeout < 0 || c.WriteTimeout < 0:
		return errors.New("config: timeouts must not be negative")
	case c.InitialBufferSize <= 0 || c.BufferGrowStep <= 0:
		return errors.New("config: buffer sizes must be positive")
	case c.MaxHeaders <= 0:
		return errors.Newf("config: max headers must be positive, got %d", c.MaxHeaders)
	case c.MaxBodySize < 0 || c.MaxRequestSize < 0 || c.MaxIdleBuffers < 0:
		return errors.New("config: size limits must not be negative")
	case c.MaxRequestSize > 0 && c.MaxBodySize > c.MaxRequestSize:
		return errors.Newf("config: max body size %d exceeds max request size %d", c.MaxBodySize, c.MaxRequestSize)
	}
	switch c.OtelExporter {
	case "none", "stdout":
	default:
		return errors.Newf("config: unsupported otel exporter %q (supported: none, stdout)", c.OtelExporter)
	}
	return nil
}
