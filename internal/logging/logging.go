// Package logging builds echohook's zap loggers and the field helpers that
// keep log keys consistent across packages.
package logging

import (
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds logging configuration options.
type Config struct {
	Level  string // debug|info|warn|error
	Format string // json|console
	// Output is stderr, stdout or a file path. Empty means stderr.
	Output string
}

// New creates a configured zap logger tagged with service=echohook.
func New(cfg Config) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		if err := level.Set(strings.ToLower(cfg.Level)); err != nil {
			return nil, fmt.Errorf("log level: %w", err)
		}
	}

	var zcfg zap.Config
	switch strings.ToLower(cfg.Format) {
	case "", "json":
		zcfg = zap.NewProductionConfig()
	case "console":
		zcfg = zap.NewDevelopmentConfig()
	default:
		return nil, fmt.Errorf("log format %q: want json or console", cfg.Format)
	}

	output := cfg.Output
	if output == "" {
		output = "stderr"
	}
	zcfg.OutputPaths = []string{output}
	zcfg.ErrorOutputPaths = []string{"stderr"}

	zcfg.Level = zap.NewAtomicLevelAt(level)
	zcfg.EncoderConfig.TimeKey = "ts"
	zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := zcfg.Build()
	if err != nil {
		return nil, err
	}
	return logger.With(zap.String("service", "echohook")), nil
}

// Sync flushes any buffered log entries.
func Sync(logger *zap.Logger) {
	_ = logger.Sync()
}

// FromEnv reads ECHOHOOK_LOG_LEVEL, ECHOHOOK_LOG_FORMAT and
// ECHOHOOK_LOG_OUTPUT.
func FromEnv() Config {
	return Config{
		Level:  os.Getenv("ECHOHOOK_LOG_LEVEL"),
		Format: os.Getenv("ECHOHOOK_LOG_FORMAT"),
		Output: os.Getenv("ECHOHOOK_LOG_OUTPUT"),
	}
}

func Addr(addr string) zap.Field { return zap.String("addr", addr) }

func Domain(domain string) zap.Field { return zap.String("domain", domain) }

// Backend names the storage backend in use.
func Backend(name string) zap.Field { return zap.String("backend", name) }

func BinID(id string) zap.Field { return zap.String("bin_id", id) }

func RequestID(id string) zap.Field { return zap.String("request_id", id) }

// TokenID identifies an API token. Never log the secret itself.
func TokenID(id string) zap.Field { return zap.String("token_id", id) }

func RemoteIP(ip string) zap.Field { return zap.String("remote_ip", ip) }

func Method(method string) zap.Field { return zap.String("method", method) }

func Path(path string) zap.Field { return zap.String("path", path) }

func Status(code int) zap.Field { return zap.Int("status", code) }

// Duration records elapsed time in milliseconds.
func Duration(d time.Duration) zap.Field {
	return zap.Float64("duration_ms", float64(d.Microseconds())/1000)
}

func TLSMode(mode string) zap.Field { return zap.String("tls_mode", mode) }
