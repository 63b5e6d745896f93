// Package logging wraps zap with a single process-wide logger, initialized
// once at startup and retrieved everywhere else via Get.
package logging

import (
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	envLogLevel  = "FTCOORD_LOG_LEVEL"
	envLogFormat = "FTCOORD_LOG_FORMAT"
	envDevMode   = "FTCOORD_DEVELOPMENT"
)

var (
	globalLogger     *zap.Logger
	globalLoggerInit sync.Once
	devMode          bool
)

// DevMode reports whether the logger was initialized in development mode.
func DevMode() bool { return devMode }

// Init initializes the global logger. It must be called once from main();
// subsequent calls panic. The returned func flushes buffered log entries
// and should be deferred by the caller.
func Init() (sync func() error) {
	if IsInitialized() {
		panic("logging.Init called multiple times")
	}

	level := parseLevel(os.Getenv(envLogLevel))
	development := os.Getenv(envDevMode) == "true"
	json := strings.EqualFold(os.Getenv(envLogFormat), "json")

	globalLoggerInit.Do(func() {
		globalLogger = newLogger(level, development, json)
	})
	return globalLogger.Sync
}

// IsInitialized reports whether Init has run.
func IsInitialized() bool {
	return globalLogger != nil
}

// Get returns the global logger. It panics if Init has not run, matching
// the fail-fast behavior expected of a service entrypoint.
func Get() *zap.Logger {
	if globalLogger == nil {
		panic("logging.Get called before logging.Init")
	}
	return globalLogger
}

func newLogger(level zapcore.Level, development, forceJSON bool) *zap.Logger {
	devMode = development

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var enc zapcore.Encoder
	if development && !forceJSON {
		encCfg = zap.NewDevelopmentEncoderConfig()
		enc = zapcore.NewConsoleEncoder(encCfg)
	} else {
		enc = zapcore.NewJSONEncoder(encCfg)
	}

	core := zapcore.NewCore(enc, zapcore.Lock(os.Stderr), zap.NewAtomicLevelAt(level))

	opts := []zap.Option{zap.AddCaller()}
	if development {
		opts = append(opts, zap.Development())
	}
	return zap.New(core, opts...)
}

func parseLevel(s string) zapcore.Level {
	switch strings.ToLower(s) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	case "":
		return zapcore.InfoLevel
	default:
		return zapcore.InfoLevel
	}
}
