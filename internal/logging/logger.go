package logging

import (
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	logger *zap.SugaredLogger
	mu     sync.Mutex
)

// InitLogger configures the global sugared logger
func InitLogger(verbose bool) {
	var config zap.Config

	if verbose {
		config = zap.NewDevelopmentConfig()
	} else {
		config = zap.NewProductionConfig()
		config.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
		config.Encoding = "console"
	}
	config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	config.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")
	config.DisableStacktrace = !verbose

	l, err := config.Build()
	if err != nil {
		panic(err)
	}

	zap.ReplaceGlobals(l)
	zap.RedirectStdLog(l)

	mu.Lock()
	logger = l.Sugar()
	mu.Unlock()
}

// GetLogger returns the global sugared logger
func GetLogger() *zap.SugaredLogger {
	mu.Lock()
	l := logger
	mu.Unlock()
	if l == nil {
		InitLogger(false)
		return GetLogger()
	}
	return l
}

// SetLogger replaces the global logger, mostly for tests
func SetLogger(l *zap.SugaredLogger) {
	mu.Lock()
	defer mu.Unlock()
	logger = l
}

// WithFields creates a logger with the given structured fields
func WithFields(fields ...interface{}) *zap.SugaredLogger {
	return GetLogger().With(fields...)
}

// WithRequest attaches request context to a logger
func WithRequest(l *zap.SugaredLogger, requestID, identity string) *zap.SugaredLogger {
	return l.With(
		"request_id", requestID,
		"identity", identity,
	)
}

// WithTool creates a logger with tool execution context
func WithTool(l *zap.SugaredLogger, toolName string, args map[string]interface{}) *zap.SugaredLogger {
	return l.With(
		"tool", toolName,
		"tool_args", args,
	)
}

// LogDuration logs the duration of an operation
// Usage: defer LogDuration(logger, "operation_name", time.Now())
func LogDuration(l *zap.SugaredLogger, operation string, start time.Time) {
	duration := time.Since(start)
	l.With(
		"operation", operation,
		"duration_ms", duration.Milliseconds(),
	).Debugf("Completed %s in %v", operation, duration)
}
