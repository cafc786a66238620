package log

import (
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelError Level = "ERROR"
)

var (
	logger     *zap.SugaredLogger
	loggerOnce sync.Once
	atomLevel  = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	format     = "json"
)

// initLogger builds the global logger writing to stderr. It is lazily
// created so that packages can log before main has called Configure.
func initLogger() {
	loggerOnce.Do(func() {
		logger = build(format)
	})
}

func build(f string) *zap.SugaredLogger {
	var cfg zap.Config
	if f == "console" {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "ts"
		cfg.EncoderConfig.EncodeTime = zapcore.RFC3339NanoTimeEncoder
	}
	cfg.Level = atomLevel
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}

	// Skip this package's wrappers so callers show up in the caller field.
	l, err := cfg.Build(zap.AddCallerSkip(2))
	if err != nil {
		return zap.NewNop().Sugar()
	}
	return l.Sugar()
}

// Configure replaces the global logger. format is "json" (default) or
// "console"; level is one of debug, info, error (case-insensitive).
func Configure(logFormat, level string) {
	initLogger()
	if logFormat == "" {
		logFormat = "json"
	}
	format = logFormat
	SetLevel(ParseLevel(level))
	old := logger
	logger = build(format)
	_ = old.Sync()
}

// ParseLevel maps a config string to a Level, defaulting to INFO.
func ParseLevel(s string) Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return LevelDebug
	case "ERROR":
		return LevelError
	default:
		return LevelInfo
	}
}

func SetLevel(l Level) {
	initLogger()
	switch l {
	case LevelDebug:
		atomLevel.SetLevel(zapcore.DebugLevel)
	case LevelError:
		atomLevel.SetLevel(zapcore.ErrorLevel)
	default:
		atomLevel.SetLevel(zapcore.InfoLevel)
	}
}

func Debug(msg string, kv ...any) {
	logWithLevel(LevelDebug, msg, kv...)
}

func Info(msg string, kv ...any) {
	logWithLevel(LevelInfo, msg, kv...)
}

func Error(msg string, err error, kv ...any) {
	// Prepend error into key-value list.
	extended := append([]any{"err", err}, kv...)
	logWithLevel(LevelError, msg, extended...)
}

// Sync flushes buffered entries; call before exit.
func Sync() {
	initLogger()
	_ = logger.Sync()
}

func logWithLevel(level Level, msg string, kv ...any) {
	initLogger()

	// Odd trailing key is dropped rather than reported as DPANIC by zap.
	if len(kv)%2 != 0 {
		kv = kv[:len(kv)-1]
	}

	switch level {
	case LevelDebug:
		logger.Debugw(msg, kv...)
	case LevelError:
		logger.Errorw(msg, kv...)
	default:
		logger.Infow(msg, kv...)
	}
}
