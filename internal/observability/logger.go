// File: internal/observability/logger.go
package observability

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/xkilldash9x/streamwatch/internal/config"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	// globalLogger stores the global logger instance safely across goroutines.
	globalLogger atomic.Pointer[zap.Logger]
	once         sync.Once
)

// ANSI color codes for the terminal.
const (
	colorRed     = "\x1b[31m"
	colorGreen   = "\x1b[32m"
	colorYellow  = "\x1b[33m"
	colorBlue    = "\x1b[34m"
	colorMagenta = "\x1b[35m"
	colorCyan    = "\x1b[36m"
	colorWhite   = "\x1b[37m"
	colorReset   = "\x1b[0m"
)

var colorMap = map[string]string{
	"red":     colorRed,
	"green":   colorGreen,
	"yellow":  colorYellow,
	"blue":    colorBlue,
	"magenta": colorMagenta,
	"cyan":    colorCyan,
	"white":   colorWhite,
}

// NewLogger builds a logger from cfg writing to consoleWriter and, when
// cfg.LogFile is set, to a rotated JSON file. It touches no global state.
func NewLogger(cfg config.LoggerConfig, consoleWriter zapcore.WriteSyncer) *zap.Logger {
	level := zap.NewAtomicLevel()
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level.SetLevel(zap.InfoLevel)
	}

	cores := []zapcore.Core{zapcore.NewCore(getEncoder(cfg), consoleWriter, level)}

	if cfg.LogFile != "" {
		// File output is always JSON so it can be shipped as is.
		fileWriter := zapcore.AddSync(&lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   cfg.Compress,
		})
		cores = append(cores, zapcore.NewCore(getEncoder(config.LoggerConfig{Format: "json"}), fileWriter, level))
	}

	options := []zap.Option{zap.AddStacktrace(zap.ErrorLevel)}
	if cfg.AddSource {
		options = append(options, zap.AddCaller())
	}

	logger := zap.New(zapcore.NewTee(cores...), options...)
	if cfg.ServiceName != "" {
		logger = logger.Named(cfg.ServiceName)
	}
	return logger
}

// Initialize sets up the global logger once. Later calls are no-ops.
func Initialize(cfg config.LoggerConfig, consoleWriter zapcore.WriteSyncer) {
	once.Do(func() {
		logger := NewLogger(cfg, consoleWriter)
		globalLogger.Store(logger)

		zap.ReplaceGlobals(logger)
		zap.RedirectStdLog(logger)
	})
}

// InitializeLogger is the production entry point; console output goes to a
// locked Stderr so stdout stays free for command output.
func InitializeLogger(cfg config.LoggerConfig) {
	Initialize(cfg, zapcore.Lock(os.Stderr))
}

// ResetForTest resets the sync.Once and clears the global logger.
// This function should ONLY be used in tests to ensure isolation.
func ResetForTest() {
	globalLogger.Store(nil)
	once = sync.Once{}
}

func newColorizedLevelEncoder(colors config.ColorConfig) zapcore.LevelEncoder {
	return func(level zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
		var color string
		levelStr := strings.ToUpper(level.String())

		switch level {
		case zapcore.DebugLevel:
			color = colorMap[colors.Debug]
		case zapcore.InfoLevel:
			color = colorMap[colors.Info]
		case zapcore.WarnLevel:
			color = colorMap[colors.Warn]
		case zapcore.ErrorLevel:
			color = colorMap[colors.Error]
		case zapcore.DPanicLevel:
			color = colorMap[colors.DPanic]
		case zapcore.PanicLevel:
			color = colorMap[colors.Panic]
		case zapcore.FatalLevel:
			color = colorMap[colors.Fatal]
		}

		if color != "" {
			enc.AppendString(color + levelStr + colorReset)
		} else {
			enc.AppendString(levelStr)
		}
	}
}

// getEncoder returns the colorized single-line console encoder for "console"
// and a JSON encoder for everything else.
func getEncoder(cfg config.LoggerConfig) zapcore.Encoder {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02T15:04:05.000Z07:00")

	if cfg.Format == "console" {
		encoderConfig.EncodeLevel = newColorizedLevelEncoder(cfg.Colors)
		// Trailing dot keeps the component visually apart, e.g. "streamwatch.scheduler.".
		encoderConfig.EncodeName = func(loggerName string, enc zapcore.PrimitiveArrayEncoder) {
			enc.AppendString(loggerName + ".")
		}
		return zapcore.NewConsoleEncoder(encoderConfig)
	}

	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	return zapcore.NewJSONEncoder(encoderConfig)
}

// GetLogger returns the initialized global logger instance.
func GetLogger() *zap.Logger {
	logger := globalLogger.Load()
	if logger == nil {
		l, err := zap.NewDevelopment()
		if err != nil {
			return zap.NewNop()
		}
		l.Warn("Global logger requested before initialization; using fallback.")
		return l.Named("fallback")
	}
	return logger
}

// Sync flushes any buffered log entries. Applications should call this before exiting.
func Sync() {
	logger := globalLogger.Load()
	if logger == nil {
		return
	}
	if err := logger.Sync(); err != nil {
		// Syncing a terminal or pipe fails on several platforms; that is not worth reporting.
		errMsg := err.Error()
		if !strings.Contains(errMsg, "sync /dev/stdout") &&
			!strings.Contains(errMsg, "sync /dev/stderr") &&
			!strings.Contains(errMsg, "invalid argument") &&
			!strings.Contains(errMsg, "inappropriate ioctl") &&
			!strings.Contains(errMsg, "operation not supported") {
			fmt.Fprintln(os.Stderr, "Error: failed to sync logger:", err)
		}
	}
}
