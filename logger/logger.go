package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

type DebugLevel = zerolog.Level

const (
	Trace    DebugLevel = zerolog.TraceLevel
	Debug    DebugLevel = zerolog.DebugLevel
	Info     DebugLevel = zerolog.InfoLevel
	Warn     DebugLevel = zerolog.WarnLevel
	Error    DebugLevel = zerolog.ErrorLevel
	Disabled DebugLevel = zerolog.Disabled

	defaultLevel = Debug

	// lumberjack rotation
	maxLogSizeMB  = 50
	maxLogBackups = 3
	maxLogAgeDays = 28
)

type Config struct {
	// Rotated log file, left empty for console-only logging
	FilePath string

	ConsoleWriters []io.Writer

	// The zero value is zerolog's debug level
	LogLevel DebugLevel
}

// Logger is a thin wrapper around a zerolog.Logger which remembers its component path so that
// children can be derived for each layer of a connection
type Logger struct {
	logger    zerolog.Logger
	component string
}

func New(config *Config) (*Logger, error) {
	writers := []io.Writer{}

	if config.FilePath != "" {
		if err := os.MkdirAll(filepath.Dir(config.FilePath), os.ModePerm); err != nil {
			return nil, fmt.Errorf("failed to create log directory for %s: %w", config.FilePath, err)
		}

		writers = append(writers, &lumberjack.Logger{
			Filename:   config.FilePath,
			MaxSize:    maxLogSizeMB,
			MaxBackups: maxLogBackups,
			MaxAge:     maxLogAgeDays,
		})
	}

	for _, w := range config.ConsoleWriters {
		writers = append(writers, zerolog.ConsoleWriter{Out: w, NoColor: true})
	}

	if len(writers) == 0 {
		return nil, fmt.Errorf("logger needs at least one of a file path or a console writer")
	}

	zl := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(config.LogLevel).
		With().
		Timestamp().
		Logger()

	return &Logger{logger: zl}, nil
}

// ToLogLevel converts a user supplied level name, falling back to debug on anything unknown
func ToLogLevel(level string) DebugLevel {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return Trace
	case "debug":
		return Debug
	case "info":
		return Info
	case "warn", "warning":
		return Warn
	case "error":
		return Error
	case "disabled", "off":
		return Disabled
	default:
		return defaultLevel
	}
}

// GetComponentLogger returns a child logger whose component field is nested under ours
func (l *Logger) GetComponentLogger(component string) *Logger {
	path := component
	if l.component != "" {
		path = l.component + "/" + component
	}

	return &Logger{
		logger:    l.logger.With().Str("component", path).Logger(),
		component: path,
	}
}

// GetConnectionLogger tags every line with the gateway address a connection was opened against
func (l *Logger) GetConnectionLogger(address string) *Logger {
	return &Logger{
		logger:    l.logger.With().Str("address", address).Logger(),
		component: l.component,
	}
}

func (l *Logger) Trace(msg string) {
	l.logger.Trace().Msg(msg)
}

func (l *Logger) Tracef(format string, a ...interface{}) {
	l.logger.Trace().Msgf(format, a...)
}

func (l *Logger) Debug(msg string) {
	l.logger.Debug().Msg(msg)
}

func (l *Logger) Debugf(format string, a ...interface{}) {
	l.logger.Debug().Msgf(format, a...)
}

func (l *Logger) Info(msg string) {
	l.logger.Info().Msg(msg)
}

func (l *Logger) Infof(format string, a ...interface{}) {
	l.logger.Info().Msgf(format, a...)
}

func (l *Logger) Warn(msg string) {
	l.logger.Warn().Msg(msg)
}

func (l *Logger) Warnf(format string, a ...interface{}) {
	l.logger.Warn().Msgf(format, a...)
}

func (l *Logger) Error(err error) {
	l.logger.Error().Msg(err.Error())
}

func (l *Logger) Errorf(format string, a ...interface{}) {
	l.logger.Error().Msgf(format, a...)
}
