package voiceagent

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// AgentLogger wraps zerolog for structured logging
type AgentLogger struct {
	logger zerolog.Logger
}

// LogLevel represents the logging level
type LogLevel int

const (
	TraceLevel LogLevel = iota
	DebugLevel
	InfoLevel
	WarnLevel
	ErrorLevel
	FatalLevel
	PanicLevel
	Disabled
)

// LogConfig represents the configuration for logging
type LogConfig struct {
	Level     LogLevel
	Pretty    bool
	Output    io.Writer
	AddSource bool
	Fields    map[string]interface{}
}

// DefaultLogConfig returns a default logging configuration
func DefaultLogConfig() *LogConfig {
	return &LogConfig{
		Level:     InfoLevel,
		Pretty:    true,
		Output:    os.Stderr,
		AddSource: false,
		Fields:    make(map[string]interface{}),
	}
}

// ParseLogLevel maps a config debug level ("DEBUG", "INFO", "WARNING",
// "ERROR") to a LogLevel. Unknown values map to InfoLevel.
func ParseLogLevel(level string) LogLevel {
	switch strings.ToUpper(level) {
	case "TRACE":
		return TraceLevel
	case "DEBUG":
		return DebugLevel
	case "WARNING", "WARN":
		return WarnLevel
	case "ERROR":
		return ErrorLevel
	case "OFF", "DISABLED":
		return Disabled
	default:
		return InfoLevel
	}
}

func (l LogLevel) zerolog() zerolog.Level {
	switch l {
	case TraceLevel:
		return zerolog.TraceLevel
	case DebugLevel:
		return zerolog.DebugLevel
	case WarnLevel:
		return zerolog.WarnLevel
	case ErrorLevel:
		return zerolog.ErrorLevel
	case FatalLevel:
		return zerolog.FatalLevel
	case PanicLevel:
		return zerolog.PanicLevel
	case Disabled:
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}

// NewAgentLogger creates a new structured logger
func NewAgentLogger(config *LogConfig) *AgentLogger {
	if config == nil {
		config = DefaultLogConfig()
	}
	out := config.Output
	if out == nil {
		out = os.Stderr
	}

	zerolog.TimeFieldFormat = time.RFC3339

	var logger zerolog.Logger
	if config.Pretty {
		logger = zerolog.New(zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: time.Kitchen,
		})
	} else {
		logger = zerolog.New(out)
	}

	logger = logger.Level(config.Level.zerolog()).With().Timestamp().Logger()

	if config.AddSource {
		logger = logger.With().Caller().Logger()
	}

	if len(config.Fields) > 0 {
		logger = logger.With().Fields(config.Fields).Logger()
	}

	return &AgentLogger{
		logger: logger,
	}
}

// NopLogger returns a logger that discards everything.
func NopLogger() *AgentLogger {
	return &AgentLogger{logger: zerolog.Nop()}
}

// WithComponent adds a component field to the logger
func (l *AgentLogger) WithComponent(component string) *AgentLogger {
	return &AgentLogger{
		logger: l.logger.With().Str("component", component).Logger(),
	}
}

// WithField adds a field to the logger
func (l *AgentLogger) WithField(key string, value interface{}) *AgentLogger {
	return &AgentLogger{
		logger: l.logger.With().Interface(key, value).Logger(),
	}
}

// WithFields adds multiple fields to the logger
func (l *AgentLogger) WithFields(fields map[string]interface{}) *AgentLogger {
	return &AgentLogger{
		logger: l.logger.With().Fields(fields).Logger(),
	}
}

// WithError adds an error field to the logger
func (l *AgentLogger) WithError(err error) *AgentLogger {
	return &AgentLogger{
		logger: l.logger.With().Err(err).Logger(),
	}
}

func (l *AgentLogger) Trace(msg string) {
	l.logger.Trace().Msg(msg)
}

func (l *AgentLogger) Debug(msg string) {
	l.logger.Debug().Msg(msg)
}

func (l *AgentLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug().Msgf(format, args...)
}

func (l *AgentLogger) Info(msg string) {
	l.logger.Info().Msg(msg)
}

func (l *AgentLogger) Infof(format string, args ...interface{}) {
	l.logger.Info().Msgf(format, args...)
}

func (l *AgentLogger) Warn(msg string) {
	l.logger.Warn().Msg(msg)
}

func (l *AgentLogger) Error(msg string) {
	l.logger.Error().Msg(msg)
}

func (l *AgentLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error().Msgf(format, args...)
}

// Fatal logs a fatal level message and exits
func (l *AgentLogger) Fatal(msg string) {
	l.logger.Fatal().Msg(msg)
}

// LogAudioEvent logs audio-related events with structured fields
func (l *AgentLogger) LogAudioEvent(event string, fields map[string]interface{}) {
	l.logger.Debug().
		Str("event_type", "audio").
		Str("event", event).
		Fields(fields).
		Msg("Audio event")
}

// LogConnectionEvent logs connection-related events
func (l *AgentLogger) LogConnectionEvent(event string, state ConnectionState, fields map[string]interface{}) {
	l.logger.Info().
		Str("event_type", "connection").
		Str("event", event).
		Str("state", string(state)).
		Fields(fields).
		Msg("Connection event")
}

// LogError logs an AgentError with structured fields
func (l *AgentLogger) LogError(err *AgentError) {
	l.logger.Error().
		Str("error_code", err.Code).
		Time("error_time", err.Timestamp).
		Fields(err.Details).
		Msg(err.Message)
}

// LogMessageEvent logs WebSocket message events
func (l *AgentLogger) LogMessageEvent(direction, msgType string, fields map[string]interface{}) {
	l.logger.Debug().
		Str("event_type", "message").
		Str("direction", direction).
		Str("message_type", msgType).
		Fields(fields).
		Msg("Message event")
}

// Global logger instance
var globalLogger = NewAgentLogger(DefaultLogConfig())

// GetGlobalLogger returns the global logger instance
func GetGlobalLogger() *AgentLogger {
	return globalLogger
}

// SetGlobalLogger sets the global logger instance
func SetGlobalLogger(logger *AgentLogger) {
	globalLogger = logger
}
