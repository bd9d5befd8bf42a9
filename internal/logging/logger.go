// Package logging provides structured logging for the CLI and the control server.
package logging

import (
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/rescale/shellxfer/internal/events"
)

// Logger wraps zerolog with mode-specific behavior.
type Logger struct {
	zlog     zerolog.Logger
	mode     string // "cli" or "server"
	eventBus *events.EventBus
	output   io.Writer
	file     *lumberjack.Logger
}

// FileConfig configures the optional rotating log file.
type FileConfig struct {
	// Path is the log file (empty = no file logging)
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// NewLogger creates a new logger for the specified mode.
// In "server" mode warnings and errors are also published on eventBus
// so event stream clients see them.
func NewLogger(mode string, eventBus *events.EventBus) *Logger {
	l := &Logger{mode: mode, eventBus: eventBus}
	l.SetOutput(consoleOut(mode))
	return l
}

// NewFileLogger is NewLogger plus a lumberjack-rotated file sink.
// The file receives JSON lines, the console keeps the human format.
func NewFileLogger(mode string, eventBus *events.EventBus, fc FileConfig) *Logger {
	l := &Logger{mode: mode, eventBus: eventBus}
	if fc.Path != "" {
		l.file = &lumberjack.Logger{
			Filename:   fc.Path,
			MaxSize:    orDefault(fc.MaxSizeMB, 10), // MB
			MaxBackups: orDefault(fc.MaxBackups, 5),
			MaxAge:     orDefault(fc.MaxAgeDays, 30), // days
			Compress:   true,
		}
	}
	l.SetOutput(consoleOut(mode))
	return l
}

// NewDefaultCLILogger creates a default CLI logger.
func NewDefaultCLILogger() *Logger {
	return NewLogger("cli", nil)
}

// NewNopLogger returns a logger that discards everything. Used by tests
// and library callers that do not care about logs.
func NewNopLogger() *Logger {
	return &Logger{zlog: zerolog.Nop(), mode: "nop", output: io.Discard}
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func consoleOut(mode string) io.Writer {
	if mode == "server" {
		return os.Stderr
	}
	// CLI mode: stderr is reserved for progress bars
	return os.Stdout
}

// Info returns an info level event.
func (l *Logger) Info() *zerolog.Event {
	return l.zlog.Info()
}

// Error returns an error level event.
func (l *Logger) Error() *zerolog.Event {
	return l.zlog.Error()
}

// Debug returns a debug level event.
func (l *Logger) Debug() *zerolog.Event {
	return l.zlog.Debug()
}

// Warn returns a warn level event.
func (l *Logger) Warn() *zerolog.Event {
	return l.zlog.Warn()
}

// With creates a child logger context with additional fields.
func (l *Logger) With() zerolog.Context {
	return l.zlog.With()
}

// WithTask returns a child logger carrying the task id.
func (l *Logger) WithTask(taskID string) *Logger {
	child := *l
	child.zlog = l.zlog.With().Str("task_id", taskID).Logger()
	return &child
}

// SetOutput changes the console writer, e.g. to route logs through a progress
// container. The file sink and bus hook are preserved.
func (l *Logger) SetOutput(w io.Writer) {
	if l.mode == "nop" {
		return
	}
	l.output = w

	var out io.Writer = zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: "15:04:05",
	}
	if l.file != nil {
		out = zerolog.MultiLevelWriter(out, l.file)
	}

	zl := zerolog.New(out).With().Timestamp().Logger()
	if l.mode == "server" && l.eventBus != nil {
		zl = zl.Hook(busHook{bus: l.eventBus})
	}
	l.zlog = zl
}

// Output returns the current console writer.
func (l *Logger) Output() io.Writer {
	return l.output
}

// Close flushes and closes the log file, if any.
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}

// Debugf logs a debug message with printf-style formatting.
func (l *Logger) Debugf(format string, args ...interface{}) {
	l.zlog.Debug().Msgf(format, args...)
}

// Infof logs an info message with printf-style formatting.
func (l *Logger) Infof(format string, args ...interface{}) {
	l.zlog.Info().Msgf(format, args...)
}

// Errorf logs an error message with printf-style formatting.
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.zlog.Error().Msgf(format, args...)
}

// Warnf logs a warning message with printf-style formatting.
func (l *Logger) Warnf(format string, args ...interface{}) {
	l.zlog.Warn().Msgf(format, args...)
}

// busHook mirrors warnings and errors onto the event bus.
type busHook struct {
	bus *events.EventBus
}

func (h busHook) Run(e *zerolog.Event, level zerolog.Level, msg string) {
	switch level {
	case zerolog.WarnLevel:
		h.bus.PublishLog(events.WarnLevel, msg, "", nil)
	case zerolog.ErrorLevel, zerolog.FatalLevel, zerolog.PanicLevel:
		h.bus.PublishLog(events.ErrorLevel, msg, "", nil)
	}
}

// SetGlobalLevel sets the global log level.
func SetGlobalLevel(level zerolog.Level) {
	zerolog.SetGlobalLevel(level)
}

// ParseLevel maps a config string to a zerolog level, defaulting to info.
func ParseLevel(s string) zerolog.Level {
	level, err := zerolog.ParseLevel(s)
	if err != nil || s == "" {
		return zerolog.InfoLevel
	}
	return level
}

func init() {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	log.Logger = log.Output(zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: "15:04:05",
	})
}
