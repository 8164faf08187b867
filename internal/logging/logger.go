package logging

import (
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const DefaultBufferSize = 1000

// Logger records entries into a LogBuffer and renders them through zerolog.
type Logger struct {
	buffer      *LogBuffer
	output      *zerolog.Logger
	minLevel    Level
	baseContext map[string]string
}

func NewLogger(buffer *LogBuffer, minLevel Level) *Logger {
	return NewLoggerWithOutput(buffer, minLevel, os.Stdout)
}

func NewLoggerWithOutput(buffer *LogBuffer, minLevel Level, output io.Writer) *Logger {
	return NewLoggerWithFormat(buffer, minLevel, output, FormatJSON)
}

func NewLoggerWithFormat(buffer *LogBuffer, minLevel Level, output io.Writer, format Format) *Logger {
	if buffer == nil {
		buffer = NewLogBuffer(DefaultBufferSize)
	}
	if output == nil {
		output = io.Discard
	}
	var zl zerolog.Logger
	if output == io.Discard {
		zl = zerolog.Nop()
	} else {
		if format == FormatConsole {
			output = zerolog.ConsoleWriter{Out: output, TimeFormat: time.RFC3339}
		}
		zl = zerolog.New(output).With().Timestamp().Logger()
	}
	return &Logger{
		buffer:   buffer,
		output:   &zl,
		minLevel: normalizeLevel(minLevel),
	}
}

// Discard returns a logger that only keeps entries in memory.
func Discard() *Logger {
	return NewLoggerWithOutput(NewLogBuffer(DefaultBufferSize), LevelInfo, io.Discard)
}

func (l *Logger) Buffer() *LogBuffer {
	if l == nil {
		return nil
	}
	return l.buffer
}

func (l *Logger) With(fields map[string]string) *Logger {
	if l == nil {
		return l
	}
	return &Logger{
		buffer:      l.buffer,
		output:      l.output,
		minLevel:    l.minLevel,
		baseContext: cloneFields(l.baseContext, fields),
	}
}

func (l *Logger) Debug(message string, fields map[string]string) {
	l.log(LevelDebug, message, fields)
}

func (l *Logger) Info(message string, fields map[string]string) {
	l.log(LevelInfo, message, fields)
}

func (l *Logger) Warn(message string, fields map[string]string) {
	l.log(LevelWarning, message, fields)
}

func (l *Logger) Error(message string, fields map[string]string) {
	l.log(LevelError, message, fields)
}

// Fatal records an unrecoverable condition. It does not exit the process.
func (l *Logger) Fatal(message string, fields map[string]string) {
	l.log(LevelFatal, message, fields)
}

func (l *Logger) Enabled(level Level) bool {
	if l == nil {
		return false
	}
	return levelRank(level) >= levelRank(l.minLevel)
}

func (l *Logger) log(level Level, message string, fields map[string]string) {
	if l == nil || !l.Enabled(level) {
		return
	}

	entry := LogEntry{
		Timestamp: time.Now().UTC(),
		Level:     level,
		Message:   message,
		Context:   cloneFields(l.baseContext, fields),
	}
	if l.buffer != nil {
		l.buffer.Add(entry)
	}
	if l.output != nil {
		writeEntry(l.output, entry)
	}
}

func writeEntry(output *zerolog.Logger, entry LogEntry) {
	event := output.WithLevel(zerologLevel(entry.Level))
	if event == nil {
		return
	}
	keys := make([]string, 0, len(entry.Context))
	for key := range entry.Context {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		event = event.Str(key, entry.Context[key])
	}
	event.Msg(entry.Message)
}

func zerologLevel(level Level) zerolog.Level {
	switch level {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelWarning:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	case LevelFatal:
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}

func normalizeLevel(level Level) Level {
	switch level {
	case LevelDebug, LevelInfo, LevelWarning, LevelError, LevelFatal:
		return level
	default:
		return LevelInfo
	}
}

func levelRank(level Level) int {
	switch level {
	case LevelDebug:
		return 0
	case LevelInfo:
		return 1
	case LevelWarning:
		return 2
	case LevelError:
		return 3
	case LevelFatal:
		return 4
	default:
		return 1
	}
}

// LevelAtLeast reports whether level is as severe as min.
func LevelAtLeast(level, min Level) bool {
	return levelRank(level) >= levelRank(min)
}

func ParseLevel(value string) (Level, bool) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "debug":
		return LevelDebug, true
	case "info":
		return LevelInfo, true
	case "warning", "warn":
		return LevelWarning, true
	case "error":
		return LevelError, true
	case "fatal":
		return LevelFatal, true
	default:
		return "", false
	}
}

func ParseFormat(value string) (Format, bool) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "json":
		return FormatJSON, true
	case "console", "text":
		return FormatConsole, true
	default:
		return "", false
	}
}

func cloneFields(base, extra map[string]string) map[string]string {
	if len(base) == 0 && len(extra) == 0 {
		return nil
	}
	combined := make(map[string]string, len(base)+len(extra))
	for key, value := range base {
		combined[key] = value
	}
	for key, value := range extra {
		combined[key] = value
	}
	return combined
}
