package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options controls where and how log lines are written
type Options struct {
	Level  string // debug, info, warn, error
	Format string // text or json
	Output string // stdout, stderr or file
	File   string // path used when Output is "file"

	// Rotation settings for file output
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// DefaultOptions returns Options for plain text logging to stdout
func DefaultOptions() Options {
	return Options{
		Level:      "info",
		Format:     "text",
		Output:     "stdout",
		File:       "./logs/stackprobe.log",
		MaxSizeMB:  50,
		MaxBackups: 5,
		MaxAgeDays: 14,
		Compress:   true,
	}
}

// Logger wraps a logrus entry with key/value logging methods
type Logger struct {
	entry *logrus.Entry
}

// New creates a Logger with default options
func New() *Logger {
	l, err := NewWithOptions(DefaultOptions())
	if err != nil {
		// Default options never fail; keep a usable logger regardless
		return &Logger{entry: logrus.NewEntry(logrus.New())}
	}
	return l
}

// NewWithOptions creates a Logger configured by opts
func NewWithOptions(opts Options) (*Logger, error) {
	base := logrus.New()

	level, err := logrus.ParseLevel(strings.ToLower(opts.Level))
	if err != nil {
		level = logrus.InfoLevel
	}
	base.SetLevel(level)

	switch strings.ToLower(opts.Format) {
	case "json":
		base.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyMsg: "msg",
			},
		})
	case "", "text":
		base.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05.000",
		})
	default:
		return nil, fmt.Errorf("unsupported log format: %s", opts.Format)
	}

	out, err := openOutput(opts)
	if err != nil {
		return nil, err
	}
	base.SetOutput(out)

	return &Logger{entry: logrus.NewEntry(base)}, nil
}

// NewNop returns a Logger that discards everything, for tests
func NewNop() *Logger {
	base := logrus.New()
	base.SetOutput(io.Discard)
	return &Logger{entry: logrus.NewEntry(base)}
}

// openOutput resolves the writer for opts.Output
func openOutput(opts Options) (io.Writer, error) {
	switch strings.ToLower(opts.Output) {
	case "", "stdout":
		return os.Stdout, nil
	case "stderr":
		return os.Stderr, nil
	case "file":
		if opts.File == "" {
			return nil, fmt.Errorf("log file path is required when output is file")
		}
		if err := os.MkdirAll(filepath.Dir(opts.File), 0o755); err != nil {
			return nil, fmt.Errorf("creating log directory: %w", err)
		}
		return &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
			Compress:   opts.Compress,
		}, nil
	default:
		return nil, fmt.Errorf("unsupported log output: %s", opts.Output)
	}
}

// With returns a child Logger that always carries the given key/value pairs
func (l *Logger) With(keysAndValues ...interface{}) *Logger {
	return &Logger{entry: l.entry.WithFields(fields(keysAndValues))}
}

// Debug logs a debug message with structured key-value pairs
func (l *Logger) Debug(msg string, keysAndValues ...interface{}) {
	l.entry.WithFields(fields(keysAndValues)).Debug(msg)
}

// Info logs an informational message with structured key-value pairs
func (l *Logger) Info(msg string, keysAndValues ...interface{}) {
	l.entry.WithFields(fields(keysAndValues)).Info(msg)
}

// Warn logs a warning with structured key-value pairs
func (l *Logger) Warn(msg string, keysAndValues ...interface{}) {
	l.entry.WithFields(fields(keysAndValues)).Warn(msg)
}

// Error logs an error message with structured key-value pairs
func (l *Logger) Error(msg string, keysAndValues ...interface{}) {
	l.entry.WithFields(fields(keysAndValues)).Error(msg)
}

// fields turns "key1", value1, "key2", value2 into logrus fields.
// A trailing key without a value is dropped.
func fields(keysAndValues []interface{}) logrus.Fields {
	f := make(logrus.Fields, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key := fmt.Sprint(keysAndValues[i])
		f[key] = keysAndValues[i+1]
	}
	return f
}
