package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"formatforge-go/internal/config"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// ServiceName is stamped on every entry as the "service" field.
const ServiceName = "formatforge"

// Config configures the application logger. The rotated log file always
// receives JSON; the console receives ConsoleFormat.
type Config struct {
	Level    string
	FilePath string

	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool

	Console       bool
	ConsoleFormat string
}

// FromConfig maps the logging section of the application config.
func FromConfig(c config.LoggingConfig) Config {
	return Config{
		Level:         c.Level,
		FilePath:      c.FilePath,
		MaxSizeMB:     c.MaxSize,
		MaxBackups:    c.MaxBackups,
		MaxAgeDays:    c.MaxAge,
		Compress:      c.Compress,
		Console:       c.Console,
		ConsoleFormat: c.ConsoleFormat,
	}
}

// DefaultConfig is the logging section of config.DefaultConfig.
func DefaultConfig() Config {
	return FromConfig(config.DefaultConfig().Logging)
}

// NewLogger builds a logger writing JSON to a lumberjack-rotated file and,
// when enabled, a second rendering to stdout. Without a file path the console
// is the only sink.
func NewLogger(cfg Config) (*logrus.Logger, error) {
	return newLogger(cfg, os.Stdout)
}

func newLogger(cfg Config, console io.Writer) (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("log level %q: %w", cfg.Level, err)
	}

	log := logrus.New()
	log.SetLevel(level)
	log.AddHook(serviceHook{})

	if cfg.FilePath == "" {
		log.SetFormatter(consoleFormatter(cfg.ConsoleFormat))
		log.SetOutput(console)
		return log, nil
	}

	if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0755); err != nil {
		return nil, err
	}
	log.SetFormatter(fileFormatter())
	log.SetOutput(&lumberjack.Logger{
		Filename:   cfg.FilePath,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	})
	if cfg.Console {
		log.AddHook(&consoleHook{out: console, formatter: consoleFormatter(cfg.ConsoleFormat)})
	}
	return log, nil
}

func fileFormatter() logrus.Formatter {
	return &logrus.JSONFormatter{
		TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime: "timestamp",
			logrus.FieldKeyMsg:  "message",
		},
	}
}

func consoleFormatter(name string) logrus.Formatter {
	if strings.EqualFold(name, "json") {
		return fileFormatter()
	}
	return &logrus.TextFormatter{
		FullTimestamp:    true,
		TimestampFormat:  "15:04:05",
		DisableQuote:     true,
		QuoteEmptyFields: true,
	}
}

// serviceHook tags entries with the service name so that shared log
// collectors can tell formatforge apart from other processes.
type serviceHook struct{}

func (serviceHook) Levels() []logrus.Level { return logrus.AllLevels }

func (serviceHook) Fire(e *logrus.Entry) error {
	if _, ok := e.Data["service"]; !ok {
		e.Data["service"] = ServiceName
	}
	return nil
}

// consoleHook mirrors entries to the console in its own format while the
// logger's main output stays JSON.
type consoleHook struct {
	mu        sync.Mutex
	out       io.Writer
	formatter logrus.Formatter
}

func (h *consoleHook) Levels() []logrus.Level { return logrus.AllLevels }

func (h *consoleHook) Fire(e *logrus.Entry) error {
	line, err := h.formatter.Format(e)
	if err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	_, err = h.out.Write(line)
	return err
}

// WithFile scopes an entry to one source file.
func WithFile(logger logrus.FieldLogger, filePath string) *logrus.Entry {
	return logger.WithField("file", filePath)
}

// WithOperation scopes an entry to a pipeline stage (decode, convert, write...).
func WithOperation(logger logrus.FieldLogger, operation string) *logrus.Entry {
	return logger.WithField("operation", operation)
}

func WithFileOperation(logger logrus.FieldLogger, filePath, operation string) *logrus.Entry {
	return logger.WithFields(logrus.Fields{
		"file":      filePath,
		"operation": operation,
	})
}

// WithJob scopes an entry to a web conversion job.
func WithJob(logger logrus.FieldLogger, jobID string) *logrus.Entry {
	return logger.WithField("job", jobID)
}
