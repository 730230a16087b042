package logs

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"scalp_guard_go/config"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// FileHook writes every entry to a rotated file as JSON lines, tagged with
// the fields every line of this process shares (the traded symbol).
type FileHook struct {
	formatter logrus.Formatter
	writer    io.Writer
	fields    logrus.Fields
}

func newFileHook(writer io.Writer, formatter logrus.Formatter, fields logrus.Fields) *FileHook {
	return &FileHook{
		writer:    writer,
		formatter: formatter,
		fields:    fields,
	}
}

// Levels returns all log levels, so the hook is fired for all log entries.
func (h *FileHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

// Fire formats and writes the log entry to the file.
func (h *FileHook) Fire(entry *logrus.Entry) error {
	tagged := entry.WithFields(h.fields)
	tagged.Level = entry.Level
	tagged.Message = entry.Message
	formattedBytes, err := h.formatter.Format(tagged)
	if err != nil {
		return err
	}
	_, err = h.writer.Write(formattedBytes)
	return err
}

var (
	log              = newConsoleLogger(os.Stderr, logrus.InfoLevel)
	fileHookInstance *FileHook
)

func newConsoleLogger(out io.Writer, level logrus.Level) *logrus.Logger {
	l := logrus.New()
	l.SetLevel(level)
	l.SetFormatter(&logrus.TextFormatter{
		ForceColors:            true,
		FullTimestamp:          true,
		TimestampFormat:        "2006-01-02 15:04:05",
		DisableLevelTruncation: true,
		PadLevelText:           true,
	})
	l.SetOutput(out)
	return l
}

// Init replaces the default stderr logger with the configured console logger
// plus a lumberjack-rotated JSON file at logFilePath. Every file line carries
// symbol so logs of several bots can be merged.
func Init(cfg *config.LogConfig, logFilePath, symbol string) error {
	parsedLevel, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		parsedLevel = logrus.InfoLevel
	}
	l := newConsoleLogger(os.Stdout, parsedLevel)

	// Silence the global logrus instance so stray logrus.Info() calls from
	// dependencies do not bypass our formatting.
	logrus.SetOutput(io.Discard)
	logrus.StandardLogger().Hooks = make(logrus.LevelHooks)

	logDir := filepath.Dir(logFilePath)
	if _, err := os.Stat(logDir); os.IsNotExist(err) {
		if err := os.MkdirAll(logDir, 0755); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}
	}

	lumberjackLogger := &lumberjack.Logger{
		Filename:   logFilePath,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}

	fileFormatter := &logrus.JSONFormatter{
		TimestampFormat: time.RFC3339Nano,
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime: "ts",
			logrus.FieldKeyMsg:  "message",
		},
	}

	fileHookInstance = newFileHook(lumberjackLogger, fileFormatter, logrus.Fields{"symbol": symbol})
	l.AddHook(fileHookInstance)
	log = l

	Infof("[Logs] Writing %s logs to %s", symbol, logFilePath)
	return nil
}

// Close closes the file hook's underlying writer.
func Close() {
	Info("[Logs] Closing log file.")
	if fileHookInstance != nil {
		if closer, ok := fileHookInstance.writer.(io.Closer); ok {
			closer.Close()
		}
	}
}

// WithField returns an entry carrying a structured field, e.g. the cycle id.
func WithField(key string, value interface{}) *logrus.Entry { return log.WithField(key, value) }

// Wrapper functions to expose the logger.
func Debug(args ...interface{})                 { log.Debug(args...) }
func Debugf(format string, args ...interface{}) { log.Debugf(format, args...) }
func Info(args ...interface{})                  { log.Info(args...) }
func Infof(format string, args ...interface{})  { log.Infof(format, args...) }
func Warn(args ...interface{})                  { log.Warn(args...) }
func Warnf(format string, args ...interface{})  { log.Warnf(format, args...) }
func Error(args ...interface{})                 { log.Error(args...) }
func Errorf(format string, args ...interface{}) { log.Errorf(format, args...) }
func Fatal(args ...interface{})                 { log.Fatal(args...) }
func Fatalf(format string, args ...interface{}) { log.Fatalf(format, args...) }
